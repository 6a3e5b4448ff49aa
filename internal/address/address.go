// Package address validates and normalizes payout and payer addresses for
// the chain families the marketplace settles on.
package address

import (
	"errors"
	"fmt"
	"strings"
)

// Chain identifies an address family.
type Chain string

const (
	// EVM addresses are 0x-prefixed, 20-byte hex strings. Case carries no meaning.
	EVM Chain = "evm"
	// Solana addresses are base58 public keys. Case is significant.
	Solana Chain = "solana"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var (
	ErrUnknownChain   = errors.New("unknown chain")
	ErrInvalidAddress = errors.New("invalid address")
)

// ParseChain maps a configured chain name to a Chain.
func ParseChain(s string) (Chain, error) {
	switch Chain(strings.ToLower(strings.TrimSpace(s))) {
	case EVM:
		return EVM, nil
	case Solana:
		return Solana, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChain, s)
}

// Validate reports whether addr is well formed for chain.
func Validate(chain Chain, addr string) error {
	switch chain {
	case EVM:
		return validateHex(addr)
	case Solana:
		return validateBase58(addr)
	}
	return fmt.Errorf("%w: %q", ErrUnknownChain, chain)
}

// Normalize validates addr and returns its canonical form.
// EVM addresses are lowercased; Solana addresses are returned unchanged.
func Normalize(chain Chain, addr string) (string, error) {
	if err := Validate(chain, addr); err != nil {
		return "", err
	}
	if chain == EVM {
		return strings.ToLower(addr), nil
	}
	return addr, nil
}

// Equal compares two addresses after normalization. Malformed input is never equal.
func Equal(chain Chain, a, b string) bool {
	na, err := Normalize(chain, a)
	if err != nil {
		return false
	}
	nb, err := Normalize(chain, b)
	if err != nil {
		return false
	}
	return na == nb
}

func validateHex(addr string) error {
	if len(addr) != 42 {
		return fmt.Errorf("%w: evm address must be 42 characters, got %d", ErrInvalidAddress, len(addr))
	}
	if addr[:2] != "0x" {
		return fmt.Errorf("%w: evm address must start with 0x", ErrInvalidAddress)
	}
	for i := 2; i < len(addr); i++ {
		if !isHex(addr[i]) {
			return fmt.Errorf("%w: non-hex character %q at position %d", ErrInvalidAddress, addr[i], i)
		}
	}
	return nil
}

func validateBase58(addr string) error {
	if len(addr) < 32 || len(addr) > 44 {
		return fmt.Errorf("%w: solana address must be 32-44 characters, got %d", ErrInvalidAddress, len(addr))
	}
	for i := 0; i < len(addr); i++ {
		if strings.IndexByte(base58Alphabet, addr[i]) < 0 {
			return fmt.Errorf("%w: character %q at position %d is not base58", ErrInvalidAddress, addr[i], i)
		}
	}
	return nil
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
