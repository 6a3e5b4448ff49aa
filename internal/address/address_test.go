package address

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	evmLower  = "0x52908400098527886e0f7030069857d2e4169ee7"
	evmMixed  = "0x52908400098527886E0F7030069857D2E4169EE7"
	solanaKey = "7EcDhSYGxXyscszYEp35KHN8vvw3svAuLKTzXwCFLtV"
)

func TestValidate_EVM(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "lowercase", addr: evmLower},
		{name: "mixed case", addr: evmMixed},
		{name: "uppercase prefix", addr: "0X" + evmLower[2:], wantErr: true},
		{name: "too short", addr: evmLower[:41], wantErr: true},
		{name: "too long", addr: evmLower + "a", wantErr: true},
		{name: "missing prefix", addr: "00" + evmLower[2:], wantErr: true},
		{name: "non-hex payload", addr: evmLower[:41] + "g", wantErr: true},
		{name: "empty", addr: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(EVM, tt.addr)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidate_Solana(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "valid", addr: solanaKey},
		{name: "min length", addr: strings.Repeat("1", 32)},
		{name: "max length", addr: strings.Repeat("z", 44)},
		{name: "too short", addr: strings.Repeat("1", 31), wantErr: true},
		{name: "too long", addr: strings.Repeat("z", 45), wantErr: true},
		{name: "contains zero", addr: "0" + solanaKey[1:], wantErr: true},
		{name: "contains O", addr: "O" + solanaKey[1:], wantErr: true},
		{name: "contains I", addr: "I" + solanaKey[1:], wantErr: true},
		{name: "contains l", addr: "l" + solanaKey[1:], wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(Solana, tt.addr)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidate_UnknownChain(t *testing.T) {
	err := Validate(Chain("bitcoin"), evmLower)
	require.ErrorIs(t, err, ErrUnknownChain)

	_, err = ParseChain("bitcoin")
	require.ErrorIs(t, err, ErrUnknownChain)
}

func TestNormalize(t *testing.T) {
	got, err := Normalize(EVM, evmMixed)
	require.NoError(t, err)
	assert.Equal(t, evmLower, got)

	got, err = Normalize(Solana, solanaKey)
	require.NoError(t, err)
	assert.Equal(t, solanaKey, got)

	assert.True(t, Equal(EVM, evmLower, evmMixed))
	assert.False(t, Equal(Solana, solanaKey, strings.ToLower(solanaKey)))
}

func TestValidate_EVMProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.StringMatching(`[0-9a-fA-F]{40}`).Draw(t, "payload")
		addr := "0x" + payload
		if err := Validate(EVM, addr); err != nil {
			t.Fatalf("valid address %q rejected: %v", addr, err)
		}
		normalized, _ := Normalize(EVM, addr)
		if normalized != strings.ToLower(addr) {
			t.Fatalf("normalize(%q) = %q", addr, normalized)
		}

		n := rapid.IntRange(0, 60).Filter(func(n int) bool { return n != 40 }).Draw(t, "len")
		bad := "0x" + strings.Repeat("a", n)
		if Validate(EVM, bad) == nil {
			t.Fatalf("address of payload length %d accepted", n)
		}
	})
}

func TestValidate_Base58Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		addr := rapid.StringMatching(`[1-9A-HJ-NP-Za-km-z]{32,44}`).Draw(t, "addr")
		if err := Validate(Solana, addr); err != nil {
			t.Fatalf("valid address %q rejected: %v", addr, err)
		}

		pos := rapid.IntRange(0, len(addr)-1).Draw(t, "pos")
		glyph := rapid.SampledFrom([]string{"0", "O", "I", "l"}).Draw(t, "glyph")
		bad := addr[:pos] + glyph + addr[pos+1:]
		if Validate(Solana, bad) == nil {
			t.Fatalf("address %q with %q accepted", bad, glyph)
		}
	})
}
