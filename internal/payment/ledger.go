package payment

import (
	"context"
	"sync"
	"time"
)

// UsedClaim is one entry in the replay guard.
type UsedClaim struct {
	ClaimID   string
	ServiceID string
	Signature string
	UsedAt    time.Time
	// ExpiresAt bounds how long the entry is kept. Nil keeps it forever.
	ExpiresAt *time.Time
}

// Ledger records used claim ids. Record is check-and-set: it stores the
// claim and reports true only if no live entry with the same id exists.
type Ledger interface {
	Record(ctx context.Context, c UsedClaim) (bool, error)
	// Sweep drops entries that expired at or before now.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// MemoryLedger is a process-local Ledger. Entries are not shared between
// gateway instances.
type MemoryLedger struct {
	mu     sync.Mutex
	claims map[string]UsedClaim
	now    func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{claims: make(map[string]UsedClaim), now: time.Now}
}

func (l *MemoryLedger) Record(_ context.Context, c UsedClaim) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.claims[c.ClaimID]; ok && !expired(prev, l.now()) {
		return false, nil
	}
	l.claims[c.ClaimID] = c
	return true, nil
}

func (l *MemoryLedger) Sweep(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for id, c := range l.claims {
		if expired(c, now) {
			delete(l.claims, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of entries held, expired or not.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.claims)
}

func expired(c UsedClaim, now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}
