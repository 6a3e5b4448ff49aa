package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/sudo-init-do/meterhub/internal/db"
)

// SQLLedger keeps used claims in the used_claims table, shared by every
// gateway instance on the same database.
type SQLLedger struct {
	db  db.Adapter
	now func() time.Time
}

func NewSQLLedger(a db.Adapter) *SQLLedger {
	return &SQLLedger{db: a, now: time.Now}
}

func (l *SQLLedger) Record(ctx context.Context, c UsedClaim) (bool, error) {
	var inserted int64
	err := l.db.InTx(ctx, func(ctx context.Context) error {
		// An expired row with the same id no longer guards anything.
		if _, err := l.db.Exec(ctx,
			`DELETE FROM used_claims WHERE claim_id = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
			c.ClaimID, l.now().UTC()); err != nil {
			return err
		}
		n, err := l.db.Exec(ctx,
			`INSERT INTO used_claims (claim_id, service_id, signature, used_at, expires_at)
			 VALUES (?, ?, ?, ?, ?) ON CONFLICT (claim_id) DO NOTHING`,
			c.ClaimID, c.ServiceID, c.Signature, c.UsedAt.UTC(), utcPtr(c.ExpiresAt))
		inserted = n
		return err
	})
	if err != nil {
		return false, fmt.Errorf("record claim: %w", err)
	}
	return inserted == 1, nil
}

func (l *SQLLedger) Sweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := l.db.Exec(ctx,
		`DELETE FROM used_claims WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep claims: %w", err)
	}
	return n, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
