package marketplace

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// audit appends one entry. It must run with the context of the mutation's
// transaction so both rows commit together.
func (r *Repository) audit(ctx context.Context, entityID string, action AuditAction, changes any, actor string) error {
	payload, err := jsonText(changes)
	if err != nil {
		return fmt.Errorf("encode audit changes: %w", err)
	}
	query, args, err := sq.Insert("audit_logs").
		Columns("id", "entity_type", "entity_id", "action", "changes", "actor", "created_at").
		Values(r.newID(), entityService, entityID, string(action), payload, actor, r.now().UTC()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail of one service, oldest first.
func (r *Repository) ListAudit(ctx context.Context, entityID string) ([]AuditEntry, error) {
	rows, err := r.db.QueryAll(ctx,
		`SELECT id, entity_type, entity_id, action, changes, actor, created_at
		 FROM audit_logs WHERE entity_type = ? AND entity_id = ? ORDER BY created_at, id`,
		entityService, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	out := make([]AuditEntry, 0, len(rows))
	for _, row := range rows {
		e := AuditEntry{
			ID:         row.String("id"),
			EntityType: row.String("entity_type"),
			EntityID:   row.String("entity_id"),
			Action:     AuditAction(row.String("action")),
			Actor:      row.String("actor"),
			CreatedAt:  row.Time("created_at"),
		}
		if err := row.JSON("changes", &e.Changes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
