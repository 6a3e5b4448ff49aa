package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/meterhub/internal/address"
	"github.com/sudo-init-do/meterhub/internal/db"
)

const serviceColumns = `id, name, description, provider_id, provider_wallet, chain, endpoint,
	capabilities, pricing, reputation, metadata, created_by, updated_by, created_at, updated_at, deleted_at`

const transactionColumns = `id, service_id, buyer_id, seller_id, amount, currency, status,
	request_payload, response_payload, payment_hash, error, created_at, updated_at`

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func insertService(ctx context.Context, a db.Adapter, s Service) error {
	caps, err := jsonText(s.Capabilities)
	if err != nil {
		return err
	}
	pricing, err := jsonText(s.Pricing)
	if err != nil {
		return err
	}
	rep, err := jsonText(s.Reputation)
	if err != nil {
		return err
	}
	meta, err := jsonText(metadataOrEmpty(s.Metadata))
	if err != nil {
		return err
	}

	query, args, err := sq.Insert("services").
		Columns("id", "name", "description", "provider_id", "provider_wallet", "chain", "endpoint",
			"capabilities", "pricing", "reputation", "metadata", "created_by", "updated_by", "created_at", "updated_at").
		Values(s.ID, s.Name, s.Description, s.ProviderID, s.ProviderWallet, string(s.Chain), s.Endpoint,
			caps, pricing, rep, meta, s.CreatedBy, s.UpdatedBy, s.CreatedAt, s.UpdatedAt).
		ToSql()
	if err != nil {
		return err
	}
	_, err = a.Exec(ctx, query, args...)
	return err
}

// updateLiveService rewrites every mutable column of a live row.
func updateLiveService(ctx context.Context, a db.Adapter, s Service) (int64, error) {
	caps, err := jsonText(s.Capabilities)
	if err != nil {
		return 0, err
	}
	pricing, err := jsonText(s.Pricing)
	if err != nil {
		return 0, err
	}
	meta, err := jsonText(metadataOrEmpty(s.Metadata))
	if err != nil {
		return 0, err
	}

	query, args, err := sq.Update("services").
		Set("name", s.Name).
		Set("description", s.Description).
		Set("provider_wallet", s.ProviderWallet).
		Set("chain", string(s.Chain)).
		Set("endpoint", s.Endpoint).
		Set("capabilities", caps).
		Set("pricing", pricing).
		Set("metadata", meta).
		Set("updated_by", s.UpdatedBy).
		Set("updated_at", s.UpdatedAt).
		Where(sq.Eq{"id": s.ID}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return 0, err
	}
	return a.Exec(ctx, query, args...)
}

func updateReputationRow(ctx context.Context, a db.Adapter, s Service) (int64, error) {
	text, err := jsonText(s.Reputation)
	if err != nil {
		return 0, err
	}
	query, args, err := sq.Update("services").
		Set("reputation", text).
		Set("updated_at", s.UpdatedAt).
		Where(sq.Eq{"id": s.ID}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return 0, err
	}
	return a.Exec(ctx, query, args...)
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func loadService(ctx context.Context, a db.Adapter, id string) (Service, error) {
	row, err := a.QueryOne(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	if errors.Is(err, db.ErrNoRows) {
		return Service{}, fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Service{}, fmt.Errorf("load service %s: %w", id, err)
	}
	return scanService(row)
}

func scanService(row db.Row) (Service, error) {
	s := Service{
		ID:             row.String("id"),
		Name:           row.String("name"),
		Description:    row.String("description"),
		ProviderID:     row.String("provider_id"),
		ProviderWallet: row.String("provider_wallet"),
		Chain:          address.Chain(row.String("chain")),
		Endpoint:       row.String("endpoint"),
		CreatedBy:      row.String("created_by"),
		UpdatedBy:      row.String("updated_by"),
		CreatedAt:      row.Time("created_at"),
		UpdatedAt:      row.Time("updated_at"),
		DeletedAt:      row.NullTime("deleted_at"),
	}
	if err := row.JSON("capabilities", &s.Capabilities); err != nil {
		return Service{}, err
	}
	if err := row.JSON("pricing", &s.Pricing); err != nil {
		return Service{}, err
	}
	if err := row.JSON("reputation", &s.Reputation); err != nil {
		return Service{}, err
	}
	if err := row.JSON("metadata", &s.Metadata); err != nil {
		return Service{}, err
	}
	if len(s.Metadata) == 0 {
		s.Metadata = nil
	}
	return s, nil
}

func scanTransaction(row db.Row) (Transaction, error) {
	amount, err := decimal.NewFromString(row.String("amount"))
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s amount: %w", row.String("id"), err)
	}
	t := Transaction{
		ID:          row.String("id"),
		ServiceID:   row.String("service_id"),
		BuyerID:     row.String("buyer_id"),
		SellerID:    row.String("seller_id"),
		Amount:      amount,
		Currency:    row.String("currency"),
		Status:      TxStatus(row.String("status")),
		PaymentHash: row.NullString("payment_hash"),
		Error:       row.NullString("error"),
		CreatedAt:   row.Time("created_at"),
		UpdatedAt:   row.Time("updated_at"),
	}
	if err := row.JSON("request_payload", &t.RequestPayload); err != nil {
		return Transaction{}, err
	}
	if err := row.JSON("response_payload", &t.ResponsePayload); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func scanRating(row db.Row) Rating {
	return Rating{
		ID:            row.String("id"),
		TransactionID: row.String("transaction_id"),
		ServiceID:     row.String("service_id"),
		RaterID:       row.String("rater_id"),
		Score:         int(row.Int64("score")),
		Review:        row.NullString("review"),
		CreatedAt:     row.Time("created_at"),
	}
}
