package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/sudo-init-do/meterhub/internal/db"
)

// CreateTransaction opens a pending transaction against a live service.
// The seller is the service's provider.
func (r *Repository) CreateTransaction(ctx context.Context, d TransactionDraft) (Transaction, error) {
	if err := validateTransactionDraft(d); err != nil {
		return Transaction{}, err
	}
	svc, err := r.Get(d.ServiceID)
	if err != nil {
		return Transaction{}, err
	}
	if len(d.RequestPayload) > 0 && !json.Valid(d.RequestPayload) {
		return Transaction{}, invalid("request payload is not valid JSON")
	}
	return r.insertTransaction(ctx, svc, d, TxPending, nil)
}

// RecordFailedTransaction stores a paid call that was never served. The
// service only has to exist in the store, so soft-deleted services still
// take the record. A payload that is not JSON is kept as a JSON string.
func (r *Repository) RecordFailedTransaction(ctx context.Context, d TransactionDraft, reason string) (Transaction, error) {
	if err := validateTransactionDraft(d); err != nil {
		return Transaction{}, err
	}
	svc, err := r.Lookup(ctx, d.ServiceID)
	if err != nil {
		return Transaction{}, err
	}
	if len(d.RequestPayload) > 0 && !json.Valid(d.RequestPayload) {
		d.RequestPayload = quoteJSON(string(d.RequestPayload))
	}
	return r.insertTransaction(ctx, svc, d, TxFailed, &reason)
}

func validateTransactionDraft(d TransactionDraft) error {
	if strings.TrimSpace(d.BuyerID) == "" {
		return invalid("buyer is required")
	}
	if d.Amount.IsNegative() {
		return invalid("amount must not be negative")
	}
	return nil
}

func (r *Repository) insertTransaction(ctx context.Context, svc Service, d TransactionDraft, status TxStatus, reason *string) (Transaction, error) {
	payload := d.RequestPayload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	currency := d.Currency
	if currency == "" {
		currency = svc.Pricing.Currency
	}

	now := r.now().UTC()
	t := Transaction{
		ID:             r.newID(),
		ServiceID:      svc.ID,
		BuyerID:        d.BuyerID,
		SellerID:       svc.ProviderID,
		Amount:         d.Amount,
		Currency:       currency,
		Status:         status,
		RequestPayload: payload,
		Error:          reason,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if d.PaymentHash != "" {
		h := d.PaymentHash
		t.PaymentHash = &h
	}

	query, args, err := sq.Insert("transactions").
		Columns("id", "service_id", "buyer_id", "seller_id", "amount", "currency", "status",
			"request_payload", "payment_hash", "error", "created_at", "updated_at").
		Values(t.ID, t.ServiceID, t.BuyerID, t.SellerID, t.Amount.String(), t.Currency, string(t.Status),
			string(t.RequestPayload), t.PaymentHash, t.Error, t.CreatedAt, t.UpdatedAt).
		ToSql()
	if err != nil {
		return Transaction{}, err
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		r.log.Error().Err(err).Str("service_id", svc.ID).Msg("persist transaction")
		return Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return t, nil
}

// CompleteTransaction settles a pending transaction as completed.
func (r *Repository) CompleteTransaction(ctx context.Context, id string, response json.RawMessage) (Transaction, error) {
	if len(response) > 0 && !json.Valid(response) {
		response = quoteJSON(string(response))
	}
	var resp *string
	if len(response) > 0 {
		s := string(response)
		resp = &s
	}
	return r.settle(ctx, id, TxCompleted, resp, nil)
}

// FailTransaction settles a pending transaction as failed with reason.
func (r *Repository) FailTransaction(ctx context.Context, id, reason string) (Transaction, error) {
	return r.settle(ctx, id, TxFailed, nil, &reason)
}

func (r *Repository) settle(ctx context.Context, id string, status TxStatus, response, reason *string) (Transaction, error) {
	query, args, err := sq.Update("transactions").
		Set("status", string(status)).
		Set("response_payload", response).
		Set("error", reason).
		Set("updated_at", r.now().UTC()).
		Where(sq.Eq{"id": id, "status": string(TxPending)}).
		ToSql()
	if err != nil {
		return Transaction{}, err
	}
	n, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.log.Error().Err(err).Str("transaction_id", id).Msg("persist settlement")
		return Transaction{}, fmt.Errorf("settle transaction: %w", err)
	}
	if n == 0 {
		if _, err := r.GetTransaction(ctx, id); err != nil {
			return Transaction{}, err
		}
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrTransactionSettled)
	}
	return r.GetTransaction(ctx, id)
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	row, err := r.db.QueryOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if errors.Is(err, db.ErrNoRows) {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("load transaction %s: %w", id, err)
	}
	return scanTransaction(row)
}

// ListTransactions returns the transactions where party is buyer or
// seller, newest first.
func (r *Repository) ListTransactions(ctx context.Context, party string) ([]Transaction, error) {
	rows, err := r.db.QueryAll(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE buyer_id = ? OR seller_id = ? ORDER BY created_at DESC, id`,
		party, party)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := scanTransaction(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SubmitRating records the buyer's score for a completed transaction and
// folds it into the service rating in the same database transaction. A
// transaction can be rated once; the service must still be live.
func (r *Repository) SubmitRating(ctx context.Context, d RatingDraft) (Rating, Service, error) {
	if err := validScore(d.Score); err != nil {
		return Rating{}, Service{}, err
	}
	if len(d.Review) > 1000 {
		return Rating{}, Service{}, invalid("review too long (max 1000 characters)")
	}

	t, err := r.GetTransaction(ctx, d.TransactionID)
	if err != nil {
		return Rating{}, Service{}, err
	}
	if t.BuyerID != d.RaterID {
		return Rating{}, Service{}, fmt.Errorf("transaction %s: %w", t.ID, ErrForbidden)
	}
	if t.Status != TxCompleted {
		return Rating{}, Service{}, fmt.Errorf("transaction %s: %w", t.ID, ErrNotCompleted)
	}

	rating := Rating{
		ID:            r.newID(),
		TransactionID: t.ID,
		ServiceID:     t.ServiceID,
		RaterID:       d.RaterID,
		Score:         d.Score,
		CreatedAt:     r.now().UTC(),
	}
	if d.Review != "" {
		review := d.Review
		rating.Review = &review
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.live(ctx, t.ServiceID); err != nil {
		return Rating{}, Service{}, err
	}

	insert := func(ctx context.Context) error {
		query, args, err := sq.Insert("ratings").
			Columns("id", "transaction_id", "service_id", "rater_id", "score", "review", "created_at").
			Values(rating.ID, rating.TransactionID, rating.ServiceID, rating.RaterID, rating.Score, rating.Review, rating.CreatedAt).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := r.db.Exec(ctx, query, args...); err != nil {
			if errors.Is(err, db.ErrConflict) {
				return fmt.Errorf("transaction %s: %w", t.ID, ErrAlreadyRated)
			}
			return err
		}
		return nil
	}

	svc, applied, err := r.applyReputation(ctx, t.ServiceID,
		func(rep Reputation) Reputation { return nextRating(rep, d.Score) }, insert)
	if err != nil {
		return Rating{}, Service{}, err
	}
	if !applied {
		return Rating{}, Service{}, fmt.Errorf("service %s: %w", t.ServiceID, ErrNotFound)
	}
	return rating, svc, nil
}

// ListRatings returns the ratings of one service, newest first.
func (r *Repository) ListRatings(ctx context.Context, serviceID string) ([]Rating, error) {
	rows, err := r.db.QueryAll(ctx,
		`SELECT id, transaction_id, service_id, rater_id, score, review, created_at
		 FROM ratings WHERE service_id = ? ORDER BY created_at DESC, id`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	out := make([]Rating, 0, len(rows))
	for _, row := range rows {
		out = append(out, scanRating(row))
	}
	return out, nil
}

// Stats counts rows for the operator dashboard.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	row, err := r.db.QueryOne(ctx, `SELECT
		(SELECT COUNT(*) FROM services WHERE deleted_at IS NULL) AS live,
		(SELECT COUNT(*) FROM services WHERE deleted_at IS NOT NULL) AS deleted,
		(SELECT COUNT(*) FROM transactions WHERE status = 'pending') AS pending,
		(SELECT COUNT(*) FROM transactions WHERE status = 'completed') AS completed,
		(SELECT COUNT(*) FROM transactions WHERE status = 'failed') AS failed,
		(SELECT COUNT(*) FROM ratings) AS ratings,
		(SELECT COUNT(*) FROM audit_logs) AS audit`)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return Stats{
		LiveServices:    row.Int64("live"),
		DeletedServices: row.Int64("deleted"),
		Pending:         row.Int64("pending"),
		Completed:       row.Int64("completed"),
		Failed:          row.Int64("failed"),
		Ratings:         row.Int64("ratings"),
		AuditEntries:    row.Int64("audit"),
	}, nil
}

// quoteJSON wraps a non-JSON response body as a JSON string.
func quoteJSON(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
