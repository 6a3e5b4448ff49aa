package marketplace

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func openTx(t *testing.T, r *Repository, serviceID string) Transaction {
	t.Helper()
	tx, err := r.CreateTransaction(context.Background(), TransactionDraft{
		ServiceID:      serviceID,
		BuyerID:        "buyer-1",
		Amount:         decimal.RequireFromString("0.05"),
		RequestPayload: json.RawMessage(`{"text":"hello"}`),
		PaymentHash:    "0xabc",
	})
	require.NoError(t, err)
	return tx
}

func TestTransactionLifecycle(t *testing.T) {
	r := newTestRepo(t, openTestDB(t))
	ctx := context.Background()
	s := register(t, r, draft("a", "0.05"))

	tx := openTx(t, r, s.ID)
	assert.Equal(t, TxPending, tx.Status)
	assert.Equal(t, "provider-1", tx.SellerID)
	assert.Equal(t, "USDC", tx.Currency)

	done, err := r.CompleteTransaction(ctx, tx.ID, json.RawMessage(`{"result":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, TxCompleted, done.Status)
	assert.JSONEq(t, `{"result":"ok"}`, string(done.ResponsePayload))
	assert.JSONEq(t, `{"text":"hello"}`, string(done.RequestPayload))
	assert.True(t, decimal.RequireFromString("0.05").Equal(done.Amount))
	require.NotNil(t, done.PaymentHash)
	assert.Equal(t, "0xabc", *done.PaymentHash)

	_, err = r.CompleteTransaction(ctx, tx.ID, nil)
	assert.ErrorIs(t, err, ErrTransactionSettled)
	_, err = r.FailTransaction(ctx, tx.ID, "late")
	assert.ErrorIs(t, err, ErrTransactionSettled)

	failed := openTx(t, r, s.ID)
	got, err := r.FailTransaction(ctx, failed.ID, "upstream 502")
	require.NoError(t, err)
	assert.Equal(t, TxFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "upstream 502", *got.Error)

	_, err = r.CompleteTransaction(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := r.ListTransactions(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	list, err = r.ListTransactions(ctx, "provider-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCompleteTransaction_WrapsNonJSONResponse(t *testing.T) {
	r := newTestRepo(t, openTestDB(t))
	s := register(t, r, draft("a", "1"))
	tx := openTx(t, r, s.ID)

	done, err := r.CompleteTransaction(context.Background(), tx.ID, json.RawMessage("plain text"))
	require.NoError(t, err)
	assert.JSONEq(t, `"plain text"`, string(done.ResponsePayload))
}

func TestCreateTransaction_RequiresLiveService(t *testing.T) {
	r := newTestRepo(t, openTestDB(t))
	ctx := context.Background()
	s := register(t, r, draft("a", "1"))
	require.NoError(t, r.SoftDelete(ctx, s.ID, "alice"))

	_, err := r.CreateTransaction(ctx, TransactionDraft{ServiceID: s.ID, BuyerID: "b", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.CreateTransaction(ctx, TransactionDraft{ServiceID: s.ID, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordFailedTransaction(t *testing.T) {
	r := newTestRepo(t, openTestDB(t))
	ctx := context.Background()
	s := register(t, r, draft("a", "1"))
	require.NoError(t, r.SoftDelete(ctx, s.ID, "alice"))

	tx, err := r.RecordFailedTransaction(ctx, TransactionDraft{
		ServiceID:      s.ID,
		BuyerID:        "buyer-1",
		Amount:         decimal.RequireFromString("0.05"),
		RequestPayload: json.RawMessage("not json"),
		PaymentHash:    "0xfeed",
	}, "service not found")
	require.NoError(t, err)

	got, err := r.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, TxFailed, got.Status)
	require.NotNil(t, got.PaymentHash)
	assert.Equal(t, "0xfeed", *got.PaymentHash)
	require.NotNil(t, got.Error)
	assert.Equal(t, "service not found", *got.Error)
	assert.JSONEq(t, `"not json"`, string(got.RequestPayload))
	assert.Equal(t, s.ProviderID, got.SellerID)

	_, err = r.RecordFailedTransaction(ctx, TransactionDraft{ServiceID: "missing", BuyerID: "b"}, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitRating(t *testing.T) {
	r := newTestRepo(t, openTestDB(t))
	ctx := context.Background()
	s := register(t, r, draft("a", "1"))

	pending := openTx(t, r, s.ID)
	_, _, err := r.SubmitRating(ctx, RatingDraft{TransactionID: pending.ID, RaterID: "buyer-1", Score: 5})
	assert.ErrorIs(t, err, ErrNotCompleted)

	_, err = r.CompleteTransaction(ctx, pending.ID, nil)
	require.NoError(t, err)

	_, _, err = r.SubmitRating(ctx, RatingDraft{TransactionID: pending.ID, RaterID: "stranger", Score: 5})
	assert.ErrorIs(t, err, ErrForbidden)
	_, _, err = r.SubmitRating(ctx, RatingDraft{TransactionID: pending.ID, RaterID: "buyer-1", Score: 0})
	assert.ErrorIs(t, err, ErrValidation)

	rating, svc, err := r.SubmitRating(ctx, RatingDraft{TransactionID: pending.ID, RaterID: "buyer-1", Score: 5, Review: "fast"})
	require.NoError(t, err)
	assert.Equal(t, 5, rating.Score)
	require.NotNil(t, rating.Review)
	assert.Equal(t, 5.0, svc.Reputation.Rating)
	assert.Equal(t, int64(1), svc.Reputation.ReviewCount)

	_, _, err = r.SubmitRating(ctx, RatingDraft{TransactionID: pending.ID, RaterID: "buyer-1", Score: 1})
	assert.ErrorIs(t, err, ErrAlreadyRated)

	cached, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.Reputation.ReviewCount)

	ratings, err := r.ListRatings(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	assert.Equal(t, rating.ID, ratings[0].ID)
}

func TestSubmitRating_SoftDeletedService(t *testing.T) {
	r := newTestRepo(t, openTestDB(t))
	ctx := context.Background()
	s := register(t, r, draft("a", "1"))
	tx := openTx(t, r, s.ID)
	_, err := r.CompleteTransaction(ctx, tx.ID, nil)
	require.NoError(t, err)
	require.NoError(t, r.SoftDelete(ctx, s.ID, "alice"))

	_, _, err = r.SubmitRating(ctx, RatingDraft{TransactionID: tx.ID, RaterID: "buyer-1", Score: 4})
	assert.ErrorIs(t, err, ErrAlreadyDeleted)

	ratings, err := r.ListRatings(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, ratings)
}

func TestNextRating_StaysWithinScoreRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scores := rapid.SliceOfN(rapid.IntRange(1, 5), 1, 50).Draw(t, "scores")

		var rep Reputation
		lo, hi := 5, 1
		for _, s := range scores {
			rep = nextRating(rep, s)
			lo, hi = min(lo, s), max(hi, s)
			if rep.Rating < float64(lo)-0.05 || rep.Rating > float64(hi)+0.05 {
				t.Fatalf("rating %v outside [%d,%d] after %v", rep.Rating, lo, hi, scores)
			}
			if d := rep.Rating * 10; math.Abs(d-math.Round(d)) > 1e-9 {
				t.Fatalf("rating %v has more than one decimal", rep.Rating)
			}
		}
		if rep.ReviewCount != int64(len(scores)) {
			t.Fatalf("review count %d, want %d", rep.ReviewCount, len(scores))
		}
	})
}

func TestNextRating_ConstantScores(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		score := rapid.IntRange(1, 5).Draw(t, "score")
		n := rapid.IntRange(1, 100).Draw(t, "n")
		var rep Reputation
		for i := 0; i < n; i++ {
			rep = nextRating(rep, score)
		}
		if rep.Rating != float64(score) {
			t.Fatalf("rating %v after %d scores of %d", rep.Rating, n, score)
		}
	})
}
