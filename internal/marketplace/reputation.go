package marketplace

import (
	"context"
	"fmt"
	"math"
	"time"
)

const systemActor = "system"

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// nextRating folds one score into the running mean.
func nextRating(rep Reputation, score int) Reputation {
	n := float64(rep.ReviewCount)
	rep.Rating = round1((rep.Rating*n + float64(score)) / (n + 1))
	rep.ReviewCount++
	return rep
}

func nextJob(rep Reputation, success bool, elapsed time.Duration) Reputation {
	n := float64(rep.JobCount)
	ok := 0.0
	if success {
		ok = 1
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	rep.SuccessRate = (rep.SuccessRate*n + ok) / (n + 1)
	rep.AvgResponseTimeMs = (rep.AvgResponseTimeMs*n + ms) / (n + 1)
	rep.JobCount++
	return rep
}

func validScore(score int) error {
	if score < 1 || score > 5 {
		return invalid("score must be between 1 and 5")
	}
	return nil
}

// UpdateReputation applies one score to the weighted rating of a live
// service. It is the only path that changes rating and review count.
// Services not in the cache (absent or soft-deleted) are left alone and
// applied reports false.
func (r *Repository) UpdateReputation(ctx context.Context, id string, score int) (svc Service, applied bool, err error) {
	if err := validScore(score); err != nil {
		return Service{}, false, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return r.applyReputation(ctx, id, func(rep Reputation) Reputation { return nextRating(rep, score) }, nil)
}

// RecordJob folds one invocation outcome into job count, success rate and
// mean response time. Like UpdateReputation it ignores services that are
// not live.
func (r *Repository) RecordJob(ctx context.Context, id string, success bool, elapsed time.Duration) (Service, bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return r.applyReputation(ctx, id, func(rep Reputation) Reputation { return nextJob(rep, success, elapsed) }, nil)
}

// applyReputation must be called with writeMu held. extra runs inside the
// same transaction before the reputation row is written.
func (r *Repository) applyReputation(ctx context.Context, id string, fold func(Reputation) Reputation, extra func(ctx context.Context) error) (Service, bool, error) {
	r.mu.RLock()
	e, ok := r.cache[id]
	r.mu.RUnlock()
	if !ok {
		return Service{}, false, nil
	}

	next := e.svc.clone()
	before := next.Reputation
	next.Reputation = fold(next.Reputation)
	next.UpdatedAt = r.now().UTC()

	err := r.db.InTx(ctx, func(ctx context.Context) error {
		if extra != nil {
			if err := extra(ctx); err != nil {
				return err
			}
		}
		n, err := updateReputationRow(ctx, r.db, next)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("service %s: %w", id, ErrAlreadyDeleted)
		}
		return r.audit(ctx, id, ActionUpdate, map[string]any{
			"reputation": map[string]any{"from": before, "to": next.Reputation},
		}, systemActor)
	})
	if err != nil {
		r.log.Error().Err(err).Str("service_id", id).Msg("persist reputation")
		return Service{}, false, fmt.Errorf("update reputation: %w", err)
	}

	r.put(next, false)
	return next.clone(), true, nil
}
