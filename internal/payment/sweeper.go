package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper evicts expired ledger entries on a cron schedule.
type Sweeper struct {
	ledger  Ledger
	cron    *cron.Cron
	log     zerolog.Logger
	metrics *Metrics
	now     func() time.Time
	timeout time.Duration
}

// NewSweeper schedules ledger sweeps. schedule uses the standard cron
// syntax or descriptors such as "@every 10m".
func NewSweeper(ledger Ledger, schedule string, log zerolog.Logger, metrics *Metrics) (*Sweeper, error) {
	s := &Sweeper{
		ledger:  ledger,
		cron:    cron.New(),
		log:     log,
		metrics: metrics,
		now:     time.Now,
		timeout: 30 * time.Second,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep or ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.SweepOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("sweep used claims")
	}
}

// SweepOnce removes entries that have expired by now.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.ledger.Sweep(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.addSwept(n)
	if n > 0 {
		s.log.Debug().Int64("removed", n).Msg("swept used claims")
	}
	return n, nil
}
