package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/recargas-app/recargas-backend/pkg/logger"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultSweepMinAge   = 2 * time.Minute
	defaultSweepBatch    = 50
)

// SweeperParams configure the stale-record re-poll sweep.
type SweeperParams struct {
	Service  *Service
	Repo     Repository
	Logger   *logger.Logger
	Interval time.Duration
	MinAge   time.Duration
	Batch    int
}

// Sweeper periodically re-polls records that never received a webhook: still
// pending at the provider or approved without a settlement attempt.
type Sweeper struct {
	svc      *Service
	repo     Repository
	logg     *logger.Logger
	interval time.Duration
	minAge   time.Duration
	batch    int
	now      func() time.Time
}

func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Service == nil {
		return nil, fmt.Errorf("reconcile service required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultSweepMinAge
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Sweeper{
		svc:      params.Service,
		repo:     params.Repo,
		logg:     params.Logger,
		interval: interval,
		minAge:   minAge,
		batch:    batch,
		now:      time.Now,
	}, nil
}

// Run sweeps on a fixed interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logg.Error(ctx, "reconcile sweep failed", err)
			}
		}
	}
}

// Sweep reconciles one batch of stale unsettled records. Individual failures
// do not stop the batch.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.minAge)
	records, err := s.repo.ListUnsettled(ctx, cutoff, s.batch)
	if err != nil {
		return fmt.Errorf("query unsettled records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	var errs []error
	for _, record := range records {
		if _, err := s.svc.Reconcile(ctx, record.ID, TriggerPoll); err != nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", record.ID, err))
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"swept":  len(records),
		"failed": len(errs),
	})
	s.logg.Info(logCtx, "reconcile sweep finished")
	return multierr.Combine(errs...)
}
