package triage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultSweepSchedule runs the SLA sweep every five seconds.
const DefaultSweepSchedule = "@every 5s"

// Sweeper periodically expires open cases whose SLA deadline has passed.
// Ticks never overlap; a slow tick causes the next one to be skipped.
type Sweeper struct {
	svc    *Service
	cron   *cron.Cron
	logger log.Logger
	hooks  Hooks

	mu  sync.Mutex
	ctx context.Context
}

// NewSweeper creates a sweeper on the given cron schedule.
func NewSweeper(svc *Service, schedule string, logger log.Logger, hooks Hooks) (*Sweeper, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		svc:    svc,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
		hooks:  hooks,
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduled sweeps. ctx is used for every tick; it should not
// be a request context.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info(ctx, "sla sweeper started")
}

// Stop halts scheduling and waits for a running tick, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_, _ = s.RunOnce(ctx, s.svc.now())
}

// RunOnce expires every case due at now and returns how many it expired.
// A failed case is logged and picked up again on the next tick.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()

	due, err := s.svc.DueCases(ctx, now)
	if err != nil {
		s.logger.Error(ctx, err, "sla sweep: failed to list due cases")
		s.onSweep(start, 0, 1)
		return 0, err
	}

	var expired, failed int
	for _, c := range due {
		ok, err := s.svc.ExpireCase(ctx, c.ID, now)
		if err != nil {
			failed++
			s.logger.Error(ctx, err, "sla sweep: failed to expire case", "case_id", c.ID)
			continue
		}
		if ok {
			expired++
		}
	}

	s.onSweep(start, expired, failed)
	if expired > 0 || failed > 0 {
		s.logger.Info(ctx, "sla sweep complete", "due", len(due), "expired", expired, "failed", failed)
	}
	return expired, nil
}

func (s *Sweeper) onSweep(start time.Time, expired, failed int) {
	if s.hooks.OnSweep != nil {
		s.hooks.OnSweep(time.Since(start).Seconds(), expired, failed)
	}
}
