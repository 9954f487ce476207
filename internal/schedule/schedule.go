// Package schedule triggers production runs on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Starter launches a run without waiting for it.
type Starter interface {
	Start(ctx context.Context, subject string) (string, error)
}

// Runner fires Starter.Start on every tick of a cron spec. Ticks that land
// while a run is in progress are skipped, not queued.
type Runner struct {
	spec    string
	starter Starter
	logger  *zap.Logger
}

// New validates spec (standard five-field cron syntax) and returns a Runner.
func New(spec string, starter Starter, logger *zap.Logger) (*Runner, error) {
	if starter == nil {
		return nil, errors.New("schedule: starter is required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("schedule: parse %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{spec: spec, starter: starter, logger: logger}, nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.spec, func() { r.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule: add %q: %w", r.spec, err)
	}
	c.Start()
	r.logger.Info("scheduler started", zap.String("cron", r.spec))

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("scheduler stopped")
	return nil
}

// Tick starts one discovery-only run.
func (r *Runner) Tick(ctx context.Context) {
	runID, err := r.starter.Start(ctx, "")
	switch {
	case errors.Is(err, studio.ErrBusy):
		r.logger.Info("scheduled run skipped; line is busy")
	case err != nil:
		r.logger.Error("scheduled run failed to start", zap.Error(err))
	default:
		r.logger.Info("scheduled run started", zap.String("run_id", runID))
	}
}
