// Package scheduler triggers periodic pipeline runs.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/pipeline"
)

// Runner is the unit of work the scheduler fires, normally the full
// pipeline.
type Runner interface {
	Run(ctx context.Context, trigger string) (pipeline.Report, error)
}

// Scheduler invokes the pipeline on a fixed interval until its context
// is canceled. Runs never overlap: a tick that fires while a run is in
// progress is absorbed by the ticker.
type Scheduler struct {
	pipeline Runner
	interval time.Duration
	logger   *zap.Logger
}

// New creates a Scheduler.
func New(p Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{pipeline: p, interval: interval, logger: logger}
}

// Run blocks, firing the pipeline every interval, and returns when the
// context is canceled. A failed run is logged and the schedule
// continues.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			report, err := s.pipeline.Run(ctx, "schedule")
			if err != nil {
				if ctx.Err() != nil {
					s.logger.Info("scheduler stopped")
					return ctx.Err()
				}
				s.logger.Error("scheduled pipeline run failed", zap.Error(err))
				continue
			}
			if len(report.Failures) > 0 {
				s.logger.Warn("scheduled pipeline run had item failures",
					zap.Int("failures", len(report.Failures)),
				)
			}
		}
	}
}
