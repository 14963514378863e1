// Package pipeline chains the crawl, dispatch, and notification stages
// into one run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/crawler"
	"github.com/trendfeed/pipeline/internal/dispatcher"
	"github.com/trendfeed/pipeline/internal/metrics"
	"github.com/trendfeed/pipeline/internal/watcher"
)

// Report aggregates the outcome of one full pipeline run. Item-level
// failures are collected here; only run-aborting errors (cancellation,
// misconfiguration) surface as errors from Run.
type Report struct {
	Trigger    string        `json:"trigger"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Crawled    int           `json:"crawled"`
	Promoted   int           `json:"promoted"`
	Dispatched int           `json:"dispatched"`
	Notified   int           `json:"notified"`
	Failures   []string      `json:"failures,omitempty"`
}

// Pipeline runs the three stages in order.
type Pipeline struct {
	crawler       *crawler.Crawler
	dispatcher    *dispatcher.Dispatcher
	watcher       *watcher.Watcher
	dispatchLimit int
	logger        *zap.Logger
}

// New creates a Pipeline.
func New(
	crawl *crawler.Crawler,
	dispatch *dispatcher.Dispatcher,
	watch *watcher.Watcher,
	dispatchLimit int,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		crawler:       crawl,
		dispatcher:    dispatch,
		watcher:       watch,
		dispatchLimit: dispatchLimit,
		logger:        logger,
	}
}

// Run executes crawl, dispatch, and notification in sequence. Each
// stage runs even when the previous one recorded item failures; only a
// stage-aborting error stops the run.
func (p *Pipeline) Run(ctx context.Context, trigger string) (Report, error) {
	started := time.Now().UTC()
	report := Report{Trigger: trigger, StartedAt: started}

	crawlStats, err := p.crawler.Run(ctx)
	report.Crawled = crawlStats.Crawled
	report.Promoted = crawlStats.Promoted
	report.Failures = append(report.Failures, crawlStats.Failures...)
	if err != nil {
		return report, fmt.Errorf("crawl stage: %w", err)
	}

	dispatchStats, err := p.dispatcher.Dispatch(ctx, p.dispatchLimit)
	report.Dispatched = dispatchStats.Dispatched
	report.Failures = append(report.Failures, dispatchStats.Failures...)
	if err != nil {
		return report, fmt.Errorf("dispatch stage: %w", err)
	}

	watchStats, err := p.watcher.Run(ctx)
	report.Notified = watchStats.Notified
	report.Failures = append(report.Failures, watchStats.Failures...)
	if err != nil {
		return report, fmt.Errorf("notification stage: %w", err)
	}

	report.Duration = time.Since(started)
	metrics.ObservePipelineRun(trigger, report.Duration)
	p.logger.Info("pipeline run finished",
		zap.String("trigger", trigger),
		zap.Int("crawled", report.Crawled),
		zap.Int("promoted", report.Promoted),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("notified", report.Notified),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}
