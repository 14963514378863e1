// Package dispatcher hands confirmed candidates to the external
// generation service and claims them on success.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/metrics"
	"github.com/trendfeed/pipeline/internal/trend"
)

// Stats summarizes one dispatch batch.
type Stats struct {
	Considered int
	Dispatched int
	Skipped    int
	Failures   []string
}

// Dispatcher submits generation jobs for undispatched candidates.
type Dispatcher struct {
	candidates trend.CandidateStore
	repos      trend.RepoStore
	client     trend.GenerationClient
	publisher  trend.Publisher
	clock      trend.Clock
	logger     *zap.Logger
}

// New creates a Dispatcher.
func New(
	candidates trend.CandidateStore,
	repos trend.RepoStore,
	client trend.GenerationClient,
	publisher trend.Publisher,
	clock trend.Clock,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		candidates: candidates,
		repos:      repos,
		client:     client,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
	}
}

// DispatchedEvent is published after a candidate is claimed.
type DispatchedEvent struct {
	RepoID    int64     `json:"repoId"`
	FullName  string    `json:"fullName"`
	JobHandle string    `json:"jobHandle"`
	At        time.Time `json:"at"`
}

// Dispatch processes up to limit undispatched candidates, oldest
// promotion first. A candidate is claimed only after the service
// accepts its job, so failed submissions stay claimable for the next
// run. Item failures never abort the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (Stats, error) {
	var stats Stats

	pending, err := d.candidates.ListUndispatched(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("list undispatched candidates: %w", err)
	}

	for _, cand := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Considered++

		if err := d.dispatchOne(ctx, cand, &stats); err != nil {
			d.logger.Warn("dispatch failed",
				zap.String("repo", cand.FullName),
				zap.Error(err),
			)
			stats.Failures = append(stats.Failures, fmt.Sprintf("%s: %v", cand.FullName, err))
			metrics.ObserveDispatch("failed")
			if failErr := d.candidates.RecordDispatchFailure(ctx, cand.RepoID, d.clock.Now()); failErr != nil {
				d.logger.Error("failed to record dispatch failure",
					zap.String("repo", cand.FullName),
					zap.Error(failErr),
				)
			}
		}
	}

	d.logger.Info("dispatch batch finished",
		zap.Int("considered", stats.Considered),
		zap.Int("dispatched", stats.Dispatched),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failures", len(stats.Failures)),
	)
	return stats, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, cand trend.Candidate, stats *Stats) error {
	repo, found, err := d.repos.Get(ctx, cand.RepoID)
	if err != nil {
		return fmt.Errorf("load repo: %w", err)
	}
	if !found {
		return fmt.Errorf("repo %d not found", cand.RepoID)
	}
	if repo.ReadmeText == "" {
		// Nothing to generate from; leave the candidate claimable in
		// case a later crawl recovers the artifact.
		return fmt.Errorf("no artifact text")
	}

	handle, err := d.client.SubmitJob(ctx, trend.GenerationRequest{
		ArtifactText: repo.ReadmeText,
		RepoName:     repo.FullName,
		RepoURL:      repo.HTMLURL,
		StarCount:    repo.StarCount,
		Language:     repo.Language,
	})
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}

	now := d.clock.Now()
	claimed, err := d.candidates.MarkDispatched(ctx, cand.RepoID, handle, now)
	if err != nil {
		return fmt.Errorf("claim candidate: %w", err)
	}
	if !claimed {
		// Another run claimed it between listing and submission. The
		// duplicate job is wasted but harmless.
		d.logger.Info("lost dispatch claim",
			zap.String("repo", cand.FullName),
			zap.String("jobHandle", handle),
		)
		stats.Skipped++
		metrics.ObserveDispatch("lost_claim")
		return nil
	}

	stats.Dispatched++
	metrics.ObserveDispatch("sent")
	d.logger.Info("candidate dispatched",
		zap.String("repo", cand.FullName),
		zap.String("jobHandle", handle),
	)

	if d.publisher != nil {
		event := DispatchedEvent{
			RepoID:    cand.RepoID,
			FullName:  cand.FullName,
			JobHandle: handle,
			At:        now,
		}
		if _, err := d.publisher.Publish(ctx, "candidate.dispatched", event); err != nil {
			d.logger.Warn("failed to publish dispatch event",
				zap.String("repo", cand.FullName),
				zap.Error(err),
			)
		}
	}
	return nil
}
