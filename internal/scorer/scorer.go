// Package scorer applies the trend score formula to crawled
// repositories and advances the promotion stage machine.
package scorer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/metrics"
	"github.com/trendfeed/pipeline/internal/trend"
)

// Scorer evaluates repositories against the trend criteria and records
// promotions as dispatch candidates.
type Scorer struct {
	params     trend.ScoreParams
	candidates trend.CandidateStore
	publisher  trend.Publisher
	clock      trend.Clock
	logger     *zap.Logger
}

// New creates a Scorer.
func New(
	params trend.ScoreParams,
	candidates trend.CandidateStore,
	publisher trend.Publisher,
	clock trend.Clock,
	logger *zap.Logger,
) *Scorer {
	return &Scorer{
		params:     params,
		candidates: candidates,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
	}
}

// PromotedEvent is published when a repository reaches the confirmed
// stage.
type PromotedEvent struct {
	RepoID     int64     `json:"repoId"`
	FullName   string    `json:"fullName"`
	TrendScore float64   `json:"trendScore"`
	PromotedAt time.Time `json:"promotedAt"`
}

// Evaluate scores one repository in place and advances its stage.
// It returns true when this evaluation promoted the repository to the
// confirmed stage.
//
// The repository's counters are rolled forward regardless of outcome:
// PreviousStarCount becomes the current count and LastCheckedAt is
// stamped, so the next crawl measures growth from this observation.
func (s *Scorer) Evaluate(ctx context.Context, repo *trend.Repo) (bool, error) {
	now := s.clock.Now()

	breakdown := s.params.Score(trend.ScoreInputs{
		StarCount:         repo.StarCount,
		PreviousStarCount: repo.PreviousStarCount,
		CreatedAt:         repo.CreatedAt,
		LastCheckedAt:     repo.LastCheckedAt,
		Now:               now,
	})

	passed := s.params.Passes(breakdown.Score)
	nextStage := trend.NextStage(repo.TrendStage, passed)
	promoted := nextStage == trend.StageConfirmed && repo.TrendStage != trend.StageConfirmed

	s.logger.Debug("scored repository",
		zap.String("repo", repo.FullName),
		zap.Float64("score", breakdown.Score),
		zap.Float64("deltaPerDay", breakdown.DeltaPerDay),
		zap.Int("stage", repo.TrendStage),
		zap.Int("nextStage", nextStage),
	)
	metrics.ObserveTrendScore(breakdown.Score)

	repo.GrowthRate = breakdown.DeltaPerDay
	repo.TrendScore = breakdown.Score
	repo.TrendStage = nextStage
	repo.PreviousStarCount = repo.StarCount
	repo.LastCheckedAt = now

	if !promoted {
		return false, nil
	}

	created, err := s.candidates.CreateIfAbsent(ctx, trend.Candidate{
		RepoID:     repo.ID,
		FullName:   repo.FullName,
		PromotedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("record candidate %s: %w", repo.FullName, err)
	}
	if !created {
		// Already promoted on a previous run; nothing more to do.
		return false, nil
	}

	metrics.ObservePromotion()
	s.logger.Info("repository promoted to candidate",
		zap.String("repo", repo.FullName),
		zap.Float64("score", breakdown.Score),
	)

	if s.publisher != nil {
		event := PromotedEvent{
			RepoID:     repo.ID,
			FullName:   repo.FullName,
			TrendScore: breakdown.Score,
			PromotedAt: now,
		}
		if _, err := s.publisher.Publish(ctx, "candidate.promoted", event); err != nil {
			// Promotion is already durable; the event is best-effort.
			s.logger.Warn("failed to publish promotion event",
				zap.String("repo", repo.FullName),
				zap.Error(err),
			)
		}
	}

	return true, nil
}
