package scorer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/metrics"
	pubmem "github.com/trendfeed/pipeline/internal/publisher/memory"
	"github.com/trendfeed/pipeline/internal/storage/memory"
	"github.com/trendfeed/pipeline/internal/trend"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testParams() trend.ScoreParams {
	return trend.ScoreParams{
		TargetStarsPerDay: 50,
		AgeHalfLifeDays:   365,
		PivotStars:        5000,
		StarsAlpha:        0.25,
		StarsFactorMin:    0.6,
		StarsFactorMax:    1.4,
		GrowthWeight:      1,
		PenaltyWeight:     1,
		Threshold:         60,
	}
}

// A young repository gaining stars fast enough to clear the threshold.
func hotRepo(now time.Time) trend.Repo {
	return trend.Repo{
		ID:                1,
		FullName:          "acme/widgets",
		StarCount:         2000,
		PreviousStarCount: 1000,
		CreatedAt:         now.AddDate(0, -1, 0),
		LastCheckedAt:     now.Add(-24 * time.Hour),
	}
}

func newTestScorer(cands trend.CandidateStore, pub trend.Publisher, now time.Time) *Scorer {
	return New(testParams(), cands, pub, fixedClock{now: now}, zap.NewNop())
}

func TestEvaluateAdvancesStageAndRollsCounters(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cands := memory.NewCandidateStore()
	s := newTestScorer(cands, pubmem.New(), now)

	repo := hotRepo(now)
	promoted, err := s.Evaluate(context.Background(), &repo)
	require.NoError(t, err)

	// One passing evaluation reaches only the first-pass stage.
	assert.False(t, promoted)
	assert.Equal(t, trend.StageFirstPass, repo.TrendStage)
	assert.Equal(t, 2000, repo.PreviousStarCount)
	assert.InDelta(t, 1000, repo.GrowthRate, 50)
	assert.Greater(t, repo.TrendScore, 60.0)
	assert.Equal(t, now, repo.LastCheckedAt)

	_, found, err := cands.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEvaluatePromotesOnSecondPass(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cands := memory.NewCandidateStore()
	pub := pubmem.New()
	s := newTestScorer(cands, pub, now)

	repo := hotRepo(now)
	repo.TrendStage = trend.StageFirstPass

	promoted, err := s.Evaluate(context.Background(), &repo)
	require.NoError(t, err)

	assert.True(t, promoted)
	assert.Equal(t, trend.StageConfirmed, repo.TrendStage)

	cand, found, err := cands.Get(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "acme/widgets", cand.FullName)
	assert.Equal(t, now, cand.PromotedAt)
	assert.False(t, cand.Dispatched)

	events := pub.EventsFor("candidate.promoted")
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Data), "acme/widgets")
}

func TestEvaluateDemotesFailingFirstPass(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := newTestScorer(memory.NewCandidateStore(), pubmem.New(), now)

	repo := hotRepo(now)
	repo.TrendStage = trend.StageFirstPass
	// No growth since the last check.
	repo.PreviousStarCount = repo.StarCount

	promoted, err := s.Evaluate(context.Background(), &repo)
	require.NoError(t, err)

	assert.False(t, promoted)
	assert.Equal(t, trend.StageNone, repo.TrendStage)
	assert.Equal(t, 0.0, repo.GrowthRate)
}

func TestEvaluateConfirmedStageIsTerminal(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cands := memory.NewCandidateStore()
	pub := pubmem.New()
	s := newTestScorer(cands, pub, now)

	repo := hotRepo(now)
	repo.TrendStage = trend.StageConfirmed
	repo.PreviousStarCount = repo.StarCount

	promoted, err := s.Evaluate(context.Background(), &repo)
	require.NoError(t, err)

	// Staying confirmed is not a new promotion.
	assert.False(t, promoted)
	assert.Equal(t, trend.StageConfirmed, repo.TrendStage)
	assert.Empty(t, pub.Events())
}

func TestEvaluateDoesNotDuplicateCandidates(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cands := memory.NewCandidateStore()
	pub := pubmem.New()
	s := newTestScorer(cands, pub, now)

	// A candidate row already exists from an earlier promotion.
	_, err := cands.CreateIfAbsent(context.Background(), trend.Candidate{
		RepoID: 1, FullName: "acme/widgets", PromotedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	repo := hotRepo(now)
	repo.TrendStage = trend.StageFirstPass

	promoted, err := s.Evaluate(context.Background(), &repo)
	require.NoError(t, err)

	assert.False(t, promoted)
	assert.Empty(t, pub.EventsFor("candidate.promoted"))

	cand, _, err := cands.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), cand.PromotedAt)
}
