package trend

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testParams() ScoreParams {
	return ScoreParams{
		TargetStarsPerDay: 50,
		AgeHalfLifeDays:   1000,
		PivotStars:        5000,
		StarsAlpha:        0.25,
		StarsFactorMin:    0.6,
		StarsFactorMax:    1.4,
		GrowthWeight:      1,
		PenaltyWeight:     1,
		Threshold:         60,
	}
}

func TestGrowthNormSaturation(t *testing.T) {
	t.Parallel()

	params := testParams()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	created := now.AddDate(0, 0, -10)

	prevNorm := -1.0
	for _, delta := range []int{0, 1, 10, 50, 100, 1000, 100000} {
		b := params.Score(ScoreInputs{
			StarCount:         1000 + delta,
			PreviousStarCount: 1000,
			CreatedAt:         created,
			LastCheckedAt:     now.AddDate(0, 0, -1),
			Now:               now,
		})
		require.GreaterOrEqual(t, b.GrowthNorm, 0.0)
		require.Less(t, b.GrowthNorm, 1.0)
		require.GreaterOrEqual(t, b.GrowthNorm, prevNorm, "growthNorm must be non-decreasing in delta")
		prevNorm = b.GrowthNorm
	}
}

func TestGrowthNormZeroAtZeroDelta(t *testing.T) {
	t.Parallel()

	params := testParams()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := params.Score(ScoreInputs{
		StarCount:         500,
		PreviousStarCount: 500,
		CreatedAt:         now.AddDate(0, 0, -30),
		LastCheckedAt:     now.AddDate(0, 0, -1),
		Now:               now,
	})
	require.Zero(t, b.GrowthNorm)
	require.Zero(t, b.Score)
}

func TestAgePenaltyHalfLife(t *testing.T) {
	t.Parallel()

	params := testParams()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	atHalfLife := params.Score(ScoreInputs{
		StarCount:         100,
		PreviousStarCount: 100,
		CreatedAt:         now.Add(-time.Duration(params.AgeHalfLifeDays) * 24 * time.Hour),
		Now:               now,
	})
	require.InDelta(t, 0.5, atHalfLife.AgePenalty, 1e-9)

	// Strictly decreasing in age.
	prev := 2.0
	for _, ageDays := range []int{0, 1, 100, 365, 1000, 5000} {
		b := params.Score(ScoreInputs{
			StarCount: 100,
			CreatedAt: now.AddDate(0, 0, -ageDays),
			Now:       now,
		})
		require.Less(t, b.AgePenalty, prev)
		require.Greater(t, b.AgePenalty, 0.0)
		require.LessOrEqual(t, b.AgePenalty, 1.0)
		prev = b.AgePenalty
	}
}

func TestStarsFactorBounds(t *testing.T) {
	t.Parallel()

	params := testParams()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, stars := range []int{1, 10, 500, 5000, 50000, 5000000} {
		b := params.Score(ScoreInputs{
			StarCount: stars,
			CreatedAt: now.AddDate(0, 0, -1),
			Now:       now,
		})
		require.GreaterOrEqual(t, b.StarsFactor, params.StarsFactorMin)
		require.LessOrEqual(t, b.StarsFactor, params.StarsFactorMax)
	}
}

func TestScoreExampleScenario(t *testing.T) {
	t.Parallel()

	// 100 stars/day on a brand-new 1000-star repo saturates to 100.
	params := testParams()
	params.AgeHalfLifeDays = 1000
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	b := params.Score(ScoreInputs{
		StarCount:         1000,
		PreviousStarCount: 900,
		CreatedAt:         now,
		LastCheckedAt:     now.AddDate(0, 0, -1),
		Now:               now,
	})
	require.InDelta(t, 100, b.DeltaPerDay, 1e-9)
	require.InDelta(t, 1-math.Exp(-2), b.GrowthNorm, 1e-9)
	require.InDelta(t, 1.0, b.AgePenalty, 1e-9)
	require.InDelta(t, 1.4, b.StarsFactor, 1e-9)
	require.InDelta(t, 100, b.Score, 1e-9)

	require.Equal(t, StageConfirmed, NextStage(StageFirstPass, params.Passes(b.Score)))
}

func TestScoreBounds(t *testing.T) {
	t.Parallel()

	params := testParams()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := []ScoreInputs{
		{StarCount: 0, PreviousStarCount: 0, Now: now},
		{StarCount: 10, PreviousStarCount: 100000, Now: now},
		{StarCount: 1 << 30, PreviousStarCount: 0, CreatedAt: now, Now: now},
		{StarCount: 1000, PreviousStarCount: 0, CreatedAt: now.AddDate(-10, 0, 0), LastCheckedAt: now.Add(-time.Minute), Now: now},
	}
	for _, in := range cases {
		b := params.Score(in)
		require.GreaterOrEqual(t, b.Score, 0.0)
		require.LessOrEqual(t, b.Score, 100.0)
	}
}

func TestElapsedDaysClampSmoothsBursts(t *testing.T) {
	t.Parallel()

	params := testParams()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Two evaluations a minute apart must not inflate deltaPerDay.
	b := params.Score(ScoreInputs{
		StarCount:         1100,
		PreviousStarCount: 1000,
		CreatedAt:         now.AddDate(0, 0, -5),
		LastCheckedAt:     now.Add(-time.Minute),
		Now:               now,
	})
	require.InDelta(t, 100, b.DeltaPerDay, 1e-9)
}

func TestNextStageDeterminism(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stage  int
		passed bool
		want   int
	}{
		{StageNone, true, StageFirstPass},
		{StageNone, false, StageNone},
		{StageFirstPass, true, StageConfirmed},
		{StageFirstPass, false, StageNone},
		{StageConfirmed, true, StageConfirmed},
		{StageConfirmed, false, StageConfirmed},
		{-1, false, StageNone},
		{7, false, StageConfirmed},
	}
	for _, tc := range cases {
		got := NextStage(tc.stage, tc.passed)
		require.Equal(t, tc.want, got, "stage=%d passed=%v", tc.stage, tc.passed)
		require.GreaterOrEqual(t, got, StageNone)
		require.LessOrEqual(t, got, StageConfirmed)
	}
}
