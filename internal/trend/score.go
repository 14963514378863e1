package trend

import (
	"math"
	"time"
)

// ScoreParams holds the tuning knobs of the trend score.
type ScoreParams struct {
	// TargetStarsPerDay is the growth rate that yields ~63% of the
	// maximum growth component.
	TargetStarsPerDay float64
	AgeHalfLifeDays   float64
	PivotStars        float64
	StarsAlpha        float64
	StarsFactorMin    float64
	StarsFactorMax    float64
	GrowthWeight      float64
	PenaltyWeight     float64
	// Threshold is the 0-100 score a repository must reach to advance a
	// stage.
	Threshold float64
}

// ScoreInputs is the per-repository snapshot the score is computed from.
type ScoreInputs struct {
	StarCount         int
	PreviousStarCount int
	CreatedAt         time.Time
	LastCheckedAt     time.Time
	Now               time.Time
}

// ScoreBreakdown carries the score and its intermediate factors for
// logging and diagnostics.
type ScoreBreakdown struct {
	ElapsedDays float64
	DeltaPerDay float64
	GrowthNorm  float64
	AgePenalty  float64
	StarsFactor float64
	Score       float64
}

const hoursPerDay = 24

// Score computes the bounded 0-100 trend score.
func (p ScoreParams) Score(in ScoreInputs) ScoreBreakdown {
	var b ScoreBreakdown

	b.ElapsedDays = 1
	if !in.LastCheckedAt.IsZero() {
		days := in.Now.Sub(in.LastCheckedAt).Hours() / hoursPerDay
		b.ElapsedDays = math.Max(1, days)
	}

	delta := float64(in.StarCount - in.PreviousStarCount)
	b.DeltaPerDay = math.Max(0, delta) / b.ElapsedDays

	if p.TargetStarsPerDay > 0 {
		b.GrowthNorm = 1 - math.Exp(-b.DeltaPerDay/p.TargetStarsPerDay)
	}
	b.GrowthNorm = clamp(b.GrowthNorm, 0, 1)

	b.AgePenalty = 1
	if !in.CreatedAt.IsZero() && p.AgeHalfLifeDays > 0 {
		ageDays := math.Max(0, in.Now.Sub(in.CreatedAt).Hours()/hoursPerDay)
		b.AgePenalty = clamp(math.Pow(0.5, ageDays/p.AgeHalfLifeDays), 0, 1)
	}

	b.StarsFactor = 1
	if p.PivotStars > 0 {
		raw := math.Pow(p.PivotStars/math.Max(1, float64(in.StarCount)), p.StarsAlpha)
		b.StarsFactor = clamp(raw, p.StarsFactorMin, p.StarsFactorMax)
	}

	score01 := b.GrowthNorm * b.AgePenalty * b.StarsFactor * p.GrowthWeight * p.PenaltyWeight
	b.Score = clamp(score01, 0, 1) * 100
	return b
}

// Passes reports whether the score clears the promotion threshold.
func (p ScoreParams) Passes(score float64) bool {
	return score >= p.Threshold
}

// NextStage advances the promotion machine. A passing score moves
// 0->1->2; a failing score demotes 1->0. Stage 2 is terminal.
func NextStage(stage int, passed bool) int {
	if stage < StageNone {
		stage = StageNone
	}
	if stage >= StageConfirmed {
		return StageConfirmed
	}
	if passed {
		return stage + 1
	}
	if stage == StageFirstPass {
		return StageNone
	}
	return stage
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
