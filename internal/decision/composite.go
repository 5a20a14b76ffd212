// Package decision runs the assessment pipeline and merges its scores for
// display.
package decision

import (
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Merge combines the fraud result with the card-testing suspicion score.
// suspicion is nil when no tracker exists for the payment, in which case the
// composite equals the fraud score. The decision and confidence are copied
// from result unchanged.
func Merge(result domain.FraudResult, suspicion *int, cfg domain.CompositeConfig) domain.CompositeScore {
	b := domain.CompositeBreakdown{
		FraudScore:      result.RiskScore,
		FraudWeight:     cfg.FraudWeight,
		SuspicionWeight: cfg.SuspicionWeight,
		Decision:        result.Decision,
		Confidence:      result.Confidence,
	}

	score := float64(result.RiskScore)
	if suspicion != nil {
		s := *suspicion
		b.SuspicionScore = &s
		if total := cfg.FraudWeight + cfg.SuspicionWeight; total > 0 {
			score = (float64(result.RiskScore)*cfg.FraudWeight + float64(s)*cfg.SuspicionWeight) / total
		}
	}

	composite := clamp(int(math.Round(score)))
	return domain.CompositeScore{
		Score:     composite,
		Level:     Level(composite, cfg),
		Breakdown: b,
	}
}

// Level maps a composite score to its display bucket.
func Level(score int, cfg domain.CompositeConfig) domain.RiskLevel {
	switch {
	case score >= cfg.CriticalAt:
		return domain.RiskCritical
	case score >= cfg.HighAt:
		return domain.RiskHigh
	case score >= cfg.ElevatedAt:
		return domain.RiskElevated
	case score >= cfg.ModerateAt:
		return domain.RiskModerate
	case score >= cfg.LowAt:
		return domain.RiskLow
	default:
		return domain.RiskMinimal
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
