package decision

import (
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestMerge(t *testing.T) {
	cfg := domain.DefaultCompositeConfig()

	tests := []struct {
		name      string
		fraud     int
		suspicion *int
		score     int
		level     domain.RiskLevel
	}{
		{"no tracker", 40, nil, 40, domain.RiskModerate},
		{"weighted", 40, intPtr(100), 64, domain.RiskElevated},
		{"both zero", 0, intPtr(0), 0, domain.RiskMinimal},
		{"rounding", 15, intPtr(16), 15, domain.RiskLow},
		{"max", 100, intPtr(100), 100, domain.RiskCritical},
		{"suspicion only", 0, intPtr(100), 40, domain.RiskModerate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := domain.FraudResult{RiskScore: tt.fraud, Decision: domain.DecisionReview, Confidence: domain.ConfidenceMedium}
			c := Merge(res, tt.suspicion, cfg)
			if c.Score != tt.score {
				t.Errorf("score = %d, want %d", c.Score, tt.score)
			}
			if c.Level != tt.level {
				t.Errorf("level = %s, want %s", c.Level, tt.level)
			}
			if c.Breakdown.FraudScore != tt.fraud {
				t.Errorf("breakdown lost fraud score: %+v", c.Breakdown)
			}
			if (tt.suspicion == nil) != (c.Breakdown.SuspicionScore == nil) {
				t.Errorf("breakdown suspicion mismatch: %+v", c.Breakdown)
			}
		})
	}
}

func TestMergeKeepsDecision(t *testing.T) {
	cfg := domain.DefaultCompositeConfig()
	for _, d := range []domain.Decision{domain.DecisionAllow, domain.DecisionReview, domain.DecisionBlock} {
		res := domain.FraudResult{RiskScore: 5, Decision: d, Confidence: domain.ConfidenceHigh}
		c := Merge(res, intPtr(100), cfg)
		if c.Breakdown.Decision != d || c.Breakdown.Confidence != domain.ConfidenceHigh {
			t.Errorf("composite changed decision %s to %s", d, c.Breakdown.Decision)
		}
	}
}

func TestMergeCustomWeights(t *testing.T) {
	cfg := domain.DefaultCompositeConfig()
	cfg.FraudWeight, cfg.SuspicionWeight = 1, 1

	c := Merge(domain.FraudResult{RiskScore: 20}, intPtr(60), cfg)
	if c.Score != 40 {
		t.Errorf("expected equal-weight average 40, got %d", c.Score)
	}
}

func TestLevelBreakpoints(t *testing.T) {
	cfg := domain.DefaultCompositeConfig()
	tests := []struct {
		score int
		want  domain.RiskLevel
	}{
		{0, domain.RiskMinimal},
		{14, domain.RiskMinimal},
		{15, domain.RiskLow},
		{29, domain.RiskLow},
		{30, domain.RiskModerate},
		{49, domain.RiskModerate},
		{50, domain.RiskElevated},
		{69, domain.RiskElevated},
		{70, domain.RiskHigh},
		{84, domain.RiskHigh},
		{85, domain.RiskCritical},
		{100, domain.RiskCritical},
	}
	for _, tt := range tests {
		if got := Level(tt.score, cfg); got != tt.want {
			t.Errorf("Level(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestShouldAutoRefund(t *testing.T) {
	blocked := func(score int) *domain.Assessment {
		return &domain.Assessment{Decision: domain.DecisionBlock, Result: domain.FraudResult{RiskScore: score, Decision: domain.DecisionBlock}}
	}
	review := &domain.Assessment{Decision: domain.DecisionReview, Result: domain.FraudResult{RiskScore: 95}}

	tests := []struct {
		name   string
		a      *domain.Assessment
		actual domain.ActualOutcome
		want   bool
	}{
		{"fraud confirmed", review, domain.OutcomeFraudConfirmed, true},
		{"fraud confirmed without assessment", nil, domain.OutcomeFraudConfirmed, true},
		{"blocked high score", blocked(80), domain.OutcomeUnknown, true},
		{"blocked below threshold", blocked(79), domain.OutcomeUnknown, false},
		{"review high score", review, domain.OutcomeUnknown, false},
		{"legitimate", blocked(75), domain.OutcomeLegitimate, false},
		{"legitimate but blocked high", blocked(90), domain.OutcomeLegitimate, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldAutoRefund(tt.a, tt.actual); got != tt.want {
				t.Errorf("ShouldAutoRefund = %v, want %v", got, tt.want)
			}
		})
	}
}
