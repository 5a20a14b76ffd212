// Package scoring implements the built-in weighted fraud heuristics.
package scoring

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Factor types emitted by the engine.
const (
	FactorBlacklisted         = "blacklisted"
	FactorGeoMismatch         = "geographic_mismatch"
	FactorVelocity            = "velocity"
	FactorCardTesting         = "card_testing"
	FactorRapidAttempts       = "rapid_attempts"
	FactorNewAccountHighValue = "new_account_high_amount"
	FactorUnusualAmount       = "unusual_amount"
	FactorUnknownCustomer     = "unknown_customer"
	FactorDisputeHistory      = "dispute_history"
	FactorHighAmount          = "high_amount"
	FactorSmallRepeated       = "small_repeated_amount"
	FactorPrepaidCard         = "prepaid_card"
	FactorUnusualHour         = "unusual_hour"
	FactorWhitelisted         = "whitelisted"
	FactorTrustTier           = "trust_tier"
	FactorLoyalCustomer       = "loyal_customer"
	FactorTypicalAmount       = "typical_amount"
	FactorSubscription        = "active_subscription"
)

const (
	maxDisputeWeight = 60
	loyalPurchases   = 5
)

// Recommended action text per decision.
const (
	ActionApprove = "Approve transaction"
	ActionReview  = "Hold for manual review"
	ActionBlock   = "Block transaction"
)

// Engine scores a transaction context with the built-in heuristics.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg domain.ScoringConfig
}

// NewEngine creates an engine with the given thresholds.
func NewEngine(cfg domain.ScoringConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine thresholds.
func (e *Engine) Config() domain.ScoringConfig {
	return e.cfg
}

// tally accumulates signed contributions. The running score may go
// negative; it is clamped once at the end.
type tally struct {
	score   int
	factors []domain.Factor
}

func (t *tally) add(typ string, weight int, sev domain.Severity, desc string) {
	t.score += weight
	t.factors = append(t.factors, domain.Factor{
		Type:        typ,
		Weight:      weight,
		Severity:    sev,
		Description: desc,
	})
}

// Evaluate scores tc. A blacklisted customer short-circuits to BLOCK.
func (e *Engine) Evaluate(tc *domain.TransactionContext) domain.FraudResult {
	if tc.Customer != nil && tc.Customer.Blacklisted {
		return Blacklisted()
	}

	var t tally
	e.riskSignals(&t, tc)

	if c := tc.Customer; c != nil && c.Tier == domain.TierBlocked {
		t.add(FactorTrustTier, 100, domain.SeverityCritical,
			fmt.Sprintf("Customer trust tier is blocked (score %d)", c.TrustScore))
		return e.result(100, t.factors)
	}

	e.trustSignals(&t, tc)
	return e.result(clamp(t.score), t.factors)
}

// Blacklisted is the fixed result for a blacklisted customer.
func Blacklisted() domain.FraudResult {
	f := domain.Factor{
		Type:        FactorBlacklisted,
		Weight:      100,
		Severity:    domain.SeverityCritical,
		Description: "Customer is blacklisted",
	}
	return domain.FraudResult{
		Decision:          domain.DecisionBlock,
		RiskScore:         100,
		Factors:           []domain.Factor{f},
		Confidence:        domain.ConfidenceHigh,
		RecommendedAction: ActionBlock,
		Adjustments:       domain.Adjustments{Positive: 100},
	}
}

func (e *Engine) riskSignals(t *tally, tc *domain.TransactionContext) {
	cfg := e.cfg

	if tc.IPCountry != "" && tc.CardCountry != "" && tc.IPCountry != tc.CardCountry {
		t.add(FactorGeoMismatch, 30, domain.SeverityHigh,
			fmt.Sprintf("IP country %s does not match card country %s", tc.IPCountry, tc.CardCountry))
	}

	if v := tc.Velocity; v != nil {
		switch {
		case v.AttemptsLastHour >= cfg.VelocityCritical:
			t.add(FactorVelocity, 25, domain.SeverityHigh,
				fmt.Sprintf("%d attempts in the last hour", v.AttemptsLastHour))
		case v.AttemptsLastHour >= cfg.VelocityWarning:
			t.add(FactorVelocity, 15, domain.SeverityMedium,
				fmt.Sprintf("%d attempts in the last hour", v.AttemptsLastHour))
		}

		switch {
		case v.UniqueCards >= cfg.UniqueCardsCritical:
			t.add(FactorCardTesting, 50, domain.SeverityCritical,
				fmt.Sprintf("%d different cards used", v.UniqueCards))
		case v.UniqueCards >= cfg.UniqueCardsSuspicious:
			t.add(FactorCardTesting, 40, domain.SeverityHigh,
				fmt.Sprintf("%d different cards used", v.UniqueCards))
		case v.UniqueCards >= cfg.UniqueCardsWarning:
			t.add(FactorCardTesting, 20, domain.SeverityMedium,
				fmt.Sprintf("%d different cards used", v.UniqueCards))
		}

		if v.RapidAttempts {
			t.add(FactorRapidAttempts, 15, domain.SeverityMedium, "Rapid successive attempts")
		}
	}

	c := tc.Customer
	switch {
	case c != nil && c.AccountAgeDays < 1 && tc.Amount > cfg.HighAmount:
		t.add(FactorNewAccountHighValue, 25, domain.SeverityHigh,
			fmt.Sprintf("Account created today with amount %d", tc.Amount))
	case c != nil && c.AverageAmount > 0 && tc.Amount > 3*c.AverageAmount:
		t.add(FactorUnusualAmount, 15, domain.SeverityMedium,
			fmt.Sprintf("Amount %d is over 3x the customer average %d", tc.Amount, c.AverageAmount))
	case c == nil || c.TotalPurchases == 0:
		t.add(FactorUnknownCustomer, 10, domain.SeverityLow, "No customer purchase history")
	}

	if c != nil && c.DisputeCount > 0 {
		w := min(20*c.DisputeCount, maxDisputeWeight)
		t.add(FactorDisputeHistory, w, domain.SeverityHigh,
			fmt.Sprintf("%d prior disputes", c.DisputeCount))
	}

	switch {
	case tc.Amount >= cfg.VeryHighAmount:
		t.add(FactorHighAmount, 15, domain.SeverityMedium, fmt.Sprintf("Very high amount %d", tc.Amount))
	case tc.Amount >= cfg.HighAmount:
		t.add(FactorHighAmount, 8, domain.SeverityLow, fmt.Sprintf("High amount %d", tc.Amount))
	}

	if tc.Amount < cfg.SmallAmount && tc.Velocity != nil && tc.Velocity.AttemptsLastHour > 1 {
		t.add(FactorSmallRepeated, 20, domain.SeverityMedium,
			fmt.Sprintf("Small amount %d repeated %d times in the last hour", tc.Amount, tc.Velocity.AttemptsLastHour))
	}

	if tc.CardFunding == domain.FundingPrepaid {
		t.add(FactorPrepaidCard, 10, domain.SeverityLow, "Prepaid card")
	}

	if tc.HourOfDay >= cfg.UnusualHourStart && tc.HourOfDay < cfg.UnusualHourEnd {
		t.add(FactorUnusualHour, 5, domain.SeverityLow,
			fmt.Sprintf("Transaction at unusual hour %02d:00", tc.HourOfDay))
	}
}

func (e *Engine) trustSignals(t *tally, tc *domain.TransactionContext) {
	c := tc.Customer
	if c == nil {
		return
	}

	if c.Whitelisted {
		t.add(FactorWhitelisted, -30, domain.SeverityLow, "Customer is whitelisted")
		if t.score < 0 {
			t.score = 0
		}
	}

	switch c.Tier {
	case domain.TierVIP:
		t.add(FactorTrustTier, -30, domain.SeverityLow, fmt.Sprintf("VIP customer (trust %d)", c.TrustScore))
	case domain.TierTrusted:
		t.add(FactorTrustTier, -20, domain.SeverityLow, fmt.Sprintf("Trusted customer (trust %d)", c.TrustScore))
	case domain.TierSuspicious:
		t.add(FactorTrustTier, 20, domain.SeverityMedium, fmt.Sprintf("Suspicious customer (trust %d)", c.TrustScore))
	}

	if c.TotalPurchases >= loyalPurchases && c.DisputeCount == 0 {
		t.add(FactorLoyalCustomer, -15, domain.SeverityLow,
			fmt.Sprintf("%d purchases without disputes", c.TotalPurchases))
	}

	if c.AverageAmount > 0 && 2*tc.Amount >= c.AverageAmount && 2*tc.Amount <= 3*c.AverageAmount {
		t.add(FactorTypicalAmount, -10, domain.SeverityLow, "Amount in line with customer history")
	}

	if c.ActiveSubscription {
		t.add(FactorSubscription, -10, domain.SeverityLow, "Customer has an active subscription")
	}
}

func (e *Engine) result(score int, factors []domain.Factor) domain.FraudResult {
	decision, confidence := e.Decide(score)

	var adj domain.Adjustments
	for _, f := range factors {
		if f.Weight > 0 {
			adj.Positive += f.Weight
		} else {
			adj.Negative -= f.Weight
		}
	}

	sort.SliceStable(factors, func(i, j int) bool {
		return abs(factors[i].Weight) > abs(factors[j].Weight)
	})
	if factors == nil {
		factors = []domain.Factor{}
	}

	return domain.FraudResult{
		Decision:          decision,
		RiskScore:         score,
		Factors:           factors,
		Confidence:        confidence,
		RecommendedAction: RecommendedAction(decision),
		Adjustments:       adj,
	}
}

// Decide maps a clamped score to a decision and confidence.
func (e *Engine) Decide(score int) (domain.Decision, domain.Confidence) {
	cfg := e.cfg
	switch {
	case score <= cfg.LowThreshold:
		if score <= 15 {
			return domain.DecisionAllow, domain.ConfidenceHigh
		}
		return domain.DecisionAllow, domain.ConfidenceMedium
	case score <= cfg.HighThreshold:
		return domain.DecisionReview, domain.ConfidenceMedium
	default:
		if score >= cfg.CriticalThreshold {
			return domain.DecisionBlock, domain.ConfidenceHigh
		}
		return domain.DecisionBlock, domain.ConfidenceMedium
	}
}

// RecommendedAction returns the operator-facing action text for d.
func RecommendedAction(d domain.Decision) string {
	switch d {
	case domain.DecisionAllow:
		return ActionApprove
	case domain.DecisionBlock:
		return ActionBlock
	default:
		return ActionReview
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

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
