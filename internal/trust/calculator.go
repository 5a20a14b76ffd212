// Package trust computes customer reputation scores and maintains the
// per-organization trust records they are derived from.
package trust

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

// BaselineScore is the neutral starting point of every calculation.
const BaselineScore = 50

// Factor is one signed contribution to a trust score.
type Factor struct {
	Code        string `json:"code"`
	Points      int    `json:"points"`
	Description string `json:"description"`
}

// Score is the output of a trust calculation.
type Score struct {
	Score           int              `json:"score"`
	Tier            domain.TrustTier `json:"tier"`
	Factors         []Factor         `json:"factors"`
	ShouldWhitelist bool             `json:"shouldWhitelist"`
	ShouldBlacklist bool             `json:"shouldBlacklist"`
}

// step maps a lower bound to the points awarded at or above it.
type step struct {
	min    float64
	points int
}

var (
	accountAgeSteps  = []step{{365, 15}, {180, 12}, {90, 8}, {30, 5}, {7, 2}}
	purchaseSteps    = []step{{50, 15}, {20, 12}, {10, 8}, {5, 5}, {2, 2}}
	spendSteps       = []step{{10000, 10}, {5000, 8}, {1000, 5}, {500, 3}, {100, 1}}
	frequencySteps   = []step{{4, 5}, {2, 3}, {1, 1}}
	consistencySteps = []step{{90, 8}, {70, 5}, {50, 2}}
	refundSteps      = []step{{0.5, -25}, {0.3, -15}, {0.2, -10}, {0.1, -5}}
	failureSteps     = []step{{0.5, -20}, {0.3, -10}, {0.2, -5}}
	methodSteps      = []step{{5, -15}, {3, -5}}
	inactivitySteps  = []step{{366, -10}, {181, -5}} // strictly more than 365 / 180 days
)

const (
	subscriptionPoints = 10
	disputePenalty     = -30
)

func lookup(steps []step, v float64) int {
	for _, s := range steps {
		if v >= s.min {
			return s.points
		}
	}
	return 0
}

// Calculator computes trust scores. It holds no mutable state.
type Calculator struct {
	cfg domain.TrustConfig
}

// NewCalculator creates a calculator with the given tier breakpoints.
func NewCalculator(cfg domain.TrustConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Calculate scores a customer's metrics.
func (c *Calculator) Calculate(m domain.CustomerMetrics) Score {
	var factors []Factor
	score := BaselineScore

	add := func(code string, points int, format string, args ...any) {
		if points == 0 {
			return
		}
		score += points
		factors = append(factors, Factor{
			Code:        code,
			Points:      points,
			Description: fmt.Sprintf(format, args...),
		})
	}

	// Positive signals
	add("account_age", lookup(accountAgeSteps, float64(m.AccountAgeDays)),
		"account is %d days old", m.AccountAgeDays)
	add("purchase_history", lookup(purchaseSteps, float64(m.TotalPurchases)),
		"%d successful purchases", m.TotalPurchases)
	spent, _ := m.TotalSpent.Float64()
	add("total_spent", lookup(spendSteps, spent),
		"%s spent in total", m.TotalSpent.StringFixed(2))
	if m.HasActiveSubscription {
		add("active_subscription", subscriptionPoints, "customer has an active subscription")
	}
	add("purchase_frequency", lookup(frequencySteps, m.PurchaseFrequency),
		"%.1f purchases per month", m.PurchaseFrequency)
	consistency := float64(m.DeviceConsistency+m.LocationConsistency) / 2
	add("consistency", lookup(consistencySteps, consistency),
		"device and location consistency %.0f%%", consistency)

	// Negative signals
	if m.DisputeCount > 0 {
		add("disputes", disputePenalty*m.DisputeCount,
			"%d disputes on record", m.DisputeCount)
	}
	if m.TotalPurchases > 0 {
		ratio := float64(m.RefundCount) / float64(m.TotalPurchases)
		add("refund_ratio", lookup(refundSteps, ratio), "refund ratio %.2f", ratio)
	}
	if attempts := m.TotalPurchases + m.FailedPaymentCount; attempts > 0 {
		ratio := float64(m.FailedPaymentCount) / float64(attempts)
		add("failure_ratio", lookup(failureSteps, ratio), "payment failure ratio %.2f", ratio)
	}
	add("payment_methods", lookup(methodSteps, float64(m.UniquePaymentMethods)),
		"%d distinct payment methods", m.UniquePaymentMethods)
	if m.DaysSinceLastPurchase != nil {
		add("inactivity", lookup(inactivitySteps, float64(*m.DaysSinceLastPurchase)),
			"%d days since last purchase", *m.DaysSinceLastPurchase)
	}

	score = clamp(score)
	tier := c.Tier(score)
	return Score{
		Score:           score,
		Tier:            tier,
		Factors:         factors,
		ShouldWhitelist: tier == domain.TierTrusted || tier == domain.TierVIP,
		ShouldBlacklist: tier == domain.TierBlocked,
	}
}

// Tier maps a score to its tier. It is monotonic in score.
func (c *Calculator) Tier(score int) domain.TrustTier {
	switch {
	case score < c.cfg.SuspiciousAt:
		return domain.TierBlocked
	case score < c.cfg.NewAt:
		return domain.TierSuspicious
	case score < c.cfg.TrustedAt:
		return domain.TierNew
	case score < c.cfg.VIPAt:
		return domain.TierTrusted
	default:
		return domain.TierVIP
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// minorToMajor converts minor currency units to a decimal major amount.
func minorToMajor(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
