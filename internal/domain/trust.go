package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrustTier is the discrete reputation bucket of a customer.
type TrustTier string

const (
	TierBlocked    TrustTier = "blocked"
	TierSuspicious TrustTier = "suspicious"
	TierNew        TrustTier = "new"
	TierTrusted    TrustTier = "trusted"
	TierVIP        TrustTier = "vip"
)

// CustomerMetrics is the historical behaviour the trust score is computed from.
type CustomerMetrics struct {
	AccountAgeDays        int             `json:"accountAgeDays"`
	TotalPurchases        int             `json:"totalPurchases"`
	TotalSpent            decimal.Decimal `json:"totalSpent"` // major currency units
	DisputeCount          int             `json:"disputeCount"`
	RefundCount           int             `json:"refundCount"`
	FailedPaymentCount    int             `json:"failedPaymentCount"`
	UniquePaymentMethods  int             `json:"uniquePaymentMethods"`
	HasActiveSubscription bool            `json:"hasActiveSubscription"`
	PurchaseFrequency     float64         `json:"purchaseFrequency"` // purchases per month

	// Consistency scores are 0-100.
	DeviceConsistency   int `json:"deviceConsistency"`
	LocationConsistency int `json:"locationConsistency"`

	// DaysSinceLastPurchase is nil when the customer never purchased.
	DaysSinceLastPurchase *int `json:"daysSinceLastPurchase,omitempty"`
}

// TrustRecord is the stored reputation of one customer of one organization.
type TrustRecord struct {
	OrganizationID string `json:"organizationId"`
	CustomerID     string `json:"customerId"`

	Metrics CustomerMetrics `json:"metrics"`

	// AverageAmount is the mean successful purchase in minor units.
	AverageAmount int64 `json:"averageAmount"`

	// PaymentMethods holds the distinct card fingerprints seen.
	PaymentMethods []string `json:"paymentMethods,omitempty"`

	TrustScore    int       `json:"trustScore"`
	Tier          TrustTier `json:"tier"`
	PreviousScore int       `json:"previousScore"`
	PreviousTier  TrustTier `json:"previousTier,omitempty"`

	Whitelisted    bool   `json:"whitelisted"`
	Blacklisted    bool   `json:"blacklisted"`
	ManualOverride bool   `json:"manualOverride"`
	OverrideBy     string `json:"overrideBy,omitempty"`
	OverrideReason string `json:"overrideReason,omitempty"`

	FirstSeenAt    time.Time  `json:"firstSeenAt"`
	LastPurchaseAt *time.Time `json:"lastPurchaseAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// TrustOutcome describes what a single transaction tells us about a customer.
type TrustOutcome struct {
	Status           AttemptStatus `json:"status"`
	Amount           int64         `json:"amount"` // minor units
	CardFingerprint  string        `json:"cardFingerprint,omitempty"`
	Disputed         bool          `json:"disputed,omitempty"`
	DisputeWithdrawn bool          `json:"disputeWithdrawn,omitempty"` // takes back an earlier dispute
	Refunded         bool          `json:"refunded,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// TierChange is reported when a recalculation moved a customer between tiers.
type TierChange struct {
	OrganizationID string    `json:"organizationId"`
	CustomerID     string    `json:"customerId"`
	From           TrustTier `json:"from"`
	To             TrustTier `json:"to"`
	PreviousScore  int       `json:"previousScore"`
	Score          int       `json:"score"`
}

// ListUpdate is a manual whitelist/blacklist override by an operator.
type ListUpdate struct {
	Whitelisted bool   `json:"whitelisted"`
	Blacklisted bool   `json:"blacklisted"`
	Actor       string `json:"actor"`
	Reason      string `json:"reason"`
}
