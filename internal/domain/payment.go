package domain

import (
	"time"
)

// PaymentEvent is the normalized payment attempt handed over by the
// processor ingestion layer.
type PaymentEvent struct {
	PaymentID      string `json:"paymentId"`
	OrganizationID string `json:"organizationId"`

	// InvoiceID groups attempts that belong to one checkout. SessionID
	// optionally narrows the scope of the card-testing tracker further.
	InvoiceID  string `json:"invoiceId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	CustomerID string `json:"customerId,omitempty"`

	// Amount is expressed in minor currency units.
	Amount   int64         `json:"amount"`
	Currency string        `json:"currency"`
	Status   AttemptStatus `json:"status,omitempty"`

	IP     IPInfo     `json:"ip"`
	Card   CardInfo   `json:"card"`
	Device DeviceInfo `json:"device"`

	Timestamp time.Time `json:"timestamp"`
}

// IPInfo carries the resolved network origin of a payment.
type IPInfo struct {
	Address string `json:"address,omitempty"`
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// CardInfo carries card metadata reported by the processor.
type CardInfo struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	Brand       string `json:"brand,omitempty"`
	Funding     string `json:"funding,omitempty"` // credit, debit, prepaid
	Country     string `json:"country,omitempty"`
	Last4       string `json:"last4,omitempty"`
}

// DeviceInfo carries client device metadata.
type DeviceInfo struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
}

// Card funding types.
const (
	FundingCredit  = "credit"
	FundingDebit   = "debit"
	FundingPrepaid = "prepaid"
)

// TransactionContext is the immutable scoring input for one payment attempt.
// Build it with txcontext.Build; never modify it afterwards.
type TransactionContext struct {
	OrganizationID string `json:"organizationId"`
	PaymentID      string `json:"paymentId"`

	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	IPAddress string `json:"ipAddress,omitempty"`
	IPCountry string `json:"ipCountry,omitempty"`
	IPRegion  string `json:"ipRegion,omitempty"`
	IPCity    string `json:"ipCity,omitempty"`

	CardBrand       string `json:"cardBrand,omitempty"`
	CardFunding     string `json:"cardFunding,omitempty"`
	CardCountry     string `json:"cardCountry,omitempty"`
	CardFingerprint string `json:"cardFingerprint,omitempty"`

	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	DeviceType        string `json:"deviceType,omitempty"`

	HourOfDay int       `json:"hourOfDay"`
	Timestamp time.Time `json:"timestamp"`

	Customer *CustomerContext `json:"customer,omitempty"`
	Velocity *VelocityContext `json:"velocity,omitempty"`
}

// CustomerContext is the reputation snapshot of the paying customer.
type CustomerContext struct {
	CustomerID         string    `json:"customerId"`
	AccountAgeDays     int       `json:"accountAgeDays"`
	TotalPurchases     int       `json:"totalPurchases"`
	AverageAmount      int64     `json:"averageAmount"` // minor units
	DisputeCount       int       `json:"disputeCount"`
	TrustScore         int       `json:"trustScore"`
	Tier               TrustTier `json:"tier"`
	Whitelisted        bool      `json:"whitelisted"`
	Blacklisted        bool      `json:"blacklisted"`
	ActiveSubscription bool      `json:"activeSubscription"`
}

// VelocityContext summarizes recent attempt activity around the payment.
type VelocityContext struct {
	AttemptsLastHour int      `json:"attemptsLastHour"`
	UniqueCards      int      `json:"uniqueCards"`
	RapidAttempts    bool     `json:"rapidAttempts"`
	SuspicionScore   int      `json:"suspicionScore"`
	Recommendation   Decision `json:"recommendation,omitempty"`
	Blocked          bool     `json:"blocked"`
}
