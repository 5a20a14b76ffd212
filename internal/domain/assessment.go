package domain

import (
	"time"
)

// DecisionSource names the component whose decision is authoritative.
type DecisionSource string

const (
	SourceBlacklist  DecisionSource = "blacklist"
	SourceCustomRule DecisionSource = "custom_rule"
	SourceEngine     DecisionSource = "engine"
)

// Assessment is the audit record of one scored payment attempt.
type Assessment struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	PaymentID      string    `json:"paymentId"`
	InvoiceID      string    `json:"invoiceId,omitempty"`
	CustomerID     string    `json:"customerId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`

	Decision  Decision       `json:"decision"`
	Source    DecisionSource `json:"source"`
	RuleID    string         `json:"ruleId,omitempty"`
	Result    FraudResult    `json:"result"`
	Composite CompositeScore `json:"composite"`

	Tracker *TrackerOutcome `json:"tracker,omitempty"`

	// ActualOutcome is set once the processor reports what really happened.
	ActualOutcome     ActualOutcome `json:"actualOutcome,omitempty"`
	OutcomeReportedAt *time.Time    `json:"outcomeReportedAt,omitempty"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// TrackerOutcome is the tracker state right after recording an attempt.
type TrackerOutcome struct {
	TrackerID      string            `json:"trackerId"`
	SuspicionScore int               `json:"suspicionScore"`
	Reasons        []SuspicionReason `json:"reasons"`
	Recommendation Decision          `json:"recommendation"`
	Blocked        bool              `json:"blocked"`
	UniqueCards    int               `json:"uniqueCards"`
	AttemptCount   int               `json:"attemptCount"`

	// RecentAttempts counts attempts in the hour up to the latest one.
	RecentAttempts int  `json:"recentAttempts"`
	RapidAttempts  bool `json:"rapidAttempts"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	RulesChecked  int    `json:"rulesChecked"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// ActualOutcome is the confirmed result of a payment reported after the fact.
type ActualOutcome string

const (
	OutcomeUnknown        ActualOutcome = ""
	OutcomeLegitimate     ActualOutcome = "legitimate"
	OutcomeFraudConfirmed ActualOutcome = "fraud_confirmed"
)
