package domain

import (
	"time"
)

// AttemptStatus is the processor outcome of one payment attempt.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptBlocked   AttemptStatus = "blocked"
)

// Valid reports whether s is a known attempt status.
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptSucceeded, AttemptFailed, AttemptBlocked:
		return true
	}
	return false
}

// Attempt is one payment attempt recorded against a tracker.
type Attempt struct {
	Timestamp       time.Time     `json:"timestamp"`
	CardFingerprint string        `json:"cardFingerprint"`
	CardBrand       string        `json:"cardBrand,omitempty"`
	Last4           string        `json:"last4,omitempty"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency,omitempty"`
	Status          AttemptStatus `json:"status"`
	IPAddress       string        `json:"ipAddress,omitempty"`
	PaymentID       string        `json:"paymentId,omitempty"`
}

// TrackerKey identifies a card-testing tracker.
type TrackerKey struct {
	OrganizationID string `json:"organizationId"`
	InvoiceID      string `json:"invoiceId"`
	SessionID      string `json:"sessionId,omitempty"`
}

// String returns the storage and lock key.
func (k TrackerKey) String() string {
	s := k.OrganizationID + ":" + k.InvoiceID
	if k.SessionID != "" {
		s += ":" + k.SessionID
	}
	return s
}

// SuspicionReason is one ranked explanation of a suspicion score.
type SuspicionReason struct {
	Code        string   `json:"code"`
	Weight      int      `json:"weight"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// CardTestingTracker accumulates the attempts of one checkout.
// UniqueCards and SuspicionScore are always derived from the full
// Attempts list.
type CardTestingTracker struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	InvoiceID      string `json:"invoiceId"`
	SessionID      string `json:"sessionId,omitempty"`

	Attempts []Attempt `json:"attempts"`

	UniqueCards      int               `json:"uniqueCards"`
	SuspicionScore   int               `json:"suspicionScore"`
	SuspicionReasons []SuspicionReason `json:"suspicionReasons"`
	Recommendation   Decision          `json:"recommendation"`
	Blocked          bool              `json:"blocked"`

	ManuallyUnblocked bool       `json:"manuallyUnblocked"`
	UnblockedBy       string     `json:"unblockedBy,omitempty"`
	UnblockedAt       *time.Time `json:"unblockedAt,omitempty"`
	ActionTaken       string     `json:"actionTaken,omitempty"`

	// Version is incremented on every write and used for conditional updates.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the tracker's key.
func (t *CardTestingTracker) Key() TrackerKey {
	return TrackerKey{
		OrganizationID: t.OrganizationID,
		InvoiceID:      t.InvoiceID,
		SessionID:      t.SessionID,
	}
}
