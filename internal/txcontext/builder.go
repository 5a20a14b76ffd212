// Package txcontext assembles the immutable scoring snapshot of a payment
// attempt.
package txcontext

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Device types derived from the user agent.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// Signals are the reputation and tracker inputs gathered for one event.
// Every field is optional.
type Signals struct {
	Trust   *domain.TrustRecord
	Tracker *domain.TrackerOutcome

	// AttemptsLastHour is the externally counted attempt volume for the
	// event's origin. The larger of this and the tracker's recent attempts
	// is used.
	AttemptsLastHour int
}

// Validate rejects events that cannot be scored.
func Validate(ev *domain.PaymentEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: payment event is required", domain.ErrInvalidInput)
	}
	if ev.OrganizationID == "" {
		return fmt.Errorf("%w: organizationId is required", domain.ErrInvalidInput)
	}
	if ev.PaymentID == "" {
		return fmt.Errorf("%w: paymentId is required", domain.ErrInvalidInput)
	}
	if ev.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", domain.ErrInvalidInput, ev.Amount)
	}
	if len(strings.TrimSpace(ev.Currency)) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code, got %q", domain.ErrInvalidInput, ev.Currency)
	}
	if ev.Status != "" && !ev.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, ev.Status)
	}
	return nil
}

// Build validates ev and returns its transaction context. The hour of day
// is taken from the event timestamp, or from now when the event has none.
func Build(ev *domain.PaymentEvent, sig Signals, now time.Time) (*domain.TransactionContext, error) {
	if err := Validate(ev); err != nil {
		return nil, err
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}

	tc := &domain.TransactionContext{
		OrganizationID:    ev.OrganizationID,
		PaymentID:         ev.PaymentID,
		Amount:            ev.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(ev.Currency)),
		IPAddress:         ev.IP.Address,
		IPCountry:         strings.ToUpper(ev.IP.Country),
		IPRegion:          ev.IP.Region,
		IPCity:            ev.IP.City,
		CardBrand:         ev.Card.Brand,
		CardFunding:       strings.ToLower(ev.Card.Funding),
		CardCountry:       strings.ToUpper(ev.Card.Country),
		CardFingerprint:   ev.Card.Fingerprint,
		DeviceFingerprint: ev.Device.Fingerprint,
		DeviceType:        DeviceType(ev.Device.UserAgent),
		HourOfDay:         ts.Hour(),
		Timestamp:         ts,
	}

	if sig.Trust != nil {
		tc.Customer = Customer(sig.Trust)
	}
	if sig.Tracker != nil || sig.AttemptsLastHour > 0 {
		tc.Velocity = Velocity(sig.Tracker, sig.AttemptsLastHour)
	}
	return tc, nil
}

// Customer projects a trust record into its scoring view.
func Customer(r *domain.TrustRecord) *domain.CustomerContext {
	return &domain.CustomerContext{
		CustomerID:         r.CustomerID,
		AccountAgeDays:     r.Metrics.AccountAgeDays,
		TotalPurchases:     r.Metrics.TotalPurchases,
		AverageAmount:      r.AverageAmount,
		DisputeCount:       r.Metrics.DisputeCount,
		TrustScore:         r.TrustScore,
		Tier:               r.Tier,
		Whitelisted:        r.Whitelisted,
		Blacklisted:        r.Blacklisted,
		ActiveSubscription: r.Metrics.HasActiveSubscription,
	}
}

// Velocity projects a tracker outcome and an attempt count into the
// velocity view. out may be nil.
func Velocity(out *domain.TrackerOutcome, attemptsLastHour int) *domain.VelocityContext {
	v := &domain.VelocityContext{AttemptsLastHour: attemptsLastHour}
	if out == nil {
		return v
	}
	v.AttemptsLastHour = max(v.AttemptsLastHour, out.RecentAttempts)
	v.UniqueCards = out.UniqueCards
	v.RapidAttempts = out.RapidAttempts
	v.SuspicionScore = out.SuspicionScore
	v.Recommendation = out.Recommendation
	v.Blocked = out.Blocked
	return v
}

// DeviceType classifies a user agent string.
func DeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return DeviceUnknown
	case containsAny(ua, "bot", "crawler", "spider", "curl/", "python-requests", "headless"):
		return DeviceBot
	case containsAny(ua, "ipad", "tablet") || (strings.Contains(ua, "android") && !strings.Contains(ua, "mobile")):
		return DeviceTablet
	case containsAny(ua, "mobile", "iphone", "ipod", "android", "windows phone"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
