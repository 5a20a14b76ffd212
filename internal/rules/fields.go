package rules

import (
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Kind is the value type a field resolves to.
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	}
	return "unknown"
}

// Field is a typed accessor into a TransactionContext. Get reports false
// when the value is absent, which never matches any operator.
type Field struct {
	Name string
	Kind Kind
	Get  func(tc *domain.TransactionContext) (any, bool)
}

func number(f func(tc *domain.TransactionContext) float64) func(*domain.TransactionContext) (any, bool) {
	return func(tc *domain.TransactionContext) (any, bool) { return f(tc), true }
}

func text(f func(tc *domain.TransactionContext) string) func(*domain.TransactionContext) (any, bool) {
	return func(tc *domain.TransactionContext) (any, bool) {
		v := f(tc)
		return v, v != ""
	}
}

func customer(f func(c *domain.CustomerContext) any) func(*domain.TransactionContext) (any, bool) {
	return func(tc *domain.TransactionContext) (any, bool) {
		if tc.Customer == nil {
			return nil, false
		}
		return f(tc.Customer), true
	}
}

func velocity(f func(v *domain.VelocityContext) any) func(*domain.TransactionContext) (any, bool) {
	return func(tc *domain.TransactionContext) (any, bool) {
		if tc.Velocity == nil {
			return nil, false
		}
		return f(tc.Velocity), true
	}
}

var fieldList = []Field{
	{"amount", KindNumber, number(func(tc *domain.TransactionContext) float64 { return float64(tc.Amount) })},
	{"currency", KindString, text(func(tc *domain.TransactionContext) string { return tc.Currency })},
	{"hour", KindNumber, number(func(tc *domain.TransactionContext) float64 { return float64(tc.HourOfDay) })},

	{"ip.address", KindString, text(func(tc *domain.TransactionContext) string { return tc.IPAddress })},
	{"ip.country", KindString, text(func(tc *domain.TransactionContext) string { return tc.IPCountry })},
	{"ip.region", KindString, text(func(tc *domain.TransactionContext) string { return tc.IPRegion })},
	{"ip.city", KindString, text(func(tc *domain.TransactionContext) string { return tc.IPCity })},

	{"card.brand", KindString, text(func(tc *domain.TransactionContext) string { return tc.CardBrand })},
	{"card.funding", KindString, text(func(tc *domain.TransactionContext) string { return tc.CardFunding })},
	{"card.country", KindString, text(func(tc *domain.TransactionContext) string { return tc.CardCountry })},
	{"card.fingerprint", KindString, text(func(tc *domain.TransactionContext) string { return tc.CardFingerprint })},

	{"device.fingerprint", KindString, text(func(tc *domain.TransactionContext) string { return tc.DeviceFingerprint })},
	{"device.type", KindString, text(func(tc *domain.TransactionContext) string { return tc.DeviceType })},

	{"customer.id", KindString, customer(func(c *domain.CustomerContext) any { return c.CustomerID })},
	{"customer.account_age_days", KindNumber, customer(func(c *domain.CustomerContext) any { return float64(c.AccountAgeDays) })},
	{"customer.total_purchases", KindNumber, customer(func(c *domain.CustomerContext) any { return float64(c.TotalPurchases) })},
	{"customer.average_amount", KindNumber, customer(func(c *domain.CustomerContext) any { return float64(c.AverageAmount) })},
	{"customer.dispute_count", KindNumber, customer(func(c *domain.CustomerContext) any { return float64(c.DisputeCount) })},
	{"customer.trust_score", KindNumber, customer(func(c *domain.CustomerContext) any { return float64(c.TrustScore) })},
	{"customer.tier", KindString, customer(func(c *domain.CustomerContext) any { return string(c.Tier) })},
	{"customer.whitelisted", KindBool, customer(func(c *domain.CustomerContext) any { return c.Whitelisted })},
	{"customer.blacklisted", KindBool, customer(func(c *domain.CustomerContext) any { return c.Blacklisted })},
	{"customer.active_subscription", KindBool, customer(func(c *domain.CustomerContext) any { return c.ActiveSubscription })},

	{"velocity.attempts_last_hour", KindNumber, velocity(func(v *domain.VelocityContext) any { return float64(v.AttemptsLastHour) })},
	{"velocity.unique_cards", KindNumber, velocity(func(v *domain.VelocityContext) any { return float64(v.UniqueCards) })},
	{"velocity.rapid_attempts", KindBool, velocity(func(v *domain.VelocityContext) any { return v.RapidAttempts })},
	{"velocity.suspicion_score", KindNumber, velocity(func(v *domain.VelocityContext) any { return float64(v.SuspicionScore) })},
	{"velocity.blocked", KindBool, velocity(func(v *domain.VelocityContext) any { return v.Blocked })},
}

var fields = func() map[string]Field {
	m := make(map[string]Field, len(fieldList))
	for _, f := range fieldList {
		m[f.Name] = f
	}
	return m
}()

// LookupField returns the accessor registered for name.
func LookupField(name string) (Field, bool) {
	f, ok := fields[name]
	return f, ok
}

// FieldNames lists every field a condition may reference, sorted.
func FieldNames() []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
