package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Service owns the lifecycle of trust records: creation on first sight,
// recalculation after every transaction, and manual list overrides.
type Service struct {
	repo   domain.Repository
	calc   *Calculator
	locker domain.Locker

	// Now is the clock used for ages and timestamps.
	Now func() time.Time
}

// NewService creates a trust service. locker may be nil when callers
// already serialize updates per customer.
func NewService(repo domain.Repository, calc *Calculator, locker domain.Locker) *Service {
	return &Service{
		repo:   repo,
		calc:   calc,
		locker: locker,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Calculator returns the calculator used by the service.
func (s *Service) Calculator() *Calculator {
	return s.calc
}

// Get returns the customer's record with its score refreshed against the
// current time. Returns domain.ErrNotFound for unseen customers.
func (s *Service) Get(ctx context.Context, orgID, customerID string) (*domain.TrustRecord, error) {
	if orgID == "" || customerID == "" {
		return nil, fmt.Errorf("%w: organization and customer id are required", domain.ErrInvalidInput)
	}
	rec, err := s.repo.GetTrustRecord(ctx, orgID, customerID)
	if err != nil {
		return nil, err
	}
	s.refresh(rec, s.Now())
	return rec, nil
}

// Observe folds one transaction outcome into the customer's record,
// recalculates it and stores it. An outcome without a status only applies
// its dispute and refund flags. A non-nil TierChange is returned when the
// recalculation moved the customer between tiers.
func (s *Service) Observe(ctx context.Context, orgID, customerID string, out domain.TrustOutcome) (*domain.TrustRecord, *domain.TierChange, error) {
	if orgID == "" || customerID == "" {
		return nil, nil, fmt.Errorf("%w: organization and customer id are required", domain.ErrInvalidInput)
	}
	if out.Status != "" && !out.Status.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown attempt status %q", domain.ErrInvalidInput, out.Status)
	}

	unlock, err := s.lock(ctx, orgID, customerID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	now := s.Now()
	if out.Timestamp.IsZero() {
		out.Timestamp = now
	}

	rec, err := s.repo.GetTrustRecord(ctx, orgID, customerID)
	if errors.Is(err, domain.ErrNotFound) {
		rec = &domain.TrustRecord{
			OrganizationID: orgID,
			CustomerID:     customerID,
			FirstSeenAt:    out.Timestamp,
			CreatedAt:      now,
		}
		s.refresh(rec, now)
	} else if err != nil {
		return nil, nil, err
	}

	previousScore, previousTier := rec.TrustScore, rec.Tier
	apply(rec, out)
	s.refresh(rec, now)
	rec.PreviousScore = previousScore
	rec.PreviousTier = previousTier
	rec.UpdatedAt = now

	if err := s.repo.UpsertTrustRecord(ctx, orgID, rec); err != nil {
		return nil, nil, fmt.Errorf("failed to save trust record: %w", err)
	}

	var change *domain.TierChange
	if previousTier != "" && previousTier != rec.Tier {
		change = &domain.TierChange{
			OrganizationID: orgID,
			CustomerID:     customerID,
			From:           previousTier,
			To:             rec.Tier,
			PreviousScore:  previousScore,
			Score:          rec.TrustScore,
		}
		slog.Info("customer tier changed",
			"org_id", orgID,
			"customer_id", customerID,
			"from", previousTier,
			"to", rec.Tier,
		)
	}
	return rec, change, nil
}

// SetListStatus applies a manual whitelist/blacklist override. Manual
// overrides take precedence over calculated recommendations until cleared
// by an update with both flags false.
func (s *Service) SetListStatus(ctx context.Context, orgID, customerID string, u domain.ListUpdate) (*domain.TrustRecord, error) {
	if orgID == "" || customerID == "" {
		return nil, fmt.Errorf("%w: organization and customer id are required", domain.ErrInvalidInput)
	}
	if u.Whitelisted && u.Blacklisted {
		return nil, fmt.Errorf("%w: customer cannot be both whitelisted and blacklisted", domain.ErrInvalidInput)
	}
	if u.Actor == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	unlock, err := s.lock(ctx, orgID, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.Now()
	rec, err := s.repo.GetTrustRecord(ctx, orgID, customerID)
	if errors.Is(err, domain.ErrNotFound) {
		rec = &domain.TrustRecord{
			OrganizationID: orgID,
			CustomerID:     customerID,
			FirstSeenAt:    now,
			CreatedAt:      now,
		}
	} else if err != nil {
		return nil, err
	}

	rec.ManualOverride = u.Whitelisted || u.Blacklisted
	rec.Whitelisted = u.Whitelisted
	rec.Blacklisted = u.Blacklisted
	rec.OverrideBy = u.Actor
	rec.OverrideReason = u.Reason
	s.refresh(rec, now)
	rec.UpdatedAt = now

	if err := s.repo.UpsertTrustRecord(ctx, orgID, rec); err != nil {
		return nil, fmt.Errorf("failed to save trust record: %w", err)
	}
	slog.Info("customer list status updated",
		"org_id", orgID,
		"customer_id", customerID,
		"whitelisted", rec.Whitelisted,
		"blacklisted", rec.Blacklisted,
		"actor", u.Actor,
	)
	return rec, nil
}

// refresh recomputes time-dependent metrics, the score and the tier.
func (s *Service) refresh(rec *domain.TrustRecord, now time.Time) {
	m := &rec.Metrics
	if !rec.FirstSeenAt.IsZero() {
		m.AccountAgeDays = daysBetween(rec.FirstSeenAt, now)
	}
	if rec.LastPurchaseAt != nil {
		d := daysBetween(*rec.LastPurchaseAt, now)
		m.DaysSinceLastPurchase = &d
	}
	months := float64(m.AccountAgeDays) / 30
	if months < 1 {
		months = 1
	}
	m.PurchaseFrequency = float64(m.TotalPurchases) / months

	result := s.calc.Calculate(*m)
	rec.TrustScore = result.Score
	rec.Tier = result.Tier
	if !rec.ManualOverride {
		rec.Whitelisted = result.ShouldWhitelist
		rec.Blacklisted = result.ShouldBlacklist
	}
}

func (s *Service) lock(ctx context.Context, orgID, customerID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, "trust:"+orgID+":"+customerID)
}

// apply folds a transaction outcome into the stored metrics.
func apply(rec *domain.TrustRecord, out domain.TrustOutcome) {
	m := &rec.Metrics
	switch out.Status {
	case domain.AttemptSucceeded:
		total := rec.AverageAmount*int64(m.TotalPurchases) + out.Amount
		m.TotalPurchases++
		rec.AverageAmount = total / int64(m.TotalPurchases)
		m.TotalSpent = m.TotalSpent.Add(minorToMajor(out.Amount))
		ts := out.Timestamp
		rec.LastPurchaseAt = &ts
	case domain.AttemptFailed, domain.AttemptBlocked:
		m.FailedPaymentCount++
	}
	if out.Disputed {
		m.DisputeCount++
	}
	if out.DisputeWithdrawn && m.DisputeCount > 0 {
		m.DisputeCount--
	}
	if out.Refunded {
		m.RefundCount++
	}
	if out.CardFingerprint != "" && !contains(rec.PaymentMethods, out.CardFingerprint) {
		rec.PaymentMethods = append(rec.PaymentMethods, out.CardFingerprint)
	}
	m.UniquePaymentMethods = len(rec.PaymentMethods)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}
