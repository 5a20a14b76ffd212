// Package velocity tracks payment attempts per checkout and scores them for
// card-testing behaviour.
package velocity

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Reason codes emitted by Score.
const (
	ReasonUniqueCards  = "unique_cards"
	ReasonFailureRatio = "failure_ratio"
	ReasonBurst        = "burst"
	ReasonSmallAmounts = "small_amounts"
	ReasonCardBrands   = "card_brands"
)

// Suspicion is the card-testing assessment of an attempt list.
type Suspicion struct {
	Score          int
	Reasons        []domain.SuspicionReason
	Recommendation domain.Decision
	UniqueCards    int
	Failures       int
	Burst          bool
}

// Score computes the suspicion of a complete attempt list. It depends only
// on its arguments; the input slice is not modified.
func Score(attempts []domain.Attempt, cfg domain.CardTestingConfig) Suspicion {
	s := Suspicion{UniqueCards: UniqueCards(attempts)}
	add := func(code string, weight int, sev domain.Severity, format string, args ...any) {
		s.Score += weight
		s.Reasons = append(s.Reasons, domain.SuspicionReason{
			Code:        code,
			Weight:      weight,
			Severity:    sev,
			Description: fmt.Sprintf(format, args...),
		})
	}

	switch {
	case s.UniqueCards >= 5:
		add(ReasonUniqueCards, 50, domain.SeverityCritical, "%d different cards used on one checkout", s.UniqueCards)
	case s.UniqueCards >= 3:
		add(ReasonUniqueCards, 35, domain.SeverityHigh, "%d different cards used on one checkout", s.UniqueCards)
	case s.UniqueCards >= 2:
		add(ReasonUniqueCards, 20, domain.SeverityMedium, "%d different cards used on one checkout", s.UniqueCards)
	}

	for _, a := range attempts {
		if a.Status == domain.AttemptFailed || a.Status == domain.AttemptBlocked {
			s.Failures++
		}
	}
	if n := len(attempts); n > 0 {
		ratio := float64(s.Failures) / float64(n)
		switch {
		case ratio >= 0.8 && s.Failures >= 3:
			add(ReasonFailureRatio, 30, domain.SeverityHigh, "%d of %d attempts failed", s.Failures, n)
		case ratio >= 0.5 && s.Failures >= 2:
			add(ReasonFailureRatio, 15, domain.SeverityMedium, "%d of %d attempts failed", s.Failures, n)
		}
	}

	times := make([]time.Time, len(attempts))
	for i, a := range attempts {
		times[i] = a.Timestamp
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	switch {
	case hasBurst(times, 5, cfg.BurstWindow):
		s.Burst = true
		add(ReasonBurst, 25, domain.SeverityHigh, "5 or more attempts within %s", cfg.BurstWindow)
	case hasBurst(times, 3, cfg.LongBurstWindow):
		s.Burst = true
		add(ReasonBurst, 15, domain.SeverityMedium, "3 or more attempts within %s", cfg.LongBurstWindow)
	}

	small := 0
	brands := make(map[string]struct{})
	for _, a := range attempts {
		if a.Amount < cfg.SmallAmount {
			small++
		}
		if a.CardBrand != "" {
			brands[a.CardBrand] = struct{}{}
		}
	}
	if small >= 3 {
		add(ReasonSmallAmounts, 15, domain.SeverityMedium, "%d attempts below %d minor units", small, cfg.SmallAmount)
	}
	if len(brands) >= 3 {
		add(ReasonCardBrands, 10, domain.SeverityLow, "%d different card brands", len(brands))
	}

	if s.Score > 100 {
		s.Score = 100
	}

	sort.SliceStable(s.Reasons, func(i, j int) bool {
		if s.Reasons[i].Weight != s.Reasons[j].Weight {
			return s.Reasons[i].Weight > s.Reasons[j].Weight
		}
		return s.Reasons[i].Code < s.Reasons[j].Code
	})

	switch {
	case s.Score >= cfg.BlockScore:
		s.Recommendation = domain.DecisionBlock
	case s.Score >= cfg.ReviewScore:
		s.Recommendation = domain.DecisionReview
	default:
		s.Recommendation = domain.DecisionAllow
	}
	return s
}

// UniqueCards counts the distinct card fingerprints in attempts.
func UniqueCards(attempts []domain.Attempt) int {
	seen := make(map[string]struct{}, len(attempts))
	for _, a := range attempts {
		seen[a.CardFingerprint] = struct{}{}
	}
	return len(seen)
}

// hasBurst reports whether any n consecutive sorted timestamps span less
// than window.
func hasBurst(sorted []time.Time, n int, window time.Duration) bool {
	for i := 0; i+n <= len(sorted); i++ {
		if sorted[i+n-1].Sub(sorted[i]) < window {
			return true
		}
	}
	return false
}
