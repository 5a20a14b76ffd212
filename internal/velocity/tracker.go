package velocity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Tracker records payment attempts against per-checkout card-testing
// trackers. Every update of one key is a single read, append, recompute
// and write: a per-key lock serializes writers of this deployment and a
// versioned conditional write rejects anything that slipped past it.
type Tracker struct {
	repo   domain.Repository
	locker domain.Locker
	cfg    domain.CardTestingConfig

	// Now is the clock used for tracker timestamps.
	Now func() time.Time
}

// NewTracker creates a tracker service.
func NewTracker(repo domain.Repository, locker domain.Locker, cfg domain.CardTestingConfig) *Tracker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = domain.DefaultCardTestingConfig().MaxRetries
	}
	return &Tracker{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// BlockStatus answers whether a checkout session must be refused.
type BlockStatus struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// CardSummary aggregates the attempts made with one card.
type CardSummary struct {
	Fingerprint string `json:"fingerprint"`
	Brand       string `json:"brand,omitempty"`
	Last4       string `json:"last4,omitempty"`
	Attempts    int    `json:"attempts"`
	Failures    int    `json:"failures"`
}

// SessionSummary is a read-only projection of a tracker for display.
type SessionSummary struct {
	TrackerID         string                   `json:"trackerId"`
	InvoiceID         string                   `json:"invoiceId"`
	SessionID         string                   `json:"sessionId,omitempty"`
	AttemptCount      int                      `json:"attemptCount"`
	FailedAttempts    int                      `json:"failedAttempts"`
	UniqueCards       int                      `json:"uniqueCards"`
	Cards             []CardSummary            `json:"cards"`
	SuspicionScore    int                      `json:"suspicionScore"`
	Reasons           []domain.SuspicionReason `json:"reasons"`
	Recommendation    domain.Decision          `json:"recommendation"`
	Blocked           bool                     `json:"blocked"`
	ManuallyUnblocked bool                     `json:"manuallyUnblocked"`
	UnblockedBy       string                   `json:"unblockedBy,omitempty"`
	ActionTaken       string                   `json:"actionTaken,omitempty"`
	FirstAttemptAt    time.Time                `json:"firstAttemptAt"`
	LastAttemptAt     time.Time                `json:"lastAttemptAt"`
}

// RecordAttempt appends attempt to the tracker of key, creating the tracker
// on first use, and returns the recomputed state.
func (t *Tracker) RecordAttempt(ctx context.Context, key domain.TrackerKey, attempt domain.Attempt) (*domain.TrackerOutcome, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if attempt.CardFingerprint == "" {
		return nil, fmt.Errorf("%w: attempt card fingerprint is required", domain.ErrInvalidInput)
	}
	if !attempt.Status.Valid() {
		return nil, fmt.Errorf("%w: attempt status %q is not one of succeeded, failed, blocked", domain.ErrInvalidInput, attempt.Status)
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = t.Now()
	}

	var outcome *domain.TrackerOutcome
	err := t.update(ctx, key, true, func(tr *domain.CardTestingTracker) {
		tr.Attempts = append(tr.Attempts, attempt)
		t.recompute(tr)
		outcome = Outcome(tr)
	})
	if err != nil {
		return nil, err
	}

	if outcome.Recommendation != domain.DecisionAllow {
		slog.Warn("card-testing suspicion",
			"org_id", key.OrganizationID,
			"invoice_id", key.InvoiceID,
			"session_id", key.SessionID,
			"score", outcome.SuspicionScore,
			"unique_cards", outcome.UniqueCards,
			"recommendation", outcome.Recommendation,
		)
	}
	return outcome, nil
}

// ShouldBlockSession reports whether the session must be refused: the
// stored blocked flag is set, or the stored score reaches the block
// threshold and no operator has unblocked the tracker.
func (t *Tracker) ShouldBlockSession(ctx context.Context, key domain.TrackerKey) (BlockStatus, error) {
	if err := validateKey(key); err != nil {
		return BlockStatus{}, err
	}

	tr, err := t.repo.GetTracker(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return BlockStatus{}, nil
	}
	if err != nil {
		return BlockStatus{}, storageError(err)
	}

	if tr.Blocked {
		return BlockStatus{Blocked: true, Reason: blockReason(tr)}, nil
	}
	if !tr.ManuallyUnblocked && tr.SuspicionScore >= t.cfg.BlockScore {
		return BlockStatus{Blocked: true, Reason: blockReason(tr)}, nil
	}
	return BlockStatus{}, nil
}

// GetSessionSummary returns a read-only projection of the tracker of key.
func (t *Tracker) GetSessionSummary(ctx context.Context, key domain.TrackerKey) (*SessionSummary, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	tr, err := t.repo.GetTracker(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, storageError(err)
	}
	return Summarize(tr), nil
}

// Unblock clears the blocked flag of a tracker on behalf of an operator.
// The attempt history is preserved; later attempts keep being scored but
// no longer block the session automatically.
func (t *Tracker) Unblock(ctx context.Context, key domain.TrackerKey, actor, reason string) (*domain.CardTestingTracker, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	var result *domain.CardTestingTracker
	err := t.update(ctx, key, false, func(tr *domain.CardTestingTracker) {
		now := t.Now()
		tr.Blocked = false
		tr.ManuallyUnblocked = true
		tr.UnblockedBy = actor
		tr.UnblockedAt = &now
		tr.ActionTaken = "unblocked"
		if reason != "" {
			tr.ActionTaken += ": " + reason
		}
		tr.UpdatedAt = now
		result = tr
	})
	if err != nil {
		return nil, err
	}

	slog.Info("tracker unblocked",
		"org_id", key.OrganizationID,
		"invoice_id", key.InvoiceID,
		"session_id", key.SessionID,
		"actor", actor,
	)
	return result, nil
}

// update runs mutate on the current tracker of key under the key lock and
// writes the result conditionally, retrying on version conflicts.
func (t *Tracker) update(ctx context.Context, key domain.TrackerKey, create bool, mutate func(*domain.CardTestingTracker)) error {
	unlock, err := t.locker.Lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()

	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		tr, err := t.repo.GetTracker(ctx, key)
		var expected int64
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if !create {
				return err
			}
			now := t.Now()
			tr = &domain.CardTestingTracker{
				ID:             uuid.New().String(),
				OrganizationID: key.OrganizationID,
				InvoiceID:      key.InvoiceID,
				SessionID:      key.SessionID,
				Recommendation: domain.DecisionAllow,
				CreatedAt:      now,
			}
		case err != nil:
			return storageError(err)
		default:
			expected = tr.Version
		}

		mutate(tr)

		err = t.repo.SaveTracker(ctx, tr, expected)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return storageError(err)
		}
		slog.Debug("tracker version conflict, retrying",
			"org_id", key.OrganizationID,
			"invoice_id", key.InvoiceID,
			"attempt", attempt+1,
		)
	}
	return fmt.Errorf("tracker %s: %w after %d retries", key, domain.ErrVersionConflict, t.cfg.MaxRetries)
}

// recompute derives every computed tracker field from the full attempt list.
func (t *Tracker) recompute(tr *domain.CardTestingTracker) {
	s := Score(tr.Attempts, t.cfg)
	tr.UniqueCards = s.UniqueCards
	tr.SuspicionScore = s.Score
	tr.SuspicionReasons = s.Reasons
	tr.Recommendation = s.Recommendation
	if s.Recommendation == domain.DecisionBlock && !tr.ManuallyUnblocked {
		tr.Blocked = true
	}
	tr.UpdatedAt = t.Now()
}

// Outcome projects the state returned from RecordAttempt.
func Outcome(tr *domain.CardTestingTracker) *domain.TrackerOutcome {
	var latest time.Time
	for _, a := range tr.Attempts {
		if a.Timestamp.After(latest) {
			latest = a.Timestamp
		}
	}
	rapid := false
	for _, r := range tr.SuspicionReasons {
		if r.Code == ReasonBurst {
			rapid = true
		}
	}
	return &domain.TrackerOutcome{
		RecentAttempts: AttemptsSince(tr, latest.Add(-time.Hour)),
		RapidAttempts:  rapid,
		TrackerID:      tr.ID,
		SuspicionScore: tr.SuspicionScore,
		Reasons:        tr.SuspicionReasons,
		Recommendation: tr.Recommendation,
		Blocked:        tr.Blocked,
		UniqueCards:    tr.UniqueCards,
		AttemptCount:   len(tr.Attempts),
	}
}

// Summarize builds the display projection of a tracker.
func Summarize(tr *domain.CardTestingTracker) *SessionSummary {
	s := &SessionSummary{
		TrackerID:         tr.ID,
		InvoiceID:         tr.InvoiceID,
		SessionID:         tr.SessionID,
		AttemptCount:      len(tr.Attempts),
		UniqueCards:       tr.UniqueCards,
		SuspicionScore:    tr.SuspicionScore,
		Reasons:           tr.SuspicionReasons,
		Recommendation:    tr.Recommendation,
		Blocked:           tr.Blocked,
		ManuallyUnblocked: tr.ManuallyUnblocked,
		UnblockedBy:       tr.UnblockedBy,
		ActionTaken:       tr.ActionTaken,
	}

	index := make(map[string]int)
	for _, a := range tr.Attempts {
		failed := a.Status == domain.AttemptFailed || a.Status == domain.AttemptBlocked
		if failed {
			s.FailedAttempts++
		}
		if s.FirstAttemptAt.IsZero() || a.Timestamp.Before(s.FirstAttemptAt) {
			s.FirstAttemptAt = a.Timestamp
		}
		if a.Timestamp.After(s.LastAttemptAt) {
			s.LastAttemptAt = a.Timestamp
		}

		i, ok := index[a.CardFingerprint]
		if !ok {
			i = len(s.Cards)
			index[a.CardFingerprint] = i
			s.Cards = append(s.Cards, CardSummary{
				Fingerprint: a.CardFingerprint,
				Brand:       a.CardBrand,
				Last4:       a.Last4,
			})
		}
		s.Cards[i].Attempts++
		if failed {
			s.Cards[i].Failures++
		}
	}
	return s
}

// AttemptsSince counts the attempts at or after since.
func AttemptsSince(tr *domain.CardTestingTracker, since time.Time) int {
	n := 0
	for _, a := range tr.Attempts {
		if !a.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

func blockReason(tr *domain.CardTestingTracker) string {
	if len(tr.SuspicionReasons) == 0 {
		return fmt.Sprintf("suspicion score %d", tr.SuspicionScore)
	}
	return fmt.Sprintf("suspicion score %d: %s", tr.SuspicionScore, tr.SuspicionReasons[0].Description)
}

func validateKey(key domain.TrackerKey) error {
	if key.OrganizationID == "" || key.InvoiceID == "" {
		return fmt.Errorf("%w: organization and invoice id are required", domain.ErrInvalidInput)
	}
	return nil
}

// storageError marks any unexpected store failure as retryable so it is
// never mistaken for an unscored attempt.
func storageError(err error) error {
	if errors.Is(err, domain.ErrStorageUnavailable) || errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
