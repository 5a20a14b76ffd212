package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	orgID := "org-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("TrustRecordUpsert", func(t *testing.T) {
		rec := &domain.TrustRecord{
			CustomerID: "cus-001",
			Metrics: domain.CustomerMetrics{
				TotalPurchases: 3,
				TotalSpent:     decimal.RequireFromString("150.25"),
			},
			AverageAmount: 5008,
			TrustScore:    55,
			Tier:          domain.TierNew,
		}
		if err := repo.UpsertTrustRecord(ctx, orgID, rec); err != nil {
			t.Fatalf("UpsertTrustRecord failed: %v", err)
		}

		rec.TrustScore = 65
		rec.Tier = domain.TierTrusted
		rec.Whitelisted = true
		if err := repo.UpsertTrustRecord(ctx, orgID, rec); err != nil {
			t.Fatalf("second UpsertTrustRecord failed: %v", err)
		}

		got, err := repo.GetTrustRecord(ctx, orgID, "cus-001")
		if err != nil {
			t.Fatalf("GetTrustRecord failed: %v", err)
		}
		if got.TrustScore != 65 || got.Tier != domain.TierTrusted || !got.Whitelisted {
			t.Errorf("unexpected record: score=%d tier=%s whitelisted=%v", got.TrustScore, got.Tier, got.Whitelisted)
		}
		if !got.Metrics.TotalSpent.Equal(decimal.RequireFromString("150.25")) {
			t.Errorf("expected total spent 150.25, got %s", got.Metrics.TotalSpent)
		}
		if got.OrganizationID != orgID {
			t.Errorf("expected org %s, got %s", orgID, got.OrganizationID)
		}
	})

	t.Run("TrustRecordIsolation", func(t *testing.T) {
		_, err := repo.GetTrustRecord(ctx, "org-other", "cus-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across organizations, got %v", err)
		}
	})

	t.Run("TrackerConditionalWrite", func(t *testing.T) {
		tracker := &domain.CardTestingTracker{
			ID:             "trk-001",
			OrganizationID: orgID,
			InvoiceID:      "inv-001",
			Attempts: []domain.Attempt{
				{CardFingerprint: "fp-1", Status: domain.AttemptFailed, Amount: 100},
			},
			UniqueCards:    1,
			Recommendation: domain.DecisionAllow,
		}

		if err := repo.SaveTracker(ctx, tracker, 0); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if tracker.Version != 1 {
			t.Errorf("expected version 1 after insert, got %d", tracker.Version)
		}

		// A second insert for the same key must conflict.
		dup := *tracker
		if err := repo.SaveTracker(ctx, &dup, 0); !errors.Is(err, domain.ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict on duplicate insert, got %v", err)
		}

		tracker.Attempts = append(tracker.Attempts, domain.Attempt{CardFingerprint: "fp-2", Status: domain.AttemptFailed})
		tracker.UniqueCards = 2
		if err := repo.SaveTracker(ctx, tracker, 1); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		// Stale writer still holds version 1.
		stale := *tracker
		if err := repo.SaveTracker(ctx, &stale, 1); !errors.Is(err, domain.ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict on stale update, got %v", err)
		}

		got, err := repo.GetTracker(ctx, tracker.Key())
		if err != nil {
			t.Fatalf("GetTracker failed: %v", err)
		}
		if got.Version != 2 {
			t.Errorf("expected version 2, got %d", got.Version)
		}
		if len(got.Attempts) != 2 || got.UniqueCards != 2 {
			t.Errorf("expected 2 attempts and 2 cards, got %d and %d", len(got.Attempts), got.UniqueCards)
		}
	})

	t.Run("TrackerSessionScope", func(t *testing.T) {
		key := domain.TrackerKey{OrganizationID: orgID, InvoiceID: "inv-001", SessionID: "sess-9"}
		if _, err := repo.GetTracker(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected session-scoped tracker to be distinct, got %v", err)
		}
	})

	t.Run("FraudRulesOrderedByPriority", func(t *testing.T) {
		threshold := 0.75
		rules := []*domain.FraudRule{
			{ID: "r-late", Name: "late", Enabled: true, Priority: 20, Action: domain.ActionReview,
				Condition: domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: 1000}},
			{ID: "r-early", Name: "early", Enabled: true, Priority: 5, Action: domain.ActionBlock, Threshold: &threshold,
				Condition: domain.Condition{Field: "ip.country", Operator: domain.OpIn, Value: []any{"KP", "IR"}}},
			{ID: "r-off", Name: "disabled", Enabled: false, Priority: 1, Action: domain.ActionAllow,
				Condition: domain.Condition{Field: "amount", Operator: domain.OpLessThan, Value: 10}},
		}
		for _, rule := range rules {
			if err := repo.SaveFraudRule(ctx, orgID, rule); err != nil {
				t.Fatalf("SaveFraudRule(%s) failed: %v", rule.ID, err)
			}
		}

		list, err := repo.ListFraudRules(ctx, orgID)
		if err != nil {
			t.Fatalf("ListFraudRules failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 enabled rules, got %d", len(list))
		}
		if list[0].ID != "r-early" || list[1].ID != "r-late" {
			t.Errorf("expected [r-early r-late], got [%s %s]", list[0].ID, list[1].ID)
		}
		if list[0].Threshold == nil || *list[0].Threshold != 0.75 {
			t.Errorf("expected threshold 0.75 to round-trip")
		}
		values, ok := list[0].Condition.Value.([]any)
		if !ok || len(values) != 2 {
			t.Errorf("expected list value to round-trip, got %#v", list[0].Condition.Value)
		}

		disabled, err := repo.GetFraudRule(ctx, orgID, "r-off")
		if err != nil {
			t.Fatalf("GetFraudRule failed: %v", err)
		}
		if disabled.Enabled {
			t.Error("expected r-off to be disabled")
		}

		if err := repo.DeleteFraudRule(ctx, orgID, "r-late"); err != nil {
			t.Fatalf("DeleteFraudRule failed: %v", err)
		}
		if err := repo.DeleteFraudRule(ctx, orgID, "r-late"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		if list, _ := repo.ListFraudRules(ctx, "org-other"); len(list) != 0 {
			t.Errorf("expected no rules for another organization, got %d", len(list))
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		a := &domain.Assessment{
			ID:             "asm-001",
			OrganizationID: orgID,
			PaymentID:      "pay-001",
			InvoiceID:      "inv-001",
			Timestamp:      time.Now().UTC(),
			Decision:       domain.DecisionReview,
			Source:         domain.SourceEngine,
			Result: domain.FraudResult{
				Decision:  domain.DecisionReview,
				RiskScore: 40,
				Factors: []domain.Factor{
					{Type: "geo_mismatch", Weight: 30, Severity: domain.SeverityHigh},
				},
				Confidence: domain.ConfidenceMedium,
			},
			Composite: domain.CompositeScore{Score: 40, Level: domain.RiskModerate},
		}
		if err := repo.SaveAssessment(ctx, orgID, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		got, err := repo.GetAssessment(ctx, orgID, "asm-001")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if got.Decision != domain.DecisionReview || got.Result.RiskScore != 40 {
			t.Errorf("unexpected assessment: %+v", got)
		}
		if len(got.Result.Factors) != 1 {
			t.Errorf("expected 1 factor, got %d", len(got.Result.Factors))
		}

		if _, err := repo.GetAssessment(ctx, "org-other", "asm-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across organizations, got %v", err)
		}
	})

	t.Run("SaveAssessmentOutcome", func(t *testing.T) {
		a, err := repo.GetAssessment(ctx, orgID, "asm-001")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}

		reported := time.Now().UTC()
		a.ActualOutcome = domain.OutcomeFraudConfirmed
		a.OutcomeReportedAt = &reported
		if err := repo.SaveAssessmentOutcome(ctx, orgID, a, domain.OutcomeUnknown); err != nil {
			t.Fatalf("SaveAssessmentOutcome failed: %v", err)
		}

		got, err := repo.GetAssessment(ctx, orgID, "asm-001")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if got.ActualOutcome != domain.OutcomeFraudConfirmed || got.OutcomeReportedAt == nil {
			t.Errorf("expected stored outcome, got %q at %v", got.ActualOutcome, got.OutcomeReportedAt)
		}

		// A writer that still saw no outcome loses.
		a.ActualOutcome = domain.OutcomeLegitimate
		if err := repo.SaveAssessmentOutcome(ctx, orgID, a, domain.OutcomeUnknown); !errors.Is(err, domain.ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict, got %v", err)
		}
		if err := repo.SaveAssessmentOutcome(ctx, orgID, a, domain.OutcomeFraudConfirmed); err != nil {
			t.Errorf("SaveAssessmentOutcome from current outcome failed: %v", err)
		}

		a.ID = "asm-missing"
		if err := repo.SaveAssessmentOutcome(ctx, orgID, a, domain.OutcomeUnknown); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("EmptyOrganizationRejected", func(t *testing.T) {
		if _, err := repo.ListFraudRules(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestStorageErrorsAreRetryable(t *testing.T) {
	repo := newTestRepo(t)
	repo.Close()

	_, err := repo.GetTracker(context.Background(), domain.TrackerKey{OrganizationID: "org", InvoiceID: "inv"})
	if err == nil {
		t.Fatal("expected error from closed database")
	}
	if !domain.IsRetryable(err) {
		t.Errorf("expected retryable storage error, got %v", err)
	}
}
