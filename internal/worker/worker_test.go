package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/trust"
	"github.com/opensource-finance/harrier/internal/velocity"
)

type recordingAssessor struct {
	mu     sync.Mutex
	events []domain.PaymentEvent
	err    error
}

func (r *recordingAssessor) Assess(ctx context.Context, ev *domain.PaymentEvent) (*domain.Assessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	if r.err != nil {
		return nil, r.err
	}
	return &domain.Assessment{ID: "asm-" + ev.PaymentID, OrganizationID: ev.OrganizationID, Decision: domain.DecisionAllow}, nil
}

func (r *recordingAssessor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func publishEvent(t *testing.T, b domain.EventBus, orgID string, ev domain.PaymentEvent) {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := b.Publish(context.Background(), orgID, domain.TopicPaymentReceived, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &recordingAssessor{})
		if err := w.Start(Config{OrganizationIDs: []string{"org-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicPaymentReceived {
			t.Errorf("unexpected topic %s", stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessPayment", func(t *testing.T) {
		assessor := &recordingAssessor{}
		w := NewWorker(eventBus, assessor)
		w.Start(Config{OrganizationIDs: []string{"org-proc"}})
		defer w.Stop()

		publishEvent(t, eventBus, "org-proc", domain.PaymentEvent{
			PaymentID: "pay-001",
			Amount:    1500,
			Currency:  "USD",
		})

		waitFor(t, func() bool { return assessor.count() == 1 })
		assessor.mu.Lock()
		ev := assessor.events[0]
		assessor.mu.Unlock()
		if ev.OrganizationID != "org-proc" {
			t.Errorf("expected envelope organization, got %q", ev.OrganizationID)
		}
		if ev.PaymentID != "pay-001" || ev.Amount != 1500 {
			t.Errorf("unexpected event: %+v", ev)
		}
		waitFor(t, func() bool { return w.GetStats().Processed == 1 })
	})

	t.Run("AllOrganizations", func(t *testing.T) {
		assessor := &recordingAssessor{}
		w := NewWorker(eventBus, assessor)
		w.Start(Config{})
		defer w.Stop()

		publishEvent(t, eventBus, "org-a", domain.PaymentEvent{PaymentID: "pay-a", Amount: 100, Currency: "USD"})
		publishEvent(t, eventBus, "org-b", domain.PaymentEvent{PaymentID: "pay-b", Amount: 100, Currency: "USD"})

		waitFor(t, func() bool { return assessor.count() == 2 })
	})

	t.Run("MultiOrganization", func(t *testing.T) {
		w := NewWorker(eventBus, &recordingAssessor{})
		w.Start(Config{OrganizationIDs: []string{"org-a", "org-b"}})
		defer w.Stop()

		if stats := w.GetStats(); stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 organizations, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("FailuresCounted", func(t *testing.T) {
		assessor := &recordingAssessor{err: domain.ErrStorageUnavailable}
		w := NewWorker(eventBus, assessor)
		w.Start(Config{OrganizationIDs: []string{"org-fail"}})
		defer w.Stop()

		publishEvent(t, eventBus, "org-fail", domain.PaymentEvent{PaymentID: "pay-x", Amount: 100, Currency: "USD"})
		if err := eventBus.Publish(context.Background(), "org-fail", domain.TopicPaymentReceived, []byte("{not json")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, func() bool { return w.GetStats().Failed == 2 })
		if w.GetStats().Processed != 0 {
			t.Error("failed payments must not count as processed")
		}
	})
}

func TestWorkerPublishesDecisions(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "harrier-worker-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	locker := cache.NewLocalLocker()

	proc := decision.NewProcessor(decision.Dependencies{
		Repo:    repo,
		Cache:   cache.NewLRUCache(100),
		Bus:     eventBus,
		Tracker: velocity.NewTracker(repo, locker, domain.DefaultCardTestingConfig()),
		Trust:   trust.NewService(repo, trust.NewCalculator(domain.DefaultTrustConfig()), locker),
		Engine:  scoring.NewEngine(domain.DefaultScoringConfig()),
	}, domain.DefaultCompositeConfig())

	w := NewWorker(eventBus, proc)
	if err := w.Start(Config{OrganizationIDs: []string{"org-live"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	var decisions, alerts atomic.Int32
	var mu sync.Mutex
	var received *domain.Assessment
	eventBus.Subscribe(context.Background(), "org-live", domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		var a domain.Assessment
		if err := json.Unmarshal(msg.Payload, &a); err != nil {
			return err
		}
		mu.Lock()
		received = &a
		mu.Unlock()
		decisions.Add(1)
		return nil
	})
	eventBus.Subscribe(context.Background(), "org-live", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		alerts.Add(1)
		return nil
	})

	publishEvent(t, eventBus, "org-live", domain.PaymentEvent{
		PaymentID: "pay-live",
		InvoiceID: "inv-live",
		Amount:    5000,
		Currency:  "usd",
		IP:        domain.IPInfo{Address: "198.51.100.7", Country: "US"},
		Card:      domain.CardInfo{Fingerprint: "fp-live", Country: "BR"},
		Timestamp: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	})

	waitFor(t, func() bool { return decisions.Load() == 1 && alerts.Load() == 1 })

	mu.Lock()
	defer mu.Unlock()
	if received.PaymentID != "pay-live" || received.OrganizationID != "org-live" {
		t.Errorf("unexpected assessment: %+v", received)
	}
	if received.Decision != domain.DecisionReview {
		t.Errorf("expected REVIEW for geo mismatch on unknown customer, got %s", received.Decision)
	}
	if _, err := repo.GetAssessment(context.Background(), "org-live", received.ID); err != nil {
		t.Errorf("assessment not persisted: %v", err)
	}
}

func TestAssessorErrorsAreReported(t *testing.T) {
	w := NewWorker(bus.NewChannelBus(1), &recordingAssessor{err: domain.ErrInvalidInput})
	msg := &domain.Message{ID: "m-1", OrganizationID: "org-1", Payload: []byte(`{"paymentId":"p"}`)}
	if err := w.handleMessage(context.Background(), msg); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
