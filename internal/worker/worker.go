// Package worker assesses payment events delivered over the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Assessor scores one payment event.
type Assessor interface {
	Assess(ctx context.Context, ev *domain.PaymentEvent) (*domain.Assessment, error)
}

// Worker consumes payment events from the EventBus and hands them to an
// Assessor. Decisions are published by the Assessor itself.
type Worker struct {
	bus      domain.EventBus
	assessor Assessor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// OrganizationIDs is the list of organizations to consume. Empty
	// consumes every organization through a wildcard subscription.
	OrganizationIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, assessor Assessor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		assessor: assessor,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the configured organizations.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.OrganizationIDs) == 0 {
		if err := w.subscribe(bus.AllOrganizations); err != nil {
			return err
		}
		slog.Info("global worker started", "topic", domain.TopicPaymentReceived)
		return nil
	}

	for _, orgID := range cfg.OrganizationIDs {
		if err := w.subscribe(orgID); err != nil {
			slog.Error("failed to start worker for organization",
				"org_id", orgID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"org_count", len(cfg.OrganizationIDs),
	)
	return nil
}

func (w *Worker) subscribe(orgID string) error {
	sub, err := w.bus.Subscribe(w.ctx, orgID, domain.TopicPaymentReceived, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", orgID, err)
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
	return nil
}

// handleMessage decodes a payment event and assesses it. The organization
// of the envelope wins over the one in the payload.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var ev domain.PaymentEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse payment event",
			"message_id", msg.ID,
			"org_id", msg.OrganizationID,
			"error", err,
		)
		return err
	}
	if msg.OrganizationID != "" {
		ev.OrganizationID = msg.OrganizationID
	}

	a, err := w.assessor.Assess(ctx, &ev)
	if err != nil {
		w.failed.Add(1)
		slog.Error("payment assessment failed",
			"org_id", ev.OrganizationID,
			"payment_id", ev.PaymentID,
			"retryable", domain.IsRetryable(err),
			"error", err,
		)
		return err
	}
	w.processed.Add(1)

	slog.Debug("payment event processed",
		"org_id", ev.OrganizationID,
		"payment_id", ev.PaymentID,
		"assessment_id", a.ID,
		"decision", a.Decision,
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats reports worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
