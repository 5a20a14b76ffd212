package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/trust"
	"github.com/opensource-finance/harrier/internal/txcontext"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// EngineVersion is recorded on every assessment.
const EngineVersion = "harrier-1.0"

// attemptWindow is the counting window for per-IP attempt volume.
const attemptWindow = time.Hour

var tracer = otel.Tracer("harrier-decision")

// RuleSource yields an organization's enabled custom rules.
type RuleSource interface {
	Rules(ctx context.Context, orgID string) ([]*domain.FraudRule, error)
}

// Dependencies are the collaborators of a Processor. Cache and Bus may be
// nil; Rules and Evaluator may be nil to disable custom rules.
type Dependencies struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Tracker   *velocity.Tracker
	Trust     *trust.Service
	Rules     RuleSource
	Evaluator *rules.Evaluator
	Engine    *scoring.Engine
}

// Processor turns payment events into assessments. Precedence is: blacklisted
// customer, then the first matching custom rule, then the built-in engine.
type Processor struct {
	deps      Dependencies
	composite domain.CompositeConfig

	// Now is the clock used for timestamps and the hour of day.
	Now func() time.Time
}

// NewProcessor creates an assessment processor.
func NewProcessor(deps Dependencies, composite domain.CompositeConfig) *Processor {
	return &Processor{
		deps:      deps,
		composite: composite,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Assess scores one payment attempt. Input errors wrap domain.ErrInvalidInput.
// Storage errors wrap domain.ErrStorageUnavailable and mean the attempt was
// not assessed; callers must fall back to manual review.
func (p *Processor) Assess(ctx context.Context, ev *domain.PaymentEvent) (*domain.Assessment, error) {
	start := p.Now()
	timer := time.Now()

	if err := txcontext.Validate(ev); err != nil {
		assessmentErrors.WithLabelValues("validate").Inc()
		return nil, err
	}
	orgID := ev.OrganizationID

	ctx, span := tracer.Start(ctx, "decision.Assess",
		trace.WithAttributes(
			attribute.String("org.id", orgID),
			attribute.String("payment.id", ev.PaymentID),
			attribute.Int64("payment.amount", ev.Amount),
		),
	)
	defer span.End()

	fail := func(stage string, err error) (*domain.Assessment, error) {
		assessmentErrors.WithLabelValues(stage).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		slog.Error("assessment failed",
			"org_id", orgID,
			"payment_id", ev.PaymentID,
			"stage", stage,
			"error", err,
		)
		return nil, err
	}

	outcome, err := p.recordAttempt(ctx, ev)
	if err != nil {
		return fail("tracker", err)
	}

	var record *domain.TrustRecord
	if ev.CustomerID != "" && p.deps.Trust != nil {
		record, err = p.deps.Trust.Get(ctx, orgID, ev.CustomerID)
		if errors.Is(err, domain.ErrNotFound) {
			record, err = nil, nil
		}
		if err != nil {
			return fail("trust", err)
		}
	}

	tc, err := txcontext.Build(ev, txcontext.Signals{
		Trust:            record,
		Tracker:          outcome,
		AttemptsLastHour: p.countAttempt(ctx, ev),
	}, start)
	if err != nil {
		return fail("context", err)
	}

	a := &domain.Assessment{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		PaymentID:      ev.PaymentID,
		InvoiceID:      ev.InvoiceID,
		CustomerID:     ev.CustomerID,
		Timestamp:      start,
		Tracker:        outcome,
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		a.Metadata.TraceID = sc.TraceID().String()
	}

	if err := p.decide(ctx, tc, a); err != nil {
		return fail("rules", err)
	}

	var suspicion *int
	if outcome != nil {
		s := outcome.SuspicionScore
		suspicion = &s
	}
	a.Composite = Merge(a.Result, suspicion, p.composite)
	a.Metadata.EngineVersion = EngineVersion
	a.Metadata.TotalMs = time.Since(timer).Milliseconds()

	change := p.observeTrust(ctx, ev, a)
	p.persist(ctx, a)
	p.publish(ctx, a, change)

	assessmentsTotal.WithLabelValues(string(a.Decision), string(a.Source)).Inc()
	riskScores.Observe(float64(a.Result.RiskScore))
	assessmentLatency.Observe(time.Since(timer).Seconds())
	span.SetAttributes(
		attribute.String("decision", string(a.Decision)),
		attribute.String("decision.source", string(a.Source)),
		attribute.Int("risk.score", a.Result.RiskScore),
		attribute.Int("composite.score", a.Composite.Score),
	)

	slog.Info("payment assessed",
		"org_id", orgID,
		"payment_id", ev.PaymentID,
		"decision", a.Decision,
		"source", a.Source,
		"score", a.Result.RiskScore,
		"composite", a.Composite.Score,
		"duration_ms", a.Metadata.TotalMs,
	)
	return a, nil
}

// decide fills in the authoritative result of a.
func (p *Processor) decide(ctx context.Context, tc *domain.TransactionContext, a *domain.Assessment) error {
	if tc.Customer != nil && tc.Customer.Blacklisted {
		a.Result = scoring.Blacklisted()
		a.Source = domain.SourceBlacklist
		a.Decision = a.Result.Decision
		return nil
	}

	if p.deps.Rules != nil && p.deps.Evaluator != nil {
		list, err := p.deps.Rules.Rules(ctx, tc.OrganizationID)
		if err != nil {
			return fmt.Errorf("failed to load custom rules: %w", err)
		}
		ev := p.deps.Evaluator.Evaluate(ctx, list, tc)
		a.Metadata.RulesChecked = ev.RulesChecked
		ruleErrors.Add(float64(len(ev.Errors)))
		if ev.Match != nil {
			a.Result = RuleResult(ev.Match)
			a.Source = domain.SourceCustomRule
			a.RuleID = ev.Match.Rule.ID
			a.Decision = a.Result.Decision
			return nil
		}
	}

	a.Result = p.deps.Engine.Evaluate(tc)
	a.Source = domain.SourceEngine
	a.Decision = a.Result.Decision
	return nil
}

// RuleResult converts a custom rule match into a fraud result.
func RuleResult(m *rules.Match) domain.FraudResult {
	score := 50
	switch m.Decision {
	case domain.DecisionAllow:
		score = 0
	case domain.DecisionBlock:
		score = 100
	}

	var adj domain.Adjustments
	if m.Factor.Weight >= 0 {
		adj.Positive = m.Factor.Weight
	} else {
		adj.Negative = -m.Factor.Weight
	}
	return domain.FraudResult{
		Decision:          m.Decision,
		RiskScore:         score,
		Factors:           []domain.Factor{m.Factor},
		Confidence:        domain.ConfidenceHigh,
		RecommendedAction: scoring.RecommendedAction(m.Decision),
		Adjustments:       adj,
	}
}

func (p *Processor) recordAttempt(ctx context.Context, ev *domain.PaymentEvent) (*domain.TrackerOutcome, error) {
	if p.deps.Tracker == nil || ev.InvoiceID == "" || ev.Card.Fingerprint == "" {
		return nil, nil
	}
	status := ev.Status
	if status == "" {
		status = domain.AttemptSucceeded
	}
	key := domain.TrackerKey{
		OrganizationID: ev.OrganizationID,
		InvoiceID:      ev.InvoiceID,
		SessionID:      ev.SessionID,
	}
	return p.deps.Tracker.RecordAttempt(ctx, key, domain.Attempt{
		Timestamp:       ev.Timestamp,
		CardFingerprint: ev.Card.Fingerprint,
		CardBrand:       ev.Card.Brand,
		Last4:           ev.Card.Last4,
		Amount:          ev.Amount,
		Currency:        ev.Currency,
		Status:          status,
		IPAddress:       ev.IP.Address,
		PaymentID:       ev.PaymentID,
	})
}

// countAttempt bumps and returns the hourly attempt counter of the event's
// IP address. Counter failures degrade to 0.
func (p *Processor) countAttempt(ctx context.Context, ev *domain.PaymentEvent) int {
	if p.deps.Cache == nil || ev.IP.Address == "" {
		return 0
	}
	n, err := p.deps.Cache.IncrementCounter(ctx, ev.OrganizationID, "attempts:ip:"+ev.IP.Address, attemptWindow)
	if err != nil {
		slog.Warn("attempt counter unavailable",
			"org_id", ev.OrganizationID,
			"error", err,
		)
		return 0
	}
	return int(n)
}

func (p *Processor) observeTrust(ctx context.Context, ev *domain.PaymentEvent, a *domain.Assessment) *domain.TierChange {
	if ev.CustomerID == "" || p.deps.Trust == nil {
		return nil
	}
	status := ev.Status
	if status == "" {
		status = domain.AttemptSucceeded
		if a.Decision == domain.DecisionBlock {
			status = domain.AttemptBlocked
		}
	}
	_, change, err := p.deps.Trust.Observe(ctx, ev.OrganizationID, ev.CustomerID, domain.TrustOutcome{
		Status:          status,
		Amount:          ev.Amount,
		CardFingerprint: ev.Card.Fingerprint,
		Timestamp:       ev.Timestamp,
	})
	if err != nil {
		assessmentErrors.WithLabelValues("trust_update").Inc()
		slog.Error("failed to update trust record",
			"org_id", ev.OrganizationID,
			"customer_id", ev.CustomerID,
			"error", err,
		)
		return nil
	}
	return change
}

func (p *Processor) persist(ctx context.Context, a *domain.Assessment) {
	if p.deps.Repo == nil {
		return
	}
	if err := p.deps.Repo.SaveAssessment(ctx, a.OrganizationID, a); err != nil {
		assessmentErrors.WithLabelValues("persist").Inc()
		slog.Error("failed to save assessment",
			"org_id", a.OrganizationID,
			"assessment_id", a.ID,
			"error", err,
		)
	}
}

func (p *Processor) publish(ctx context.Context, a *domain.Assessment, change *domain.TierChange) {
	if p.deps.Bus == nil {
		return
	}
	p.send(ctx, a.OrganizationID, domain.TopicDecision, a)
	if ShouldAlert(a) {
		p.send(ctx, a.OrganizationID, domain.TopicAlert, a)
	}
	if ShouldAutoRefund(a, domain.OutcomeUnknown) {
		p.send(ctx, a.OrganizationID, domain.TopicRefundEligible, RefundNotice{Assessment: a})
	}
	if change != nil {
		p.send(ctx, a.OrganizationID, domain.TopicTrustTierChanged, change)
	}
}

func (p *Processor) send(ctx context.Context, orgID, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := p.deps.Bus.Publish(ctx, orgID, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"org_id", orgID,
			"topic", topic,
			"error", err,
		)
	}
}

// RefundNotice is published on the refund-eligible topic.
type RefundNotice struct {
	Assessment    *domain.Assessment   `json:"assessment"`
	ActualOutcome domain.ActualOutcome `json:"actualOutcome,omitempty"`
}

// outcomeWriteAttempts bounds retries when concurrent reports race on the
// same assessment.
const outcomeWriteAttempts = 3

// ReportOutcome records the confirmed outcome of an assessed payment and
// reports whether the payment is refund-eligible. Repeating the stored
// outcome changes nothing. Moving to fraud_confirmed counts one dispute on
// the customer's trust record and moving away from it withdraws that dispute.
func (p *Processor) ReportOutcome(ctx context.Context, orgID, assessmentID string, actual domain.ActualOutcome) (bool, error) {
	switch actual {
	case domain.OutcomeLegitimate, domain.OutcomeFraudConfirmed:
	default:
		return false, fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidInput, actual)
	}

	var (
		a          *domain.Assessment
		previous   domain.ActualOutcome
		previousAt *time.Time
	)
	for attempt := 1; ; attempt++ {
		var err error
		a, err = p.deps.Repo.GetAssessment(ctx, orgID, assessmentID)
		if err != nil {
			return false, err
		}
		if a.ActualOutcome == actual {
			return ShouldAutoRefund(a, actual), nil
		}

		previous, previousAt = a.ActualOutcome, a.OutcomeReportedAt
		reportedAt := p.Now()
		a.ActualOutcome = actual
		a.OutcomeReportedAt = &reportedAt

		err = p.deps.Repo.SaveAssessmentOutcome(ctx, orgID, a, previous)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt == outcomeWriteAttempts {
			return false, err
		}
	}

	disputed := actual == domain.OutcomeFraudConfirmed
	withdrawn := previous == domain.OutcomeFraudConfirmed
	if (disputed || withdrawn) && a.CustomerID != "" && p.deps.Trust != nil {
		out := domain.TrustOutcome{Disputed: disputed, DisputeWithdrawn: withdrawn}
		_, change, err := p.deps.Trust.Observe(ctx, orgID, a.CustomerID, out)
		if err != nil {
			p.restoreOutcome(ctx, orgID, a, previous, previousAt)
			return false, err
		}
		if change != nil && p.deps.Bus != nil {
			p.send(ctx, orgID, domain.TopicTrustTierChanged, change)
		}
	}

	eligible := ShouldAutoRefund(a, actual)
	if disputed && p.deps.Bus != nil {
		p.send(ctx, orgID, domain.TopicRefundEligible, RefundNotice{Assessment: a, ActualOutcome: actual})
	}
	slog.Info("payment outcome reported",
		"org_id", orgID,
		"assessment_id", assessmentID,
		"previous_outcome", previous,
		"outcome", actual,
		"refund_eligible", eligible,
	)
	return eligible, nil
}

// restoreOutcome puts back the outcome replaced by a report whose trust
// update failed, so a retried report applies it again.
func (p *Processor) restoreOutcome(ctx context.Context, orgID string, a *domain.Assessment, previous domain.ActualOutcome, previousAt *time.Time) {
	reported := a.ActualOutcome
	a.ActualOutcome = previous
	a.OutcomeReportedAt = previousAt
	if err := p.deps.Repo.SaveAssessmentOutcome(ctx, orgID, a, reported); err != nil {
		slog.Error("failed to restore assessment outcome",
			"org_id", orgID,
			"assessment_id", a.ID,
			"error", err,
		)
	}
}
