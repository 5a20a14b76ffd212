package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/trust"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	processor *decision.Processor
	tracker   *velocity.Tracker
	trust     *trust.Service
	rules     *rules.Source
	evaluator *rules.Evaluator
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, processor *decision.Processor, tracker *velocity.Tracker, trustSvc *trust.Service, source *rules.Source, evaluator *rules.Evaluator, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		processor: processor,
		tracker:   tracker,
		trust:     trustSvc,
		rules:     source,
		evaluator: evaluator,
		version:   version,
	}
}

// FallbackResponse is returned when a payment could not be assessed.
// Callers must route the payment to manual review.
type FallbackResponse struct {
	Error            string          `json:"error"`
	FallbackDecision domain.Decision `json:"fallbackDecision"`
	Retryable        bool            `json:"retryable"`
}

// AssessResponse is the response for POST /assess.
type AssessResponse struct {
	*domain.Assessment
	TotalMs int64 `json:"totalMs"`
}

// Assess handles POST /assess requests.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	orgID := GetOrganizationID(ctx)

	var ev domain.PaymentEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	ev.OrganizationID = orgID

	a, err := h.processor.Assess(ctx, &ev)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, FallbackResponse{
			Error:            "unable to assess this transaction",
			FallbackDecision: domain.DecisionReview,
			Retryable:        domain.IsRetryable(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, AssessResponse{
		Assessment: a,
		TotalMs:    time.Since(start).Milliseconds(),
	})
}

// OutcomeRequest is the request body for POST /assessments/{id}/outcome.
type OutcomeRequest struct {
	Outcome domain.ActualOutcome `json:"outcome"`
}

// ReportOutcome handles POST /assessments/{id}/outcome requests.
func (h *Handler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrganizationID(ctx)
	id := chi.URLParam(r, "id")

	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	eligible, err := h.processor.ReportOutcome(ctx, orgID, id, req.Outcome)
	if err != nil {
		writeError(w, "report outcome", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assessmentId":   id,
		"outcome":        req.Outcome,
		"refundEligible": eligible,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetAssessment retrieves an assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrganizationID(ctx)
	id := chi.URLParam(r, "id")

	a, err := h.repo.GetAssessment(ctx, orgID, id)
	if err != nil {
		writeError(w, "get assessment", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) trackerKey(r *http.Request) domain.TrackerKey {
	return domain.TrackerKey{
		OrganizationID: GetOrganizationID(r.Context()),
		InvoiceID:      chi.URLParam(r, "invoiceId"),
		SessionID:      r.URL.Query().Get("sessionId"),
	}
}

// GetTracker returns the session summary of a card-testing tracker.
func (h *Handler) GetTracker(w http.ResponseWriter, r *http.Request) {
	summary, err := h.tracker.GetSessionSummary(r.Context(), h.trackerKey(r))
	if err != nil {
		writeError(w, "get tracker", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetBlockStatus reports whether a checkout session must be refused.
func (h *Handler) GetBlockStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.tracker.ShouldBlockSession(r.Context(), h.trackerKey(r))
	if err != nil {
		writeError(w, "get block status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// UnblockRequest is the request body for POST /trackers/{invoiceId}/unblock.
type UnblockRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// Unblock manually clears the blocked flag of a tracker.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	var req UnblockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tr, err := h.tracker.Unblock(r.Context(), h.trackerKey(r), req.Actor, req.Reason)
	if err != nil {
		writeError(w, "unblock tracker", err)
		return
	}
	writeJSON(w, http.StatusOK, velocity.Summarize(tr))
}

// GetTrust returns the trust record of a customer.
func (h *Handler) GetTrust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.trust.Get(ctx, GetOrganizationID(ctx), chi.URLParam(r, "customerId"))
	if err != nil {
		writeError(w, "get trust record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SetListStatus applies a manual whitelist or blacklist override.
func (h *Handler) SetListStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ListUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rec, err := h.trust.SetListStatus(ctx, GetOrganizationID(ctx), chi.URLParam(r, "customerId"), req)
	if err != nil {
		writeError(w, "set list status", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListRules returns the enabled custom rules of the organization in
// evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.repo.ListFraudRules(ctx, GetOrganizationID(ctx))
	if err != nil {
		writeError(w, "list rules", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// CreateRule validates and stores a custom rule. The rule applies to the
// next assessment of the organization.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrganizationID(ctx)

	var rule domain.FraudRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	rule.OrganizationID = orgID
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := h.evaluator.Validate(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveFraudRule(ctx, orgID, &rule); err != nil {
		writeError(w, "save rule", err)
		return
	}
	h.invalidateRules(r, orgID)

	slog.Info("rule created", "org_id", orgID, "rule_id", rule.ID, "action", rule.Action)
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteRule removes a custom rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrganizationID(ctx)
	id := chi.URLParam(r, "id")

	if err := h.repo.DeleteFraudRule(ctx, orgID, id); err != nil {
		writeError(w, "delete rule", err)
		return
	}
	h.invalidateRules(r, orgID)

	slog.Info("rule deleted", "org_id", orgID, "rule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) invalidateRules(r *http.Request, orgID string) {
	if h.rules == nil {
		return
	}
	if err := h.rules.Invalidate(r.Context(), orgID); err != nil {
		slog.Warn("failed to invalidate rule cache", "org_id", orgID, "error", err)
	}
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidRule):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case domain.IsRetryable(err):
		slog.Error("storage unavailable", "op", op, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":     "storage unavailable",
			"retryable": true,
		})
	default:
		slog.Error("request failed", "op", op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
