// Package api exposes the metering core over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tally "github.com/otimizaads/tally"
	"github.com/otimizaads/tally/audit"
	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/provider"
	"github.com/otimizaads/tally/reconciler"
)

// Stripe caps webhook payloads well below this; anything larger is junk.
const maxWebhookBody = 1 << 20

// Handler provides the HTTP endpoints for entitlements, usage, billing
// sessions, and webhook ingress.
type Handler struct {
	core   *tally.Core
	rec    *reconciler.Reconciler
	logger *slog.Logger
}

// NewHandler creates a new API handler. The reconciler may be nil when no
// payment provider is configured; the webhook route then responds 404.
func NewHandler(core *tally.Core, rec *reconciler.Reconciler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{core: core, rec: rec, logger: logger}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/entitlements/check", h.checkEntitlement)
	mux.HandleFunc("POST /api/usage", h.recordUsage)
	mux.HandleFunc("GET /api/usage", h.getUsage)
	mux.HandleFunc("GET /api/plans", h.listPlans)
	mux.HandleFunc("GET /api/audit", h.listAudit)
	mux.HandleFunc("POST /api/billing/checkout", h.createCheckout)
	mux.HandleFunc("POST /api/billing/portal", h.createPortal)
	if h.rec != nil {
		mux.HandleFunc("POST /api/webhooks/billing", h.receiveWebhook)
	}
}

type checkRequest struct {
	UserID  string `json:"user_id"`
	Feature string `json:"feature"`
}

func (h *Handler) checkEntitlement(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	d, err := h.core.Evaluate(r.Context(), req.UserID, plan.FeatureKey(req.Feature))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type recordRequest struct {
	UserID   string `json:"user_id"`
	Feature  string `json:"feature"`
	Quantity int64  `json:"quantity"`
}

func (h *Handler) recordUsage(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	count, err := h.core.Record(r.Context(), req.UserID, plan.FeatureKey(req.Feature), req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": req.UserID,
		"feature": req.Feature,
		"count":   count,
	})
}

func (h *Handler) getUsage(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	feature := r.URL.Query().Get("feature")
	if userID == "" || feature == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and feature are required"})
		return
	}

	used, err := h.core.Usage(r.Context(), userID, plan.FeatureKey(feature))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"feature": feature,
		"used":    used,
	})
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	opts := plan.ListOpts{Status: plan.StatusActive}
	if s := r.URL.Query().Get("status"); s != "" {
		opts.Status = plan.Status(s)
	}

	plans, err := h.core.ListPlans(r.Context(), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": plans,
		"total": len(plans),
	})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := audit.ListOpts{
		Actor:  q.Get("actor"),
		Action: q.Get("action"),
		Target: q.Get("target"),
	}
	if v := q.Get("start"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Start = ts
		}
	}
	if v := q.Get("end"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			opts.End = ts
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	records, err := h.core.AuditLog(r.Context(), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": records,
		"total": len(records),
	})
}

type checkoutRequest struct {
	UserID        string `json:"user_id"`
	CustomerEmail string `json:"customer_email"`
	PriceID       string `json:"price_id"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
}

func (h *Handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.UserID == "" || req.PriceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and price_id are required"})
		return
	}

	sess, err := h.core.Checkout(r.Context(), provider.CheckoutParams{
		UserID:        req.UserID,
		CustomerEmail: req.CustomerEmail,
		PriceID:       req.PriceID,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type portalRequest struct {
	CustomerID string `json:"customer_id"`
	ReturnURL  string `json:"return_url"`
}

func (h *Handler) createPortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "customer_id is required"})
		return
	}

	sess, err := h.core.Portal(r.Context(), req.CustomerID, req.ReturnURL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// receiveWebhook is the synchronous half of webhook handling: verify the
// signature, enqueue, acknowledge. The ledger mutation happens on the
// reconciler worker after the response is written.
func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	evt, err := h.rec.Receive(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, tally.ErrBadSignature):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "signature verification failed"})
		case errors.Is(err, tally.ErrQueueFull):
			// Tell the processor to redeliver later.
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
		default:
			h.logger.Error("webhook ingress failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"event_id": evt.ID,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr tally.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, tally.ErrInvalidInput),
		errors.Is(err, tally.ErrUnknownFeature),
		errors.Is(err, tally.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case tally.IsNotFound(err), errors.Is(err, tally.ErrNoFreePlan):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, tally.ErrProviderUnavailable):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
