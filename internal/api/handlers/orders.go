// Package handlers provides HTTP handlers for the order API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/quartzhealth/portalbridge/internal/api/middleware"
	"github.com/quartzhealth/portalbridge/internal/domain/order"
	"github.com/quartzhealth/portalbridge/internal/orchestrator"
	"github.com/quartzhealth/portalbridge/internal/portal"
)

// EventReader serves the audit trail for an order.
type EventReader interface {
	GetEvents(ctx context.Context, orderID string) ([]*order.Event, error)
}

// OrderHandler handles order endpoints
type OrderHandler struct {
	orch      *orchestrator.Orchestrator
	events    EventReader
	artifacts *portal.ArtifactStore
	logger    *zap.Logger
}

// NewOrderHandler creates a new handler. events and artifacts may be nil;
// the corresponding endpoints then return 404.
func NewOrderHandler(orch *orchestrator.Orchestrator, events EventReader, artifacts *portal.ArtifactStore, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{orch: orch, events: events, artifacts: artifacts, logger: logger}
}

// Routes returns the handler routes
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/preview", h.Preview)
	r.Get("/{id}/preview/image", h.PreviewImage)
	r.Get("/{id}/events", h.GetEvents)
	r.Post("/{id}/confirm", h.Confirm)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/retry", h.Retry)
	return r
}

// OrderResponse is the API view of an order.
type OrderResponse struct {
	ID             string             `json:"id"`
	Status         string             `json:"status"`
	Patient        order.Demographics `json:"patient"`
	Tests          []order.Test       `json:"tests"`
	Diagnoses      []string           `json:"diagnoses"`
	RetryCount     int                `json:"retry_count"`
	ConfirmationID string             `json:"confirmation_id,omitempty"`
	LastError      string             `json:"last_error,omitempty"`
	PreviewRef     string             `json:"preview_ref,omitempty"`
	CreatedAt      string             `json:"created_at"`
	SubmittedAt    string             `json:"submitted_at,omitempty"`
}

func toResponse(snap order.Snapshot) OrderResponse {
	resp := OrderResponse{
		ID:             snap.ID,
		Status:         snap.Status.Observable(),
		Patient:        snap.Patient,
		Tests:          snap.Tests,
		Diagnoses:      snap.Diagnoses,
		RetryCount:     snap.RetryCount,
		ConfirmationID: snap.ConfirmationID,
		LastError:      snap.LastError,
		PreviewRef:     snap.PreviewRef,
		CreatedAt:      snap.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if snap.SubmittedAt != nil {
		resp.SubmittedAt = snap.SubmittedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

// Create handles POST /orders
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("order-handler")
	ctx, span := tracer.Start(ctx, "create_order")
	defer span.End()

	var in order.Intake
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := h.orch.Intake(ctx, in)
	switch {
	case errors.Is(err, orchestrator.ErrDuplicateIntake):
		span.SetAttributes(attribute.Bool("duplicate", true))
		h.writeJSON(w, http.StatusConflict, toResponse(snap))
		return
	case errors.Is(err, order.ErrNoTests),
		errors.Is(err, order.ErrNoDiagnoses),
		errors.Is(err, order.ErrIncompleteIdentity):
		h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		h.logger.Error("intake failed", zap.Error(err))
		h.jsonError(w, "failed to accept order", http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.String("order_id", snap.ID))
	h.logger.Info("order created",
		zap.String("id", snap.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	h.writeJSON(w, http.StatusAccepted, toResponse(snap))
}

// List handles GET /orders
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps := h.orch.List()
	resp := make([]OrderResponse, 0, len(snaps))
	for _, snap := range snaps {
		resp = append(resp, toResponse(snap))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonError(w, "order not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(snap))
}

// PreviewResponse describes the order as it sits on the portal's review
// page, awaiting operator confirmation.
type PreviewResponse struct {
	OrderID     string             `json:"order_id"`
	Status      string             `json:"status"`
	Patient     order.Demographics `json:"patient"`
	Tests       []order.Test       `json:"tests"`
	Diagnoses   []string           `json:"diagnoses"`
	ArtifactRef string             `json:"artifact_ref,omitempty"`
}

// Preview handles GET /orders/{id}/preview
func (h *OrderHandler) Preview(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonError(w, "order not found", http.StatusNotFound)
		return
	}
	if snap.Status != order.StatusAwaitingConfirmation {
		h.jsonError(w, "order has no active preview", http.StatusConflict)
		return
	}
	h.writeJSON(w, http.StatusOK, PreviewResponse{
		OrderID:     snap.ID,
		Status:      snap.Status.Observable(),
		Patient:     snap.Patient,
		Tests:       snap.Tests,
		Diagnoses:   snap.Diagnoses,
		ArtifactRef: snap.PreviewRef,
	})
}

// PreviewImage handles GET /orders/{id}/preview/image
func (h *OrderHandler) PreviewImage(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonError(w, "order not found", http.StatusNotFound)
		return
	}
	if h.artifacts == nil || snap.PreviewRef == "" {
		h.jsonError(w, "no preview image", http.StatusNotFound)
		return
	}
	data, ok := h.artifacts.Get(snap.PreviewRef)
	if !ok {
		h.jsonError(w, "preview image expired", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetEvents handles GET /orders/{id}/events
func (h *OrderHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.jsonError(w, "audit trail unavailable", http.StatusNotFound)
		return
	}
	events, err := h.events.GetEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.jsonError(w, "failed to get events", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

// Confirm handles POST /orders/{id}/confirm
func (h *OrderHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.orch.Confirm(r.Context(), id)
	switch {
	case errors.Is(err, orchestrator.ErrOrderNotFound):
		h.jsonError(w, "order not found", http.StatusNotFound)
		return
	case errors.Is(err, orchestrator.ErrSessionExpired):
		h.jsonError(w, "preview session expired", http.StatusGone)
		return
	case errors.Is(err, orchestrator.ErrNotAwaitingConfirmation):
		h.jsonError(w, "order not awaiting confirmation", http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("confirm failed", zap.String("id", id), zap.Error(err))
		h.jsonError(w, "failed to confirm order", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(snap))
}

// Cancel handles POST /orders/{id}/cancel
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.orch.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, orchestrator.ErrOrderNotFound):
		h.jsonError(w, "order not found", http.StatusNotFound)
		return
	case err != nil:
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(snap))
}

// Retry handles POST /orders/{id}/retry
func (h *OrderHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.orch.Retry(r.Context(), id)
	switch {
	case errors.Is(err, orchestrator.ErrOrderNotFound):
		h.jsonError(w, "order not found", http.StatusNotFound)
		return
	case err != nil:
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(snap))
}

func (h *OrderHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *OrderHandler) jsonError(w http.ResponseWriter, message string, code int) {
	h.writeJSON(w, code, map[string]string{"error": message})
}
