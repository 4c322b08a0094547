package alert

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/bus"
	"github.com/papertrade/engine/internal/httpx"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/store"
)

// Service exposes alert CRUD and manual triggering over HTTP.
type Service struct {
	store  store.Store
	events *bus.Bus
}

// NewService creates the alert HTTP service.
func NewService(st store.Store, events *bus.Bus) *Service {
	return &Service{store: st, events: events}
}

// CreateAlertRequest is the JSON body for POST /api/v1/alerts.
type CreateAlertRequest struct {
	Symbol      string          `json:"symbol"`
	Condition   string          `json:"condition"` // "above" or "below"
	TargetPrice decimal.Decimal `json:"target_price"`
}

// Create handles POST /api/v1/alerts.
func (s *Service) Create(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r)
	if userID == "" {
		httpx.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	condition := strings.ToLower(strings.TrimSpace(req.Condition))

	if symbol == "" {
		httpx.WriteError(w, "Missing symbol.", http.StatusBadRequest)
		return
	}
	if condition != model.CondAbove && condition != model.CondBelow {
		httpx.WriteError(w, "Condition must be above or below.", http.StatusBadRequest)
		return
	}
	if req.TargetPrice.LessThanOrEqual(decimal.Zero) {
		httpx.WriteError(w, "Enter a valid target price.", http.StatusBadRequest)
		return
	}

	a := &model.Alert{
		ID:          uuid.New().String(),
		UserID:      userID,
		Symbol:      symbol,
		Condition:   condition,
		TargetPrice: req.TargetPrice,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAlert(r.Context(), a); err != nil {
		httpx.WriteError(w, "Something went wrong, try again.", http.StatusInternalServerError)
		return
	}

	if s.events != nil {
		s.events.Publish(bus.EventAlertsUpdated)
	}

	httpx.WriteJSON(w, http.StatusCreated, a)
}

// List handles GET /api/v1/alerts.
func (s *Service) List(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r)
	if userID == "" {
		httpx.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	alerts, err := s.store.ListAlerts(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, "failed to load alerts", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}

	httpx.WriteJSON(w, http.StatusOK, alerts)
}

// Delete handles DELETE /api/v1/alerts/{alertID}.
func (s *Service) Delete(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r)
	if userID == "" {
		httpx.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	alertID := chi.URLParam(r, "alertID")
	err := s.store.DeleteAlert(r.Context(), userID, alertID)
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, "alert not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httpx.WriteError(w, "Something went wrong, try again.", http.StatusInternalServerError)
		return
	}

	if s.events != nil {
		s.events.Publish(bus.EventAlertsUpdated)
	}

	w.WriteHeader(http.StatusNoContent)
}

// Trigger handles POST /api/v1/alerts/{alertID}/trigger. Manual triggers use
// the same conditional primitive as the monitor: the alert is flagged and
// kept, never deleted. Triggering an already-triggered alert is a no-op.
func (s *Service) Trigger(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r)
	if userID == "" {
		httpx.WriteError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	alertID := chi.URLParam(r, "alertID")
	flipped, err := s.store.TryTriggerAlert(r.Context(), alertID, userID)
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, "alert not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httpx.WriteError(w, "Something went wrong, try again.", http.StatusInternalServerError)
		return
	}

	if flipped {
		metrics.AlertsTriggered.Inc()
		if s.events != nil {
			s.events.Publish(bus.EventAlertsUpdated)
		}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"triggered": flipped})
}
