package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/villa-dispatch/internal/api/middleware"
	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/service"
)

// DispatchHandler accepts job events from producers.
type DispatchHandler struct {
	svc    *service.DispatchService
	logger *zap.Logger
}

func NewDispatchHandler(svc *service.DispatchService, logger *zap.Logger) *DispatchHandler {
	return &DispatchHandler{svc: svc, logger: logger}
}

// Dispatch handles POST /api/v1/dispatch
//
// @Summary  Notify the staff of a job event
// @Tags     dispatches
// @Accept   json
// @Produce  json
// @Param    body  body      domain.JobEvent        true  "Job event"
// @Success  201   {object}  domain.DispatchResult
// @Success  200   {object}  domain.DispatchResult  "Every recipient was suppressed or rate limited"
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/dispatch [post]
func (h *DispatchHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var ev domain.JobEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.svc.Dispatch(r.Context(), ev)
	if err != nil {
		h.logger.Warn("dispatch failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("job_id", ev.JobID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	status := http.StatusCreated
	if !res.Delivered() {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

// GetDispatch handles GET /api/v1/dispatches/{id}
//
// @Summary  Get a dispatch and its notifications
// @Tags     dispatches
// @Produce  json
// @Param    id   path      string  true  "Dispatch UUID"
// @Success  200  {object}  map[string]any
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/dispatches/{id} [get]
func (h *DispatchHandler) GetDispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, notifications, err := h.svc.GetDispatch(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	if notifications == nil {
		notifications = []*domain.Notification{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"dispatch":      d,
		"notifications": notifications,
	})
}
