package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/service"
)

// StaffHandler serves the mobile app: device tokens and the in-app inbox.
type StaffHandler struct {
	svc    *service.DispatchService
	logger *zap.Logger
}

func NewStaffHandler(svc *service.DispatchService, logger *zap.Logger) *StaffHandler {
	return &StaffHandler{svc: svc, logger: logger}
}

// RegisterDevice handles POST /api/v1/staff/{staffID}/devices
//
// @Summary  Register an FCM device token
// @Tags     staff
// @Accept   json
// @Produce  json
// @Param    staffID  path      string                        true  "Staff ID"
// @Param    body     body      domain.RegisterDeviceRequest  true  "Device token"
// @Success  201      {object}  domain.DeviceToken
// @Failure  422      {object}  map[string]string
// @Router   /api/v1/staff/{staffID}/devices [post]
func (h *StaffHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d, err := h.svc.RegisterDevice(r.Context(), chi.URLParam(r, "staffID"), req)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

// ListDevices handles GET /api/v1/staff/{staffID}/devices
func (h *StaffHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.svc.ListDevices(r.Context(), chi.URLParam(r, "staffID"))
	if err != nil {
		mapError(w, err)
		return
	}
	if devices == nil {
		devices = []*domain.DeviceToken{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": devices})
}

// UnregisterDevice handles DELETE /api/v1/staff/{staffID}/devices/{token}
func (h *StaffHandler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	err := h.svc.UnregisterDevice(r.Context(), chi.URLParam(r, "staffID"), chi.URLParam(r, "token"))
	if err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListInbox handles GET /api/v1/staff/{staffID}/inbox
//
// @Summary  List in-app notifications, newest first
// @Tags     staff
// @Produce  json
// @Param    staffID  path      string  true   "Staff ID"
// @Param    unread   query     bool    false  "Only unread items"
// @Param    limit    query     int     false  "Max items (default 50, max 200)"
// @Success  200      {object}  map[string]any
// @Router   /api/v1/staff/{staffID}/inbox [get]
func (h *StaffHandler) ListInbox(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unread, _ := strconv.ParseBool(q.Get("unread"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	items, err := h.svc.ListInbox(r.Context(), chi.URLParam(r, "staffID"), unread, limit)
	if err != nil {
		h.logger.Error("list inbox failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": items})
}

// MarkRead handles POST /api/v1/staff/{staffID}/inbox/{id}/read
func (h *StaffHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "staffID"), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/v1/staff/{staffID}/inbox/read-all
func (h *StaffHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkAllRead(r.Context(), chi.URLParam(r, "staffID"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
