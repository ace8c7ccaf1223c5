package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/stream"
)

// EventsHandler streams a staff member's new inbox items as Server-Sent Events.
type EventsHandler struct {
	hub       *stream.Hub
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewEventsHandler(hub *stream.Hub, heartbeat time.Duration, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, heartbeat: heartbeat, logger: logger}
}

// Stream handles GET /api/v1/staff/{staffID}/events
//
// Each item is sent as an event named "notification" whose id is the inbox
// item id. Comment lines keep idle connections open through proxies.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	staffID := chi.URLParam(r, "staffID")
	rc := http.NewResponseController(w)

	// The server's write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.hub.Subscribe(staffID)
	defer sub.Close()

	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Error("event stream not supported", zap.Error(err))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case item, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(item)
			if err != nil {
				h.logger.Error("encode feed item", zap.String("inbox_item_id", item.ID), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", item.ID, data)
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
