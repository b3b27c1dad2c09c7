package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/broadcast"
)

const heartbeatInterval = 15 * time.Second

// StreamEvents serves a live feed over server-sent events. A
// session_id or order_id query parameter narrows the feed to that
// scope; without one the feed follows the caller's role, so admins see
// everything and drivers see order traffic for their region.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}

	var scope broadcast.Scope
	query := r.URL.Query()
	switch {
	case query.Get("session_id") != "":
		sessionID, err := uuid.Parse(query.Get("session_id"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID")
			return
		}
		scope = broadcast.ForSession(sessionID)
	case query.Get("order_id") != "":
		orderID, err := uuid.Parse(query.Get("order_id"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
			return
		}
		scope = broadcast.ForOrder(orderID)
	default:
		scope = broadcast.ForRole(actor.Role, actor.Region)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := h.hub.Subscribe(scope)
	defer sub.Close()

	fmt.Fprintf(w, ": connected scope=%s\n\n", scope)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				h.log.Warn().Err(err).Str("kind", string(evt.Kind())).Msg("failed to marshal event for stream")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind(), payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
