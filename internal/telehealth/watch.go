package telehealth

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/internal/events"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"golang.org/x/net/websocket"
)

// Watch handles GET /sessions/{id}/events: a websocket stream of session
// events so both parties notice cancellation or consent without reloading.
// Pushed events are primary; a periodic re-read covers missed deliveries.
// The stream closes after a terminal state is sent.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	session, party, err := h.manager.Get(r.Context(), caller, id)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	websocket.Handler(func(conn *websocket.Conn) {
		defer conn.Close()
		h.serveWatch(conn, caller, session, party)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWatch(conn *websocket.Conn, caller identity.Caller, session *Session, party Party) {
	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()

	// The client never sends anything meaningful; a read error means it left.
	go func() {
		defer cancel()
		var discard []byte
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	var stream <-chan events.SessionEvent
	if h.subscriber != nil {
		ch, err := h.subscriber.Subscribe(ctx, session.ID)
		if err != nil {
			h.logger.Warn("session watch falling back to polling", "error", err, "session_id", session.ID)
		} else {
			stream = ch
		}
	}

	last := session.State
	if !h.send(conn, snapshotEvent(session, party)) || last.Terminal() {
		return
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-stream:
			if !ok {
				stream = nil
				continue
			}
			if !h.send(conn, evt) {
				return
			}
			last = State(evt.State)
			if evt.Terminal() {
				return
			}
		case <-ticker.C:
			current, _, err := h.manager.Get(ctx, caller, session.ID)
			if err != nil {
				h.logger.Warn("session watch poll failed", "error", err, "session_id", session.ID)
				continue
			}
			if current.State == last {
				continue
			}
			last = current.State
			if !h.send(conn, snapshotEvent(current, party)) || last.Terminal() {
				return
			}
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, evt events.SessionEvent) bool {
	if err := websocket.JSON.Send(conn, evt); err != nil {
		h.logger.Debug("session watch send failed", "error", err, "session_id", evt.SessionID)
		return false
	}
	return true
}

func snapshotEvent(s *Session, party Party) events.SessionEvent {
	return events.SessionEvent{
		ID:            uuid.New().String(),
		Type:          events.TypeSessionSnapshot,
		SessionID:     s.ID,
		AppointmentID: s.AppointmentID,
		State:         string(s.State),
		Party:         string(party),
		At:            time.Now().UTC(),
	}
}
