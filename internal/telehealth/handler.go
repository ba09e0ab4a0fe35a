package telehealth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/internal/events"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// Handler exposes the session lifecycle over HTTP.
type Handler struct {
	manager      *Manager
	subscriber   events.Subscriber
	pollInterval time.Duration
	logger       *logging.Logger
}

// NewHandler creates a session handler.
func NewHandler(manager *Manager, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		manager:      manager,
		pollInterval: 15 * time.Second,
		logger:       logger,
	}
}

// WithWatch enables push invalidation through sub, polling every interval as
// the fallback.
func (h *Handler) WithWatch(sub events.Subscriber, interval time.Duration) *Handler {
	h.subscriber = sub
	if interval > 0 {
		h.pollInterval = interval
	}
	return h
}

// SessionView is a session as one party sees it.
type SessionView struct {
	*Session
	Party          Party   `json:"party"`
	AIAuthorized   bool    `json:"ai_authorized"`
	ConsentMissing []Party `json:"consent_missing,omitempty"`
}

func viewFor(s *Session, party Party) SessionView {
	out := s
	if party == PartyPatient {
		// Clinical output and the clinician's instruction are staff-only.
		out = s.clone()
		out.AISummary = ""
		out.AISummaryGeneratedAt = nil
		out.AISummaryPrompt = ""
		out.Notes = ""
	}
	view := SessionView{Session: out, Party: party, AIAuthorized: IsAuthorizedForAI(s)}
	if s.AISummaryEnabled {
		view.ConsentMissing = MissingConsent(s)
	}
	return view
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (identity.Caller, bool) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		apperr.WriteError(w, h.logger, ErrUnauthenticated)
		return identity.Caller{}, false
	}
	return caller, true
}

// Create handles POST /sessions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteError(w, h.logger, apperr.BadRequest("invalid request body"))
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		apperr.WriteError(w, h.logger, apperr.BadRequest("appointment_id is required"))
		return
	}

	session, created, err := h.manager.Create(r.Context(), caller, req)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	apperr.WriteJSON(w, status, viewFor(session, h.partyOf(r, caller, session.ID)))
}

// Get handles GET /sessions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	session, party, err := h.manager.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, viewFor(session, party))
}

// GetByAppointment handles GET /appointments/{id}/session.
func (h *Handler) GetByAppointment(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	session, party, err := h.manager.GetByAppointment(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, viewFor(session, party))
}

// Join handles POST /sessions/{id}/join.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	ticket, err := h.manager.Join(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, ticket)
}

// Activate handles POST /sessions/{id}/activate.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.respondTransition(w, r, func(caller identity.Caller, id string) (*Session, error) {
		return h.manager.Activate(r.Context(), caller, id)
	})
}

// End handles POST /sessions/{id}/end.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	h.respondTransition(w, r, func(caller identity.Caller, id string) (*Session, error) {
		return h.manager.End(r.Context(), caller, id)
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /sessions/{id}/cancel. The body is optional.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apperr.WriteError(w, h.logger, apperr.BadRequest("invalid request body"))
		return
	}
	h.respondTransition(w, r, func(caller identity.Caller, id string) (*Session, error) {
		return h.manager.Cancel(r.Context(), caller, id, strings.TrimSpace(req.Reason))
	})
}

// Consent handles POST /sessions/{id}/consent. Any role field in the body is
// ignored; the party comes from the caller's identity.
func (h *Handler) Consent(w http.ResponseWriter, r *http.Request) {
	h.respondTransition(w, r, func(caller identity.Caller, id string) (*Session, error) {
		return h.manager.RecordConsent(r.Context(), caller, id)
	})
}

func (h *Handler) respondTransition(w http.ResponseWriter, r *http.Request, fn func(identity.Caller, string) (*Session, error)) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	session, err := fn(caller, id)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, viewFor(session, h.partyOf(r, caller, id)))
}

// partyOf re-derives the caller's party for response shaping. A failure here
// falls back to the most restricted view.
func (h *Handler) partyOf(r *http.Request, caller identity.Caller, id string) Party {
	_, party, err := h.manager.Get(r.Context(), caller, id)
	if err != nil {
		return PartyPatient
	}
	return party
}
