package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"github.com/wolfman30/medspa-telehealth/internal/telehealth"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

const maxSegmentsPerRequest = 500

// SessionAuthorizer resolves a caller's party on a session.
type SessionAuthorizer interface {
	Get(ctx context.Context, caller identity.Caller, id string) (*telehealth.Session, telehealth.Party, error)
}

// Handler accepts artifact writes from the call clients.
type Handler struct {
	sessions    SessionAuthorizer
	transcripts TranscriptStore
	notes       NoteStore
	chat        ChatStore
	logger      *logging.Logger
}

// NewHandler creates an artifact handler.
func NewHandler(sessions SessionAuthorizer, transcripts TranscriptStore, notes NoteStore, chat ChatStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{sessions: sessions, transcripts: transcripts, notes: notes, chat: chat, logger: logger}
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, allowed ...telehealth.Party) (identity.Caller, *telehealth.Session, telehealth.Party, bool) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		apperr.WriteError(w, h.logger, telehealth.ErrUnauthenticated)
		return identity.Caller{}, nil, "", false
	}
	session, party, err := h.sessions.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return identity.Caller{}, nil, "", false
	}
	for _, p := range allowed {
		if p == party {
			return caller, session, party, true
		}
	}
	apperr.WriteError(w, h.logger, telehealth.ErrForbidden)
	return identity.Caller{}, nil, "", false
}

type appendTranscriptRequest struct {
	Segments []segmentInput `json:"segments"`
}

// segmentInput is a posted segment. An omitted included flag means the
// segment is part of the corpus.
type segmentInput struct {
	TimestampSeconds float64 `json:"timestamp_seconds"`
	Speaker          Speaker `json:"speaker"`
	Text             string  `json:"text"`
	Included         *bool   `json:"included"`
}

func (in segmentInput) segment() Segment {
	included := true
	if in.Included != nil {
		included = *in.Included
	}
	return Segment{
		TimestampSeconds: in.TimestampSeconds,
		Speaker:          in.Speaker,
		Text:             in.Text,
		Included:         included,
	}
}

// AppendTranscript handles POST /sessions/{id}/transcript.
func (h *Handler) AppendTranscript(w http.ResponseWriter, r *http.Request) {
	_, session, _, ok := h.authorize(w, r, telehealth.PartyDoctor, telehealth.PartyPatient)
	if !ok {
		return
	}
	if !session.TranscriptionEnabled {
		apperr.WriteError(w, h.logger, fmt.Errorf("%w: transcription is disabled", telehealth.ErrInvalidState))
		return
	}
	if session.State == telehealth.StateCancelled {
		apperr.WriteError(w, h.logger, fmt.Errorf("%w: session is cancelled", telehealth.ErrInvalidState))
		return
	}

	var req appendTranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteError(w, h.logger, apperr.BadRequest("invalid request body"))
		return
	}
	if len(req.Segments) == 0 || len(req.Segments) > maxSegmentsPerRequest {
		apperr.WriteError(w, h.logger, apperr.BadRequest(fmt.Sprintf("between 1 and %d segments required", maxSegmentsPerRequest)))
		return
	}
	posted := make([]Segment, 0, len(req.Segments))
	for _, in := range req.Segments {
		posted = append(posted, in.segment())
	}
	segments := normalizeSegments(session.ID, posted)
	if err := h.transcripts.Append(r.Context(), session.ID, segments); err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, map[string]int{"appended": len(segments)})
}

type chatRequest struct {
	Message string `json:"message"`
}

// PostChat handles POST /sessions/{id}/chat. The sender role comes from the
// caller's party.
func (h *Handler) PostChat(w http.ResponseWriter, r *http.Request) {
	caller, session, party, ok := h.authorize(w, r, telehealth.PartyDoctor, telehealth.PartyPatient)
	if !ok {
		return
	}
	if session.State.Terminal() {
		apperr.WriteError(w, h.logger, fmt.Errorf("%w: session is %s", telehealth.ErrInvalidState, session.State))
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		apperr.WriteError(w, h.logger, apperr.BadRequest("message is required"))
		return
	}
	msg, err := h.chat.Append(r.Context(), ChatMessage{
		SessionID:  session.ID,
		SenderID:   caller.UserID,
		SenderRole: Speaker(party),
		Message:    strings.TrimSpace(req.Message),
	})
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, msg)
}

type noteRequest struct {
	Body string `json:"body"`
}

// PutNotes handles PUT /sessions/{id}/notes for the session's clinician.
func (h *Handler) PutNotes(w http.ResponseWriter, r *http.Request) {
	caller, session, _, ok := h.authorize(w, r, telehealth.PartyDoctor)
	if !ok {
		return
	}
	if session.State == telehealth.StateCancelled {
		apperr.WriteError(w, h.logger, fmt.Errorf("%w: session is cancelled", telehealth.ErrInvalidState))
		return
	}
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteError(w, h.logger, apperr.BadRequest("invalid request body"))
		return
	}
	note, err := h.notes.Upsert(r.Context(), session.ID, caller.UserID, req.Body)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, note)
}
