package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/medspa-telehealth/internal/telehealth"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// SessionReader loads the session a corpus is scoped to.
type SessionReader interface {
	Get(ctx context.Context, id string) (*telehealth.Session, error)
}

// CorpusRequest selects the material for one summary.
type CorpusRequest struct {
	SessionID   string
	RequesterID string
	// Segments, when non-empty, replace the persisted transcript entirely.
	Segments []Segment
	// Notes overrides every stored note.
	Notes string
	// ExcludeTranscript leaves transcript content out regardless of source.
	ExcludeTranscript bool
}

// Aggregator builds corpora from the artifact stores.
type Aggregator struct {
	sessions    SessionReader
	transcripts TranscriptStore
	notes       NoteStore
	chat        ChatStore
	logger      *logging.Logger
}

// NewAggregator wires an aggregator.
func NewAggregator(sessions SessionReader, transcripts TranscriptStore, notes NoteStore, chat ChatStore, logger *logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Aggregator{sessions: sessions, transcripts: transcripts, notes: notes, chat: chat, logger: logger}
}

// BuildCorpus assembles the corpus. Transcript: request segments verbatim,
// otherwise persisted segments flagged included. Notes: request body, then the
// requester's latest note, then the session's own notes field. Chat is always
// appended. Only a missing session is an error; an empty or failing optional
// source is omitted and logged.
func (a *Aggregator) BuildCorpus(ctx context.Context, req CorpusRequest) (*Corpus, error) {
	session, err := a.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	corpus := &Corpus{SessionID: session.ID}

	if !req.ExcludeTranscript {
		switch {
		case len(req.Segments) > 0:
			corpus.Segments = normalizeSegments(session.ID, req.Segments)
			corpus.SegmentSource = SourceRequest
		case a.transcripts != nil:
			segs, err := a.transcripts.ListIncluded(ctx, session.ID)
			if err != nil {
				a.logger.Warn("transcript unavailable for corpus", "error", err, "session_id", session.ID)
			} else if len(segs) > 0 {
				corpus.Segments = segs
				corpus.SegmentSource = SourcePersisted
			}
		}
	}

	corpus.Notes, corpus.NotesSource = a.resolveNotes(ctx, session, req)

	if a.chat != nil {
		msgs, err := a.chat.List(ctx, session.ID)
		if err != nil {
			a.logger.Warn("chat unavailable for corpus", "error", err, "session_id", session.ID)
		} else {
			for _, m := range msgs {
				// Stores filter by session; this guards against a store that does not.
				if m.SessionID == session.ID {
					corpus.Chat = append(corpus.Chat, m)
				}
			}
			sort.SliceStable(corpus.Chat, func(i, j int) bool { return corpus.Chat[i].SentAt.Before(corpus.Chat[j].SentAt) })
		}
	}
	return corpus, nil
}

func (a *Aggregator) resolveNotes(ctx context.Context, session *telehealth.Session, req CorpusRequest) (string, Source) {
	if text := strings.TrimSpace(req.Notes); text != "" {
		return text, SourceRequest
	}
	if a.notes != nil && req.RequesterID != "" {
		note, err := a.notes.LatestByAuthor(ctx, session.ID, req.RequesterID)
		switch {
		case err == nil && strings.TrimSpace(note.Body) != "":
			return strings.TrimSpace(note.Body), SourcePersisted
		case err != nil && !errors.Is(err, ErrNoteNotFound):
			a.logger.Warn("notes unavailable for corpus", "error", err, "session_id", session.ID)
		}
	}
	if text := strings.TrimSpace(session.Notes); text != "" {
		return text, SourceSession
	}
	return "", SourceNone
}

func normalizeSegments(sessionID string, in []Segment) []Segment {
	out := make([]Segment, 0, len(in))
	for _, seg := range in {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		seg.SessionID = sessionID
		seg.Speaker = NormalizeSpeaker(string(seg.Speaker))
		out = append(out, seg)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampSeconds < out[j].TimestampSeconds })
	return out
}

// Render produces the deterministic, speaker-labelled log sent to the model.
// Sections with no content are left out.
func (c *Corpus) Render() string {
	var b strings.Builder
	if len(c.Segments) > 0 {
		b.WriteString("TRANSCRIPT:\n")
		for _, seg := range c.Segments {
			fmt.Fprintf(&b, "[%s] %s: %s\n", formatOffset(seg.TimestampSeconds), seg.Speaker, strings.TrimSpace(seg.Text))
		}
		b.WriteString("\n")
	}
	if c.Notes != "" {
		b.WriteString("CLINICIAN NOTES:\n")
		b.WriteString(c.Notes)
		b.WriteString("\n\n")
	}
	if len(c.Chat) > 0 {
		b.WriteString("CHAT MESSAGES:\n")
		for _, m := range c.Chat {
			fmt.Fprintf(&b, "[%s] %s: %s\n", m.SentAt.UTC().Format(time.RFC3339), m.SenderRole, strings.TrimSpace(m.Message))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatOffset(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
