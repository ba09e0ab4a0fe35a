// Package artifacts stores the per-session material a summary is built from
// (transcript segments, clinician notes, in-call chat) and assembles it into
// one ordered corpus.
package artifacts

import "time"

// Speaker labels who produced a transcript segment or chat message.
type Speaker string

const (
	SpeakerDoctor      Speaker = "doctor"
	SpeakerPatient     Speaker = "patient"
	SpeakerParticipant Speaker = "participant"
)

// NormalizeSpeaker maps unknown labels to participant.
func NormalizeSpeaker(s string) Speaker {
	switch Speaker(s) {
	case SpeakerDoctor, SpeakerPatient:
		return Speaker(s)
	}
	return SpeakerParticipant
}

// Segment is one span of the call transcript.
type Segment struct {
	ID               string    `json:"id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	TimestampSeconds float64   `json:"timestamp_seconds"`
	Speaker          Speaker   `json:"speaker"`
	Text             string    `json:"text"`
	Included         bool      `json:"included"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
}

// Note is a clinician's free-text note for a session.
type Note struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is an in-call chat line.
type ChatMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole Speaker   `json:"sender_role"`
	Message    string    `json:"message"`
	SentAt     time.Time `json:"sent_at"`
}

// Source records where a corpus section came from.
type Source string

const (
	SourceNone      Source = ""
	SourceRequest   Source = "request"
	SourcePersisted Source = "persisted"
	SourceSession   Source = "session"
)

// Corpus is the ephemeral input to one summary request.
type Corpus struct {
	SessionID     string        `json:"session_id"`
	Segments      []Segment     `json:"segments,omitempty"`
	SegmentSource Source        `json:"segment_source,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	NotesSource   Source        `json:"notes_source,omitempty"`
	Chat          []ChatMessage `json:"chat,omitempty"`
}

// Empty reports whether no source yielded anything.
func (c *Corpus) Empty() bool {
	return len(c.Segments) == 0 && c.Notes == "" && len(c.Chat) == 0
}
