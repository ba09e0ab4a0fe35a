package artifacts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TranscriptStore persists transcript segments.
type TranscriptStore interface {
	Append(ctx context.Context, sessionID string, segments []Segment) error
	// ListIncluded returns segments flagged for summaries, oldest first.
	ListIncluded(ctx context.Context, sessionID string) ([]Segment, error)
}

// NoteStore keeps one note per author per session.
type NoteStore interface {
	Upsert(ctx context.Context, sessionID, authorID, body string) (*Note, error)
	LatestByAuthor(ctx context.Context, sessionID, authorID string) (*Note, error)
}

// ChatStore persists in-call chat.
type ChatStore interface {
	Append(ctx context.Context, msg ChatMessage) (*ChatMessage, error)
	List(ctx context.Context, sessionID string) ([]ChatMessage, error)
}

// InMemoryStore implements all three stores for development and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	segments map[string][]Segment
	notes    map[string]map[string]Note
	chat     map[string][]ChatMessage
	now      func() time.Time
}

// NewInMemoryStore creates an empty artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		segments: make(map[string][]Segment),
		notes:    make(map[string]map[string]Note),
		chat:     make(map[string][]ChatMessage),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Transcripts returns the store as a TranscriptStore.
func (s *InMemoryStore) Transcripts() TranscriptStore { return memoryTranscripts{s} }

// Notes returns the store as a NoteStore.
func (s *InMemoryStore) Notes() NoteStore { return memoryNotes{s} }

// Chat returns the store as a ChatStore.
func (s *InMemoryStore) Chat() ChatStore { return memoryChat{s} }

type memoryTranscripts struct{ s *InMemoryStore }

func (m memoryTranscripts) Append(ctx context.Context, sessionID string, segments []Segment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := m.s.now()
	for _, seg := range segments {
		if seg.ID == "" {
			seg.ID = uuid.New().String()
		}
		seg.SessionID = sessionID
		seg.CreatedAt = now
		m.s.segments[sessionID] = append(m.s.segments[sessionID], seg)
	}
	return nil
}

func (m memoryTranscripts) ListIncluded(ctx context.Context, sessionID string) ([]Segment, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []Segment
	for _, seg := range m.s.segments[sessionID] {
		if seg.Included {
			out = append(out, seg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampSeconds < out[j].TimestampSeconds })
	return out, nil
}

type memoryNotes struct{ s *InMemoryStore }

func (m memoryNotes) Upsert(ctx context.Context, sessionID, authorID, body string) (*Note, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	byAuthor := m.s.notes[sessionID]
	if byAuthor == nil {
		byAuthor = make(map[string]Note)
		m.s.notes[sessionID] = byAuthor
	}
	note, ok := byAuthor[authorID]
	if !ok {
		note = Note{ID: uuid.New().String(), SessionID: sessionID, AuthorID: authorID}
	}
	note.Body = body
	note.UpdatedAt = m.s.now()
	byAuthor[authorID] = note
	out := note
	return &out, nil
}

func (m memoryNotes) LatestByAuthor(ctx context.Context, sessionID, authorID string) (*Note, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	note, ok := m.s.notes[sessionID][authorID]
	if !ok {
		return nil, ErrNoteNotFound
	}
	return &note, nil
}

type memoryChat struct{ s *InMemoryStore }

func (m memoryChat) Append(ctx context.Context, msg ChatMessage) (*ChatMessage, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = m.s.now()
	}
	m.s.chat[msg.SessionID] = append(m.s.chat[msg.SessionID], msg)
	out := msg
	return &out, nil
}

func (m memoryChat) List(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := append([]ChatMessage(nil), m.s.chat[sessionID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}
