package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresStore implements the artifact stores over pgxpool. Every query is
// filtered by session id.
type PostgresStore struct {
	pool pgxQuerier
	now  func() time.Time
}

// NewPostgresStore initializes artifact storage backed by pgxpool.
func NewPostgresStore(pool pgxQuerier) *PostgresStore {
	if pool == nil {
		panic("artifacts: pgx pool required")
	}
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresStore) Transcripts() TranscriptStore { return pgTranscripts{s} }
func (s *PostgresStore) Notes() NoteStore             { return pgNotes{s} }
func (s *PostgresStore) Chat() ChatStore              { return pgChat{s} }

var segmentColumns = []string{"id", "session_id", "timestamp_seconds", "speaker", "text", "included", "created_at"}

type pgTranscripts struct{ s *PostgresStore }

func (p pgTranscripts) Append(ctx context.Context, sessionID string, segments []Segment) error {
	if len(segments) == 0 {
		return nil
	}
	now := p.s.now()
	rows := make([][]any, 0, len(segments))
	for _, seg := range segments {
		id := seg.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{id, sessionID, seg.TimestampSeconds, string(seg.Speaker), seg.Text, seg.Included, now})
	}
	if _, err := p.s.pool.CopyFrom(ctx, pgx.Identifier{"session_transcript_segments"}, segmentColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("artifacts: copy transcript segments: %w", err)
	}
	return nil
}

func (p pgTranscripts) ListIncluded(ctx context.Context, sessionID string) ([]Segment, error) {
	query := `
		SELECT id, session_id, timestamp_seconds, speaker, text, included, created_at
		FROM session_transcript_segments
		WHERE session_id = $1 AND included
		ORDER BY timestamp_seconds, created_at
	`
	rows, err := p.s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("artifacts: list transcript: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		var speaker string
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.TimestampSeconds, &speaker, &seg.Text, &seg.Included, &seg.CreatedAt); err != nil {
			return nil, fmt.Errorf("artifacts: scan segment: %w", err)
		}
		seg.Speaker = NormalizeSpeaker(speaker)
		out = append(out, seg)
	}
	return out, rows.Err()
}

type pgNotes struct{ s *PostgresStore }

func (p pgNotes) Upsert(ctx context.Context, sessionID, authorID, body string) (*Note, error) {
	query := `
		INSERT INTO session_notes (id, session_id, author_id, body, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, author_id)
		DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
		RETURNING id, session_id, author_id, body, updated_at
	`
	var note Note
	if err := p.s.pool.QueryRow(ctx, query, uuid.New().String(), sessionID, authorID, body, p.s.now()).Scan(
		&note.ID, &note.SessionID, &note.AuthorID, &note.Body, &note.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("artifacts: upsert note: %w", err)
	}
	return &note, nil
}

func (p pgNotes) LatestByAuthor(ctx context.Context, sessionID, authorID string) (*Note, error) {
	query := `
		SELECT id, session_id, author_id, body, updated_at
		FROM session_notes
		WHERE session_id = $1 AND author_id = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var note Note
	if err := p.s.pool.QueryRow(ctx, query, sessionID, authorID).Scan(
		&note.ID, &note.SessionID, &note.AuthorID, &note.Body, &note.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("artifacts: latest note: %w", err)
	}
	return &note, nil
}

type pgChat struct{ s *PostgresStore }

func (p pgChat) Append(ctx context.Context, msg ChatMessage) (*ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = p.s.now()
	}
	query := `
		INSERT INTO session_chat_messages (id, session_id, sender_id, sender_role, message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	if err := p.s.pool.QueryRow(ctx, query, msg.ID, msg.SessionID, msg.SenderID, string(msg.SenderRole), msg.Message, msg.SentAt).Scan(&msg.ID); err != nil {
		return nil, fmt.Errorf("artifacts: insert chat: %w", err)
	}
	return &msg, nil
}

func (p pgChat) List(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	query := `
		SELECT id, session_id, sender_id, sender_role, message, sent_at
		FROM session_chat_messages
		WHERE session_id = $1
		ORDER BY sent_at
	`
	rows, err := p.s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("artifacts: list chat: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		var role string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.SenderID, &role, &msg.Message, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("artifacts: scan chat: %w", err)
		}
		msg.SenderRole = NormalizeSpeaker(role)
		out = append(out, msg)
	}
	return out, rows.Err()
}
