package patientlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Credential is proof that a patient was given portal access.
type Credential struct {
	PatientID string    `json:"patient_id"`
	Kind      string    `json:"kind"`
	IssuedAt  time.Time `json:"issued_at"`
}

// CredentialStore reports whether a patient already has portal access.
// Issuing links never creates credentials.
type CredentialStore interface {
	Get(ctx context.Context, patientID string) (*Credential, error)
}

// MemoryCredentialStore is a CredentialStore for development and tests.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]Credential)}
}

// Put provisions or replaces a credential.
func (s *MemoryCredentialStore) Put(c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.PatientID] = c
}

func (s *MemoryCredentialStore) Get(ctx context.Context, patientID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[patientID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &c, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresCredentialStore reads active credentials from patient_credentials.
type PostgresCredentialStore struct {
	pool queryRower
}

func NewPostgresCredentialStore(pool queryRower) *PostgresCredentialStore {
	if pool == nil {
		panic("patientlink: pgx pool required")
	}
	return &PostgresCredentialStore{pool: pool}
}

func (s *PostgresCredentialStore) Get(ctx context.Context, patientID string) (*Credential, error) {
	query := `
		SELECT patient_id, kind, issued_at
		FROM patient_credentials
		WHERE patient_id = $1 AND revoked_at IS NULL
		ORDER BY issued_at DESC
		LIMIT 1
	`
	var c Credential
	if err := s.pool.QueryRow(ctx, query, patientID).Scan(&c.PatientID, &c.Kind, &c.IssuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("patientlink: select credential failed: %w", err)
	}
	return &c, nil
}
