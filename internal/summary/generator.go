// Package summary turns a session's artifacts into a structured clinical summary.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/internal/artifacts"
	"github.com/wolfman30/medspa-telehealth/internal/compliance"
	"github.com/wolfman30/medspa-telehealth/internal/events"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"github.com/wolfman30/medspa-telehealth/internal/llm"
	"github.com/wolfman30/medspa-telehealth/internal/observability/metrics"
	"github.com/wolfman30/medspa-telehealth/internal/telehealth"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("medspa.internal.summary")

// WarningPersistenceFailed marks a summary that reached the caller but was not saved.
const WarningPersistenceFailed = "persistence_failed"

// Request carries the optional overrides a clinician can send.
type Request struct {
	Segments    []artifacts.Segment `json:"segments,omitempty"`
	Instruction string              `json:"instruction,omitempty"`
	Notes       string              `json:"notes,omitempty"`
}

// Result is a generated summary.
type Result struct {
	SessionID   string    `json:"session_id"`
	Text        string    `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
	Model       string    `json:"model"`
	Flags       []Flag    `json:"flags,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// SessionResolver authorizes the caller against a session.
type SessionResolver interface {
	Get(ctx context.Context, caller identity.Caller, id string) (*telehealth.Session, telehealth.Party, error)
}

// CorpusBuilder assembles the material to summarize.
type CorpusBuilder interface {
	BuildCorpus(ctx context.Context, req artifacts.CorpusRequest) (*artifacts.Corpus, error)
}

// WriteBackQueue receives summaries whose write-back failed.
type WriteBackQueue interface {
	Enqueue(ctx context.Context, wb WriteBack) error
}

// Auditor records that a summary was produced.
type Auditor interface {
	LogSummaryGenerated(ctx context.Context, sessionID, appointmentID, actorID string, details compliance.AuditDetails) error
}

// Options tune generation.
type Options struct {
	Timeout   time.Duration
	MaxTokens int32
	Validate  bool
}

// Generator runs summary requests. Provider calls run on a context detached
// from the requester so a result is always stored against the session, even
// when the requester has gone away.
type Generator struct {
	sessions  SessionResolver
	writer    SummaryWriter
	corpus    CorpusBuilder
	client    llm.Client
	jobs      JobStore
	retry     WriteBackQueue
	archive   Archiver
	auditor   Auditor
	publisher events.Publisher
	metrics   *metrics.TelehealthMetrics
	opts      Options
	logger    *logging.Logger
	now       func() time.Time
}

// NewGenerator wires a generator. client may be nil when no provider is
// configured; requests then fail with llm.ErrProviderNotConfigured.
func NewGenerator(sessions SessionResolver, writer SummaryWriter, corpus CorpusBuilder, client llm.Client, opts Options, logger *logging.Logger) *Generator {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1500
	}
	return &Generator{
		sessions: sessions,
		writer:   writer,
		corpus:   corpus,
		client:   client,
		jobs:     NewMemoryJobStore(),
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (g *Generator) WithJobStore(j JobStore) *Generator {
	if j != nil {
		g.jobs = j
	}
	return g
}

func (g *Generator) WithRetryQueue(q WriteBackQueue) *Generator {
	g.retry = q
	return g
}

func (g *Generator) WithArchiver(a Archiver) *Generator {
	g.archive = a
	return g
}

func (g *Generator) WithAuditor(a Auditor) *Generator {
	g.auditor = a
	return g
}

func (g *Generator) WithPublisher(p events.Publisher) *Generator {
	g.publisher = p
	return g
}

func (g *Generator) WithMetrics(m *metrics.TelehealthMetrics) *Generator {
	g.metrics = m
	return g
}

// Jobs exposes the job store for status polling.
func (g *Generator) Jobs() JobStore {
	return g.jobs
}

// Authorize checks the caller may read or request summaries for the session.
// Only staff with a clinician or admin role who are the appointment's
// clinician, or an admin, pass.
func (g *Generator) Authorize(ctx context.Context, caller identity.Caller, sessionID string) (*telehealth.Session, telehealth.Party, error) {
	if caller.UserID == "" {
		return nil, "", telehealth.ErrUnauthenticated
	}
	if !caller.HasRole(identity.RoleClinician) && !caller.HasRole(identity.RoleAdmin) {
		return nil, "", telehealth.ErrForbidden
	}
	session, party, err := g.sessions.Get(ctx, caller, sessionID)
	if err != nil {
		return nil, "", err
	}
	if party != telehealth.PartyDoctor && party != telehealth.PartyAdmin {
		return nil, "", telehealth.ErrForbidden
	}
	return session, party, nil
}

// Generate produces a summary for the session. Preconditions are checked in
// order: caller role, session existence, consent when AI summaries are
// enabled, provider configuration.
func (g *Generator) Generate(ctx context.Context, caller identity.Caller, sessionID string, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "summary.generate")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	session, _, err := g.Authorize(ctx, caller, sessionID)
	if err != nil {
		g.metrics.ObserveSummary(outcomeFor(err))
		return nil, err
	}
	if session.State == telehealth.StateCancelled {
		g.metrics.ObserveSummary("invalid_state")
		return nil, fmt.Errorf("summary: session is cancelled: %w", telehealth.ErrInvalidState)
	}
	if session.AISummaryEnabled && !telehealth.IsAuthorizedForAI(session) {
		g.metrics.ObserveSummary("consent_missing")
		return nil, telehealth.ErrConsentMissing
	}
	if g.client == nil {
		g.metrics.ObserveSummary("provider_config_error")
		return nil, llm.ErrProviderNotConfigured
	}

	// With AI summaries disabled, consent was never asked for, so call
	// content stays out of the corpus.
	corpus, err := g.corpus.BuildCorpus(ctx, artifacts.CorpusRequest{
		SessionID:         session.ID,
		RequesterID:       caller.UserID,
		Segments:          req.Segments,
		Notes:             req.Notes,
		ExcludeTranscript: !session.AISummaryEnabled,
	})
	if err != nil {
		g.metrics.ObserveSummary(outcomeFor(err))
		return nil, err
	}
	if corpus.Empty() {
		g.metrics.ObserveSummary("empty_corpus")
		return nil, ErrEmptyCorpus
	}

	instruction := req.Instruction
	if strings.TrimSpace(instruction) == "" {
		instruction = session.AISummaryPrompt
	}

	if err := g.jobs.PutPending(ctx, session.ID, caller.UserID); err != nil {
		g.sideEffectFailed(ctx, "job_status", err, session.ID)
	}

	done := make(chan outcome, 1)
	jobCtx := context.WithoutCancel(ctx)
	go func() {
		res, err := g.run(jobCtx, caller, session, corpus, instruction)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, "summary generation failed")
		}
		return out.res, out.err
	case <-ctx.Done():
		g.logger.Info("summary requester went away, generation continues", "session_id", session.ID)
		return nil, ctx.Err()
	}
}

type outcome struct {
	res *Result
	err error
}

// run calls the provider and records the result. It owns every side effect
// of a generation so the outcome is identical whether or not anyone waits.
func (g *Generator) run(ctx context.Context, caller identity.Caller, session *telehealth.Session, corpus *artifacts.Corpus, instruction string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	rendered := corpus.Render()
	prompt := BuildPrompt(rendered, instruction)

	start := time.Now()
	resp, err := g.client.Complete(ctx, llm.Request{
		System:      prompt.System,
		Prompt:      prompt.User,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrGenerationTimeout, err)
		}
		g.fail(ctx, session.ID, err)
		return nil, err
	}
	g.metrics.ObserveSummaryLatency(resp.Model, time.Since(start).Seconds())

	res := &Result{
		SessionID:   session.ID,
		Text:        resp.Text,
		GeneratedAt: g.now(),
		Model:       resp.Model,
	}
	if g.opts.Validate {
		res.Flags = Validate(res.Text, rendered)
		if len(res.Flags) > 0 {
			g.logger.Warn("summary sections not traceable to session record", "session_id", session.ID, "flags", len(res.Flags))
		}
	}

	// Write-back uses a fresh budget: a provider that consumed most of the
	// timeout must not cost the clinician the summary.
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer saveCancel()
	if err := g.writer.SaveSummary(saveCtx, session.ID, res.Text, res.GeneratedAt); err != nil {
		res.Warnings = append(res.Warnings, WarningPersistenceFailed)
		g.metrics.ObservePersistenceWarning()
		g.logger.Error("summary generated but not saved", "error", err, "session_id", session.ID)
		if g.retry != nil {
			if qErr := g.retry.Enqueue(saveCtx, WriteBack{SessionID: session.ID, Text: res.Text, GeneratedAt: res.GeneratedAt}); qErr != nil {
				g.sideEffectFailed(saveCtx, "summary_writeback_enqueue", qErr, session.ID)
			}
		}
	}

	if err := g.jobs.MarkCompleted(saveCtx, session.ID, res); err != nil {
		g.sideEffectFailed(saveCtx, "job_status", err, session.ID)
	}
	g.auditGenerated(saveCtx, caller, session, corpus, res)
	g.publishGenerated(saveCtx, session)
	if g.archive != nil {
		if key, err := g.archive.Archive(saveCtx, session.ID, res); err != nil {
			g.sideEffectFailed(saveCtx, "archive", err, session.ID)
		} else {
			g.logger.Debug("summary archived", "session_id", session.ID, "key", key)
		}
	}

	if len(res.Warnings) > 0 {
		g.metrics.ObserveSummary("persistence_warning")
	} else {
		g.metrics.ObserveSummary("success")
	}
	g.logger.Info("summary generated", "session_id", session.ID, "model", res.Model, "flags", len(res.Flags))
	return res, nil
}

func (g *Generator) fail(ctx context.Context, sessionID string, err error) {
	code := "internal"
	if kind := apperr.KindOf(err); kind != nil {
		code = kind.Code
	}
	g.metrics.ObserveSummary(code)
	g.logger.Error("summary generation failed", "error", err, "session_id", sessionID, "kind", code)

	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if jobErr := g.jobs.MarkFailed(statusCtx, sessionID, code); jobErr != nil {
		g.sideEffectFailed(statusCtx, "job_status", jobErr, sessionID)
	}
}

func (g *Generator) auditGenerated(ctx context.Context, caller identity.Caller, session *telehealth.Session, corpus *artifacts.Corpus, res *Result) {
	if g.auditor == nil {
		return
	}
	details := compliance.AuditDetails{
		Model:         res.Model,
		AIEnabled:     session.AISummaryEnabled,
		SegmentCount:  len(corpus.Segments),
		ChatCount:     len(corpus.Chat),
		HadNotes:      corpus.Notes != "",
		FlaggedCount:  len(res.Flags),
		Warnings:      res.Warnings,
		ConsentBefore: telehealth.IsAuthorizedForAI(session),
	}
	if err := g.auditor.LogSummaryGenerated(ctx, session.ID, session.AppointmentID, caller.UserID, details); err != nil {
		g.sideEffectFailed(ctx, "audit", err, session.ID)
	}
}

func (g *Generator) publishGenerated(ctx context.Context, session *telehealth.Session) {
	if g.publisher == nil {
		return
	}
	err := g.publisher.Publish(ctx, events.SessionEvent{
		ID:            uuid.New().String(),
		Type:          events.TypeSummaryGenerated,
		SessionID:     session.ID,
		AppointmentID: session.AppointmentID,
		State:         string(session.State),
		At:            g.now(),
	})
	if err != nil {
		g.sideEffectFailed(ctx, "event_publish", err, session.ID)
	}
}

func (g *Generator) sideEffectFailed(ctx context.Context, kind string, err error, sessionID string) {
	g.metrics.ObserveSideEffectFailure(kind)
	g.logger.Error("summary side effect failed", "kind", kind, "error", err, "session_id", sessionID)
}

func outcomeFor(err error) string {
	if kind := apperr.KindOf(err); kind != nil {
		return kind.Code
	}
	return "internal"
}
