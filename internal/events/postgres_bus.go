package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// DefaultNotifyChannel is the LISTEN/NOTIFY channel for session events.
const DefaultNotifyChannel = "telehealth_session_events"

type notifyExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresBus uses LISTEN/NOTIFY so deployments without Redis still get
// cross-instance invalidation. Received notifications are fanned out locally.
type PostgresBus struct {
	db      notifyExecer
	dsn     string
	channel string
	local   *MemoryBus
	logger  *logging.Logger
}

// NewPostgresBus creates a bus publishing through db and listening via dsn.
func NewPostgresBus(db notifyExecer, dsn string, logger *logging.Logger) *PostgresBus {
	if db == nil {
		panic("events: database required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresBus{
		db:      db,
		dsn:     dsn,
		channel: DefaultNotifyChannel,
		local:   NewMemoryBus(),
		logger:  logger,
	}
}

// Publish issues pg_notify with the JSON-encoded event.
func (b *PostgresBus) Publish(ctx context.Context, evt SessionEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", b.channel, string(data)); err != nil {
		return fmt.Errorf("events: pg_notify: %w", err)
	}
	return nil
}

// Subscribe registers a local subscriber; Listen must be running for remote
// events to arrive.
func (b *PostgresBus) Subscribe(ctx context.Context, sessionID string) (<-chan SessionEvent, error) {
	return b.local.Subscribe(ctx, sessionID)
}

// Listen blocks, forwarding notifications to local subscribers until ctx is done.
func (b *PostgresBus) Listen(ctx context.Context) error {
	listener := pq.NewListener(b.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.logger.Warn("events: postgres listener event", "event", ev, "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(b.channel); err != nil {
		return fmt.Errorf("events: listen %s: %w", pq.QuoteIdentifier(b.channel), err)
	}
	b.logger.Info("events: listening for session notifications", "channel", b.channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil is sent after a reconnect; state may have been missed, and
			// watchers cover the gap with their poll tick.
			if n == nil {
				continue
			}
			b.dispatch(ctx, n)
		case <-time.After(90 * time.Second):
			if err := listener.Ping(); err != nil {
				b.logger.Warn("events: postgres listener ping failed", "error", err)
			}
		}
	}
}

func (b *PostgresBus) dispatch(ctx context.Context, n *pq.Notification) {
	var evt SessionEvent
	if err := json.Unmarshal([]byte(n.Extra), &evt); err != nil {
		b.logger.Warn("events: dropping malformed notification", "error", err, "channel", n.Channel)
		return
	}
	_ = b.local.Publish(ctx, evt)
}
