// Package audit implements the audit log (C9): every state-changing
// decision appends one row to the canonical Postgres audit_logs table,
// mirrored best-effort to a ClickHouse analytics sink. The mirror never
// blocks or rolls back the canonical write (§4.8).
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"billingcore/internal/clickhouse"
	"billingcore/internal/store"
)

// mirrorQueueSize bounds the in-memory backlog of events awaiting the
// ClickHouse mirror; once full, new events are dropped from the mirror
// (never from the canonical write) and a warning is logged.
const mirrorQueueSize = 1024

// Log is the audit log writer. A nil mirror client disables the ClickHouse
// mirror cleanly (§10's "mirror disables cleanly when empty" requirement).
type Log struct {
	store  *store.Store
	mirror *clickhouse.Client
	queue  chan *clickhouse.AuditEvent
	done   chan struct{}
}

// New builds a Log. Call Close during shutdown to drain the mirror queue.
func New(s *store.Store, mirror *clickhouse.Client) *Log {
	l := &Log{store: s, mirror: mirror}
	if mirror != nil {
		l.queue = make(chan *clickhouse.AuditEvent, mirrorQueueSize)
		l.done = make(chan struct{})
		go l.drainMirror()
	}
	return l
}

// Record writes the canonical Postgres row (inside tx if supplied) and, if a
// mirror is configured, enqueues a best-effort copy.
func (l *Log) Record(ctx context.Context, tx *sql.Tx, a *store.AuditLog) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if err := l.store.InsertAuditLog(ctx, tx, a); err != nil {
		return err
	}
	l.enqueueMirror(a)
	return nil
}

func (l *Log) enqueueMirror(a *store.AuditLog) {
	if l.mirror == nil {
		return
	}

	oldRaw, err := json.Marshal(a.OldValue)
	if err != nil {
		log.Warn().Err(err).Msg("audit: failed to encode old_value for mirror")
		return
	}
	newRaw, err := json.Marshal(a.NewValue)
	if err != nil {
		log.Warn().Err(err).Msg("audit: failed to encode new_value for mirror")
		return
	}
	metaRaw, err := json.Marshal(a.Metadata)
	if err != nil {
		log.Warn().Err(err).Msg("audit: failed to encode metadata for mirror")
		return
	}

	event := &clickhouse.AuditEvent{
		Action: a.Action, EntityType: a.EntityType, EntityID: a.EntityID, UserID: a.UserID,
		OldValue: string(oldRaw), NewValue: string(newRaw), Metadata: string(metaRaw),
		CreatedAt: a.CreatedAt,
	}

	select {
	case l.queue <- event:
	default:
		log.Warn().Str("action", a.Action).Msg("audit: mirror queue full, dropping event")
	}
}

func (l *Log) drainMirror() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.mirror.InsertAuditEvent(context.Background(), event); err != nil {
			log.Warn().Err(err).Str("action", event.Action).Msg("audit: mirror write failed")
		}
	}
}

// Close stops accepting new mirror events and waits for the queue to drain.
func (l *Log) Close() {
	if l.mirror == nil {
		return
	}
	close(l.queue)
	<-l.done
}
