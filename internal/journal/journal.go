// Package journal keeps a SQLite record of the lifecycle events a worker
// proxy emits.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/webworker/internal/eventbus"
	"github.com/danmuck/webworker/internal/observability"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var ErrClosed = errors.New("journal: closed")

// DefaultLimit caps List when the caller passes no limit.
const DefaultLimit = 200

// Subscriber is anything that can register event listeners, such as a
// host.Proxy.
type Subscriber interface {
	On(name string, fn eventbus.Listener) eventbus.ListenerID
}

// Entry is one recorded event.
type Entry struct {
	ID     int64           `json:"id"`
	Worker string          `json:"worker"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	At     time.Time       `json:"at"`
}

// Journal appends events to a worker_events table. It is safe for
// concurrent use, including Close racing with Append and List.
type Journal struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Open opens (or creates) the journal at dsn using the modernc SQLite
// driver. ":memory:" keeps it in memory for the life of the Journal.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", dsn, err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writes
	db.SetMaxOpenConns(1)

	j := &Journal{
		db:     db,
		logger: observability.Component("journal"),
		now:    time.Now,
	}
	if err := j.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS worker_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			worker TEXT NOT NULL,
			event TEXT NOT NULL,
			data TEXT,
			at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS worker_events_worker ON worker_events (worker, id);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("journal: init schema: %w", err)
		}
	}
	return nil
}

// Append records one event. data is stored as JSON; values that cannot be
// encoded are stored as their string form.
func (j *Journal) Append(ctx context.Context, worker, event string, data any) error {
	if j == nil {
		return ErrClosed
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return ErrClosed
	}
	var payload sql.NullString
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			raw, _ = json.Marshal(fmt.Sprint(data))
		}
		payload = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO worker_events (worker, event, data, at)
		VALUES (?, ?, ?, ?)`,
		worker,
		event,
		payload,
		j.now().UnixNano(),
	)
	return err
}

// Attach records every lifecycle event sub emits under worker. Extra names
// are recorded as well.
func (j *Journal) Attach(worker string, sub Subscriber, extra ...string) {
	names := make([]string, 0, len(extra)+8)
	for _, name := range protocol.LifecycleEvents() {
		names = append(names, name)
	}
	sort.Strings(names)
	names = append(names, extra...)

	for _, name := range names {
		sub.On(name, func(ev eventbus.Event, _ ...any) {
			if err := j.Append(context.Background(), worker, ev.Type, ev.Data); err != nil {
				j.logger.Warn().Err(err).Str("worker", worker).Str("event", ev.Type).Msg("journal.Attach append failed")
			}
		})
	}
}

// List returns the latest limit entries for worker, oldest first. An empty
// worker lists every worker.
func (j *Journal) List(ctx context.Context, worker string, limit int) ([]Entry, error) {
	if j == nil {
		return nil, ErrClosed
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if worker == "" {
		rows, err = j.db.QueryContext(ctx, `
			SELECT id, worker, event, data, at FROM worker_events
			ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = j.db.QueryContext(ctx, `
			SELECT id, worker, event, data, at FROM worker_events
			WHERE worker = ? ORDER BY id DESC LIMIT ?`, worker, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			data sql.NullString
			at   int64
		)
		if err := rows.Scan(&e.ID, &e.Worker, &e.Event, &data, &at); err != nil {
			return nil, err
		}
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}
