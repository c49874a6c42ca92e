package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zily-project/zily/internal/events"
	"github.com/zily-project/zily/internal/session"
)

// Journal session states.
const (
	JournalOnline   = "online"
	JournalOffline  = "offline"
	JournalRejected = "rejected"
)

// SessionRecord is one journaled session.
type SessionRecord struct {
	ID       string     `json:"id"`
	Local    string     `json:"local"`
	Peer     string     `json:"peer,omitempty"`
	Protocol string     `json:"protocol,omitempty"`
	Version  string     `json:"version,omitempty"`
	Status   string     `json:"status"`
	Error    string     `json:"error,omitempty"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	Messages int        `json:"messages"`
}

// MessageRecord is one journaled message or console line.
type MessageRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Direction string    `json:"direction,omitempty"`
	Flag      string    `json:"flag,omitempty"`
	Text      string    `json:"text,omitempty"`
	At        time.Time `json:"at"`
}

// Journal records session lifecycle and traffic.
type Journal struct {
	db         *Database
	recordText bool
}

// NewJournal opens the journal database at path and migrates it.
func NewJournal(path string, recordText bool) (*Journal, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: database, recordText: recordText}
	if err := database.Migrate(context.Background(), journalMigrations); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// journalMigrations are applied in order; append, never edit.
//
// Messages may outlive their session row after Prune, and a late event
// may follow the offline one, so the schema carries no foreign keys and
// upserts never reopen a closed session.
var journalMigrations = []string{
	`CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		local TEXT NOT NULL DEFAULT '',
		peer TEXT NOT NULL DEFAULT '',
		protocol TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		opened_at INTEGER NOT NULL,
		closed_at INTEGER
	);

	CREATE TABLE messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		flag TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		at INTEGER NOT NULL
	);`,
	`CREATE INDEX idx_messages_session ON messages(session_id, at);
	CREATE INDEX idx_sessions_opened ON sessions(opened_at);`,
}

// Subscribe records every session event published on bus.
func (j *Journal) Subscribe(bus *events.EventBus) {
	bus.SubscribeSessions("journal", func(ctx context.Context, e events.Event) error {
		ev, ok := e.SessionEvent()
		if !ok {
			return nil
		}
		return j.RecordEvent(ctx, ev)
	})
}

// RecordEvent stores a single session event.
func (j *Journal) RecordEvent(ctx context.Context, ev session.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	switch ev.Kind {
	case session.EventOnline:
		return j.upsertSession(ctx, ev, JournalOnline, at, nil)
	case session.EventOffline:
		return j.upsertSession(ctx, ev, JournalOffline, at, &at)
	case session.EventRejected:
		return j.upsertSession(ctx, ev, JournalRejected, at, &at)
	case session.EventMessage, session.EventConsole, session.EventWarning:
		return j.insertMessage(ctx, ev, at)
	default:
		log.Debug().Str("kind", string(ev.Kind)).Msg("journal ignoring event")
		return nil
	}
}

func (j *Journal) upsertSession(ctx context.Context, ev session.Event, status string, at time.Time, closed *time.Time) error {
	var peer, proto, version string
	if ev.Peer != nil {
		peer = ev.Peer.Name
		proto = ev.Peer.Protocol
		version = ev.Peer.Version.String()
	}
	var closedAt sql.NullInt64
	if closed != nil {
		closedAt = sql.NullInt64{Int64: closed.UnixNano(), Valid: true}
	}

	_, err := j.db.Exec(ctx, `
		INSERT INTO sessions (id, local, peer, protocol, version, status, error, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			peer = CASE WHEN excluded.peer != '' THEN excluded.peer ELSE sessions.peer END,
			protocol = CASE WHEN excluded.protocol != '' THEN excluded.protocol ELSE sessions.protocol END,
			version = CASE WHEN excluded.version != '' THEN excluded.version ELSE sessions.version END,
			error = CASE WHEN excluded.error != '' THEN excluded.error ELSE sessions.error END,
			status = CASE WHEN sessions.closed_at IS NULL THEN excluded.status ELSE sessions.status END,
			opened_at = MIN(sessions.opened_at, excluded.opened_at),
			closed_at = COALESCE(sessions.closed_at, excluded.closed_at)`,
		ev.SessionID, ev.Local.String(), peer, proto, version, status, ev.Error, at.UnixNano(), closedAt)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", ev.SessionID, err)
	}
	return nil
}

func (j *Journal) insertMessage(ctx context.Context, ev session.Event, at time.Time) error {
	text := ev.Text
	if !j.recordText {
		text = ""
	}
	var flag string
	if ev.Flag != 0 {
		flag = ev.Flag.String()
	}

	_, err := j.db.Exec(ctx, `
		INSERT INTO messages (session_id, kind, direction, flag, text, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SessionID, string(ev.Kind), ev.Direction, flag, text, at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record message for %s: %w", ev.SessionID, err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (j *Journal) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.Query(ctx, `
		SELECT s.id, s.local, s.peer, s.protocol, s.version, s.status, s.error, s.opened_at, s.closed_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		ORDER BY s.opened_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var opened int64
		var closed sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Local, &r.Peer, &r.Protocol, &r.Version, &r.Status, &r.Error, &opened, &closed, &r.Messages); err != nil {
			return nil, err
		}
		r.OpenedAt = time.Unix(0, opened)
		if closed.Valid {
			t := time.Unix(0, closed.Int64)
			r.ClosedAt = &t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Messages returns up to limit messages of a session in arrival order.
func (j *Journal) Messages(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := j.db.Query(ctx, `
		SELECT id, session_id, kind, direction, flag, text, at
		FROM messages
		WHERE session_id = ?
		ORDER BY at, id
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		var m MessageRecord
		var at int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Kind, &m.Direction, &m.Flag, &m.Text, &at); err != nil {
			return nil, err
		}
		m.At = time.Unix(0, at)
		records = append(records, m)
	}
	return records, rows.Err()
}

// Prune deletes messages older than before and sessions closed before it.
// It returns the number of deleted rows.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixNano()
	var total int64

	err := j.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE at < ?", cutoff)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		total += n

		res, err = tx.ExecContext(ctx, "DELETE FROM sessions WHERE closed_at IS NOT NULL AND closed_at < ?", cutoff)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		total += n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}

	if total > 0 {
		log.Info().Int64("rows", total).Time("before", before).Msg("journal pruned")
	}
	return total, nil
}
