// Package record persists the event batches relayed through a sync session
// in SQLite and replays them in order.
package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/pagesync/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	stopped_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_recordings_session ON recordings(session_id);

CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY,
	recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	at           INTEGER NOT NULL,
	document_id  TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL,
	UNIQUE (recording_id, seq)
);
`

// ErrRecordingNotFound is returned for an unknown recording id.
type ErrRecordingNotFound struct {
	ID string
}

func (e *ErrRecordingNotFound) Error() string {
	return fmt.Sprintf("record: recording %s not found", e.ID)
}

// ErrRecordingStopped is returned when appending to a stopped recording.
var ErrRecordingStopped = errors.New("record: recording stopped")

// Recording is one recorded stretch of a session.
type Recording struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	StartedAt time.Time  `json:"startedAt"`
	StoppedAt *time.Time `json:"stoppedAt,omitempty"`
	Batches   int        `json:"batches"`
}

// Batch is one recorded protocol message.
type Batch struct {
	ID          string           `json:"id"`
	RecordingID string           `json:"recordingId"`
	Seq         int              `json:"seq"`
	At          time.Time        `json:"at"`
	Message     protocol.Message `json:"message"`
}

type config struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	logger      *slog.Logger
	now         func() time.Time
}

func defaults() config {
	return config{
		busyTimeout: 10_000,
		synchronous: "NORMAL",
		logger:      slog.Default(),
		now:         time.Now,
	}
}

// Option configures a Store.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// Store is the SQLite-backed recording store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (and migrates) the store at path. ":memory:" opens a private
// in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}
	db, err := openDB(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: cfg.logger, now: cfg.now}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Start opens a new recording for sessionID.
func (s *Store) Start(ctx context.Context, sessionID string) (Recording, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Recording{}, fmt.Errorf("record: id: %w", err)
	}
	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (id, session_id, started_at) VALUES (?, ?, ?)`,
		id.String(), sessionID, now.UnixMilli()); err != nil {
		return Recording{}, fmt.Errorf("record: start: %w", err)
	}
	s.logger.Info("record: recording started", "recording", id.String(), "session", sessionID)
	return Recording{ID: id.String(), SessionID: sessionID, StartedAt: now.Truncate(time.Millisecond)}, nil
}

// Stop closes a recording. Stopping twice is a no-op.
func (s *Store) Stop(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET stopped_at = COALESCE(stopped_at, ?) WHERE id = ?`,
		s.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("record: stop: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrRecordingNotFound{ID: id}
	}
	return nil
}

// Append stores msg as the next batch of the recording.
func (s *Store) Append(ctx context.Context, recordingID string, msg protocol.Message) (Batch, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Batch{}, fmt.Errorf("record: encode: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Batch{}, fmt.Errorf("record: id: %w", err)
	}
	at := s.now().UTC()
	b := Batch{ID: id.String(), RecordingID: recordingID, At: at.Truncate(time.Millisecond), Message: msg}

	err = runTx(ctx, s.db, func(tx *sql.Tx) error {
		var stopped sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT stopped_at FROM recordings WHERE id = ?`, recordingID).Scan(&stopped)
		if errors.Is(err, sql.ErrNoRows) {
			return &ErrRecordingNotFound{ID: recordingID}
		}
		if err != nil {
			return fmt.Errorf("record: append: %w", err)
		}
		if stopped.Valid {
			return ErrRecordingStopped
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM batches WHERE recording_id = ?`, recordingID).Scan(&b.Seq); err != nil {
			return fmt.Errorf("record: append: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batches (id, recording_id, seq, at, document_id, message) VALUES (?, ?, ?, ?, ?, ?)`,
			b.ID, recordingID, b.Seq, at.UnixMilli(), msg.DocumentID, string(raw)); err != nil {
			return fmt.Errorf("record: append: %w", err)
		}
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Get returns one recording.
func (s *Store) Get(ctx context.Context, id string) (Recording, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.session_id, r.started_at, r.stopped_at,
		       (SELECT COUNT(*) FROM batches b WHERE b.recording_id = r.id)
		FROM recordings r WHERE r.id = ?`, id)
	r, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, &ErrRecordingNotFound{ID: id}
	}
	if err != nil {
		return Recording{}, fmt.Errorf("record: get: %w", err)
	}
	return r, nil
}

// Recordings lists the recordings of sessionID, every recording when empty,
// oldest first.
func (s *Store) Recordings(ctx context.Context, sessionID string) ([]Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.session_id, r.started_at, r.stopped_at,
		       (SELECT COUNT(*) FROM batches b WHERE b.recording_id = r.id)
		FROM recordings r
		WHERE ? = '' OR r.session_id = ?
		ORDER BY r.started_at, r.id`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("record: list: %w", err)
	}
	defer rows.Close()
	var out []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("record: list: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Batches returns the batches of a recording in sequence order.
func (s *Store) Batches(ctx context.Context, recordingID string) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, at, message FROM batches WHERE recording_id = ? ORDER BY seq`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("record: batches: %w", err)
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		var (
			b   Batch
			at  int64
			raw string
		)
		if err := rows.Scan(&b.ID, &b.Seq, &at, &raw); err != nil {
			return nil, fmt.Errorf("record: batches: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &b.Message); err != nil {
			return nil, fmt.Errorf("record: batch %d: %w", b.Seq, err)
		}
		b.RecordingID = recordingID
		b.At = time.UnixMilli(at).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// Delete removes a recording and its batches.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("record: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrRecordingNotFound{ID: id}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(sc scanner) (Recording, error) {
	var (
		r       Recording
		started int64
		stopped sql.NullInt64
	)
	if err := sc.Scan(&r.ID, &r.SessionID, &started, &stopped, &r.Batches); err != nil {
		return Recording{}, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	if stopped.Valid {
		t := time.UnixMilli(stopped.Int64).UTC()
		r.StoppedAt = &t
	}
	return r, nil
}
