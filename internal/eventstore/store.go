package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/globalecho/internal/config"
	_ "modernc.org/sqlite"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is one translation request handled by the gateway.
type Record struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	RequestID   string    `json:"request_id"`
	Status      string    `json:"status"`
	Text        string    `json:"text"`
	Translation string    `json:"translation,omitempty"`
	Error       string    `json:"error,omitempty"`
	Model       string    `json:"model,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps gateway sessions and their translation records in SQLite.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral mode keeps nothing.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    remote_addr TEXT,
    created_at TIMESTAMP NOT NULL,
    last_seen_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS translations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    request_id TEXT NOT NULL,
    status TEXT NOT NULL,
    source_text TEXT,
    translation TEXT,
    error TEXT,
    model TEXT,
    latency_ms INTEGER,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_translations_session_created ON translations(session_id, created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init event store schema: %w", err)
	}
	return nil
}

func (s *Store) enabled() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TouchSession creates the session row or refreshes its last-seen time.
func (s *Store) TouchSession(ctx context.Context, sessionID, remoteAddr string) error {
	if !s.enabled() {
		return nil
	}
	now := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, remote_addr, created_at, last_seen_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET remote_addr=excluded.remote_addr, last_seen_at=excluded.last_seen_at`,
		sessionID, remoteAddr, now, now)
	return err
}

// Record appends a translation record. The session must exist.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if !s.enabled() {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translations(session_id, request_id, status, source_text, translation, error, model, latency_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.RequestID, rec.Status, rec.Text, rec.Translation, rec.Error, rec.Model, rec.LatencyMS, rec.CreatedAt.UTC())
	return err
}

// ListSession returns up to limit records for a session, oldest first.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, request_id, status, source_text, translation, error, model, latency_ms, created_at
		 FROM translations WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var created string
		var translation, errText, model sql.NullString
		if err := rows.Scan(&r.ID, &r.SessionID, &r.RequestID, &r.Status, &r.Text, &translation, &errText, &model, &r.LatencyMS, &created); err != nil {
			return nil, err
		}
		r.Translation = translation.String
		r.Error = errText.String
		r.Model = model.String
		r.CreatedAt = parseTimestamp(created)
		records = append(records, r)
	}
	return records, rows.Err()
}

func parseTimestamp(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999 -0700 MST"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM translations WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY last_seen_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure verifies the store matches its retention mode.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
