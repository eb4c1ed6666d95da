package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/grow-coach/internal/domain"
	"github.com/ashureev/grow-coach/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	commitMaxRetries = 3
	commitBaseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY under WAL
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS coaching_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		coach_type TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS coaching_messages (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		stage TEXT,
		state_json TEXT,
		coach_type TEXT,
		PRIMARY KEY (user_id, session_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_coaching_messages_order
		ON coaching_messages(user_id, session_id, created_at);

	CREATE TABLE IF NOT EXISTS face_sheets (
		user_id TEXT PRIMARY KEY,
		data_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves session metadata by id.
func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (*domain.SessionRecord, error) {
	query := `
		SELECT user_id, session_id, stage, coach_type, created_at, updated_at
		FROM coaching_sessions WHERE user_id = ? AND session_id = ?`

	var rec domain.SessionRecord
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID, sessionID).Scan(
		&rec.UserID, &rec.SessionID, &rec.Stage, &rec.CoachType, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

const mergeSessionSQL = `
	INSERT INTO coaching_sessions (user_id, session_id, stage, coach_type, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, session_id) DO UPDATE SET
		stage = COALESCE(NULLIF(excluded.stage, ''), coaching_sessions.stage),
		coach_type = COALESCE(NULLIF(excluded.coach_type, ''), coaching_sessions.coach_type),
		updated_at = MAX(excluded.updated_at, coaching_sessions.updated_at)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func mergeSession(ctx context.Context, db execer, rec *domain.SessionRecord) error {
	now := time.Now()
	createdAt, updatedAt := rec.CreatedAt, rec.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}
	_, err := db.ExecContext(ctx, mergeSessionSQL,
		rec.UserID, rec.SessionID, rec.Stage, rec.CoachType,
		createdAt.UnixMilli(), updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("merge session: %w", err)
	}
	return nil
}

// MergeSession creates the session or updates its non-empty fields.
func (s *SQLiteStore) MergeSession(ctx context.Context, rec *domain.SessionRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return mergeSession(ctx, s.db, rec)
}

// ListMessages returns a session's messages in ascending CreatedAt order.
func (s *SQLiteStore) ListMessages(ctx context.Context, userID, sessionID string, q MessageQuery) ([]domain.MessageRecord, error) {
	query := `
		SELECT user_id, session_id, message_id, role, content, created_at,
		       stage, state_json, coach_type
		FROM coaching_messages
		WHERE user_id = ? AND session_id = ?`
	args := []any{userID, sessionID}

	if q.Before > 0 {
		query += ` AND created_at < ?`
		args = append(args, q.Before)
	}
	// Newest first so LIMIT keeps the most recent page; reversed below.
	query += ` ORDER BY created_at DESC, message_id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []domain.MessageRecord
	for rows.Next() {
		var rec domain.MessageRecord
		var stage, stateJSON, coachType sql.NullString
		if err := rows.Scan(
			&rec.UserID, &rec.SessionID, &rec.MessageID, &rec.Role, &rec.Content, &rec.CreatedAt,
			&stage, &stateJSON, &coachType,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		rec.Stage = stage.String
		rec.StateJSON = stateJSON.String
		rec.CoachType = coachType.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CommitTurn writes the batch in a single transaction.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) CommitTurn(ctx context.Context, batch TurnBatch) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := shared.RetryOnConflict(ctx, commitMaxRetries, commitBaseDelay,
		func(attempt int, delay time.Duration, err error) {
			slog.Debug("CommitTurn failed with SQLITE_BUSY, retrying",
				"user_id", batch.Session.UserID,
				"session_id", batch.Session.SessionID,
				"attempt", attempt,
				"delay", delay,
				"error", err)
		},
		func() error { return s.commitTurnOnce(ctx, batch) },
	)
	if err != nil {
		return fmt.Errorf("commit turn for %s/%s: %w", batch.Session.UserID, batch.Session.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) commitTurnOnce(ctx context.Context, batch TurnBatch) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back turn batch", "error", rbErr)
			}
		}
	}()

	const insertMessage = `
		INSERT INTO coaching_messages (
			user_id, session_id, message_id, role, content, created_at,
			stage, state_json, coach_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, m := range batch.Messages {
		if _, err = tx.ExecContext(ctx, insertMessage,
			m.UserID, m.SessionID, m.MessageID, m.Role, m.Content, m.CreatedAt,
			nullString(m.Stage), nullString(m.StateJSON), nullString(m.CoachType),
		); err != nil {
			return fmt.Errorf("insert message %s: %w", m.MessageID, err)
		}
	}

	if err = mergeSession(ctx, tx, &batch.Session); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetFaceSheet retrieves a user's stored face sheet.
func (s *SQLiteStore) GetFaceSheet(ctx context.Context, userID string) (*domain.FaceSheetRecord, error) {
	query := `SELECT user_id, data_json, created_at, updated_at FROM face_sheets WHERE user_id = ?`

	var rec domain.FaceSheetRecord
	var data string
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&rec.UserID, &data, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan face sheet row: %w", err)
	}

	rec.Data = []byte(data)
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

// MergeFaceSheet creates or replaces a user's face sheet data.
func (s *SQLiteStore) MergeFaceSheet(ctx context.Context, rec *domain.FaceSheetRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO face_sheets (user_id, data_json, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		data_json = excluded.data_json,
		updated_at = excluded.updated_at`

	now := time.Now()
	createdAt, updatedAt := rec.CreatedAt, rec.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}

	if _, err := s.db.ExecContext(ctx, query,
		rec.UserID, string(rec.Data), createdAt.UnixMilli(), updatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("merge face sheet: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
