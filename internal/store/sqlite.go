package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/videa/internal/domain"
	"github.com/ashureev/videa/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a turn is being written.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		state TEXT NOT NULL,
		profile_json TEXT NOT NULL DEFAULT '{}',
		matched_profile_id TEXT NOT NULL DEFAULT '',
		bundle_id TEXT NOT NULL DEFAULT '',
		completion INTEGER NOT NULL DEFAULT 0,
		exchange_count INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL REFERENCES sessions(session_id),
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		extracted_json TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		session_id TEXT NOT NULL UNIQUE REFERENCES sessions(session_id),
		user_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		bundle_id TEXT NOT NULL,
		profile_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enrollment_items (
		session_id TEXT NOT NULL REFERENCES enrollments(session_id),
		user_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		status TEXT NOT NULL,
		PRIMARY KEY (session_id, item_id)
	);
	CREATE INDEX IF NOT EXISTS idx_enrollment_items_user ON enrollment_items(user_id);
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

// CreateSession inserts a new session together with its initial turns.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	profileJSON, err := json.Marshal(sess.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if sess.Version == 0 {
		sess.Version = 1
	}

	return shared.RetryOnConflict(ctx, "CreateSession", writeAttempts, writeBaseDelay, func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sessions (
					session_id, user_id, state, profile_json, matched_profile_id, bundle_id,
					completion, exchange_count, version, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sess.ID, sess.UserID, string(sess.State), string(profileJSON),
				sess.MatchedProfileID, sess.BundleID, sess.Completion, sess.ExchangeCount,
				sess.Version, sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(),
			)
			if err != nil {
				return fmt.Errorf("insert session: %w", err)
			}
			return insertTurns(ctx, tx, sess.ID, sess.Transcript)
		})
	})
}

// GetSession loads a session with its full transcript.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, state, profile_json, matched_profile_id, bundle_id,
		       completion, exchange_count, version, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	var sess domain.Session
	var state, profileJSON string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.UserID, &state, &profileJSON, &sess.MatchedProfileID, &sess.BundleID,
		&sess.Completion, &sess.ExchangeCount, &sess.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.State = domain.State(state)
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	if err := json.Unmarshal([]byte(profileJSON), &sess.Profile); err != nil {
		return nil, fmt.Errorf("decode profile of session %s: %w", id, err)
	}

	turns, err := s.listTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Transcript = turns
	return &sess, nil
}

func (s *SQLiteStore) listTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, text, extracted_json, created_at
		FROM turns WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var role string
		var extracted sql.NullString
		var createdAt int64
		if err := rows.Scan(&t.Seq, &role, &t.Text, &extracted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = domain.Role(role)
		t.Extracted = extracted.String
		t.CreatedAt = time.UnixMilli(createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// SaveTurn persists a mutated session and its appended turns under an optimistic version check.
func (s *SQLiteStore) SaveTurn(ctx context.Context, sess *domain.Session, appended []domain.Turn) error {
	profileJSON, err := json.Marshal(sess.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	err = shared.RetryOnConflict(ctx, "SaveTurn", writeAttempts, writeBaseDelay, func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
				UPDATE sessions SET
					state = ?, profile_json = ?, matched_profile_id = ?, bundle_id = ?,
					completion = ?, exchange_count = ?, version = version + 1, updated_at = ?
				WHERE session_id = ? AND version = ?`,
				string(sess.State), string(profileJSON), sess.MatchedProfileID, sess.BundleID,
				sess.Completion, sess.ExchangeCount, sess.UpdatedAt.UnixMilli(),
				sess.ID, sess.Version,
			)
			if err != nil {
				return fmt.Errorf("update session: %w", err)
			}
			if err := s.expectOneRow(ctx, tx, res, sess.ID); err != nil {
				return err
			}
			return insertTurns(ctx, tx, sess.ID, appended)
		})
	})
	if err != nil {
		return err
	}
	sess.Version++
	return nil
}

// Confirm writes the enrollment, its items, the terminal state and the confirmation turn atomically.
func (s *SQLiteStore) Confirm(ctx context.Context, sess *domain.Session, rec domain.EnrollmentRecord, items []domain.EnrollmentItem, turn domain.Turn) error {
	profileJSON, err := json.Marshal(rec.Profile)
	if err != nil {
		return fmt.Errorf("encode profile snapshot: %w", err)
	}

	err = shared.RetryOnConflict(ctx, "Confirm", writeAttempts, writeBaseDelay, func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO enrollments (session_id, user_id, outcome, profile_id, bundle_id, profile_json, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				rec.SessionID, rec.UserID, string(rec.Outcome), rec.ProfileID, rec.BundleID,
				string(profileJSON), rec.CreatedAt.UnixMilli(),
			)
			if shared.IsSQLiteUniqueError(err) {
				return fmt.Errorf("enrollment for %s already recorded: %w", rec.SessionID, domain.ErrVersionConflict)
			}
			if err != nil {
				return fmt.Errorf("insert enrollment: %w", err)
			}

			for _, it := range items {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO enrollment_items (session_id, user_id, item_id, position, status)
					VALUES (?, ?, ?, ?, ?)`,
					it.SessionID, it.UserID, it.ItemID, it.Position, it.Status,
				); err != nil {
					return fmt.Errorf("insert enrollment item %s: %w", it.ItemID, err)
				}
			}

			res, err := tx.ExecContext(ctx, `
				UPDATE sessions SET state = ?, completion = ?, version = version + 1, updated_at = ?
				WHERE session_id = ? AND state = ? AND version = ?`,
				string(sess.State), sess.Completion, sess.UpdatedAt.UnixMilli(),
				sess.ID, string(domain.StateAwaitingConfirmation), sess.Version,
			)
			if err != nil {
				return fmt.Errorf("finalize session: %w", err)
			}
			if err := s.expectOneRow(ctx, tx, res, sess.ID); err != nil {
				return err
			}
			return insertTurns(ctx, tx, sess.ID, []domain.Turn{turn})
		})
	})
	if err != nil {
		return err
	}
	sess.Version++
	return nil
}

// GetEnrollment returns the enrollment of a session, or nil if none exists.
func (s *SQLiteStore) GetEnrollment(ctx context.Context, sessionID string) (*domain.EnrollmentRecord, error) {
	var rec domain.EnrollmentRecord
	var outcome, profileJSON string
	var createdAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, outcome, profile_id, bundle_id, profile_json, created_at
		FROM enrollments WHERE session_id = ?`, sessionID).Scan(
		&rec.SessionID, &rec.UserID, &outcome, &rec.ProfileID, &rec.BundleID, &profileJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan enrollment: %w", err)
	}
	rec.Outcome = domain.Outcome(outcome)
	rec.CreatedAt = time.UnixMilli(createdAt)
	if err := json.Unmarshal([]byte(profileJSON), &rec.Profile); err != nil {
		return nil, fmt.Errorf("decode enrollment profile: %w", err)
	}
	return &rec, nil
}

// ListEnrollmentItems returns the per-item rows of an enrollment ordered by position.
func (s *SQLiteStore) ListEnrollmentItems(ctx context.Context, sessionID string) ([]domain.EnrollmentItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, item_id, position, status
		FROM enrollment_items WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query enrollment items: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close enrollment item rows", "error", closeErr)
		}
	}()

	var items []domain.EnrollmentItem
	for rows.Next() {
		var it domain.EnrollmentItem
		if err := rows.Scan(&it.SessionID, &it.UserID, &it.ItemID, &it.Position, &it.Status); err != nil {
			return nil, fmt.Errorf("scan enrollment item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollment items: %w", err)
	}
	return items, nil
}

// ListSessions returns the most recently updated sessions.
func (s *SQLiteStore) ListSessions(ctx context.Context, state domain.State, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT s.session_id, s.user_id, s.state, s.matched_profile_id, s.completion,
		       s.exchange_count, s.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.session_id)
		FROM sessions s`
	args := []interface{}{}
	if state != "" {
		query += ` WHERE s.state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY s.updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var st string
		var updatedAt int64
		if err := rows.Scan(&sum.ID, &sum.UserID, &st, &sum.MatchedProfileID, &sum.Completion,
			&sum.ExchangeCount, &updatedAt, &sum.Turns); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.State = domain.State(st)
		sum.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// expectOneRow turns a zero-row guarded update into ErrSessionNotFound or ErrVersionConflict.
func (s *SQLiteStore) expectOneRow(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("check session existence: %w", err)
	}
	slog.Warn("guarded session update affected 0 rows", "session_id", id)
	return fmt.Errorf("session %s: %w", id, domain.ErrVersionConflict)
}

func insertTurns(ctx context.Context, tx *sql.Tx, sessionID string, turns []domain.Turn) error {
	for _, t := range turns {
		var extracted interface{}
		if t.Extracted != "" {
			extracted = t.Extracted
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, seq, role, text, extracted_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, t.Seq, string(t.Role), t.Text, extracted, t.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert turn %d: %w", t.Seq, err)
		}
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
