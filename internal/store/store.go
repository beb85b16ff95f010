// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/videa/internal/domain"
)

// SessionSummary is a transcript-free listing row.
type SessionSummary struct {
	ID               string
	UserID           string
	State            domain.State
	MatchedProfileID string
	Completion       int
	ExchangeCount    int
	Turns            int
	UpdatedAt        time.Time
}

// Repository defines the interface for persisting sessions and enrollments.
type Repository interface {
	// CreateSession inserts a new session together with its initial turns.
	CreateSession(ctx context.Context, s *domain.Session) error

	// GetSession loads a session with its full transcript.
	// Returns domain.ErrSessionNotFound for unknown ids.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// SaveTurn persists a mutated session and the turns appended to it.
	// The write only happens if the stored version still equals s.Version;
	// otherwise domain.ErrVersionConflict is returned. On success s.Version is bumped.
	SaveTurn(ctx context.Context, s *domain.Session, appended []domain.Turn) error

	// Confirm records the enrollment decision, its items, the terminal session
	// state and the confirmation turn in one transaction.
	Confirm(ctx context.Context, s *domain.Session, rec domain.EnrollmentRecord, items []domain.EnrollmentItem, turn domain.Turn) error

	// GetEnrollment returns the enrollment of a session, or nil if none exists.
	GetEnrollment(ctx context.Context, sessionID string) (*domain.EnrollmentRecord, error)

	// ListEnrollmentItems returns the per-item rows of a confirmed enrollment.
	ListEnrollmentItems(ctx context.Context, sessionID string) ([]domain.EnrollmentItem, error)

	// ListSessions returns the most recently updated sessions, optionally filtered by state.
	ListSessions(ctx context.Context, state domain.State, limit int) ([]SessionSummary, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
