package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/videa/internal/domain"
)

// ConfirmResult is returned by Confirm.
type ConfirmResult struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Success   bool           `json:"success"`
	Outcome   domain.Outcome `json:"outcome"`
	State     domain.State   `json:"state"`
	// Duplicate is set when the same decision had already been recorded.
	Duplicate bool `json:"duplicate"`
}

// Confirm records the user's enrollment decision.
//
// It is only valid while a recommendation is pending. Repeating the decision that
// was already recorded echoes the original outcome; the opposite decision, or any
// call before a recommendation exists, fails with an *domain.InvalidStateError.
func (e *Engine) Confirm(ctx context.Context, id string, confirmed bool) (ConfirmResult, error) {
	release, err := e.locker.Lock(ctx, id)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("lock session %s: %w", id, err)
	}
	defer release()

	loaded, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return ConfirmResult{}, err
	}

	switch {
	case loaded.State.IsTerminal():
		return e.repeatedDecision(ctx, loaded, confirmed)
	case loaded.State != domain.StateAwaitingConfirmation:
		return ConfirmResult{}, &domain.InvalidStateError{SessionID: id, State: loaded.State, Op: "confirm"}
	}

	bundle, ok := e.catalog.Bundle(loaded.BundleID)
	if !ok {
		return ConfirmResult{}, &domain.CatalogIntegrityError{Reason: "session references unknown bundle " + loaded.BundleID}
	}

	now := e.now()
	outcome := domain.OutcomeFor(confirmed)
	s := loaded.Clone()
	if err := s.Transition(outcome.State(), now); err != nil {
		return ConfirmResult{}, err
	}
	s.RecomputeCompletion()
	turn := s.AppendTurn(domain.RoleSystem, confirmationMessage(outcome, bundle), now)

	rec := domain.EnrollmentRecord{
		SessionID: s.ID,
		UserID:    s.UserID,
		Outcome:   outcome,
		ProfileID: s.MatchedProfileID,
		BundleID:  s.BundleID,
		Profile:   s.Profile.Clone(),
		CreatedAt: now,
	}
	var items []domain.EnrollmentItem
	if confirmed {
		items = domain.ItemsFor(rec, bundle)
	}

	if err := e.repo.Confirm(ctx, s, rec, items, turn); err != nil {
		if !errors.Is(err, domain.ErrVersionConflict) {
			return ConfirmResult{}, fmt.Errorf("record enrollment: %w", err)
		}
		// Another writer got there first; answer based on what it stored.
		e.logger.Warn("Enrollment raced with another writer", "session_id", id)
		current, gerr := e.repo.GetSession(ctx, id)
		if gerr != nil {
			return ConfirmResult{}, gerr
		}
		if !current.State.IsTerminal() {
			return ConfirmResult{}, fmt.Errorf("record enrollment: %w", err)
		}
		return e.repeatedDecision(ctx, current, confirmed)
	}

	e.logger.Info("Enrollment recorded",
		"session_id", s.ID,
		"user_id", s.UserID,
		"outcome", outcome,
		"bundle_id", s.BundleID,
		"items", len(items),
	)
	e.record(ctx, s, "outbound", "enrollment_"+string(outcome), turn.Text, nil)

	return ConfirmResult{
		SessionID: s.ID,
		Message:   turn.Text,
		Success:   true,
		Outcome:   outcome,
		State:     s.State,
	}, nil
}

func (e *Engine) repeatedDecision(ctx context.Context, s *domain.Session, confirmed bool) (ConfirmResult, error) {
	rec, err := e.repo.GetEnrollment(ctx, s.ID)
	if err != nil {
		return ConfirmResult{}, err
	}
	outcome := domain.OutcomeFor(confirmed)
	if rec == nil || rec.Outcome != outcome {
		return ConfirmResult{}, &domain.InvalidStateError{SessionID: s.ID, State: s.State, Op: "confirm " + string(outcome)}
	}

	msg := ""
	if t, ok := s.LastSystemTurn(); ok {
		msg = t.Text
	}
	e.record(ctx, s, "outbound", "enrollment_duplicate", msg, nil)
	return ConfirmResult{
		SessionID: s.ID,
		Message:   msg,
		Success:   true,
		Outcome:   rec.Outcome,
		State:     s.State,
		Duplicate: true,
	}, nil
}
