package domain

import (
	"time"
)

// State is the lifecycle position of a conversation session.
type State string

const (
	StateStarted              State = "STARTED"
	StateCollecting           State = "COLLECTING"
	StateMatched              State = "MATCHED"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateConfirmed            State = "CONFIRMED"
	StateDeclined             State = "DECLINED"
)

// transitions lists the allowed edges of the session state machine.
var transitions = map[State][]State{
	StateStarted:              {StateCollecting},
	StateCollecting:           {StateCollecting, StateMatched},
	StateMatched:              {StateAwaitingConfirmation},
	StateAwaitingConfirmation: {StateConfirmed, StateDeclined},
}

// CanTransition reports whether the edge from -> to is part of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for CONFIRMED and DECLINED.
func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateDeclined
}

// AcceptsTurns returns true while the profile is still being collected.
func (s State) AcceptsTurns() bool {
	return s == StateStarted || s == StateCollecting
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateStarted, StateCollecting, StateMatched, StateAwaitingConfirmation, StateConfirmed, StateDeclined:
		return true
	}
	return false
}

// Role identifies who authored a turn.
type Role string

const (
	RoleHuman  Role = "human"
	RoleSystem Role = "system"
)

// Turn is one append-only entry of a session transcript.
type Turn struct {
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Extracted string    `json:"extracted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the persisted state of one conversation.
type Session struct {
	ID               string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	State            State     `json:"state"`
	Transcript       []Turn    `json:"transcript"`
	Profile          Profile   `json:"profile"`
	MatchedProfileID string    `json:"matched_profile_id,omitempty"`
	BundleID         string    `json:"bundle_id,omitempty"`
	Completion       int       `json:"completion_percentage"`
	ExchangeCount    int       `json:"exchange_count"`
	Version          int64     `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Transition moves the session along an allowed edge.
func (s *Session) Transition(to State, now time.Time) error {
	if !CanTransition(s.State, to) {
		return &InvalidStateError{SessionID: s.ID, State: s.State, Op: "transition to " + string(to)}
	}
	s.State = to
	s.UpdatedAt = now
	return nil
}

// AppendTurn adds a turn with the next sequence number and returns it.
func (s *Session) AppendTurn(role Role, text string, now time.Time) Turn {
	t := Turn{
		Seq:       s.NextSeq(),
		Role:      role,
		Text:      text,
		CreatedAt: now,
	}
	s.Transcript = append(s.Transcript, t)
	s.UpdatedAt = now
	return t
}

// NextSeq returns the sequence number the next turn will get.
func (s *Session) NextSeq() int {
	if len(s.Transcript) == 0 {
		return 1
	}
	return s.Transcript[len(s.Transcript)-1].Seq + 1
}

// LastSystemTurn returns the most recent system-authored turn, if any.
func (s *Session) LastSystemTurn() (Turn, bool) {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleSystem {
			return s.Transcript[i], true
		}
	}
	return Turn{}, false
}

// RecomputeCompletion refreshes the derived completion percentage.
// It never decreases and is forced to 100 once confirmed.
func (s *Session) RecomputeCompletion() {
	pct := s.Profile.Completion()
	if s.State == StateConfirmed {
		pct = 100
	}
	if pct < s.Completion {
		pct = s.Completion
	}
	s.Completion = pct
}

// Clone returns a deep copy so a turn can be worked on without touching the loaded state.
func (s *Session) Clone() *Session {
	c := *s
	c.Transcript = append([]Turn(nil), s.Transcript...)
	c.Profile = s.Profile.Clone()
	return &c
}
