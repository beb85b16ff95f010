package domain

import "time"

// Outcome is the recorded enrollment decision.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDeclined  Outcome = "declined"
)

// OutcomeFor maps a confirm decision to its outcome.
func OutcomeFor(confirmed bool) Outcome {
	if confirmed {
		return OutcomeConfirmed
	}
	return OutcomeDeclined
}

// State returns the terminal session state matching the outcome.
func (o Outcome) State() State {
	if o == OutcomeConfirmed {
		return StateConfirmed
	}
	return StateDeclined
}

// EnrollmentRecord is the single decision stored for a session.
type EnrollmentRecord struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Outcome   Outcome   `json:"outcome"`
	ProfileID string    `json:"profile_id"`
	BundleID  string    `json:"bundle_id"`
	Profile   Profile   `json:"profile"`
	CreatedAt time.Time `json:"created_at"`
}

// EnrollmentItem is one content item a confirmed user was enrolled in.
type EnrollmentItem struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id"`
	Position  int    `json:"position"`
	Status    string `json:"status"`
}

// ItemsFor builds the enrollment rows for a confirmed bundle.
func ItemsFor(rec EnrollmentRecord, b ContentBundle) []EnrollmentItem {
	items := make([]EnrollmentItem, 0, len(b.Items))
	for i, it := range b.Items {
		items = append(items, EnrollmentItem{
			SessionID: rec.SessionID,
			UserID:    rec.UserID,
			ItemID:    it.ID,
			Position:  i + 1,
			Status:    "enrolled",
		})
	}
	return items
}
