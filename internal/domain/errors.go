package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrGatewayUnavailable marks a failed or timed-out language model call.
	ErrGatewayUnavailable = errors.New("language model gateway unavailable")

	// ErrInvalidState matches any *InvalidStateError via errors.Is.
	ErrInvalidState = errors.New("invalid session state")

	// ErrCatalogIntegrity matches any *CatalogIntegrityError via errors.Is.
	ErrCatalogIntegrity = errors.New("catalog integrity violation")

	// ErrExtractionParse matches any *ExtractionParseError via errors.Is.
	ErrExtractionParse = errors.New("extraction output unparseable")

	// ErrVersionConflict is returned by the store when an optimistic version check fails.
	ErrVersionConflict = errors.New("session version conflict")
)

// InvalidStateError reports an operation attempted in a state that does not allow it.
type InvalidStateError struct {
	SessionID string
	State     State
	Op        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("session %s: %s not allowed in state %s", e.SessionID, e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// CatalogIntegrityError reports a catalog that references missing or malformed entries.
type CatalogIntegrityError struct {
	Reason string
}

func (e *CatalogIntegrityError) Error() string {
	return "catalog integrity: " + e.Reason
}

func (e *CatalogIntegrityError) Is(target error) bool {
	return target == ErrCatalogIntegrity
}

// ExtractionParseError reports model output that did not contain a usable JSON object.
type ExtractionParseError struct {
	Raw string
	Err error
}

func (e *ExtractionParseError) Error() string {
	if e.Err != nil {
		return "parse extraction output: " + e.Err.Error()
	}
	return "parse extraction output: no JSON object found"
}

func (e *ExtractionParseError) Unwrap() error {
	return e.Err
}

func (e *ExtractionParseError) Is(target error) bool {
	return target == ErrExtractionParse
}
