package types

import "time"

// SessionStatus tracks the lifecycle of a cached platform session.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionInvalid SessionStatus = "invalid"
	SessionExpired SessionStatus = "expired"
)

// ValidationEvent is one entry in a session's append-only validation history.
type ValidationEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Method    string    `json:"method"`
}

// Validation history methods.
const (
	ValidationMethodFresh  = "fresh"
	ValidationMethodCached = "cached"
	ValidationMethodManual = "manual"
)

// SessionRecord is the cached authentication state for one logical session.
// Mutated only through the session cache; everything else reads copies.
type SessionRecord struct {
	SessionID           string            `json:"session_id"`
	Status              SessionStatus     `json:"status"`
	IsValidated         bool              `json:"is_validated"`
	LastValidationCheck time.Time         `json:"last_validation_check"`
	LastActivity        time.Time         `json:"last_activity"`
	ExpiresAt           time.Time         `json:"expires_at"`
	ValidationAttempts  int               `json:"validation_attempts"`
	ValidationHistory   []ValidationEvent `json:"validation_history"`
}

// ActiveAt reports whether the record can ever satisfy a cache hit at the
// given instant: active status, validated, and not past its TTL.
func (r SessionRecord) ActiveAt(now time.Time) bool {
	return r.Status == SessionActive && r.IsValidated && r.ExpiresAt.After(now)
}

// FreshAt additionally requires the last slow-path check to be within the
// revalidation window, i.e. the cached answer is still trustworthy.
func (r SessionRecord) FreshAt(now time.Time, revalidationWindow time.Duration) bool {
	if !r.ActiveAt(now) {
		return false
	}
	return now.Sub(r.LastValidationCheck) < revalidationWindow
}
