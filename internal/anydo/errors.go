package anydo

import (
	"fmt"
	"time"
)

// Authentication failures are terminal: the caller must restart Login.
var (
	// ErrAccountNotFound is returned when the existence check answers
	// explicitly that no account exists for the email.
	ErrAccountNotFound = fmt.Errorf("account not found")

	// ErrCodeExhausted is returned after three failed verification attempts
	// within one Login call. A new Login call starts a fresh budget and
	// triggers a fresh code.
	ErrCodeExhausted = fmt.Errorf("verification code attempts exhausted")

	// ErrSessionInvalid is returned when a restored session fails its
	// validation request. The persisted session has already been discarded.
	ErrSessionInvalid = fmt.Errorf("persisted session no longer valid")

	// ErrLoginInProgress is returned when Login is called while a previous
	// login on the same client is still verifying a code.
	ErrLoginInProgress = fmt.Errorf("login already in progress")

	// ErrNotAuthenticated is returned by operations that require a
	// completed login.
	ErrNotAuthenticated = fmt.Errorf("not authenticated")

	// ErrNoWatermark is a usage error: incremental sync was requested but
	// no previous sync has recorded a watermark.
	ErrNoWatermark = fmt.Errorf("incremental sync requires a previous sync watermark")
)

// AuthError wraps a terminal authentication failure with the state the
// machine was in when it occurred.
type AuthError struct {
	State State
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed in state %s: %v", e.State, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SyncTimeoutError is returned when a sync job never reached a terminal
// state within its mode's deadline. It is distinct from a hard sync error
// so the orchestration layer can fall back (incremental → full) instead of
// treating it as data corruption.
type SyncTimeoutError struct {
	Mode     Mode
	Deadline time.Duration
}

func (e *SyncTimeoutError) Error() string {
	return fmt.Sprintf("%s sync job did not complete within %s", e.Mode, e.Deadline)
}
