package sessions

import "errors"

var (
	// ErrNotFound means the session exists in neither store.
	ErrNotFound = errors.New("session not found")
	// ErrNotResumable means the session was found but its lifecycle state
	// forbids resumption.
	ErrNotResumable = errors.New("session not resumable")
	// ErrResumeFailed is surfaced by the service when a resume could not be
	// completed; the UI routes the user to session start.
	ErrResumeFailed = errors.New("resume failed")
	// ErrRemoteUnavailable wraps a driver or network failure reaching the
	// remote store. Read paths absorb it and degrade to cache-only; the
	// sync queue retries on the next mutation.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	// ErrInvalidInput marks a malformed request.
	ErrInvalidInput = errors.New("invalid input")
)
