package domain

import "errors"

var (
	// ErrIdentityMissing is returned when registration carries no
	// resolvable identity. Non-fatal: the directory still broadcasts.
	ErrIdentityMissing = errors.New("identity missing")

	// ErrParticipantUnavailable is returned when the callee has no live
	// entry in the presence directory at call time.
	ErrParticipantUnavailable = errors.New("participant unavailable")

	// ErrCallAlreadyActive is returned when a participant of the requested
	// call is already part of another active call.
	ErrCallAlreadyActive = errors.New("call already active")

	ErrCallNotFound      = errors.New("call not found")
	ErrInvalidTransition = errors.New("invalid call phase transition")

	// ErrNotRegistered is returned when a connection issues call traffic
	// before registering an identity.
	ErrNotRegistered = errors.New("connection has no registered identity")

	// ErrIdentityMismatch is returned when the identity declared inside a
	// message does not match the identity registered for the connection
	// that sent it.
	ErrIdentityMismatch = errors.New("declared identity does not match connection")
)
