package call

import "errors"

var (
	// ErrNotFound is returned when the referenced call id is unknown (never
	// created, or already evicted after its terminal grace window).
	ErrNotFound = errors.New("call: not found")
	// ErrDuplicateCallID is returned by Initiate while the same id is still
	// live. Callers must generate a fresh id per attempt.
	ErrDuplicateCallID = errors.New("call: duplicate call id")
	// ErrCalleeOffline is returned by Initiate when the callee has no live
	// presence entry. Calls are never queued for offline identities.
	ErrCalleeOffline = errors.New("call: callee offline")
	// ErrNotCallee is returned when an identity other than the callee tries to
	// answer or reject.
	ErrNotCallee = errors.New("call: not the callee")
	// ErrNotParticipant is returned when an identity that is neither caller nor
	// callee acts on a call.
	ErrNotParticipant = errors.New("call: not a participant")
	// ErrInvalidState is returned when the action is not legal in the session's
	// current state. Treated as a soft error by the relay layer.
	ErrInvalidState = errors.New("call: invalid state")
)
