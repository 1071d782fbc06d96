package domain

import "errors"

// Sentinel errors for the client domain. These provide consistent, checkable
// errors for failures the caller is expected to branch on.
var (
	// ErrUnauthorized means the server rejected the bearer credential. A stale
	// or revoked token cannot self-heal, so callers react by forcing logout.
	ErrUnauthorized = errors.New("credential rejected by server")

	// ErrNotLoggedIn is returned by operations that require a live identity.
	ErrNotLoggedIn = errors.New("no identity: not logged in")

	// ErrNotConnected is returned by realtime operations that need a live
	// channel and cannot defer.
	ErrNotConnected = errors.New("realtime channel not connected")

	// ErrRoomNotFound is returned when the server reports an unknown room.
	ErrRoomNotFound = errors.New("room not found")
)
