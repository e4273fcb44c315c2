package broker

import "errors"

var (
	// ErrInvalidEvent rejects a malformed envelope at Emit. Invalid events
	// are never queued.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrChannelNotFound is returned by lookups and Subscribe for unknown
	// channel ids.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrDuplicateChannel is returned when registering an id that already
	// exists.
	ErrDuplicateChannel = errors.New("channel already registered")

	// ErrRateLimited is returned by Emit when per-source admission is
	// enabled and the source exceeded its budget.
	ErrRateLimited = errors.New("source rate limit exceeded")
)
