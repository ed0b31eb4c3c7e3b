package mapengine

import "errors"

// Sentinel kinds for engine errors.
var (
	ErrClosed     = errors.New("engine session closed")
	ErrEngine     = errors.New("engine reported an error")
	ErrBadMessage = errors.New("malformed engine message")
)
