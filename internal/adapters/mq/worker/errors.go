package worker

import "errors"

// Sentinel kinds for loop errors.
var (
	ErrHandlerPanic = errors.New("event handler panicked")
)
