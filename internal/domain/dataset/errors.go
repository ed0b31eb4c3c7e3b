package dataset

import "errors"

// Sentinel kinds for dataset errors. Callers use errors.Is to tell a network
// problem from a malformed document; both are recoverable.
var (
	ErrFetch = errors.New("dataset fetch failed")
	ErrParse = errors.New("dataset parse failed")
)
