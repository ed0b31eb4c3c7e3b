package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotLoaded     = errors.New("dataset not loaded yet")
	ErrAlreadyLoaded = errors.New("dataset already loaded")
)
