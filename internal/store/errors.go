package store

import "errors"

// Sentinel error kinds surfaced to the core (spec §7).
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrStorage  = errors.New("storage error")
)
