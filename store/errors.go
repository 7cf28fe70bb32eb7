package store

import "errors"

var (
	// ErrStoreUnavailable means no partition is open or the engine could not
	// open one. All local operations fail with it until SelectTenant succeeds.
	ErrStoreUnavailable  = errors.New("local store unavailable")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrMissingID         = errors.New("record has no identifier")
	ErrNotFound          = errors.New("record not found")
)
