package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, readers and remote clients
// return these (optionally wrapped) so the pipeline can decide whether a failure
// is per-record or fatal to the run.
//
//   - ErrNotFound: key does not exist in a store
//   - ErrConflict: write would replace a value the store keeps immutable
//   - ErrCorrupt: stored value exists but cannot be decoded
//   - ErrUnavailable: service or resource temporarily unavailable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrCorrupt     = errors.New("corrupt entry")
	ErrUnavailable = errors.New("unavailable")
)
