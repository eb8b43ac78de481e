package corestate

import "errors"

// Sentinel errors returned by the public FCMap API. All but
// ErrGCWorkerFault indicate a caller logic bug; a GC worker fault
// poisons the map and is surfaced on every subsequent call.
var (
	ErrImmutable       = errors.New("corestate: copy is immutable")
	ErrAlreadyReleased = errors.New("corestate: copy already released")
	ErrNullKey         = errors.New("corestate: nil key")
	ErrNullValue       = errors.New("corestate: nil value")
	ErrGCWorkerFault   = errors.New("corestate: gc worker faulted, map poisoned")
)
