// Package vvindex implements VersionedValueIndex: a disk-backed,
// long-keyed value list with an overlay buffering mode that lets a
// reconnect/rebuild process write a consistent snapshot while
// concurrent writers keep mutating the live index, then atomically
// merges the overlay back down.
package vvindex

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hgraph-labs/corestate/archive"
	"github.com/hgraph-labs/corestate/persist"
)

type overlayState int32

const (
	stateBase overlayState = iota
	stateOverlayActive
	stateWriteDown
)

func (s overlayState) String() string {
	switch s {
	case stateBase:
		return "BASE"
	case stateOverlayActive:
		return "OVERLAY_ACTIVE"
	case stateWriteDown:
		return "WRITE_DOWN"
	default:
		return "UNKNOWN"
	}
}

// VersionedValueIndex is an explicit three-state machine: BASE,
// OVERLAY_ACTIVE, and the internal transient WRITE_DOWN state entered
// by SetOverlay(false) while it drains the overlay into the base.
type VersionedValueIndex struct {
	base persist.Index

	state   atomic.Int32
	overlay atomic.Pointer[OverlayBuffer]

	// drained keeps the most recently written-down overlay so its
	// retired-value memo stays consultable after the overlay itself is
	// detached from the write path.
	drained atomic.Pointer[OverlayBuffer]

	// transMu is held for the whole duration of a SetOverlay(false)
	// write-down: the goroutine that flips the overlay off drives the
	// drain to completion on its own thread, and a racing transition
	// in either direction waits here. Concurrent Get/Put/PutIfEqual
	// never take transMu — only the two SetOverlay directions do.
	transMu sync.Mutex

	logger            *slog.Logger
	retiredCacheBytes int
}

// Option configures a VersionedValueIndex at construction.
type Option func(*VersionedValueIndex)

// WithLogger installs a *slog.Logger for write-down diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(v *VersionedValueIndex) { v.logger = l }
}

// WithRetiredValueCache enables each overlay's best-effort
// recently-drained-value memo (see OverlayBuffer.LastRetired), sized
// in bytes.
func WithRetiredValueCache(sizeBytes int) Option {
	return func(v *VersionedValueIndex) { v.retiredCacheBytes = sizeBytes }
}

// New wraps base as a VersionedValueIndex, starting in the BASE state.
func New(base persist.Index, opts ...Option) *VersionedValueIndex {
	v := &VersionedValueIndex{
		base:   base,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	for _, o := range opts {
		o(v)
	}
	v.state.Store(int32(stateBase))
	return v
}

func (v *VersionedValueIndex) currentOverlay() *OverlayBuffer {
	return v.overlay.Load()
}

// Get returns the value at i, merging the overlay over the base while
// overlay mode is active, including during a write-down.
func (v *VersionedValueIndex) Get(i int64) (int64, bool) {
	if ov := v.currentOverlay(); ov != nil {
		return ov.Get(i)
	}
	return v.base.Get(i)
}

// Put writes v at i, to the overlay if active, else directly to base.
// During a write-down the overlay may refuse an index it has already
// drained; the write then lands in the base, which is ordered after the
// drain's own base write for that index.
func (v *VersionedValueIndex) Put(i, val int64) {
	if ov := v.currentOverlay(); ov != nil && ov.Put(i, val) {
		return
	}
	v.base.Put(i, val)
}

// PutIfEqual performs a linearizable conditional write, routed to the
// overlay (merging reads against base) when active, else straight to
// base. Like Put, it falls through to the base for an index the
// overlay has already drained.
func (v *VersionedValueIndex) PutIfEqual(i, expected, newVal int64) bool {
	if ov := v.currentOverlay(); ov != nil {
		if ok, handled := ov.PutIfEqual(i, expected, newVal); handled {
			return ok
		}
	}
	return v.base.PutIfEqual(i, expected, newVal)
}

// Size returns max(overlay.size, base.size) while overlay mode is
// active, else just base.Size().
func (v *VersionedValueIndex) Size() int64 {
	if ov := v.currentOverlay(); ov != nil {
		if os := ov.approxSize(); os > v.base.Size() {
			return os
		}
	}
	return v.base.Size()
}

// State reports the current overlay state, mostly useful for tests and
// observability.
func (v *VersionedValueIndex) State() string {
	return overlayState(v.state.Load()).String()
}

// SetOverlay drives the BASE <-> OVERLAY_ACTIVE transition. active=true
// activates the overlay (no-op if already active); active=false starts
// a write-down, draining the overlay into base before returning to
// BASE (no-op if already in BASE).
func (v *VersionedValueIndex) SetOverlay(active bool) error {
	if active {
		return v.activate()
	}
	return v.deactivate()
}

func (v *VersionedValueIndex) activate() error {
	v.transMu.Lock()
	defer v.transMu.Unlock()

	switch overlayState(v.state.Load()) {
	case stateOverlayActive:
		return nil
	case stateWriteDown:
		return fmt.Errorf("vvindex: set_overlay(true) racing a write-down: %w", ErrOverlayMisuse)
	}
	ob := newOverlayBuffer(v.base)
	if v.retiredCacheBytes > 0 {
		ob = ob.withRetiredCache(v.retiredCacheBytes)
	}
	v.overlay.Store(ob)
	v.state.Store(int32(stateOverlayActive))
	return nil
}

func (v *VersionedValueIndex) deactivate() (err error) {
	v.transMu.Lock()
	defer v.transMu.Unlock()

	switch overlayState(v.state.Load()) {
	case stateBase:
		return nil
	case stateWriteDown:
		return fmt.Errorf("vvindex: set_overlay(false) racing a write-down: %w", ErrOverlayMisuse)
	}

	v.state.Store(int32(stateWriteDown))
	ob := v.currentOverlay()

	defer func() {
		if r := recover(); r != nil {
			// Roll back to OVERLAY_ACTIVE. Each index is drained
			// independently, so a panic inside a base.Put leaves every
			// undrained slot intact and every drained one already safe
			// in the base; a retry of SetOverlay(false) picks up where
			// this attempt stopped.
			v.state.Store(int32(stateOverlayActive))
			err = fmt.Errorf("vvindex: write-down panicked, rolled back to overlay-active: %v", r)
			v.logger.Error("write-down failed", "panic", r)
		}
	}()

	ob.drainInto(v.base)
	v.drained.Store(ob)
	v.overlay.Store(nil)
	v.state.Store(int32(stateBase))
	return nil
}

// LastRetired reports the best-effort cached value most recently
// drained into the base for index i, when WithRetiredValueCache is
// enabled and a write-down has completed since construction. It is a
// hint only: the base remains the source of truth, and a miss says
// nothing about whether i was drained.
func (v *VersionedValueIndex) LastRetired(i int64) (int64, bool) {
	if ob := v.drained.Load(); ob != nil {
		return ob.LastRetired(i)
	}
	return 0, false
}

// WriteTo streams a consistent point-in-time view of the index
// (overlay merged over base if active) through a snappy-framed
// archive.Sink, so a snapshot consumer can pull the whole index
// without knowing anything about the framing.
func (v *VersionedValueIndex) WriteTo(w io.Writer) (int64, error) {
	size := v.Size()
	sink := archive.NewSink[int64, int64](w, encodeInt64Pair)
	var n int64
	for i := int64(0); i < size; i++ {
		val, ok := v.Get(i)
		if !ok {
			continue
		}
		if err := sink.Put(i, val); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
