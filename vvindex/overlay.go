package vvindex

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/hgraph-labs/corestate/internal/xcache"
	"github.com/hgraph-labs/corestate/persist"
)

// slotValue is the immutable payload an overlaySlot's pointer swaps
// between. Bundling presence into the pointer itself (nil == absent)
// lets Get/PutIfEqual observe (present, value) as one atomic unit —
// PutIfEqual must be linearizable, which a separate
// presence-bool-plus-int64 pair could never guarantee.
type slotValue struct {
	val int64
}

type overlaySlot struct {
	p atomic.Pointer[slotValue]
}

// drainedSlot is the sentinel installed in a slot once write-down has
// moved its value into the base. A writer that loses a CAS against it
// knows the overlay no longer owns this index and must address the
// base directly; a reader treats it as absent and falls through to the
// base, which the drain is guaranteed to have populated before
// publishing the sentinel.
var drainedSlot = &slotValue{}

// OverlayBuffer is the insert-only delta map layered atop a base
// index during write-down. It is always constructed bound to the base
// it overlays, since PutIfEqual must be able to fall
// back to the base's current value when the overlay itself has never
// been written at that index.
type OverlayBuffer struct {
	base persist.Index

	mu    sync.RWMutex
	slots map[int64]*overlaySlot

	// sealed flips to true (under mu) at the start of a write-down.
	// From that point loadOrCreate refuses to mint new slots, so the
	// drain works over a frozen slot set: a writer arriving at a
	// never-written index mid-drain is routed to the base instead,
	// which is exactly where the index's value lives once the drain
	// completes.
	sealed bool

	// retired is an optional fastcache-backed memo of values this
	// buffer has drained into base. It is never consulted by Get — base
	// remains the single source of truth once a
	// value has drained — it only lets a caller that wants a cheap,
	// best-effort "what did write-down just commit for index i" read
	// avoid a round trip through a potentially disk-backed base.
	retired *xcache.Cache
}

func newOverlayBuffer(base persist.Index) *OverlayBuffer {
	return &OverlayBuffer{base: base, slots: make(map[int64]*overlaySlot)}
}

// withRetiredCache enables the retired-value memo, sized in bytes.
func (b *OverlayBuffer) withRetiredCache(sizeBytes int) *OverlayBuffer {
	b.retired = xcache.New(sizeBytes)
	return b
}

// LastRetired returns the best-effort cached value most recently
// drained for index i, if the retired-value cache is enabled and still
// holds it.
func (b *OverlayBuffer) LastRetired(i int64) (int64, bool) {
	if b.retired == nil {
		return 0, false
	}
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(i))
	raw, ok := b.retired.Get(nil, key[:])
	if !ok || len(raw) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(raw)), true
}

func (b *OverlayBuffer) load(i int64) *overlaySlot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slots[i]
}

// loadOrCreate returns the slot for i, minting one if absent. Returns
// nil once the buffer is sealed: no new slots may appear mid-drain.
func (b *OverlayBuffer) loadOrCreate(i int64) *overlaySlot {
	if s := b.load(i); s != nil {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.slots[i]; ok {
		return s
	}
	if b.sealed {
		return nil
	}
	s := &overlaySlot{}
	b.slots[i] = s
	return s
}

// Get returns the overlay value for i if present, otherwise falls
// through to the base. A drained slot reads as absent; the drain wrote
// its value into the base before publishing the sentinel, so the
// fall-through always observes the merged view.
func (b *OverlayBuffer) Get(i int64) (int64, bool) {
	if s := b.load(i); s != nil {
		if p := s.p.Load(); p != nil && p != drainedSlot {
			return p.val, true
		}
	}
	return b.base.Get(i)
}

// Put installs v into the overlay at i. It reports false when the
// overlay no longer owns the index (slot drained or buffer sealed), in
// which case the caller must write the base directly.
func (b *OverlayBuffer) Put(i int64, v int64) bool {
	slot := b.loadOrCreate(i)
	if slot == nil {
		return false
	}
	next := &slotValue{val: v}
	for {
		old := slot.p.Load()
		if old == drainedSlot {
			return false
		}
		if slot.p.CompareAndSwap(old, next) {
			return true
		}
	}
}

// PutIfEqual succeeds iff the merged (overlay-over-base) value at i
// equals expected at the linearization point — the atomic head-write
// on the overlay slot — then installs newVal into the overlay.
// handled reports false when the overlay no longer owns the
// index and the caller must run the conditional write against the base
// instead.
func (b *OverlayBuffer) PutIfEqual(i, expected, newVal int64) (ok, handled bool) {
	slot := b.loadOrCreate(i)
	if slot == nil {
		return false, false
	}
	for {
		old := slot.p.Load()
		if old == drainedSlot {
			return false, false
		}
		var observed int64
		if old != nil {
			observed = old.val
		} else {
			observed, _ = b.base.Get(i)
		}
		if observed != expected {
			return false, true
		}
		next := &slotValue{val: newVal}
		if slot.p.CompareAndSwap(old, next) {
			return true, true
		}
		// Someone else wrote this slot between our read and our CAS;
		// re-observe and retry against the fresh state.
	}
}

// approxSize returns one past the highest index the overlay currently
// holds an undrained value for (0 if none) — the "overlay.size" half of
// VersionedValueIndex.Size's max(overlay.size, base.size), in the same
// highest-index-plus-one units as the base's Size.
func (b *OverlayBuffer) approxSize() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int64
	for i, s := range b.slots {
		if p := s.p.Load(); p != nil && p != drainedSlot && i+1 > n {
			n = i + 1
		}
	}
	return n
}

func (b *OverlayBuffer) cacheRetired(i int64, val int64) {
	if b.retired == nil {
		return
	}
	var key, value [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(i))
	binary.BigEndian.PutUint64(value[:], uint64(val))
	b.retired.Set(key[:], value[:])
}

// drainInto performs the write-down: seal the buffer so the slot set
// is frozen, then move each slot's value into base and
// seal the slot with the drained sentinel. It is only ever called by
// the single goroutine driving a set_overlay(false); concurrent
// writers coordinate per index through each slot's CAS, never through
// a shared lock.
//
// The per-slot ordering is what makes a racing writer safe: the base
// write happens before the sentinel is published, and a writer only
// falls through to the base after observing the sentinel, so a direct
// base write is always ordered after the drain's own base write for
// that index. A writer whose CAS lands before the sentinel is caught
// by the drain's retry loop, which re-reads the slot and moves the
// newer value down too.
func (b *OverlayBuffer) drainInto(base persist.Index) {
	b.mu.Lock()
	b.sealed = true
	slots := make(map[int64]*overlaySlot, len(b.slots))
	for i, s := range b.slots {
		slots[i] = s
	}
	b.mu.Unlock()

	for i, slot := range slots {
		for {
			p := slot.p.Load()
			if p == drainedSlot {
				break
			}
			if p == nil {
				// Never written: nothing to move, just seal the slot so
				// a late writer can't park a value here after the
				// overlay is dropped.
				if slot.p.CompareAndSwap(p, drainedSlot) {
					break
				}
				continue
			}
			base.Put(i, p.val)
			if slot.p.CompareAndSwap(p, drainedSlot) {
				b.cacheRetired(i, p.val)
				break
			}
			// A concurrent Put landed between our read and our seal;
			// loop to apply its (newer) value to base too.
		}
	}
}
