// Package corestate implements FCMap: a fast-copyable, copy-on-write
// in-memory map supporting O(1) reads/writes on the current mutable
// copy, cheap Copy of that handle into an arbitrary number of
// immutable read-only snapshots, and asynchronous GC of per-key
// mutation history that no live snapshot can reach.
package corestate

import (
	"sync/atomic"
)

// FCMap is one versioned handle onto a shared, copy-on-write table. A
// newly constructed FCMap, and every copy returned by Copy, is mutable
// until the next Copy call freezes it.
type FCMap[K comparable, V any] struct {
	version Version

	table    *table[K, V]
	registry *versionRegistry
	gc       *gcWorker[K, V]
	settings Settings

	refs *mapRefs // shared last-copy-released bookkeeping

	immutable atomic.Bool
	released  atomic.Bool
	size      atomic.Int64
}

// mapRefs counts live FCMap copies descended from one root so the last
// Release can stop the shared gcWorker.
type mapRefs struct {
	live atomic.Int64
}

// New constructs a fresh FCMap root at version 0, owning a brand-new
// table, version registry, and GC worker. The caller receives the
// single mutable copy at version 0; it must eventually be Released.
func New[K comparable, V any](opts ...Option) *FCMap[K, V] {
	s := DefaultSettings()
	for _, o := range opts {
		o(&s)
	}

	t := newTable[K, V]()
	reg := newVersionRegistry(0)
	gc := newGCWorker[K, V](t, reg, s)

	m := &FCMap[K, V]{
		version:  0,
		table:    t,
		registry: reg,
		gc:       gc,
		settings: s,
		refs:     &mapRefs{},
	}
	m.refs.live.Store(1)
	return m
}

// Version reports the version this copy was created at.
func (m *FCMap[K, V]) Version() Version { return m.version }

func (m *FCMap[K, V]) checkLive() error {
	if m.gc.faulted() {
		return ErrGCWorkerFault
	}
	if m.released.Load() {
		return ErrAlreadyReleased
	}
	return nil
}

// Get returns the value visible to this copy's version for key, or
// false if absent. Never blocks on GC.
func (m *FCMap[K, V]) Get(key K) (V, bool, error) {
	var zero V
	if err := m.checkLive(); err != nil {
		return zero, false, err
	}
	if isNilable(any(key)) {
		return zero, false, ErrNullKey
	}
	head, ok := m.table.load(key)
	if !ok {
		return zero, false, nil
	}
	v, present := valueAt(head.ptr.Load(), m.version)
	return v, present, nil
}

// Put writes value for key at this copy's version, returning the prior
// value visible at this version. Fails with ErrImmutable if this copy
// is no longer mutable.
func (m *FCMap[K, V]) Put(key K, value V) (V, bool, error) {
	return m.write(key, value, false)
}

// Remove writes a tombstone for key at this copy's version (equivalent
// to Put with a deleted marker), returning the prior value.
func (m *FCMap[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	return m.write(key, zero, true)
}

func (m *FCMap[K, V]) write(key K, value V, tomb bool) (V, bool, error) {
	var zero V
	if err := m.checkLive(); err != nil {
		return zero, false, err
	}
	if isNilable(any(key)) {
		return zero, false, ErrNullKey
	}
	if !tomb && isNilable(any(value)) {
		return zero, false, ErrNullValue
	}
	if m.immutable.Load() {
		return zero, false, ErrImmutable
	}

	head := m.table.loadOrCreate(key)
	var prevVal V
	var prevPresent bool
	var queueEvent bool
	var eventVersion Version

	for {
		old := head.ptr.Load()
		prevVal, prevPresent = valueAt(old, m.version)

		if old == nil {
			if tomb {
				// No change: removing an absent key.
				return prevVal, prevPresent, nil
			}
			n := &mutation[V]{version: m.version, value: value}
			if head.ptr.CompareAndSwap(old, n) {
				break
			}
			continue
		}

		if old.version == m.version {
			// Same-version overwrite: replace the head with a node at the
			// same version (chain length unchanged), no GC event.
			n := &mutation[V]{version: m.version, value: value, tomb: tomb, prev: old.prev}
			if head.ptr.CompareAndSwap(old, n) {
				break
			}
			continue
		}

		// New node atop an existing one: length >= 2 now, queue a GC
		// event for what lies below this copy's version.
		n := &mutation[V]{version: m.version, value: value, tomb: tomb, prev: old}
		if head.ptr.CompareAndSwap(old, n) {
			queueEvent = true
			eventVersion = m.version - 1
			break
		}
	}

	nowPresent := !tomb
	switch {
	case nowPresent && !prevPresent:
		m.size.Add(1)
	case !nowPresent && prevPresent:
		m.size.Add(-1)
	}

	if queueEvent {
		m.gc.enqueue(key, eventVersion)
	}
	return prevVal, prevPresent, nil
}

// Size returns an atomic snapshot of this copy's key count. May read
// stale relative to an in-flight Put on the same copy from another
// goroutine (callers are expected to serialize writers per copy).
func (m *FCMap[K, V]) Size() (int64, error) {
	if err := m.checkLive(); err != nil {
		return 0, err
	}
	return m.size.Load(), nil
}

// Copy freezes this copy (it becomes immutable) and returns a fresh
// mutable copy at version+1 sharing the same table, registry, and GC
// worker.
func (m *FCMap[K, V]) Copy() (*FCMap[K, V], error) {
	if err := m.checkLive(); err != nil {
		return nil, err
	}
	if m.immutable.Load() {
		return nil, ErrImmutable
	}
	m.immutable.Store(true)

	next := &FCMap[K, V]{
		version:  m.version + 1,
		table:    m.table,
		registry: m.registry,
		gc:       m.gc,
		settings: m.settings,
		refs:     m.refs,
	}
	next.size.Store(m.size.Load())
	m.registry.registerCopy(next.version)
	m.refs.live.Add(1)
	return next, nil
}

// Release decrements this copy's reservation. Idempotent in the sense
// that state is never corrupted by a double call, but the second call
// fails with ErrAlreadyReleased. When this was the
// last live copy descended from the root, the shared GC worker is
// stopped (after draining).
func (m *FCMap[K, V]) Release() error {
	if m.gc.faulted() {
		return ErrGCWorkerFault
	}
	if !m.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}

	m.registry.release(m.version)

	if m.refs.live.Add(-1) == 0 {
		m.gc.stop()
	}
	return nil
}

// PendingGCEvents exposes the GC worker's current queue depth.
func (m *FCMap[K, V]) PendingGCEvents() int64 { return m.gc.pendingEvents() }

// GCRunning reports whether the shared GC worker goroutine is still
// alive.
func (m *FCMap[K, V]) GCRunning() bool { return m.gc.running() }
