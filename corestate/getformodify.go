package corestate

// DeepCopyable is the value-copy capability GetForModify requires.
// It's expressed as a Go generic constraint rather than a runtime type
// check — a value type that doesn't implement DeepCopyable simply
// can't be passed to GetForModify; the compiler enforces the
// capability, nothing has to check for it at runtime.
type DeepCopyable[V any] interface {
	DeepCopy() V
}

// Releasable is the other half of the value-copy protocol: called on
// values evicted by GC. Storing a value that doesn't implement
// Releasable is always fine; the GC worker simply skips the call for
// it.
type Releasable interface {
	Release()
}

// GetForModify returns the value for key, mutable in place, avoiding a
// deep copy when the head mutation already belongs to this copy's
// version. Otherwise it deep-copies whatever is visible at this
// version and installs that copy as a fresh mutation at this version,
// exactly as Put would. An absent key returns the zero value and
// installs nothing — there is nothing to copy, and Put is the way to
// introduce a value.
//
// This is a free function, not a method, because the compile-time
// capability check (V must implement DeepCopyable[V]) only has to
// apply to callers who actually want GetForModify — FCMap itself stays
// usable with any value type.
func GetForModify[K comparable, V DeepCopyable[V]](m *FCMap[K, V], key K) (V, error) {
	var zero V
	if err := m.checkLive(); err != nil {
		return zero, err
	}
	if isNilable(any(key)) {
		return zero, ErrNullKey
	}
	if m.immutable.Load() {
		return zero, ErrImmutable
	}

	head, ok := m.table.load(key)
	if !ok {
		return zero, nil
	}

	for {
		old := head.ptr.Load()
		if old != nil && old.version == m.version && !old.tomb {
			return old.value, nil
		}

		// Anything else reachable at this version is owned by an older
		// copy (a same-version head can only be a tombstone here, which
		// reads as absent). Deep-copy it onto a fresh head; absent
		// installs nothing.
		v, visible := valueAt(old, m.version)
		if !visible {
			return zero, nil
		}
		newVal := v.DeepCopy()

		n := &mutation[V]{version: m.version, value: newVal, prev: old}
		if !head.ptr.CompareAndSwap(old, n) {
			continue
		}
		m.gc.enqueue(key, m.version-1)
		return newVal, nil
	}
}
