// Package persist defines the persistent index contract
// VersionedValueIndex's base layer must satisfy, and ships an in-memory
// reference implementation used by vvindex's own tests and by
// cmd/corestate-bench. A real deployment supplies its own disk-backed
// Index; this module deliberately pins no on-disk byte format.
package persist

import "io"

// Index is the long-keyed value store VersionedValueIndex layers its
// overlay atop.
type Index interface {
	Get(i int64) (int64, bool)
	Put(i int64, v int64)
	PutIfEqual(i, expected, newVal int64) bool
	Size() int64
	// WriteTo streams the index's contents to w for snapshot transport,
	// returning the number of records written.
	WriteTo(w io.Writer) (int64, error)
}
