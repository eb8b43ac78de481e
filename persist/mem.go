package persist

import (
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/hgraph-labs/corestate/archive"
)

// MemIndex is the in-memory reference implementation of Index. It
// backs VersionedValueIndex in tests and in cmd/corestate-bench; a
// production deployment would supply a disk-backed Index instead.
type MemIndex struct {
	mu   sync.RWMutex
	vals map[int64]int64
	size int64 // highest index + 1 ever Put, matching Size()'s "long list" semantics
}

// NewMemIndex creates an empty MemIndex.
func NewMemIndex() *MemIndex {
	return &MemIndex{vals: make(map[int64]int64)}
}

func (m *MemIndex) Get(i int64) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[i]
	return v, ok
}

func (m *MemIndex) Put(i int64, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[i] = v
	if i+1 > m.size {
		m.size = i + 1
	}
}

// PutIfEqual implements a linearizable compare-and-swap under the
// index's own lock: MemIndex is a reference implementation, not the
// lock-free per-index slot the overlay buffer uses, so a single mutex
// is both correct and simple.
func (m *MemIndex) PutIfEqual(i, expected, newVal int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.vals[i] // zero value if absent, matching expected==0 convention
	if cur != expected {
		return false
	}
	m.vals[i] = newVal
	if i+1 > m.size {
		m.size = i + 1
	}
	return true
}

func (m *MemIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// WriteTo streams every present (index, value) pair in index order
// through an archive.Sink, which snappy-frames each value.
func (m *MemIndex) WriteTo(w io.Writer) (int64, error) {
	m.mu.RLock()
	indices := make([]int64, 0, len(m.vals))
	for i := range m.vals {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
	snapshot := make(map[int64]int64, len(m.vals))
	for k, v := range m.vals {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	sink := archive.NewSink[int64, int64](w, encodeInt64Pair)
	var n int64
	for _, i := range indices {
		if err := sink.Put(i, snapshot[i]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func encodeInt64Pair(key, value int64) ([]byte, []byte, error) {
	kb := make([]byte, 8)
	binary.BigEndian.PutUint64(kb, uint64(key))
	vb := make([]byte, 8)
	binary.BigEndian.PutUint64(vb, uint64(value))
	return kb, vb, nil
}
