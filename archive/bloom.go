package archive

import (
	"encoding/binary"

	"github.com/steakknife/bloomfilter"
)

// archivedSet is a cheap, false-positive-tolerant "have I emitted this
// key already" test. A false positive means a key gets silently
// skipped during one archival pass even though it wasn't really
// emitted yet; since archival is opportunistic and re-run
// periodically, a missed key is picked up on the next pass. Streams
// that must be complete use the plain Sink and never consult this.
type archivedSet struct {
	filter *bloomfilter.Filter
}

// bloomCollisionRate is small enough that skipped keys stay rare,
// large enough to keep the filter's memory footprint reasonable for a
// process-lifetime archival pass.
const bloomCollisionRate = 0.0005

func newArchivedSet(expectedEntries uint64) (*archivedSet, error) {
	if expectedEntries == 0 {
		expectedEntries = 1024
	}
	f, err := bloomfilter.NewOptimal(expectedEntries, bloomCollisionRate)
	if err != nil {
		return nil, err
	}
	return &archivedSet{filter: f}, nil
}

// keyHasher adapts a raw key byte slice to the hash.Hash64 interface
// the bloom filter hashes members through. Only Sum64 is real; the
// filter never calls the streaming methods.
type keyHasher []byte

func (k keyHasher) Write(p []byte) (int, error) { panic("not implemented") }
func (k keyHasher) Sum(b []byte) []byte         { panic("not implemented") }
func (k keyHasher) Reset()                      { panic("not implemented") }
func (k keyHasher) BlockSize() int              { panic("not implemented") }
func (k keyHasher) Size() int                   { return 8 }
func (k keyHasher) Sum64() uint64 {
	if len(k) >= 8 {
		return binary.BigEndian.Uint64(k[len(k)-8:])
	}
	var padded [8]byte
	copy(padded[8-len(k):], k)
	return binary.BigEndian.Uint64(padded[:])
}

// containsAndAdd reports whether key was already present, adding it if
// not — a single bloom-backed test-and-set, matching how the sink uses
// it (check once per Put).
func (s *archivedSet) containsAndAdd(key []byte) bool {
	h := keyHasher(key)
	if s.filter.Contains(h) {
		return true
	}
	s.filter.Add(h)
	return false
}
