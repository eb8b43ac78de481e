// Package archive provides the concrete serialization sink and
// deserialization source collaborators used to walk a copy's contents as
// a lazy ordered stream, framing each (key, value) record with a length
// prefix and snappy-compressing the value payload (golang/snappy, used
// elsewhere in this module's ecosystem for compressing stored blobs).
// Framing here is this repo's own implementation detail, not a fixed
// wire format — a caller is free to supply an entirely different
// ArchiveSink.
package archive

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Encoder turns a (key, value) pair into its wire bytes for one record.
type Encoder[K comparable, V any] func(key K, value V) (keyBytes, valueBytes []byte, err error)

// Sink is a snappy-framed ArchiveSink. It writes each record as
// [keyLen uvarint][key][valueLen uvarint][compressed value].
//
// A Sink built with NewDedupSink additionally carries a bloom filter
// that skips a key it has (probably) already emitted in this pass —
// the archival walk is lazy and long-running, and a concurrent GC
// sweep pruning the same copy's now-dead chain segments must not be
// able to make the iterator duplicate-emit a key that moved underneath
// it. The filter can false-positive, silently dropping a record, so
// the dedup variant is only for opportunistic archival passes that
// re-run periodically; snapshot streams that must be complete
// (VersionedValueIndex.WriteTo, persist.MemIndex.WriteTo) use the
// plain NewSink, whose iteration already visits each key exactly once.
type Sink[K comparable, V any] struct {
	w       io.Writer
	encode  Encoder[K, V]
	emitted *archivedSet // nil when dedup is off
	count   uint64
}

// NewSink creates a plain Sink writing to w, emitting every record it
// is handed.
func NewSink[K comparable, V any](w io.Writer, encode Encoder[K, V]) *Sink[K, V] {
	return &Sink[K, V]{w: w, encode: encode}
}

// NewDedupSink creates a Sink that bloom-filters out keys already
// emitted in this pass. expectedEntries sizes the filter; pass your
// best guess at the copy's live key count (FCMap.Size is exact for
// this purpose).
func NewDedupSink[K comparable, V any](w io.Writer, encode Encoder[K, V], expectedEntries uint64) (*Sink[K, V], error) {
	set, err := newArchivedSet(expectedEntries)
	if err != nil {
		return nil, fmt.Errorf("archive: new dedup sink: %w", err)
	}
	return &Sink[K, V]{w: w, encode: encode, emitted: set}, nil
}

// Put implements corestate.ArchiveSink. It is safe to call from the
// single goroutine an archival walk runs on; Sink itself does not add
// concurrency beyond what the bloom filter needs.
func (s *Sink[K, V]) Put(key K, value V) error {
	keyBytes, valueBytes, err := s.encode(key, value)
	if err != nil {
		return fmt.Errorf("archive: encode: %w", err)
	}
	if s.emitted != nil && s.emitted.containsAndAdd(keyBytes) {
		// Already emitted this key in this pass — a GC-driven chain
		// compaction can surface the same key twice if the iterator
		// re-reads a table slot; silently skipping keeps the output a
		// set, not a multiset.
		return nil
	}

	compressed := snappy.Encode(nil, valueBytes)

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(keyBytes)))
	if _, err := s.w.Write(lenBuf[:n]); err != nil {
		return err
	}
	if _, err := s.w.Write(keyBytes); err != nil {
		return err
	}
	n = binary.PutUvarint(lenBuf[:], uint64(len(compressed)))
	if _, err := s.w.Write(lenBuf[:n]); err != nil {
		return err
	}
	if _, err := s.w.Write(compressed); err != nil {
		return err
	}
	s.count++
	return nil
}

// Count reports how many distinct records have been written so far.
func (s *Sink[K, V]) Count() uint64 { return s.count }
