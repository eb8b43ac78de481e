package archive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/golang/snappy"
)

// Decoder turns one record's raw key/value bytes back into (K, V).
type Decoder[K comparable, V any] func(keyBytes, valueBytes []byte) (K, V, error)

// Source is a snappy-framed ArchiveSource reading the format Sink
// writes. One Source is one rebuild shard; LoadFromShards fans out
// across several Sources read from independent byte ranges or files.
type Source[K comparable, V any] struct {
	r      *bufio.Reader
	decode Decoder[K, V]
}

// NewSource wraps r as a Source. r is read sequentially to EOF.
func NewSource[K comparable, V any](r io.Reader, decode Decoder[K, V]) *Source[K, V] {
	return &Source[K, V]{r: bufio.NewReader(r), decode: decode}
}

// Next implements corestate.ArchiveSource.
func (s *Source[K, V]) Next() (key K, value V, ok bool, err error) {
	keyBytes, err := s.readFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			var zk K
			var zv V
			return zk, zv, false, nil
		}
		var zk K
		var zv V
		return zk, zv, false, err
	}
	compressed, err := s.readFrame()
	if err != nil {
		var zk K
		var zv V
		return zk, zv, false, err
	}
	valueBytes, err := snappy.Decode(nil, compressed)
	if err != nil {
		var zk K
		var zv V
		return zk, zv, false, err
	}
	k, v, err := s.decode(keyBytes, valueBytes)
	if err != nil {
		var zk K
		var zv V
		return zk, zv, false, err
	}
	return k, v, true, nil
}

func (s *Source[K, V]) readFrame() ([]byte, error) {
	n, err := binary.ReadUvarint(s.r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
