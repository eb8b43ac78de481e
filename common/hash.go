// Package common holds small value types shared by the storage packages:
// a fixed-size hash used as the FCMap key type, and a couple of
// pretty-printing helpers used in log lines across the module.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the expected length of a key hash in bytes.
const HashLength = 32

// Hash is a 32-byte opaque key. FCMap is keyed on Hash rather than on a
// raw byte slice so that keys are comparable and usable as map keys
// without a separate encoding step.
type Hash [HashLength]byte

// BytesToHash sets the trailing HashLength bytes of b into a Hash, left
// padding or truncating from the front as needed.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Hashes implements sort.Interface over a []Hash, ordering hashes
// bytewise.
type Hashes []Hash

func (h Hashes) Len() int           { return len(h) }
func (h Hashes) Less(i, j int) bool { return less(h[i], h[j]) }
func (h Hashes) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func less(a, b Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// StorageSize is a byte count with a human-friendly String/Format, used in
// GC and archival log lines instead of raw byte counts.
type StorageSize float64

func (s StorageSize) String() string {
	switch {
	case s > 1099511627776:
		return fmt.Sprintf("%.2f TiB", s/1099511627776)
	case s > 1073741824:
		return fmt.Sprintf("%.2f GiB", s/1073741824)
	case s > 1048576:
		return fmt.Sprintf("%.2f MiB", s/1048576)
	case s > 1024:
		return fmt.Sprintf("%.2f KiB", s/1024)
	default:
		return fmt.Sprintf("%.2f B", s)
	}
}
