package vvindex

import "encoding/binary"

func encodeInt64Pair(key, value int64) ([]byte, []byte, error) {
	kb := make([]byte, 8)
	binary.BigEndian.PutUint64(kb, uint64(key))
	vb := make([]byte, 8)
	binary.BigEndian.PutUint64(vb, uint64(value))
	return kb, vb, nil
}
