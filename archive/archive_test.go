package archive_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/hgraph-labs/corestate/archive"
)

func encodeStringInt(key string, value int64) ([]byte, []byte, error) {
	vb := make([]byte, 8)
	binary.BigEndian.PutUint64(vb, uint64(value))
	return []byte(key), vb, nil
}

func decodeStringInt(keyBytes, valueBytes []byte) (string, int64, error) {
	return string(keyBytes), int64(binary.BigEndian.Uint64(valueBytes)), nil
}

func TestSinkSourceRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sink := archive.NewSink[string, int64](&buf, encodeStringInt)

	records := map[string]int64{"alpha": 1, "beta": 2, "gamma": 3}
	for k, v := range records {
		if err := sink.Put(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if sink.Count() != uint64(len(records)) {
		t.Fatalf("Count() = %d, want %d", sink.Count(), len(records))
	}

	src := archive.NewSource[string, int64](&buf, decodeStringInt)
	got := make(map[string]int64)
	for {
		k, v, ok, err := src.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got[k] = v
	}

	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for k, v := range records {
		if got[k] != v {
			t.Fatalf("record %q = %d, want %d", k, got[k], v)
		}
	}
}

func TestDedupSinkSkipsDuplicateKeyWithinOnePass(t *testing.T) {
	var buf bytes.Buffer
	sink, err := archive.NewDedupSink[string, int64](&buf, encodeStringInt, 8)
	if err != nil {
		t.Fatal(err)
	}

	if err := sink.Put("dup", 1); err != nil {
		t.Fatal(err)
	}
	if err := sink.Put("dup", 2); err != nil {
		t.Fatal(err)
	}
	if sink.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 (second Put of the same key should be a no-op)", sink.Count())
	}

	src := archive.NewSource[string, int64](&buf, decodeStringInt)
	k, v, ok, err := src.Next()
	if err != nil || !ok || k != "dup" || v != 1 {
		t.Fatalf("first record = %q, %d, %v, %v; want dup, 1, true, nil", k, v, ok, err)
	}
	_, _, ok, err = src.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected only one record on the wire")
	}
}

func TestSourceOnEmptyReaderReturnsNotOK(t *testing.T) {
	src := archive.NewSource[string, int64](&bytes.Buffer{}, decodeStringInt)
	_, _, ok, err := src.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false reading an empty stream")
	}
}
