package vvindex_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/hgraph-labs/corestate/archive"
	"github.com/hgraph-labs/corestate/persist"
	"github.com/hgraph-labs/corestate/vvindex"
)

func TestGetPutPassThroughWhenNoOverlay(t *testing.T) {
	base := persist.NewMemIndex()
	idx := vvindex.New(base)

	idx.Put(1, 100)
	if got, ok := base.Get(1); !ok || got != 100 {
		t.Fatalf("expected base to see the write directly, got %v, %v", got, ok)
	}
	if got, ok := idx.Get(1); !ok || got != 100 {
		t.Fatalf("idx.Get = %v, %v; want 100, true", got, ok)
	}
	if idx.State() != "BASE" {
		t.Fatalf("state = %s, want BASE", idx.State())
	}
}

func TestOverlayBuffersWritesUntilWriteDown(t *testing.T) {
	base := persist.NewMemIndex()
	base.Put(1, 1)
	idx := vvindex.New(base)

	if err := idx.SetOverlay(true); err != nil {
		t.Fatal(err)
	}
	if idx.State() != "OVERLAY_ACTIVE" {
		t.Fatalf("state = %s, want OVERLAY_ACTIVE", idx.State())
	}

	idx.Put(1, 2)
	if got, ok := base.Get(1); !ok || got != 1 {
		t.Fatalf("base must be untouched while overlay is active, got %v, %v", got, ok)
	}
	if got, ok := idx.Get(1); !ok || got != 2 {
		t.Fatalf("idx.Get must see the overlay write, got %v, %v", got, ok)
	}

	if err := idx.SetOverlay(false); err != nil {
		t.Fatal(err)
	}
	if idx.State() != "BASE" {
		t.Fatalf("state = %s, want BASE after drain", idx.State())
	}
	if got, ok := base.Get(1); !ok || got != 2 {
		t.Fatalf("base should have the drained value, got %v, %v", got, ok)
	}
}

// TestConcurrentWriteDuringWriteDown: a writer keeps mutating through
// the overlay while SetOverlay(false) drives the drain on another
// goroutine; the result must reflect whichever write lands last, never
// a lost update.
func TestConcurrentWriteDuringWriteDown(t *testing.T) {
	base := persist.NewMemIndex()
	idx := vvindex.New(base)

	if err := idx.SetOverlay(true); err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 200; i++ {
		idx.Put(i, i)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 200; i++ {
			idx.Put(i, i+1000)
		}
	}()

	if err := idx.SetOverlay(false); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	// Whichever of (i, i+1000) won the race, base must hold one of them
	// consistently and idx.Get must agree with base once back in BASE.
	for i := int64(0); i < 200; i++ {
		got, ok := base.Get(i)
		if !ok {
			t.Fatalf("index %d missing from base after write-down", i)
		}
		if got != i && got != i+1000 {
			t.Fatalf("index %d has unexpected value %d", i, got)
		}
		fromIdx, ok := idx.Get(i)
		if !ok || fromIdx != got {
			t.Fatalf("idx.Get(%d) = %v, %v disagrees with base value %d", i, fromIdx, ok, got)
		}
	}
}

// TestFreshIndicesDuringWriteDownSurvive pins down the nastier half of
// the write-down contract: a concurrent Put to an index the overlay has
// never seen must land somewhere durable — minted in the overlay before
// the drain seals it, or routed straight to the base after — never
// dropped with the overlay.
func TestFreshIndicesDuringWriteDownSurvive(t *testing.T) {
	base := persist.NewMemIndex()
	idx := vvindex.New(base)

	if err := idx.SetOverlay(true); err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 500; i++ {
		idx.Put(i, i)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(500); i < 600; i++ {
			idx.Put(i, i)
		}
	}()

	if err := idx.SetOverlay(false); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	for i := int64(0); i < 600; i++ {
		if got, ok := idx.Get(i); !ok || got != i {
			t.Fatalf("index %d = %v, %v after write-down; want %d, true", i, got, ok, i)
		}
	}
}

// TestPutIfEqualThroughOverlay: a conditional write through the
// overlay compares against the merged view, and the installed value
// survives the write-down.
func TestPutIfEqualThroughOverlay(t *testing.T) {
	base := persist.NewMemIndex()
	base.Put(5, 50)
	idx := vvindex.New(base)

	if err := idx.SetOverlay(true); err != nil {
		t.Fatal(err)
	}

	if ok := idx.PutIfEqual(5, 999, 60); ok {
		t.Fatal("PutIfEqual with a wrong expected value must fail")
	}
	if ok := idx.PutIfEqual(5, 50, 60); !ok {
		t.Fatal("PutIfEqual with the correct expected (merged-from-base) value must succeed")
	}
	if got, ok := idx.Get(5); !ok || got != 60 {
		t.Fatalf("Get(5) = %v, %v; want 60, true", got, ok)
	}
	if ok := idx.PutIfEqual(5, 60, 70); !ok {
		t.Fatal("second PutIfEqual against the now-overlaid value must succeed")
	}

	if err := idx.SetOverlay(false); err != nil {
		t.Fatal(err)
	}
	if got, ok := base.Get(5); !ok || got != 70 {
		t.Fatalf("base after drain = %v, %v; want 70, true", got, ok)
	}
}

func TestSetOverlayIsIdempotent(t *testing.T) {
	idx := vvindex.New(persist.NewMemIndex())
	if err := idx.SetOverlay(false); err != nil {
		t.Fatalf("deactivating an already-BASE index must be a no-op, got %v", err)
	}
	if err := idx.SetOverlay(true); err != nil {
		t.Fatal(err)
	}
	if err := idx.SetOverlay(true); err != nil {
		t.Fatalf("activating an already-active overlay must be a no-op, got %v", err)
	}
}

func TestLastRetiredMemoAfterWriteDown(t *testing.T) {
	base := persist.NewMemIndex()
	idx := vvindex.New(base, vvindex.WithRetiredValueCache(1<<20))

	if _, ok := idx.LastRetired(1); ok {
		t.Fatal("no write-down has happened, memo must be empty")
	}

	if err := idx.SetOverlay(true); err != nil {
		t.Fatal(err)
	}
	idx.Put(1, 42)
	if err := idx.SetOverlay(false); err != nil {
		t.Fatal(err)
	}

	if got, ok := idx.LastRetired(1); !ok || got != 42 {
		t.Fatalf("LastRetired(1) = %v, %v; want 42, true", got, ok)
	}
	if _, ok := idx.LastRetired(99); ok {
		t.Fatal("index 99 was never drained, memo must miss")
	}
}

func TestWriteToStreamsMergedView(t *testing.T) {
	base := persist.NewMemIndex()
	base.Put(0, 10)
	base.Put(1, 11)
	idx := vvindex.New(base)

	if err := idx.SetOverlay(true); err != nil {
		t.Fatal(err)
	}
	idx.Put(1, 111)
	idx.Put(2, 12)

	var buf bytes.Buffer
	n, err := idx.WriteTo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("wrote %d records, want 3", n)
	}

	src := archive.NewSource[int64, int64](&buf, decodeInt64Pair)
	got := make(map[int64]int64)
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
	want := map[int64]int64{0: 10, 1: 111, 2: 12}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("record %d = %d, want %d (got map %v)", k, got[k], v, got)
		}
	}
}

func decodeInt64Pair(keyBytes, valueBytes []byte) (int64, int64, error) {
	return decodeBE(keyBytes), decodeBE(valueBytes), nil
}

func decodeBE(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
