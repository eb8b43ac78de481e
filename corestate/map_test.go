package corestate_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hgraph-labs/corestate/corestate"
)

func waitQuiesced(t *testing.T, m *corestate.FCMap[string, int]) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.PendingGCEvents() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("gc did not quiesce: %d events pending", m.PendingGCEvents())
		}
		time.Sleep(time.Millisecond)
	}
}

// TestSnapshotIsolation: a key written on an older version must still
// read back its own value after a newer version overwrites it.
func TestSnapshotIsolation(t *testing.T) {
	v0 := corestate.New[string, int]()

	if _, _, err := v0.Put("a", 1); err != nil {
		t.Fatal(err)
	}

	v1, err := v0.Copy()
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := v0.Put("a", 2); err == nil {
		t.Fatalf("expected ErrImmutable writing to a frozen copy")
	} else if !errors.Is(err, corestate.ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}

	if _, _, err := v1.Put("a", 2); err != nil {
		t.Fatal(err)
	}

	got, ok, err := v1.Get("a")
	if err != nil || !ok || got != 2 {
		t.Fatalf("v1.Get(a) = %v, %v, %v; want 2, true, nil", got, ok, err)
	}
	got, ok, err = v0.Get("a")
	if err != nil || !ok || got != 1 {
		t.Fatalf("v0.Get(a) = %v, %v, %v; want 1, true, nil", got, ok, err)
	}

	if err := v0.Release(); err != nil {
		t.Fatal(err)
	}
	if err := v1.Release(); err != nil {
		t.Fatal(err)
	}
}

// TestManyKeysSingleChainAfterRelease: after a single copy+release
// with no further writes, every chain should
// collapse to length 1 once GC quiesces. We can't observe chain length
// directly from the public API, so we assert the externally visible
// proxy: every key still reads back its value, and the GC queue drains
// to zero.
func TestManyKeysSingleChainAfterRelease(t *testing.T) {
	const n = 2000
	v0 := corestate.New[string, int]()

	for i := 0; i < n; i++ {
		if _, _, err := v0.Put(keyFor(i), i); err != nil {
			t.Fatal(err)
		}
	}
	v1, err := v0.Copy()
	if err != nil {
		t.Fatal(err)
	}
	if err := v0.Release(); err != nil {
		t.Fatal(err)
	}

	waitQuiesced(t, v1)

	for i := 0; i < n; i++ {
		got, ok, err := v1.Get(keyFor(i))
		if err != nil || !ok || got != i {
			t.Fatalf("key %d: got %v, %v, %v", i, got, ok, err)
		}
	}
	if err := v1.Release(); err != nil {
		t.Fatal(err)
	}
}

func keyFor(i int) string {
	b := make([]byte, 0, 8)
	b = append(b, byte('k'))
	for ; i > 0; i /= 10 {
		b = append(b, byte('0'+i%10))
	}
	return string(b)
}

// TestCopyReleaseLoopAdvancesLowestLive: a tight copy+release loop on
// a single writer must keep draining GC events and
// never leave the map in a state where old copies accumulate forever.
func TestCopyReleaseLoopAdvancesLowestLive(t *testing.T) {
	cur := corestate.New[string, int]()

	for i := 0; i < 1000; i++ {
		if _, _, err := cur.Put("k", i); err != nil {
			t.Fatal(err)
		}
		next, err := cur.Copy()
		if err != nil {
			t.Fatal(err)
		}
		if err := cur.Release(); err != nil {
			t.Fatal(err)
		}
		cur = next
	}

	waitQuiesced(t, cur)

	got, ok, err := cur.Get("k")
	if err != nil || !ok || got != 999 {
		t.Fatalf("final Get(k) = %v, %v, %v; want 999, true, nil", got, ok, err)
	}
	if err := cur.Release(); err != nil {
		t.Fatal(err)
	}
}

// TestImmutableCopyRejectsWrite: a rejected write on a frozen copy
// must leave its state untouched.
func TestImmutableCopyRejectsWrite(t *testing.T) {
	v0 := corestate.New[string, int]()
	if _, _, err := v0.Put("a", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := v0.Copy(); err != nil {
		t.Fatal(err)
	}

	if _, _, err := v0.Put("a", 99); !errors.Is(err, corestate.ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}
	got, ok, err := v0.Get("a")
	if err != nil || !ok || got != 1 {
		t.Fatalf("state changed after rejected write: got %v, %v, %v", got, ok, err)
	}
}

func TestDoubleReleaseFails(t *testing.T) {
	m := corestate.New[string, int]()
	if err := m.Release(); err != nil {
		t.Fatal(err)
	}
	if err := m.Release(); !errors.Is(err, corestate.ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}
}

func TestPutRemoveSizeTracking(t *testing.T) {
	m := corestate.New[string, int]()
	defer m.Release()

	for i := 0; i < 5; i++ {
		if _, _, err := m.Put(keyFor(i), i); err != nil {
			t.Fatal(err)
		}
	}
	if sz, err := m.Size(); err != nil || sz != 5 {
		t.Fatalf("size = %d, %v; want 5", sz, err)
	}

	if _, _, err := m.Remove(keyFor(0)); err != nil {
		t.Fatal(err)
	}
	if sz, err := m.Size(); err != nil || sz != 4 {
		t.Fatalf("size after remove = %d, %v; want 4", sz, err)
	}

	if _, _, err := m.Remove(keyFor(0)); err != nil {
		t.Fatal(err)
	}
	if sz, err := m.Size(); err != nil || sz != 4 {
		t.Fatalf("size after removing absent key changed: %d, %v", sz, err)
	}
}

func TestNullKeyAndValueRejected(t *testing.T) {
	m := corestate.New[*int, *int]()
	defer m.Release()

	v := 5
	if _, _, err := m.Put(nil, &v); !errors.Is(err, corestate.ErrNullKey) {
		t.Fatalf("expected ErrNullKey, got %v", err)
	}
	if _, _, err := m.Put(&v, nil); !errors.Is(err, corestate.ErrNullValue) {
		t.Fatalf("expected ErrNullValue, got %v", err)
	}
	if _, _, err := m.Get(nil); !errors.Is(err, corestate.ErrNullKey) {
		t.Fatalf("expected ErrNullKey from Get, got %v", err)
	}
}

// TestConcurrentReadsAcrossFrozenCopies: reads on immutable copies
// are always safe, even while the newest copy keeps writing. Each
// frozen copy must keep seeing the value written at its own version.
func TestConcurrentReadsAcrossFrozenCopies(t *testing.T) {
	const copies = 16
	handles := make([]*corestate.FCMap[string, int], 0, copies)
	cur := corestate.New[string, int]()
	for i := 0; i < copies; i++ {
		if _, _, err := cur.Put("gen", i); err != nil {
			t.Fatal(err)
		}
		handles = append(handles, cur)
		next, err := cur.Copy()
		if err != nil {
			t.Fatal(err)
		}
		cur = next
	}

	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h *corestate.FCMap[string, int]) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, ok, err := h.Get("gen")
				if err != nil || !ok || got != i {
					t.Errorf("frozen copy %d read %v, %v, %v; want %d", i, got, ok, err, i)
					return
				}
			}
		}(i, h)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			if _, _, err := cur.Put("gen", 1000+j); err != nil {
				t.Errorf("live copy write: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	for _, h := range handles {
		if err := h.Release(); err != nil {
			t.Fatal(err)
		}
	}
	if err := cur.Release(); err != nil {
		t.Fatal(err)
	}
}
