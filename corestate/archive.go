package corestate

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HashableKey is the capability the archival walk needs of a key type:
// something byte-ordered, so it can produce a sorted-by-key-hash
// stream. common.Hash (this module's usual FCMap key) satisfies it
// directly.
type HashableKey interface {
	Bytes() []byte
}

// ArchiveKey is the constraint Archive requires: a HashableKey that can
// also key the table.
type ArchiveKey interface {
	comparable
	HashableKey
}

// ArchiveSink receives an immutable copy's contents as a lazy ordered
// stream of (key, value) pairs: the map supplies the iteration, the
// sink supplies the encoding. The archive package's Sink type is the
// snappy-framed implementation.
type ArchiveSink[K comparable, V any] interface {
	Put(key K, value V) error
}

// ArchiveSource is the deserialization source collaborator: one shard
// of an incoming (key, value) stream used to rebuild a table on
// startup. Next reports ok=false once the shard is exhausted.
type ArchiveSource[K comparable, V any] interface {
	Next() (key K, value V, ok bool, err error)
}

// Archive walks an immutable copy's table in sorted key-hash order
// and hands each live (key, value) pair to sink. It requires
// Settings.ArchiveEnabled and a copy that is no longer
// mutable — archiving a copy that could still change underneath the
// walk would break the "lazy ordered stream" contract's implicit
// snapshot guarantee.
func (m *FCMap[K, V]) archive(ctx context.Context, sink ArchiveSink[K, V], keyBytes func(K) []byte) error {
	if err := m.checkLive(); err != nil {
		return err
	}
	if !m.settings.ArchiveEnabled {
		return fmt.Errorf("corestate: archive disabled in settings")
	}
	if !m.immutable.Load() {
		return fmt.Errorf("corestate: archive requires an immutable copy")
	}

	keys := m.table.keys()
	sort.Slice(keys, func(i, j int) bool {
		return string(keyBytes(keys[i])) < string(keyBytes(keys[j]))
	})

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		head, ok := m.table.load(k)
		if !ok {
			continue
		}
		v, present := valueAt(head.ptr.Load(), m.version)
		if !present {
			continue
		}
		if err := sink.Put(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Archive is the HashableKey-constrained entry point: it supplies the
// sort key automatically from K.Bytes(). It is the only exported
// archival entry point; the unexported FCMap.archive it wraps takes the
// sort key as a function.
func Archive[K ArchiveKey, V any](ctx context.Context, m *FCMap[K, V], sink ArchiveSink[K, V]) error {
	return m.archive(ctx, sink, func(k K) []byte { return k.Bytes() })
}

// LoadFromShards rebuilds a brand-new FCMap at version 0 by ingesting
// the given shard sources through a pool of Settings.RebuildThreadCount
// goroutines; a stream is typically pre-split into
// Settings.RebuildSplitFactor shards by whatever produced it.
// Duplicates within a shard are undefined (last
// write in that shard's arrival order wins, same as Put would do
// anyway); across shards, last arrival wins, arbitrated by each key's
// own chainHead CAS inside Put rather than a shared lock over the
// whole ingest phase.
func LoadFromShards[K comparable, V any](ctx context.Context, sources []ArchiveSource[K, V], opts ...Option) (*FCMap[K, V], error) {
	m := New[K, V](opts...)

	workers := m.settings.RebuildThreadCount
	if workers <= 0 || workers > len(sources) {
		workers = len(sources)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(sources))
	pending := make(chan int, len(sources))
	for i := range sources {
		pending <- i
	}
	close(pending)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range pending {
				errs[i] = ingestShard(ctx, m, sources[i])
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			_ = m.Release()
			return nil, err
		}
	}
	return m, nil
}

func ingestShard[K comparable, V any](ctx context.Context, m *FCMap[K, V], src ArchiveSource[K, V]) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		k, v, ok, err := src.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		// Put itself already arbitrates last-arrival-wins across
		// concurrent shards via the per-key chainHead CAS; no extra
		// locking is needed beyond what the map already gives every
		// writer.
		if _, _, err := m.Put(k, v); err != nil {
			return err
		}
	}
}
