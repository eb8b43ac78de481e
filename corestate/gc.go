package corestate

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/hgraph-labs/corestate/gmetrics"
	"github.com/hgraph-labs/corestate/internal/xcache"
)

// gcEvent is a queued request to prune an older segment of key's
// mutation chain once version is no longer the newest version any live
// reader is below.
type gcEvent[K comparable] struct {
	key     K
	version Version
}

// gcQueue is an unbounded, mutex-guarded FIFO. Producers (Put) never
// block: the queue limit is a soft bound that only triggers a periodic
// warning, never backpressure, and every enqueued event must
// eventually be collected — so rather than drop-oldest we let the
// queue grow and only warn on overrun.
type gcQueue[K comparable] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []gcEvent[K]
	closed bool
}

func newGCQueue[K comparable]() *gcQueue[K] {
	q := &gcQueue[K]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *gcQueue[K]) push(ev gcEvent[K]) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *gcQueue[K]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pop blocks until an event is available or the queue is closed and
// drained, in which case ok is false.
func (q *gcQueue[K]) pop() (ev gcEvent[K], ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return gcEvent[K]{}, false
		}
		q.cond.Wait()
	}
	ev, q.items = q.items[0], q.items[1:]
	return ev, true
}

func (q *gcQueue[K]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// gcWorker is the single dedicated background goroutine per FCMap
// root. It drains gcEvents in arrival order, waiting for
// each one's version to fall below the registry's live cutoff before
// pruning, and is torn down cleanly (draining the remainder) when the
// last copy of the map is released.
type gcWorker[K comparable, V any] struct {
	table    *table[K, V]
	registry *versionRegistry
	queue    *gcQueue[K]
	gauges   *gmetrics.GCGauges
	settings Settings
	clean    *xcache.Cache // archived-tail memo; nil unless Settings.CleanCacheBytes > 0

	stopping chanFlag
	done     chan struct{}

	faultMu sync.Mutex
	fault   error

	lastWarn   time.Time
	lastWarnMu sync.Mutex
}

// chanFlag is a once-closed channel used as a level-triggered stop
// signal readable from multiple goroutines without a mutex.
type chanFlag chan struct{}

func newChanFlag() chanFlag { return make(chanFlag) }
func (f chanFlag) set()     { defer func() { recover() }(); close(f) }
func (f chanFlag) isSet() bool {
	select {
	case <-f:
		return true
	default:
		return false
	}
}

func newGCWorker[K comparable, V any](t *table[K, V], reg *versionRegistry, s Settings) *gcWorker[K, V] {
	w := &gcWorker[K, V]{
		table:    t,
		registry: reg,
		queue:    newGCQueue[K](),
		gauges:   gmetrics.NewGCGauges(),
		settings: s,
		stopping: newChanFlag(),
		done:     make(chan struct{}),
	}
	if s.CleanCacheBytes > 0 {
		w.clean = xcache.New(s.CleanCacheBytes)
	}
	w.gauges.SetRunning(true)
	go w.run()
	return w
}

// enqueue records that key's chain may be prunable below version once
// version is no longer live. Never blocks.
func (w *gcWorker[K, V]) enqueue(key K, version Version) {
	w.queue.push(gcEvent[K]{key: key, version: version})
	w.gauges.SetPending(int64(w.queue.len()))
	w.maybeWarnOverrun()
}

func (w *gcWorker[K, V]) maybeWarnOverrun() {
	n := w.queue.len()
	if n <= w.settings.MaxGCQueueSize {
		return
	}
	w.lastWarnMu.Lock()
	defer w.lastWarnMu.Unlock()
	if time.Since(w.lastWarn) < w.settings.GCQueueThresholdPeriod {
		return
	}
	w.lastWarn = time.Now()
	w.settings.log().Warn("gc queue over soft limit",
		"pending", n, "limit", w.settings.MaxGCQueueSize)
}

// stop signals the worker that the last copy has been released. The
// worker keeps draining whatever events remain but no longer waits for
// versions to age out, since no reader remains to protect them.
func (w *gcWorker[K, V]) stop() {
	w.stopping.set()
	w.queue.close()
}

func (w *gcWorker[K, V]) waitDone() { <-w.done }

func (w *gcWorker[K, V]) run() {
	defer close(w.done)
	defer w.gauges.SetRunning(false)
	defer func() {
		if r := recover(); r != nil {
			w.faultMu.Lock()
			w.fault = &gcWorkerPanic{recovered: r}
			w.faultMu.Unlock()
		}
	}()

	for {
		ev, ok := w.queue.pop()
		if !ok {
			return
		}
		w.waitCollectible(ev.version)
		w.collect(ev.key, ev.version)
		w.gauges.SetPending(int64(w.queue.len()))
	}
}

// waitCollectible blocks until ev.version is no longer live, or the
// worker has been told to stop (in which case nothing can be reading
// anymore and every pending event is immediately collectible).
func (w *gcWorker[K, V]) waitCollectible(v Version) {
	for {
		if w.stopping.isSet() {
			return
		}
		if v < w.registry.lowestLive() {
			return
		}
		select {
		case <-w.registry.waitChan():
		case <-time.After(50 * time.Millisecond):
			// Backstop: waitChan is only signaled by release(), but a
			// lagging reader that later bumps the same version again
			// (re-Copy of an already-current version never happens in
			// this design, so this is belt-and-suspenders) shouldn't be
			// able to wedge the worker forever.
		}
		if w.stopping.isSet() {
			return
		}
	}
}

// collect prunes one (key, version) event's chain: walk from the
// head, keep everything at or above the live cutoff plus at most one
// older node (the newest one below the
// cutoff, which is what the oldest live reader would observe), and drop
// the rest. If what remains is a single tombstone, the key is removed
// from the table outright.
func (w *gcWorker[K, V]) collect(key K, _ Version) {
	head, ok := w.table.load(key)
	if !ok {
		return
	}

	cutoff := w.registry.lowestLive()
	if w.stopping.isSet() {
		// Nothing can read anymore; the map itself is being torn down.
		return
	}

	for {
		old := head.ptr.Load()
		if old == nil {
			return
		}
		pruned, changed, dropped := pruneChain(old, cutoff)
		if !changed {
			return
		}
		if head.ptr.CompareAndSwap(old, pruned) {
			if pruned != nil && pruned.isTombstone() && pruned.prev == nil {
				w.table.deleteIfSame(key, head, pruned)
			}
			w.releaseDropped(dropped)
			w.cacheArchivedTail(key, pruned)
			return
		}
		// Head moved under us (a concurrent Put published a new node);
		// retry against the fresh head, which is always safe to prune
		// again starting from scratch.
	}
}

// cacheArchivedTail memoizes the compacted chain's oldest retained
// value, when the clean-read cache is enabled and the key type can
// produce a stable byte key. It's a pure best-effort hint: nothing
// downstream currently consults it without re-validating against the
// chain (Get always walks the live chain), so a missed or stale entry
// is never a correctness issue, only a missed optimization.
func (w *gcWorker[K, V]) cacheArchivedTail(key K, head *mutation[V]) {
	if w.clean == nil || head == nil {
		return
	}
	tail := head
	for tail.prev != nil {
		tail = tail.prev
	}
	if tail.tomb {
		return
	}
	hk, ok := any(key).(HashableKey)
	if !ok {
		return
	}
	enc, ok := any(tail.value).(interface{ Bytes() []byte })
	if !ok {
		return
	}
	var verBuf [8]byte
	binary.BigEndian.PutUint64(verBuf[:], uint64(tail.version))
	cacheKey := append(append([]byte{}, hk.Bytes()...), verBuf[:]...)
	w.clean.Set(cacheKey, enc.Bytes())
}

// releaseDropped calls Release on every evicted value that implements
// Releasable, absorbing any panic as a logged warning — one
// ill-behaved value must never stall the worker.
func (w *gcWorker[K, V]) releaseDropped(dropped []V) {
	for _, v := range dropped {
		w.releaseOne(v)
	}
}

func (w *gcWorker[K, V]) releaseOne(v V) {
	r, ok := any(v).(Releasable)
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			w.settings.log().Warn("value release failed", "panic", rec)
		}
	}()
	r.Release()
}

// pruneChain walks from head and returns a chain keeping every node
// with version >= cutoff, plus at most one node with version < cutoff
// (the newest such node — the value the oldest live reader would
// observe if no kept node already satisfies it exactly). changed
// reports whether anything was actually dropped, so the caller can
// skip a pointless CAS when the chain is already minimal. dropped
// carries the values of every evicted node so the caller can run the
// value-release protocol on them.
func pruneChain[V any](head *mutation[V], cutoff Version) (*mutation[V], bool, []V) {
	var keepAbove []*mutation[V]
	var belowCutoff *mutation[V]
	var dropped []V
	extraBelow := 0

	for n := head; n != nil; n = n.prev {
		if n.version >= cutoff {
			keepAbove = append(keepAbove, n)
			continue
		}
		if belowCutoff == nil {
			belowCutoff = n
		} else {
			extraBelow++
			if !n.tomb {
				dropped = append(dropped, n.value)
			}
		}
	}
	if extraBelow == 0 {
		return head, false, nil
	}

	var tail *mutation[V]
	if belowCutoff != nil {
		tail = &mutation[V]{version: belowCutoff.version, value: belowCutoff.value, tomb: belowCutoff.tomb}
	}
	if len(keepAbove) == 0 {
		return tail, true, dropped
	}
	// Rebuild the retained prefix: every node whose prev pointer must
	// now terminate sooner needs a fresh identity, since published
	// mutations are immutable and readers still walking the old head
	// must keep seeing the old (longer) chain.
	newHead := &mutation[V]{version: keepAbove[0].version, value: keepAbove[0].value, tomb: keepAbove[0].tomb}
	cur := newHead
	for i := 1; i < len(keepAbove); i++ {
		next := &mutation[V]{version: keepAbove[i].version, value: keepAbove[i].value, tomb: keepAbove[i].tomb}
		cur.prev = next
		cur = next
	}
	cur.prev = tail
	return newHead, true, dropped
}

type gcWorkerPanic struct{ recovered any }

func (e *gcWorkerPanic) Error() string {
	return "corestate: gc worker panicked"
}

// faulted reports whether the worker has absorbed a panic. Once true,
// the map is poisoned: every subsequent public call fails with
// ErrGCWorkerFault.
func (w *gcWorker[K, V]) faulted() bool {
	w.faultMu.Lock()
	defer w.faultMu.Unlock()
	return w.fault != nil
}

// pendingEvents reports the current queue depth, backing
// FCMap.PendingGCEvents.
func (w *gcWorker[K, V]) pendingEvents() int64 { return w.gauges.Pending() }

func (w *gcWorker[K, V]) running() bool { return w.gauges.Running() }
