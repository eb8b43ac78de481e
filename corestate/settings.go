package corestate

import (
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Settings is the explicit configuration surface for a constructed
// FCMap. There is no package-level settings object, only values passed
// at construction through Options. Reconfiguration is process-lifetime
// — it only ever applies to maps constructed after the change.
type Settings struct {
	// MaxGCQueueSize is the soft bound on pending GC events. An enqueue
	// that finds the queue above it logs a warning, at most once per
	// GCQueueThresholdPeriod; it never blocks producers and never drops
	// an event.
	MaxGCQueueSize int

	// GCQueueThresholdPeriod is the minimum time between overrun warnings.
	GCQueueThresholdPeriod time.Duration

	// ArchiveEnabled opts a copy into corestate.Archive support.
	ArchiveEnabled bool

	// RebuildSplitFactor records the parallelism unit for splitting an
	// archive stream into rebuild shards. LoadFromShards does not read
	// it: it ingests the shard sources it is given as they are.
	RebuildSplitFactor int

	// RebuildThreadCount sizes the goroutine pool used for rebuild;
	// defaults to runtime.GOMAXPROCS(0).
	RebuildThreadCount int

	// CleanCacheBytes, if positive, sizes a fastcache-backed cache the GC
	// worker writes the archived tail value left behind after compacting
	// a chain into, keyed by HashableKey.Bytes() followed by the
	// big-endian version. No read path consults it. Zero disables it.
	CleanCacheBytes int

	logger *slog.Logger
}

// DefaultSettings returns the zero-configuration defaults used when no
// Options are supplied.
func DefaultSettings() Settings {
	return Settings{
		MaxGCQueueSize:         200,
		GCQueueThresholdPeriod: time.Minute,
		ArchiveEnabled:         false,
		RebuildSplitFactor:     4,
		RebuildThreadCount:     runtime.GOMAXPROCS(0),
		logger:                 slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

func (s Settings) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return s.logger
}

// Option configures a Settings value at FCMap construction time.
type Option func(*Settings)

// WithMaxGCQueueSize overrides the soft bound on pending GC events.
func WithMaxGCQueueSize(n int) Option {
	return func(s *Settings) { s.MaxGCQueueSize = n }
}

// WithGCQueueThresholdPeriod overrides the minimum time between overrun
// warnings.
func WithGCQueueThresholdPeriod(d time.Duration) Option {
	return func(s *Settings) { s.GCQueueThresholdPeriod = d }
}

// WithArchiveEnabled toggles archival support for copies of the map.
func WithArchiveEnabled(enabled bool) Option {
	return func(s *Settings) { s.ArchiveEnabled = enabled }
}

// WithRebuildSplitFactor overrides Settings.RebuildSplitFactor, which
// LoadFromShards does not read.
func WithRebuildSplitFactor(n int) Option {
	return func(s *Settings) { s.RebuildSplitFactor = n }
}

// WithRebuildThreadCount overrides the goroutine pool size used during
// rebuild.
func WithRebuildThreadCount(n int) Option {
	return func(s *Settings) { s.RebuildThreadCount = n }
}

// WithCleanCache enables the GC worker's archived-tail memo, sized in
// bytes. Only used for keys implementing HashableKey; a no-op for
// other key types.
func WithCleanCache(sizeBytes int) Option {
	return func(s *Settings) { s.CleanCacheBytes = sizeBytes }
}

// WithLogger installs a *slog.Logger used for warnings (GC queue
// overrun, value release failures). Defaults to a text handler on
// stderr at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Settings) { s.logger = l }
}
