package disk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nace/volcrypt/internal/system"
	"go.uber.org/atomic"
)

const (
	// DefaultCacheTTL is how long a snapshot is served without re-querying
	DefaultCacheTTL = 30 * time.Second

	// DefaultTimeout bounds a whole discovery pass
	DefaultTimeout = 10 * time.Second
)

// Source produces a fresh list of disks. Implementations must return an error
// rather than partial data.
type Source interface {
	Enumerate(ctx context.Context) ([]Disk, error)
}

// Recorder observes enumeration outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordEnumeration(err error, duration time.Duration)
	RecordCacheHit()
}

type snapshot struct {
	disks   []Disk
	takenAt time.Time
}

// Enumerator caches disk snapshots from a Source.
type Enumerator struct {
	source   Source
	ttl      time.Duration
	timeout  time.Duration
	log      system.Log
	recorder Recorder
	now      func() time.Time

	current *atomic.Pointer[snapshot]
	refresh sync.Mutex
}

// Option configures an Enumerator
type Option func(*Enumerator)

// WithTTL overrides the cache lifetime
func WithTTL(ttl time.Duration) Option {
	return func(e *Enumerator) { e.ttl = ttl }
}

// WithTimeout overrides the discovery deadline
func WithTimeout(d time.Duration) Option {
	return func(e *Enumerator) { e.timeout = d }
}

// WithRecorder attaches an outcome recorder
func WithRecorder(r Recorder) Option {
	return func(e *Enumerator) { e.recorder = r }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Enumerator) { e.now = now }
}

// NewEnumerator creates an enumerator over source
func NewEnumerator(source Source, log system.Log, opts ...Option) *Enumerator {
	if log == nil {
		log = system.NopLog
	}
	e := &Enumerator{
		source:  source,
		ttl:     DefaultCacheTTL,
		timeout: DefaultTimeout,
		log:     log,
		now:     time.Now,
		current: atomic.NewPointer[snapshot](nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// List returns the cached snapshot when it is younger than the TTL and
// forceRefresh is false; otherwise it queries the source. A failed query
// yields an empty list and leaves the cache untouched. An empty list means
// "unknown", not "no disks".
func (e *Enumerator) List(ctx context.Context, forceRefresh bool) []Disk {
	if !forceRefresh {
		if snap := e.fresh(); snap != nil {
			e.recordHit()
			return clone(snap.disks)
		}
	}

	e.refresh.Lock()
	defer e.refresh.Unlock()

	// Another caller may have refreshed while we waited.
	if !forceRefresh {
		if snap := e.fresh(); snap != nil {
			e.recordHit()
			return clone(snap.disks)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := e.now()
	disks, err := e.source.Enumerate(ctx)
	if e.recorder != nil {
		e.recorder.RecordEnumeration(err, e.now().Sub(start))
	}
	if err != nil {
		e.log.Warning("Disk discovery failed: %v", err)
		return []Disk{}
	}

	snap := &snapshot{disks: clone(disks), takenAt: e.now()}
	e.current.Store(snap)
	e.log.Debug("Discovered %d disks", len(disks))

	return clone(snap.disks)
}

// Details looks one disk up by device path, identifier or mount point.
func (e *Enumerator) Details(ctx context.Context, ref string) (Disk, error) {
	for _, d := range e.List(ctx, false) {
		if d.Matches(ref) {
			return d, nil
		}
	}
	return Disk{}, fmt.Errorf("disk %q: %w", ref, system.ErrNotFound)
}

// Invalidate drops the cached snapshot so the next List re-queries.
func (e *Enumerator) Invalidate() {
	e.current.Store(nil)
}

func (e *Enumerator) fresh() *snapshot {
	snap := e.current.Load()
	if snap == nil || e.now().Sub(snap.takenAt) >= e.ttl {
		return nil
	}
	return snap
}

func (e *Enumerator) recordHit() {
	if e.recorder != nil {
		e.recorder.RecordCacheHit()
	}
}

func clone(disks []Disk) []Disk {
	out := make([]Disk, len(disks))
	copy(out, disks)
	return out
}
