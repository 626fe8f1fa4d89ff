package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/metrics"
	"audiobook-feed/internal/store"
)

// DefaultFastScrollWindow is the navigation interval below which the user is
// considered to be scrolling fast.
const DefaultFastScrollWindow = 20 * time.Second

var (
	// ErrIndexOutOfRange is returned by JumpTo for an index outside the buffer.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrUnusableRecord rejects placeholders and records without identity.
	ErrUnusableRecord = errors.New("record is a placeholder or has no identity")
)

// RecordSource produces one record per call, nil when exhausted.
type RecordSource interface {
	FetchOne(ctx context.Context, opts domain.FeedOptions) *domain.Record
}

// CacheReader pops records from the overflow cache.
type CacheReader interface {
	PopBestCandidate(ctx context.Context, req store.PopRequest) (*domain.Record, error)
}

// Snapshot is the observable buffer state.
type Snapshot struct {
	Current  domain.Record `json:"current"`
	Index    int           `json:"index"`
	Length   int           `json:"length"`
	Ahead    int           `json:"ahead"`
	Fetching bool          `json:"fetching"`
}

type fetchCall struct {
	done chan struct{}
}

// Buffer is the lookahead window of one feed session. The sequence only grows:
// records are appended at the tail or spliced right after the cursor, and
// history behind the cursor is kept for Previous. At most one pipeline call
// is in flight at a time.
type Buffer struct {
	source     RecordSource
	cache      CacheReader
	tasks      *TaskQueue
	opts       domain.FeedOptions
	preload    int
	fastScroll time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics

	mu       sync.Mutex
	records  []domain.Record
	index    int
	inflight *fetchCall
	lastNav  time.Time
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithFastScrollWindow overrides DefaultFastScrollWindow.
func WithFastScrollWindow(d time.Duration) BufferOption {
	return func(b *Buffer) { b.fastScroll = d }
}

// WithBufferClock overrides the time source.
func WithBufferClock(now func() time.Time) BufferOption {
	return func(b *Buffer) { b.now = now }
}

// WithBufferMetrics records where served records came from.
func WithBufferMetrics(m *metrics.Metrics) BufferOption {
	return func(b *Buffer) { b.metrics = m }
}

// NewBuffer creates an empty buffer. cache may be nil; tasks runs top-ups.
func NewBuffer(source RecordSource, cache CacheReader, tasks *TaskQueue, opts domain.FeedOptions, bopts ...BufferOption) *Buffer {
	b := &Buffer{
		source:     source,
		cache:      cache,
		tasks:      tasks,
		opts:       opts,
		preload:    max(opts.PreloadAhead, 0),
		fastScroll: DefaultFastScrollWindow,
		now:        time.Now,
	}
	for _, opt := range bopts {
		opt(b)
	}
	return b
}

// Options returns the feed options the buffer fetches with.
func (b *Buffer) Options() domain.FeedOptions {
	return b.opts
}

// Seed makes rec the first record. It reports false when the buffer already
// holds records or rec is unusable.
func (b *Buffer) Seed(rec domain.Record) bool {
	if rec.IsPlaceholder || rec.Key() == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) > 0 {
		return false
	}
	b.records = []domain.Record{rec}
	b.index = 0
	return true
}

// Bootstrap fills an empty buffer with one synchronous pipeline call and
// returns the current record. It does not schedule a top-up; call Prefetch
// for that.
func (b *Buffer) Bootstrap(ctx context.Context) (domain.Record, bool) {
	b.mu.Lock()
	if len(b.records) > 0 {
		rec := b.records[b.index]
		b.mu.Unlock()
		return rec, true
	}

	call := b.inflight
	if call == nil {
		call = &fetchCall{done: make(chan struct{})}
		b.inflight = call
		opts := b.fetchOptionsLocked()
		b.mu.Unlock()

		rec := b.source.FetchOne(ctx, opts)
		b.complete(call, rec, false)
	} else {
		b.mu.Unlock()
	}

	if !b.await(ctx, call) {
		return domain.Record{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) == 0 {
		return domain.Record{}, false
	}
	b.metrics.BufferServe("pipeline")
	return b.records[b.index], true
}

// Prefetch schedules a top-up when fewer than PreloadAhead records are ready.
func (b *Buffer) Prefetch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topUpLocked()
}

// Next advances to the next resident record. It never blocks.
func (b *Buffer) Next() (domain.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index+1 >= len(b.records) {
		return b.currentLocked(), false
	}
	b.index++
	b.lastNav = b.now()
	b.metrics.BufferServe("window")
	b.topUpLocked()
	return b.records[b.index], true
}

// SmartNext advances like Next. With nothing resident ahead it pops the
// overflow cache, preferring previously shown entries while the user scrolls
// fast, and only then waits for the pipeline. A caller that finds a pipeline
// call in flight joins it. When every source is exhausted the cursor stays
// where it is and ok is false.
func (b *Buffer) SmartNext(ctx context.Context) (domain.Record, bool) {
	b.mu.Lock()
	if b.index+1 < len(b.records) {
		b.index++
		b.lastNav = b.now()
		b.metrics.BufferServe("window")
		b.topUpLocked()
		rec := b.records[b.index]
		b.mu.Unlock()
		return rec, true
	}

	now := b.now()
	fast := !b.lastNav.IsZero() && now.Sub(b.lastNav) < b.fastScroll
	exclude := b.keysLocked()
	empty := len(b.records) == 0
	b.mu.Unlock()

	// The mutex is released while the cache and the pipeline run, so a top-up
	// may append in between. Moving exactly one step never skips it.
	if rec := b.popCache(ctx, fast, exclude); rec != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.appendLocked(*rec)
		if !b.advanceLocked(empty) {
			return b.currentLocked(), false
		}
		b.lastNav = now
		if b.records[b.index].Key() == rec.Key() {
			b.metrics.BufferServe("cache")
		} else {
			b.metrics.BufferServe("window")
		}
		b.topUpLocked()
		return b.records[b.index], true
	}

	b.mu.Lock()
	call := b.inflight
	if call == nil {
		call = b.startFetchLocked()
	}
	b.mu.Unlock()

	if !b.await(ctx, call) {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.currentLocked(), false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.advanceLocked(empty) {
		return b.currentLocked(), false
	}
	b.lastNav = now
	b.metrics.BufferServe("pipeline")
	b.topUpLocked()
	return b.records[b.index], true
}

// Previous moves the cursor back. It never fetches.
func (b *Buffer) Previous() (domain.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index == 0 {
		return b.currentLocked(), false
	}
	b.index--
	b.lastNav = b.now()
	return b.records[b.index], true
}

// JumpTo sets the cursor to an index already in the buffer.
func (b *Buffer) JumpTo(i int) (domain.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i < 0 || i >= len(b.records) {
		return b.currentLocked(), ErrIndexOutOfRange
	}
	b.index = i
	b.lastNav = b.now()
	b.topUpLocked()
	return b.records[b.index], nil
}

// InsertNext splices rec right after the cursor and advances to it. A record
// already in the buffer is jumped to instead.
func (b *Buffer) InsertNext(rec domain.Record) (domain.Record, error) {
	if rec.IsPlaceholder || rec.Key() == "" {
		return domain.Record{}, ErrUnusableRecord
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastNav = b.now()
	if i := b.indexOfLocked(rec.Key()); i >= 0 {
		b.index = i
		return b.records[i], nil
	}
	if len(b.records) == 0 {
		b.records = []domain.Record{rec}
		b.index = 0
		return rec, nil
	}

	at := b.index + 1
	b.records = append(b.records, domain.Record{})
	copy(b.records[at+1:], b.records[at:])
	b.records[at] = rec
	b.index = at
	return rec, nil
}

// Snapshot returns the current state. An empty buffer reports the placeholder.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Current:  b.currentLocked(),
		Index:    b.index,
		Length:   len(b.records),
		Ahead:    b.aheadLocked(),
		Fetching: b.inflight != nil,
	}
}

// Keys returns the canonical keys of every buffered record.
func (b *Buffer) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keysLocked()
}

func (b *Buffer) popCache(ctx context.Context, fast bool, exclude []string) *domain.Record {
	if b.cache == nil {
		return nil
	}
	rec, err := b.cache.PopBestCandidate(ctx, store.PopRequest{
		Language:    b.opts.LanguageTag(),
		Genres:      b.opts.EnabledGenres,
		AllowReused: fast,
		Exclude:     exclude,
	})
	if err != nil {
		slog.Warn("Overflow cache pop failed", "error", err)
		return nil
	}
	return rec
}

// topUpLocked schedules exactly one pipeline call when the window is short.
func (b *Buffer) topUpLocked() {
	if b.inflight != nil || b.aheadLocked() >= b.preload {
		return
	}
	b.startFetchLocked()
}

// startFetchLocked sets the in-flight guard before submitting the pipeline
// call, so no second call can start in between.
func (b *Buffer) startFetchLocked() *fetchCall {
	call := &fetchCall{done: make(chan struct{})}
	b.inflight = call
	opts := b.fetchOptionsLocked()

	run := func(ctx context.Context) error {
		b.complete(call, b.source.FetchOne(ctx, opts), true)
		return nil
	}
	if b.tasks == nil {
		go func() { _ = run(context.Background()) }()
		return call
	}
	if !b.tasks.Submit("buffer-fetch", run) {
		b.inflight = nil
		close(call.done)
	}
	return call
}

// fetchOptionsLocked returns the feed options with every buffered key excluded.
func (b *Buffer) fetchOptionsLocked() domain.FeedOptions {
	opts := b.opts
	opts.Exclude = b.keysLocked()
	return opts
}

// complete publishes a pipeline result. Only a record that grew the buffer
// re-checks the shortfall; an exhausted source or a duplicate does not.
func (b *Buffer) complete(call *fetchCall, rec *domain.Record, topUp bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	appended := rec != nil && !rec.IsPlaceholder && rec.Key() != "" && b.appendLocked(*rec)
	if b.inflight == call {
		b.inflight = nil
	}
	close(call.done)

	if topUp && appended {
		b.topUpLocked()
	}
}

func (b *Buffer) await(ctx context.Context, call *fetchCall) bool {
	select {
	case <-call.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// appendLocked adds rec at the tail unless its key is already buffered and
// reports whether it did.
func (b *Buffer) appendLocked(rec domain.Record) bool {
	if b.indexOfLocked(rec.Key()) >= 0 {
		return false
	}
	b.records = append(b.records, rec)
	return true
}

// advanceLocked moves the cursor one step. A buffer that was empty when the
// navigation started shows its first record instead.
func (b *Buffer) advanceLocked(fromEmpty bool) bool {
	if fromEmpty {
		return len(b.records) > 0
	}
	if b.index+1 >= len(b.records) {
		return false
	}
	b.index++
	return true
}

func (b *Buffer) indexOfLocked(key string) int {
	for i, r := range b.records {
		if r.Key() == key {
			return i
		}
	}
	return -1
}

func (b *Buffer) aheadLocked() int {
	if len(b.records) == 0 {
		return 0
	}
	return len(b.records) - b.index - 1
}

func (b *Buffer) currentLocked() domain.Record {
	if len(b.records) == 0 {
		return domain.Placeholder()
	}
	return b.records[b.index]
}

func (b *Buffer) keysLocked() []string {
	keys := make([]string, 0, len(b.records))
	for _, r := range b.records {
		keys = append(keys, r.Key())
	}
	return keys
}
