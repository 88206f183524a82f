package credentials

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/metrics"
)

const (
	DefaultReloadInterval = 10 * time.Minute
	DefaultFlushInterval  = time.Second
	DefaultSweepInterval  = time.Minute
	DefaultLookupTimeout  = 5 * time.Second
	DefaultFlushTimeout   = 30 * time.Second
)

// Lookup result labels reported to metrics.
const (
	lookupHit          = "hit"
	lookupMiss         = "miss"
	lookupFallbackHit  = "fallback_hit"
	lookupFallbackMiss = "fallback_miss"
)

// Option configures a [Cache].
type Option func(*Cache)

// WithStore sets the durable store. Without one the cache is memory only.
func WithStore(s Store) Option { return func(c *Cache) { c.store = s } }

// WithLookup enables read-through to the authoritative source on a miss,
// and [Cache.RefreshAll].
func WithLookup(l Lookup) Option { return func(c *Cache) { c.lookup = l } }

// WithReloadInterval sets how stale the in-memory copy may get before a
// read reloads it from the store.
func WithReloadInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.reloadInterval = d
		}
	}
}

// WithFlushInterval sets the coalescing window of the background flusher.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithSweepInterval sets how often expired entries are purged.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithEntryTTL bounds how long an entry is served before it must be
// fetched again. Zero, the default, keeps entries until removed.
func WithEntryTTL(d time.Duration) Option { return func(c *Cache) { c.ttl = d } }

// WithLookupTimeout bounds a single read-through lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.lookupTimeout = d
		}
	}
}

// WithLogger sets the logger for flush and reload faults.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics reports lookups, size, reloads and flush failures to m.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Cache) { c.metrics = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

type change struct {
	rec     Record
	removed bool
}

type lookupResult struct {
	rec   Record
	found bool
}

// Cache maps tokens to credential records.
//
// Reads are served from memory. A read that finds the copy older than the
// reload interval first reloads it from the store; a read that misses falls
// through to the [Lookup], with concurrent misses for one token sharing a
// single lookup. Mutations update memory immediately and are queued for the
// background flusher started by [Cache.Start].
//
// A failed flush is logged and dropped, never retried in a loop. The cache
// then treats the durable copy as divergent: reloads are skipped and the
// next flush rewrites the whole document.
//
// The mutex guards only the maps and is never held across I/O.
type Cache struct {
	store          Store
	lookup         Lookup
	reloadInterval time.Duration
	flushInterval  time.Duration
	sweepInterval  time.Duration
	lookupTimeout  time.Duration
	ttl            time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time

	mu        sync.RWMutex
	entries   map[string]Entry[Record]
	pending   map[string]change
	loadedAt  time.Time
	divergent bool

	// flushMu orders durable I/O: flushes apply in the order batches were
	// taken, and a reload never reads the store mid-flush.
	flushMu sync.Mutex
	group   singleflight.Group
	dirty   chan struct{}

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// NewCache returns an empty cache. Call [Cache.Start] to load it and run
// the background flusher.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		reloadInterval: DefaultReloadInterval,
		flushInterval:  DefaultFlushInterval,
		sweepInterval:  DefaultSweepInterval,
		lookupTimeout:  DefaultLookupTimeout,
		logger:         slog.Default(),
		now:            time.Now,
		entries:        make(map[string]Entry[Record]),
		pending:        make(map[string]change),
		dirty:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the record for token. found is false for unknown
// tokens; a lookup miss caches nothing. The error is non-nil only when the
// authoritative lookup fails or ctx ends while waiting on it.
func (c *Cache) Get(ctx context.Context, token string) (Record, bool, error) {
	if token == "" {
		return Record{}, false, nil
	}

	c.reloadIfStale(ctx)

	if rec, ok := c.local(token); ok {
		c.metrics.CacheLookup(lookupHit)
		return rec, true, nil
	}
	if c.lookup == nil {
		c.metrics.CacheLookup(lookupMiss)
		return Record{}, false, nil
	}
	return c.readThrough(ctx, token)
}

// Set upserts rec under token. rec.Token must be empty or equal token.
func (c *Cache) Set(_ context.Context, token string, rec Record) error {
	if token == "" {
		return sserr.New(sserr.CodeValidationRequired, "credentials: token is required")
	}
	if rec.Token == "" {
		rec.Token = token
	} else if rec.Token != token {
		return sserr.New(sserr.CodeValidation, "credentials: record token does not match key")
	}
	c.put(token, rec)
	return nil
}

// Remove evicts token and queues its removal from the store. It reports
// whether the token was held in memory.
func (c *Cache) Remove(_ context.Context, token string) bool {
	c.mu.Lock()
	_, ok := c.entries[token]
	delete(c.entries, token)
	c.pending[token] = change{removed: true}
	n := len(c.entries)
	c.mu.Unlock()

	c.metrics.CacheSize(n)
	c.signal()
	return ok
}

// UpdateStatus sets only the Active flag of token's record, reading it
// through from the lookup if needed. It reports false for unknown tokens.
func (c *Cache) UpdateStatus(ctx context.Context, token string, active bool) (bool, error) {
	if _, found, err := c.Get(ctx, token); err != nil || !found {
		return false, err
	}

	c.mu.Lock()
	e, ok := c.entries[token]
	if ok {
		e.Value.Active = active
		c.entries[token] = e
		c.pending[token] = change{rec: e.Value}
	}
	c.mu.Unlock()

	if ok {
		c.signal()
	}
	return ok, nil
}

// RefreshAll rebuilds the cache from [Lookup.List], discards queued
// changes and schedules a full rewrite of the store. It returns the number
// of records loaded.
func (c *Cache) RefreshAll(ctx context.Context) (int, error) {
	if c.lookup == nil {
		return 0, sserr.New(sserr.CodeInternalConfiguration, "credentials: refresh requires a lookup")
	}
	recs, err := c.lookup.List(ctx)
	if err != nil {
		return 0, err
	}

	now := c.now()
	next := make(map[string]Entry[Record], len(recs))
	for _, rec := range recs {
		if rec.Token == "" {
			continue
		}
		next[rec.Token] = c.entry(rec, now)
	}

	c.mu.Lock()
	c.entries = next
	c.pending = make(map[string]change)
	c.divergent = true
	c.loadedAt = now
	c.mu.Unlock()

	c.metrics.CacheSize(len(next))
	c.signal()
	c.logger.InfoContext(ctx, "credentials: cache rebuilt from lookup", "count", len(next))
	return len(next), nil
}

// Len returns the number of entries held in memory, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reload replaces the in-memory copy with the store's document, keeping
// queued changes on top. It is a no-op without a store and while the
// durable copy is divergent. Concurrent calls share one load.
func (c *Cache) Reload(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	ch := c.group.DoChan("reload", func() (any, error) {
		return nil, c.reload(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Flush writes queued changes to the store now. On failure the batch is
// dropped and the error, a [sserr.CodeInternalStorage] fault, is also
// logged.
func (c *Cache) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.store == nil {
		c.pending = make(map[string]change)
		c.divergent = false
		c.mu.Unlock()
		return nil
	}
	if len(c.pending) == 0 && !c.divergent {
		c.mu.Unlock()
		return nil
	}
	b := Batch{
		Snapshot: make(map[string]Record, len(c.entries)),
		Upserts:  make(map[string]Record),
		Replace:  c.divergent,
	}
	for token, e := range c.entries {
		b.Snapshot[token] = e.Value
	}
	for token, ch := range c.pending {
		if ch.removed {
			b.Deletes = append(b.Deletes, token)
		} else {
			b.Upserts[token] = ch.rec
		}
	}
	c.pending = make(map[string]change)
	c.divergent = false
	c.mu.Unlock()

	if err := c.store.Apply(ctx, b); err != nil {
		c.mu.Lock()
		c.divergent = true
		c.mu.Unlock()

		fault := storageFault(err, "credentials: flush failed")
		c.metrics.CacheFlushFailed()
		c.logger.WarnContext(ctx, "credentials: flush failed, batch dropped; next flush rewrites the document",
			"code", fault.Code,
			"upserts", len(b.Upserts),
			"deletes", len(b.Deletes),
			"error", err,
		)
		return fault
	}
	return nil
}

// Start loads the cache from the store and starts the background flusher
// and expiry sweeper. A failing initial load is logged, not returned: the
// cache then fills through the lookup.
func (c *Cache) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stop != nil {
		return sserr.New(sserr.CodeConflict, "credentials: cache already started")
	}

	_ = c.Reload(ctx)

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
	return nil
}

// Stop halts the background goroutine and flushes what is still queued.
// The final flush runs even when ctx has ended, bounded by
// [DefaultFlushTimeout]; ctx's error is then returned alongside it.
func (c *Cache) Stop(ctx context.Context) error {
	c.runMu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.runMu.Unlock()

	var waitErr error
	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultFlushTimeout)
	defer cancel()
	return errors.Join(waitErr, c.Flush(fctx))
}

func (c *Cache) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	flushTicker := time.NewTicker(c.flushInterval)
	defer flushTicker.Stop()
	sweepTicker := time.NewTicker(c.sweepInterval)
	defer sweepTicker.Stop()

	dirty := false
	for {
		select {
		case <-stop:
			return
		case <-c.dirty:
			dirty = true
		case <-flushTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			ctx, cancel := context.WithTimeout(context.Background(), DefaultFlushTimeout)
			_ = c.Flush(ctx) // logged inside
			cancel()
		case <-sweepTicker.C:
			c.sweep()
		}
	}
}

func (c *Cache) local(token string) (Record, bool) {
	c.mu.RLock()
	e, ok := c.entries[token]
	c.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	now := c.now()
	if e.Valid(now) {
		return e.Value, true
	}

	c.mu.Lock()
	purged := false
	if cur, ok := c.entries[token]; ok && !cur.Valid(now) {
		c.expire(token)
		purged = true
	}
	c.mu.Unlock()
	if purged {
		c.signal()
	}
	return Record{}, false
}

// expire drops an expired token from memory and queues its removal, so a
// later reload cannot bring the stale record back. Callers hold c.mu.
func (c *Cache) expire(token string) {
	delete(c.entries, token)
	c.pending[token] = change{removed: true}
}

func (c *Cache) readThrough(ctx context.Context, token string) (Record, bool, error) {
	ch := c.group.DoChan("token:"+token, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lookupTimeout)
		defer cancel()

		rec, found, err := c.lookup.FindByToken(lctx, token)
		if err != nil || !found {
			return lookupResult{}, err
		}
		rec.Token = token
		c.put(token, rec)
		return lookupResult{rec: rec, found: true}, nil
	})

	select {
	case <-ctx.Done():
		return Record{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Record{}, false, res.Err
		}
		r := res.Val.(lookupResult)
		if r.found {
			c.metrics.CacheLookup(lookupFallbackHit)
		} else {
			c.metrics.CacheLookup(lookupFallbackMiss)
		}
		return r.rec, r.found, nil
	}
}

func (c *Cache) put(token string, rec Record) {
	c.mu.Lock()
	c.entries[token] = c.entry(rec, c.now())
	c.pending[token] = change{rec: rec}
	n := len(c.entries)
	c.mu.Unlock()

	c.metrics.CacheSize(n)
	c.signal()
}

func (c *Cache) entry(rec Record, now time.Time) Entry[Record] {
	e := Entry[Record]{Value: rec, CreatedAt: now}
	if c.ttl > 0 {
		e.ExpiresAt = now.Add(c.ttl)
	}
	return e
}

func (c *Cache) reloadIfStale(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.mu.RLock()
	stale := c.loadedAt.IsZero() || c.now().Sub(c.loadedAt) > c.reloadInterval
	c.mu.RUnlock()
	if stale {
		_ = c.Reload(ctx) // failures are logged and the current copy is served
	}
}

func (c *Cache) reload(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.divergent {
		c.loadedAt = c.now()
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "credentials: reload skipped, durable copy is behind memory")
		return nil
	}
	c.mu.Unlock()

	docs, err := c.store.Load(ctx)
	if err != nil {
		c.mu.Lock()
		c.loadedAt = c.now() // wait a full interval before trying again
		c.mu.Unlock()

		fault := storageFault(err, "credentials: reload failed")
		c.metrics.CacheReload(false)
		c.logger.WarnContext(ctx, "credentials: reload failed, serving the in-memory copy",
			"code", fault.Code,
			"error", err,
		)
		return fault
	}

	now := c.now()
	c.mu.Lock()
	if c.divergent {
		// RefreshAll ran while the store was being read.
		c.mu.Unlock()
		return nil
	}
	next := make(map[string]Entry[Record], len(docs))
	expired := 0
	for token, rec := range docs {
		if rec.Token == "" {
			rec.Token = token
		}
		e := c.entry(rec, now)
		if cur, ok := c.entries[token]; ok {
			// A reload refreshes the value, never the lifetime.
			if !cur.Valid(now) {
				c.expire(token)
				expired++
				continue
			}
			e.CreatedAt, e.ExpiresAt = cur.CreatedAt, cur.ExpiresAt
		}
		next[token] = e
	}
	for token, ch := range c.pending {
		if ch.removed {
			delete(next, token)
		} else if cur, ok := c.entries[token]; ok {
			next[token] = cur
		}
	}
	c.entries = next
	c.loadedAt = now
	n := len(next)
	c.mu.Unlock()

	if expired > 0 {
		c.signal()
	}
	c.metrics.CacheReload(true)
	c.metrics.CacheSize(n)
	c.logger.DebugContext(ctx, "credentials: cache reloaded", "count", n)
	return nil
}

func (c *Cache) sweep() {
	now := c.now()
	c.mu.Lock()
	purged := 0
	for token, e := range c.entries {
		if !e.Valid(now) {
			c.expire(token)
			purged++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()
	c.metrics.CacheSize(n)
	if purged > 0 {
		c.signal()
	}
}

func (c *Cache) signal() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func storageFault(err error, msg string) *sserr.Error {
	if e, ok := sserr.AsError(err); ok && e.Code == sserr.CodeInternalStorage {
		return e
	}
	return sserr.Wrap(err, sserr.CodeInternalStorage, msg)
}
