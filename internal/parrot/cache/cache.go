// Package cache keeps one live chain per session in memory.
//
// GetChain loads a session's chain from the store on first use (or creates an
// empty one) and hands out a lock-guarded handle to it. SaveChain is called
// after every mutation; it only writes to the store once every cycle+1 calls
// per session, using a countdown that resets on each write.
//
// Entries are never evicted. Memory grows with the number of distinct
// sessions seen by the process; FlushAll persists pending changes before
// shutdown.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bdobrica/Parrot/internal/parrot/chain"
	"github.com/bdobrica/Parrot/internal/parrot/chainstore"
	"github.com/bdobrica/Parrot/internal/parrot/metrics"
)

// ErrNotCached is returned by SaveChain and Flush for a session that
// GetChain has not returned yet.
var ErrNotCached = errors.New("cache: save requested before get")

// Shared is the handle to a cached chain. The chain is reachable only through
// Do, which holds the chain's lock.
type Shared struct {
	mu sync.Mutex
	c  *chain.Chain
}

// Do runs fn with exclusive access to the chain and returns fn's error.
// fn must not retain the chain after returning.
func (s *Shared) Do(fn func(c *chain.Chain) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.c)
}

// entry is one session. shared is nil while the first GetChain is loading;
// ready is closed when loading finishes, with err set on failure.
type entry struct {
	shared    *Shared
	countdown uint8
	dirty     bool
	ready     chan struct{}
	err       error
}

// Cache maps session ids to chains. It is safe for concurrent use.
type Cache struct {
	store   chainstore.Store
	cycle   uint8
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[int64]*entry
}

// New returns an empty cache over store. cycle is the number of SaveChain
// calls skipped between writes. m may be nil.
func New(store chainstore.Store, cycle uint8, m *metrics.Metrics) *Cache {
	if m == nil {
		m = metrics.Discard()
	}
	return &Cache{
		store:   store,
		cycle:   cycle,
		metrics: m,
		entries: make(map[int64]*entry),
	}
}

// GetChain returns the handle for sessionID, loading it from the store or
// creating an empty chain on first use. Concurrent first calls for the same
// session perform a single load and share its outcome.
//
// A stored chain that fails to decode yields a *chain.DecodeError and a store
// failure a *chainstore.Error; in both cases nothing is cached and the next
// call tries again.
func (c *Cache) GetChain(ctx context.Context, sessionID int64) (*Shared, error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[sessionID]
		if !ok {
			e = &entry{countdown: c.cycle, ready: make(chan struct{})}
			c.entries[sessionID] = e
			c.mu.Unlock()
			return c.load(ctx, sessionID, e)
		}
		c.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err == nil {
			c.metrics.CacheHits.Inc()
			return e.shared, nil
		}
		// The loader gave up because its own context ended; ours may still
		// be live, so start over.
		if isContextErr(e.err) && ctx.Err() == nil {
			continue
		}
		return nil, e.err
	}
}

// load fills in e, which the caller has just registered as loading.
func (c *Cache) load(ctx context.Context, sessionID int64, e *entry) (*Shared, error) {
	c.metrics.CacheMisses.Inc()
	shared, err := c.loadChain(ctx, sessionID)

	c.mu.Lock()
	if err != nil {
		e.err = err
		delete(c.entries, sessionID)
	} else {
		e.shared = shared
	}
	c.metrics.Sessions.Set(float64(len(c.entries)))
	close(e.ready)
	c.mu.Unlock()

	if err != nil {
		c.metrics.LoadErrors.Inc()
		slog.Error("chain load failed", "session_id", sessionID, "err", err)
		return nil, err
	}
	return shared, nil
}

func (c *Cache) loadChain(ctx context.Context, sessionID int64) (*Shared, error) {
	data, found, err := c.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		slog.Info("no stored chain; starting a new one", "session_id", sessionID)
		return &Shared{c: chain.New()}, nil
	}
	ch, err := chain.Load(data)
	if err != nil {
		return nil, fmt.Errorf("session %d: %w", sessionID, err)
	}
	slog.Info("loaded stored chain", "session_id", sessionID, "states", ch.States())
	return &Shared{c: ch}, nil
}

// SaveChain records that sessionID's chain changed. When the countdown is at
// zero it resets it and writes the chain to the store, holding the chain's
// lock during the write; otherwise it decrements the countdown.
//
// A failed write is returned with the countdown already reset, so the
// failure surfaces immediately and the chain stays marked for FlushAll.
func (c *Cache) SaveChain(ctx context.Context, sessionID int64) error {
	c.mu.Lock()
	e, ok := c.entries[sessionID]
	if !ok || e.shared == nil {
		c.mu.Unlock()
		return fmt.Errorf("session %d: %w", sessionID, ErrNotCached)
	}
	if e.countdown > 0 {
		e.countdown--
		e.dirty = true
		c.mu.Unlock()
		c.metrics.SavesSkipped.Inc()
		return nil
	}
	e.countdown = c.cycle
	e.dirty = false
	c.mu.Unlock()

	return c.write(ctx, sessionID, e)
}

// Flush writes sessionID's chain now regardless of the countdown, and resets
// the countdown.
func (c *Cache) Flush(ctx context.Context, sessionID int64) error {
	c.mu.Lock()
	e, ok := c.entries[sessionID]
	if !ok || e.shared == nil {
		c.mu.Unlock()
		return fmt.Errorf("session %d: %w", sessionID, ErrNotCached)
	}
	e.countdown = c.cycle
	e.dirty = false
	c.mu.Unlock()

	return c.write(ctx, sessionID, e)
}

// FlushAll writes every chain with changes the countdown has not yet
// persisted. Failures are joined; the remaining sessions are still written.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	var pending []int64
	for id, e := range c.entries {
		if e.shared != nil && e.dirty {
			pending = append(pending, id)
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, id := range pending {
		if err := c.Flush(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	slog.Info("flushed pending chains", "sessions", len(pending), "failures", len(errs))
	return errors.Join(errs...)
}

// Len returns the number of sessions held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.shared != nil {
			n++
		}
	}
	return n
}

func (c *Cache) write(ctx context.Context, sessionID int64, e *entry) error {
	err := e.shared.Do(func(ch *chain.Chain) error {
		data, err := ch.Save()
		if err != nil {
			return err
		}
		return c.store.Save(ctx, sessionID, data)
	})
	if err != nil {
		c.mu.Lock()
		e.dirty = true
		c.mu.Unlock()
		c.metrics.Flushes.WithLabelValues(metrics.FlushError).Inc()
		slog.Error("chain flush failed", "session_id", sessionID, "err", err)
		return err
	}
	c.metrics.Flushes.WithLabelValues(metrics.FlushOK).Inc()
	slog.Debug("chain flushed", "session_id", sessionID)
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
