// Package poscache caches per-symbol position state so high-frequency
// decision cycles do not hammer the exchange REST API.
package poscache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futurebot-go/internal/market"
)

// ErrStateUnknown means the cache could not produce a trustworthy answer:
// there is no fresh entry and the refresh failed. Callers must treat it as
// "skip this cycle", never as "confirmed flat".
var ErrStateUnknown = errors.New("position state unknown")

// DefaultTTL bounds how stale a cached entry may be before a refresh.
const DefaultTTL = 60 * time.Second

// PositionSource is the slice of the execution gateway the cache refreshes
// from.
type PositionSource interface {
	GetPosition(ctx context.Context, symbol string) (*market.Position, error)
}

type entry struct {
	// pos is nil for a confirmed-flat symbol; the timestamp is what
	// distinguishes confirmed-flat from stale.
	pos         *market.Position
	refreshedAt time.Time
}

// Cache is the single piece of mutable state shared between the dispatcher
// and the account-update feed. One mutex covers the whole map; refreshes hold
// it so concurrent writers cannot lose updates for the same symbol.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	src        PositionSource
	log        zerolog.Logger
	entries    map[string]entry
	lastSignal map[string]time.Time
	now        func() time.Time
}

// New builds a cache over the given position source. ttl <= 0 selects
// DefaultTTL.
func New(src PositionSource, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:        ttl,
		src:        src,
		log:        log.With().Str("component", "poscache").Logger(),
		entries:    make(map[string]entry),
		lastSignal: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Get returns the position for symbol, nil meaning confirmed flat. A fresh
// cache entry is served without I/O; a stale or missing one triggers a
// refresh through the gateway. When the refresh fails the prior entry is left
// untouched and ErrStateUnknown is returned so the next call retries.
func (c *Cache) Get(ctx context.Context, symbol string) (*market.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[symbol]; ok && c.now().Sub(e.refreshedAt) < c.ttl {
		return e.pos, nil
	}

	pos, err := c.src.GetPosition(ctx, symbol)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("position refresh failed, state unknown")
		return nil, fmt.Errorf("%w: %s", ErrStateUnknown, symbol)
	}
	c.entries[symbol] = entry{pos: pos, refreshedAt: c.now()}
	return pos, nil
}

// IsStale reports whether symbol has no entry or one at/over the TTL. Cheaper
// than Get for callers that must not trigger a refresh.
func (c *Cache) IsStale(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		return true
	}
	return c.now().Sub(e.refreshedAt) >= c.ttl
}

// Invalidate removes the entry and the signal-cooldown stamp together. Call
// it immediately after any fill or close touching the symbol so the next read
// is forced to refresh.
func (c *Cache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	delete(c.lastSignal, symbol)
	c.mu.Unlock()
	c.log.Debug().Str("symbol", symbol).Msg("position cache invalidated")
}

// ApplyAccountUpdate stores pushed position deltas with the current
// timestamp, bypassing REST. Symbols outside allowed are ignored. A zero-size
// update is stored as an explicit fresh flat entry, not deleted.
func (c *Cache) ApplyAccountUpdate(updates []market.PositionUpdate, allowed map[string]struct{}) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range updates {
		if _, ok := allowed[u.Symbol]; !ok {
			continue
		}
		c.entries[u.Symbol] = entry{pos: u.Position(now), refreshedAt: now}
		c.log.Debug().
			Str("symbol", u.Symbol).
			Float64("qty", u.Quantity).
			Msg("position updated from account stream")
	}
}

// LastSignalAt returns when the last signal for symbol was recorded.
func (c *Cache) LastSignalAt(symbol string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastSignal[symbol]
	return t, ok
}

// MarkSignal records a signal emission time for cooldown enforcement.
func (c *Cache) MarkSignal(symbol string, at time.Time) {
	c.mu.Lock()
	c.lastSignal[symbol] = at
	c.mu.Unlock()
}

// SetClock overrides the time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
