// Package readcache implements the interval-keyed max-timestamp store that
// enforces "write no earlier than reads" (§4.1). It is the read-side half of
// the stale-write check in the write path.
package readcache

import (
	"log/slog"
	"os"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	lru "github.com/hashicorp/golang-lru"

	"github.com/k2platform/k23si/wire"
)

type entry struct {
	lo, hi []byte
	ts     uint64
}

// Cache is an interval-keyed max-timestamp store. checkInterval/markInterval
// satisfy the monotonicity contract required by §4.1: no later checkInterval
// returns a value less than any earlier markInterval with overlap.
//
// It is bounded in size via an LRU of interval entries (promoted from the
// teacher's indirect golang-lru dependency); evicting an entry folds its
// timestamp into a conservative floor so later checks never under-report.
type Cache struct {
	mtx   sync.RWMutex
	tree  *treemap.Map // encoded lo []byte -> *entry
	lru   *lru.Cache   // string(lo) -> struct{}, tracks recency for eviction
	floor uint64
	log   *slog.Logger
}

func New(maxEntries int) *Cache {
	c := &Cache{
		tree: treemap.NewWith(wire.KeyComparator),
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}

	evictor, err := lru.NewWithEvict(maxEntries, c.onEvict)
	if err != nil {
		// Only returns an error for maxEntries <= 0; fall back to a
		// single-entry cache rather than panicking on a bad config value.
		evictor, _ = lru.NewWithEvict(1, c.onEvict)
	}
	c.lru = evictor
	return c
}

func (c *Cache) onEvict(key interface{}, _ interface{}) {
	// Called with c.mtx already held by markInterval. The LRU is keyed by
	// string(lo), not []byte, since []byte isn't comparable/hashable as a
	// map key; convert back to look the entry up in the tree.
	s, _ := key.(string)
	lo := []byte(s)
	v, ok := c.tree.Get(lo)
	if !ok {
		return
	}
	e, _ := v.(*entry)
	if e != nil && e.ts > c.floor {
		c.floor = e.ts
	}
	c.tree.Remove(lo)
}

// MarkInterval records a read at ts over [lo, hi].
func (c *Cache) MarkInterval(lo, hi []byte, ts uint64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if v, ok := c.tree.Get(lo); ok {
		e, _ := v.(*entry)
		if e != nil {
			if ts > e.ts {
				e.ts = ts
			}
			if bytesGreater(hi, e.hi) {
				e.hi = hi
			}
			c.lru.Add(string(lo), struct{}{})
			return
		}
	}

	c.tree.Put(lo, &entry{lo: lo, hi: hi, ts: ts})
	c.lru.Add(string(lo), struct{}{})

	c.log.Debug("mark_interval",
		slog.String("lo", string(lo)),
		slog.String("hi", string(hi)),
		slog.Uint64("ts", ts),
	)
}

// CheckInterval returns the maximum timestamp previously marked over any
// interval overlapping [lo, hi], or the conservative floor, whichever is
// higher.
func (c *Cache) CheckInterval(lo, hi []byte) uint64 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	maxTS := c.floor
	c.tree.Each(func(key interface{}, value interface{}) {
		e, ok := value.(*entry)
		if !ok {
			return
		}
		if !overlaps(lo, hi, e.lo, e.hi) {
			return
		}
		if e.ts > maxTS {
			maxTS = e.ts
		}
	})
	return maxTS
}

func overlaps(lo1, hi1, lo2, hi2 []byte) bool {
	if bytesGreater(lo1, hi2) {
		return false
	}
	if bytesGreater(lo2, hi1) {
		return false
	}
	return true
}

func bytesGreater(a, b []byte) bool {
	return wire.KeyComparator(a, b) > 0
}
