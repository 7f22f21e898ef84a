// Package cpo is the client-side facade over the Control-Plane Oracle: the
// external service that owns the authoritative collection -> partition
// range map (§6a). The CPO itself is out of scope; this package is the
// polling, caching, deduplicating client a partition would hold a handle to.
package cpo

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/k2platform/k23si/wire"
)

// ErrCollectionUnknown is returned when no partition in the collection's
// snapshot owns the key, or when a waiter on another caller's fetch finds no
// snapshot cached afterwards. A failed source fetch returns the fetch error
// instead.
var ErrCollectionUnknown = errors.New("cpo: collection unknown")

// PartitionRange describes one partition's ownership of a key range within
// a collection, enough to resolve the TRH-bearing partition for a key.
type PartitionRange struct {
	PartitionID string
	Start       wire.Key
	End         wire.Key // empty End means "no upper bound"
}

// Snapshot is a point-in-time view of a collection's partition map.
type Snapshot struct {
	Epoch      uint64
	Partitions []PartitionRange
}

func (s Snapshot) ownerOf(key wire.Key) (PartitionRange, bool) {
	for _, p := range s.Partitions {
		if p.Start.Compare(key) > 0 {
			continue
		}
		if !p.End.Empty() && key.Compare(p.End) >= 0 {
			continue
		}
		return p, true
	}
	return PartitionRange{}, false
}

// Source fetches the current partition-map snapshot for a collection from
// the real control plane. Polled by Client on a cache miss or explicit
// refresh, grounded on distribution/watcher.go's poll-then-apply shape.
type Source interface {
	Fetch(ctx context.Context, collection string) (Snapshot, error)
}

const (
	defaultBackoff    = 10 * time.Millisecond
	defaultMaxBackoff = 1 * time.Second
	defaultMaxRetries = 5
)

// Client caches the latest snapshot per collection and serves Resolve
// lookups from it, refreshing from Source on demand. Concurrent lookups for
// the same collection during a cache miss are deduplicated behind a single
// in-flight fetch — CPOClient.h's dedup behavior, hand-rolled here with a
// mutex and a waiter channel since golang.org/x/sync/singleflight is not in
// the retrieved pack.
type Client struct {
	mtx        sync.Mutex
	source     Source
	snapshots  map[string]Snapshot
	inFlight   map[string]chan struct{}
	maxRetries int
}

func New(source Source) *Client {
	return &Client{
		source:     source,
		snapshots:  make(map[string]Snapshot),
		inFlight:   make(map[string]chan struct{}),
		maxRetries: defaultMaxRetries,
	}
}

// Resolve returns the partition owning key within collection, refreshing
// the cached snapshot first if none is held.
func (c *Client) Resolve(ctx context.Context, collection string, key wire.Key) (PartitionRange, error) {
	snap, ok := c.cached(collection)
	if !ok {
		var err error
		snap, err = c.refresh(ctx, collection)
		if err != nil {
			return PartitionRange{}, err
		}
	}
	p, ok := snap.ownerOf(key)
	if !ok {
		return PartitionRange{}, errors.WithStack(ErrCollectionUnknown)
	}
	return p, nil
}

// Epoch reports the cached snapshot's epoch for a collection, and whether a
// snapshot is cached at all. The partition's ownership check does not
// consult it.
func (c *Client) Epoch(collection string) (uint64, bool) {
	snap, ok := c.cached(collection)
	return snap.Epoch, ok
}

// Refresh forces a re-fetch of collection's snapshot, deduplicating against
// any already in-flight fetch for the same collection.
func (c *Client) Refresh(ctx context.Context, collection string) (Snapshot, error) {
	return c.refresh(ctx, collection)
}

func (c *Client) cached(collection string) (Snapshot, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	snap, ok := c.snapshots[collection]
	return snap, ok
}

func (c *Client) refresh(ctx context.Context, collection string) (Snapshot, error) {
	c.mtx.Lock()
	if wait, ok := c.inFlight[collection]; ok {
		c.mtx.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return Snapshot{}, errors.WithStack(ctx.Err())
		}
		snap, ok := c.cached(collection)
		if !ok {
			return Snapshot{}, errors.WithStack(ErrCollectionUnknown)
		}
		return snap, nil
	}
	done := make(chan struct{})
	c.inFlight[collection] = done
	c.mtx.Unlock()

	snap, err := c.fetchWithBackoff(ctx, collection)

	c.mtx.Lock()
	if err == nil {
		c.snapshots[collection] = snap
	}
	delete(c.inFlight, collection)
	close(done)
	c.mtx.Unlock()

	return snap, err
}

func (c *Client) fetchWithBackoff(ctx context.Context, collection string) (Snapshot, error) {
	backoff := defaultBackoff
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		snap, err := c.source.Fetch(ctx, collection)
		if err == nil {
			return snap, nil
		}
		lastErr = err

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Snapshot{}, errors.WithStack(ctx.Err())
		}
		backoff *= 2
		if backoff > defaultMaxBackoff {
			backoff = defaultMaxBackoff
		}
	}
	return Snapshot{}, errors.Wrapf(lastErr, "cpo: exhausted retries fetching %q", collection)
}
