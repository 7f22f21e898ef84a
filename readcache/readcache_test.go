package readcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkThenCheckOverlap(t *testing.T) {
	t.Parallel()

	c := New(16)
	c.MarkInterval([]byte("a"), []byte("a"), 100)
	require.Equal(t, uint64(100), c.CheckInterval([]byte("a"), []byte("a")))
	require.Equal(t, uint64(0), c.CheckInterval([]byte("b"), []byte("b")))
}

func TestCheckIntervalMonotonicity(t *testing.T) {
	t.Parallel()

	c := New(16)
	c.MarkInterval([]byte("a"), []byte("z"), 50)
	require.GreaterOrEqual(t, c.CheckInterval([]byte("m"), []byte("m")), uint64(50))

	c.MarkInterval([]byte("a"), []byte("z"), 10)
	require.GreaterOrEqual(t, c.CheckInterval([]byte("m"), []byte("m")), uint64(50))
}

func TestEvictionRaisesFloor(t *testing.T) {
	t.Parallel()

	c := New(1)
	c.MarkInterval([]byte("a"), []byte("a"), 100)
	// Second distinct key evicts the first entry under a size-1 cache.
	c.MarkInterval([]byte("b"), []byte("b"), 5)

	// The evicted entry's timestamp must never be under-reported, even for
	// a range that never explicitly overlapped it before eviction.
	require.GreaterOrEqual(t, c.CheckInterval([]byte("q"), []byte("q")), uint64(100))
}
