package mirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := newTTLCache[string](2 * time.Second)
	c.now = func() time.Time { return now }

	c.Put("k", "v")
	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", got)

	now = now.Add(1900 * time.Millisecond)
	_, ok = c.Get("k")
	require.True(t, ok)

	now = now.Add(200 * time.Millisecond)
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestTTLCacheReplaceResetsClock(t *testing.T) {
	now := time.Unix(1000, 0)
	c := newTTLCache[int](time.Second)
	c.now = func() time.Time { return now }

	c.Put("k", 1)
	now = now.Add(900 * time.Millisecond)
	c.Put("k", 2)
	now = now.Add(900 * time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, 2, got)
}

func TestTTLCacheInvalidate(t *testing.T) {
	c := newTTLCache[int](time.Minute)
	c.Put("m|100:7|20|0", 1)
	c.Put("m|100:7|20|21", 2)
	c.Put("m|100|20|0", 3)

	c.InvalidatePrefix("m|100:7|")
	_, ok := c.Get("m|100:7|20|0")
	require.False(t, ok)
	_, ok = c.Get("m|100:7|20|21")
	require.False(t, ok)
	// Sibling dialog with a shared string prefix is untouched.
	_, ok = c.Get("m|100|20|0")
	require.True(t, ok)

	c.Invalidate("m|100|20|0")
	_, ok = c.Get("m|100|20|0")
	require.False(t, ok)

	c.Put("a", 1)
	c.Clear()
	_, ok = c.Get("a")
	require.False(t, ok)
}
