package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int]("test", 3, time.Minute)

	c.Put("net-a", 1)
	c.Put("net-b", 2)
	c.Put("net-c", 3)
	c.Get("net-a")
	c.Put("net-d", 4)

	_, ok := c.Get("net-b")
	assert.False(t, ok, "net-b was least recently used")

	v, ok := c.Get("net-a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 3, c.Len())
}

func TestLRU_TTLExpiration(t *testing.T) {
	c := NewLRU[string, bool]("test", 10, 5*time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFn = func() time.Time { return now }

	c.Put("record", true)
	_, ok := c.Get("record")
	assert.True(t, ok)

	now = now.Add(6 * time.Minute)
	_, ok = c.Get("record")
	assert.False(t, ok, "entry should have expired")
	assert.Equal(t, 0, c.Len())
}

func TestLRU_ZeroTTLNeverExpires(t *testing.T) {
	c := NewLRU[string, int]("test", 2, 0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFn = func() time.Time { return now }

	c.Put("network", 7)
	now = now.Add(24 * 365 * time.Hour)

	v, ok := c.Get("network")
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestLRU_UpdateAndRemove(t *testing.T) {
	c := NewLRU[string, int]("test", 10, time.Minute)

	c.Put("a", 1)
	c.Put("a", 2)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())

	c.Remove("a")
	c.Remove("never-added")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU[string, bool]("test", 10, time.Minute)
	c.Put("a", true)

	c.Get("a")
	c.Get("a")
	c.Get("miss")

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRU_GetOrLoad(t *testing.T) {
	c := NewLRU[string, int]("networks", 10, 0)
	calls := 0
	load := func(v int, found bool, err error) func() (int, bool, error) {
		return func() (int, bool, error) {
			calls++
			return v, found, err
		}
	}

	v, found, err := c.GetOrLoad("missing", load(0, false, nil))
	require.NoError(t, err)
	assert.False(t, found)
	_, _, _ = c.GetOrLoad("missing", load(0, false, nil))
	assert.Equal(t, 2, calls, "absent keys are not cached")

	_, _, err = c.GetOrLoad("broken", load(0, false, errors.New("db down")))
	require.Error(t, err)

	v, found, err = c.GetOrLoad("net", load(42, true, nil))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, v)

	v, found, err = c.GetOrLoad("net", load(0, false, errors.New("not called")))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, v)
	assert.Equal(t, 4, calls)
}
