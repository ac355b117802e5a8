package kvcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache_SetGet(t *testing.T) {
	c := New[string, int]()
	c.Set("a", 1, 0)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTLCache_Expiry(t *testing.T) {
	now := time.Now()
	c := NewWithClock[string, int](func() time.Time { return now })

	c.Set("a", 1, 10*time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(11 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should expire after its TTL")
}

func TestTTLCache_ZeroTTLNeverExpires(t *testing.T) {
	now := time.Now()
	c := NewWithClock[string, string](func() time.Time { return now })

	c.Set("wm", "v", 0)
	now = now.Add(365 * 24 * time.Hour)

	v, ok := c.Get("wm")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestTTLCache_Delete(t *testing.T) {
	c := New[string, int]()
	c.Set("a", 1, 0)
	c.Delete("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCache_DeletePrefix(t *testing.T) {
	c := New[string, int]()
	c.Set("view:events:1", 1, 0)
	c.Set("view:events:2", 2, 0)
	c.Set("view:dash", 3, 0)
	c.Set("wm:current", 4, 0)

	c.DeletePrefix("view:events:")

	_, ok := c.Get("view:events:1")
	assert.False(t, ok)
	_, ok = c.Get("view:events:2")
	assert.False(t, ok)

	_, ok = c.Get("view:dash")
	assert.True(t, ok)
	_, ok = c.Get("wm:current")
	assert.True(t, ok)
}

func TestTTLCache_Keys_SkipsExpired(t *testing.T) {
	now := time.Now()
	c := NewWithClock[string, int](func() time.Time { return now })

	c.Set("live", 1, 0)
	c.Set("dying", 2, time.Second)
	now = now.Add(2 * time.Second)

	keys := c.Keys()
	assert.Equal(t, []string{"live"}, keys)
}

func TestTTLCache_NilSafe(t *testing.T) {
	var c *TTLCache[string, int]
	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Set("a", 1, 0)
	c.Delete("a")
	assert.Zero(t, c.Len())
}
