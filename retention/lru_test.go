package retention

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHotColdCache_PutGet(t *testing.T) {
	c := NewHotColdCache(2)
	c.Put("a", []byte("1"))
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))
}

func TestHotColdCache_EvictionDemotesToCold(t *testing.T) {
	c := NewHotColdCache(1)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2")) // evicts "a" from hot into cold

	require.Equal(t, 2, c.Len())

	v, ok := c.Get("a")
	require.True(t, ok, "evicted entry should still be retrievable from the cold tier")
	require.Equal(t, "1", string(v))
}

func TestHotColdCache_Remove(t *testing.T) {
	c := NewHotColdCache(2)
	c.Put("a", []byte("1"))
	c.Remove("a")
	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}
