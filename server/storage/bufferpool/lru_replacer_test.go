package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUReplacerVictimOrder(t *testing.T) {
	r := NewLRUReplacer()
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	require.Equal(t, 3, r.Size())

	v, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestLRUReplacerPinRemoves(t *testing.T) {
	r := NewLRUReplacer()
	r.Unpin(1)
	r.Unpin(2)
	r.Pin(1)

	v, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, 2, v)

	_, ok = r.Victim()
	require.False(t, ok)
}

func TestLRUReplacerDoubleUnpin(t *testing.T) {
	r := NewLRUReplacer()
	r.Unpin(1)
	r.Unpin(2)
	// Unpinning again must not refresh recency.
	r.Unpin(1)

	v, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestLRUReplacerEmpty(t *testing.T) {
	r := NewLRUReplacer()
	_, ok := r.Victim()
	require.False(t, ok)
	require.Equal(t, 0, r.Size())
}
