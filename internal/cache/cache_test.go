package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/return2faye/siltkv/internal/backend"
	"github.com/return2faye/siltkv/internal/keys"
	"github.com/return2faye/siltkv/internal/sstable"
)

func sstPath(number uint64) string {
	return fmt.Sprintf("%06d.sst", number)
}

func writeSST(t *testing.T, be backend.Backend, number uint64) {
	t.Helper()
	w, err := sstable.NewWriter(be, sstPath(number)+".tmp", sstPath(number), number, 0, 1)
	require.NoError(t, err)
	require.NoError(t, w.Add(keys.MakeInternalKey([]byte("k"), 1, keys.TypeSet), []byte("v")))
	_, err = w.Finish()
	require.NoError(t, err)
}

func TestGetOpensOnMiss(t *testing.T) {
	be := backend.NewMemory()
	writeSST(t, be, 1)

	c, err := New(be, sstPath, 10)
	require.NoError(t, err)

	r, err := c.Get(1)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, 1, c.Len())

	r2, err := c.Get(1)
	require.NoError(t, err)
	require.Same(t, r, r2)
}

func TestEvictionClosesReader(t *testing.T) {
	be := backend.NewMemory()
	writeSST(t, be, 1)
	writeSST(t, be, 2)

	c, err := New(be, sstPath, 1)
	require.NoError(t, err)

	_, err = c.Get(1)
	require.NoError(t, err)
	_, err = c.Get(2)
	require.NoError(t, err)

	require.Equal(t, 1, c.Len())
}

func TestExplicitEvict(t *testing.T) {
	be := backend.NewMemory()
	writeSST(t, be, 1)

	c, err := New(be, sstPath, 10)
	require.NoError(t, err)

	_, err = c.Get(1)
	require.NoError(t, err)
	c.Evict(1)
	require.Equal(t, 0, c.Len())
}
