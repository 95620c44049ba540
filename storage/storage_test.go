package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/return2faye/siltkv/internal/backend"
)

func openTest(t *testing.T, cfg Config) *Storage {
	t.Helper()
	be := backend.NewMemory()
	if cfg.Path == "" {
		cfg.Path = "db"
	}
	s, err := Open(cfg, be)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetDel(t *testing.T) {
	s := openTest(t, Config{})

	_, err := s.Set(WriteOption{}, []byte("a"), []byte("1"))
	require.NoError(t, err)

	val, err := s.Get(GetOption{}, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), val)

	_, err = s.Del(WriteOption{}, []byte("a"))
	require.NoError(t, err)

	_, err = s.Get(GetOption{}, []byte("a"))
	require.ErrorIs(t, err, ErrKeyNotExist)
}

func TestGetMissingKey(t *testing.T) {
	s := openTest(t, Config{})
	_, err := s.Get(GetOption{}, []byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotExist)
}

func TestSetBatchAtomicity(t *testing.T) {
	s := openTest(t, Config{})

	b := NewWriteBatch()
	require.NoError(t, b.Set([]byte("x"), []byte("1")))
	require.NoError(t, b.Set([]byte("y"), []byte("2")))
	require.NoError(t, b.Del([]byte("z")))

	_, err := s.SetBatch(WriteOption{}, b)
	require.NoError(t, err)

	v, err := s.Get(GetOption{}, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	v, err = s.Get(GetOption{}, []byte("y"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	_, err = s.Get(GetOption{}, []byte("z"))
	require.ErrorIs(t, err, ErrKeyNotExist)
}

func TestSnapshotIsolation(t *testing.T) {
	s := openTest(t, Config{})

	_, err := s.Set(WriteOption{}, []byte("k"), []byte("v1"))
	require.NoError(t, err)

	snap := s.NewSnapshot()
	defer snap.Release()

	_, err = s.Set(WriteOption{}, []byte("k"), []byte("v2"))
	require.NoError(t, err)

	v, err := s.Get(GetOption{Snapshot: snap.Seq(), HasSnapshot: true}, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	v, err = s.Get(GetOption{}, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
}

func TestFlushMemtableMovesDataToL0(t *testing.T) {
	s := openTest(t, Config{})

	_, err := s.Set(WriteOption{}, []byte("p"), []byte("q"))
	require.NoError(t, err)

	require.NoError(t, s.FlushMemtable())
	s.minor.Stop()

	cur := s.vs.Current()
	var found bool
	for _, run := range cur.Levels[0] {
		if len(run.Files) > 0 {
			found = true
		}
	}
	require.True(t, found, "expected at least one L0 file after flush")

	v, err := s.Get(GetOption{}, []byte("p"))
	require.NoError(t, err)
	require.Equal(t, []byte("q"), v)
}

func TestScanAcrossTiersWithTombstones(t *testing.T) {
	s := openTest(t, Config{})

	for i := 0; i < 5; i++ {
		_, err := s.Set(WriteOption{}, []byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
	}

	require.NoError(t, s.FlushMemtable())
	s.minor.Stop()

	_, err := s.Set(WriteOption{}, []byte("k2"), []byte("v2-new"))
	require.NoError(t, err)
	_, err = s.Del(WriteOption{}, []byte("k3"))
	require.NoError(t, err)

	it, err := s.Scan(GetOption{}, nil, nil)
	require.NoError(t, err)

	got := map[string]string{}
	for it.Valid() {
		got[string(it.Key())] = string(it.Value())
		it.Next()
	}

	require.Equal(t, "v0", got["k0"])
	require.Equal(t, "v2-new", got["k2"])
	_, hasK3 := got["k3"]
	require.False(t, hasK3)
	require.Equal(t, "v4", got["k4"])
}

func TestScanRespectsBounds(t *testing.T) {
	s := openTest(t, Config{})
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.Set(WriteOption{}, []byte(k), []byte(k))
		require.NoError(t, err)
	}

	it, err := s.Scan(GetOption{}, []byte("b"), []byte("d"))
	require.NoError(t, err)

	var keys []string
	for it.Valid() {
		keys = append(keys, string(it.Key()))
		it.Next()
	}
	require.Equal(t, []string{"b", "c"}, keys)
}

func TestRecoveryReplaysWAL(t *testing.T) {
	be := backend.NewMemory()
	cfg := Config{Path: "db"}

	s, err := Open(cfg, be)
	require.NoError(t, err)

	_, err = s.Set(WriteOption{}, []byte("recover-me"), []byte("yes"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(cfg, be)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Get(GetOption{}, []byte("recover-me"))
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), v)
}

func TestClosedStorageRejectsCalls(t *testing.T) {
	s := openTest(t, Config{})
	require.NoError(t, s.Close())

	_, err := s.Get(GetOption{}, []byte("x"))
	require.True(t, errors.Is(err, ErrClosed))

	_, err = s.Set(WriteOption{}, []byte("x"), []byte("1"))
	require.True(t, errors.Is(err, ErrClosed))
}
