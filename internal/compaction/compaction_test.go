package compaction

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/return2faye/siltkv/internal/backend"
	"github.com/return2faye/siltkv/internal/cache"
	"github.com/return2faye/siltkv/internal/keys"
	"github.com/return2faye/siltkv/internal/manifest"
	"github.com/return2faye/siltkv/internal/memtable"
	"github.com/return2faye/siltkv/internal/sstable"
	"github.com/return2faye/siltkv/internal/superversion"
)

func sstPathFor(number uint64) string {
	return fmt.Sprintf("sst/%06d.sst", number)
}

func TestMinorPoolFlushesMemtableToL0(t *testing.T) {
	be := backend.NewMemory()
	vs, err := manifest.Open(be, "manifest")
	require.NoError(t, err)

	mem := memtable.New(1)
	mem.Set(keys.MakeInternalKey([]byte("a"), 1, keys.TypeSet), []byte("1"))
	mem.Set(keys.MakeInternalKey([]byte("b"), 2, keys.TypeSet), []byte("2"))

	sv := superversion.NewHolder(memtable.New(2), vs.Current())

	pool := NewMinorPool(be, vs, sv, sstPathFor, Config{MinorWorkers: 1}, zerolog.Nop())
	pool.Submit(mem, nil)
	pool.Stop()

	cur := vs.Current()
	require.Len(t, cur.Levels[0], 1)
	require.Len(t, cur.Levels[0][0].Files, 1)
	require.Equal(t, uint64(2), cur.Levels[0][0].Files[0].TotalKeys)

	svNow := sv.Load()
	require.Empty(t, svNow.Frozen)
}

func writeLevelSST(t *testing.T, be backend.Backend, vs *manifest.VersionSet, level int, entries []keys.Entry) sstable.FileMetaData {
	t.Helper()
	num, err := vs.AllocateSSTNumber()
	require.NoError(t, err)
	path := sstPathFor(num)
	w, err := sstable.NewWriter(be, path+".tmp", path, num, level, uint(len(entries)))
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Add(e.Key, e.Value))
	}
	meta, err := w.Finish()
	require.NoError(t, err)
	require.NoError(t, vs.PublishEdits(manifest.Edit{Tag: manifest.TagSSTAppended, Level: level, File: meta}))
	return meta
}

func TestMajorPoolMergesL0IntoL1(t *testing.T) {
	be := backend.NewMemory()
	vs, err := manifest.Open(be, "manifest")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("k%d", i)
		writeLevelSST(t, be, vs, 0, []keys.Entry{
			{Key: keys.MakeInternalKey([]byte(key), uint64(i+1), keys.TypeSet), Value: []byte(key)},
		})
	}

	sv := superversion.NewHolder(memtable.New(1), vs.Current())
	c, err := cache.New(be, sstPathFor, 10)
	require.NoError(t, err)
	tracker := NewTracker()

	pool := NewMajorPool(be, vs, sv, c, sstPathFor, tracker, Config{MajorWorkers: 1, L0CompactionFiles: 4}, zerolog.Nop())
	pool.Start()

	require.Eventually(t, func() bool {
		return len(vs.Current().Levels[1]) > 0
	}, 2*time.Second, 10*time.Millisecond)

	pool.Stop()

	cur := vs.Current()
	require.Empty(t, cur.Levels[0])
	var total uint64
	for _, run := range cur.Levels[1] {
		for _, f := range run.Files {
			total += f.TotalKeys
		}
	}
	require.Equal(t, uint64(4), total)
}

func TestMajorPoolDropsExpiredTombstones(t *testing.T) {
	be := backend.NewMemory()
	vs, err := manifest.Open(be, "manifest")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		entries := []keys.Entry{
			{Key: keys.MakeInternalKey([]byte("x"), uint64(10+i), keys.TypeDel), Value: nil},
		}
		if i < 3 {
			writeLevelSST(t, be, vs, 0, []keys.Entry{
				{Key: keys.MakeInternalKey([]byte(fmt.Sprintf("y%d", i)), uint64(i+1), keys.TypeSet), Value: []byte("v")},
			})
		} else {
			writeLevelSST(t, be, vs, 0, entries)
		}
	}

	sv := superversion.NewHolder(memtable.New(1), vs.Current())
	c, err := cache.New(be, sstPathFor, 10)
	require.NoError(t, err)
	tracker := NewTracker()

	// No snapshots held: oldest snapshot sequence is math.MaxUint64, so
	// the tombstone (seq 13) is older than it and should be dropped
	// entirely rather than carried into L1.
	_, err = vs.AllocateSeq(100)
	require.NoError(t, err)

	pool := NewMajorPool(be, vs, sv, c, sstPathFor, tracker, Config{MajorWorkers: 1, L0CompactionFiles: 4}, zerolog.Nop())
	pool.Start()

	require.Eventually(t, func() bool {
		return len(vs.Current().Levels[1]) > 0
	}, 2*time.Second, 10*time.Millisecond)

	pool.Stop()

	cur := vs.Current()
	var total uint64
	for _, run := range cur.Levels[1] {
		for _, f := range run.Files {
			total += f.TotalKeys
			require.NotEqual(t, []byte("x"), f.MinUserKey)
		}
	}
	require.Equal(t, uint64(3), total)
}

// TestMajorPoolCompactsWithinL1WhenRunHasMultipleFiles covers the L1+
// trigger (spec §4.J "a run has more than one using file"). Two SSTs
// appended directly to L1 must join the same run (every TagSSTAppended
// at a level not preceded by TagNewRun joins that level's last run) so
// the picker sees two "using" files in one run and elects them for
// merge back into L1.
func TestMajorPoolCompactsWithinL1WhenRunHasMultipleFiles(t *testing.T) {
	be := backend.NewMemory()
	vs, err := manifest.Open(be, "manifest")
	require.NoError(t, err)

	writeLevelSST(t, be, vs, 1, []keys.Entry{
		{Key: keys.MakeInternalKey([]byte("a"), 1, keys.TypeSet), Value: []byte("a")},
	})
	writeLevelSST(t, be, vs, 1, []keys.Entry{
		{Key: keys.MakeInternalKey([]byte("b"), 2, keys.TypeSet), Value: []byte("b")},
	})

	cur := vs.Current()
	require.Len(t, cur.Levels[1], 1, "both L1 appends must join the level's single run")
	require.Len(t, cur.Levels[1][0].Files, 2)

	sv := superversion.NewHolder(memtable.New(1), vs.Current())
	c, err := cache.New(be, sstPathFor, 10)
	require.NoError(t, err)
	tracker := NewTracker()

	pool := NewMajorPool(be, vs, sv, c, sstPathFor, tracker, Config{MajorWorkers: 1, L0CompactionFiles: 4}, zerolog.Nop())
	pool.Start()

	require.Eventually(t, func() bool {
		cur := vs.Current()
		return len(cur.Levels[1]) == 1 && len(cur.Levels[1][0].Files) == 1
	}, 2*time.Second, 10*time.Millisecond)

	pool.Stop()

	cur = vs.Current()
	require.Len(t, cur.Levels[1], 1)
	require.Equal(t, uint64(2), cur.Levels[1][0].Files[0].TotalKeys)
}
