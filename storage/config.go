package storage

import "github.com/return2faye/siltkv/internal/compaction"

// Config collects the knobs spec §6 exposes on open: where the store
// lives on disk, whether writes hit a WAL, and how aggressively the
// background pools compact. Fields left at zero pick up the same
// defaults internal/compaction.Config does.
type Config struct {
	// Path is the store's root directory. Created if missing.
	Path string

	// NoWAL skips the write-ahead log entirely — writes land only in
	// the active memtable, lost on an unclean shutdown. Spec §6's
	// "no_wal" option, useful for bulk-load workloads that can be
	// replayed from elsewhere on failure.
	NoWAL bool

	// EnableMmap corresponds to spec §6 "enable_mmap". Storage does not
	// consult it: the SST reader cache always opens readers with mmap
	// requested, which the local backend honors for non-empty files and
	// the memory backend ignores. Setting it to false does not turn
	// mmap off.
	EnableMmap bool

	// MinorCompactionThreads / MajorCompactionThreads bound concurrent
	// flush / merge work (spec §6 "minor_compaction_threads" /
	// "major_compaction_threads").
	MinorCompactionThreads int
	MajorCompactionThreads int

	// L0CompactionFiles is the L0 file count that triggers a major
	// compaction into L1 (spec §6 "l0_compaction_files").
	L0CompactionFiles int

	// TargetFileSize bounds a compaction output SST's body size before
	// the writer rolls to a new file (spec §6's size-ratio knobs,
	// "size_tried_radio" / "level_data_radio", collapsed into a single
	// byte threshold; the ratio knobs themselves are not modeled).
	TargetFileSize uint64

	// CacheCapacity bounds how many SST readers stay open at once
	// (internal/cache). Zero picks cache.DefaultCapacity.
	CacheCapacity int
}

func (c Config) compactionConfig() compaction.Config {
	return compaction.Config{
		MinorWorkers:      c.MinorCompactionThreads,
		MajorWorkers:      c.MajorCompactionThreads,
		L0CompactionFiles: c.L0CompactionFiles,
		TargetFileSize:    c.TargetFileSize,
	}.WithDefaults()
}

// GetOption tunes a single Get/Scan call (spec §4.K).
type GetOption struct {
	// Snapshot, if HasSnapshot, bounds visible versions to seq <=
	// Snapshot — the same mechanism a held Snapshot handle uses.
	Snapshot    uint64
	HasSnapshot bool

	// FetchDelete makes Get return a tombstone as a hit (empty value, no
	// error) instead of ErrKeyNotExist — used by the inspector-adjacent
	// debugging paths that want to see deletions rather than have them
	// masked.
	FetchDelete bool

	// Debug requests verbose per-tier lookup logging.
	Debug bool
}

// WriteOption tunes a single Set/Del/SetBatch call (spec §4.K).
type WriteOption struct {
	// Fsync forces the WAL append backing this write to be durable
	// before the call returns (spec §6's per-write fsync knob).
	Fsync bool

	// Debug requests verbose write-path logging.
	Debug bool
}
