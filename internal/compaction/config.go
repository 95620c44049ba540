// Package compaction implements the minor and major compaction pools
// from spec §4.I/§4.J: minor turns frozen memtables into L0 SSTs, major
// merges overlapping runs across adjacent levels to keep read
// amplification bounded.
package compaction

// Config tunes both pools. Zero values are replaced with the defaults
// below by NewMinorPool/NewMajorPool.
type Config struct {
	// MinorWorkers bounds concurrent memtable flushes (spec default 4).
	MinorWorkers int
	// MajorWorkers bounds concurrent merge tasks (spec default 2).
	MajorWorkers int
	// L0CompactionFiles is the L0-file count that triggers a major
	// compaction into L1 (spec default 4).
	L0CompactionFiles int
	// TargetFileSize bounds one compaction output SST's body size
	// before the writer rolls to a new file.
	TargetFileSize uint64
}

const (
	DefaultMinorWorkers      = 4
	DefaultMajorWorkers      = 2
	DefaultL0CompactionFiles = 4
	DefaultTargetFileSize    = 4 << 20
)

// WithDefaults fills any zero field with its spec default.
func (c Config) WithDefaults() Config {
	if c.MinorWorkers <= 0 {
		c.MinorWorkers = DefaultMinorWorkers
	}
	if c.MajorWorkers <= 0 {
		c.MajorWorkers = DefaultMajorWorkers
	}
	if c.L0CompactionFiles <= 0 {
		c.L0CompactionFiles = DefaultL0CompactionFiles
	}
	if c.TargetFileSize <= 0 {
		c.TargetFileSize = DefaultTargetFileSize
	}
	return c
}
