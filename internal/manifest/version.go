package manifest

import (
	"bytes"
	"sort"

	"github.com/return2faye/siltkv/internal/sstable"
)

// Run is an ordered, non-overlapping list of SSTs within one level. At
// L0 runs may still overlap in key range across different Runs (L0 is
// the only level where that is legal) — within a single Run keys never
// overlap.
type Run struct {
	Files []sstable.FileMetaData
}

// Overlaps reports whether userKey could fall within this run's key
// range, used to skip runs entirely before a binary search.
func (r Run) Overlaps(userKey []byte) bool {
	if len(r.Files) == 0 {
		return false
	}
	min := r.Files[0].MinUserKey
	max := r.Files[len(r.Files)-1].MaxUserKey
	return bytes.Compare(userKey, min) >= 0 && bytes.Compare(userKey, max) <= 0
}

// Find returns the file whose range may contain userKey, or nil.
func (r Run) Find(userKey []byte) *sstable.FileMetaData {
	i := sort.Search(len(r.Files), func(i int) bool {
		return bytes.Compare(r.Files[i].MaxUserKey, userKey) >= 0
	})
	if i >= len(r.Files) {
		return nil
	}
	f := &r.Files[i]
	if bytes.Compare(userKey, f.MinUserKey) < 0 {
		return nil
	}
	return f
}

// MaxLevel bounds how many levels a Version tracks (spec §4.F treats
// the level count as open-ended in principle; a fixed ceiling keeps
// the per-level slice simple and matches every leveled-LSM example in
// the pack).
const MaxLevel = 7

// Version is an immutable snapshot of the live SST set: L0 as a list
// of possibly-overlapping Runs (one per flush/compaction output
// batch), L1..LN as one Run each (within-level non-overlap enforced by
// compaction). Versions are never mutated in place — VersionSet builds
// a new Version from the current one plus an Edit and installs it.
type Version struct {
	Levels [MaxLevel][]Run

	// byNumber indexes every file in every level for O(1) lookup by
	// SST number, used by SSTRemove edits and by the cache.
	byNumber map[uint64]sstable.FileMetaData
}

// NewVersion returns an empty Version.
func NewVersion() *Version {
	return &Version{byNumber: make(map[uint64]sstable.FileMetaData)}
}

// Clone deep-copies v so the caller can apply edits without mutating
// any Version another goroutine might still be reading.
func (v *Version) Clone() *Version {
	nv := NewVersion()
	for lvl := 0; lvl < MaxLevel; lvl++ {
		nv.Levels[lvl] = make([]Run, len(v.Levels[lvl]))
		for i, run := range v.Levels[lvl] {
			files := make([]sstable.FileMetaData, len(run.Files))
			copy(files, run.Files)
			nv.Levels[lvl][i] = Run{Files: files}
		}
	}
	for k, f := range v.byNumber {
		nv.byNumber[k] = f
	}
	return nv
}

// Lookup returns the FileMetaData for number and whether it is live in
// this Version.
func (v *Version) Lookup(number uint64) (sstable.FileMetaData, bool) {
	f, ok := v.byNumber[number]
	return f, ok
}

// apply mutates v in place according to edit; called only on a freshly
// Cloned Version, never on the published current Version.
func (v *Version) apply(edit Edit) {
	switch edit.Tag {
	case TagSSTAppended:
		lvl := edit.Level
		if len(v.Levels[lvl]) == 0 {
			v.Levels[lvl] = append(v.Levels[lvl], Run{})
		}
		last := &v.Levels[lvl][len(v.Levels[lvl])-1]
		last.Files = insertFileSorted(last.Files, edit.File)
		v.byNumber[edit.File.Number] = edit.File
	case TagSSTRemove:
		delete(v.byNumber, edit.Number)
		for lvl := 0; lvl < MaxLevel; lvl++ {
			runs := v.Levels[lvl][:0]
			for _, run := range v.Levels[lvl] {
				files := run.Files[:0]
				for _, f := range run.Files {
					if f.Number != edit.Number {
						files = append(files, f)
					}
				}
				if len(files) > 0 {
					runs = append(runs, Run{Files: files})
				}
			}
			v.Levels[lvl] = runs
		}
	case TagNewRun:
		// Marks a run boundary at edit.Level: the SSTAppended edits that
		// follow join this fresh run, not whatever run was last open at
		// this level. Minor compaction emits one of these ahead of every
		// flush so each L0 flush gets its own run (L0 runs may overlap);
		// major compaction never emits it, so its output joins the
		// level's existing run (Lx>=1 levels stay a single non-overlapping
		// run, extended and shrunk in place by each compaction).
		if edit.Level < MaxLevel {
			v.Levels[edit.Level] = append(v.Levels[edit.Level], Run{})
		}
	}
}

// insertFileSorted inserts f into files at the position that keeps
// files ordered by MinUserKey, as Run.Find's binary search requires.
func insertFileSorted(files []sstable.FileMetaData, f sstable.FileMetaData) []sstable.FileMetaData {
	i := sort.Search(len(files), func(i int) bool {
		return bytes.Compare(files[i].MinUserKey, f.MinUserKey) >= 0
	})
	files = append(files, sstable.FileMetaData{})
	copy(files[i+1:], files[i:])
	files[i] = f
	return files
}

// snapshotEdit materializes v's entire live file set as a single
// TagSnapshot edit, written at manifest rotation so the new manifest
// file does not need to replay the old one's full history.
func (v *Version) snapshotEdit() Edit {
	levels := make([][]sstable.FileMetaData, MaxLevel)
	for lvl := 0; lvl < MaxLevel; lvl++ {
		var files []sstable.FileMetaData
		for _, run := range v.Levels[lvl] {
			files = append(files, run.Files...)
		}
		levels[lvl] = files
	}
	return Edit{Tag: TagSnapshot, SnapshotLevels: levels}
}

// loadSnapshot rebuilds a Version from a TagSnapshot edit's per-level
// file lists. L0 keeps one run per file, matching the per-flush run
// boundaries a replayed TagNewRun stream would have produced (harmless
// to approximate since L0 runs are searched independently regardless
// of how they were grouped). Lx>=1 collapses to the single sorted run
// those levels always carry, so a level's multi-file run survives a
// manifest rotation instead of reverting to one singleton run per
// file. Subsequent edits in the same manifest generation refine this
// via apply.
func loadSnapshot(levels [][]sstable.FileMetaData) *Version {
	v := NewVersion()
	for lvl, files := range levels {
		if lvl >= MaxLevel {
			break
		}
		if lvl == 0 {
			for _, f := range files {
				v.Levels[lvl] = append(v.Levels[lvl], Run{Files: []sstable.FileMetaData{f}})
				v.byNumber[f.Number] = f
			}
			continue
		}
		sorted := make([]sstable.FileMetaData, len(files))
		copy(sorted, files)
		sort.Slice(sorted, func(i, j int) bool {
			return bytes.Compare(sorted[i].MinUserKey, sorted[j].MinUserKey) < 0
		})
		if len(sorted) > 0 {
			v.Levels[lvl] = []Run{{Files: sorted}}
		}
		for _, f := range sorted {
			v.byNumber[f.Number] = f
		}
	}
	return v
}
