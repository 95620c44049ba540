package compaction

import (
	"bytes"

	"github.com/return2faye/siltkv/internal/manifest"
	"github.com/return2faye/siltkv/internal/sstable"
)

// Task is one elected major-compaction job: merge Inputs (drawn from
// InputLevel and, for L0, overlapping L1 runs too) into TargetLevel.
type Task struct {
	InputLevel  int
	TargetLevel int
	Inputs      []sstable.FileMetaData
}

// Picker implements spec §4.J's level policy: L0 triggers on file
// count, Lx (x>=1) triggers on a run carrying more than one live file.
type Picker struct {
	cfg Config
}

func NewPicker(cfg Config) *Picker {
	return &Picker{cfg: cfg.WithDefaults()}
}

// Pick elects the next task, or reports false if nothing qualifies
// right now. Callers retry later (the pool backs off between empty
// picks — spec's "randomized trigger with adaptive back-off").
func (p *Picker) Pick(ver *manifest.Version, tracker *Tracker) (*Task, bool) {
	if task, ok := p.pickL0(ver, tracker); ok {
		return task, true
	}
	for lvl := 1; lvl < manifest.MaxLevel-1; lvl++ {
		if task, ok := p.pickLevel(ver, tracker, lvl); ok {
			return task, true
		}
	}
	return nil, false
}

func fileRange(files []sstable.FileMetaData) (min, max []byte) {
	for _, f := range files {
		if min == nil || bytes.Compare(f.MinUserKey, min) < 0 {
			min = f.MinUserKey
		}
		if max == nil || bytes.Compare(f.MaxUserKey, max) > 0 {
			max = f.MaxUserKey
		}
	}
	return min, max
}

func overlapsRange(f sstable.FileMetaData, min, max []byte) bool {
	return bytes.Compare(f.MinUserKey, max) <= 0 && bytes.Compare(f.MaxUserKey, min) >= 0
}

func (p *Picker) pickL0(ver *manifest.Version, tracker *Tracker) (*Task, bool) {
	var using []sstable.FileMetaData
	for _, run := range ver.Levels[0] {
		for _, f := range run.Files {
			if tracker.IsUsing(f.Number) {
				using = append(using, f)
			}
		}
	}
	if len(using) < p.cfg.L0CompactionFiles {
		return nil, false
	}

	picked, ok := tryPickAll(tracker, using)
	if !ok {
		return nil, false
	}

	min, max := fileRange(picked)
	var l1 []sstable.FileMetaData
	for _, run := range ver.Levels[1] {
		for _, f := range run.Files {
			if tracker.IsUsing(f.Number) && overlapsRange(f, min, max) {
				l1 = append(l1, f)
			}
		}
	}
	pickedL1, ok := tryPickAll(tracker, l1)
	if !ok {
		revertAll(tracker, picked)
		return nil, false
	}

	return &Task{InputLevel: 0, TargetLevel: 1, Inputs: append(picked, pickedL1...)}, true
}

func (p *Picker) pickLevel(ver *manifest.Version, tracker *Tracker, lvl int) (*Task, bool) {
	for _, run := range ver.Levels[lvl] {
		var using []sstable.FileMetaData
		for _, f := range run.Files {
			if tracker.IsUsing(f.Number) {
				using = append(using, f)
			}
		}
		if len(using) <= 1 {
			continue
		}
		picked, ok := tryPickAll(tracker, using)
		if !ok {
			continue
		}

		var contributor []sstable.FileMetaData
		if lvl > 0 {
			min, max := fileRange(picked)
			for _, belowRun := range ver.Levels[lvl-1] {
				for _, f := range belowRun.Files {
					if tracker.IsUsing(f.Number) && overlapsRange(f, min, max) {
						if tracker.TryPick(f.Number) {
							contributor = append(contributor, f)
						}
						break
					}
				}
				if contributor != nil {
					break
				}
			}
		}

		return &Task{InputLevel: lvl, TargetLevel: lvl, Inputs: append(picked, contributor...)}, true
	}
	return nil, false
}

func tryPickAll(tracker *Tracker, files []sstable.FileMetaData) ([]sstable.FileMetaData, bool) {
	picked := make([]sstable.FileMetaData, 0, len(files))
	for _, f := range files {
		if tracker.TryPick(f.Number) {
			picked = append(picked, f)
		} else {
			revertAll(tracker, picked)
			return nil, false
		}
	}
	return picked, true
}

func revertAll(tracker *Tracker, files []sstable.FileMetaData) {
	for _, f := range files {
		tracker.Revert(f.Number)
	}
}
