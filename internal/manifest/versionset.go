package manifest

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/return2faye/siltkv/internal/backend"
	"github.com/return2faye/siltkv/internal/walog"
)

// currentFile and manifestFileName follow spec §6's layout exactly:
// <path>/manifest/current (text) and <path>/manifest/<n>.log (segment-
// framed VersionEdits).
const currentFile = "current"

func manifestFileName(number uint64) string {
	return fmt.Sprintf("%d.log", number)
}

// VersionSet is the engine's single source of truth for what is on
// disk: the current Version plus the allocators and snapshot refcounts
// that every write and every compaction must go through. All mutation
// happens under mu; readers that only need the current Version's
// identity take a reference under RLock and release it immediately —
// they do not hold the lock while reading SST data.
type VersionSet struct {
	mu sync.RWMutex

	be  backend.Backend
	dir string

	current *Version

	manifestNumber uint64
	sstNumber      uint64
	seq            uint64
	log            *walog.Writer

	// snapshots maps a held sequence number to the count of live
	// Snapshot handles pinning it; the oldest key still present bounds
	// how aggressively compaction may drop old versions of a user key.
	snapshots map[uint64]int
}

// Open recovers (or creates) the manifest in dir: reads CURRENT to find
// the active manifest file, replays its edits into a Version, and
// leaves the manifest log open for further appends. A missing CURRENT
// is treated as a brand-new, empty store (spec §7's "missing manifest
// log is treated as an empty store" startup rule).
func Open(be backend.Backend, dir string) (*VersionSet, error) {
	if err := be.MakeSureDir(dir); err != nil {
		return nil, err
	}

	vs := &VersionSet{
		be:        be,
		dir:       dir,
		current:   NewVersion(),
		snapshots: make(map[uint64]int),
	}

	number, err := vs.readCurrent()
	if err != nil {
		if err == backend.ErrNotFound {
			return vs.bootstrap()
		}
		return nil, err
	}

	if err := vs.replay(number); err != nil {
		return nil, err
	}

	logPath := vs.manifestPath(number)
	w, err := walog.NewWriter(be, logPath)
	if err != nil {
		return nil, err
	}
	vs.manifestNumber = number
	vs.log = w
	return vs, nil
}

func (vs *VersionSet) manifestPath(number uint64) string {
	return vs.dir + "/" + manifestFileName(number)
}

func (vs *VersionSet) bootstrap() (*VersionSet, error) {
	number := uint64(1)
	w, err := walog.NewWriter(vs.be, vs.manifestPath(number))
	if err != nil {
		return nil, err
	}
	vs.manifestNumber = number
	vs.log = w
	if err := vs.writeCurrent(number); err != nil {
		return nil, err
	}
	return vs, nil
}

func (vs *VersionSet) readCurrent() (uint64, error) {
	r, err := vs.be.Open(vs.dir+"/"+currentFile, false)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	size, err := r.Size()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(buf)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("manifest: corrupt CURRENT file: %w", err)
	}
	return n, nil
}

// writeCurrent atomically repoints current at number, writing through a
// uniquely named current_tmp file first so a crash mid-write never
// leaves current pointing at a half-written file.
func (vs *VersionSet) writeCurrent(number uint64) error {
	tmp := vs.dir + "/current_tmp." + uuid.NewString()
	w, err := vs.be.Create(tmp, 0)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(strconv.FormatUint(number, 10))); err != nil {
		w.Close()
		vs.be.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		w.Close()
		vs.be.Remove(tmp)
		return err
	}
	if err := w.Sync(); err != nil {
		w.Close()
		vs.be.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		vs.be.Remove(tmp)
		return err
	}
	return vs.be.Rename(tmp, vs.dir+"/"+currentFile)
}

// replay reads every edit in manifest file `number` and folds it into
// vs.current, also recovering the seq/sstNumber/manifestNumber
// allocators from the SSTSequenceChanged/VersionChanged/
// ManifestSequenceChanged edits interleaved in the log.
func (vs *VersionSet) replay(number uint64) error {
	r, err := walog.NewReader(vs.be, vs.manifestPath(number))
	if err != nil {
		return err
	}
	defer r.Close()

	v := NewVersion()
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		edit, err := DecodeEdit(rec)
		if err != nil {
			return err
		}
		switch edit.Tag {
		case TagSnapshot:
			v = loadSnapshot(edit.SnapshotLevels)
		case TagVersionChanged:
			vs.seq = edit.Seq
		case TagSSTSequenceChanged:
			vs.sstNumber = edit.Number
		case TagManifestSequenceChanged:
			vs.manifestNumber = edit.Number
		default:
			v.apply(edit)
		}
	}
	vs.current = v
	return nil
}

// Current returns the current Version. The returned pointer is
// immutable — callers never mutate it directly, a future edit installs
// a new one.
func (vs *VersionSet) Current() *Version {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.current
}

// AllocateSeq reserves n consecutive sequence numbers and returns the
// first one, logging the new watermark so recovery can resume past it.
func (vs *VersionSet) AllocateSeq(n uint64) (uint64, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	first := vs.seq + 1
	vs.seq += n
	if err := vs.appendLocked(Edit{Tag: TagVersionChanged, Seq: vs.seq}); err != nil {
		return 0, err
	}
	return first, nil
}

// LastSeq returns the most recently allocated sequence number without
// allocating a new one (used to establish a read snapshot watermark).
func (vs *VersionSet) LastSeq() uint64 {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.seq
}

// AllocateSSTNumber reserves the next SST file number.
func (vs *VersionSet) AllocateSSTNumber() (uint64, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.sstNumber++
	n := vs.sstNumber
	if err := vs.appendLocked(Edit{Tag: TagSSTSequenceChanged, Number: n}); err != nil {
		return 0, err
	}
	return n, nil
}

// PublishEdits appends edits to the manifest log, fsyncs, and installs
// the resulting Version as current — all under mu, so a concurrent
// reader of Current() never observes a torn intermediate state (spec
// §4.F "Publishing an edit": append, fsync, mutate, hand off).
func (vs *VersionSet) PublishEdits(edits ...Edit) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	next := vs.current.Clone()
	for _, e := range edits {
		if err := vs.appendLocked(e); err != nil {
			return err
		}
		next.apply(e)
	}
	if err := vs.log.Sync(); err != nil {
		return err
	}
	vs.current = next
	return nil
}

func (vs *VersionSet) appendLocked(e Edit) error {
	return vs.log.Append(e.Encode())
}

// Rotate starts a fresh manifest file containing a TagSnapshot edit of
// the current Version followed by VersionChanged, SSTSequenceChanged and
// ManifestSequenceChanged edits, then atomically repoints CURRENT at it
// and removes the previous manifest file. This bounds manifest replay
// time independent of how many edits have accumulated historically.
func (vs *VersionSet) Rotate() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	newNumber := vs.manifestNumber + 1
	w, err := walog.NewWriter(vs.be, vs.manifestPath(newNumber))
	if err != nil {
		return err
	}
	if err := w.Append(vs.current.snapshotEdit().Encode()); err != nil {
		return err
	}
	if err := w.Append(Edit{Tag: TagVersionChanged, Seq: vs.seq}.Encode()); err != nil {
		return err
	}
	if err := w.Append(Edit{Tag: TagSSTSequenceChanged, Number: vs.sstNumber}.Encode()); err != nil {
		return err
	}
	if err := w.Append(Edit{Tag: TagManifestSequenceChanged, Number: newNumber}.Encode()); err != nil {
		return err
	}
	if err := w.Sync(); err != nil {
		return err
	}

	if err := vs.writeCurrent(newNumber); err != nil {
		return err
	}

	oldPath := vs.manifestPath(vs.manifestNumber)
	oldLog := vs.log

	vs.log = w
	vs.manifestNumber = newNumber

	if oldLog != nil {
		oldLog.Close()
	}
	return vs.be.Remove(oldPath)
}

// TakeSnapshot pins seq (the caller's current LastSeq()) so compaction
// will not drop any version still visible to a reader holding it.
// Release must be called exactly once when the reader is done.
func (vs *VersionSet) TakeSnapshot(seq uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.snapshots[seq]++
}

// ReleaseSnapshot unpins seq.
func (vs *VersionSet) ReleaseSnapshot(seq uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if n, ok := vs.snapshots[seq]; ok {
		if n <= 1 {
			delete(vs.snapshots, seq)
		} else {
			vs.snapshots[seq] = n - 1
		}
	}
}

// OldestSnapshotSequence returns the smallest seq still pinned by a
// live snapshot, or math.MaxUint64 if none are held — nothing is
// protected by a snapshot, so compaction may drop any version
// regardless of age (spec §4.F Testable Property 8: "= min(refcount
// keys) else u64::MAX").
func (vs *VersionSet) OldestSnapshotSequence() uint64 {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if len(vs.snapshots) == 0 {
		return math.MaxUint64
	}
	oldest := vs.seq
	for s := range vs.snapshots {
		if s < oldest {
			oldest = s
		}
	}
	return oldest
}

// OutstandingSnapshots returns the number of live Snapshot handles still
// pinning a sequence number, for shutdown diagnostics.
func (vs *VersionSet) OutstandingSnapshots() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	n := 0
	for _, count := range vs.snapshots {
		n += count
	}
	return n
}

// Close closes the active manifest log.
func (vs *VersionSet) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.log == nil {
		return nil
	}
	return vs.log.Close()
}
