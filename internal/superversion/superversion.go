// Package superversion publishes the {active memtable, frozen
// memtables, SST version} triple that every read needs (spec §4.G) as
// a single atomically-swapped pointer, so Get/Scan never take a lock
// to see a consistent view — only installs (freeze, minor compaction,
// major compaction) serialize with each other.
//
// The teacher has no equivalent: every read takes db.mu. The
// atomic-pointer publication idiom here is adapted from the seqlock
// handle in the slotcache example (generation counter gating a
// mmap read) into the simpler form Go's atomic.Pointer makes
// possible for a plain in-memory struct — no generation parity checks
// are needed because the pointer swap itself is the atomic step.
package superversion

import (
	"sync"
	"sync/atomic"

	"github.com/return2faye/siltkv/internal/manifest"
	"github.com/return2faye/siltkv/internal/memtable"
)

// SuperVersion is an immutable snapshot of the engine's in-memory and
// on-disk state at one point in time. Holding a *SuperVersion pins its
// memtables and Version in place for the duration of a read — nothing
// referenced by it is ever mutated after publication.
type SuperVersion struct {
	Active *memtable.Memtable

	// Frozen lists immutable memtables newest-first: index 0 was frozen
	// most recently. A frozen memtable remains here until minor
	// compaction flushes it to an SST and a new SuperVersion without it
	// is installed.
	Frozen []*memtable.Memtable

	Version *manifest.Version

	// Step is a monotonically increasing counter bumped on every
	// install, useful for cache invalidation / staleness checks without
	// comparing pointers.
	Step uint64
}

// Holder owns the published SuperVersion and serializes installs. Reads
// go through Load, which never blocks on an install in progress — they
// either see the old or the new SuperVersion, never a torn mix.
type Holder struct {
	mu      sync.Mutex // serializes installs against each other
	current atomic.Pointer[SuperVersion]
}

// NewHolder publishes an initial SuperVersion built from mem and ver.
func NewHolder(mem *memtable.Memtable, ver *manifest.Version) *Holder {
	h := &Holder{}
	h.current.Store(&SuperVersion{Active: mem, Version: ver, Step: 1})
	return h
}

// Load returns the current SuperVersion. Safe to call from any number
// of goroutines without synchronization; the returned pointer is
// immutable.
func (h *Holder) Load() *SuperVersion {
	return h.current.Load()
}

// Mutate builds the next SuperVersion from the current one via fn and
// installs it, serialized against concurrent installers by mu. fn must
// not retain or mutate the SuperVersion it is given; it returns a new
// one derived from it.
func (h *Holder) Mutate(fn func(cur *SuperVersion) *SuperVersion) *SuperVersion {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.current.Load()
	next := fn(cur)
	next.Step = cur.Step + 1
	h.current.Store(next)
	return next
}

// Freeze moves the current Active memtable to the front of Frozen and
// installs fresh as the new Active, returning the installed
// SuperVersion. Called when Active crosses its size/count threshold
// (spec §4.D) and hands Active off to the minor compaction pool.
func (h *Holder) Freeze(fresh *memtable.Memtable) *SuperVersion {
	return h.Mutate(func(cur *SuperVersion) *SuperVersion {
		frozen := make([]*memtable.Memtable, 0, len(cur.Frozen)+1)
		frozen = append(frozen, cur.Active)
		frozen = append(frozen, cur.Frozen...)
		return &SuperVersion{Active: fresh, Frozen: frozen, Version: cur.Version}
	})
}

// DropFlushed installs a SuperVersion with flushed removed from Frozen
// and ver as the new SST Version — the result of a completed minor
// compaction (spec §4.I) publishing its output SST.
func (h *Holder) DropFlushed(flushed *memtable.Memtable, ver *manifest.Version) *SuperVersion {
	return h.Mutate(func(cur *SuperVersion) *SuperVersion {
		frozen := make([]*memtable.Memtable, 0, len(cur.Frozen))
		for _, m := range cur.Frozen {
			if m != flushed {
				frozen = append(frozen, m)
			}
		}
		return &SuperVersion{Active: cur.Active, Frozen: frozen, Version: ver}
	})
}

// InstallVersion swaps in a new on-disk Version, leaving the memtables
// untouched — the result of major compaction (spec §4.J) publishing
// its merged output SSTs.
func (h *Holder) InstallVersion(ver *manifest.Version) *SuperVersion {
	return h.Mutate(func(cur *SuperVersion) *SuperVersion {
		return &SuperVersion{Active: cur.Active, Frozen: cur.Frozen, Version: ver}
	})
}
