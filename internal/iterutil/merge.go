// Package iterutil provides the k-way merge used by cross-tier reads
// and major compaction (spec §4.J), generalized from the teacher's
// linear-scan MergeIterator (internal/sstable/merge_iterator.go) into a
// container/heap-based merge over any source ordered by internal key.
package iterutil

import (
	"container/heap"

	"github.com/return2faye/siltkv/internal/keys"
)

// Source is anything that yields (internal key, value) pairs in
// ascending internal-key order — memtable.Iterator and sstable.Iterator
// both satisfy it.
type Source interface {
	Valid() bool
	Next()
	Key() keys.InternalKey
	Value() []byte
}

// MergeIterator merges N sources into one, in ascending internal-key
// order. Sources should be supplied newest-to-oldest so that, when
// several carry the same (user_key, seq) pair (a defensive case that
// should not occur given seq uniqueness, but costs nothing to resolve
// deterministically), the earliest source in the slice wins ties.
//
// Unlike the teacher's version this never special-cases "same key,
// keep newest" — internal keys already encode seq, so every entry from
// every source is distinct and is emitted; deduplicating to the newest
// *user key* version is the caller's job (storage.Scan's Iterator and
// the major compaction merge do it by keeping the first entry per user
// key from this iterator's output,
// since descending-seq ordering already puts the newest version
// first).
type MergeIterator struct {
	h mergeHeap
}

type heapItem struct {
	src   Source
	order int // tie-break: position in the original newest-to-oldest slice
}

type mergeHeap []heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := keys.Compare(h[i].src.Key(), h[j].src.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].order < h[j].order
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewMergeIterator builds a merge iterator over sources, in the
// newest-to-oldest order the caller provides (active memtable, frozen
// memtables, then SSTs level by level).
func NewMergeIterator(sources []Source) *MergeIterator {
	h := make(mergeHeap, 0, len(sources))
	for i, s := range sources {
		if s != nil && s.Valid() {
			h = append(h, heapItem{src: s, order: i})
		}
	}
	heap.Init(&h)
	return &MergeIterator{h: h}
}

// Valid reports whether there is a current entry.
func (m *MergeIterator) Valid() bool {
	return len(m.h) > 0
}

// Key returns the current (smallest remaining) internal key.
func (m *MergeIterator) Key() keys.InternalKey {
	return m.h[0].src.Key()
}

// Value returns the current value.
func (m *MergeIterator) Value() []byte {
	return m.h[0].src.Value()
}

// Next advances past the current entry.
func (m *MergeIterator) Next() {
	if len(m.h) == 0 {
		return
	}
	top := m.h[0]
	top.src.Next()
	if top.src.Valid() {
		m.h[0] = top
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
}
