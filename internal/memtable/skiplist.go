// Package memtable implements the in-memory mutation buffer: a
// mutex-guarded skiplist keyed by internal key (spec §4.D). A memtable
// never owns a WAL of its own — the storage façade appends a
// keys.WriteBatch to the shared segmented log (internal/walog) before
// applying it here, so the memtable itself only needs to answer Set,
// Get and range Scan.
package memtable

import (
	"math/rand"
	"sync"

	"github.com/return2faye/siltkv/internal/keys"
)

// MaxLevel bounds the skiplist's tower height, matching the teacher's
// original constant.
const MaxLevel = 16

// node is one skiplist entry. A tombstone is marked by the TypeDel type
// in its internal key, not by its value; a tombstone's value is empty
// (nil, or zero-length when it was decoded from a write batch).
type node struct {
	key   keys.InternalKey
	value []byte
	next  []*node
}

// SkipList orders entries by keys.Compare: ascending user key, then
// descending sequence number, so the first node for a given user key is
// always its newest version.
type SkipList struct {
	mu    sync.RWMutex
	head  *node
	level int
	size  int
}

func NewSkipList() *SkipList {
	return &SkipList{
		head:  &node{next: make([]*node, MaxLevel)},
		level: 1,
	}
}

func (sl *SkipList) randomLevel() int {
	level := 1
	for rand.Float64() < 0.5 && level < MaxLevel {
		level++
	}
	return level
}

// Insert adds ik/value. Internal keys already carry a unique (user_key,
// seq) pair assigned by the façade, so two inserts are never equal
// unless the same batch entry is replayed twice — Insert is idempotent
// in that case (last write of an identical key wins, same value).
func (sl *SkipList) Insert(ik keys.InternalKey, value []byte) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	update := make([]*node, MaxLevel)
	curr := sl.head

	for i := sl.level - 1; i >= 0; i-- {
		for curr.next[i] != nil && keys.Compare(curr.next[i].key, ik) < 0 {
			curr = curr.next[i]
		}
		update[i] = curr
	}

	if n := curr.next[0]; n != nil && keys.Compare(n.key, ik) == 0 {
		n.value = cloneBytes(value)
		return
	}

	lvl := sl.randomLevel()
	if lvl > sl.level {
		for i := sl.level; i < lvl; i++ {
			update[i] = sl.head
		}
		sl.level = lvl
	}

	n := &node{
		key:   append(keys.InternalKey(nil), ik...),
		value: cloneBytes(value),
		next:  make([]*node, lvl),
	}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	sl.size++
}

// Seek returns the first node whose key is >= target, or nil.
func (sl *SkipList) Seek(target keys.InternalKey) *node {
	curr := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for curr.next[i] != nil && keys.Compare(curr.next[i].key, target) < 0 {
			curr = curr.next[i]
		}
	}
	return curr.next[0]
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Iterator walks the skiplist's live forward chain starting at the node
// in place when NewIterator/NewIteratorAt was called. It holds no lock
// while it advances, so entries inserted ahead of its position after it
// was created can be observed (spec §9 accepts a mutex-guarded skiplist,
// not a lock-free one).
type Iterator struct {
	curr *node
}

// NewIterator returns an iterator positioned at the first entry.
func (sl *SkipList) NewIterator() *Iterator {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return &Iterator{curr: sl.head.next[0]}
}

// NewIteratorAt returns an iterator positioned at the first entry whose
// key is >= lowerBound.
func (sl *SkipList) NewIteratorAt(lowerBound keys.InternalKey) *Iterator {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return &Iterator{curr: sl.Seek(lowerBound)}
}

func (it *Iterator) Valid() bool       { return it.curr != nil }
func (it *Iterator) Next()             { it.curr = it.curr.next[0] }
func (it *Iterator) Key() keys.InternalKey { return it.curr.key }
func (it *Iterator) Value() []byte     { return it.curr.value }
