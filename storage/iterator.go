package storage

import (
	"bytes"

	"github.com/return2faye/siltkv/internal/iterutil"
	"github.com/return2faye/siltkv/internal/keys"
	"github.com/return2faye/siltkv/internal/utils"
)

// Iterator walks a Scan's merged view of every tier in ascending
// user-key order, exposing exactly one entry per distinct user key —
// the newest version visible at the snapshot, tombstones skipped
// unless GetOption.FetchDelete was set.
type Iterator struct {
	merged *iterutil.MergeIterator
	endKey []byte
	opt    GetOption

	lastUser []byte
	haveLast bool

	key   []byte
	value []byte
	valid bool
}

// Valid reports whether Key/Value currently refer to a live entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current entry's user key. Only valid while Valid().
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current entry's value (empty for a fetched
// tombstone). Only valid while Valid().
func (it *Iterator) Value() []byte { return it.value }

// Next advances to the following distinct user key.
func (it *Iterator) Next() { it.advance() }

// advance scans the merge iterator forward until it lands on the next
// entry this Iterator should surface, or runs out of entries.
func (it *Iterator) advance() {
	it.valid = false

	for it.merged.Valid() {
		ik := it.merged.Key()
		userKey := ik.UserKey()

		if it.haveLast && bytes.Equal(userKey, it.lastUser) {
			it.merged.Next()
			continue
		}

		if it.opt.HasSnapshot && ik.Seq() > it.opt.Snapshot {
			it.merged.Next()
			continue
		}

		if it.endKey != nil && bytes.Compare(userKey, it.endKey) >= 0 {
			return
		}

		it.lastUser = append(it.lastUser[:0], userKey...)
		it.haveLast = true
		value := it.merged.Value()
		it.merged.Next()

		if ik.Type() == keys.TypeDel && !it.opt.FetchDelete {
			continue
		}

		it.key = utils.CopyBytes(it.lastUser)
		it.value = value
		it.valid = true
		return
	}
}
