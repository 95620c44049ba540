package memtable

import (
	"sync/atomic"

	"github.com/return2faye/siltkv/internal/keys"
)

const (
	// MaxEntries is the entry-count threshold from spec §4.D ("16 Ki
	// entries"): crossing it marks a memtable Full and due for freeze.
	MaxEntries = 16 * 1024
	// MaxBytes is the approximate byte-size threshold (10 MiB).
	MaxBytes = 10 << 20
)

// ErrKeyNotExist is returned by Get when no version of a user key is
// visible at the snapshot. A deleted key is not reported this way: Get
// returns its tombstone, whose internal key carries TypeDel.
var ErrKeyNotExist = errNotExist{}

type errNotExist struct{}

func (errNotExist) Error() string { return "memtable: key does not exist" }

// Memtable is the mutable, in-memory tier of the engine: a skiplist
// ordered by internal key, plus the bookkeeping the façade needs to
// decide when to freeze and what SST number the flush will take (spec
// §3 "Memtable" data model: table number, observed min/max seq,
// approximate size).
type Memtable struct {
	sl     *SkipList
	number uint64 // SST number this memtable will become on flush

	size   int64 // approximate bytes (atomic)
	count  int64 // entry count (atomic)
	minSeq uint64
	maxSeq uint64
}

// New returns an empty memtable that will flush to SST file number.
func New(number uint64) *Memtable {
	return &Memtable{sl: NewSkipList(), number: number}
}

// Number returns the SST file number this memtable is destined for.
func (mt *Memtable) Number() uint64 {
	return mt.number
}

// Set inserts a single internal key/value pair. Because seq makes every
// internal key unique, Set never overwrites an existing entry — it
// always adds a new, newer version (spec §4.D: "never overwrites").
func (mt *Memtable) Set(ik keys.InternalKey, value []byte) {
	mt.sl.Insert(ik, value)
	atomic.AddInt64(&mt.size, int64(len(ik)+len(value)))
	atomic.AddInt64(&mt.count, 1)
	mt.touchSeq(ik.Seq())
}

// SetBatch applies every entry from a committed keys.WriteBatch. The
// batch's entries already carry their final sequence numbers (stamped
// by WriteBatchBuilder.Build against the façade's allocated base_seq),
// so insertion here simply preserves append order.
func (mt *Memtable) SetBatch(entries []keys.Entry) {
	for _, e := range entries {
		mt.Set(e.Key, e.Value)
	}
}

func (mt *Memtable) touchSeq(seq uint64) {
	if mt.minSeq == 0 || seq < mt.minSeq {
		mt.minSeq = seq
	}
	if seq > mt.maxSeq {
		mt.maxSeq = seq
	}
}

// MinSeq and MaxSeq report the observed sequence-number range, used to
// populate FileMetaData when this memtable is flushed.
func (mt *Memtable) MinSeq() uint64 { return mt.minSeq }
func (mt *Memtable) MaxSeq() uint64 { return mt.maxSeq }

// Get takes the internal-key range [userKey‖tail(seq=MAX),
// userKey‖tail(seq=0)] and walks it in order (spec §4.D). Without a
// snapshot it returns the first element; with one it returns the first
// element whose seq <= snapshot. A tombstone is returned as-is — the
// caller (storage façade) interprets TypeDel as "not found".
func (mt *Memtable) Get(userKey []byte, snapshot uint64, hasSnapshot bool) (keys.InternalKey, []byte, error) {
	lower := keys.LowerBound(userKey)
	it := mt.sl.NewIteratorAt(lower)
	for it.Valid() {
		k := it.Key()
		if !sameUserKey(k.UserKey(), userKey) {
			break
		}
		if !hasSnapshot || k.Seq() <= snapshot {
			return k, it.Value(), nil
		}
		it.Next()
	}
	return nil, nil, ErrKeyNotExist
}

func sameUserKey(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ScanEntry is one (internal key, value) pair yielded by Scan, still
// carrying the raw InternalKey so callers can distinguish tombstones
// from live values before deduplicating.
type ScanEntry struct {
	Key   keys.InternalKey
	Value []byte
}

// Scan yields entries in ascending user-key order across
// [startUserKey, endUserKey), deduplicated to the newest version
// visible at snapshot (tombstone filtering is left to the façade, per
// spec §4.D: "skipping tombstones at the façade layer"). A nil
// startUserKey/endUserKey means unbounded on that side.
func (mt *Memtable) Scan(startUserKey, endUserKey []byte, snapshot uint64, hasSnapshot bool) []ScanEntry {
	var it *Iterator
	if startUserKey == nil {
		it = mt.sl.NewIterator()
	} else {
		it = mt.sl.NewIteratorAt(keys.LowerBound(startUserKey))
	}

	out := make([]ScanEntry, 0, 64)
	var lastUser []byte
	for it.Valid() {
		k := it.Key()
		uk := k.UserKey()
		if endUserKey != nil && bytesGE(uk, endUserKey) {
			break
		}
		if hasSnapshot && k.Seq() > snapshot {
			it.Next()
			continue
		}
		if lastUser != nil && sameUserKey(uk, lastUser) {
			it.Next()
			continue
		}
		out = append(out, ScanEntry{Key: k, Value: it.Value()})
		lastUser = uk
		it.Next()
	}
	return out
}

func bytesGE(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) >= len(b)
}

// Size returns the approximate accumulated byte size.
func (mt *Memtable) Size() int64 { return atomic.LoadInt64(&mt.size) }

// Count returns the number of entries inserted (including tombstones).
func (mt *Memtable) Count() int64 { return atomic.LoadInt64(&mt.count) }

// Full reports whether the memtable has crossed either threshold from
// spec §4.D and is due to be frozen and flushed.
func (mt *Memtable) Full() bool {
	return mt.Count() >= MaxEntries || mt.Size() >= MaxBytes
}

// NewIterator returns a full forward iterator, used by the minor
// compaction pool to stream a frozen memtable into an SST writer.
func (mt *Memtable) NewIterator() *Iterator {
	return mt.sl.NewIterator()
}
