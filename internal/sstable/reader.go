package sstable

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/return2faye/siltkv/internal/backend"
	"github.com/return2faye/siltkv/internal/keys"
)

// Reader serves point lookups and range scans against one immutable SST
// file. It is safe for concurrent use — all state after Open is
// read-only.
type Reader struct {
	r    backend.Readable
	size int64

	meta  FileMetaData
	index offsetIndex
	filter *bloom.BloomFilter

	// mmap, if the backend produced one, lets Get/Scan slice directly
	// into the mapped region instead of issuing a ReadAt syscall.
	mmap []byte
}

// Open reads path's footer and index eagerly; record bodies are read
// lazily on demand (mmap-backed when the backend supports it).
func Open(be backend.Backend, path string, enableMmap bool) (*Reader, error) {
	r, err := be.Open(path, enableMmap)
	if err != nil {
		return nil, err
	}
	size, err := r.Size()
	if err != nil {
		r.Close()
		return nil, err
	}

	tailLen := int64(footerMaxSize)
	if tailLen > size {
		tailLen = size
	}
	tail := make([]byte, tailLen)
	if _, err := r.ReadAt(tail, size-tailLen); err != nil {
		r.Close()
		return nil, err
	}

	ft, err := decodeFooter(tail)
	if err != nil {
		r.Close()
		return nil, err
	}

	indexSize := (ft.totalKeys + 1) * 8
	indexBuf := make([]byte, indexSize)
	if _, err := r.ReadAt(indexBuf, int64(ft.indexOffset)); err != nil {
		r.Close()
		return nil, err
	}
	idx, err := decodeOffsetIndex(indexBuf, ft.totalKeys)
	if err != nil {
		r.Close()
		return nil, err
	}

	var filter *bloom.BloomFilter
	if ft.bloomSize > 0 {
		bloomBuf := make([]byte, ft.bloomSize)
		if _, err := r.ReadAt(bloomBuf, int64(ft.bloomOffset)); err != nil {
			r.Close()
			return nil, err
		}
		filter = &bloom.BloomFilter{}
		if _, err := filter.ReadFrom(bytes.NewReader(bloomBuf)); err != nil {
			r.Close()
			return nil, err
		}
	}

	rd := &Reader{r: r, size: size, index: idx, filter: filter}
	rd.meta = FileMetaData{
		Number:    ft.number,
		Level:     int(ft.level),
		MinSeq:    0,
		TotalKeys: ft.totalKeys,
	}
	if addr, ok := r.Addr(); ok {
		rd.mmap = addr
	}

	if err := rd.loadKeyRange(); err != nil {
		r.Close()
		return nil, err
	}
	return rd, nil
}

// loadKeyRange reads the first and last record to populate
// min/max user key and min/max seq, since the footer itself only
// carries {number, level, total_keys, index_offset} per spec §3 (the
// range lives in FileMetaData, derived here rather than duplicated
// on disk).
func (r *Reader) loadKeyRange() error {
	if r.meta.TotalKeys == 0 {
		return nil
	}
	first, err := r.readRecord(0)
	if err != nil {
		return err
	}
	last, err := r.readRecord(r.meta.TotalKeys - 1)
	if err != nil {
		return err
	}
	r.meta.MinUserKey = first.key.UserKey()
	r.meta.MaxUserKey = last.key.UserKey()

	// min/max seq require a scan (seq does not vary monotonically with
	// position): start from the first/last record's seq and read every
	// record to find the exact extremes.
	r.meta.MinSeq = last.key.Seq()
	r.meta.MaxSeq = first.key.Seq()
	for i := uint64(0); i < r.meta.TotalKeys; i++ {
		rec, err := r.readRecord(i)
		if err != nil {
			return err
		}
		if s := rec.key.Seq(); s < r.meta.MinSeq {
			r.meta.MinSeq = s
		} else if s > r.meta.MaxSeq {
			r.meta.MaxSeq = s
		}
	}
	return nil
}

// Meta returns the FileMetaData describing this SST.
func (r *Reader) Meta() FileMetaData { return r.meta }

type record struct {
	key   keys.InternalKey
	value []byte
}

func (r *Reader) readRecord(i uint64) (record, error) {
	off := r.index.recordOffset(i)
	length := r.index.recordLen(i)

	var buf []byte
	if r.mmap != nil {
		buf = r.mmap[off : off+length]
	} else {
		buf = make([]byte, length)
		if _, err := r.r.ReadAt(buf, int64(off)); err != nil {
			return record{}, err
		}
	}

	klen, n1 := binary.Uvarint(buf)
	vlen, n2 := binary.Uvarint(buf[n1:])
	if n1 <= 0 || n2 <= 0 {
		return record{}, ErrCorruptIndex
	}
	hdr := n1 + n2
	key := keys.InternalKey(buf[hdr : hdr+int(klen)])
	value := buf[hdr+int(klen) : hdr+int(klen)+int(vlen)]
	return record{key: key, value: value}, nil
}

// MayContain reports whether userKey could be present, per the Bloom
// filter (false means definitely absent; true means maybe present).
// A reader opened against an SST with no filter always returns true.
func (r *Reader) MayContain(userKey []byte) bool {
	if r.filter == nil {
		return true
	}
	return r.filter.Test(userKey)
}

// Get performs a binary search by user key over the offset index, then
// walks forward (internal keys descend by seq for a fixed user key) to
// find the newest version satisfying the optional snapshot.
func (r *Reader) Get(userKey []byte, snapshot uint64, hasSnapshot bool) (keys.InternalKey, []byte, error) {
	if !r.MayContain(userKey) {
		return nil, nil, ErrNotFound
	}

	n := r.index.numRecords()
	i := uint64(sort.Search(int(n), func(i int) bool {
		rec, err := r.readRecord(uint64(i))
		if err != nil {
			return true
		}
		return bytes.Compare(rec.key.UserKey(), userKey) >= 0
	}))

	for ; i < n; i++ {
		rec, err := r.readRecord(i)
		if err != nil {
			return nil, nil, err
		}
		if !bytes.Equal(rec.key.UserKey(), userKey) {
			break
		}
		if !hasSnapshot || rec.key.Seq() <= snapshot {
			return rec.key, rec.value, nil
		}
	}
	return nil, nil, ErrNotFound
}

// RawScan returns an undeduplicated forward iterator starting at
// startUserKey (or the first record if nil). "Raw" because, unlike
// memtable.Scan, it does not collapse multiple versions of a user key
// or filter tombstones — compaction's merge iterator needs every
// version, so that filtering happens above this layer.
func (r *Reader) RawScan(startUserKey []byte) *Iterator {
	if startUserKey == nil {
		return r.NewIterator()
	}
	return r.NewIteratorAt(startUserKey)
}

// Iterator walks an SST's records in ascending internal-key order. It
// is always positioned at a valid record (or exhausted) between calls —
// Key()/Value() read the current record, Next() advances.
type Iterator struct {
	r     *Reader
	i     uint64
	n     uint64
	cur   record
	valid bool
	err   error
}

// NewIterator returns a full forward iterator, positioned at the first
// record.
func (r *Reader) NewIterator() *Iterator {
	it := &Iterator{r: r, n: r.index.numRecords()}
	it.load()
	return it
}

// NewIteratorAt seeks to the first record whose user key is >= lowerBound.
func (r *Reader) NewIteratorAt(lowerBound []byte) *Iterator {
	n := r.index.numRecords()
	start := uint64(sort.Search(int(n), func(i int) bool {
		rec, err := r.readRecord(uint64(i))
		if err != nil {
			return true
		}
		return bytes.Compare(rec.key.UserKey(), lowerBound) >= 0
	}))
	it := &Iterator{r: r, i: start, n: n}
	it.load()
	return it
}

func (it *Iterator) load() {
	if it.err != nil || it.i >= it.n {
		it.valid = false
		return
	}
	it.cur, it.err = it.r.readRecord(it.i)
	it.valid = it.err == nil
}

func (it *Iterator) Valid() bool { return it.valid }

func (it *Iterator) Next() {
	if !it.valid {
		return
	}
	it.i++
	it.load()
}

func (it *Iterator) Key() keys.InternalKey { return it.cur.key }
func (it *Iterator) Value() []byte         { return it.cur.value }
func (it *Iterator) Err() error            { return it.err }

// Close releases the underlying file (and mmap, if any).
func (r *Reader) Close() error {
	return r.r.Close()
}
