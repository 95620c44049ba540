package keys

import (
	"encoding/binary"
	"errors"
)

// ErrTruncatedBatch indicates a batch buffer that ends mid-record.
var ErrTruncatedBatch = errors.New("keys: truncated write batch")

// batchHeaderSize is count(8) + seq(8).
const batchHeaderSize = 16

// WriteBatchBuilder accumulates Set/Del operations into the wire format
// from spec §3:
//
//	header:   count u64 LE, seq u64 LE (filled in at commit time)
//	repeated: total_len u32 LE, internal_key_len u32 LE, internal_key, value
//
// seq is left at zero until the storage façade calls Build(baseSeq)
// immediately before WAL append, after allocating a contiguous sequence
// range.
type WriteBatchBuilder struct {
	count   uint64
	entries []byte // accumulated repeated region
}

// NewWriteBatchBuilder returns an empty builder.
func NewWriteBatchBuilder() *WriteBatchBuilder {
	return &WriteBatchBuilder{}
}

// Set stages a live value for userKey. The internal key's seq field is a
// placeholder (0) — real sequence numbers are assigned positionally at
// commit time via Build(baseSeq) + the i-th-item rule in spec §4.D.
func (b *WriteBatchBuilder) Set(userKey, value []byte) error {
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}
	return b.append(userKey, value, TypeSet)
}

// Del stages a tombstone for userKey.
func (b *WriteBatchBuilder) Del(userKey []byte) error {
	return b.append(userKey, nil, TypeDel)
}

func (b *WriteBatchBuilder) append(userKey, value []byte, t KeyType) error {
	ik := MakeInternalKey(userKey, 0, t)
	ikLen := uint32(len(ik))
	vLen := uint32(len(value))
	totalLen := 4 + ikLen + vLen

	rec := make([]byte, 4+totalLen)
	binary.LittleEndian.PutUint32(rec[0:4], totalLen)
	binary.LittleEndian.PutUint32(rec[4:8], ikLen)
	copy(rec[8:8+ikLen], ik)
	copy(rec[8+ikLen:], value)

	b.entries = append(b.entries, rec...)
	b.count++
	return nil
}

// Count returns the number of staged mutations.
func (b *WriteBatchBuilder) Count() int {
	return int(b.count)
}

// Build fixes the batch bytes with the given base sequence number. Per
// spec §4.D, the i-th item (0-based, in append order) is assigned
// seq = baseSeq + i.
func (b *WriteBatchBuilder) Build(baseSeq uint64) *WriteBatch {
	buf := make([]byte, batchHeaderSize, batchHeaderSize+len(b.entries))
	binary.LittleEndian.PutUint64(buf[0:8], b.count)
	binary.LittleEndian.PutUint64(buf[8:16], baseSeq)

	out := append(buf, b.entries...)

	// Stamp each internal key's seq field in place.
	i := uint64(0)
	off := batchHeaderSize
	for off < len(out) {
		totalLen := binary.LittleEndian.Uint32(out[off : off+4])
		ikLen := binary.LittleEndian.Uint32(out[off+4 : off+8])
		ikOff := off + 8
		typeByte := out[ikOff+int(ikLen)-1] // high byte of tail holds the type
		tail := (uint64(typeByte) << 56) | ((baseSeq + i) & seqMask)
		binary.LittleEndian.PutUint64(out[ikOff+int(ikLen)-8:ikOff+int(ikLen)], tail)
		off += 4 + int(totalLen)
		i++
	}

	return &WriteBatch{raw: out, count: b.count, seq: baseSeq}
}

// WriteBatch is the fixed, committable form of a batch: ready for WAL
// append and for iteration into a memtable.
type WriteBatch struct {
	raw   []byte
	count uint64
	seq   uint64
}

// NewWriteBatch wraps raw bytes already in wire format (used by WAL
// replay, which hands the decoded record codec its raw bytes back).
func NewWriteBatch(raw []byte) (*WriteBatch, error) {
	if len(raw) < batchHeaderSize {
		return nil, ErrTruncatedBatch
	}
	count := binary.LittleEndian.Uint64(raw[0:8])
	seq := binary.LittleEndian.Uint64(raw[8:16])
	return &WriteBatch{raw: raw, count: count, seq: seq}, nil
}

// Bytes returns the wire-format bytes (for WAL append).
func (w *WriteBatch) Bytes() []byte {
	return w.raw
}

// Count returns the number of entries in the batch.
func (w *WriteBatch) Count() int {
	return int(w.count)
}

// Seq returns the batch's base sequence number.
func (w *WriteBatch) Seq() uint64 {
	return w.seq
}

// Entry is one decoded (internal key, value) pair from a batch.
type Entry struct {
	Key   InternalKey
	Value []byte
}

// Entries decodes every entry in the batch, in append order, ready to
// insert into a memtable (spec §4.C: "Iteration yields (InternalKey,
// Value) pairs ready to insert into a memtable").
func (w *WriteBatch) Entries() ([]Entry, error) {
	out := make([]Entry, 0, w.count)
	off := batchHeaderSize
	for off < len(w.raw) {
		if off+8 > len(w.raw) {
			return nil, ErrTruncatedBatch
		}
		totalLen := binary.LittleEndian.Uint32(w.raw[off : off+4])
		ikLen := binary.LittleEndian.Uint32(w.raw[off+4 : off+8])
		recEnd := off + 4 + int(totalLen)
		if recEnd > len(w.raw) || 8+int(ikLen) > int(totalLen)+4 {
			return nil, ErrTruncatedBatch
		}
		ik := InternalKey(w.raw[off+8 : off+8+int(ikLen)])
		val := w.raw[off+8+int(ikLen) : recEnd]
		out = append(out, Entry{Key: ik, Value: val})
		off = recEnd
	}
	if uint64(len(out)) != w.count {
		return nil, ErrTruncatedBatch
	}
	return out, nil
}
