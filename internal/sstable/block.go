package sstable

import "encoding/binary"

// offsetIndex is the `(total_keys + 1) × u64 LE` array of byte offsets
// from spec §3: one entry per record plus a trailing EOF marker
// (the offset where the body ends / the index begins).
type offsetIndex []uint64

func encodeOffsetIndex(offsets []uint64) []byte {
	buf := make([]byte, len(offsets)*8)
	for i, off := range offsets {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], off)
	}
	return buf
}

func decodeOffsetIndex(data []byte, totalKeys uint64) (offsetIndex, error) {
	want := (totalKeys + 1) * 8
	if uint64(len(data)) != want {
		return nil, ErrCorruptIndex
	}
	idx := make(offsetIndex, totalKeys+1)
	for i := range idx {
		idx[i] = binary.LittleEndian.Uint64(data[i*8 : i*8+8])
	}
	return idx, nil
}

// recordOffset returns the byte offset of the i-th record (0-based).
func (idx offsetIndex) recordOffset(i uint64) uint64 { return idx[i] }

// recordLen returns the byte length of the i-th record, derived from
// the gap to the next offset (or the EOF marker for the last record).
func (idx offsetIndex) recordLen(i uint64) uint64 { return idx[i+1] - idx[i] }

// numRecords reports how many records the index covers.
func (idx offsetIndex) numRecords() uint64 {
	if len(idx) == 0 {
		return 0
	}
	return uint64(len(idx)) - 1
}
