package sstable

import (
	"bytes"
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/return2faye/siltkv/internal/backend"
	"github.com/return2faye/siltkv/internal/keys"
)

// bloomFalsePositiveRate mirrors the 1% target used in
// PriyanshuSharma23-FlashLog's writer.
const bloomFalsePositiveRate = 0.01

// Writer streams (internal_key, value) pairs — already in ascending
// order, as produced by a frozen memtable iterator or a compaction
// merge iterator — into a new SST file under a temporary name, then
// publishes it by rename on Finish.
type Writer struct {
	be       backend.Backend
	w        backend.Writable
	tmpPath  string
	finalPath string

	number    uint64
	level     int
	offsets   []uint64
	bodyLen   uint64
	totalKeys uint64

	minUserKey []byte
	maxUserKey []byte
	minSeq     uint64
	maxSeq     uint64

	filter *bloom.BloomFilter
}

// NewWriter creates the temporary SST file for a flush/compaction
// output. estimatedKeys sizes the Bloom filter (spec domain-stack
// addition); finalPath is where Finish renames the file. The rename
// happens inside Finish, before the caller publishes the manifest edit
// that references the file (spec §3 "SST: ... created ... under a
// temporary name; on success the manifest edit publishes it").
func NewWriter(be backend.Backend, tmpPath, finalPath string, number uint64, level int, estimatedKeys uint) (*Writer, error) {
	w, err := be.Create(tmpPath, 0)
	if err != nil {
		return nil, err
	}
	if estimatedKeys == 0 {
		estimatedKeys = 1
	}
	return &Writer{
		be:        be,
		w:         w,
		tmpPath:   tmpPath,
		finalPath: finalPath,
		number:    number,
		level:     level,
		filter:    bloom.NewWithEstimates(estimatedKeys, bloomFalsePositiveRate),
	}, nil
}

// Add appends one record. Keys must arrive in strictly ascending
// internal-key order (spec invariant 2): the writer does not sort.
func (w *Writer) Add(ik keys.InternalKey, value []byte) error {
	var lenBuf [2 * binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(ik)))
	n += binary.PutUvarint(lenBuf[n:], uint64(len(value)))

	if _, err := w.w.Write(lenBuf[:n]); err != nil {
		return err
	}
	if _, err := w.w.Write(ik); err != nil {
		return err
	}
	if len(value) > 0 {
		if _, err := w.w.Write(value); err != nil {
			return err
		}
	}

	w.offsets = append(w.offsets, w.bodyLen)
	w.bodyLen += uint64(n) + uint64(len(ik)) + uint64(len(value))
	w.totalKeys++

	uk := ik.UserKey()
	if w.minUserKey == nil || bytes.Compare(uk, w.minUserKey) < 0 {
		w.minUserKey = append([]byte(nil), uk...)
	}
	if w.maxUserKey == nil || bytes.Compare(uk, w.maxUserKey) > 0 {
		w.maxUserKey = append([]byte(nil), uk...)
	}
	if seq := ik.Seq(); w.minSeq == 0 || seq < w.minSeq {
		w.minSeq = seq
	}
	if seq := ik.Seq(); seq > w.maxSeq {
		w.maxSeq = seq
	}

	w.filter.Add(uk)
	return nil
}

// Empty reports whether Add was never called; callers skip publishing
// an empty SST (an empty flush/compaction output has nothing to keep).
func (w *Writer) Empty() bool {
	return w.totalKeys == 0
}

// Size returns the number of body bytes written so far, used by major
// compaction to decide when to roll to a new output file.
func (w *Writer) Size() uint64 {
	return w.bodyLen
}

// Abort deletes the temporary file without publishing it, used when a
// flush/compaction fails partway through (spec §3 "on error the partial
// file is deleted").
func (w *Writer) Abort() error {
	return w.w.Delete()
}

// Finish writes the index, Bloom filter and footer, fsyncs, closes, and
// renames the temp file to its final path. It returns the FileMetaData
// the caller should fold into a VersionEdit.
func (w *Writer) Finish() (FileMetaData, error) {
	indexOffset := w.bodyLen

	offsets := append(append([]uint64(nil), w.offsets...), w.bodyLen)
	if _, err := w.w.Write(encodeOffsetIndex(offsets)); err != nil {
		return FileMetaData{}, err
	}

	bloomOffset := indexOffset + uint64(len(offsets))*8
	var bloomBuf bytes.Buffer
	bloomSize := uint64(0)
	if _, err := w.filter.WriteTo(&bloomBuf); err != nil {
		return FileMetaData{}, err
	}
	if _, err := w.w.Write(bloomBuf.Bytes()); err != nil {
		return FileMetaData{}, err
	}
	bloomSize = uint64(bloomBuf.Len())

	ft := encodeFooter(footer{
		number:      w.number,
		level:       uint64(w.level),
		totalKeys:   w.totalKeys,
		indexOffset: indexOffset,
		bloomOffset: bloomOffset,
		bloomSize:   bloomSize,
	})
	if _, err := w.w.Write(ft); err != nil {
		return FileMetaData{}, err
	}

	if err := w.w.Sync(); err != nil {
		return FileMetaData{}, err
	}
	if err := w.w.Close(); err != nil {
		return FileMetaData{}, err
	}
	if err := w.be.Rename(w.tmpPath, w.finalPath); err != nil {
		return FileMetaData{}, err
	}

	return FileMetaData{
		Number:     w.number,
		Level:      w.level,
		MinUserKey: w.minUserKey,
		MaxUserKey: w.maxUserKey,
		MinSeq:     w.minSeq,
		MaxSeq:     w.maxSeq,
		TotalKeys:  w.totalKeys,
	}, nil
}
