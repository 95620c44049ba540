// Package sstable implements the immutable, sorted on-disk run format
// from spec §3/§4.E: a packed body of varint-length-prefixed
// (internal_key, value) records in ascending order, a fixed-width
// offset index, an optional per-file Bloom filter, and a reverse-parsed
// footer.
package sstable

import (
	"encoding/binary"
	"errors"
)

// Magic identifies a valid SST footer (spec §3).
const Magic uint32 = 0xA18C0001

// fixedTrailerSize is version(4) + metaSize(4) + magic(4), the portion
// of the footer at a constant offset from end-of-file.
const fixedTrailerSize = 12

// FormatVersion is the on-disk format version written into the footer.
const FormatVersion uint32 = 1

var (
	ErrBadMagic      = errors.New("sstable: bad magic number")
	ErrCorruptFooter = errors.New("sstable: corrupt footer")
	ErrCorruptIndex  = errors.New("sstable: corrupt index")
	ErrNotFound      = errors.New("sstable: key not found")
)

// FileMetaData describes one SST's identity and key/seq range (spec §3).
type FileMetaData struct {
	Number     uint64
	Level      int
	MinUserKey []byte
	MaxUserKey []byte
	MinSeq     uint64
	MaxSeq     uint64
	TotalKeys  uint64
}

// footer is the decoded form of the on-disk footer.
type footer struct {
	number      uint64
	level       uint64
	totalKeys   uint64
	indexOffset uint64
	bloomOffset uint64
	bloomSize   uint64
	version     uint32
	metaSize    uint32
}

// encodeFooter writes the varint quad (extended with a bloom
// offset/size pair — the domain-stack addition, not present in every
// SST since Bloom filters are an accelerant, not an invariant) followed
// by the fixed trailer. metaSize records the varint region's length so
// a reader can find it by walking backward from end-of-file: read the
// fixed suffix first, then use metaSize to locate and forward-decode
// the varints — the "reverse-parsed" shape spec §3 describes.
func encodeFooter(f footer) []byte {
	var varintBuf [binary.MaxVarintLen64]byte
	var body []byte
	appendVarint := func(v uint64) {
		n := binary.PutUvarint(varintBuf[:], v)
		body = append(body, varintBuf[:n]...)
	}
	appendVarint(f.number)
	appendVarint(f.level)
	appendVarint(f.totalKeys)
	appendVarint(f.indexOffset)
	appendVarint(f.bloomOffset)
	appendVarint(f.bloomSize)

	trailer := make([]byte, fixedTrailerSize)
	binary.LittleEndian.PutUint32(trailer[0:4], FormatVersion)
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(body)))
	binary.LittleEndian.PutUint32(trailer[8:12], Magic)

	return append(body, trailer...)
}

// decodeFooter parses the tail of an SST file (the whole-file suffix
// passed in as tail).
func decodeFooter(tail []byte) (footer, error) {
	if len(tail) < fixedTrailerSize {
		return footer{}, ErrCorruptFooter
	}
	trailer := tail[len(tail)-fixedTrailerSize:]
	version := binary.LittleEndian.Uint32(trailer[0:4])
	metaSize := binary.LittleEndian.Uint32(trailer[4:8])
	magic := binary.LittleEndian.Uint32(trailer[8:12])
	if magic != Magic {
		return footer{}, ErrBadMagic
	}

	varintRegion := tail[:len(tail)-fixedTrailerSize]
	if uint32(len(varintRegion)) < metaSize {
		return footer{}, ErrCorruptFooter
	}
	varintRegion = varintRegion[uint32(len(varintRegion))-metaSize:]

	vals := make([]uint64, 6)
	off := 0
	for i := range vals {
		v, n := binary.Uvarint(varintRegion[off:])
		if n <= 0 {
			return footer{}, ErrCorruptFooter
		}
		vals[i] = v
		off += n
	}

	return footer{
		number:      vals[0],
		level:       vals[1],
		totalKeys:   vals[2],
		indexOffset: vals[3],
		bloomOffset: vals[4],
		bloomSize:   vals[5],
		version:     version,
		metaSize:    metaSize,
	}, nil
}

// footerMaxSize upper-bounds the footer's encoded size for a single
// read-tail call: six varints (at most 10 bytes each) plus the fixed
// trailer.
const footerMaxSize = 6*binary.MaxVarintLen64 + fixedTrailerSize
