// Package walog implements the segment-framed write-ahead log described
// in spec §4.B: fixed-size 32 KiB blocks, each holding one or more
// masked-CRC chunks, generalized from the teacher's simpler
// checksum|ksize|vsize record format (internal/wal/wal.go) into a
// record-agnostic framing layer. The record codec itself (write-batch,
// manifest edit) is supplied by the caller — this package only knows
// about flags, lengths and CRCs.
package walog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// BlockSize is the fixed segment size from spec §4.B.
const BlockSize = 32 * 1024

// headerSize is crc(4) + flags(1) + reserved(1) + length(2).
const headerSize = 8

// Flag tags a chunk's position within a logical record.
type Flag uint8

const (
	Full Flag = iota + 1
	Begin
	Continue
	Last
)

var (
	// ErrChecksum indicates a corrupted chunk.
	ErrChecksum = errors.New("walog: checksum mismatch")
	// ErrIllegalTransition indicates two adjacent chunks whose flags
	// cannot legally follow one another (e.g. CONTINUE after FULL).
	ErrIllegalTransition = errors.New("walog: illegal chunk transition")
	// ErrRecordTooLarge guards against a single record larger than a
	// writer is willing to frame (defensive; no spec-mandated limit).
	ErrRecordTooLarge = errors.New("walog: record exceeds maximum size")
)

// maskDelta is the additive constant from spec §4.B's CRC masking
// formula, chosen (as in LevelDB) so an all-zero region never produces
// a plausible masked CRC of zero.
const maskDelta = 0xa282ead8

// rotateMask performs the spec's rotate((crc>>15)|(crc<<17)) in 32-bit
// space; Go's uint32 shifts already wrap the way the spec intends.
func rotateMask(crc uint32) uint32 {
	return (crc >> 15) | (crc << 17)
}

func mask(crc uint32) uint32 {
	return rotateMask(crc) + maskDelta
}

// unmask inverts mask: subtract the delta, then undo the rotation by
// rotating the other direction.
func unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return (rot << 15) | (rot >> 17)
}

func crc32Checksum(header, payload []byte) uint32 {
	sum := crc32.ChecksumIEEE(header)
	return crc32.Update(sum, crc32.IEEETable, payload)
}

func putUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getUint16(b []byte) uint16    { return binary.LittleEndian.Uint16(b) }
func getUint32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }
