// Package keys implements the internal-key encoding and write-batch wire
// format described in spec §3/§4.C: user_key ‖ packed(type, seq), with
// internal keys ordered ascending by user key then descending by
// sequence number so "newest version of a key" is a forward scan from
// the user key's lower bound.
package keys

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// KeyType tags a mutation as a live value or a tombstone.
type KeyType uint8

const (
	TypeSet KeyType = 0
	TypeDel KeyType = 1
)

// MaxValueSize is the single, centralized cap on mutation value size
// (spec §9 open question 4: the limit was duplicated in the original;
// here it is checked once, in WriteBatchBuilder.Set).
const MaxValueSize = 10 << 20 // 10 MiB

const seqMask = 0x0000_FFFF_FFFF_FFFF

var (
	// ErrValueTooLarge is returned by WriteBatchBuilder when a value
	// exceeds MaxValueSize.
	ErrValueTooLarge = errors.New("keys: value exceeds maximum size")
	// ErrShortInternalKey indicates a byte slice too short to contain a
	// valid packed tail.
	ErrShortInternalKey = errors.New("keys: internal key too short")
)

// InternalKey is user_key ‖ packed_tail, the sort key used everywhere
// inside the engine (memtable, SST, compaction).
type InternalKey []byte

// MakeInternalKey packs a user key, sequence number and type into an
// InternalKey. seq is truncated to 48 bits per spec §3.
func MakeInternalKey(userKey []byte, seq uint64, t KeyType) InternalKey {
	buf := make([]byte, len(userKey)+8)
	copy(buf, userKey)
	tail := (uint64(t) << 56) | (seq & seqMask)
	binary.LittleEndian.PutUint64(buf[len(userKey):], tail)
	return InternalKey(buf)
}

// UserKey returns the user-key portion (no copy).
func (k InternalKey) UserKey() []byte {
	if len(k) < 8 {
		return k
	}
	return k[:len(k)-8]
}

// tail returns the raw packed (type, seq) 64-bit tail.
func (k InternalKey) tail() uint64 {
	return binary.LittleEndian.Uint64(k[len(k)-8:])
}

// Seq returns the 48-bit sequence number.
func (k InternalKey) Seq() uint64 {
	return k.tail() & seqMask
}

// Type returns the key type.
func (k InternalKey) Type() KeyType {
	return KeyType(k.tail() >> 56)
}

// Valid reports whether k is at least long enough to hold a packed tail.
func (k InternalKey) Valid() bool {
	return len(k) >= 8
}

// Compare orders internal keys ascending by user key, then descending by
// sequence number, so the newest version of a user key sorts first.
func Compare(a, b InternalKey) int {
	if c := bytes.Compare(a.UserKey(), b.UserKey()); c != 0 {
		return c
	}
	as, bs := a.Seq(), b.Seq()
	switch {
	case as > bs:
		return -1
	case as < bs:
		return 1
	default:
		return 0
	}
}

// Less is a convenience wrapper around Compare for sort.Interface-style
// callers.
func Less(a, b InternalKey) bool {
	return Compare(a, b) < 0
}

// LowerBound returns the internal key that sorts before every version of
// userKey (seq = max representable).
func LowerBound(userKey []byte) InternalKey {
	return MakeInternalKey(userKey, seqMask, TypeSet)
}

// UpperBound returns the internal key that sorts after every version of
// userKey (seq = 0). Useful as an exclusive range end.
func UpperBound(userKey []byte) InternalKey {
	return MakeInternalKey(userKey, 0, TypeDel)
}
