package storage

import (
	"errors"
	"fmt"

	"github.com/return2faye/siltkv/internal/keys"
	"github.com/return2faye/siltkv/internal/manifest"
	"github.com/return2faye/siltkv/internal/sstable"
	"github.com/return2faye/siltkv/internal/walog"
)

// Sentinel errors matching spec §7's taxonomy (KeyNotExist, ValueTooLarge,
// DataCorrupt, Io, Unknown). The teacher's pkg/kv distinguished its own
// closed-db case by matching err.Error() against a literal string; every
// other layer of this engine (and every example in the pack) instead
// exposes a sentinel and lets callers use errors.Is/As, so that is what
// Storage does too.
var (
	// ErrKeyNotExist is returned by Get when no visible version of a key
	// exists.
	ErrKeyNotExist = errors.New("storage: key does not exist")

	// ErrValueTooLarge is keys.ErrValueTooLarge surfaced under the
	// façade's own name — centralization of the limit check already
	// happens once, in WriteBatchBuilder.Set (spec §9 open question 4).
	ErrValueTooLarge = keys.ErrValueTooLarge

	// ErrDataCorrupt is the façade-level umbrella for any lower-layer
	// corruption sentinel (bad CRC, bad footer magic, truncated batch).
	ErrDataCorrupt = errors.New("storage: data corrupt")

	// ErrClosed is returned by any call made after Close.
	ErrClosed = errors.New("storage: closed")
)

// IOError wraps a backend failure with the operation that triggered it —
// spec §7's Io(kind) variant, with Op standing in for "kind" since Op
// already names the failing call (e.g. "wal append", "sst open").
// Unwrap lets callers still errors.Is against the underlying cause.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("storage: io error (%s): %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}

// asDataCorrupt normalizes the lower layers' own corruption sentinels to
// the façade's single ErrDataCorrupt, per spec §7's collapsed taxonomy.
func asDataCorrupt(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, manifest.ErrCorruptEdit),
		errors.Is(err, sstable.ErrCorruptIndex),
		errors.Is(err, sstable.ErrCorruptFooter),
		errors.Is(err, sstable.ErrBadMagic),
		errors.Is(err, walog.ErrChecksum),
		errors.Is(err, walog.ErrIllegalTransition),
		errors.Is(err, keys.ErrTruncatedBatch):
		return fmt.Errorf("%w: %v", ErrDataCorrupt, err)
	default:
		return err
	}
}
