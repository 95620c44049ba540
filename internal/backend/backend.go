// Package backend abstracts the persistence layer used by the WAL, SST
// and manifest subsystems. Two implementations are provided: a local
// POSIX-style file backend and an in-memory backend for tests and
// deterministic replay.
package backend

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Open when path does not exist. Callers on
// optional read paths (e.g. manifest replay of a missing log) treat this
// as a distinguishable non-error condition rather than a hard failure.
var ErrNotFound = errors.New("backend: not found")

// Readable is a random-access reader over a backend file.
type Readable interface {
	io.ReaderAt
	io.Closer

	// Size returns the total size of the underlying file.
	Size() (int64, error)

	// Addr returns the base address of a whole-file memory mapping and
	// true if the backend produced one (mmap supported and requested).
	// Callers must not hold onto the slice past Close.
	Addr() ([]byte, bool)
}

// Writable is a sequential writer over a backend file.
type Writable interface {
	io.Writer
	io.Closer

	// Flush pushes buffered bytes to the OS; it does not guarantee
	// durability across a crash (use Sync for that).
	Flush() error

	// Sync fsyncs the file.
	Sync() error

	// Truncate resizes the file, used to undo a partially written
	// create on error.
	Truncate(size int64) error

	// Delete removes the underlying file; used to undo a failed create.
	Delete() error
}

// Backend is the persistence contract consumed by internal/walog,
// internal/sstable and internal/manifest. Implementations must be safe
// for concurrent use by independent callers operating on distinct paths.
type Backend interface {
	// Open opens path for random-access reads. enableMmap requests a
	// whole-file mapping when the backend supports it; the backend is
	// free to ignore the request (Addr() will then report false).
	Open(path string, enableMmap bool) (Readable, error)

	// Create opens (or truncates) path for sequential writes.
	// preallocateHint is an optional size hint the backend may use to
	// reduce fragmentation; it is never a hard cap.
	Create(path string, preallocateHint int64) (Writable, error)

	// Remove deletes path. Removing a missing path is not an error.
	Remove(path string) error

	// Rename atomically (on POSIX) replaces dst with src.
	Rename(src, dst string) error

	// MakeSureDir ensures path exists as a directory, creating parents
	// as needed.
	MakeSureDir(path string) error

	// Usage reports the total number of bytes the backend currently
	// accounts for across all files it has created.
	Usage() (int64, error)

	// ListGlob returns paths directly under dir whose name ends in
	// suffix, used on startup to discover WAL segments and manifest
	// logs without the manifest itself tracking them.
	ListGlob(dir, suffix string) []string
}
