package backend

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Local is a POSIX-style file backend. SST reads may be served through a
// read-only mmap of the whole file when enableMmap is requested and the
// platform supports it; everything else goes through ReadAt/Write.
type Local struct {
	usage int64
}

// NewLocal returns a Backend rooted at the OS filesystem. Paths passed to
// its methods are used as-is (callers are responsible for joining them
// under a data directory).
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Open(path string, enableMmap bool) (Readable, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &localReadable{file: f, size: st.Size()}
	if enableMmap && st.Size() > 0 {
		addr, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			r.mmap = addr
		}
		// A failed mmap is not fatal: callers fall back to ReadAt.
	}
	return r, nil
}

func (l *Local) Create(path string, preallocateHint int64) (Writable, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if preallocateHint > 0 {
		// Best-effort; ENOSPC-style failures surface on real writes later.
		_ = f.Truncate(preallocateHint)
		_ = f.Truncate(0)
	}
	atomic.AddInt64(&l.usage, 0)
	return &localWritable{file: f, path: path, backend: l}, nil
}

func (l *Local) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (l *Local) Rename(src, dst string) error {
	return os.Rename(src, dst)
}

func (l *Local) MakeSureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func (l *Local) Usage() (int64, error) {
	return atomic.LoadInt64(&l.usage), nil
}

// ListGlob returns entries directly under dir whose name ends in
// suffix. A missing dir yields an empty (not erroring) result, matching
// spec §7's "missing WAL/manifest on startup is an empty store" rule.
func (l *Local) ListGlob(dir, suffix string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), suffix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

type localReadable struct {
	file *os.File
	size int64
	mmap []byte
}

func (r *localReadable) ReadAt(p []byte, off int64) (int, error) {
	return r.file.ReadAt(p, off)
}

func (r *localReadable) Size() (int64, error) {
	return r.size, nil
}

func (r *localReadable) Addr() ([]byte, bool) {
	if r.mmap == nil {
		return nil, false
	}
	return r.mmap, true
}

func (r *localReadable) Close() error {
	if r.mmap != nil {
		_ = unix.Munmap(r.mmap)
		r.mmap = nil
	}
	return r.file.Close()
}

type localWritable struct {
	file    *os.File
	path    string
	backend *Local
	written int64
}

func (w *localWritable) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	atomic.AddInt64(&w.backend.usage, int64(n))
	w.written += int64(n)
	return n, err
}

func (w *localWritable) Flush() error {
	return nil
}

func (w *localWritable) Sync() error {
	return w.file.Sync()
}

func (w *localWritable) Truncate(size int64) error {
	return w.file.Truncate(size)
}

func (w *localWritable) Delete() error {
	w.file.Close()
	return os.Remove(w.path)
}

func (w *localWritable) Close() error {
	return w.file.Close()
}

// JoinPath is a small helper kept for callers composing backend-relative
// paths the way the teacher's lsm.Open / manifest code does.
func JoinPath(elem ...string) string {
	return filepath.Join(elem...)
}
