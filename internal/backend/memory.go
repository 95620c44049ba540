package backend

import (
	"path/filepath"
	"strings"
	"sync"
)

// Memory is a process-local backend mapping path -> bytes. It never
// mmaps (Addr always reports false) and is sufficient for tests and for
// deterministic WAL/manifest replay without touching the filesystem.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"": true},
	}
}

func (m *Memory) Open(path string, _ bool) (Readable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[path]
	if !ok {
		return nil, ErrNotFound
	}
	// Copy out so later writers (which replace the slice) never race
	// with an open reader holding the old snapshot.
	cp := make([]byte, len(data))
	copy(cp, data)
	return &memReadable{data: cp}, nil
}

func (m *Memory) Create(path string, _ int64) (Writable, error) {
	m.mu.Lock()
	m.files[path] = nil
	m.dirs[filepath.Dir(path)] = true
	m.mu.Unlock()
	return &memWritable{backend: m, path: path}, nil
}

func (m *Memory) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *Memory) Rename(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[src]
	if !ok {
		return ErrNotFound
	}
	m.files[dst] = data
	delete(m.files, src)
	return nil
}

func (m *Memory) MakeSureDir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
	return nil
}

func (m *Memory) Usage() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, b := range m.files {
		total += int64(len(b))
	}
	return total, nil
}

// Corrupt flips the byte at offset in path by XOR-ing it with mask.
// Test-only helper for exercising checksum-failure paths in the WAL and
// SST readers without going through the filesystem.
func (m *Memory) Corrupt(path string, offset int, mask byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.files[path]; ok && offset < len(b) {
		b[offset] ^= mask
	}
}

// Truncate shortens the stored file at path to size bytes. Test-only
// helper for simulating a torn write.
func (m *Memory) Truncate(path string, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.files[path]; ok && size < len(b) {
		m.files[path] = b[:size]
	}
}

// ListGlob returns stored paths under dir matching a simple "*<suffix>"
// style pattern used by manifest/WAL segment discovery on restart.
func (m *Memory) ListGlob(dir, suffix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.files {
		if filepath.Dir(p) == dir && strings.HasSuffix(p, suffix) {
			out = append(out, p)
		}
	}
	return out
}

type memReadable struct {
	data []byte
}

func (r *memReadable) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(r.data)) {
		return 0, ErrNotFound
	}
	n := copy(p, r.data[off:])
	var err error
	if n < len(p) {
		err = ErrShortRead
	}
	return n, err
}

func (r *memReadable) Size() (int64, error) {
	return int64(len(r.data)), nil
}

func (r *memReadable) Addr() ([]byte, bool) {
	return nil, false
}

func (r *memReadable) Close() error {
	return nil
}

type memWritable struct {
	backend *Memory
	path    string
	buf     []byte
}

func (w *memWritable) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memWritable) Flush() error {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	w.backend.files[w.path] = append([]byte(nil), w.buf...)
	return nil
}

func (w *memWritable) Sync() error {
	return w.Flush()
}

func (w *memWritable) Truncate(size int64) error {
	if int64(len(w.buf)) > size {
		w.buf = w.buf[:size]
	} else {
		w.buf = append(w.buf, make([]byte, size-int64(len(w.buf)))...)
	}
	return nil
}

func (w *memWritable) Delete() error {
	return w.backend.Remove(w.path)
}

func (w *memWritable) Close() error {
	return w.Flush()
}

// ErrShortRead mirrors io.ErrUnexpectedEOF for callers that need to
// distinguish a truncated in-memory read without importing io here.
var ErrShortRead = errShortRead{}

type errShortRead struct{}

func (errShortRead) Error() string { return "backend: short read" }
