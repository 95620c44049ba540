package walog

import (
	"sync"

	"github.com/return2faye/siltkv/internal/backend"
)

// Writer frames records into 32 KiB blocks and appends them through a
// backend.Writable. Append either writes every chunk of a record or
// returns an error; chunks written before a mid-record failure are not
// rolled back, and a reader reports the resulting incomplete record as
// corruption (ErrIllegalTransition) or a truncated tail.
type Writer struct {
	mu  sync.Mutex
	be  backend.Backend
	w   backend.Writable
	path string

	blockOff int // bytes written into the current 32 KiB block
}

// NewWriter opens (creating if absent) path as the active segment file.
func NewWriter(be backend.Backend, path string) (*Writer, error) {
	w, err := be.Create(path, BlockSize)
	if err != nil {
		return nil, err
	}
	return &Writer{be: be, w: w, path: path}, nil
}

// Rotate closes the current segment file and opens a new one at path,
// resetting the block-offset so framing starts at a clean block
// boundary.
func (wr *Writer) Rotate(path string) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if wr.w != nil {
		if err := wr.w.Close(); err != nil {
			return err
		}
	}
	nw, err := wr.be.Create(path, BlockSize)
	if err != nil {
		return err
	}
	wr.w = nw
	wr.path = path
	wr.blockOff = 0
	return nil
}

// Path returns the path of the currently active segment file.
func (wr *Writer) Path() string {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return wr.path
}

// Append writes record as one FULL chunk or a BEGIN/CONTINUE*/LAST
// sequence, splitting across block boundaries as needed. Concurrent
// Append calls are serialized by wr.mu.
func (wr *Writer) Append(record []byte) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	left := record
	begin := true

	for {
		avail := BlockSize - wr.blockOff
		if avail < headerSize {
			if avail > 0 {
				if _, err := wr.w.Write(make([]byte, avail)); err != nil {
					return err
				}
			}
			wr.blockOff = 0
			avail = BlockSize
		}

		space := avail - headerSize
		fragLen := len(left)
		end := true
		if fragLen > space {
			fragLen = space
			end = false
		}

		var flag Flag
		switch {
		case begin && end:
			flag = Full
		case begin && !end:
			flag = Begin
		case !begin && end:
			flag = Last
		default:
			flag = Continue
		}

		if err := wr.writeChunk(flag, left[:fragLen]); err != nil {
			return err
		}

		left = left[fragLen:]
		begin = false
		if len(left) == 0 {
			return nil
		}
	}
}

func (wr *Writer) writeChunk(flag Flag, payload []byte) error {
	buf := make([]byte, headerSize+len(payload))
	buf[4] = byte(flag)
	buf[5] = 0
	putUint16(buf[6:8], uint16(len(payload)))
	copy(buf[headerSize:], payload)

	crc := crc32Checksum(buf[4:headerSize], payload)
	putUint32(buf[0:4], mask(crc))

	wr.blockOff += len(buf)
	_, err := wr.w.Write(buf)
	return err
}

// Sync fsyncs the active segment file.
func (wr *Writer) Sync() error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if err := wr.w.Flush(); err != nil {
		return err
	}
	return wr.w.Sync()
}

// Close flushes and closes the active segment file.
func (wr *Writer) Close() error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return wr.w.Close()
}
