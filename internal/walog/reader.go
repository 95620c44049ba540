package walog

import (
	"io"

	"github.com/return2faye/siltkv/internal/backend"
)

// Reader replays records from a segment file in order. It terminates
// cleanly (Next returns io.EOF) on a truncated, zero, or short tail —
// the normal shape of a log that was not cleanly closed — and fails
// with ErrChecksum / ErrIllegalTransition on corruption that is not
// explainable by an interrupted write (spec §4.B Replayer contract).
type Reader struct {
	r   backend.Readable
	off int64
	size int64

	blockOff int // position within the current 32 KiB block
	pending  []byte
	expect   Flag // flag a CONTINUE/LAST chunk must follow (Begin means "mid-record")
}

// NewReader opens path for replay.
func NewReader(be backend.Backend, path string) (*Reader, error) {
	r, err := be.Open(path, false)
	if err != nil {
		return nil, err
	}
	size, err := r.Size()
	if err != nil {
		r.Close()
		return nil, err
	}
	return &Reader{r: r, size: size}, nil
}

// Close releases the underlying file.
func (rd *Reader) Close() error {
	return rd.r.Close()
}

// Next returns the next whole record, or io.EOF when the log is
// exhausted (cleanly or via a truncated tail).
func (rd *Reader) Next() ([]byte, error) {
	var record []byte
	inRecord := false

	for {
		// A truncated tail — whether EOF lands clean on a block boundary
		// or mid-record (BEGIN/CONTINUE with no LAST) — terminates replay
		// without error; the writer's missing fsync, not corruption, is
		// the usual cause.
		if rd.off >= rd.size {
			return nil, io.EOF
		}

		// Skip zero-padding / too-short tail at the end of a block.
		avail := BlockSize - rd.blockOff
		if avail < headerSize {
			skip := int64(avail)
			if rd.off+skip > rd.size {
				skip = rd.size - rd.off
			}
			rd.off += skip
			rd.blockOff = 0
			continue
		}

		header := make([]byte, headerSize)
		n, err := rd.r.ReadAt(header, rd.off)
		if err != nil && n < headerSize {
			return nil, io.EOF
		}

		length := int(getUint16(header[6:8]))
		flag := Flag(header[4])
		maskedCRC := getUint32(header[0:4])

		chunkEnd := rd.off + int64(headerSize+length)
		if chunkEnd > rd.size || length > BlockSize-headerSize {
			return nil, io.EOF
		}

		payload := make([]byte, length)
		if length > 0 {
			if _, err := rd.r.ReadAt(payload, rd.off+headerSize); err != nil {
				return nil, io.EOF
			}
		}

		gotCRC := crc32Checksum(header[4:headerSize], payload)
		if unmask(maskedCRC) != gotCRC {
			return nil, ErrChecksum
		}

		if err := rd.checkTransition(flag, inRecord); err != nil {
			return nil, err
		}

		rd.off += int64(headerSize + length)
		rd.blockOff += headerSize + length

		switch flag {
		case Full:
			record = payload
			return record, nil
		case Begin:
			rd.pending = append([]byte(nil), payload...)
			inRecord = true
		case Continue:
			rd.pending = append(rd.pending, payload...)
			inRecord = true
		case Last:
			rd.pending = append(rd.pending, payload...)
			out := rd.pending
			rd.pending = nil
			return out, nil
		default:
			return nil, ErrIllegalTransition
		}
	}
}

// checkTransition enforces spec §4.B's legal flag sequences:
// FULL -> {FULL, BEGIN}; BEGIN -> {CONTINUE, LAST};
// CONTINUE -> {CONTINUE, LAST}; LAST -> {FULL, BEGIN}.
func (rd *Reader) checkTransition(flag Flag, inRecord bool) error {
	switch flag {
	case Full, Begin:
		if inRecord {
			return ErrIllegalTransition
		}
	case Continue, Last:
		if !inRecord {
			return ErrIllegalTransition
		}
	default:
		return ErrIllegalTransition
	}
	return nil
}
