package walog

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/return2faye/siltkv/internal/backend"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	be := backend.NewMemory()

	w, err := NewWriter(be, "000001.log")
	require.NoError(t, err)

	records := [][]byte{
		[]byte("first record"),
		[]byte(""),
		make([]byte, BlockSize*2+137), // forces BEGIN/CONTINUE/LAST across blocks
		[]byte("last record"),
	}
	for i := range records[2] {
		records[2][i] = byte(i)
	}

	for _, r := range records {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	r, err := NewReader(be, "000001.log")
	require.NoError(t, err)
	defer r.Close()

	var got [][]byte
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}

	require.Len(t, got, len(records))
	for i := range records {
		require.Equal(t, records[i], got[i])
	}
}

func TestReaderTruncatedTailIsClean(t *testing.T) {
	be := backend.NewMemory()
	w, err := NewWriter(be, "000002.log")
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("first")))
	require.NoError(t, w.Append([]byte("second, never fully durable")))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	// Simulate a crash mid-write: chop off the tail of the second record.
	be.Truncate("000002.log", headerSize+len("first")+headerSize+4)

	r, err := NewReader(be, "000002.log")
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("first"), rec)

	_, err = r.Next()
	require.Equal(t, io.EOF, err)
}

func TestCRCMismatchFailsIteration(t *testing.T) {
	be := backend.NewMemory()
	w, err := NewWriter(be, "000003.log")
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("payload")))
	require.NoError(t, w.Close())

	be.Corrupt("000003.log", 0, 0xFF)

	r, err := NewReader(be, "000003.log")
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.Equal(t, ErrChecksum, err)
}
