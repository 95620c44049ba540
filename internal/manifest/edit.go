// Package manifest implements the durable log of edits to the set of
// live SSTs (spec §4.F): a VersionEdit sum type framed through
// internal/walog, a Version (per-level ordered Runs of FileMetaData),
// and a VersionSet carrying the allocators and snapshot refcounts that
// make up the engine's single source of truth for what is on disk.
package manifest

import (
	"encoding/binary"
	"errors"

	"github.com/return2faye/siltkv/internal/sstable"
)

// Tag identifies one of the seven VersionEdit variants from spec §4.F.
type Tag uint8

// Tag numbering matches spec §6's wire values exactly, not declaration
// order: 1=SSTAppended, 2=SSTRemove, 3=VersionChanged,
// 4=SSTSequenceChanged, 5=ManifestSequenceChanged, 6=Snapshot, 7=NewRun.
const (
	TagSSTAppended             Tag = 1
	TagSSTRemove               Tag = 2
	TagVersionChanged          Tag = 3
	TagSSTSequenceChanged      Tag = 4
	TagManifestSequenceChanged Tag = 5
	TagSnapshot                Tag = 6
	TagNewRun                  Tag = 7
)

var ErrCorruptEdit = errors.New("manifest: corrupt version edit")

// Edit is one VersionEdit record. Only the fields relevant to Tag are
// populated; callers switch on Tag before reading them.
type Edit struct {
	Tag Tag

	// SSTAppended
	File sstable.FileMetaData
	// SSTAppended, NewRun — which level the edit applies to
	Level int
	// SSTRemove, SSTSequenceChanged, ManifestSequenceChanged — a number
	Number uint64
	// VersionChanged — the new global sequence watermark
	Seq uint64
	// Snapshot — the entire live file set, per level
	SnapshotLevels [][]sstable.FileMetaData
}

func putUvarint(buf *[]byte, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	*buf = append(*buf, tmp[:n]...)
}

func putBytes(buf *[]byte, b []byte) {
	putUvarint(buf, uint64(len(b)))
	*buf = append(*buf, b...)
}

func getUvarint(data []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, nil, ErrCorruptEdit
	}
	return v, data[n:], nil
}

func getBytes(data []byte) ([]byte, []byte, error) {
	l, rest, err := getUvarint(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < l {
		return nil, nil, ErrCorruptEdit
	}
	return rest[:l], rest[l:], nil
}

func encodeFileMeta(buf *[]byte, f sstable.FileMetaData) {
	putUvarint(buf, f.Number)
	putUvarint(buf, uint64(f.Level))
	putBytes(buf, f.MinUserKey)
	putBytes(buf, f.MaxUserKey)
	putUvarint(buf, f.MinSeq)
	putUvarint(buf, f.MaxSeq)
	putUvarint(buf, f.TotalKeys)
}

func decodeFileMeta(data []byte) (sstable.FileMetaData, []byte, error) {
	var f sstable.FileMetaData
	var err error
	var v uint64

	if v, data, err = getUvarint(data); err != nil {
		return f, nil, err
	}
	f.Number = v
	if v, data, err = getUvarint(data); err != nil {
		return f, nil, err
	}
	f.Level = int(v)
	if f.MinUserKey, data, err = getBytes(data); err != nil {
		return f, nil, err
	}
	if f.MaxUserKey, data, err = getBytes(data); err != nil {
		return f, nil, err
	}
	if v, data, err = getUvarint(data); err != nil {
		return f, nil, err
	}
	f.MinSeq = v
	if v, data, err = getUvarint(data); err != nil {
		return f, nil, err
	}
	f.MaxSeq = v
	if v, data, err = getUvarint(data); err != nil {
		return f, nil, err
	}
	f.TotalKeys = v
	return f, data, nil
}

// Encode serializes e into a record ready for walog.Writer.Append.
func (e Edit) Encode() []byte {
	buf := []byte{byte(e.Tag)}
	switch e.Tag {
	case TagSSTAppended:
		putUvarint(&buf, uint64(e.Level))
		encodeFileMeta(&buf, e.File)
	case TagSSTRemove:
		putUvarint(&buf, e.Number)
	case TagNewRun:
		putUvarint(&buf, uint64(e.Level))
	case TagVersionChanged:
		putUvarint(&buf, e.Seq)
	case TagSSTSequenceChanged:
		putUvarint(&buf, e.Number)
	case TagManifestSequenceChanged:
		putUvarint(&buf, e.Number)
	case TagSnapshot:
		putUvarint(&buf, uint64(len(e.SnapshotLevels)))
		for _, level := range e.SnapshotLevels {
			putUvarint(&buf, uint64(len(level)))
			for _, f := range level {
				encodeFileMeta(&buf, f)
			}
		}
	}
	return buf
}

// DecodeEdit parses a record produced by Edit.Encode.
func DecodeEdit(data []byte) (Edit, error) {
	if len(data) == 0 {
		return Edit{}, ErrCorruptEdit
	}
	e := Edit{Tag: Tag(data[0])}
	rest := data[1:]
	var err error
	var v uint64

	switch e.Tag {
	case TagSSTAppended:
		if v, rest, err = getUvarint(rest); err != nil {
			return Edit{}, err
		}
		e.Level = int(v)
		if e.File, rest, err = decodeFileMeta(rest); err != nil {
			return Edit{}, err
		}
	case TagSSTRemove:
		if e.Number, rest, err = getUvarint(rest); err != nil {
			return Edit{}, err
		}
	case TagNewRun:
		if v, rest, err = getUvarint(rest); err != nil {
			return Edit{}, err
		}
		e.Level = int(v)
	case TagVersionChanged:
		if e.Seq, rest, err = getUvarint(rest); err != nil {
			return Edit{}, err
		}
	case TagSSTSequenceChanged, TagManifestSequenceChanged:
		if e.Number, rest, err = getUvarint(rest); err != nil {
			return Edit{}, err
		}
	case TagSnapshot:
		var numLevels uint64
		if numLevels, rest, err = getUvarint(rest); err != nil {
			return Edit{}, err
		}
		e.SnapshotLevels = make([][]sstable.FileMetaData, numLevels)
		for i := range e.SnapshotLevels {
			var numFiles uint64
			if numFiles, rest, err = getUvarint(rest); err != nil {
				return Edit{}, err
			}
			files := make([]sstable.FileMetaData, numFiles)
			for j := range files {
				if files[j], rest, err = decodeFileMeta(rest); err != nil {
					return Edit{}, err
				}
			}
			e.SnapshotLevels[i] = files
		}
	default:
		return Edit{}, ErrCorruptEdit
	}
	_ = rest
	return e, nil
}
