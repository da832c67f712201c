package version

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/sstable"
)

// Edit tag bytes, written as a leading varint before each field so the
// manifest format can grow new fields without breaking old readers.
const (
	tagComparatorName = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagNewFile        = 5
	tagDeletedFile    = 6
)

const comparatorName = "middb.internal.v1"

// NewFileEntry names one file added to a level by an edit.
type NewFileEntry struct {
	Level int
	Meta  sstable.FileMetadata
}

// DeletedFileEntry names one file removed from a level by an edit.
type DeletedFileEntry struct {
	Level   int
	FileNum uint64
}

// Edit is a delta to be applied to a Version: files added, files removed,
// and optionally the bookkeeping counters (log number, next file number,
// last sequence). A VersionSet accumulates edits in the manifest and folds
// them, in order, into the live Version.
type Edit struct {
	ComparatorName string
	LogNumber      uint64
	NextFileNumber uint64
	LastSequence   uint64
	NewFiles       []NewFileEntry
	DeletedFiles   []DeletedFileEntry
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

// Encode serializes the edit as a sequence of tagged fields.
func (e *Edit) Encode() []byte {
	var buf bytes.Buffer

	if e.ComparatorName != "" {
		putUvarint(&buf, tagComparatorName)
		putBytes(&buf, []byte(e.ComparatorName))
	}
	if e.LogNumber != 0 {
		putUvarint(&buf, tagLogNumber)
		putUvarint(&buf, e.LogNumber)
	}
	if e.NextFileNumber != 0 {
		putUvarint(&buf, tagNextFileNumber)
		putUvarint(&buf, e.NextFileNumber)
	}
	if e.LastSequence != 0 {
		putUvarint(&buf, tagLastSequence)
		putUvarint(&buf, e.LastSequence)
	}
	for _, nf := range e.NewFiles {
		putUvarint(&buf, tagNewFile)
		putUvarint(&buf, uint64(nf.Level))
		putUvarint(&buf, nf.Meta.FileNum)
		putUvarint(&buf, uint64(nf.Meta.Size))
		putBytes(&buf, nf.Meta.Smallest)
		putBytes(&buf, nf.Meta.Largest)
	}
	for _, df := range e.DeletedFiles {
		putUvarint(&buf, tagDeletedFile)
		putUvarint(&buf, uint64(df.Level))
		putUvarint(&buf, df.FileNum)
	}
	return buf.Bytes()
}

// errEditCorrupt is returned for any malformed manifest record.
var errEditCorrupt = errors.New("version: corrupt manifest record")

func readUvarint(r *bytes.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, errEditCorrupt
	}
	return v, nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errEditCorrupt
	}
	return buf, nil
}

// Decode parses a record produced by Encode.
func (e *Edit) Decode(data []byte) error {
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		tag, err := readUvarint(r)
		if err != nil {
			return err
		}
		switch tag {
		case tagComparatorName:
			b, err := readBytes(r)
			if err != nil {
				return err
			}
			e.ComparatorName = string(b)
		case tagLogNumber:
			if e.LogNumber, err = readUvarint(r); err != nil {
				return err
			}
		case tagNextFileNumber:
			if e.NextFileNumber, err = readUvarint(r); err != nil {
				return err
			}
		case tagLastSequence:
			if e.LastSequence, err = readUvarint(r); err != nil {
				return err
			}
		case tagNewFile:
			level, err := readUvarint(r)
			if err != nil {
				return err
			}
			fileNum, err := readUvarint(r)
			if err != nil {
				return err
			}
			size, err := readUvarint(r)
			if err != nil {
				return err
			}
			smallest, err := readBytes(r)
			if err != nil {
				return err
			}
			largest, err := readBytes(r)
			if err != nil {
				return err
			}
			e.NewFiles = append(e.NewFiles, NewFileEntry{
				Level: int(level),
				Meta: sstable.FileMetadata{
					FileNum:  fileNum,
					Level:    int(level),
					Size:     int64(size),
					Smallest: ikey.Key(smallest),
					Largest:  ikey.Key(largest),
				},
			})
		case tagDeletedFile:
			level, err := readUvarint(r)
			if err != nil {
				return err
			}
			fileNum, err := readUvarint(r)
			if err != nil {
				return err
			}
			e.DeletedFiles = append(e.DeletedFiles, DeletedFileEntry{Level: int(level), FileNum: fileNum})
		default:
			return errEditCorrupt
		}
	}
	return nil
}

// apply folds e onto base, returning a new Version. base may be nil, in
// which case the edit must be a full snapshot (as written by
// VersionSet.createManifest).
func apply(base *Version, e *Edit) (*Version, error) {
	var nv *Version
	if base != nil {
		nv = base.clone()
	} else {
		nv = NewVersion()
	}

	for _, df := range e.DeletedFiles {
		files := nv.Files[df.Level]
		found := false
		for i, f := range files {
			if f.FileNum == df.FileNum {
				nv.Files[df.Level] = append(files[:i], files[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Errorf("version: deleted file %d is not in level %d", df.FileNum, df.Level)
		}
	}

	for _, nf := range e.NewFiles {
		meta := nf.Meta
		nv.Files[nf.Level] = append(nv.Files[nf.Level], &meta)
	}

	for level := 1; level < NumLevels; level++ {
		sortByS := nv.Files[level]
		for i := 1; i < len(sortByS); i++ {
			for j := i; j > 0 && ikey.Compare(sortByS[j].Smallest, sortByS[j-1].Smallest) < 0; j-- {
				sortByS[j], sortByS[j-1] = sortByS[j-1], sortByS[j]
			}
		}
	}

	return nv, nil
}
