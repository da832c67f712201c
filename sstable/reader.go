package sstable

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/willzeng274/MidDB/block"
	"github.com/willzeng274/MidDB/bloom"
	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/storage"
)

// Reader serves point lookups and iteration over an already-written
// SSTable file. The index and bloom blocks are loaded once at Open time;
// data blocks are loaded on demand.
type Reader struct {
	file   storage.File
	bloom  *bloom.Filter
	index  []indexEntry
	fileSz int64
}

type indexEntry struct {
	separator ikey.Key
	handle    Handle
}

// Open reads the footer, index block, and bloom block of an SSTable file.
func Open(f storage.File) (*Reader, error) {
	size, err := f.Size()
	if err != nil {
		return nil, errors.Wrap(err, "sstable: stat")
	}
	if size < footerSize {
		return nil, errors.Wrap(ErrCorruption, "sstable: file too small for footer")
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, size-footerSize); err != nil {
		return nil, errors.Wrap(err, "sstable: read footer")
	}
	magic := binary.LittleEndian.Uint64(footer[32:40])
	if magic != Magic {
		return nil, errors.Wrap(ErrCorruption, "sstable: bad magic")
	}
	bloomHandle := decodeHandle(footer[0:16])
	indexHandle := decodeHandle(footer[16:32])

	bloomBytes := make([]byte, bloomHandle.Size)
	if _, err := f.ReadAt(bloomBytes, int64(bloomHandle.Offset)); err != nil {
		return nil, errors.Wrap(err, "sstable: read bloom block")
	}
	filter, err := bloom.Decode(bloomBytes)
	if err != nil {
		return nil, errors.Wrap(ErrCorruption, err.Error())
	}

	indexBytes := make([]byte, indexHandle.Size)
	if _, err := f.ReadAt(indexBytes, int64(indexHandle.Offset)); err != nil {
		return nil, errors.Wrap(err, "sstable: read index block")
	}
	idxIter, err := block.NewIterator(indexBytes)
	if err != nil {
		return nil, errors.Wrap(ErrCorruption, err.Error())
	}

	var entries []indexEntry
	if err := idxIter.First(); err == nil {
		for idxIter.Valid() {
			h := decodeHandle(idxIter.Value())
			entries = append(entries, indexEntry{separator: idxIter.Key().Clone(), handle: h})
			idxIter.Next()
		}
	}

	return &Reader{file: f, bloom: filter, index: entries, fileSz: size}, nil
}

// ErrCorruption is wrapped around any structural problem found while
// parsing an SSTable.
var ErrCorruption = errors.New("sstable: corrupt file")

func (r *Reader) loadBlock(h Handle) (*block.Iterator, error) {
	data := make([]byte, h.Size)
	if _, err := r.file.ReadAt(data, int64(h.Offset)); err != nil {
		return nil, errors.Wrap(err, "sstable: read data block")
	}
	it, err := block.NewIterator(data)
	if err != nil {
		return nil, errors.Wrap(ErrCorruption, err.Error())
	}
	return it, nil
}

// findBlock returns the handle of the first data block whose separator key
// is >= target, or false if target is past every block.
func (r *Reader) findBlock(target ikey.Key) (Handle, bool) {
	lo, hi := 0, len(r.index)
	for lo < hi {
		mid := (lo + hi) / 2
		if ikey.Compare(r.index[mid].separator, target) >= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == len(r.index) {
		return Handle{}, false
	}
	return r.index[lo].handle, true
}

// Get performs a point lookup for userKey visible at atSequence. found is
// false if no version is visible; tombstone is true if the visible version
// is a deletion marker.
func (r *Reader) Get(userKey []byte, atSequence uint64) (value []byte, found bool, tombstone bool, err error) {
	if !r.bloom.MayContain(userKey) {
		return nil, false, false, nil
	}

	target := ikey.LookupKey(userKey, atSequence)
	handle, ok := r.findBlock(target)
	if !ok {
		return nil, false, false, nil
	}
	it, err := r.loadBlock(handle)
	if err != nil {
		return nil, false, false, err
	}
	if err := it.SeekGE(target); err != nil {
		return nil, false, false, err
	}
	if !it.Valid() {
		return nil, false, false, nil
	}
	key := it.Key()
	if string(key.UserKey()) != string(userKey) {
		return nil, false, false, nil
	}
	if key.Kind() == ikey.KindDelete {
		return nil, true, true, nil
	}
	return append([]byte(nil), it.Value()...), true, false, nil
}

// Iterator walks every entry of the SSTable in ascending internal-key
// order, used by compaction's k-way merge.
type Iterator struct {
	r        *Reader
	blockIdx int
	cur      *block.Iterator
	err      error
}

// NewIter returns an iterator positioned before the first entry.
func (r *Reader) NewIter() *Iterator {
	return &Iterator{r: r, blockIdx: -1}
}

// First positions the iterator at the first entry.
func (it *Iterator) First() bool {
	it.blockIdx = 0
	return it.loadAndFirst()
}

func (it *Iterator) loadAndFirst() bool {
	for it.blockIdx < len(it.r.index) {
		h := it.r.index[it.blockIdx].handle
		b, err := it.r.loadBlock(h)
		if err != nil {
			it.err = err
			return false
		}
		if err := b.First(); err != nil {
			it.err = err
			it.blockIdx++
			continue
		}
		it.cur = b
		return true
	}
	return false
}

// Next advances the iterator, crossing block boundaries as needed.
func (it *Iterator) Next() bool {
	if it.cur != nil && it.cur.Next() {
		return true
	}
	it.blockIdx++
	return it.loadAndFirst()
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.cur != nil && it.cur.Valid() }

// Key returns the current internal key.
func (it *Iterator) Key() ikey.Key { return it.cur.Key() }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.cur.Value() }

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error { return it.err }
