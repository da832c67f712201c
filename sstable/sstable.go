// Package sstable
// BSD 3-Clause License
//
// Copyright (c) 2024, Alex Gaetano Padula
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
//  1. Redistributions of source code must retain the above copyright notice, this
//     list of conditions and the following disclaimer.
//
//  2. Redistributions in binary form must reproduce the above copyright notice,
//     this list of conditions and the following disclaimer in the documentation
//     and/or other materials provided with the distribution.
//
//  3. Neither the name of the copyright holder nor the names of its
//     contributors may be used to endorse or promote products derived from
//     this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package sstable implements the immutable, sorted on-disk file format: a
// sequence of data blocks followed by a bloom block, an index block, and a
// fixed-size footer. One file is produced per flush or per compaction
// output.
package sstable

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/willzeng274/MidDB/block"
	"github.com/willzeng274/MidDB/bloom"
	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/storage"
)

// Magic is the fixed trailer identifying a well-formed SSTable footer.
const Magic uint64 = 0xdb4775248b80fb57

// footerSize is two block handles (offset+size, 8 bytes each) plus the
// magic number: 16 + 16 + 8.
const footerSize = 40

// Handle locates a block within the file.
type Handle struct {
	Offset uint64
	Size   uint64
}

func (h Handle) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], h.Size)
}

func decodeHandle(buf []byte) Handle {
	return Handle{
		Offset: binary.LittleEndian.Uint64(buf[0:8]),
		Size:   binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// FileMetadata describes one SSTable as tracked by a Version.
type FileMetadata struct {
	FileNum  uint64
	Level    int
	Size     int64
	Smallest ikey.Key
	Largest  ikey.Key
}

// Overlaps reports whether [smallest,largest] (user-key range) intersects
// m's user-key range.
func (m FileMetadata) Overlaps(smallest, largest []byte) bool {
	if smallest != nil && compareUserKeys(m.Largest.UserKey(), smallest) < 0 {
		return false
	}
	if largest != nil && compareUserKeys(m.Smallest.UserKey(), largest) > 0 {
		return false
	}
	return true
}

func compareUserKeys(a, b []byte) int {
	return ikey.Compare(ikey.Make(a, 0, ikey.KindPut), ikey.Make(b, 0, ikey.KindPut))
}

// Writer builds one SSTable file. Entries must be added in ascending
// internal-key order.
type Writer struct {
	file       storage.File
	blockSize  int
	restartN   int
	bitsPerKey int

	offset   int64
	dataBuf  *block.Writer
	index    *block.Writer
	keys     [][]byte // user keys seen, for the bloom filter
	smallest ikey.Key
	largest  ikey.Key
	pendingIndexKey ikey.Key
	pendingHandle   Handle
	haveSmallest    bool
}

// NewWriter creates a writer over an already-created file.
func NewWriter(f storage.File, blockSize, restartInterval, bitsPerKey int) *Writer {
	return &Writer{
		file:       f,
		blockSize:  blockSize,
		restartN:   restartInterval,
		bitsPerKey: bitsPerKey,
		dataBuf:    block.NewWriter(restartInterval),
		index:      block.NewWriter(restartInterval),
	}
}

// Size returns the number of bytes written so far, including the
// not-yet-flushed pending data block. Callers use this to decide when to
// roll over to a new output file.
func (w *Writer) Size() int64 {
	return w.offset + int64(w.dataBuf.EstimatedSize())
}

// Empty reports whether any entry has been added yet.
func (w *Writer) Empty() bool {
	return !w.haveSmallest
}

// Add appends one internal-key/value entry.
func (w *Writer) Add(key ikey.Key, value []byte) error {
	if !w.haveSmallest {
		w.smallest = key.Clone()
		w.haveSmallest = true
	}
	w.largest = key.Clone()
	w.keys = append(w.keys, append([]byte(nil), key.UserKey()...))

	if w.pendingIndexKey != nil {
		w.flushIndexEntry(key)
	}

	w.dataBuf.Add(key, value)
	if w.dataBuf.EstimatedSize() >= w.blockSize {
		return w.flushDataBlock(key)
	}
	return nil
}

// flushIndexEntry emits the index entry for the previously-flushed data
// block once the first key of the following block arrives. The separator
// is the flushed block's last key; nextKey is not used to shorten it.
func (w *Writer) flushIndexEntry(nextKey ikey.Key) {
	sep := w.pendingIndexKey
	var handleBuf [16]byte
	w.pendingHandle.encode(handleBuf[:])
	w.index.Add(sep, append([]byte(nil), handleBuf[:]...))
	w.pendingIndexKey = nil
	_ = nextKey
}

func (w *Writer) flushDataBlock(lastKeyInBlock ikey.Key) error {
	if w.dataBuf.Empty() {
		return nil
	}
	data := w.dataBuf.Finish()
	n, err := w.file.Append(data)
	if err != nil {
		return errors.Wrap(err, "sstable: write data block")
	}
	w.pendingHandle = Handle{Offset: uint64(w.offset), Size: uint64(n)}
	w.pendingIndexKey = lastKeyInBlock.Clone()
	w.offset += int64(n)
	w.dataBuf.Reset()
	return nil
}

// Finish flushes any pending block, the bloom block, the index block, and
// the footer, returning the file's metadata.
func (w *Writer) Finish() (FileMetadata, error) {
	if !w.dataBuf.Empty() {
		if err := w.flushDataBlock(w.largest); err != nil {
			return FileMetadata{}, err
		}
	}
	if w.pendingIndexKey != nil {
		var handleBuf [16]byte
		w.pendingHandle.encode(handleBuf[:])
		w.index.Add(w.pendingIndexKey, append([]byte(nil), handleBuf[:]...))
		w.pendingIndexKey = nil
	}

	filter := bloom.Build(w.keys, w.bitsPerKey)
	filterBytes := filter.Encode()
	fn, err := w.file.Append(filterBytes)
	if err != nil {
		return FileMetadata{}, errors.Wrap(err, "sstable: write bloom block")
	}
	bloomHandle := Handle{Offset: uint64(w.offset), Size: uint64(fn)}
	w.offset += int64(fn)

	indexBytes := w.index.Finish()
	in, err := w.file.Append(indexBytes)
	if err != nil {
		return FileMetadata{}, errors.Wrap(err, "sstable: write index block")
	}
	indexHandle := Handle{Offset: uint64(w.offset), Size: uint64(in)}
	w.offset += int64(in)

	footer := make([]byte, footerSize)
	bloomHandle.encode(footer[0:16])
	indexHandle.encode(footer[16:32])
	binary.LittleEndian.PutUint64(footer[32:40], Magic)
	if _, err := w.file.Append(footer); err != nil {
		return FileMetadata{}, errors.Wrap(err, "sstable: write footer")
	}
	w.offset += footerSize

	if err := w.file.Sync(); err != nil {
		return FileMetadata{}, errors.Wrap(err, "sstable: sync")
	}

	return FileMetadata{
		Size:     w.offset,
		Smallest: w.smallest,
		Largest:  w.largest,
	}, nil
}
