// Package block
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

// Package block implements the data block format shared by every SSTable:
// entries in ascending internal-key order, prefix-compressed against a
// restart point every N entries, with a trailing array of restart offsets.
package block

import (
	"encoding/binary"

	"github.com/willzeng274/MidDB/ikey"
)

// Writer accumulates entries for a single data block.
type Writer struct {
	restartInterval int
	nEntries        int
	buf             []byte
	restarts        []uint32
	lastKey         ikey.Key
}

// NewWriter creates a block writer that restarts full keys every
// restartInterval entries.
func NewWriter(restartInterval int) *Writer {
	if restartInterval <= 0 {
		restartInterval = 16
	}
	return &Writer{restartInterval: restartInterval}
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Add appends an entry. Keys must arrive in ascending order (ikey.Compare).
func (w *Writer) Add(key ikey.Key, value []byte) {
	shared := 0
	if w.nEntries%w.restartInterval == 0 {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		shared = sharedPrefixLen(key, w.lastKey)
	}
	nonShared := len(key) - shared

	var tmp [binary.MaxVarintLen64 * 3]byte
	n := binary.PutUvarint(tmp[:], uint64(shared))
	n += binary.PutUvarint(tmp[n:], uint64(nonShared))
	n += binary.PutUvarint(tmp[n:], uint64(len(value)))

	w.buf = append(w.buf, tmp[:n]...)
	w.buf = append(w.buf, key[shared:]...)
	w.buf = append(w.buf, value...)

	w.lastKey = key.Clone()
	w.nEntries++
}

// EstimatedSize returns the current encoded size including the restart
// trailer, used by the SSTable writer to decide when to roll a new block.
func (w *Writer) EstimatedSize() int {
	return len(w.buf) + 4*(len(w.restarts)+1)
}

// Empty reports whether any entries have been added since the last reset.
func (w *Writer) Empty() bool { return w.nEntries == 0 }

// Finish serializes the block: entries followed by restart offsets and a
// trailing restart count.
func (w *Writer) Finish() []byte {
	restarts := w.restarts
	if len(restarts) == 0 {
		restarts = []uint32{0}
	}
	var tmp [4]byte
	for _, r := range restarts {
		binary.LittleEndian.PutUint32(tmp[:], r)
		w.buf = append(w.buf, tmp[:]...)
	}
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(restarts)))
	w.buf = append(w.buf, tmp[:]...)
	return w.buf
}

// Reset clears the writer so it can build the next block.
func (w *Writer) Reset() {
	w.nEntries = 0
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
	w.lastKey = nil
}

// Iterator walks a fully-encoded block.
type Iterator struct {
	data        []byte
	restarts    int // byte offset where the restart array begins
	numRestarts int

	offset     int
	nextOffset int
	key        ikey.Key
	val        []byte
	valid      bool
}

// NewIterator parses block data (as produced by Writer.Finish) and returns
// an iterator positioned before the first entry.
func NewIterator(data []byte) (*Iterator, error) {
	if len(data) < 4 {
		return nil, errTruncatedBlock
	}
	numRestarts := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	if numRestarts <= 0 {
		return nil, errTruncatedBlock
	}
	restarts := len(data) - 4*(1+numRestarts)
	if restarts < 0 {
		return nil, errTruncatedBlock
	}
	return &Iterator{data: data, restarts: restarts, numRestarts: numRestarts}, nil
}

func (it *Iterator) restartOffset(i int) int {
	return int(binary.LittleEndian.Uint32(it.data[it.restarts+4*i:]))
}

// readEntryAt decodes the entry at byte offset off, given the key that was
// current just before it (for prefix expansion), returning the decoded key,
// value, and the offset immediately following the entry.
func (it *Iterator) readEntryAt(off int, prevKey ikey.Key) (ikey.Key, []byte, int, error) {
	buf := it.data[off:]
	shared, n1 := binary.Uvarint(buf)
	if n1 <= 0 {
		return nil, nil, 0, errTruncatedBlock
	}
	buf = buf[n1:]
	nonShared, n2 := binary.Uvarint(buf)
	if n2 <= 0 {
		return nil, nil, 0, errTruncatedBlock
	}
	buf = buf[n2:]
	valLen, n3 := binary.Uvarint(buf)
	if n3 <= 0 {
		return nil, nil, 0, errTruncatedBlock
	}
	buf = buf[n3:]

	if uint64(len(buf)) < nonShared+valLen {
		return nil, nil, 0, errTruncatedBlock
	}

	key := make(ikey.Key, 0, shared+nonShared)
	if shared > 0 {
		if prevKey == nil || uint64(len(prevKey)) < shared {
			return nil, nil, 0, errTruncatedBlock
		}
		key = append(key, prevKey[:shared]...)
	}
	key = append(key, buf[:nonShared]...)
	val := buf[nonShared : nonShared+valLen]

	consumed := n1 + n2 + n3 + int(nonShared) + int(valLen)
	return key, val, off + consumed, nil
}

// First positions the iterator at the block's first entry.
func (it *Iterator) First() error {
	it.offset = 0
	key, val, next, err := it.readEntryAt(0, nil)
	if err != nil {
		it.valid = false
		return err
	}
	it.key, it.val, it.nextOffset, it.valid = key, val, next, true
	return nil
}

// Next advances to the next entry, returning false at end of block.
func (it *Iterator) Next() bool {
	if !it.valid || it.nextOffset >= it.restarts {
		it.valid = false
		return false
	}
	key, val, next, err := it.readEntryAt(it.nextOffset, it.key)
	if err != nil {
		it.valid = false
		return false
	}
	it.offset, it.key, it.val, it.nextOffset = it.nextOffset, key, val, next
	return true
}

// SeekGE positions the iterator at the first entry whose key is >= target,
// via binary search over restart points followed by a linear scan.
func (it *Iterator) SeekGE(target ikey.Key) error {
	index := sort32Search(it.numRestarts, func(j int) bool {
		off := it.restartOffset(j)
		key, _, _, err := it.readEntryAt(off, nil)
		if err != nil {
			return true
		}
		return ikey.Compare(key, target) > 0
	})

	startOffset := 0
	if index > 0 {
		startOffset = it.restartOffset(index - 1)
	}

	var prev ikey.Key
	off := startOffset
	for off < it.restarts {
		key, val, next, err := it.readEntryAt(off, prev)
		if err != nil {
			it.valid = false
			return err
		}
		if ikey.Compare(key, target) >= 0 {
			it.offset, it.key, it.val, it.nextOffset, it.valid = off, key, val, next, true
			return nil
		}
		prev = key
		off = next
	}
	it.valid = false
	return nil
}

func sort32Search(n int, f func(int) bool) int {
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if f(mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current entry's internal key.
func (it *Iterator) Key() ikey.Key { return it.key }

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.val }

var errTruncatedBlock = blockError("block: truncated or corrupt data block")

type blockError string

func (e blockError) Error() string { return string(e) }
