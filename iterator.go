// Package middb
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
package middb

import (
	"container/heap"

	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/sstable"
	"github.com/willzeng274/MidDB/version"
)

// keyValueSource is the shape both memtable.Iterator and sstable.Iterator
// already share: Next advances and reports validity, Key/Value read the
// current entry without moving it.
type keyValueSource interface {
	Valid() bool
	Next() bool
	Key() ikey.Key
	Value() []byte
}

type iterHeapItem struct {
	src keyValueSource
}

type iterHeap []iterHeapItem

func (h iterHeap) Len() int            { return len(h) }
func (h iterHeap) Less(i, j int) bool  { return ikey.Less(h[i].src.Key(), h[j].src.Key()) }
func (h iterHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *iterHeap) Push(x interface{}) { *h = append(*h, x.(iterHeapItem)) }
func (h *iterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Iterator walks the database's committed key space in ascending user-key
// order as of the sequence number captured when it was created, merging
// the active MemTable, any immutable MemTables still awaiting flush, and
// every level's SSTables. It generalizes the teacher engine's single
// flat key space into the multi-source, multi-level merge a leveled LSM
// tree requires.
type Iterator struct {
	db  *DB
	seq uint64
	v   *version.Version

	tables []*sstable.Reader
	heap   iterHeap

	lastUserKey []byte
	haveLast    bool

	curKey   []byte
	curVal   []byte
	valid    bool
	released bool
}

// NewIterator returns an iterator over a consistent snapshot of the
// database taken at call time. Callers must call Close when done.
func (db *DB) NewIterator() *Iterator {
	mem, imm, v, seq := db.snapshot()

	it := &Iterator{db: db, seq: seq, v: v}

	addSource := func(s keyValueSource, ok bool) {
		if ok {
			it.heap = append(it.heap, iterHeapItem{src: s})
		}
	}

	m := mem.NewIterator()
	addSource(m, m.First())
	for i := len(imm) - 1; i >= 0; i-- {
		mi := imm[i].NewIterator()
		addSource(mi, mi.First())
	}

	for level := 0; level < version.NumLevels; level++ {
		for _, meta := range v.Files[level] {
			reader, err := db.getTable(meta.FileNum)
			if err != nil {
				continue
			}
			it.tables = append(it.tables, reader)
			si := reader.NewIter()
			addSource(si, si.First())
		}
	}

	heap.Init(&it.heap)
	return it
}

// First positions the iterator at the smallest visible key.
func (it *Iterator) First() bool {
	return it.advance()
}

// Next advances to the next distinct, visible user key.
func (it *Iterator) Next() bool {
	return it.advance()
}

// advance pops entries from the merge heap until it finds the newest
// version of some user key that is visible at it.seq and is not a
// tombstone, or the heap is exhausted.
func (it *Iterator) advance() bool {
	for it.heap.Len() > 0 {
		top := it.heap[0].src
		key := top.Key()
		value := append([]byte(nil), top.Value()...)
		userKey := append([]byte(nil), key.UserKey()...)
		seq := key.Sequence()
		kind := key.Kind()

		if top.Next() {
			heap.Fix(&it.heap, 0)
		} else {
			heap.Pop(&it.heap)
		}

		if seq > it.seq {
			continue // written after this iterator's snapshot
		}
		if it.haveLast && string(userKey) == string(it.lastUserKey) {
			continue // superseded version of a key already resolved
		}
		it.lastUserKey = userKey
		it.haveLast = true

		if kind == ikey.KindDelete {
			continue // tombstone is the newest version: key is absent
		}

		it.curKey = userKey
		it.curVal = value
		it.valid = true
		return true
	}
	it.valid = false
	return false
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current entry's user key.
func (it *Iterator) Key() []byte { return it.curKey }

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.curVal }

// Close releases the Version snapshot this iterator was reading from. It
// must be called exactly once.
func (it *Iterator) Close() error {
	if it.released {
		return nil
	}
	it.released = true
	it.db.versions.ReleaseVersion(it.v)
	return nil
}
