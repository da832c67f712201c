// Package memtable
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

// Package memtable is the in-memory, ordered write buffer every put and
// delete lands in before it is durable in an SSTable. It mirrors the
// teacher engine's own memtable, which keeps a skip list keyed by encoded
// entry — this version sources the skip list from a library (the vendored
// sibling module the teacher depends on for its skip list is not part of
// this module's dependency graph) instead of a hand-rolled one.
package memtable

import (
	"sync/atomic"

	"github.com/huandu/skiplist"

	"github.com/willzeng274/MidDB/ikey"
)

func lessThan(lhs, rhs interface{}) bool {
	return ikey.Less(lhs.(ikey.Key), rhs.(ikey.Key))
}

// MemTable is a concurrent-safe sorted map from internal key to value.
type MemTable struct {
	list   *skiplist.SkipList
	size   int64 // approximate byte footprint
	frozen int32
}

// New creates an empty, writable MemTable.
func New() *MemTable {
	return &MemTable{list: skiplist.New(skiplist.LessThanFunc(lessThan))}
}

// Insert adds an entry. Callers must not insert into a frozen MemTable.
func (m *MemTable) Insert(key ikey.Key, value []byte) {
	m.list.Set(key, value)
	atomic.AddInt64(&m.size, int64(len(key)+len(value)))
}

// Lookup result states.
type LookupResult int

const (
	NotFound LookupResult = iota
	Found
	Deleted
)

// Get finds the newest version of userKey visible at atSequence. It looks
// only at the first entry that sorts at or after the lookup key; under
// ikey's descending-sequence ordering that entry is the newest version with
// sequence <= atSequence whenever userKey has one.
func (m *MemTable) Get(userKey []byte, atSequence uint64) (value []byte, result LookupResult) {
	target := ikey.LookupKey(userKey, atSequence)
	elem := m.list.Find(target)
	if elem == nil {
		return nil, NotFound
	}
	k := elem.Key().(ikey.Key)
	if string(k.UserKey()) != string(userKey) {
		return nil, NotFound
	}
	if k.Kind() == ikey.KindDelete {
		return nil, Deleted
	}
	return elem.Value.([]byte), Found
}

// ApproximateSize returns the accumulated byte footprint of all entries
// inserted so far.
func (m *MemTable) ApproximateSize() int64 {
	return atomic.LoadInt64(&m.size)
}

// Freeze marks the MemTable as immutable. After Freeze returns, Insert must
// not be called again.
func (m *MemTable) Freeze() {
	atomic.StoreInt32(&m.frozen, 1)
}

// Frozen reports whether Freeze has been called.
func (m *MemTable) Frozen() bool {
	return atomic.LoadInt32(&m.frozen) == 1
}

// Len returns the number of entries in the table.
func (m *MemTable) Len() int {
	return m.list.Len()
}

// Iterator walks the MemTable in ascending internal-key order. Its calling
// convention matches sstable.Iterator: First/Next move
// the cursor and report whether it landed on a valid entry; Key/Value read
// the current entry without moving it.
type Iterator struct {
	m    *MemTable
	elem *skiplist.Element
}

// NewIterator returns an iterator positioned before the first entry.
func (m *MemTable) NewIterator() *Iterator {
	return &Iterator{m: m}
}

// First positions the iterator at the first entry.
func (it *Iterator) First() bool {
	it.elem = it.m.list.Front()
	return it.elem != nil
}

// Next advances the iterator and reports whether it landed on an entry.
func (it *Iterator) Next() bool {
	if it.elem == nil {
		return false
	}
	it.elem = it.elem.Next()
	return it.elem != nil
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.elem != nil
}

// Key returns the current entry's internal key.
func (it *Iterator) Key() ikey.Key {
	return it.elem.Key().(ikey.Key)
}

// Value returns the current entry's value.
func (it *Iterator) Value() []byte {
	return it.elem.Value.([]byte)
}
