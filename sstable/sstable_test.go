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
package sstable

import (
	"fmt"
	"testing"

	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/storage"
)

func buildTable(t *testing.T, n int) (*Reader, []ikey.Key, storage.Backend) {
	t.Helper()
	backend := storage.NewMemBackend()
	f, err := backend.Create("000001.sst")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	w := NewWriter(f, 256, 8, bloomBitsPerKeyForTest)

	keys := make([]ikey.Key, n)
	for i := 0; i < n; i++ {
		k := ikey.Make([]byte(fmt.Sprintf("key-%05d", i)), uint64(i+1), ikey.KindPut)
		keys[i] = k
		if err := w.Add(k, []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if _, err := w.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	rf, err := backend.Open("000001.sst")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	reader, err := Open(rf)
	if err != nil {
		t.Fatalf("sstable.Open() error = %v", err)
	}
	return reader, keys, backend
}

const bloomBitsPerKeyForTest = 10

func TestGetFindsEveryWrittenKey(t *testing.T) {
	reader, keys, _ := buildTable(t, 500)
	for i, k := range keys {
		val, found, tombstone, err := reader.Get(k.UserKey(), k.Sequence())
		if err != nil {
			t.Fatalf("Get(%q) error = %v", k.UserKey(), err)
		}
		if !found || tombstone {
			t.Fatalf("Get(%q) = found:%v tombstone:%v, want found", k.UserKey(), found, tombstone)
		}
		if string(val) != fmt.Sprintf("value-%d", i) {
			t.Fatalf("Get(%q) = %q, want value-%d", k.UserKey(), val, i)
		}
	}
}

func TestGetMissingKeyNotFound(t *testing.T) {
	reader, _, _ := buildTable(t, 100)
	_, found, _, err := reader.Get([]byte("does-not-exist"), 1000)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Fatal("Get() found a key that was never written")
	}
}

func TestGetRespectsSnapshotSequence(t *testing.T) {
	backend := storage.NewMemBackend()
	f, _ := backend.Create("000001.sst")
	w := NewWriter(f, 256, 8, 10)
	w.Add(ikey.Make([]byte("k"), 5, ikey.KindPut), []byte("v5"))
	w.Add(ikey.Make([]byte("k"), 1, ikey.KindPut), []byte("v1"))
	w.Finish()

	rf, _ := backend.Open("000001.sst")
	reader, err := Open(rf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	val, found, _, err := reader.Get([]byte("k"), 3)
	if err != nil || !found {
		t.Fatalf("Get(seq=3) = found:%v err:%v, want the version written at seq 1", found, err)
	}
	if string(val) != "v1" {
		t.Fatalf("Get(seq=3) = %q, want v1 (newest version visible at seq 3)", val)
	}

	val, found, _, err = reader.Get([]byte("k"), 10)
	if err != nil || !found {
		t.Fatalf("Get(seq=10) = found:%v err:%v", found, err)
	}
	if string(val) != "v5" {
		t.Fatalf("Get(seq=10) = %q, want v5", val)
	}
}

func TestGetOnTombstoneReportsDeleted(t *testing.T) {
	backend := storage.NewMemBackend()
	f, _ := backend.Create("000001.sst")
	w := NewWriter(f, 256, 8, 10)
	w.Add(ikey.Make([]byte("k"), 1, ikey.KindDelete), nil)
	w.Finish()

	rf, _ := backend.Open("000001.sst")
	reader, err := Open(rf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_, found, tombstone, err := reader.Get([]byte("k"), 5)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || !tombstone {
		t.Fatalf("Get() = found:%v tombstone:%v, want a visible tombstone", found, tombstone)
	}
}

func TestIteratorWalksAllEntriesAcrossBlocks(t *testing.T) {
	reader, keys, _ := buildTable(t, 400)
	it := reader.NewIter()
	count := 0
	for ok := it.First(); ok; ok = it.Next() {
		if ikey.Compare(it.Key(), keys[count]) != 0 {
			t.Fatalf("entry %d key = %q, want %q", count, it.Key(), keys[count])
		}
		count++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error = %v", err)
	}
	if count != len(keys) {
		t.Fatalf("iterator visited %d entries, want %d", count, len(keys))
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	backend := storage.NewMemBackend()
	f, _ := backend.Create("bad.sst")
	f.Append(make([]byte, footerSize))
	if _, err := Open(f); err == nil {
		t.Fatal("Open() on a footer with a zeroed magic number should fail")
	}
}

func TestFileMetadataOverlaps(t *testing.T) {
	m := FileMetadata{
		Smallest: ikey.Make([]byte("d"), 1, ikey.KindPut),
		Largest:  ikey.Make([]byte("m"), 1, ikey.KindPut),
	}
	if !m.Overlaps([]byte("a"), []byte("e")) {
		t.Fatal("range [a,e] should overlap file range [d,m]")
	}
	if m.Overlaps([]byte("n"), []byte("z")) {
		t.Fatal("range [n,z] should not overlap file range [d,m]")
	}
	if !m.Overlaps(nil, nil) {
		t.Fatal("a nil,nil range denotes unbounded and should always overlap")
	}
}
