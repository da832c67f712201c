// Package wal
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
package wal

import (
	"testing"

	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/storage"
)

func TestAppendReplayRoundTrip(t *testing.T) {
	backend := storage.NewMemBackend()
	f, err := backend.Create("000001.wal")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	w := NewWriter(f)

	batches := []struct {
		seq     uint64
		entries []Entry
	}{
		{1, []Entry{{Kind: ikey.KindPut, Key: []byte("a"), Value: []byte("1")}}},
		{2, []Entry{
			{Kind: ikey.KindPut, Key: []byte("b"), Value: []byte("2")},
			{Kind: ikey.KindDelete, Key: []byte("a")},
		}},
	}
	for _, b := range batches {
		if err := w.Append(b.seq, b.entries); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	var got []Batch
	err = Replay(f, nil, func(b Batch) error {
		got = append(got, b)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(got) != len(batches) {
		t.Fatalf("Replay() produced %d batches, want %d", len(got), len(batches))
	}
	for i, b := range got {
		if b.Sequence != batches[i].seq {
			t.Fatalf("batch %d sequence = %d, want %d", i, b.Sequence, batches[i].seq)
		}
		if len(b.Entries) != len(batches[i].entries) {
			t.Fatalf("batch %d has %d entries, want %d", i, len(b.Entries), len(batches[i].entries))
		}
		for j, e := range b.Entries {
			want := batches[i].entries[j]
			if e.Kind != want.Kind || string(e.Key) != string(want.Key) || string(e.Value) != string(want.Value) {
				t.Fatalf("batch %d entry %d = %+v, want %+v", i, j, e, want)
			}
		}
	}
}

func TestReplayToleratesTornTailRecord(t *testing.T) {
	backend := storage.NewMemBackend()
	f, err := backend.Create("000001.wal")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	w := NewWriter(f)

	if err := w.Append(1, []Entry{{Kind: ikey.KindPut, Key: []byte("a"), Value: []byte("1")}}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w.Append(2, []Entry{{Kind: ikey.KindPut, Key: []byte("b"), Value: []byte("2")}}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Simulate a crash mid-write to the second record: truncate it so its
	// declared length runs past the end of the file.
	full, _ := f.Size()
	buf := make([]byte, full-4)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	backend.Remove("000001.wal")
	tf, err := backend.Create("000001.wal")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := tf.Append(buf); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	var got []Batch
	err = Replay(tf, nil, func(b Batch) error {
		got = append(got, b)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() on a torn tail should not return an error, got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Replay() recovered %d batches, want exactly the one complete record before the tear", len(got))
	}
	if got[0].Sequence != 1 {
		t.Fatalf("Replay() recovered sequence %d, want 1", got[0].Sequence)
	}
}

func TestReplayStopsHandlerError(t *testing.T) {
	backend := storage.NewMemBackend()
	f, _ := backend.Create("000001.wal")
	w := NewWriter(f)
	w.Append(1, []Entry{{Kind: ikey.KindPut, Key: []byte("a"), Value: []byte("1")}})
	w.Append(2, []Entry{{Kind: ikey.KindPut, Key: []byte("b"), Value: []byte("2")}})

	wantErr := errCorruptRecord
	count := 0
	err := Replay(f, nil, func(b Batch) error {
		count++
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Replay() error = %v, want %v propagated from handler", err, wantErr)
	}
	if count != 1 {
		t.Fatalf("handler called %d times, want exactly 1 before the error stopped replay", count)
	}
}
