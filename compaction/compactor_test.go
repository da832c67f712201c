// Package compaction
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
package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/storage"
	"github.com/willzeng274/MidDB/version"
)

func TestCompactorDrainsL0OnTrigger(t *testing.T) {
	backend := storage.NewMemBackend()
	dirname := "db"
	backend.MkdirAll(dirname)

	vs := version.New(dirname, backend, nil)
	if err := vs.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	type entry = struct {
		key   string
		seq   uint64
		kind  ikey.Kind
		value string
	}
	for i := 0; i < 4; i++ {
		num := vs.NextFileNumber()
		meta := writeTable(t, backend, dirname, version.SSTableFileName(num), []entry{
			{"k", uint64(i + 1), ikey.KindPut, "v"},
		})
		meta.FileNum = num
		if _, err := vs.LogAndApply(&version.Edit{NewFiles: []version.NewFileEntry{{Level: 0, Meta: meta}}}); err != nil {
			t.Fatalf("LogAndApply() error = %v", err)
		}
	}

	params := Params{Dirname: dirname, Backend: backend, BlockSize: 256, BlockRestartInterval: 8, BloomBitsPerKey: 10, MaxSSTableSize: 1 << 20}
	c := New(vs, params, 4, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	c.Trigger()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v := vs.Current()
		drained := len(v.Files[0]) == 0 && len(v.Files[1]) > 0
		vs.ReleaseVersion(v)
		if drained {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	c.Wait()

	v := vs.Current()
	defer vs.ReleaseVersion(v)
	if len(v.Files[0]) != 0 {
		t.Fatalf("L0 still has %d files after the compactor should have drained it", len(v.Files[0]))
	}
	if len(v.Files[1]) == 0 {
		t.Fatal("compaction never produced an L1 output")
	}
}
