// Package storage
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
package storage

import (
	"path/filepath"
	"testing"
)

func TestFileBackendCreateAppendReadAt(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend()

	f, err := b.Create(filepath.Join(dir, "a.dat"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.Append([]byte("hello world")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, 6); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if string(buf) != "world" {
		t.Fatalf("ReadAt() = %q, want world", buf)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestFileBackendRenameAtomic(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend()

	oldPath := filepath.Join(dir, "old")
	newPath := filepath.Join(dir, "new")
	f, err := b.Create(oldPath)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.Close()

	if err := b.RenameAtomic(oldPath, newPath); err != nil {
		t.Fatalf("RenameAtomic() error = %v", err)
	}
	if _, err := b.Open(newPath); err != nil {
		t.Fatalf("Open(newPath) error = %v", err)
	}
	if _, err := b.Open(oldPath); err == nil {
		t.Fatal("Open(oldPath) should fail after rename")
	}
}

func TestFileBackendLockExcludesSecondLocker(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend()
	if err := b.MkdirAll(dir); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	lock, err := b.Lock(dir)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := b.Lock(dir); err == nil {
		t.Fatal("second Lock() on the same directory should fail")
	}
	if err := lock.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	relock, err := b.Lock(dir)
	if err != nil {
		t.Fatalf("Lock() after release should succeed, got %v", err)
	}
	relock.Close()
}

func TestMemBackendRoundTrip(t *testing.T) {
	b := NewMemBackend()
	f, err := b.Create("a.dat")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.Append([]byte("abc")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	buf := make([]byte, 3)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if string(buf) != "abc" {
		t.Fatalf("ReadAt() = %q, want abc", buf)
	}
}

func TestMemBackendListDirIsNonRecursive(t *testing.T) {
	b := NewMemBackend()
	b.Create("dir/a.dat")
	b.Create("dir/b.dat")
	b.Create("dir/sub/c.dat")

	names, err := b.ListDir("dir")
	if err != nil {
		t.Fatalf("ListDir() error = %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("ListDir() = %v, want exactly the two top-level files", names)
	}
}

func TestMemBackendLock(t *testing.T) {
	b := NewMemBackend()
	if _, err := b.Lock("db"); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := b.Lock("db"); err == nil {
		t.Fatal("second Lock() on the same directory should fail")
	}
}
