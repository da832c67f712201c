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

// Package storage is the capability-set file backend the rest of the engine
// runs on: flat-file positional reads/appends, directory-fsync-on-durability,
// atomic rename, and an advisory whole-directory lock. A memory-backed
// variant mirrors the same interface for tests.
package storage

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SyncTickInterval is how often the background syncer wakes to consider
// forcing a sync.
const SyncTickInterval = 1 * time.Second

// SyncEscalation is the maximum time a file may go without a sync once
// writes have happened, even below WriteThreshold.
const SyncEscalation = 5 * time.Second

// WriteThreshold is the number of unsynced appends after which the next
// tick forces a sync regardless of how recently one happened.
const WriteThreshold = 256

// Backend is the capability set every storage consumer (WAL, SSTable
// writer, manifest) programs against.
type Backend interface {
	Create(name string) (File, error)
	Open(name string) (File, error)
	Remove(name string) error
	RenameAtomic(oldname, newname string) error
	ListDir(dir string) ([]string, error)
	MkdirAll(dir string) error
	Lock(dir string) (io.Closer, error)
}

// File is a single open file within a Backend.
type File interface {
	io.ReaderAt
	io.Closer
	Append(p []byte) (n int, err error)
	Sync() error
	Size() (int64, error)
}

// FileBackend is the durable, disk-backed Backend implementation.
type FileBackend struct{}

// NewFileBackend returns the on-disk storage backend.
func NewFileBackend() *FileBackend { return &FileBackend{} }

func (b *FileBackend) Create(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: create %s", name)
	}
	return newSyncedFile(f), nil
}

func (b *FileBackend) Open(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open %s", name)
	}
	return newSyncedFile(f), nil
}

func (b *FileBackend) Remove(name string) error {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "storage: remove %s", name)
	}
	return nil
}

// RenameAtomic renames oldname to newname and fsyncs the containing
// directory so the rename itself survives a crash — the mechanism CURRENT
// repointing and manifest rollover both depend on.
func (b *FileBackend) RenameAtomic(oldname, newname string) error {
	if err := os.Rename(oldname, newname); err != nil {
		return errors.Wrapf(err, "storage: rename %s -> %s", oldname, newname)
	}
	return syncDir(filepath.Dir(newname))
}

func (b *FileBackend) ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: list %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (b *FileBackend) MkdirAll(dir string) error {
	return errors.Wrapf(os.MkdirAll(dir, 0755), "storage: mkdir %s", dir)
}

// dirLock is the handle returned by Lock; closing it releases the advisory
// lock and closes the file. The owner token stays in the LOCK file.
type dirLock struct {
	f *os.File
}

func (l *dirLock) Close() error {
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	return l.f.Close()
}

// Lock acquires the advisory LOCK file in dir, failing if another process
// already holds it. No ecosystem library in this corpus wraps flock, so
// this one leaf calls into syscall directly.
func (b *FileBackend) Lock(dir string) (io.Closer, error) {
	path := filepath.Join(dir, "LOCK")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open lock file %s", path)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.Wrap(ErrLockHeld, "storage: acquire lock")
	}
	owner := uuid.New().String()
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(owner), 0)
	return &dirLock{f: f}, nil
}

// ErrLockHeld is returned when the data directory is already locked by
// another process.
var ErrLockHeld = errors.New("storage: data directory is locked by another process")

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrapf(err, "storage: open dir %s for sync", dir)
	}
	defer d.Close()
	return d.Sync()
}

// syncedFile wraps *os.File with the teacher's own write-counter +
// escalation-timeout background sync policy, adapted from a page-chained
// file abstraction to a flat append-only one.
type syncedFile struct {
	mu           sync.Mutex
	f            *os.File
	offset       int64
	writeCounter int
	lastSync     time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

func newSyncedFile(f *os.File) *syncedFile {
	sf := &syncedFile{f: f, lastSync: time.Now(), stop: make(chan struct{})}
	if stat, err := f.Stat(); err == nil {
		sf.offset = stat.Size()
	}
	sf.wg.Add(1)
	go sf.backgroundSync()
	return sf
}

func (sf *syncedFile) backgroundSync() {
	defer sf.wg.Done()
	ticker := time.NewTicker(SyncTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sf.stop:
			return
		case <-ticker.C:
			sf.mu.Lock()
			if sf.writeCounter < WriteThreshold && time.Since(sf.lastSync) < SyncEscalation {
				sf.mu.Unlock()
				continue
			}
			writes := sf.writeCounter
			sf.mu.Unlock()
			if writes == 0 {
				continue
			}
			if err := sf.f.Sync(); err == nil {
				sf.mu.Lock()
				sf.writeCounter = 0
				sf.lastSync = time.Now()
				sf.mu.Unlock()
			}
		}
	}
}

func (sf *syncedFile) ReadAt(p []byte, off int64) (int, error) {
	return sf.f.ReadAt(p, off)
}

func (sf *syncedFile) Append(p []byte) (int, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	n, err := sf.f.WriteAt(p, sf.offset)
	if err != nil {
		return n, errors.Wrap(err, "storage: append")
	}
	sf.offset += int64(n)
	sf.writeCounter++
	return n, nil
}

func (sf *syncedFile) Sync() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if err := sf.f.Sync(); err != nil {
		return errors.Wrap(err, "storage: sync")
	}
	sf.writeCounter = 0
	sf.lastSync = time.Now()
	return nil
}

func (sf *syncedFile) Size() (int64, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.offset, nil
}

func (sf *syncedFile) Close() error {
	close(sf.stop)
	sf.wg.Wait()
	if err := sf.f.Sync(); err != nil {
		sf.f.Close()
		return errors.Wrap(err, "storage: sync on close")
	}
	return sf.f.Close()
}
