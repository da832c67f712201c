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

// Package middb is an embedded, ordered key-value store with an LSM-tree
// storage engine: a write-ahead log for durability, MemTables backed by a
// skip list, leveled SSTables, and snapshot-isolated transactions. It is a
// generalization of the teacher engine's single-file, pairwise-merge
// design into multiple levels with overlap-aware compaction.
package middb

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/willzeng274/MidDB/compaction"
	"github.com/willzeng274/MidDB/committedwrites"
	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/memtable"
	"github.com/willzeng274/MidDB/metrics"
	"github.com/willzeng274/MidDB/sstable"
	"github.com/willzeng274/MidDB/storage"
	"github.com/willzeng274/MidDB/version"
	"github.com/willzeng274/MidDB/wal"
)

func walFileName(n uint64) string {
	return fmt.Sprintf("%06d.log", n)
}

// openTable is a cached, already-opened SSTable reader, kept alive for the
// database's lifetime instead of reopening a file on every lookup.
type openTable struct {
	file   storage.File
	reader *sstable.Reader
}

// DB is a single open MidDB database.
type DB struct {
	dirname string
	opts    Options
	backend storage.Backend
	lock    io.Closer
	metrics *metrics.Collector

	versions *version.Set

	// mu serializes every mutation: Put, Delete, Txn.Commit, and the
	// MemTable-switch side of a flush all run with mu held. Reads only
	// hold mu long enough to snapshot mem/imm/current version.
	mu        sync.Mutex
	mem       *memtable.MemTable
	imm       []*memtable.MemTable
	walWriter *wal.Writer
	walFile   storage.File
	logNumber uint64

	committed *committedwrites.Tracker

	snapMu     sync.Mutex
	openSnaps  map[uint64]int
	flushTrig  chan struct{}
	compactor  *compaction.Compactor
	tablesMu   sync.Mutex
	tables     map[uint64]*openTable
	ctx        context.Context
	cancel     context.CancelFunc
	group      *errgroup.Group
	closed     int32
}

// Stats is a point-in-time snapshot of engine health, also fed into the
// Prometheus collector when one is configured.
type Stats struct {
	MemtableBytes   int64
	MemtableEntries int
	ImmutableCount  int
	LevelFileCount  [version.NumLevels]int
	LevelBytes      [version.NumLevels]int64
	LastSequence    uint64
}

// Open opens (or creates) a database rooted at dir.
func Open(dir string, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	backend := storage.NewFileBackend()
	if err := backend.MkdirAll(dir); err != nil {
		return nil, err
	}
	lock, err := backend.Lock(dir)
	if err != nil {
		return nil, errors.Wrap(ErrLockFailure, err.Error())
	}

	vs := version.New(dir, backend, opts.Logger)
	fresh := !currentFileExists(backend, dir)
	if fresh {
		if err := vs.Bootstrap(); err != nil {
			lock.Close()
			return nil, err
		}
	} else if err := vs.Recover(); err != nil {
		lock.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	db := &DB{
		dirname:   dir,
		opts:      opts,
		backend:   backend,
		lock:      lock,
		metrics:   metrics.New(opts.MetricsRegisterer),
		versions:  vs,
		mem:       memtable.New(),
		committed: committedwrites.New(),
		openSnaps: make(map[uint64]int),
		flushTrig: make(chan struct{}, 1),
		tables:    make(map[uint64]*openTable),
		ctx:       gctx,
		cancel:    cancel,
		group:     group,
	}
	vs.Reclaim = db.reclaimFiles

	logNum := vs.LogNumber()
	walPath := filepath.Join(dir, walFileName(logNum))
	var walFile storage.File
	if fresh {
		walFile, err = backend.Create(walPath)
	} else {
		walFile, err = backend.Open(walPath)
	}
	if err != nil {
		lock.Close()
		return nil, err
	}
	db.walFile = walFile
	db.logNumber = logNum

	if !fresh {
		replayErr := wal.Replay(walFile, opts.Logger, func(b wal.Batch) error {
			for i, e := range b.Entries {
				seq := b.Sequence + uint64(i)
				var val []byte
				if e.Kind != ikey.KindDelete {
					val = e.Value
				}
				db.mem.Insert(ikey.Make(e.Key, seq, e.Kind), val)
				db.committed.Record(e.Key, seq)
				vs.SetLastSequence(seq)
			}
			return nil
		})
		if replayErr != nil {
			lock.Close()
			return nil, errors.Wrap(replayErr, "middb: wal replay")
		}
	}
	db.walWriter = wal.NewWriter(walFile)

	db.compactor = compaction.New(vs, compaction.Params{
		Dirname:              dir,
		Backend:              backend,
		BlockSize:            opts.BlockSize,
		BlockRestartInterval: opts.BlockRestartInterval,
		BloomBitsPerKey:      opts.BloomBitsPerKey,
		MaxSSTableSize:       opts.MaxSSTableSize,
	}, opts.L0CompactionTrigger, opts.MaxConcurrentCompactions, opts.Logger)
	db.compactor.MinSnapshotSequence = db.minOpenSnapshot

	if opts.BackgroundCompaction {
		db.compactor.Start(gctx)
	}
	db.group.Go(func() error {
		db.flushLoop()
		return nil
	})

	return db, nil
}

func currentFileExists(backend storage.Backend, dir string) bool {
	f, err := backend.Open(filepath.Join(dir, "CURRENT"))
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Close flushes no pending writes (callers should ensure durability via
// WALSyncMode before calling Close) and shuts down background work.
func (db *DB) Close() error {
	if !atomic.CompareAndSwapInt32(&db.closed, 0, 1) {
		return ErrAlreadyClosed
	}
	db.cancel()
	db.compactor.Wait()
	_ = db.group.Wait()

	db.tablesMu.Lock()
	for _, t := range db.tables {
		t.file.Close()
	}
	db.tablesMu.Unlock()

	if err := db.walFile.Close(); err != nil {
		db.lock.Close()
		return err
	}
	return db.lock.Close()
}

func (db *DB) isClosed() bool {
	return atomic.LoadInt32(&db.closed) == 1
}

// Put writes key=value, durable once Put returns (subject to WALSyncMode).
func (db *DB) Put(key, value []byte) error {
	if len(key) == 0 {
		return errors.Wrap(ErrInvalidArgument, "middb: empty key")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.isClosed() {
		return ErrAlreadyClosed
	}
	_, err := db.writeLocked([]wal.Entry{{Kind: ikey.KindPut, Key: key, Value: value}})
	return err
}

// Delete removes key, recording a tombstone until compaction drops it.
func (db *DB) Delete(key []byte) error {
	if len(key) == 0 {
		return errors.Wrap(ErrInvalidArgument, "middb: empty key")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.isClosed() {
		return ErrAlreadyClosed
	}
	_, err := db.writeLocked([]wal.Entry{{Kind: ikey.KindDelete, Key: key}})
	return err
}

// Get returns the value for key as of the current committed state, or
// ErrNotFound if it has no live value.
func (db *DB) Get(key []byte) ([]byte, error) {
	mem, imm, v, seq := db.snapshot()
	defer db.versions.ReleaseVersion(v)

	if val, res := mem.Get(key, seq); res != memtable.NotFound {
		return resultValue(val, res)
	}
	for i := len(imm) - 1; i >= 0; i-- {
		if val, res := imm[i].Get(key, seq); res != memtable.NotFound {
			return resultValue(val, res)
		}
	}
	return db.getFromLevels(key, seq, v)
}

// getFromLevels searches L0 (newest file first, since L0 files may
// overlap) then each disjoint, sorted level below it via binary search.
func (db *DB) getFromLevels(key []byte, seq uint64, v *version.Version) ([]byte, error) {
	for i := len(v.Files[0]) - 1; i >= 0; i-- {
		val, found, tombstone, err := db.lookupInTable(v.Files[0][i].FileNum, key, seq)
		if err != nil {
			return nil, err
		}
		if found {
			if tombstone {
				return nil, ErrNotFound
			}
			return val, nil
		}
	}

	for level := 1; level < version.NumLevels; level++ {
		files := v.Files[level]
		lo, hi := 0, len(files)
		for lo < hi {
			mid := (lo + hi) / 2
			if string(files[mid].Largest.UserKey()) >= string(key) {
				hi = mid
			} else {
				lo = mid + 1
			}
		}
		if lo == len(files) || string(files[lo].Smallest.UserKey()) > string(key) {
			continue
		}
		val, found, tombstone, err := db.lookupInTable(files[lo].FileNum, key, seq)
		if err != nil {
			return nil, err
		}
		if found {
			if tombstone {
				return nil, ErrNotFound
			}
			return val, nil
		}
	}

	return nil, ErrNotFound
}

func resultValue(val []byte, res memtable.LookupResult) ([]byte, error) {
	if res == memtable.Deleted {
		return nil, ErrNotFound
	}
	return val, nil
}

func (db *DB) lookupInTable(fileNum uint64, key []byte, seq uint64) (value []byte, found, tombstone bool, err error) {
	reader, err := db.getTable(fileNum)
	if err != nil {
		return nil, false, false, err
	}
	return reader.Get(key, seq)
}

func (db *DB) getTable(fileNum uint64) (*sstable.Reader, error) {
	db.tablesMu.Lock()
	defer db.tablesMu.Unlock()
	if t, ok := db.tables[fileNum]; ok {
		return t.reader, nil
	}
	f, err := db.backend.Open(filepath.Join(db.dirname, version.SSTableFileName(fileNum)))
	if err != nil {
		return nil, errors.Wrapf(err, "middb: open table %d", fileNum)
	}
	reader, err := sstable.Open(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "middb: read table %d", fileNum)
	}
	db.tables[fileNum] = &openTable{file: f, reader: reader}
	return reader, nil
}

// reclaimFiles is the version.Set.Reclaim hook: it evicts any open table
// handle and deletes the file from disk. Called only once a Version's
// refcount confirms no in-flight read can still touch these files.
func (db *DB) reclaimFiles(fileNums []uint64) {
	db.tablesMu.Lock()
	for _, n := range fileNums {
		if t, ok := db.tables[n]; ok {
			t.file.Close()
			delete(db.tables, n)
		}
	}
	db.tablesMu.Unlock()
	for _, n := range fileNums {
		_ = db.backend.Remove(filepath.Join(db.dirname, version.SSTableFileName(n)))
	}
}

// snapshot captures a consistent view of the write path's mutable state:
// the active MemTable, the immutable queue, the current Version (returned
// referenced — callers must release it), and the sequence number visible
// to reads starting now.
func (db *DB) snapshot() (mem *memtable.MemTable, imm []*memtable.MemTable, v *version.Version, seq uint64) {
	db.mu.Lock()
	mem = db.mem
	imm = append([]*memtable.MemTable(nil), db.imm...)
	seq = db.versions.LastSequence()
	db.mu.Unlock()
	v = db.versions.Current()
	return
}

// snapshotAt is like snapshot but pins the returned sequence number to a
// caller-supplied value instead of the database's current last sequence,
// for transactional reads at a fixed snapshot.
func (db *DB) snapshotAt(seq uint64) (mem *memtable.MemTable, imm []*memtable.MemTable, v *version.Version, _ uint64) {
	db.mu.Lock()
	mem = db.mem
	imm = append([]*memtable.MemTable(nil), db.imm...)
	db.mu.Unlock()
	v = db.versions.Current()
	return mem, imm, v, seq
}

// writeLocked assumes db.mu is held. It assigns a contiguous sequence
// range to entries, appends them to the WAL as a single record, and
// inserts them into the active MemTable.
func (db *DB) writeLocked(entries []wal.Entry) (uint64, error) {
	if err := db.makeRoomForWriteLocked(); err != nil {
		return 0, err
	}

	seq := db.allocateSequenceLocked(len(entries))
	if err := db.walWriter.Append(seq, entries); err != nil {
		return 0, errors.Wrap(err, "middb: wal append")
	}
	if db.opts.WALSyncMode == SyncAlways {
		if err := db.walWriter.Sync(); err != nil {
			return 0, errors.Wrap(err, "middb: wal sync")
		}
	}

	for i, e := range entries {
		s := seq + uint64(i)
		var val []byte
		if e.Kind != ikey.KindDelete {
			val = e.Value
		}
		db.mem.Insert(ikey.Make(e.Key, s, e.Kind), val)
		db.committed.Record(e.Key, s)
	}
	db.committed.Prune(db.minOpenSnapshot())
	db.metrics.SetMemtableStats(db.mem.ApproximateSize(), db.mem.Len())

	return seq + uint64(len(entries)) - 1, nil
}

// allocateSequenceLocked assumes db.mu is held, which is what makes the
// read-then-write below race-free despite version.Set also exposing
// LastSequence to concurrent readers.
func (db *DB) allocateSequenceLocked(n int) uint64 {
	start := db.versions.LastSequence() + 1
	db.versions.SetLastSequence(start + uint64(n) - 1)
	return start
}

// makeRoomForWriteLocked assumes db.mu is held. If the active MemTable has
// grown past its size limit, it is frozen and queued for flush, and a new
// MemTable and WAL segment take its place.
func (db *DB) makeRoomForWriteLocked() error {
	if db.mem.ApproximateSize() < db.opts.MemtableSizeLimit {
		return nil
	}

	db.mem.Freeze()
	db.imm = append(db.imm, db.mem)
	db.mem = memtable.New()

	newLogNum := db.versions.NextFileNumber()
	f, err := db.backend.Create(filepath.Join(db.dirname, walFileName(newLogNum)))
	if err != nil {
		return errors.Wrap(err, "middb: create wal segment")
	}
	oldFile := db.walFile
	db.walFile = f
	db.walWriter = wal.NewWriter(f)
	db.logNumber = newLogNum
	db.versions.RotateLog(newLogNum)
	go oldFile.Close()

	select {
	case db.flushTrig <- struct{}{}:
	default:
	}
	return nil
}

func (db *DB) minOpenSnapshot() uint64 {
	db.snapMu.Lock()
	defer db.snapMu.Unlock()
	min := db.versions.LastSequence()
	for seq := range db.openSnaps {
		if seq < min {
			min = seq
		}
	}
	return min
}

func (db *DB) acquireSnapshot(seq uint64) {
	db.snapMu.Lock()
	db.openSnaps[seq]++
	db.snapMu.Unlock()
}

func (db *DB) releaseSnapshot(seq uint64) {
	db.snapMu.Lock()
	db.openSnaps[seq]--
	if db.openSnaps[seq] <= 0 {
		delete(db.openSnaps, seq)
	}
	db.snapMu.Unlock()
}

// flushLoop is the background worker that drains db.imm, one MemTable at a
// time, into new L0 SSTables.
func (db *DB) flushLoop() {
	for {
		select {
		case <-db.ctx.Done():
			return
		case <-db.flushTrig:
			for db.flushOne() {
			}
		}
	}
}

// flushOne flushes the oldest immutable MemTable, if any, returning true
// if it did (so the caller can loop to drain a backlog).
func (db *DB) flushOne() bool {
	db.mu.Lock()
	if len(db.imm) == 0 {
		db.mu.Unlock()
		return false
	}
	table := db.imm[0]
	db.mu.Unlock()

	fileNum := db.versions.NextFileNumber()
	f, err := db.backend.Create(filepath.Join(db.dirname, version.SSTableFileName(fileNum)))
	if err != nil {
		db.logError("flush: create output file", err)
		return false
	}
	w := sstable.NewWriter(f, db.opts.BlockSize, db.opts.BlockRestartInterval, db.opts.BloomBitsPerKey)

	it := table.NewIterator()
	for ok := it.First(); ok; ok = it.Next() {
		if err := w.Add(it.Key(), it.Value()); err != nil {
			db.logError("flush: write entry", err)
			f.Close()
			return false
		}
	}
	meta, err := w.Finish()
	if err != nil {
		db.logError("flush: finish output file", err)
		f.Close()
		return false
	}
	f.Close()
	meta.FileNum = fileNum
	meta.Level = 0

	edit := &version.Edit{NewFiles: []version.NewFileEntry{{Level: 0, Meta: meta}}}
	if _, err := db.versions.LogAndApply(edit); err != nil {
		db.logError("flush: install version edit", err)
		return false
	}

	db.mu.Lock()
	db.imm = db.imm[1:]
	db.mu.Unlock()

	db.compactor.Trigger()
	return true
}

func (db *DB) logError(msg string, err error) {
	if db.opts.Logger != nil {
		db.opts.Logger.WithError(err).Error("middb: " + msg)
	}
}

// Stats reports a point-in-time snapshot of engine health.
func (db *DB) Stats() Stats {
	db.mu.Lock()
	s := Stats{
		MemtableBytes:   db.mem.ApproximateSize(),
		MemtableEntries: db.mem.Len(),
		ImmutableCount:  len(db.imm),
		LastSequence:    db.versions.LastSequence(),
	}
	db.mu.Unlock()

	v := db.versions.Current()
	defer db.versions.ReleaseVersion(v)
	for level := 0; level < version.NumLevels; level++ {
		s.LevelFileCount[level] = len(v.Files[level])
		s.LevelBytes[level] = v.LevelSize(level)
		db.metrics.SetLevelStats(level, s.LevelFileCount[level], s.LevelBytes[level])
	}
	return s
}
