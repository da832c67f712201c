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
	"sync"

	"github.com/google/uuid"

	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/keyset"
	"github.com/willzeng274/MidDB/memtable"
	"github.com/willzeng274/MidDB/wal"
)

// pendingWrite is one buffered write_set entry: the latest operation a
// transaction has queued for a given user key, so repeated writes to the
// same key within one transaction collapse to the last one.
type pendingWrite struct {
	kind  ikey.Kind
	value []byte
}

// Txn is a snapshot-isolated transaction. Reads observe the database as of
// Begin's sequence number, overlaid with the transaction's own buffered
// writes; nothing is visible to other transactions until Commit succeeds.
type Txn struct {
	ID               uuid.UUID
	db               *DB
	snapshotSequence uint64

	mu       sync.Mutex
	readSet  *keyset.Set
	writeSet *keyset.Set
	pending  map[string]pendingWrite
	order    []string // write_set keys in first-write order, for deterministic commit

	done bool
}

// Begin starts a new transaction with a snapshot fixed at the database's
// current last sequence number.
func (db *DB) Begin() *Txn {
	db.mu.Lock()
	seq := db.versions.LastSequence()
	db.mu.Unlock()
	db.acquireSnapshot(seq)

	return &Txn{
		ID:               uuid.New(),
		db:               db,
		snapshotSequence: seq,
		readSet:          keyset.New(),
		writeSet:         keyset.New(),
		pending:          make(map[string]pendingWrite),
	}
}

// Get reads key within the transaction: the write_set first, then the
// database as of the transaction's snapshot sequence.
func (t *Txn) Get(key []byte) ([]byte, error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil, errTxnFinished
	}
	if w, ok := t.pending[string(key)]; ok {
		t.mu.Unlock()
		if w.kind == ikey.KindDelete {
			return nil, ErrNotFound
		}
		return w.value, nil
	}
	t.readSet.Add(key)
	t.mu.Unlock()

	return t.db.getAt(key, t.snapshotSequence)
}

// Put buffers a write, visible to this transaction's own subsequent Get
// calls but not to any other transaction until Commit.
func (t *Txn) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrInvalidArgument
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxnFinished
	}
	t.bufferLocked(key, pendingWrite{kind: ikey.KindPut, value: value})
	return nil
}

// Delete buffers a tombstone for key.
func (t *Txn) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidArgument
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxnFinished
	}
	t.bufferLocked(key, pendingWrite{kind: ikey.KindDelete})
	return nil
}

func (t *Txn) bufferLocked(key []byte, w pendingWrite) {
	k := string(key)
	if _, exists := t.pending[k]; !exists {
		t.order = append(t.order, k)
		t.writeSet.Add(key)
	}
	t.pending[k] = w
}

// Commit runs the conflict check and, if it passes, durably applies every
// buffered write as one atomic batch.
func (db *DB) Commit(t *Txn) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return errTxnFinished
	}
	order := append([]string(nil), t.order...)
	pending := make(map[string]pendingWrite, len(t.pending))
	for k, v := range t.pending {
		pending[k] = v
	}
	readSet := t.readSet
	t.done = true
	t.mu.Unlock()
	defer db.releaseSnapshot(t.snapshotSequence)

	if len(order) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.isClosed() {
		return ErrAlreadyClosed
	}

	// Only keys this transaction actually read can conflict: a write-only
	// transaction never observed the prior state of a key, so a concurrent
	// commit to a key it only wrote is not a conflict for it, just a race
	// that last-writer-wins resolves. writeSet alone is never checked.
	conflict := false
	readSet.Each(func(key []byte) {
		if db.committed.CommittedAfter(key, t.snapshotSequence) {
			conflict = true
		}
	})
	if conflict {
		db.metrics.IncTxnConflict()
		return ErrConflict
	}

	entries := make([]wal.Entry, 0, len(order))
	for _, k := range order {
		w := pending[k]
		entries = append(entries, wal.Entry{Kind: w.kind, Key: []byte(k), Value: w.value})
	}

	if _, err := db.writeLocked(entries); err != nil {
		return err
	}
	db.metrics.IncTxnCommit()
	return nil
}

// Abort discards the transaction's buffered writes; it has no effect on
// the WAL or any MemTable.
func (db *DB) Abort(t *Txn) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()
	db.releaseSnapshot(t.snapshotSequence)
	db.metrics.IncTxnAbort()
}

var errTxnFinished = errTxnFinishedError("middb: transaction already committed or aborted")

type errTxnFinishedError string

func (e errTxnFinishedError) Error() string { return string(e) }

// getAt reads key as of a fixed snapshot sequence, used by transactional
// reads; Get (the non-transactional path) is equivalent to getAt at the
// current last sequence.
func (db *DB) getAt(key []byte, seq uint64) ([]byte, error) {
	mem, imm, v, _ := db.snapshotAt(seq)
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
