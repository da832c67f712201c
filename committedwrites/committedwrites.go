// Package committedwrites
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

// Package committedwrites tracks, for every user key touched by a committed
// transaction, the highest sequence number that wrote it. The transaction
// manager's conflict check queries this tracker to decide whether a
// transaction's read_set overlaps a write that happened after its snapshot.
//
// The bucket/fingerprint mechanics are a cuckoo-style two-choice hash table:
// each key hashes to two candidate bucket groups, and a small number of
// slots per bucket absorb collisions before the table must grow.
package committedwrites

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const (
	initialFilterSize = 1024
	maxBucketSize      = 8
)

// Tracker records the latest committing sequence number per user key.
type Tracker struct {
	mu      sync.RWMutex
	buckets []uint64
	seqs    map[uint64]uint64 // hashed key -> latest committed sequence
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		buckets: make([]uint64, initialFilterSize*maxBucketSize),
		seqs:    make(map[uint64]uint64),
	}
}

func (t *Tracker) hashKey(key []byte) uint64 {
	h := murmur3.Sum64WithSeed(key, 0)
	if h == 0 {
		h = 1 // 0 is the empty-slot sentinel
	}
	return h
}

func (t *Tracker) indices(hashedKey uint64) (int, int) {
	filterSize := len(t.buckets) / maxBucketSize
	index1 := int(hashedKey % uint64(filterSize))
	index2 := int((hashedKey >> 32) % uint64(filterSize))
	return index1, index2
}

func (t *Tracker) resizeLocked() {
	newSize := len(t.buckets) * 2
	newBuckets := make([]uint64, newSize)
	for _, hashedKey := range t.buckets {
		if hashedKey == 0 {
			continue
		}
		placeLocked(newBuckets, hashedKey)
	}
	t.buckets = newBuckets
}

func placeLocked(buckets []uint64, hashedKey uint64) bool {
	filterSize := len(buckets) / maxBucketSize
	index1 := int(hashedKey % uint64(filterSize))
	index2 := int((hashedKey >> 32) % uint64(filterSize))
	for _, idx := range [2]int{index1, index2} {
		base := idx * maxBucketSize
		for i := 0; i < maxBucketSize; i++ {
			if buckets[base+i] == 0 {
				buckets[base+i] = hashedKey
				return true
			}
		}
	}
	return false
}

func (t *Tracker) containsLocked(hashedKey uint64) bool {
	index1, index2 := t.indices(hashedKey)
	for _, idx := range [2]int{index1, index2} {
		base := idx * maxBucketSize
		for i := 0; i < maxBucketSize; i++ {
			if t.buckets[base+i] == hashedKey {
				return true
			}
		}
	}
	return false
}

// Record notes that user key was written as of sequence seq. If a later
// sequence for the same key is already recorded, the newer one is kept.
func (t *Tracker) Record(userKey []byte, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hashedKey := t.hashKey(userKey)
	if existing, ok := t.seqs[hashedKey]; ok {
		if seq > existing {
			t.seqs[hashedKey] = seq
		}
		return
	}

	for !placeLocked(t.buckets, hashedKey) {
		t.resizeLocked()
	}
	t.seqs[hashedKey] = seq
}

// CommittedAfter reports whether userKey was committed at a sequence number
// strictly greater than since.
func (t *Tracker) CommittedAfter(userKey []byte, since uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hashedKey := t.hashKey(userKey)
	if !t.containsLocked(hashedKey) {
		return false
	}
	seq, ok := t.seqs[hashedKey]
	return ok && seq > since
}

// Prune discards tracked keys whose last committed sequence is below
// minSeq — entries no open transaction's snapshot could still conflict
// against. Safe to call periodically or after every commit.
func (t *Tracker) Prune(minSeq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newBuckets := make([]uint64, len(t.buckets))
	newSeqs := make(map[uint64]uint64, len(t.seqs))
	for hashedKey, seq := range t.seqs {
		if seq < minSeq {
			continue
		}
		for !placeLocked(newBuckets, hashedKey) {
			bigger := make([]uint64, len(newBuckets)*2)
			for _, hk := range newBuckets {
				if hk != 0 {
					placeLocked(bigger, hk)
				}
			}
			newBuckets = bigger
		}
		newSeqs[hashedKey] = seq
	}
	t.buckets = newBuckets
	t.seqs = newSeqs
}
