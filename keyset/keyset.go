// Package keyset
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

// Package keyset is a bucketed hash set of user keys, used by a transaction
// to track the keys it has read and the keys it has written. It is not
// durable and never outlives its owning transaction.
package keyset

import (
	"bytes"

	"github.com/spaolacci/murmur3"
)

const initialCapacity = 32
const loadFactorThreshold = 0.7

// Set is a hash set of byte-slice keys.
type Set struct {
	buckets  [][][]byte
	size     int
	capacity int
}

// New creates an empty key set.
func New() *Set {
	return &Set{
		buckets:  make([][][]byte, initialCapacity),
		capacity: initialCapacity,
	}
}

func (s *Set) hash(value []byte, capacity int) int {
	return int(murmur3.Sum64WithSeed(value, 4) % uint64(capacity))
}

// Add inserts a key, no-op if already present.
func (s *Set) Add(key []byte) {
	index := s.hash(key, s.capacity)
	for _, item := range s.buckets[index] {
		if bytes.Equal(item, key) {
			return
		}
	}
	s.buckets[index] = append(s.buckets[index], key)
	s.size++

	if float64(s.size)/float64(s.capacity) > loadFactorThreshold {
		s.resize()
	}
}

func (s *Set) resize() {
	newCapacity := s.capacity * 2
	newBuckets := make([][][]byte, newCapacity)

	for _, bucket := range s.buckets {
		for _, key := range bucket {
			idx := s.hash(key, newCapacity)
			newBuckets[idx] = append(newBuckets[idx], key)
		}
	}
	s.buckets = newBuckets
	s.capacity = newCapacity
}

// Contains reports whether key is in the set.
func (s *Set) Contains(key []byte) bool {
	index := s.hash(key, s.capacity)
	for _, item := range s.buckets[index] {
		if bytes.Equal(item, key) {
			return true
		}
	}
	return false
}

// Len returns the number of keys tracked.
func (s *Set) Len() int {
	return s.size
}

// Each calls fn once per tracked key, in bucket order (not sorted).
func (s *Set) Each(fn func(key []byte)) {
	for _, bucket := range s.buckets {
		for _, key := range bucket {
			fn(key)
		}
	}
}
