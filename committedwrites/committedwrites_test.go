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
package committedwrites

import (
	"fmt"
	"testing"
)

func TestRecordAndCommittedAfter(t *testing.T) {
	tr := New()
	tr.Record([]byte("k"), 10)

	if !tr.CommittedAfter([]byte("k"), 5) {
		t.Fatal("CommittedAfter(since=5) = false, want true for a key committed at seq 10")
	}
	if tr.CommittedAfter([]byte("k"), 10) {
		t.Fatal("CommittedAfter(since=10) = true, want false (strictly greater than since)")
	}
	if tr.CommittedAfter([]byte("other"), 0) {
		t.Fatal("CommittedAfter() = true for a key never recorded")
	}
}

func TestRecordKeepsNewerSequence(t *testing.T) {
	tr := New()
	tr.Record([]byte("k"), 5)
	tr.Record([]byte("k"), 3) // an older sequence must not regress the record
	if !tr.CommittedAfter([]byte("k"), 4) {
		t.Fatal("a later Record() with an older sequence clobbered the newer one")
	}
}

func TestGrowsPastInitialCapacity(t *testing.T) {
	tr := New()
	n := initialFilterSize * maxBucketSize * 2
	for i := 0; i < n; i++ {
		tr.Record([]byte(fmt.Sprintf("key-%d", i)), uint64(i+1))
	}
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%d", i))
		if !tr.CommittedAfter(k, 0) {
			t.Fatalf("CommittedAfter(%q, 0) = false after growing past initial capacity", k)
		}
	}
}

func TestPruneDropsOldEntries(t *testing.T) {
	tr := New()
	tr.Record([]byte("old"), 1)
	tr.Record([]byte("new"), 100)

	tr.Prune(50)

	if tr.CommittedAfter([]byte("old"), 0) {
		t.Fatal("Prune(50) should have discarded a key committed at seq 1")
	}
	if !tr.CommittedAfter([]byte("new"), 0) {
		t.Fatal("Prune(50) discarded a key committed at seq 100, above the watermark")
	}
}
