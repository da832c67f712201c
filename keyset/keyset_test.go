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
package keyset

import (
	"fmt"
	"testing"
)

func TestAddContains(t *testing.T) {
	s := New()
	s.Add([]byte("a"))
	s.Add([]byte("b"))

	if !s.Contains([]byte("a")) || !s.Contains([]byte("b")) {
		t.Fatal("Contains() false for an added key")
	}
	if s.Contains([]byte("c")) {
		t.Fatal("Contains() true for a key never added")
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}

func TestAddIsIdempotent(t *testing.T) {
	s := New()
	s.Add([]byte("a"))
	s.Add([]byte("a"))
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after adding the same key twice", s.Len())
	}
}

func TestResizePreservesMembership(t *testing.T) {
	s := New()
	n := initialCapacity * 4
	for i := 0; i < n; i++ {
		s.Add([]byte(fmt.Sprintf("key-%d", i)))
	}
	if s.Len() != n {
		t.Fatalf("Len() = %d, want %d", s.Len(), n)
	}
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%d", i))
		if !s.Contains(k) {
			t.Fatalf("Contains(%q) = false after resize", k)
		}
	}
}

func TestEachVisitsEveryKey(t *testing.T) {
	s := New()
	want := map[string]bool{"a": true, "b": true, "c": true}
	for k := range want {
		s.Add([]byte(k))
	}

	seen := map[string]bool{}
	s.Each(func(key []byte) { seen[string(key)] = true })

	if len(seen) != len(want) {
		t.Fatalf("Each visited %d keys, want %d", len(seen), len(want))
	}
	for k := range want {
		if !seen[k] {
			t.Fatalf("Each never visited %q", k)
		}
	}
}
