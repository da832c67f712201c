// Package ikey
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

// Package ikey encodes the internal key format used throughout the storage
// engine: a user key tagged with a sequence number and an operation kind, so
// that multiple versions of the same user key can coexist in a MemTable or
// SSTable and sort with the newest version first.
package ikey

import (
	"bytes"
	"encoding/binary"
)

// Kind distinguishes a live value from a tombstone.
type Kind uint8

const (
	// KindPut marks a live value.
	KindPut Kind = 1
	// KindDelete marks a tombstone; the value is always empty.
	KindDelete Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// trailerSize is the width of the (sequence, kind) trailer appended to every
// user key: 7 bytes of sequence number plus 1 byte of kind, chosen so the
// trailer packs into a single uint64 and a straight byte comparison of the
// trailer sorts sequence numbers in descending order.
const trailerSize = 8

// maxSequence is the largest sequence number representable in the 56-bit
// trailer field.
const maxSequence = (uint64(1) << 56) - 1

// Key is an encoded internal key: user key bytes followed by an 8-byte
// trailer. Keys are ordered with Compare, which compares the user keys and
// then the trailers; a single bytes.Compare over the whole encoded key does
// not give this order when one user key is a prefix of another.
type Key []byte

// Make encodes a user key, sequence number, and kind into an internal key.
// Panics if seq exceeds the 56-bit sequence space (2^56 writes should outlive
// any real deployment of this engine).
func Make(userKey []byte, seq uint64, kind Kind) Key {
	if seq > maxSequence {
		panic("ikey: sequence number overflow")
	}
	buf := make([]byte, len(userKey)+trailerSize)
	n := copy(buf, userKey)
	trailer := (seq << 8) | uint64(kind)
	binary.BigEndian.PutUint64(buf[n:], ^trailer)
	return buf
}

// MakeSearchKey builds a key suitable for seeking the newest version of
// userKey regardless of sequence: the largest possible trailer (sequence
// maxSequence, kind max) so that it sorts at or before every real version,
// matching the "first entry >= search key is the newest visible version"
// invariant used by point lookups.
func MakeSearchKey(userKey []byte) Key {
	return Make(userKey, maxSequence, KindDelete)
}

// LookupKey builds a key suitable for seeking the newest version of userKey
// visible at snapshot sequence atSequence: kind is pinned to the maximum
// kind value so that, for any real entry sharing exactly atSequence, the
// lookup key sorts at or before it (never skips past it), while entries
// with a larger sequence number (newer than the snapshot) still sort
// strictly before the lookup key and are correctly skipped.
func LookupKey(userKey []byte, atSequence uint64) Key {
	return Make(userKey, atSequence, KindDelete)
}

// UserKey returns the user-key portion of an internal key.
func (k Key) UserKey() []byte {
	if len(k) < trailerSize {
		return nil
	}
	return k[:len(k)-trailerSize]
}

// trailer returns the raw, un-inverted (sequence<<8)|kind value.
func (k Key) trailer() uint64 {
	if len(k) < trailerSize {
		return 0
	}
	return ^binary.BigEndian.Uint64(k[len(k)-trailerSize:])
}

// Sequence returns the sequence number embedded in an internal key.
func (k Key) Sequence() uint64 {
	return k.trailer() >> 8
}

// Kind returns the operation kind embedded in an internal key.
func (k Key) Kind() Kind {
	return Kind(k.trailer() & 0xff)
}

// Valid reports whether k carries a well-formed trailer.
func (k Key) Valid() bool {
	return len(k) >= trailerSize
}

// Clone returns an independent copy of k.
func (k Key) Clone() Key {
	out := make(Key, len(k))
	copy(out, k)
	return out
}

// Compare orders internal keys by ascending user key, then descending
// sequence, then descending kind (at equal sequence, Delete sorts before
// Put) — the ordering the whole LSM pipeline (MemTable, block builder,
// merging iterator) depends on.
//
// Because the trailer is stored inverted (see Make), a plain big-endian
// comparison of user key followed by trailer bytes already produces this
// order, so Compare reduces to two bytes.Compare calls.
func Compare(a, b Key) int {
	au, bu := a.UserKey(), b.UserKey()
	if c := bytes.Compare(au, bu); c != 0 {
		return c
	}
	at, bt := a[len(a)-trailerSize:], b[len(b)-trailerSize:]
	return bytes.Compare(at, bt)
}

// Less reports whether a sorts before b.
func Less(a, b Key) bool {
	return Compare(a, b) < 0
}
