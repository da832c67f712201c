// Package bloom
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

// Package bloom implements a fixed-size membership filter, one per SSTable,
// using Kirsch-Mitzenmacher double hashing over two independent hash
// families so that k probe positions can be derived from only two hash
// computations per key.
package bloom

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// BitsPerKey is the default filter density, matching the spec's documented
// bloom_bits_per_key option.
const BitsPerKey = 10

// Filter is an immutable bloom filter built once from a known key set and
// then queried read-only; this matches how it is used on the SSTable write
// path (built while entries are still in hand) and read path (loaded once
// from the SSTable's bloom block).
type Filter struct {
	bits []byte
	k    int
}

// numHashes picks the number of probes that minimizes false-positive rate
// for a given bits-per-key budget: k = 0.69 * bits_per_key (about ln(2)),
// truncated toward zero and clamped to [1, 30].
func numHashes(bitsPerKey int) int {
	k := int(float64(bitsPerKey) * 0.69)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}

// Build constructs a filter sized for len(keys) entries at bitsPerKey
// density.
func Build(keys [][]byte, bitsPerKey int) *Filter {
	if bitsPerKey <= 0 {
		bitsPerKey = BitsPerKey
	}
	nBits := len(keys) * bitsPerKey
	if nBits < 64 {
		nBits = 64
	}
	// round up to a whole number of bytes
	nBytes := (nBits + 7) / 8
	nBits = nBytes * 8

	f := &Filter{
		bits: make([]byte, nBytes),
		k:    numHashes(bitsPerKey),
	}
	for _, key := range keys {
		f.add(key)
	}
	return f
}

func (f *Filter) probes(key []byte) (h1, h2 uint64) {
	h1 = xxhash.Sum64(key)
	h2 = murmur3.Sum64WithSeed(key, 0x9e3779b9)
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

func (f *Filter) add(key []byte) {
	nBits := uint64(len(f.bits) * 8)
	h1, h2 := f.probes(key)
	for i := 0; i < f.k; i++ {
		bitPos := (h1 + uint64(i)*h2) % nBits
		f.bits[bitPos/8] |= 1 << (bitPos % 8)
	}
}

// MayContain reports whether key might be present. False means key is
// definitely absent; true means key is present with high probability.
func (f *Filter) MayContain(key []byte) bool {
	if len(f.bits) == 0 {
		return true
	}
	nBits := uint64(len(f.bits) * 8)
	h1, h2 := f.probes(key)
	for i := 0; i < f.k; i++ {
		bitPos := (h1 + uint64(i)*h2) % nBits
		if f.bits[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode serializes the filter for storage in an SSTable's bloom block.
func (f *Filter) Encode() []byte {
	var buf bytes.Buffer
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(f.k))
	buf.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(f.bits)))
	buf.Write(tmp[:])
	buf.Write(f.bits)
	return buf.Bytes()
}

// Decode parses a filter previously produced by Encode.
func Decode(data []byte) (*Filter, error) {
	if len(data) < 8 {
		return nil, errors.New("bloom: truncated filter block")
	}
	k := int(binary.LittleEndian.Uint32(data[0:4]))
	n := int(binary.LittleEndian.Uint32(data[4:8]))
	if n < 0 || 8+n > len(data) {
		return nil, errors.New("bloom: invalid filter length")
	}
	bits := make([]byte, n)
	copy(bits, data[8:8+n])
	return &Filter{bits: bits, k: k}, nil
}
