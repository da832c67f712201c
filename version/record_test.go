// Package version
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
package version

import (
	"testing"

	"github.com/willzeng274/MidDB/storage"
)

func TestAppendRecordSplitRecordsRoundTrip(t *testing.T) {
	backend := storage.NewMemBackend()
	f, err := backend.Create("MANIFEST-000001")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	payloads := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, p := range payloads {
		if err := appendRecord(f, p); err != nil {
			t.Fatalf("appendRecord() error = %v", err)
		}
	}

	data, err := readFile(backend, "MANIFEST-000001")
	if err != nil {
		t.Fatalf("readFile() error = %v", err)
	}
	records, err := splitRecords(data)
	if err != nil {
		t.Fatalf("splitRecords() error = %v", err)
	}
	if len(records) != len(payloads) {
		t.Fatalf("splitRecords() returned %d records, want %d", len(records), len(payloads))
	}
	for i, r := range records {
		if string(r) != string(payloads[i]) {
			t.Fatalf("record %d = %q, want %q", i, r, payloads[i])
		}
	}
}

func TestSplitRecordsRejectsTruncatedData(t *testing.T) {
	backend := storage.NewMemBackend()
	f, _ := backend.Create("MANIFEST-000002")
	appendRecord(f, []byte("payload"))

	data, _ := readFile(backend, "MANIFEST-000002")
	if _, err := splitRecords(data[:len(data)-2]); err == nil {
		t.Fatal("splitRecords() on a truncated record should return an error")
	}
}

func TestSplitRecordsRejectsBadChecksum(t *testing.T) {
	backend := storage.NewMemBackend()
	f, _ := backend.Create("MANIFEST-000003")
	appendRecord(f, []byte("payload"))

	data, _ := readFile(backend, "MANIFEST-000003")
	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-1] ^= 0xff

	if _, err := splitRecords(corrupt); err == nil {
		t.Fatal("splitRecords() on a corrupted payload should return an error")
	}
}
