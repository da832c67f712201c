// Package wal
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

// Package wal is the durability journal every committed batch is written to
// before it is acknowledged: one framed record per batch, each individually
// checksummed so a torn write at the tail is detectable and discardable
// without corrupting anything written before it.
package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/willzeng274/MidDB/ikey"
	"github.com/willzeng274/MidDB/storage"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Entry is one (kind, key, value) tuple within a batch.
type Entry struct {
	Kind  ikey.Kind
	Key   []byte
	Value []byte
}

// Writer appends framed, checksummed batch records to a WAL file.
type Writer struct {
	file storage.File
}

// NewWriter wraps an already-created WAL file.
func NewWriter(f storage.File) *Writer {
	return &Writer{file: f}
}

// Append encodes and writes one atomic batch record: [length][crc32c][payload],
// payload = (sequence, count) header followed by count entries.
func (w *Writer) Append(sequence uint64, entries []Entry) error {
	payload := encodePayload(sequence, entries)

	record := make([]byte, 4+4+len(payload))
	binary.LittleEndian.PutUint32(record[0:4], uint32(len(payload)))
	checksum := crc32.Checksum(payload, crcTable)
	binary.LittleEndian.PutUint32(record[4:8], checksum)
	copy(record[8:], payload)

	if _, err := w.file.Append(record); err != nil {
		return errors.Wrap(err, "wal: append")
	}
	return nil
}

// Sync fsyncs the underlying file. Append must be durable only after Sync
// returns, per the WAL's fsync-before-ack contract.
func (w *Writer) Sync() error {
	return errors.Wrap(w.file.Sync(), "wal: sync")
}

func encodePayload(sequence uint64, entries []Entry) []byte {
	buf := make([]byte, 0, 64)
	var tmp [binary.MaxVarintLen64]byte

	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[0:8], sequence)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(entries)))
	buf = append(buf, hdr[:]...)

	for _, e := range entries {
		buf = append(buf, byte(e.Kind))
		n := binary.PutUvarint(tmp[:], uint64(len(e.Key)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, e.Key...)
		if e.Kind != ikey.KindDelete {
			n = binary.PutUvarint(tmp[:], uint64(len(e.Value)))
			buf = append(buf, tmp[:n]...)
			buf = append(buf, e.Value...)
		}
	}
	return buf
}

func decodePayload(payload []byte) (sequence uint64, entries []Entry, err error) {
	if len(payload) < 12 {
		return 0, nil, errCorruptRecord
	}
	sequence = binary.LittleEndian.Uint64(payload[0:8])
	count := binary.LittleEndian.Uint32(payload[8:12])
	buf := payload[12:]

	entries = make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < 1 {
			return 0, nil, errCorruptRecord
		}
		kind := ikey.Kind(buf[0])
		buf = buf[1:]

		keyLen, n := binary.Uvarint(buf)
		if n <= 0 || uint64(len(buf)-n) < keyLen {
			return 0, nil, errCorruptRecord
		}
		buf = buf[n:]
		key := append([]byte(nil), buf[:keyLen]...)
		buf = buf[keyLen:]

		var value []byte
		if kind != ikey.KindDelete {
			valLen, n := binary.Uvarint(buf)
			if n <= 0 || uint64(len(buf)-n) < valLen {
				return 0, nil, errCorruptRecord
			}
			buf = buf[n:]
			value = append([]byte(nil), buf[:valLen]...)
			buf = buf[valLen:]
		}

		entries = append(entries, Entry{Kind: kind, Key: key, Value: value})
	}
	return sequence, entries, nil
}

var errCorruptRecord = errors.New("wal: corrupt record")

// Batch is one replayed record.
type Batch struct {
	Sequence uint64
	Entries  []Entry
}

// Replay streams every well-formed record in f, in order, calling handler
// for each. A record whose length exceeds the remaining file bytes, or
// whose checksum mismatches, ends replay without an error (a warning is
// logged when logger is non-nil) — tail corruption from an
// interrupted write is not an error, it is the expected shape of a torn
// last write.
func Replay(f storage.File, logger *logrus.Logger, handler func(Batch) error) error {
	size, err := f.Size()
	if err != nil {
		return errors.Wrap(err, "wal: stat")
	}

	var offset int64
	for offset < size {
		header := make([]byte, 8)
		n, err := f.ReadAt(header, offset)
		if (err != nil && err != io.EOF) || n < 8 {
			logTailTruncation(logger, offset, "short record header")
			return nil
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		checksum := binary.LittleEndian.Uint32(header[4:8])

		payloadStart := offset + 8
		if payloadStart+int64(length) > size {
			logTailTruncation(logger, offset, "record length exceeds file size")
			return nil
		}

		payload := make([]byte, length)
		if _, err := f.ReadAt(payload, payloadStart); err != nil && err != io.EOF {
			logTailTruncation(logger, offset, "short payload read")
			return nil
		}

		if crc32.Checksum(payload, crcTable) != checksum {
			logTailTruncation(logger, offset, "checksum mismatch")
			return nil
		}

		sequence, entries, err := decodePayload(payload)
		if err != nil {
			logTailTruncation(logger, offset, "malformed payload")
			return nil
		}

		if err := handler(Batch{Sequence: sequence, Entries: entries}); err != nil {
			return err
		}

		offset = payloadStart + int64(length)
	}
	return nil
}

func logTailTruncation(logger *logrus.Logger, offset int64, reason string) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{"offset": offset, "reason": reason}).
		Warn("wal: replay stopped at tail corruption")
}
