package version

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"

	"github.com/willzeng274/MidDB/storage"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// appendRecord frames payload as [length:u32][crc32c:u32][payload] and
// appends it to f, mirroring the WAL's record framing so both logs share
// one mental model of "append-only, checksum every record".
func appendRecord(f storage.File, payload []byte) error {
	rec := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(rec[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(rec[4:8], crc32.Checksum(payload, crcTable))
	copy(rec[8:], payload)
	_, err := f.Append(rec)
	return err
}

var errManifestCorrupt = errors.New("version: corrupt manifest record framing")

// splitRecords parses every framed record out of a manifest file's raw
// bytes. Unlike WAL replay, manifest corruption is never tolerated: the
// manifest is only ever written by this process via LogAndApply/Sync, so a
// bad record means the file itself was damaged.
func splitRecords(data []byte) ([][]byte, error) {
	var records [][]byte
	offset := 0
	for offset < len(data) {
		if len(data)-offset < 8 {
			return nil, errManifestCorrupt
		}
		length := binary.LittleEndian.Uint32(data[offset : offset+4])
		checksum := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		start := offset + 8
		end := start + int(length)
		if end > len(data) {
			return nil, errManifestCorrupt
		}
		payload := data[start:end]
		if crc32.Checksum(payload, crcTable) != checksum {
			return nil, errManifestCorrupt
		}
		records = append(records, payload)
		offset = end
	}
	return records, nil
}
