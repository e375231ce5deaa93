package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	headerSize = 8 // key length + value length
	crcSize    = 4
)

// ErrBadRecord is returned when a stored record fails to decode.
var ErrBadRecord = errors.New("bad record")

// Record frames a value together with the key it is stored under and a
// CRC-32 over both.
type Record struct {
	Key   []byte
	Value []byte
}

func NewRecord(key, value []byte) *Record {
	return &Record{Key: key, Value: value}
}

func (r *Record) CalculateCRC(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

func (r *Record) Encode() []byte {
	end := headerSize + len(r.Key) + len(r.Value)
	buf := make([]byte, end+crcSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(r.Key)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(r.Value)))
	copy(buf[headerSize:], r.Key)
	copy(buf[headerSize+len(r.Key):], r.Value)
	binary.LittleEndian.PutUint32(buf[end:], r.CalculateCRC(buf[:end]))
	return buf
}

// Decode parses data into r. Value aliases data.
func (r *Record) Decode(data []byte) error {
	if len(data) < headerSize+crcSize {
		return fmt.Errorf("%w: %d bytes", ErrBadRecord, len(data))
	}
	keyLen := int(binary.LittleEndian.Uint32(data[0:4]))
	valueLen := int(binary.LittleEndian.Uint32(data[4:8]))
	end := headerSize + keyLen + valueLen
	if keyLen < 0 || valueLen < 0 || end+crcSize != len(data) {
		return fmt.Errorf("%w: lengths %d+%d do not match %d bytes", ErrBadRecord, keyLen, valueLen, len(data))
	}
	stored := binary.LittleEndian.Uint32(data[end:])
	if crc := r.CalculateCRC(data[:end]); crc != stored {
		return fmt.Errorf("%w: CRC check failed %d != %d", ErrBadRecord, crc, stored)
	}
	r.Key = data[headerSize : headerSize+keyLen]
	r.Value = data[headerSize+keyLen : end]
	return nil
}

// decodeFor decodes data and checks it was stored under key.
func decodeFor(key, data []byte) (*Record, error) {
	r := &Record{}
	if err := r.Decode(data); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if !bytes.Equal(r.Key, key) {
		return nil, fmt.Errorf("%s: %w: stored under %q", key, ErrBadRecord, r.Key)
	}
	return r, nil
}
