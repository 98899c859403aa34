// Package record implements the tombstone-aware binary record used by both
// the write-ahead log and on-disk segments:
//
//	[value_payload?] [value_len:i32] [key_bytes] [key_len:i16]
//
// A Put carries value_payload = Value.Bytes() and value_len >= 0. A
// Tombstone omits the payload and sets value_len to the sentinel -1. The
// record has no leading header, only trailing lengths, so it must be
// decoded back-to-front starting from the last byte.
package record

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/kegdb/kegdb/internal/kegerr"
	"github.com/kegdb/kegdb/internal/value"
)

// tombstoneSentinel marks a record with no value payload.
const tombstoneSentinel int32 = -1

// Record is a single committed mutation: a Put (Value != nil) or a
// Tombstone (Value == nil).
type Record struct {
	Key   string
	Value *value.Value
}

// IsTombstone reports whether this record is a deletion marker.
func (r Record) IsTombstone() bool { return r.Value == nil }

// Encode serializes key/v into the back-to-front record layout described
// in the package doc. v == nil encodes a tombstone.
func Encode(key string, v *value.Value) []byte {
	keyBytes := []byte(key)

	var payload []byte
	var valueLen int32
	if v != nil {
		payload = v.Bytes()
		valueLen = int32(len(payload))
	} else {
		valueLen = tombstoneSentinel
	}

	out := make([]byte, 0, len(payload)+4+len(keyBytes)+2)
	out = append(out, payload...)
	out = append(out, int32Bytes(valueLen)...)
	out = append(out, keyBytes...)
	out = append(out, int16Bytes(int16(len(keyBytes)))...)
	return out
}

// Decode reverses Encode, reading the key length, then the value length,
// then (if present) the value payload, all from the tail of buf forward.
// It fails with a MalformedRecord error if any length would under- or
// overflow the buffer, or if the key isn't valid UTF-8.
func Decode(buf []byte) (Record, error) {
	idx := len(buf)

	if idx-2 < 0 {
		return Record{}, kegerr.MalformedRecord(nil, "record: buffer too short for key length")
	}
	keyLen := int(int16(binary.LittleEndian.Uint16(buf[idx-2 : idx])))
	idx -= 2
	if keyLen < 0 || idx-keyLen < 0 {
		return Record{}, kegerr.MalformedRecord(nil, "record: key length %d out of range", keyLen)
	}
	keyBytes := buf[idx-keyLen : idx]
	idx -= keyLen
	if !utf8.Valid(keyBytes) {
		return Record{}, kegerr.MalformedRecord(nil, "record: key is not valid UTF-8")
	}
	key := string(keyBytes)

	if idx-4 < 0 {
		return Record{}, kegerr.MalformedRecord(nil, "record: buffer too short for value length")
	}
	valueLen := int32(binary.LittleEndian.Uint32(buf[idx-4 : idx]))
	idx -= 4

	if valueLen < 0 {
		return Record{Key: key, Value: nil}, nil
	}

	if idx-int(valueLen) < 0 {
		return Record{}, kegerr.MalformedRecord(nil, "record: value length %d out of range", valueLen)
	}
	payload := buf[idx-int(valueLen) : idx]
	v, err := value.FromBytes(payload)
	if err != nil {
		return Record{}, kegerr.MalformedRecord(err, "record: decode value")
	}
	return Record{Key: key, Value: v}, nil
}

func int32Bytes(n int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	return buf[:]
}

func int16Bytes(n int16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(n))
	return buf[:]
}

// EncodeFramed appends Encode's record bytes plus a trailing i32 total
// length, the framing used by both the WAL and segment files so a
// backward scan can find each record's start without any index.
func EncodeFramed(key string, v *value.Value) []byte {
	rec := Encode(key, v)
	return append(rec, int32Bytes(int32(len(rec)))...)
}

// DecodeTail decodes the framed record ending at buf[:idx] (as written by
// EncodeFramed), returning it along with the offset where the next
// backward step resumes — the shared backward-scan step used by both WAL
// recovery and segment loading.
func DecodeTail(buf []byte, idx int) (Record, int, error) {
	if idx-4 < 0 {
		return Record{}, idx, kegerr.MalformedRecord(nil, "truncated record length at offset %d", idx)
	}
	recLen := int(int32(binary.LittleEndian.Uint32(buf[idx-4 : idx])))
	if recLen < 0 || idx-4-recLen < 0 {
		return Record{}, idx, kegerr.MalformedRecord(nil, "record length %d exceeds buffer at offset %d", recLen, idx)
	}
	recBuf := buf[idx-4-recLen : idx-4]
	rec, err := Decode(recBuf)
	if err != nil {
		return Record{}, idx, err
	}
	return rec, idx - 4 - recLen, nil
}
