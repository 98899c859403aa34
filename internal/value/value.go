// Package value implements the stored payload triple (data, flags,
// exptime) and its binary form. Values are read back-to-front, the same
// way records are: each field is written as bytes followed by its own
// length, and decoding peels fields off the tail in reverse order.
//
// flags and exptime are fixed at 64 bits so the on-disk form is portable
// across hosts, rather than following the host's native word size (see
// DESIGN.md, "platform-word integers").
package value

import (
	"encoding/binary"
	"fmt"

	"github.com/kegdb/kegdb/internal/kegerr"
)

const wordLen = 8 // flags and exptime are fixed 64-bit fields.

// Value is the payload carried by a live (non-tombstone) record.
type Value struct {
	Data    []byte
	Flags   uint64
	Exptime uint64
}

// New builds a Value, copying data so the caller's slice can be reused.
func New(data []byte, flags, exptime uint64) *Value {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Value{Data: cp, Flags: flags, Exptime: exptime}
}

// Bytes serializes the value as:
//
//	[data_bytes] [data_len:i32]
//	[flags:u64]  [flags_len:i32=8]
//	[exptime:u64][exptime_len:i32=8]
//
// FromBytes reads this back exactly in reverse.
func (v *Value) Bytes() []byte {
	out := make([]byte, 0, len(v.Data)+4+wordLen+4+wordLen+4)
	out = append(out, v.Data...)
	out = appendInt32(out, int32(len(v.Data)))

	var flagsBuf [wordLen]byte
	binary.LittleEndian.PutUint64(flagsBuf[:], v.Flags)
	out = append(out, flagsBuf[:]...)
	out = appendInt32(out, wordLen)

	var expBuf [wordLen]byte
	binary.LittleEndian.PutUint64(expBuf[:], v.Exptime)
	out = append(out, expBuf[:]...)
	out = appendInt32(out, wordLen)

	return out
}

func appendInt32(b []byte, n int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	return append(b, buf[:]...)
}

// tailReader peels fixed-width fields off the end of a buffer, the way
// every back-to-front decoder in this package works.
type tailReader struct {
	buf []byte
	idx int
}

func (r *tailReader) int32() (int32, error) {
	if r.idx-4 < 0 {
		return 0, fmt.Errorf("buffer underflow reading int32 at %d", r.idx)
	}
	n := int32(binary.LittleEndian.Uint32(r.buf[r.idx-4 : r.idx]))
	r.idx -= 4
	return n, nil
}

func (r *tailReader) uint64(length int) (uint64, error) {
	if length != wordLen || r.idx-length < 0 {
		return 0, fmt.Errorf("invalid field length %d at %d", length, r.idx)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.idx-length : r.idx])
	r.idx -= length
	return v, nil
}

func (r *tailReader) bytes(length int) ([]byte, error) {
	if length < 0 || r.idx-length < 0 {
		return nil, fmt.Errorf("invalid byte length %d at %d", length, r.idx)
	}
	out := make([]byte, length)
	copy(out, r.buf[r.idx-length:r.idx])
	r.idx -= length
	return out, nil
}

// FromBytes decodes a Value produced by Bytes, walking back-to-front:
// exptime_len, exptime, flags_len, flags, data_len, data.
func FromBytes(b []byte) (*Value, error) {
	r := &tailReader{buf: b, idx: len(b)}

	exptimeLen, err := r.int32()
	if err != nil {
		return nil, kegerr.MalformedRecord(err, "value: read exptime length")
	}
	exptime, err := r.uint64(int(exptimeLen))
	if err != nil {
		return nil, kegerr.MalformedRecord(err, "value: read exptime")
	}

	flagsLen, err := r.int32()
	if err != nil {
		return nil, kegerr.MalformedRecord(err, "value: read flags length")
	}
	flags, err := r.uint64(int(flagsLen))
	if err != nil {
		return nil, kegerr.MalformedRecord(err, "value: read flags")
	}

	dataLen, err := r.int32()
	if err != nil {
		return nil, kegerr.MalformedRecord(err, "value: read data length")
	}
	data, err := r.bytes(int(dataLen))
	if err != nil {
		return nil, kegerr.MalformedRecord(err, "value: read data")
	}

	return &Value{Data: data, Flags: flags, Exptime: exptime}, nil
}
