package protocol

import (
	"bytes"
	"encoding/binary"
)

// Reader decodes one inbound message. It never reads past the end of the
// buffer: every read checks the remaining length first and returns an
// *UnderflowError instead.
//
// Bit reads (ReadBits) consume the buffer least significant bit first and
// may leave the cursor in the middle of a byte; the next byte-sized read
// realigns to the following byte.
type Reader struct {
	data []byte
	pos  int
	bit  int
}

// NewReader wraps data for reading.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Len returns the total message length.
func (r *Reader) Len() int {
	return len(r.data)
}

// Offset returns the current byte cursor.
func (r *Reader) Offset() int {
	return r.pos
}

// Remaining returns the number of whole unread bytes.
func (r *Reader) Remaining() int {
	n := len(r.data) - r.pos
	if r.bit > 0 {
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}

// EOF reports whether no further byte can be read.
func (r *Reader) EOF() bool {
	return r.Remaining() == 0
}

func (r *Reader) align() {
	if r.bit > 0 {
		r.pos++
		r.bit = 0
	}
}

func (r *Reader) need(field string, n int) error {
	r.align()
	if r.pos+n > len(r.data) {
		return &UnderflowError{Field: field, Offset: r.pos, Need: n, Capacity: len(r.data)}
	}
	return nil
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() (byte, error) {
	if err := r.need("byte", 1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

// ReadInt8 reads one signed byte.
func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need("short", 2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadInt16 reads a little-endian int16.
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadInt32 reads a little-endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	if err := r.need("long", 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return int32(v), nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadInt32()
	return uint32(v), err
}

// ReadString reads a zero-terminated string whose buffer size is max, so the
// longest accepted string is max-1 bytes. The whole string including the
// terminator is consumed even when it is oversize, matching the way the
// peer lays out the message.
func (r *Reader) ReadString(field string, max int) (string, error) {
	r.align()
	if r.pos >= len(r.data) {
		return "", &UnderflowError{Field: field, Offset: r.pos, Need: 1, Capacity: len(r.data)}
	}
	end := bytes.IndexByte(r.data[r.pos:], 0)
	if end < 0 {
		off := r.pos
		r.pos = len(r.data)
		return "", &UnderflowError{Field: field, Offset: off, Need: len(r.data) - off + 1, Capacity: len(r.data)}
	}
	s := string(r.data[r.pos : r.pos+end])
	r.pos += end + 1
	if len(s) >= max {
		return "", &OversizeError{Field: field, Length: len(s), Max: max}
	}
	return s, nil
}

// ReadData reads n raw bytes. The returned slice aliases the message.
func (r *Reader) ReadData(n int) ([]byte, error) {
	if err := r.need("data", n); err != nil {
		return nil, err
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// ReadBits reads an unsigned field of n bits (1..32).
func (r *Reader) ReadBits(n int) (uint32, error) {
	avail := (len(r.data)-r.pos)*8 - r.bit
	if n > avail {
		return 0, &UnderflowError{Field: "bits", Offset: r.pos, Need: (n + 7) / 8, Capacity: len(r.data)}
	}
	var v uint32
	for i := 0; i < n; i++ {
		if r.data[r.pos]&(1<<uint(r.bit)) != 0 {
			v |= 1 << uint(i)
		}
		r.bit++
		if r.bit == 8 {
			r.bit = 0
			r.pos++
		}
	}
	return v, nil
}

// ReadSignedBits reads an n bit two's complement field.
func (r *Reader) ReadSignedBits(n int) (int32, error) {
	v, err := r.ReadBits(n)
	if err != nil {
		return 0, err
	}
	if n < 32 && v&(1<<uint(n-1)) != 0 {
		v |= ^uint32(0) << uint(n)
	}
	return int32(v), nil
}
