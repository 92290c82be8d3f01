package protocol

import (
	"encoding/binary"
	"fmt"
)

// Writer builds an outbound message in a buffer of fixed capacity.
// Writes are chained; the first write that would exceed the capacity is
// dropped and recorded, after which every further write is ignored until
// Reset. Callers check Err once a record is complete.
type Writer struct {
	buf []byte
	max int
	err error

	bits int // bits used in the last byte, 0 when aligned
}

// NewWriter creates a Writer with the given capacity in bytes.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity), max: capacity}
}

// Reset clears the buffer and any recorded overflow.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.err = nil
	w.bits = 0
}

// Err returns the *OverflowError recorded since the last Reset, if any.
func (w *Writer) Err() error {
	return w.err
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Cap returns the writer capacity.
func (w *Writer) Cap() int {
	return w.max
}

// Bytes returns the written bytes. The slice is only valid until the next
// write or Reset.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) grow(n int) bool {
	if w.err != nil {
		return false
	}
	w.bits = 0
	if len(w.buf)+n > w.max {
		w.err = &OverflowError{Need: n, Length: len(w.buf), Capacity: w.max}
		return false
	}
	return true
}

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(v byte) *Writer {
	if w.grow(1) {
		w.buf = append(w.buf, v)
	}
	return w
}

// WriteInt16 writes a little-endian int16.
func (w *Writer) WriteInt16(v int16) *Writer {
	return w.WriteUint16(uint16(v))
}

// WriteUint16 writes a little-endian uint16.
func (w *Writer) WriteUint16(v uint16) *Writer {
	if w.grow(2) {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	}
	return w
}

// WriteInt32 writes a little-endian int32.
func (w *Writer) WriteInt32(v int32) *Writer {
	if w.grow(4) {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
	}
	return w
}

// WriteNullString writes s followed by a zero byte.
func (w *Writer) WriteNullString(s string) *Writer {
	if w.grow(len(s) + 1) {
		w.buf = append(w.buf, s...)
		w.buf = append(w.buf, 0)
	}
	return w
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(data []byte) *Writer {
	if w.grow(len(data)) {
		w.buf = append(w.buf, data...)
	}
	return w
}

// WriteBits writes the low n bits of v, least significant bit first,
// packing into the partially filled last byte left by a previous WriteBits.
func (w *Writer) WriteBits(v uint32, n int) *Writer {
	for i := 0; i < n; i++ {
		if w.err != nil {
			return w
		}
		if w.bits == 0 {
			if len(w.buf)+1 > w.max {
				w.err = &OverflowError{Need: 1, Length: len(w.buf), Capacity: w.max}
				return w
			}
			w.buf = append(w.buf, 0)
		}
		if v&(1<<uint(i)) != 0 {
			w.buf[len(w.buf)-1] |= 1 << uint(w.bits)
		}
		w.bits = (w.bits + 1) & 7
	}
	return w
}

// WriteSignedBits writes v as an n bit two's complement field.
func (w *Writer) WriteSignedBits(v int32, n int) *Writer {
	return w.WriteBits(uint32(v), n)
}

// String returns a hex dump of the current message for debugging.
func (w *Writer) String() string {
	return fmt.Sprintf("Writer[%d/%d bytes]: %x", len(w.buf), w.max, w.buf)
}
