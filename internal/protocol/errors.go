package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownDialect is returned for protocol numbers outside 34..36.
var ErrUnknownDialect = errors.New("unknown protocol dialect")

// UnderflowError reports a read past the end of an inbound message.
type UnderflowError struct {
	Field    string
	Offset   int
	Need     int
	Capacity int
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("read past end of message reading %s: need %d bytes at offset %d, have %d",
		e.Field, e.Need, e.Offset, e.Capacity)
}

// OverflowError reports a write that would exceed the buffer capacity.
type OverflowError struct {
	Need     int
	Length   int
	Capacity int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("message overflow: writing %d bytes at length %d exceeds capacity %d",
		e.Need, e.Length, e.Capacity)
}

// OversizeError reports a string longer than its declared bound.
type OversizeError struct {
	Field  string
	Length int
	Max    int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("oversize %s: %d bytes (max %d)", e.Field, e.Length, e.Max-1)
}

// IsUnderflow reports whether err is, or wraps, an UnderflowError.
func IsUnderflow(err error) bool {
	var u *UnderflowError
	return errors.As(err, &u)
}

// IsOversize reports whether err is, or wraps, an OversizeError.
func IsOversize(err error) bool {
	var o *OversizeError
	return errors.As(err, &o)
}
