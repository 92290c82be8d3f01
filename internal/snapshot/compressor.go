package snapshot

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/flate"
)

// ErrCompressorBusy is returned by Acquire while another job holds the slot.
var ErrCompressorBusy = errors.New("compressor is busy")

// Compressor is the process-wide raw deflate slot used for join-time
// compression. It is not safe for concurrent use: the session loop is its
// only caller and must Release a job before acquiring the next. The busy
// flag only catches a missed Release.
type Compressor struct {
	busy bool

	fw  *flate.Writer
	out bytes.Buffer
	in  int
}

// NewCompressor creates a compressor at the given deflate level.
func NewCompressor(level int) (*Compressor, error) {
	c := &Compressor{}
	fw, err := flate.NewWriter(&c.out, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create deflate stream: %w", err)
	}
	c.fw = fw
	return c, nil
}

// Job is the holder's handle on the compressor.
type Job struct {
	c *Compressor
}

// Acquire claims the slot and resets the stream.
func (c *Compressor) Acquire() (*Job, error) {
	if c.busy {
		return nil, ErrCompressorBusy
	}
	c.busy = true
	j := &Job{c: c}
	j.Reset()
	return j, nil
}

// Release returns the slot.
func (c *Compressor) Release() {
	c.busy = false
}

// Busy reports whether a job holds the slot.
func (c *Compressor) Busy() bool {
	return c.busy
}

// Reset starts a new stream, discarding pending output.
func (j *Job) Reset() {
	j.c.out.Reset()
	j.c.in = 0
	j.c.fw.Reset(&j.c.out)
}

// Write feeds uncompressed bytes.
func (j *Job) Write(p []byte) error {
	n, err := j.c.fw.Write(p)
	j.c.in += n
	return err
}

// SyncFlush emits everything written so far on a byte boundary.
func (j *Job) SyncFlush() error {
	return j.c.fw.Flush()
}

// Finish terminates the stream.
func (j *Job) Finish() error {
	return j.c.fw.Close()
}

// Output returns the compressed bytes produced since the last Reset.
func (j *Job) Output() []byte {
	return j.c.out.Bytes()
}

// TotalIn returns the uncompressed bytes consumed since the last Reset.
func (j *Job) TotalIn() int {
	return j.c.in
}
