package download

import (
	"github.com/energizer-project/fragline/internal/protocol"
)

// ChunkSize is the largest payload of one svc_download record.
const ChunkSize = 1024

// SizeMismatchMessage is printed to a client resuming from an offset past
// the end of the server's file.
const SizeMismatchMessage = "File size differs from server.\n" +
	"Please delete the corresponding .tmp file from your system.\n"

// Transfer is an active download of one file to one session.
type Transfer struct {
	Name     string
	Category Category
	data     []byte
	size     int
	count    int
}

// NewTransfer starts a transfer of asset resuming at offset.
func NewTransfer(name string, category Category, asset *Asset, offset int) *Transfer {
	return &Transfer{
		Name:     name,
		Category: category,
		data:     asset.Data,
		size:     asset.Size,
		count:    offset,
	}
}

// Size returns the file size.
func (t *Transfer) Size() int {
	return t.size
}

// Count returns the bytes sent so far, including the resume offset.
func (t *Transfer) Count() int {
	return t.count
}

// Percent returns count*100/size, 0 for an empty file.
func (t *Transfer) Percent() int {
	if t.size == 0 {
		return 0
	}
	return t.count * 100 / t.size
}

// Done reports whether every byte has been sent.
func (t *Transfer) Done() bool {
	return t.count >= t.size
}

// WriteNextChunk writes the next svc_download record: short length, byte
// percent, data. It returns true once the transfer is complete.
func (t *Transfer) WriteNextChunk(w *protocol.Writer) bool {
	r := t.size - t.count
	if r > ChunkSize {
		r = ChunkSize
	}
	if r < 0 {
		r = 0
	}

	start := t.count
	t.count += r
	size := t.size
	if size == 0 {
		size = 1
	}

	w.WriteUint8(protocol.SvcDownload).
		WriteInt16(int16(r)).
		WriteUint8(byte(t.count * 100 / size)).
		WriteBytes(t.data[start:t.count])
	return t.Done()
}

// WriteFailed writes the negative download result.
func WriteFailed(w *protocol.Writer) {
	w.WriteUint8(protocol.SvcDownload).WriteInt16(-1).WriteUint8(0)
}

// WriteStop writes the record acknowledging a client abort.
func WriteStop(w *protocol.Writer, percent int) {
	w.WriteUint8(protocol.SvcDownload).WriteInt16(-1).WriteUint8(byte(percent))
}

// WriteAlreadyComplete tells the client its copy is already whole.
func WriteAlreadyComplete(w *protocol.Writer) {
	w.WriteUint8(protocol.SvcDownload).WriteInt16(0).WriteUint8(100)
}
