package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderPrimitives(t *testing.T) {
	w := NewWriter(64)
	w.WriteUint8(0xAB).
		WriteInt16(-2).
		WriteUint16(0xBEEF).
		WriteInt32(-100000).
		WriteNullString("hello").
		WriteBytes([]byte{1, 2, 3})
	require.NoError(t, w.Err())
	assert.Equal(t, 1+2+2+4+6+3, w.Len())

	r := NewReader(w.Bytes())
	b, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), b)

	s16, err := r.ReadInt16()
	require.NoError(t, err)
	assert.Equal(t, int16(-2), s16)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), u16)

	s32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-100000), s32)

	str, err := r.ReadString("test", MaxStringChars)
	require.NoError(t, err)
	assert.Equal(t, "hello", str)

	data, err := r.ReadData(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.True(t, r.EOF())
}

func TestReaderUnderflow(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.ReadUint16()
	require.Error(t, err)
	assert.True(t, IsUnderflow(err))

	r = NewReader([]byte("abc"))
	_, err = r.ReadString("name", 16)
	assert.True(t, IsUnderflow(err), "unterminated string must underflow")
	assert.True(t, r.EOF())
}

func TestReaderOversizeString(t *testing.T) {
	w := NewWriter(32)
	w.WriteNullString("abcd").WriteUint8(7)

	r := NewReader(w.Bytes())
	_, err := r.ReadString("key", 4)
	require.Error(t, err)
	assert.True(t, IsOversize(err))

	// the oversize string is still consumed
	b, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, byte(7), b)
}

func TestWriterOverflowIsSticky(t *testing.T) {
	w := NewWriter(3)
	w.WriteUint16(1).WriteUint16(2).WriteUint8(3)

	var ov *OverflowError
	require.ErrorAs(t, w.Err(), &ov)
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, 3, ov.Capacity)

	w.Reset()
	assert.NoError(t, w.Err())
	w.WriteUint8(9)
	assert.Equal(t, []byte{9}, w.Bytes())
}

func TestBitsRoundTrip(t *testing.T) {
	w := NewWriter(16)
	w.WriteBits(1, 1).
		WriteBits(0x5A, 8).
		WriteSignedBits(-3, 10).
		WriteBits(0xFFFF, 16)
	require.NoError(t, w.Err())
	assert.Equal(t, 5, w.Len())

	r := NewReader(w.Bytes())
	v, err := r.ReadBits(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v)

	v, err = r.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x5A), v)

	sv, err := r.ReadSignedBits(10)
	require.NoError(t, err)
	assert.Equal(t, int32(-3), sv)

	v, err = r.ReadBits(16)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFF), v)

	_, err = r.ReadBits(8)
	assert.True(t, IsUnderflow(err))
}

func TestByteReadAlignsAfterBits(t *testing.T) {
	w := NewWriter(8)
	w.WriteBits(3, 2).WriteUint8(0x42)
	require.Equal(t, []byte{0x03, 0x42}, w.Bytes())

	r := NewReader(w.Bytes())
	_, err := r.ReadBits(2)
	require.NoError(t, err)
	b, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), b)
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		name     string
		protocol int
		minor    int
		want     Dialect
		wantErr  bool
	}{
		{"default", 34, 0, Dialect{Protocol: 34}, false},
		{"r1q2 clamps low", 35, 1, Dialect{Protocol: 35, Minor: R1Q2Minimum}, false},
		{"r1q2 clamps high", 35, 9999, Dialect{Protocol: 35, Minor: R1Q2Current}, false},
		{"q2pro passthrough", 36, Q2PROUcmd, Dialect{Protocol: 36, Minor: Q2PROUcmd}, false},
		{"unknown", 33, 0, Dialect{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDialect(tt.protocol, tt.minor)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownDialect)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialectCapabilities(t *testing.T) {
	def := Dialect{Protocol: ProtocolDefault}
	assert.True(t, def.HasChecksum())
	assert.False(t, def.HasSettings())
	assert.False(t, def.SupportsDeflate())
	assert.False(t, def.LongSolid())

	r1 := Dialect{Protocol: ProtocolR1Q2, Minor: R1Q2LongSolid}
	assert.True(t, r1.HackedUsercmd())
	assert.True(t, r1.LongSolid())
	assert.True(t, r1.HasSettings())
	assert.False(t, r1.EnhancedMoves())

	q2 := Dialect{Protocol: ProtocolQ2PRO, Minor: Q2PROMinimum}
	assert.True(t, q2.EnhancedMoves())
	assert.True(t, q2.UserinfoDelta())
	assert.False(t, q2.ShortMoves())
	assert.False(t, q2.HackedUsercmd())
	assert.Equal(t, "q2pro/1011", q2.String())
}
