package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripEntity(t *testing.T, from, to *EntityState, flags EntityFlags) (EntityState, uint32) {
	t.Helper()
	w := NewWriter(MaxMsgLen)
	require.True(t, WriteDeltaEntity(w, from, to, flags))
	require.NoError(t, w.Err())

	r := NewReader(w.Bytes())
	bits, number, err := ReadEntityBits(r)
	require.NoError(t, err)
	got, err := ReadDeltaEntity(r, from, number, bits, flags)
	require.NoError(t, err)
	assert.True(t, r.EOF(), "delta must be fully consumed")
	return got, bits
}

func TestEntityDeltaFromNothing(t *testing.T) {
	to := &EntityState{
		Number:     300,
		Origin:     [3]int16{100, -200, 8},
		Angles:     [3]uint8{1, 2, 3},
		ModelIndex: 5,
		Frame:      400,
		Skin:       70000,
		Effects:    0x20,
		RenderFX:   0x1234,
		Solid:      0x1f1f,
		Sound:      4,
	}
	got, bits := roundTripEntity(t, nil, to, 0)
	assert.Equal(t, *to, got)
	assert.NotZero(t, bits&UNumber16)
	assert.NotZero(t, bits&USkin8)
	assert.NotZero(t, bits&USkin16)
	assert.NotZero(t, bits&UFrame16)
}

func TestEntityDeltaOnlyChangedFields(t *testing.T) {
	from := &EntityState{Number: 7, Origin: [3]int16{1, 2, 3}, ModelIndex: 9}
	to := *from
	to.Origin[1] = 50

	got, bits := roundTripEntity(t, from, &to, 0)
	assert.Equal(t, to, got)
	assert.Equal(t, UOrigin2, bits)
}

func TestEntityDeltaUnchangedWritesNothing(t *testing.T) {
	s := &EntityState{Number: 3, ModelIndex: 1}
	w := NewWriter(64)
	assert.False(t, WriteDeltaEntity(w, s, s, 0))
	assert.Zero(t, w.Len())

	got, bits := roundTripEntity(t, s, s, EntityForce)
	assert.Zero(t, bits)
	assert.Equal(t, *s, got)
}

func TestEntityEventIsNotDeltaed(t *testing.T) {
	from := &EntityState{Number: 2, Event: 1}
	to := *from
	to.Event = 0
	to.Frame = 1

	got, bits := roundTripEntity(t, from, &to, 0)
	assert.Zero(t, bits&UEvent)
	assert.Equal(t, uint8(0), got.Event)
}

func TestEntitySolidEncodings(t *testing.T) {
	to := &EntityState{Number: 1, Solid: 0x00ABCDEF}

	long, _ := roundTripEntity(t, nil, to, EntityLongSolid)
	assert.Equal(t, uint32(0x00ABCDEF), long.Solid)

	short, _ := roundTripEntity(t, nil, to, 0)
	assert.Equal(t, uint32(0xCDEF), short.Solid)
}

func TestEntityRemove(t *testing.T) {
	from := &EntityState{Number: 12, ModelIndex: 3}
	w := NewWriter(16)
	require.True(t, WriteDeltaEntity(w, from, nil, 0))

	r := NewReader(w.Bytes())
	bits, number, err := ReadEntityBits(r)
	require.NoError(t, err)
	assert.NotZero(t, bits&URemove)
	assert.Equal(t, 12, number)
	assert.True(t, r.EOF())
}

func TestEntityTruncatedDelta(t *testing.T) {
	w := NewWriter(64)
	WriteDeltaEntity(w, nil, &EntityState{Number: 1, Origin: [3]int16{1, 1, 1}}, 0)
	data := w.Bytes()

	r := NewReader(data[:len(data)-1])
	bits, number, err := ReadEntityBits(r)
	require.NoError(t, err)
	_, err = ReadDeltaEntity(r, nil, number, bits, 0)
	assert.True(t, IsUnderflow(err))
}
