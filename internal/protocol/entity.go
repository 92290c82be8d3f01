package protocol

// EntityState is the network visible part of an entity. Coordinates are
// fixed point shorts (1/8 unit), angles are byte encoded.
type EntityState struct {
	Number      int      `json:"number"`
	Origin      [3]int16 `json:"origin"`
	Angles      [3]uint8 `json:"angles"`
	OldOrigin   [3]int16 `json:"old_origin"`
	ModelIndex  uint8    `json:"modelindex"`
	ModelIndex2 uint8    `json:"modelindex2,omitempty"`
	ModelIndex3 uint8    `json:"modelindex3,omitempty"`
	ModelIndex4 uint8    `json:"modelindex4,omitempty"`
	Frame       uint16   `json:"frame"`
	Skin        uint32   `json:"skinnum"`
	Effects     uint32   `json:"effects"`
	RenderFX    uint32   `json:"renderfx"`
	Solid       uint32   `json:"solid"`
	Sound       uint8    `json:"sound,omitempty"`
	Event       uint8    `json:"event,omitempty"`
}

// Entity delta presence bits.
const (
	UOrigin1   uint32 = 1 << 0
	UOrigin2   uint32 = 1 << 1
	UAngle2    uint32 = 1 << 2
	UAngle3    uint32 = 1 << 3
	UFrame8    uint32 = 1 << 4
	UEvent     uint32 = 1 << 5
	URemove    uint32 = 1 << 6
	UMoreBits1 uint32 = 1 << 7

	UNumber16  uint32 = 1 << 8
	UOrigin3   uint32 = 1 << 9
	UAngle1    uint32 = 1 << 10
	UModel     uint32 = 1 << 11
	URenderFX8 uint32 = 1 << 12
	UEffects8  uint32 = 1 << 14
	UMoreBits2 uint32 = 1 << 15

	USkin8      uint32 = 1 << 16
	UFrame16    uint32 = 1 << 17
	URenderFX16 uint32 = 1 << 18
	UEffects16  uint32 = 1 << 19
	UModel2     uint32 = 1 << 20
	UModel3     uint32 = 1 << 21
	UModel4     uint32 = 1 << 22
	UMoreBits3  uint32 = 1 << 23

	UOldOrigin uint32 = 1 << 24
	USkin16    uint32 = 1 << 25
	USound     uint32 = 1 << 26
	USolid     uint32 = 1 << 27
)

// EntityFlags select optional parts of the entity delta encoding.
type EntityFlags uint8

const (
	// EntityForce writes the header even when nothing changed.
	EntityForce EntityFlags = 1 << iota
	// EntityLongSolid writes the solid field as 32 bits.
	EntityLongSolid
)

// widthBits picks the 8/16/32-bit presence bits for a variable width field.
func widthBits(v uint32, b8, b16 uint32) uint32 {
	switch {
	case v < 0x100:
		return b8
	case v < 0x10000:
		return b16
	default:
		return b8 | b16
	}
}

// WriteDeltaEntity writes the fields of to that differ from from. A nil from
// is an all-zero state; a nil to writes a remove for from.Number. It returns
// false when nothing was written.
func WriteDeltaEntity(w *Writer, from, to *EntityState, flags EntityFlags) bool {
	var zero EntityState
	if to == nil {
		if from == nil {
			return false
		}
		bits := URemove
		if from.Number >= 0x100 {
			bits |= UNumber16
		}
		writeEntityHeader(w, bits, from.Number)
		return true
	}
	if from == nil {
		from = &zero
	}

	var bits uint32
	if to.Origin[0] != from.Origin[0] {
		bits |= UOrigin1
	}
	if to.Origin[1] != from.Origin[1] {
		bits |= UOrigin2
	}
	if to.Origin[2] != from.Origin[2] {
		bits |= UOrigin3
	}
	if to.Angles[0] != from.Angles[0] {
		bits |= UAngle1
	}
	if to.Angles[1] != from.Angles[1] {
		bits |= UAngle2
	}
	if to.Angles[2] != from.Angles[2] {
		bits |= UAngle3
	}
	if to.Skin != from.Skin {
		bits |= widthBits(to.Skin, USkin8, USkin16)
	}
	if to.Frame != from.Frame {
		if to.Frame < 0x100 {
			bits |= UFrame8
		} else {
			bits |= UFrame16
		}
	}
	if to.Effects != from.Effects {
		bits |= widthBits(to.Effects, UEffects8, UEffects16)
	}
	if to.RenderFX != from.RenderFX {
		bits |= widthBits(to.RenderFX, URenderFX8, URenderFX16)
	}
	if to.Solid != from.Solid {
		bits |= USolid
	}
	// events are not deltaed, they are only present for the frame they fire
	if to.Event != 0 {
		bits |= UEvent
	}
	if to.ModelIndex != from.ModelIndex {
		bits |= UModel
	}
	if to.ModelIndex2 != from.ModelIndex2 {
		bits |= UModel2
	}
	if to.ModelIndex3 != from.ModelIndex3 {
		bits |= UModel3
	}
	if to.ModelIndex4 != from.ModelIndex4 {
		bits |= UModel4
	}
	if to.Sound != from.Sound {
		bits |= USound
	}
	if to.OldOrigin != from.OldOrigin {
		bits |= UOldOrigin
	}

	if bits == 0 && flags&EntityForce == 0 {
		return false
	}
	if to.Number >= 0x100 {
		bits |= UNumber16
	}

	writeEntityHeader(w, bits, to.Number)

	if bits&UModel != 0 {
		w.WriteUint8(to.ModelIndex)
	}
	if bits&UModel2 != 0 {
		w.WriteUint8(to.ModelIndex2)
	}
	if bits&UModel3 != 0 {
		w.WriteUint8(to.ModelIndex3)
	}
	if bits&UModel4 != 0 {
		w.WriteUint8(to.ModelIndex4)
	}

	if bits&UFrame8 != 0 {
		w.WriteUint8(byte(to.Frame))
	} else if bits&UFrame16 != 0 {
		w.WriteUint16(to.Frame)
	}

	writeWidth(w, bits, USkin8, USkin16, to.Skin)
	writeWidth(w, bits, UEffects8, UEffects16, to.Effects)
	writeWidth(w, bits, URenderFX8, URenderFX16, to.RenderFX)

	if bits&UOrigin1 != 0 {
		w.WriteInt16(to.Origin[0])
	}
	if bits&UOrigin2 != 0 {
		w.WriteInt16(to.Origin[1])
	}
	if bits&UOrigin3 != 0 {
		w.WriteInt16(to.Origin[2])
	}

	if bits&UAngle1 != 0 {
		w.WriteUint8(to.Angles[0])
	}
	if bits&UAngle2 != 0 {
		w.WriteUint8(to.Angles[1])
	}
	if bits&UAngle3 != 0 {
		w.WriteUint8(to.Angles[2])
	}

	if bits&UOldOrigin != 0 {
		w.WriteInt16(to.OldOrigin[0])
		w.WriteInt16(to.OldOrigin[1])
		w.WriteInt16(to.OldOrigin[2])
	}

	if bits&USound != 0 {
		w.WriteUint8(to.Sound)
	}
	if bits&UEvent != 0 {
		w.WriteUint8(to.Event)
	}
	if bits&USolid != 0 {
		if flags&EntityLongSolid != 0 {
			w.WriteInt32(int32(to.Solid))
		} else {
			w.WriteUint16(uint16(to.Solid))
		}
	}
	return true
}

func writeEntityHeader(w *Writer, bits uint32, number int) {
	switch {
	case bits&0xff000000 != 0:
		bits |= UMoreBits3 | UMoreBits2 | UMoreBits1
	case bits&0x00ff0000 != 0:
		bits |= UMoreBits2 | UMoreBits1
	case bits&0x0000ff00 != 0:
		bits |= UMoreBits1
	}

	w.WriteUint8(byte(bits))
	if bits&UMoreBits1 != 0 {
		w.WriteUint8(byte(bits >> 8))
	}
	if bits&UMoreBits2 != 0 {
		w.WriteUint8(byte(bits >> 16))
	}
	if bits&UMoreBits3 != 0 {
		w.WriteUint8(byte(bits >> 24))
	}

	if bits&UNumber16 != 0 {
		w.WriteUint16(uint16(number))
	} else {
		w.WriteUint8(byte(number))
	}
}

func writeWidth(w *Writer, bits, b8, b16, v uint32) {
	switch {
	case bits&b8 != 0 && bits&b16 != 0:
		w.WriteInt32(int32(v))
	case bits&b8 != 0:
		w.WriteUint8(byte(v))
	case bits&b16 != 0:
		w.WriteUint16(uint16(v))
	}
}

func readWidth(r *Reader, bits, b8, b16 uint32, v *uint32) error {
	switch {
	case bits&b8 != 0 && bits&b16 != 0:
		n, err := r.ReadUint32()
		if err != nil {
			return err
		}
		*v = n
	case bits&b8 != 0:
		n, err := r.ReadUint8()
		if err != nil {
			return err
		}
		*v = uint32(n)
	case bits&b16 != 0:
		n, err := r.ReadUint16()
		if err != nil {
			return err
		}
		*v = uint32(n)
	}
	return nil
}

// ReadEntityBits reads an entity delta header and returns its presence bits
// and entity number.
func ReadEntityBits(r *Reader) (uint32, int, error) {
	b, err := r.ReadUint8()
	if err != nil {
		return 0, 0, err
	}
	bits := uint32(b)
	if bits&UMoreBits1 != 0 {
		if b, err = r.ReadUint8(); err != nil {
			return 0, 0, err
		}
		bits |= uint32(b) << 8
	}
	if bits&UMoreBits2 != 0 {
		if b, err = r.ReadUint8(); err != nil {
			return 0, 0, err
		}
		bits |= uint32(b) << 16
	}
	if bits&UMoreBits3 != 0 {
		if b, err = r.ReadUint8(); err != nil {
			return 0, 0, err
		}
		bits |= uint32(b) << 24
	}

	var number int
	if bits&UNumber16 != 0 {
		n, err := r.ReadUint16()
		if err != nil {
			return 0, 0, err
		}
		number = int(n)
	} else {
		n, err := r.ReadUint8()
		if err != nil {
			return 0, 0, err
		}
		number = int(n)
	}
	return bits, number, nil
}

// ReadDeltaEntity applies the fields selected by bits on top of from (nil
// meaning an all-zero state).
func ReadDeltaEntity(r *Reader, from *EntityState, number int, bits uint32, flags EntityFlags) (EntityState, error) {
	var to EntityState
	if from != nil {
		to = *from
	}
	to.Number = number
	to.Event = 0

	if bits&URemove != 0 {
		return to, nil
	}

	read8 := func(dst *uint8) error {
		v, err := r.ReadUint8()
		*dst = v
		return err
	}
	read16 := func(dst *int16) error {
		v, err := r.ReadInt16()
		*dst = v
		return err
	}

	steps := []struct {
		bit uint32
		fn  func() error
	}{
		{UModel, func() error { return read8(&to.ModelIndex) }},
		{UModel2, func() error { return read8(&to.ModelIndex2) }},
		{UModel3, func() error { return read8(&to.ModelIndex3) }},
		{UModel4, func() error { return read8(&to.ModelIndex4) }},
	}
	for _, s := range steps {
		if bits&s.bit != 0 {
			if err := s.fn(); err != nil {
				return to, err
			}
		}
	}

	if bits&UFrame8 != 0 {
		v, err := r.ReadUint8()
		if err != nil {
			return to, err
		}
		to.Frame = uint16(v)
	} else if bits&UFrame16 != 0 {
		v, err := r.ReadUint16()
		if err != nil {
			return to, err
		}
		to.Frame = v
	}

	if err := readWidth(r, bits, USkin8, USkin16, &to.Skin); err != nil {
		return to, err
	}
	if err := readWidth(r, bits, UEffects8, UEffects16, &to.Effects); err != nil {
		return to, err
	}
	if err := readWidth(r, bits, URenderFX8, URenderFX16, &to.RenderFX); err != nil {
		return to, err
	}

	for i, bit := range [3]uint32{UOrigin1, UOrigin2, UOrigin3} {
		if bits&bit != 0 {
			if err := read16(&to.Origin[i]); err != nil {
				return to, err
			}
		}
	}
	for i, bit := range [3]uint32{UAngle1, UAngle2, UAngle3} {
		if bits&bit != 0 {
			if err := read8(&to.Angles[i]); err != nil {
				return to, err
			}
		}
	}
	if bits&UOldOrigin != 0 {
		for i := range to.OldOrigin {
			if err := read16(&to.OldOrigin[i]); err != nil {
				return to, err
			}
		}
	}
	if bits&USound != 0 {
		if err := read8(&to.Sound); err != nil {
			return to, err
		}
	}
	if bits&UEvent != 0 {
		if err := read8(&to.Event); err != nil {
			return to, err
		}
	}
	if bits&USolid != 0 {
		if flags&EntityLongSolid != 0 {
			v, err := r.ReadUint32()
			if err != nil {
				return to, err
			}
			to.Solid = v
		} else {
			v, err := r.ReadUint16()
			if err != nil {
				return to, err
			}
			to.Solid = uint32(v)
		}
	}
	return to, nil
}
