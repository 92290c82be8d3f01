package protocol

// UserCmd is one client movement command.
type UserCmd struct {
	Msec       uint8    `json:"msec"`
	Buttons    uint16   `json:"buttons"`
	Angles     [3]int16 `json:"angles"`
	Forward    int16    `json:"forwardmove"`
	Side       int16    `json:"sidemove"`
	Up         int16    `json:"upmove"`
	Impulse    uint8    `json:"impulse"`
	LightLevel uint8    `json:"lightlevel"`
}

// Usercmd delta presence bits.
const (
	CMAngle1  = 1 << 0
	CMAngle2  = 1 << 1
	CMAngle3  = 1 << 2
	CMForward = 1 << 3
	CMSide    = 1 << 4
	CMUp      = 1 << 5
	CMButtons = 1 << 6
	CMImpulse = 1 << 7
)

type usercmdVariant uint8

const (
	variantLegacy usercmdVariant = iota
	variantHacked
	variantEnhanced
)

// UsercmdCodec encodes usercmd deltas in one of the three wire variants.
// All variants share the same contract: Read applies a delta on top of
// from (nil meaning the zero command) and Write emits the delta from from
// to to.
type UsercmdCodec struct {
	variant    usercmdVariant
	shortMoves bool
}

var (
	// LegacyUsercmd is the byte aligned encoding of the default protocol.
	LegacyUsercmd = UsercmdCodec{variant: variantLegacy}
	// HackedUsercmd is LegacyUsercmd with a 16-bit buttons field.
	HackedUsercmd = UsercmdCodec{variant: variantHacked}
)

// EnhancedUsercmd returns the bit packed encoding used by batched moves.
func EnhancedUsercmd(shortMoves bool) UsercmdCodec {
	return UsercmdCodec{variant: variantEnhanced, shortMoves: shortMoves}
}

// LegacyUsercmd returns the codec for clc_move in dialect d.
func (d Dialect) LegacyUsercmd() UsercmdCodec {
	if d.HackedUsercmd() {
		return HackedUsercmd
	}
	return LegacyUsercmd
}

// EnhancedUsercmd returns the codec for clc_move_nodelta and clc_move_batched.
func (d Dialect) EnhancedUsercmd() UsercmdCodec {
	return EnhancedUsercmd(d.ShortMoves())
}

// Enhanced reports whether the codec is bit packed.
func (c UsercmdCodec) Enhanced() bool {
	return c.variant == variantEnhanced
}

func usercmdBits(from, to *UserCmd) byte {
	var bits byte
	if to.Angles[0] != from.Angles[0] {
		bits |= CMAngle1
	}
	if to.Angles[1] != from.Angles[1] {
		bits |= CMAngle2
	}
	if to.Angles[2] != from.Angles[2] {
		bits |= CMAngle3
	}
	if to.Forward != from.Forward {
		bits |= CMForward
	}
	if to.Side != from.Side {
		bits |= CMSide
	}
	if to.Up != from.Up {
		bits |= CMUp
	}
	if to.Buttons != from.Buttons {
		bits |= CMButtons
	}
	if to.Impulse != from.Impulse {
		bits |= CMImpulse
	}
	return bits
}

// Write encodes to as a delta from from.
func (c UsercmdCodec) Write(w *Writer, from, to *UserCmd) {
	var zero UserCmd
	if from == nil {
		from = &zero
	}
	if c.variant == variantEnhanced {
		c.writeEnhanced(w, from, to)
		return
	}

	bits := usercmdBits(from, to)
	w.WriteUint8(bits)
	for i, bit := range [3]byte{CMAngle1, CMAngle2, CMAngle3} {
		if bits&bit != 0 {
			w.WriteInt16(to.Angles[i])
		}
	}
	if bits&CMForward != 0 {
		w.WriteInt16(to.Forward)
	}
	if bits&CMSide != 0 {
		w.WriteInt16(to.Side)
	}
	if bits&CMUp != 0 {
		w.WriteInt16(to.Up)
	}
	if bits&CMButtons != 0 {
		if c.variant == variantHacked {
			w.WriteUint16(to.Buttons)
		} else {
			w.WriteUint8(byte(to.Buttons))
		}
	}
	if bits&CMImpulse != 0 {
		w.WriteUint8(to.Impulse)
	}
	w.WriteUint8(to.Msec)
	w.WriteUint8(to.LightLevel)
}

func (c UsercmdCodec) moveBits() int {
	if c.shortMoves {
		return 10
	}
	return 16
}

func (c UsercmdCodec) writeEnhanced(w *Writer, from, to *UserCmd) {
	bits := usercmdBits(from, to)
	if bits == 0 && to.Msec == from.Msec {
		w.WriteBits(0, 1)
		return
	}
	w.WriteBits(1, 1)
	w.WriteBits(uint32(bits), 8)
	for i, bit := range [3]byte{CMAngle1, CMAngle2, CMAngle3} {
		if bits&bit != 0 {
			w.WriteBits(uint32(uint16(to.Angles[i])), 16)
		}
	}
	if bits&CMForward != 0 {
		w.WriteSignedBits(int32(to.Forward), c.moveBits())
	}
	if bits&CMSide != 0 {
		w.WriteSignedBits(int32(to.Side), c.moveBits())
	}
	if bits&CMUp != 0 {
		w.WriteSignedBits(int32(to.Up), c.moveBits())
	}
	if bits&CMButtons != 0 {
		w.WriteBits(uint32(to.Buttons&0xff), 8)
	}
	if bits&CMImpulse != 0 {
		w.WriteBits(uint32(to.Impulse), 8)
	}
	w.WriteBits(uint32(to.Msec), 8)
}

// Read decodes one command as a delta from from. Enhanced commands do not
// carry a light level; the value of from is kept and the caller applies the
// per-datagram level.
func (c UsercmdCodec) Read(r *Reader, from *UserCmd) (UserCmd, error) {
	var to UserCmd
	if from != nil {
		to = *from
	}
	if c.variant == variantEnhanced {
		return c.readEnhanced(r, to)
	}

	bits, err := r.ReadUint8()
	if err != nil {
		return to, err
	}
	for i, bit := range [3]byte{CMAngle1, CMAngle2, CMAngle3} {
		if bits&bit != 0 {
			if to.Angles[i], err = r.ReadInt16(); err != nil {
				return to, err
			}
		}
	}
	if bits&CMForward != 0 {
		if to.Forward, err = r.ReadInt16(); err != nil {
			return to, err
		}
	}
	if bits&CMSide != 0 {
		if to.Side, err = r.ReadInt16(); err != nil {
			return to, err
		}
	}
	if bits&CMUp != 0 {
		if to.Up, err = r.ReadInt16(); err != nil {
			return to, err
		}
	}
	if bits&CMButtons != 0 {
		if c.variant == variantHacked {
			if to.Buttons, err = r.ReadUint16(); err != nil {
				return to, err
			}
		} else {
			b, err := r.ReadUint8()
			if err != nil {
				return to, err
			}
			to.Buttons = uint16(b)
		}
	}
	if bits&CMImpulse != 0 {
		if to.Impulse, err = r.ReadUint8(); err != nil {
			return to, err
		}
	}
	if to.Msec, err = r.ReadUint8(); err != nil {
		return to, err
	}
	if to.LightLevel, err = r.ReadUint8(); err != nil {
		return to, err
	}
	return to, nil
}

func (c UsercmdCodec) readEnhanced(r *Reader, to UserCmd) (UserCmd, error) {
	changed, err := r.ReadBits(1)
	if err != nil || changed == 0 {
		return to, err
	}
	bits, err := r.ReadBits(8)
	if err != nil {
		return to, err
	}
	for i, bit := range [3]uint32{CMAngle1, CMAngle2, CMAngle3} {
		if bits&bit != 0 {
			v, err := r.ReadBits(16)
			if err != nil {
				return to, err
			}
			to.Angles[i] = int16(uint16(v))
		}
	}
	moves := []struct {
		bit uint32
		dst *int16
	}{
		{CMForward, &to.Forward},
		{CMSide, &to.Side},
		{CMUp, &to.Up},
	}
	for _, m := range moves {
		if bits&m.bit != 0 {
			v, err := r.ReadSignedBits(c.moveBits())
			if err != nil {
				return to, err
			}
			*m.dst = int16(v)
		}
	}
	if bits&CMButtons != 0 {
		v, err := r.ReadBits(8)
		if err != nil {
			return to, err
		}
		to.Buttons = uint16(v)
	}
	if bits&CMImpulse != 0 {
		v, err := r.ReadBits(8)
		if err != nil {
			return to, err
		}
		to.Impulse = uint8(v)
	}
	v, err := r.ReadBits(8)
	if err != nil {
		return to, err
	}
	to.Msec = uint8(v)
	return to, nil
}
