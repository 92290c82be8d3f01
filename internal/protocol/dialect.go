package protocol

import "fmt"

// Protocol numbers announced by clients in the connect request.
const (
	ProtocolDefault = 34
	ProtocolR1Q2    = 35
	ProtocolQ2PRO   = 36
)

// R1Q2 minor versions.
const (
	R1Q2Minimum   = 1903
	R1Q2Ucmd      = 1904
	R1Q2LongSolid = 1905
	R1Q2Current   = R1Q2LongSolid
)

// Q2PRO minor versions.
const (
	Q2PROMinimum       = 1011
	Q2PROUcmd          = 1012
	Q2PROClientNumFix  = 1013
	Q2PROLongSolid     = 1014
	Q2PROWaterJumpHack = 1015
	Q2PROCurrent       = Q2PROWaterJumpHack
)

// Dialect identifies the protocol variant a session negotiated. Every
// version dependent decision goes through one of its capability methods.
type Dialect struct {
	Protocol int
	Minor    int
}

// ParseDialect validates a protocol number and clamps the minor version into
// the range the server implements.
func ParseDialect(protocol, minor int) (Dialect, error) {
	switch protocol {
	case ProtocolDefault:
		return Dialect{Protocol: protocol}, nil
	case ProtocolR1Q2:
		return Dialect{Protocol: protocol, Minor: clamp(minor, R1Q2Minimum, R1Q2Current)}, nil
	case ProtocolQ2PRO:
		return Dialect{Protocol: protocol, Minor: clamp(minor, Q2PROMinimum, Q2PROCurrent)}, nil
	default:
		return Dialect{}, fmt.Errorf("%w: %d", ErrUnknownDialect, protocol)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsR1Q2 reports protocol 35.
func (d Dialect) IsR1Q2() bool { return d.Protocol == ProtocolR1Q2 }

// IsQ2PRO reports protocol 36.
func (d Dialect) IsQ2PRO() bool { return d.Protocol == ProtocolQ2PRO }

// HasChecksum reports whether legacy moves carry a checksum byte.
func (d Dialect) HasChecksum() bool {
	return d.Protocol == ProtocolDefault
}

// HackedUsercmd reports whether legacy moves use the wide buttons encoding.
func (d Dialect) HackedUsercmd() bool {
	return d.IsR1Q2() && d.Minor >= R1Q2Ucmd
}

// LongSolid reports whether entity deltas carry a 32-bit solid field.
func (d Dialect) LongSolid() bool {
	switch d.Protocol {
	case ProtocolR1Q2:
		return d.Minor >= R1Q2LongSolid
	case ProtocolQ2PRO:
		return d.Minor >= Q2PROLongSolid
	}
	return false
}

// HasSettings reports whether clc_setting is a legal opcode.
func (d Dialect) HasSettings() bool {
	return d.Protocol >= ProtocolR1Q2
}

// EnhancedMoves reports whether clc_move_nodelta and clc_move_batched are legal.
func (d Dialect) EnhancedMoves() bool {
	return d.IsQ2PRO()
}

// ShortMoves reports whether enhanced moves pack forward/side/up into 10 bits.
func (d Dialect) ShortMoves() bool {
	return d.IsQ2PRO() && d.Minor >= Q2PROUcmd
}

// UserinfoDelta reports whether clc_userinfo_delta is a legal opcode.
func (d Dialect) UserinfoDelta() bool {
	return d.IsQ2PRO()
}

// WaterJumpHack reports whether serverdata carries the water jump byte.
func (d Dialect) WaterJumpHack() bool {
	return d.IsQ2PRO() && d.Minor >= Q2PROWaterJumpHack
}

// SupportsDeflate reports whether the dialect understands svc_zpacket.
func (d Dialect) SupportsDeflate() bool {
	return d.Protocol >= ProtocolR1Q2
}

// String returns e.g. "q2pro/1015".
func (d Dialect) String() string {
	switch d.Protocol {
	case ProtocolDefault:
		return "default"
	case ProtocolR1Q2:
		return fmt.Sprintf("r1q2/%d", d.Minor)
	case ProtocolQ2PRO:
		return fmt.Sprintf("q2pro/%d", d.Minor)
	}
	return fmt.Sprintf("unknown/%d", d.Protocol)
}
