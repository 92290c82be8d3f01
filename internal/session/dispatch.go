package session

import (
	"errors"

	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/protocol"
)

// Drop reasons for protocol violations. Peers and operators see these
// verbatim.
const (
	ReasonReadPastEnd       = "read past end of message"
	ReasonUnknownCommand    = "unknown command byte"
	ReasonOversizeUserinfo  = "oversize userinfo"
	ReasonOversizeStringCmd = "oversize stringcmd"
	ReasonMultipleMoves     = "multiple clc_move commands in packet"
	ReasonTooManyFrames     = "too many frames in packet"
	ReasonTooManyUsercmds   = "too many usercmds in frame"
	ReasonOversizeDeltaKey  = "oversize delta key"
	ReasonOversizeDeltaVal  = "oversize delta value"
	ReasonMalformedDelta    = "malformed delta userinfo"
	ReasonEmptyUserinfo     = "empty userinfo"
	ReasonMalformedUserinfo = "malformed userinfo"
)

// violation is a fatal protocol error carrying its drop reason.
type violation string

func (v violation) Error() string {
	return string(v)
}

// messageState is the per-datagram flood accounting.
type messageState struct {
	moveIssued bool
	stringCmds int
	userinfos  int
	netDrop    int
}

// ExecuteClientMessage parses one inbound datagram opcode by opcode. It
// stops at the end of the data, after the session is dropped, or after a
// command that took the session below assigned.
func (srv *Server) ExecuteClientMessage(s *Session, data []byte, netDrop int) {
	r := protocol.NewReader(data)
	m := &messageState{netDrop: netDrop}

	if netDrop > 0 {
		s.frameFlags |= FrameClientDrop
	}

	for !r.EOF() {
		c, err := r.ReadUint8()
		if err != nil {
			break
		}

		if err := srv.executeOpcode(s, r, c, m); err != nil {
			var v violation
			reason := ReasonReadPastEnd
			if errors.As(err, &v) {
				reason = string(v)
			}
			srv.Drop(s, events.DropViolation, reason)
			break
		}

		if s.state < StateAssigned {
			break
		}
	}
}

func (srv *Server) executeOpcode(s *Session, r *protocol.Reader, c byte, m *messageState) error {
	switch c & protocol.SvcmdMask {
	case protocol.ClcNop:
		return nil

	case protocol.ClcUserinfo:
		info, err := r.ReadString("userinfo", protocol.MaxInfoString)
		if protocol.IsOversize(err) {
			return violation(ReasonOversizeUserinfo)
		}
		if err != nil {
			return err
		}
		if m.userinfos == protocol.MaxPacketUserinfos {
			s.logger.Debug().Msg("too many userinfos")
			return nil
		}
		m.userinfos++
		return srv.updateUserinfo(s, info)

	case protocol.ClcMove:
		if m.moveIssued {
			return violation(ReasonMultipleMoves)
		}
		m.moveIssued = true
		return srv.executeLegacyMove(s, r, m.netDrop)

	case protocol.ClcStringCmd:
		line, err := r.ReadString("stringcmd", protocol.MaxStringChars)
		if protocol.IsOversize(err) {
			return violation(ReasonOversizeStringCmd)
		}
		if err != nil {
			return err
		}
		s.logger.Trace().Str("cmd", line).Msg("client command")
		if m.stringCmds == protocol.MaxPacketStringCmds {
			s.logger.Debug().Msg("too many stringcmds")
			return nil
		}
		srv.ExecuteUserCommand(s, line)
		m.stringCmds++
		return nil

	case protocol.ClcSetting:
		if !s.dialect.HasSettings() {
			return violation(ReasonUnknownCommand)
		}
		idx, err := r.ReadUint16()
		if err != nil {
			return err
		}
		value, err := r.ReadUint16()
		if err != nil {
			return err
		}
		if int(idx) < protocol.SettingsMax {
			s.settings[idx] = value
		}
		return nil

	case protocol.ClcMoveNoDelta, protocol.ClcMoveBatched:
		if !s.dialect.EnhancedMoves() {
			return violation(ReasonUnknownCommand)
		}
		if m.moveIssued {
			return violation(ReasonMultipleMoves)
		}
		m.moveIssued = true
		return srv.executeEnhancedMove(s, r, c, m.netDrop)

	case protocol.ClcUserinfoDelta:
		if !s.dialect.UserinfoDelta() {
			return violation(ReasonUnknownCommand)
		}
		key, err := r.ReadString("delta key", protocol.MaxInfoKey)
		if protocol.IsOversize(err) {
			return violation(ReasonOversizeDeltaKey)
		}
		if err != nil {
			return err
		}
		value, err := r.ReadString("delta value", protocol.MaxInfoValue)
		if protocol.IsOversize(err) {
			return violation(ReasonOversizeDeltaVal)
		}
		if err != nil {
			return err
		}
		if m.userinfos == protocol.MaxPacketUserinfos {
			s.logger.Debug().Msg("too many userinfos")
			return nil
		}
		m.userinfos++

		info, ok := protocol.InfoSetValueForKey(s.userinfo, key, value)
		if !ok {
			return violation(ReasonMalformedDelta)
		}
		return srv.updateUserinfo(s, info)

	default:
		return violation(ReasonUnknownCommand)
	}
}

// updateUserinfo installs a new userinfo string and tells the simulation.
func (srv *Server) updateUserinfo(s *Session, info string) error {
	if info == "" {
		return violation(ReasonEmptyUserinfo)
	}
	if !protocol.InfoValidate(info) {
		return violation(ReasonMalformedUserinfo)
	}
	s.userinfo = info
	srv.sim.ClientUserinfoChanged(s, info)
	s.name = protocol.InfoValueForKey(info, "name")
	return nil
}
