package session

import (
	"github.com/energizer-project/fragline/internal/protocol"
)

// backfillLimit is the drop count at which lost commands are no longer
// reconstructed.
const backfillLimit = 20

// think charges cmd against the session's time budget and hands it to the
// simulation unless the budget ran out and time is enforced.
func (srv *Server) think(s *Session, cmd *protocol.UserCmd) {
	s.commandMsec -= int(cmd.Msec)
	s.moves++

	if s.commandMsec < 0 && srv.opts.EnforceTime {
		s.logger.Debug().Int("msec", s.commandMsec).Msg("command msec underflow")
		return
	}
	srv.sim.ClientThink(s, cmd)
}

// setLastFrame records the client's frame acknowledgement and the latency
// sample it implies. Acks of frames not yet sent or already acknowledged
// are ignored. Frames never stamped for this session, or whose ring slot
// has since been reused, give no sample.
func (srv *Server) setLastFrame(s *Session, lastFrame int) {
	if lastFrame > 0 {
		if lastFrame > srv.frameNum {
			return
		}
		if lastFrame <= s.lastFrame {
			return
		}

		now := srv.now()
		sent := s.frames[lastFrame&UpdateMask]
		if !sent.IsZero() && srv.frameNum-lastFrame < UpdateBackup && !sent.After(now) {
			s.latency[lastFrame&LatencyMask] = int(now.Sub(sent).Milliseconds())
		}
		if s.state == StateSpawned {
			s.framesAcked++
		}
	}
	s.lastFrame = lastFrame
}

// executeLegacyMove handles clc_move: an optional checksum, the frame ack
// and three chained commands, oldest first.
func (srv *Server) executeLegacyMove(s *Session, r *protocol.Reader, netDrop int) error {
	if s.dialect.HasChecksum() {
		if _, err := r.ReadUint8(); err != nil {
			return err
		}
	}

	lastFrame, err := r.ReadInt32()
	if err != nil {
		return err
	}
	srv.setLastFrame(s, int(lastFrame))

	codec := s.dialect.LegacyUsercmd()
	oldest, err := codec.Read(r, nil)
	if err != nil {
		return err
	}
	oldcmd, err := codec.Read(r, &oldest)
	if err != nil {
		return err
	}
	newcmd, err := codec.Read(r, &oldcmd)
	if err != nil {
		return err
	}

	if s.state != StateSpawned {
		s.lastFrame = -1
		return nil
	}

	if netDrop > 2 {
		s.frameFlags |= FrameClientPred
	}

	if netDrop < backfillLimit {
		for netDrop > 2 {
			srv.think(s, &s.lastCmd)
			netDrop--
		}
		if netDrop > 1 {
			srv.think(s, &oldest)
		}
		if netDrop > 0 {
			srv.think(s, &oldcmd)
		}
	}
	srv.think(s, &newcmd)

	s.lastCmd = newcmd
	return nil
}

// executeEnhancedMove handles clc_move_nodelta and clc_move_batched: up to
// MaxPacketFrames frames of bit packed commands. The opcode's high bits
// hold the number of duplicated older frames.
func (srv *Server) executeEnhancedMove(s *Session, r *protocol.Reader, c byte, netDrop int) error {
	numDups := int(c >> protocol.SvcmdBits)
	c &= protocol.SvcmdMask

	if numDups >= protocol.MaxPacketFrames {
		return violation(ReasonTooManyFrames)
	}

	lastFrame := -1
	if c != protocol.ClcMoveNoDelta {
		v, err := r.ReadInt32()
		if err != nil {
			return err
		}
		lastFrame = int(v)
	}
	srv.setLastFrame(s, lastFrame)

	light, err := r.ReadUint8()
	if err != nil {
		return err
	}

	var (
		cmds    [protocol.MaxPacketFrames][protocol.MaxPacketUsercmds]protocol.UserCmd
		numCmds [protocol.MaxPacketFrames]int
		last    *protocol.UserCmd
	)
	codec := s.dialect.EnhancedUsercmd()

	for i := 0; i <= numDups; i++ {
		n, err := r.ReadBits(5)
		if err != nil {
			return violation(ReasonReadPastEnd)
		}
		if int(n) >= protocol.MaxPacketUsercmds {
			return violation(ReasonTooManyUsercmds)
		}
		numCmds[i] = int(n)

		for j := 0; j < numCmds[i]; j++ {
			cmd, err := codec.Read(r, last)
			if err != nil {
				return violation(ReasonReadPastEnd)
			}
			cmd.LightLevel = light
			cmds[i][j] = cmd
			last = &cmds[i][j]
		}
	}

	if s.state != StateSpawned {
		s.lastFrame = -1
		return nil
	}
	if last == nil {
		return nil
	}

	if netDrop > numDups {
		s.frameFlags |= FrameClientPred
	}

	if netDrop < backfillLimit {
		// replay the last command while no backup frame covers the gap
		for netDrop > numDups {
			srv.think(s, &s.lastCmd)
			netDrop--
		}
		for netDrop > 0 {
			i := numDups - netDrop
			for j := 0; j < numCmds[i]; j++ {
				srv.think(s, &cmds[i][j])
			}
			netDrop--
		}
	}

	for j := 0; j < numCmds[numDups]; j++ {
		srv.think(s, &cmds[numDups][j])
	}

	s.lastCmd = *last
	return nil
}
