package session

import (
	"errors"
	"fmt"

	"github.com/energizer-project/fragline/internal/challenge"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/network"
	"github.com/energizer-project/fragline/internal/protocol"
	"github.com/energizer-project/fragline/internal/snapshot"
)

// gameTypeDeathmatch is the legacy game type byte of Q2PRO serverdata.
const gameTypeDeathmatch = 2

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// handleNew sends the join sequence: serverdata, the connect time stuff
// commands, the configstrings and baselines, and finally the precache
// request that makes the client answer with begin.
func (srv *Server) handleNew(s *Session, args *Args) {
	s.logger.Debug().Msg("new from client")

	old := s.state
	if s.state < StateConnected {
		s.setState(StateConnected)
		s.lastMessage = srv.now()
	} else if s.state > StateConnected {
		s.logger.Debug().Msg("new not valid, already primed")
		return
	}

	if srv.opts.ForceReconnect != "" && s.challenge == nil && !s.ch.IsLocal() {
		srv.issueChallenge(s)
		return
	}

	srv.stuff(s, "\n")

	s.baselines.Rebuild(srv.pool)
	srv.writeServerData(s)

	srv.stuff(s, "\n")

	if old == StateAssigned {
		text := cvarQuery("version")
		if srv.opts.Anticheat {
			text += cvarQuery("actoken")
		}
		srv.stuff(s, text)
		srv.stuffList(s, srv.opts.ConnectStuff)
	}

	if srv.opts.ForceReconnect != "" && s.flags&FlagReconnected == 0 {
		v := ""
		if s.challenge != nil {
			v = s.challenge.Var()
		}
		srv.stuff(s, fmt.Sprintf("cmd %s connect $%s\n", cvarResultCmd, v))
	}

	s.setState(StatePrimed)
	s.lastCmd = protocol.UserCmd{}

	if err := srv.writeGamestate(s); err != nil {
		if errors.Is(err, snapshot.ErrGamestateDeflate) || errors.Is(err, snapshot.ErrConfigstringsDeflate) {
			srv.Drop(s, events.DropCompression, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("failed to send gamestate")
		srv.Drop(s, events.DropDisconnect, "failed to send gamestate")
		return
	}

	srv.stuff(s, fmt.Sprintf("precache %d\n", srv.spawnCount))
	srv.emit(events.EventSessionPrimed, events.SessionPayload{SessionRef: s.ref()})
}

func cvarQuery(name string) string {
	return fmt.Sprintf("cmd %s %s $%s\n", cvarResultCmd, name, name)
}

// issueChallenge stuffs the reconnect chain and drops the session. The
// secret survives the drop so the reconnect from the same address can
// answer it.
func (srv *Server) issueChallenge(s *Session) {
	c := challenge.New(srv.rng)
	s.challenge = c
	for _, line := range c.Commands(srv.opts.ForceReconnect) {
		srv.stuff(s, line)
	}

	s.logger.Debug().Msg("issued reconnect challenge")
	srv.emit(events.EventChallengeIssued, events.ChallengePayload{
		SessionRef: s.ref(),
		Variable:   c.Var(),
	})
	srv.Drop(s, events.DropChallenge, "")
}

func (srv *Server) writeServerData(s *Session) {
	w := s.out.Writer()
	w.WriteUint8(protocol.SvcServerData).
		WriteInt32(int32(s.dialect.Protocol)).
		WriteInt32(srv.spawnCount).
		WriteUint8(0).
		WriteNullString(srv.opts.Gamedir).
		WriteInt16(int16(s.slot)).
		WriteNullString(srv.cs.Get(protocol.CSName))

	mp := s.movement
	switch {
	case s.dialect.IsR1Q2():
		w.WriteUint8(0).
			WriteInt16(int16(s.dialect.Minor)).
			WriteUint8(0).
			WriteUint8(boolByte(mp.StrafeHack))
	case s.dialect.IsQ2PRO():
		w.WriteInt16(int16(s.dialect.Minor)).
			WriteUint8(gameTypeDeathmatch).
			WriteUint8(boolByte(mp.StrafeHack)).
			WriteUint8(boolByte(mp.QWMode))
		if s.dialect.WaterJumpHack() {
			w.WriteUint8(boolByte(mp.WaterHack))
		}
	}

	if err := s.out.Flush(network.MsgReliable | network.MsgClear); err != nil {
		s.logger.Debug().Err(err).Msg("failed to send serverdata")
	}
}

// writeGamestate sends configstrings and baselines in the form the
// session's flags and channel allow.
func (srv *Server) writeGamestate(s *Session) error {
	var flags protocol.EntityFlags
	if s.dialect.LongSolid() {
		flags |= protocol.EntityLongSolid
	}

	if s.flags&FlagDeflate != 0 {
		if s.ch.Kind() == network.ChannelNew {
			return snapshot.WriteCompressedGamestate(s.out, srv.z, srv.cs, &s.baselines, flags)
		}
		if err := snapshot.WriteCompressedConfigstrings(s.out, srv.z, srv.cs); err != nil {
			return err
		}
		return snapshot.WritePlainBaselines(s.out, &s.baselines, flags)
	}

	if err := snapshot.WritePlainConfigstrings(s.out, srv.cs); err != nil {
		return err
	}
	return snapshot.WritePlainBaselines(s.out, &s.baselines, flags)
}

// handleBegin spawns a primed session into the game.
func (srv *Server) handleBegin(s *Session, args *Args) {
	s.logger.Debug().Msg("begin from client")

	if s.state < StatePrimed {
		s.logger.Debug().Msg("begin not valid, not yet primed")
		srv.handleNew(s, args)
		return
	}
	if s.state > StatePrimed {
		s.logger.Debug().Msg("begin not valid, already spawned")
		return
	}

	if srv.opts.ForceReconnect != "" && s.flags&FlagReconnected == 0 {
		s.logger.Info().Str("name", s.name).Msg("failed to reconnect")
		srv.Drop(s, events.DropReconnectFailed, "")
		return
	}

	s.setState(StateSpawned)
	s.sendDelta = 0
	s.commandMsec = commandMsecBudget
	s.suppressCount = 0

	srv.stuffList(s, srv.opts.BeginStuff)
	srv.sim.ClientBegin(s)
	srv.emit(events.EventSessionSpawned, events.SessionPayload{SessionRef: s.ref()})
}
