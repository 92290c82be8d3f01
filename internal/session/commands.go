package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/energizer-project/fragline/internal/challenge"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/filter"
	"github.com/energizer-project/fragline/internal/protocol"
)

// cvarResultCmd prefixes the replies clients send to server cvar queries.
const cvarResultCmd = "\177c"

const anticheatUnsupported = "This server does not support anticheat.\n"

type commandFunc func(srv *Server, s *Session, args *Args)

// userCommands are the client commands the server answers itself. A nil
// handler accepts the command and does nothing.
var userCommands map[string]commandFunc

func init() {
	userCommands = map[string]commandFunc{
		// auto issued
		"new":           (*Server).handleNew,
		"begin":         (*Server).handleBegin,
		"baselines":     nil,
		"configstrings": nil,
		"nextserver":    nil,
		"disconnect":    (*Server).handleDisconnect,

		// issued by hand at client consoles
		"info":        (*Server).handleInfo,
		"download":    (*Server).handleBeginDownload,
		"nextdl":      (*Server).handleNextDownload,
		"stopdl":      (*Server).handleStopDownload,
		cvarResultCmd: (*Server).handleCvarResult,
		"nogamedata":  (*Server).handleNoGameData,
		"lag":         (*Server).handleLag,
		"aclist":      (*Server).handleAnticheat,
		"acinfo":      (*Server).handleAnticheat,
	}
}

// ExecuteUserCommand resolves one client console command: the built-in
// table first, then once the world is live the operator filters, then the
// simulation.
func (srv *Server) ExecuteUserCommand(s *Session, line string) {
	args := Tokenize(line)
	cmd := args.Argv(0)
	if cmd == "" {
		return
	}

	if fn, ok := userCommands[cmd]; ok {
		if fn != nil {
			fn(srv, s, args)
		}
		return
	}

	if srv.state < ServerGame {
		return
	}

	if f, ok := srv.filter.Find(cmd); ok {
		srv.handleFilter(s, cmd, f)
		return
	}

	srv.sim.ClientCommand(s, args.All())
}

func (srv *Server) handleFilter(s *Session, cmd string, f filter.Filter) {
	s.logger.Debug().Str("cmd", cmd).Str("action", string(f.Action)).Msg("filtered command")
	srv.emit(events.EventFilterMatched, events.FilterMatchedPayload{
		SessionRef: s.ref(),
		Command:    cmd,
		Action:     string(f.Action),
	})

	switch f.Action {
	case filter.ActionPrint:
		srv.print(s, protocol.PrintHigh, f.Comment+"\n")
	case filter.ActionStuff:
		srv.stuff(s, f.Comment+"\n")
	case filter.ActionKick:
		reason := f.Comment
		if reason == "" {
			reason = "issued banned command"
		}
		srv.Drop(s, events.DropKicked, reason)
	}
}

func (srv *Server) handleDisconnect(s *Session, args *Args) {
	s.logger.Info().Str("name", s.name).Msg("client disconnected")
	srv.Drop(s, events.DropDisconnect, "")
	srv.Remove(s)
}

// handleInfo prints the serverinfo string, one key per line.
func (srv *Server) handleInfo(s *Session, args *Args) {
	var b strings.Builder
	for _, kv := range protocol.InfoPairs(srv.serverinfo()) {
		fmt.Fprintf(&b, "%-20s %s\n", kv[0], kv[1])
	}
	srv.printLong(s, b.String())
}

// printLong prints text split into records that fit the print buffer.
func (srv *Server) printLong(s *Session, text string) {
	const chunk = protocol.MaxStringChars - 1
	for len(text) > 0 {
		n := len(text)
		if n > chunk {
			n = chunk
		}
		srv.print(s, protocol.PrintHigh, text[:n])
		text = text[n:]
	}
}

func (srv *Server) handleNoGameData(s *Session, args *Args) {
	s.flags ^= FlagNoData
}

func (srv *Server) handleLag(s *Session, args *Args) {
	target := s
	if args.Argc() > 1 {
		target = srv.findPlayer(args.Argv(1))
		if target == nil {
			srv.print(s, protocol.PrintHigh, fmt.Sprintf("Player %s is not on the server.\n", args.Argv(1)))
			return
		}
	}
	srv.print(s, protocol.PrintHigh, formatLag(target.name, target.LagStats()))
}

// findPlayer resolves a slot number or a player name.
func (srv *Server) findPlayer(id string) *Session {
	if n, err := strconv.Atoi(id); err == nil {
		if s := srv.session(n); s != nil && s.state >= StateConnected {
			return s
		}
		return nil
	}
	for _, s := range srv.clients {
		if s != nil && s.state >= StateConnected && strings.EqualFold(s.name, id) {
			return s
		}
	}
	return nil
}

// handleCvarResult records the client's answers to stuffed cvar queries.
func (srv *Server) handleCvarResult(s *Session, args *Args) {
	switch args.Argv(1) {
	case "version":
		if s.version == "" {
			s.version = args.RawFrom(2)
			s.logger.Info().Str("name", s.name).Str("version", s.version).Msg("client version")
		}
	case "connect":
		if s.challenge != nil {
			if challenge.Matches(s.challenge.Val(), args.Argv(2)) {
				s.flags |= FlagReconnected
				s.logger.Debug().Msg("reconnect challenge passed")
				srv.emit(events.EventReconnectVerified, events.ChallengePayload{
					SessionRef: s.ref(),
					Variable:   s.challenge.Var(),
				})
			}
		}
	case "actoken":
		if srv.opts.Anticheat {
			s.acToken = args.Argv(2)
		}
	}
}

func (srv *Server) handleAnticheat(s *Session, args *Args) {
	if !srv.opts.Anticheat {
		srv.print(s, protocol.PrintHigh, anticheatUnsupported)
		return
	}

	token := "no"
	if s.acToken != "" {
		token = "yes"
	}
	srv.print(s, protocol.PrintHigh, fmt.Sprintf("Anticheat token present: %s\n", token))
}

// stuffList sends each operator command as its own stufftext record.
func (srv *Server) stuffList(s *Session, cmds []string) {
	for _, c := range cmds {
		srv.stuff(s, c+"\n")
	}
}
