package session

import (
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/protocol"
	"github.com/energizer-project/fragline/internal/snapshot"
)

// Player is the view of a session handed to the simulation.
type Player interface {
	Slot() int
	Name() string
	Userinfo() string
}

// Simulation is the game module. Every hook is called on the server loop
// and must not call back into the server.
type Simulation interface {
	ClientBegin(p Player)
	ClientThink(p Player, cmd *protocol.UserCmd)
	ClientCommand(p Player, args []string)
	ClientUserinfoChanged(p Player, userinfo string)
	ClientDisconnect(p Player)
}

// EntityPool is the simulation's entity array.
type EntityPool = snapshot.EntityPool

// NopSimulation accepts every hook and does nothing. The standalone binary
// runs with it so clients can join an empty world.
type NopSimulation struct{}

func (NopSimulation) ClientBegin(p Player) {
	log.Debug().Int("slot", p.Slot()).Str("name", p.Name()).Msg("client entered the game")
}

func (NopSimulation) ClientThink(p Player, cmd *protocol.UserCmd) {}

func (NopSimulation) ClientCommand(p Player, args []string) {
	log.Debug().Int("slot", p.Slot()).Strs("args", args).Msg("unhandled client command")
}

func (NopSimulation) ClientUserinfoChanged(p Player, userinfo string) {}

func (NopSimulation) ClientDisconnect(p Player) {}

// StaticPool is a fixed entity array. Every slot past the world is in use;
// the baseline table skips the ones that are not visible.
type StaticPool struct {
	States []protocol.EntityState
}

// NumEntities implements EntityPool.
func (p *StaticPool) NumEntities() int {
	return len(p.States)
}

// Entity implements EntityPool.
func (p *StaticPool) Entity(i int) (protocol.EntityState, bool) {
	if i <= 0 || i >= len(p.States) {
		return protocol.EntityState{}, false
	}
	return p.States[i], true
}
