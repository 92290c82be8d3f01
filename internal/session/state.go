// Package session implements the per-client side of the game server: the
// session lifecycle, the server slot table and its single owning loop, the
// inbound message dispatcher, the client command table, user-command
// ingestion with drop backfill, the join sequence and in-band downloads.
package session

// State is the lifecycle position of a session. States are ordered; a
// session only ever moves forward, except that begin before primed
// re-enters new and any state can be dropped back to zombie and free.
type State int

const (
	StateFree State = iota
	StateZombie
	StateAssigned
	StateConnected
	StatePrimed
	StateSpawned
)

// stateStrings maps State values to their lowercase JSON string representation.
var stateStrings = map[State]string{
	StateFree:      "free",
	StateZombie:    "zombie",
	StateAssigned:  "assigned",
	StateConnected: "connected",
	StatePrimed:    "primed",
	StateSpawned:   "spawned",
}

// String returns the string representation of State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes State as a JSON string (e.g. "spawned").
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Flags are per-session options negotiated or toggled during the session.
type Flags uint8

const (
	// FlagReconnected is set once the client echoed the challenge secret.
	FlagReconnected Flags = 1 << iota
	// FlagNoData suppresses game data for spectating tools.
	FlagNoData
	// FlagDeflate enables compressed gamestate transfer.
	FlagDeflate
)

// FrameFlags annotate the next outbound frame.
type FrameFlags uint8

const (
	// FrameClientDrop marks a frame after inbound datagram loss.
	FrameClientDrop FrameFlags = 1 << iota
	// FrameClientPred marks a frame whose input had to be reconstructed.
	FrameClientPred
)

// ServerState is the lifecycle of the world the sessions join.
type ServerState int

const (
	ServerLoading ServerState = iota
	ServerGame
)

// String returns the string representation of ServerState.
func (s ServerState) String() string {
	if s == ServerGame {
		return "game"
	}
	return "loading"
}

// MarshalJSON serializes ServerState as a JSON string.
func (s ServerState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
