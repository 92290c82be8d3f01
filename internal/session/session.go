package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/energizer-project/fragline/internal/challenge"
	"github.com/energizer-project/fragline/internal/download"
	"github.com/energizer-project/fragline/internal/network"
	"github.com/energizer-project/fragline/internal/protocol"
	"github.com/energizer-project/fragline/internal/snapshot"
)

// Ring sizes for frame sent times and latency samples.
const (
	UpdateBackup  = 16
	UpdateMask    = UpdateBackup - 1
	LatencyCounts = 16
	LatencyMask   = LatencyCounts - 1
)

// commandMsecBudget is the movement time a spawned client may spend per
// refill period.
const commandMsecBudget = 1800

// MovementParams are the physics variants announced in serverdata.
type MovementParams struct {
	StrafeHack bool `json:"strafe_hack"`
	QWMode     bool `json:"qw_mode"`
	WaterHack  bool `json:"water_hack"`
}

// Session is one client slot. It is owned by the server loop; nothing
// outside of it may touch a session directly.
type Session struct {
	ID       uuid.UUID
	slot     int
	name     string
	dialect  protocol.Dialect
	state    State
	flags    Flags
	movement MovementParams

	ch  network.Channel
	out *network.Assembler

	frameFlags    FrameFlags
	lastFrame     int
	frames        [UpdateBackup]time.Time
	latency       [LatencyCounts]int
	framesSent    int
	framesAcked   int
	sendDelta     int
	suppressCount int

	lastCmd     protocol.UserCmd
	commandMsec int
	moves       int

	userinfo  string
	baselines snapshot.Baselines
	download  *download.Transfer
	challenge *challenge.Challenge
	settings  [protocol.SettingsMax]uint16
	version   string
	acToken   string

	connectedAt     time.Time
	droppedAt       time.Time
	lastMessage     time.Time
	packetsReceived uint64
	packetsDropped  uint64

	logger zerolog.Logger
}

func newSession(slot int, ch network.Channel, d protocol.Dialect, userinfo string, now time.Time, parent zerolog.Logger) *Session {
	id := uuid.New()
	s := &Session{
		ID:          id,
		slot:        slot,
		dialect:     d,
		state:       StateAssigned,
		ch:          ch,
		out:         network.NewAssembler(ch),
		lastFrame:   -1,
		userinfo:    userinfo,
		name:        protocol.InfoValueForKey(userinfo, "name"),
		connectedAt: now,
		lastMessage: now,
	}
	for i := range s.latency {
		s.latency[i] = -1
	}
	s.logger = parent.With().
		Int("slot", slot).
		Str("session_id", id.String()).
		Str("addr", ch.Address()).
		Logger()
	return s
}

// Slot implements Player.
func (s *Session) Slot() int {
	return s.slot
}

// Name implements Player.
func (s *Session) Name() string {
	return s.name
}

// Userinfo implements Player.
func (s *Session) Userinfo() string {
	return s.userinfo
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Dialect returns the negotiated protocol variant.
func (s *Session) Dialect() protocol.Dialect {
	return s.dialect
}

// Flags returns the session flags.
func (s *Session) Flags() Flags {
	return s.flags
}

// FrameFlags returns the pending frame annotations.
func (s *Session) FrameFlags() FrameFlags {
	return s.frameFlags
}

// Address returns the peer address.
func (s *Session) Address() string {
	return s.ch.Address()
}

// LastFrame returns the last acknowledged frame number, -1 for none.
func (s *Session) LastFrame() int {
	return s.lastFrame
}

// Setting returns an R1Q2 client setting.
func (s *Session) Setting(i int) uint16 {
	if i < 0 || i >= len(s.settings) {
		return 0
	}
	return s.settings[i]
}

// setState moves the session and logs the transition.
func (s *Session) setState(st State) {
	if st == s.state {
		return
	}
	s.logger.Debug().
		Str("from", s.state.String()).
		Str("to", st.String()).
		Msg("session state change")
	s.state = st
}

// Info is a point in time copy of a session for the admin surfaces.
type Info struct {
	ID          string                 `json:"id"`
	Slot        int                    `json:"slot"`
	Name        string                 `json:"name"`
	Address     string                 `json:"address"`
	Dialect     string                 `json:"dialect"`
	State       State                  `json:"state"`
	Reconnected bool                   `json:"reconnected"`
	Version     string                 `json:"version,omitempty"`
	ConnectedAt time.Time              `json:"connected_at"`
	Moves       int                    `json:"moves"`
	FramesAcked int                    `json:"frames_acked"`
	Lag         LagStats               `json:"lag"`
	Download    *DownloadInfo          `json:"download,omitempty"`
	Outbound    network.AssemblerStats `json:"outbound"`
	Received    uint64                 `json:"packets_received"`
	Dropped     uint64                 `json:"packets_dropped"`
}

// DownloadInfo describes an active transfer.
type DownloadInfo struct {
	File     string `json:"file"`
	Category string `json:"category"`
	Size     int    `json:"size"`
	Percent  int    `json:"percent"`
}

// Info snapshots the session.
func (s *Session) Info() Info {
	info := Info{
		ID:          s.ID.String(),
		Slot:        s.slot,
		Name:        s.name,
		Address:     s.ch.Address(),
		Dialect:     s.dialect.String(),
		State:       s.state,
		Reconnected: s.flags&FlagReconnected != 0,
		Version:     s.version,
		ConnectedAt: s.connectedAt,
		Moves:       s.moves,
		FramesAcked: s.framesAcked,
		Lag:         s.LagStats(),
		Outbound:    s.out.Stats(),
		Received:    s.packetsReceived,
		Dropped:     s.packetsDropped,
	}
	if t := s.download; t != nil {
		info.Download = &DownloadInfo{
			File:     t.Name,
			Category: t.Category.String(),
			Size:     t.Size(),
			Percent:  t.Percent(),
		}
	}
	return info
}
