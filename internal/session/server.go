package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/challenge"
	"github.com/energizer-project/fragline/internal/download"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/filter"
	"github.com/energizer-project/fragline/internal/network"
	"github.com/energizer-project/fragline/internal/protocol"
	"github.com/energizer-project/fragline/internal/snapshot"
)

// Server defaults.
const (
	DefaultFrameRate     = 10
	DefaultZombieTimeout = 2 * time.Second
	challengeLifetime    = 60 * time.Second
	inboxSize            = 512
	connectTimeout       = 2 * time.Second
)

// ErrNoSession is returned by the control methods for an empty slot.
var ErrNoSession = errors.New("no session in slot")

// Connect refusals, wrapped in a network.Rejection with the client text.
var (
	errBadVersion  = errors.New("unsupported protocol version")
	errBadUserinfo = errors.New("invalid userinfo string")
	errServerFull  = errors.New("server is full")
)

// Options are the server settings the session layer consumes.
type Options struct {
	Hostname         string
	MapName          string
	Gamedir          string
	MaxClients       int
	FrameRate        int
	ZombieTimeout    time.Duration
	Deflate          bool
	CompressionLevel int
	EnforceTime      bool
	ForceReconnect   string
	Anticheat        bool
	Movement         MovementParams
	ConnectStuff     []string
	BeginStuff       []string
	Downloads        download.Policy
}

// Deps are the collaborators of the server. Nil members get a standalone
// default.
type Deps struct {
	Simulation    Simulation
	Pool          EntityPool
	ConfigStrings *snapshot.ConfigStrings
	Assets        download.Source
	Filters       *filter.List
	Bus           *events.EventBus
	Rand          *rand.Rand
	Clock         func() time.Time
}

type pendingChallenge struct {
	c       *challenge.Challenge
	expires time.Time
}

// Server owns every session. All session state is touched only from the
// goroutine running Run; other goroutines reach it through Deliver and Do.
type Server struct {
	opts   Options
	sim    Simulation
	pool   EntityPool
	cs     *snapshot.ConfigStrings
	assets download.Source
	filter *filter.List
	bus    *events.EventBus
	z      *snapshot.Compressor
	rng    *rand.Rand
	now    func() time.Time

	clients   []*Session
	byChannel map[network.Channel]*Session
	pending   map[string]pendingChallenge
	policy    download.Policy

	state      ServerState
	spawnCount int32
	frameNum   int
	startedAt  time.Time
	active     atomic.Int32

	ctx    context.Context
	inbox  chan func()
	logger zerolog.Logger
}

// NewServer creates a server in the loading state.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if opts.MaxClients <= 0 {
		return nil, fmt.Errorf("max clients must be positive, got %d", opts.MaxClients)
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.ZombieTimeout <= 0 {
		opts.ZombieTimeout = DefaultZombieTimeout
	}

	z, err := snapshot.NewCompressor(opts.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	srv := &Server{
		opts:      opts,
		sim:       deps.Simulation,
		pool:      deps.Pool,
		cs:        deps.ConfigStrings,
		assets:    deps.Assets,
		filter:    deps.Filters,
		bus:       deps.Bus,
		z:         z,
		rng:       deps.Rand,
		now:       deps.Clock,
		clients:   make([]*Session, opts.MaxClients),
		byChannel: make(map[network.Channel]*Session),
		pending:   make(map[string]pendingChallenge),
		policy:    opts.Downloads,
		ctx:       context.Background(),
		inbox:     make(chan func(), inboxSize),
		logger:    log.With().Str("component", "session").Logger(),
	}
	if srv.sim == nil {
		srv.sim = NopSimulation{}
	}
	if srv.pool == nil {
		srv.pool = &StaticPool{}
	}
	if srv.cs == nil {
		srv.cs = snapshot.NewConfigStrings()
	}
	if srv.assets == nil {
		srv.assets = &download.MemSource{}
	}
	if srv.filter == nil {
		srv.filter = filter.NewList("")
	}
	if srv.rng == nil {
		srv.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if srv.now == nil {
		srv.now = time.Now
	}
	srv.spawnCount = srv.rng.Int31() & 0x7fffffff
	srv.startedAt = srv.now()

	if opts.MapName != "" {
		if err := srv.cs.Set(protocol.CSName, opts.MapName); err != nil {
			return nil, fmt.Errorf("failed to set map name: %w", err)
		}
	}
	return srv, nil
}

// Activate puts the world into the game state. Filters and simulation
// commands are only consulted once the server is active.
func (srv *Server) Activate() {
	srv.state = ServerGame
	srv.logger.Info().
		Str("map", srv.opts.MapName).
		Int32("spawncount", srv.spawnCount).
		Msg("server active")
}

// ConfigStrings returns the configstring table.
func (srv *Server) ConfigStrings() *snapshot.ConfigStrings {
	return srv.cs
}

// Filters returns the command filter list.
func (srv *Server) Filters() *filter.List {
	return srv.filter
}

// Options returns the settings the server was created with.
func (srv *Server) Options() Options {
	return srv.opts
}

// ActiveCount returns the number of sessions above zombie. Safe for any
// goroutine.
func (srv *Server) ActiveCount() int {
	return int(srv.active.Load())
}

// Run serves the inbox and the frame tick until ctx is cancelled. Every
// session is dropped on the way out.
func (srv *Server) Run(ctx context.Context) error {
	srv.ctx = ctx
	ticker := time.NewTicker(time.Second / time.Duration(srv.opts.FrameRate))
	defer ticker.Stop()

	srv.logger.Info().
		Int("max_clients", srv.opts.MaxClients).
		Int("frame_rate", srv.opts.FrameRate).
		Msg("session loop started")

	for {
		select {
		case <-ctx.Done():
			srv.shutdown()
			return nil
		case fn := <-srv.inbox:
			fn()
		case <-ticker.C:
			srv.Frame()
		}
	}
}

// Deliver queues an inbound datagram for the session bound to ch. The
// channel's drop count is sampled here, before the next datagram on the
// same channel can change it.
func (srv *Server) Deliver(ch network.Channel, data []byte) {
	dropped := ch.Dropped()
	select {
	case srv.inbox <- func() { srv.receive(ch, data, dropped) }:
	default:
		srv.logger.Warn().Str("addr", ch.Address()).Msg("inbox full, discarding datagram")
	}
}

// Do runs fn on the server loop and waits for it to finish.
func (srv *Server) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case srv.inbox <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleConnect implements network.PacketHandler.
func (srv *Server) HandleConnect(ch network.Channel, proto, minor int, userinfo string) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var err error
	if doErr := srv.Do(ctx, func() { _, err = srv.Connect(ch, proto, minor, userinfo) }); doErr != nil {
		return fmt.Errorf("server busy: %w", doErr)
	}
	return err
}

// HandlePacket implements network.PacketHandler.
func (srv *Server) HandlePacket(ch network.Channel, data []byte) {
	srv.Deliver(ch, data)
}

// HandleTimeout implements network.PacketHandler.
func (srv *Server) HandleTimeout(ch network.Channel) {
	select {
	case srv.inbox <- func() {
		if s, ok := srv.byChannel[ch]; ok {
			srv.Drop(s, events.DropTimeout, "timed out")
			srv.Remove(s)
		}
	}:
	default:
	}
}

// StatusLine implements network.PacketHandler.
func (srv *Server) StatusLine() string {
	return fmt.Sprintf("%16s %8s %2d/%2d\n",
		srv.opts.Hostname, srv.opts.MapName, srv.ActiveCount(), srv.opts.MaxClients)
}

// Connect binds a new session to ch. A previous session from the same
// address is replaced and its slot reused.
func (srv *Server) Connect(ch network.Channel, proto, minor int, userinfo string) (*Session, error) {
	d, err := protocol.ParseDialect(proto, minor)
	if err != nil {
		return nil, &network.Rejection{
			Err:     fmt.Errorf("%w: %v", errBadVersion, err),
			Message: fmt.Sprintf("Server is version %d.", protocol.ProtocolQ2PRO),
		}
	}
	if userinfo == "" || !protocol.InfoValidate(userinfo) {
		return nil, &network.Rejection{Err: errBadUserinfo, Message: "Invalid userinfo string."}
	}

	slot := -1
	for i, c := range srv.clients {
		if c != nil && c.Address() == ch.Address() {
			srv.Drop(c, events.DropDisconnect, "")
			srv.Remove(c)
			slot = i
			break
		}
	}
	if slot < 0 {
		for i, c := range srv.clients {
			if c == nil {
				slot = i
				break
			}
		}
	}
	if slot < 0 {
		return nil, &network.Rejection{Err: errServerFull, Message: "Server is full."}
	}

	now := srv.now()
	s := newSession(slot, ch, d, userinfo, now, srv.logger)
	s.movement = srv.opts.Movement
	if srv.opts.Deflate && d.SupportsDeflate() {
		s.flags |= FlagDeflate
	}
	if srv.opts.ForceReconnect != "" && ch.IsLocal() {
		s.flags |= FlagReconnected
	}
	if p, ok := srv.pending[ch.Address()]; ok {
		delete(srv.pending, ch.Address())
		if now.Before(p.expires) {
			s.challenge = p.c
		}
	}

	srv.clients[slot] = s
	srv.byChannel[ch] = s
	srv.active.Add(1)

	s.logger.Info().
		Str("name", s.name).
		Str("dialect", d.String()).
		Str("channel", ch.Kind().String()).
		Msg("client connected")
	srv.emit(events.EventSessionConnected, events.SessionPayload{SessionRef: s.ref(), Userinfo: userinfo})
	return s, nil
}

// Drop is the single teardown path of a session: it closes any download,
// tells the simulation, notifies the client and leaves the slot as a
// zombie. An empty reason disconnects silently.
func (srv *Server) Drop(s *Session, kind events.DropKind, reason string) {
	if s.state <= StateZombie {
		return
	}
	old := s.state

	srv.closeDownload(s)
	if old == StateSpawned {
		srv.sim.ClientDisconnect(s)
	}

	if reason != "" {
		if old == StateSpawned {
			msg := fmt.Sprintf("%s was dropped: %s\n", s.name, reason)
			for _, c := range srv.clients {
				if c != nil && c != s && c.state >= StateConnected {
					srv.print(c, protocol.PrintHigh, msg)
				}
			}
		}
		srv.print(s, protocol.PrintHigh, "Server disconnected you: "+reason+"\n")
	}
	s.out.Writer().WriteUint8(protocol.SvcDisconnect)
	if err := s.out.Flush(network.MsgReliable | network.MsgClear); err != nil {
		s.logger.Debug().Err(err).Msg("failed to send disconnect")
	}

	if s.challenge != nil && s.flags&FlagReconnected == 0 {
		srv.pending[s.Address()] = pendingChallenge{c: s.challenge, expires: srv.now().Add(challengeLifetime)}
	}
	s.challenge = nil

	s.setState(StateZombie)
	s.droppedAt = srv.now()
	srv.active.Add(-1)

	ev := s.logger.Info()
	if kind == events.DropViolation || kind == events.DropCompression {
		ev = s.logger.Warn()
	}
	ev.Str("kind", kind.String()).Str("reason", reason).Msg("client dropped")

	srv.emit(events.EventSessionDropped, events.SessionDroppedPayload{
		SessionRef: s.ref(),
		Kind:       kind,
		Reason:     reason,
		Duration:   s.droppedAt.Sub(s.connectedAt),
	})
}

// Remove frees a zombie's slot and closes its channel.
func (srv *Server) Remove(s *Session) {
	if s.state == StateFree {
		return
	}
	if s.state > StateZombie {
		srv.active.Add(-1)
	}
	s.setState(StateFree)
	delete(srv.byChannel, s.ch)
	if srv.clients[s.slot] == s {
		srv.clients[s.slot] = nil
	}
	if err := s.ch.Close(); err != nil && !errors.Is(err, network.ErrChannelClosed) {
		s.logger.Debug().Err(err).Msg("failed to close channel")
	}
}

// Frame advances the server frame: stamps send times for spawned
// sessions, refills their command time budget every 16 frames, and reaps
// zombies and expired challenges.
func (srv *Server) Frame() {
	srv.frameNum++
	now := srv.now()

	for _, s := range srv.clients {
		if s == nil {
			continue
		}
		switch s.state {
		case StateZombie:
			if now.Sub(s.droppedAt) >= srv.opts.ZombieTimeout {
				srv.Remove(s)
			}
		case StateSpawned:
			s.frames[srv.frameNum&UpdateMask] = now
			s.framesSent++
			s.frameFlags = 0
			if srv.frameNum&15 == 0 {
				s.commandMsec = commandMsecBudget
			}
		}
	}

	for addr, p := range srv.pending {
		if now.After(p.expires) {
			delete(srv.pending, addr)
		}
	}
}

// FrameNum returns the current server frame.
func (srv *Server) FrameNum() int {
	return srv.frameNum
}

func (srv *Server) shutdown() {
	for _, s := range srv.clients {
		if s == nil {
			continue
		}
		srv.Drop(s, events.DropShutdown, "")
		srv.Remove(s)
	}
	srv.logger.Info().Msg("session loop stopped")
}

// receive dispatches one datagram on the loop.
func (srv *Server) receive(ch network.Channel, data []byte, dropped int) {
	s, ok := srv.byChannel[ch]
	if !ok || s.state < StateAssigned {
		return
	}
	s.packetsReceived++
	s.packetsDropped += uint64(dropped)
	s.lastMessage = srv.now()
	srv.ExecuteClientMessage(s, data, dropped)
}

func (srv *Server) session(slot int) *Session {
	if slot < 0 || slot >= len(srv.clients) {
		return nil
	}
	s := srv.clients[slot]
	if s == nil || s.state < StateAssigned {
		return nil
	}
	return s
}

func (srv *Server) emit(t events.EventType, payload interface{}) {
	if srv.bus == nil {
		return
	}
	srv.bus.Emit(srv.ctx, events.Event{Type: t, Source: "session", Payload: payload})
}

func (s *Session) ref() events.SessionRef {
	return events.SessionRef{
		SessionID: s.ID.String(),
		Slot:      s.slot,
		Name:      s.name,
		Address:   s.ch.Address(),
		Dialect:   s.dialect.String(),
	}
}

// stuff sends a reliable svc_stufftext.
func (srv *Server) stuff(s *Session, text string) {
	if err := s.out.Stuff(text); err != nil {
		s.logger.Debug().Err(err).Msg("failed to stuff text")
	}
}

// print sends a reliable svc_print.
func (srv *Server) print(s *Session, level byte, text string) {
	if err := s.out.Print(level, text); err != nil {
		s.logger.Debug().Err(err).Msg("failed to print")
	}
}

// serverinfo builds the info string answered to the info command.
func (srv *Server) serverinfo() string {
	info := ""
	set := func(k, v string) {
		if next, ok := protocol.InfoSetValueForKey(info, k, v); ok {
			info = next
		}
	}
	set("hostname", srv.opts.Hostname)
	set("mapname", srv.opts.MapName)
	set("gamedir", srv.opts.Gamedir)
	set("maxclients", fmt.Sprint(srv.opts.MaxClients))
	set("protocol", fmt.Sprint(protocol.ProtocolDefault))
	return info
}

// Status is the server summary for the admin surfaces.
type Status struct {
	Hostname   string          `json:"hostname"`
	MapName    string          `json:"map"`
	Gamedir    string          `json:"gamedir"`
	State      ServerState     `json:"state"`
	FrameNum   int             `json:"frame"`
	SpawnCount int32           `json:"spawncount"`
	Clients    int             `json:"clients"`
	MaxClients int             `json:"max_clients"`
	Uptime     string          `json:"uptime"`
	Policy     download.Policy `json:"download_policy"`
}

// Status snapshots the server on the loop.
func (srv *Server) Status(ctx context.Context) (Status, error) {
	var st Status
	err := srv.Do(ctx, func() {
		st = Status{
			Hostname:   srv.opts.Hostname,
			MapName:    srv.opts.MapName,
			Gamedir:    srv.opts.Gamedir,
			State:      srv.state,
			FrameNum:   srv.frameNum,
			SpawnCount: srv.spawnCount,
			Clients:    srv.ActiveCount(),
			MaxClients: srv.opts.MaxClients,
			Uptime:     srv.now().Sub(srv.startedAt).Round(time.Second).String(),
			Policy:     srv.policy,
		}
	})
	return st, err
}

// Sessions snapshots every occupied slot.
func (srv *Server) Sessions(ctx context.Context) ([]Info, error) {
	var out []Info
	err := srv.Do(ctx, func() {
		for _, s := range srv.clients {
			if s != nil {
				out = append(out, s.Info())
			}
		}
	})
	return out, err
}

// SessionInfo snapshots one slot.
func (srv *Server) SessionInfo(ctx context.Context, slot int) (Info, error) {
	var info Info
	found := false
	err := srv.Do(ctx, func() {
		if s := srv.session(slot); s != nil {
			info, found = s.Info(), true
		}
	})
	if err != nil {
		return info, err
	}
	if !found {
		return info, ErrNoSession
	}
	return info, nil
}

// Kick drops the session in slot.
func (srv *Server) Kick(ctx context.Context, slot int, reason string) error {
	found := false
	err := srv.Do(ctx, func() {
		if s := srv.session(slot); s != nil {
			found = true
			srv.Drop(s, events.DropKicked, reason)
		}
	})
	if err == nil && !found {
		return ErrNoSession
	}
	return err
}

// StuffText sends a console command to the session in slot.
func (srv *Server) StuffText(ctx context.Context, slot int, text string) error {
	found := false
	err := srv.Do(ctx, func() {
		if s := srv.session(slot); s != nil {
			found = true
			srv.stuff(s, text+"\n")
		}
	})
	if err == nil && !found {
		return ErrNoSession
	}
	return err
}

// SetPolicy replaces the download policy.
func (srv *Server) SetPolicy(ctx context.Context, p download.Policy) error {
	return srv.Do(ctx, func() {
		srv.policy = p
		srv.logger.Info().Bool("enabled", p.Enabled).Msg("download policy updated")
	})
}

// LagAlerts evaluates every spawned session against the lag thresholds.
func (srv *Server) LagAlerts(ctx context.Context) ([]LagAlert, error) {
	var alerts []LagAlert
	err := srv.Do(ctx, func() {
		for _, s := range srv.clients {
			if s == nil {
				continue
			}
			if a, ok := checkLag(s); ok {
				alerts = append(alerts, a)
			}
		}
	})
	return alerts, err
}
