// Package cli implements the operator console: server status, per-session
// lag, kicks, the filter list and configstrings.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/filter"
	"github.com/energizer-project/fragline/internal/session"
	"github.com/energizer-project/fragline/internal/snapshot"
)

// Game is the part of the session server the console drives.
type Game interface {
	Status(ctx context.Context) (session.Status, error)
	Sessions(ctx context.Context) ([]session.Info, error)
	SessionInfo(ctx context.Context, slot int) (session.Info, error)
	Kick(ctx context.Context, slot int, reason string) error
	StuffText(ctx context.Context, slot int, text string) error
	ConfigStrings() *snapshot.ConfigStrings
	Filters() *filter.List
}

var errQuit = errors.New("quit")

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	game     Game
	shutdown func()

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading in and writing out. shutdown is called
// by quit.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, game Game, shutdown func(), in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		game:     game,
		shutdown: shutdown,
		in:       in,
		out:      out,
	}
}

// Start runs the console loop until input ends, quit is entered or ctx is
// cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nfragline console ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "fragline> ")
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}

		err := c.Execute(ctx, line)
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// Execute runs one command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.cmdStatus(ctx)
	case "lag":
		return c.cmdLag(ctx, args)
	case "kick":
		return c.cmdKick(ctx, args)
	case "stuff":
		return c.cmdStuff(ctx, args)
	case "filters", "filter":
		return c.cmdFilters(args)
	case "cs":
		return c.cmdConfigStrings(args)
	case "setconfig":
		return c.cmdSetConfig(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down fragline...")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		}
		if c.shutdown != nil {
			c.shutdown()
		}
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                   fragline console commands                  ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status               Server summary and session table       ║")
	fmt.Fprintln(c.out, "║  lag <slot>           Latency and loss of one session        ║")
	fmt.Fprintln(c.out, "║  kick <slot> [reason] Drop a session                         ║")
	fmt.Fprintln(c.out, "║  stuff <slot> <cmd>   Run a console command on a client      ║")
	fmt.Fprintln(c.out, "║  filters              List command filters                   ║")
	fmt.Fprintln(c.out, "║  filters add <m> <a>  Add a filter (ignore/print/stuff/kick) ║")
	fmt.Fprintln(c.out, "║  filters del <m>      Remove a filter                        ║")
	fmt.Fprintln(c.out, "║  cs [index]           Show configstrings                     ║")
	fmt.Fprintln(c.out, "║  setconfig <k> <v>    Update a server_data value             ║")
	fmt.Fprintln(c.out, "║  quit                 Shutdown fragline                      ║")
	fmt.Fprintln(c.out, "║  help                 Show this help message                 ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdStatus(ctx context.Context) error {
	st, err := c.game.Status(ctx)
	if err != nil {
		return err
	}
	infos, err := c.game.Sessions(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  Hostname: %s\n", st.Hostname)
	fmt.Fprintf(c.out, "  Map:      %s (%s)\n", st.MapName, st.Gamedir)
	fmt.Fprintf(c.out, "  State:    %s, frame %d, spawncount %d\n", st.State, st.FrameNum, st.SpawnCount)
	fmt.Fprintf(c.out, "  Clients:  %d/%d\n", st.Clients, st.MaxClients)
	fmt.Fprintf(c.out, "  Uptime:   %s\n\n", st.Uptime)

	if len(infos) == 0 {
		fmt.Fprintln(c.out, "  No sessions.")
		fmt.Fprintln(c.out)
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Slot", "Name", "Address", "Dialect", "State", "Ping", "Loss"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, info := range infos {
		loss := info.Lag.LossS2C
		if info.Lag.LossC2S > loss {
			loss = info.Lag.LossC2S
		}
		tw.Append([]string{
			strconv.Itoa(info.Slot),
			info.Name,
			info.Address,
			info.Dialect,
			info.State.String(),
			strconv.Itoa(info.Lag.AvgPing),
			fmt.Sprintf("%.1f%%", loss),
		})
	}

	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) cmdLag(ctx context.Context, args []string) error {
	slot, err := parseSlotArg(args)
	if err != nil {
		return err
	}
	info, err := c.game.SessionInfo(ctx, slot)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Metric", "Value"})
	tw.SetAutoWrapText(false)
	tw.AppendBulk([][]string{
		{"Name", info.Name},
		{"RTT min/avg/max", fmt.Sprintf("%d/%d/%d ms", info.Lag.MinPing, info.Lag.AvgPing, info.Lag.MaxPing)},
		{"Server to client PL", fmt.Sprintf("%.2f%% (approx)", info.Lag.LossS2C)},
		{"Client to server PL", fmt.Sprintf("%.2f%%", info.Lag.LossC2S)},
		{"Packets received", strconv.FormatUint(info.Received, 10)},
		{"Packets dropped", strconv.FormatUint(info.Dropped, 10)},
	})
	tw.Render()
	return nil
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	slot, err := parseSlotArg(args)
	if err != nil {
		return err
	}
	reason := "Kicked by console"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	if err := c.game.Kick(ctx, slot, reason); err != nil {
		return err
	}
	log.Info().Int("slot", slot).Str("reason", reason).Msg("CLI: session kicked")
	fmt.Fprintf(c.out, "Kicked slot %d\n", slot)
	return nil
}

func (c *CLI) cmdStuff(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: stuff <slot> <command>")
	}
	slot, err := parseSlotArg(args)
	if err != nil {
		return err
	}
	return c.game.StuffText(ctx, slot, strings.Join(args[1:], " "))
}

func (c *CLI) cmdFilters(args []string) error {
	list := c.game.Filters()

	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "add":
			if len(args) < 2 {
				return fmt.Errorf("usage: filters add <match> [action] [comment]")
			}
			f := filter.Filter{Match: args[1]}
			if len(args) > 2 {
				f.Action = filter.Action(args[2])
			}
			if len(args) > 3 {
				f.Comment = strings.Join(args[3:], " ")
			}
			if err := list.Add(f); err != nil {
				return err
			}
			return list.Save()
		case "del", "remove":
			if len(args) < 2 {
				return fmt.Errorf("usage: filters del <match>")
			}
			if !list.Remove(args[1]) {
				return fmt.Errorf("no filter for %q", args[1])
			}
			return list.Save()
		default:
			return fmt.Errorf("unknown filters subcommand %q", args[0])
		}
	}

	all := list.All()
	if len(all) == 0 {
		fmt.Fprintln(c.out, "No filters.")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Command", "Action", "Comment"})
	tw.SetAutoWrapText(false)
	for _, f := range all {
		tw.Append([]string{f.Match, string(f.Action), f.Comment})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdConfigStrings(args []string) error {
	cs := c.game.ConfigStrings()
	if len(args) > 0 {
		i, err := strconv.Atoi(args[0])
		if err != nil || i < 0 {
			return fmt.Errorf("invalid configstring index %q", args[0])
		}
		fmt.Fprintf(c.out, "%4d %s\n", i, cs.Get(i))
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Index", "Value"})
	tw.SetAutoWrapText(false)
	for _, e := range cs.Entries() {
		tw.Append([]string{strconv.Itoa(e.Index), e.Value})
	}
	tw.Render()
	return nil
}

// cmdSetConfig stores one server_data value; it applies on restart.
func (c *CLI) cmdSetConfig(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}
	key := args[0]
	raw := strings.Join(args[1:], " ")

	var value interface{} = raw
	if n, err := strconv.Atoi(raw); err == nil {
		value = n
	} else if b, err := strconv.ParseBool(raw); err == nil {
		value = b
	}

	previous := c.cfg.GetServerData()
	if err := c.cfg.UpdateServerField(key, value); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetServerData(previous)
		return result.Errors[0]
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	if c.eventBus != nil {
		c.eventBus.Emit(ctx, events.Event{
			Type:    events.EventConfigChanged,
			Source:  "cli",
			Payload: events.ConfigChangedPayload{Section: "server_data", Key: key, Value: value},
		})
	}
	fmt.Fprintf(c.out, "Set %s = %v (applies on restart)\n", key, value)
	return nil
}

func parseSlotArg(args []string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("slot number required")
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 {
		return 0, fmt.Errorf("invalid slot %q", args[0])
	}
	return slot, nil
}
