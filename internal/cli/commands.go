// Package cli implements the interactive command-line interface of a
// battlewire node: inspection tables and local player commands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/battle"
	"github.com/critterbox/battlewire/internal/journal"
	"github.com/critterbox/battlewire/internal/node"
)

const defaultJournalRows = 20

// CLI provides an interactive command-line interface.
type CLI struct {
	node     *node.Node
	journal  *journal.Journal
	in       io.Reader
	out      io.Writer
	shutdown func()
}

// NewCLI creates a CLI reading commands from in and writing to out. j may
// be nil when the journal is disabled. shutdown is called by quit.
func NewCLI(n *node.Node, j *journal.Journal, in io.Reader, out io.Writer, shutdown func()) *CLI {
	return &CLI{
		node:     n,
		journal:  j,
		in:       in,
		out:      out,
		shutdown: shutdown,
	}
}

// Start reads and runs commands until ctx is done or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nbattlewire CLI ready. Type 'help' for available commands.")
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
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("CLI: input error, CLI disabled")
		}
	}()

	for {
		fmt.Fprint(c.out, "battlewire> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs a single command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.printStatus(ctx)
	case "registry", "types":
		c.printRegistry()
	case "providers":
		c.printProviders()
	case "peers":
		c.printPeers()
	case "battles", "b":
		return c.printBattles(ctx)
	case "view", "v":
		return c.printView(ctx)
	case "journal", "j":
		return c.printJournal(args)
	case "challenge", "c":
		return c.cmdChallenge(ctx, args)
	case "pair":
		return c.cmdPair(ctx, args)
	case "accept":
		return c.cmdAnswer(ctx, args, true)
	case "decline":
		return c.cmdAnswer(ctx, args, false)
	case "move", "m":
		return c.cmdMove(ctx, args)
	case "forfeit":
		if err := c.node.Forfeit(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Forfeit sent")
	case "ping":
		return c.cmdPing(ctx, args)
	case "kick":
		return c.cmdKick(args)
	case "loglevel":
		return c.cmdLogLevel(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down battlewire...")
		if c.shutdown != nil {
			c.shutdown()
		}
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                   battlewire CLI Commands                    ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status               Show node status                       ║")
	fmt.Fprintln(c.out, "║  registry             List message types and net ids         ║")
	fmt.Fprintln(c.out, "║  providers            List battle providers                  ║")
	fmt.Fprintln(c.out, "║  peers                List connected peers (server)          ║")
	fmt.Fprintln(c.out, "║  battles              List battles (server, standalone)      ║")
	fmt.Fprintln(c.out, "║  view                 Show the local player's battle         ║")
	fmt.Fprintln(c.out, "║  journal [n]          Show the last n routing decisions      ║")
	fmt.Fprintln(c.out, "║  challenge <id> [fmt] Challenge a provider                   ║")
	fmt.Fprintln(c.out, "║  pair <a> <b> [fmt]   Start a battle between two providers   ║")
	fmt.Fprintln(c.out, "║  accept <battle>      Accept a pending challenge             ║")
	fmt.Fprintln(c.out, "║  decline <battle> [r] Decline a pending challenge            ║")
	fmt.Fprintln(c.out, "║  move <action> [s t]  Choose attack, guard, item or switch   ║")
	fmt.Fprintln(c.out, "║  forfeit              Concede the current battle             ║")
	fmt.Fprintln(c.out, "║  ping <id>            Ping a provider (0 is the manager)     ║")
	fmt.Fprintln(c.out, "║  kick <peer>          Disconnect a peer (server)             ║")
	fmt.Fprintln(c.out, "║  loglevel <level>     Change the log level                   ║")
	fmt.Fprintln(c.out, "║  quit                 Shutdown battlewire                    ║")
	fmt.Fprintln(c.out, "║  help                 Show this help message                 ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) table(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

// printStatus displays the node summary.
func (c *CLI) printStatus(ctx context.Context) error {
	st, err := c.node.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  Name:          %s\n", st.Name)
	fmt.Fprintf(c.out, "  Role:          %s\n", st.Role)
	fmt.Fprintf(c.out, "  Version:       %s\n", st.Version)
	fmt.Fprintf(c.out, "  Uptime:        %s\n", st.Uptime)
	if st.Address != "" {
		fmt.Fprintf(c.out, "  Listening:     %s\n", st.Address)
	}
	if st.LocalPlayer != battle.Manager {
		fmt.Fprintf(c.out, "  Local player:  %s\n", st.LocalPlayer)
	}
	fmt.Fprintf(c.out, "  Peers:         %d\n", st.Peers)
	fmt.Fprintf(c.out, "  Providers:     %d\n", st.Providers)
	fmt.Fprintf(c.out, "  Battles:       %d active, %d tracked\n", st.ActiveBattles, st.TotalBattles)
	fmt.Fprintf(c.out, "  Message types: %d (fingerprint %s)\n", st.MessageTypes, st.Fingerprint)
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printRegistry() {
	tw := c.table("Net ID", "Type")
	for _, d := range c.node.Registry() {
		tw.Append([]string{strconv.Itoa(int(d.ID)), d.Name})
	}
	tw.Render()
}

func (c *CLI) printProviders() {
	tw := c.table("ID", "Name", "Side", "Local", "Peer")
	for _, p := range c.node.Providers() {
		peer := "-"
		if p.Peer != nil {
			peer = strconv.Itoa(int(*p.Peer))
		}
		tw.Append([]string{
			strconv.FormatUint(uint64(p.ID), 10),
			p.Name,
			p.Side,
			strconv.FormatBool(p.Local),
			peer,
		})
	}
	tw.Render()
}

func (c *CLI) printPeers() {
	peers := c.node.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "No peers connected")
		return
	}

	tw := c.table("Peer", "Remote", "Transport", "Connected", "Sent", "Received")
	for _, p := range peers {
		tw.Append([]string{
			strconv.Itoa(int(p.Index)),
			p.Remote,
			p.Transport,
			time.Since(p.ConnectedAt).Round(time.Second).String(),
			strconv.FormatUint(p.Sent, 10),
			strconv.FormatUint(p.Received, 10),
		})
	}
	tw.Render()
}

func (c *CLI) printBattles(ctx context.Context) error {
	battles, err := c.node.Battles(ctx)
	if err != nil {
		return err
	}
	if len(battles) == 0 {
		fmt.Fprintln(c.out, "No battles")
		return nil
	}

	tw := c.table("Battle", "Format", "Participants", "State", "Turn", "Winner", "Reason")
	for _, b := range battles {
		names := make([]string, len(b.Participants))
		for i, p := range b.Participants {
			names[i] = p.String()
		}
		winner := "-"
		if b.State == battle.StateEnded {
			winner = b.Winner.String()
		}
		tw.Append([]string{
			b.ID.String(),
			b.Format,
			strings.Join(names, " vs "),
			b.State.String(),
			strconv.Itoa(int(b.Turn)),
			winner,
			b.Reason,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printView(ctx context.Context) error {
	v, err := c.node.View(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  Player:    %s\n", c.node.LocalPlayer())
	fmt.Fprintf(c.out, "  Record:    %d wins, %d losses\n", v.Wins, v.Losses)
	if v.InBattle() {
		fmt.Fprintf(c.out, "  Battle:    %s\n", v.Battle)
		fmt.Fprintf(c.out, "  Opponent:  %s\n", v.Opponent)
		fmt.Fprintf(c.out, "  Turn:      %d\n", v.Turn)
		for _, line := range v.LastEvents {
			fmt.Fprintf(c.out, "    - %s\n", line)
		}
	} else {
		fmt.Fprintln(c.out, "  Battle:    none")
	}
	for _, p := range v.Pending {
		fmt.Fprintf(c.out, "  Pending:   %s from %s (%s)\n", p.BattleID, p.Sender, p.Format)
	}
	for _, r := range v.Rejections {
		fmt.Fprintf(c.out, "  Rejected:  %s\n", r)
	}
	if v.LastPong != 0 {
		fmt.Fprintf(c.out, "  Last pong: %d\n", v.LastPong)
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printJournal(args []string) error {
	if c.journal == nil {
		return errors.New("journal is disabled")
	}
	n := defaultJournalRows
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		n = v
	}

	entries, err := c.journal.Recent(n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "Journal is empty")
		return nil
	}

	tw := c.table("Time", "Event", "Type", "Sender", "Recipient", "Action", "Target", "Detail")
	for _, e := range entries {
		tw.Append([]string{
			e.At.Format("15:04:05.000"),
			e.Event,
			e.Type,
			e.Sender,
			e.Recipient,
			string(e.Action),
			e.Target,
			e.Detail,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdChallenge(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: challenge <provider> [format]")
	}
	opponent, err := parseProvider(args[0])
	if err != nil {
		return err
	}
	format := ""
	if len(args) > 1 {
		format = args[1]
	}

	id, err := c.node.Challenge(ctx, opponent, format)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Challenge %s sent to %s\n", id, opponent)
	return nil
}

func (c *CLI) cmdPair(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: pair <provider> <provider> [format]")
	}
	a, err := parseProvider(args[0])
	if err != nil {
		return err
	}
	b, err := parseProvider(args[1])
	if err != nil {
		return err
	}
	format := ""
	if len(args) > 2 {
		format = args[2]
	}

	id, err := c.node.Pair(ctx, a, b, format)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Battle %s requested: %s vs %s\n", id, a, b)
	return nil
}

func (c *CLI) cmdAnswer(ctx context.Context, args []string, accept bool) error {
	if len(args) < 1 {
		return errors.New("usage: accept|decline <battle> [reason]")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid battle id: %s", args[0])
	}
	reason := strings.Join(args[1:], " ")

	if err := c.node.Answer(ctx, id, accept, reason); err != nil {
		return err
	}
	if accept {
		fmt.Fprintf(c.out, "Accepted %s\n", id)
	} else {
		fmt.Fprintf(c.out, "Declined %s\n", id)
	}
	return nil
}

func (c *CLI) cmdMove(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: move <attack|guard|item|switch> [slot] [target]")
	}
	action, err := battle.ParseAction(strings.ToLower(args[0]))
	if err != nil {
		return err
	}
	var slotTarget [2]uint8
	for i, arg := range args[1:min(len(args), 3)] {
		v, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return fmt.Errorf("invalid number: %s", arg)
		}
		slotTarget[i] = uint8(v)
	}

	if err := c.node.Act(ctx, action, slotTarget[0], slotTarget[1]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Chose %s\n", action)
	return nil
}

func (c *CLI) cmdPing(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: ping <provider>")
	}
	recipient, err := parseProvider(args[0])
	if err != nil {
		return err
	}

	nonce, err := c.node.Ping(ctx, recipient)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Ping %d sent to %s\n", nonce, recipient)
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kick <peer>")
	}
	idx, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid peer: %s", args[0])
	}
	if err := c.node.Kick(uint8(idx)); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Peer %d disconnected\n", idx)
	return nil
}

func (c *CLI) cmdLogLevel(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: loglevel <trace|debug|info|warn|error>")
	}
	level, err := zerolog.ParseLevel(strings.ToLower(args[0]))
	if err != nil || level == zerolog.NoLevel {
		return fmt.Errorf("invalid log level: %s", args[0])
	}
	zerolog.SetGlobalLevel(level)
	fmt.Fprintf(c.out, "Log level set to %s\n", level)
	return nil
}

func parseProvider(arg string) (battle.ProviderID, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid provider id: %s", arg)
	}
	return battle.ProviderID(id), nil
}
