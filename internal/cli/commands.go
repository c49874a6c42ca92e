// Package cli implements the interactive console of a zily daemon.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/zily-project/zily/internal/config"
	"github.com/zily-project/zily/internal/db"
	"github.com/zily-project/zily/internal/events"
	intnet "github.com/zily-project/zily/internal/network"
	"github.com/zily-project/zily/internal/session"
)

// commandTimeout bounds how long a command waits for the peer.
const commandTimeout = 30 * time.Second

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	registry *intnet.SessionRegistry
	journal  *db.Journal

	in     io.Reader
	out    io.Writer
	onQuit func()
}

// NewCLI creates a console reading commands from in and printing to out.
// journal may be nil. onQuit runs when the operator types quit.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, registry *intnet.SessionRegistry, journal *db.Journal, in io.Reader, out io.Writer, onQuit func()) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		registry: registry,
		journal:  journal,
		in:       in,
		out:      out,
		onQuit:   onQuit,
	}
}

// Start runs the command loop until ctx ends, input is exhausted or the
// operator quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nzily console ready. Type 'help' for available commands.")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

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
			log.Warn().Err(err).Msg("CLI: input failed")
		}
	}()

	for {
		fmt.Fprint(c.out, "zily> ")

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return
		case line, ok = <-lines:
			if !ok {
				return
			}
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// execute processes a single command and reports whether the loop ends.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return false, c.cmdStatus(args)
	case "write", "w":
		return false, c.cmdWrite(ctx, args)
	case "version", "v":
		return false, c.cmdVersion(ctx, args)
	case "close":
		return false, c.cmdClose(args)
	case "journal", "j":
		return false, c.cmdJournal(ctx, args)
	case "setconfig":
		return false, c.cmdSetConfig(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down zily...")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.Event{
				Type:   events.EventShutdown,
				Source: "cli",
			})
		}
		if c.onQuit != nil {
			c.onQuit()
		}
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  status [id]           List sessions, or show one session
  write <id> <text>     Print text on the peer's console
  version <id>          Ask the peer for its protocol version
  close <id>            Say goodbye to the peer and drop the session
  journal [id]          Recent journaled sessions, or one session's traffic
  setconfig <key> <js>  Replace an application_data section with JSON
  quit                  Shut the daemon down
  help                  Show this help message

Session ids may be shortened to any unique prefix.`)
}

func (c *CLI) cmdStatus(args []string) error {
	if len(args) > 0 {
		sess, err := c.resolve(args[0])
		if err != nil {
			return err
		}
		c.printSessionDetail(sess.Info())
		return nil
	}

	infos := c.registry.Infos()
	if len(infos) == 0 {
		fmt.Fprintln(c.out, "No sessions.")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Status", "Peer", "Version", "Encryption", "Last Activity"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, info := range infos {
		peer := "-"
		if info.Peer != nil {
			peer = info.Peer.Name
		}
		version := info.PeerVersion
		if version == "" {
			version = "-"
		}
		tw.Append([]string{
			shortID(info.ID),
			info.Status.String(),
			peer,
			version,
			info.Encryption,
			since(info.LastActivity),
		})
	}

	tw.Render()
	return nil
}

func (c *CLI) printSessionDetail(info session.Info) {
	fmt.Fprintf(c.out, "\n  ID:            %s\n", info.ID)
	fmt.Fprintf(c.out, "  Status:        %s\n", info.Status)
	fmt.Fprintf(c.out, "  Local:         %s\n", info.Local)
	if info.Peer != nil {
		fmt.Fprintf(c.out, "  Peer:          %s\n", info.Peer)
	}
	if info.PeerVersion != "" {
		fmt.Fprintf(c.out, "  Peer Version:  %s\n", info.PeerVersion)
	}
	fmt.Fprintf(c.out, "  Encryption:    %s\n", info.Encryption)
	fmt.Fprintf(c.out, "  Listening:     %v\n", info.Listening)
	if info.LastRequest != "" {
		fmt.Fprintf(c.out, "  Last Request:  %s\n", info.LastRequest)
	}
	if info.Pending != "" {
		fmt.Fprintf(c.out, "  Awaiting:      %s\n", info.Pending)
	}
	fmt.Fprintf(c.out, "  Created:       %s\n", info.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(c.out, "  Last Activity: %s\n\n", since(info.LastActivity))
}

func (c *CLI) cmdWrite(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: write <id> <text>")
	}
	sess, err := c.resolve(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := sess.Write(ctx, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Written to %s\n", shortID(sess.ID()))
	return nil
}

func (c *CLI) cmdVersion(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: version <id>")
	}
	sess, err := c.resolve(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	v, err := sess.QueryVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Peer of %s speaks version %s\n", shortID(sess.ID()), v)
	return nil
}

func (c *CLI) cmdClose(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: close <id>")
	}
	sess, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	c.registry.Unregister(sess.ID())
	fmt.Fprintf(c.out, "Closed %s\n", shortID(sess.ID()))
	return nil
}

func (c *CLI) cmdJournal(ctx context.Context, args []string) error {
	if c.journal == nil {
		return fmt.Errorf("journal is disabled")
	}

	if len(args) > 0 {
		return c.printMessages(ctx, args[0])
	}

	records, err := c.journal.RecentSessions(ctx, 20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "Journal is empty.")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Status", "Peer", "Version", "Opened", "Closed", "Messages"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range records {
		closed := "-"
		if r.ClosedAt != nil {
			closed = r.ClosedAt.Format(time.DateTime)
		}
		tw.Append([]string{
			shortID(r.ID),
			r.Status,
			orDash(r.Peer),
			orDash(r.Version),
			r.OpenedAt.Format(time.DateTime),
			closed,
			fmt.Sprintf("%d", r.Messages),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printMessages(ctx context.Context, prefix string) error {
	records, err := c.journal.RecentSessions(ctx, 1000)
	if err != nil {
		return err
	}

	var id string
	for _, r := range records {
		if strings.HasPrefix(r.ID, prefix) {
			if id != "" {
				return fmt.Errorf("session prefix %q is ambiguous", prefix)
			}
			id = r.ID
		}
	}
	if id == "" {
		return fmt.Errorf("no journaled session matches %q", prefix)
	}

	messages, err := c.journal.Messages(ctx, id, 200)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"At", "Kind", "Dir", "Flag", "Text"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, m := range messages {
		tw.Append([]string{
			m.At.Format("15:04:05.000"),
			m.Kind,
			orDash(m.Direction),
			orDash(m.Flag),
			m.Text,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdSetConfig(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <json>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return fmt.Errorf("value must be JSON: %w", err)
	}

	previous := c.cfg.GetApplicationData()
	if err := c.cfg.UpdateAppField(key, value); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetApplicationData(previous)
		return result.Errors[0]
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, raw)
	return nil
}

// resolve finds the live session whose id starts with prefix.
func (c *CLI) resolve(prefix string) (*session.Session, error) {
	if sess, ok := c.registry.Get(prefix); ok {
		return sess, nil
	}

	var match *session.Session
	for _, sess := range c.registry.All() {
		if strings.HasPrefix(sess.ID(), prefix) {
			if match != nil {
				return nil, fmt.Errorf("session prefix %q is ambiguous", prefix)
			}
			match = sess
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no session matches %q", prefix)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
