package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zily-project/zily/internal/config"
	"github.com/zily-project/zily/internal/network"
	"github.com/zily-project/zily/internal/protocol"
	"github.com/zily-project/zily/internal/session"
	"github.com/zily-project/zily/internal/util"
)

// peerFlags override the configured side and transport for one run.
type peerFlags struct {
	kind      string
	address   string
	name      string
	plaintext bool
}

func (pf *peerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&pf.kind, "kind", "k", "", "Transport kind: tcp, unix or pipe")
	cmd.Flags().StringVarP(&pf.address, "address", "a", "", "Address, socket path or pipe name")
	cmd.Flags().StringVarP(&pf.name, "name", "n", "", "Side name announced to the peer")
	cmd.Flags().BoolVar(&pf.plaintext, "plaintext", false, "Skip AES negotiation")
}

// resolve merges the flags over the configuration.
func (pf *peerFlags) resolve(cfg *config.Config) (kind, address string, local protocol.Side, opts session.Options, err error) {
	kind, address = cfg.Endpoint()
	if pf.kind != "" {
		kind = pf.kind
		if pf.address == "" && kind == network.KindPipe {
			address = cfg.GetTransport().PipeName
		}
	}
	if pf.address != "" {
		address = pf.address
	}
	if !network.ValidKind(kind) {
		return "", "", protocol.Side{}, opts, fmt.Errorf("unknown transport kind %q", kind)
	}

	side := cfg.GetSide()
	if pf.name != "" {
		side.Name = pf.name
	}
	local, err = protocol.NewSide(side.Protocol, protocol.APIVersion, side.Name)
	if err != nil {
		return "", "", protocol.Side{}, opts, fmt.Errorf("invalid local side: %w", err)
	}

	logger := util.ComponentLogger("session")
	opts = session.Options{
		Logger:    &logger,
		Console:   session.NewWriterConsole(os.Stdout),
		Plaintext: pf.plaintext || cfg.GetTransport().Plaintext,
	}
	return kind, address, local, opts, nil
}

func connectCmd(flags *globalFlags) *cobra.Command {
	var pf peerFlags

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a zily peer and chat from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, true)
			if err != nil {
				return err
			}
			kind, address, local, opts, err := pf.resolve(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dialCtx, cancel := context.WithTimeout(ctx, cfg.GetTransport().HandshakeTimeoutDuration())
			defer cancel()

			conn, err := network.Dial(dialCtx, kind, address)
			if err != nil {
				return err
			}

			client := session.NewClient(conn, local, opts)
			if err := client.Connect(dialCtx); err != nil {
				_ = conn.Close()
				return err
			}

			return runPeer(ctx, client.Session, os.Stdin, os.Stdout)
		},
	}

	pf.register(cmd)
	return cmd
}

func acceptCmd(flags *globalFlags) *cobra.Command {
	var pf peerFlags

	cmd := &cobra.Command{
		Use:   "accept",
		Short: "Wait for a single peer and chat from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, true)
			if err != nil {
				return err
			}
			kind, address, local, opts, err := pf.resolve(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ln, err := network.Listen(ctx, kind, address)
			if err != nil {
				return err
			}

			pending := network.NewPendingConn(ln)
			defer pending.Close()
			log.Info().Str("kind", kind).Str("addr", pending.Addr().String()).Msg("waiting for a peer")

			srv := session.NewServer(pending, local, pending, opts)
			if err := srv.Accept(ctx); err != nil {
				return err
			}

			return runPeer(ctx, srv.Session, os.Stdin, os.Stdout)
		},
	}

	pf.register(cmd)
	return cmd
}

// runPeer serves an Online session: the peer's text goes to the console
// while stdin lines are written to the peer. "/version" queries the peer
// and "/quit" says goodbye.
func runPeer(ctx context.Context, s *session.Session, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.Close()

	if peer, ok := s.Peer(); ok {
		fmt.Fprintf(out, "Connected to %s (%s). Type /quit to leave.\n", peer, s.Encryptor().Name())
	}

	listenDone := make(chan error, 1)
	go func() {
		listenDone <- s.Listen(ctx)
		cancel()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	remote := session.NewRemoteWriter(s)

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return peerExit(s, listenDone, out)
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit":
			return nil
		case "/version":
			reqCtx, reqCancel := context.WithTimeout(ctx, 30*time.Second)
			v, err := s.QueryVersion(reqCtx)
			reqCancel()
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Peer speaks version %s\n", v)
			continue
		}

		_, _ = remote.WriteString(line)
		reqCtx, reqCancel := context.WithTimeout(ctx, 30*time.Second)
		err := remote.Flush(reqCtx)
		reqCancel()
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func peerExit(s *session.Session, listenDone <-chan error, out io.Writer) error {
	select {
	case err := <-listenDone:
		if s.Status() == session.StatusOffline {
			fmt.Fprintln(out, "Peer disconnected.")
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	default:
	}
	return nil
}
