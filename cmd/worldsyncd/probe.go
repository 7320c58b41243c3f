package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/worldsync/internal/config"
	"github.com/vango-dev/worldsync/internal/demo"
	wserrors "github.com/vango-dev/worldsync/internal/errors"
	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/netsync"
	"github.com/vango-dev/worldsync/pkg/transport"
)

type probeOptions struct {
	transport string
	tickRate  int
	timeout   time.Duration
	duration  time.Duration
	move      bool
	verbose   bool
}

func probeCmd() *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:   "probe <addr>",
		Short: "Connect to a server and report the session",
		Long: `Connect to a worldsync server as a client, receive snapshots for a
while, and print round trip time and world state.

For the websocket transport, addr is a ws:// or wss:// URL.

Examples:
  worldsyncd probe 127.0.0.1:7777
  worldsyncd probe --duration 10s --move 127.0.0.1:7777
  worldsyncd probe --transport websocket ws://127.0.0.1:8080/sync`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.transport, "transport", "t", config.TransportUDP, "udp or websocket")
	cmd.Flags().IntVar(&opts.tickRate, "tick-rate", config.DefaultTickRate, "Client tick rate")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Give up if not connected by then")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 2*time.Second, "How long to stay connected")
	cmd.Flags().BoolVar(&opts.move, "move", false, "Send inputs that move the probe's avatar")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log connection events")

	return cmd
}

func runProbe(ctx context.Context, addr string, opts probeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	sock, remote, err := dialTransport(ctx, addr, opts.transport, logger)
	if err != nil {
		return err
	}
	defer sock.Close()

	cc := conn.DefaultConfig()
	cc.TickRate = opts.tickRate
	cc.Logger = logger
	reg, comps := demo.NewRegistry()
	client := netsync.NewClient(sock, reg, netsync.WithConnConfig(cc), netsync.WithLogger(logger))
	if err := client.Dial(remote); err != nil {
		return wserrors.New(wserrors.CodeDialFailed).WithDetail(addr).Wrap(err)
	}

	fail := func(detail string, err error) error {
		e := wserrors.New(wserrors.CodeProbeFailed).WithDetail(detail)
		if err != nil {
			e = e.Wrap(err)
		}
		return e
	}

	ticker := time.NewTicker(time.Second / time.Duration(opts.tickRate))
	defer ticker.Stop()
	deadline := time.Now().Add(opts.timeout)

	var (
		connectedAt time.Time
		controls    int
	)
loop:
	for {
		select {
		case <-ctx.Done():
			return fail("interrupted", ctx.Err())
		case <-ticker.C:
		}
		if _, err := client.Tick(ctx); err != nil {
			if errors.Is(err, conn.ErrTransportFailed) {
				return wserrors.FromError(err, wserrors.CodeProbeFailed)
			}
			logger.Debug("tick", "error", err)
		}

		for _, m := range client.PollInboundMessages() {
			switch m.Kind {
			case netsync.MessageConnected:
				connectedAt = time.Now()
				success("Connected to %s as peer %d", addr, m.Peer)
			case netsync.MessageDisconnected:
				if e := wserrors.FromReason(m.Reason, m.Detail); e != nil {
					return e
				}
				return fail(fmt.Sprintf("server closed the connection (%s)", m.Reason), nil)
			case netsync.MessageControl:
				controls++
			}
		}

		if connectedAt.IsZero() {
			if time.Now().After(deadline) {
				return fail(fmt.Sprintf("no handshake response from %s within %s", addr, opts.timeout), nil)
			}
			continue
		}
		if opts.move {
			client.SendInput(client.InputTick(), demo.EncodeInput(0.1, 0.05))
		}
		if time.Since(connectedAt) >= opts.duration {
			break loop
		}
	}

	state := client.State()
	if state == nil {
		return fail("connected but no snapshot arrived", nil)
	}
	info("RTT:         %s", client.RTT().Round(100*time.Microsecond))
	info("World tick:  %d", state.Tick)
	info("Input tick:  %d (dilation %.3f)", client.InputTick(), client.Dilation())
	info("Entities:    %d", state.Len())
	info("Controls:    %d", controls)
	if pos, ok, _ := comps.Position.Get(state, demo.AvatarID(client.Peer())); ok {
		info("Avatar:      (%.2f, %.2f)", pos.X, pos.Y)
	}

	if err := client.Disconnect(); err == nil {
		// Let the disconnect notices go out.
		for i := 0; i < int(cc.LingerTicks)+1; i++ {
			client.Tick(ctx)
		}
	}
	return nil
}

func dialTransport(ctx context.Context, addr, kind string, logger *slog.Logger) (*transport.Socket, net.Addr, error) {
	if kind == config.TransportWebSocket {
		wsc, err := transport.DialWS(ctx, addr, transport.WSConfig{Logger: logger})
		if err != nil {
			return nil, nil, wserrors.New(wserrors.CodeDialFailed).WithDetail(addr).Wrap(err)
		}
		return transport.NewSocket(wsc, transport.Config{Logger: logger}), wsc.RemoteAddr(), nil
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, nil, wserrors.New(wserrors.CodeDialFailed).WithDetail(addr).Wrap(err)
	}
	pc, err := transport.ListenUDP(":0")
	if err != nil {
		return nil, nil, wserrors.New(wserrors.CodeBindFailed).Wrap(err)
	}
	return transport.NewSocket(pc, transport.Config{Logger: logger}), raddr, nil
}
