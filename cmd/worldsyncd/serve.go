package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/worldsync/internal/admin"
	"github.com/vango-dev/worldsync/internal/banlist"
	"github.com/vango-dev/worldsync/internal/config"
	"github.com/vango-dev/worldsync/internal/demo"
	wserrors "github.com/vango-dev/worldsync/internal/errors"
	"github.com/vango-dev/worldsync/internal/metrics"
	"github.com/vango-dev/worldsync/internal/replay"
	"github.com/vango-dev/worldsync/internal/tracing"
	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/netsync"
	"github.com/vango-dev/worldsync/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	configPath     string
	explicitConfig bool
	listen         string
	transport      string
	npcs           int
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the replication server",
		Long: `Run a worldsync server with the built-in demo simulation.

Settings come from worldsync.yaml in the working directory, or from the
file given with --config. Without a config file the defaults are used.

Examples:
  worldsyncd serve
  worldsyncd serve --config deploy/worldsync.yaml
  worldsyncd serve --transport websocket --listen :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.explicitConfig = cmd.Flags().Changed("config")
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", config.ConfigFileName, "Config file")
	cmd.Flags().StringVarP(&opts.listen, "listen", "l", "", "Game traffic address (overrides config)")
	cmd.Flags().StringVarP(&opts.transport, "transport", "t", "", "udp or websocket (overrides config)")
	cmd.Flags().IntVar(&opts.npcs, "npcs", 8, "Number of orbiting markers in the demo world")

	return cmd
}

func loadServeConfig(opts serveOptions) (*config.Config, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		var se *wserrors.Error
		if opts.explicitConfig || !errors.As(err, &se) || se.Code != wserrors.CodeConfigNotFound {
			return nil, err
		}
		cfg = config.New()
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.transport != "" {
		cfg.Transport = opts.transport
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadServeConfig(opts)
	if err != nil {
		return err
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)
	if cfg.Path() == "" {
		logger.Info("no config file, using defaults")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metrics.WithRegistry(registry), metrics.WithNamespace(cfg.Metrics.Namespace))
	tr := tracing.New(tracing.WithEnabled(cfg.Tracing.Enabled), tracing.WithTracerName(cfg.Tracing.TracerName))

	cc := cfg.ConnConfig()
	cc.Observer = m
	cc.Logger = logger

	var bans *banlist.List
	if cfg.Banlist.Path != "" {
		bans, err = banlist.Open(ctx, cfg.Banlist.Path, logger)
		if err != nil {
			return err
		}
		defer bans.Close()
		cc.Admission = bans
	}

	var rec *replay.Recorder
	if cfg.Replay.Enabled {
		rec, err = newRecorder(cfg, logger)
		if err != nil {
			return err
		}
	}

	sock, stopTransport, err := openTransport(cfg, logger)
	if err != nil {
		return err
	}

	reg, comps := demo.NewRegistry()
	serverOpts := []netsync.Option{
		netsync.WithConnConfig(cc),
		netsync.WithReplicationConfig(cfg.ReplicationConfig()),
		netsync.WithLogger(logger),
		netsync.WithTracer(tr.Tracer()),
		netsync.WithStats(m),
	}
	if rec != nil {
		serverOpts = append(serverOpts, netsync.WithRecorder(rec))
	}
	server := netsync.NewServer(sock, reg, serverOpts...)

	var adminSrv *http.Server
	if cfg.Admin.Listen != "" {
		adminOpts := []admin.Option{
			admin.WithGatherer(registry),
			admin.WithTracing(tr),
			admin.WithLogger(logger),
		}
		if bans != nil {
			adminOpts = append(adminOpts, admin.WithBans(bans))
		}
		if rec != nil {
			adminOpts = append(adminOpts, admin.WithReplay(rec.Stats))
		}
		ln, err := net.Listen("tcp", cfg.Admin.Listen)
		if err != nil {
			stopTransport(ctx)
			return wserrors.New(wserrors.CodeBindFailed).WithDetail("admin " + cfg.Admin.Listen).Wrap(err)
		}
		adminSrv = &http.Server{
			Handler:           admin.NewRouter(server, adminOpts...),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := adminSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", "error", err)
			}
		}()
		logger.Info("admin listening", "addr", ln.Addr().String())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	success("Serving on %s (%s, %d Hz)", server.Addr(), cfg.Transport, cfg.TickRate)
	runErr := server.Run(ctx, demo.NewWorld(comps, opts.npcs, logger))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin shutdown", "error", err)
		}
	}
	if err := stopTransport(shutdownCtx); err != nil {
		logger.Warn("transport shutdown", "error", err)
	}
	if rec != nil {
		if err := rec.Close(shutdownCtx); err != nil {
			logger.Warn("replay shutdown", "error", err)
		}
		info("Recording %s: %d snapshots", rec.ID(), rec.Stats().Recorded)
	}
	if runErr != nil {
		if errors.Is(runErr, conn.ErrTransportFailed) {
			return wserrors.FromError(runErr, wserrors.CodeTransportLost)
		}
		return runErr
	}
	info("Stopped")
	return nil
}

// openTransport binds the game socket. The returned func closes it.
func openTransport(cfg *config.Config, logger *slog.Logger) (*transport.Socket, func(context.Context) error, error) {
	if cfg.Transport == config.TransportWebSocket {
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return nil, nil, wserrors.New(wserrors.CodeBindFailed).WithDetail(cfg.Listen).Wrap(err)
		}
		wsl := transport.NewWSListener(ln.Addr().String(), transport.WSConfig{Logger: logger})
		mux := chi.NewRouter()
		mux.Handle(cfg.WebSocketPath, wsl)
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("websocket server failed", "error", err)
			}
		}()
		sock := transport.NewSocket(wsl, transport.Config{Logger: logger})
		return sock, func(ctx context.Context) error {
			sock.Close()
			return srv.Shutdown(ctx)
		}, nil
	}

	pc, err := transport.ListenUDP(cfg.Listen)
	if err != nil {
		return nil, nil, wserrors.New(wserrors.CodeBindFailed).WithDetail(cfg.Listen).Wrap(err)
	}
	sock := transport.NewSocket(pc, transport.Config{Logger: logger})
	return sock, func(context.Context) error { return sock.Close() }, nil
}

func newRecorder(cfg *config.Config, logger *slog.Logger) (*replay.Recorder, error) {
	var store replay.Store
	if s3 := cfg.Replay.S3; s3.Bucket != "" {
		store = replay.NewS3Store(replay.NewS3Client(s3.Region, s3.Endpoint), s3.Bucket, s3.Prefix)
	} else {
		disk, err := replay.NewDiskStore(cfg.Replay.Dir)
		if err != nil {
			return nil, err
		}
		store = disk
	}
	return replay.NewRecorder(store,
		replay.WithSegmentSnapshots(cfg.Replay.SegmentSnapshots),
		replay.WithLogger(logger),
	), nil
}
