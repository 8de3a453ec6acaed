package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sneh-joshi/litemq/internal/broker"
	"github.com/sneh-joshi/litemq/internal/config"
	"github.com/sneh-joshi/litemq/internal/logging"
	"github.com/sneh-joshi/litemq/internal/metrics"
	"github.com/sneh-joshi/litemq/internal/storage"
	grpcserver "github.com/sneh-joshi/litemq/internal/transport/grpc"
	transphttp "github.com/sneh-joshi/litemq/internal/transport/http"
)

const shutdownTimeout = 5 * time.Second

// serveFlags override the config file. Only flags the user set are applied.
type serveFlags struct {
	configPath string
	envFile    string
	host       string
	port       int
	httpPort   int
	engine     string
	fsync      string
	logLevel   string
	logFormat  string
	noHTTP     bool
}

func (f *serveFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "litemq.yaml", "config file; a missing file means defaults")
	fl.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the config")
	fl.StringVar(&f.host, "host", "", "listen host")
	fl.IntVarP(&f.port, "port", "p", 0, "gRPC port")
	fl.IntVar(&f.httpPort, "http-port", 0, "admin API port")
	fl.StringVar(&f.engine, "engine", "", "storage engine: journal, bolt, pebble, sqlite, memory")
	fl.StringVar(&f.fsync, "fsync", "", "fsync policy: always, interval, batch, never")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn, error")
	fl.StringVar(&f.logFormat, "log-format", "", "text or json")
	fl.BoolVar(&f.noHTTP, "no-http", false, "disable the admin API")
}

// apply overlays the flags the user set onto cfg.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("host") {
		cfg.Node.Host = f.host
	}
	if fl.Changed("port") {
		cfg.Node.Port = f.port
	}
	if fl.Changed("http-port") {
		cfg.Node.HTTPPort = f.httpPort
	}
	if fl.Changed("engine") {
		cfg.Storage.Engine = config.Engine(f.engine)
	}
	if fl.Changed("fsync") {
		cfg.Storage.Fsync = storage.FsyncPolicy(f.fsync)
	}
	if fl.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fl.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if f.noHTTP {
		cfg.HTTP.Enabled = false
	}
}

func newServeCommand() *cobra.Command {
	var sf serveFlags
	cmd := &cobra.Command{
		Use:   "serve [data-dir]",
		Short: "Run the broker",
		Long: `Run the broker until SIGINT or SIGTERM.

The data directory defaults to node.data_dir from the config (".litemq").
Startup fails if the directory is locked by another broker or its store
is corrupt.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, &sf, args)
		},
	}
	sf.register(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, sf *serveFlags, args []string) error {
	// ── 1. Load configuration ────────────────────────────────────────────────
	if err := config.LoadDotEnv(sf.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(sf.configPath)
	if err != nil {
		return err
	}
	sf.apply(cmd, cfg)
	if len(args) == 1 {
		cfg.Node.DataDir = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	// ── 3. Metrics ───────────────────────────────────────────────────────────
	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.New()
	}

	// ── 4. Open the broker: lock, storage, recovery ──────────────────────────
	b, err := broker.Open(cfg, broker.WithLogger(logger), broker.WithMetrics(reg))
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	logger.Info("litemq starting",
		"node_id", b.NodeID(),
		"data_dir", cfg.Node.DataDir,
		"engine", cfg.Storage.Engine,
		"fsync", cfg.Storage.Fsync,
	)

	// ── 5. Start transports ──────────────────────────────────────────────────
	serveErr := make(chan error, 2)

	gs := grpcserver.New(b, grpcserver.WithLogger(logger), grpcserver.WithMetrics(reg))
	gl, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		_ = b.Close()
		return fmt.Errorf("grpc listen: %w", err)
	}
	go func() { serveErr <- gs.Serve(gl) }()

	var hs *transphttp.Server
	if cfg.HTTP.Enabled {
		hs = transphttp.New(b, transphttp.WithLogger(logger), transphttp.WithMetrics(reg))
		hl, err := net.Listen("tcp", cfg.HTTPAddr())
		if err != nil {
			shutdown(logger, b, gs, nil)
			return fmt.Errorf("http listen: %w", err)
		}
		go func() { serveErr <- hs.Serve(hl) }()
	}
	logger.Info("litemq ready", "grpc", cfg.GRPCAddr(), "http", cfg.HTTP.Enabled)

	// ── 6. Graceful shutdown on SIGINT / SIGTERM ─────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "cause", context.Cause(ctx))
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}
	if err := shutdown(logger, b, gs, hs); err != nil && runErr == nil {
		runErr = err
	}
	logger.Info("litemq stopped")
	return runErr
}

// shutdown is the shutdown hook. Closing the broker first releases blocked
// dequeues with Unavailable and waits for in-flight commits, so the
// transports then drain promptly.
func shutdown(logger *slog.Logger, b *broker.Broker, gs *grpcserver.Server, hs *transphttp.Server) error {
	err := b.Close()
	if err != nil {
		logger.Error("broker close", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	gs.Shutdown(ctx)
	if hs != nil {
		if herr := hs.Shutdown(ctx); herr != nil && !errors.Is(herr, context.DeadlineExceeded) {
			logger.Warn("http shutdown", "err", herr)
		}
	}
	return err
}
