package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/beaconmon/internal/capability"
	"github.com/srg/beaconmon/internal/delivery"
	"github.com/srg/beaconmon/internal/engine"
	"github.com/srg/beaconmon/internal/engine/goble"
	"github.com/srg/beaconmon/internal/monitor"
	"github.com/srg/beaconmon/internal/notify"
	"github.com/srg/beaconmon/internal/rpc"
	"github.com/srg/beaconmon/internal/store"
	"github.com/srg/beaconmon/pkg/config"
)

var (
	serveSocket  string
	serveStdio   bool
	serveVerbose bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring daemon",
	Long: `Runs the monitoring daemon and serves clients until interrupted.

Requests are single-line JSON objects {"id":1,"method":"registerRegion","args":{...}};
responses carry the same id. After {"method":"listen","args":{"stream":"monitoring"}}
the client also receives stream events. With --stdio a single client is served on
stdin/stdout instead of the Unix socket.`,
	Example: `  beaconmon serve
  beaconmon serve --socket /run/beaconmon.sock --log-level debug
  beaconmon serve --stdio --config ./beaconmon.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "Unix socket path (overrides the configured socket)")
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "Serve a single client on stdin/stdout")
	serveCmd.Flags().BoolVar(&serveVerbose, "verbose", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}
	// Logs go to stderr so stdout stays a clean transport in --stdio mode
	logger.SetOutput(os.Stderr)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	socket := resolveSocket(serveSocket, cfg.Socket)

	probe, err := capability.Detect(cfg.Capability, logger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoCapabilityProbe, err)
	}
	if c, ok := probe.(io.Closer); ok {
		defer c.Close()
	}

	statePath, err := cfg.ResolvedStatePath()
	if err != nil {
		return fmt.Errorf("resolve state path: %w", err)
	}
	st, err := store.NewFileStore(statePath)
	if err != nil {
		return err
	}

	eng := goble.New(logger)
	defer func() {
		if err := eng.Close(); err != nil {
			logger.WithError(err).Debug("Failed to release the BLE device")
		}
	}()

	colorize := term.IsTerminal(int(os.Stderr.Fd()))
	d, err := newDaemon(cfg, daemonDeps{
		Engine:   eng,
		Probe:    probe,
		Store:    st,
		Notifier: notify.NewTerminal(os.Stderr, colorize),
		Socket:   socket,
	}, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if serveStdio {
		d.server.ServeConn(ctx, rpc.Stdio(os.Stdin, os.Stdout))
		return nil
	}

	ln, err := rpc.Listen(socket)
	if err != nil {
		return err
	}
	defer os.Remove(socket)
	return d.server.Serve(ctx, ln)
}

// resolveSocket prefers the flag, then the configured path, then a temp dir default
func resolveSocket(flag, configured string) string {
	if flag != "" {
		return flag
	}
	if configured != "" {
		return configured
	}
	return filepath.Join(os.TempDir(), "beaconmon.sock")
}

type daemonDeps struct {
	Engine   engine.Engine
	Probe    capability.Probe
	Store    store.Store
	Notifier notify.Notifier
	Socket   string
}

// daemon is the wired monitor and the server in front of it
type daemon struct {
	monitor   *monitor.Monitor
	server    *rpc.Server
	queue     *delivery.Queue
	stopWatch func()
	logger    *logrus.Logger
}

func newDaemon(cfg *config.Config, deps daemonDeps, logger *logrus.Logger) (*daemon, error) {
	guard := capability.NewGuard(deps.Probe)
	gate := capability.NewGate(guard, logger)

	var launcher rpc.Launcher = rpc.NopLauncher{}
	if len(cfg.Background.Command) > 0 {
		launcher = &rpc.ExecLauncher{Command: cfg.Background.Command, Logger: logger}
	}
	channel := rpc.NewBackgroundChannel(deps.Store, launcher, deps.Socket, logger)
	queue := delivery.NewQueue(channel, logger)
	channel.SetReadyMarker(queue)

	m, err := monitor.New(monitor.Options{
		Engine:     deps.Engine,
		Gate:       gate,
		Store:      deps.Store,
		Background: queue,
		KeepAlive:  cfg.Background.KeepAlive,
		Notifier:   deps.Notifier,
		Config:     cfg.Engine,
		Logger:     logger,
	})
	if err != nil {
		queue.Close()
		return nil, err
	}

	srv, err := rpc.NewServer(rpc.ServerOptions{
		Monitor:    m,
		Probe:      guard,
		Gate:       gate,
		Background: channel,
		Logger:     logger,
	})
	if err != nil {
		queue.Close()
		return nil, err
	}

	d := &daemon{
		monitor:   m,
		server:    srv,
		queue:     queue,
		stopWatch: m.Watch(guard),
		logger:    logger,
	}

	// A persisted background flag resumes monitoring right away; a failed
	// requirement leaves it for the next capability change.
	if err := m.Restore(); err != nil {
		logger.WithError(err).Warn("Background monitoring not resumed")
	}
	return d, nil
}

// Close unbinds the engine and stops background delivery
func (d *daemon) Close() {
	d.stopWatch()
	d.monitor.Close()
	d.queue.Close()
	d.logger.Debug("Daemon stopped")
}
