// Command probelspd is the long-running code-intelligence daemon. It loads
// configuration, wires up a Daemon, and serves the IPC socket until an OS
// signal or an RPC Shutdown request asks it to stop. Flag/signal handling
// follows the teacher's cmd/lci/main.go shutdown sequence (signal channel
// raced against a server error channel, a grace period before force-return).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/probelsp/internal/config"
	"github.com/standardbeagle/probelsp/internal/daemon"
	"github.com/standardbeagle/probelsp/internal/ipc"
	"github.com/standardbeagle/probelsp/internal/logging"
	"github.com/standardbeagle/probelsp/internal/version"
)

func main() {
	app := &cli.App{
		Name:    "probelspd",
		Usage:   "persistent code-intelligence daemon",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "project root to serve (also the default indexing root)",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:  "socket",
				Usage: "IPC socket path (defaults to $PROBE_LSP_SOCKET_PATH or a per-user runtime path)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace|debug|info|warn|error",
				Value: "info",
			},
			&cli.IntFlag{
				Name:  "max-workers",
				Usage: "override indexing worker pool size",
			},
			&cli.BoolFlag{
				Name:  "no-autoindex",
				Usage: "skip starting an indexing run against --root at boot",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "watch the indexed tree and re-enqueue changed files after the initial pass",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logging.SetMinLevel(parseLevel(c.String("log-level")))
	logger := logging.For("main")

	root := c.String("root")
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load config from %s: %w", root, err)
	}
	if mw := c.Int("max-workers"); mw > 0 {
		cfg.Manager.MaxWorkers = mw
	}
	if c.Bool("watch") {
		cfg.Manager.WatchMode = true
	}

	socketPath := c.String("socket")
	if socketPath == "" {
		socketPath = ipc.DefaultSocketPath()
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !c.Bool("no-autoindex") {
		if err := d.StartIndexing(ctx, cfg.Project.Root); err != nil {
			logger.Warn("autoindex failed to start: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("serving on %s", socketPath)
		errChan <- d.Serve(ctx, socketPath)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("daemon serve: %w", err)
		}
		return nil
	case sig := <-sigChan:
		logger.Info("received signal %v, shutting down", sig)
		cancel()

		grace := time.NewTimer(5 * time.Second)
		defer grace.Stop()
		select {
		case <-errChan:
			logger.Info("shutdown complete")
		case <-grace.C:
			logger.Warn("shutdown grace period elapsed, exiting anyway")
		}
		return nil
	}
}

func parseLevel(s string) logging.Level {
	switch s {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
