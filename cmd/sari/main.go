package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sariproject/sari/internal/config"
	"github.com/sariproject/sari/internal/daemon"
	"github.com/sariproject/sari/internal/logging"
	"github.com/sariproject/sari/internal/pack1"
)

var version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "sari",
		Usage:   "Local, multi-workspace source-code index and search daemon",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding sari's SQLite database and engine index",
				Value: defaultDataDir(),
			},
			&cli.StringSliceFlag{
				Name:  "root",
				Usage: "Workspace root to index (repeatable; falls back to ROOTS_JSON/WORKSPACE_ROOT env)",
			},
			&cli.BoolFlag{
				Name:  "engine",
				Usage: "Enable the external full-text engine in addition to SQL retrieval",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the daemon and serve MCP tools over stdio",
				Action: serveCommand,
			},
			{
				Name:      "scan-once",
				Usage:     "Run one synchronous full scan of a root and exit",
				ArgsUsage: "<root-label>",
				Action:    scanOnceCommand,
			},
			{
				Name:      "rescan",
				Usage:     "Queue a full rescan of a root and exit",
				ArgsUsage: "<root-label>",
				Action:    rescanCommand,
			},
			{
				Name:   "status",
				Usage:  "Print queue depths, engine readiness and DLQ size",
				Action: statusCommand,
			},
			{
				Name:   "doctor",
				Usage:  "Run self-diagnostic checks and print the result",
				Action: doctorCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "sari:", err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return filepath.Join(d, "sari")
	}
	return ".sari"
}

// buildDaemon loads configuration from the environment, applies CLI flag
// overrides, and constructs (but does not start) a daemon.
func buildDaemon(c *cli.Context) (*daemon.Daemon, error) {
	cfg := config.FromEnv()
	cfg.DataDir = c.String("data-dir")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := logging.Init(filepath.Join(cfg.DataDir, "logs")); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	opts := daemon.Options{
		DataDir:      cfg.DataDir,
		RootPaths:    c.StringSlice("root"),
		EnableEngine: c.Bool("engine"),
	}
	return daemon.New(cfg, opts)
}

// withRunningDaemon builds a daemon, starts it (bringing up the writer and
// worker pool so enqueued writes actually commit), runs fn, then stops it
// within a fixed drain timeout. Used by every one-shot subcommand so a
// scan's symbol/relation writes are flushed before the process exits.
func withRunningDaemon(c *cli.Context, fn func(ctx context.Context, d *daemon.Daemon) error) error {
	d, err := buildDaemon(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	runErr := fn(ctx, d)

	if err := d.Stop(30 * time.Second); err != nil {
		fmt.Fprintln(os.Stderr, "sari: stop:", err)
	}
	return runErr
}

func rootLabelArg(c *cli.Context) string {
	if c.NArg() > 0 {
		return c.Args().First()
	}
	return ""
}

func scanOnceCommand(c *cli.Context) error {
	return withRunningDaemon(c, func(ctx context.Context, d *daemon.Daemon) error {
		n, err := d.ScanOnce(ctx, rootLabelArg(c))
		if err != nil {
			return err
		}
		fmt.Printf("scanned %d files\n", n)
		return nil
	})
}

func rescanCommand(c *cli.Context) error {
	return withRunningDaemon(c, func(ctx context.Context, d *daemon.Daemon) error {
		n, err := d.Rescan(ctx, rootLabelArg(c))
		if err != nil {
			return err
		}
		fmt.Printf("queued %d files for rescan\n", n)
		return nil
	})
}

func statusCommand(c *cli.Context) error {
	return withRunningDaemon(c, func(ctx context.Context, d *daemon.Daemon) error {
		resp, err := d.Tools().Status(ctx, pack1.StatusRequest{})
		if err != nil {
			return err
		}
		return printJSON(resp)
	})
}

func doctorCommand(c *cli.Context) error {
	return withRunningDaemon(c, func(ctx context.Context, d *daemon.Daemon) error {
		resp, err := d.Tools().Doctor(ctx, pack1.StatusRequest{})
		if err != nil {
			return err
		}
		return printJSON(resp)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// serveCommand starts the daemon and serves MCP tools over stdio until
// interrupted, mirroring the graceful-shutdown shape of a long-running
// server process.
func serveCommand(c *cli.Context) error {
	logging.SetQuiet(true)
	d, err := buildDaemon(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	srv := newMCPServer(d.Tools())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- srv.run(ctx) }()

	select {
	case sig := <-sigChan:
		fmt.Fprintf(os.Stderr, "sari: received signal %v, shutting down\n", sig)
	case err := <-runErrCh:
		if err != nil {
			fmt.Fprintln(os.Stderr, "sari: mcp server error:", err)
		}
	}

	cancel()
	return d.Stop(30 * time.Second)
}
