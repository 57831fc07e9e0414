package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/clutch/internal/activity"
	"github.com/asheshgoplani/clutch/internal/config"
	"github.com/asheshgoplani/clutch/internal/logging"
	"github.com/asheshgoplani/clutch/internal/platform"
	"github.com/asheshgoplani/clutch/internal/session"
	"github.com/asheshgoplani/clutch/internal/web"
)

const shutdownTimeout = 5 * time.Second

func handleServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", "", "Listen address (default from config, 127.0.0.1:7420)")
	token := fs.String("token", "", "Bearer token required for API/WS access (default from config)")
	debug := fs.Bool("debug", false, "Mirror logs to stderr at debug level")

	fs.Usage = func() {
		fmt.Println("Usage: clutch serve [options]")
		fmt.Println()
		fmt.Println("Run the session server until interrupted.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("flag parsing: %w", err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg, cfgErr := config.Load()
	debugMode := *debug || os.Getenv("CLUTCH_DEBUG") == "1"
	logging.Init(cfg.LogConfig(debugMode))
	defer logging.Shutdown()

	cliLog := logging.ForComponent(logging.CompCLI)
	if cfgErr != nil {
		cliLog.Warn("config_load_failed", slog.String("error", cfgErr.Error()))
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
	}
	if *listen != "" {
		cfg.Web.Listen = *listen
	}
	if *token != "" {
		cfg.Web.Token = *token
	}

	store, err := activity.NewSignalStore(cfg.Sessions.Dir)
	if err != nil {
		return err
	}
	policy := activity.KeepExisting
	if cfg.Sessions.CleanupOnStartup {
		policy = activity.CleanupExisting
	}
	if err := store.Reset(policy); err != nil {
		cliLog.Warn("signal_store_reset_failed", slog.String("error", err.Error()))
	}

	useFsnotify := cfg.Activity.UseFsnotify
	if reason := platform.CheckFsnotifySupport(store.Root()); reason != "" && useFsnotify {
		cliLog.Warn("fsnotify_disabled", slog.String("reason", reason))
		useFsnotify = false
	}

	bus := session.NewEventBus()
	registry := session.NewRegistry(bus, session.WithFallbackShell(cfg.Sessions.FallbackShell))
	poller := activity.NewPoller(store, bus.PublishActivity,
		activity.WithInterval(cfg.PollInterval()),
		activity.WithFsnotify(useFsnotify))
	coord := session.NewCoordinator(registry, store, session.WithActivityTracker(poller))
	defaultCols, defaultRows := cfg.DefaultSize()
	server := web.NewServer(web.Config{
		ListenAddr:  cfg.Web.Listen,
		Token:       cfg.Web.Token,
		DefaultCols: defaultCols,
		DefaultRows: defaultRows,
	}, coord, bus, poller)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliLog.Info("serve_started",
		slog.String("version", Version),
		slog.String("listen", cfg.Web.Listen),
		slog.String("signal_root", store.Root()),
		slog.String("platform", platform.Detect().String()),
		slog.Int("pid", os.Getpid()))
	fmt.Printf("clutch v%s listening on http://%s\n", Version, cfg.Web.Listen)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(gctx)
	})
	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		cliLog.Info("serve_stopping")

		// Close every PTY and signal dir before the listener goes away.
		if err := coord.Shutdown(); err != nil {
			cliLog.Warn("coordinator_shutdown_failed", slog.String("error", err.Error()))
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		bus.Close()
		return err
	})

	err = g.Wait()
	cliLog.Info("serve_stopped")
	return err
}
