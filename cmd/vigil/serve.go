package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/api"
	"vigil/internal/config"
	"vigil/internal/event"
	"vigil/internal/journal"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/server"
	"vigil/internal/supervisor"
	"vigil/internal/version"
	"vigil/internal/watch"
)

// statusHistorySize bounds how many recent statuses the bus keeps for
// websocket replay.
const statusHistorySize = 256

func newServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the watcher daemon",
		Long:  "Serve starts every configured watcher and the HTTP API, then runs until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg)
		},
	}
	serveCmd.Flags().String("config", "vigil.yaml", "configuration file")
	return serveCmd
}

// runDaemon assembles the shared services, starts the watchers, and
// serves the API until ctx is cancelled. Teardown runs in a fixed order:
// the server drains first, then the supervisor, the bus, the journal,
// and last the change notifier.
func runDaemon(ctx context.Context, cfg config.Config) error {
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logBuffer := logging.NewLogBuffer(cfg.Logging.Buffer)
	logger := logging.NewLogger(logBuffer, level)
	logger.Info("vigil starting", map[string]string{
		"version":  version.Get().Version,
		"watchers": strconv.Itoa(len(cfg.Watchers)),
	})

	var (
		notifier     *notify.Notifier
		bus          *event.Bus
		journalStore *journal.Journal
		sup          *supervisor.Supervisor
	)

	// Phases are registered up front against nil-guarded captures so an
	// early return tears down whatever was built, in the same order.
	shutdown := newShutdownCoordinator(logger)
	shutdown.Add("supervisor", func(context.Context) error {
		if sup != nil {
			sup.Stop()
		}
		return nil
	})
	shutdown.Add("status bus", func(context.Context) error {
		if bus != nil {
			bus.Close()
		}
		return nil
	})
	shutdown.Add("journal", func(context.Context) error {
		if journalStore == nil {
			return nil
		}
		return journalStore.Close()
	})
	shutdown.Add("change notifier", func(context.Context) error {
		if notifier == nil {
			return nil
		}
		return notifier.Close()
	})
	defer func() {
		if err := shutdown.Run(context.Background()); err != nil {
			logger.Warn("shutdown incomplete", map[string]string{"error": err.Error()})
		}
	}()

	registry := metrics.Default

	var err error
	notifier, err = notify.NewWithOptions(notify.Options{Logger: logger, Registry: registry})
	if err != nil {
		return fmt.Errorf("start change notifier: %w", err)
	}

	bus = event.NewBus(event.Options{
		Name:        "statuses",
		HistorySize: statusHistorySize,
		Registry:    registry,
	})

	if cfg.Journal.Enabled {
		journalStore, err = journal.Open(cfg.Journal.Dir, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
	}

	specs := make([]watch.Spec, 0, len(cfg.Watchers))
	for _, entry := range cfg.Watchers {
		spec, err := entry.Spec()
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	sup, err = supervisor.New(specs, supervisor.Options{
		Logger:    logger,
		Registry:  registry,
		Bus:       bus,
		Journal:   journalStore,
		Notify:    notifier,
		Retention: time.Duration(cfg.Journal.Retention),
	})
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server.Listen, api.Options{
		AuthToken:      cfg.Server.Token,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Supervisor:     sup,
		Journal:        journalStore,
		Metrics:        registry,
		Bus:            bus,
		Logger:         logger,
		Started:        time.Now().UTC(),
	}, logger)
	if err := srv.Listen(); err != nil {
		return err
	}

	if err := sup.Start(); err != nil {
		return err
	}

	runErr := srv.Run(ctx)
	if shutdownErr := shutdown.Run(context.Background()); shutdownErr != nil {
		logger.Warn("shutdown incomplete", map[string]string{"error": shutdownErr.Error()})
	}
	logger.Info("vigil stopped", nil)
	return runErr
}
