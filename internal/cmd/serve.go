package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/catalog/internal/observability"
	"github.com/3leaps/catalog/internal/server"
	"github.com/3leaps/catalog/internal/server/handlers"
	"github.com/3leaps/catalog/internal/session"
	"github.com/3leaps/catalog/pkg/bulk"
	"github.com/3leaps/catalog/pkg/listing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the selection HTTP API",
	Long: `Serve the selection API used by the browser front-end.

Examples:
  catalog serve
  catalog serve --host 0.0.0.0 --port 9000
  CATALOG_STORAGE=file CATALOG_STORAGE_ROOT=./buckets catalog serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost        string
	servePort        int
	serveNoBookmarks bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveNoBookmarks, "no-bookmarks", false, "Disable the bookmarks database")
}

// dbHealthChecker pings the bookmarks database.
type dbHealthChecker struct {
	db *sql.DB
}

func (c dbHealthChecker) CheckHealth(ctx context.Context) error {
	if c.db == nil {
		return errors.New("bookmarks database not open")
	}
	return c.db.PingContext(ctx)
}

// sessionHealthChecker fails once the registry is full.
type sessionHealthChecker struct {
	registry *session.Registry
	max      int
}

func (c sessionHealthChecker) CheckHealth(context.Context) error {
	if c.max > 0 && c.registry.Len() >= c.max {
		return fmt.Errorf("session limit %d reached", c.max)
	}
	return nil
}

// telemetryHealthChecker fails until the metrics exporter is running.
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(context.Context) error {
	return observability.TelemetryReady()
}

func recordBulkItem(action bulk.Action, err error) {
	observability.RecordBulkItem(action.Verb, err)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := *appConfig
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	if err := observability.InitServerLogger("catalog", cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	log := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitTelemetry("catalog", cfg.Metrics.Port); err != nil {
			log.Warn("Failed to start metrics exporter", zap.Error(err))
		} else {
			defer func() { _ = observability.ShutdownTelemetry() }()
			log.Info("Metrics exporter started", zap.Int("port", cfg.Metrics.Port))
		}
	}

	resolve, providerName, closeResolver := newResolver(&cfg)
	defer closeResolver()

	registry := session.NewRegistry(session.Options{
		IdleTTL:     cfg.Sessions.IdleTTL,
		MaxSessions: cfg.Sessions.MaxSessions,
		OnCount:     observability.SetSessions,
		Logger:      log,
	})
	var snapshots *session.Store
	if cfg.Sessions.PersistDir != "" {
		snapshots = session.NewStore(cfg.Sessions.PersistDir)
		n, err := registry.Load(snapshots)
		if err != nil {
			log.Warn("Failed to restore sessions", zap.Error(err))
		} else if n > 0 {
			log.Info("Sessions restored", zap.Int("count", n))
		}
	}

	handlers.InitHealthManager(versionInfo.Version)
	health := handlers.GetHealthManager()
	health.RegisterChecker("sessions", sessionHealthChecker{registry: registry, max: cfg.Sessions.MaxSessions})
	if cfg.Metrics.Enabled {
		health.RegisterChecker("telemetry", telemetryHealthChecker{})
	}

	api := &handlers.API{
		Sessions:     registry,
		Resolve:      resolve,
		DefaultGroup: cfg.Bookmarks.DefaultGroup,
		Bulk: bulk.Config{
			Concurrency: cfg.Bulk.Concurrency,
			RateLimit:   cfg.Bulk.RateLimit,
			Logger:      log,
			OnItem:      recordBulkItem,
		},
		SummaryLimit: cfg.Bulk.SummaryLimit,
		Listing:      listing.Options{PageSize: cfg.S3.MaxKeys, MaxItems: cfg.Listing.MaxItems},
		Logger:       log,
	}

	if !serveNoBookmarks {
		store, db, err := openBookmarks(ctx, &cfg)
		if err != nil {
			log.Error("Failed to open bookmarks database", zap.Error(err))
			return exitError(foundry.ExitFileReadError, "Failed to open bookmarks database", err)
		}
		defer func() { _ = db.Close() }()
		api.Bookmarks = store
		health.RegisterChecker("bookmarks", dbHealthChecker{db: db})
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go registry.Run(sweepCtx, cfg.Sessions.SweepInterval)

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithAPI(api),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout))

	log.Info("Starting catalog API",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("provider", providerName),
		zap.String("version", versionInfo.Version))

	err := srv.Start(ctx, cfg.Server.ShutdownTimeout)

	if snapshots != nil {
		if serr := registry.Save(snapshots); serr != nil {
			log.Warn("Failed to persist sessions", zap.Error(serr))
		}
	}
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	if ctx.Err() != nil {
		log.Info("Server stopped", zap.String("reason", context.Cause(ctx).Error()))
	}
	return nil
}
