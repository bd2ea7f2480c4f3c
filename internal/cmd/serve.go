package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vegeta897/slash-create/internal/config"
	"github.com/vegeta897/slash-create/internal/dispatch"
	errwrap "github.com/vegeta897/slash-create/internal/errors"
	"github.com/vegeta897/slash-create/internal/metrics"
	"github.com/vegeta897/slash-create/internal/observability"
	"github.com/vegeta897/slash-create/internal/rest"
	"github.com/vegeta897/slash-create/internal/rest/store"
	"github.com/vegeta897/slash-create/internal/server"
	"github.com/vegeta897/slash-create/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// samplerInterval paces the background loop that publishes dispatcher
// gauges and evicts idle buckets.
const samplerInterval = 15 * time.Second

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	// Check if signal system is responsive
	// This is a basic check - in production you might want more sophisticated checks
	return nil // Signal handlers are registered and ready
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

// dispatcherHealthChecker verifies the dispatcher is wired and accepting
type dispatcherHealthChecker struct {
	dispatcher *rest.Dispatcher
}

func (d dispatcherHealthChecker) CheckHealth(ctx context.Context) error {
	if d.dispatcher == nil {
		return errwrap.NewInternalError("dispatcher not initialized")
	}
	return nil
}

// storeHealthChecker probes the bucket store with a cheap count
type storeHealthChecker struct {
	backend store.Backend
}

func (s storeHealthChecker) CheckHealth(ctx context.Context) error {
	if s.backend == nil {
		return errwrap.NewInternalError("bucket store not initialized")
	}
	if _, err := s.backend.CountBuckets(ctx, store.BucketQuery{All: true}); err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "bucket store unreachable")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP relay server",
	Long: `Start the HTTP relay server with graceful shutdown support.

The server exposes the dispatch API: request relaying, bucket state,
and dispatch counters, backed by one shared rate limit scheduler.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (placeholder - restart recommended)

Shutdown drains queued requests, persists bucket state, and flushes
logs before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get app identity for telemetry namespace
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed")
		}

		// Initialize server logger with namespace
		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}

		// Initialize metrics with namespace
		if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
			observability.ServerLogger.Error("Failed to initialize metrics",
				zap.Error(err))
			return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
		}
		metrics.SetServerStartTime(time.Now().Unix())

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.String("api_base_url", cfg.API.BaseURL))

		// Open the bucket store when persistence is enabled
		var backend store.Backend
		if cfg.Dispatch.Persist {
			db, err := store.Open(cmd.Context(), cfg.Store)
			if err != nil {
				return errwrap.WrapDatabaseError(cmd.Context(), err, "bucket store unavailable")
			}
			if err := db.Migrate(cmd.Context()); err != nil {
				_ = db.Close()
				return errwrap.WrapDatabaseError(cmd.Context(), err, "bucket store migration failed")
			}
			backend = db
			observability.ServerLogger.Info("Bucket store ready",
				zap.String("driver", db.Driver()))
		}

		// Build the shared dispatcher all HTTP requests flow through
		var bucketStore rest.BucketStore
		if backend != nil {
			bucketStore = backend
		}
		dispatcher := dispatch.NewDispatcher(cfg, observability.ServerLogger, bucketStore)

		handlers.SetDispatcher(dispatcher)
		handlers.SetBucketBackend(backend)

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal_handlers", signalHealthChecker{})
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
		hm.RegisterChecker("dispatcher", dispatcherHealthChecker{dispatcher: dispatcher})
		if backend != nil {
			hm.RegisterChecker("bucket_store", storeHealthChecker{backend: backend})
		}

		// Create server
		srv := server.New(cfg.Server)

		// Set app identity for handlers
		handlers.SetAppIdentity(identity)

		// Get shutdown timeout from config
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Close the bucket store (after the dispatcher drains)
		if backend != nil {
			signals.OnShutdown(func(ctx context.Context) error {
				observability.ServerLogger.Info("Closing bucket store...")
				if err := backend.Close(); err != nil {
					observability.ServerLogger.Warn("Bucket store close failed", zap.Error(err))
				}
				return nil
			})
		}

		// Handler 3: Drain the dispatcher so in-flight requests resolve
		// and discovered bucket state persists
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Draining dispatcher...")
			drainCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := dispatcher.Close(drainCtx); err != nil {
				observability.ServerLogger.Warn("Dispatcher drain incomplete", zap.Error(err))
				return nil
			}

			observability.ServerLogger.Info("Dispatcher drained")
			return nil
		})

		// Handler 4: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

			// Attempt to reload configuration
			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					observability.ServerLogger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				observability.ServerLogger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			if _, err := config.Load(ctx); err != nil {
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			// The running dispatcher keeps its tuning; restart to apply
			// dispatch or transport changes.
			observability.ServerLogger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()))

			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		serveCtx, cancelSampler := context.WithCancel(cmd.Context())
		defer cancelSampler()
		go runDispatcherSampler(serveCtx, dispatcher)

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// runDispatcherSampler publishes dispatcher counters and bucket gauges
// on a fixed cadence, and evicts buckets whose state went stale.
func runDispatcherSampler(ctx context.Context, dispatcher *rest.Dispatcher) {
	ticker := time.NewTicker(samplerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := dispatcher.Stats()
			metrics.PublishDispatchStats(stats.Enqueued, stats.Dispatched, stats.Retried, stats.Throttled)

			snapshot := dispatcher.Snapshot()
			queued := 0
			for _, info := range snapshot {
				queued += info.Queued
			}
			metrics.PublishBucketGauges(int64(len(snapshot)), int64(queued))

			if evicted := dispatcher.EvictIdle(); evicted > 0 {
				metrics.RecordBucketsEvicted(int64(evicted))
				observability.ServerLogger.Debug("Evicted idle buckets",
					zap.Int("count", evicted))
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
