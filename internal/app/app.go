// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/reachrl/trainwatch/internal/api"
	"github.com/reachrl/trainwatch/internal/clock/system"
	"github.com/reachrl/trainwatch/internal/config"
	"github.com/reachrl/trainwatch/internal/id/uuid"
	"github.com/reachrl/trainwatch/internal/logging"
	"github.com/reachrl/trainwatch/internal/monitor"
	"github.com/reachrl/trainwatch/internal/progress"
	"github.com/reachrl/trainwatch/internal/progress/sinks"
	"github.com/reachrl/trainwatch/internal/publisher"
	pubgcp "github.com/reachrl/trainwatch/internal/publisher/pubsub"
	"github.com/reachrl/trainwatch/internal/storage"
	"github.com/reachrl/trainwatch/internal/storage/gcs"
	"github.com/reachrl/trainwatch/internal/storage/local"
	blobmemory "github.com/reachrl/trainwatch/internal/storage/memory"
	"github.com/reachrl/trainwatch/internal/store"
	storememory "github.com/reachrl/trainwatch/internal/store/memory"
	"github.com/reachrl/trainwatch/internal/store/postgres"
	"github.com/reachrl/trainwatch/internal/telemetry"
)

// App holds all the shared, long-lived services for the trainwatch service.
// It is initialized once at startup and passed to the components that need it.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	repo     store.RunRepository
	pgStore  *postgres.RunStore
	blobs    storage.BlobStore
	notifier publisher.Publisher
	hub      *progress.Hub
	trackers *monitor.Registry
	server   *api.Server
	psClient *pubsubv2.Client
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Repo exposes the configured run repository.
func (a *App) Repo() store.RunRepository {
	return a.repo
}

// Trackers exposes the per-run monitor registry.
func (a *App) Trackers() *monitor.Registry {
	return a.trackers
}

// Hub exposes the progress event hub.
func (a *App) Hub() *progress.Hub {
	return a.hub
}

// Handler returns the HTTP handler for the API surface.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Build creates and initializes an App from configuration. It fails fast when
// any critical service cannot be initialized.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}

	if err := a.buildStore(ctx); err != nil {
		return nil, err
	}
	if err := a.buildBlobs(ctx); err != nil {
		return nil, err
	}
	if err := a.buildNotifier(ctx); err != nil {
		return nil, err
	}
	if err := a.buildHub(); err != nil {
		return nil, err
	}
	a.buildTrackers()

	a.server = api.NewServer(
		a.repo,
		a.blobs,
		a.hub,
		a.notifier,
		a.trackers,
		uuid.New(),
		system.New(),
		cfg,
		logger.Named("api"),
	)

	logger.Info("application services initialized",
		zap.Bool("postgres", a.pgStore != nil),
		zap.String("storage", cfg.Storage.Provider),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)
	return a, nil
}

func (a *App) buildStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory run store")
		a.repo = storememory.NewRunStore()
		return nil
	}
	a.logger.Info("connecting to postgres")
	pg, err := postgres.NewRunStore(ctx, a.cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("initialize run store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return err
	}
	a.pgStore = pg
	a.repo = pg
	return nil
}

func (a *App) buildBlobs(ctx context.Context) error {
	switch a.cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		blobs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("initialize gcs storage: %w", err)
		}
		a.blobs = blobs
	case "local":
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("initialize local storage: %w", err)
		}
		a.blobs = blobs
	case "memory":
		a.blobs = blobmemory.NewBlobStore()
	case "noop":
		a.logger.Info("using no-op blob store, artifacts will be discarded")
		a.blobs = storage.NoOpStore{}
	default:
		return fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
	return nil
}

func (a *App) buildNotifier(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		return nil
	}
	if _, err := telemetry.InitTracerProvider(ctx, "trainwatch"); err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	client, err := pubsubv2.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	a.psClient = client
	a.notifier = pubgcp.New(client.Publisher(a.cfg.PubSub.TopicName))
	a.logger.Info("pubsub notifications enabled", zap.String("topic", a.cfg.PubSub.TopicName))
	return nil
}

func (a *App) buildHub() error {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("initialize prometheus sink: %w", err)
	}
	bufferSize, batchSize, flush, sinkTimeout := a.cfg.HubConfig()
	a.hub = progress.NewHub(
		progress.Config{
			BufferSize:     bufferSize,
			MaxBatchEvents: batchSize,
			MaxBatchWait:   flush,
			SinkTimeout:    sinkTimeout,
			Logger:         a.logger.Named("progress"),
		},
		sinks.NewLogSink(a.logger.Named("progress.log")),
		promSink,
		sinks.NewStoreSink(a.repo, a.logger.Named("progress.store")),
	)
	return nil
}

// buildTrackers wires the monitor factory: each run's tracker reads its own
// episode log from the repository and reports checks back through the hub.
func (a *App) buildTrackers() {
	a.trackers = monitor.NewRegistry(func(runID string) *monitor.Tracker {
		reader := store.NewEpisodeReader(a.repo, runID)
		return monitor.New(reader, monitor.Config{
			CheckInterval: a.cfg.Monitor.CheckInterval,
			Window:        a.cfg.Monitor.Window,
			Logger:        a.logger.Named("monitor").With(zap.String("run_id", runID)),
			OnCheck: func(_ context.Context, result monitor.Result) {
				if result.InsufficientData {
					return
				}
				a.hub.Emit(progress.Event{
					RunID:      runID,
					TS:         time.Now().UTC(),
					Stage:      progress.StageRunHB,
					Timestep:   result.Timestep,
					Episodes:   int64(result.Episodes),
					MeanReward: result.MeanReward,
					Window:     a.cfg.Monitor.Window,
				})
			},
			OnImprove: func(ctx context.Context, result monitor.Result) {
				now := time.Now().UTC()
				a.hub.Emit(progress.Event{
					RunID:      runID,
					TS:         now,
					Stage:      progress.StageBestUpdate,
					Timestep:   result.Timestep,
					Episodes:   int64(result.Episodes),
					MeanReward: result.BestMeanReward,
					Window:     a.cfg.Monitor.Window,
				})
				if a.notifier != nil {
					n := publisher.Notification{
						RunID:      runID,
						Kind:       publisher.KindBestUpdate,
						Timestep:   result.Timestep,
						MeanReward: result.BestMeanReward,
						At:         now,
					}
					if _, err := a.notifier.Publish(ctx, a.cfg.PubSub.TopicName, n); err != nil {
						a.logger.Warn("publish best update failed",
							zap.String("run_id", runID), zap.Error(err))
					}
				}
			},
		})
	})
}

// Run serves the HTTP API until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.Int("port", a.cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("error draining progress hub", zap.Error(err))
		}
	}
	if a.psClient != nil {
		if err := a.psClient.Close(); err != nil {
			a.logger.Warn("error closing pubsub client", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	// Best effort; stderr sync failures on shutdown are not actionable.
	_ = a.logger.Sync()
}
