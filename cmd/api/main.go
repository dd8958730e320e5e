package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexuscloud/nexus/internal/auth"
	"github.com/nexuscloud/nexus/internal/blob"
	"github.com/nexuscloud/nexus/internal/config"
	"github.com/nexuscloud/nexus/internal/file"
	"github.com/nexuscloud/nexus/internal/logger"
	"github.com/nexuscloud/nexus/internal/metrics"
	"github.com/nexuscloud/nexus/internal/quota"
	"github.com/nexuscloud/nexus/internal/reconcile"
	"github.com/nexuscloud/nexus/internal/server"
	"github.com/nexuscloud/nexus/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	logg, err := logger.Init()
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer logg.Sync()

	cfg, err := config.Load()
	if err != nil {
		logg.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Fatal("nexus api stopped with error", zap.Error(err))
	}
	logg.Info("nexus api gracefully stopped")
}

func run(ctx context.Context, cfg config.Config, logg *zap.Logger) error {
	metrics.InitMetrics()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbPool.Close()

	if cfg.Postgres.RunMigrations {
		if err := storage.Migrate(ctx, dbPool); err != nil {
			return err
		}
	}

	blobs, err := blob.Open(ctx, cfg.Blob, logg)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	fileRepo := file.NewRepository(dbPool)
	ledgerRepo := quota.NewRepository(dbPool)
	taskRepo := reconcile.NewRepository(dbPool)

	g, ctx := errgroup.WithContext(ctx)

	var sink reconcile.Sink
	if cfg.AMQP.URL != "" {
		publisher := reconcile.NewPublisher(cfg.AMQP, logg)
		if err := publisher.Connect(ctx); err != nil {
			return err
		}
		defer publisher.Close()
		sink = publisher
		g.Go(func() error {
			publisher.Run(ctx)
			return nil
		})
	}

	reconciler := quota.NewReconciler(ledgerRepo, fileRepo, cfg.Reconcile.Concurrency, cfg.Reconcile.PendingTimeout, logg)
	recorder := reconcile.NewRecorder(taskRepo, sink, logg)

	fileService := file.NewService(fileRepo, ledgerRepo, blobs, recorder, file.Options{
		MaxFileSize: cfg.Upload.MaxFileSize,
		Logger:      logg,
	})
	quotaService := quota.NewService(ledgerRepo, reconciler)

	router := server.NewRouter(server.Dependencies{
		Config:       cfg,
		Logger:       logg,
		DB:           dbPool,
		Blobs:        blobs,
		Tokens:       auth.NewService(cfg.Auth),
		FileService:  fileService,
		QuotaService: quotaService,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		logg.Info("nexus api listening", zap.String("addr", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Reconcile.Enabled {
		worker := reconcile.NewWorker(reconciler, taskRepo, blobs, fileRepo, reconcile.WorkerConfig{
			Interval:  cfg.Reconcile.Interval,
			BatchSize: cfg.Reconcile.BatchSize,
		}, logg)
		g.Go(func() error { return worker.Run(ctx) })
	}

	<-ctx.Done()
	logg.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("http server shutdown", zap.Error(err))
	}

	return g.Wait()
}
