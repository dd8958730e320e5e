// Command reconcile runs one ledger sweep and optionally drains the repair
// journal, then exits. It is meant for cron jobs and manual recovery.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nexuscloud/nexus/internal/blob"
	"github.com/nexuscloud/nexus/internal/config"
	"github.com/nexuscloud/nexus/internal/file"
	"github.com/nexuscloud/nexus/internal/logger"
	"github.com/nexuscloud/nexus/internal/metrics"
	"github.com/nexuscloud/nexus/internal/quota"
	"github.com/nexuscloud/nexus/internal/reconcile"
	"github.com/nexuscloud/nexus/internal/storage"
)

type options struct {
	concurrency int
	drainTasks  bool
	batchSize   int
}

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

	opts := options{}
	flags := pflag.NewFlagSet("reconcile", pflag.ExitOnError)
	flags.IntVar(&opts.concurrency, "concurrency", cfg.Reconcile.Concurrency, "owners reconciled in parallel")
	flags.BoolVar(&opts.drainTasks, "drain-tasks", false, "also apply pending repair tasks")
	flags.IntVar(&opts.batchSize, "batch-size", cfg.Reconcile.BatchSize, "pending tasks applied per run")
	_ = flags.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pass, err := run(ctx, cfg, opts, logg)
	out, _ := json.MarshalIndent(pass, "", "  ")
	fmt.Println(string(out))
	if err != nil {
		logg.Error("reconcile finished with errors", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, logg *zap.Logger) (reconcile.Pass, error) {
	metrics.InitMetrics()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return reconcile.Pass{}, fmt.Errorf("connect postgres: %w", err)
	}
	defer dbPool.Close()

	ledgers := quota.NewRepository(dbPool)
	records := file.NewRepository(dbPool)
	reconciler := quota.NewReconciler(ledgers, records, opts.concurrency, cfg.Reconcile.PendingTimeout, logg)

	if !opts.drainTasks {
		report, err := reconciler.Sweep(ctx)
		pass := reconcile.Pass{Sweep: report}
		if err == nil && report.Failed > 0 {
			err = fmt.Errorf("%w: %d owners failed", reconcile.ErrPassIncomplete, report.Failed)
		}
		return pass, err
	}

	blobs, err := blob.Open(ctx, cfg.Blob, logg)
	if err != nil {
		return reconcile.Pass{}, fmt.Errorf("open blob store: %w", err)
	}

	worker := reconcile.NewWorker(reconciler, reconcile.NewRepository(dbPool), blobs, records, reconcile.WorkerConfig{
		Interval:  cfg.Reconcile.Interval,
		BatchSize: opts.batchSize,
	}, logg)

	pass, err := worker.RunOnce(ctx)
	if errors.Is(err, context.Canceled) {
		logg.Warn("reconcile interrupted")
	}
	return pass, err
}
