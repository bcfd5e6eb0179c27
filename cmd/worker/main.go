package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"extraction-worker/internal/config"
	"extraction-worker/internal/extraction"
	"extraction-worker/internal/files"
	"extraction-worker/internal/queue"
	"extraction-worker/internal/store"
	"extraction-worker/internal/taskmanager"
	"extraction-worker/internal/telemetry"
	"extraction-worker/internal/worker"
	"extraction-worker/pkg/log"
)

func main() {
	cfg := config.Load()
	logger := log.InitLog(log.LevelFromString(os.Getenv("LOG_LEVEL")))
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	jobs := jobStore(cfg, st)
	tasks := taskmanager.NewClient(cfg.TaskManagerURL, cfg.TaskManagerTimeout)

	engines := func(ctx context.Context, tenant string) (*extraction.Engine, error) {
		docs, err := documentSource(ctx, cfg, tenant)
		if err != nil {
			return nil, err
		}
		return extraction.NewEngine(tenant, extraction.Deps{
			Extractors:  st.Extractors(tenant),
			Models:      st.Models(tenant),
			Suggestions: st.Suggestions(tenant),
			Data:        st.Data(tenant),
			Tasks:       tasks,
			Documents:   docs,
			Log:         logger,
		}), nil
	}

	w := worker.New(cfg.QueueName, jobs, logger, cfg.WorkerWaitTime)
	w.Register(extraction.JobTrain, extraction.TrainFactory(engines))
	w.Register(extraction.JobResults, extraction.ResultsFactory(engines))

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		logger.Info("shutting down, draining in-flight job")
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelStop()
		if err := w.Stop(stopCtx); err != nil {
			logger.Warn("worker stop timed out", zap.Error(err))
		}
		cancel()
	}()

	logger.Info("worker started",
		zap.String("queue", cfg.QueueName),
		zap.Duration("lockWindow", cfg.LockWindow),
		zap.Strings("jobs", w.RegisteredJobs()))
	if err := w.Start(ctx); err != nil {
		logger.Error("worker stopped", zap.Error(err))
	}
}

func jobStore(cfg config.Config, st *store.Store) queue.JobStore {
	if cfg.JobStoreBackend == "postgres" {
		return st.Jobs()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return queue.NewRedisJobStore(client)
}

func documentSource(ctx context.Context, cfg config.Config, tenant string) (files.Source, error) {
	if cfg.DocumentS3Bucket != "" {
		return files.NewS3Source(ctx, files.S3Config{
			Bucket:    cfg.DocumentS3Bucket,
			Region:    cfg.DocumentS3Region,
			Endpoint:  cfg.DocumentS3Endpoint,
			PathStyle: cfg.DocumentS3PathStyle,
		}, tenant)
	}
	return files.NewLocalSource(cfg.DocumentDir, tenant), nil
}
