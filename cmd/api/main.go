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

	"extraction-worker/internal/api"
	"extraction-worker/internal/config"
	"extraction-worker/internal/extraction"
	"extraction-worker/internal/queue"
	"extraction-worker/internal/ratelimit"
	"extraction-worker/internal/store"
	"extraction-worker/internal/taskmanager"
	"extraction-worker/pkg/log"
)

func main() {
	cfg := config.Load()
	logger := log.InitLog(log.LevelFromString(os.Getenv("LOG_LEVEL")))
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	var jobs queue.JobStore
	if cfg.JobStoreBackend == "postgres" {
		jobs = st.Jobs()
	} else {
		jobs = queue.NewRedisJobStore(redisClient)
	}

	limiter := ratelimit.New(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitTTL)
	tasks := taskmanager.NewClient(cfg.TaskManagerURL, cfg.TaskManagerTimeout)

	deps := func(tenant string) extraction.Deps {
		return extraction.Deps{
			Extractors:  st.Extractors(tenant),
			Models:      st.Models(tenant),
			Suggestions: st.Suggestions(tenant),
			Data:        st.Data(tenant),
			Tasks:       tasks,
			Log:         logger,
		}
	}
	engines := func(_ context.Context, tenant string) (*extraction.Engine, error) {
		return extraction.NewEngine(tenant, deps(tenant)), nil
	}
	managers := func(_ context.Context, tenant string) (*extraction.Manager, error) {
		return extraction.NewManager(deps(tenant)), nil
	}

	server := api.New(cfg, jobs, limiter, engines, managers, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
