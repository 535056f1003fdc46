package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mediasyndicate/internal/adapters/api"
	"mediasyndicate/internal/adapters/feed"
	"mediasyndicate/internal/adapters/repo"
	"mediasyndicate/internal/domain"
	"mediasyndicate/internal/infra/cache"
	"mediasyndicate/internal/infra/config"
	"mediasyndicate/internal/infra/db"
	httpinfra "mediasyndicate/internal/infra/http"
	applog "mediasyndicate/internal/infra/log"
	"mediasyndicate/internal/infra/metrics"
	"mediasyndicate/internal/infra/queue"
	"mediasyndicate/internal/usecase/feeds"
	"mediasyndicate/internal/usecase/live"
	"mediasyndicate/internal/usecase/rating"
	"mediasyndicate/internal/usecase/weights"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var (
		throttle    domain.Cache = cache.NewMemory()
		ratingQueue domain.RatingQueue
	)
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к Redis")
		}
		defer client.Close()
		throttle = cache.NewRedis(client)
		ratingQueue = queue.NewRedisRatingQueue(client, cfg.Queues.Rating)
	} else {
		logger.Warn().Msg("api: REDIS_ADDR не задан, троттлинг в памяти процесса, пересчёт статей без очереди")
	}

	weightsService := weights.NewService(repoAdapter, cfg.Rating.WeightsCacheTTL, applog.Component(logger, "weights"))
	ratingService := rating.NewService(repoAdapter, weightsService, cfg.Rating.WriteConcurrency, applog.Component(logger, "rating"))
	feedRouter := feed.NewRouter(feed.WithUserAgent(cfg.Feeds.UserAgent))
	feedsService := feeds.NewService(repoAdapter, repoAdapter, feedRouter, ratingService, 0, applog.Component(logger, "feeds"))
	liveService := live.NewService(ratingService, feedsService, throttle, live.NewSnapshotCache(), live.Config{
		FeedTimeout:       cfg.Feeds.Timeout,
		RecalcTimeout:     cfg.Rating.RecalcTimeout,
		MetricsInterval:   cfg.Feeds.RefreshInterval,
		RecalcWindowHours: cfg.Rating.RecalcWindowHrs,
		RefreshBudget:     cfg.Rating.RefreshBudget,
	}, applog.Component(logger, "live"))

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	api.NewHandler(api.Deps{
		Live:              liveService,
		Ratings:           ratingService,
		Weights:           weightsService,
		Metrics:           feedsService,
		Queue:             ratingQueue,
		AdminToken:        cfg.Auth.AdminToken,
		CronSecret:        cfg.Auth.CronSecret,
		RecalcWindowHours: cfg.Rating.RecalcWindowHrs,
	}, applog.Component(logger, "api")).Register(server.Router)

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)
	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки сервера")
	}
}
