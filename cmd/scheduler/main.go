package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mediasyndicate/internal/adapters/feed"
	"mediasyndicate/internal/adapters/repo"
	"mediasyndicate/internal/infra/cache"
	"mediasyndicate/internal/infra/config"
	"mediasyndicate/internal/infra/db"
	applog "mediasyndicate/internal/infra/log"
	"mediasyndicate/internal/infra/metrics"
	"mediasyndicate/internal/infra/queue"
	"mediasyndicate/internal/usecase/feeds"
	"mediasyndicate/internal/usecase/rating"
	"mediasyndicate/internal/usecase/schedule"
	"mediasyndicate/internal/usecase/weights"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	weightsService := weights.NewService(repoAdapter, cfg.Rating.WeightsCacheTTL, applog.Component(logger, "weights"))
	ratingService := rating.NewService(repoAdapter, weightsService, cfg.Rating.WriteConcurrency, applog.Component(logger, "rating"))
	feedRouter := feed.NewRouter(feed.WithUserAgent(cfg.Feeds.UserAgent))
	feedsService := feeds.NewService(repoAdapter, repoAdapter, feedRouter, ratingService, 0, applog.Component(logger, "feeds"))

	scheduler := schedule.NewService(applog.Component(logger, "schedule"), cfg.Schedule.JobTimeout)
	if err := scheduler.Add("rating_dynamics", cfg.Schedule.RatingCron, func(ctx context.Context) error {
		res, err := ratingService.RecalculateWithDynamics(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int("updated", res.Updated).Int("errors", res.Errors).Int("new_in_top", res.NewInTop).
			Int("moved_up", res.MovedUp).Int("moved_down", res.MovedDown).Msg("scheduler: позиции пересчитаны")
		return nil
	}); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание")
	}
	if err := scheduler.Add("metrics_update", cfg.Schedule.MetricsCron, func(ctx context.Context) error {
		_, err := feedsService.UpdateAll(ctx)
		return err
	}); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание")
	}
	scheduler.Start()

	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: нет подключения к Redis")
		}
		defer client.Close()
		worker := rating.NewWorker(queue.NewRedisRatingQueue(client, cfg.Queues.Rating), ratingService, applog.Component(logger, "rating_worker"))
		go worker.Run(ctx)
		logger.Info().Str("queue", cfg.Queues.Rating).Msg("scheduler: обработка очереди пересчёта запущена")
	}

	logger.Info().Msg("scheduler: старт")
	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	scheduler.Stop(shutdownCtx)
}
