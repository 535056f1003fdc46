package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"

	httpinfra "mediasyndicate/internal/infra/http"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	Auth struct {
		AdminToken string `envconfig:"ADMIN_TOKEN"`
		CronSecret string `envconfig:"CRON_SECRET"`
	} `envconfig:""`

	Rating struct {
		WeightsCacheTTL  time.Duration `envconfig:"WEIGHTS_CACHE_TTL" default:"1m"`
		WriteConcurrency int           `envconfig:"RATING_WRITE_CONCURRENCY" default:"8"`
		RecalcWindowHrs  float64       `envconfig:"RATING_RECALC_WINDOW_HOURS" default:"168"`
		RecalcTimeout    time.Duration `envconfig:"RECALC_TIMEOUT" default:"20s"`
		RefreshBudget    time.Duration `envconfig:"LIVE_REFRESH_BUDGET" default:"45s"`
	} `envconfig:""`

	Feeds struct {
		Timeout         time.Duration `envconfig:"FEED_TIMEOUT" default:"25s"`
		RefreshInterval time.Duration `envconfig:"METRICS_REFRESH_INTERVAL" default:"30s"`
		UserAgent       string        `envconfig:"FEED_USER_AGENT" default:"mediasyndicate-rating/1.0"`
	} `envconfig:""`

	Schedule struct {
		RatingCron  string        `envconfig:"RATING_CRON" default:"0 * * * *"`
		MetricsCron string        `envconfig:"METRICS_CRON" default:"@every 30s"`
		JobTimeout  time.Duration `envconfig:"SCHEDULE_JOB_TIMEOUT" default:"5m"`
	} `envconfig:""`

	Queues struct {
		Rating string `envconfig:"RATING_QUEUE_KEY" default:"rating_jobs"`
	} `envconfig:""`
}

// Validate проверяет обязательные параметры.
func (c AppConfig) Validate() error {
	if c.PGDSN == "" {
		return errors.New("не указан PG_DSN")
	}
	if c.Feeds.Timeout <= 0 || c.Rating.RecalcTimeout <= 0 || c.Rating.RefreshBudget <= 0 {
		return errors.New("таймауты должны быть положительными")
	}
	if c.Rating.RefreshBudget >= httpinfra.RequestTimeout {
		return fmt.Errorf("LIVE_REFRESH_BUDGET должен быть меньше таймаута запроса %v", httpinfra.RequestTimeout)
	}
	return nil
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("некорректный конфиг: %v", err)
	}
	return cfg
}
