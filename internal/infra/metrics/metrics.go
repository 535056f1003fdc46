package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	RecalcSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rating_recalc_seconds",
		Help:    "Время пакетного пересчёта рейтинга",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	RecalcErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rating_recalc_errors_total",
		Help: "Статьи, которые не удалось сохранить при пересчёте",
	}, []string{"mode"})
	SnapshotRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rating_snapshot_refresh_total",
		Help: "Обновления снимков живого рейтинга",
	}, []string{"period"})
	LiveFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rating_live_fallback_total",
		Help: "Ответы живого рейтинга из последних известных данных",
	}, []string{"period", "status"})
	FeedErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_fetch_errors_total",
		Help: "Ошибки получения метрик из источников",
	}, []string{"source_type"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		RecalcSeconds,
		RecalcErrors,
		SnapshotRefreshes,
		LiveFallbacks,
		FeedErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveRecalc записывает длительность пересчёта и число ошибок.
func ObserveRecalc(mode string, start time.Time, errs int) {
	RecalcSeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if errs > 0 {
		RecalcErrors.WithLabelValues(mode).Add(float64(errs))
	}
}

// IncSnapshotRefresh увеличивает счётчик обновлений снимка периода.
func IncSnapshotRefresh(period string) {
	SnapshotRefreshes.WithLabelValues(period).Inc()
}

// IncLiveFallback отмечает ответ из последних известных данных.
func IncLiveFallback(period, status string) {
	LiveFallbacks.WithLabelValues(period, status).Inc()
}

// IncFeedError отмечает ошибку источника.
func IncFeedError(sourceType string) {
	FeedErrors.WithLabelValues(sourceType).Inc()
}
