package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"mediasyndicate/internal/domain"
	httpinfra "mediasyndicate/internal/infra/http"
)

const defaultListLimit = 50

// LiveRater отдаёт живой рейтинг по периодам.
type LiveRater interface {
	GetLiveRating(ctx context.Context, period domain.Period, limit int) (domain.LiveRating, error)
}

// Ratings — операции рейтинга, доступные через API.
type Ratings interface {
	UpdateOne(ctx context.Context, articleID string) (float64, error)
	RecalculateAll(ctx context.Context, windowHours *float64) (domain.RecalcResult, error)
	RecalculateWithDynamics(ctx context.Context) (domain.DynamicsResult, error)
	InitPositions(ctx context.Context) (domain.DynamicsResult, error)
	GetTopByScore(ctx context.Context, limit int) ([]domain.Article, error)
	GetTrendingWithDynamics(ctx context.Context, limit int) ([]domain.Article, error)
}

// Weights управляет настройками формулы.
type Weights interface {
	Get(ctx context.Context) (domain.WeightSettings, error)
	Update(ctx context.Context, patch domain.WeightsPatch, updatedBy string) (domain.WeightSettings, error)
}

// MetricsUpdater обновляет метрики из источников.
type MetricsUpdater interface {
	UpdateAll(ctx context.Context) (domain.MetricsUpdateResult, error)
}

// Deps — зависимости API. Queue может быть nil, тогда пересчёт статьи выполняется сразу.
type Deps struct {
	Live       LiveRater
	Ratings    Ratings
	Weights    Weights
	Metrics    MetricsUpdater
	Queue      domain.RatingQueue
	AdminToken string
	CronSecret string
	// RecalcWindowHours — окно по умолчанию для ручного пересчёта.
	RecalcWindowHours float64
}

// Handler реализует HTTP API рейтинга.
type Handler struct {
	deps Deps
	log  zerolog.Logger
	now  func() time.Time
}

// NewHandler создаёт обработчики API.
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{deps: deps, log: logger, now: time.Now}
}

// Register подключает маршруты к роутеру.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/rating/live", h.live)
		r.Get("/rating/trending", h.trending)
		r.Get("/rating/top", h.top)
		r.Post("/rating/articles/{id}/rescore", h.rescore)

		r.Group(func(admin chi.Router) {
			admin.Use(httpinfra.BearerAuth(h.deps.AdminToken))
			admin.Get("/admin/rating-settings", h.getSettings)
			admin.Put("/admin/rating-settings", h.putSettings)
			admin.Post("/admin/rating/recalculate", h.recalculate)
			admin.Post("/rating/init", h.initPositions)
		})

		r.Group(func(cron chi.Router) {
			cron.Use(httpinfra.OptionalBearerAuth(h.deps.CronSecret))
			cron.Get("/cron/rating", h.cronRating)
			cron.Get("/cron/metrics-update", h.cronMetrics)
		})
	})
}

func (h *Handler) live(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, ok := parseLimit(w, r, 0)
	if !ok {
		return
	}
	res, err := h.deps.Live.GetLiveRating(r.Context(), period, limit)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPeriod) {
			httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("api: живой рейтинг")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to fetch live rating")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, liveResponse{
		LiveRating:          res,
		Timestamp:           h.now().UnixMilli(),
		TimeUntilNextUpdate: res.TimeUntilNextUpdate.Milliseconds(),
	})
}

func (h *Handler) trending(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultListLimit)
	if !ok {
		return
	}
	list, err := h.deps.Ratings.GetTrendingWithDynamics(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("api: trending")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to fetch trending articles")
		return
	}
	writeArticles(w, list)
}

func (h *Handler) top(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultListLimit)
	if !ok {
		return
	}
	list, err := h.deps.Ratings.GetTopByScore(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("api: top")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to fetch top articles")
		return
	}
	writeArticles(w, list)
}

func (h *Handler) rescore(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "article id is required")
		return
	}
	if h.deps.Queue != nil {
		job := domain.RatingJob{ArticleID: id, Cause: domain.RatingCauseManual, RequestedAt: h.now().UTC()}
		if err := h.deps.Queue.Enqueue(r.Context(), job); err != nil {
			h.log.Error().Err(err).Str("article_id", id).Msg("api: постановка пересчёта в очередь")
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to enqueue rescore")
			return
		}
		httpinfra.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "articleId": id})
		return
	}
	rating, err := h.deps.Ratings.UpdateOne(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrArticleNotFound) {
			httpinfra.WriteError(w, http.StatusNotFound, "article not found")
			return
		}
		h.log.Error().Err(err).Str("article_id", id).Msg("api: пересчёт статьи")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to rescore article")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"status": "updated", "articleId": id, "rating": rating})
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	ws, err := h.deps.Weights.Get(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: чтение настроек рейтинга")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to fetch rating settings")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, newSettingsView(ws))
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var patch domain.WeightsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updatedBy := strings.TrimSpace(r.Header.Get("X-Admin-User"))
	if updatedBy == "" {
		updatedBy = "admin"
	}
	ws, err := h.deps.Weights.Update(r.Context(), patch, updatedBy)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidWeights) {
			httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("api: сохранение настроек рейтинга")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to update rating settings")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, newSettingsView(ws))
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	window := h.deps.RecalcWindowHours
	if raw := r.URL.Query().Get("window_hours"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			httpinfra.WriteError(w, http.StatusBadRequest, "window_hours must be a non-negative number")
			return
		}
		window = v
	}
	var windowPtr *float64
	if window > 0 {
		windowPtr = &window
	}
	res, err := h.deps.Ratings.RecalculateAll(r.Context(), windowPtr)
	if err != nil {
		h.log.Error().Err(err).Msg("api: пересчёт рейтинга")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to update ratings")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"articlesUpdated": res.Updated,
		"errors":          res.Errors,
		"timestamp":       h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) initPositions(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Ratings.InitPositions(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: инициализация позиций")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to init positions")
		return
	}
	writeDynamics(w, res, h.now())
}

func (h *Handler) cronRating(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Ratings.RecalculateWithDynamics(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: cron пересчёт")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to recalculate ratings")
		return
	}
	writeDynamics(w, res, h.now())
}

func (h *Handler) cronMetrics(w http.ResponseWriter, r *http.Request) {
	if h.deps.Metrics == nil {
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "metrics update is not configured")
		return
	}
	res, err := h.deps.Metrics.UpdateAll(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: cron обновление метрик")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to update metrics")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"result":    res,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return v, true
}

func writeDynamics(w http.ResponseWriter, res domain.DynamicsResult, now time.Time) {
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"result":    res,
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

func writeArticles(w http.ResponseWriter, list []domain.Article) {
	out := make([]articleView, 0, len(list))
	for _, a := range list {
		out = append(out, newArticleView(a))
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"articles": out, "count": len(out)})
}
