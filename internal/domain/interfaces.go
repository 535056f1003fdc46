package domain

import (
	"context"
	"time"
)

// ArticleOrder задаёт сортировку выборки статей.
type ArticleOrder int

const (
	OrderNone ArticleOrder = iota
	OrderByRatingDesc
	OrderByPositionAsc
)

// ArticleQuery описывает фильтр выборки статей. Нулевые поля не ограничивают выборку.
type ArticleQuery struct {
	PublishedSince time.Time
	// PositiveOnly оставляет только статьи с рейтингом строго больше нуля.
	PositiveOnly bool
	// MaxPosition > 0 оставляет статьи с позицией 1..MaxPosition.
	MaxPosition int
	OrderBy     ArticleOrder
	Limit       int
}

// ArticleRepo управляет статьями и полями рейтинга.
type ArticleRepo interface {
	GetArticle(ctx context.Context, id string) (Article, error)
	ListArticles(ctx context.Context, q ArticleQuery) ([]Article, error)
	HasRankedPositions(ctx context.Context) (bool, error)
	UpdateRating(ctx context.Context, id string, rating float64, at time.Time) error
	ApplyRatingUpdate(ctx context.Context, upd RatingUpdate) error
	// UpdateMetricsByURL записывает метрики статьи по каноническому URL и возвращает её ID.
	UpdateMetricsByURL(ctx context.Context, url string, m Metrics) (string, error)
}

// WeightsRepo хранит настройки формулы рейтинга.
type WeightsRepo interface {
	// GetWeights возвращает ErrWeightsNotFound, если строки нет.
	GetWeights(ctx context.Context, key string) (WeightSettings, error)
	// CreateWeights создаёт строку, если её нет, и возвращает фактическое содержимое.
	CreateWeights(ctx context.Context, ws WeightSettings) (WeightSettings, error)
	SaveWeights(ctx context.Context, ws WeightSettings) (WeightSettings, error)
}

// SourceRepo возвращает источники статей.
type SourceRepo interface {
	ListActiveSources(ctx context.Context) ([]Source, error)
	GetSource(ctx context.Context, id string) (Source, error)
}

// MetricsSource выгружает актуальные метрики постов источника.
type MetricsSource interface {
	FetchCurrentMetrics(ctx context.Context, src Source) ([]MetricsSample, error)
}

// Cache используется для межпроцессного троттлинга.
type Cache interface {
	// Once выполняет fn, если ключ не был занят в течение ttl.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
}
