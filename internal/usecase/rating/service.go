package rating

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediasyndicate/internal/domain"
	"mediasyndicate/internal/infra/metrics"
	"mediasyndicate/internal/usecase/scoring"
)

// DefaultWriteConcurrency ограничивает число одновременных записей при пакетном пересчёте.
const DefaultWriteConcurrency = 8

// WeightsProvider отдаёт актуальные настройки формулы.
type WeightsProvider interface {
	Get(ctx context.Context) (domain.WeightSettings, error)
}

// Service реализует пересчёт и выборки рейтинга.
type Service struct {
	articles    domain.ArticleRepo
	weights     WeightsProvider
	log         zerolog.Logger
	concurrency int
	now         func() time.Time
}

// NewService создаёт сервис рейтинга.
func NewService(articles domain.ArticleRepo, weights WeightsProvider, concurrency int, logger zerolog.Logger) *Service {
	if concurrency <= 0 {
		concurrency = DefaultWriteConcurrency
	}
	return &Service{articles: articles, weights: weights, log: logger, concurrency: concurrency, now: time.Now}
}

// UpdateOne пересчитывает рейтинг одной статьи.
func (s *Service) UpdateOne(ctx context.Context, articleID string) (float64, error) {
	w, err := s.weights.Get(ctx)
	if err != nil {
		return 0, err
	}
	article, err := s.articles.GetArticle(ctx, articleID)
	if err != nil {
		return 0, fmt.Errorf("статья %s: %w", articleID, err)
	}
	now := s.now().UTC()
	value := scoring.Rating(article.Metrics, article.PublishedAt, w, now)
	if err := s.articles.UpdateRating(ctx, articleID, value, now); err != nil {
		return 0, fmt.Errorf("сохранение рейтинга %s: %w", articleID, err)
	}
	return value, nil
}

// RecalculateAll пересчитывает рейтинг статей, опубликованных за последние windowHours часов
// (nil — все статьи). Ошибки по отдельным статьям считаются, но не прерывают пересчёт.
func (s *Service) RecalculateAll(ctx context.Context, windowHours *float64) (domain.RecalcResult, error) {
	start := time.Now()
	w, err := s.weights.Get(ctx)
	if err != nil {
		return domain.RecalcResult{}, err
	}
	now := s.now().UTC()
	q := domain.ArticleQuery{}
	if windowHours != nil && *windowHours > 0 {
		q.PublishedSince = now.Add(-time.Duration(*windowHours * float64(time.Hour)))
	}
	list, err := s.articles.ListArticles(ctx, q)
	if err != nil {
		return domain.RecalcResult{}, fmt.Errorf("выборка статей: %w", err)
	}
	s.log.Debug().Int("articles", len(list)).Msg("rating: пересчёт всех статей")

	var updated, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, a := range list {
		a := a
		g.Go(func() error {
			value := scoring.Rating(a.Metrics, a.PublishedAt, w, now)
			if err := s.articles.UpdateRating(gctx, a.ID, value, now); err != nil {
				failed.Add(1)
				s.log.Warn().Err(err).Str("article", a.ID).Msg("rating: не удалось сохранить рейтинг")
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := domain.RecalcResult{Updated: int(updated.Load()), Errors: int(failed.Load())}
	metrics.ObserveRecalc("all", start, res.Errors)
	s.log.Info().Int("updated", res.Updated).Int("errors", res.Errors).Msg("rating: пересчёт завершён")
	return res, nil
}

// RecalculateWithDynamics пересчитывает рейтинг положительно оценённых статей и обновляет позиции.
func (s *Service) RecalculateWithDynamics(ctx context.Context) (domain.DynamicsResult, error) {
	start := time.Now()
	w, err := s.weights.Get(ctx)
	if err != nil {
		return domain.DynamicsResult{}, err
	}
	list, err := s.articles.ListArticles(ctx, domain.ArticleQuery{PositiveOnly: true})
	if err != nil {
		return domain.DynamicsResult{}, fmt.Errorf("выборка статей: %w", err)
	}

	ranking := RankAndDiff(list, w, s.now().UTC())

	var updated, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, upd := range ranking.Updates {
		upd := upd
		g.Go(func() error {
			if err := s.articles.ApplyRatingUpdate(gctx, upd); err != nil {
				failed.Add(1)
				s.log.Warn().Err(err).Str("article", upd.ArticleID).Msg("rating: не удалось сохранить позицию")
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := domain.DynamicsResult{
		Updated:   int(updated.Load()),
		Errors:    int(failed.Load()),
		NewInTop:  ranking.NewInTop,
		MovedUp:   ranking.MovedUp,
		MovedDown: ranking.MovedDown,
	}
	metrics.ObserveRecalc("dynamics", start, res.Errors)
	s.log.Info().
		Int("updated", res.Updated).
		Int("errors", res.Errors).
		Int("new_in_top", res.NewInTop).
		Int("moved_up", res.MovedUp).
		Int("moved_down", res.MovedDown).
		Msg("rating: пересчёт с динамикой завершён")
	return res, nil
}

// InitPositions дважды запускает пересчёт с динамикой, чтобы после развёртывания
// у статей появились и текущая, и предыдущая позиции.
func (s *Service) InitPositions(ctx context.Context) (domain.DynamicsResult, error) {
	if _, err := s.RecalculateWithDynamics(ctx); err != nil {
		return domain.DynamicsResult{}, err
	}
	return s.RecalculateWithDynamics(ctx)
}

// GetTopByScore возвращает статьи по убыванию рейтинга без фильтра по знаку.
func (s *Service) GetTopByScore(ctx context.Context, limit int) ([]domain.Article, error) {
	return s.articles.ListArticles(ctx, domain.ArticleQuery{OrderBy: domain.OrderByRatingDesc, Limit: limit})
}

// GetPositivelyRanked возвращает статьи с рейтингом строго больше нуля.
func (s *Service) GetPositivelyRanked(ctx context.Context, limit int) ([]domain.Article, error) {
	return s.articles.ListArticles(ctx, domain.ArticleQuery{PositiveOnly: true, OrderBy: domain.OrderByRatingDesc, Limit: limit})
}

// GetRecentPositive возвращает положительно оценённые статьи, опубликованные не раньше since.
func (s *Service) GetRecentPositive(ctx context.Context, since time.Time, limit int) ([]domain.Article, error) {
	return s.articles.ListArticles(ctx, domain.ArticleQuery{
		PublishedSince: since,
		PositiveOnly:   true,
		OrderBy:        domain.OrderByRatingDesc,
		Limit:          limit,
	})
}

// GetTrendingWithDynamics возвращает статьи по сохранённым позициям. Если позиций ещё нет,
// сортирует по рейтингу и проставляет позиции на лету без динамики.
func (s *Service) GetTrendingWithDynamics(ctx context.Context, limit int) ([]domain.Article, error) {
	ranked, err := s.articles.HasRankedPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("проверка позиций: %w", err)
	}
	if ranked {
		return s.articles.ListArticles(ctx, domain.ArticleQuery{
			PositiveOnly: true,
			MaxPosition:  limit,
			OrderBy:      domain.OrderByPositionAsc,
			Limit:        limit,
		})
	}

	list, err := s.GetPositivelyRanked(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].CurrentPosition = i + 1
		list[i].PreviousPosition = 0
		list[i].PositionChange = 0
		list[i].RatingDelta = 0
		list[i].PreviousRating = list[i].Rating
	}
	return list, nil
}

// IsNotFound сообщает, что статья не найдена.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrArticleNotFound)
}
