package feeds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediasyndicate/internal/domain"
)

const (
	// DefaultSourceConcurrency — сколько источников опрашиваем одновременно.
	DefaultSourceConcurrency = 4
	// DefaultSourceTimeout ограничивает опрос одного источника.
	DefaultSourceTimeout = 15 * time.Second
)

// Rescorer пересчитывает рейтинг статьи после обновления метрик.
type Rescorer interface {
	UpdateOne(ctx context.Context, articleID string) (float64, error)
}

// Service обновляет метрики статей из источников и пересчитывает их рейтинг.
type Service struct {
	sources       domain.SourceRepo
	articles      domain.ArticleRepo
	feed          domain.MetricsSource
	rescorer      Rescorer
	log           zerolog.Logger
	sourceTimeout time.Duration
}

// NewService создаёт сервис обновления метрик.
func NewService(sources domain.SourceRepo, articles domain.ArticleRepo, feed domain.MetricsSource, rescorer Rescorer, sourceTimeout time.Duration, logger zerolog.Logger) *Service {
	if sourceTimeout <= 0 {
		sourceTimeout = DefaultSourceTimeout
	}
	return &Service{
		sources:       sources,
		articles:      articles,
		feed:          feed,
		rescorer:      rescorer,
		log:           logger,
		sourceTimeout: sourceTimeout,
	}
}

// UpdateAll обновляет метрики по всем активным источникам.
// Ошибка возвращается, только если не удалось получить список источников.
func (s *Service) UpdateAll(ctx context.Context) (domain.MetricsUpdateResult, error) {
	sources, err := s.sources.ListActiveSources(ctx)
	if err != nil {
		return domain.MetricsUpdateResult{}, fmt.Errorf("список источников: %w", err)
	}

	var (
		mu    sync.Mutex
		total domain.MetricsUpdateResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultSourceConcurrency)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			res := s.updateSource(gctx, src)
			mu.Lock()
			total.SourcesProcessed++
			total.ArticlesUpdated += res.ArticlesUpdated
			total.Skipped += res.Skipped
			total.Errors += res.Errors
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info().
		Int("sources", total.SourcesProcessed).
		Int("updated", total.ArticlesUpdated).
		Int("skipped", total.Skipped).
		Int("errors", total.Errors).
		Msg("feeds: метрики обновлены")
	return total, nil
}

// UpdateSource обновляет метрики одного активного источника.
func (s *Service) UpdateSource(ctx context.Context, sourceID string) (domain.MetricsUpdateResult, error) {
	src, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return domain.MetricsUpdateResult{}, fmt.Errorf("источник %s: %w", sourceID, err)
	}
	if !src.IsActive {
		return domain.MetricsUpdateResult{}, fmt.Errorf("источник %s: %w", sourceID, domain.ErrSourceNotFound)
	}
	res := s.updateSource(ctx, src)
	res.SourcesProcessed = 1
	return res, nil
}

func (s *Service) updateSource(ctx context.Context, src domain.Source) domain.MetricsUpdateResult {
	var res domain.MetricsUpdateResult
	logger := s.log.With().Str("source_id", src.ID).Str("source", src.Name).Logger()

	fctx, cancel := context.WithTimeout(ctx, s.sourceTimeout)
	samples, err := s.feed.FetchCurrentMetrics(fctx, src)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("feeds: источник недоступен")
		res.Errors++
		return res
	}

	for _, sample := range samples {
		if sample.URL == "" || sample.Metrics == (domain.Metrics{}) {
			res.Skipped++
			continue
		}
		id, err := s.articles.UpdateMetricsByURL(ctx, sample.URL, sample.Metrics)
		if err != nil {
			logger.Error().Err(err).Str("url", sample.URL).Msg("feeds: не удалось записать метрики")
			res.Errors++
			continue
		}
		if id == "" {
			// Статья ещё не импортирована.
			res.Skipped++
			continue
		}
		if _, err := s.rescorer.UpdateOne(ctx, id); err != nil {
			logger.Error().Err(err).Str("article_id", id).Msg("feeds: не удалось пересчитать рейтинг")
			res.Errors++
			continue
		}
		res.ArticlesUpdated++
	}
	logger.Debug().Int("updated", res.ArticlesUpdated).Int("skipped", res.Skipped).Int("errors", res.Errors).Msg("feeds: источник обработан")
	return res
}
