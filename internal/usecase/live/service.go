package live

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"mediasyndicate/internal/domain"
	"mediasyndicate/internal/infra/metrics"
	"mediasyndicate/internal/usecase/scoring"
)

const (
	// DefaultLimit — размер выдачи по умолчанию.
	DefaultLimit = 50
	// MaxLimit — максимальный размер выдачи и размер снимка.
	MaxLimit = 200
	// DefaultRefreshBudget — бюджет обновления снимка по умолчанию.
	DefaultRefreshBudget = 45 * time.Second

	metricsRefreshKey = "rating:metrics-refresh"
	recalcKey         = "recalc"
)

// Ratings — операции хранилища рейтинга, нужные живому рейтингу.
type Ratings interface {
	RecalculateAll(ctx context.Context, windowHours *float64) (domain.RecalcResult, error)
	GetRecentPositive(ctx context.Context, since time.Time, limit int) ([]domain.Article, error)
}

// MetricsRefresher обновляет метрики статей из источников.
type MetricsRefresher interface {
	UpdateAll(ctx context.Context) (domain.MetricsUpdateResult, error)
}

// Config задаёт таймауты и интервалы живого рейтинга.
type Config struct {
	// FeedTimeout ограничивает обновление метрик из источников.
	FeedTimeout time.Duration
	// RecalcTimeout ограничивает пересчёт и выборку.
	RecalcTimeout time.Duration
	// MetricsInterval — не чаще этого обновляем метрики, независимо от периода.
	MetricsInterval time.Duration
	// RecalcWindowHours — окно публикаций для пересчёта; 0 означает все статьи.
	RecalcWindowHours float64
	// RefreshBudget ограничивает всё обновление снимка и должен быть меньше таймаута запроса.
	RefreshBudget time.Duration
}

func (c Config) withDefaults() Config {
	if c.FeedTimeout <= 0 {
		c.FeedTimeout = 25 * time.Second
	}
	if c.RecalcTimeout <= 0 {
		c.RecalcTimeout = 20 * time.Second
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 30 * time.Second
	}
	if c.RefreshBudget <= 0 {
		c.RefreshBudget = DefaultRefreshBudget
	}
	return c
}

// queryShare — часть бюджета, которая остаётся выборке после обновления метрик и пересчёта.
func (c Config) queryShare() time.Duration {
	return min(c.RecalcTimeout, c.RefreshBudget/3)
}

type knownGood struct {
	articles []domain.RankedArticle
	at       time.Time
}

// Service отдаёт живой рейтинг по периодам и решает, когда его обновлять.
type Service struct {
	ratings   Ratings
	refresher MetricsRefresher
	throttle  domain.Cache
	snapshots *SnapshotCache
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time

	group    singleflight.Group
	lastGood map[domain.Period]*atomic.Pointer[knownGood]
}

// NewService создаёт сервис. refresher может быть nil, тогда метрики не обновляются.
func NewService(ratings Ratings, refresher MetricsRefresher, throttle domain.Cache, snapshots *SnapshotCache, cfg Config, logger zerolog.Logger) *Service {
	s := &Service{
		ratings:   ratings,
		refresher: refresher,
		throttle:  throttle,
		snapshots: snapshots,
		cfg:       cfg.withDefaults(),
		log:       logger,
		now:       time.Now,
		lastGood:  make(map[domain.Period]*atomic.Pointer[knownGood]),
	}
	for _, p := range domain.Periods() {
		s.lastGood[p] = &atomic.Pointer[knownGood]{}
	}
	return s
}

// GetLiveRating возвращает рейтинг периода с динамикой относительно последнего снимка.
// Ошибка возвращается только для неизвестного периода: отказ источников и хранилища
// даёт последние известные данные со статусом stale или пустой список.
func (s *Service) GetLiveRating(ctx context.Context, period domain.Period, limit int) (domain.LiveRating, error) {
	spec, ok := period.Spec()
	if !ok {
		return domain.LiveRating{}, fmt.Errorf("%w: %q", domain.ErrUnknownPeriod, period)
	}
	limit = normalizeLimit(limit)

	snap := s.snapshots.Load(period)
	now := s.now()
	var res domain.LiveRating
	if !snap.Captured() || now.Sub(snap.TakenAt) >= spec.Refresh {
		// Все запросы, заставшие устаревший снимок, ждут одного обновления.
		v, _, _ := s.group.Do(string(period), func() (any, error) {
			return s.refresh(context.WithoutCancel(ctx), period, spec), nil
		})
		res = v.(domain.LiveRating)
	} else {
		res = s.current(ctx, period, spec, snap)
	}

	res.Articles = truncate(res.Articles, limit)
	return res, nil
}

func (s *Service) refresh(ctx context.Context, period domain.Period, spec domain.PeriodSpec) domain.LiveRating {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshBudget)
	defer cancel()

	// Источники и пересчёт не могут съесть долю выборки.
	prep, cancelPrep := context.WithTimeout(ctx, s.cfg.RefreshBudget-s.cfg.queryShare())
	s.refreshMetrics(prep)
	s.recalculate(prep)
	cancelPrep()

	now := s.now()
	prev := s.snapshots.Load(period)
	articles, err := s.query(ctx, spec, now)
	if err != nil {
		return s.fallback(period, spec, prev, now, err)
	}

	ranked := diff(articles, prev, spec, now)
	s.snapshots.Store(period, NewSnapshot(now, articles))
	s.lastGood[period].Store(&knownGood{articles: ranked, at: now})
	metrics.IncSnapshotRefresh(string(period))
	s.log.Debug().Str("period", string(period)).Int("articles", len(articles)).Msg("live: снимок обновлён")

	return s.result(period, spec, ranked, now, now)
}

func (s *Service) current(ctx context.Context, period domain.Period, spec domain.PeriodSpec, snap *Snapshot) domain.LiveRating {
	now := s.now()
	articles, err := s.query(ctx, spec, now)
	if err != nil {
		return s.fallback(period, spec, snap, now, err)
	}
	ranked := diff(articles, snap, spec, now)
	s.lastGood[period].Store(&knownGood{articles: ranked, at: now})
	return s.result(period, spec, ranked, snap.TakenAt, now)
}

func (s *Service) fallback(period domain.Period, spec domain.PeriodSpec, snap *Snapshot, now time.Time, cause error) domain.LiveRating {
	s.log.Warn().Err(cause).Str("period", string(period)).Msg("live: выдаём последние известные данные")
	good := s.lastGood[period].Load()
	if good == nil {
		metrics.IncLiveFallback(string(period), string(domain.LiveStatusUnavailable))
		res := s.result(period, spec, []domain.RankedArticle{}, snap.TakenAt, now)
		res.Status = domain.LiveStatusUnavailable
		res.Error = cause.Error()
		return res
	}
	metrics.IncLiveFallback(string(period), string(domain.LiveStatusStale))
	res := s.result(period, spec, good.articles, good.at, now)
	res.Status = domain.LiveStatusStale
	res.Error = cause.Error()
	return res
}

func (s *Service) result(period domain.Period, spec domain.PeriodSpec, ranked []domain.RankedArticle, lastUpdate, now time.Time) domain.LiveRating {
	if lastUpdate.IsZero() {
		lastUpdate = now
	}
	next := lastUpdate.Add(spec.Refresh)
	until := next.Sub(now)
	if until < 0 {
		until = 0
	}
	return domain.LiveRating{
		Period:              period,
		Articles:            ranked,
		LastUpdate:          lastUpdate,
		NextUpdate:          next,
		TimeUntilNextUpdate: until,
		Status:              domain.LiveStatusOK,
	}
}

func (s *Service) query(ctx context.Context, spec domain.PeriodSpec, now time.Time) ([]domain.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RecalcTimeout)
	defer cancel()
	articles, err := s.ratings.GetRecentPositive(ctx, now.Add(-spec.Lookback), MaxLimit)
	if err != nil {
		return nil, fmt.Errorf("выборка рейтинга: %w", err)
	}
	return articles, nil
}

// refreshMetrics обновляет метрики не чаще MetricsInterval. Ошибки не прерывают запрос.
func (s *Service) refreshMetrics(ctx context.Context) {
	if s.refresher == nil || s.throttle == nil {
		return
	}
	_, err := s.throttle.Once(ctx, metricsRefreshKey, s.cfg.MetricsInterval, func() error {
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FeedTimeout)
		defer cancel()
		res, err := s.refresher.UpdateAll(fctx)
		if err != nil {
			// Ключ не снимаем: следующая попытка через MetricsInterval.
			s.log.Warn().Err(err).Msg("live: не удалось обновить метрики")
			return nil
		}
		s.log.Debug().Int("updated", res.ArticlesUpdated).Int("errors", res.Errors).Msg("live: метрики обновлены")
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("live: троттлинг обновления метрик недоступен")
	}
}

// recalculate пересчитывает рейтинг; параллельные обновления разных периодов делят один пересчёт.
func (s *Service) recalculate(ctx context.Context) {
	_, _, _ = s.group.Do(recalcKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RecalcTimeout)
		defer cancel()
		var window *float64
		if s.cfg.RecalcWindowHours > 0 {
			w := s.cfg.RecalcWindowHours
			window = &w
		}
		if _, err := s.ratings.RecalculateAll(rctx, window); err != nil {
			s.log.Warn().Err(err).Msg("live: пересчёт рейтинга не удался")
		}
		return nil, nil
	})
}

func diff(articles []domain.Article, snap *Snapshot, spec domain.PeriodSpec, now time.Time) []domain.RankedArticle {
	captured := snap.Captured()
	out := make([]domain.RankedArticle, 0, len(articles))
	for i, a := range articles {
		position := i + 1
		r := domain.RankedArticle{
			ID:          a.ID,
			Title:       a.Title,
			URL:         a.URL,
			SourceName:  a.SourceName,
			Rating:      a.Rating,
			Position:    position,
			Views:       a.Metrics.Views,
			Forwards:    a.Metrics.Forwards,
			Reactions:   a.Metrics.Reactions,
			Replies:     a.Metrics.Replies,
			PublishedAt: a.PublishedAt,
		}
		switch {
		case !captured:
			r.IsNew = recentlySeen(a, spec, now)
		default:
			if prev, ok := snap.Entries[a.ID]; ok && prev.Position > 0 {
				r.PositionChange = prev.Position - position
				r.RatingDelta = scoring.Round1(a.Rating - prev.Rating)
			} else {
				r.IsNew = true
			}
		}
		r.IsHot = abs(r.PositionChange) >= domain.HotThreshold
		out = append(out, r)
	}
	return out
}

func recentlySeen(a domain.Article, spec domain.PeriodSpec, now time.Time) bool {
	ref := a.PublishedAt
	if a.FirstSeenAt != nil {
		ref = *a.FirstSeenAt
	}
	return now.Sub(ref) <= spec.NewThreshold
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func truncate(list []domain.RankedArticle, limit int) []domain.RankedArticle {
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]domain.RankedArticle, len(list))
	copy(out, list)
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
