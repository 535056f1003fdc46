package weights

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"mediasyndicate/internal/domain"
	"mediasyndicate/internal/usecase/scoring"
)

// DefaultTTL — время жизни закэшированных настроек.
const DefaultTTL = time.Minute

// Service отдаёт настройки формулы с TTL-кэшем и явной инвалидацией.
type Service struct {
	repo domain.WeightsRepo
	key  string
	ttl  time.Duration
	log  zerolog.Logger
	now  func() time.Time

	mu       sync.RWMutex
	cached   *domain.WeightSettings
	loadedAt time.Time
	// generation растёт при каждой инвалидации, чтобы загрузка, начатая до неё, не попала в кэш.
	generation uint64

	group singleflight.Group
}

// NewService создаёт сервис настроек. ttl <= 0 означает DefaultTTL.
func NewService(repo domain.WeightsRepo, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: repo, key: domain.DefaultWeightsKey, ttl: ttl, log: logger, now: time.Now}
}

// Get возвращает актуальные настройки, при первом обращении создавая строку по умолчанию.
func (s *Service) Get(ctx context.Context) (domain.WeightSettings, error) {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.loadedAt) < s.ttl {
		ws := *s.cached
		s.mu.RUnlock()
		return ws, nil
	}
	gen := s.generation
	s.mu.RUnlock()

	v, err, _ := s.group.Do(fmt.Sprintf("%s#%d", s.key, gen), func() (any, error) {
		ws, err := s.load(ctx)
		if err != nil {
			return domain.WeightSettings{}, err
		}
		s.store(ws, gen)
		return ws, nil
	})
	if err != nil {
		return domain.WeightSettings{}, err
	}
	return v.(domain.WeightSettings), nil
}

// Invalidate сбрасывает кэш: следующий Get перечитает хранилище.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.generation++
	s.mu.Unlock()
}

// Update применяет частичное обновление настроек и сбрасывает кэш до возврата.
func (s *Service) Update(ctx context.Context, patch domain.WeightsPatch, updatedBy string) (domain.WeightSettings, error) {
	current, err := s.load(ctx)
	if err != nil {
		return domain.WeightSettings{}, err
	}
	next := apply(current, patch)
	if !scoring.Validate(next) {
		return domain.WeightSettings{}, domain.ErrInvalidWeights
	}
	next.UpdatedBy = updatedBy
	next.UpdatedAt = s.now().UTC()

	saved, err := s.repo.SaveWeights(ctx, next)
	s.Invalidate()
	if err != nil {
		return domain.WeightSettings{}, fmt.Errorf("сохранение настроек: %w", err)
	}

	s.mu.RLock()
	gen := s.generation
	s.mu.RUnlock()
	s.store(saved, gen)

	s.log.Info().
		Str("updated_by", updatedBy).
		Float64("views", saved.ViewsWeight).
		Float64("forwards", saved.ForwardsWeight).
		Float64("reactions", saved.ReactionsWeight).
		Float64("replies", saved.RepliesWeight).
		Float64("age_penalty", saved.AgePenalty).
		Msg("weights: настройки обновлены")
	return saved, nil
}

func (s *Service) load(ctx context.Context) (domain.WeightSettings, error) {
	ws, err := s.repo.GetWeights(ctx, s.key)
	if errors.Is(err, domain.ErrWeightsNotFound) {
		def := domain.DefaultWeightSettings()
		def.Key = s.key
		def.UpdatedAt = s.now().UTC()
		ws, err = s.repo.CreateWeights(ctx, def)
		if err != nil {
			return domain.WeightSettings{}, fmt.Errorf("создание настроек по умолчанию: %w", err)
		}
		s.log.Info().Str("key", s.key).Msg("weights: созданы настройки по умолчанию")
	} else if err != nil {
		return domain.WeightSettings{}, fmt.Errorf("чтение настроек: %w", err)
	}
	if !scoring.Validate(ws) {
		return domain.WeightSettings{}, fmt.Errorf("%w: key %q", domain.ErrWeightsMalformed, s.key)
	}
	return ws, nil
}

func (s *Service) store(ws domain.WeightSettings, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.cached = &ws
	s.loadedAt = s.now()
}

func apply(ws domain.WeightSettings, p domain.WeightsPatch) domain.WeightSettings {
	if p.ViewsWeight != nil {
		ws.ViewsWeight = *p.ViewsWeight
	}
	if p.ForwardsWeight != nil {
		ws.ForwardsWeight = *p.ForwardsWeight
	}
	if p.ReactionsWeight != nil {
		ws.ReactionsWeight = *p.ReactionsWeight
	}
	if p.RepliesWeight != nil {
		ws.RepliesWeight = *p.RepliesWeight
	}
	if p.AgePenalty != nil {
		ws.AgePenalty = *p.AgePenalty
	}
	switch {
	case p.ClearMinRating:
		ws.MinRating = nil
	case p.MinRating != nil:
		v := *p.MinRating
		ws.MinRating = &v
	}
	switch {
	case p.ClearMaxAgeHours:
		ws.MaxAgeHours = nil
	case p.MaxAgeHours != nil:
		v := *p.MaxAgeHours
		ws.MaxAgeHours = &v
	}
	if p.Description != nil {
		ws.Description = *p.Description
	}
	return ws
}
