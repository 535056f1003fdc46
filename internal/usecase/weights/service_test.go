package weights

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediasyndicate/internal/domain"
)

type stubRepo struct {
	mu      sync.Mutex
	row     *domain.WeightSettings
	gets    int
	creates int
	getErr  error
}

func (s *stubRepo) GetWeights(_ context.Context, key string) (domain.WeightSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return domain.WeightSettings{}, s.getErr
	}
	if s.row == nil {
		return domain.WeightSettings{}, domain.ErrWeightsNotFound
	}
	return *s.row, nil
}

func (s *stubRepo) CreateWeights(_ context.Context, ws domain.WeightSettings) (domain.WeightSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.row == nil {
		s.row = &ws
	}
	return *s.row, nil
}

func (s *stubRepo) SaveWeights(_ context.Context, ws domain.WeightSettings) (domain.WeightSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.row = &ws
	return ws, nil
}

func (s *stubRepo) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func f(v float64) *float64 { return &v }

func TestGetCreatesDefaultsOnce(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, time.Minute, zerolog.Nop())

	first, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.ViewsWeight != 0.05 || first.ForwardsWeight != 8 || first.AgePenalty != 2 {
		t.Fatalf("ожидали значения по умолчанию, получили %+v", first)
	}
	if first.ViewsWeight != second.ViewsWeight || first.Key != second.Key {
		t.Fatalf("ожидали одинаковые настройки")
	}
	if repo.creates != 1 {
		t.Fatalf("ожидали одно создание, получили %d", repo.creates)
	}
	if repo.getCount() != 1 {
		t.Fatalf("ожидали одно чтение благодаря кэшу, получили %d", repo.getCount())
	}
}

func TestUpdateIsVisibleImmediately(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, time.Hour, zerolog.Nop())
	if _, err := svc.Get(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	saved, err := svc.Update(context.Background(), domain.WeightsPatch{ForwardsWeight: f(12), MaxAgeHours: f(48)}, "admin")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if saved.UpdatedBy != "admin" {
		t.Fatalf("ожидали автора admin")
	}
	got, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.ForwardsWeight != 12 || got.MaxAgeHours == nil || *got.MaxAgeHours != 48 {
		t.Fatalf("ожидали обновлённые значения, получили %+v", got)
	}
	if got.ViewsWeight != 0.05 {
		t.Fatalf("частичное обновление не должно трогать другие поля")
	}

	cleared, err := svc.Update(context.Background(), domain.WeightsPatch{ClearMaxAgeHours: true}, "admin")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cleared.MaxAgeHours != nil {
		t.Fatalf("ожидали сброс maxAgeHours")
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, time.Minute, zerolog.Nop())
	_, err := svc.Update(context.Background(), domain.WeightsPatch{ViewsWeight: f(math.NaN())}, "admin")
	if !errors.Is(err, domain.ErrInvalidWeights) {
		t.Fatalf("ожидали ErrInvalidWeights, получили %v", err)
	}
}

func TestMalformedRowIsSurfaced(t *testing.T) {
	bad := domain.DefaultWeightSettings()
	bad.AgePenalty = math.Inf(1)
	repo := &stubRepo{row: &bad}
	svc := NewService(repo, time.Minute, zerolog.Nop())
	_, err := svc.Get(context.Background())
	if !errors.Is(err, domain.ErrWeightsMalformed) {
		t.Fatalf("ожидали ErrWeightsMalformed, получили %v", err)
	}
	if repo.creates != 0 {
		t.Fatalf("нельзя подменять испорченную строку значениями по умолчанию")
	}
}

func TestStorageErrorPropagates(t *testing.T) {
	repo := &stubRepo{getErr: errors.New("db down")}
	svc := NewService(repo, time.Minute, zerolog.Nop())
	if _, err := svc.Get(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку хранилища")
	}
}

func TestTTLExpiry(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, time.Minute, zerolog.Nop())
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	if _, err := svc.Get(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	clock = clock.Add(30 * time.Second)
	_, _ = svc.Get(context.Background())
	if repo.getCount() != 1 {
		t.Fatalf("ожидали попадание в кэш, чтений %d", repo.getCount())
	}
	clock = clock.Add(31 * time.Second)
	_, _ = svc.Get(context.Background())
	if repo.getCount() != 2 {
		t.Fatalf("ожидали перечитывание после TTL, чтений %d", repo.getCount())
	}
	svc.Invalidate()
	_, _ = svc.Get(context.Background())
	if repo.getCount() != 3 {
		t.Fatalf("ожидали перечитывание после Invalidate, чтений %d", repo.getCount())
	}
}
