package live

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediasyndicate/internal/domain"
	"mediasyndicate/internal/infra/cache"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRatings struct {
	mu         sync.Mutex
	articles   []domain.Article
	queryErr   error
	recalcs    int
	release    chan struct{}
	hangRecalc bool
	hangQuery  bool
}

func (f *fakeRatings) RecalculateAll(ctx context.Context, _ *float64) (domain.RecalcResult, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	hang := f.hangRecalc
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return domain.RecalcResult{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recalcs++
	return domain.RecalcResult{Updated: len(f.articles)}, nil
}

func (f *fakeRatings) GetRecentPositive(ctx context.Context, since time.Time, limit int) ([]domain.Article, error) {
	f.mu.Lock()
	hang := f.hangQuery
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []domain.Article
	for _, a := range f.articles {
		if a.Rating > 0 && !a.PublishedAt.Before(since) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRatings) set(list []domain.Article, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles = list
	f.queryErr = err
}

func (f *fakeRatings) hang(recalc, query bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangRecalc = recalc
	f.hangQuery = query
}

func (f *fakeRatings) recalcCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recalcs
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
	hang  bool
}

func (f *fakeRefresher) UpdateAll(ctx context.Context) (domain.MetricsUpdateResult, error) {
	f.mu.Lock()
	f.calls++
	hang, err := f.hang, f.err
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return domain.MetricsUpdateResult{}, ctx.Err()
	}
	return domain.MetricsUpdateResult{}, err
}

func (f *fakeRefresher) setHang(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = v
}

type testEnv struct {
	svc       *Service
	ratings   *fakeRatings
	refresher *fakeRefresher
	snapshots *SnapshotCache
	clock     *time.Time
}

func newEnv(list ...domain.Article) *testEnv {
	return newEnvWith(Config{RecalcWindowHours: 168}, list...)
}

func newEnvWith(cfg Config, list ...domain.Article) *testEnv {
	ratings := &fakeRatings{articles: list}
	refresher := &fakeRefresher{}
	snapshots := NewSnapshotCache()
	clock := t0
	now := func() time.Time { return clock }
	throttle := cache.NewMemoryClock(now)
	svc := NewService(ratings, refresher, throttle, snapshots, cfg, zerolog.Nop())
	svc.now = now
	return &testEnv{svc: svc, ratings: ratings, refresher: refresher, snapshots: snapshots, clock: &clock}
}

func art(id string, rating float64, publishedAgo time.Duration) domain.Article {
	return domain.Article{ID: id, Rating: rating, PublishedAt: t0.Add(-publishedAgo), Metrics: domain.Metrics{Views: int64(rating * 10)}}
}

func TestFirstCallRefreshesAndCapturesSnapshot(t *testing.T) {
	env := newEnv(art("a", 5, 5*time.Minute), art("b", 9, 50*time.Minute), art("old", 20, 3*time.Hour))

	res, err := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Status != domain.LiveStatusOK {
		t.Fatalf("ожидали статус ok, получили %s", res.Status)
	}
	if len(res.Articles) != 2 {
		t.Fatalf("статья старше окна периода не должна попадать, получили %d", len(res.Articles))
	}
	if env.ratings.recalcCount() != 1 || env.refresher.calls != 1 {
		t.Fatalf("ожидали пересчёт и обновление метрик")
	}
	snap := env.snapshots.Load(domain.PeriodHour)
	if !snap.Captured() || len(snap.Entries) != 2 {
		t.Fatalf("ожидали снимок из 2 статей")
	}
	if !res.NextUpdate.Equal(t0.Add(time.Minute)) || res.TimeUntilNextUpdate != time.Minute {
		t.Fatalf("неверное время следующего обновления: %v %v", res.NextUpdate, res.TimeUntilNextUpdate)
	}
	for _, a := range res.Articles {
		if a.PositionChange != 0 || a.RatingDelta != 0 {
			t.Fatalf("без снимка динамика должна быть нулевой")
		}
	}
}

func TestNewFlagFallsBackToWallClockWithoutSnapshot(t *testing.T) {
	env := newEnv(art("fresh", 5, 5*time.Minute), art("older", 9, 20*time.Minute))
	res, _ := env.svc.GetLiveRating(context.Background(), domain.PeriodOnline, 10)
	byID := map[string]domain.RankedArticle{}
	for _, a := range res.Articles {
		byID[a.ID] = a
	}
	if _, ok := byID["older"]; ok {
		t.Fatalf("статья старше 10 минут не входит в online")
	}
	if !byID["fresh"].IsNew {
		t.Fatalf("ожидали isNew для свежей статьи")
	}
}

func TestScenarioDiffAgainstSnapshot(t *testing.T) {
	env := newEnv(art("C", 12, time.Minute), art("A", 10, time.Minute), art("B", 8, time.Minute))
	env.snapshots.Store(domain.PeriodHour, &Snapshot{
		TakenAt: t0.Add(-10 * time.Second),
		Entries: map[string]SnapshotEntry{
			"A": {Position: 3, Rating: 9.5},
			"B": {Position: 1, Rating: 8},
		},
	})

	res, err := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if env.ratings.recalcCount() != 0 {
		t.Fatalf("свежий снимок не должен запускать пересчёт")
	}
	got := map[string]domain.RankedArticle{}
	for _, a := range res.Articles {
		got[a.ID] = a
	}
	if got["C"].Position != 1 || got["A"].Position != 2 || got["B"].Position != 3 {
		t.Fatalf("ожидали порядок C, A, B")
	}
	if got["A"].PositionChange != 1 || got["A"].RatingDelta != 0.5 {
		t.Fatalf("A: ожидали +1 и +0.5, получили %+v", got["A"])
	}
	if got["B"].PositionChange != -2 {
		t.Fatalf("B: ожидали -2, получили %d", got["B"].PositionChange)
	}
	if !got["C"].IsNew || got["C"].PositionChange != 0 {
		t.Fatalf("C: ожидали новую статью без сдвига")
	}
	if got["A"].IsNew || got["B"].IsNew {
		t.Fatalf("статьи из снимка не новые")
	}
	snap := env.snapshots.Load(domain.PeriodHour)
	if snap.Entries["A"].Position != 3 {
		t.Fatalf("свежий запрос не должен заменять снимок")
	}
}

func TestHotFlag(t *testing.T) {
	list := []domain.Article{art("top", 100, time.Minute)}
	for _, id := range []string{"b", "c", "d", "e", "f"} {
		list = append(list, art(id, 10, time.Minute))
	}
	env := newEnv(list...)
	env.snapshots.Store(domain.PeriodHour, &Snapshot{
		TakenAt: t0,
		Entries: map[string]SnapshotEntry{"top": {Position: 6, Rating: 1}, "b": {Position: 2, Rating: 10}},
	})
	res, _ := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)
	if !res.Articles[0].IsHot || res.Articles[0].PositionChange != 5 {
		t.Fatalf("ожидали горячую статью со сдвигом 5, получили %+v", res.Articles[0])
	}
	if res.Articles[1].IsHot {
		t.Fatalf("сдвиг 0 не горячий")
	}
}

func TestStaleSnapshotIsReplaced(t *testing.T) {
	env := newEnv(art("a", 5, time.Minute), art("b", 9, time.Minute))
	if _, err := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	env.ratings.set([]domain.Article{art("a", 15, time.Minute), art("b", 9, time.Minute)}, nil)

	*env.clock = t0.Add(61 * time.Second)
	res, _ := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)
	if env.ratings.recalcCount() != 2 {
		t.Fatalf("ожидали второй пересчёт после интервала, получили %d", env.ratings.recalcCount())
	}
	if res.Articles[0].ID != "a" || res.Articles[0].PositionChange != 1 || res.Articles[0].RatingDelta != 10 {
		t.Fatalf("ожидали подъём a на 1 и +10, получили %+v", res.Articles[0])
	}
	if env.snapshots.Load(domain.PeriodHour).Entries["a"].Position != 1 {
		t.Fatalf("снимок должен быть заменён")
	}
}

func TestFeedFailureKeepsServing(t *testing.T) {
	env := newEnv(art("a", 5, time.Minute), art("b", 9, time.Minute))
	first, _ := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)

	env.refresher.err = errors.New("feed timeout")
	*env.clock = t0.Add(2 * time.Minute)
	res, err := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)
	if err != nil {
		t.Fatalf("отказ источника не должен давать ошибку: %v", err)
	}
	if len(res.Articles) != len(first.Articles) {
		t.Fatalf("ожидали %d статей, получили %d", len(first.Articles), len(res.Articles))
	}
	if env.refresher.calls != 2 {
		t.Fatalf("ожидали попытку обновления метрик")
	}
}

func TestStorageFailureReturnsLastKnownGood(t *testing.T) {
	env := newEnv(art("a", 5, time.Minute), art("b", 9, time.Minute))
	first, _ := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)

	env.ratings.set(nil, errors.New("db timeout"))
	*env.clock = t0.Add(2 * time.Minute)
	res, err := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Status != domain.LiveStatusStale || res.Error == "" {
		t.Fatalf("ожидали статус stale с описанием, получили %s", res.Status)
	}
	if len(res.Articles) != len(first.Articles) {
		t.Fatalf("ожидали прошлый список")
	}
	if !env.snapshots.Load(domain.PeriodHour).TakenAt.Equal(t0) {
		t.Fatalf("неудачное обновление не должно менять снимок")
	}
}

func TestStorageFailureWithoutHistoryIsEmpty(t *testing.T) {
	env := newEnv()
	env.ratings.set(nil, errors.New("db down"))
	res, err := env.svc.GetLiveRating(context.Background(), domain.PeriodDay, 50)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Status != domain.LiveStatusUnavailable || res.Articles == nil || len(res.Articles) != 0 {
		t.Fatalf("ожидали пустой список со статусом unavailable, получили %+v", res)
	}
}

func TestEmptyIsDistinguishedFromFailure(t *testing.T) {
	env := newEnv()
	res, _ := env.svc.GetLiveRating(context.Background(), domain.PeriodDay, 50)
	if res.Status != domain.LiveStatusOK || len(res.Articles) != 0 {
		t.Fatalf("пустой рейтинг без ошибок должен иметь статус ok")
	}
}

func TestConcurrentStaleCallsCollapse(t *testing.T) {
	env := newEnv(art("a", 5, time.Minute))
	env.ratings.release = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 10); err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(env.ratings.release)
	wg.Wait()

	if n := env.ratings.recalcCount(); n != 1 {
		t.Fatalf("ожидали один пересчёт, получили %d", n)
	}
}

func TestMetricsRefreshThrottledAcrossPeriods(t *testing.T) {
	env := newEnv(art("a", 5, time.Minute))
	for _, p := range domain.Periods() {
		if _, err := env.svc.GetLiveRating(context.Background(), p, 10); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if env.refresher.calls != 1 {
		t.Fatalf("ожидали одно обновление метрик на интервал, получили %d", env.refresher.calls)
	}
}

func TestLimitAndUnknownPeriod(t *testing.T) {
	env := newEnv(art("a", 5, time.Minute), art("b", 6, time.Minute), art("c", 7, time.Minute))
	res, _ := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 2)
	if len(res.Articles) != 2 {
		t.Fatalf("ожидали 2 статьи, получили %d", len(res.Articles))
	}
	if _, err := env.svc.GetLiveRating(context.Background(), domain.Period("week"), 10); !errors.Is(err, domain.ErrUnknownPeriod) {
		t.Fatalf("ожидали ErrUnknownPeriod, получили %v", err)
	}
}

func hangingEnv() *testEnv {
	return newEnvWith(Config{
		FeedTimeout:       250 * time.Millisecond,
		RecalcTimeout:     200 * time.Millisecond,
		RefreshBudget:     300 * time.Millisecond,
		RecalcWindowHours: 168,
	}, art("a", 5, time.Minute), art("b", 9, time.Minute))
}

func TestHangingFeedAndRecalcStayWithinRefreshBudget(t *testing.T) {
	env := hangingEnv()
	first, _ := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)

	env.refresher.setHang(true)
	env.ratings.hang(true, false)
	*env.clock = t0.Add(2 * time.Minute)

	start := time.Now()
	res, err := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("зависший источник не должен давать ошибку: %v", err)
	}
	if elapsed >= env.svc.cfg.RefreshBudget {
		t.Fatalf("обновление заняло %v, бюджет %v", elapsed, env.svc.cfg.RefreshBudget)
	}
	if res.Status != domain.LiveStatusOK || len(res.Articles) != len(first.Articles) {
		t.Fatalf("ожидали ok и %d статей, получили %s и %d", len(first.Articles), res.Status, len(res.Articles))
	}
}

func TestHangingStorageFallsBackWithinRefreshBudget(t *testing.T) {
	env := hangingEnv()
	first, _ := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)

	env.refresher.setHang(true)
	env.ratings.hang(true, true)
	*env.clock = t0.Add(2 * time.Minute)

	start := time.Now()
	res, err := env.svc.GetLiveRating(context.Background(), domain.PeriodHour, 50)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Сумма отдельных таймаутов (650ms) больше бюджета, укладываемся в бюджет с запасом на планировщик.
	if limit := env.svc.cfg.RefreshBudget + 100*time.Millisecond; elapsed >= limit {
		t.Fatalf("обновление заняло %v, ожидали меньше %v", elapsed, limit)
	}
	if res.Status != domain.LiveStatusStale || res.Error == "" {
		t.Fatalf("ожидали stale с описанием, получили %s", res.Status)
	}
	if len(res.Articles) != len(first.Articles) {
		t.Fatalf("ожидали %d статей, получили %d", len(first.Articles), len(res.Articles))
	}
}
