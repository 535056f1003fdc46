package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job — периодическая задача рейтинга.
type Job func(ctx context.Context) error

// Service запускает задачи пересчёта по cron-расписанию.
type Service struct {
	cron    *cron.Cron
	log     zerolog.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService создаёт планировщик. timeout ограничивает один запуск задачи.
func NewService(logger zerolog.Logger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			// Долгий пересчёт не должен накладываться на следующий запуск.
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		log:     logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add регистрирует задачу. Пустое расписание отключает её.
func (s *Service) Add(name, spec string, job Job) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		s.log.Info().Str("job", name).Msg("schedule: задача отключена")
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, job) }); err != nil {
		return fmt.Errorf("расписание %s (%q): %w", name, spec, err)
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("schedule: задача добавлена")
	return nil
}

// Start запускает планировщик в фоне.
func (s *Service) Start() {
	s.cron.Start()
}

// Stop останавливает планировщик и ждёт завершения текущих задач.
func (s *Service) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("schedule: задачи не завершились до таймаута")
	}
}

func (s *Service) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Error().Err(err).Str("job", name).Dur("duration", time.Since(start)).Msg("schedule: задача завершилась ошибкой")
		return
	}
	s.log.Info().Str("job", name).Dur("duration", time.Since(start)).Msg("schedule: задача выполнена")
}
