package rating

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mediasyndicate/internal/domain"
)

// Rescorer пересчитывает рейтинг одной статьи.
type Rescorer interface {
	UpdateOne(ctx context.Context, articleID string) (float64, error)
}

// Worker обрабатывает очередь задач на пересчёт отдельных статей.
type Worker struct {
	queue    domain.RatingQueue
	rescorer Rescorer
	log      zerolog.Logger
	backoff  time.Duration
}

// NewWorker создаёт обработчик очереди.
func NewWorker(queue domain.RatingQueue, rescorer Rescorer, logger zerolog.Logger) *Worker {
	return &Worker{queue: queue, rescorer: rescorer, log: logger, backoff: time.Second}
}

// Run читает задачи до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("rating worker: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job domain.RatingJob) {
	jobLog := w.log.With().
		Str("job_id", job.ID).
		Str("article_id", job.ArticleID).
		Str("cause", string(job.Cause)).
		Logger()
	if job.ArticleID == "" {
		jobLog.Error().Msg("rating worker: задача без статьи, пропускаем")
		return
	}
	value, err := w.rescorer.UpdateOne(ctx, job.ArticleID)
	switch {
	case IsNotFound(err):
		jobLog.Warn().Msg("rating worker: статья не найдена, задача отброшена")
	case err != nil && errors.Is(err, context.Canceled):
		jobLog.Warn().Err(err).Msg("rating worker: пересчёт прерван")
	case err != nil:
		jobLog.Error().Err(err).Msg("rating worker: не удалось пересчитать рейтинг")
	default:
		jobLog.Debug().Float64("rating", value).Msg("rating worker: рейтинг пересчитан")
	}
}
