package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mediasyndicate/internal/domain"
	"mediasyndicate/internal/infra/metrics"
)

// RedisRatingQueue реализует очередь задач пересчёта на базе Redis lists.
type RedisRatingQueue struct {
	client *redis.Client
	key    string
}

var _ domain.RatingQueue = (*RedisRatingQueue)(nil)

// NewRedisRatingQueue создаёт очередь по указанному ключу.
func NewRedisRatingQueue(client *redis.Client, key string) *RedisRatingQueue {
	return &RedisRatingQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь. Пустые ID и время заполняются.
func (q *RedisRatingQueue) Enqueue(ctx context.Context, job domain.RatingJob) error {
	if job.ArticleID == "" {
		return errors.New("rating job: empty article id")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisRatingQueue) Pop(ctx context.Context) (domain.RatingJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.RatingJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.RatingJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.RatingJob{}, err
		}
		if len(res) != 2 {
			return domain.RatingJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.RatingJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.RatingJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
