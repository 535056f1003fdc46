package domain

import (
	"context"
	"time"
)

// RatingJobCause описывает источник запроса на пересчёт статьи.
type RatingJobCause string

const (
	// RatingCauseIngested — статья только что импортирована.
	RatingCauseIngested RatingJobCause = "ingested"
	// RatingCauseManual — пересчёт запрошен вручную.
	RatingCauseManual RatingJobCause = "manual"
)

// RatingJob содержит задачу на пересчёт рейтинга одной статьи.
type RatingJob struct {
	ID          string         `json:"job_id,omitempty"`
	ArticleID   string         `json:"article_id"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       RatingJobCause `json:"cause"`
}

// RatingQueue описывает очередь задач на пересчёт.
type RatingQueue interface {
	Enqueue(ctx context.Context, job RatingJob) error
	Pop(ctx context.Context) (RatingJob, error)
}
