package domain

import "time"

// Metrics содержит показатели вовлечённости статьи.
type Metrics struct {
	Views     int64
	Forwards  int64
	Reactions int64
	Replies   int64
}

// Article описывает статью с полями рейтинга и позиции.
type Article struct {
	ID          string
	URL         string
	Title       string
	SourceID    string
	SourceName  string
	Metrics     Metrics
	PublishedAt time.Time

	Rating         float64
	PreviousRating float64
	RatingDelta    float64

	// CurrentPosition равна 0, пока статья не попала в рейтинг.
	CurrentPosition  int
	PreviousPosition int
	PositionChange   int

	FirstSeenAt     *time.Time
	RatingUpdatedAt *time.Time
}

// WeightSettings хранит коэффициенты формулы рейтинга.
type WeightSettings struct {
	Key             string
	Name            string
	ViewsWeight     float64
	ForwardsWeight  float64
	ReactionsWeight float64
	RepliesWeight   float64
	AgePenalty      float64
	MinRating       *float64
	MaxAgeHours     *float64
	Description     string
	UpdatedBy       string
	UpdatedAt       time.Time
}

// DefaultWeightsKey — ключ единственной строки настроек.
const DefaultWeightsKey = "default"

// DefaultWeightSettings возвращает настройки формулы по умолчанию.
func DefaultWeightSettings() WeightSettings {
	minRating := 0.0
	return WeightSettings{
		Key:             DefaultWeightsKey,
		Name:            "Rating Formula Settings",
		ViewsWeight:     0.05,
		ForwardsWeight:  8.0,
		ReactionsWeight: 3.0,
		RepliesWeight:   5.0,
		AgePenalty:      2.0,
		MinRating:       &minRating,
		Description:     "Default rating formula settings",
	}
}

// WeightsPatch описывает частичное обновление настроек. Nil-поля не меняются.
type WeightsPatch struct {
	ViewsWeight     *float64 `json:"viewsWeight"`
	ForwardsWeight  *float64 `json:"forwardsWeight"`
	ReactionsWeight *float64 `json:"reactionsWeight"`
	RepliesWeight   *float64 `json:"repliesWeight"`
	AgePenalty      *float64 `json:"agePenalty"`
	MinRating       *float64 `json:"minRating"`
	MaxAgeHours     *float64 `json:"maxAgeHours"`
	Description     *string  `json:"description"`

	ClearMinRating   bool `json:"clearMinRating"`
	ClearMaxAgeHours bool `json:"clearMaxAgeHours"`
}

// RatingUpdate — результат пересчёта одной статьи с динамикой.
type RatingUpdate struct {
	ArticleID        string
	PreviousRating   float64
	PreviousPosition int
	Rating           float64
	CurrentPosition  int
	PositionChange   int
	RatingDelta      float64
	FirstSeenAt      time.Time
	RatingUpdatedAt  time.Time
}

// RecalcResult описывает итог пакетного пересчёта.
type RecalcResult struct {
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// DynamicsResult описывает итог пересчёта с отслеживанием позиций.
type DynamicsResult struct {
	Updated   int `json:"updated"`
	Errors    int `json:"errors"`
	NewInTop  int `json:"newInTop"`
	MovedUp   int `json:"movedUp"`
	MovedDown int `json:"movedDown"`
}

// SourceType задаёт тип источника статей.
type SourceType string

const (
	SourceTelegram SourceType = "TELEGRAM"
	SourceRSS      SourceType = "RSS"
)

// Source описывает источник статей.
type Source struct {
	ID       string
	Name     string
	Type     SourceType
	URL      string
	IsActive bool
}

// MetricsSample — актуальные метрики одного поста из источника.
type MetricsSample struct {
	ExternalID  string
	URL         string
	Metrics     Metrics
	PublishedAt time.Time
}

// MetricsUpdateResult описывает итог обновления метрик из источников.
type MetricsUpdateResult struct {
	SourcesProcessed int `json:"sourcesProcessed"`
	ArticlesUpdated  int `json:"articlesUpdated"`
	Skipped          int `json:"skipped"`
	Errors           int `json:"errors"`
}
