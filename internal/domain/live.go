package domain

import (
	"fmt"
	"time"
)

// Period — временной срез живого рейтинга.
type Period string

const (
	PeriodOnline Period = "online"
	PeriodHour   Period = "hour"
	PeriodDay    Period = "day"
)

// HotThreshold — сдвиг позиций за обновление, при котором статья считается «горячей».
const HotThreshold = 5

// PeriodSpec описывает параметры периода.
type PeriodSpec struct {
	// Refresh — как часто обновляется снимок.
	Refresh time.Duration
	// Lookback — насколько свежей должна быть публикация.
	Lookback time.Duration
	// NewThreshold — возраст, до которого статья помечается новой без снимка.
	NewThreshold time.Duration
}

var periods = map[Period]PeriodSpec{
	PeriodOnline: {Refresh: 30 * time.Second, Lookback: 10 * time.Minute, NewThreshold: 10 * time.Minute},
	PeriodHour:   {Refresh: time.Minute, Lookback: time.Hour, NewThreshold: time.Hour},
	PeriodDay:    {Refresh: 5 * time.Minute, Lookback: 24 * time.Hour, NewThreshold: 24 * time.Hour},
}

// Periods возвращает все известные периоды.
func Periods() []Period {
	return []Period{PeriodOnline, PeriodHour, PeriodDay}
}

// ParsePeriod проверяет имя периода. Пустая строка означает hour.
func ParsePeriod(raw string) (Period, error) {
	if raw == "" {
		return PeriodHour, nil
	}
	p := Period(raw)
	if _, ok := periods[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, raw)
	}
	return p, nil
}

// Spec возвращает параметры периода.
func (p Period) Spec() (PeriodSpec, bool) {
	spec, ok := periods[p]
	return spec, ok
}

// LiveStatus различает пустой результат и отказ источника данных.
type LiveStatus string

const (
	LiveStatusOK          LiveStatus = "ok"
	LiveStatusStale       LiveStatus = "stale"
	LiveStatusUnavailable LiveStatus = "unavailable"
)

// RankedArticle — статья живого рейтинга с динамикой.
type RankedArticle struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	SourceName     string    `json:"sourceName,omitempty"`
	Rating         float64   `json:"rating"`
	RatingDelta    float64   `json:"ratingDelta"`
	Position       int       `json:"position"`
	PositionChange int       `json:"positionChange"`
	IsNew          bool      `json:"isNew"`
	IsHot          bool      `json:"isHot"`
	Views          int64     `json:"views"`
	Forwards       int64     `json:"forwards"`
	Reactions      int64     `json:"reactions"`
	Replies        int64     `json:"replies"`
	PublishedAt    time.Time `json:"publishedAt"`
}

// LiveRating — ответ живого рейтинга.
type LiveRating struct {
	Period              Period          `json:"period"`
	Articles            []RankedArticle `json:"articles"`
	LastUpdate          time.Time       `json:"lastUpdate"`
	NextUpdate          time.Time       `json:"nextUpdate"`
	TimeUntilNextUpdate time.Duration   `json:"-"`
	Status              LiveStatus      `json:"status"`
	Error               string          `json:"error,omitempty"`
}
