package api

import (
	"time"

	"mediasyndicate/internal/domain"
)

type liveResponse struct {
	domain.LiveRating
	Timestamp           int64 `json:"timestamp"`
	TimeUntilNextUpdate int64 `json:"timeUntilNextUpdate"`
}

type articleView struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	URL              string     `json:"url"`
	SourceName       string     `json:"sourceName,omitempty"`
	Rating           float64    `json:"rating"`
	RatingDelta      float64    `json:"ratingDelta"`
	Position         int        `json:"position"`
	PreviousPosition int        `json:"previousPosition"`
	PositionChange   int        `json:"positionChange"`
	Views            int64      `json:"views"`
	Forwards         int64      `json:"forwards"`
	Reactions        int64      `json:"reactions"`
	Replies          int64      `json:"replies"`
	PublishedAt      time.Time  `json:"publishedAt"`
	FirstSeenAt      *time.Time `json:"firstSeenAt,omitempty"`
}

func newArticleView(a domain.Article) articleView {
	return articleView{
		ID:               a.ID,
		Title:            a.Title,
		URL:              a.URL,
		SourceName:       a.SourceName,
		Rating:           a.Rating,
		RatingDelta:      a.RatingDelta,
		Position:         a.CurrentPosition,
		PreviousPosition: a.PreviousPosition,
		PositionChange:   a.PositionChange,
		Views:            a.Metrics.Views,
		Forwards:         a.Metrics.Forwards,
		Reactions:        a.Metrics.Reactions,
		Replies:          a.Metrics.Replies,
		PublishedAt:      a.PublishedAt,
		FirstSeenAt:      a.FirstSeenAt,
	}
}

type settingsView struct {
	Name            string    `json:"name"`
	ViewsWeight     float64   `json:"viewsWeight"`
	ForwardsWeight  float64   `json:"forwardsWeight"`
	ReactionsWeight float64   `json:"reactionsWeight"`
	RepliesWeight   float64   `json:"repliesWeight"`
	AgePenalty      float64   `json:"agePenalty"`
	MinRating       *float64  `json:"minRating"`
	MaxAgeHours     *float64  `json:"maxAgeHours"`
	Description     string    `json:"description,omitempty"`
	UpdatedBy       string    `json:"updatedBy,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func newSettingsView(ws domain.WeightSettings) settingsView {
	return settingsView{
		Name:            ws.Name,
		ViewsWeight:     ws.ViewsWeight,
		ForwardsWeight:  ws.ForwardsWeight,
		ReactionsWeight: ws.ReactionsWeight,
		RepliesWeight:   ws.RepliesWeight,
		AgePenalty:      ws.AgePenalty,
		MinRating:       ws.MinRating,
		MaxAgeHours:     ws.MaxAgeHours,
		Description:     ws.Description,
		UpdatedBy:       ws.UpdatedBy,
		UpdatedAt:       ws.UpdatedAt,
	}
}
