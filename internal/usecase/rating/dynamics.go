package rating

import (
	"sort"
	"time"

	"mediasyndicate/internal/domain"
	"mediasyndicate/internal/usecase/scoring"
)

// TopSize — граница «топа» для счётчика newInTop.
const TopSize = 50

// Ranking — результат ранжирования и сравнения с прошлыми позициями.
type Ranking struct {
	Updates   []domain.RatingUpdate
	NewInTop  int
	MovedUp   int
	MovedDown int
}

// RankAndDiff пересчитывает рейтинг статей, сортирует их и сравнивает с прошлыми позициями.
// Статья без прошлой позиции получает positionChange = 0 и firstSeenAt = now.
func RankAndDiff(articles []domain.Article, w domain.WeightSettings, now time.Time) Ranking {
	type scored struct {
		article   domain.Article
		newRating float64
	}
	items := make([]scored, 0, len(articles))
	for _, a := range articles {
		items = append(items, scored{article: a, newRating: scoring.Rating(a.Metrics, a.PublishedAt, w, now)})
	}

	// Равные рейтинги: более свежая публикация выше, затем по ID.
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.newRating != b.newRating {
			return a.newRating > b.newRating
		}
		if !a.article.PublishedAt.Equal(b.article.PublishedAt) {
			return a.article.PublishedAt.After(b.article.PublishedAt)
		}
		return a.article.ID < b.article.ID
	})

	res := Ranking{Updates: make([]domain.RatingUpdate, 0, len(items))}
	for idx, it := range items {
		a := it.article
		newPosition := idx + 1
		previous := a.CurrentPosition
		if previous < 0 {
			previous = 0
		}
		firstTime := previous == 0

		positionChange := 0
		firstSeen := now
		if !firstTime {
			positionChange = previous - newPosition
			if a.FirstSeenAt != nil {
				firstSeen = *a.FirstSeenAt
			}
		}

		if firstTime && newPosition <= TopSize {
			res.NewInTop++
		}
		switch {
		case positionChange > 0:
			res.MovedUp++
		case positionChange < 0:
			res.MovedDown++
		}

		res.Updates = append(res.Updates, domain.RatingUpdate{
			ArticleID:        a.ID,
			PreviousRating:   a.Rating,
			PreviousPosition: previous,
			Rating:           it.newRating,
			CurrentPosition:  newPosition,
			PositionChange:   positionChange,
			RatingDelta:      scoring.Round1(it.newRating - a.Rating),
			FirstSeenAt:      firstSeen,
			RatingUpdatedAt:  now,
		})
	}
	return res
}
