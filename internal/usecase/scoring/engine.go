package scoring

import (
	"math"
	"time"

	"mediasyndicate/internal/domain"
)

// Age возвращает возраст публикации в часах. Публикация из будущего считается возрастом 0.
func Age(publishedAt, now time.Time) float64 {
	age := now.Sub(publishedAt).Hours()
	if age < 0 {
		return 0
	}
	return age
}

// Score считает рейтинг по формуле:
// views·Vw + forwards·Fw + reactions·Rw + replies·Pw − ageHours·AgePenalty.
// Результат округлён до двух знаков.
func Score(m domain.Metrics, publishedAt time.Time, w domain.WeightSettings, now time.Time) float64 {
	return Round2(raw(m, publishedAt, w, now))
}

// Rating возвращает значение для хранения: сырой результат формулы, округлённый до одного знака.
func Rating(m domain.Metrics, publishedAt time.Time, w domain.WeightSettings, now time.Time) float64 {
	return Round1(raw(m, publishedAt, w, now))
}

func raw(m domain.Metrics, publishedAt time.Time, w domain.WeightSettings, now time.Time) float64 {
	age := Age(publishedAt, now)
	if w.MaxAgeHours != nil && age > *w.MaxAgeHours {
		if w.MinRating != nil {
			return *w.MinRating
		}
		return 0
	}

	v := float64(m.Views)*w.ViewsWeight +
		float64(m.Forwards)*w.ForwardsWeight +
		float64(m.Reactions)*w.ReactionsWeight +
		float64(m.Replies)*w.RepliesWeight -
		age*w.AgePenalty

	if w.MinRating != nil && v < *w.MinRating {
		v = *w.MinRating
	}
	return v
}

// Round1 округляет до одного знака после запятой.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Round2 округляет до двух знаков после запятой.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Validate проверяет, что коэффициенты пригодны для расчёта.
func Validate(w domain.WeightSettings) bool {
	for _, v := range []float64{w.ViewsWeight, w.ForwardsWeight, w.ReactionsWeight, w.RepliesWeight, w.AgePenalty} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if w.MinRating != nil && (math.IsNaN(*w.MinRating) || math.IsInf(*w.MinRating, 0)) {
		return false
	}
	if w.MaxAgeHours != nil && (math.IsNaN(*w.MaxAgeHours) || math.IsInf(*w.MaxAgeHours, 0) || *w.MaxAgeHours < 0) {
		return false
	}
	return true
}
