package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mediasyndicate/internal/domain"
)

// TelegramPreview читает метрики постов с публичной веб-страницы канала t.me/s/<alias>.
type TelegramPreview struct {
	opts options
}

var _ domain.MetricsSource = (*TelegramPreview)(nil)

// NewTelegramPreview создаёт источник метрик Telegram.
func NewTelegramPreview(opts ...Option) *TelegramPreview {
	return &TelegramPreview{opts: buildOptions(opts)}
}

// FetchCurrentMetrics возвращает метрики последних постов канала.
func (t *TelegramPreview) FetchCurrentMetrics(ctx context.Context, src domain.Source) ([]domain.MetricsSample, error) {
	alias := NormalizeChannelAlias(src.URL)
	if alias == "" {
		return nil, fmt.Errorf("empty channel alias for source %s", src.ID)
	}

	body, err := fetch(ctx, t.opts, "telegram_preview", "t.me", t.opts.telegramURL+"/s/"+alias)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse preview: %w", err)
	}
	return t.extract(doc), nil
}

func (t *TelegramPreview) extract(doc *goquery.Document) []domain.MetricsSample {
	samples := make([]domain.MetricsSample, 0)
	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, msg *goquery.Selection) {
		post, _ := msg.Attr("data-post")
		post = strings.Trim(strings.TrimSpace(post), "/")
		if post == "" {
			return
		}

		sample := domain.MetricsSample{
			ExternalID: post,
			URL:        "https://t.me/" + post,
			Metrics: domain.Metrics{
				Views:    parseCount(msg.Find(".tgme_widget_message_views").First().Text()),
				Forwards: parseCount(msg.Find(".tgme_widget_message_forwards").First().Text()),
				Replies:  parseCount(msg.Find(".tgme_widget_message_replies").First().Text()),
			},
		}
		msg.Find(".tgme_reaction").Each(func(_ int, r *goquery.Selection) {
			sample.Metrics.Reactions += parseCount(r.Text())
		})
		if raw, ok := msg.Find("time[datetime]").First().Attr("datetime"); ok {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				sample.PublishedAt = ts.UTC()
			}
		}
		samples = append(samples, sample)
	})
	return samples
}

// parseCount разбирает счётчики вида "987", "1.2K", "3M". Посторонние символы (эмодзи) отбрасываются.
func parseCount(raw string) int64 {
	var (
		digits strings.Builder
		mult   float64 = 1
	)
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9', r == '.':
			digits.WriteRune(r)
		case r == 'K' || r == 'k':
			mult = 1e3
		case r == 'M' || r == 'm':
			mult = 1e6
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return 0
	}
	return int64(v*mult + 0.5)
}
