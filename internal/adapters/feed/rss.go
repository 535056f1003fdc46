package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"mediasyndicate/internal/domain"
)

// RSS читает ленту источника. Лента не несёт метрик вовлечённости, поэтому метрики нулевые.
type RSS struct {
	opts options
}

var _ domain.MetricsSource = (*RSS)(nil)

// NewRSS создаёт источник RSS/Atom.
func NewRSS(opts ...Option) *RSS {
	return &RSS{opts: buildOptions(opts)}
}

// FetchCurrentMetrics возвращает записи ленты.
func (r *RSS) FetchCurrentMetrics(ctx context.Context, src domain.Source) ([]domain.MetricsSample, error) {
	body, err := fetch(ctx, r.opts, "rss_fetch", "rss", src.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	samples := make([]domain.MetricsSample, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		link := itemLink(item)
		if link == "" {
			continue
		}
		sample := domain.MetricsSample{ExternalID: item.GUID, URL: link}
		if item.PublishedParsed != nil {
			sample.PublishedAt = item.PublishedParsed.UTC()
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return strings.TrimSpace(item.Link)
	}
	if strings.HasPrefix(item.GUID, "http") {
		return item.GUID
	}
	return ""
}
