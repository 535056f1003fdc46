package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediasyndicate/internal/domain"
	"mediasyndicate/internal/infra/metrics"
)

// Option настраивает источники фидов.
type Option func(*options)

type options struct {
	client      *http.Client
	telegramURL string
	userAgent   string
}

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

// WithUserAgent задаёт User-Agent запросов к источникам.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua = strings.TrimSpace(ua); ua != "" {
			o.userAgent = ua
		}
	}
}

// WithTelegramBaseURL подменяет адрес веб-превью Telegram.
func WithTelegramBaseURL(base string) Option {
	return func(o *options) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			o.telegramURL = base
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		client:      &http.Client{Timeout: 15 * time.Second},
		telegramURL: "https://t.me",
		userAgent:   "mediasyndicate/1.0",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Router выбирает источник метрик по типу источника.
type Router struct {
	byType map[domain.SourceType]domain.MetricsSource
}

var _ domain.MetricsSource = (*Router)(nil)

// NewRouter создаёт маршрутизатор с Telegram и RSS.
func NewRouter(opts ...Option) *Router {
	return &Router{byType: map[domain.SourceType]domain.MetricsSource{
		domain.SourceTelegram: NewTelegramPreview(opts...),
		domain.SourceRSS:      NewRSS(opts...),
	}}
}

// FetchCurrentMetrics реализует domain.MetricsSource.
func (r *Router) FetchCurrentMetrics(ctx context.Context, src domain.Source) ([]domain.MetricsSample, error) {
	impl, ok := r.byType[src.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported source type %q", src.Type)
	}
	samples, err := impl.FetchCurrentMetrics(ctx, src)
	if err != nil {
		metrics.IncFeedError(string(src.Type))
	}
	return samples, err
}

// NormalizeChannelAlias приводит ссылку или @alias канала к имени без префиксов.
//
//	https://t.me/uniannet/123 -> uniannet
//	t.me/s/uniannet -> uniannet
//	@uniannet -> uniannet
func NormalizeChannelAlias(input string) string {
	alias := strings.TrimSpace(input)
	for _, prefix := range []string{"https://", "http://"} {
		alias = strings.TrimPrefix(alias, prefix)
	}
	if rest, ok := strings.CutPrefix(alias, "t.me/"); ok {
		rest = strings.TrimPrefix(rest, "s/")
		alias, _, _ = strings.Cut(rest, "/")
	}
	alias = strings.TrimPrefix(alias, "@")
	alias, _, _ = strings.Cut(alias, "?")
	return alias
}

func fetch(ctx context.Context, o options, operation, target, rawURL string) (io.ReadCloser, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", o.userAgent)

	resp, err := o.client.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("feed", operation, target, start, err)
		return nil, fmt.Errorf("request %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err = fmt.Errorf("%s returned %s", target, resp.Status)
		metrics.ObserveNetworkRequest("feed", operation, target, start, err)
		return nil, err
	}
	metrics.ObserveNetworkRequest("feed", operation, target, start, nil)
	return resp.Body, nil
}
