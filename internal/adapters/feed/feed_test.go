package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mediasyndicate/internal/domain"
)

const previewPage = `<html><body>
<div class="tgme_widget_message_wrap">
  <div class="tgme_widget_message" data-post="newsroom/101">
    <div class="tgme_widget_message_text">Первая новость</div>
    <div class="tgme_widget_message_reactions">
      <span class="tgme_reaction"><i class="emoji">👍</i>12</span>
      <span class="tgme_reaction"><i class="emoji">🔥</i>1.5K</span>
    </div>
    <span class="tgme_widget_message_views">2.4K</span>
    <a class="tgme_widget_message_date" href="https://t.me/newsroom/101"><time datetime="2025-03-01T12:00:00+00:00">12:00</time></a>
  </div>
</div>
<div class="tgme_widget_message_wrap">
  <div class="tgme_widget_message" data-post="newsroom/102">
    <span class="tgme_widget_message_views">987</span>
  </div>
</div>
<div class="tgme_widget_message">без data-post</div>
</body></html>`

func TestTelegramPreviewExtractsMetrics(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(previewPage))
	}))
	defer srv.Close()

	src := NewTelegramPreview(WithTelegramBaseURL(srv.URL))
	samples, err := src.FetchCurrentMetrics(context.Background(), domain.Source{ID: "s1", Type: domain.SourceTelegram, URL: "https://t.me/newsroom"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gotPath != "/s/newsroom" {
		t.Fatalf("ожидали запрос /s/newsroom, получили %s", gotPath)
	}
	if len(samples) != 2 {
		t.Fatalf("ожидали 2 поста, получили %d", len(samples))
	}
	first := samples[0]
	if first.URL != "https://t.me/newsroom/101" || first.ExternalID != "newsroom/101" {
		t.Fatalf("неверный URL поста: %+v", first)
	}
	if first.Metrics.Views != 2400 || first.Metrics.Reactions != 1512 {
		t.Fatalf("неверные метрики: %+v", first.Metrics)
	}
	if !first.PublishedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("неверная дата: %v", first.PublishedAt)
	}
	if samples[1].Metrics.Views != 987 || !samples[1].PublishedAt.IsZero() {
		t.Fatalf("неверный второй пост: %+v", samples[1])
	}
}

func TestTelegramPreviewUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	router := NewRouter(WithTelegramBaseURL(srv.URL))
	_, err := router.FetchCurrentMetrics(context.Background(), domain.Source{Type: domain.SourceTelegram, URL: "@newsroom"})
	if err == nil {
		t.Fatalf("ожидали ошибку при ответе 429")
	}
}

const rssFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Лента</title>
<item><title>A</title><link>https://example.com/a</link><guid>a-1</guid><pubDate>Sat, 01 Mar 2025 10:00:00 GMT</pubDate></item>
<item><title>B</title><guid>https://example.com/b</guid></item>
<item><title>без ссылки</title><guid>c-1</guid></item>
</channel></rss>`

func TestRSSFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFeed))
	}))
	defer srv.Close()

	router := NewRouter()
	samples, err := router.FetchCurrentMetrics(context.Background(), domain.Source{Type: domain.SourceRSS, URL: srv.URL})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("ожидали 2 записи со ссылкой, получили %d", len(samples))
	}
	if samples[0].URL != "https://example.com/a" || !samples[0].PublishedAt.Equal(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("неверная первая запись: %+v", samples[0])
	}
	if samples[1].URL != "https://example.com/b" {
		t.Fatalf("ожидали ссылку из guid, получили %s", samples[1].URL)
	}
	if samples[0].Metrics != (domain.Metrics{}) {
		t.Fatalf("лента не несёт метрик")
	}
}

func TestRouterUnknownType(t *testing.T) {
	if _, err := NewRouter().FetchCurrentMetrics(context.Background(), domain.Source{Type: "WEB"}); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного типа")
	}
}

func TestNormalizeChannelAlias(t *testing.T) {
	cases := map[string]string{
		"https://t.me/uniannet":     "uniannet",
		"https://t.me/uniannet/123": "uniannet",
		"http://t.me/s/uniannet":    "uniannet",
		"t.me/uniannet":             "uniannet",
		"@uniannet":                 "uniannet",
		"  uniannet ":               "uniannet",
		"":                          "",
	}
	for in, want := range cases {
		if got := NormalizeChannelAlias(in); got != want {
			t.Errorf("NormalizeChannelAlias(%q) = %q, ожидали %q", in, got, want)
		}
	}
}

func TestParseCount(t *testing.T) {
	cases := map[string]int64{
		"987":     987,
		"1.2K":    1200,
		"3M":      3000000,
		"👍 15":    15,
		"":        0,
		"views":   0,
		"12.5K  ": 12500,
	}
	for in, want := range cases {
		if got := parseCount(in); got != want {
			t.Errorf("parseCount(%q) = %d, ожидали %d", in, got, want)
		}
	}
}
