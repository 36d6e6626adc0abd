package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pauldest/newsdigest/config"
)

func rssBody(items string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>test feed</title><link>http://example.com</link>` + items + `</channel></rss>`
}

func rssItem(title, link string, published time.Time) string {
	return fmt.Sprintf(`<item><title>%s</title><link>%s</link><description>desc</description><pubDate>%s</pubDate></item>`,
		title, link, published.Format(time.RFC1123Z))
}

func newTestFetcher() *Fetcher {
	return New(2, nil, nil)
}

func TestFetchAllRetentionFilter(t *testing.T) {
	now := time.Now().UTC()
	body := rssBody(
		rssItem("fresh", "http://example.com/a", now.AddDate(0, 0, -10)) +
			rssItem("mid", "http://example.com/b", now.AddDate(0, 0, -100)) +
			rssItem("stale", "http://example.com/c", now.AddDate(0, 0, -200)),
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := newTestFetcher()
	articles := f.FetchAll(context.Background(), []config.Feed{{Name: "t", URL: srv.URL, Enabled: true}})

	if len(articles) != 2 {
		t.Fatalf("expected 2 articles after retention filter, got %d", len(articles))
	}
	for _, a := range articles {
		if a.Title == "stale" {
			t.Fatalf("200-day-old entry survived the retention filter")
		}
	}
}

func TestRetentionBoundaryInclusive(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f := newTestFetcher()
	f.now = func() time.Time { return now }

	exactly := now.AddDate(0, 0, -RetentionDays)
	older := exactly.Add(-time.Second)
	body := rssBody(
		rssItem("boundary", "http://example.com/x", exactly) +
			rssItem("older", "http://example.com/y", older),
	)

	articles := f.parseFeed(body, config.Feed{Name: "t", Enabled: true})
	if len(articles) != 1 {
		t.Fatalf("expected only the boundary entry, got %d", len(articles))
	}
	if articles[0].Title != "boundary" {
		t.Fatalf("entry at exactly now-180d must be included, got %q", articles[0].Title)
	}
}

func TestFetchAllDeduplicatesByURL(t *testing.T) {
	now := time.Now().UTC()
	item := rssItem("same story", "http://example.com/dup", now.AddDate(0, 0, -1))
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(item))
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(item))
	}))
	defer srvB.Close()

	f := newTestFetcher()
	articles := f.FetchAll(context.Background(), []config.Feed{
		{Name: "a", URL: srvA.URL, Enabled: true},
		{Name: "b", URL: srvB.URL, Enabled: true},
	})
	if len(articles) != 1 {
		t.Fatalf("identical URLs in one cycle must collapse to one article, got %d", len(articles))
	}
}

func TestFeedFailureIsIsolated(t *testing.T) {
	now := time.Now().UTC()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(rssItem("ok", "http://example.com/ok", now)))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	f := newTestFetcher()
	articles := f.FetchAll(context.Background(), []config.Feed{
		{Name: "bad", URL: bad.URL, Enabled: true},
		{Name: "good", URL: good.URL, Enabled: true},
	})
	if len(articles) != 1 {
		t.Fatalf("failing feed must not affect the healthy one, got %d articles", len(articles))
	}
}

func TestEmptyFeedYieldsNoArticles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(""))
	}))
	defer srv.Close()

	f := newTestFetcher()
	articles := f.FetchAll(context.Background(), []config.Feed{{Name: "empty", URL: srv.URL, Enabled: true}})
	if len(articles) != 0 {
		t.Fatalf("zero entries must yield zero articles, got %d", len(articles))
	}
}

func TestEntriesMissingURLOrTitleDropped(t *testing.T) {
	now := time.Now().UTC()
	body := rssBody(
		`<item><title>no link</title><description>x</description></item>` +
			`<item><link>http://example.com/notitle</link><description>x</description></item>` +
			rssItem("valid", "http://example.com/valid", now),
	)
	f := newTestFetcher()
	articles := f.parseFeed(body, config.Feed{Name: "t"})
	if len(articles) != 1 || articles[0].Title != "valid" {
		t.Fatalf("entries without url or title must be dropped, got %v", articles)
	}
}

func TestDisabledFeedsSkipped(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		fmt.Fprint(w, rssBody(""))
	}))
	defer srv.Close()

	f := newTestFetcher()
	f.FetchAll(context.Background(), []config.Feed{{Name: "off", URL: srv.URL, Enabled: false}})
	if called {
		t.Fatalf("disabled feed must not be fetched")
	}
}

func TestPublishTimeNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("JST", 9*3600)
	published := time.Date(2026, 7, 30, 9, 0, 0, 0, loc)
	body := rssBody(rssItem("tz", "http://example.com/tz", published))

	f := newTestFetcher()
	articles := f.parseFeed(body, config.Feed{Name: "t"})
	if len(articles) != 1 || articles[0].PublishedAt == nil {
		t.Fatalf("expected one article with publish time")
	}
	got := *articles[0].PublishedAt
	if got.Location() != time.UTC {
		t.Fatalf("publish time must be UTC, got %v", got.Location())
	}
	if !got.Equal(published) {
		t.Fatalf("UTC conversion changed the instant: %v vs %v", got, published)
	}
}
