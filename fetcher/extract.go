package fetcher

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"

	"github.com/pauldest/newsdigest/models"
)

const (
	extractTimeout = 15 * time.Second
	// Entries whose feed already supplied this much content skip
	// extraction entirely.
	extractSkipLength = 500
)

// PageFetcher retrieves raw HTML for a page. The default implementation is
// a plain GET; a chromedp-backed one handles JS-rendered pages.
type PageFetcher interface {
	FetchHTML(ctx context.Context, pageURL string) (string, error)
}

type httpPageFetcher struct {
	client *http.Client
}

func (p *httpPageFetcher) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &httpStatusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }

// ContentExtractor pulls full article text with readability. Parsing is
// CPU-bound, so the pool width also caps concurrent parses. Failures fall
// back to the feed-provided content silently.
type ContentExtractor struct {
	fetcher  PageFetcher
	fallback PageFetcher
	workers  int
	logger   *log.Logger
}

// NewContentExtractor builds the extraction pool. fallback may be nil; when
// set (chromedp) it is tried after the plain fetch yields no usable text.
func NewContentExtractor(workers int, fallback PageFetcher, logger *log.Logger) *ContentExtractor {
	if workers <= 0 {
		workers = defaultExtractWorkers
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags)
	}
	return &ContentExtractor{
		fetcher:  &httpPageFetcher{client: &http.Client{Timeout: extractTimeout}},
		fallback: fallback,
		workers:  workers,
		logger:   logger,
	}
}

// ExtractAll enriches articles in place, bounded by the pool width.
func (e *ContentExtractor) ExtractAll(ctx context.Context, articles []models.Article) []models.Article {
	g := new(errgroup.Group)
	g.SetLimit(e.workers)

	for i := range articles {
		if len(articles[i].Content) > extractSkipLength {
			continue
		}
		a := &articles[i]
		g.Go(func() error {
			e.extractOne(ctx, a)
			return nil
		})
	}
	g.Wait()
	return articles
}

func (e *ContentExtractor) extractOne(ctx context.Context, article *models.Article) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	text := e.tryFetcher(ctx, e.fetcher, article.URL)
	if text == "" && e.fallback != nil {
		text = e.tryFetcher(ctx, e.fallback, article.URL)
	}
	if text != "" {
		article.Content = text
	}
}

func (e *ContentExtractor) tryFetcher(ctx context.Context, pf PageFetcher, pageURL string) string {
	html, err := pf.FetchHTML(ctx, pageURL)
	if err != nil {
		e.logger.Printf("fetch %s failed: %v", pageURL, err)
		return ""
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	art, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		e.logger.Printf("readability %s failed: %v", pageURL, err)
		return ""
	}
	return art.TextContent
}
