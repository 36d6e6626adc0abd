package fetcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/pauldest/newsdigest/config"
	"github.com/pauldest/newsdigest/models"
)

const (
	// RetentionDays is the hard cutoff for entry age. Entries published
	// exactly at the boundary are kept; strictly older ones are dropped.
	RetentionDays = 180

	defaultFeedWorkers    = 10
	defaultExtractWorkers = 5
	feedTimeout           = 30 * time.Second
)

// Fetcher retrieves feeds concurrently, maps entries to Articles, applies
// the retention filter and deduplicates by URL. It does not retry failed
// feeds; the scheduler's next firing is the retry.
type Fetcher struct {
	httpClient  *http.Client
	parser      *gofeed.Parser
	extractor   *ContentExtractor
	feedWorkers int
	logger      *log.Logger

	// now is swappable for boundary tests.
	now func() time.Time
}

// New builds a Fetcher. extractor may be nil to skip full-text extraction.
func New(feedWorkers int, extractor *ContentExtractor, logger *log.Logger) *Fetcher {
	if feedWorkers <= 0 {
		feedWorkers = defaultFeedWorkers
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[FETCHER] ", log.LstdFlags)
	}
	return &Fetcher{
		httpClient:  &http.Client{Timeout: feedTimeout},
		parser:      gofeed.NewParser(),
		extractor:   extractor,
		feedWorkers: feedWorkers,
		logger:      logger,
		now:         time.Now,
	}
}

// FetchAll retrieves all enabled feeds in parallel and returns a
// URL-deduplicated set of articles within the retention window. A feed
// failure costs only that feed's articles.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []config.Feed) []models.Article {
	enabled := make([]config.Feed, 0, len(feeds))
	for _, fd := range feeds {
		if fd.Enabled {
			enabled = append(enabled, fd)
		}
	}
	f.logger.Printf("fetching %d feeds", len(enabled))

	results := make([][]models.Article, len(enabled))
	g := new(errgroup.Group)
	g.SetLimit(f.feedWorkers)

	for i, feed := range enabled {
		i, feed := i, feed
		g.Go(func() error {
			articles, err := f.fetchFeed(ctx, feed)
			if err != nil {
				// Fail-one: a broken feed costs only its own articles.
				f.logger.Printf("feed %q failed: %v", feed.Name, err)
				return nil
			}
			results[i] = articles
			return nil
		})
	}
	g.Wait()

	var all []models.Article
	for i, articles := range results {
		if articles != nil {
			f.logger.Printf("feed %q returned %d articles", enabled[i].Name, len(articles))
			all = append(all, articles...)
		}
	}

	if f.extractor != nil {
		all = f.extractor.ExtractAll(ctx, all)
	}

	// Deduplicate by URL, first seen wins.
	seen := make(map[string]struct{}, len(all))
	unique := all[:0]
	for _, a := range all {
		if _, ok := seen[a.URL]; ok {
			continue
		}
		seen[a.URL] = struct{}{}
		unique = append(unique, a)
	}

	f.logger.Printf("fetch complete: %d unique articles from %d feeds", len(unique), len(enabled))
	return unique
}

func (f *Fetcher) fetchFeed(ctx context.Context, feed config.Feed) ([]models.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, feedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return f.parseFeed(string(body), feed), nil
}

// parseFeed maps entries to articles, isolating per-entry failures and
// applying the retention filter.
func (f *Fetcher) parseFeed(body string, feed config.Feed) []models.Article {
	parsed, err := f.parser.ParseString(body)
	if err != nil {
		f.logger.Printf("feed %q parse failed: %v", feed.Name, err)
		return nil
	}

	cutoff := f.now().UTC().AddDate(0, 0, -RetentionDays)
	var articles []models.Article
	for _, item := range parsed.Items {
		article, ok := f.itemToArticle(item, feed)
		if !ok {
			continue
		}
		if article.PublishedAt != nil && article.PublishedAt.Before(cutoff) {
			continue
		}
		articles = append(articles, article)
	}
	return articles
}

func (f *Fetcher) itemToArticle(item *gofeed.Item, feed config.Feed) (models.Article, bool) {
	url := strings.TrimSpace(item.Link)
	title := strings.TrimSpace(item.Title)
	if url == "" || title == "" {
		return models.Article{}, false
	}

	summary := item.Description
	content := item.Content
	if content == "" {
		content = summary
	}

	var publishedAt *time.Time
	for _, candidate := range []*time.Time{item.PublishedParsed, item.UpdatedParsed} {
		if candidate != nil {
			utc := candidate.UTC()
			publishedAt = &utc
			break
		}
	}

	author := ""
	if item.Author != nil {
		author = item.Author.Name
	}

	return models.Article{
		URL:         url,
		Title:       title,
		Content:     content,
		Summary:     summary,
		Source:      feed.Name,
		Category:    feed.Category,
		Author:      author,
		PublishedAt: publishedAt,
		FetchedAt:   f.now().UTC(),
	}, true
}
