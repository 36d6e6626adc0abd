package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"

	"github.com/pauldest/newsdigest/models"
)

// Store wraps the Postgres connection. All pipeline persistence (articles,
// information units, entity graph, telemetry index) funnels through it.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Migrate applies migrations from sourceURL (e.g. file://migrations).
func Migrate(sourceURL, dsn string) error {
	m, err := migrate.New(sourceURL, dsn)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// ---- articles ----

// ArticleExists reports whether url is already stored.
func (s *Store) ArticleExists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM articles WHERE url = $1`, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("article exists: %w", err)
	}
	return true, nil
}

// UpsertArticle inserts or refreshes an article row, keyed on URL.
// Idempotent: repeating the call leaves one row.
func (s *Store) UpsertArticle(ctx context.Context, a models.Article) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO articles (url, title, content, summary, source, category, author, published_at, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (url) DO UPDATE SET
  title = EXCLUDED.title,
  content = EXCLUDED.content,
  summary = EXCLUDED.summary,
  source = EXCLUDED.source,
  category = EXCLUDED.category,
  author = EXCLUDED.author,
  published_at = EXCLUDED.published_at,
  fetched_at = EXCLUDED.fetched_at
`, a.URL, a.Title, a.Content, a.Summary, a.Source, a.Category, a.Author, a.PublishedAt, a.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	return nil
}

// SaveEnrichment co-stores the article-centric analysis columns.
func (s *Store) SaveEnrichment(ctx context.Context, e models.EnrichedArticle) error {
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	analysis, err := json.Marshal(e.AnalystReports)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
UPDATE articles SET overall_score = $2, ai_summary = $3, tags = $4, analysis = $5
WHERE url = $1
`, e.URL, e.OverallScore, e.AISummary, tags, analysis)
	if err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}
	return nil
}

// GetUnsentArticles returns articles without a sent mark, newest first.
func (s *Store) GetUnsentArticles(ctx context.Context, limit int) ([]models.Article, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT url, title, content, summary, source, category, author, published_at, fetched_at, sent_at
FROM articles
WHERE sent_at IS NULL
ORDER BY fetched_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("get unsent articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// MarkArticlesSent stamps sent_at on the given URLs.
func (s *Store) MarkArticlesSent(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE articles SET sent_at = NOW() WHERE url = ANY($1)`, pq.Array(urls))
	if err != nil {
		return fmt.Errorf("mark articles sent: %w", err)
	}
	return nil
}

// GetRecentSentArticles returns sent articles within the last N days.
func (s *Store) GetRecentSentArticles(ctx context.Context, days, limit int) ([]models.Article, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT url, title, content, summary, source, category, author, published_at, fetched_at, sent_at
FROM articles
WHERE sent_at IS NOT NULL AND sent_at >= NOW() - make_interval(days => $1)
ORDER BY sent_at DESC
LIMIT $2
`, days, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent sent: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// CleanupArticles deletes articles fetched before the retention window.
func (s *Store) CleanupArticles(ctx context.Context, retentionDays int) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM articles WHERE fetched_at < NOW() - make_interval(days => $1)`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("cleanup articles: %w", err)
	}
	return res.RowsAffected()
}

// ListArticles pages through stored articles, newest first.
func (s *Store) ListArticles(ctx context.Context, limit, offset int) ([]models.Article, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT url, title, content, summary, source, category, author, published_at, fetched_at, sent_at
FROM articles
ORDER BY fetched_at DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// DeleteArticle removes one article by URL.
func (s *Store) DeleteArticle(ctx context.Context, url string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM articles WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	return nil
}

// CountArticles reports total and unsent counts.
func (s *Store) CountArticles(ctx context.Context) (total, unsent int, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE sent_at IS NULL) FROM articles`).Scan(&total, &unsent)
	if err != nil {
		return 0, 0, fmt.Errorf("count articles: %w", err)
	}
	return total, unsent, nil
}

func scanArticles(rows *sql.Rows) ([]models.Article, error) {
	var out []models.Article
	for rows.Next() {
		var a models.Article
		var publishedAt, sentAt sql.NullTime
		if err := rows.Scan(&a.URL, &a.Title, &a.Content, &a.Summary, &a.Source, &a.Category,
			&a.Author, &publishedAt, &a.FetchedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			a.PublishedAt = &t
		}
		if sentAt.Valid {
			t := sentAt.Time
			a.SentAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// parseEventTime anchors a (possibly relative) event-time string to a
// timestamp for ordering. Unparseable strings stay NULL.
func parseEventTime(s string) *time.Time {
	return models.ParseEventTime(s)
}
