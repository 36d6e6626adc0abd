package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pauldest/newsdigest/agents"
	"github.com/pauldest/newsdigest/config"
	"github.com/pauldest/newsdigest/fetcher"
	"github.com/pauldest/newsdigest/internal/store"
	"github.com/pauldest/newsdigest/internal/vector"
	"github.com/pauldest/newsdigest/models"
	"github.com/pauldest/newsdigest/notifier"
)

// ErrAlreadyRunning rejects a one-shot run while another is in flight.
var ErrAlreadyRunning = errors.New("a run is already in progress")

// RunOptions tune one pipeline cycle.
type RunOptions struct {
	Limit       int
	DryRun      bool
	Mode        models.AnalysisMode
	Concurrency int
}

// CycleStats summarizes one completed cycle.
type CycleStats struct {
	Fetched  int `json:"fetched"`
	New      int `json:"new"`
	Analyzed int `json:"analyzed"`
	Units    int `json:"units"`
}

// Engine is the pipeline driver: it owns the fetch cycle, the digest
// build, the single-flight run guard and the progress feed.
type Engine struct {
	cfg      *config.Config
	feeds    *config.FeedRegistry
	fetch    *fetcher.Fetcher
	store    *store.Store
	orch     *agents.Orchestrator
	curator  *agents.Curator
	notify   *notifier.Notifier
	index    vector.Index
	progress *ProgressTracker
	logger   *log.Logger

	// runMu covers the check-then-set on running.
	runMu   sync.Mutex
	running bool

	lastStats CycleStats
	lastError string
}

// New wires the engine.
func New(cfg *config.Config, feeds *config.FeedRegistry, fetch *fetcher.Fetcher,
	st *store.Store, orch *agents.Orchestrator, curator *agents.Curator,
	notify *notifier.Notifier, index vector.Index, progress *ProgressTracker,
	logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	return &Engine{
		cfg: cfg, feeds: feeds, fetch: fetch, store: st, orch: orch,
		curator: curator, notify: notify, index: index, progress: progress,
		logger: logger,
	}
}

// TryRunCycle starts a cycle unless one is already running.
func (e *Engine) TryRunCycle(ctx context.Context, opts RunOptions) (CycleStats, error) {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return CycleStats{}, ErrAlreadyRunning
	}
	e.running = true
	e.runMu.Unlock()

	defer func() {
		e.runMu.Lock()
		e.running = false
		e.runMu.Unlock()
	}()

	stats, err := e.runCycle(ctx, opts)
	e.runMu.Lock()
	e.lastStats = stats
	if err != nil {
		e.lastError = err.Error()
	} else {
		e.lastError = ""
	}
	e.runMu.Unlock()
	return stats, err
}

// runCycle: fetch feeds, keep the articles the store has not seen, persist
// them, run the information-centric pipeline.
func (e *Engine) runCycle(ctx context.Context, opts RunOptions) (CycleStats, error) {
	var stats CycleStats
	e.setProgress(true, "fetching", 0, 0, "")

	articles := e.fetch.FetchAll(ctx, e.feeds.List())
	stats.Fetched = len(articles)

	var fresh []models.Article
	for _, a := range articles {
		exists, err := e.store.ArticleExists(ctx, a.URL)
		if err != nil {
			e.setProgress(false, "idle", 0, 0, err.Error())
			return stats, fmt.Errorf("article lookup: %w", err)
		}
		if exists {
			continue
		}
		if err := e.store.UpsertArticle(ctx, a); err != nil {
			e.logger.Printf("article upsert failed for %s: %v", a.URL, err)
			continue
		}
		fresh = append(fresh, a)
	}
	stats.New = len(fresh)

	if opts.Limit > 0 && len(fresh) > opts.Limit {
		fresh = fresh[:opts.Limit]
	}
	e.logger.Printf("cycle: %d fetched, %d new, analyzing %d", stats.Fetched, stats.New, len(fresh))

	e.setProgress(true, "analyzing", len(fresh), 0, "")
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = e.cfg.Concurrency.MaxConcurrentAnalyses
	}

	done := 0
	for _, batch := range chunk(fresh, concurrency) {
		units := e.orch.ProcessBatch(ctx, batch, opts.Mode, concurrency)
		stats.Units += len(units)
		done += len(batch)
		stats.Analyzed = done
		e.setProgress(true, "analyzing", len(fresh), done, "")

		// Index analyzed articles for future retrieval.
		for _, a := range batch {
			e.orch.Librarian().StoreArticle(ctx, a)
		}
	}

	if retention := e.cfg.Storage.ArticleRetentionDays; retention > 0 {
		if n, err := e.store.CleanupArticles(ctx, retention); err != nil {
			e.logger.Printf("article cleanup failed: %v", err)
		} else if n > 0 {
			e.logger.Printf("article cleanup removed %d rows", n)
		}
	}

	e.setProgress(false, "idle", len(fresh), done, "")
	return stats, nil
}

// TryRunDigest builds and sends a digest unless a run is already active.
func (e *Engine) TryRunDigest(ctx context.Context, dryRun bool) error {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.runMu.Unlock()

	defer func() {
		e.runMu.Lock()
		e.running = false
		e.runMu.Unlock()
	}()

	return e.runDigest(ctx, dryRun)
}

func (e *Engine) runDigest(ctx context.Context, dryRun bool) error {
	e.setProgress(true, "curating", 0, 0, "")

	limit := e.cfg.Filter.MaxArticlesPerDigest
	if limit <= 0 {
		limit = 100
	}
	unsent, err := e.store.GetUnsentUnits(ctx, limit)
	if err != nil {
		e.setProgress(false, "idle", 0, 0, err.Error())
		return fmt.Errorf("load unsent units: %w", err)
	}
	if len(unsent) == 0 {
		e.logger.Printf("digest: nothing to send")
		e.setProgress(false, "idle", 0, 0, "")
		return nil
	}

	recent, err := e.store.GetRecentSentUnits(ctx, 20)
	if err != nil {
		e.logger.Printf("recent-sent lookup failed: %v", err)
	}
	recentItems := make([]agents.RecentItem, 0, len(recent))
	for _, u := range recent {
		recentItems = append(recentItems, agents.RecentItem{Title: u.Title, Summary: u.Summary})
	}

	curation, err := e.curator.Curate(ctx, unsent, recentItems)
	if err != nil {
		e.setProgress(false, "idle", 0, 0, err.Error())
		return fmt.Errorf("curation: %w", err)
	}

	byID := make(map[string]*models.InformationUnit, len(unsent))
	for _, u := range unsent {
		byID[u.ID] = u
	}

	digest := models.Digest{
		Date:          time.Now().UTC(),
		DailySummary:  curation.DailySummary,
		TotalFetched:  e.lastStats.Fetched,
		TotalAnalyzed: e.lastStats.Analyzed,
		TotalFiltered: len(curation.ExcludedIDs),
	}
	var sentIDs []string
	for _, pick := range curation.TopPicks {
		unit := byID[pick.ID]
		if unit == nil {
			continue
		}
		digest.TopPicks = append(digest.TopPicks, digestItem(unit, pick.DisplayTitle, pick.Summary, pick.Analysis, pick.Impact, pick.Reasoning, pick.Score, pick.EventTime))
		sentIDs = append(sentIDs, unit.ID)
	}
	for _, quick := range curation.QuickReads {
		unit := byID[quick.ID]
		if unit == nil {
			continue
		}
		digest.QuickReads = append(digest.QuickReads, digestItem(unit, quick.DisplayTitle, quick.OneLine, "", "", "", quick.Score, unit.EventTime))
		sentIDs = append(sentIDs, unit.ID)
	}

	if hot, err := e.store.GetHotEntities(ctx, 7, 8); err == nil {
		for _, h := range hot {
			digest.HotEntities = append(digest.HotEntities, models.HotEntity{
				Name:          h.Entity.CanonicalName,
				Type:          string(h.Entity.Type),
				RecentCount:   h.RecentCount,
				PreviousCount: h.PreviousCount,
				Trend:         h.Trend,
				ChangePct:     h.ChangePct,
			})
		}
	}

	if len(digest.TopPicks) == 0 && len(digest.QuickReads) == 0 {
		e.logger.Printf("digest: curation selected nothing")
		e.setProgress(false, "idle", 0, 0, "")
		return nil
	}

	if dryRun {
		e.logger.Printf("digest (dry run): %d top picks, %d quick reads, skipping SMTP",
			len(digest.TopPicks), len(digest.QuickReads))
		e.setProgress(false, "idle", 0, 0, "")
		return nil
	}

	e.setProgress(true, "sending", 0, 0, "")
	if ok := e.notify.SendDigest(ctx, digest, nil); !ok {
		e.setProgress(false, "idle", 0, 0, "digest delivery failed")
		return fmt.Errorf("digest delivery failed for all recipients")
	}

	// Only a delivered digest marks its units sent.
	if err := e.store.MarkUnitsSent(ctx, sentIDs); err != nil {
		e.setProgress(false, "idle", 0, 0, err.Error())
		return fmt.Errorf("mark units sent: %w", err)
	}
	e.logger.Printf("digest sent: %d top picks, %d quick reads", len(digest.TopPicks), len(digest.QuickReads))
	e.setProgress(false, "idle", 0, 0, "")
	return nil
}

func digestItem(u *models.InformationUnit, title, summary, analysis, impact, reasoning string, score float64, eventTime string) models.DigestItem {
	if title == "" {
		title = u.Title
	}
	if summary == "" {
		summary = u.Summary
	}
	if score == 0 {
		score = u.ValueScore()
	}
	item := models.DigestItem{
		ID:          u.ID,
		Title:       title,
		URL:         u.PrimarySource,
		EventTime:   eventTime,
		Summary:     summary,
		Analysis:    analysis,
		Impact:      impact,
		Reasoning:   reasoning,
		Score:       score,
		Tags:        u.Tags,
		MergedCount: u.MergedCount,
		SourceCount: u.SourceCount(),
	}
	if len(u.Sources) > 0 {
		item.Source = u.Sources[0].SourceName
	}
	return item
}

// Status reports the engine state for the admin surface.
type Status struct {
	Running   bool       `json:"running"`
	LastStats CycleStats `json:"last_stats"`
	LastError string     `json:"last_error,omitempty"`
}

// Status returns a snapshot of the run state.
func (e *Engine) Status() Status {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return Status{Running: e.running, LastStats: e.lastStats, LastError: e.lastError}
}

// Progress exposes the tracker for the admin surface.
func (e *Engine) Progress() *ProgressTracker { return e.progress }

func (e *Engine) setProgress(running bool, phase string, total, done int, errText string) {
	if e.progress == nil {
		return
	}
	e.progress.Update(func(p *ProgressState) {
		p.Running = running
		p.Phase = phase
		p.Total = total
		p.Done = done
		p.LastError = errText
	})
}

func chunk(articles []models.Article, size int) [][]models.Article {
	if size <= 0 {
		size = 5
	}
	var out [][]models.Article
	for start := 0; start < len(articles); start += size {
		end := start + size
		if end > len(articles) {
			end = len(articles)
		}
		out = append(out, articles[start:end])
	}
	return out
}
