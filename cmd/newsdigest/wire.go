package main

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pauldest/newsdigest/agents"
	"github.com/pauldest/newsdigest/config"
	"github.com/pauldest/newsdigest/engine"
	"github.com/pauldest/newsdigest/fetcher"
	chromefetch "github.com/pauldest/newsdigest/fetcher/chromedp"
	"github.com/pauldest/newsdigest/internal/llm"
	"github.com/pauldest/newsdigest/internal/store"
	"github.com/pauldest/newsdigest/internal/telemetry"
	"github.com/pauldest/newsdigest/internal/vector"
	"github.com/pauldest/newsdigest/notifier"
	openai "github.com/pauldest/newsdigest/provider/openai"
)

// app bundles everything a subcommand may need. Construction is fail-fast:
// a bad config or unreachable database aborts before any scheduling.
type app struct {
	cfg      *config.Config
	feeds    *config.FeedRegistry
	store    *store.Store
	recorder *telemetry.Recorder
	gateway  *llm.Service
	index    vector.Index
	keyword  *vector.KeywordIndex
	orch     *agents.Orchestrator
	engine   *engine.Engine
	rdb      *redis.Client
	logger   *log.Logger
}

func loadApp(cmd *cobra.Command, withChrome bool) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	feedsPath, _ := cmd.Flags().GetString("feeds")

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	feeds, err := config.LoadFeeds(feedsPath)
	if err != nil {
		return nil, err
	}

	logger := log.New(log.Writer(), "[NEWSDIGEST] ", log.LstdFlags)

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate("file://migrations", cfg.Storage.DatabaseURL); err != nil {
		logger.Printf("migrate warning: %v", err)
	}

	recorder := telemetry.NewRecorder(cfg.Telemetry.Enabled, cfg.Telemetry.StoragePath,
		cfg.Telemetry.RetentionDays, cfg.Telemetry.MaxContentLength,
		store.NewTelemetryIndex(st), nil)

	prov := openai.New(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model, cfg.AI.Timeout)
	gateway := llm.New(prov, recorder, cfg.AI.MaxTokens, cfg.AI.Temperature, nil)

	index := vector.NewHashIndex()
	keyword, err := vector.NewKeywordIndex()
	if err != nil {
		return nil, fmt.Errorf("keyword index: %w", err)
	}

	var rdb *redis.Client
	if cfg.Storage.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Printf("redis unavailable, progress recovery disabled: %v", err)
			rdb = nil
		}
	}

	traces := agents.NewTraceManager(cfg.Storage.TraceDir, nil)
	infoSearch := store.NewInfoSearch(st, index)
	orch := agents.NewOrchestrator(gateway, index, keyword, cfg.Roots, infoSearch, st, traces, nil)

	var pageFallback fetcher.PageFetcher
	if withChrome {
		pageFallback = &chromefetch.Fetcher{}
	}
	extractor := fetcher.NewContentExtractor(cfg.Concurrency.MaxConcurrentExtracts, pageFallback, nil)
	fetch := fetcher.New(cfg.Concurrency.MaxConcurrentFetches, extractor, nil)

	curator := agents.NewCurator(gateway, cfg.Filter.TopPickCount, nil)
	notify := notifier.New(cfg.Email, "", nil)
	progress := engine.NewProgressTracker(rdb, nil)

	eng := engine.New(cfg, feeds, fetch, st, orch, curator, notify, index, progress, logger)

	return &app{
		cfg: cfg, feeds: feeds, store: st, recorder: recorder, gateway: gateway,
		index: index, keyword: keyword, orch: orch, engine: eng, rdb: rdb, logger: logger,
	}, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
