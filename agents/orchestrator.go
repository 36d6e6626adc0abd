package agents

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pauldest/newsdigest/internal/llm"
	"github.com/pauldest/newsdigest/internal/telemetry"
	"github.com/pauldest/newsdigest/internal/vector"
	"github.com/pauldest/newsdigest/models"
)

// Semantic-dedup parameters for the information-centric pipeline.
const (
	SimilarityThreshold = 0.6
	SimilarityTopK      = 3
)

// InformationStore is the slice of the store the orchestrator needs.
type InformationStore interface {
	GetUnitByFingerprint(ctx context.Context, fingerprint string) (*models.InformationUnit, error)
	SaveUnit(ctx context.Context, u *models.InformationUnit) error
	FindSimilar(ctx context.Context, u *models.InformationUnit, threshold float64, topK int) ([]*models.InformationUnit, error)
	MarkUnitEntityProcessed(ctx context.Context, id string) error
}

// EntityGraph is the knowledge-graph write path.
type EntityGraph interface {
	ProcessExtracted(ctx context.Context, unitID string, entities []models.ExtractedEntity, relations []models.ExtractedRelation, eventTime *time.Time) (map[string]string, error)
}

// Orchestrator dispatches agents per analysis mode and runs the
// information-centric pipeline: extract, dedup, merge, persist, entity
// writes.
type Orchestrator struct {
	collector *Collector
	librarian *Librarian
	analysts  map[string]*Analyst
	editor    *Editor
	extractor *Extractor
	merger    *Merger

	infoStore   InformationStore
	entityGraph EntityGraph
	traces      *TraceManager
	logger      *log.Logger
}

// NewOrchestrator wires the agent set. infoStore and entityGraph may be
// nil: the information-centric path then refuses to run / skips graph
// writes respectively.
func NewOrchestrator(svc *llm.Service, index vector.Index, keyword *vector.KeywordIndex,
	roots []string, infoStore InformationStore, entityGraph EntityGraph,
	traces *TraceManager, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		collector:   NewCollector(svc, logger),
		librarian:   NewLibrarian(svc, index, keyword, logger),
		analysts:    NewAnalysts(svc, logger),
		editor:      NewEditor(svc, logger),
		extractor:   NewExtractor(svc, roots, logger),
		merger:      NewMerger(svc, logger),
		infoStore:   infoStore,
		entityGraph: entityGraph,
		traces:      traces,
		logger:      logger,
	}
}

// AnalyzeArticle runs the article-centric pipeline for one article. It
// never fails outright: any unhandled error degrades to an EnrichedArticle
// derived trivially from the article.
func (o *Orchestrator) AnalyzeArticle(ctx context.Context, article models.Article, mode models.AnalysisMode) models.EnrichedArticle {
	start := time.Now()
	ctx = telemetry.WithSession(ctx, article.URL)
	o.traces.StartSession(article.URL, article.Title)

	actx := models.NewAnalysisContext(article, mode)

	var enriched models.EnrichedArticle
	switch mode {
	case models.ModeQuick:
		enriched = o.quickAnalysis(ctx, actx)
	case models.ModeDeep:
		enriched = o.deepAnalysis(ctx, actx)
	default:
		enriched = o.standardAnalysis(ctx, actx)
	}

	enriched.AnalysisMode = string(mode)
	enriched.AgentTraces = actx.Traces

	o.logger.Printf("analyzed %q mode=%s score=%.1f in %s (tokens=%d)",
		clip(article.Title, 50), mode, enriched.OverallScore,
		time.Since(start).Round(time.Millisecond), actx.TotalTokens().Total)

	o.traces.SaveFinal(article.URL, enriched)
	o.traces.EndSession(article.URL)
	return enriched
}

func (o *Orchestrator) quickAnalysis(ctx context.Context, actx *models.AnalysisContext) models.EnrichedArticle {
	out := o.collector.Process(ctx, actx)
	o.saveStep(actx.Article, "Collector", out)

	enriched := models.EnrichedFromArticle(actx.Article)
	if actx.Extracted != nil {
		x := actx.Extracted
		enriched.Who, enriched.What, enriched.When = x.Who, x.What, x.When
		enriched.Where, enriched.Why, enriched.How = x.Where, x.Why, x.How
		enriched.AISummary = x.CoreSummary
		enriched.Tags = x.Tags
	}
	enriched.OverallScore = 5.0
	return enriched
}

func (o *Orchestrator) standardAnalysis(ctx context.Context, actx *models.AnalysisContext) models.EnrichedArticle {
	out := o.collector.Process(ctx, actx)
	o.saveStep(actx.Article, "Collector", out)

	out = o.librarian.Process(ctx, actx)
	o.saveStep(actx.Article, "Librarian", out)

	enriched := o.finishWithEditor(ctx, actx)

	// Index the article so future analyses can retrieve it.
	o.librarian.StoreArticle(ctx, actx.Article)
	return enriched
}

func (o *Orchestrator) deepAnalysis(ctx context.Context, actx *models.AnalysisContext) models.EnrichedArticle {
	out := o.collector.Process(ctx, actx)
	o.saveStep(actx.Article, "Collector", out)

	out = o.librarian.Process(ctx, actx)
	o.saveStep(actx.Article, "Librarian", out)

	o.runAnalysts(ctx, actx)

	enriched := o.finishWithEditor(ctx, actx)
	o.librarian.StoreArticle(ctx, actx.Article)
	return enriched
}

// runAnalysts launches the panel concurrently and joins. A failed analyst
// leaves an empty report in its slot; the pipeline continues.
func (o *Orchestrator) runAnalysts(ctx context.Context, actx *models.AnalysisContext) {
	type analystResult struct {
		key string
		out models.AgentOutput
	}
	results := make(chan analystResult, len(o.analysts))

	g := new(errgroup.Group)
	for key, analyst := range o.analysts {
		key, analyst := key, analyst
		g.Go(func() error {
			results <- analystResult{key: key, out: analyst.Process(ctx, actx)}
			return nil
		})
	}
	g.Wait()
	close(results)

	for r := range results {
		if report, ok := r.out.Data.(models.AnalystReport); ok && r.out.Success {
			actx.AnalystReports[r.key] = report
		} else {
			actx.AnalystReports[r.key] = models.AnalystReport{}
		}
		actx.AddTrace(r.out.Trace)
		o.saveStep(actx.Article, "Analyst_"+r.key, r.out)
	}
}

func (o *Orchestrator) finishWithEditor(ctx context.Context, actx *models.AnalysisContext) models.EnrichedArticle {
	out := o.editor.Process(ctx, actx)
	o.saveStep(actx.Article, "Editor", out)
	if enriched, ok := out.Data.(models.EnrichedArticle); ok {
		return enriched
	}
	return models.EnrichedFromArticle(actx.Article)
}

// ProcessArticle is the information-centric pipeline. Candidates are
// processed strictly in list order: a later candidate may semantically
// match an earlier one just persisted.
func (o *Orchestrator) ProcessArticle(ctx context.Context, article models.Article, mode models.AnalysisMode) ([]*models.InformationUnit, error) {
	if o.infoStore == nil {
		return nil, fmt.Errorf("information store not configured")
	}

	ctx = telemetry.WithSession(ctx, article.URL)
	o.traces.StartSession(article.URL, article.Title+" [info]")
	defer o.traces.EndSession(article.URL)

	actx := models.NewAnalysisContext(article, mode)

	// Consultant phase: the analyst panel feeds the extractor in DEEP mode.
	if mode == models.ModeDeep {
		o.runAnalysts(ctx, actx)
	}

	out := o.extractor.Process(ctx, actx)
	o.saveStep(article, "Extractor", out)
	if !out.Success {
		return nil, fmt.Errorf("extraction failed: %s", out.Err)
	}
	candidates, _ := out.Data.([]*models.InformationUnit)
	o.logger.Printf("extracted %d candidate units from %q", len(candidates), clip(article.Title, 50))

	var finalUnits []*models.InformationUnit
	for _, candidate := range candidates {
		unit, err := o.resolveCandidate(ctx, candidate)
		if err != nil {
			o.logger.Printf("candidate %q failed: %v", clip(candidate.Title, 40), err)
			continue
		}
		finalUnits = append(finalUnits, unit)
		o.processEntities(ctx, unit)
	}
	return finalUnits, nil
}

// resolveCandidate runs the three-step dedup ladder: exact fingerprint,
// semantic similarity, novel.
func (o *Orchestrator) resolveCandidate(ctx context.Context, candidate *models.InformationUnit) (*models.InformationUnit, error) {
	existing, err := o.infoStore.GetUnitByFingerprint(ctx, candidate.Fingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		merged, err := o.merger.Merge(ctx, []*models.InformationUnit{existing, candidate})
		if err != nil {
			return nil, err
		}
		// Primary identity is preserved by construction (first input).
		if err := o.infoStore.SaveUnit(ctx, merged); err != nil {
			return nil, err
		}
		o.traces.SaveStep(candidate.PrimarySource, "Merger",
			map[string]any{"new": candidate.Title, "existing": existing.Title, "match": "fingerprint"},
			merged.Title, 0, nil, "")
		return merged, nil
	}

	similar, err := o.infoStore.FindSimilar(ctx, candidate, SimilarityThreshold, SimilarityTopK)
	if err != nil {
		return nil, err
	}
	if len(similar) > 0 {
		inputs := append(similar, candidate)
		merged, err := o.merger.Merge(ctx, inputs)
		if err != nil {
			return nil, err
		}
		// The merged unit inherits the best match's identity: the
		// semantically oldest surviving fingerprint.
		merged.ID = similar[0].ID
		merged.Fingerprint = similar[0].Fingerprint
		if err := o.infoStore.SaveUnit(ctx, merged); err != nil {
			return nil, err
		}
		o.traces.SaveStep(candidate.PrimarySource, "Merger",
			map[string]any{"new": candidate.Title, "similar_count": len(similar), "match": "semantic"},
			merged.Title, 0, nil, "")
		return merged, nil
	}

	if err := o.infoStore.SaveUnit(ctx, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

// processEntities writes the unit's graph candidates to the entity store.
// entity_processed is set even when there is nothing to extract; the
// backfill sweep would otherwise revisit the unit forever.
func (o *Orchestrator) processEntities(ctx context.Context, unit *models.InformationUnit) {
	if o.entityGraph != nil && (len(unit.ExtractedEntities) > 0 || len(unit.ExtractedRelations) > 0) {
		eventTime := models.ParseEventTime(unit.EventTime)
		if _, err := o.entityGraph.ProcessExtracted(ctx, unit.ID, unit.ExtractedEntities, unit.ExtractedRelations, eventTime); err != nil {
			o.logger.Printf("entity processing failed for %s: %v", unit.ID, err)
			return
		}
	}
	if err := o.infoStore.MarkUnitEntityProcessed(ctx, unit.ID); err != nil {
		o.logger.Printf("entity flag update failed for %s: %v", unit.ID, err)
		return
	}
	unit.EntityProcessed = true
}

// ProcessBatch runs ProcessArticle over articles with bounded concurrency;
// each article's candidate loop stays sequential.
func (o *Orchestrator) ProcessBatch(ctx context.Context, articles []models.Article, mode models.AnalysisMode, maxConcurrent int) []*models.InformationUnit {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrent)
	var mu sync.Mutex
	var all []*models.InformationUnit

	for _, article := range articles {
		article := article
		g.Go(func() error {
			units, err := o.ProcessArticle(ctx, article, mode)
			if err != nil {
				o.logger.Printf("article %q failed: %v", clip(article.Title, 50), err)
				return nil
			}
			mu.Lock()
			all = append(all, units...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return all
}

func (o *Orchestrator) saveStep(article models.Article, agentName string, out models.AgentOutput) {
	var duration float64
	var tokens any
	if out.Trace != nil {
		duration = out.Trace.Duration
		tokens = out.Trace.TokenUsage
	}
	o.traces.SaveStep(article.URL, agentName,
		map[string]any{"title": article.Title, "url": article.URL},
		out.Trace, duration, tokens, out.Err)
}

// Librarian exposes the retrieval agent for the engine's index writes.
func (o *Orchestrator) Librarian() *Librarian { return o.librarian }

// Merger exposes the merge agent for the backfill path.
func (o *Orchestrator) Merger() *Merger { return o.merger }
