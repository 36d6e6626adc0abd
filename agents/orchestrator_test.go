package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pauldest/newsdigest/models"
)

// memInfoStore is an in-memory InformationStore with scripted similarity
// results.
type memInfoStore struct {
	mu      sync.Mutex
	units   map[string]*models.InformationUnit // by id
	byFP    map[string]string                  // fingerprint -> id
	similar []*models.InformationUnit          // next FindSimilar result
}

func newMemInfoStore() *memInfoStore {
	return &memInfoStore{units: map[string]*models.InformationUnit{}, byFP: map[string]string{}}
}

func (s *memInfoStore) GetUnitByFingerprint(_ context.Context, fp string) (*models.InformationUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byFP[fp]; ok {
		clone := *s.units[id]
		return &clone, nil
	}
	return nil, nil
}

func (s *memInfoStore) SaveUnit(_ context.Context, u *models.InformationUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.DedupSources()
	clone := *u
	s.units[u.ID] = &clone
	s.byFP[u.Fingerprint] = u.ID
	return nil
}

func (s *memInfoStore) FindSimilar(context.Context, *models.InformationUnit, float64, int) ([]*models.InformationUnit, error) {
	return s.similar, nil
}

func (s *memInfoStore) MarkUnitEntityProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.units[id]; ok {
		u.EntityProcessed = true
	}
	return nil
}

type memGraph struct {
	calls int
}

func (g *memGraph) ProcessExtracted(context.Context, string, []models.ExtractedEntity, []models.ExtractedRelation, *time.Time) (map[string]string, error) {
	g.calls++
	return map[string]string{}, nil
}

const simpleUnitResponse = `[
  {"type": "fact", "title": "Same Story", "content": "Identical normalized content.",
   "summary": "sum", "information_gain": 6, "actionability": 6, "scarcity": 6, "impact_magnitude": 6}
]`

const noEntitiesUnitResponse = `[
  {"type": "fact", "title": "No Entities Here", "content": "Nothing to link.",
   "information_gain": 5, "actionability": 5, "scarcity": 5, "impact_magnitude": 5}
]`

func newTestOrchestrator(store *memInfoStore, graph EntityGraph, routes map[string]routedResponse) *Orchestrator {
	p := &routedProvider{routes: routes}
	return NewOrchestrator(newFastService(p), nil, nil, nil, store, graph, NewTraceManager("", nil), nil)
}

func TestExactFingerprintDedup(t *testing.T) {
	store := newMemInfoStore()
	orch := newTestOrchestrator(store, nil, map[string]routedResponse{
		"intelligence extraction":  {content: simpleUnitResponse},
		"consolidation specialist": {content: "garbage"}, // force deterministic merge
	})

	ctx := context.Background()
	if _, err := orch.ProcessArticle(ctx, testArticle("http://a.example/1", "First", "body"), models.ModeStandard); err != nil {
		t.Fatal(err)
	}
	units, err := orch.ProcessArticle(ctx, testArticle("http://b.example/2", "Second", "body"), models.ModeStandard)
	if err != nil {
		t.Fatal(err)
	}

	if len(store.units) != 1 {
		t.Fatalf("byte-identical units must collapse to one row, got %d", len(store.units))
	}
	var stored *models.InformationUnit
	for _, u := range store.units {
		stored = u
	}
	if stored.MergedCount != 2 {
		t.Fatalf("merged_count must be 2 after the second source, got %d", stored.MergedCount)
	}
	urls := map[string]bool{}
	for _, s := range stored.Sources {
		urls[s.URL] = true
	}
	if !urls["http://a.example/1"] || !urls["http://b.example/2"] {
		t.Fatalf("both source URLs must be present: %v", urls)
	}
	if len(units) != 1 {
		t.Fatalf("the merged unit must be emitted")
	}
}

func TestSemanticDedupInheritsBestMatchIdentity(t *testing.T) {
	store := newMemInfoStore()
	// S1 scored 0.72 (created yesterday), S2 scored 0.70 (today). The
	// store returns them ranked; the merge must inherit S1's identity.
	s1 := unitWithSources("iu_s1", "old coverage", "first angle.", [4]float64{5, 5, 5, 5}, "http://x/s1")
	s1.CreatedAt = time.Now().Add(-24 * time.Hour)
	s2 := unitWithSources("iu_s2", "newer coverage", "second angle.", [4]float64{5, 5, 5, 5}, "http://x/s2")
	s2.CreatedAt = time.Now()
	store.SaveUnit(context.Background(), s1)
	store.SaveUnit(context.Background(), s2)
	store.similar = []*models.InformationUnit{s1, s2}

	orch := newTestOrchestrator(store, nil, map[string]routedResponse{
		"intelligence extraction":  {content: simpleUnitResponse},
		"consolidation specialist": {content: "garbage"},
	})

	units, err := orch.ProcessArticle(context.Background(), testArticle("http://c.example/3", "Third", "body"), models.ModeStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 {
		t.Fatalf("expected one merged unit")
	}
	if units[0].ID != "iu_s1" || units[0].Fingerprint != s1.Fingerprint {
		t.Fatalf("merged unit must inherit the best match's identity, got %s", units[0].ID)
	}
	if len(units[0].Sources) != 3 {
		t.Fatalf("sources of all merge inputs must union, got %d", len(units[0].Sources))
	}
}

func TestEntityProcessedSetEvenWithoutEntities(t *testing.T) {
	store := newMemInfoStore()
	graph := &memGraph{}
	orch := newTestOrchestrator(store, graph, map[string]routedResponse{
		"intelligence extraction": {content: noEntitiesUnitResponse},
	})

	units, err := orch.ProcessArticle(context.Background(), testArticle("http://d.example/4", "Fourth", "body"), models.ModeStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 {
		t.Fatalf("expected one unit")
	}
	if graph.calls != 0 {
		t.Fatalf("graph must not run for a unit without extracted entities")
	}
	stored := store.units[units[0].ID]
	if !stored.EntityProcessed {
		t.Fatalf("entity_processed must be set even when extraction found no entities")
	}
}

func TestAnalystFailureIsolation(t *testing.T) {
	store := newMemInfoStore()
	report := `{"perspective": "present", "findings": ["f"], "assessment": "ok", "confidence": 0.9}`
	orch := newTestOrchestrator(store, nil, map[string]routedResponse{
		"economist on an analyst team": {err: errors.New("economist exploded")},
		"skeptic on an analyst team":   {content: report},
		"detective on an analyst team": {content: report},
		"news desk assistant":          {content: "{}"},
		"background researcher":        {content: "{}"},
		"editor in chief":              {content: `{"ai_summary": "s", "overall_score": 7.0}`},
	})

	enriched := orch.AnalyzeArticle(context.Background(), testArticle("http://e.example/5", "Fifth", "body"), models.ModeDeep)

	if len(enriched.AnalystReports) != 3 {
		t.Fatalf("all three analyst slots must exist, got %d", len(enriched.AnalystReports))
	}
	if enriched.AnalystReports["economist"].Perspective != "" {
		t.Fatalf("failed analyst's slot must be an empty report")
	}
	if enriched.AnalystReports["skeptic"].Perspective == "" || enriched.AnalystReports["detective"].Perspective == "" {
		t.Fatalf("surviving analysts' outputs must be present")
	}
	if enriched.OverallScore != 7.0 {
		t.Fatalf("pipeline must complete despite the failure, score %v", enriched.OverallScore)
	}
}

func TestProcessArticleIdempotentFingerprints(t *testing.T) {
	store := newMemInfoStore()
	orch := newTestOrchestrator(store, nil, map[string]routedResponse{
		"intelligence extraction":  {content: simpleUnitResponse},
		"consolidation specialist": {content: "garbage"},
	})

	ctx := context.Background()
	article := testArticle("http://f.example/6", "Sixth", "body")
	first, err := orch.ProcessArticle(ctx, article, models.ModeStandard)
	if err != nil {
		t.Fatal(err)
	}
	second, err := orch.ProcessArticle(ctx, article, models.ModeStandard)
	if err != nil {
		t.Fatal(err)
	}
	if first[0].Fingerprint != second[0].Fingerprint {
		t.Fatalf("repeated processing must yield the same fingerprint")
	}
	if len(store.units) != 1 {
		t.Fatalf("second pass must not create new rows")
	}
	stored := store.units[first[0].ID]
	// Same source URL on both passes: the union is still one source.
	if stored.MergedCount != 1 {
		t.Fatalf("re-processing the same article must not inflate merged_count, got %d", stored.MergedCount)
	}
}

func TestAnalyzeArticleDegradesOnTotalFailure(t *testing.T) {
	store := newMemInfoStore()
	orch := newTestOrchestrator(store, nil, map[string]routedResponse{
		"news desk assistant": {err: errors.New("provider down")},
		"editor in chief":     {err: errors.New("provider down")},
	})

	article := testArticle("http://g.example/7", "Seventh", "body")
	enriched := orch.AnalyzeArticle(context.Background(), article, models.ModeQuick)
	if enriched.URL != article.URL {
		t.Fatalf("degraded result must still describe the article")
	}
	if enriched.OverallScore != 5.0 {
		t.Fatalf("degraded result carries the neutral score, got %v", enriched.OverallScore)
	}
}
