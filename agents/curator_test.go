package agents

import (
	"context"
	"testing"

	"github.com/pauldest/newsdigest/models"
)

func scoredUnit(id, title, root string, score float64) *models.InformationUnit {
	return &models.InformationUnit{
		ID:    id,
		Title: title,
		// A uniform score across all four dimensions makes ValueScore
		// equal the score itself (weights sum to 1).
		InformationGain: score,
		Actionability:   score,
		Scarcity:        score,
		ImpactMagnitude: score,
		ImportanceScore: 0.8,
		Summary:         "summary of " + title,
		EntityHierarchy: []models.EntityAnchor{{L1Name: title, L3Root: root}},
	}
}

// fallbackCurator forces the deterministic path by making the model
// response unparseable.
func fallbackCurator(topPicks int) *Curator {
	p := &routedProvider{routes: map[string]routedResponse{
		"intelligence filter": {content: "not json"},
	}}
	return NewCurator(newFastService(p), topPicks, nil)
}

func TestCurateFallbackThresholds(t *testing.T) {
	units := []*models.InformationUnit{
		scoredUnit("u1", "model release shifts benchmarks", "Artificial Intelligence", 9.0),
		scoredUnit("u2", "foundry yield crosses eighty percent", "Semiconductors", 8.5),
		scoredUnit("u3", "sanctions expand to new sectors", "Geopolitics", 8.2),
		scoredUnit("u4", "bank raises deposit rates", "Finance & Banking", 6.0),
		scoredUnit("u5", "platform tweaks feed ordering", "Social Media", 3.0),
	}

	c := fallbackCurator(5)
	result, err := c.Curate(context.Background(), units, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.TopPicks) != 3 {
		t.Fatalf("three units clear the 8.0 bar, got %d top picks", len(result.TopPicks))
	}
	for _, pick := range result.TopPicks {
		if pick.Score < topPickScoreFloor {
			t.Fatalf("top pick below threshold: %+v", pick)
		}
	}

	quickIDs := map[string]bool{}
	for _, q := range result.QuickReads {
		quickIDs[q.ID] = true
		if q.Score < quickReadScoreFloor {
			t.Fatalf("quick read below threshold: %+v", q)
		}
	}
	if !quickIDs["u4"] {
		t.Fatalf("the 6.0 unit belongs in quick reads")
	}
	if quickIDs["u1"] || quickIDs["u2"] || quickIDs["u3"] {
		t.Fatalf("top picks must be excluded from quick reads")
	}

	excluded := map[string]bool{}
	for _, id := range result.ExcludedIDs {
		excluded[id] = true
	}
	if !excluded["u5"] {
		t.Fatalf("the 3.0 unit must land in excluded")
	}
}

func TestCurateFallbackTopKWhenFewCandidates(t *testing.T) {
	// Nobody clears 8.0; the fallback takes top-K by score regardless.
	units := []*models.InformationUnit{
		scoredUnit("u1", "chip packaging update", "Artificial Intelligence", 7.0),
		scoredUnit("u2", "retail margins compress", "Semiconductors", 6.5),
	}
	c := fallbackCurator(5)
	result, err := c.Curate(context.Background(), units, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.TopPicks) != 2 {
		t.Fatalf("with too few high scorers the top-K fallback applies, got %d", len(result.TopPicks))
	}
}

func TestPickDiversePrefersUnrepresentedRoot(t *testing.T) {
	units := []*models.InformationUnit{
		scoredUnit("a1", "ai one", "Artificial Intelligence", 9.0),
		scoredUnit("a2", "ai two", "Artificial Intelligence", 8.5),
		scoredUnit("g1", "geo one", "Geopolitics", 8.5),
	}
	picked := pickDiverse(units, 2)
	if len(picked) != 2 {
		t.Fatalf("expected 2 picks")
	}
	// a2 and g1 tie at 8.5; Geopolitics is unrepresented after a1 wins,
	// so g1 must take the second slot.
	if picked[1].ID != "g1" {
		t.Fatalf("tie must break toward the unrepresented root, got %s", picked[1].ID)
	}
}

func TestCuratePrimaryPathBackfillsMinimumTopPicks(t *testing.T) {
	// The model path succeeds but returns a single pick on a thin day;
	// the curator must still deliver the 3-pick minimum.
	curation := `{
  "daily_summary": "thin day",
  "top_picks": [
    {"id": "u1", "display_title": "headline one", "scores": {"total": 8.2},
     "reasoning": "clears the bar", "presentation": {"summary": "s", "analysis": "a", "impact": "i"}}
  ],
  "quick_reads": [
    {"id": "u2", "display_title": "headline two", "one_line_summary": "line", "total_score": 7.0}
  ]
}`
	p := &routedProvider{routes: map[string]routedResponse{
		"intelligence filter": {content: curation},
	}}
	c := NewCurator(newFastService(p), 5, nil)

	units := []*models.InformationUnit{
		scoredUnit("u1", "model release shifts benchmarks", "Artificial Intelligence", 8.2),
		scoredUnit("u2", "foundry yield crosses eighty percent", "Semiconductors", 7.0),
		scoredUnit("u3", "sanctions expand to new sectors", "Geopolitics", 6.5),
		scoredUnit("u4", "bank raises deposit rates", "Finance & Banking", 6.0),
	}
	result, err := c.Curate(context.Background(), units, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.TopPicks) != 3 {
		t.Fatalf("thin model selection must backfill to 3 top picks, got %d", len(result.TopPicks))
	}
	if result.TopPicks[0].ID != "u1" {
		t.Fatalf("the model's own pick must stay first, got %s", result.TopPicks[0].ID)
	}
	seen := map[string]bool{}
	for _, pick := range result.TopPicks {
		if seen[pick.ID] {
			t.Fatalf("backfill must not duplicate picks: %s", pick.ID)
		}
		seen[pick.ID] = true
	}
	if !seen["u2"] || !seen["u3"] {
		t.Fatalf("backfill must take the highest-scoring remaining candidates: %v", seen)
	}
	for _, q := range result.QuickReads {
		if seen[q.ID] {
			t.Fatalf("a promoted candidate must leave the quick-read list: %s", q.ID)
		}
	}
}

func TestCurateEmptyWindow(t *testing.T) {
	c := fallbackCurator(5)
	result, err := c.Curate(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.TopPicks) != 0 || len(result.QuickReads) != 0 {
		t.Fatalf("empty window must produce an empty digest")
	}
}

func TestTopPickCountBounds(t *testing.T) {
	if c := NewCurator(newFastService(&routedProvider{}), 0, nil); c.topPickCount != 5 {
		t.Fatalf("zero top-pick count must default to 5")
	}
	if c := NewCurator(newFastService(&routedProvider{}), 1, nil); c.topPickCount != 3 {
		t.Fatalf("top-pick count clamps up to 3")
	}
	if c := NewCurator(newFastService(&routedProvider{}), 50, nil); c.topPickCount != 10 {
		t.Fatalf("top-pick count clamps down to 10")
	}
}
