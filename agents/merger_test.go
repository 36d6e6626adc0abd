package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/pauldest/newsdigest/models"
)

func unitWithSources(id, title, content string, scores [4]float64, urls ...string) *models.InformationUnit {
	u := &models.InformationUnit{
		ID:              id,
		Fingerprint:     Fingerprint(title, content),
		Type:            models.TypeFact,
		Title:           title,
		Content:         content,
		InformationGain: scores[0],
		Actionability:   scores[1],
		Scarcity:        scores[2],
		ImpactMagnitude: scores[3],
	}
	for _, url := range urls {
		u.Sources = append(u.Sources, models.SourceReference{URL: url, Title: title})
	}
	u.MergedCount = len(u.Sources)
	return u
}

// fallbackMerger uses a provider whose merge responses never parse, so the
// deterministic path runs.
func fallbackMerger() *Merger {
	p := &routedProvider{routes: map[string]routedResponse{
		"consolidation specialist": {content: "not json at all"},
	}}
	return NewMerger(newFastService(p), nil)
}

func TestMergePreservesPrimaryIdentity(t *testing.T) {
	m := fallbackMerger()
	a := unitWithSources("iu_a", "story one", "alpha fact.", [4]float64{5, 5, 5, 5}, "http://x/a")
	b := unitWithSources("iu_b", "story one again", "beta fact.", [4]float64{5, 5, 5, 5}, "http://x/b")

	merged, err := m.Merge(context.Background(), []*models.InformationUnit{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if merged.ID != "iu_a" || merged.Fingerprint != a.Fingerprint {
		t.Fatalf("first input's identity must be retained: %s/%s", merged.ID, merged.Fingerprint)
	}
}

func TestMergedCountIsUniqueSourceCount(t *testing.T) {
	m := fallbackMerger()
	// Both units cite http://x/shared; a sums to 2 sources, b to 2, one
	// URL overlapping. Prior merged counts must NOT be summed.
	a := unitWithSources("iu_a", "t", "c1.", [4]float64{5, 5, 5, 5}, "http://x/shared", "http://x/a")
	b := unitWithSources("iu_b", "t2", "c2.", [4]float64{5, 5, 5, 5}, "http://x/shared", "http://x/b")
	a.MergedCount = 7 // stale value; the merge must recompute

	merged, err := m.Merge(context.Background(), []*models.InformationUnit{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if len(merged.Sources) != 3 {
		t.Fatalf("sources must union by URL: want 3, got %d", len(merged.Sources))
	}
	if merged.MergedCount != 3 {
		t.Fatalf("merged_count must equal unique source count: want 3, got %d", merged.MergedCount)
	}
}

func TestMergeScoreRules(t *testing.T) {
	m := fallbackMerger()
	a := unitWithSources("iu_a", "t", "c1.", [4]float64{8, 6, 10, 4}, "http://x/a")
	b := unitWithSources("iu_b", "t", "c2.", [4]float64{4, 8, 5, 9}, "http://x/b")

	merged, err := m.Merge(context.Background(), []*models.InformationUnit{a, b})
	if err != nil {
		t.Fatal(err)
	}

	// gain = (8*10 + 4*5) / 15, actionability = (6*10 + 8*5) / 15
	wantGain := (8.0*10 + 4.0*5) / 15.0
	wantAction := (6.0*10 + 8.0*5) / 15.0
	if diff := merged.InformationGain - wantGain; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("information_gain: want %f, got %f", wantGain, merged.InformationGain)
	}
	if diff := merged.Actionability - wantAction; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("actionability: want %f, got %f", wantAction, merged.Actionability)
	}
	if merged.Scarcity != 10 {
		t.Fatalf("scarcity must take the max, got %f", merged.Scarcity)
	}
	if merged.ImpactMagnitude != 9 {
		t.Fatalf("impact must take the max, got %f", merged.ImpactMagnitude)
	}
}

func TestMergeSentenceUnionDropsDuplicates(t *testing.T) {
	m := fallbackMerger()
	a := unitWithSources("iu_a", "t", "The deal closed Friday. Terms were not disclosed.", [4]float64{5, 5, 5, 5}, "http://x/a")
	b := unitWithSources("iu_b", "t", "Terms were not disclosed. The buyer is a private fund.", [4]float64{5, 5, 5, 5}, "http://x/b")

	merged, err := m.Merge(context.Background(), []*models.InformationUnit{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(merged.Content, "Terms were not disclosed.") != 1 {
		t.Fatalf("duplicate sentences must collapse: %q", merged.Content)
	}
	if !strings.Contains(merged.Content, "The deal closed Friday.") ||
		!strings.Contains(merged.Content, "The buyer is a private fund.") {
		t.Fatalf("union must keep sentences from both inputs: %q", merged.Content)
	}
}

func TestMergeSingleUnitPassthrough(t *testing.T) {
	m := fallbackMerger()
	a := unitWithSources("iu_a", "t", "c.", [4]float64{5, 5, 5, 5}, "http://x/a")
	merged, err := m.Merge(context.Background(), []*models.InformationUnit{a})
	if err != nil {
		t.Fatal(err)
	}
	if merged != a {
		t.Fatalf("single input must pass through unchanged")
	}
}

func TestMergeEmptyInputFails(t *testing.T) {
	m := fallbackMerger()
	if _, err := m.Merge(context.Background(), nil); err == nil {
		t.Fatalf("merging zero units must fail")
	}
}
