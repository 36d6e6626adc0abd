package models

import (
	"testing"
	"time"
)

func TestValueScoreWeights(t *testing.T) {
	u := InformationUnit{InformationGain: 10, Actionability: 10, Scarcity: 10, ImpactMagnitude: 10}
	if got := u.ValueScore(); got != 10 {
		t.Fatalf("uniform 10s must aggregate to 10, got %v", got)
	}

	u = InformationUnit{InformationGain: 8, Actionability: 6, Scarcity: 4, ImpactMagnitude: 2}
	want := 8*0.30 + 6*0.25 + 4*0.20 + 2*0.25
	if diff := u.ValueScore() - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("weighted aggregate: want %v, got %v", want, u.ValueScore())
	}
}

func TestClampScore(t *testing.T) {
	cases := []struct {
		in, def, want float64
	}{
		{0.85, 5, 8.5}, // unit-interval input rescales
		{7, 5, 7},
		{11, 5, 10},  // clamp high
		{-2, 5, 1},   // clamp low
		{0, 5, 5},    // missing takes default
		{1, 5, 10},   // 1.0 reads as a unit-interval score
		{0.05, 5, 1}, // rescaled then floored
	}
	for _, tc := range cases {
		if got := ClampScore(tc.in, tc.def); got != tc.want {
			t.Errorf("ClampScore(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDedupSourcesInvariant(t *testing.T) {
	u := InformationUnit{Sources: []SourceReference{
		{URL: "http://x/a", Title: "first"},
		{URL: "http://x/b"},
		{URL: "http://x/a", Title: "later duplicate"},
	}}
	u.DedupSources()
	if len(u.Sources) != 2 {
		t.Fatalf("sources must dedupe by URL, got %d", len(u.Sources))
	}
	if u.Sources[0].Title != "first" {
		t.Fatalf("first occurrence wins")
	}
	if u.MergedCount != len(u.Sources) {
		t.Fatalf("merged_count must track unique sources: %d vs %d", u.MergedCount, len(u.Sources))
	}
}

func TestMergeSourceSkipsKnownURL(t *testing.T) {
	u := InformationUnit{Sources: []SourceReference{{URL: "http://x/a"}}}
	u.MergeSource(SourceReference{URL: "http://x/a", Title: "dup"})
	u.MergeSource(SourceReference{URL: "http://x/b"})
	if len(u.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(u.Sources))
	}
}

func TestParseEventTime(t *testing.T) {
	if got := ParseEventTime("2026-07-30"); got == nil || got.Year() != 2026 {
		t.Fatalf("absolute dates must parse: %v", got)
	}
	if got := ParseEventTime("last Tuesday"); got != nil {
		t.Fatalf("relative phrases stay nil, got %v", got)
	}
	if got := ParseEventTime(""); got != nil {
		t.Fatalf("empty stays nil")
	}
	if got := ParseEventTime("2026-07-30T10:00:00Z"); got == nil || !got.Equal(time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("RFC3339 must parse: %v", got)
	}
}

func TestParseEntityType(t *testing.T) {
	if ParseEntityType("person") != EntityPerson {
		t.Fatalf("case-insensitive type parse failed")
	}
	if ParseEntityType("galaxy") != EntityCompany {
		t.Fatalf("unknown types default to COMPANY")
	}
}

func TestParseRelationType(t *testing.T) {
	if rt, ok := ParseRelationType("COMPETITOR"); !ok || rt != RelCompetitor {
		t.Fatalf("relation parse failed: %v %v", rt, ok)
	}
	if _, ok := ParseRelationType("frenemy"); ok {
		t.Fatalf("unknown relations must report !ok")
	}
}
