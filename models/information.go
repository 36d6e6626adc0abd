package models

import (
	"strings"
	"time"
)

// InformationType classifies what kind of assertion a unit carries.
type InformationType string

const (
	TypeFact    InformationType = "fact"
	TypeOpinion InformationType = "opinion"
	TypeEvent   InformationType = "event"
	TypeData    InformationType = "data"
)

// State-change dimensions (the six-way HEX classification).
const (
	StateTech       = "TECH"
	StateCapital    = "CAPITAL"
	StateRegulation = "REGULATION"
	StateOrg        = "ORG"
	StateRisk       = "RISK"
	StateSentiment  = "SENTIMENT"
)

// StateChangeTypes lists the valid HEX dimensions. Anything else maps to "".
var StateChangeTypes = []string{
	StateTech, StateCapital, StateRegulation, StateOrg, StateRisk, StateSentiment,
}

// DefaultRootEntities is the preset L3 root-category set. It is the
// fallback when config does not override the list; an anchor whose root
// matches none of these (even by substring) is filed under RootOther.
var DefaultRootEntities = []string{
	"Artificial Intelligence",
	"Semiconductors",
	"Consumer Electronics",
	"Cloud & Data Centers",
	"Software & Dev Tools",
	"Blockchain & Crypto",
	"Cybersecurity",
	"E-commerce & Retail",
	"Social Media",
	"Gaming & Entertainment",
	"Content & Streaming",
	"Finance & Banking",
	"Automotive & Mobility",
	"Energy & Environment",
	"Healthcare & Biotech",
	"Manufacturing & Industry",
	"Macroeconomics",
	"Geopolitics",
}

// RootOther is the catch-all L3 category.
const RootOther = "Other"

// MapRootEntity validates an L3 root against the preset list. Unknown
// values get one case-insensitive substring pass before falling back to
// RootOther.
func MapRootEntity(root string, presets []string) string {
	root = strings.TrimSpace(root)
	if root == "" {
		return RootOther
	}
	if len(presets) == 0 {
		presets = DefaultRootEntities
	}
	for _, p := range presets {
		if strings.EqualFold(root, p) {
			return p
		}
	}
	lower := strings.ToLower(root)
	for _, p := range presets {
		pl := strings.ToLower(p)
		if strings.Contains(pl, lower) || strings.Contains(lower, pl) {
			return p
		}
	}
	return RootOther
}

// SourceReference tracks the original outlet of a unit. Equality is by URL
// only.
type SourceReference struct {
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	SourceName      string     `json:"source_name"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	Excerpt         string     `json:"excerpt"`
	CredibilityTier string     `json:"credibility_tier"`
}

// EntityAnchor is a three-tier anchor: L1 leaf name, L2 sector, L3 root.
type EntityAnchor struct {
	L1Name     string  `json:"l1_name"`
	L1Role     string  `json:"l1_role"`
	L2Sector   string  `json:"l2_sector"`
	L3Root     string  `json:"l3_root"`
	Confidence float64 `json:"confidence"`
}

// InformationUnit is the atomic assertion extracted from an article: the
// unit of deduplication, merging, scoring and curation. Its fingerprint
// (md5 of normalized title + content) is its identity.
type InformationUnit struct {
	ID          string          `json:"id"`
	Fingerprint string          `json:"fingerprint"`

	Type    InformationType `json:"type"`
	Title   string          `json:"title"`
	Content string          `json:"content"`
	Summary string          `json:"summary"`

	EventTime       string     `json:"event_time,omitempty"` // may be relative ("last Tuesday")
	ReportTime      *time.Time `json:"report_time,omitempty"`
	TimeSensitivity string     `json:"time_sensitivity"` // urgent, normal, evergreen

	AnalysisContent    string   `json:"analysis_content"`
	KeyInsights        []string `json:"key_insights"`
	AnalysisDepthScore float64  `json:"analysis_depth_score"`

	// Four value dimensions, each clamped to [1,10].
	InformationGain float64 `json:"information_gain"`
	Actionability   float64 `json:"actionability"`
	Scarcity        float64 `json:"scarcity"`
	ImpactMagnitude float64 `json:"impact_magnitude"`

	StateChangeType     string   `json:"state_change_type"`
	StateChangeSubtypes []string `json:"state_change_subtypes,omitempty"`

	EntityHierarchy []EntityAnchor `json:"entity_hierarchy,omitempty"`

	Who   []string `json:"who"`
	What  string   `json:"what"`
	When  string   `json:"when"`
	Where string   `json:"where"`
	Why   string   `json:"why"`
	How   string   `json:"how"`

	Sources              []SourceReference `json:"sources"`
	PrimarySource        string            `json:"primary_source"`
	ExtractionConfidence float64           `json:"extraction_confidence"`

	CredibilityScore float64 `json:"credibility_score"`
	ImportanceScore  float64 `json:"importance_score"`
	Sentiment        string  `json:"sentiment"`
	ImpactAssessment string  `json:"impact_assessment"`

	RelatedUnitIDs []string       `json:"related_unit_ids,omitempty"`
	Entities       []SimpleEntity `json:"entities,omitempty"`
	Tags           []string       `json:"tags,omitempty"`

	// Raw knowledge-graph candidates carried until the entity store
	// consumes them; not persisted with the unit row.
	ExtractedEntities  []ExtractedEntity   `json:"extracted_entities,omitempty"`
	ExtractedRelations []ExtractedRelation `json:"extracted_relations,omitempty"`

	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	MergedCount     int       `json:"merged_count"`
	IsSent          bool      `json:"is_sent"`
	EntityProcessed bool      `json:"entity_processed"`
}

// ValueScore is the weighted aggregate of the four dimensions, range [0,10].
// Derived, never stored.
func (u *InformationUnit) ValueScore() float64 {
	return u.InformationGain*0.30 +
		u.Actionability*0.25 +
		u.Scarcity*0.20 +
		u.ImpactMagnitude*0.25
}

// SourceCount reports how many distinct sources back the unit.
func (u *InformationUnit) SourceCount() int { return len(u.Sources) }

// MergeSource appends a source unless its URL is already present.
func (u *InformationUnit) MergeSource(ref SourceReference) {
	for _, s := range u.Sources {
		if s.URL == ref.URL {
			return
		}
	}
	u.Sources = append(u.Sources, ref)
}

// DedupSources collapses the source list by URL, first occurrence wins,
// and resyncs MergedCount with the invariant merged_count == |sources|.
func (u *InformationUnit) DedupSources() {
	seen := make(map[string]struct{}, len(u.Sources))
	out := u.Sources[:0]
	for _, s := range u.Sources {
		if _, ok := seen[s.URL]; ok {
			continue
		}
		seen[s.URL] = struct{}{}
		out = append(out, s)
	}
	u.Sources = out
	u.MergedCount = len(u.Sources)
}

// ParseEventTime anchors an event-time string to a timestamp when it uses
// a recognizable absolute format. Relative phrases return nil.
func ParseEventTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02",
		"2006/01/02", "Jan 2, 2006", "January 2, 2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// ClampScore repairs a raw LLM score: values in (0,1] are treated as a
// unit-interval score and rescaled to the 1-10 band, everything is then
// clamped to [1,10]. Zero (a missing score) takes def; negative input
// clamps to 1.
func ClampScore(v, def float64) float64 {
	if v == 0 {
		return def
	}
	if v > 0 && v <= 1 {
		v *= 10
	}
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
