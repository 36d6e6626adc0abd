package agents

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pauldest/newsdigest/internal/helpers"
	"github.com/pauldest/newsdigest/internal/llm"
	"github.com/pauldest/newsdigest/models"
)

const extractorSystemPrompt = `You are an intelligence extraction specialist. Decompose the input
article into independent, atomic, high-value "information units".

An information unit is the smallest self-contained assertion worth sending
to a reader, with its own analysis.

Responsibilities:
1. Atomic split: identify the independent facts, events and opinions.
2. Time tagging: when did each event happen.
3. State classification: what kind of state change each unit asserts.
4. Entity anchoring: file the protagonist entities under preset root categories.
5. Value scoring: score each unit on four dimensions.

Output: a JSON array of units.

Base fields per unit:
- "type": fact | opinion | event | data
- "title": terse headline
- "content": detailed content (~200 words)
- "summary": one-sentence summary

Time fields:
- "event_time": when the event happened (e.g. "2026-01-15")
- "time_sensitivity": urgent | normal | evergreen

Four value scores (1-10):
- "information_gain": 10 = overturns consensus, 5 = expected, 2 = filler
- "actionability": 10 = concrete parameters/dates, 5 = useful reference, 2 = pure mood
- "scarcity": 10 = primary source, 5 = authoritative citation, 2 = re-retelling
- "impact_magnitude": 10 = core player, 5 = sector leader, 2 = fringe

State classification ("state_change_type", pick exactly one):
TECH, CAPITAL, REGULATION, ORG, RISK, SENTIMENT
Also provide "state_change_subtypes" as a list.

Entity anchoring ("entity_hierarchy", required for protagonist entities):
- "l3_root": MUST come from the preset root list given in the user prompt
- "l2_sector": free-form sector placement
- "l1_name": the concrete name from the article
- "l1_role": protagonist | supporting | mentioned
- "confidence": 0-1
An entity spanning several roots gets one record per root.

Analysis fields:
- "analysis_content": substantial interpretation (100-200 words)
- "key_insights": 3-5 insights
- "analysis_depth_score": 0.0-1.0

5W1H: "who" (list), "what", "when", "where", "why", "how"

Knowledge-graph fields:
- "extracted_entities": [{"name", "aliases", "type", "role", "state_change": {"dimension", "delta"}}]
- "extracted_relations": [{"source", "target", "relation", "evidence"}]

Metadata: "extraction_confidence", "credibility_score", "importance_score",
"sentiment", "impact_assessment", "entities", "tags".

Forum posts and Q&A threads are not news: score them low (<=4).`

// Extractor decomposes one article into information units, normalizes the
// scores, validates the entity anchors and fingerprints each unit.
type Extractor struct {
	agent
	roots []string
}

// NewExtractor builds the extractor. roots overrides the preset L3 list;
// empty keeps the default set.
func NewExtractor(svc *llm.Service, roots []string, logger *log.Logger) *Extractor {
	if len(roots) == 0 {
		roots = models.DefaultRootEntities
	}
	return &Extractor{agent: newAgent("Extractor", extractorSystemPrompt, svc, logger), roots: roots}
}

// Fingerprint is the content identity of a unit: md5 over the normalized
// title and content.
func Fingerprint(title, content string) string {
	normalized := normalizeForFingerprint(title) + normalizeForFingerprint(content)
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// UnitID derives the stable unit id from a fingerprint.
func UnitID(fingerprint string) string { return "iu_" + fingerprint[:16] }

func normalizeForFingerprint(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// Process extracts candidate units from the article, consulting analyst
// reports when the context carries them.
func (e *Extractor) Process(ctx context.Context, actx *models.AnalysisContext) models.AgentOutput {
	start := time.Now()
	article := actx.Article

	var reportSection string
	if len(actx.AnalystReports) > 0 {
		reportSection = "\n[CONSULTANT REPORTS]\n" + formatReports(actx.AnalystReports)
	}

	prompt := fmt.Sprintf(`Extract information units from this article.

Preset L3 roots (l3_root MUST be one of these):
%s

[TITLE]
%s

[SOURCE]
%s

[PUBLISHED]
%s

[CONTENT]
%s%s`,
		strings.Join(e.roots, ", "),
		article.Title,
		article.Source,
		formatTime(article.PublishedAt),
		helpers.Truncate(article.Content, 6000),
		reportSection,
	)

	raw, usage, err := e.invokeJSON(ctx, prompt, llm.Options{MaxTokens: 4000, Temperature: llm.Temp(0.3)})
	if err != nil {
		trace := e.trace(start, usage, "Article: "+article.Title, "extraction failed", err.Error())
		actx.AddTrace(trace)
		return models.AgentOutput{Success: false, Trace: trace, Err: err.Error()}
	}

	var items []rawUnit
	if raw != nil {
		if uerr := json.Unmarshal(raw, &items); uerr != nil {
			// Some models wrap the list in an object.
			var wrapped struct {
				Units []rawUnit `json:"units"`
			}
			if json.Unmarshal(raw, &wrapped) == nil {
				items = wrapped.Units
			}
		}
	}

	units := make([]*models.InformationUnit, 0, len(items))
	for _, item := range items {
		unit, perr := e.parseUnit(item, article)
		if perr != nil {
			e.logger.Printf("unit parse failed: %v", perr)
			continue
		}
		units = append(units, unit)
	}

	trace := e.trace(start, usage, "Article: "+article.Title,
		fmt.Sprintf("extracted %d units", len(units)), "")
	actx.AddTrace(trace)
	return models.AgentOutput{Success: true, Data: units, Trace: trace}
}

// rawUnit tolerates the loose typing of model output; fields are coerced
// during parsing, unknown fields ignored.
type rawUnit struct {
	Type                string                     `json:"type"`
	Title               string                     `json:"title"`
	Content             string                     `json:"content"`
	Summary             string                     `json:"summary"`
	EventTime           string                     `json:"event_time"`
	TimeSensitivity     string                     `json:"time_sensitivity"`
	AnalysisContent     string                     `json:"analysis_content"`
	KeyInsights         []string                   `json:"key_insights"`
	AnalysisDepthScore  float64                    `json:"analysis_depth_score"`
	InformationGain     float64                    `json:"information_gain"`
	Actionability       float64                    `json:"actionability"`
	Scarcity            float64                    `json:"scarcity"`
	ImpactMagnitude     float64                    `json:"impact_magnitude"`
	StateChangeType     string                     `json:"state_change_type"`
	StateChangeSubtypes []string                   `json:"state_change_subtypes"`
	EntityHierarchy     []models.EntityAnchor      `json:"entity_hierarchy"`
	Who                 json.RawMessage            `json:"who"`
	What                string                     `json:"what"`
	When                string                     `json:"when"`
	Where               string                     `json:"where"`
	Why                 string                     `json:"why"`
	How                 string                     `json:"how"`
	ExtractionConf      float64                    `json:"extraction_confidence"`
	CredibilityScore    float64                    `json:"credibility_score"`
	ImportanceScore     float64                    `json:"importance_score"`
	Sentiment           string                     `json:"sentiment"`
	ImpactAssessment    string                     `json:"impact_assessment"`
	Entities            []models.SimpleEntity      `json:"entities"`
	Tags                []string                   `json:"tags"`
	ExtractedEntities   []models.ExtractedEntity   `json:"extracted_entities"`
	ExtractedRelations  []models.ExtractedRelation `json:"extracted_relations"`
}

func (e *Extractor) parseUnit(item rawUnit, article models.Article) (*models.InformationUnit, error) {
	title := item.Title
	if title == "" {
		title = article.Title
	}
	content := item.Content
	if content == "" {
		content = article.Content
	}
	if title == "" && content == "" {
		return nil, fmt.Errorf("empty unit")
	}

	fingerprint := Fingerprint(title, content)

	// Validate the L3 anchors against the preset roots.
	hierarchy := make([]models.EntityAnchor, 0, len(item.EntityHierarchy))
	for _, anchor := range item.EntityHierarchy {
		anchor.L3Root = models.MapRootEntity(anchor.L3Root, e.roots)
		if anchor.L1Role == "" {
			anchor.L1Role = "protagonist"
		}
		if anchor.Confidence <= 0 {
			anchor.Confidence = 0.8
		}
		hierarchy = append(hierarchy, anchor)
	}

	stateType := strings.ToUpper(strings.TrimSpace(item.StateChangeType))
	valid := false
	for _, t := range models.StateChangeTypes {
		if stateType == t {
			valid = true
			break
		}
	}
	if !valid {
		stateType = ""
	}

	unitType := models.InformationType(strings.ToLower(item.Type))
	switch unitType {
	case models.TypeFact, models.TypeOpinion, models.TypeEvent, models.TypeData:
	default:
		unitType = models.TypeFact
	}

	sentiment := item.Sentiment
	if sentiment == "" {
		sentiment = "neutral"
	}
	timeSensitivity := item.TimeSensitivity
	switch timeSensitivity {
	case "urgent", "normal", "evergreen":
	default:
		timeSensitivity = "normal"
	}

	eventTime := item.EventTime
	if eventTime == "" {
		eventTime = item.When
	}

	now := article.FetchedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	unit := &models.InformationUnit{
		ID:          UnitID(fingerprint),
		Fingerprint: fingerprint,
		Type:        unitType,
		Title:       title,
		Content:     content,
		Summary:     item.Summary,

		EventTime:       eventTime,
		ReportTime:      article.PublishedAt,
		TimeSensitivity: timeSensitivity,

		AnalysisContent:    item.AnalysisContent,
		KeyInsights:        item.KeyInsights,
		AnalysisDepthScore: clamp01(item.AnalysisDepthScore, 0.5),

		InformationGain: models.ClampScore(item.InformationGain, 5.0),
		Actionability:   models.ClampScore(item.Actionability, 5.0),
		Scarcity:        models.ClampScore(item.Scarcity, 5.0),
		ImpactMagnitude: models.ClampScore(item.ImpactMagnitude, 5.0),

		StateChangeType:     stateType,
		StateChangeSubtypes: item.StateChangeSubtypes,
		EntityHierarchy:     hierarchy,

		Who:   parseWho(item.Who),
		What:  item.What,
		When:  item.When,
		Where: item.Where,
		Why:   item.Why,
		How:   item.How,

		PrimarySource:        article.URL,
		ExtractionConfidence: clamp01(item.ExtractionConf, 0.8),
		CredibilityScore:     clamp01(item.CredibilityScore, 0.5),
		ImportanceScore:      clamp01(item.ImportanceScore, 0.5),
		Sentiment:            sentiment,
		ImpactAssessment:     item.ImpactAssessment,

		Entities: item.Entities,
		Tags:     item.Tags,

		ExtractedEntities:  item.ExtractedEntities,
		ExtractedRelations: item.ExtractedRelations,

		CreatedAt:   now,
		UpdatedAt:   now,
		MergedCount: 1,
	}

	unit.Sources = []models.SourceReference{{
		URL:             article.URL,
		Title:           article.Title,
		SourceName:      article.Source,
		PublishedAt:     article.PublishedAt,
		Excerpt:         helpers.Truncate(article.Summary, 200),
		CredibilityTier: "unknown",
	}}

	return unit, nil
}

// parseWho tolerates "who" arriving as a string or a list.
func parseWho(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return list
	}
	var single string
	if json.Unmarshal(raw, &single) == nil && single != "" {
		return []string{single}
	}
	return nil
}

func clamp01(v, def float64) float64 {
	if v == 0 {
		return def
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.Format(time.RFC3339)
}
