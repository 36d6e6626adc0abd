package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pauldest/newsdigest/internal/helpers"
	"github.com/pauldest/newsdigest/internal/llm"
	"github.com/pauldest/newsdigest/models"
)

const mergerSystemPrompt = `You are an information consolidation specialist. Merge several
information units reporting the same story into one authoritative version.

Rules:
1. Combine factual detail: if source A has the date and source B the
   location, the merged unit has both.
2. Conflicts: when sources disagree on facts, say so explicitly in the
   content and attribute each version.
3. Rework the analysis into one coherent piece; keep the forward-looking
   insights, drop repetition.
4. Re-evaluate credibility (multi-source confirmation usually raises it)
   and analysis depth.

Output one JSON object with: "title", "content", "summary",
"analysis_content", "key_insights", "analysis_depth_score", "who", "what",
"when", "where", "why", "how", "credibility_score", "importance_score",
"impact_assessment", "sentiment", "tags".

Ignore "sources" and "id": identity and provenance are handled outside.`

// Merger collapses several units about the same story into one. The first
// input is the retained identity; content merges through the model with a
// deterministic sentence-union fallback. Source lists always union by URL
// and merged_count is the unique-source count.
type Merger struct {
	agent
}

// NewMerger builds the merger.
func NewMerger(svc *llm.Service, logger *log.Logger) *Merger {
	return &Merger{agent: newAgent("Merger", mergerSystemPrompt, svc, logger)}
}

// Merge merges units into a single unit preserving the first unit's id and
// fingerprint.
func (m *Merger) Merge(ctx context.Context, units []*models.InformationUnit) (*models.InformationUnit, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("no units to merge")
	}
	if len(units) == 1 {
		return units[0], nil
	}

	base := *units[0]
	merged := &base

	payload := make([]map[string]any, 0, len(units))
	for _, u := range units {
		payload = append(payload, map[string]any{
			"title":            u.Title,
			"content":          helpers.Truncate(u.Content, 1500),
			"analysis_content": helpers.Truncate(u.AnalysisContent, 800),
			"key_insights":     u.KeyInsights,
			"source_count":     u.SourceCount(),
			"credibility":      u.CredibilityScore,
		})
	}
	payloadJSON, _ := json.MarshalIndent(payload, "", "  ")

	prompt := fmt.Sprintf("Merge these %d information units:\n\n%s", len(units), payloadJSON)
	raw, _, err := m.invokeJSON(ctx, prompt, llm.Options{MaxTokens: 2000, Temperature: llm.Temp(0.2)})
	if err != nil || raw == nil {
		if err != nil {
			m.logger.Printf("model merge failed, using deterministic fallback: %v", err)
		}
		m.fallbackMerge(merged, units)
	} else {
		var result struct {
			Title              string   `json:"title"`
			Content            string   `json:"content"`
			Summary            string   `json:"summary"`
			AnalysisContent    string   `json:"analysis_content"`
			KeyInsights        []string `json:"key_insights"`
			AnalysisDepthScore float64  `json:"analysis_depth_score"`
			Who                []string `json:"who"`
			What               string   `json:"what"`
			When               string   `json:"when"`
			Where              string   `json:"where"`
			Why                string   `json:"why"`
			How                string   `json:"how"`
			CredibilityScore   float64  `json:"credibility_score"`
			ImportanceScore    float64  `json:"importance_score"`
			ImpactAssessment   string   `json:"impact_assessment"`
			Sentiment          string   `json:"sentiment"`
			Tags               []string `json:"tags"`
		}
		if uerr := json.Unmarshal(raw, &result); uerr != nil {
			m.fallbackMerge(merged, units)
		} else {
			if result.Title != "" {
				merged.Title = result.Title
			}
			if result.Content != "" {
				merged.Content = result.Content
			}
			if result.Summary != "" {
				merged.Summary = result.Summary
			}
			if result.AnalysisContent != "" {
				merged.AnalysisContent = result.AnalysisContent
			}
			if len(result.KeyInsights) > 0 {
				merged.KeyInsights = helpers.UnionStrings(result.KeyInsights)
			}
			if result.AnalysisDepthScore > 0 {
				merged.AnalysisDepthScore = result.AnalysisDepthScore
			}
			if len(result.Who) > 0 {
				merged.Who = result.Who
			}
			if result.What != "" {
				merged.What = result.What
			}
			if result.When != "" {
				merged.When = result.When
			}
			if result.Where != "" {
				merged.Where = result.Where
			}
			if result.Why != "" {
				merged.Why = result.Why
			}
			if result.How != "" {
				merged.How = result.How
			}
			if result.CredibilityScore > 0 {
				merged.CredibilityScore = result.CredibilityScore
			}
			if result.ImportanceScore > 0 {
				merged.ImportanceScore = result.ImportanceScore
			}
			if result.ImpactAssessment != "" {
				merged.ImpactAssessment = result.ImpactAssessment
			}
			if result.Sentiment != "" {
				merged.Sentiment = result.Sentiment
			}
			merged.Tags = helpers.UnionStrings(merged.Tags, result.Tags)
		}
	}

	m.mergeScores(merged, units)
	m.mergeSources(merged, units)
	m.mergeGraphCandidates(merged, units)
	merged.UpdatedAt = time.Now().UTC()

	return merged, nil
}

// fallbackMerge is the deterministic path: sentence-union content,
// insight union, widest summary.
func (m *Merger) fallbackMerge(merged *models.InformationUnit, units []*models.InformationUnit) {
	contents := make([]string, 0, len(units))
	insightLists := make([][]string, 0, len(units))
	for _, u := range units {
		contents = append(contents, u.Content)
		insightLists = append(insightLists, u.KeyInsights)
	}
	merged.Content = helpers.SentenceUnion(contents...)
	merged.KeyInsights = helpers.UnionStrings(insightLists...)
	for _, u := range units {
		if len(u.Summary) > len(merged.Summary) {
			merged.Summary = u.Summary
		}
	}
}

// mergeScores applies the scoring rules: information_gain and
// actionability are scarcity-weighted averages; scarcity and
// impact_magnitude take the max.
func (m *Merger) mergeScores(merged *models.InformationUnit, units []*models.InformationUnit) {
	var weightSum, gainSum, actionSum, maxScarcity, maxImpact float64
	for _, u := range units {
		w := u.Scarcity
		if w <= 0 {
			w = 1
		}
		weightSum += w
		gainSum += u.InformationGain * w
		actionSum += u.Actionability * w
		if u.Scarcity > maxScarcity {
			maxScarcity = u.Scarcity
		}
		if u.ImpactMagnitude > maxImpact {
			maxImpact = u.ImpactMagnitude
		}
	}
	if weightSum > 0 {
		merged.InformationGain = models.ClampScore(gainSum/weightSum, merged.InformationGain)
		merged.Actionability = models.ClampScore(actionSum/weightSum, merged.Actionability)
	}
	merged.Scarcity = models.ClampScore(maxScarcity, merged.Scarcity)
	merged.ImpactMagnitude = models.ClampScore(maxImpact, merged.ImpactMagnitude)
}

// mergeSources unions all inputs' sources by URL. merged_count is the
// unique-source count, never the sum of prior counts.
func (m *Merger) mergeSources(merged *models.InformationUnit, units []*models.InformationUnit) {
	var all []models.SourceReference
	for _, u := range units {
		all = append(all, u.Sources...)
	}
	merged.Sources = all
	merged.DedupSources()
}

func (m *Merger) mergeGraphCandidates(merged *models.InformationUnit, units []*models.InformationUnit) {
	seenEnt := map[string]struct{}{}
	seenRel := map[string]struct{}{}
	var ents []models.ExtractedEntity
	var rels []models.ExtractedRelation
	for _, u := range units {
		for _, e := range u.ExtractedEntities {
			if _, ok := seenEnt[e.Name]; ok || e.Name == "" {
				continue
			}
			seenEnt[e.Name] = struct{}{}
			ents = append(ents, e)
		}
		for _, r := range u.ExtractedRelations {
			key := r.Source + "|" + r.Target + "|" + r.Relation
			if _, ok := seenRel[key]; ok {
				continue
			}
			seenRel[key] = struct{}{}
			rels = append(rels, r)
		}
	}
	merged.ExtractedEntities = ents
	merged.ExtractedRelations = rels
}
