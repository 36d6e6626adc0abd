package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/pauldest/newsdigest/internal/helpers"
	"github.com/pauldest/newsdigest/internal/llm"
	"github.com/pauldest/newsdigest/models"
)

const curatorSystemPrompt = `You are a cold, rational intelligence filter. Your job is to find the
1% of high-value signal in a pile of noise.

Value model, four dimensions:
1. Information gain (weight 30%): does this break known consensus?
2. Actionability (weight 25%): can a reader decide something after it?
3. Scarcity (weight 20%): primary source or third-hand retelling?
4. Impact magnitude (weight 25%): how heavy is the actor involved?

High value (8-10): surprising, concrete numbers and dates, explains the
why, predictive for the next quarter.
Low value (0-3): adjectives without data, repetition of known facts,
vague attributions, forum chatter.

You also receive recently sent items; exclude candidates that retell them.

Output strictly this JSON shape:
{
  "daily_summary": "one-line lede for the day",
  "top_picks": [
    {
      "id": "unit_id",
      "display_title": "sharpened headline",
      "event_time": "when it happened",
      "scores": {"information_gain": 8.5, "actionability": 7.0, "scarcity": 9.0, "impact_magnitude": 8.0, "total": 8.1},
      "reasoning": "why it made the cut",
      "presentation": {"summary": "2-3 sentence factual summary", "analysis": "100-200 word why-it-matters", "impact": "1-2 sentence consequence"}
    }
  ],
  "quick_reads": [
    {"id": "unit_id", "display_title": "headline", "one_line_summary": "one line", "total_score": 6.5}
  ]
}

Hard limits: top picks need total >= 8.0; quick reads 5.0-7.9; one entry
per underlying event, highest score wins.`

// CuratedPick is one top-billing digest entry.
type CuratedPick struct {
	ID           string  `json:"id"`
	DisplayTitle string  `json:"display_title"`
	EventTime    string  `json:"event_time"`
	Score        float64 `json:"score"`
	Reasoning    string  `json:"reasoning"`
	Summary      string  `json:"summary"`
	Analysis     string  `json:"analysis"`
	Impact       string  `json:"impact"`
}

// CuratedQuick is one quick-read entry.
type CuratedQuick struct {
	ID           string  `json:"id"`
	DisplayTitle string  `json:"display_title"`
	OneLine      string  `json:"one_line_summary"`
	Score        float64 `json:"total_score"`
}

// CurationResult is the curator output for one digest window.
type CurationResult struct {
	DailySummary string
	TopPicks     []CuratedPick
	QuickReads   []CuratedQuick
	ExcludedIDs  []string
}

// Curation thresholds.
const (
	topPickScoreFloor   = 8.0
	quickReadScoreFloor = 5.0
	minTopPicks         = 3
	maxQuickReads       = 20
	curatorCandidateCap = 25
	recentSentWindow    = 20
)

// Curator selects and ranks unsent units for a digest window: local
// prefilter and dedup, LLM curation with diversity and history avoidance,
// plain top-K fallback when the model path fails.
type Curator struct {
	agent
	topPickCount int
}

// NewCurator builds the curator. topPickCount bounds top billing (3..10,
// default 5).
func NewCurator(svc *llm.Service, topPickCount int, logger *log.Logger) *Curator {
	if topPickCount <= 0 {
		topPickCount = 5
	}
	if topPickCount < 3 {
		topPickCount = 3
	}
	if topPickCount > 10 {
		topPickCount = 10
	}
	return &Curator{agent: newAgent("InfoCurator", curatorSystemPrompt, svc, logger), topPickCount: topPickCount}
}

// RecentItem is a previously sent headline the curator must avoid
// repeating.
type RecentItem struct {
	Title   string
	Summary string
}

// Curate picks the digest contents from the unsent units.
func (c *Curator) Curate(ctx context.Context, units []*models.InformationUnit, recentlySent []RecentItem) (*CurationResult, error) {
	if len(units) == 0 {
		return &CurationResult{DailySummary: "No new items in this window."}, nil
	}

	filtered := c.prefilter(units)
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ValueScore() > filtered[j].ValueScore()
	})
	unique := c.localDedup(filtered)

	candidates := unique
	if len(candidates) > curatorCandidateCap {
		candidates = candidates[:curatorCandidateCap]
	}

	result, err := c.curateWithModel(ctx, candidates, recentlySent)
	if err != nil || result == nil {
		if err != nil {
			c.logger.Printf("model curation failed, using fallback: %v", err)
		}
		result = c.fallbackCuration(unique)
	}

	c.enforceLimits(result)
	c.markExcluded(result, units)
	return result, nil
}

// prefilter drops content the digest never wants: Q&A chatter and units
// whose scores sit on the floor.
func (c *Curator) prefilter(units []*models.InformationUnit) []*models.InformationUnit {
	irrelevant := []string{"how do i", "help me", "question:", "looking for advice", "[ask hn]"}
	var out []*models.InformationUnit
	for _, u := range units {
		title := strings.ToLower(u.Title)
		skip := false
		for _, kw := range irrelevant {
			if strings.Contains(title, kw) {
				skip = true
				break
			}
		}
		if !skip && u.ImportanceScore < 0.5 && u.AnalysisDepthScore < 0.5 && u.ValueScore() < quickReadScoreFloor {
			skip = true
		}
		if !skip {
			out = append(out, u)
		}
	}
	return out
}

// localDedup collapses near-identical titles before the model sees them,
// keeping the higher-scoring unit.
func (c *Curator) localDedup(units []*models.InformationUnit) []*models.InformationUnit {
	var unique []*models.InformationUnit
	for _, u := range units {
		dup := false
		for i, existing := range unique {
			if titleSimilarity(u.Title, existing.Title) > 0.6 {
				dup = true
				if u.ValueScore() > existing.ValueScore() {
					unique[i] = u
				}
				break
			}
		}
		if !dup {
			unique = append(unique, u)
		}
	}
	return unique
}

func (c *Curator) curateWithModel(ctx context.Context, candidates []*models.InformationUnit, recentlySent []RecentItem) (*CurationResult, error) {
	type candidateJSON struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		Source      string   `json:"source"`
		EventTime   string   `json:"event_time"`
		L3Root      string   `json:"l3_root"`
		Summary     string   `json:"summary"`
		Analysis    string   `json:"analysis"`
		KeyInsights []string `json:"key_insights"`
		Scores      struct {
			InformationGain float64 `json:"information_gain"`
			Actionability   float64 `json:"actionability"`
			Scarcity        float64 `json:"scarcity"`
			ImpactMagnitude float64 `json:"impact_magnitude"`
			ValueScore      float64 `json:"value_score"`
		} `json:"current_scores"`
	}

	payload := make([]candidateJSON, 0, len(candidates))
	for _, u := range candidates {
		cj := candidateJSON{
			ID:        u.ID,
			Title:     u.Title,
			EventTime: firstNonEmpty(u.EventTime, u.When, "unknown"),
			Summary:   helpers.Truncate(u.Summary, 300),
			Analysis:  helpers.Truncate(u.AnalysisContent, 400),
		}
		if len(u.Sources) > 0 {
			cj.Source = u.Sources[0].SourceName
		}
		if len(u.EntityHierarchy) > 0 {
			cj.L3Root = u.EntityHierarchy[0].L3Root
		}
		if len(u.KeyInsights) > 3 {
			cj.KeyInsights = u.KeyInsights[:3]
		} else {
			cj.KeyInsights = u.KeyInsights
		}
		cj.Scores.InformationGain = u.InformationGain
		cj.Scores.Actionability = u.Actionability
		cj.Scores.Scarcity = u.Scarcity
		cj.Scores.ImpactMagnitude = u.ImpactMagnitude
		cj.Scores.ValueScore = u.ValueScore()
		payload = append(payload, cj)
	}
	payloadJSON, _ := json.MarshalIndent(payload, "", "  ")

	var recentSection string
	if len(recentlySent) > 0 {
		window := recentlySent
		if len(window) > recentSentWindow {
			window = window[:recentSentWindow]
		}
		var b strings.Builder
		for _, r := range window {
			fmt.Fprintf(&b, "- %s: %s\n", r.Title, helpers.Truncate(r.Summary, 100))
		}
		recentSection = "\nRecently sent items (exclude near-duplicates):\n" + b.String()
	}

	prompt := fmt.Sprintf(`Evaluate and select from these %d candidates.

Selection rules:
- Top picks: at most %d, total score >= 8.0. On a thin day with fewer
  than 3 candidates clearing the bar, still return the best 3 by merit.
- Quick reads: at most %d, total score 5.0-7.9.
- One entry per underlying event.
- Prefer top picks with distinct l3_root categories; on a score tie pick
  the candidate whose root is not yet represented.
%s
Candidates:
%s`, len(payload), c.topPickCount, maxQuickReads, recentSection, payloadJSON)

	raw, _, err := c.invokeJSON(ctx, prompt, llm.Options{MaxTokens: 4000, Temperature: llm.Temp(0.15)})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("unparseable curation response")
	}

	var parsed struct {
		DailySummary string `json:"daily_summary"`
		TopPicks     []struct {
			ID           string  `json:"id"`
			DisplayTitle string  `json:"display_title"`
			EventTime    string  `json:"event_time"`
			Score        float64 `json:"score"`
			Scores       struct {
				Total float64 `json:"total"`
			} `json:"scores"`
			Reasoning    string `json:"reasoning"`
			Presentation struct {
				Summary  string `json:"summary"`
				Analysis string `json:"analysis"`
				Impact   string `json:"impact"`
			} `json:"presentation"`
		} `json:"top_picks"`
		QuickReads []CuratedQuick `json:"quick_reads"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("curation schema mismatch: %w", err)
	}

	result := &CurationResult{DailySummary: parsed.DailySummary}
	for _, p := range parsed.TopPicks {
		score := p.Scores.Total
		if score == 0 {
			score = p.Score
		}
		result.TopPicks = append(result.TopPicks, CuratedPick{
			ID:           p.ID,
			DisplayTitle: p.DisplayTitle,
			EventTime:    p.EventTime,
			Score:        score,
			Reasoning:    p.Reasoning,
			Summary:      p.Presentation.Summary,
			Analysis:     p.Presentation.Analysis,
			Impact:       p.Presentation.Impact,
		})
	}
	result.QuickReads = parsed.QuickReads
	c.backfillTopPicks(result, candidates)
	return result, nil
}

// backfillTopPicks tops a thin selection up to the 3-pick minimum from the
// remaining candidates by value score, the same top-K rule the fallback
// applies. A promoted candidate leaves the quick-read list.
func (c *Curator) backfillTopPicks(result *CurationResult, candidates []*models.InformationUnit) {
	if len(result.TopPicks) >= minTopPicks {
		return
	}
	picked := make(map[string]struct{}, len(result.TopPicks))
	for _, p := range result.TopPicks {
		picked[p.ID] = struct{}{}
	}

	// candidates arrive sorted by value score descending.
	for _, u := range candidates {
		if len(result.TopPicks) >= minTopPicks {
			break
		}
		if _, ok := picked[u.ID]; ok {
			continue
		}
		picked[u.ID] = struct{}{}
		result.TopPicks = append(result.TopPicks, CuratedPick{
			ID:           u.ID,
			DisplayTitle: u.Title,
			EventTime:    u.EventTime,
			Score:        u.ValueScore(),
			Reasoning:    "backfilled by aggregate value score",
			Summary:      u.Summary,
			Analysis:     u.AnalysisContent,
			Impact:       u.ImpactAssessment,
		})
		for i, q := range result.QuickReads {
			if q.ID == u.ID {
				result.QuickReads = append(result.QuickReads[:i], result.QuickReads[i+1:]...)
				break
			}
		}
	}
}

// fallbackCuration is the deterministic path: top-K by value score with L3
// diversity preference, then quick reads above the floor.
func (c *Curator) fallbackCuration(units []*models.InformationUnit) *CurationResult {
	result := &CurationResult{DailySummary: "Automated digest (model curation unavailable)."}

	// Units above the top-pick threshold first; if too few, fill top-K by
	// score irrespective of threshold.
	var eligible []*models.InformationUnit
	for _, u := range units {
		if u.ValueScore() >= topPickScoreFloor {
			eligible = append(eligible, u)
		}
	}
	if len(eligible) < 3 {
		eligible = units
	}

	picked := pickDiverse(eligible, c.topPickCount)
	pickedIDs := map[string]struct{}{}
	for _, u := range picked {
		pickedIDs[u.ID] = struct{}{}
		result.TopPicks = append(result.TopPicks, CuratedPick{
			ID:           u.ID,
			DisplayTitle: u.Title,
			EventTime:    u.EventTime,
			Score:        u.ValueScore(),
			Reasoning:    "selected by aggregate value score",
			Summary:      u.Summary,
			Analysis:     u.AnalysisContent,
			Impact:       u.ImpactAssessment,
		})
	}

	for _, u := range units {
		if len(result.QuickReads) >= maxQuickReads {
			break
		}
		if _, ok := pickedIDs[u.ID]; ok {
			continue
		}
		if u.ValueScore() < quickReadScoreFloor {
			continue
		}
		oneLine := u.Summary
		if oneLine == "" {
			oneLine = u.Title
		}
		result.QuickReads = append(result.QuickReads, CuratedQuick{
			ID:           u.ID,
			DisplayTitle: u.Title,
			OneLine:      helpers.Truncate(oneLine, 120),
			Score:        u.ValueScore(),
		})
	}
	return result
}

// pickDiverse takes up to n units preferring disjoint L3 roots; a
// score-tied candidate whose root is unrepresented beats one whose root
// already appears.
func pickDiverse(units []*models.InformationUnit, n int) []*models.InformationUnit {
	usedRoots := map[string]struct{}{}
	var picked []*models.InformationUnit
	remaining := append([]*models.InformationUnit(nil), units...)

	for len(picked) < n && len(remaining) > 0 {
		best := 0
		for i := 1; i < len(remaining); i++ {
			a, b := remaining[i], remaining[best]
			if a.ValueScore() > b.ValueScore() {
				best = i
				continue
			}
			if a.ValueScore() == b.ValueScore() {
				_, aUsed := usedRoots[rootOf(a)]
				_, bUsed := usedRoots[rootOf(b)]
				if !aUsed && bUsed {
					best = i
				}
			}
		}
		chosen := remaining[best]
		picked = append(picked, chosen)
		usedRoots[rootOf(chosen)] = struct{}{}
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return picked
}

func rootOf(u *models.InformationUnit) string {
	if len(u.EntityHierarchy) > 0 {
		return u.EntityHierarchy[0].L3Root
	}
	return ""
}

func (c *Curator) enforceLimits(result *CurationResult) {
	if len(result.TopPicks) > c.topPickCount {
		sort.SliceStable(result.TopPicks, func(i, j int) bool {
			return result.TopPicks[i].Score > result.TopPicks[j].Score
		})
		result.TopPicks = result.TopPicks[:c.topPickCount]
	}
	if len(result.QuickReads) > maxQuickReads {
		result.QuickReads = result.QuickReads[:maxQuickReads]
	}
}

func (c *Curator) markExcluded(result *CurationResult, units []*models.InformationUnit) {
	selected := map[string]struct{}{}
	for _, p := range result.TopPicks {
		selected[p.ID] = struct{}{}
	}
	for _, q := range result.QuickReads {
		selected[q.ID] = struct{}{}
	}
	for _, u := range units {
		if _, ok := selected[u.ID]; !ok {
			result.ExcludedIDs = append(result.ExcludedIDs, u.ID)
		}
	}
}

// titleSimilarity is a cheap token-overlap ratio, good enough for the
// curator's local dedup pass.
func titleSimilarity(a, b string) float64 {
	ta := strings.Fields(strings.ToLower(a))
	tb := strings.Fields(strings.ToLower(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	common := 0
	for _, t := range tb {
		if _, ok := set[t]; ok {
			common++
		}
	}
	denominator := len(ta)
	if len(tb) > denominator {
		denominator = len(tb)
	}
	return float64(common) / float64(denominator)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
