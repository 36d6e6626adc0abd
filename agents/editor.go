package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pauldest/newsdigest/internal/helpers"
	"github.com/pauldest/newsdigest/internal/llm"
	"github.com/pauldest/newsdigest/models"
)

const editorSystemPrompt = `You are the editor in chief. You receive first-pass facts, background
research and analyst reports for one article, and you produce the final
editorial verdict: a polished summary, the overall score and whether the
piece deserves top billing.

Score on a 0-10 scale: 9+ is reserved for consensus-shifting news from
core players, 7-8 for significant sector developments, 5-6 for routine
confirmations, below 5 for noise.`

const editorUserPrompt = `Assemble the final verdict for this article:

[TITLE]
%s

[5W1H]
%s

[BACKGROUND]
%s

[ANALYST REPORTS]
%s

Return strictly this JSON shape:
` + "```json" + `
{
  "ai_summary": "polished 2-3 sentence summary",
  "overall_score": 7.5,
  "is_top_pick": false,
  "reasoning": "one-line editorial reasoning",
  "tags": ["tag1", "tag2"]
}
` + "```"

// TopPickThreshold marks the editor's cutoff for top billing.
const TopPickThreshold = 8.0

// Editor merges every layer of the context into the final EnrichedArticle.
type Editor struct {
	agent
}

// NewEditor builds the editor.
func NewEditor(svc *llm.Service, logger *log.Logger) *Editor {
	return &Editor{agent: newAgent("Editor", editorSystemPrompt, svc, logger)}
}

// Process produces the EnrichedArticle from the accumulated context.
func (e *Editor) Process(ctx context.Context, actx *models.AnalysisContext) models.AgentOutput {
	start := time.Now()
	article := actx.Article

	enriched := models.EnrichedFromArticle(article)
	if actx.Extracted != nil {
		enriched.Who = actx.Extracted.Who
		enriched.What = actx.Extracted.What
		enriched.When = actx.Extracted.When
		enriched.Where = actx.Extracted.Where
		enriched.Why = actx.Extracted.Why
		enriched.How = actx.Extracted.How
		enriched.AISummary = actx.Extracted.CoreSummary
		enriched.Tags = actx.Extracted.Tags
	}
	enriched.HistoricalContext = actx.Historical
	enriched.KnowledgeGraph = actx.KnowledgeGraph
	enriched.AnalystReports = actx.AnalystReports

	prompt := fmt.Sprintf(editorUserPrompt,
		article.Title,
		format5W1H(actx.Extracted),
		helpers.Truncate(actx.Historical, 800),
		formatReports(actx.AnalystReports),
	)

	raw, usage, err := e.invokeJSON(ctx, prompt, llm.Options{MaxTokens: 1000, Temperature: llm.Temp(0.3)})
	if err != nil {
		trace := e.trace(start, usage, "Article: "+article.Title, "editor degraded to heuristic", err.Error())
		actx.AddTrace(trace)
		return models.AgentOutput{Success: true, Data: enriched, Trace: trace}
	}

	var verdict struct {
		AISummary    string   `json:"ai_summary"`
		OverallScore float64  `json:"overall_score"`
		IsTopPick    bool     `json:"is_top_pick"`
		Reasoning    string   `json:"reasoning"`
		Tags         []string `json:"tags"`
	}
	if raw != nil && json.Unmarshal(raw, &verdict) == nil {
		if verdict.AISummary != "" {
			enriched.AISummary = verdict.AISummary
		}
		enriched.OverallScore = models.ClampScore(verdict.OverallScore, 5.0)
		enriched.Reasoning = verdict.Reasoning
		if len(verdict.Tags) > 0 {
			enriched.Tags = verdict.Tags
		}
		enriched.IsTopPick = verdict.IsTopPick || enriched.OverallScore >= TopPickThreshold
	}

	trace := e.trace(start, usage, "Article: "+article.Title,
		fmt.Sprintf("score %.1f", enriched.OverallScore), "")
	actx.AddTrace(trace)
	return models.AgentOutput{Success: true, Data: enriched, Trace: trace}
}

func format5W1H(x *models.Extraction) string {
	if x == nil {
		return "(no extraction)"
	}
	return fmt.Sprintf("Who: %s\nWhat: %s\nWhen: %s\nWhere: %s\nWhy: %s\nHow: %s",
		strings.Join(x.Who, ", "), x.What, x.When, x.Where, x.Why, x.How)
}

func formatReports(reports map[string]models.AnalystReport) string {
	if len(reports) == 0 {
		return "(no analyst reports)"
	}
	var b strings.Builder
	for name, r := range reports {
		fmt.Fprintf(&b, "[%s] %s\nFindings: %s\nAssessment: %s\n\n",
			name, r.Perspective, strings.Join(r.Findings, "; "), r.Assessment)
	}
	return b.String()
}
