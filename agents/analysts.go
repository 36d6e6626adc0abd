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

const skepticPrompt = `You are the skeptic on an analyst team reviewing news coverage.
Question the claims: what is asserted without evidence, which numbers lack sources,
which framing favors one party, and what would falsify the story. Report findings,
concerns, an overall assessment, and a confidence in your own read.`

const economistPrompt = `You are the economist on an analyst team reviewing news coverage.
Read the story for market structure, incentives, capital flows, pricing power and
second-order economic effects. Report findings, concerns, an overall assessment, and
a confidence in your own read.`

const detectivePrompt = `You are the detective on an analyst team reviewing news coverage.
Look for what the story does not say: missing actors, buried timelines, conflicts of
interest, and the question nobody asked. Report findings, concerns, an overall
assessment, and a confidence in your own read.`

const analystUserPrompt = `Review this article from your perspective:

[TITLE]
%s

[CONTENT]
%s

[BACKGROUND]
%s

Return strictly this JSON shape:
` + "```json" + `
{
  "perspective": "your one-line angle",
  "findings": ["finding 1", "finding 2"],
  "concerns": ["concern 1"],
  "assessment": "one paragraph overall assessment",
  "confidence": 0.8
}
` + "```"

// Analyst is one perspective in the DEEP-mode panel. All three run in
// parallel; a failure leaves an empty report in its slot.
type Analyst struct {
	agent
	key string
}

// NewAnalysts builds the fixed panel: skeptic, economist, detective.
func NewAnalysts(svc *llm.Service, logger *log.Logger) map[string]*Analyst {
	return map[string]*Analyst{
		"skeptic":   {agent: newAgent("Skeptic", skepticPrompt, svc, logger), key: "skeptic"},
		"economist": {agent: newAgent("Economist", economistPrompt, svc, logger), key: "economist"},
		"detective": {agent: newAgent("Detective", detectivePrompt, svc, logger), key: "detective"},
	}
}

// Key is the report-map slot this analyst fills.
func (a *Analyst) Key() string { return a.key }

// Process reviews the article and returns a fixed-schema report.
func (a *Analyst) Process(ctx context.Context, actx *models.AnalysisContext) models.AgentOutput {
	start := time.Now()
	article := actx.Article

	content := actx.CleanedContent
	if content == "" {
		content = article.Content
	}
	prompt := fmt.Sprintf(analystUserPrompt,
		article.Title,
		helpers.Truncate(content, 3000),
		helpers.Truncate(actx.Historical, 1000),
	)

	raw, usage, err := a.invokeJSON(ctx, prompt, llm.Options{MaxTokens: 1500, Temperature: llm.Temp(0.4)})
	if err != nil {
		trace := a.trace(start, usage, "Article: "+article.Title, "analyst failed", err.Error())
		return models.AgentOutput{Success: false, Trace: trace, Err: err.Error()}
	}

	var report models.AnalystReport
	if raw != nil {
		json.Unmarshal(raw, &report)
	}

	trace := a.trace(start, usage, "Article: "+article.Title,
		fmt.Sprintf("%d findings", len(report.Findings)), "")
	return models.AgentOutput{Success: true, Data: report, Trace: trace}
}
