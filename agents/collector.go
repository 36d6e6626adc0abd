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

const collectorSystemPrompt = `You are a professional news desk assistant performing first-pass analysis.

Your tasks:
1. Extract the 5W1H (Who, What, When, Where, Why, How) of the story.
2. Identify the key entities (people, companies, products, locations).
3. If the story spans multiple points in time, lay out the timeline.
4. Write a one-sentence core summary.

Be accurate and objective. Do not add judgement.`

const collectorUserPrompt = `Analyze this news article and extract structured information:

[TITLE]
%s

[SOURCE]
%s

[CONTENT]
%s

Return strictly this JSON shape:
` + "```json" + `
{
  "who": ["people or organizations involved"],
  "what": "what happened, one sentence",
  "when": "date or period, or 'unspecified'",
  "where": "location, or 'unspecified'",
  "why": "cause or background",
  "how": "process or mechanism",
  "core_summary": "one-sentence summary, max 50 words",
  "entities": [
    {"name": "entity name", "type": "PERSON/COMPANY/PRODUCT/LOCATION/ORG/EVENT/CONCEPT", "description": "short description"}
  ],
  "timeline": [
    {"time": "point in time", "event": "what happened", "importance": "high/normal/low"}
  ],
  "tags": ["tag1", "tag2", "tag3"]
}
` + "```" + `

Notes:
1. entities should include every significant entity; type must be one of the listed values.
2. timeline only when the story covers multiple points in time, otherwise an empty array.
3. tags: 2-4 labels from macro to micro.`

// Collector does first-pass analysis: content cleaning, 5W1H, entities,
// timeline, core summary. A JSON failure degrades to empty defaults with
// a warning trace; the agent still reports success.
type Collector struct {
	agent
}

// NewCollector builds the collector.
func NewCollector(svc *llm.Service, logger *log.Logger) *Collector {
	return &Collector{agent: newAgent("Collector", collectorSystemPrompt, svc, logger)}
}

// Process cleans the article body and extracts structured facts into ctx.
func (c *Collector) Process(ctx context.Context, actx *models.AnalysisContext) models.AgentOutput {
	start := time.Now()
	article := actx.Article

	cleaned := helpers.CleanContent(article.Content)
	actx.CleanedContent = cleaned

	prompt := fmt.Sprintf(collectorUserPrompt, article.Title, article.Source, helpers.Truncate(cleaned, 3000))
	raw, usage, err := c.invokeJSON(ctx, prompt, llm.Options{MaxTokens: 2000, Temperature: llm.Temp(0.2)})
	if err != nil {
		out := c.fallback(article)
		actx.Extracted = &out
		trace := c.trace(start, usage, "Article: "+article.Title, "fallback extraction", err.Error())
		actx.AddTrace(trace)
		return models.AgentOutput{Success: false, Data: out, Trace: trace, Err: err.Error()}
	}

	var extracted models.Extraction
	warn := ""
	if raw == nil {
		extracted = c.fallback(article)
		warn = "unparseable response, using defaults"
	} else if uerr := json.Unmarshal(raw, &extracted); uerr != nil {
		extracted = c.fallback(article)
		warn = "schema mismatch, using defaults"
	}

	actx.Extracted = &extracted
	actx.Entities = extracted.Entities

	trace := c.trace(start, usage, "Article: "+article.Title,
		fmt.Sprintf("5W1H extracted, %d entities", len(extracted.Entities)), warn)
	actx.AddTrace(trace)
	return models.AgentOutput{Success: true, Data: extracted, Trace: trace}
}

func (c *Collector) fallback(article models.Article) models.Extraction {
	tags := []string{}
	if article.Category != "" {
		tags = append(tags, article.Category)
	}
	return models.Extraction{
		What:        article.Title,
		CoreSummary: helpers.Truncate(article.Summary, 100),
		Tags:        tags,
	}
}
