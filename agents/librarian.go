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
	"github.com/pauldest/newsdigest/internal/vector"
	"github.com/pauldest/newsdigest/models"
)

const librarianSystemPrompt = `You are a senior background researcher supplying context for news coverage.

Your tasks:
1. Supply background on the key entities in the story.
2. Recall the history of this topic from the related material provided.
3. Sketch the relationship graph between the entities.
4. State what a reader needs to know to understand this story.

Stay factual and neutral.`

const librarianUserPrompt = `Provide background for this story:

[TITLE]
%s

[CORE SUMMARY]
%s

[KNOWN ENTITIES]
%s

[RELATED PAST COVERAGE]
%s

Return strictly this JSON shape:
` + "```json" + `
{
  "historical_context": "2-3 paragraph history of this topic",
  "knowledge_graph": {
    "nodes": [{"id": "node_1", "name": "entity", "type": "PERSON/COMPANY/..."}],
    "edges": [{"source": "node_1", "target": "node_2", "relation": "relation"}]
  },
  "key_context_for_reader": "one paragraph of essential background"
}
` + "```"

// Librarian is the RAG step: it queries the vector index (and the keyword
// index when present) for related coverage, asks the model for background,
// and after analysis the orchestrator writes the article back into the
// index for future lookups.
type Librarian struct {
	agent
	index   vector.Index
	keyword *vector.KeywordIndex
}

// NewLibrarian builds the librarian. keyword may be nil.
func NewLibrarian(svc *llm.Service, index vector.Index, keyword *vector.KeywordIndex, logger *log.Logger) *Librarian {
	return &Librarian{agent: newAgent("Librarian", librarianSystemPrompt, svc, logger), index: index, keyword: keyword}
}

// Process enriches the context with historical background.
func (l *Librarian) Process(ctx context.Context, actx *models.AnalysisContext) models.AgentOutput {
	start := time.Now()
	article := actx.Article

	related := l.searchRelated(ctx, article, actx.Entities)
	actx.Related = related

	summary := article.Summary
	if actx.Extracted != nil && actx.Extracted.CoreSummary != "" {
		summary = actx.Extracted.CoreSummary
	}

	prompt := fmt.Sprintf(librarianUserPrompt,
		article.Title,
		helpers.Truncate(summary, 500),
		formatEntities(actx.Entities),
		formatRelated(related),
	)

	raw, usage, err := l.invokeJSON(ctx, prompt, llm.Options{MaxTokens: 2000, Temperature: llm.Temp(0.3)})
	if err != nil {
		trace := l.trace(start, usage, "Article: "+article.Title, "background lookup failed", err.Error())
		actx.AddTrace(trace)
		return models.AgentOutput{Success: false, Trace: trace, Err: err.Error()}
	}

	var result struct {
		HistoricalContext   string                 `json:"historical_context"`
		KnowledgeGraph      *models.KnowledgeGraph `json:"knowledge_graph"`
		KeyContextForReader string                 `json:"key_context_for_reader"`
	}
	if raw != nil {
		json.Unmarshal(raw, &result)
	}

	actx.Historical = result.HistoricalContext
	actx.KnowledgeGraph = result.KnowledgeGraph

	trace := l.trace(start, usage,
		fmt.Sprintf("Article: %s, %d entities", article.Title, len(actx.Entities)),
		fmt.Sprintf("background with %d related articles", len(related)), "")
	actx.AddTrace(trace)
	return models.AgentOutput{Success: true, Data: result, Trace: trace}
}

// searchRelated queries title + first five entity names against the vector
// index, topping up with keyword hits so exact names survive the hashing.
func (l *Librarian) searchRelated(ctx context.Context, article models.Article, entities []models.SimpleEntity) []models.RelatedArticle {
	names := make([]string, 0, 5)
	for _, e := range entities {
		if len(names) == 5 {
			break
		}
		names = append(names, e.Name)
	}
	query := strings.TrimSpace(article.Title + " " + strings.Join(names, " "))

	seen := map[string]struct{}{}
	var related []models.RelatedArticle

	if l.index != nil {
		hits, err := l.index.Search(ctx, query, 5)
		if err != nil {
			l.logger.Printf("vector search failed: %v", err)
		}
		for _, h := range hits {
			if h.ID == article.URL {
				continue
			}
			seen[h.ID] = struct{}{}
			related = append(related, models.RelatedArticle{ID: h.ID, Title: h.Title, Content: h.Content, Score: h.Score, Metadata: h.Metadata})
		}
	}

	if l.keyword != nil {
		hits, err := l.keyword.Search(ctx, query, 3)
		if err != nil {
			l.logger.Printf("keyword search failed: %v", err)
		}
		for _, h := range hits {
			if h.ID == article.URL {
				continue
			}
			if _, ok := seen[h.ID]; ok {
				continue
			}
			related = append(related, models.RelatedArticle{ID: h.ID, Title: h.Title, Content: h.Content, Score: h.Score, Metadata: h.Metadata})
		}
	}
	return related
}

// StoreArticle writes an analyzed article into both indexes so future
// articles can find it.
func (l *Librarian) StoreArticle(ctx context.Context, article models.Article) {
	meta := map[string]any{"source": article.Source, "category": article.Category}
	if l.index != nil {
		if err := l.index.Add(ctx, article.URL, article.Title, article.Content, meta); err != nil {
			l.logger.Printf("vector index write failed: %v", err)
		}
	}
	if l.keyword != nil {
		if err := l.keyword.Add(ctx, article.URL, article.Title, article.Content, meta); err != nil {
			l.logger.Printf("keyword index write failed: %v", err)
		}
	}
}

func formatEntities(entities []models.SimpleEntity) string {
	if len(entities) == 0 {
		return "(none identified)"
	}
	var b strings.Builder
	for _, e := range entities {
		fmt.Fprintf(&b, "- %s (%s): %s\n", e.Name, e.Type, e.Description)
	}
	return b.String()
}

func formatRelated(related []models.RelatedArticle) string {
	if len(related) == 0 {
		return "(no related coverage on file)"
	}
	var b strings.Builder
	for i, r := range related {
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, r.Title, helpers.Truncate(r.Content, 300))
	}
	return b.String()
}
