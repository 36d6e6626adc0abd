package agents

import (
	"context"
	"strings"
	"time"

	"github.com/pauldest/newsdigest/internal/llm"
	"github.com/pauldest/newsdigest/models"
	"github.com/pauldest/newsdigest/provider"
)

// routedProvider answers by matching a substring of the system prompt,
// which is how the agent under test is identified.
type routedProvider struct {
	routes map[string]routedResponse
}

type routedResponse struct {
	content string
	err     error
}

func (p *routedProvider) ChatCompletion(_ context.Context, messages []models.ChatMessage, _ int, _ float64) (provider.ChatResult, error) {
	system := ""
	if len(messages) > 0 {
		system = messages[0].Content
	}
	for marker, resp := range p.routes {
		if strings.Contains(system, marker) {
			if resp.err != nil {
				return provider.ChatResult{}, resp.err
			}
			return provider.ChatResult{
				Content: resp.content,
				Usage:   models.TokenUsage{Prompt: 10, Completion: 10, Total: 20},
			}, nil
		}
	}
	return provider.ChatResult{Content: "{}", Usage: models.TokenUsage{Total: 1}}, nil
}

func (p *routedProvider) CreateEmbedding(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

func (p *routedProvider) Model() string { return "fake-model" }

// newFastService builds a gateway whose retry backoff does not sleep.
func newFastService(p provider.Provider) *llm.Service {
	s := llm.New(p, nil, 1000, 0.3, nil)
	llm.DisableSleepForTests(s)
	return s
}

func testArticle(url, title, content string) models.Article {
	published := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	return models.Article{
		URL:         url,
		Title:       title,
		Content:     content,
		Summary:     content,
		Source:      "test-source",
		Category:    "tech",
		PublishedAt: &published,
		FetchedAt:   time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}
