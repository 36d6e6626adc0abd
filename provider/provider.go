package provider

import (
	"context"

	"github.com/pauldest/newsdigest/models"
)

// ChatResult is one completed chat-completions round trip.
type ChatResult struct {
	Content string
	Usage   models.TokenUsage
}

// Provider is a black-box chat-completion endpoint with an embedding
// affordance. The gateway is the only caller.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []models.ChatMessage, maxTokens int, temperature float64) (ChatResult, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}
