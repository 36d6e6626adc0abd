package agents

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/pauldest/newsdigest/internal/llm"
	"github.com/pauldest/newsdigest/internal/telemetry"
	"github.com/pauldest/newsdigest/models"
)

// agent is the shared base: a name, a system prompt and the gateway.
// Every LLM call goes out with the agent name stamped on the context so
// telemetry attributes it.
type agent struct {
	name         string
	systemPrompt string
	llm          *llm.Service
	logger       *log.Logger
}

func newAgent(name, systemPrompt string, svc *llm.Service, logger *log.Logger) agent {
	if logger == nil {
		logger = log.New(log.Writer(), "["+name+"] ", log.LstdFlags)
	}
	return agent{name: name, systemPrompt: systemPrompt, llm: svc, logger: logger}
}

// Name returns the agent's declared name.
func (a *agent) Name() string { return a.name }

// invoke sends one prompt through the gateway with the agent tag set.
func (a *agent) invoke(ctx context.Context, userPrompt string, opts llm.Options) (string, models.TokenUsage, error) {
	ctx = telemetry.WithAgent(ctx, a.name)
	messages := llm.BuildMessages(a.systemPrompt, userPrompt)
	return a.llm.Chat(ctx, messages, opts)
}

// invokeJSON is invoke with JSON recovery. A nil result with nil error
// means the response resisted parsing; agents degrade to defaults.
func (a *agent) invokeJSON(ctx context.Context, userPrompt string, opts llm.Options) (json.RawMessage, models.TokenUsage, error) {
	ctx = telemetry.WithAgent(ctx, a.name)
	messages := llm.BuildMessages(a.systemPrompt, userPrompt)
	return a.llm.ChatJSON(ctx, messages, opts)
}

// trace builds a standard AgentTrace for the run.
func (a *agent) trace(start time.Time, usage models.TokenUsage, inputSummary, outputSummary, errText string) *models.AgentTrace {
	now := time.Now()
	return &models.AgentTrace{
		AgentName:     a.name,
		StartedAt:     start,
		FinishedAt:    now,
		Duration:      now.Sub(start).Seconds(),
		TokenUsage:    usage,
		InputSummary:  clip(inputSummary, 500),
		OutputSummary: clip(outputSummary, 500),
		Error:         errText,
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
