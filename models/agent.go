package models

import "time"

// AnalysisMode selects how much of the agent pipeline runs per article.
type AnalysisMode string

const (
	ModeQuick    AnalysisMode = "quick"    // Collector only
	ModeStandard AnalysisMode = "standard" // Collector + Librarian + Editor
	ModeDeep     AnalysisMode = "deep"     // full pipeline with analysts
)

// ParseAnalysisMode maps a CLI/config string to a mode, defaulting to
// standard.
func ParseAnalysisMode(s string) AnalysisMode {
	switch AnalysisMode(s) {
	case ModeQuick, ModeStandard, ModeDeep:
		return AnalysisMode(s)
	default:
		return ModeStandard
	}
}

// TokenUsage counts tokens for one or more LLM calls.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates another usage into the receiver.
func (t *TokenUsage) Add(other TokenUsage) {
	t.Prompt += other.Prompt
	t.Completion += other.Completion
	t.Total += other.Total
}

// AgentTrace records one agent execution for auditing.
type AgentTrace struct {
	AgentName     string     `json:"agent_name"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
	Duration      float64    `json:"duration_seconds"`
	TokenUsage    TokenUsage `json:"token_usage"`
	InputSummary  string     `json:"input_summary"`
	OutputSummary string     `json:"output_summary"`
	Error         string     `json:"error,omitempty"`
}

// AgentOutput is the uniform agent return envelope. A failed agent reports
// success=false and an error; it never aborts the pipeline by itself.
type AgentOutput struct {
	Success bool        `json:"success"`
	Data    any         `json:"data,omitempty"`
	Trace   *AgentTrace `json:"trace,omitempty"`
	Err     string      `json:"error,omitempty"`
}

// AnalysisContext is the mutable record threaded through one article's
// analysis. It lives only for the duration of that analysis.
type AnalysisContext struct {
	Article        Article
	CleanedContent string
	Extracted      *Extraction
	Entities       []SimpleEntity
	Historical     string
	KnowledgeGraph *KnowledgeGraph
	Related        []RelatedArticle
	AnalystReports map[string]AnalystReport
	Mode           AnalysisMode
	Traces         []AgentTrace
}

// RelatedArticle is one retrieval hit handed to the Librarian.
type RelatedArticle struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	Metadata map[string]any
}

// NewAnalysisContext seeds a context for one article.
func NewAnalysisContext(a Article, mode AnalysisMode) *AnalysisContext {
	return &AnalysisContext{
		Article:        a,
		Mode:           mode,
		AnalystReports: make(map[string]AnalystReport),
	}
}

// AddTrace appends a trace if present.
func (c *AnalysisContext) AddTrace(t *AgentTrace) {
	if t != nil {
		c.Traces = append(c.Traces, *t)
	}
}

// TotalTokens sums usage across all recorded traces.
func (c *AnalysisContext) TotalTokens() TokenUsage {
	var sum TokenUsage
	for _, t := range c.Traces {
		sum.Add(t.TokenUsage)
	}
	return sum
}
