package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one message on the chat-completions wire.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AICallRecord is one append-only telemetry entry. A failed call is still
// recorded, with Error set and zero token usage.
type AICallRecord struct {
	CallID     string         `json:"call_id"`
	Timestamp  time.Time      `json:"timestamp"`
	CallType   string         `json:"call_type"` // chat, chat_json, embedding
	Model      string         `json:"model"`
	SessionID  string         `json:"session_id,omitempty"`
	AgentName  string         `json:"agent_name,omitempty"`
	Messages   []ChatMessage  `json:"messages"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Response   string         `json:"response"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"`
	TokenUsage TokenUsage     `json:"token_usage"`
	DurationMS int64          `json:"duration_ms"`
	RetryCount int            `json:"retry_count"`
	Error      string         `json:"error,omitempty"`
	Caller     string         `json:"caller,omitempty"`
}

// NewAICallRecord stamps identity and time for a fresh record.
func NewAICallRecord(callType string) AICallRecord {
	return AICallRecord{
		CallID:    uuid.NewString(),
		Timestamp: time.Now().UTC(),
		CallType:  callType,
	}
}

// TelemetryIndexRow is the queryable projection of a record.
type TelemetryIndexRow struct {
	CallID      string    `json:"call_id"`
	Timestamp   time.Time `json:"timestamp"`
	CallType    string    `json:"call_type"`
	Model       string    `json:"model"`
	AgentName   string    `json:"agent_name"`
	SessionID   string    `json:"session_id"`
	TotalTokens int       `json:"total_tokens"`
	DurationMS  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	LogShard    string    `json:"log_shard"`
}

// TelemetryStats aggregates calls over a window.
type TelemetryStats struct {
	TotalCalls            int            `json:"total_calls"`
	TotalPromptTokens     int64          `json:"total_prompt_tokens"`
	TotalCompletionTokens int64          `json:"total_completion_tokens"`
	TotalTokens           int64          `json:"total_tokens"`
	CallsByType           map[string]int `json:"calls_by_type"`
	CallsByAgent          map[string]int `json:"calls_by_agent"`
	CallsByModel          map[string]int `json:"calls_by_model"`
	AvgDurationMS         float64        `json:"avg_duration_ms"`
	ErrorRate             float64        `json:"error_rate"`
}

// SessionSummary groups one logical batch of calls.
type SessionSummary struct {
	SessionID   string    `json:"session_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	CallCount   int       `json:"call_count"`
	TotalTokens int64     `json:"total_tokens"`
}
