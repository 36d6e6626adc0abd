package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pauldest/newsdigest/internal/helpers"
	"github.com/pauldest/newsdigest/internal/telemetry"
	"github.com/pauldest/newsdigest/models"
	"github.com/pauldest/newsdigest/provider"
)

// DefaultRetryCount is how many attempts a chat call gets before the last
// error is surfaced.
const DefaultRetryCount = 3

// Options tune a single gateway call. Zero values fall back to the
// configured defaults.
type Options struct {
	MaxTokens   int
	Temperature *float64
	RetryCount  int
}

// Service is the sole funnel for model calls: retries, JSON recovery,
// token accounting and telemetry all live here.
type Service struct {
	provider           provider.Provider
	recorder           *telemetry.Recorder
	logger             *log.Logger
	defaultMaxTokens   int
	defaultTemperature float64

	// sleep is swappable so tests do not wait out real backoff.
	sleep func(context.Context, time.Duration) error
}

// New builds the gateway. recorder may be nil; calls then go unrecorded.
func New(p provider.Provider, recorder *telemetry.Recorder, maxTokens int, temperature float64, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	return &Service{
		provider:           p,
		recorder:           recorder,
		logger:             logger,
		defaultMaxTokens:   maxTokens,
		defaultTemperature: temperature,
		sleep:              sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Chat sends messages to the model with retries. Both success and terminal
// failure are recorded to telemetry; a failed telemetry write never
// propagates.
func (s *Service) Chat(ctx context.Context, messages []models.ChatMessage, opts Options) (string, models.TokenUsage, error) {
	return s.chat(ctx, "chat", messages, opts)
}

func (s *Service) chat(ctx context.Context, callType string, messages []models.ChatMessage, opts Options) (string, models.TokenUsage, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.defaultMaxTokens
	}
	temperature := s.defaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	retryCount := opts.RetryCount
	if retryCount <= 0 {
		retryCount = DefaultRetryCount
	}

	start := time.Now()
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < retryCount; attempt++ {
		attempts = attempt
		result, err := s.provider.ChatCompletion(ctx, messages, maxTokens, temperature)
		if err == nil {
			durationMS := time.Since(start).Milliseconds()
			record := models.NewAICallRecord(callType)
			record.Model = s.provider.Model()
			record.Messages = messages
			record.Parameters = map[string]any{"max_tokens": maxTokens, "temperature": temperature}
			record.Response = result.Content
			record.TokenUsage = result.Usage
			record.DurationMS = durationMS
			record.RetryCount = attempts
			record.Caller = "llm.Service.Chat"
			s.recorder.Append(ctx, record)
			return result.Content, result.Usage, nil
		}

		lastErr = err
		s.logger.Printf("chat attempt %d/%d failed: %v", attempt+1, retryCount, err)
		if attempt < retryCount-1 {
			if serr := s.sleep(ctx, backoff(attempt)); serr != nil {
				lastErr = serr
				break
			}
		}
	}

	record := models.NewAICallRecord(callType)
	record.Model = s.provider.Model()
	record.Messages = messages
	record.DurationMS = time.Since(start).Milliseconds()
	record.RetryCount = attempts
	record.Error = lastErr.Error()
	record.Caller = "llm.Service.Chat"
	s.recorder.Append(ctx, record)

	return "", models.TokenUsage{}, fmt.Errorf("chat failed after %d attempts: %w", retryCount, lastErr)
}

// backoff is min(2^attempt, 30) seconds.
func backoff(attempt int) time.Duration {
	secs := 1 << attempt
	if secs > 30 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

// ChatJSON sends messages and parses the response as JSON. A response that
// resists all recovery strategies yields nil without error; callers decide
// how to degrade.
func (s *Service) ChatJSON(ctx context.Context, messages []models.ChatMessage, opts Options) (json.RawMessage, models.TokenUsage, error) {
	content, usage, err := s.chat(ctx, "chat_json", messages, opts)
	if err != nil {
		return nil, usage, err
	}
	return ParseJSON(content), usage, nil
}

// ParseJSON recovers a JSON value from model output. Strategy order:
// direct parse, fenced ```json block, any fenced block, longest brace span
// (first '{' to last '}'), first balanced object or array. Returns nil when
// nothing parses.
func ParseJSON(content string) json.RawMessage {
	if content == "" {
		return nil
	}
	if json.Valid([]byte(content)) {
		return json.RawMessage(content)
	}
	if block, err := helpers.ExtractFencedBlock(content, "json"); err == nil && json.Valid([]byte(block)) {
		return json.RawMessage(block)
	}
	if block, err := helpers.ExtractFencedBlock(content); err == nil && json.Valid([]byte(block)) {
		return json.RawMessage(block)
	}
	if i, j := strings.IndexByte(content, '{'), strings.LastIndexByte(content, '}'); i >= 0 && j > i && json.Valid([]byte(content[i:j+1])) {
		return json.RawMessage(content[i : j+1])
	}
	if span, err := helpers.ExtractJSON(content); err == nil && json.Valid([]byte(span)) {
		return json.RawMessage(span)
	}
	return nil
}

// BuildMessages assembles a system + optional few-shot + user message list.
func BuildMessages(systemPrompt, userPrompt string, examples ...[2]string) []models.ChatMessage {
	messages := []models.ChatMessage{{Role: "system", Content: systemPrompt}}
	for _, ex := range examples {
		messages = append(messages,
			models.ChatMessage{Role: "user", Content: ex[0]},
			models.ChatMessage{Role: "assistant", Content: ex[1]},
		)
	}
	return append(messages, models.ChatMessage{Role: "user", Content: userPrompt})
}

// Temp is a convenience for Options.Temperature literals.
func Temp(t float64) *float64 { return &t }

// DisableSleepForTests removes the retry backoff delay so test suites do
// not wait out real backoff.
func DisableSleepForTests(s *Service) {
	s.sleep = func(context.Context, time.Duration) error { return nil }
}
