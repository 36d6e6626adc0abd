package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pauldest/newsdigest/internal/telemetry"
	"github.com/pauldest/newsdigest/models"
	"github.com/pauldest/newsdigest/provider"
)

type fakeProvider struct {
	responses []string
	errs      []error
	calls     int
	usage     models.TokenUsage
}

func (f *fakeProvider) ChatCompletion(_ context.Context, _ []models.ChatMessage, _ int, _ float64) (provider.ChatResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return provider.ChatResult{}, f.errs[i]
	}
	resp := ""
	if i < len(f.responses) {
		resp = f.responses[i]
	} else if len(f.responses) > 0 {
		resp = f.responses[len(f.responses)-1]
	}
	return provider.ChatResult{Content: resp, Usage: f.usage}, nil
}

func (f *fakeProvider) CreateEmbedding(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

func (f *fakeProvider) Model() string { return "fake-model" }

func newTestService(p provider.Provider, recorder *telemetry.Recorder) *Service {
	s := New(p, recorder, 1000, 0.3, nil)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestParseJSONDirect(t *testing.T) {
	if ParseJSON(`{"a": 1}`) == nil {
		t.Fatalf("direct JSON must parse")
	}
}

func TestParseJSONFencedBlock(t *testing.T) {
	content := "Here you go:\n```json\n{\"a\": 1}\n```\nDone."
	if ParseJSON(content) == nil {
		t.Fatalf("fenced JSON block must parse")
	}
}

func TestParseJSONProseWithObject(t *testing.T) {
	content := `The answer, as requested, is {"verdict": "yes", "score": 8} which concludes it.`
	raw := ParseJSON(content)
	if raw == nil {
		t.Fatalf("embedded object must be extracted")
	}
	if string(raw) != `{"verdict": "yes", "score": 8}` {
		t.Fatalf("unexpected extraction: %s", raw)
	}
}

func TestParseJSONUnparseableReturnsNil(t *testing.T) {
	if ParseJSON("no json here at all") != nil {
		t.Fatalf("garbage must return nil, not raise")
	}
	if ParseJSON("") != nil {
		t.Fatalf("empty input must return nil")
	}
}

func TestChatRetriesThenSucceeds(t *testing.T) {
	p := &fakeProvider{
		responses: []string{"", "", "hello"},
		errs:      []error{errors.New("boom"), errors.New("boom again"), nil},
		usage:     models.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	}
	s := newTestService(p, nil)

	text, usage, err := s.Chat(context.Background(), BuildMessages("sys", "user"), Options{})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if text != "hello" {
		t.Fatalf("unexpected response %q", text)
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", p.calls)
	}
	if usage.Total != usage.Prompt+usage.Completion {
		t.Fatalf("usage accounting broken: %+v", usage)
	}
}

func TestChatTerminalFailureRecordedWithError(t *testing.T) {
	p := &fakeProvider{errs: []error{errors.New("x"), errors.New("x"), errors.New("x")}}
	index := telemetry.NewMemIndex()
	recorder := telemetry.NewRecorder(true, t.TempDir(), 30, 10000, index, nil)
	s := newTestService(p, recorder)

	_, _, err := s.Chat(context.Background(), BuildMessages("sys", "user"), Options{})
	if err == nil {
		t.Fatalf("terminal failure must surface")
	}
	if p.calls != DefaultRetryCount {
		t.Fatalf("expected %d attempts, got %d", DefaultRetryCount, p.calls)
	}

	rows, _ := index.Query(context.Background(), telemetry.Query{})
	if len(rows) != 1 {
		t.Fatalf("failed call must still be recorded, got %d rows", len(rows))
	}
	if rows[0].Error == "" {
		t.Fatalf("record must carry the error")
	}
	if rows[0].TotalTokens != 0 {
		t.Fatalf("failed call must record zero tokens")
	}
}

func TestChatRecordsSessionAndAgentFromContext(t *testing.T) {
	p := &fakeProvider{responses: []string{"ok"}}
	index := telemetry.NewMemIndex()
	recorder := telemetry.NewRecorder(true, t.TempDir(), 30, 10000, index, nil)
	s := newTestService(p, recorder)

	ctx := telemetry.WithSession(context.Background(), "session-1")
	ctx = telemetry.WithAgent(ctx, "Collector")
	if _, _, err := s.Chat(ctx, BuildMessages("sys", "user"), Options{}); err != nil {
		t.Fatal(err)
	}

	rows, _ := index.Query(context.Background(), telemetry.Query{SessionID: "session-1"})
	if len(rows) != 1 || rows[0].AgentName != "Collector" {
		t.Fatalf("ambient tags not stamped: %+v", rows)
	}
}

func TestChatJSONRecoversFencedResponse(t *testing.T) {
	p := &fakeProvider{responses: []string{"```json\n{\"k\": \"v\"}\n```"}}
	s := newTestService(p, nil)

	raw, _, err := s.ChatJSON(context.Background(), BuildMessages("sys", "user"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if raw == nil {
		t.Fatalf("fenced response must be recovered")
	}
}

func TestBuildMessagesWithExamples(t *testing.T) {
	msgs := BuildMessages("sys", "question", [2]string{"ex-q", "ex-a"})
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Role != "user" || msgs[2].Role != "assistant" || msgs[3].Role != "user" {
		t.Fatalf("unexpected roles: %+v", msgs)
	}
}

func TestBackoffCap(t *testing.T) {
	if backoff(0) != time.Second {
		t.Fatalf("first backoff must be 1s")
	}
	if backoff(10) != 30*time.Second {
		t.Fatalf("backoff must cap at 30s, got %v", backoff(10))
	}
}
