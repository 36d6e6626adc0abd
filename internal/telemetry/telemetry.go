package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pauldest/newsdigest/models"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	agentKey
)

// WithSession tags a context with the current telemetry session id. Tags
// travel with the context so sibling tasks never see each other's values.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// SessionFrom reads the session tag, if any.
func SessionFrom(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(string); ok {
		return v
	}
	return ""
}

// WithAgent tags a context with the calling agent's name.
func WithAgent(ctx context.Context, agentName string) context.Context {
	return context.WithValue(ctx, agentKey, agentName)
}

// AgentFrom reads the agent tag, if any.
func AgentFrom(ctx context.Context) string {
	if v, ok := ctx.Value(agentKey).(string); ok {
		return v
	}
	return ""
}

// Query filters index lookups.
type Query struct {
	Start     *time.Time
	End       *time.Time
	SessionID string
	AgentName string
	CallType  string
	Limit     int
	Offset    int
}

// IndexStore persists the queryable projection of call records. The full
// records live in the JSONL shards next to it.
type IndexStore interface {
	Insert(ctx context.Context, row models.TelemetryIndexRow) error
	Query(ctx context.Context, q Query) ([]models.TelemetryIndexRow, error)
	Aggregate(ctx context.Context, q Query) (models.TelemetryStats, error)
	ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error)
	ShardFor(ctx context.Context, callID string) (string, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Recorder is the append-only AI call log: a daily-sharded JSONL file per
// UTC date plus an index row per call. Writes are atomic per record.
type Recorder struct {
	enabled          bool
	storagePath      string
	retentionDays    int
	maxContentLength int
	index            IndexStore
	logger           *log.Logger

	mu sync.Mutex
}

// NewRecorder builds a recorder. A nil index or enabled=false turns every
// write into a no-op.
func NewRecorder(enabled bool, storagePath string, retentionDays, maxContentLength int, index IndexStore, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	if maxContentLength <= 0 {
		maxContentLength = 10000
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Recorder{
		enabled:          enabled,
		storagePath:      storagePath,
		retentionDays:    retentionDays,
		maxContentLength: maxContentLength,
		index:            index,
		logger:           logger,
	}
}

// Enabled reports whether the recorder accepts writes.
func (r *Recorder) Enabled() bool { return r != nil && r.enabled && r.index != nil }

// Append records one call. Session and agent tags missing on the record
// are filled from ctx. Failures are logged and swallowed: telemetry never
// breaks the caller.
func (r *Recorder) Append(ctx context.Context, record models.AICallRecord) {
	if !r.Enabled() {
		return
	}
	if record.SessionID == "" {
		record.SessionID = SessionFrom(ctx)
	}
	if record.AgentName == "" {
		record.AgentName = AgentFrom(ctx)
	}
	r.truncate(&record)

	shard := filepath.Join(r.storagePath, record.Timestamp.UTC().Format("2006-01-02")+".jsonl")
	if err := r.appendShard(shard, record); err != nil {
		r.logger.Printf("shard append failed: %v", err)
		return
	}

	row := models.TelemetryIndexRow{
		CallID:      record.CallID,
		Timestamp:   record.Timestamp,
		CallType:    record.CallType,
		Model:       record.Model,
		AgentName:   record.AgentName,
		SessionID:   record.SessionID,
		TotalTokens: record.TokenUsage.Total,
		DurationMS:  record.DurationMS,
		Error:       record.Error,
		LogShard:    shard,
	}
	if err := r.index.Insert(ctx, row); err != nil {
		r.logger.Printf("index insert failed: %v", err)
	}
}

func (r *Recorder) appendShard(path string, record models.AICallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

func (r *Recorder) truncate(record *models.AICallRecord) {
	max := r.maxContentLength
	for i := range record.Messages {
		record.Messages[i].Content = truncateMarked(record.Messages[i].Content, max)
	}
	record.Response = truncateMarked(record.Response, max)
}

func truncateMarked(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("... [truncated, total %d chars]", len(s))
}

// Query returns index rows matching q.
func (r *Recorder) Query(ctx context.Context, q Query) ([]models.TelemetryIndexRow, error) {
	if !r.Enabled() {
		return nil, nil
	}
	return r.index.Query(ctx, q)
}

// Aggregate summarizes the calls matching q.
func (r *Recorder) Aggregate(ctx context.Context, q Query) (models.TelemetryStats, error) {
	if !r.Enabled() {
		return models.TelemetryStats{}, nil
	}
	return r.index.Aggregate(ctx, q)
}

// ListSessions lists the most recent sessions.
func (r *Recorder) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	if !r.Enabled() {
		return nil, nil
	}
	return r.index.ListSessions(ctx, limit)
}

// GetFull loads the complete record from its JSONL shard.
func (r *Recorder) GetFull(ctx context.Context, callID string) (*models.AICallRecord, error) {
	if !r.Enabled() {
		return nil, nil
	}
	shard, err := r.index.ShardFor(ctx, callID)
	if err != nil {
		return nil, err
	}
	if shard == "" {
		return nil, nil
	}
	f, err := os.Open(shard)
	if err != nil {
		return nil, fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var record models.AICallRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.CallID == callID {
			return &record, nil
		}
	}
	return nil, scanner.Err()
}

// Cleanup removes shards and index rows older than the retention window.
func (r *Recorder) Cleanup(ctx context.Context) (int, error) {
	if !r.Enabled() {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -r.retentionDays)
	cutoffName := cutoff.Format("2006-01-02") + ".jsonl"

	shards, _ := filepath.Glob(filepath.Join(r.storagePath, "*.jsonl"))
	for _, shard := range shards {
		if filepath.Base(shard) < cutoffName {
			if err := os.Remove(shard); err != nil {
				r.logger.Printf("shard removal failed: %v", err)
			}
		}
	}
	return r.index.DeleteBefore(ctx, cutoff)
}

// ExportJSONL copies every sharded record within the time window to path.
func (r *Recorder) ExportJSONL(ctx context.Context, path string, start, end *time.Time) (int, error) {
	if !r.Enabled() {
		return 0, nil
	}
	shards, err := filepath.Glob(filepath.Join(r.storagePath, "*.jsonl"))
	if err != nil {
		return 0, err
	}
	sort.Strings(shards)

	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create export: %w", err)
	}
	defer out.Close()

	count := 0
	for _, shard := range shards {
		f, err := os.Open(shard)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			var record models.AICallRecord
			if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
				continue
			}
			if start != nil && record.Timestamp.Before(*start) {
				continue
			}
			if end != nil && record.Timestamp.After(*end) {
				continue
			}
			out.Write(append(scanner.Bytes(), '\n'))
			count++
		}
		f.Close()
	}
	return count, nil
}
