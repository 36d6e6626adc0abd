package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pauldest/newsdigest/internal/telemetry"
	"github.com/pauldest/newsdigest/models"
)

// TelemetryIndex adapts the store to telemetry.IndexStore.
type TelemetryIndex struct {
	store *Store
}

// NewTelemetryIndex wraps the store for the recorder.
func NewTelemetryIndex(s *Store) *TelemetryIndex { return &TelemetryIndex{store: s} }

var _ telemetry.IndexStore = (*TelemetryIndex)(nil)

func (t *TelemetryIndex) Insert(ctx context.Context, row models.TelemetryIndexRow) error {
	_, err := t.store.DB.ExecContext(ctx, `
INSERT INTO ai_calls (call_id, timestamp, call_type, model, agent_name, session_id, total_tokens, duration_ms, error, log_shard)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (call_id) DO NOTHING
`, row.CallID, row.Timestamp, row.CallType, row.Model, row.AgentName, row.SessionID,
		row.TotalTokens, row.DurationMS, row.Error, row.LogShard)
	if err != nil {
		return fmt.Errorf("insert ai call: %w", err)
	}
	return nil
}

func telemetryFilter(q telemetry.Query) (string, []any) {
	where := " WHERE 1=1"
	var args []any
	if q.Start != nil {
		args = append(args, *q.Start)
		where += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if q.End != nil {
		args = append(args, *q.End)
		where += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	if q.SessionID != "" {
		args = append(args, q.SessionID)
		where += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if q.AgentName != "" {
		args = append(args, q.AgentName)
		where += fmt.Sprintf(" AND agent_name = $%d", len(args))
	}
	if q.CallType != "" {
		args = append(args, q.CallType)
		where += fmt.Sprintf(" AND call_type = $%d", len(args))
	}
	return where, args
}

func (t *TelemetryIndex) Query(ctx context.Context, q telemetry.Query) ([]models.TelemetryIndexRow, error) {
	where, args := telemetryFilter(q)
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, q.Offset)
	query := fmt.Sprintf(`
SELECT call_id, timestamp, call_type, model, agent_name, session_id, total_tokens, duration_ms, error, log_shard
FROM ai_calls%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := t.store.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ai calls: %w", err)
	}
	defer rows.Close()

	var out []models.TelemetryIndexRow
	for rows.Next() {
		var row models.TelemetryIndexRow
		if err := rows.Scan(&row.CallID, &row.Timestamp, &row.CallType, &row.Model, &row.AgentName,
			&row.SessionID, &row.TotalTokens, &row.DurationMS, &row.Error, &row.LogShard); err != nil {
			return nil, fmt.Errorf("scan ai call: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *TelemetryIndex) Aggregate(ctx context.Context, q telemetry.Query) (models.TelemetryStats, error) {
	where, args := telemetryFilter(q)
	stats := models.TelemetryStats{
		CallsByType:  make(map[string]int),
		CallsByAgent: make(map[string]int),
		CallsByModel: make(map[string]int),
	}

	var avgDuration sql.NullFloat64
	var errorCount int
	err := t.store.DB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(AVG(duration_ms), 0),
       COUNT(*) FILTER (WHERE error <> '')
FROM ai_calls`+where, args...).Scan(&stats.TotalCalls, &stats.TotalTokens, &avgDuration, &errorCount)
	if err != nil {
		return stats, fmt.Errorf("aggregate ai calls: %w", err)
	}
	stats.AvgDurationMS = avgDuration.Float64
	if stats.TotalCalls > 0 {
		stats.ErrorRate = float64(errorCount) / float64(stats.TotalCalls)
	}

	for _, group := range []struct {
		column string
		into   map[string]int
	}{
		{"call_type", stats.CallsByType},
		{"agent_name", stats.CallsByAgent},
		{"model", stats.CallsByModel},
	} {
		rows, err := t.store.DB.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s, COUNT(*) FROM ai_calls%s GROUP BY %s`, group.column, where, group.column),
			args...)
		if err != nil {
			return stats, fmt.Errorf("aggregate by %s: %w", group.column, err)
		}
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return stats, err
			}
			if key == "" {
				key = "unknown"
			}
			group.into[key] = count
		}
		rows.Close()
	}
	return stats, nil
}

func (t *TelemetryIndex) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.store.DB.QueryContext(ctx, `
SELECT session_id, MIN(timestamp), MAX(timestamp), COUNT(*), COALESCE(SUM(total_tokens), 0)
FROM ai_calls
WHERE session_id <> ''
GROUP BY session_id
ORDER BY MIN(timestamp) DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		if err := rows.Scan(&s.SessionID, &s.StartTime, &s.EndTime, &s.CallCount, &s.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *TelemetryIndex) ShardFor(ctx context.Context, callID string) (string, error) {
	var shard string
	err := t.store.DB.QueryRowContext(ctx,
		`SELECT log_shard FROM ai_calls WHERE call_id = $1`, callID).Scan(&shard)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("shard lookup: %w", err)
	}
	return shard, nil
}

func (t *TelemetryIndex) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := t.store.DB.ExecContext(ctx, `DELETE FROM ai_calls WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete ai calls: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
