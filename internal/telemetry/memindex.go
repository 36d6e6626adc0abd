package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pauldest/newsdigest/models"
)

// MemIndex is an in-memory IndexStore. It backs tests and dev setups that
// run without Postgres.
type MemIndex struct {
	mu   sync.Mutex
	rows []models.TelemetryIndexRow
}

// NewMemIndex returns an empty in-memory index.
func NewMemIndex() *MemIndex { return &MemIndex{} }

func (m *MemIndex) Insert(_ context.Context, row models.TelemetryIndexRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
	return nil
}

func (m *MemIndex) matches(row models.TelemetryIndexRow, q Query) bool {
	if q.Start != nil && row.Timestamp.Before(*q.Start) {
		return false
	}
	if q.End != nil && row.Timestamp.After(*q.End) {
		return false
	}
	if q.SessionID != "" && row.SessionID != q.SessionID {
		return false
	}
	if q.AgentName != "" && row.AgentName != q.AgentName {
		return false
	}
	if q.CallType != "" && row.CallType != q.CallType {
		return false
	}
	return true
}

func (m *MemIndex) Query(_ context.Context, q Query) ([]models.TelemetryIndexRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.TelemetryIndexRow
	for _, row := range m.rows {
		if m.matches(row, q) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemIndex) Aggregate(_ context.Context, q Query) (models.TelemetryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := models.TelemetryStats{
		CallsByType:  make(map[string]int),
		CallsByAgent: make(map[string]int),
		CallsByModel: make(map[string]int),
	}
	var totalDuration int64
	errors := 0
	for _, row := range m.rows {
		if !m.matches(row, q) {
			continue
		}
		stats.TotalCalls++
		stats.TotalTokens += int64(row.TotalTokens)
		stats.CallsByType[row.CallType]++
		stats.CallsByAgent[row.AgentName]++
		stats.CallsByModel[row.Model]++
		totalDuration += row.DurationMS
		if row.Error != "" {
			errors++
		}
	}
	if stats.TotalCalls > 0 {
		stats.AvgDurationMS = float64(totalDuration) / float64(stats.TotalCalls)
		stats.ErrorRate = float64(errors) / float64(stats.TotalCalls)
	}
	return stats, nil
}

func (m *MemIndex) ListSessions(_ context.Context, limit int) ([]models.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := make(map[string]*models.SessionSummary)
	for _, row := range m.rows {
		if row.SessionID == "" {
			continue
		}
		s, ok := byID[row.SessionID]
		if !ok {
			s = &models.SessionSummary{SessionID: row.SessionID, StartTime: row.Timestamp, EndTime: row.Timestamp}
			byID[row.SessionID] = s
		}
		if row.Timestamp.Before(s.StartTime) {
			s.StartTime = row.Timestamp
		}
		if row.Timestamp.After(s.EndTime) {
			s.EndTime = row.Timestamp
		}
		s.CallCount++
		s.TotalTokens += int64(row.TotalTokens)
	}

	out := make([]models.SessionSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemIndex) ShardFor(_ context.Context, callID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.CallID == callID {
			return row.LogShard, nil
		}
	}
	return "", nil
}

func (m *MemIndex) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	deleted := 0
	for _, row := range m.rows {
		if row.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	m.rows = kept
	return deleted, nil
}
