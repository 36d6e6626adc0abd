package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/pauldest/newsdigest/internal/vector"
	"github.com/pauldest/newsdigest/models"
)

// UnitExists reports whether a fingerprint is already stored.
func (s *Store) UnitExists(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM information_units WHERE fingerprint = $1`, fingerprint).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("unit exists: %w", err)
	}
	return true, nil
}

// GetUnitByFingerprint loads one unit (with sources) by fingerprint.
func (s *Store) GetUnitByFingerprint(ctx context.Context, fingerprint string) (*models.InformationUnit, error) {
	return s.getUnitWhere(ctx, "fingerprint = $1", fingerprint)
}

// GetUnit loads one unit (with sources) by id.
func (s *Store) GetUnit(ctx context.Context, id string) (*models.InformationUnit, error) {
	return s.getUnitWhere(ctx, "id = $1", id)
}

const unitColumns = `id, fingerprint, type, title, content, summary, event_time, report_time,
time_sensitivity, analysis_content, key_insights, analysis_depth_score,
information_gain, actionability, scarcity, impact_magnitude,
state_change_type, state_change_subtypes, entity_hierarchy,
who, what, when_time, where_place, why, how,
primary_source, extraction_confidence, credibility_score, importance_score,
sentiment, impact_assessment, related_unit_ids, entities, tags,
merged_count, is_sent, entity_processed, created_at, updated_at`

func (s *Store) getUnitWhere(ctx context.Context, where string, arg any) (*models.InformationUnit, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+unitColumns+` FROM information_units WHERE `+where, arg)
	unit, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadSources(ctx, unit); err != nil {
		return nil, err
	}
	return unit, nil
}

// SaveUnit upserts a unit by id inside one transaction, replacing its
// source rows and refreshing updated_at. created_at of an existing row is
// preserved.
func (s *Store) SaveUnit(ctx context.Context, u *models.InformationUnit) error {
	u.DedupSources()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save unit: %w", err)
	}
	defer tx.Rollback()

	keyInsights, _ := json.Marshal(orEmpty(u.KeyInsights))
	subtypes, _ := json.Marshal(orEmpty(u.StateChangeSubtypes))
	hierarchy, _ := json.Marshal(u.EntityHierarchy)
	who, _ := json.Marshal(orEmpty(u.Who))
	related, _ := json.Marshal(orEmpty(u.RelatedUnitIDs))
	entities, _ := json.Marshal(u.Entities)
	tags, _ := json.Marshal(orEmpty(u.Tags))
	if u.EntityHierarchy == nil {
		hierarchy = []byte("[]")
	}
	if u.Entities == nil {
		entities = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO information_units (
  id, fingerprint, type, title, content, summary, event_time, event_ts, report_time,
  time_sensitivity, analysis_content, key_insights, analysis_depth_score,
  information_gain, actionability, scarcity, impact_magnitude,
  state_change_type, state_change_subtypes, entity_hierarchy,
  who, what, when_time, where_place, why, how,
  primary_source, extraction_confidence, credibility_score, importance_score,
  sentiment, impact_assessment, related_unit_ids, entities, tags,
  merged_count, is_sent, entity_processed, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
  $21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38,NOW(),NOW()
)
ON CONFLICT (id) DO UPDATE SET
  fingerprint = EXCLUDED.fingerprint,
  type = EXCLUDED.type,
  title = EXCLUDED.title,
  content = EXCLUDED.content,
  summary = EXCLUDED.summary,
  event_time = EXCLUDED.event_time,
  event_ts = EXCLUDED.event_ts,
  report_time = EXCLUDED.report_time,
  time_sensitivity = EXCLUDED.time_sensitivity,
  analysis_content = EXCLUDED.analysis_content,
  key_insights = EXCLUDED.key_insights,
  analysis_depth_score = EXCLUDED.analysis_depth_score,
  information_gain = EXCLUDED.information_gain,
  actionability = EXCLUDED.actionability,
  scarcity = EXCLUDED.scarcity,
  impact_magnitude = EXCLUDED.impact_magnitude,
  state_change_type = EXCLUDED.state_change_type,
  state_change_subtypes = EXCLUDED.state_change_subtypes,
  entity_hierarchy = EXCLUDED.entity_hierarchy,
  who = EXCLUDED.who,
  what = EXCLUDED.what,
  when_time = EXCLUDED.when_time,
  where_place = EXCLUDED.where_place,
  why = EXCLUDED.why,
  how = EXCLUDED.how,
  primary_source = EXCLUDED.primary_source,
  extraction_confidence = EXCLUDED.extraction_confidence,
  credibility_score = EXCLUDED.credibility_score,
  importance_score = EXCLUDED.importance_score,
  sentiment = EXCLUDED.sentiment,
  impact_assessment = EXCLUDED.impact_assessment,
  related_unit_ids = EXCLUDED.related_unit_ids,
  entities = EXCLUDED.entities,
  tags = EXCLUDED.tags,
  merged_count = EXCLUDED.merged_count,
  is_sent = EXCLUDED.is_sent,
  entity_processed = EXCLUDED.entity_processed,
  updated_at = NOW()
`,
		u.ID, u.Fingerprint, string(u.Type), u.Title, u.Content, u.Summary,
		nullStr(u.EventTime), parseEventTime(u.EventTime), u.ReportTime,
		u.TimeSensitivity, u.AnalysisContent, keyInsights, u.AnalysisDepthScore,
		u.InformationGain, u.Actionability, u.Scarcity, u.ImpactMagnitude,
		u.StateChangeType, subtypes, hierarchy,
		who, u.What, u.When, u.Where, u.Why, u.How,
		u.PrimarySource, u.ExtractionConfidence, u.CredibilityScore, u.ImportanceScore,
		u.Sentiment, u.ImpactAssessment, related, entities, tags,
		u.MergedCount, u.IsSent, u.EntityProcessed)
	if err != nil {
		return fmt.Errorf("upsert unit: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM source_references WHERE unit_fingerprint = $1`, u.Fingerprint); err != nil {
		return fmt.Errorf("clear sources: %w", err)
	}
	for _, src := range u.Sources {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO source_references (unit_fingerprint, url, title, source_name, published_at, excerpt, credibility_tier)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (unit_fingerprint, url) DO NOTHING
`, u.Fingerprint, src.URL, src.Title, src.SourceName, src.PublishedAt, src.Excerpt, src.CredibilityTier); err != nil {
			return fmt.Errorf("insert source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save unit: %w", err)
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// GetUnsentUnits returns unsent units ordered by
// coalesce(event_ts, created_at) desc, sources loaded.
func (s *Store) GetUnsentUnits(ctx context.Context, limit int) ([]*models.InformationUnit, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+unitColumns+` FROM information_units
WHERE is_sent = FALSE
ORDER BY COALESCE(event_ts, created_at) DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("get unsent units: %w", err)
	}
	defer rows.Close()

	var out []*models.InformationUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, unit := range out {
		if err := s.loadSources(ctx, unit); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetRecentSentUnits returns the most recently emitted units, for the
// curator's history-avoidance window.
func (s *Store) GetRecentSentUnits(ctx context.Context, limit int) ([]*models.InformationUnit, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+unitColumns+` FROM information_units
WHERE is_sent = TRUE
ORDER BY updated_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent sent units: %w", err)
	}
	defer rows.Close()

	var out []*models.InformationUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	return out, rows.Err()
}

// MarkUnitsSent flags the units as emitted, in one statement.
func (s *Store) MarkUnitsSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE information_units SET is_sent = TRUE, updated_at = NOW() WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark units sent: %w", err)
	}
	return nil
}

// MarkUnitEntityProcessed flips entity_processed; the backfill sweep keys
// on this flag, so it must be set even for zero-entity units.
func (s *Store) MarkUnitEntityProcessed(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE information_units SET entity_processed = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark entity processed: %w", err)
	}
	return nil
}

// GetUnprocessedUnits lists units awaiting entity extraction, newest first.
func (s *Store) GetUnprocessedUnits(ctx context.Context, limit int) ([]*models.InformationUnit, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+unitColumns+` FROM information_units
WHERE entity_processed = FALSE
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("get unprocessed units: %w", err)
	}
	defer rows.Close()

	var out []*models.InformationUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	return out, rows.Err()
}

// FindSimilarUnits delegates to the vector index: the query text is the
// unit's title + summary + first three key insights, and hits at or above
// threshold come back as full units in descending score order, ties broken
// by earliest created_at.
func (s *Store) FindSimilarUnits(ctx context.Context, idx vector.Index, u *models.InformationUnit, threshold float64, topK int) ([]*models.InformationUnit, error) {
	if idx == nil {
		return nil, nil
	}
	insights := u.KeyInsights
	if len(insights) > 3 {
		insights = insights[:3]
	}
	query := strings.TrimSpace(u.Title + " " + u.Summary + " " + strings.Join(insights, " "))

	hits, err := idx.Search(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	type scored struct {
		unit  *models.InformationUnit
		score float64
	}
	var matches []scored
	for _, hit := range hits {
		if hit.Score < threshold || hit.ID == u.ID {
			continue
		}
		found, err := s.GetUnit(ctx, hit.ID)
		if err != nil {
			return nil, err
		}
		if found == nil {
			continue
		}
		matches = append(matches, scored{unit: found, score: hit.Score})
	}

	// Descending score; equal scores prefer the earliest created unit.
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].score > matches[i].score ||
				(matches[j].score == matches[i].score && matches[j].unit.CreatedAt.Before(matches[i].unit.CreatedAt)) {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}

	out := make([]*models.InformationUnit, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.unit)
	}
	return out, nil
}

func (s *Store) loadSources(ctx context.Context, u *models.InformationUnit) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT url, title, source_name, published_at, excerpt, credibility_tier
FROM source_references WHERE unit_fingerprint = $1
`, u.Fingerprint)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	defer rows.Close()

	u.Sources = nil
	for rows.Next() {
		var src models.SourceReference
		var publishedAt sql.NullTime
		if err := rows.Scan(&src.URL, &src.Title, &src.SourceName, &publishedAt, &src.Excerpt, &src.CredibilityTier); err != nil {
			return fmt.Errorf("scan source: %w", err)
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			src.PublishedAt = &t
		}
		u.Sources = append(u.Sources, src)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*models.InformationUnit, error) {
	var (
		u                                                         models.InformationUnit
		typ                                                       string
		eventTime                                                 sql.NullString
		reportTime                                                sql.NullTime
		keyInsights, subtypes, hierarchy, who, related, ents, tags []byte
	)
	err := row.Scan(&u.ID, &u.Fingerprint, &typ, &u.Title, &u.Content, &u.Summary,
		&eventTime, &reportTime, &u.TimeSensitivity, &u.AnalysisContent, &keyInsights,
		&u.AnalysisDepthScore, &u.InformationGain, &u.Actionability, &u.Scarcity,
		&u.ImpactMagnitude, &u.StateChangeType, &subtypes, &hierarchy,
		&who, &u.What, &u.When, &u.Where, &u.Why, &u.How,
		&u.PrimarySource, &u.ExtractionConfidence, &u.CredibilityScore, &u.ImportanceScore,
		&u.Sentiment, &u.ImpactAssessment, &related, &ents, &tags,
		&u.MergedCount, &u.IsSent, &u.EntityProcessed, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Type = models.InformationType(typ)
	if eventTime.Valid {
		u.EventTime = eventTime.String
	}
	if reportTime.Valid {
		t := reportTime.Time
		u.ReportTime = &t
	}
	json.Unmarshal(keyInsights, &u.KeyInsights)
	json.Unmarshal(subtypes, &u.StateChangeSubtypes)
	json.Unmarshal(hierarchy, &u.EntityHierarchy)
	json.Unmarshal(who, &u.Who)
	json.Unmarshal(related, &u.RelatedUnitIDs)
	json.Unmarshal(ents, &u.Entities)
	json.Unmarshal(tags, &u.Tags)
	return &u, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
