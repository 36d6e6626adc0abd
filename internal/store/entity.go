package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pauldest/newsdigest/models"
)

// RegisterEntity inserts or refreshes an entity row.
func (s *Store) RegisterEntity(ctx context.Context, e *models.Entity) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	if e.Attributes == nil {
		attrs = []byte("{}")
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO entities (id, canonical_name, type, l3_root, l2_sector, attributes, mention_count, first_mentioned, last_mentioned, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (id) DO UPDATE SET
  canonical_name = EXCLUDED.canonical_name,
  type = EXCLUDED.type,
  l3_root = EXCLUDED.l3_root,
  l2_sector = EXCLUDED.l2_sector,
  attributes = EXCLUDED.attributes
`, e.ID, e.CanonicalName, string(e.Type), e.L3Root, e.L2Sector, attrs,
		e.MentionCount, e.FirstMentioned, e.LastMentioned)
	if err != nil {
		return fmt.Errorf("register entity: %w", err)
	}
	return nil
}

// GetEntity loads one entity by id.
func (s *Store) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, canonical_name, type, l3_root, l2_sector, attributes, mention_count, first_mentioned, last_mentioned, created_at
FROM entities WHERE id = $1
`, id)
	return scanEntity(row)
}

// AddAlias registers a case-folded alias for an entity.
func (s *Store) AddAlias(ctx context.Context, alias, entityID string, isPrimary bool) error {
	normalized := models.NormalizeAlias(alias)
	if normalized == "" {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO entity_aliases (alias, entity_id, is_primary, source, created_at)
VALUES ($1,$2,$3,'ai',NOW())
ON CONFLICT (alias) DO UPDATE SET entity_id = EXCLUDED.entity_id, is_primary = EXCLUDED.is_primary
`, normalized, entityID, isPrimary)
	if err != nil {
		return fmt.Errorf("add alias: %w", err)
	}
	return nil
}

// ResolveAlias maps an alias to an entity id, or "" on miss. Idempotent.
func (s *Store) ResolveAlias(ctx context.Context, alias string) (string, error) {
	normalized := models.NormalizeAlias(alias)
	var id string
	err := s.DB.QueryRowContext(ctx,
		`SELECT entity_id FROM entity_aliases WHERE alias = $1`, normalized).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve alias: %w", err)
	}
	return id, nil
}

// RecordMention upserts a mention, unique per (entity, unit); a duplicate
// collapses by last write and does not double-increment mention_count.
func (s *Store) RecordMention(ctx context.Context, m *models.EntityMention) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record mention: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO entity_mentions (id, entity_id, unit_id, role, sentiment, state_dimension, state_delta, event_time, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (entity_id, unit_id) DO UPDATE SET
  role = EXCLUDED.role,
  sentiment = EXCLUDED.sentiment,
  state_dimension = EXCLUDED.state_dimension,
  state_delta = EXCLUDED.state_delta,
  event_time = EXCLUDED.event_time
`, m.ID, m.EntityID, m.UnitID, m.Role, m.Sentiment, m.StateDimension, m.StateDelta, m.EventTime)
	if err != nil {
		return fmt.Errorf("upsert mention: %w", err)
	}

	// Only a fresh mention bumps the counter; last_mentioned never moves
	// backwards.
	_, err = tx.ExecContext(ctx, `
UPDATE entities SET
  mention_count = (SELECT COUNT(*) FROM entity_mentions WHERE entity_id = $1),
  first_mentioned = LEAST(COALESCE(first_mentioned, $2), $2),
  last_mentioned = GREATEST(COALESCE(last_mentioned, $2), $2)
WHERE id = $1
`, m.EntityID, coalesceTime(m.EventTime))
	if err != nil {
		return fmt.Errorf("update mention stats: %w", err)
	}

	return tx.Commit()
}

func coalesceTime(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return time.Now().UTC()
}

// UpsertRelation writes one edge atomically. The composite primary key on
// (source_id, target_id, relation_type) makes concurrent upserts converge:
// evidence lists union, strength/confidence take the max.
func (s *Store) UpsertRelation(ctx context.Context, r *models.EntityRelation) error {
	evidence, err := json.Marshal(orEmpty(r.EvidenceUnitIDs))
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO entity_relations (id, source_id, target_id, relation_type, strength, confidence, evidence_unit_ids, valid_from, valid_to, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (source_id, target_id, relation_type) DO UPDATE SET
  strength = GREATEST(entity_relations.strength, EXCLUDED.strength),
  confidence = GREATEST(entity_relations.confidence, EXCLUDED.confidence),
  evidence_unit_ids = (
    SELECT COALESCE(jsonb_agg(DISTINCT value), '[]'::jsonb)
    FROM jsonb_array_elements(entity_relations.evidence_unit_ids || EXCLUDED.evidence_unit_ids)
  )
`, r.ID, r.SourceID, r.TargetID, string(r.RelationType), r.Strength, r.Confidence,
		evidence, r.ValidFrom, r.ValidTo)
	if err != nil {
		return fmt.Errorf("upsert relation: %w", err)
	}
	return nil
}

// GetRelations lists the edges touching an entity.
func (s *Store) GetRelations(ctx context.Context, entityID string) ([]models.EntityRelation, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, source_id, target_id, relation_type, strength, confidence, evidence_unit_ids, valid_from, valid_to, created_at
FROM entity_relations WHERE source_id = $1 OR target_id = $1
`, entityID)
	if err != nil {
		return nil, fmt.Errorf("get relations: %w", err)
	}
	defer rows.Close()

	var out []models.EntityRelation
	for rows.Next() {
		var (
			r         models.EntityRelation
			relType   string
			evidence  []byte
			validFrom sql.NullTime
			validTo   sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &relType, &r.Strength,
			&r.Confidence, &evidence, &validFrom, &validTo, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		r.RelationType = models.RelationType(relType)
		json.Unmarshal(evidence, &r.EvidenceUnitIDs)
		if validFrom.Valid {
			t := validFrom.Time
			r.ValidFrom = &t
		}
		if validTo.Valid {
			t := validTo.Time
			r.ValidTo = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ProcessExtracted resolves, creates and links the entities and relations
// the extractor found in one unit. Returns extracted name → entity id.
func (s *Store) ProcessExtracted(ctx context.Context, unitID string, entities []models.ExtractedEntity, relations []models.ExtractedRelation, eventTime *time.Time) (map[string]string, error) {
	idMap := make(map[string]string, len(entities))

	for _, ext := range entities {
		if ext.Name == "" {
			continue
		}
		entityID, err := s.ResolveAlias(ctx, ext.Name)
		if err != nil {
			return idMap, err
		}
		if entityID == "" {
			seed := coalesceTime(eventTime)
			entity := &models.Entity{
				ID:             models.NewEntityID(),
				CanonicalName:  ext.Name,
				Type:           models.ParseEntityType(ext.Type),
				FirstMentioned: &seed,
				LastMentioned:  &seed,
			}
			if err := s.RegisterEntity(ctx, entity); err != nil {
				return idMap, err
			}
			entityID = entity.ID
			if err := s.AddAlias(ctx, ext.Name, entityID, true); err != nil {
				return idMap, err
			}
			for _, alias := range ext.Aliases {
				if err := s.AddAlias(ctx, alias, entityID, false); err != nil {
					return idMap, err
				}
			}
		}
		idMap[ext.Name] = entityID

		role := ext.Role
		if role == "" {
			role = "protagonist"
		}
		mention := &models.EntityMention{
			ID:        models.NewMentionID(),
			EntityID:  entityID,
			UnitID:    unitID,
			Role:      role,
			Sentiment: "neutral",
			EventTime: eventTime,
		}
		if ext.StateChange != nil {
			mention.StateDimension = ext.StateChange.Dimension
			mention.StateDelta = ext.StateChange.Delta
		}
		if err := s.RecordMention(ctx, mention); err != nil {
			return idMap, err
		}
	}

	for _, rel := range relations {
		sourceID := idMap[rel.Source]
		if sourceID == "" {
			var err error
			sourceID, err = s.ResolveAlias(ctx, rel.Source)
			if err != nil {
				return idMap, err
			}
		}
		targetID := idMap[rel.Target]
		if targetID == "" {
			var err error
			targetID, err = s.ResolveAlias(ctx, rel.Target)
			if err != nil {
				return idMap, err
			}
		}
		if sourceID == "" || targetID == "" {
			continue
		}
		relType, ok := models.ParseRelationType(rel.Relation)
		if !ok {
			continue
		}
		relation := &models.EntityRelation{
			ID:              models.NewRelationID(),
			SourceID:        sourceID,
			TargetID:        targetID,
			RelationType:    relType,
			Strength:        1.0,
			Confidence:      0.8,
			EvidenceUnitIDs: []string{unitID},
		}
		if err := s.UpsertRelation(ctx, relation); err != nil {
			return idMap, err
		}
	}

	return idMap, nil
}

// HotEntityRow pairs an entity with window counts for trend computation.
type HotEntityRow struct {
	Entity        models.Entity
	RecentCount   int
	PreviousCount int
	Trend         string
	ChangePct     float64
}

// GetHotEntities returns the top entities by mentions in the window, with
// a trend computed against the prior equal-length window.
func (s *Store) GetHotEntities(ctx context.Context, days, limit int) ([]HotEntityRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT e.id, COUNT(m.id) AS recent_count
FROM entities e
JOIN entity_mentions m ON e.id = m.entity_id
WHERE m.created_at >= NOW() - make_interval(days => $1)
GROUP BY e.id
ORDER BY recent_count DESC
LIMIT $2
`, days, limit)
	if err != nil {
		return nil, fmt.Errorf("hot entities: %w", err)
	}
	defer rows.Close()

	type idCount struct {
		id    string
		count int
	}
	var tops []idCount
	for rows.Next() {
		var ic idCount
		if err := rows.Scan(&ic.id, &ic.count); err != nil {
			return nil, fmt.Errorf("scan hot entity: %w", err)
		}
		tops = append(tops, ic)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []HotEntityRow
	for _, top := range tops {
		var previous int
		err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM entity_mentions
WHERE entity_id = $1
  AND created_at >= NOW() - make_interval(days => $2 * 2)
  AND created_at <  NOW() - make_interval(days => $2)
`, top.id, days).Scan(&previous)
		if err != nil {
			return nil, fmt.Errorf("previous window count: %w", err)
		}

		entity, err := s.GetEntity(ctx, top.id)
		if err != nil || entity == nil {
			continue
		}

		row := HotEntityRow{Entity: *entity, RecentCount: top.count, PreviousCount: previous}
		switch {
		case previous == 0 && top.count > 0:
			row.Trend = "new"
			row.ChangePct = 100
		case previous == 0:
			row.Trend = "stable"
		default:
			row.ChangePct = float64(top.count-previous) / float64(previous) * 100
			switch {
			case row.ChangePct > 20:
				row.Trend = "up"
			case row.ChangePct < -20:
				row.Trend = "down"
			default:
				row.Trend = "stable"
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// TimelineEntry is one mention joined with its unit's headline.
type TimelineEntry struct {
	MentionID   string     `json:"mention_id"`
	EventTime   *time.Time `json:"event_time,omitempty"`
	Dimension   string     `json:"dimension"`
	Delta       string     `json:"delta"`
	UnitID      string     `json:"unit_id"`
	UnitTitle   string     `json:"unit_title"`
	UnitSummary string     `json:"unit_summary"`
}

// GetEntityTimeline returns an entity's mentions in the window,
// chronologically newest-first, optionally filtered by state dimension.
func (s *Store) GetEntityTimeline(ctx context.Context, entityID string, start, end *time.Time, dimensions []string, limit int) ([]TimelineEntry, error) {
	query := `
SELECT m.id, m.event_time, m.state_dimension, m.state_delta, m.unit_id,
       COALESCE(u.title, ''), COALESCE(u.summary, '')
FROM entity_mentions m
LEFT JOIN information_units u ON m.unit_id = u.id
WHERE m.entity_id = $1`
	args := []any{entityID}

	if start != nil {
		args = append(args, *start)
		query += fmt.Sprintf(" AND m.event_time >= $%d", len(args))
	}
	if end != nil {
		args = append(args, *end)
		query += fmt.Sprintf(" AND m.event_time <= $%d", len(args))
	}
	if len(dimensions) > 0 {
		args = append(args, pq.Array(dimensions))
		query += fmt.Sprintf(" AND m.state_dimension = ANY($%d)", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY m.event_time DESC NULLS LAST LIMIT $%d", len(args))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("entity timeline: %w", err)
	}
	defer rows.Close()

	var out []TimelineEntry
	for rows.Next() {
		var (
			entry     TimelineEntry
			eventTime sql.NullTime
		)
		if err := rows.Scan(&entry.MentionID, &eventTime, &entry.Dimension, &entry.Delta,
			&entry.UnitID, &entry.UnitTitle, &entry.UnitSummary); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		if eventTime.Valid {
			t := eventTime.Time
			entry.EventTime = &t
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// EgoNetwork is a BFS neighborhood around one entity.
type EgoNetwork struct {
	Center    models.Entity           `json:"center"`
	Entities  []models.Entity         `json:"entities"`
	Relations []models.EntityRelation `json:"relations"`
}

// GetEntityNetwork walks the relation edges breadth-first to the given
// depth. Edges are plain rows, so cycles terminate naturally on the
// visited set.
func (s *Store) GetEntityNetwork(ctx context.Context, entityID string, depth int) (*EgoNetwork, error) {
	center, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if center == nil {
		return nil, nil
	}
	if depth <= 0 {
		depth = 1
	}

	visited := map[string]struct{}{entityID: {}}
	seenRel := map[string]struct{}{}
	frontier := []string{entityID}

	network := &EgoNetwork{Center: *center}
	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			relations, err := s.GetRelations(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, rel := range relations {
				relKey := rel.SourceID + "|" + rel.TargetID + "|" + string(rel.RelationType)
				if _, ok := seenRel[relKey]; !ok {
					seenRel[relKey] = struct{}{}
					network.Relations = append(network.Relations, rel)
				}
				for _, neighbor := range []string{rel.SourceID, rel.TargetID} {
					if _, ok := visited[neighbor]; ok {
						continue
					}
					visited[neighbor] = struct{}{}
					next = append(next, neighbor)
					entity, err := s.GetEntity(ctx, neighbor)
					if err != nil {
						return nil, err
					}
					if entity != nil {
						network.Entities = append(network.Entities, *entity)
					}
				}
			}
		}
		frontier = next
	}
	return network, nil
}

// EntityStats counts graph rows for the status endpoint.
func (s *Store) EntityStats(ctx context.Context) (entities, aliases, mentions, relations int, err error) {
	err = s.DB.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM entities),
       (SELECT COUNT(*) FROM entity_aliases),
       (SELECT COUNT(*) FROM entity_mentions),
       (SELECT COUNT(*) FROM entity_relations)
`).Scan(&entities, &aliases, &mentions, &relations)
	if err != nil {
		err = fmt.Errorf("entity stats: %w", err)
	}
	return
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var (
		e              models.Entity
		typ            string
		attrs          []byte
		firstMentioned sql.NullTime
		lastMentioned  sql.NullTime
	)
	err := row.Scan(&e.ID, &e.CanonicalName, &typ, &e.L3Root, &e.L2Sector, &attrs,
		&e.MentionCount, &firstMentioned, &lastMentioned, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	e.Type = models.EntityType(typ)
	json.Unmarshal(attrs, &e.Attributes)
	if firstMentioned.Valid {
		t := firstMentioned.Time
		e.FirstMentioned = &t
	}
	if lastMentioned.Valid {
		t := lastMentioned.Time
		e.LastMentioned = &t
	}
	return &e, nil
}
