package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pauldest/newsdigest/internal/helpers"
	"github.com/pauldest/newsdigest/internal/llm"
	"github.com/pauldest/newsdigest/models"
)

const backfillSystemPrompt = `You are an entity-relation extraction specialist. Given a title and
content, extract the entities involved and the relations between them.

Targets:
1. Entities: companies (COMPANY), people (PERSON), products (PRODUCT),
   organizations (ORG), concepts (CONCEPT). Include aliases (short names,
   alternative spellings), the entity's role (protagonist / supporting /
   mentioned), and any state change.
2. Relations: competitor, partner, supplier, customer, investor, ceo_of,
   founder_of, employee_of, parent_of, subsidiary_of, peer. Include the
   supporting passage as evidence.

Output strictly this JSON shape:
{
  "entities_mentioned": [
    {"name": "canonical name", "aliases": ["alias"], "type": "COMPANY",
     "role": "protagonist", "state_change": {"dimension": "TECH", "delta": "released new product"}}
  ],
  "entity_relations": [
    {"source": "Entity A", "target": "Entity B", "relation": "competitor", "evidence": "quote"}
  ]
}

Return empty lists when nothing qualifies. The JSON must be valid.`

// BackfillStore is the slice of the store the backfill sweep needs.
type BackfillStore interface {
	GetUnprocessedUnits(ctx context.Context, limit int) ([]*models.InformationUnit, error)
	MarkUnitEntityProcessed(ctx context.Context, id string) error
}

// EntityBackfill sweeps stored units that predate the knowledge graph and
// extracts their entities. The entity_processed flag is set on every unit
// whose extraction completes, including those yielding zero entities; a
// unit whose model call or graph write fails stays unflagged and is listed
// again by the next run.
type EntityBackfill struct {
	agent
	store BackfillStore
	graph EntityGraph
}

// NewEntityBackfill builds the sweep agent.
func NewEntityBackfill(svc *llm.Service, store BackfillStore, graph EntityGraph, logger *log.Logger) *EntityBackfill {
	return &EntityBackfill{
		agent: newAgent("EntityBackfill", backfillSystemPrompt, svc, logger),
		store: store,
		graph: graph,
	}
}

// Run processes up to limit pending units. Per-unit failures are logged
// and skipped.
func (b *EntityBackfill) Run(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = 100
	}
	units, err := b.store.GetUnprocessedUnits(ctx, limit)
	if err != nil {
		return fmt.Errorf("load pending units: %w", err)
	}
	b.logger.Printf("backfill: %d pending units", len(units))

	processed := 0
	for _, unit := range units {
		if err := b.processUnit(ctx, unit); err != nil {
			b.logger.Printf("backfill unit %s failed: %v", unit.ID, err)
			continue
		}
		processed++
	}
	b.logger.Printf("backfill complete: %d/%d units", processed, len(units))
	return nil
}

func (b *EntityBackfill) processUnit(ctx context.Context, unit *models.InformationUnit) error {
	prompt := fmt.Sprintf("Title: %s\n\nContent:\n%s", unit.Title, helpers.Truncate(unit.Content, 3000))

	raw, _, err := b.invokeJSON(ctx, prompt, llm.Options{MaxTokens: 1500, Temperature: llm.Temp(0.2)})
	if err != nil {
		return err
	}

	var parsed struct {
		Entities  []models.ExtractedEntity   `json:"entities_mentioned"`
		Relations []models.ExtractedRelation `json:"entity_relations"`
	}
	if raw != nil {
		json.Unmarshal(raw, &parsed)
	}

	if b.graph != nil && len(parsed.Entities) > 0 {
		var eventTime *time.Time
		if t := models.ParseEventTime(unit.EventTime); t != nil {
			eventTime = t
		} else if unit.ReportTime != nil {
			eventTime = unit.ReportTime
		}
		if _, err := b.graph.ProcessExtracted(ctx, unit.ID, parsed.Entities, parsed.Relations, eventTime); err != nil {
			return err
		}
	}

	// Flip the flag once extraction completed, even with zero entities.
	return b.store.MarkUnitEntityProcessed(ctx, unit.ID)
}
