package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityType classifies knowledge-graph nodes.
type EntityType string

const (
	EntityCompany  EntityType = "COMPANY"
	EntityPerson   EntityType = "PERSON"
	EntityProduct  EntityType = "PRODUCT"
	EntityOrg      EntityType = "ORG"
	EntityConcept  EntityType = "CONCEPT"
	EntityLocation EntityType = "LOCATION"
	EntityEvent    EntityType = "EVENT"
)

// ParseEntityType maps arbitrary input to a valid type, defaulting to
// COMPANY the way the extractor prompt assumes.
func ParseEntityType(s string) EntityType {
	switch EntityType(strings.ToUpper(strings.TrimSpace(s))) {
	case EntityCompany, EntityPerson, EntityProduct, EntityOrg, EntityConcept, EntityLocation, EntityEvent:
		return EntityType(strings.ToUpper(strings.TrimSpace(s)))
	default:
		return EntityCompany
	}
}

// RelationType classifies knowledge-graph edges.
type RelationType string

const (
	RelParentOf     RelationType = "parent_of"
	RelSubsidiaryOf RelationType = "subsidiary_of"
	RelCompetitor   RelationType = "competitor"
	RelPartner      RelationType = "partner"
	RelPeer         RelationType = "peer"
	RelSupplier     RelationType = "supplier"
	RelCustomer     RelationType = "customer"
	RelInvestor     RelationType = "investor"
	RelCEOOf        RelationType = "ceo_of"
	RelFounderOf    RelationType = "founder_of"
	RelEmployeeOf   RelationType = "employee_of"
)

var relationTypes = map[RelationType]struct{}{
	RelParentOf: {}, RelSubsidiaryOf: {}, RelCompetitor: {}, RelPartner: {},
	RelPeer: {}, RelSupplier: {}, RelCustomer: {}, RelInvestor: {},
	RelCEOOf: {}, RelFounderOf: {}, RelEmployeeOf: {},
}

// ParseRelationType validates a relation string; unknown values come back
// as RelPeer with ok=false so callers can decide whether to keep the edge.
func ParseRelationType(s string) (RelationType, bool) {
	rt := RelationType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := relationTypes[rt]; ok {
		return rt, true
	}
	return RelPeer, false
}

// Entity is a canonical knowledge-graph node. canonical_name is unique per
// type, case-insensitively.
type Entity struct {
	ID            string         `json:"id"`
	CanonicalName string         `json:"canonical_name"`
	Type          EntityType     `json:"type"`
	L3Root        string         `json:"l3_root"`
	L2Sector      string         `json:"l2_sector"`
	Attributes    map[string]any `json:"attributes,omitempty"`

	MentionCount   int        `json:"mention_count"`
	FirstMentioned *time.Time `json:"first_mentioned,omitempty"`
	LastMentioned  *time.Time `json:"last_mentioned,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewEntityID mints an opaque entity id.
func NewEntityID() string { return "entity_" + uuid.NewString()[:12] }

// EntityAlias maps a case-folded alias string to an entity. At most one
// primary alias per entity.
type EntityAlias struct {
	Alias     string    `json:"alias"`
	EntityID  string    `json:"entity_id"`
	IsPrimary bool      `json:"is_primary"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeAlias case-folds and trims an alias for lookup and storage.
func NormalizeAlias(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// EntityMention links an entity to one information unit. Unique per
// (entity_id, unit_id); duplicates collapse by last write.
type EntityMention struct {
	ID             string     `json:"id"`
	EntityID       string     `json:"entity_id"`
	UnitID         string     `json:"unit_id"`
	Role           string     `json:"role"`      // protagonist, supporting, mentioned
	Sentiment      string     `json:"sentiment"` // positive, neutral, negative
	StateDimension string     `json:"state_dimension"`
	StateDelta     string     `json:"state_delta"`
	EventTime      *time.Time `json:"event_time,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewMentionID mints a mention id.
func NewMentionID() string { return "mention_" + uuid.NewString()[:12] }

// EntityRelation is a typed edge. (source_id, target_id, relation_type) is
// unique; upserts union evidence and take max strength/confidence.
type EntityRelation struct {
	ID           string       `json:"id"`
	SourceID     string       `json:"source_id"`
	TargetID     string       `json:"target_id"`
	RelationType RelationType `json:"relation_type"`

	Strength        float64  `json:"strength"`
	Confidence      float64  `json:"confidence"`
	EvidenceUnitIDs []string `json:"evidence_unit_ids"`

	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewRelationID mints a relation id.
func NewRelationID() string { return "rel_" + uuid.NewString()[:12] }

// StateChange captures a dimension/delta pair declared by the extractor.
type StateChange struct {
	Dimension string `json:"dimension"`
	Delta     string `json:"delta"`
}

// ExtractedEntity is the raw extractor output before alias resolution.
type ExtractedEntity struct {
	Name        string       `json:"name"`
	Aliases     []string     `json:"aliases,omitempty"`
	Type        string       `json:"type"`
	Role        string       `json:"role"`
	StateChange *StateChange `json:"state_change,omitempty"`
}

// ExtractedRelation is the raw extractor output for an edge candidate.
type ExtractedRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
	Evidence string `json:"evidence,omitempty"`
}
