package store

import (
	"context"

	"github.com/pauldest/newsdigest/internal/vector"
	"github.com/pauldest/newsdigest/models"
)

// InfoSearch pairs the SQL store with a vector index so the orchestrator
// sees one information-store surface.
type InfoSearch struct {
	*Store
	Index vector.Index
}

// NewInfoSearch wires a store and an index.
func NewInfoSearch(s *Store, idx vector.Index) *InfoSearch {
	return &InfoSearch{Store: s, Index: idx}
}

// FindSimilar delegates the similarity query to the vector index and
// hydrates the hits from SQL.
func (i *InfoSearch) FindSimilar(ctx context.Context, u *models.InformationUnit, threshold float64, topK int) ([]*models.InformationUnit, error) {
	return i.Store.FindSimilarUnits(ctx, i.Index, u, threshold, topK)
}

// SaveUnit persists the unit and mirrors it into the vector index so later
// candidates can match it semantically.
func (i *InfoSearch) SaveUnit(ctx context.Context, u *models.InformationUnit) error {
	if err := i.Store.SaveUnit(ctx, u); err != nil {
		return err
	}
	if i.Index != nil {
		text := u.Summary
		if text == "" {
			text = u.Content
		}
		_ = i.Index.Add(ctx, u.ID, u.Title, text, map[string]any{"fingerprint": u.Fingerprint})
	}
	return nil
}
