package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
)

// KeywordIndex is an in-memory bleve index over article titles and bodies.
// The Librarian pairs its hits with vector hits so exact names (tickers,
// product codes) are not lost to the hashing heuristic.
type KeywordIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	meta  map[string]keywordDoc
}

type keywordDoc struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	metadata map[string]any
}

// NewKeywordIndex builds a mem-only bleve index.
func NewKeywordIndex() (*KeywordIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &KeywordIndex{index: index, meta: make(map[string]keywordDoc)}, nil
}

// Add indexes one document for keyword recall.
func (k *KeywordIndex) Add(_ context.Context, id, title, content string, metadata map[string]any) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	doc := keywordDoc{Title: title, Content: content, metadata: metadata}
	k.meta[id] = doc
	return k.index.Index(id, doc)
}

// Search runs a match query and returns hits with bleve scores. Scores are
// not cosine-bounded; callers treat them as a ranking, not a similarity.
func (k *KeywordIndex) Search(_ context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), topK, 0, false)

	k.mu.RLock()
	defer k.mu.RUnlock()
	res, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		doc := k.meta[h.ID]
		hits = append(hits, Hit{
			ID:       h.ID,
			Title:    doc.Title,
			Content:  doc.Content,
			Score:    h.Score,
			Metadata: doc.metadata,
		})
	}
	return hits, nil
}

// Count reports the number of indexed documents.
func (k *KeywordIndex) Count() uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	n, _ := k.index.DocCount()
	return n
}
