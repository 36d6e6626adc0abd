package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pauldest/newsdigest/provider"
)

// EmbeddingIndex backs the Index contract with real model embeddings from
// the provider, for deployments that can afford the calls. Vectors stay in
// memory; the search window matches the reference backend.
type EmbeddingIndex struct {
	provider provider.Provider

	mu      sync.RWMutex
	entries []embedEntry
}

type embedEntry struct {
	id       string
	title    string
	content  string
	vec      []float32
	metadata map[string]any
	addedAt  time.Time
}

// NewEmbeddingIndex wraps a provider as a vector backend.
func NewEmbeddingIndex(p provider.Provider) *EmbeddingIndex {
	return &EmbeddingIndex{provider: p}
}

func (e *EmbeddingIndex) Add(ctx context.Context, id, title, content string, metadata map[string]any) error {
	body := content
	if len(body) > maxStoredBody {
		body = body[:maxStoredBody]
	}
	vecs, err := e.provider.CreateEmbedding(ctx, []string{title + " " + body})
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}
	if len(vecs) == 0 {
		return fmt.Errorf("embed document: empty response")
	}

	entry := embedEntry{id: id, title: title, content: body, vec: vecs[0], metadata: metadata, addedAt: time.Now()}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.entries {
		if e.entries[i].id == id {
			e.entries[i] = entry
			return nil
		}
	}
	e.entries = append(e.entries, entry)
	return nil
}

func (e *EmbeddingIndex) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	vecs, err := e.provider.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	qvec := vecs[0]

	e.mu.RLock()
	entries := make([]embedEntry, len(e.entries))
	copy(entries, e.entries)
	e.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].addedAt.After(entries[j].addedAt) })
	if len(entries) > searchWindow {
		entries = entries[:searchWindow]
	}

	hits := make([]Hit, 0, len(entries))
	for _, entry := range entries {
		hits = append(hits, Hit{
			ID:       entry.id,
			Title:    entry.title,
			Content:  entry.content,
			Score:    cosine32(qvec, entry.vec),
			Metadata: entry.metadata,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (e *EmbeddingIndex) Recent(_ context.Context, limit int) ([]Hit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entries := make([]embedEntry, len(e.entries))
	copy(entries, e.entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].addedAt.After(entries[j].addedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	hits := make([]Hit, 0, len(entries))
	for _, entry := range entries {
		hits = append(hits, Hit{ID: entry.id, Title: entry.title, Content: entry.content, Metadata: entry.metadata})
	}
	return hits, nil
}

func (e *EmbeddingIndex) Clear(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = nil
	return nil
}

func cosine32(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
