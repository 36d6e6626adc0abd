package vector

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// Dimensions of the hashed-feature vector.
	hashDims = 256
	// Search scans at most this many of the most recent vectors.
	searchWindow = 100
	// Token and character budgets for feature extraction.
	maxWordTokens = 200
	maxNgramChars = 500
	maxStoredBody = 2000
)

// HashIndex is the reference backend: a 256-dimensional hashed-feature
// embedding with cosine similarity over the most recent entries. It is a
// deduplication-quality heuristic, not a search engine.
type HashIndex struct {
	mu      sync.RWMutex
	entries []hashEntry
}

type hashEntry struct {
	id       string
	title    string
	content  string
	vec      []float64
	metadata map[string]any
	addedAt  time.Time
}

// NewHashIndex returns an empty in-memory hashed-feature index.
func NewHashIndex() *HashIndex { return &HashIndex{} }

// Add indexes (or reindexes) one document.
func (h *HashIndex) Add(_ context.Context, id, title, content string, metadata map[string]any) error {
	body := content
	if len(body) > maxStoredBody {
		body = body[:maxStoredBody]
	}
	entry := hashEntry{
		id:       id,
		title:    title,
		content:  body,
		vec:      HashEmbedding(title + " " + body),
		metadata: metadata,
		addedAt:  time.Now(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.entries {
		if h.entries[i].id == id {
			h.entries[i] = entry
			return nil
		}
	}
	h.entries = append(h.entries, entry)
	return nil
}

// Search scans the searchWindow most recent entries by cosine similarity.
func (h *HashIndex) Search(_ context.Context, query string, topK int) ([]Hit, error) {
	qvec := HashEmbedding(query)

	h.mu.RLock()
	window := h.recentLocked(searchWindow)
	h.mu.RUnlock()

	hits := make([]Hit, 0, len(window))
	for _, e := range window {
		hits = append(hits, Hit{
			ID:       e.id,
			Title:    e.title,
			Content:  e.content,
			Score:    Cosine(qvec, e.vec),
			Metadata: e.metadata,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Recent lists the most recently added documents, newest first.
func (h *HashIndex) Recent(_ context.Context, limit int) ([]Hit, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	window := h.recentLocked(limit)
	hits := make([]Hit, 0, len(window))
	for _, e := range window {
		hits = append(hits, Hit{ID: e.id, Title: e.title, Content: e.content, Metadata: e.metadata})
	}
	return hits, nil
}

func (h *HashIndex) recentLocked(limit int) []hashEntry {
	entries := make([]hashEntry, len(h.entries))
	copy(entries, h.entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].addedAt.After(entries[j].addedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Clear drops every entry.
func (h *HashIndex) Clear(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	return nil
}

// Count reports how many documents are indexed.
func (h *HashIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// HashEmbedding folds word tokens plus character 2-grams and 3-grams into
// a fixed 256-dimensional signed feature vector, L2-normalized.
func HashEmbedding(text string) []float64 {
	vec := make([]float64, hashDims)
	if text == "" {
		return vec
	}

	lower := strings.ToLower(text)
	var features []string

	words := strings.Fields(lower)
	if len(words) > maxWordTokens {
		words = words[:maxWordTokens]
	}
	features = append(features, words...)

	ngramSrc := lower
	if len(ngramSrc) > maxNgramChars {
		ngramSrc = ngramSrc[:maxNgramChars]
	}
	for i := 0; i+2 <= len(ngramSrc); i++ {
		features = append(features, ngramSrc[i:i+2])
	}
	for i := 0; i+3 <= len(ngramSrc); i++ {
		features = append(features, ngramSrc[i:i+3])
	}

	for _, feature := range features {
		hash := featureHash(feature)
		idx := hash % hashDims
		sign := 1.0
		if (hash/hashDims)%2 != 0 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func featureHash(feature string) uint64 {
	sum := md5.Sum([]byte(feature))
	return binary.BigEndian.Uint64(sum[:8])
}

// Cosine returns the dot product of two equal-length vectors, which is
// their cosine similarity when both are L2-normalized (as HashEmbedding
// output is). Inputs are not normalized here.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}
