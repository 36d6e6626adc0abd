package vector

import (
	"context"
	"fmt"
	"math"
	"testing"
)

func TestHashEmbeddingShape(t *testing.T) {
	vec := HashEmbedding("quick brown fox")
	if len(vec) != hashDims {
		t.Fatalf("expected %d dims, got %d", hashDims, len(vec))
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-9 {
		t.Fatalf("vector must be L2-normalized, norm %f", math.Sqrt(norm))
	}
}

func TestHashEmbeddingEmptyText(t *testing.T) {
	vec := HashEmbedding("")
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("empty text must embed to the zero vector")
		}
	}
}

func TestCosineSelfSimilarity(t *testing.T) {
	vec := HashEmbedding("OpenAI releases new model with major benchmark gains")
	if sim := Cosine(vec, vec); math.Abs(sim-1.0) > 1e-9 {
		t.Fatalf("self-similarity must be 1, got %f", sim)
	}
}

func TestSimilarTextsScoreHigherThanDissimilar(t *testing.T) {
	a := HashEmbedding("NVIDIA announces new GPU for AI data centers")
	b := HashEmbedding("NVIDIA launches its new data center AI GPU")
	c := HashEmbedding("Local bakery wins pie contest in rural village fair")

	if Cosine(a, b) <= Cosine(a, c) {
		t.Fatalf("related texts must outscore unrelated ones: %f vs %f", Cosine(a, b), Cosine(a, c))
	}
}

func TestHashIndexSearchOrdering(t *testing.T) {
	idx := NewHashIndex()
	ctx := context.Background()
	idx.Add(ctx, "1", "NVIDIA GPU launch for AI workloads", "data center silicon", nil)
	idx.Add(ctx, "2", "Quarterly pie baking championship", "flour butter sugar", nil)

	hits, err := idx.Search(ctx, "NVIDIA AI GPU data center", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "1" {
		t.Fatalf("highest-similarity hit must come first, got %s", hits[0].ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("scores must descend")
	}
	for _, h := range hits {
		if h.Score < -1.0001 || h.Score > 1.0001 {
			t.Fatalf("cosine score out of range: %f", h.Score)
		}
	}
}

func TestHashIndexSearchWindowBound(t *testing.T) {
	idx := NewHashIndex()
	ctx := context.Background()
	for i := 0; i < searchWindow+20; i++ {
		idx.Add(ctx, fmt.Sprintf("id-%d", i), fmt.Sprintf("document number %d", i), "body", nil)
	}
	hits, err := idx.Search(ctx, "document", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) > searchWindow {
		t.Fatalf("search must scan at most %d recent vectors, got %d hits", searchWindow, len(hits))
	}
}

func TestHashIndexUpsertAndClear(t *testing.T) {
	idx := NewHashIndex()
	ctx := context.Background()
	idx.Add(ctx, "a", "first", "one", nil)
	idx.Add(ctx, "a", "first revised", "two", nil)
	if idx.Count() != 1 {
		t.Fatalf("re-adding the same id must replace, count %d", idx.Count())
	}
	idx.Clear(ctx)
	if idx.Count() != 0 {
		t.Fatalf("clear must drop every entry")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	idx := NewHashIndex()
	ctx := context.Background()
	idx.Add(ctx, "old", "old doc", "x", nil)
	idx.Add(ctx, "new", "new doc", "y", nil)
	hits, err := idx.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ID != "new" {
		t.Fatalf("recent must return newest first: %+v", hits)
	}
}
