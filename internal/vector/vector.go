package vector

import "context"

// Hit is one search result. Scores descend; the Index backends return
// cosine scores in [-1,1], while KeywordIndex returns unbounded bleve
// scores.
type Hit struct {
	ID       string
	Title    string
	Content  string
	Score    float64
	Metadata map[string]any
}

// Index is the pluggable similarity backend. The orchestrator treats it as
// opaque: any implementation returning descending-score hits works.
type Index interface {
	Add(ctx context.Context, id, title, content string, metadata map[string]any) error
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
	Recent(ctx context.Context, limit int) ([]Hit, error)
	Clear(ctx context.Context) error
}
