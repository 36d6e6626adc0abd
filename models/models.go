package models

import (
	"strings"
	"time"
)

// Article is a single feed entry. The canonical URL is its identity: two
// articles with the same URL are the same article.
type Article struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Summary     string     `json:"summary"`
	Source      string     `json:"source"`
	Category    string     `json:"category"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// SimpleEntity is a lightweight entity reference produced by the Collector.
type SimpleEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// TimelineEvent is one point on a multi-event article timeline.
type TimelineEvent struct {
	Time       string `json:"time"`
	Event      string `json:"event"`
	Importance string `json:"importance"`
}

// KnowledgeGraphNode / KnowledgeGraphEdge form the Librarian's sketch graph.
type KnowledgeGraphNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type KnowledgeGraphEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

type KnowledgeGraph struct {
	Nodes []KnowledgeGraphNode `json:"nodes"`
	Edges []KnowledgeGraphEdge `json:"edges"`
}

// Extraction holds the Collector output: 5W1H plus entities and timeline.
type Extraction struct {
	Who         []string        `json:"who"`
	What        string          `json:"what"`
	When        string          `json:"when"`
	Where       string          `json:"where"`
	Why         string          `json:"why"`
	How         string          `json:"how"`
	CoreSummary string          `json:"core_summary"`
	Entities    []SimpleEntity  `json:"entities"`
	Timeline    []TimelineEvent `json:"timeline"`
	Tags        []string        `json:"tags"`
}

// AnalystReport is the fixed schema each analyst (skeptic, economist,
// detective) emits. Empty reports are valid: a failed analyst leaves its
// slot blank without failing the pipeline.
type AnalystReport struct {
	Perspective string   `json:"perspective"`
	Findings    []string `json:"findings"`
	Concerns    []string `json:"concerns"`
	Assessment  string   `json:"assessment"`
	Confidence  float64  `json:"confidence"`
}

// EnrichedArticle is the article-centric analysis result.
type EnrichedArticle struct {
	Article

	Who       []string `json:"who"`
	What      string   `json:"what"`
	When      string   `json:"when"`
	Where     string   `json:"where"`
	Why       string   `json:"why"`
	How       string   `json:"how"`
	AISummary string   `json:"ai_summary"`
	Tags      []string `json:"tags"`

	HistoricalContext string          `json:"historical_context,omitempty"`
	KnowledgeGraph    *KnowledgeGraph `json:"knowledge_graph,omitempty"`

	AnalystReports map[string]AnalystReport `json:"analyst_reports,omitempty"`

	OverallScore float64      `json:"overall_score"`
	IsTopPick    bool         `json:"is_top_pick"`
	Reasoning    string       `json:"reasoning,omitempty"`
	AnalysisMode string       `json:"analysis_mode"`
	AgentTraces  []AgentTrace `json:"agent_traces,omitempty"`
}

// EnrichedFromArticle builds the degraded result used when analysis fails.
func EnrichedFromArticle(a Article) EnrichedArticle {
	return EnrichedArticle{
		Article:      a,
		What:         a.Title,
		AISummary:    firstN(a.Summary, 200),
		OverallScore: 5.0,
	}
}

// DigestItem is one curated entry in an outgoing digest.
type DigestItem struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	Source       string   `json:"source"`
	EventTime    string   `json:"event_time,omitempty"`
	Summary      string   `json:"summary"`
	Analysis     string   `json:"analysis,omitempty"`
	Impact       string   `json:"impact,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`
	Score        float64  `json:"score"`
	Tags         []string `json:"tags,omitempty"`
	MergedCount  int      `json:"merged_count"`
	SourceCount  int      `json:"source_count"`
}

// HotEntity is one trending knowledge-graph entity for the digest.
type HotEntity struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	RecentCount   int     `json:"recent_count"`
	PreviousCount int     `json:"previous_count"`
	Trend         string  `json:"trend"` // up, down, stable, new
	ChangePct     float64 `json:"change_pct"`
}

// Digest is a single delivered summary for a time window.
type Digest struct {
	Date          time.Time    `json:"date"`
	DailySummary  string       `json:"daily_summary"`
	TopPicks      []DigestItem `json:"top_picks"`
	QuickReads    []DigestItem `json:"quick_reads"`
	HotEntities   []HotEntity  `json:"hot_entities,omitempty"`
	TotalFetched  int          `json:"total_fetched"`
	TotalAnalyzed int          `json:"total_analyzed"`
	TotalFiltered int          `json:"total_filtered"`
}

func firstN(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
