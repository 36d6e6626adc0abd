package engine

import (
	"testing"
	"time"

	"github.com/pauldest/newsdigest/models"
)

func TestProgressTrackerUpdateAndState(t *testing.T) {
	tr := NewProgressTracker(nil, nil)

	tr.Update(func(p *ProgressState) {
		p.Running = true
		p.Phase = "fetching"
		p.Total = 12
	})
	state := tr.State()
	if !state.Running || state.Phase != "fetching" || state.Total != 12 {
		t.Fatalf("state not applied: %+v", state)
	}
	if state.UpdatedAt.IsZero() {
		t.Fatalf("updates must be timestamped")
	}
}

func TestProgressTrackerSubscribe(t *testing.T) {
	tr := NewProgressTracker(nil, nil)
	updates, cancel := tr.Subscribe()
	defer cancel()

	tr.Update(func(p *ProgressState) { p.Phase = "analyzing" })

	select {
	case state := <-updates:
		if state.Phase != "analyzing" {
			t.Fatalf("subscriber got stale state: %+v", state)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber never notified")
	}

	cancel()
	// After cancel the tracker must not block on the dead subscriber.
	tr.Update(func(p *ProgressState) { p.Phase = "idle" })
}

func TestChunkSplitsIntoFixedSizeBatches(t *testing.T) {
	articles := make([]models.Article, 7)
	batches := chunk(articles, 3)
	if len(batches) != 3 || len(batches[0]) != 3 || len(batches[2]) != 1 {
		t.Fatalf("unexpected batching: %d batches", len(batches))
	}
	if batches := chunk(nil, 3); batches != nil {
		t.Fatalf("empty input yields no batches")
	}
}
