package engine

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProgressState is the snapshot the admin surface serves for refresh
// recovery.
type ProgressState struct {
	Running   bool      `json:"running"`
	Phase     string    `json:"phase"` // idle, fetching, analyzing, curating, sending
	Total     int       `json:"total"`
	Done      int       `json:"done"`
	Message   string    `json:"message,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

const progressKey = "newsdigest:progress"

// ProgressTracker keeps the current pipeline state in memory, mirrors it
// to redis when configured (so a page refresh survives a process restart),
// and fans updates out to subscribers (the websocket hub).
type ProgressTracker struct {
	mu    sync.RWMutex
	state ProgressState
	rdb   *redis.Client
	subs  map[chan ProgressState]struct{}
	log   *log.Logger
}

// NewProgressTracker builds a tracker. rdb may be nil.
func NewProgressTracker(rdb *redis.Client, logger *log.Logger) *ProgressTracker {
	if logger == nil {
		logger = log.New(log.Writer(), "[PROGRESS] ", log.LstdFlags)
	}
	t := &ProgressTracker{
		rdb:  rdb,
		subs: make(map[chan ProgressState]struct{}),
		log:  logger,
	}
	t.restore()
	return t
}

func (t *ProgressTracker) restore() {
	if t.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := t.rdb.Get(ctx, progressKey).Bytes()
	if err != nil {
		return
	}
	var state ProgressState
	if json.Unmarshal(data, &state) == nil {
		// A restored snapshot can never claim to be running.
		state.Running = false
		t.state = state
	}
}

// Update mutates the state and broadcasts the new snapshot.
func (t *ProgressTracker) Update(mutate func(*ProgressState)) {
	t.mu.Lock()
	mutate(&t.state)
	t.state.UpdatedAt = time.Now().UTC()
	state := t.state
	subs := make([]chan ProgressState, 0, len(t.subs))
	for ch := range t.subs {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- state:
		default: // slow subscriber, drop the tick
		}
	}

	if t.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		data, _ := json.Marshal(state)
		if err := t.rdb.Set(ctx, progressKey, data, 24*time.Hour).Err(); err != nil {
			t.log.Printf("progress persist failed: %v", err)
		}
	}
}

// State returns the current snapshot.
func (t *ProgressTracker) State() ProgressState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Subscribe registers a listener. The returned cancel must be called.
func (t *ProgressTracker) Subscribe() (<-chan ProgressState, func()) {
	ch := make(chan ProgressState, 8)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	return ch, func() {
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
	}
}
