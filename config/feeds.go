package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"gopkg.in/yaml.v3"
)

// Feed is one RSS/Atom subscription.
type Feed struct {
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Category string `yaml:"category" json:"category"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
}

var (
	// ErrDuplicateFeed is returned when an added feed's URL already exists.
	ErrDuplicateFeed = errors.New("feed with this url already exists")
	// ErrFeedNotFound is returned when no feed matches a name or URL.
	ErrFeedNotFound = errors.New("feed not found")
)

// FeedRegistry is an ordered set of feeds persisted to a yaml file.
// Mutations hold the writer lock and persist immediately; reads work on
// snapshots.
type FeedRegistry struct {
	mu    sync.RWMutex
	path  string
	feeds []Feed
}

type feedsFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// LoadFeeds reads the registry from path. A missing file yields an empty
// registry rather than an error.
func LoadFeeds(path string) (*FeedRegistry, error) {
	r := &FeedRegistry{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read feeds file: %w", err)
	}
	var f feedsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse feeds file: %w", err)
	}
	r.feeds = f.Feeds
	return r, nil
}

// List returns a snapshot of all feeds in registry order.
func (r *FeedRegistry) List() []Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Feed, len(r.feeds))
	copy(out, r.feeds)
	return out
}

// Enabled returns only the enabled feeds.
func (r *FeedRegistry) Enabled() []Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Feed
	for _, f := range r.feeds {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// Add appends a new enabled feed. Duplicate URLs fail with
// ErrDuplicateFeed.
func (r *FeedRegistry) Add(name, url, category string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.feeds {
		if f.URL == url {
			return ErrDuplicateFeed
		}
	}
	r.feeds = append(r.feeds, Feed{Name: name, URL: url, Category: category, Enabled: true})
	return r.persistLocked()
}

// Remove deletes the feed whose name or URL matches exactly.
func (r *FeedRegistry) Remove(identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, f := range r.feeds {
		if f.Name == identifier || f.URL == identifier {
			r.feeds = append(r.feeds[:i], r.feeds[i+1:]...)
			return r.persistLocked()
		}
	}
	return ErrFeedNotFound
}

// SetEnabled toggles the feed whose name or URL matches exactly.
func (r *FeedRegistry) SetEnabled(identifier string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, f := range r.feeds {
		if f.Name == identifier || f.URL == identifier {
			r.feeds[i].Enabled = enabled
			return r.persistLocked()
		}
	}
	return ErrFeedNotFound
}

func (r *FeedRegistry) persistLocked() error {
	if r.path == "" {
		return nil
	}
	data, err := yaml.Marshal(feedsFile{Feeds: r.feeds})
	if err != nil {
		return fmt.Errorf("marshal feeds: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write feeds file: %w", err)
	}
	return nil
}

// ValidateFeedURL fetches the URL with a 10-second budget and checks the
// body parses as RSS or Atom. It never mutates the registry.
func ValidateFeedURL(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	if _, err := gofeed.NewParser().Parse(resp.Body); err != nil {
		return fmt.Errorf("parse feed: %w", err)
	}
	return nil
}
