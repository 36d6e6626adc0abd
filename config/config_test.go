package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"15m", 15 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseInterval(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseInterval(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
	for _, bad := range []string{"", "2x", "h2", "-1h", "2hh"} {
		if _, err := ParseInterval(bad); err == nil {
			t.Errorf("ParseInterval(%q) must fail", bad)
		}
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("09:30")
	if err != nil || h != 9 || m != 30 {
		t.Fatalf("ParseClock(09:30) = %d:%d, %v", h, m, err)
	}
	for _, bad := range []string{"25:00", "09:60", "9", "ab:cd", ""} {
		if _, _, err := ParseClock(bad); err == nil {
			t.Errorf("ParseClock(%q) must fail", bad)
		}
	}
}

func TestExpandEnvRecursive(t *testing.T) {
	t.Setenv("TEST_API_KEY", "secret-123")
	t.Setenv("TEST_HOST", "smtp.example.com")

	in := map[string]any{
		"ai": map[string]any{"api_key": "${TEST_API_KEY}"},
		"hosts": []any{"${TEST_HOST}", "literal"},
		"n":     42,
	}
	out := ExpandEnv(in).(map[string]any)
	if out["ai"].(map[string]any)["api_key"] != "secret-123" {
		t.Fatalf("nested map substitution failed")
	}
	hosts := out["hosts"].([]any)
	if hosts[0] != "smtp.example.com" || hosts[1] != "literal" {
		t.Fatalf("list substitution failed: %v", hosts)
	}
	if out["n"] != 42 {
		t.Fatalf("non-string values must pass through")
	}
}

func TestExpandEnvMissingVariable(t *testing.T) {
	if got := ExpandEnv("${DEFINITELY_NOT_SET_XYZ}"); got != "" {
		t.Fatalf("missing variable expands to empty string, got %q", got)
	}
}

func writeTempFeeds(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	content := `feeds:
  - name: Alpha
    url: http://alpha.example/rss
    category: tech
    enabled: true
  - name: Beta
    url: http://beta.example/rss
    category: finance
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFeedRegistryLoadAndOrder(t *testing.T) {
	reg, err := LoadFeeds(writeTempFeeds(t))
	if err != nil {
		t.Fatal(err)
	}
	feeds := reg.List()
	if len(feeds) != 2 || feeds[0].Name != "Alpha" || feeds[1].Name != "Beta" {
		t.Fatalf("registry must preserve file order: %+v", feeds)
	}
	if enabled := reg.Enabled(); len(enabled) != 1 || enabled[0].Name != "Alpha" {
		t.Fatalf("enabled filter broken: %+v", enabled)
	}
}

func TestFeedRegistryDuplicateURL(t *testing.T) {
	reg, err := LoadFeeds(writeTempFeeds(t))
	if err != nil {
		t.Fatal(err)
	}
	err = reg.Add("Alpha Again", "http://alpha.example/rss", "tech")
	if !errors.Is(err, ErrDuplicateFeed) {
		t.Fatalf("duplicate URL must fail with ErrDuplicateFeed, got %v", err)
	}
}

func TestFeedRegistryRemoveByNameOrURL(t *testing.T) {
	reg, _ := LoadFeeds(writeTempFeeds(t))
	if err := reg.Remove("Alpha"); err != nil {
		t.Fatalf("remove by name: %v", err)
	}
	if err := reg.Remove("http://beta.example/rss"); err != nil {
		t.Fatalf("remove by url: %v", err)
	}
	if err := reg.Remove("alpha"); !errors.Is(err, ErrFeedNotFound) {
		t.Fatalf("matching is case-sensitive and exact, got %v", err)
	}
}

func TestFeedRegistryPersistence(t *testing.T) {
	path := writeTempFeeds(t)
	reg, _ := LoadFeeds(path)
	if err := reg.SetEnabled("Beta", true); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadFeeds(path)
	if err != nil {
		t.Fatal(err)
	}
	if enabled := reloaded.Enabled(); len(enabled) != 2 {
		t.Fatalf("mutation must persist across loads: %+v", reloaded.List())
	}
}

func TestLoadFeedsMissingFile(t *testing.T) {
	reg, err := LoadFeeds(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing feeds file must yield an empty registry: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Fatalf("expected empty registry")
	}
}
