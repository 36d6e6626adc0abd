package helpers

import (
	"strings"
	"testing"
)

func TestExtractJSONFromFencedBlock(t *testing.T) {
	in := "Sure, here it is:\n```json\n{\"a\": [1, 2]}\n```"
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"a": [1, 2]}` {
		t.Fatalf("unexpected extraction: %q", out)
	}
}

func TestExtractJSONIgnoresBracesInStrings(t *testing.T) {
	in := `prefix {"text": "a { tricky } value", "n": 1} suffix`
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"text": "a { tricky } value", "n": 1}` {
		t.Fatalf("brace tracking failed: %q", out)
	}
}

func TestExtractJSONArray(t *testing.T) {
	out, err := ExtractJSON(`noise [{"x": 1}, {"x": 2}] more noise`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "[") || !strings.HasSuffix(out, "]") {
		t.Fatalf("array extraction failed: %q", out)
	}
}

func TestExtractJSONNothingFound(t *testing.T) {
	if _, err := ExtractJSON("plain prose with no structure"); err == nil {
		t.Fatalf("expected an error for brace-free input")
	}
}

func TestExtractFencedBlockLanguageFilter(t *testing.T) {
	in := "```python\nprint(1)\n```\n```json\n{\"ok\": true}\n```"
	out, err := ExtractFencedBlock(in, "json")
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"ok": true}` {
		t.Fatalf("language filter picked the wrong block: %q", out)
	}
}

func TestCleanContentStripsHTMLAndNoise(t *testing.T) {
	in := `<p>Real   content here.</p> <div>More facts.</div> Click here to read more at our site`
	out := CleanContent(in)
	if strings.Contains(out, "<") || strings.Contains(out, ">") {
		t.Fatalf("tags must be stripped: %q", out)
	}
	if strings.Contains(strings.ToLower(out), "click") {
		t.Fatalf("boilerplate must be removed: %q", out)
	}
	if !strings.Contains(out, "Real content here.") {
		t.Fatalf("whitespace must collapse: %q", out)
	}
}

func TestSentenceUnionOrderInsensitive(t *testing.T) {
	a := "First fact. Second fact."
	b := "Second fact. Third fact."
	out := SentenceUnion(a, b)
	if strings.Count(out, "Second fact.") != 1 {
		t.Fatalf("duplicates must collapse: %q", out)
	}
	for _, want := range []string{"First fact.", "Third fact."} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing sentence %q in %q", want, out)
		}
	}
}

func TestUnionStrings(t *testing.T) {
	out := UnionStrings([]string{"a", "b"}, []string{"b", "c", ""})
	if len(out) != 3 || out[0] != "a" || out[1] != "b" || out[2] != "c" {
		t.Fatalf("union must dedupe and keep order: %v", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("short strings pass through: %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Fatalf("long strings get an ellipsis: %q", got)
	}
}
