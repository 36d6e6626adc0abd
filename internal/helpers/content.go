package helpers

import (
	"regexp"
	"strings"
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	// Boilerplate patterns feeds tend to append to article bodies.
	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)click (here )?to read more.*`),
		regexp.MustCompile(`(?i)read the full (story|article).*`),
		regexp.MustCompile(`(?i)follow us on.*`),
		regexp.MustCompile(`(?i)subscribe to our newsletter.*`),
		regexp.MustCompile(`(?i)share (this|on).*`),
		regexp.MustCompile(`(?i)the post .* appeared first on .*`),
		regexp.MustCompile(`(?i)all rights reserved\.?.*`),
	}
)

// CleanContent strips HTML tags, collapses whitespace and removes known
// boilerplate from a feed-provided article body.
func CleanContent(content string) string {
	if content == "" {
		return ""
	}
	content = htmlTagRe.ReplaceAllString(content, " ")
	content = whitespaceRe.ReplaceAllString(content, " ")
	for _, re := range noisePatterns {
		content = re.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

// Truncate cuts s at max runes, appending an ellipsis when shortened.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// SentenceUnion merges the sentences of the inputs, order-insensitively,
// dropping duplicates after whitespace normalization. Used by the merger
// fallback when the LLM path fails.
func SentenceUnion(texts ...string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, text := range texts {
		for _, sentence := range splitSentences(text) {
			key := whitespaceRe.ReplaceAllString(strings.ToLower(sentence), " ")
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, sentence)
		}
	}
	return strings.Join(out, " ")
}

var sentenceSplitRe = regexp.MustCompile(`(?m)([.!?。！？])\s+`)

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	marked := sentenceSplitRe.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// UnionStrings deduplicates while preserving first-seen order.
func UnionStrings(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
