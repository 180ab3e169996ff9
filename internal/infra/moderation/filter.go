package moderation

import (
	"strings"

	"pulse/internal/domain/engagement"
)

var _ engagement.ContentFilter = (*TextFilter)(nil)

// defaultBlockedWords seeds the filter when no list is configured.
var defaultBlockedWords = []string{
	"badword",
	"spam",
	"offensive",
	"hate",
	"asshole",
}

// TextFilter screens text against a blocked-word list using lowercase
// whitespace-tokenized exact matching. Substring and fuzzy matching are
// deliberately out: "scunthorpe" must pass.
type TextFilter struct {
	blocked map[string]struct{}
}

// NewTextFilter creates a filter from the given word list, falling back
// to the default list when empty.
func NewTextFilter(words []string) *TextFilter {
	if len(words) == 0 {
		words = defaultBlockedWords
	}
	blocked := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			blocked[w] = struct{}{}
		}
	}
	return &TextFilter{blocked: blocked}
}

// Flagged returns the blocked words found in text, in order of first
// appearance, without duplicates. Empty means the text is clean.
func (f *TextFilter) Flagged(text string) []string {
	var found []string
	seen := make(map[string]struct{})

	for _, word := range strings.Fields(strings.ToLower(text)) {
		if _, blocked := f.blocked[word]; !blocked {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		found = append(found, word)
	}
	return found
}

// Allowed reports whether the text contains no blocked words.
func (f *TextFilter) Allowed(text string) bool {
	return len(f.Flagged(text)) == 0
}
