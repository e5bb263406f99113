// Package topic derives candidate question topics from raw document text.
package topic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pavelanni/examforge/internal/model"
)

// DefaultLimit is the number of topics taken from a document when no limit
// is configured.
const DefaultLimit = 10

// minTokenLen is exclusive: a token must be longer than this to count.
const minTokenLen = 5

// Extract returns up to limit whitespace-delimited tokens longer than five
// characters, lower-cased and stripped of surrounding punctuation, in order
// of appearance. Length is measured before stripping. Repeats are kept so
// that frequent terms are drawn more often.
func Extract(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var topics []string
	for _, field := range strings.Fields(text) {
		if utf8.RuneCountInString(field) <= minTokenLen {
			continue
		}
		tok := strings.TrimFunc(strings.ToLower(field), unicode.IsPunct)
		if tok == "" {
			continue
		}
		topics = append(topics, tok)
		if len(topics) == limit {
			break
		}
	}
	return topics
}

// Fallback returns the placeholder topic used when a document yields none.
func Fallback(t model.QuestionType) string {
	switch t {
	case model.QuestionShort:
		return "key concept"
	case model.QuestionLong:
		return "advanced topic"
	default:
		return "general topic"
	}
}
