package store

import (
	"regexp"
	"strings"
)

// wordRegex matches alphanumeric sequences.
var wordRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// DefaultTextStopWords contains high-frequency English function words that
// match nearly every passage and would dominate BM25 term statistics.
var DefaultTextStopWords = []string{
	"a", "an", "the", "is", "are", "was", "were", "be", "been",
	"of", "to", "in", "on", "at", "for", "and", "or", "not",
	"it", "its", "this", "that", "with", "as", "by", "from",
	"what", "which", "how", "do", "does", "can", "will",
}

// TokenizeText splits text into lowercase word tokens, dropping tokens
// shorter than two characters. The same tokenization runs at index and
// query time so term statistics line up.
func TokenizeText(text string) []string {
	words := wordRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if len(lower) >= 2 {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

// BuildStopWordMap converts a stop word list to a set for fast lookup.
func BuildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	filtered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, isStop := stopWords[t]; !isStop {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
