//go:build ignore

// Package main generates a synthetic JSONL corpus for local testing and
// benchmarking.
// Usage: go run scripts/generate-corpus.go -docs 5000 -output corpus.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
)

var (
	numDocs = flag.Int("docs", 5000, "Number of documents to generate")
	output  = flag.String("output", "corpus.jsonl", "Output JSONL file")
	seed    = flag.Int64("seed", 42, "Random seed (fixed for reproducible corpora)")
	minLen  = flag.Int("min-words", 40, "Minimum words per passage")
	maxLen  = flag.Int("max-words", 220, "Maximum words per passage")
)

// Topic clusters give the corpus enough lexical structure that BM25 and
// vector retrieval behave differently, which is the point of testing a
// hybrid pipeline on it.
var topics = map[string][]string{
	"databases": {
		"index", "btree", "transaction", "wal", "vacuum", "query", "planner",
		"shard", "replica", "checkpoint", "snapshot", "compaction",
	},
	"networking": {
		"socket", "tcp", "handshake", "packet", "routing", "latency",
		"backoff", "keepalive", "congestion", "multiplex", "stream",
	},
	"retrieval": {
		"ranking", "relevance", "corpus", "passage", "embedding", "rerank",
		"recall", "precision", "fusion", "tokenizer", "stemming",
	},
	"scheduling": {
		"queue", "worker", "batch", "deadline", "preempt", "priority",
		"throttle", "budget", "quota", "fairness", "starvation",
	},
}

var fillers = []string{
	"the", "a", "when", "then", "because", "under", "load", "each",
	"system", "must", "can", "will", "before", "after", "during", "while",
	"value", "state", "result", "error", "case", "path", "step", "run",
}

type doc struct {
	DocID   string `json:"doc_id"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *output, err)
		os.Exit(1)
	}
	defer f.Close()

	topicNames := make([]string, 0, len(topics))
	for name := range topics {
		topicNames = append(topicNames, name)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < *numDocs; i++ {
		topic := topicNames[rng.Intn(len(topicNames))]
		d := doc{
			DocID:   fmt.Sprintf("%s-%05d", topic, i),
			Content: passage(rng, topics[topic]),
			Source:  "synthetic/" + topic,
		}
		if err := enc.Encode(d); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "flush: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d documents to %s\n", *numDocs, *output)
}

// passage builds a pseudo-natural paragraph biased toward one topic's
// vocabulary, with filler words in between.
func passage(rng *rand.Rand, vocab []string) string {
	n := *minLen + rng.Intn(*maxLen-*minLen+1)
	words := make([]string, 0, n)
	for len(words) < n {
		if rng.Float64() < 0.35 {
			words = append(words, vocab[rng.Intn(len(vocab))])
		} else {
			words = append(words, fillers[rng.Intn(len(fillers))])
		}
	}
	// Rough sentence boundaries every 8-16 words.
	var b strings.Builder
	sentence := 0
	limit := 8 + rng.Intn(9)
	for i, word := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		if sentence == 0 {
			word = strings.ToUpper(word[:1]) + word[1:]
		}
		b.WriteString(word)
		sentence++
		if sentence >= limit && i < len(words)-1 {
			b.WriteByte('.')
			sentence = 0
			limit = 8 + rng.Intn(9)
		}
	}
	b.WriteByte('.')
	return b.String()
}
