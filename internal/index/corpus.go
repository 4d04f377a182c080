// Package index builds and maintains the on-disk corpus indexes: the SQLite
// document store, the BM25 keyword index, and the HNSW vector index. The
// Runner executes full indexing runs with progress reporting; the Coordinator
// keeps the indexes in sync with a watched corpus file.
package index

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ragtune/ragtune/internal/store"
)

// Default corpus field names.
const (
	DefaultIDField   = "doc_id"
	DefaultTextField = "content"
)

// maxCorpusLineBytes bounds a single JSONL line (10MB). Larger lines indicate
// a malformed corpus rather than a legitimate passage.
const maxCorpusLineBytes = 10 * 1024 * 1024

// FieldMapping maps JSONL corpus fields onto document fields.
type FieldMapping struct {
	// IDField is the JSON field holding the document id (default: doc_id).
	IDField string

	// TextField is the JSON field holding the passage text (default: content).
	TextField string

	// MetadataFields lists additional JSON fields to carry into document
	// metadata. Values are stringified.
	MetadataFields []string
}

// DefaultFieldMapping returns the standard corpus field names.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{IDField: DefaultIDField, TextField: DefaultTextField}
}

func (m FieldMapping) withDefaults() FieldMapping {
	if m.IDField == "" {
		m.IDField = DefaultIDField
	}
	if m.TextField == "" {
		m.TextField = DefaultTextField
	}
	return m
}

// CorpusWarning describes a non-fatal problem with a single corpus line.
type CorpusWarning struct {
	// Line is the 1-based line number in the corpus file.
	Line int

	// DocID is the document id, when one could be determined.
	DocID string

	// Reason describes why the line was skipped or rewritten.
	Reason string
}

// ReadCorpus loads all documents from a JSONL corpus file. Lines that cannot
// be used are skipped with a warning to the default logger; use
// ReadCorpusWithWarnings to capture them instead.
func ReadCorpus(path string, mapping FieldMapping) ([]*store.Document, error) {
	return ReadCorpusWithWarnings(path, mapping, func(w CorpusWarning) {
		slog.Warn("corpus line skipped",
			slog.String("path", path),
			slog.Int("line", w.Line),
			slog.String("doc_id", w.DocID),
			slog.String("reason", w.Reason))
	})
}

// ReadCorpusWithWarnings loads all documents from a JSONL corpus file,
// reporting non-fatal per-line problems through warn. Empty lines are
// ignored. A line that is not a JSON object, or whose text field is missing
// or blank, is skipped. A missing document id is derived from the passage
// text hash. A duplicate id replaces the earlier document (last write wins).
// Corpus order is preserved.
func ReadCorpusWithWarnings(path string, mapping FieldMapping, warn func(CorpusWarning)) ([]*store.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	mapping = mapping.withDefaults()
	if warn == nil {
		warn = func(CorpusWarning) {}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxCorpusLineBytes)

	var docs []*store.Document
	seen := make(map[string]int) // id -> index in docs
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			warn(CorpusWarning{Line: lineNo, Reason: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}

		text := stringField(raw, mapping.TextField)
		if strings.TrimSpace(text) == "" {
			warn(CorpusWarning{Line: lineNo, Reason: fmt.Sprintf("missing or empty %q field", mapping.TextField)})
			continue
		}

		id := strings.TrimSpace(stringifyValue(raw[mapping.IDField]))
		if id == "" {
			id = hashString(text)
		}

		source := stringField(raw, "source")
		if source == "" {
			source = path
		}

		var metadata map[string]string
		for _, field := range mapping.MetadataFields {
			v, ok := raw[field]
			if !ok {
				continue
			}
			if metadata == nil {
				metadata = make(map[string]string, len(mapping.MetadataFields))
			}
			metadata[field] = stringifyValue(v)
		}

		doc := &store.Document{
			ID:       id,
			Title:    stringField(raw, "title"),
			Content:  text,
			Source:   source,
			Metadata: metadata,
		}

		if prev, ok := seen[id]; ok {
			warn(CorpusWarning{Line: lineNo, DocID: id, Reason: "duplicate id, replacing earlier document"})
			docs[prev] = doc
			continue
		}
		seen[id] = len(docs)
		docs = append(docs, doc)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}

	return docs, nil
}

// HashCorpus returns a short content hash of the corpus file, used to detect
// corpus changes between indexing runs.
func HashCorpus(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open corpus %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash corpus %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// stringField extracts a string-typed field from a decoded JSON object.
func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// stringifyValue renders a decoded JSON value as a string. Numbers drop
// their trailing zeros so integer-valued ids round-trip cleanly.
func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// hashString returns SHA256 hash of a string (first 16 chars).
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
