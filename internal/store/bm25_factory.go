package store

import (
	"fmt"
	"os"
)

// BM25Backend represents the BM25 index backend type.
type BM25Backend string

const (
	// BM25BackendSQLite uses SQLite FTS5 for BM25 search (default).
	// WAL mode allows concurrent multi-process access.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses Bleve v2 for BM25 search.
	// BoltDB holds an exclusive lock - single process only.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25IndexWithBackend creates a BM25Index using the specified backend.
// The path should be the base path without extension; the extension is
// derived from the backend (.db for SQLite, .bleve for Bleve).
//
// If basePath is empty, an in-memory index is created (for testing).
func NewBM25IndexWithBackend(basePath string, config BM25Config, backend string) (BM25Index, error) {
	switch backend {
	case string(BM25BackendSQLite), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteBM25Index(path, config)

	case string(BM25BackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveBM25Index(path, config)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend inspects the filesystem to determine which backend an
// existing index uses. Returns empty string if no index exists. SQLite wins
// when both are present since it is the default.
func DetectBM25Backend(basePath string) BM25Backend {
	if fileExists(basePath + ".db") {
		return BM25BackendSQLite
	}
	if dirExists(basePath + ".bleve") {
		return BM25BackendBleve
	}
	return ""
}

// GetBM25IndexPath returns the full index path for a backend inside dir.
func GetBM25IndexPath(dir, backend string) string {
	base := GetBM25BasePath(dir)
	if backend == string(BM25BackendBleve) {
		return base + ".bleve"
	}
	return base + ".db"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
