package store

import "path/filepath"

// Index directory layout. Every store keeps its data under a single index
// directory so the whole corpus can be locked, rebuilt, or deleted as a unit.

// GetDocStorePath returns the document database path inside dir.
func GetDocStorePath(dir string) string {
	return filepath.Join(dir, "docs.db")
}

// GetVectorIndexPath returns the vector index snapshot path inside dir.
func GetVectorIndexPath(dir string) string {
	return filepath.Join(dir, "vectors.hnsw")
}

// GetBM25BasePath returns the extensionless BM25 base path inside dir. The
// backend appends its own extension (.db or .bleve).
func GetBM25BasePath(dir string) string {
	return filepath.Join(dir, "bm25")
}
