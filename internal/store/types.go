// Package store provides the persistence layer for indexed corpora: a
// SQLite document store, BM25 keyword indexes (SQLite FTS5 or Bleve), and
// an HNSW vector index.
package store

import (
	"context"
	"fmt"
	"time"
)

// State keys for the document store's key-value state table.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyCorpusVersion stores the schema version the corpus was built with
	StateKeyCorpusVersion = "corpus_version"
	// StateKeyCorpusHash stores the content hash of the corpus file at the
	// last successful index, used to skip unchanged corpora on startup
	StateKeyCorpusHash = "corpus_hash"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// Document is a retrievable unit of corpus content.
type Document struct {
	ID        string            // Stable document id
	Title     string            // Optional display title
	Content   string            // Passage text
	Source    string            // Origin (file path, URL, collection name)
	Metadata  map[string]string // Custom metadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CorpusInfo summarizes an indexed corpus for the stats command.
type CorpusInfo struct {
	Location      string // Index data directory
	DocumentCount int
	IndexModel    string // Embedding model the vector index was built with
	Dimensions    int    // Embedding dimension of the vector index
	SizeBytes     int64  // Total on-disk size of the index files
	UpdatedAt     time.Time
}

// DocumentStore persists corpus documents and embeddings in SQLite.
type DocumentStore interface {
	// Document operations
	SaveDocuments(ctx context.Context, docs []*Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocuments(ctx context.Context, ids []string) ([]*Document, error)
	ListDocuments(ctx context.Context, cursor string, limit int) ([]*Document, string, error)
	DeleteDocuments(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)

	// Embedding operations (for vector index rebuilds)
	SaveEmbeddings(ctx context.Context, ids []string, embeddings [][]float32, model string) error
	GetAllEmbeddings(ctx context.Context) (map[string][]float32, error)

	// State operations (key-value store for index metadata)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
}

// BM25Index provides keyword search using the BM25 algorithm.
type BM25Index interface {
	// Index adds documents to the index
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, scored by BM25
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from index
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index (for consistency checks)
	AllIDs() ([]string, error)

	// Stats returns index statistics
	Stats() *IndexStats

	// Close releases resources
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2)
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultTextStopWords,
		MinTokenLength: 2,
	}
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Document ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension (768 for nomic-embed-text, 256 for static)
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 20)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// VectorStore provides semantic search using the HNSW algorithm.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store (for consistency checks)
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'ragtune index --force')", e.Expected, e.Got)
}
