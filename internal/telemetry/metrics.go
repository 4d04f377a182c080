// Package telemetry records per-run pipeline metrics. All data is stored
// locally - no external reporting.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

const (
	// DefaultRecentRuns is how many completed runs the collector keeps
	// in its ring for inspection.
	DefaultRecentRuns = 50

	// DefaultQueryMemory is how many query hashes the collector remembers
	// for repeat detection.
	DefaultQueryMemory = 512

	// ExitUnknown is recorded when a run carries no loop_exit event.
	ExitUnknown = "unknown"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a run-duration histogram bucket.
type LatencyBucket string

const (
	BucketP50   LatencyBucket = "p50"   // <50ms
	BucketP200  LatencyBucket = "p200"  // 50-200ms
	BucketP500  LatencyBucket = "p500"  // 200-500ms
	BucketP2000 LatencyBucket = "p2000" // 500ms-2s
	BucketP5000 LatencyBucket = "p5000" // >=2s
)

// LatencyToBucket converts a run duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 50:
		return BucketP50
	case ms < 200:
		return BucketP200
	case ms < 500:
		return BucketP500
	case ms < 2000:
		return BucketP2000
	default:
		return BucketP5000
	}
}

// =============================================================================
// Run Records
// =============================================================================

// RunRecord is the metric summary of one completed pipeline run. Queries are
// stored as hashes, never as text.
type RunRecord struct {
	ID          string             `json:"id"`
	QueryHash   string             `json:"query_hash"`
	Pipeline    string             `json:"pipeline"`
	StartedAt   time.Time          `json:"started_at"`
	Duration    time.Duration      `json:"duration"`
	Rounds      int                `json:"rounds"`
	RerankCalls int                `json:"rerank_calls"`
	Documents   int                `json:"documents"`
	ExitReason  string             `json:"exit_reason"`
	BudgetUsed  map[string]float64 `json:"budget_used,omitempty"`
}

// HashQuery returns a stable, case- and whitespace-insensitive hash of a
// query, suitable for repeat detection without retaining the query itself.
func HashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// FromOutput condenses a controller output into a run record. Rounds and the
// exit reason come from the loop_exit trace event; rerank calls count every
// batch sent to the reranker, including batches that failed.
func FromOutput(out *ragtune.Output, pipeline string, took time.Duration) RunRecord {
	rec := RunRecord{
		ID:         out.QueryID,
		QueryHash:  HashQuery(out.Query),
		Pipeline:   pipeline,
		Duration:   took,
		Documents:  len(out.Documents),
		ExitReason: ExitUnknown,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if len(out.Trace) > 0 {
		rec.StartedAt = out.Trace[0].Timestamp
	} else {
		rec.StartedAt = time.Now().Add(-took)
	}

	for _, ev := range out.Trace {
		switch ev.Action {
		case ragtune.ActionRerankBatch, ragtune.ActionRerankError:
			rec.RerankCalls++
		case ragtune.ActionLoopExit:
			if reason, ok := ev.Details["reason"].(string); ok && reason != "" {
				rec.ExitReason = reason
			}
			rec.Rounds = intDetail(ev.Details, "rounds")
		}
	}

	if len(out.FinalBudgetState) > 0 {
		rec.BudgetUsed = make(map[string]float64, len(out.FinalBudgetState))
		for resource, used := range out.FinalBudgetState {
			rec.BudgetUsed[resource] = used
		}
	}
	return rec
}

// intDetail reads an integer trace detail. Details hold ints in process but
// arrive as float64 after a JSON round trip.
func intDetail(details map[string]any, key string) int {
	switch v := details[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // Next write position
	size     int // Current number of items
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity

	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in the buffer in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		// Buffer not full - items start at 0
		copy(result, b.items[:b.size])
	} else {
		// Buffer full - oldest item is at head
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items from the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// =============================================================================
// Collector
// =============================================================================

// Collector aggregates run records in memory. It keeps running totals, an
// exit-reason breakdown, budget consumption per resource, a duration
// histogram, and a ring of recent runs. Persistence is the caller's business;
// pair a Collector with a RunStore to keep records across processes.
type Collector struct {
	recentCap int
	seenCap   int

	mu            sync.RWMutex
	startedAt     time.Time
	runs          int64
	zeroDocRuns   int64
	totalDuration time.Duration
	totalRounds   int64
	totalReranks  int64
	totalDocs     int64
	exitReasons   map[string]int64
	budgetUsed    map[string]float64
	latency       map[LatencyBucket]int64

	recent *CircularBuffer[RunRecord]
	seen   *lru.Cache[string, int]
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithRecentRuns sets how many completed runs the collector retains.
func WithRecentRuns(n int) CollectorOption {
	return func(c *Collector) { c.recentCap = n }
}

// WithQueryMemory sets how many query hashes the collector remembers for
// repeat detection.
func WithQueryMemory(n int) CollectorOption {
	return func(c *Collector) { c.seenCap = n }
}

// NewCollector creates an empty collector.
func NewCollector(opts ...CollectorOption) (*Collector, error) {
	c := &Collector{
		recentCap:   DefaultRecentRuns,
		seenCap:     DefaultQueryMemory,
		startedAt:   time.Now(),
		exitReasons: make(map[string]int64),
		budgetUsed:  make(map[string]float64),
		latency:     make(map[LatencyBucket]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.recentCap <= 0 {
		c.recentCap = DefaultRecentRuns
	}
	if c.seenCap <= 0 {
		c.seenCap = DefaultQueryMemory
	}
	c.recent = NewCircularBuffer[RunRecord](c.recentCap)

	seen, err := lru.New[string, int](c.seenCap)
	if err != nil {
		return nil, err
	}
	c.seen = seen
	return c, nil
}

// Observe folds one run record into the aggregates.
func (c *Collector) Observe(rec RunRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runs++
	if rec.Documents == 0 {
		c.zeroDocRuns++
	}
	c.totalDuration += rec.Duration
	c.totalRounds += int64(rec.Rounds)
	c.totalReranks += int64(rec.RerankCalls)
	c.totalDocs += int64(rec.Documents)

	reason := rec.ExitReason
	if reason == "" {
		reason = ExitUnknown
	}
	c.exitReasons[reason]++

	for resource, used := range rec.BudgetUsed {
		c.budgetUsed[resource] += used
	}
	c.latency[LatencyToBucket(rec.Duration)]++

	c.recent.Add(rec)
	if rec.QueryHash != "" {
		count, _ := c.seen.Peek(rec.QueryHash)
		c.seen.Add(rec.QueryHash, count+1)
	}
}

// ObserveOutput condenses a controller output and folds it in, returning the
// record so the caller can persist it.
func (c *Collector) ObserveOutput(out *ragtune.Output, pipeline string, took time.Duration) RunRecord {
	rec := FromOutput(out, pipeline, took)
	c.Observe(rec)
	return rec
}

// Snapshot is an aggregate view of everything the collector has seen.
type Snapshot struct {
	Since           time.Time               `json:"since"`
	Runs            int64                   `json:"runs"`
	ZeroDocRuns     int64                   `json:"zero_doc_runs"`
	AvgDuration     time.Duration           `json:"avg_duration"`
	AvgRounds       float64                 `json:"avg_rounds"`
	AvgRerankCalls  float64                 `json:"avg_rerank_calls"`
	AvgDocuments    float64                 `json:"avg_documents"`
	ExitReasons     map[string]int64        `json:"exit_reasons"`
	BudgetUsed      map[string]float64      `json:"budget_used"`
	Latency         map[LatencyBucket]int64 `json:"latency"`
	DistinctQueries int                     `json:"distinct_queries"`
	RepeatedQueries int                     `json:"repeated_queries"`
}

// Snapshot returns the current aggregates. The maps are copies.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Since:       c.startedAt,
		Runs:        c.runs,
		ZeroDocRuns: c.zeroDocRuns,
		ExitReasons: make(map[string]int64, len(c.exitReasons)),
		BudgetUsed:  make(map[string]float64, len(c.budgetUsed)),
		Latency:     make(map[LatencyBucket]int64, len(c.latency)),
	}
	if c.runs > 0 {
		snap.AvgDuration = c.totalDuration / time.Duration(c.runs)
		snap.AvgRounds = float64(c.totalRounds) / float64(c.runs)
		snap.AvgRerankCalls = float64(c.totalReranks) / float64(c.runs)
		snap.AvgDocuments = float64(c.totalDocs) / float64(c.runs)
	}
	for reason, n := range c.exitReasons {
		snap.ExitReasons[reason] = n
	}
	for resource, used := range c.budgetUsed {
		snap.BudgetUsed[resource] = used
	}
	for bucket, n := range c.latency {
		snap.Latency[bucket] = n
	}

	snap.DistinctQueries = c.seen.Len()
	for _, hash := range c.seen.Keys() {
		if n, ok := c.seen.Peek(hash); ok && n > 1 {
			snap.RepeatedQueries++
		}
	}
	return snap
}

// Recent returns the retained run records, most recent first.
func (c *Collector) Recent() []RunRecord {
	items := c.recent.Items()
	out := make([]RunRecord, len(items))
	for i, rec := range items {
		out[len(items)-1-i] = rec
	}
	return out
}

// Reset discards all aggregates and retained runs.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startedAt = time.Now()
	c.runs = 0
	c.zeroDocRuns = 0
	c.totalDuration = 0
	c.totalRounds = 0
	c.totalReranks = 0
	c.totalDocs = 0
	c.exitReasons = make(map[string]int64)
	c.budgetUsed = make(map[string]float64)
	c.latency = make(map[LatencyBucket]int64)
	c.recent.Clear()
	c.seen.Purge()
}
