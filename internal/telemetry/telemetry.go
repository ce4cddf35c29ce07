// Package telemetry records local-only metrics about quad-fusion search
// activity: latency histograms, per-source success rates,
// and zero-result queries, persisted to SQLite for later inspection.
package telemetry

import (
	"database/sql"
	"time"

	"github.com/opensona/sona/internal/errors"
)

// LatencyBucket is a coarse search-latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// SourceOutcome is one fusion source's participation in a single search.
type SourceOutcome struct {
	Source   string
	Success  bool
	TimedOut bool
}

// SearchEvent is one completed quad-fusion search, recorded for telemetry.
type SearchEvent struct {
	Query       string
	ResultCount int
	Latency     time.Duration
	Sources     []SourceOutcome
	Timestamp   time.Time
}

// IsZeroResult reports whether this search returned nothing.
func (e SearchEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// Recorder keeps recent search events in memory and upserts their
// aggregated counters to SQLite on every Record call.
type Recorder struct {
	recent *CircularBuffer[SearchEvent]
	store  *SQLiteMetricsStore
}

// NewRecorder creates a Recorder backed by store, keeping the most recent
// recentCapacity events in memory for quick inspection without a DB read.
func NewRecorder(store *SQLiteMetricsStore, recentCapacity int) *Recorder {
	return &Recorder{
		recent: NewCircularBuffer[SearchEvent](recentCapacity),
		store:  store,
	}
}

// Record buffers a search event and upserts its aggregate counters.
func (r *Recorder) Record(e SearchEvent) error {
	r.recent.Add(e)
	if r.store == nil {
		return nil
	}

	date := e.Timestamp.UTC().Format("2006-01-02")
	if err := r.store.IncrementLatencyBucket(date, LatencyToBucket(e.Latency)); err != nil {
		return err
	}
	for _, so := range e.Sources {
		if err := r.store.IncrementSourceOutcome(date, so.Source, so.Success, so.TimedOut); err != nil {
			return err
		}
	}
	if e.IsZeroResult() {
		return r.store.RecordZeroResultQuery(e.Query)
	}
	return nil
}

// Recent returns the most recently recorded events, oldest first.
func (r *Recorder) Recent() []SearchEvent {
	return r.recent.Items()
}

// CircularBuffer is a fixed-capacity FIFO buffer, used to keep the most
// recent telemetry samples without unbounded memory growth.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest entry once the buffer is full.
func (b *CircularBuffer[T]) Add(item T) {
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns buffered items oldest-first.
func (b *CircularBuffer[T]) Items() []T {
	if b.size == 0 {
		return nil
	}
	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
		return result
	}
	copy(result, b.items[b.head:])
	copy(result[b.capacity-b.head:], b.items[:b.head])
	return result
}

var errNilDB = errors.ValidationError("telemetry: database connection is required", nil)

// SQLiteMetricsStore persists fusion search telemetry to SQLite.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore wraps an existing connection; InitSchema must be
// called once before use (typically alongside the episode DAO's own
// migration step, since both share the same database file).
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// InitSchema creates the telemetry tables if they don't already exist.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS fusion_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	CREATE TABLE IF NOT EXISTS fusion_source_stats (
		date TEXT NOT NULL,
		source TEXT NOT NULL,
		successes INTEGER NOT NULL DEFAULT 0,
		timeouts INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, source)
	);

	CREATE TABLE IF NOT EXISTS fusion_zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err).WithOperation("telemetry.InitSchema")
	}
	return nil
}

// IncrementLatencyBucket bumps today's count for a latency bucket.
func (s *SQLiteMetricsStore) IncrementLatencyBucket(date string, bucket LatencyBucket) error {
	_, err := s.db.Exec(`
		INSERT INTO fusion_latency_stats (date, bucket, count) VALUES (?, ?, 1)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + 1
	`, date, string(bucket))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err).WithOperation("telemetry.IncrementLatencyBucket")
	}
	return nil
}

// IncrementSourceOutcome bumps today's per-source counters for one fusion source.
func (s *SQLiteMetricsStore) IncrementSourceOutcome(date, source string, success, timedOut bool) error {
	successInc, timeoutInc, failureInc := 0, 0, 0
	switch {
	case timedOut:
		timeoutInc = 1
	case success:
		successInc = 1
	default:
		failureInc = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO fusion_source_stats (date, source, successes, timeouts, failures)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, source) DO UPDATE SET
			successes = successes + excluded.successes,
			timeouts = timeouts + excluded.timeouts,
			failures = failures + excluded.failures
	`, date, source, successInc, timeoutInc, failureInc)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err).WithOperation("telemetry.IncrementSourceOutcome")
	}
	return nil
}

// RecordZeroResultQuery logs a query that returned no fused results.
func (s *SQLiteMetricsStore) RecordZeroResultQuery(query string) error {
	_, err := s.db.Exec(`INSERT INTO fusion_zero_result_queries (query) VALUES (?)`, query)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err).WithOperation("telemetry.RecordZeroResultQuery")
	}
	return nil
}
