// Package trajectory implements the bounded in-memory window, batched
// disk writer, versioned binary log, and multi-process write guard for
// agent trajectories — the step-by-step traces a routing learner draws
// training signal from.
package trajectory

import "time"

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// Trajectory is one recorded agent run. FilePath/FileOffset/FileLength
// are set once the record has been flushed to disk and are immutable
// afterward; Metadata may only gain new keys or update Status/
// QualityScore/CompletedAt post-insert.
type Trajectory struct {
	ID           string            `json:"id"`
	Route        string            `json:"route"`
	StepCount    int               `json:"step_count"`
	QualityScore float64           `json:"quality_score"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Payload      []byte            `json:"payload,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	FilePath   string `json:"-"`
	FileOffset uint32 `json:"-"`
	FileLength uint32 `json:"-"`
}

// priority implements the quality-weighted eviction score: higher
// quality and more recent trajectories are less likely to be evicted.
func (t *Trajectory) priority(now time.Time) float64 {
	ageDays := now.Sub(t.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return t.QualityScore / (ageDays + 1)
}

// RollbackState is the JSON trailer persisted alongside the binary log.
type RollbackState struct {
	LastRollbackCheckpointID string    `json:"last_rollback_checkpoint_id"`
	LastRollbackAt           time.Time `json:"last_rollback_at"`
	RollbackCount            int       `json:"rollback_count"`
}

// Config tunes the memory window, batched writer, and query concurrency.
type Config struct {
	MemoryWindowSize     int
	BatchWriteSize       int
	BatchWriteIntervalMS int
	MaxConcurrentQueries int
}

// DefaultConfig returns the specification's stated defaults.
func DefaultConfig() Config {
	return Config{
		MemoryWindowSize:     1000,
		BatchWriteSize:       10,
		BatchWriteIntervalMS: 5000,
		MaxConcurrentQueries: 10,
	}
}
