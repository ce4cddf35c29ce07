// Package episode implements the append-only episode/outcome store (the
// primary of record for query+answer pairs and their success feedback)
// and the memory-capped LRU cache that fronts it. Episodes and outcomes
// are never deleted; the only permitted mutation path is insert.
package episode

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opensona/sona/internal/errors"
)

// Episode is a persisted query+answer pair with dual chunk-embedding
// sequences.
type Episode struct {
	ID                    int64
	QueryText             string
	AnswerText            string
	QueryChunkEmbeddings  [][]float32
	AnswerChunkEmbeddings [][]float32
	Metadata              map[string]string
	CreatedAt             time.Time
}

// QueryChunkCount returns len(QueryChunkEmbeddings); kept as a method
// rather than a stored field so the two are never allowed to diverge.
func (e *Episode) QueryChunkCount() int { return len(e.QueryChunkEmbeddings) }

// AnswerChunkCount returns len(AnswerChunkEmbeddings).
func (e *Episode) AnswerChunkCount() int { return len(e.AnswerChunkEmbeddings) }

// sizeBytes estimates the in-memory footprint of an episode for cache
// accounting: text lengths plus 4 bytes per float32 component across
// both chunk sequences, plus the key and value lengths of Metadata.
func (e *Episode) sizeBytes() int64 {
	size := int64(len(e.QueryText) + len(e.AnswerText))
	for _, c := range e.QueryChunkEmbeddings {
		size += int64(len(c)) * 4
	}
	for _, c := range e.AnswerChunkEmbeddings {
		size += int64(len(c)) * 4
	}
	for k, v := range e.Metadata {
		size += int64(len(k) + len(v))
	}
	return size
}

// Outcome links a success/quality observation to an episode.
type Outcome struct {
	ID        int64
	EpisodeID int64
	Success   bool
	Quality   *float64
	CreatedAt time.Time
}

// Stats summarizes aggregate outcome counts for an episode.
type Stats struct {
	OutcomeCount int64
	SuccessRate  float64
}

// DAO is the primary-store contract. Insert is the only mutation;
// Delete and Clear exist only to return a structured append-only
// violation, matching the episode store's durability guarantee.
type DAO interface {
	Insert(ctx context.Context, e *Episode) error
	FindByID(ctx context.Context, id int64) (*Episode, error)
	FindAll(ctx context.Context) ([]*Episode, error)
	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context, id int64) (bool, error)

	InsertOutcome(ctx context.Context, o *Outcome) error
	StatsFor(ctx context.Context, episodeID int64) (Stats, error)
	BatchSuccessRates(ctx context.Context, episodeIDs []int64) (map[int64]float64, error)

	Delete(ctx context.Context, id int64) error
	Clear(ctx context.Context) error

	Flush() error
	Close() error
}

// SQLiteDAO implements DAO over a single-writer modernc.org/sqlite
// connection in WAL mode, mirroring the connection setup used by the
// rest of the storage layer.
type SQLiteDAO struct {
	mu        sync.RWMutex
	db        *sql.DB
	dimension int
	closed    bool
}

// NewSQLiteDAO opens (creating if necessary) the episode store at path.
// An empty path opens an in-memory database, used by tests.
func NewSQLiteDAO(path string, dimension int) (*SQLiteDAO, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.IOError("episode: create directory", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.IOError("episode: open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.IOError("episode: create schema", err)
	}

	return &SQLiteDAO{db: db, dimension: dimension}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_text TEXT NOT NULL,
	answer_text TEXT NOT NULL,
	query_chunk_embeddings BLOB NOT NULL,
	answer_chunk_embeddings BLOB NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	episode_id INTEGER NOT NULL REFERENCES episodes(id),
	success INTEGER NOT NULL,
	quality REAL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_outcomes_episode ON outcomes(episode_id);
`

func (d *SQLiteDAO) checkOpen() error {
	if d.closed {
		return errors.NewClosed("episode.DAO", "episode store")
	}
	return nil
}

// Insert writes a new episode row. The episode's ID field is ignored on
// input and populated from the autoincrement key on return.
func (d *SQLiteDAO) Insert(ctx context.Context, e *Episode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	for _, c := range e.QueryChunkEmbeddings {
		if len(c) != d.dimension {
			return errors.NewDimensionMismatch("episode.Insert", d.dimension, len(c))
		}
	}
	for _, c := range e.AnswerChunkEmbeddings {
		if len(c) != d.dimension {
			return errors.NewDimensionMismatch("episode.Insert", d.dimension, len(c))
		}
	}

	qEmb, err := json.Marshal(e.QueryChunkEmbeddings)
	if err != nil {
		return errors.InternalError("episode: marshal query embeddings", err)
	}
	aEmb, err := json.Marshal(e.AnswerChunkEmbeddings)
	if err != nil {
		return errors.InternalError("episode: marshal answer embeddings", err)
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return errors.InternalError("episode: marshal metadata", err)
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO episodes (query_text, answer_text, query_chunk_embeddings, answer_chunk_embeddings, metadata)
		 VALUES (?, ?, ?, ?, ?)`,
		e.QueryText, e.AnswerText, qEmb, aEmb, meta)
	if err != nil {
		return errors.IOError("episode: insert episode", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.IOError("episode: read last insert id", err)
	}
	e.ID = id
	e.CreatedAt = time.Now()
	return nil
}

func scanEpisode(row interface {
	Scan(dest ...any) error
}) (*Episode, error) {
	var e Episode
	var qEmb, aEmb, meta []byte
	if err := row.Scan(&e.ID, &e.QueryText, &e.AnswerText, &qEmb, &aEmb, &meta, &e.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(qEmb, &e.QueryChunkEmbeddings); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(aEmb, &e.AnswerChunkEmbeddings); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &e.Metadata); err != nil {
		return nil, err
	}
	return &e, nil
}

// FindByID returns the episode with id, or nil if it does not exist.
func (d *SQLiteDAO) FindByID(ctx context.Context, id int64) (*Episode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	row := d.db.QueryRowContext(ctx,
		`SELECT id, query_text, answer_text, query_chunk_embeddings, answer_chunk_embeddings, metadata, created_at
		 FROM episodes WHERE id = ?`, id)
	e, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.IOError("episode: find by id", err)
	}
	return e, nil
}

// FindAll returns every episode in insertion order.
func (d *SQLiteDAO) FindAll(ctx context.Context) ([]*Episode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, query_text, answer_text, query_chunk_embeddings, answer_chunk_embeddings, metadata, created_at
		 FROM episodes ORDER BY id ASC`)
	if err != nil {
		return nil, errors.IOError("episode: find all", err)
	}
	defer rows.Close()

	var out []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, errors.IOError("episode: scan row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the total number of episodes.
func (d *SQLiteDAO) Count(ctx context.Context) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n)
	if err != nil {
		return 0, errors.IOError("episode: count", err)
	}
	return n, nil
}

// Exists reports whether an episode with id is present.
func (d *SQLiteDAO) Exists(ctx context.Context, id int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return false, err
	}
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM episodes WHERE id = ?`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.IOError("episode: exists", err)
	}
	return true, nil
}

// InsertOutcome records a success/quality observation against episodeID.
func (d *SQLiteDAO) InsertOutcome(ctx context.Context, o *Outcome) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	success := 0
	if o.Success {
		success = 1
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO outcomes (episode_id, success, quality) VALUES (?, ?, ?)`,
		o.EpisodeID, success, o.Quality)
	if err != nil {
		return errors.IOError("episode: insert outcome", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.IOError("episode: read outcome id", err)
	}
	o.ID = id
	o.CreatedAt = time.Now()
	return nil
}

// StatsFor returns the outcome count and success rate for episodeID.
func (d *SQLiteDAO) StatsFor(ctx context.Context, episodeID int64) (Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return Stats{}, err
	}

	var total, successes int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM outcomes WHERE episode_id = ?`,
		episodeID).Scan(&total, &successes)
	if err != nil {
		return Stats{}, errors.IOError("episode: stats for", err)
	}
	if total == 0 {
		return Stats{}, nil
	}
	return Stats{OutcomeCount: total, SuccessRate: float64(successes) / float64(total)}, nil
}

// BatchSuccessRates returns success rates for many episodes in one query.
func (d *SQLiteDAO) BatchSuccessRates(ctx context.Context, episodeIDs []int64) (map[int64]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	out := make(map[int64]float64, len(episodeIDs))
	if len(episodeIDs) == 0 {
		return out, nil
	}

	placeholders := make([]any, len(episodeIDs))
	query := "SELECT episode_id, COUNT(*), COALESCE(SUM(success), 0) FROM outcomes WHERE episode_id IN ("
	for i, id := range episodeIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders[i] = id
	}
	query += ") GROUP BY episode_id"

	rows, err := d.db.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, errors.IOError("episode: batch success rates", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, total, successes int64
		if err := rows.Scan(&id, &total, &successes); err != nil {
			return nil, errors.IOError("episode: scan batch row", err)
		}
		if total > 0 {
			out[id] = float64(successes) / float64(total)
		}
	}
	return out, rows.Err()
}

// Delete always fails: episodes are append-only.
func (d *SQLiteDAO) Delete(ctx context.Context, id int64) error {
	return errors.NewAppendOnlyViolation("episode.Delete", fmt.Sprintf("episode %d cannot be deleted", id))
}

// Clear always fails: episodes are append-only.
func (d *SQLiteDAO) Clear(ctx context.Context) error {
	return errors.NewAppendOnlyViolation("episode.Clear", "episode store cannot be cleared")
}

// Flush checkpoints the WAL so all committed data is crash-safe.
func (d *SQLiteDAO) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	if _, err := d.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return errors.IOError("episode: wal checkpoint", err)
	}
	return nil
}

// Close flushes then releases the underlying connection. Subsequent
// operations fail with a typed closed error.
func (d *SQLiteDAO) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := d.Flush(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.db.Close()
}
