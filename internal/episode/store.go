package episode

import (
	"context"
	"log/slog"

	"github.com/opensona/sona/internal/errors"
)

// Store fronts a DAO with an LRU cache, writing through to the primary
// store before ever populating the cache: a crash between the two
// leaves the cache cold, never the DAO behind.
type Store struct {
	dao    DAO
	cache  *Cache
	closed bool
}

// StoreConfig configures the cache fronting a Store.
type StoreConfig struct {
	CacheMaxItems int
	CacheMaxBytes int64
	Logger        *slog.Logger
}

// NewStore wires dao to a new LRU cache per cfg.
func NewStore(dao DAO, cfg StoreConfig) *Store {
	return &Store{
		dao:   dao,
		cache: NewCache("episode", cfg.CacheMaxItems, cfg.CacheMaxBytes, cfg.Logger),
	}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return errors.NewClosed("episode.Store", "episode store")
	}
	return nil
}

// Insert writes e to the primary store, then populates the cache with
// the newly assigned ID.
func (s *Store) Insert(ctx context.Context, e *Episode) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.dao.Insert(ctx, e); err != nil {
		return err
	}
	s.cache.Put(e)
	return nil
}

// Get returns the episode for id, checking the cache first and falling
// back to the primary store on a miss.
func (s *Store) Get(ctx context.Context, id int64) (*Episode, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if e, ok := s.cache.Get(id); ok {
		return e, nil
	}
	e, err := s.dao.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e != nil {
		s.cache.Put(e)
	}
	return e, nil
}

// RecordOutcome inserts an outcome against episodeID.
func (s *Store) RecordOutcome(ctx context.Context, o *Outcome) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.dao.InsertOutcome(ctx, o)
}

// StatsFor returns outcome count and success rate for episodeID.
func (s *Store) StatsFor(ctx context.Context, episodeID int64) (Stats, error) {
	if err := s.checkOpen(); err != nil {
		return Stats{}, err
	}
	return s.dao.StatsFor(ctx, episodeID)
}

// BatchSuccessRates returns success rates for many episodes at once.
func (s *Store) BatchSuccessRates(ctx context.Context, episodeIDs []int64) (map[int64]float64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.dao.BatchSuccessRates(ctx, episodeIDs)
}

// Count returns the total number of episodes in the primary store.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.dao.Count(ctx)
}

// Delete always fails: episodes are append-only.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.dao.Delete(ctx, id)
}

// Clear always fails: episodes are append-only.
func (s *Store) Clear(ctx context.Context) error {
	return s.dao.Clear(ctx)
}

// CacheMetrics returns a snapshot of the fronting cache's hit/miss/
// eviction counters.
func (s *Store) CacheMetrics() CacheMetrics {
	return s.cache.Metrics()
}

// Flush commits any buffered state to durable storage.
func (s *Store) Flush() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.dao.Flush()
}

// Close flushes and releases the underlying DAO. Subsequent operations
// fail with a typed closed error.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.dao.Close()
}
