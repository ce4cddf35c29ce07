package fusion

import (
	"context"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/opensona/sona/internal/errors"
)

// Pattern is one entry in the lexical pattern store the Pattern source
// queries: a recognized behavioral or structural pattern with a
// confidence score reflecting how reliably it has held in the past.
type Pattern struct {
	PatternID  string
	Content    string
	Confidence float64 // in [0,1]
	Metadata   map[string]string
}

type patternDoc struct {
	Content string `json:"content"`
}

// PatternStore is a bleve-backed lexical index over Patterns, mirroring
// the keyword index's in-memory/on-disk split: an empty path yields a
// memory-only index.
type PatternStore struct {
	mu       sync.RWMutex
	index    bleve.Index
	patterns map[string]*Pattern
}

// NewPatternStore opens (or creates) a pattern index at path, or an
// in-memory index if path is empty.
func NewPatternStore(path string) (*PatternStore, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIndexFailed, err).WithOperation("fusion.NewPatternStore")
	}

	return &PatternStore{index: idx, patterns: make(map[string]*Pattern)}, nil
}

// Upsert adds or replaces a pattern and reindexes its content.
func (s *PatternStore) Upsert(p *Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patterns[p.PatternID] = p
	if err := s.index.Index(p.PatternID, patternDoc{Content: p.Content}); err != nil {
		return errors.Wrap(errors.ErrCodeIndexFailed, err).WithOperation("fusion.PatternStore.Upsert")
	}
	return nil
}

// Close releases the underlying bleve index.
func (s *PatternStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// PatternSource queries the pattern store for lexical matches, filtered
// to patterns at or above a minimum confidence.
type PatternSource struct {
	store         *PatternStore
	minConfidence float64
}

// NewPatternSource builds the Pattern fusion source. minConfidence
// filters out patterns below that reliability threshold regardless of
// their lexical match score.
func NewPatternSource(store *PatternStore, minConfidence float64) *PatternSource {
	return &PatternSource{store: store, minConfidence: minConfidence}
}

func (s *PatternSource) Name() SourceName { return SourcePattern }

func (s *PatternSource) Query(ctx context.Context, query string, topN int) ([]RawResult, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = topN * 4 // over-fetch before confidence filtering

	result, err := s.store.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err).WithOperation("fusion.PatternSource.Query")
	}

	maxScore := 0.0
	for _, hit := range result.Hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	out := make([]RawResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		p, ok := s.store.patterns[hit.ID]
		if !ok || p.Confidence < s.minConfidence {
			continue
		}
		normalized := hit.Score
		if maxScore > 0 {
			normalized = hit.Score / maxScore
		}
		score := normalized * p.Confidence
		out = append(out, RawResult{ID: p.PatternID, Content: p.Content, Score: score, Metadata: p.Metadata})
		if len(out) >= topN {
			break
		}
	}
	return out, nil
}
