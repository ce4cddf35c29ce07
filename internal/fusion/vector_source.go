package fusion

import (
	"context"

	"github.com/opensona/sona/internal/errors"
	"github.com/opensona/sona/internal/hnsw"
	"github.com/opensona/sona/internal/vecmath"
)

// Embedder turns query text into the vector space an Index was built
// over.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// ContentLookup resolves an indexed ID to the content and metadata a
// fused result should carry, since the HNSW graph itself stores only
// IDs and vectors.
type ContentLookup func(id string) (content string, metadata map[string]string, ok bool)

// VectorSource queries an HNSW index for approximate nearest neighbors
// of the embedded query.
type VectorSource struct {
	index  *hnsw.Index
	embed  Embedder
	lookup ContentLookup
	metric vecmath.Metric
	ef     int
	gnn    *gnnHook
}

// WithGNN attaches the circuit-breaker-guarded GNN enhancement hook to
// this source's embeddings before each search.
func (s *VectorSource) WithGNN(transform GNNTransform) *VectorSource {
	s.gnn = newGNNHook(transform)
	return s
}

// NewVectorSource builds the Vector fusion source. ef is the HNSW
// search-time candidate list size (0 selects a sane default).
func NewVectorSource(index *hnsw.Index, metric vecmath.Metric, embed Embedder, lookup ContentLookup, ef int) *VectorSource {
	if ef <= 0 {
		ef = 64
	}
	return &VectorSource{index: index, embed: embed, lookup: lookup, metric: metric, ef: ef}
}

func (s *VectorSource) Name() SourceName { return SourceVector }

func (s *VectorSource) Query(ctx context.Context, query string, topN int) ([]RawResult, error) {
	if s.embed == nil {
		return nil, errors.InternalError("no embedder configured for vector source", nil).WithOperation("fusion.VectorSource.Query")
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err).WithOperation("fusion.VectorSource.Query")
	}
	if s.gnn != nil {
		vec = s.gnn.Enhance(ctx, query, vec)
	}

	hits, err := s.index.Search(vec, topN, s.ef)
	if err != nil {
		return nil, err
	}

	out := make([]RawResult, 0, len(hits))
	for _, h := range hits {
		content, metadata := h.ID, map[string]string(nil)
		if s.lookup != nil {
			if c, m, ok := s.lookup(h.ID); ok {
				content, metadata = c, m
			}
		}
		score := float64(vecmath.SimilarityFromDistance(h.Distance, s.metric))
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		out = append(out, RawResult{ID: h.ID, Content: content, Score: score, Metadata: metadata})
	}
	return out, nil
}
