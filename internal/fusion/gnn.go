package fusion

import (
	"context"

	"github.com/opensona/sona/internal/errors"
)

// GNNTransform re-embeds a query using graph context before the vector
// source is queried. It returns the enhanced embedding, or an error if
// the enhancement model is unavailable.
type GNNTransform func(ctx context.Context, query string, raw []float32) ([]float32, error)

// gnnHook wraps an optional GNNTransform in a circuit breaker so that a
// failing enhancement model degrades to the raw embedding instead of
// failing the whole search.
type gnnHook struct {
	transform GNNTransform
	breaker   *errors.CircuitBreaker
}

func newGNNHook(transform GNNTransform) *gnnHook {
	return &gnnHook{
		transform: transform,
		breaker:   errors.NewCircuitBreaker("fusion.gnn", errors.WithMaxFailures(5)),
	}
}

// Enhance returns the GNN-transformed embedding when the breaker is
// closed (or half-open) and the transform succeeds, and falls back to
// raw otherwise without propagating the transform's error.
func (h *gnnHook) Enhance(ctx context.Context, query string, raw []float32) []float32 {
	if h == nil || h.transform == nil || !h.breaker.Allow() {
		return raw
	}

	enhanced, err := h.transform(ctx, query, raw)
	if err != nil {
		h.breaker.RecordFailure()
		return raw
	}
	h.breaker.RecordSuccess()
	return enhanced
}
