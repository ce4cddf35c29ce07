// Package fusion implements quad-source search: vector, graph, memory,
// and lexical-pattern sources queried concurrently and combined into a
// single weighted, deduplicated result list.
package fusion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opensona/sona/internal/errors"
	"github.com/opensona/sona/internal/telemetry"
)

// RawResult is one source's raw hit before fusion.
type RawResult struct {
	ID       string
	Content  string
	Score    float64 // in [0,1]
	Metadata map[string]string
}

// SourceName identifies one of the four fusion sources.
type SourceName string

const (
	SourceVector  SourceName = "vector"
	SourceGraph   SourceName = "graph"
	SourceMemory  SourceName = "memory"
	SourcePattern SourceName = "pattern"
)

// Source is one of the four queryable backends fused into a result set.
type Source interface {
	Name() SourceName
	Query(ctx context.Context, query string, topN int) ([]RawResult, error)
}

// outcome records how one source's query resolved: success, timeout, or
// error. At most one of TimedOut and Err being non-nil applies; on
// success Results holds the hits and is nil when the source found none.
type outcome struct {
	Source   SourceName
	Results  []RawResult
	Duration time.Duration
	TimedOut bool
	Err      error
}

// Weights are the per-source fusion weights. They must sum to 1 after
// Normalize; the zero value is invalid and must not be used directly.
type Weights struct {
	Vector  float64
	Graph   float64
	Memory  float64
	Pattern float64
}

// DefaultWeights returns the specification's default weighting.
func DefaultWeights() Weights {
	return Weights{Vector: 0.4, Graph: 0.3, Memory: 0.2, Pattern: 0.1}
}

// Normalize scales w so its components sum to 1, rejecting a
// non-positive or negative-component input rather than silently
// producing a degenerate distribution.
func (w Weights) Normalize() (Weights, error) {
	if w.Vector < 0 || w.Graph < 0 || w.Memory < 0 || w.Pattern < 0 {
		return Weights{}, errors.ValidationError("fusion: weights must be non-negative", nil)
	}
	sum := w.Vector + w.Graph + w.Memory + w.Pattern
	if sum <= 0 {
		return Weights{}, errors.ValidationError("fusion: weights must sum to a positive value", nil)
	}
	return Weights{
		Vector:  w.Vector / sum,
		Graph:   w.Graph / sum,
		Memory:  w.Memory / sum,
		Pattern: w.Pattern / sum,
	}, nil
}

func (w Weights) forSource(name SourceName) float64 {
	switch name {
	case SourceVector:
		return w.Vector
	case SourceGraph:
		return w.Graph
	case SourceMemory:
		return w.Memory
	case SourcePattern:
		return w.Pattern
	default:
		return 0
	}
}

// Attribution records, per coalesced result, which sources contributed
// and their individual (un-weighted) scores.
type Attribution struct {
	Source SourceName
	Score  float64
}

// FusedResult is one entry in the final ranked output.
type FusedResult struct {
	Hash         string
	Content      string
	TotalScore   float64
	Attributions []Attribution
}

// SourceStatus reports how each source resolved for one search call.
type SourceStatus struct {
	Source   SourceName
	Success  bool
	TimedOut bool
	Error    string
	Duration time.Duration
}

// Result is the aggregate outcome of a fused search.
type Result struct {
	Results []FusedResult
	Sources []SourceStatus
}

// Config tunes the fusion manager.
type Config struct {
	PerSourceDeadline time.Duration
	DefaultTopN       int
	MaxTopK           int
	Logger            *slog.Logger
}

// DefaultConfig returns the specification's stated defaults.
func DefaultConfig() Config {
	return Config{
		PerSourceDeadline: 400 * time.Millisecond,
		DefaultTopN:       10,
		MaxTopK:           100,
	}
}

// Manager queries all configured sources concurrently and fuses their
// results. A nil source is treated as permanently unavailable: its
// query resolves as an error outcome without ever blocking the others.
type Manager struct {
	sources map[SourceName]Source
	cfg     Config
	gnn     *gnnHook
	metrics *telemetry.Recorder
}

// NewManager builds a Manager over the given sources (any of which may
// be omitted by leaving the map entry unset).
func NewManager(sources map[SourceName]Source, cfg Config) *Manager {
	if cfg.PerSourceDeadline <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PerSourceDeadline > 500*time.Millisecond {
		cfg.PerSourceDeadline = 500 * time.Millisecond
	}
	return &Manager{sources: sources, cfg: cfg}
}

// WithGNNEnhancement stores an optional pre-search embedding transform
// wrapped in a circuit breaker (five failures open it, two half-open
// successes close it). Search does not consult this hook; the transform
// is applied to embeddings only by a VectorSource configured with
// VectorSource.WithGNN.
func (m *Manager) WithGNNEnhancement(transform GNNTransform) *Manager {
	m.gnn = newGNNHook(transform)
	return m
}

// WithTelemetry attaches a recorder that logs each search's latency,
// per-source outcomes, and zero-result queries for later inspection.
func (m *Manager) WithTelemetry(rec *telemetry.Recorder) *Manager {
	m.metrics = rec
	return m
}

// Search queries every configured source concurrently, deduplicates by
// content hash, fuses by weighted score, and returns the top topK
// entries (a non-positive topK selects cfg.DefaultTopN; larger values
// are capped at cfg.MaxTopK).
func (m *Manager) Search(ctx context.Context, query string, topK int, weights Weights) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, errors.ValidationError("fusion: query must not be empty", nil)
	}
	if topK <= 0 {
		topK = m.cfg.DefaultTopN
	}
	if topK > m.cfg.MaxTopK {
		topK = m.cfg.MaxTopK
	}

	normalized, err := weights.Normalize()
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	outcomes := m.queryAll(ctx, query, topK)

	statuses := make([]SourceStatus, 0, len(outcomes))
	allFailed := true
	sourceErrors := make(map[string]string)
	for _, o := range outcomes {
		status := SourceStatus{Source: o.Source, Duration: o.Duration}
		switch {
		case o.TimedOut:
			status.TimedOut = true
			sourceErrors[string(o.Source)] = "timeout"
			m.cfg.Logger.Warn("fusion_source_timeout", "source", o.Source, "duration_ms", o.Duration.Milliseconds())
		case o.Err != nil:
			status.Error = o.Err.Error()
			sourceErrors[string(o.Source)] = o.Err.Error()
			m.cfg.Logger.Warn("fusion_source_error", "source", o.Source, "error", o.Err)
		default:
			status.Success = true
			allFailed = false
		}
		statuses = append(statuses, status)
	}

	if len(outcomes) > 0 && allFailed {
		m.recordTelemetry(query, 0, statuses, start)
		return Result{Sources: statuses}, errors.NewAllSourcesFailed("fusion.Search", sourceErrors)
	}

	fused := fuseAndDedup(outcomes, normalized)
	sort.Slice(fused, func(i, j int) bool { return fused[i].TotalScore > fused[j].TotalScore })
	if len(fused) > topK {
		fused = fused[:topK]
	}

	m.recordTelemetry(query, len(fused), statuses, start)
	return Result{Results: fused, Sources: statuses}, nil
}

func (m *Manager) recordTelemetry(query string, resultCount int, statuses []SourceStatus, start time.Time) {
	if m.metrics == nil {
		return
	}
	sources := make([]telemetry.SourceOutcome, 0, len(statuses))
	for _, s := range statuses {
		sources = append(sources, telemetry.SourceOutcome{
			Source:   string(s.Source),
			Success:  s.Success,
			TimedOut: s.TimedOut,
		})
	}
	_ = m.metrics.Record(telemetry.SearchEvent{
		Query:       query,
		ResultCount: resultCount,
		Latency:     time.Since(start),
		Sources:     sources,
		Timestamp:   time.Now(),
	})
}

func (m *Manager) queryAll(ctx context.Context, query string, topN int) []outcome {
	var wg sync.WaitGroup
	results := make([]outcome, 0, len(m.sources))
	var mu sync.Mutex

	for name, src := range m.sources {
		if src == nil {
			continue
		}
		wg.Add(1)
		go func(name SourceName, src Source) {
			defer wg.Done()
			o := m.querySource(ctx, src, query, topN)
			o.Source = name
			mu.Lock()
			results = append(results, o)
			mu.Unlock()
		}(name, src)
	}
	wg.Wait()
	return results
}

func (m *Manager) querySource(ctx context.Context, src Source, query string, topN int) outcome {
	deadlineCtx, cancel := context.WithTimeout(ctx, m.cfg.PerSourceDeadline)
	defer cancel()

	start := time.Now()
	raw, err := src.Query(deadlineCtx, query, topN)
	duration := time.Since(start)

	if deadlineCtx.Err() != nil {
		return outcome{Duration: duration, TimedOut: true}
	}
	if err != nil {
		return outcome{Duration: duration, Err: err}
	}
	return outcome{Duration: duration, Results: raw}
}

func contentHash(content string) string {
	canonical := strings.ToLower(strings.TrimSpace(content))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16]
}

// fuseAndDedup coalesces raw results sharing a content hash, summing
// each source's weighted contribution into the coalesced entry's total
// score and keeping the per-source max raw score for attribution.
func fuseAndDedup(outcomes []outcome, weights Weights) []FusedResult {
	type accum struct {
		content   string
		perSource map[SourceName]float64
	}
	byHash := make(map[string]*accum)

	for _, o := range outcomes {
		if o.Results == nil {
			continue
		}
		for _, r := range o.Results {
			h := contentHash(r.Content)
			a, ok := byHash[h]
			if !ok {
				a = &accum{content: r.Content, perSource: make(map[SourceName]float64)}
				byHash[h] = a
			}
			if r.Score > a.perSource[o.Source] {
				a.perSource[o.Source] = r.Score
			}
		}
	}

	out := make([]FusedResult, 0, len(byHash))
	for h, a := range byHash {
		attributions := make([]Attribution, 0, len(a.perSource))
		total := 0.0
		for src, score := range a.perSource {
			total += weights.forSource(src) * score
			attributions = append(attributions, Attribution{Source: src, Score: score})
		}
		sort.Slice(attributions, func(i, j int) bool { return attributions[i].Source < attributions[j].Source })
		out = append(out, FusedResult{
			Hash:         h,
			Content:      a.content,
			TotalScore:   total,
			Attributions: attributions,
		})
	}
	return out
}
