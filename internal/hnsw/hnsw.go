// Package hnsw implements a hierarchical navigable small world graph over
// float32 vectors, optionally backed by INT8 quantized codes for memory
// and traversal-speed savings. Nodes live in a dense arena (a slice
// addressed by integer index) rather than a pointer-heavy graph, so a
// save/load round trip can walk the arena directly instead of chasing
// pointers through a deserialized object graph.
package hnsw

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/opensona/sona/internal/errors"
	"github.com/opensona/sona/internal/quantize"
	"github.com/opensona/sona/internal/vecmath"
)

// noEntryPoint marks an index with no entry point (empty index).
const noEntryPoint = -1

// Config holds the build-time and query-time parameters of an Index.
type Config struct {
	Dimension        int
	Metric           vecmath.Metric
	M                int // neighbors per node per non-zero level
	EfConstruction   int
	EfSearch         int
	Quantization     bool
	RerankCandidates int // additional raw-precision distance checks during rerank
	RandomSeed       int64
}

func (c Config) validate() error {
	if c.Dimension <= 0 {
		return errors.ValidationError("hnsw: dimension must be positive", nil)
	}
	if c.M <= 0 {
		return errors.ValidationError("hnsw: M must be positive", nil)
	}
	if c.EfConstruction <= 0 {
		return errors.ValidationError("hnsw: ef_construction must be positive", nil)
	}
	if c.EfSearch <= 0 {
		return errors.ValidationError("hnsw: ef_search must be positive", nil)
	}
	return nil
}

// mMax0 is the level-0 neighbor cap, conventionally twice M.
func (c Config) mMax0() int { return 2 * c.M }

func (c Config) capForLevel(level int) int {
	if level == 0 {
		return c.mMax0()
	}
	return c.M
}

// node is one vertex of the graph. neighbors[level] holds the indices
// (into Index.nodes) of this node's neighbors at that level.
type node struct {
	id        string
	vector    []float32
	quantized quantize.Vector
	level     int
	neighbors [][]uint32
	deleted   bool
}

// Stats summarizes the physical vs. logical size of the graph for
// compaction decisions: deleted nodes remain as tombstones in the arena
// until a rebuild, so GraphNodes can exceed ValidIDs.
type Stats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID       string
	Distance float32
}

// Index is a single HNSW graph. All exported methods are safe for
// concurrent use.
type Index struct {
	mu sync.RWMutex

	config     Config
	mLevel     float64 // 1 / ln(M), the level-generation scale
	rng        *rand.Rand
	nodes      []*node
	idToIndex  map[string]uint32
	entryPoint int
	entryLevel int
	closed     bool
}

// New builds an empty index with the given configuration.
func New(cfg Config) (*Index, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = 1
	}
	return &Index{
		config:     cfg,
		mLevel:     1 / math.Log(float64(cfg.M)),
		rng:        rand.New(rand.NewSource(seed)),
		idToIndex:  make(map[string]uint32),
		entryPoint: noEntryPoint,
	}, nil
}

func (idx *Index) randomLevel() int {
	u := idx.rng.Float64()
	for u <= 0 {
		u = idx.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * idx.mLevel))
}

func (idx *Index) distance(a, b []float32) float32 {
	return vecmath.Distance(a, b, idx.config.Metric)
}

func validateFinite(v []float32) error {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return errors.ValidationError("hnsw: vector contains non-finite value", nil)
		}
	}
	return nil
}

// Insert adds or replaces the vector stored under id.
func (idx *Index) Insert(id string, v []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errors.NewClosed("hnsw.Insert", "index")
	}
	if len(v) != idx.config.Dimension {
		return errors.NewDimensionMismatch("hnsw.Insert", idx.config.Dimension, len(v))
	}
	if err := validateFinite(v); err != nil {
		return err
	}

	if existing, ok := idx.idToIndex[id]; ok {
		idx.removeLocked(existing)
	}

	vec := make([]float32, len(v))
	copy(vec, v)

	level := idx.randomLevel()
	n := &node{
		id:        id,
		vector:    vec,
		level:     level,
		neighbors: make([][]uint32, level+1),
	}
	if idx.config.Quantization {
		n.quantized = quantize.Encode(vec, quantize.Symmetric)
	}

	newIdx := uint32(len(idx.nodes))
	idx.nodes = append(idx.nodes, n)
	idx.idToIndex[id] = newIdx

	if idx.entryPoint == noEntryPoint {
		idx.entryPoint = int(newIdx)
		idx.entryLevel = level
		return nil
	}

	cur := uint32(idx.entryPoint)
	for l := idx.entryLevel; l > level; l-- {
		cur = idx.greedyStep(cur, vec, l)
	}

	top := level
	if idx.entryLevel < top {
		top = idx.entryLevel
	}
	for l := top; l >= 0; l-- {
		candidates := idx.searchLayer(cur, vec, idx.config.EfConstruction, l, newIdx)
		if len(candidates) == 0 {
			continue
		}
		capN := idx.config.capForLevel(l)
		selected := idx.selectNeighbors(vec, candidates, capN)

		neighborIDs := make([]uint32, len(selected))
		for i, c := range selected {
			neighborIDs[i] = c.index
		}
		n.neighbors[l] = neighborIDs
		cur = selected[0].index

		for _, c := range selected {
			other := idx.nodes[c.index]
			if other.level < l {
				continue
			}
			other.neighbors[l] = appendUnique(other.neighbors[l], newIdx)
			otherCap := idx.config.capForLevel(l)
			if len(other.neighbors[l]) > otherCap {
				idx.pruneNeighbors(c.index, l, otherCap)
			}
		}
	}

	if level > idx.entryLevel {
		idx.entryPoint = int(newIdx)
		idx.entryLevel = level
	}
	return nil
}

func appendUnique(s []uint32, v uint32) []uint32 {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// pruneNeighbors re-applies the diversity heuristic to node n's neighbor
// set at level, keeping it within cap.
func (idx *Index) pruneNeighbors(n uint32, level, capN int) {
	self := idx.nodes[n]
	candidates := make([]candidate, 0, len(self.neighbors[level]))
	for _, nb := range self.neighbors[level] {
		candidates = append(candidates, candidate{index: nb, dist: idx.distance(self.vector, idx.nodes[nb].vector)})
	}
	selected := idx.selectNeighbors(self.vector, candidates, capN)
	ids := make([]uint32, len(selected))
	for i, c := range selected {
		ids[i] = c.index
	}
	self.neighbors[level] = ids
}

type candidate struct {
	index uint32
	dist  float32
}

// greedyStep does a single-hop greedy walk at level from cur towards
// query, returning the closest neighbor found (or cur if none is
// closer).
func (idx *Index) greedyStep(cur uint32, query []float32, level int) uint32 {
	best := cur
	bestDist := idx.distance(idx.nodes[cur].vector, query)
	improved := true
	for improved {
		improved = false
		for _, nb := range idx.nodes[best].neighbors[level] {
			if idx.nodes[nb].deleted {
				continue
			}
			d := idx.distance(idx.nodes[nb].vector, query)
			if d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
	}
	return best
}

// searchLayer runs a bounded beam search at level starting from entry,
// returning up to ef candidates sorted by ascending distance. exclude,
// when not the sentinel, is skipped from the result set (used to avoid
// a node linking to itself during insert).
func (idx *Index) searchLayer(entry uint32, query []float32, ef, level int, exclude uint32) []candidate {
	visited := map[uint32]bool{entry: true}
	entryDist := idx.distance(idx.nodes[entry].vector, query)

	candidates := newMinHeap()
	candidates.push(candidate{index: entry, dist: entryDist})
	results := newMaxHeap()
	if entry != exclude && !idx.nodes[entry].deleted {
		results.push(candidate{index: entry, dist: entryDist})
	}

	for candidates.Len() > 0 {
		c := candidates.pop()
		if results.Len() >= ef && c.dist > results.peek().dist {
			break
		}
		node := idx.nodes[c.index]
		if level > node.level {
			continue
		}
		for _, nb := range node.neighbors[level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode := idx.nodes[nb]
			d := idx.distance(nbNode.vector, query)
			if results.Len() < ef || d < results.peek().dist {
				candidates.push(candidate{index: nb, dist: d})
				if nb != exclude && !nbNode.deleted {
					results.push(candidate{index: nb, dist: d})
					if results.Len() > ef {
						results.pop()
					}
				}
			}
		}
	}

	out := results.items()
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// selectNeighbors implements the diversity heuristic: a candidate is
// kept only if it is strictly closer to query than to every
// already-selected candidate. If fewer than cap survive, the remaining
// slots are backfilled by plain closeness.
func (idx *Index) selectNeighbors(query []float32, candidates []candidate, capN int) []candidate {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })

	selected := make([]candidate, 0, capN)
	kept := make(map[uint32]bool)
	for _, c := range sorted {
		if len(selected) >= capN {
			break
		}
		good := true
		for _, s := range selected {
			if idx.distance(idx.nodes[c.index].vector, idx.nodes[s.index].vector) < c.dist {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, c)
			kept[c.index] = true
		}
	}
	if len(selected) < capN {
		for _, c := range sorted {
			if len(selected) >= capN {
				break
			}
			if kept[c.index] {
				continue
			}
			selected = append(selected, c)
			kept[c.index] = true
		}
	}
	return selected
}

// Search returns up to k nearest neighbors of q. Search is total: a
// well-formed query never errors, returning min(k, size) results even
// on an empty index.
func (idx *Index) Search(q []float32, k, ef int) ([]SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, errors.NewClosed("hnsw.Search", "index")
	}
	if len(q) != idx.config.Dimension {
		return nil, errors.NewDimensionMismatch("hnsw.Search", idx.config.Dimension, len(q))
	}
	if idx.entryPoint == noEntryPoint {
		return nil, nil
	}

	beamWidth := ef
	if k > beamWidth {
		beamWidth = k
	}

	cur := uint32(idx.entryPoint)
	for l := idx.entryLevel; l > 0; l-- {
		cur = idx.greedyStep(cur, q, l)
	}

	var candidates []candidate
	if idx.config.Quantization {
		qq := quantize.Encode(q, quantize.Symmetric)
		candidates = idx.searchLayerQuantized(cur, q, qq, beamWidth, 0)
		rerankN := idx.config.RerankCandidates
		if rerankN < k {
			rerankN = 2 * k
		}
		if rerankN > len(candidates) {
			rerankN = len(candidates)
		}
		for i := 0; i < rerankN; i++ {
			candidates[i].dist = idx.distance(idx.nodes[candidates[i].index].vector, q)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	} else {
		candidates = idx.searchLayer(cur, q, beamWidth, 0, math.MaxUint32)
	}

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]SearchResult, k)
	for i := 0; i < k; i++ {
		out[i] = SearchResult{ID: idx.nodes[candidates[i].index].id, Distance: candidates[i].dist}
	}
	return out, nil
}

// searchLayerQuantized mirrors searchLayer but computes traversal
// distances in the quantized domain, only used when the index was built
// with Quantization enabled.
func (idx *Index) searchLayerQuantized(entry uint32, query []float32, qq quantize.Vector, ef, level int) []candidate {
	dist := func(n uint32) float32 {
		return quantize.DistanceToQuery(idx.nodes[n].quantized, query)
	}
	visited := map[uint32]bool{entry: true}
	entryDist := dist(entry)

	candidates := newMinHeap()
	candidates.push(candidate{index: entry, dist: entryDist})
	results := newMaxHeap()
	if !idx.nodes[entry].deleted {
		results.push(candidate{index: entry, dist: entryDist})
	}

	for candidates.Len() > 0 {
		c := candidates.pop()
		if results.Len() >= ef && c.dist > results.peek().dist {
			break
		}
		node := idx.nodes[c.index]
		if level > node.level {
			continue
		}
		for _, nb := range node.neighbors[level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := dist(nb)
			if results.Len() < ef || d < results.peek().dist {
				candidates.push(candidate{index: nb, dist: d})
				if !idx.nodes[nb].deleted {
					results.push(candidate{index: nb, dist: d})
					if results.Len() > ef {
						results.pop()
					}
				}
			}
		}
	}

	out := results.items()
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// Remove drops id from the neighbor lists of the nodes it links to and
// leaves it in the arena as a tombstone (searches skip it). If id was the
// entry point, the remaining node with the highest level becomes the
// new entry point (or the index becomes empty).
func (idx *Index) Remove(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errors.NewClosed("hnsw.Remove", "index")
	}
	i, ok := idx.idToIndex[id]
	if !ok {
		return nil
	}
	idx.removeLocked(i)
	return nil
}

func (idx *Index) removeLocked(i uint32) {
	n := idx.nodes[i]
	for level, neighbors := range n.neighbors {
		for _, nb := range neighbors {
			other := idx.nodes[nb]
			filtered := other.neighbors[level][:0]
			for _, x := range other.neighbors[level] {
				if x != i {
					filtered = append(filtered, x)
				}
			}
			other.neighbors[level] = filtered
		}
	}
	n.deleted = true
	delete(idx.idToIndex, n.id)

	if int(i) == idx.entryPoint {
		idx.reassignEntryPoint()
	}
}

func (idx *Index) reassignEntryPoint() {
	best := noEntryPoint
	bestLevel := -1
	for i, n := range idx.nodes {
		if n.deleted {
			continue
		}
		if n.level > bestLevel {
			bestLevel = n.level
			best = i
		}
	}
	idx.entryPoint = best
	if best == noEntryPoint {
		idx.entryLevel = 0
	} else {
		idx.entryLevel = bestLevel
	}
}

// Stats reports the live/tombstoned composition of the graph.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return Stats{
		ValidIDs:   len(idx.idToIndex),
		GraphNodes: len(idx.nodes),
		Orphans:    len(idx.nodes) - len(idx.idToIndex),
	}
}

// Close marks the index closed. Subsequent operations fail with a typed
// closed error.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	return nil
}
