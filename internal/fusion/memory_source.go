package fusion

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// KnowledgeEntry is one item in the knowledge store the Memory source
// queries: a piece of learned content scoped to a namespace/domain and
// taggable for filtered retrieval.
type KnowledgeEntry struct {
	ID        string
	Domain    string
	Tags      []string
	Content   string
	Quality   float64 // in [0,1]
	LastUsed  time.Time
	CreatedAt time.Time
}

// KnowledgeStore holds knowledge entries in memory, keyed by entry ID.
type KnowledgeStore struct {
	mu      sync.RWMutex
	entries map[string]*KnowledgeEntry
}

// NewKnowledgeStore builds an empty knowledge store.
func NewKnowledgeStore() *KnowledgeStore {
	return &KnowledgeStore{entries: make(map[string]*KnowledgeEntry)}
}

// Upsert adds or replaces a knowledge entry.
func (k *KnowledgeStore) Upsert(e *KnowledgeEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[e.ID] = e
}

// Touch marks an entry as just used, advancing LastUsed.
func (k *KnowledgeStore) Touch(id string, when time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if e, ok := k.entries[id]; ok {
		e.LastUsed = when
	}
}

func hasAnyTag(entryTags, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	set := make(map[string]bool, len(entryTags))
	for _, t := range entryTags {
		set[strings.ToLower(t)] = true
	}
	for _, w := range wanted {
		if set[strings.ToLower(w)] {
			return true
		}
	}
	return false
}

// MemoryFilter scopes a Memory source query to a namespace/domain and,
// optionally, a set of tags an entry must carry at least one of.
type MemoryFilter struct {
	Domain string
	Tags   []string
}

// MemorySource queries the knowledge store for entries matching a
// domain/tag filter and scores them by lexical overlap with the query
// weighted by the entry's recorded quality.
type MemorySource struct {
	store  *KnowledgeStore
	filter MemoryFilter
}

// NewMemorySource builds the Memory fusion source scoped to filter.
func NewMemorySource(store *KnowledgeStore, filter MemoryFilter) *MemorySource {
	return &MemorySource{store: store, filter: filter}
}

func (s *MemorySource) Name() SourceName { return SourceMemory }

func (s *MemorySource) Query(ctx context.Context, query string, topN int) ([]RawResult, error) {
	terms := strings.Fields(strings.ToLower(query))

	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	type scored struct {
		entry *KnowledgeEntry
		score float64
	}
	var candidates []scored

	for _, e := range s.store.entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if s.filter.Domain != "" && !strings.EqualFold(e.Domain, s.filter.Domain) {
			continue
		}
		if !hasAnyTag(e.Tags, s.filter.Tags) {
			continue
		}

		overlap := lexicalOverlap(terms, e.Content)
		if overlap == 0 {
			continue
		}
		score := overlap * e.Quality
		if score <= 0 {
			continue
		}
		candidates = append(candidates, scored{entry: e, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	out := make([]RawResult, 0, len(candidates))
	for _, c := range candidates {
		score := c.score
		if score > 1 {
			score = 1
		}
		out = append(out, RawResult{
			ID:      c.entry.ID,
			Content: c.entry.Content,
			Score:   score,
			Metadata: map[string]string{
				"domain": c.entry.Domain,
			},
		})
	}
	return out, nil
}

// lexicalOverlap returns the fraction of query terms present in
// content, a cheap relevance proxy used when no embedding is available
// for the memory source.
func lexicalOverlap(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
