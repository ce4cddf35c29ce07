package hnsw

import "container/heap"

// minSlice is a container/heap.Interface that pops the smallest-distance
// candidate first; used for the beam-search frontier, which always
// expands the closest unexplored candidate.
type minSlice []candidate

func (s minSlice) Len() int            { return len(s) }
func (s minSlice) Less(i, j int) bool  { return s[i].dist < s[j].dist }
func (s minSlice) Swap(i, j int)       { s[i], s[j] = s[j], s[i] }
func (s *minSlice) Push(x any)         { *s = append(*s, x.(candidate)) }
func (s *minSlice) Pop() any {
	old := *s
	n := len(old)
	item := old[n-1]
	*s = old[:n-1]
	return item
}

type minHeap struct{ s minSlice }

func newMinHeap() *minHeap { return &minHeap{} }

func (h *minHeap) Len() int         { return len(h.s) }
func (h *minHeap) push(c candidate) { heap.Push(&h.s, c) }
func (h *minHeap) pop() candidate   { return heap.Pop(&h.s).(candidate) }

// maxSlice pops the largest-distance candidate first; used to bound the
// beam-search result set to ef entries by evicting the worst candidate
// whenever it overflows.
type maxSlice []candidate

func (s maxSlice) Len() int            { return len(s) }
func (s maxSlice) Less(i, j int) bool  { return s[i].dist > s[j].dist }
func (s maxSlice) Swap(i, j int)       { s[i], s[j] = s[j], s[i] }
func (s *maxSlice) Push(x any)         { *s = append(*s, x.(candidate)) }
func (s *maxSlice) Pop() any {
	old := *s
	n := len(old)
	item := old[n-1]
	*s = old[:n-1]
	return item
}

type maxHeap struct{ s maxSlice }

func newMaxHeap() *maxHeap { return &maxHeap{} }

func (h *maxHeap) Len() int         { return len(h.s) }
func (h *maxHeap) push(c candidate) { heap.Push(&h.s, c) }
func (h *maxHeap) pop() candidate   { return heap.Pop(&h.s).(candidate) }
func (h *maxHeap) peek() candidate  { return h.s[0] }

func (h *maxHeap) items() []candidate {
	out := make([]candidate, len(h.s))
	copy(out, h.s)
	return out
}
