package trajectory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_AddAndGet(t *testing.T) {
	w := newWindow(10)
	w.Add(&Trajectory{ID: "a", QualityScore: 0.5, CreatedAt: time.Now()})

	got, ok := w.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
}

func TestWindow_EvictsLowestPriorityWhenFull(t *testing.T) {
	w := newWindow(2)
	now := time.Now()

	var evicted *Trajectory
	w.onEvict(func(t *Trajectory) { evicted = t })

	// low quality, old: lowest priority
	w.Add(&Trajectory{ID: "old-low", QualityScore: 0.1, CreatedAt: now.Add(-10 * 24 * time.Hour)})
	// high quality, recent: highest priority
	w.Add(&Trajectory{ID: "new-high", QualityScore: 0.9, CreatedAt: now})
	// triggers eviction of the minimum-priority entry
	w.Add(&Trajectory{ID: "new-mid", QualityScore: 0.5, CreatedAt: now})

	require.NotNil(t, evicted)
	assert.Equal(t, "old-low", evicted.ID)
	assert.Equal(t, 2, w.Len())

	_, ok := w.Get("new-high")
	assert.True(t, ok)
}

func TestWindow_HighQualityOldTrajectorySurvivesPureRecencyEviction(t *testing.T) {
	w := newWindow(2)
	now := time.Now()

	var evicted *Trajectory
	w.onEvict(func(t *Trajectory) { evicted = t })

	w.Add(&Trajectory{ID: "old-high-quality", QualityScore: 5.0, CreatedAt: now.Add(-30 * 24 * time.Hour)})
	w.Add(&Trajectory{ID: "new-zero-quality-a", QualityScore: 0, CreatedAt: now})
	w.Add(&Trajectory{ID: "new-zero-quality-b", QualityScore: 0, CreatedAt: now})

	require.NotNil(t, evicted)
	assert.NotEqual(t, "old-high-quality", evicted.ID, "a sufficiently high quality score should outweigh age")
}

func TestWindow_RemoveDropsEntry(t *testing.T) {
	w := newWindow(10)
	w.Add(&Trajectory{ID: "a", CreatedAt: time.Now()})
	w.Remove("a")

	_, ok := w.Get("a")
	assert.False(t, ok)
}

func TestWindow_SnapshotPreservesInsertionOrder(t *testing.T) {
	w := newWindow(10)
	w.Add(&Trajectory{ID: "a", CreatedAt: time.Now()})
	w.Add(&Trajectory{ID: "b", CreatedAt: time.Now()})
	w.Add(&Trajectory{ID: "c", CreatedAt: time.Now()})

	snap := w.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
}
