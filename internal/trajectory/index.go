package trajectory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/opensona/sona/internal/errors"
)

// indexEntry is one row of the trajectory index: enough to locate a
// flushed record on disk and to answer metadata queries without a
// round-trip through the log itself.
type indexEntry struct {
	FilePath     string    `json:"file_path"`
	Offset       uint32    `json:"offset"`
	Length       uint32    `json:"length"`
	Route        string    `json:"route"`
	StepCount    int       `json:"step_count"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
	Status       string    `json:"status"`
}

// fileIndex is the JSON-backed trajectory_id -> indexEntry map. The
// in-process mutex guards concurrent goroutines within this Manager;
// the flock additionally guards the file itself against a second
// process (another sonactl invocation, or a stale writer) rewriting
// it concurrently.
type fileIndex struct {
	mu      sync.RWMutex
	path    string
	entries map[string]indexEntry
	flock   *flock.Flock
}

func newFileIndex(path string) *fileIndex {
	return &fileIndex{
		path:    path,
		entries: make(map[string]indexEntry),
		flock:   flock.New(path + ".lock"),
	}
}

// load reads the index from disk. A missing file is not an error: the
// caller is expected to rebuild from the log in that case.
func (fi *fileIndex) load() error {
	if err := fi.flock.RLock(); err != nil {
		return errors.IOError("trajectory: lock index for read", err)
	}
	defer fi.flock.Unlock()

	fi.mu.Lock()
	defer fi.mu.Unlock()

	data, err := os.ReadFile(fi.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.IOError("trajectory: read index", err)
	}
	var entries map[string]indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.IOError("trajectory: decode index", err)
	}
	fi.entries = entries
	return nil
}

// save atomically persists the index via temp-file-then-rename, holding
// the cross-process lock for the whole write-then-rename sequence.
func (fi *fileIndex) save() error {
	if err := os.MkdirAll(filepath.Dir(fi.path), 0o755); err != nil {
		return errors.IOError("trajectory: create index directory", err)
	}
	if err := fi.flock.Lock(); err != nil {
		return errors.IOError("trajectory: lock index for write", err)
	}
	defer fi.flock.Unlock()

	fi.mu.RLock()
	data, err := json.MarshalIndent(fi.entries, "", "  ")
	fi.mu.RUnlock()
	if err != nil {
		return errors.InternalError("trajectory: marshal index", err)
	}

	tmp := fi.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.IOError("trajectory: write index", err)
	}
	if err := os.Rename(tmp, fi.path); err != nil {
		os.Remove(tmp)
		return errors.IOError("trajectory: rename index", err)
	}
	return nil
}

func (fi *fileIndex) put(id string, e indexEntry) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.entries[id] = e
}

func (fi *fileIndex) get(id string) (indexEntry, bool) {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	e, ok := fi.entries[id]
	return e, ok
}

func (fi *fileIndex) len() int {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	return len(fi.entries)
}

func (fi *fileIndex) clear() {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.entries = make(map[string]indexEntry)
}
