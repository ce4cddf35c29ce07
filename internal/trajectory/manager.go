package trajectory

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opensona/sona/internal/errors"
)

const logFileName = "trajectories.v2.log"
const indexFileName = "trajectories.index.json"

// Manager is the trajectory store's public API: a bounded memory
// window backed by a batched, versioned on-disk log, guarded against
// concurrent writers from other processes.
type Manager struct {
	dir      string
	cfg      Config
	readOnly bool

	window    *window
	idx       *fileIndex
	readCache *lru.Cache[string, *Trajectory]
	querySem  chan struct{}

	pidPath string

	flushMu       sync.Mutex
	pending       []*Trajectory
	oldestPending time.Time

	rollbackMu    sync.Mutex
	rollback      RollbackState
	baselineID    string
	sinceRollback progressSignal

	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// progressSignal tracks the conditions that count as "progress" for the
// rollback-loop guard: at least one new trajectory, a new checkpoint, or
// a routing weight changed by more than 1% since the last rollback.
type progressSignal struct {
	newTrajectory  bool
	newCheckpoint  bool
	weightChanged  bool
}

func (p progressSignal) any() bool {
	return p.newTrajectory || p.newCheckpoint || p.weightChanged
}

// Open opens (creating if necessary) the trajectory store rooted at
// dir. Read-write opens (readOnly=false) acquire the PID-file writer
// lock and fail with a typed MultiProcessConflict if another live
// process already holds it; read-only opens never check it.
func Open(dir string, cfg Config, readOnly bool) (*Manager, error) {
	if cfg.MemoryWindowSize <= 0 {
		cfg = DefaultConfig()
	}

	m := &Manager{
		dir:      dir,
		cfg:      cfg,
		readOnly: readOnly,
		window:   newWindow(cfg.MemoryWindowSize),
		idx:      newFileIndex(filepath.Join(dir, indexFileName)),
		querySem: make(chan struct{}, cfg.MaxConcurrentQueries),
		stopCh:   make(chan struct{}),
	}

	cache, err := lru.New[string, *Trajectory](cfg.MemoryWindowSize)
	if err != nil {
		return nil, errors.InternalError("trajectory: create read cache", err)
	}
	m.readCache = cache

	if !readOnly {
		pidPath, err := acquireWriterLock(dir, "")
		if err != nil {
			return nil, err
		}
		m.pidPath = pidPath
	}

	if err := m.idx.load(); err != nil {
		return nil, err
	}
	if m.idx.len() == 0 {
		if err := m.rebuildIndexFromLog(); err != nil {
			return nil, err
		}
	}
	if err := m.loadRollbackState(); err != nil {
		return nil, err
	}

	if !readOnly {
		m.wg.Add(1)
		go m.flushLoop()
	}
	return m, nil
}

// Add queues t for the memory window and the next batched flush,
// flushing immediately if the batch-size threshold is already met.
func (m *Manager) Add(t *Trajectory) error {
	if m.readOnly {
		return errors.NewReadOnly("trajectory.Add")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = "running"
	}

	m.window.Add(t)

	m.flushMu.Lock()
	if len(m.pending) == 0 {
		m.oldestPending = time.Now()
	}
	m.pending = append(m.pending, t)
	due := len(m.pending) >= m.cfg.BatchWriteSize
	m.flushMu.Unlock()

	m.rollbackMu.Lock()
	m.sinceRollback.newTrajectory = true
	m.rollbackMu.Unlock()

	if due {
		return m.Flush()
	}
	return nil
}

// Get returns the trajectory for id, checking the memory window, then
// the read cache, then the on-disk log via the index — in that order.
func (m *Manager) Get(ctx context.Context, id string) (*Trajectory, error) {
	if t, ok := m.window.Get(id); ok {
		return t, nil
	}
	if t, ok := m.readCache.Get(id); ok {
		return t, nil
	}

	select {
	case m.querySem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-m.querySem }()

	entry, ok := m.idx.get(id)
	if !ok {
		return nil, nil
	}
	t, err := m.readAt(entry)
	if err != nil {
		return nil, err
	}
	m.readCache.Add(id, t)
	return t, nil
}

func (m *Manager) readAt(entry indexEntry) (*Trajectory, error) {
	f, err := os.Open(entry.FilePath)
	if err != nil {
		return nil, errors.IOError("trajectory: open log for read", err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(entry.Offset), io.SeekStart); err != nil {
		return nil, errors.IOError("trajectory: seek log", err)
	}
	t, _, err := decodeRecord(f)
	if err != nil {
		return nil, errors.IOError("trajectory: decode record", err)
	}
	t.FilePath = entry.FilePath
	t.FileOffset = entry.Offset
	t.FileLength = entry.Length
	return t, nil
}

// Flush writes all pending trajectories to the log. Concurrent callers
// are coalesced: the flush mutex, held for the whole write, serializes
// them, and a caller that acquires it after another flush has drained
// the pending queue sees it empty and returns immediately.
func (m *Manager) Flush() error {
	if m.readOnly {
		return errors.NewReadOnly("trajectory.Flush")
	}

	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	batch := m.pending
	m.pending = nil
	if len(batch) == 0 {
		return nil
	}

	return m.appendToLog(batch)
}

func (m *Manager) logPath() string {
	return filepath.Join(m.dir, logFileName)
}

// appendToLog rewrites the log with the existing records plus batch,
// recomputing the header and index. The log is small enough in the
// scenarios this store targets (≤100k trajectories) that a full
// rewrite-on-flush keeps the format and the checksum trivially
// consistent; a true append-in-place log is the natural next
// optimization if flush latency becomes a bottleneck.
func (m *Manager) appendToLog(batch []*Trajectory) error {
	existing, rollbackState, err := m.readAllRecords()
	if err != nil {
		return err
	}
	all := append(existing, batch...)

	if err := m.writeLog(all, rollbackState); err != nil {
		return err
	}
	return m.rebuildIndexFromRecords(all)
}

func (m *Manager) writeLog(all []*Trajectory, rollbackState *RollbackState) error {
	path := m.logPath()
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return errors.IOError("trajectory: create store directory", err)
	}

	body, _, err := encodeRecords(all, headerSize)
	if err != nil {
		return err
	}

	var rollbackBytes []byte
	rollbackOff := uint32(0)
	if rollbackState != nil {
		rollbackOff = headerSize + uint32(len(body))
		rollbackBytes, err = marshalRollbackState(*rollbackState)
		if err != nil {
			return err
		}
	}

	h := header{
		Version:          logVersion,
		TrajectoryCount:  uint32(len(all)),
		Checksum:         crc32Of(body),
		RollbackStateOff: rollbackOff,
	}
	copy(h.Magic[:], logMagic)

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.IOError("trajectory: create temp log", err)
	}
	if err := writeHeader(f, h); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.IOError("trajectory: write header", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.IOError("trajectory: write body", err)
	}
	if rollbackBytes != nil {
		if _, err := f.Write(rollbackBytes); err != nil {
			f.Close()
			os.Remove(tmp)
			return errors.IOError("trajectory: write rollback state", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.IOError("trajectory: close temp log", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.IOError("trajectory: rename log", err)
	}
	return nil
}

func (m *Manager) readAllRecords() ([]*Trajectory, *RollbackState, error) {
	path := m.logPath()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.IOError("trajectory: open log", err)
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return nil, nil, errors.IOError("trajectory: read header", err)
	}

	records := make([]*Trajectory, 0, h.TrajectoryCount)
	for i := uint32(0); i < h.TrajectoryCount; i++ {
		t, _, err := decodeRecord(f)
		if err != nil {
			return nil, nil, errors.IOError("trajectory: decode record", err)
		}
		records = append(records, t)
	}

	var rollback *RollbackState
	if h.RollbackStateOff > 0 {
		rs, err := readRollbackState(f)
		if err == nil {
			rollback = rs
		}
	}

	return records, rollback, nil
}

func (m *Manager) rebuildIndexFromLog() error {
	records, _, err := m.readAllRecords()
	if err != nil {
		return err
	}
	return m.rebuildIndexFromRecords(records)
}

func (m *Manager) rebuildIndexFromRecords(records []*Trajectory) error {
	m.idx.clear()
	offset := uint32(headerSize)
	for _, t := range records {
		_, encoded, err := encodeRecords([]*Trajectory{t}, offset)
		if err != nil {
			return err
		}
		e := encoded[0]
		m.idx.put(t.ID, indexEntry{
			FilePath:     m.logPath(),
			Offset:       e.offset,
			Length:       e.length,
			Route:        t.Route,
			StepCount:    t.StepCount,
			QualityScore: t.QualityScore,
			CreatedAt:    t.CreatedAt,
			Status:       t.Status,
		})
		offset += e.length
	}
	return m.idx.save()
}

func (m *Manager) flushLoop() {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.BatchWriteIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.flushMu.Lock()
			due := len(m.pending) > 0 && time.Since(m.oldestPending) >= interval
			m.flushMu.Unlock()
			if due {
				m.Flush()
			}
		}
	}
}

// RecordRollback applies the checkpoint-identified rollback protocol:
// repeating the same checkpoint with no intervening progress fails
// with a typed RollbackLoop error.
func (m *Manager) RecordRollback(checkpointID string) error {
	m.rollbackMu.Lock()
	defer m.rollbackMu.Unlock()

	if checkpointID == m.rollback.LastRollbackCheckpointID && !m.sinceRollback.any() {
		return errors.NewRollbackLoop("trajectory.RecordRollback", checkpointID)
	}

	m.rollback = RollbackState{
		LastRollbackCheckpointID: checkpointID,
		LastRollbackAt:           time.Now(),
		RollbackCount:            m.rollback.RollbackCount + 1,
	}
	m.sinceRollback = progressSignal{}
	return m.persistRollbackState()
}

// NotifyCheckpointCreated records a new-checkpoint progress signal.
func (m *Manager) NotifyCheckpointCreated() {
	m.rollbackMu.Lock()
	defer m.rollbackMu.Unlock()
	m.sinceRollback.newCheckpoint = true
}

// NotifyWeightChange records a routing-weight-changed progress signal
// if the magnitude of the change exceeds 1%.
func (m *Manager) NotifyWeightChange(deltaMagnitude float64) {
	if math.Abs(deltaMagnitude) <= 0.01 {
		return
	}
	m.rollbackMu.Lock()
	defer m.rollbackMu.Unlock()
	m.sinceRollback.weightChanged = true
}

// SetBaselineCheckpoint marks id as the baseline, which CheckDeleteCheckpoint
// will always refuse to delete.
func (m *Manager) SetBaselineCheckpoint(id string) {
	m.rollbackMu.Lock()
	defer m.rollbackMu.Unlock()
	m.baselineID = id
}

// CheckDeleteCheckpoint returns a typed DeleteBaseline error if id is
// the baseline checkpoint, and nil otherwise.
func (m *Manager) CheckDeleteCheckpoint(id string) error {
	m.rollbackMu.Lock()
	defer m.rollbackMu.Unlock()
	if id != "" && id == m.baselineID {
		return errors.NewDeleteBaseline("trajectory.CheckDeleteCheckpoint", id)
	}
	return nil
}

func (m *Manager) loadRollbackState() error {
	_, rollback, err := m.readAllRecords()
	if err != nil {
		return err
	}
	if rollback != nil {
		m.rollback = *rollback
	}
	return nil
}

func (m *Manager) persistRollbackState() error {
	records, _, err := m.readAllRecords()
	if err != nil {
		return err
	}
	return m.writeLog(records, &m.rollback)
}

// WindowLen returns the number of trajectories currently held in the
// bounded memory window.
func (m *Manager) WindowLen() int {
	return m.window.Len()
}

// Close flushes pending writes and releases the writer lock, if held.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		if !m.readOnly {
			if ferr := m.Flush(); ferr != nil {
				err = ferr
				return
			}
			err = releaseWriterLock(m.pidPath)
		}
	})
	return err
}
