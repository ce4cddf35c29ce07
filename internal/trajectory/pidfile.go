package trajectory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opensona/sona/internal/errors"
)

// writerIdentity is the payload written to the trajectory store's PID
// file: enough for another process to explain who is holding the
// write lock.
type writerIdentity struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Address   string    `json:"address"`
	StartTime time.Time `json:"start_time"`
}

const pidFileName = ".trajectory-writer.pid"

// acquireWriterLock writes the PID file for a read-write open, first
// checking whether a live writer already holds it.
func acquireWriterLock(dir, address string) (string, error) {
	path := filepath.Join(dir, pidFileName)

	if existing, err := readWriterIdentity(path); err == nil {
		if processAlive(existing.PID) {
			return "", errors.NewMultiProcessConflict("trajectory.Open", existing.PID)
		}
	}

	host, _ := os.Hostname()
	identity := writerIdentity{
		PID:       os.Getpid(),
		Host:      host,
		Address:   address,
		StartTime: time.Now(),
	}
	data, err := json.Marshal(identity)
	if err != nil {
		return "", errors.InternalError("trajectory: marshal writer identity", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.IOError("trajectory: create store directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.IOError("trajectory: write pid file", err)
	}
	return path, nil
}

func releaseWriterLock(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.IOError("trajectory: remove pid file", err)
	}
	return nil
}

func readWriterIdentity(path string) (writerIdentity, error) {
	var id writerIdentity
	data, err := os.ReadFile(path)
	if err != nil {
		return id, err
	}
	if err := json.Unmarshal(data, &id); err != nil {
		return id, err
	}
	return id, nil
}

// processAlive mirrors the teacher's PID-liveness check: on Unix,
// os.FindProcess always succeeds, so signal 0 is sent to probe whether
// the process actually exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
