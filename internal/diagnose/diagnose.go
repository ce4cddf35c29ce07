// Package diagnose implements the dimension-detection scan: walking a
// storage root and reporting, per file, its detected type, embedding
// dimension, and whether it needs migration to the current format.
package diagnose

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opensona/sona/internal/errors"
	"github.com/opensona/sona/internal/hnsw"
	"github.com/opensona/sona/internal/trajectory"
)

// FileType classifies one scanned file.
type FileType string

const (
	TypeJSON    FileType = "json"
	TypeBinary  FileType = "binary"
	TypeSQLite  FileType = "sqlite"
	TypeHNSW    FileType = "hnsw"
	TypeUnknown FileType = "unknown"
)

const sqliteMagic = "SQLite format 3\x00"

// FileReport is one scanned file's classification.
type FileReport struct {
	Path              string   `json:"path"`
	Type              FileType `json:"type"`
	DetectedDimension int      `json:"detected_dimension"`
	VectorCount       int      `json:"vector_count"`
	NeedsMigration    bool     `json:"needs_migration"`
}

// Summary aggregates a scan across every reported file.
type Summary struct {
	FilesScanned   int `json:"files_scanned"`
	TotalVectors   int `json:"total_vectors"`
	NeedsMigration int `json:"needs_migration"`
	Unknown        int `json:"unknown"`
}

// Result is the full output of one Scan call.
type Result struct {
	Files   []FileReport `json:"files"`
	Summary Summary      `json:"summary"`
}

// Scan walks root and classifies every regular file it finds.
func Scan(root string) (Result, error) {
	var result Result

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		report := classify(path)
		result.Files = append(result.Files, report)
		result.Summary.FilesScanned++
		result.Summary.TotalVectors += report.VectorCount
		if report.NeedsMigration {
			result.Summary.NeedsMigration++
		}
		if report.Type == TypeUnknown {
			result.Summary.Unknown++
		}
		return nil
	})
	if err != nil {
		return Result{}, errors.IOError("diagnose: walk root", err)
	}
	return result, nil
}

func classify(path string) FileReport {
	report := FileReport{Path: path, Type: TypeUnknown}

	header, err := readHeaderBytes(path, 32)
	if err != nil {
		return report
	}

	switch {
	case bytes.HasPrefix(header, []byte(sqliteMagic)):
		report.Type = TypeSQLite
	case bytes.HasPrefix(header, []byte(hnsw.FileMagic)):
		report.Type = TypeHNSW
		classifyHNSW(path, &report)
	case bytes.HasPrefix(header, []byte(trajectory.LogMagic)):
		report.Type = TypeBinary
		classifyTrajectoryLog(path, &report)
	case looksLikeJSON(header):
		report.Type = TypeJSON
	}
	return report
}

func readHeaderBytes(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && read == 0 {
		return nil, err
	}
	return buf[:read], nil
}

func looksLikeJSON(header []byte) bool {
	trimmed := bytes.TrimLeft(header, " \t\r\n")
	if len(trimmed) == 0 {
		return false
	}
	return trimmed[0] == '{' || trimmed[0] == '['
}

func classifyHNSW(path string, report *FileReport) {
	dim, err := hnsw.DetectDimension(path)
	if err != nil {
		report.NeedsMigration = true
		return
	}
	report.DetectedDimension = dim
}

func classifyTrajectoryLog(path string, report *FileReport) {
	count, version, err := trajectory.ReadHeaderAt(path)
	if err != nil {
		report.NeedsMigration = true
		return
	}
	report.VectorCount = int(count)
	report.NeedsMigration = version != trajectory.LogVersion
}

// EncodeJSON renders a Result as indented JSON, matching the
// specification's CLI output contract.
func EncodeJSON(r Result) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, errors.InternalError("diagnose: encode result", err)
	}
	return data, nil
}
