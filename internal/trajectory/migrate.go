package trajectory

import (
	"os"
	"path/filepath"

	"github.com/opensona/sona/internal/errors"
)

// MigrationReport summarizes what a migrate_to_version run did (or
// would do, for dry_run).
type MigrationReport struct {
	SourceVersion  uint32
	TargetVersion  uint32
	RecordsRead    int
	RecordsWritten int
	BackupPath     string
	DryRun         bool
}

// MigrateToVersion re-encodes the log at targetVersion. Only the v2
// format described in this package is implemented, so the only
// supported target is 2; any other value fails with a typed
// MigrationFailed error rather than silently no-op'ing. Backup is
// taken by default; dry_run reports the would-be delta without
// writing anything.
func (m *Manager) MigrateToVersion(targetVersion uint32, backup bool, dryRun bool) (MigrationReport, error) {
	if m.readOnly {
		return MigrationReport{}, errors.NewReadOnly("trajectory.MigrateToVersion")
	}
	if targetVersion != logVersion {
		return MigrationReport{}, errors.NewMigrationFailed("trajectory.MigrateToVersion",
			errors.ValidationError("unsupported target version", nil))
	}

	records, rollback, err := m.readAllRecords()
	if err != nil {
		return MigrationReport{}, errors.NewMigrationFailed("trajectory.MigrateToVersion", err)
	}

	report := MigrationReport{
		SourceVersion:  logVersion,
		TargetVersion:  targetVersion,
		RecordsRead:    len(records),
		RecordsWritten: len(records),
		DryRun:         dryRun,
	}
	if dryRun {
		return report, nil
	}

	if backup {
		backupPath := m.logPath() + ".bak"
		if err := copyFile(m.logPath(), backupPath); err != nil {
			return MigrationReport{}, errors.NewMigrationFailed("trajectory.MigrateToVersion", err)
		}
		report.BackupPath = backupPath
	}

	body, _, err := encodeRecords(records, headerSize)
	if err != nil {
		return MigrationReport{}, errors.NewMigrationFailed("trajectory.MigrateToVersion", err)
	}
	wantChecksum := crc32Of(body)

	if err := m.writeLog(records, rollback); err != nil {
		return MigrationReport{}, errors.NewMigrationFailed("trajectory.MigrateToVersion", err)
	}

	verifyRecords, _, err := m.readAllRecords()
	if err != nil {
		return MigrationReport{}, errors.NewMigrationFailed("trajectory.MigrateToVersion", err)
	}
	verifyBody, _, err := encodeRecords(verifyRecords, headerSize)
	if err != nil {
		return MigrationReport{}, errors.NewMigrationFailed("trajectory.MigrateToVersion", err)
	}
	if len(verifyRecords) != len(records) || crc32Of(verifyBody) != wantChecksum {
		return MigrationReport{}, errors.NewMigrationFailed("trajectory.MigrateToVersion",
			errors.ValidationError("checksum or count mismatch after migration", nil))
	}

	if err := m.rebuildIndexFromRecords(verifyRecords); err != nil {
		return MigrationReport{}, errors.NewMigrationFailed("trajectory.MigrateToVersion", err)
	}

	return report, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.IOError("trajectory: read backup source", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.IOError("trajectory: create backup directory", err)
	}
	return os.WriteFile(dst, data, 0o644)
}
