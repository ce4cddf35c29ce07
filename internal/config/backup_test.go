package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBackupUserConfig(t *testing.T) {
	tmpDir := t.TempDir()

	origXDG := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Setenv("XDG_CONFIG_HOME", origXDG)

	configDir := filepath.Join(tmpDir, "sona")
	configPath := filepath.Join(configDir, "config.yaml")

	t.Run("no config exists", func(t *testing.T) {
		backupPath, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath != "" {
			t.Errorf("expected empty backup path for non-existent config, got %s", backupPath)
		}
	})

	t.Run("backup existing config", func(t *testing.T) {
		if err := os.MkdirAll(configDir, 0755); err != nil {
			t.Fatalf("failed to create config dir: %v", err)
		}
		testContent := "version: 1\nindex:\n  dimension: 768\n"
		if err := os.WriteFile(configPath, []byte(testContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		backupPath, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath == "" {
			t.Fatal("expected non-empty backup path")
		}

		backupContent, err := os.ReadFile(backupPath)
		if err != nil {
			t.Fatalf("failed to read backup: %v", err)
		}
		if string(backupContent) != testContent {
			t.Errorf("backup content mismatch:\ngot: %s\nwant: %s", backupContent, testContent)
		}

		if !filepath.IsAbs(backupPath) {
			t.Errorf("backup path should be absolute: %s", backupPath)
		}
	})
}

func TestListUserConfigBackups(t *testing.T) {
	tmpDir := t.TempDir()

	origXDG := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Setenv("XDG_CONFIG_HOME", origXDG)

	configDir := filepath.Join(tmpDir, "sona")
	configPath := filepath.Join(configDir, "config.yaml")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	t.Run("no backups exist", func(t *testing.T) {
		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) != 0 {
			t.Errorf("expected 0 backups, got %d", len(backups))
		}
	})

	t.Run("list multiple backups", func(t *testing.T) {
		timestamps := []string{"20260101-100000", "20260101-110000", "20260101-120000"}
		for _, ts := range timestamps {
			backupName := filepath.Join(configDir, "config.yaml.bak."+ts)
			if err := os.WriteFile(backupName, []byte("test"), 0644); err != nil {
				t.Fatalf("failed to create backup: %v", err)
			}
			time.Sleep(10 * time.Millisecond)
		}

		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) != 3 {
			t.Errorf("expected 3 backups, got %d", len(backups))
		}

		for i := 1; i < len(backups); i++ {
			info1, _ := os.Stat(backups[i-1])
			info2, _ := os.Stat(backups[i])
			if info1.ModTime().Before(info2.ModTime()) {
				t.Errorf("backups not sorted correctly: %s before %s", backups[i-1], backups[i])
			}
		}
	})

	t.Run("cleanup old backups", func(t *testing.T) {
		if err := os.WriteFile(configPath, []byte("test config"), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		for i := 0; i < 4; i++ {
			_, err := BackupUserConfig()
			if err != nil {
				t.Fatalf("failed to create backup: %v", err)
			}
			time.Sleep(10 * time.Millisecond)
		}

		backups, err := ListUserConfigBackups()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) > MaxBackups {
			t.Errorf("expected at most %d backups, got %d", MaxBackups, len(backups))
		}
	})
}

func TestMergeNewDefaults(t *testing.T) {
	t.Run("adds missing fusion config fields", func(t *testing.T) {
		cfg := &Config{
			Version: 1,
			Index:   IndexConfig{Dimension: 768, Metric: "cosine"},
			Fusion: FusionConfig{
				SourceTimeoutMS: 400,
				// GNNMaxFailures, GNNResetTimeout are zero (not set)
			},
		}

		added := cfg.MergeNewDefaults()

		if cfg.Fusion.GNNMaxFailures != 5 {
			t.Errorf("GNNMaxFailures should be 5, got %d", cfg.Fusion.GNNMaxFailures)
		}
		if cfg.Fusion.GNNResetTimeout != "30s" {
			t.Errorf("GNNResetTimeout should be 30s, got %s", cfg.Fusion.GNNResetTimeout)
		}

		hasMaxFailures := false
		hasResetTimeout := false
		for _, field := range added {
			if field == "fusion.gnn_max_failures" {
				hasMaxFailures = true
			}
			if field == "fusion.gnn_reset_timeout" {
				hasResetTimeout = true
			}
		}
		if !hasMaxFailures {
			t.Error("should report fusion.gnn_max_failures as added")
		}
		if !hasResetTimeout {
			t.Error("should report fusion.gnn_reset_timeout as added")
		}
	})

	t.Run("adds missing routing fields", func(t *testing.T) {
		cfg := &Config{
			Version: 1,
			Routing: RoutingConfig{
				Eta:    0.1,
				Lambda: 0.1,
				// ClipDelta and MinHistoryForRollback are 0
			},
		}

		added := cfg.MergeNewDefaults()

		if cfg.Routing.ClipDelta == 0 {
			t.Error("ClipDelta should be set to default")
		}
		if cfg.Routing.MinHistoryForRollback == 0 {
			t.Error("MinHistoryForRollback should be set to default")
		}

		hasClip := false
		hasMinHistory := false
		for _, field := range added {
			if field == "routing.clip_delta" {
				hasClip = true
			}
			if field == "routing.min_history_for_rollback" {
				hasMinHistory = true
			}
		}
		if !hasClip {
			t.Error("should report routing.clip_delta as added")
		}
		if !hasMinHistory {
			t.Error("should report routing.min_history_for_rollback as added")
		}
	})

	t.Run("preserves existing values", func(t *testing.T) {
		cfg := &Config{
			Version: 1,
			Fusion: FusionConfig{
				SourceTimeoutMS: 250, // Custom value
				GNNMaxFailures:  10,  // Custom value
				GNNResetTimeout: "60s",
			},
			Routing: RoutingConfig{
				ClipDelta:             0.02, // Custom value
				MinHistoryForRollback: 20,   // Custom value
			},
			Trajectory: TrajectoryConfig{
				ReadCacheSize: 999, // Custom value
			},
		}

		added := cfg.MergeNewDefaults()

		if cfg.Fusion.GNNMaxFailures != 10 {
			t.Errorf("GNNMaxFailures changed from 10 to %d", cfg.Fusion.GNNMaxFailures)
		}
		if cfg.Routing.ClipDelta != 0.02 {
			t.Errorf("ClipDelta changed from 0.02 to %f", cfg.Routing.ClipDelta)
		}
		if cfg.Routing.MinHistoryForRollback != 20 {
			t.Errorf("MinHistoryForRollback changed from 20 to %d", cfg.Routing.MinHistoryForRollback)
		}
		if cfg.Trajectory.ReadCacheSize != 999 {
			t.Errorf("ReadCacheSize changed from 999 to %d", cfg.Trajectory.ReadCacheSize)
		}

		for _, field := range added {
			if field == "fusion.gnn_max_failures" ||
				field == "routing.clip_delta" ||
				field == "routing.min_history_for_rollback" ||
				field == "trajectory.read_cache_size" {
				t.Errorf("should not report %s as added (was already set)", field)
			}
		}
	})

	t.Run("returns empty for complete config", func(t *testing.T) {
		cfg := NewConfig()

		added := cfg.MergeNewDefaults()

		if len(added) != 0 {
			t.Errorf("expected 0 added fields for complete config, got %v", added)
		}
	})
}

func TestWriteYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := &Config{
		Version: 1,
		Index: IndexConfig{
			Dimension: 1536,
			Metric:    "cosine",
		},
	}

	if err := cfg.WriteYAML(configPath); err != nil {
		t.Fatalf("failed to write YAML: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if len(data) == 0 {
		t.Error("written file is empty")
	}

	content := string(data)
	if !contains(content, "dimension: 1536") {
		t.Error("written file should contain dimension: 1536")
	}
	if !contains(content, "metric: cosine") {
		t.Error("written file should contain metric: cosine")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
