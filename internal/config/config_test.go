package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Default Configuration Tests
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 768, cfg.Index.Dimension)
	assert.Equal(t, "cosine", cfg.Index.Metric)
	assert.Equal(t, 16, cfg.Index.M)
	assert.Equal(t, 200, cfg.Index.EfConstruction)
	assert.Equal(t, 64, cfg.Index.EfSearch)
	assert.False(t, cfg.Index.Quantization)

	assert.Equal(t, 10000, cfg.Episode.CacheMaxEntries)
	assert.Equal(t, int64(256*1024*1024), cfg.Episode.CacheMaxMemoryBytes)

	assert.Equal(t, 1000, cfg.Trajectory.MemoryWindowSize)
	assert.Equal(t, 100, cfg.Trajectory.BatchWriteSize)
	assert.Equal(t, 5000, cfg.Trajectory.BatchWriteIntervalMS)
	assert.Equal(t, 8, cfg.Trajectory.MaxConcurrentQueries)
	assert.Equal(t, 2, cfg.Trajectory.LogVersion)

	assert.Equal(t, 400, cfg.Fusion.SourceTimeoutMS)
	assert.Equal(t, 0.4, cfg.Fusion.Weights.Vector)
	assert.Equal(t, 0.3, cfg.Fusion.Weights.Graph)
	assert.Equal(t, 0.2, cfg.Fusion.Weights.Memory)
	assert.Equal(t, 0.1, cfg.Fusion.Weights.Lexical)
	assert.Equal(t, 10, cfg.Fusion.TopKDefault)
	assert.Equal(t, 100, cfg.Fusion.TopKMax)
	assert.Equal(t, GNNHookNone, cfg.Fusion.GNNHook)

	assert.Equal(t, 0.1, cfg.Routing.Eta)
	assert.Equal(t, 0.1, cfg.Routing.Lambda)
	assert.Equal(t, 100, cfg.Routing.AccuracyWindowSize)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	assert.NotEmpty(t, cfg.Paths.DataDir)
}

func TestConfig_VersionDefaultsToOne(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1, cfg.Version)
}

func TestConfig_FusionWeightsSumToOne(t *testing.T) {
	cfg := NewConfig()
	w := cfg.Fusion.Weights
	sum := w.Vector + w.Graph + w.Memory + w.Lexical
	assert.InDelta(t, 1.0, sum, 0.01)
}

// =============================================================================
// Configuration File Loading Tests
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 768, cfg.Index.Dimension)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
index:
  dimension: 1536
  m: 32
  ef_construction: 400
fusion:
  top_k_default: 25
`
	err := os.WriteFile(filepath.Join(tmpDir, ".sona.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 1536, cfg.Index.Dimension)
	assert.Equal(t, 32, cfg.Index.M)
	assert.Equal(t, 400, cfg.Index.EfConstruction)
	assert.Equal(t, 25, cfg.Fusion.TopKDefault)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
index:
  metric: euclidean
`
	err := os.WriteFile(filepath.Join(tmpDir, ".sona.yml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "euclidean", cfg.Index.Metric)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	yamlContent := `
version: 1
index:
  metric: euclidean
`
	ymlContent := `
version: 1
index:
  metric: dot
`
	err := os.WriteFile(filepath.Join(tmpDir, ".sona.yaml"), []byte(yamlContent), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, ".sona.yml"), []byte(ymlContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "euclidean", cfg.Index.Metric)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := `
version: 1
index:
  dimension: [invalid yaml syntax
`
	err := os.WriteFile(filepath.Join(tmpDir, ".sona.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_InvalidFieldType_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := `
version: 1
index:
  dimension: "not-a-number"
`
	err := os.WriteFile(filepath.Join(tmpDir, ".sona.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
}

// =============================================================================
// Project Root Discovery Tests
// =============================================================================

func TestFindProjectRoot_GitDirectory_ReturnsGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_ConfigFile_ReturnsConfigLocation(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	err := os.WriteFile(filepath.Join(tmpDir, ".sona.yaml"), []byte("version: 1"), 0o644)
	require.NoError(t, err)

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()

	root, err := FindProjectRoot(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

// =============================================================================
// Environment Variable Override Tests
// =============================================================================

func TestLoad_EnvVarOverridesMetric(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
index:
  metric: cosine
`
	err := os.WriteFile(filepath.Join(tmpDir, ".sona.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("SONA_INDEX_METRIC", "euclidean")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "euclidean", cfg.Index.Metric)
}

func TestLoad_EnvVarOverridesDimension(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SONA_INDEX_DIMENSION", "384")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 384, cfg.Index.Dimension)
}

func TestLoad_EnvVarOverridesLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SONA_LOG_LEVEL", "debug")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_EnvVarOverridesTransport(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SONA_TRANSPORT", "sse")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "sse", cfg.Server.Transport)
}

func TestLoad_EnvVarOverridesFusionTimeout(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
fusion:
  source_timeout_ms: 300
`
	err := os.WriteFile(filepath.Join(tmpDir, ".sona.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("SONA_FUSION_SOURCE_TIMEOUT_MS", "250")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Fusion.SourceTimeoutMS)
}

func TestLoad_EnvVarOverridesFusionWeights(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SONA_FUSION_VECTOR_WEIGHT", "0.5")
	t.Setenv("SONA_FUSION_GRAPH_WEIGHT", "0.2")
	t.Setenv("SONA_FUSION_MEMORY_WEIGHT", "0.2")
	t.Setenv("SONA_FUSION_LEXICAL_WEIGHT", "0.1")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Fusion.Weights.Vector)
	assert.Equal(t, 0.2, cfg.Fusion.Weights.Graph)
	assert.Equal(t, 0.2, cfg.Fusion.Weights.Memory)
	assert.Equal(t, 0.1, cfg.Fusion.Weights.Lexical)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SONA_INDEX_METRIC", "")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "cosine", cfg.Index.Metric)
}

// =============================================================================
// User/Global Configuration Tests
// =============================================================================

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	path := GetUserConfigPath()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expected := filepath.Join(home, ".config", "sona", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	customConfig := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customConfig)

	path := GetUserConfigPath()

	expected := filepath.Join(customConfig, "sona", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	dir := GetUserConfigDir()
	path := GetUserConfigPath()

	assert.Equal(t, filepath.Dir(path), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	emptyDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", emptyDir)

	exists := UserConfigExists()

	assert.False(t, exists)
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	sonaDir := filepath.Join(configDir, "sona")
	require.NoError(t, os.MkdirAll(sonaDir, 0o755))
	configPath := filepath.Join(sonaDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1"), 0o644))

	exists := UserConfigExists()

	assert.True(t, exists)
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	sonaDir := filepath.Join(configDir, "sona")
	require.NoError(t, os.MkdirAll(sonaDir, 0o755))
	userConfig := `
version: 1
index:
  dimension: 1024
`
	require.NoError(t, os.WriteFile(filepath.Join(sonaDir, "config.yaml"), []byte(userConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Index.Dimension)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	sonaDir := filepath.Join(configDir, "sona")
	require.NoError(t, os.MkdirAll(sonaDir, 0o755))
	userConfig := `
version: 1
index:
  metric: euclidean
  dimension: 512
`
	require.NoError(t, os.WriteFile(filepath.Join(sonaDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := `
version: 1
index:
  dimension: 1536
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".sona.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, 1536, cfg.Index.Dimension)
	assert.Equal(t, "euclidean", cfg.Index.Metric)
}

func TestLoad_EnvVarOverridesUserAndProjectConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("SONA_INDEX_DIMENSION", "99")

	sonaDir := filepath.Join(configDir, "sona")
	require.NoError(t, os.MkdirAll(sonaDir, 0o755))
	userConfig := `
version: 1
index:
  dimension: 512
`
	require.NoError(t, os.WriteFile(filepath.Join(sonaDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := `
version: 1
index:
  dimension: 1536
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".sona.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, 99, cfg.Index.Dimension)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	sonaDir := filepath.Join(configDir, "sona")
	require.NoError(t, os.MkdirAll(sonaDir, 0o755))
	invalidConfig := `
version: 1
index:
  dimension: [invalid yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(sonaDir, "config.yaml"), []byte(invalidConfig), 0o644))

	cfg, err := Load(projectDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "user config")
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestValidate_RejectsZeroDimension(t *testing.T) {
	cfg := NewConfig()
	cfg.Index.Dimension = 0

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestValidate_RejectsUnknownMetric(t *testing.T) {
	cfg := NewConfig()
	cfg.Index.Metric = "manhattan"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "metric")
}

func TestValidate_RejectsFusionWeightsNotSummingToOne(t *testing.T) {
	cfg := NewConfig()
	cfg.Fusion.Weights.Vector = 0.9

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidate_RejectsSourceTimeoutAboveCeiling(t *testing.T) {
	cfg := NewConfig()
	cfg.Fusion.SourceTimeoutMS = 600

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "source_timeout_ms")
}

func TestValidate_RejectsTopKDefaultAboveMax(t *testing.T) {
	cfg := NewConfig()
	cfg.Fusion.TopKDefault = 200

	err := cfg.Validate()

	require.Error(t, err)
}

func TestValidate_RejectsUnknownGNNHookMode(t *testing.T) {
	cfg := NewConfig()
	cfg.Fusion.GNNHook = "sometimes"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "gnn_hook")
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := NewConfig()

	err := cfg.Validate()

	assert.NoError(t, err)
}
