package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GNNHookMode selects when (if ever) the fusion search consults the
// optional graph-neural-network re-ranking hook.
type GNNHookMode string

const (
	// GNNHookNone disables the GNN hook entirely.
	GNNHookNone GNNHookMode = "none"
	// GNNHookPre runs the hook before quad-source fan-out to bias source
	// selection.
	GNNHookPre GNNHookMode = "pre"
	// GNNHookPost runs the hook after fusion to re-rank the final list.
	GNNHookPost GNNHookMode = "post"
)

// Config represents the complete configuration for a SONA runtime
// deployment: the vector index, episode store, trajectory stream,
// quad-fusion search, routing learner, relay orchestrator, and the IPC
// server that fronts them.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Episode    EpisodeConfig    `yaml:"episode" json:"episode"`
	Trajectory TrajectoryConfig `yaml:"trajectory" json:"trajectory"`
	Fusion     FusionConfig     `yaml:"fusion" json:"fusion"`
	Routing    RoutingConfig    `yaml:"routing" json:"routing"`
	Relay      RelayConfig      `yaml:"relay" json:"relay"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig configures where SONA keeps its on-disk state.
type PathsConfig struct {
	// DataDir is the root directory for the index, episode store, and
	// trajectory log. Defaults to ~/.sona/data.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// IndexConfig configures the HNSW vector index (C1-C3).
type IndexConfig struct {
	// Dimension is the deployment-wide embedding dimension D. It is a
	// fixed deployment constant, never remixed at runtime.
	Dimension int `yaml:"dimension" json:"dimension"`
	// Metric selects the distance kernel: "cosine", "euclidean", or "dot".
	Metric string `yaml:"metric" json:"metric"`
	// M is the maximum number of bidirectional links per node per layer.
	M int `yaml:"m" json:"m"`
	// EfConstruction is the candidate list size used while inserting.
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`
	// EfSearch is the default candidate list size used while searching.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
	// Quantization enables INT8 storage with raw-precision re-ranking.
	Quantization bool `yaml:"quantization" json:"quantization"`
	// RerankCandidates is how many top quantized hits get re-scored at
	// raw precision when Quantization is enabled. Default: 2x top-k.
	RerankCandidates int `yaml:"rerank_candidates" json:"rerank_candidates"`
}

// EpisodeConfig configures the append-only episode store and its LRU
// front cache (C4).
type EpisodeConfig struct {
	// CacheMaxEntries bounds the number of cached episodes.
	CacheMaxEntries int `yaml:"cache_max_entries" json:"cache_max_entries"`
	// CacheMaxMemoryBytes bounds the cache's total estimated byte size.
	CacheMaxMemoryBytes int64 `yaml:"cache_max_memory_bytes" json:"cache_max_memory_bytes"`
}

// TrajectoryConfig configures the trajectory stream manager (C5).
type TrajectoryConfig struct {
	// MemoryWindowSize bounds the number of trajectories kept in the
	// in-memory quality-weighted window before disk eviction.
	MemoryWindowSize int `yaml:"memory_window_size" json:"memory_window_size"`
	// BatchWriteSize triggers a disk flush once this many trajectories
	// accumulate.
	BatchWriteSize int `yaml:"batch_write_size" json:"batch_write_size"`
	// BatchWriteIntervalMS triggers a disk flush after this many
	// milliseconds even if BatchWriteSize has not been reached.
	BatchWriteIntervalMS int `yaml:"batch_write_interval_ms" json:"batch_write_interval_ms"`
	// MaxConcurrentQueries bounds concurrent disk-reader lookups.
	MaxConcurrentQueries int `yaml:"max_concurrent_queries" json:"max_concurrent_queries"`
	// ReadCacheSize bounds the LRU cache fronting disk reads.
	ReadCacheSize int `yaml:"read_cache_size" json:"read_cache_size"`
	// LogVersion is the on-disk binary log format version to write.
	LogVersion int `yaml:"log_version" json:"log_version"`
	// Compress enables LZ4 compression of trajectory records.
	Compress bool `yaml:"compress" json:"compress"`
}

// FusionSourceWeights holds the quad-fusion per-source score weights.
// Must sum to 1.0.
type FusionSourceWeights struct {
	Vector  float64 `yaml:"vector" json:"vector"`
	Graph   float64 `yaml:"graph" json:"graph"`
	Memory  float64 `yaml:"memory" json:"memory"`
	Lexical float64 `yaml:"lexical" json:"lexical"`
}

// FusionConfig configures the quad-source fusion search (C6).
type FusionConfig struct {
	// SourceTimeoutMS is the per-source deadline in milliseconds.
	// Default 400ms, must not exceed 500ms.
	SourceTimeoutMS int `yaml:"source_timeout_ms" json:"source_timeout_ms"`
	// Weights are the default weighted-sum fusion weights.
	Weights FusionSourceWeights `yaml:"weights" json:"weights"`
	// TopKDefault is the default number of fused results to return.
	TopKDefault int `yaml:"top_k_default" json:"top_k_default"`
	// TopKMax is the maximum number of fused results a caller may request.
	TopKMax int `yaml:"top_k_max" json:"top_k_max"`
	// GNNHook selects when the optional GNN re-ranking hook runs.
	GNNHook GNNHookMode `yaml:"gnn_hook" json:"gnn_hook"`
	// GNNMaxFailures is the circuit breaker's consecutive-failure
	// threshold before disabling the GNN hook.
	GNNMaxFailures int `yaml:"gnn_max_failures" json:"gnn_max_failures"`
	// GNNResetTimeout is how long the GNN circuit breaker stays open
	// before probing again, e.g. "30s".
	GNNResetTimeout string `yaml:"gnn_reset_timeout" json:"gnn_reset_timeout"`
}

// RoutingConfig configures the EWC++ routing learner (C7).
type RoutingConfig struct {
	// Eta is the raw learning rate applied to the reward signal.
	Eta float64 `yaml:"eta" json:"eta"`
	// Lambda is the elastic-weight-consolidation regularization strength.
	Lambda float64 `yaml:"lambda" json:"lambda"`
	// ClipDelta bounds the per-update effective weight delta.
	ClipDelta float64 `yaml:"clip_delta" json:"clip_delta"`
	// AccuracyWindowSize is the rolling-accuracy ring buffer length.
	AccuracyWindowSize int `yaml:"accuracy_window_size" json:"accuracy_window_size"`
	// DegradationThreshold is the accuracy drop (checkpoint - current)
	// that triggers an automatic rollback.
	DegradationThreshold float64 `yaml:"degradation_threshold" json:"degradation_threshold"`
	// MinHistoryForRollback is the minimum history length before a
	// rollback is considered.
	MinHistoryForRollback int `yaml:"min_history_for_rollback" json:"min_history_for_rollback"`
}

// RelayConfig configures the thin relay orchestrator (C8).
type RelayConfig struct {
	// StepTimeout bounds how long a single agent-spawn step may run,
	// e.g. "120s".
	StepTimeout string `yaml:"step_timeout" json:"step_timeout"`
	// VerifyReadback re-reads a step's stored output and compares its
	// content hash before advancing the pipeline.
	VerifyReadback bool `yaml:"verify_readback" json:"verify_readback"`
}

// ServerConfig configures the IPC front end.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Port      int    `yaml:"port" json:"port"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Index: IndexConfig{
			Dimension:        768,
			Metric:           "cosine",
			M:                16,
			EfConstruction:   200,
			EfSearch:         64,
			Quantization:     false,
			RerankCandidates: 0, // 0 means "derive as 2x top-k at query time"
		},
		Episode: EpisodeConfig{
			CacheMaxEntries:     10000,
			CacheMaxMemoryBytes: 256 * 1024 * 1024,
		},
		Trajectory: TrajectoryConfig{
			MemoryWindowSize:     1000,
			BatchWriteSize:       100,
			BatchWriteIntervalMS: 5000,
			MaxConcurrentQueries: 8,
			ReadCacheSize:        500,
			LogVersion:           2,
			Compress:             true,
		},
		Fusion: FusionConfig{
			SourceTimeoutMS: 400,
			Weights: FusionSourceWeights{
				Vector:  0.4,
				Graph:   0.3,
				Memory:  0.2,
				Lexical: 0.1,
			},
			TopKDefault:     10,
			TopKMax:         100,
			GNNHook:         GNNHookNone,
			GNNMaxFailures:  5,
			GNNResetTimeout: "30s",
		},
		Routing: RoutingConfig{
			Eta:                   0.1,
			Lambda:                0.1,
			ClipDelta:             0.05,
			AccuracyWindowSize:    100,
			DegradationThreshold:  0.02,
			MinHistoryForRollback: 10,
		},
		Relay: RelayConfig{
			StepTimeout:    "120s",
			VerifyReadback: true,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Port:      8765,
			LogLevel:  "info",
		},
	}
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".sona", "data")
	}
	return filepath.Join(home, ".sona", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/sona/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/sona/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sona", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "sona", "config.yaml")
	}
	return filepath.Join(home, ".config", "sona", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/sona/config.yaml)
//  3. Project config (.sona.yaml in dir)
//  4. Environment variables (SONA_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .sona.yaml or .sona.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".sona.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".sona.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}

	// Index
	if other.Index.Dimension != 0 {
		c.Index.Dimension = other.Index.Dimension
	}
	if other.Index.Metric != "" {
		c.Index.Metric = other.Index.Metric
	}
	if other.Index.M != 0 {
		c.Index.M = other.Index.M
	}
	if other.Index.EfConstruction != 0 {
		c.Index.EfConstruction = other.Index.EfConstruction
	}
	if other.Index.EfSearch != 0 {
		c.Index.EfSearch = other.Index.EfSearch
	}
	if other.Index.RerankCandidates != 0 {
		c.Index.RerankCandidates = other.Index.RerankCandidates
	}
	c.Index.Quantization = other.Index.Quantization || c.Index.Quantization

	// Episode
	if other.Episode.CacheMaxEntries != 0 {
		c.Episode.CacheMaxEntries = other.Episode.CacheMaxEntries
	}
	if other.Episode.CacheMaxMemoryBytes != 0 {
		c.Episode.CacheMaxMemoryBytes = other.Episode.CacheMaxMemoryBytes
	}

	// Trajectory
	if other.Trajectory.MemoryWindowSize != 0 {
		c.Trajectory.MemoryWindowSize = other.Trajectory.MemoryWindowSize
	}
	if other.Trajectory.BatchWriteSize != 0 {
		c.Trajectory.BatchWriteSize = other.Trajectory.BatchWriteSize
	}
	if other.Trajectory.BatchWriteIntervalMS != 0 {
		c.Trajectory.BatchWriteIntervalMS = other.Trajectory.BatchWriteIntervalMS
	}
	if other.Trajectory.MaxConcurrentQueries != 0 {
		c.Trajectory.MaxConcurrentQueries = other.Trajectory.MaxConcurrentQueries
	}
	if other.Trajectory.ReadCacheSize != 0 {
		c.Trajectory.ReadCacheSize = other.Trajectory.ReadCacheSize
	}
	if other.Trajectory.LogVersion != 0 {
		c.Trajectory.LogVersion = other.Trajectory.LogVersion
	}

	// Fusion
	if other.Fusion.SourceTimeoutMS != 0 {
		c.Fusion.SourceTimeoutMS = other.Fusion.SourceTimeoutMS
	}
	if other.Fusion.Weights != (FusionSourceWeights{}) {
		c.Fusion.Weights = other.Fusion.Weights
	}
	if other.Fusion.TopKDefault != 0 {
		c.Fusion.TopKDefault = other.Fusion.TopKDefault
	}
	if other.Fusion.TopKMax != 0 {
		c.Fusion.TopKMax = other.Fusion.TopKMax
	}
	if other.Fusion.GNNHook != "" {
		c.Fusion.GNNHook = other.Fusion.GNNHook
	}
	if other.Fusion.GNNMaxFailures != 0 {
		c.Fusion.GNNMaxFailures = other.Fusion.GNNMaxFailures
	}
	if other.Fusion.GNNResetTimeout != "" {
		c.Fusion.GNNResetTimeout = other.Fusion.GNNResetTimeout
	}

	// Routing
	if other.Routing.Eta != 0 {
		c.Routing.Eta = other.Routing.Eta
	}
	if other.Routing.Lambda != 0 {
		c.Routing.Lambda = other.Routing.Lambda
	}
	if other.Routing.ClipDelta != 0 {
		c.Routing.ClipDelta = other.Routing.ClipDelta
	}
	if other.Routing.AccuracyWindowSize != 0 {
		c.Routing.AccuracyWindowSize = other.Routing.AccuracyWindowSize
	}
	if other.Routing.DegradationThreshold != 0 {
		c.Routing.DegradationThreshold = other.Routing.DegradationThreshold
	}
	if other.Routing.MinHistoryForRollback != 0 {
		c.Routing.MinHistoryForRollback = other.Routing.MinHistoryForRollback
	}

	// Relay
	if other.Relay.StepTimeout != "" {
		c.Relay.StepTimeout = other.Relay.StepTimeout
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies SONA_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SONA_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}

	if v := os.Getenv("SONA_INDEX_DIMENSION"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Index.Dimension = d
		}
	}
	if v := os.Getenv("SONA_INDEX_METRIC"); v != "" {
		c.Index.Metric = v
	}
	if v := os.Getenv("SONA_INDEX_QUANTIZATION"); v != "" {
		c.Index.Quantization = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv("SONA_FUSION_SOURCE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Fusion.SourceTimeoutMS = ms
		}
	}
	if v := os.Getenv("SONA_FUSION_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Fusion.Weights.Vector = w
		}
	}
	if v := os.Getenv("SONA_FUSION_GRAPH_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Fusion.Weights.Graph = w
		}
	}
	if v := os.Getenv("SONA_FUSION_MEMORY_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Fusion.Weights.Memory = w
		}
	}
	if v := os.Getenv("SONA_FUSION_LEXICAL_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Fusion.Weights.Lexical = w
		}
	}
	if v := os.Getenv("SONA_FUSION_GNN_HOOK"); v != "" {
		c.Fusion.GNNHook = GNNHookMode(v)
	}

	if v := os.Getenv("SONA_ROUTING_ETA"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Routing.Eta = f
		}
	}
	if v := os.Getenv("SONA_ROUTING_LAMBDA"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Routing.Lambda = f
		}
	}

	if v := os.Getenv("SONA_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("SONA_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindProjectRoot finds the project root directory by walking up looking
// for .git or .sona.yaml/.yml, falling back to startDir.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		if fileExists(filepath.Join(currentDir, ".sona.yaml")) ||
			fileExists(filepath.Join(currentDir, ".sona.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("index.dimension must be positive, got %d", c.Index.Dimension)
	}

	validMetrics := map[string]bool{"cosine": true, "euclidean": true, "dot": true}
	if !validMetrics[strings.ToLower(c.Index.Metric)] {
		return fmt.Errorf("index.metric must be 'cosine', 'euclidean', or 'dot', got %s", c.Index.Metric)
	}

	w := c.Fusion.Weights
	if w.Vector < 0 || w.Graph < 0 || w.Memory < 0 || w.Lexical < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	sum := w.Vector + w.Graph + w.Memory + w.Lexical
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %.2f", sum)
	}

	if c.Fusion.SourceTimeoutMS <= 0 || c.Fusion.SourceTimeoutMS > 500 {
		return fmt.Errorf("fusion.source_timeout_ms must be in (0, 500], got %d", c.Fusion.SourceTimeoutMS)
	}

	if c.Fusion.TopKDefault <= 0 || c.Fusion.TopKDefault > c.Fusion.TopKMax {
		return fmt.Errorf("fusion.top_k_default must be positive and <= top_k_max")
	}

	switch c.Fusion.GNNHook {
	case GNNHookNone, GNNHookPre, GNNHookPost:
	default:
		return fmt.Errorf("fusion.gnn_hook must be 'none', 'pre', or 'post', got %s", c.Fusion.GNNHook)
	}

	if c.Routing.AccuracyWindowSize <= 0 {
		return fmt.Errorf("routing.accuracy_window_size must be positive, got %d", c.Routing.AccuracyWindowSize)
	}

	validTransports := map[string]bool{"stdio": true, "sse": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio' or 'sse', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing
// values. Returns a list of field names that were added with their
// default values, for surfacing in an upgrade notice.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Index.RerankCandidates == 0 && defaults.Index.RerankCandidates != 0 {
		c.Index.RerankCandidates = defaults.Index.RerankCandidates
		added = append(added, "index.rerank_candidates")
	}
	if c.Trajectory.ReadCacheSize == 0 {
		c.Trajectory.ReadCacheSize = defaults.Trajectory.ReadCacheSize
		added = append(added, "trajectory.read_cache_size")
	}
	if c.Fusion.GNNMaxFailures == 0 {
		c.Fusion.GNNMaxFailures = defaults.Fusion.GNNMaxFailures
		added = append(added, "fusion.gnn_max_failures")
	}
	if c.Fusion.GNNResetTimeout == "" {
		c.Fusion.GNNResetTimeout = defaults.Fusion.GNNResetTimeout
		added = append(added, "fusion.gnn_reset_timeout")
	}
	if c.Routing.ClipDelta == 0 {
		c.Routing.ClipDelta = defaults.Routing.ClipDelta
		added = append(added, "routing.clip_delta")
	}
	if c.Routing.MinHistoryForRollback == 0 {
		c.Routing.MinHistoryForRollback = defaults.Routing.MinHistoryForRollback
		added = append(added, "routing.min_history_for_rollback")
	}

	return added
}

// numCPUDefault returns a sane default worker pool size for background
// jobs that scale with available cores, e.g. index build parallelism.
func numCPUDefault() int {
	return runtime.NumCPU()
}
