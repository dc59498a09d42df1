package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of an agent config file. Every field is
// optional; zero values leave the default (or env-supplied) value alone.
// Durations are milliseconds, matching the AGENT_*_MS environment
// variables.
type fileConfig struct {
	MaxIterations          int     `yaml:"max_iterations"`
	GoalTimeoutMS          int     `yaml:"goal_timeout_ms"`
	ContextCap             int     `yaml:"context_cap"`
	CompactThreshold       float64 `yaml:"compact_threshold"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`

	SnapshotCacheTTLMS int   `yaml:"snapshot_cache_ttl_ms"`
	SnapshotDiff       *bool `yaml:"snapshot_diff"`

	CircuitFailureThreshold int `yaml:"circuit_failure_threshold"`
	CircuitCoolOffMS        int `yaml:"circuit_cool_off_ms"`

	MinSelectorConfidence float64 `yaml:"min_selector_confidence"`

	MemoryDir string `yaml:"memory_dir"`

	ModelProvider string `yaml:"model_provider"`
	ModelEndpoint string `yaml:"model_endpoint"`
	VisionModel   string `yaml:"vision_model"`
	TextModel     string `yaml:"text_model"`

	Driver           string `yaml:"driver"`
	DebugBrowserPort int    `yaml:"debug_browser_port"`
	Headless         *bool  `yaml:"headless"`
}

// ApplyFile overlays the YAML config file at path onto cfg. Called
// between DefaultConfig and the env overlay, so precedence is
// defaults < file < environment.
func ApplyFile(cfg *AgentConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return ApplyFileBytes(cfg, raw)
}

// ApplyFileBytes overlays raw YAML onto cfg.
func ApplyFileBytes(cfg *AgentConfig, raw []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}

	if fc.MaxIterations > 0 {
		cfg.MaxIterations = fc.MaxIterations
	}
	if fc.GoalTimeoutMS > 0 {
		cfg.GoalTimeout = time.Duration(fc.GoalTimeoutMS) * time.Millisecond
	}
	if fc.ContextCap > 0 {
		cfg.ContextCap = fc.ContextCap
	}
	if fc.CompactThreshold > 0 {
		cfg.CompactThreshold = fc.CompactThreshold
	}
	if fc.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = fc.MaxConsecutiveFailures
	}
	if fc.SnapshotCacheTTLMS > 0 {
		cfg.SnapshotCacheTTL = time.Duration(fc.SnapshotCacheTTLMS) * time.Millisecond
	}
	if fc.SnapshotDiff != nil {
		cfg.SnapshotDiffEnabled = *fc.SnapshotDiff
	}
	if fc.CircuitFailureThreshold > 0 {
		cfg.CircuitFailureThreshold = fc.CircuitFailureThreshold
	}
	if fc.CircuitCoolOffMS > 0 {
		cfg.CircuitCoolOff = time.Duration(fc.CircuitCoolOffMS) * time.Millisecond
	}
	if fc.MinSelectorConfidence > 0 {
		cfg.MinSelectorConfidence = fc.MinSelectorConfidence
	}
	if fc.MemoryDir != "" {
		cfg.MemoryDir = fc.MemoryDir
	}
	if fc.ModelProvider != "" {
		cfg.ModelProvider = fc.ModelProvider
	}
	if fc.ModelEndpoint != "" {
		cfg.ModelEndpoint = fc.ModelEndpoint
	}
	if fc.VisionModel != "" {
		cfg.VisionModel = fc.VisionModel
	}
	if fc.TextModel != "" {
		cfg.TextModel = fc.TextModel
	}
	if fc.Driver != "" {
		cfg.DriverBackend = fc.Driver
	}
	if fc.DebugBrowserPort > 0 {
		cfg.DebugBrowserPort = fc.DebugBrowserPort
	}
	if fc.Headless != nil {
		cfg.Headless = *fc.Headless
	}
	return nil
}
