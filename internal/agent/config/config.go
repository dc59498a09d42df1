// Package config loads the agent kernel's typed configuration: iteration
// and timeout budgets, cache and circuit-breaker tuning, retry policy per
// ErrorKind, CAPTCHA confidence bands, and storage locations.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ternlabs/tern/internal/agent/types"
)

// RetryPolicy is the per-ErrorKind backoff recipe the Reliability fabric
// consults before a retry. See spec.md §4.3's backoff table.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Formula     BackoffFormula
}

// BackoffFormula is the closed set of backoff curves the fabric applies.
type BackoffFormula string

const (
	BackoffLinear                BackoffFormula = "linear"
	BackoffExponential           BackoffFormula = "exponential"
	BackoffExponentialWithJitter BackoffFormula = "exponential-jitter"
	BackoffNone                  BackoffFormula = "none"
)

// CaptchaThresholds are the score cutoffs that map a weighted confidence
// score onto a band (spec.md §4.7).
type CaptchaThresholds struct {
	High   float64 // >= High -> captcha.BandHigh
	Good   float64 // >= Good -> captcha.BandGood
	Medium float64 // >= Medium -> captcha.BandMedium, else captcha.BandLow
}

// AgentConfig is the single value carrying every tunable the kernel's
// components read. One struct, one set of defaults, one place each option
// is documented — replacing the source's scattered ambient kwargs (see
// DESIGN.md, REDESIGN FLAGS).
type AgentConfig struct {
	// Orchestrator limits
	MaxIterations          int
	GoalTimeout            time.Duration
	ContextCap             int     // max chars of working-memory context before compaction runs
	CompactThreshold       float64 // fraction of ContextCap that triggers soft trim
	MaxConsecutiveFailures int     // fatal-failure circuit breaker for the ReAct loop itself
	KeepLastNStepsVerbatim int     // compaction: steps kept in full detail, older ones summarized to one line

	// Snapshot subsystem
	SnapshotCacheTTL     time.Duration
	SnapshotDiffEnabled  bool
	KeepLastNScreenshots int

	// Reliability fabric
	CircuitFailureThreshold int
	CircuitCoolOff          time.Duration
	RetryPolicy             map[types.ErrorKind]RetryPolicy

	// CAPTCHA confidence engine
	CaptchaThresholds CaptchaThresholds

	// Site memory & selector synthesis
	MinSelectorConfidence float64

	// Memory manager tiers
	WorkingMemoryCapacity       int           // max Steps kept in working memory before the oldest are dropped
	EpisodicTopK                int           // episodic/semantic/skill hits returned per EnrichedContext call
	SkillMinSuccessRate         float64       // skills below this success rate are not preferred over planning from scratch
	ConsolidationEpisodeCount   int           // trigger a consolidation pass after this many new episodes
	ConsolidationInterval       time.Duration // trigger a consolidation pass after this much wall-clock time

	// Storage
	MemoryDir string

	// Model client
	ModelProvider string // anthropic | openai | gemini | ollama
	ModelAPIKey   string
	ModelEndpoint string
	VisionModel   string
	TextModel     string

	// PageDriver
	DriverBackend    string // playwright | cdp
	DebugBrowserPort int    // 0 = launch a fresh browser instead of attaching
	Headless         bool
}

// DefaultConfig returns the documented defaults for every field, matching
// spec.md §9's enumerated option list.
func DefaultConfig() *AgentConfig {
	return &AgentConfig{
		MaxIterations:          50,
		GoalTimeout:            10 * time.Minute,
		ContextCap:             120_000,
		CompactThreshold:       0.7,
		MaxConsecutiveFailures: 3,
		KeepLastNStepsVerbatim: 6,

		SnapshotCacheTTL:     2 * time.Second,
		SnapshotDiffEnabled:  true,
		KeepLastNScreenshots: 1,

		CircuitFailureThreshold: 3,
		CircuitCoolOff:          60 * time.Second,
		RetryPolicy:             defaultRetryPolicy(),

		CaptchaThresholds: CaptchaThresholds{
			High:   0.85,
			Good:   0.75,
			Medium: 0.50,
		},

		MinSelectorConfidence: 0.5,

		WorkingMemoryCapacity:     50,
		EpisodicTopK:              5,
		SkillMinSuccessRate:       0.7,
		ConsolidationEpisodeCount: 20,
		ConsolidationInterval:     5 * time.Minute,

		MemoryDir: defaultMemoryDir(),

		ModelProvider: "anthropic",
		ModelEndpoint: "",
		VisionModel:   "claude-sonnet-4-5",
		TextModel:     "claude-sonnet-4-5",

		DriverBackend:    "playwright",
		DebugBrowserPort: 0,
		Headless:         true,
	}
}

// defaultRetryPolicy is the per-kind retry table of spec.md §4.3.1, row
// for row: attempt counts, base delays, and backoff curves as documented
// there. transient-timeout's zero base makes its retries immediate;
// stale-element and selector-missing retry after the fabric has
// re-snapshotted; obstruction's second attempt is the one retry after
// auto-dismissal.
func defaultRetryPolicy() map[types.ErrorKind]RetryPolicy {
	return map[types.ErrorKind]RetryPolicy{
		types.ErrTransientTimeout: {MaxAttempts: 3, BaseDelay: 0, MaxDelay: 60 * time.Second, Formula: BackoffExponential},
		types.ErrRateLimit:        {MaxAttempts: 3, BaseDelay: 30 * time.Second, MaxDelay: 60 * time.Second, Formula: BackoffExponentialWithJitter},
		types.ErrServer5xx:        {MaxAttempts: 4, BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second, Formula: BackoffExponentialWithJitter},
		types.ErrSelectorMissing:  {MaxAttempts: 3, BaseDelay: 1 * time.Second, MaxDelay: 60 * time.Second, Formula: BackoffLinear},
		types.ErrStaleElement:     {MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 60 * time.Second, Formula: BackoffLinear},
		types.ErrConnectionReset:  {MaxAttempts: 3, BaseDelay: 1 * time.Second, MaxDelay: 60 * time.Second, Formula: BackoffExponentialWithJitter},
		types.ErrPageCrash:        {MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Formula: BackoffLinear},
		types.ErrObstruction:      {MaxAttempts: 2, BaseDelay: 0, MaxDelay: 0, Formula: BackoffNone},
		types.ErrCaptcha:          {MaxAttempts: 1, BaseDelay: 0, MaxDelay: 0, Formula: BackoffNone},
		types.ErrNotFound4xx:      {MaxAttempts: 1, BaseDelay: 0, MaxDelay: 0, Formula: BackoffNone},
		types.ErrAuthRequired:     {MaxAttempts: 1, BaseDelay: 0, MaxDelay: 0, Formula: BackoffNone},
		types.ErrUnknown:          {MaxAttempts: 2, BaseDelay: 1 * time.Second, MaxDelay: 60 * time.Second, Formula: BackoffExponential},
		types.ErrCircuitOpen:      {MaxAttempts: 0, BaseDelay: 0, MaxDelay: 0, Formula: BackoffNone},
	}
}

func defaultMemoryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agent/memory"
	}
	return home + "/.agent/memory"
}

// Load reads a .env file (if present) with godotenv, then overlays
// AGENT_* environment variables onto DefaultConfig(). Missing or
// unparseable variables fall back silently to the default value, matching
// the teacher's tolerant env-loading style.
func Load(envPath string) (*AgentConfig, error) {
	return LoadWithFile(envPath, "")
}

// LoadWithFile is Load with an optional YAML config file applied between
// the defaults and the environment overlay, so precedence is
// defaults < file < environment.
func LoadWithFile(envPath, filePath string) (*AgentConfig, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load env file: %w", err)
		}
	} else {
		_ = godotenv.Load() // optional ".env" in cwd; absence is not an error
	}

	cfg := DefaultConfig()
	if filePath != "" {
		if err := ApplyFile(cfg, filePath); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *AgentConfig) {
	if v, ok := getenvInt("AGENT_MAX_ITERATIONS"); ok {
		cfg.MaxIterations = v
	}
	if v, ok := getenvInt("AGENT_MAX_CONSECUTIVE_FAILURES"); ok {
		cfg.MaxConsecutiveFailures = v
	}
	if v, ok := getenvDurationMS("AGENT_GOAL_TIMEOUT_MS"); ok {
		cfg.GoalTimeout = v
	}
	if v, ok := getenvInt("AGENT_CONTEXT_CAP"); ok {
		cfg.ContextCap = v
	}
	if v, ok := getenvFloat("AGENT_COMPACT_THRESHOLD"); ok {
		cfg.CompactThreshold = v
	}
	if v, ok := getenvDurationMS("AGENT_CACHE_TTL_MS"); ok {
		cfg.SnapshotCacheTTL = v
	}
	if v, ok := getenvBool("AGENT_DIFF_MODE"); ok {
		cfg.SnapshotDiffEnabled = v
	}
	if v := os.Getenv("AGENT_MEMORY_DIR"); v != "" {
		cfg.MemoryDir = v
	}
	if v, ok := getenvInt("AGENT_WORKING_MEMORY_CAPACITY"); ok {
		cfg.WorkingMemoryCapacity = v
	}
	if v, ok := getenvInt("AGENT_EPISODIC_TOP_K"); ok {
		cfg.EpisodicTopK = v
	}
	if v, ok := getenvFloat("AGENT_SKILL_MIN_SUCCESS_RATE"); ok {
		cfg.SkillMinSuccessRate = v
	}
	if v, ok := getenvDurationMS("AGENT_CONSOLIDATION_INTERVAL_MS"); ok {
		cfg.ConsolidationInterval = v
	}
	if v, ok := getenvInt("AGENT_DEBUG_BROWSER_PORT"); ok {
		cfg.DebugBrowserPort = v
	}
	if v := os.Getenv("AGENT_DRIVER"); v != "" {
		cfg.DriverBackend = v
	}
	if v, ok := getenvBool("AGENT_HEADLESS"); ok {
		cfg.Headless = v
	}
	if v := os.Getenv("AGENT_MODEL_PROVIDER"); v != "" {
		cfg.ModelProvider = v
	}
	if v := os.Getenv("AGENT_MODEL_API_KEY"); v != "" {
		cfg.ModelAPIKey = v
	}
	if v := os.Getenv("AGENT_MODEL_ENDPOINT"); v != "" {
		cfg.ModelEndpoint = v
	}
	if v := os.Getenv("AGENT_VISION_MODEL"); v != "" {
		cfg.VisionModel = v
	}
	if v := os.Getenv("AGENT_TEXT_MODEL"); v != "" {
		cfg.TextModel = v
	}
}

// EnsureMemoryDir creates the configured memory directory if absent.
func (c *AgentConfig) EnsureMemoryDir() error {
	return os.MkdirAll(c.MemoryDir, 0700)
}

func getenvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func getenvFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func getenvBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, false
	}
	return b, true
}

func getenvDurationMS(key string) (time.Duration, bool) {
	n, ok := getenvInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}
