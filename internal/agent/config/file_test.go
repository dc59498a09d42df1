package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFileBytesOverlaysOntoDefaults(t *testing.T) {
	cfg := DefaultConfig()
	raw := []byte(`
max_iterations: 12
goal_timeout_ms: 90000
snapshot_diff: false
headless: false
model_provider: ollama
memory_dir: /tmp/agent-mem
`)
	require.NoError(t, ApplyFileBytes(cfg, raw))

	assert.Equal(t, 12, cfg.MaxIterations)
	assert.Equal(t, 90*time.Second, cfg.GoalTimeout)
	assert.False(t, cfg.SnapshotDiffEnabled)
	assert.False(t, cfg.Headless)
	assert.Equal(t, "ollama", cfg.ModelProvider)
	assert.Equal(t, "/tmp/agent-mem", cfg.MemoryDir)

	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.MaxConsecutiveFailures)
	assert.Equal(t, 2*time.Second, cfg.SnapshotCacheTTL)
}

func TestApplyFileBytesRejectsMalformedYAML(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyFileBytes(cfg, []byte("max_iterations: [not a number"))
	assert.Error(t, err)
}
