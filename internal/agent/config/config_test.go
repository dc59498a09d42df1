package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/internal/agent/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 50, cfg.MaxIterations)
	assert.Equal(t, 10*time.Minute, cfg.GoalTimeout)
	assert.True(t, cfg.SnapshotDiffEnabled)
	assert.Equal(t, 1, cfg.KeepLastNScreenshots)
	assert.Equal(t, 3, cfg.CircuitFailureThreshold)
	assert.Equal(t, 0.85, cfg.CaptchaThresholds.High)
	assert.NotEmpty(t, cfg.MemoryDir)
}

func TestDefaultRetryPolicyCoversEveryErrorKind(t *testing.T) {
	cfg := DefaultConfig()
	kinds := []types.ErrorKind{
		types.ErrTransientTimeout, types.ErrRateLimit, types.ErrServer5xx,
		types.ErrCaptcha, types.ErrSelectorMissing, types.ErrStaleElement,
		types.ErrNotFound4xx, types.ErrAuthRequired, types.ErrConnectionReset,
		types.ErrPageCrash, types.ErrObstruction, types.ErrCircuitOpen,
		types.ErrUnknown,
	}
	for _, k := range kinds {
		_, ok := cfg.RetryPolicy[k]
		assert.Truef(t, ok, "missing retry policy for %s", k)
	}
}

func TestCircuitOpenNeverRetries(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0, cfg.RetryPolicy[types.ErrCircuitOpen].MaxAttempts)
}

func TestLoadOverlaysEnv(t *testing.T) {
	t.Setenv("AGENT_MAX_ITERATIONS", "7")
	t.Setenv("AGENT_CACHE_TTL_MS", "500")
	t.Setenv("AGENT_DIFF_MODE", "false")
	t.Setenv("AGENT_MEMORY_DIR", "/tmp/agent-test-memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, 500*time.Millisecond, cfg.SnapshotCacheTTL)
	assert.False(t, cfg.SnapshotDiffEnabled)
	assert.Equal(t, "/tmp/agent-test-memory", cfg.MemoryDir)
}

func TestLoadIgnoresGarbageEnv(t *testing.T) {
	t.Setenv("AGENT_MAX_ITERATIONS", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxIterations, cfg.MaxIterations)
}

func TestEnsureMemoryDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "memory")
	cfg := DefaultConfig()
	cfg.MemoryDir = dir
	require.NoError(t, cfg.EnsureMemoryDir())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
