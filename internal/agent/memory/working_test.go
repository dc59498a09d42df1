package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/internal/agent/types"
)

func TestWorkingAddStepEvictsOldestPastCapacity(t *testing.T) {
	w := NewWorking(2, "")
	require.NoError(t, w.AddStep(types.Step{Index: 1}))
	require.NoError(t, w.AddStep(types.Step{Index: 2}))
	require.NoError(t, w.AddStep(types.Step{Index: 3}))

	steps := w.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, 2, steps[0].Index)
	assert.Equal(t, 3, steps[1].Index)
}

func TestWorkingGetContextSummarizesOlderSteps(t *testing.T) {
	w := NewWorking(10, "")
	for i := 1; i <= 3; i++ {
		require.NoError(t, w.AddStep(types.Step{Index: i, Thought: "thinking", Success: true}))
	}

	rendered := w.GetContext(1)
	assert.Contains(t, rendered, "Step 1: (none) — ok\n")
	assert.Contains(t, rendered, "Step 3: (none) — ok (thought: thinking)")
}

func TestWorkingCompactDropsOlderSteps(t *testing.T) {
	w := NewWorking(10, "")
	for i := 1; i <= 5; i++ {
		require.NoError(t, w.AddStep(types.Step{Index: i}))
	}
	w.Compact(2)
	steps := w.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, 4, steps[0].Index)
	assert.Equal(t, 5, steps[1].Index)
}

func TestWorkingPersistsAndReloadsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	w := NewWorking(10, dir)
	require.NoError(t, w.AddStep(types.Step{Index: 1, Thought: "first"}))
	require.NoError(t, w.AddStep(types.Step{Index: 2, Thought: "second"}))

	_, err := os.Stat(filepath.Join(dir, "working.json"))
	require.NoError(t, err)

	steps, err := LoadWorkingSnapshot(dir)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "second", steps[1].Thought)
}

func TestWorkingResetClearsPersistedSnapshot(t *testing.T) {
	dir := t.TempDir()
	w := NewWorking(10, dir)
	require.NoError(t, w.AddStep(types.Step{Index: 1}))
	w.Reset()

	steps, err := LoadWorkingSnapshot(dir)
	require.NoError(t, err)
	assert.Empty(t, steps)
	assert.Empty(t, w.Steps())
}

func TestLoadWorkingSnapshotMissingFileReturnsNil(t *testing.T) {
	steps, err := LoadWorkingSnapshot(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, steps)
}
