package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/internal/agent/types"
)

func threeButtons() []types.Element {
	return []types.Element{
		{Role: "button", Name: "One"},
		{Role: "button", Name: "Two"},
		{Role: "button", Name: "Three"},
	}
}

func TestCacheHitWithinTTLReturnsSameSnapshot(t *testing.T) {
	drv := &fakeDriver{url: "https://example.test/", tree: threeButtons()}
	c := NewCache(2*time.Second, 10)

	snap1, diff1, err := c.Get(context.Background(), drv, Options{})
	require.NoError(t, err)
	assert.Nil(t, diff1)

	snap2, diff2, err := c.Get(context.Background(), drv, Options{})
	require.NoError(t, err)
	assert.Nil(t, diff2)
	assert.Equal(t, snap1.Hash, snap2.Hash)
}

// TestDiffCoherenceAcrossCacheHitWindow reproduces spec.md §4.4 scenario
// 4: a page mutation lands inside the TTL window of a prior snapshot; a
// diff call issued before TTL expiry must still observe the mutation
// rather than silently reporting no change.
func TestDiffCoherenceAcrossCacheHitWindow(t *testing.T) {
	drv := &fakeDriver{url: "https://example.test/", tree: threeButtons()}
	c := NewCache(2*time.Second, 10)

	_, diff0, err := c.Get(context.Background(), drv, Options{Diff: true})
	require.NoError(t, err)
	require.NotNil(t, diff0)
	assert.Len(t, diff0.Added, 3)

	// Page gains a fourth button, still well within the 2s TTL.
	drv.tree = append(drv.tree, types.Element{Role: "button", Name: "Four"})

	_, diff1, err := c.Get(context.Background(), drv, Options{Diff: true})
	require.NoError(t, err)
	require.NotNil(t, diff1)
	assert.Len(t, diff1.Added, 1)
	assert.Equal(t, "Four", diff1.Added[0].Name)
	assert.Empty(t, diff1.Removed)

	// No further page change: the next diff must be empty.
	_, diff2, err := c.Get(context.Background(), drv, Options{Diff: true})
	require.NoError(t, err)
	assert.Empty(t, diff2.Added)
	assert.Empty(t, diff2.Removed)
	assert.Empty(t, diff2.Changed)
}

func TestSnapshotReturnTypeStablePerDiffFlag(t *testing.T) {
	drv := &fakeDriver{url: "https://example.test/", tree: threeButtons()}
	c := NewCache(2*time.Second, 10)

	snap, diff, err := c.Get(context.Background(), drv, Options{Diff: false})
	require.NoError(t, err)
	assert.NotNil(t, snap)
	assert.Nil(t, diff)

	snap, diff, err = c.Get(context.Background(), drv, Options{Diff: true})
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.NotNil(t, diff)
}

func TestCacheForceBypassesTTL(t *testing.T) {
	drv := &fakeDriver{url: "https://example.test/", tree: threeButtons()}
	c := NewCache(10*time.Second, 10)

	snap1, _, err := c.Get(context.Background(), drv, Options{})
	require.NoError(t, err)

	drv.tree = append(drv.tree, types.Element{Role: "button", Name: "Four"})
	snap2, _, err := c.Get(context.Background(), drv, Options{Force: true})
	require.NoError(t, err)
	assert.NotEqual(t, snap1.Hash, snap2.Hash)
}

func TestCacheEvictsLeastRecentlyUsedOverCap(t *testing.T) {
	c := NewCache(time.Minute, 2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		drv := &fakeDriver{url: "https://site.test/" + string(rune('a'+i)), tree: threeButtons()}
		_, _, err := c.Get(ctx, drv, Options{})
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, c.Len(), 2)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	drv := &fakeDriver{url: "https://example.test/", tree: threeButtons()}
	c := NewCache(1*time.Millisecond, 10)

	_, _, err := c.Get(context.Background(), drv, Options{})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	c.Sweep()
	assert.Equal(t, 0, c.Len())
}
