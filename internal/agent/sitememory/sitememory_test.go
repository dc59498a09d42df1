package sitememory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"database/sql"

	"github.com/ternlabs/tern/internal/agent/types"
)

func TestCanonicalizeReplacesNumericSegments(t *testing.T) {
	assert.Equal(t, "shop.test/category/*", Canonicalize("https://shop.test/category/shoes"))
	assert.Equal(t, "example.com/users/*", Canonicalize("https://example.com/users/123"))
}

func TestIsStableRejectsAutoGeneratedMarkers(t *testing.T) {
	assert.False(t, IsStable("MuiButton-root-123"))
	assert.False(t, IsStable("jss847"))
	assert.False(t, IsStable("a3f9k2"))
	assert.True(t, IsStable("signin-btn"))
	assert.True(t, IsStable("header"))
	assert.False(t, IsStable(""))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSynthesizeAndSaveThenFindMemoryAcrossCanonicalPattern(t *testing.T) {
	db := openTestDB(t)
	store, err := NewStore(context.Background(), db)
	require.NoError(t, err)

	el := VisionElement{CenterX: 100, CenterY: 50, Tag: "a", Attrs: map[string]string{"id": "signin-btn"}}
	candidates := Synthesize(el)
	require.NotEmpty(t, candidates)

	resolve := func(c types.SelectorCandidate) (float64, float64, bool) {
		if c.Value == "#signin-btn" {
			return 100, 50, true
		}
		return 0, 0, false
	}
	validated, confidence := Validate(el, candidates, resolve)
	require.Equal(t, 1.0, confidence)

	_, err = store.SynthesizeAndSave(context.Background(), "https://shop.test/category/shoes", "the sign in link", validated, confidence)
	require.NoError(t, err)

	mem, ok := store.FindMemory("https://shop.test/category/bags", "the sign in link")
	require.True(t, ok)
	assert.Equal(t, "shop.test/category/*", mem.URLPattern)
	assert.Equal(t, 1.0, mem.Confidence)

	best, ok := Reuse(mem, resolve)
	require.True(t, ok)
	assert.Equal(t, "#signin-btn", best.Value)
}

func TestRecordUseSaturatesAtBounds(t *testing.T) {
	db := openTestDB(t)
	store, err := NewStore(context.Background(), db)
	require.NoError(t, err)

	_, err = store.SynthesizeAndSave(context.Background(), "https://a.test/x", "thing",
		[]types.SelectorCandidate{{Kind: types.SelectorID, Value: "#x", Priority: 100, Validated: true}}, 1.0)
	require.NoError(t, err)

	require.NoError(t, store.RecordUse(context.Background(), "a.test/x", "thing", true))
	mem, _ := store.FindMemory("https://a.test/x", "thing")
	assert.Equal(t, 1.0, mem.Confidence, "success at 1.0 must saturate, not exceed")

	for i := 0; i < 20; i++ {
		_ = store.RecordUse(context.Background(), "a.test/x", "thing", false)
	}
	_, ok := store.FindMemory("https://a.test/x", "thing")
	assert.False(t, ok, "confidence below the deletion floor must remove the entry")
}

func TestUsableRespectsMinimumConfidence(t *testing.T) {
	mem := &types.SiteMemory{Confidence: 0.4}
	assert.False(t, Usable(mem, 0.5))
	mem.Confidence = 0.5
	assert.True(t, Usable(mem, 0.5))
}
