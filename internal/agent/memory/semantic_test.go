package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemanticUpsertIsIdempotentByCanonicalKey(t *testing.T) {
	db := openTestDB(t)
	store, err := NewSemantic(context.Background(), db)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Upsert(ctx, "consent banners", "dismiss before interacting", []string{"ep1"})
	require.NoError(t, err)

	second, err := store.Upsert(ctx, "consent banners", "dismiss before interacting, then proceed", []string{"ep2"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"ep1", "ep2"}, second.SourceEpisodeIDs)

	hits, err := store.Search(ctx, "dismiss", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "dismiss before interacting, then proceed", hits[0].Summary)
}

func TestSemanticUpsertDoesNotDuplicateSourceEpisodeIDs(t *testing.T) {
	db := openTestDB(t)
	store, err := NewSemantic(context.Background(), db)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Upsert(ctx, "k", "summary", []string{"ep1"})
	require.NoError(t, err)
	p, err := store.Upsert(ctx, "k", "summary", []string{"ep1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ep1"}, p.SourceEpisodeIDs)
}
