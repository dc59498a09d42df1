package memory

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ternlabs/tern/internal/agent/types"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEpisodicSaveAssignsIDAndRoundTrips(t *testing.T) {
	db := openTestDB(t)
	store, err := NewEpisodic(context.Background(), db)
	require.NoError(t, err)

	ep, err := store.Save(context.Background(), types.Episode{
		GoalText: "book a flight to Tokyo",
		Outcome:  types.OutcomeSuccess,
		Success:  true,
		Tags:     []string{"travel"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ep.ID)

	recent, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "book a flight to Tokyo", recent[0].GoalText)
}

func TestEpisodicSearchMatchesFreeTextOverGoalAndTags(t *testing.T) {
	db := openTestDB(t)
	store, err := NewEpisodic(context.Background(), db)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Save(ctx, types.Episode{GoalText: "book a flight to Tokyo", Success: true})
	require.NoError(t, err)
	_, err = store.Save(ctx, types.Episode{GoalText: "order groceries", Tags: []string{"shopping"}, Success: true})
	require.NoError(t, err)

	hits, err := store.Search(ctx, "flight", nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "book a flight to Tokyo", hits[0].GoalText)

	hits, err = store.Search(ctx, "shopping", nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "order groceries", hits[0].GoalText)
}

func TestEpisodicSearchRanksByEmbeddingSimilarity(t *testing.T) {
	db := openTestDB(t)
	store, err := NewEpisodic(context.Background(), db)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Save(ctx, types.Episode{GoalText: "close the cookie banner", Embedding: []float64{1, 0, 0}, Success: true})
	require.NoError(t, err)
	_, err = store.Save(ctx, types.Episode{GoalText: "unrelated goal", Embedding: []float64{0, 1, 0}, Success: true})
	require.NoError(t, err)

	hits, err := store.Search(ctx, "", []float64{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "close the cookie banner", hits[0].GoalText)
}

func TestDecayScoreFallsBackToAccessCountWithoutTimestamp(t *testing.T) {
	assert.Equal(t, 5.0, decayScore(5, nil))
}

func TestCosineSimilarityHandlesMismatchedDimensions(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 2}, []float64{1}))
	assert.Equal(t, 0.0, cosineSimilarity(nil, []float64{1}))
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 1}, []float64{2, 2}), 1e-9)
}

func TestEpisodicGetReturnsStoredToolCallSequence(t *testing.T) {
	db := openTestDB(t)
	store, err := NewEpisodic(context.Background(), db)
	require.NoError(t, err)

	saved, err := store.Save(context.Background(), types.Episode{
		GoalText: "log in and download the invoice",
		Outcome:  types.OutcomeSuccess,
		Success:  true,
		Steps: []types.ToolCall{
			{Name: types.ToolNavigate, Args: map[string]any{"url": "https://billing.test/login"}, Origin: types.OriginModel},
			{Name: types.ToolClick, Args: map[string]any{"ref": "e3"}, Origin: types.OriginModel},
		},
	})
	require.NoError(t, err)

	got, err := store.Get(context.Background(), saved.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, types.ToolNavigate, got.Steps[0].Name)
	assert.Equal(t, "https://billing.test/login", got.Steps[0].Args["url"])
	assert.Equal(t, types.ToolClick, got.Steps[1].Name)

	_, err = store.Get(context.Background(), "no-such-id")
	assert.Error(t, err)
}

func TestEpisodicClearRemovesEverything(t *testing.T) {
	db := openTestDB(t)
	store, err := NewEpisodic(context.Background(), db)
	require.NoError(t, err)

	_, err = store.Save(context.Background(), types.Episode{GoalText: "a", Outcome: types.OutcomeFailed})
	require.NoError(t, err)
	require.NoError(t, store.Clear(context.Background()))

	recent, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
