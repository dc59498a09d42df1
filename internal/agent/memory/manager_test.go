package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/internal/agent/types"
)

type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 0}, nil
}

func testManager(t *testing.T, embedder Embedder) *Manager {
	t.Helper()
	db := openTestDB(t)
	m, err := NewManager(context.Background(), db, embedder, Config{
		WorkingCapacity:       10,
		TopK:                  5,
		SkillMinSuccessRate:   0.7,
		ConsolidationEpisodes: 2,
		ConsolidationInterval: 0, // disable the cron schedule; tests trigger consolidation directly
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestSaveEpisodeTriggersConsolidationAfterConfiguredCount(t *testing.T) {
	m := testManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.SaveEpisode(ctx, types.Episode{GoalText: "dismiss consent banner", Success: true, Tags: []string{"consent"}}))
	require.NoError(t, m.SaveEpisode(ctx, types.Episode{GoalText: "dismiss consent banner", Success: true, Tags: []string{"consent"}}))

	patterns, err := m.semantic.Search(ctx, "consent", 5)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Contains(t, patterns[0].Summary, "2/2")
}

func TestEnrichedContextIncludesWorkingAndSearchResults(t *testing.T) {
	m := testManager(t, nil)
	ctx := context.Background()
	require.NoError(t, m.working.AddStep(types.Step{Index: 1, Success: true}))
	require.NoError(t, m.SaveEpisode(ctx, types.Episode{GoalText: "book a flight", Success: true}))

	text, err := m.EnrichedContext(ctx, "flight")
	require.NoError(t, err)
	assert.Contains(t, text, "Current run so far")
	assert.Contains(t, text, "book a flight")
}

func TestSearchAllReturnsEmptyResultsWithoutError(t *testing.T) {
	m := testManager(t, nil)
	result, err := m.SearchAll(context.Background(), "nothing stored yet")
	require.NoError(t, err)
	assert.Empty(t, result.Episodic)
	assert.Empty(t, result.Semantic)
	assert.Empty(t, result.Skill)
}

func TestMatchSkillHonorsMinimumSuccessRate(t *testing.T) {
	m := testManager(t, nil)
	ctx := context.Background()
	_, err := m.skill.Upsert(ctx, "book-flight", "book a flight", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.skill.RecordExecution(ctx, "book-flight", true, time.Second))

	_, ok, err := m.MatchSkill(ctx, "please book a flight")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSaveEpisodeEmbedsGoalTextWhenEmbedderConfigured(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float64{"book a flight": {1, 0, 0}}}
	m := testManager(t, embedder)
	ctx := context.Background()

	require.NoError(t, m.SaveEpisode(ctx, types.Episode{GoalText: "book a flight", Success: true}))

	recent, err := m.episodic.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, []float64{1, 0, 0}, recent[0].Embedding)
}

func TestAddStepFeedsWorkingTier(t *testing.T) {
	m := testManager(t, nil)

	require.NoError(t, m.AddStep(types.Step{Index: 1, Success: true, Tool: &types.ToolCall{Name: types.ToolNavigate}}))
	require.NoError(t, m.AddStep(types.Step{Index: 2, Success: false, ErrorKind: types.ErrObstruction}))

	ctxText, err := m.EnrichedContext(context.Background(), "anything")
	require.NoError(t, err)
	assert.Contains(t, ctxText, "Step 1: navigate — ok")
	assert.Contains(t, ctxText, "failed(obstruction)")
}

func TestClearWipesAllTiers(t *testing.T) {
	m := testManager(t, nil)

	_, err := m.episodic.Save(context.Background(), types.Episode{GoalText: "g", Outcome: types.OutcomeSuccess, Success: true})
	require.NoError(t, err)
	_, err = m.skill.Upsert(context.Background(), "login-flow", "log in", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddStep(types.Step{Index: 1}))

	require.NoError(t, m.Clear(context.Background()))

	eps, err := m.RecentEpisodes(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, eps)
	_, err = m.SkillByName(context.Background(), "login-flow")
	assert.Error(t, err)
	assert.Empty(t, m.Working().Steps())
}
