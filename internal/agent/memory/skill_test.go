package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/internal/agent/types"
)

func TestSkillUpsertThenRecordExecutionUpdatesSuccessRate(t *testing.T) {
	db := openTestDB(t)
	store, err := NewSkill(context.Background(), db)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Upsert(ctx, "dismiss-consent-banner", "dismiss the cookie banner then continue",
		[]types.ToolCall{{Name: types.ToolClick}}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.RecordExecution(ctx, "dismiss-consent-banner", true, 2*time.Second))
	require.NoError(t, store.RecordExecution(ctx, "dismiss-consent-banner", true, 1*time.Second))
	require.NoError(t, store.RecordExecution(ctx, "dismiss-consent-banner", false, 3*time.Second))

	skills, err := store.Search(ctx, "dismiss", 5)
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, 3, skills[0].ExecCount)
	assert.InDelta(t, 2.0/3.0, skills[0].SuccessRate, 1e-9)
}

func TestMatchForGoalRequiresMinimumSuccessRate(t *testing.T) {
	db := openTestDB(t)
	store, err := NewSkill(context.Background(), db)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Upsert(ctx, "dismiss-consent-banner", "dismiss the cookie banner", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.RecordExecution(ctx, "dismiss-consent-banner", false, time.Second))
	require.NoError(t, store.RecordExecution(ctx, "dismiss-consent-banner", false, time.Second))

	_, ok, err := store.MatchForGoal(ctx, "please dismiss the cookie banner", 0.7)
	require.NoError(t, err)
	assert.False(t, ok, "a skill with 0%% success rate must not be preferred")

	require.NoError(t, store.RecordExecution(ctx, "dismiss-consent-banner", true, time.Second))
	require.NoError(t, store.RecordExecution(ctx, "dismiss-consent-banner", true, time.Second))
	require.NoError(t, store.RecordExecution(ctx, "dismiss-consent-banner", true, time.Second))
	require.NoError(t, store.RecordExecution(ctx, "dismiss-consent-banner", true, time.Second))
	require.NoError(t, store.RecordExecution(ctx, "dismiss-consent-banner", true, time.Second)) // 5/7 ≈ 0.714 clears 0.7

	matched, ok, err := store.MatchForGoal(ctx, "please dismiss the cookie banner", 0.7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dismiss-consent-banner", matched.Name)
}
