package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/internal/agent/types"
)

func newStoresForConsolidate(t *testing.T) (*Episodic, *Semantic, *Skill) {
	t.Helper()
	db := openTestDB(t)
	ctx := context.Background()
	episodic, err := NewEpisodic(ctx, db)
	require.NoError(t, err)
	semantic, err := NewSemantic(ctx, db)
	require.NoError(t, err)
	skill, err := NewSkill(ctx, db)
	require.NoError(t, err)
	return episodic, semantic, skill
}

func TestCanonicalKeyPrefersTagOverGoalWords(t *testing.T) {
	assert.Equal(t, "consent", canonicalKey(types.Episode{GoalText: "dismiss the banner", Tags: []string{"Consent"}}))
	assert.Equal(t, "book a flight", canonicalKey(types.Episode{GoalText: "book a flight to Tokyo today"}))
}

func TestToolSequenceParsesStepSummaryLines(t *testing.T) {
	summary := "Step 1: click — ok\nStep 2: type — ok\nStep 3: (none) — failed"
	seq := toolSequence(summary)
	require.Len(t, seq, 2)
	assert.Equal(t, types.ToolClick, seq[0].Name)
	assert.Equal(t, types.ToolType, seq[1].Name)
}

func TestConsolidateUpsertsSemanticPatternForClusterOfAtLeastTwo(t *testing.T) {
	episodic, semantic, skill := newStoresForConsolidate(t)
	m := &Manager{episodic: episodic, semantic: semantic, skill: skill, consolidationWindow: 50}
	ctx := context.Background()

	summary := "Step 1: click — ok\nStep 2: type — ok"
	_, err := episodic.Save(ctx, types.Episode{GoalText: "dismiss the consent banner", Tags: []string{"consent"}, Success: true, StepsSummary: summary})
	require.NoError(t, err)
	_, err = episodic.Save(ctx, types.Episode{GoalText: "dismiss the consent banner", Tags: []string{"consent"}, Success: true, StepsSummary: summary})
	require.NoError(t, err)
	_, err = episodic.Save(ctx, types.Episode{GoalText: "an unrelated one-off goal", Success: true})
	require.NoError(t, err)

	require.NoError(t, m.Consolidate(ctx))

	patterns, err := semantic.Search(ctx, "consent", 5)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Contains(t, patterns[0].Summary, "2/2")
	assert.Len(t, patterns[0].SourceEpisodeIDs, 2)

	skills, err := skill.Search(ctx, "consent", 5)
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "skill-consent", skills[0].Name)
	require.Len(t, skills[0].Steps, 2)
	assert.Equal(t, types.ToolClick, skills[0].Steps[0].Name)
}

func TestConsolidateSkipsClustersBelowMinimumSize(t *testing.T) {
	episodic, semantic, skill := newStoresForConsolidate(t)
	m := &Manager{episodic: episodic, semantic: semantic, skill: skill, consolidationWindow: 50}
	ctx := context.Background()

	_, err := episodic.Save(ctx, types.Episode{GoalText: "a singleton goal with no siblings", Success: true})
	require.NoError(t, err)

	require.NoError(t, m.Consolidate(ctx))

	patterns, err := semantic.Search(ctx, "singleton", 5)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestRepeatingSuccessfulSequenceRequiresTwoIdenticalSuccesses(t *testing.T) {
	group := []types.Episode{
		{Success: true, StepsSummary: "Step 1: click — ok\nStep 2: type — ok"},
		{Success: false, StepsSummary: "Step 1: click — ok\nStep 2: type — ok"},
	}
	_, ok := repeatingSuccessfulSequence(group)
	assert.False(t, ok, "only one successful episode shares the sequence")

	group = append(group, types.Episode{Success: true, StepsSummary: "Step 1: click — ok\nStep 2: type — ok"})
	seq, ok := repeatingSuccessfulSequence(group)
	require.True(t, ok)
	require.Len(t, seq, 2)
}
