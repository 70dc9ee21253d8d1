package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLevelsFormChain(t *testing.T) {
	require.NoError(t, ValidateLevels(Levels))

	next, ok := LevelBrief.Child()
	require.True(t, ok)
	assert.Equal(t, LevelInitiative, next)

	_, ok = LevelStory.Child()
	assert.False(t, ok, "story is the leaf level")
}

func TestValidateLevelsRejectsBrokenChains(t *testing.T) {
	cases := map[string][]LevelSpec{
		"parent later": {
			{Name: "a"},
			{Name: "b", Parent: "c"},
			{Name: "c", Parent: "a"},
		},
		"dag": {
			{Name: "a"},
			{Name: "b", Parent: "a"},
			{Name: "c", Parent: "a"},
		},
		"root with parent": {
			{Name: "a", Parent: "b"},
		},
		"duplicate": {
			{Name: "a"},
			{Name: "a", Parent: "a"},
		},
	}
	for name, levels := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateLevels(levels))
		})
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"Initiatives":    LevelInitiative,
		"epic":           LevelEpic,
		"Business Brief": LevelBrief,
		"stories":        LevelStory,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("portfolio")
	assert.Error(t, err)
}

func TestNormalizeItemMirrorsRationaleAndBusinessValue(t *testing.T) {
	it := NormalizeItem(Item{Title: " Checkout ", Description: "d", BusinessValue: "cuts churn"})
	assert.Equal(t, "Checkout", it.Title)
	assert.Equal(t, "cuts churn", it.Rationale)
	assert.Equal(t, "cuts churn", it.BusinessValue)
	assert.Equal(t, PriorityMedium, it.Priority)
	assert.Equal(t, ItemDraft, it.Status)
	assert.NotNil(t, it.AcceptanceCriteria)

	it = NormalizeItem(Item{Rationale: "r", BusinessValue: "ignored", Priority: "P0"})
	assert.Equal(t, "r", it.BusinessValue)
	assert.Equal(t, PriorityCritical, it.Priority)
}

func TestBriefChangeImpact(t *testing.T) {
	b := Brief{DepartmentImpact: "Ops retrains 40 agents", TechnologyImpact: " "}
	assert.Equal(t, "Ops retrains 40 agents", b.ChangeImpact())
}
