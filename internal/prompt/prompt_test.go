package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefline/internal/domain"
)

func sampleBrief() domain.Brief {
	return domain.Brief{
		Title:              "Self-service returns",
		Objective:          "Cut return handling cost by 30% within two quarters.",
		Outcomes:           "Customers start returns online.",
		AcceptanceCriteria: []string{"Label printed in under 2 minutes", " "},
		TechnologyImpact:   "New returns service behind the order API.",
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	req := Request{Source: FromBrief(sampleBrief()), Target: domain.LevelInitiative, MinCount: 3, Extra: "Focus on EU first."}
	first, err := Build(req)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Build(req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuildEmbedsNonEmptyFieldsAndContract(t *testing.T) {
	p, err := Build(Request{Source: FromBrief(sampleBrief()), Target: domain.LevelInitiative, MinCount: 3})
	require.NoError(t, err)

	assert.Contains(t, p.User, "Generate Initiatives for the following Business Brief.")
	assert.Contains(t, p.User, "Cut return handling cost by 30% within two quarters.")
	assert.Contains(t, p.User, "- Label printed in under 2 minutes")
	assert.Contains(t, p.User, "Produce at least 3 distinct initiatives.")
	assert.Contains(t, p.User, "Respond with a JSON array of objects having fields: title, description")
	assert.Contains(t, p.User, "timeline")
	assert.NotContains(t, p.User, "Scope:", "empty fields are omitted")
	assert.NotContains(t, p.User, "Additional requirements")
}

func TestBuildRejectsWrongTransition(t *testing.T) {
	_, err := Build(Request{Source: FromBrief(sampleBrief()), Target: domain.LevelEpic})
	assert.Error(t, err)
	_, err = Build(Request{Source: FromBrief(sampleBrief()), Target: domain.Level("portfolio")})
	assert.Error(t, err)
}

func TestBuildFromItem(t *testing.T) {
	parent := domain.Item{Level: domain.LevelFeature, Title: "Return labels", Description: "Printable labels", Priority: "high"}
	p, err := Build(Request{Source: FromItem(parent), Target: domain.LevelEpic})
	require.NoError(t, err)
	assert.Contains(t, p.User, "## Feature: Return labels")
	assert.Contains(t, p.User, "sprintEstimate")
	assert.True(t, strings.HasPrefix(p.System, "You are a product planning assistant."))
}

func TestFollowUpListsExistingTitles(t *testing.T) {
	base := Prompt{System: "s", User: "u"}
	p := FollowUp(base, 2, []string{"Alpha", "Beta"})
	assert.Equal(t, "s", p.System)
	assert.True(t, strings.HasSuffix(p.User, "Produce 2 more distinct items, avoiding duplicates of: Alpha; Beta.\n"))
}

func TestAssessmentPromptListsKeys(t *testing.T) {
	p := Assessment("Returns", []BriefField{
		{Key: "objective", Label: "Objective", Value: "x", Critical: true},
		{Key: "scope", Label: "Scope"},
	})
	assert.Contains(t, p.User, "### Objective [objective] (critical)")
	assert.Contains(t, p.User, "### Scope [scope]\n(empty)")
	assert.Contains(t, p.User, "Use exactly these keys: objective, scope.")
}
