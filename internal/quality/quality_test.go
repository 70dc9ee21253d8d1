package quality

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefline/internal/domain"
	"briefline/internal/llm"
)

func fixedAssessor(gw llm.Gateway) *Assessor {
	a := New(gw, nil)
	a.Now = func() time.Time { return time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC) }
	return a
}

func rich(subject string) string {
	return fmt.Sprintf("Deliver %s for 12,000 retail customers within two quarters of launch in 2025. "+
		"This will reduce manual handling effort by 40%% and cut average processing time from 3 days to 4 hours.", subject)
}

func wellSpecifiedBrief() domain.Brief {
	return domain.Brief{
		ID:                "brief-green",
		Title:             "Digital onboarding",
		Objective:         rich("a self-service onboarding journey"),
		Outcomes:          rich("measurable onboarding outcomes"),
		Scope:             rich("the onboarding scope"),
		RiskOfInaction:    rich("protection against churn"),
		HappyPath:         rich("the happy path"),
		Exceptions:        rich("exception handling"),
		StakeholderImpact: rich("stakeholder benefits"),
		DepartmentImpact:  rich("operations changes"),
		TechnologyImpact:  rich("platform changes"),
		AcceptanceCriteria: []string{
			"Customers complete onboarding in under 10 minutes",
			"Manual reviews drop below 5% of applications",
			"Identity checks succeed for 95% of applicants",
		},
	}
}

func TestEmptyCriticalFieldsAreRed(t *testing.T) {
	a := fixedAssessor(nil)
	res, err := a.Assess(context.Background(), domain.Brief{ID: "b1", Title: "Something"}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.GradeRed, res.OverallGrade)
	assert.True(t, res.ApprovalRequired)
	assert.Equal(t, domain.ModeMock, res.Mode)
	assert.Len(t, res.Improvements.Critical, len(CriticalFields()))
	for _, key := range CriticalFields() {
		f, ok := res.Field(key)
		require.True(t, ok, key)
		assert.Equal(t, 0, f.Score)
		assert.Equal(t, domain.GradeRed, f.Grade)
		assert.True(t, f.Critical)
	}
}

func TestWellSpecifiedBriefIsGreen(t *testing.T) {
	a := fixedAssessor(nil)
	res, err := a.Assess(context.Background(), wellSpecifiedBrief(), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.GradeGreen, res.OverallGrade)
	assert.False(t, res.ApprovalRequired)
	assert.Empty(t, res.Improvements.Critical)
	assert.GreaterOrEqual(t, res.OverallScore, 8.0)
	for _, key := range CriticalFields() {
		f, _ := res.Field(key)
		assert.Equal(t, domain.GradeGreen, f.Grade, key)
	}
	assert.Equal(t, "brief-green", res.BriefID)
	assert.Equal(t, "2025-05-02T10:00:00Z", res.AssessedAt)
}

func TestGradeIsMonotonic(t *testing.T) {
	for _, a := range []*Assessor{New(nil, nil), {GreenMin: 9, AmberMin: 6}} {
		prev := gradeRank[a.Grade(0)]
		for s := 1; s <= 10; s++ {
			cur := gradeRank[a.Grade(float64(s))]
			assert.LessOrEqual(t, cur, prev, "score %d", s)
			prev = cur
		}
	}
	custom := &Assessor{GreenMin: 9, AmberMin: 6}
	assert.Equal(t, domain.GradeAmber, custom.Grade(8))
	assert.Equal(t, domain.GradeRed, custom.Grade(5.9))
}

func TestOverallNeverBeatsWorstCritical(t *testing.T) {
	brief := wellSpecifiedBrief()
	brief.Objective = "tbd"
	res, err := fixedAssessor(nil).Assess(context.Background(), brief, nil)
	require.NoError(t, err)

	f, _ := res.Field(FieldObjective)
	assert.Equal(t, domain.GradeRed, f.Grade)
	assert.GreaterOrEqual(t, res.OverallScore, 8.0)
	assert.Equal(t, domain.GradeRed, res.OverallGrade)
	assert.True(t, res.ApprovalRequired)
	require.Len(t, res.Improvements.Critical, 1)
	assert.Contains(t, res.Improvements.Critical[0], "Objective")
}

func TestAssessIsIdempotentAndPure(t *testing.T) {
	a := fixedAssessor(nil)
	brief := wellSpecifiedBrief()
	before := brief
	first, err := a.Assess(context.Background(), brief, nil)
	require.NoError(t, err)
	second, err := a.Assess(context.Background(), brief, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before, brief)
}

func TestModelScoresAreRegradedLocally(t *testing.T) {
	reply := "```json\n" + `{"fields": {
		"objective": {"score": 3, "feedback": "Objective lacks a target.", "suggestions": ["Add a date"]},
		"outcomes": {"score": 9, "feedback": "Good"},
		"stakeholder_impact": {"score": 9},
		"change_impact": {"score": 9},
		"scope": {"score": 14}
	}, "summary": "Mostly solid."}` + "\n```"
	gw := llm.Replies(reply)
	brief := wellSpecifiedBrief()
	brief.HappyPath = ""
	s := llm.NewSettings(llm.ProviderGoogle, llm.DefaultModel, "k")

	res, err := fixedAssessor(gw).Assess(context.Background(), brief, &s)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeModel, res.Mode)
	assert.Equal(t, domain.GradeRed, res.OverallGrade)
	obj, _ := res.Field(FieldObjective)
	assert.Equal(t, 3, obj.Score)
	assert.Equal(t, "Objective lacks a target.", obj.Feedback)
	scope, _ := res.Field(FieldScope)
	assert.Equal(t, 10, scope.Score)
	hp, _ := res.Field(FieldHappyPath)
	assert.Equal(t, 0, hp.Score)
	assert.Contains(t, res.Summary, "Mostly solid.")
	require.Len(t, gw.Calls(), 1)
	assert.Contains(t, gw.Calls()[0].User, "stakeholder_impact")
}

func TestFractionalModelScoresAreRounded(t *testing.T) {
	reply := `{"fields": {
		"objective": {"score": 7.5, "feedback": "Close to measurable."},
		"outcomes": {"score": "6"},
		"stakeholder_impact": {"score": 4.4},
		"change_impact": {"score": "9/10"}
	}, "summary": "Uneven."}`
	s := llm.NewSettings(llm.ProviderAnthropic, "claude-sonnet", "k")

	res, err := fixedAssessor(llm.Replies(reply)).Assess(context.Background(), wellSpecifiedBrief(), &s)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeModel, res.Mode)
	want := map[string]int{FieldObjective: 8, FieldOutcomes: 6, FieldStakeholderImpact: 4, FieldChangeImpact: 9}
	for field, score := range want {
		fa, ok := res.Field(field)
		require.True(t, ok, field)
		assert.Equal(t, score, fa.Score, field)
	}
}

func TestModelFailureFallsBackToHeuristic(t *testing.T) {
	gw := &llm.Scripted{Steps: []llm.Step{{Err: &llm.ProviderError{
		Provider: llm.ProviderGoogle, Kind: llm.AuthError, Status: 401,
		Err: errors.New("key secret-key-123 rejected"),
	}}}}
	s := llm.NewSettings(llm.ProviderGoogle, llm.DefaultModel, "secret-key-123")

	res, err := fixedAssessor(gw).Assess(context.Background(), wellSpecifiedBrief(), &s)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeMockFallback, res.Mode)
	assert.Contains(t, res.Summary, "AuthError")
	assert.NotContains(t, res.Summary, "secret-key-123")
	assert.Equal(t, domain.GradeGreen, res.OverallGrade)
}

func TestUnparseableModelReplyFallsBack(t *testing.T) {
	s := llm.NewSettings(llm.ProviderOpenAI, "gpt-4o", "k")
	res, err := fixedAssessor(llm.Replies("I think it looks fine.")).Assess(context.Background(), wellSpecifiedBrief(), &s)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeMockFallback, res.Mode)
}

func TestInvalidSettingsAreReported(t *testing.T) {
	gw := llm.Replies("{}")
	s := llm.NewSettings("acme", "m", "k")
	_, err := fixedAssessor(gw).Assess(context.Background(), wellSpecifiedBrief(), &s)
	var cfgErr *llm.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, gw.Calls())
}

func TestAssessAllKeepsOrder(t *testing.T) {
	briefs := []domain.Brief{{ID: "a"}, wellSpecifiedBrief(), {ID: "c", Objective: "Reduce costs by 10% in 2025"}}
	res, err := fixedAssessor(nil).AssessAll(context.Background(), briefs, nil, 2)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "a", res[0].BriefID)
	assert.Equal(t, "brief-green", res[1].BriefID)
	assert.Equal(t, "c", res[2].BriefID)
	assert.Equal(t, domain.GradeGreen, res[1].OverallGrade)
}

func TestHeuristicScore(t *testing.T) {
	score, _ := heuristicScore("")
	assert.Equal(t, 0, score)
	vague, _ := heuristicScore("Make things better etc")
	plain, _ := heuristicScore("Make onboarding faster for customers")
	assert.Less(t, vague, plain)
	full, _ := heuristicScore(rich("x"))
	assert.Equal(t, 10, full)
}
