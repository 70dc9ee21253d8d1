package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"briefline/internal/domain"
	"briefline/internal/guard"
	"briefline/internal/llm"
	"briefline/internal/prompt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fakeHierarchy struct {
	exists bool
}

func (f fakeHierarchy) ParentExists(context.Context, domain.Level, string) (bool, error) {
	return f.exists, nil
}

func itemsJSON(titles ...string) string {
	var out []map[string]any
	for _, t := range titles {
		out = append(out, map[string]any{
			"title":       t,
			"description": "Deliver " + strings.ToLower(t),
			"rationale":   "Supports the objective",
			"priority":    "high",
		})
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func newTestOrchestrator(gw llm.Gateway) *Orchestrator {
	o := New(gw, fakeHierarchy{exists: true}, nil)
	o.Sleep = func(context.Context, time.Duration) error { return nil }
	o.Now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return o
}

func briefRequest(min int) Request {
	return Request{
		Parent: prompt.FromBrief(domain.Brief{
			Title:     "Digital onboarding",
			Objective: "Open accounts online in under 10 minutes",
			Outcomes:  "Reduce branch visits by 30%",
		}),
		ParentID:    "brief-1",
		ParentLevel: domain.LevelBrief,
		MinCount:    min,
		Settings:    llm.NewSettings(llm.ProviderGoogle, llm.DefaultModel, "test-key"),
	}
}

func TestGenerateRejectsDuplicateInBatch(t *testing.T) {
	gw := llm.Replies(itemsJSON("Self-service portal", "Identity checks", "Funnel analytics", "Self-Service Portal.", "Branch handoff"))
	o := newTestOrchestrator(gw)

	run, err := o.Generate(context.Background(), briefRequest(4))
	require.NoError(t, err)
	assert.Len(t, run.Accepted, 4)
	require.Len(t, run.Rejected, 1)
	assert.Equal(t, string(guard.Duplicate), run.Rejected[0].Reason)
	assert.Equal(t, 1, run.Iterations)
	assert.Len(t, gw.Calls(), 1)
	for _, it := range run.Accepted {
		assert.Equal(t, domain.LevelInitiative, it.Level)
		assert.Equal(t, "brief-1", it.ParentID)
		assert.Equal(t, domain.LevelBrief, it.ParentLevel)
		assert.Equal(t, domain.SourceGenerated, it.Source)
		assert.Equal(t, it.Rationale, it.BusinessValue)
	}
}

func TestGenerateExhaustsRetries(t *testing.T) {
	gw := &llm.Scripted{Steps: []llm.Step{{Err: &llm.ProviderError{Provider: llm.ProviderGoogle, Kind: llm.ProviderUnavailable, Status: 503}}}}
	o := newTestOrchestrator(gw)
	o.MaxAttempts = 3

	_, err := o.Generate(context.Background(), briefRequest(2))
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 3, genErr.Attempts)
	assert.Len(t, gw.Calls(), 3)
	assert.Contains(t, err.Error(), "ProviderError")
	assert.Contains(t, err.Error(), "ProviderUnavailable")
}

func TestGenerateInvalidRequestIsNotRetried(t *testing.T) {
	gw := &llm.Scripted{Steps: []llm.Step{{Err: &llm.ProviderError{Provider: llm.ProviderGoogle, Kind: llm.InvalidRequest, Status: 404}}}}
	o := newTestOrchestrator(gw)

	_, err := o.Generate(context.Background(), briefRequest(2))
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Len(t, gw.Calls(), 1)
}

func TestGenerateConfigErrorSkipsGateway(t *testing.T) {
	gw := llm.Replies(itemsJSON("A"))
	o := newTestOrchestrator(gw)
	req := briefRequest(1)
	req.Settings.APIKey = ""

	_, err := o.Generate(context.Background(), req)
	var cfgErr *llm.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "api_key", cfgErr.Field)
	assert.Empty(t, gw.Calls())
}

func TestGenerateFollowsUpUntilMinimum(t *testing.T) {
	gw := llm.Replies(itemsJSON("Alpha", "Beta"), itemsJSON("Beta", "Gamma", "Delta"))
	o := newTestOrchestrator(gw)

	run, err := o.Generate(context.Background(), briefRequest(4))
	require.NoError(t, err)
	assert.Equal(t, 2, run.Iterations)
	assert.Len(t, run.Accepted, 4)
	calls := gw.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].User, "Produce 2 more distinct items")
	assert.Contains(t, calls[1].User, "Alpha; Beta")
	assert.Greater(t, run.TokensUsed, 0)
}

func TestGenerateTruncatesOnLaterFailure(t *testing.T) {
	gw := &llm.Scripted{Steps: []llm.Step{
		{Text: itemsJSON("Alpha", "Beta")},
		{Err: &llm.ProviderError{Provider: llm.ProviderGoogle, Kind: llm.QuotaExceeded, Status: 429}},
	}}
	o := newTestOrchestrator(gw)
	o.MaxAttempts = 2

	run, err := o.Generate(context.Background(), briefRequest(4))
	require.NoError(t, err)
	assert.True(t, run.Truncated)
	assert.Len(t, run.Accepted, 2)
	require.NotEmpty(t, run.Warnings)
	assert.Contains(t, run.Warnings[0], "QuotaExceeded")
	assert.Len(t, gw.Calls(), 3)
}

func TestGenerateFallbackIsFlagged(t *testing.T) {
	gw := llm.Replies("Modernise payments\nReplace the legacy switch.")
	o := newTestOrchestrator(gw)
	o.MaxIterations = 1

	run, err := o.Generate(context.Background(), briefRequest(1))
	require.NoError(t, err)
	assert.True(t, run.UsedFallback)
	require.Len(t, run.Accepted, 1)
	assert.Equal(t, "Modernise payments", run.Accepted[0].Title)
	assert.NotEmpty(t, run.Warnings)
}

func TestGenerateNeverAcceptsRawJSON(t *testing.T) {
	gw := llm.Replies(`[{"title":"Alpha"},{"title":"Beta"}]`)
	o := newTestOrchestrator(gw)
	o.MaxIterations = 1

	run, err := o.Generate(context.Background(), briefRequest(1))
	require.NoError(t, err)
	assert.Empty(t, run.Accepted)
	assert.True(t, run.UsedFallback)
	require.Len(t, run.Rejected, 2)
	assert.Equal(t, "missing title or description", run.Rejected[0].Reason)
	assert.Contains(t, run.Warnings, "model output held no usable items")
}

func TestReserveBlocksGenerate(t *testing.T) {
	gw := llm.Replies(itemsJSON("Alpha"))
	o := newTestOrchestrator(gw)

	release, err := o.Reserve("brief-1", domain.LevelInitiative)
	require.NoError(t, err)
	assert.True(t, o.Busy("brief-1", domain.LevelInitiative))
	_, err = o.Generate(context.Background(), briefRequest(1))
	require.ErrorIs(t, err, ErrGenerationPending)
	_, err = o.Reserve("brief-1", domain.LevelInitiative)
	require.ErrorIs(t, err, ErrGenerationPending)
	assert.Empty(t, gw.Calls())

	run, err := o.GenerateReserved(context.Background(), briefRequest(1))
	require.NoError(t, err)
	assert.Len(t, run.Accepted, 1)
	release()
	assert.False(t, o.Busy("brief-1", domain.LevelInitiative))
}

func TestSequentialRunsProduceUniqueIDs(t *testing.T) {
	gw := llm.Replies(itemsJSON("Alpha", "Beta", "Gamma"), itemsJSON("Alpha", "Delta", "Epsilon", "Zeta"))
	o := newTestOrchestrator(gw)

	first, err := o.Generate(context.Background(), briefRequest(3))
	require.NoError(t, err)
	req := briefRequest(3)
	for _, it := range first.Accepted {
		req.ExistingTitles = append(req.ExistingTitles, it.Title)
	}
	second, err := o.Generate(context.Background(), req)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, it := range append(first.Accepted, second.Accepted...) {
		assert.False(t, ids[it.ID], "duplicate id %s", it.ID)
		ids[it.ID] = true
		assert.Equal(t, "brief-1", it.ParentID)
	}
	assert.Len(t, ids, 6)
	require.Len(t, second.Rejected, 1)
	assert.Equal(t, string(guard.Duplicate), second.Rejected[0].Reason)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	gw := llm.Replies(itemsJSON("Alpha"))
	gw.Before = func(context.Context) {
		once.Do(func() {
			close(entered)
			<-unblock
		})
	}
	o := newTestOrchestrator(gw)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Generate(context.Background(), briefRequest(1))
		errCh <- err
	}()
	<-entered
	assert.True(t, o.Busy("brief-1", domain.LevelInitiative))

	_, err := o.Generate(context.Background(), briefRequest(1))
	require.ErrorIs(t, err, ErrGenerationPending)

	close(unblock)
	require.NoError(t, <-errCh)
	assert.False(t, o.Busy("brief-1", domain.LevelInitiative))

	_, err = o.Generate(context.Background(), briefRequest(1))
	require.NoError(t, err)
}

func TestStaleParentRejectsEverything(t *testing.T) {
	gw := llm.Replies(itemsJSON("Alpha", "Beta"))
	o := newTestOrchestrator(gw)
	o.Hierarchy = fakeHierarchy{exists: false}

	run, err := o.Generate(context.Background(), briefRequest(2))
	require.NoError(t, err)
	assert.Empty(t, run.Accepted)
	require.Len(t, run.Rejected, 2)
	for _, r := range run.Rejected {
		assert.Equal(t, string(guard.ParentMismatch), r.Reason)
	}
	assert.Equal(t, 1, run.Iterations)
}

func TestPendingRelease(t *testing.T) {
	var p Pending
	release, ok := p.TryAcquire("x", domain.LevelEpic)
	require.True(t, ok)
	_, ok = p.TryAcquire("x", domain.LevelEpic)
	assert.False(t, ok)
	_, ok = p.TryAcquire("x", domain.LevelStory)
	assert.True(t, ok)
	release()
	release()
	_, ok = p.TryAcquire("x", domain.LevelEpic)
	assert.True(t, ok)
}

func ExampleGenerationError() {
	err := &GenerationError{Attempts: 3, Last: &llm.ProviderError{Provider: "google", Kind: llm.QuotaExceeded, Status: 429}}
	fmt.Println(err)
	// Output: generation failed after 3 attempts: ProviderError: google QuotaExceeded (status 429)
}
