package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"briefline/internal/app"
	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/generate"
	"briefline/internal/llm"
	"briefline/internal/repo"
)

// Tools holds what the tool handlers need.
type Tools struct {
	cfg Config
}

// --- Input types ---

type ModelInput struct {
	Provider string `json:"provider,omitempty" jsonschema:"Model provider: google, openai or anthropic"`
	Model    string `json:"model,omitempty" jsonschema:"Model name; defaults to the project configuration"`
	APIKey   string `json:"api_key,omitempty" jsonschema:"Provider API key; resolved from the environment when empty"`
}

type BriefFields struct {
	Title              string   `json:"title" jsonschema:"Brief title"`
	Objective          string   `json:"objective,omitempty" jsonschema:"Business objective"`
	Outcomes           string   `json:"outcomes,omitempty" jsonschema:"Measurable outcomes"`
	Scope              string   `json:"scope,omitempty" jsonschema:"In and out of scope"`
	RiskOfInaction     string   `json:"risk_of_inaction,omitempty" jsonschema:"Cost of doing nothing"`
	HappyPath          string   `json:"happy_path,omitempty" jsonschema:"Main success scenario"`
	Exceptions         string   `json:"exceptions,omitempty" jsonschema:"Exception scenarios"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" jsonschema:"Acceptance criteria, one per entry"`
	StakeholderImpact  string   `json:"stakeholder_impact,omitempty" jsonschema:"Impact on stakeholders"`
	DepartmentImpact   string   `json:"department_impact,omitempty" jsonschema:"Impact on departments"`
	TechnologyImpact   string   `json:"technology_impact,omitempty" jsonschema:"Impact on technology"`
}

func (f BriefFields) input() engine.BriefInput {
	return engine.BriefInput{
		Title:              f.Title,
		Objective:          f.Objective,
		Outcomes:           f.Outcomes,
		Scope:              f.Scope,
		RiskOfInaction:     f.RiskOfInaction,
		HappyPath:          f.HappyPath,
		Exceptions:         f.Exceptions,
		AcceptanceCriteria: f.AcceptanceCriteria,
		StakeholderImpact:  f.StakeholderImpact,
		DepartmentImpact:   f.DepartmentImpact,
		TechnologyImpact:   f.TechnologyImpact,
	}
}

func (f BriefFields) brief(projectID string) domain.Brief {
	return domain.Brief{
		ProjectID:          projectID,
		Title:              strings.TrimSpace(f.Title),
		Objective:          f.Objective,
		Outcomes:           f.Outcomes,
		Scope:              f.Scope,
		RiskOfInaction:     f.RiskOfInaction,
		HappyPath:          f.HappyPath,
		Exceptions:         f.Exceptions,
		AcceptanceCriteria: f.AcceptanceCriteria,
		StakeholderImpact:  f.StakeholderImpact,
		DepartmentImpact:   f.DepartmentImpact,
		TechnologyImpact:   f.TechnologyImpact,
	}
}

type SubmitBriefInput struct {
	Brief BriefFields `json:"brief" jsonschema:"Brief fields; title is required"`
	Draft bool        `json:"draft,omitempty" jsonschema:"Store as draft instead of submitting"`
}

type ListBriefsInput struct {
	Status string `json:"status,omitempty" jsonschema:"Filter by status: draft, submitted, in_review, approved or rejected"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum results (default 50)"`
}

type AssessInput struct {
	BriefID  string       `json:"brief_id,omitempty" jsonschema:"Id or display id (BB-0001) of a stored brief"`
	Brief    *BriefFields `json:"brief,omitempty" jsonschema:"Inline brief fields to grade without storing"`
	UseModel bool         `json:"use_model,omitempty" jsonschema:"Ask the model to score the brief instead of the local heuristic"`
	Model    *ModelInput  `json:"model,omitempty" jsonschema:"Model override"`
}

type GenerateInput struct {
	ParentID    string      `json:"parent_id" jsonschema:"Id of the brief or item to decompose"`
	ParentLevel string      `json:"parent_level,omitempty" jsonschema:"Level of the parent: brief, initiative, feature or epic"`
	MinCount    int         `json:"min_count,omitempty" jsonschema:"Minimum number of children to aim for"`
	Extra       string      `json:"extra,omitempty" jsonschema:"Additional instructions for the model"`
	Model       *ModelInput `json:"model,omitempty" jsonschema:"Model override"`
}

type ListItemsInput struct {
	Level    string `json:"level,omitempty" jsonschema:"initiative, feature, epic or story"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"Only children of this parent"`
	Status   string `json:"status,omitempty" jsonschema:"draft, accepted or orphaned"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results (default 50)"`
}

type TraceInput struct {
	ItemID string `json:"item_id" jsonschema:"Item to trace"`
}

type ParseInput struct {
	Raw string `json:"raw" jsonschema:"Raw model output"`
}

// --- Handlers ---

func (t *Tools) SubmitBrief(ctx context.Context, _ *mcp.CallToolRequest, input SubmitBriefInput) (*mcp.CallToolResult, any, error) {
	in := input.Brief.input()
	in.Draft = input.Draft
	b, err := t.cfg.Engine.SubmitBrief(ctx, t.cfg.ProjectID, in, t.cfg.ActorID)
	if err != nil {
		return toolError("Failed to submit brief: %v", err), nil, nil
	}
	return toolJSON(b)
}

func (t *Tools) ListBriefs(ctx context.Context, _ *mcp.CallToolRequest, input ListBriefsInput) (*mcp.CallToolResult, any, error) {
	briefs, err := t.cfg.Engine.Repo.ListBriefs(ctx, repo.BriefFilters{ProjectID: t.cfg.ProjectID, Status: input.Status, Limit: input.Limit})
	if err != nil {
		return toolError("Failed to list briefs: %v", err), nil, nil
	}
	if briefs == nil {
		briefs = []domain.Brief{}
	}
	return toolJSON(briefs)
}

func (t *Tools) AssessBriefQuality(ctx context.Context, _ *mcp.CallToolRequest, input AssessInput) (*mcp.CallToolResult, any, error) {
	var s *llm.Settings
	if input.UseModel || input.Model != nil {
		resolved := t.settings(input.Model)
		s = &resolved
	}
	switch {
	case input.BriefID != "":
		b, err := t.brief(ctx, input.BriefID)
		if err != nil {
			return toolError("Brief %s not found", input.BriefID), nil, nil
		}
		a, err := t.cfg.Engine.AssessBrief(ctx, b.ID, s, t.cfg.ActorID)
		if err != nil {
			return toolError("Assessment failed: %v", err), nil, nil
		}
		return toolJSON(a)
	case input.Brief != nil:
		a, err := t.cfg.Engine.AssessBriefQuality(ctx, input.Brief.brief(t.cfg.ProjectID), s)
		if err != nil {
			return toolError("Assessment failed: %v", err), nil, nil
		}
		return toolJSON(a)
	default:
		return toolError("Either brief_id or brief is required"), nil, nil
	}
}

func (t *Tools) GenerateChildren(ctx context.Context, _ *mcp.CallToolRequest, input GenerateInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.ParentID) == "" {
		return toolError("parent_id is required"), nil, nil
	}
	var level domain.Level
	if input.ParentLevel != "" {
		l, err := domain.ParseLevel(input.ParentLevel)
		if err != nil {
			return toolError("%v", err), nil, nil
		}
		level = l
	}
	res, err := t.cfg.Engine.GenerateChildren(ctx, engine.GenerateOptions{
		ParentID:    input.ParentID,
		ParentLevel: level,
		Settings:    t.settings(input.Model),
		MinCount:    input.MinCount,
		Extra:       input.Extra,
		ActorID:     t.cfg.ActorID,
	})
	if err != nil {
		t.cfg.Logger.Warn("generate_children failed", zap.String("parent_id", input.ParentID), zap.Error(err))
		return toolError("%s", describe(err)), nil, nil
	}
	return toolJSON(res)
}

func (t *Tools) ListItems(ctx context.Context, _ *mcp.CallToolRequest, input ListItemsInput) (*mcp.CallToolResult, any, error) {
	f := repo.ItemFilters{ProjectID: t.cfg.ProjectID, ParentID: input.ParentID, Status: input.Status, Limit: input.Limit}
	if input.Level != "" {
		l, err := domain.ParseLevel(input.Level)
		if err != nil {
			return toolError("%v", err), nil, nil
		}
		f.Level = l
	}
	items, err := t.cfg.Engine.Repo.ListItems(ctx, f)
	if err != nil {
		return toolError("Failed to list items: %v", err), nil, nil
	}
	if items == nil {
		items = []domain.Item{}
	}
	return toolJSON(items)
}

func (t *Tools) TraceItem(ctx context.Context, _ *mcp.CallToolRequest, input TraceInput) (*mcp.CallToolResult, any, error) {
	if input.ItemID == "" {
		return toolError("item_id is required"), nil, nil
	}
	it, err := t.cfg.Engine.Repo.GetItem(ctx, input.ItemID)
	if err != nil || it.ProjectID != t.cfg.ProjectID {
		return toolError("Item %s not found", input.ItemID), nil, nil
	}
	chain, err := t.cfg.Engine.Trace(ctx, it.ID)
	if err != nil {
		return toolError("Trace failed: %v", err), nil, nil
	}
	return toolJSON(chain)
}

func (t *Tools) ParseStructuredOutput(_ context.Context, _ *mcp.CallToolRequest, input ParseInput) (*mcp.CallToolResult, any, error) {
	return toolJSON(t.cfg.Engine.ParseStructuredOutput(input.Raw))
}

// --- Helpers ---

func (t *Tools) brief(ctx context.Context, id string) (domain.Brief, error) {
	b, err := t.cfg.Engine.Repo.GetBrief(ctx, id)
	if err != nil {
		return domain.Brief{}, err
	}
	if b.ProjectID != t.cfg.ProjectID {
		return domain.Brief{}, repo.ErrNotFound
	}
	return b, nil
}

func (t *Tools) settings(m *ModelInput) llm.Settings {
	var o app.ModelOverride
	if m != nil {
		o = app.ModelOverride{Provider: m.Provider, Model: m.Model, APIKey: m.APIKey}
	}
	return app.ResolveSettings(t.cfg.Engine.Config, o, t.cfg.Keys)
}

// describe turns pipeline errors into messages an agent can act on.
func describe(err error) string {
	var ce *llm.ConfigError
	var ge *generate.GenerationError
	switch {
	case errors.As(err, &ce):
		return fmt.Sprintf("Model configuration error (%s): %v", ce.Field, err)
	case errors.As(err, &ge):
		return fmt.Sprintf("Provider unavailable: %v", err)
	case errors.Is(err, engine.ErrQualityGate):
		return "Quality gate blocked: assess and improve the brief, or approve it, before generating"
	case errors.Is(err, generate.ErrGenerationPending):
		return "A generation for this parent is already running"
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Sprintf("Not found: %v", err)
	}
	return fmt.Sprintf("Generation failed: %v", err)
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return toolText(string(data)), nil, nil
}
