package server

import (
	"briefline/internal/app"
	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/generate"
	"briefline/internal/parse"
	"briefline/internal/repo"
)

type BriefRequest struct {
	Title              string   `json:"title" minLength:"1"`
	Objective          *string  `json:"objective,omitempty"`
	Outcomes           *string  `json:"outcomes,omitempty"`
	Scope              *string  `json:"scope,omitempty"`
	RiskOfInaction     *string  `json:"risk_of_inaction,omitempty"`
	HappyPath          *string  `json:"happy_path,omitempty"`
	Exceptions         *string  `json:"exceptions,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	StakeholderImpact  *string  `json:"stakeholder_impact,omitempty"`
	DepartmentImpact   *string  `json:"department_impact,omitempty"`
	TechnologyImpact   *string  `json:"technology_impact,omitempty"`
	Draft              bool     `json:"draft,omitempty" doc:"Store as draft instead of submitting"`
}

func (r BriefRequest) input() engine.BriefInput {
	return engine.BriefInput{
		Title:              r.Title,
		Objective:          stringOrEmpty(r.Objective),
		Outcomes:           stringOrEmpty(r.Outcomes),
		Scope:              stringOrEmpty(r.Scope),
		RiskOfInaction:     stringOrEmpty(r.RiskOfInaction),
		HappyPath:          stringOrEmpty(r.HappyPath),
		Exceptions:         stringOrEmpty(r.Exceptions),
		AcceptanceCriteria: r.AcceptanceCriteria,
		StakeholderImpact:  stringOrEmpty(r.StakeholderImpact),
		DepartmentImpact:   stringOrEmpty(r.DepartmentImpact),
		TechnologyImpact:   stringOrEmpty(r.TechnologyImpact),
		Draft:              r.Draft,
	}
}

func (r BriefRequest) brief(projectID string) domain.Brief {
	in := r.input()
	return domain.Brief{
		ProjectID:          projectID,
		Title:              in.Title,
		Objective:          in.Objective,
		Outcomes:           in.Outcomes,
		Scope:              in.Scope,
		RiskOfInaction:     in.RiskOfInaction,
		HappyPath:          in.HappyPath,
		Exceptions:         in.Exceptions,
		AcceptanceCriteria: in.AcceptanceCriteria,
		StakeholderImpact:  in.StakeholderImpact,
		DepartmentImpact:   in.DepartmentImpact,
		TechnologyImpact:   in.TechnologyImpact,
	}
}

type SetBriefStatusRequest struct {
	Status string `json:"status" enum:"draft,submitted,in_review,approved,rejected"`
	Force  bool   `json:"force,omitempty"`
}

type AssessRequest struct {
	// UseModel asks the configured model to score the brief; the heuristic is
	// used otherwise.
	UseModel bool               `json:"use_model,omitempty"`
	Model    *app.ModelOverride `json:"model,omitempty"`
}

type AssessDraftRequest struct {
	Brief    BriefRequest       `json:"brief"`
	UseModel bool               `json:"use_model,omitempty"`
	Model    *app.ModelOverride `json:"model,omitempty"`
}

type AssessAllRequest struct {
	Status   string             `json:"status,omitempty" enum:"draft,submitted,in_review,approved,rejected"`
	UseModel bool               `json:"use_model,omitempty"`
	Model    *app.ModelOverride `json:"model,omitempty"`
}

type GenerateRequest struct {
	ParentID    string             `json:"parent_id" minLength:"1"`
	ParentLevel string             `json:"parent_level,omitempty" enum:"brief,initiative,feature,epic"`
	MinCount    int                `json:"min_count,omitempty" minimum:"0" maximum:"50"`
	Extra       string             `json:"extra,omitempty" doc:"Additional instructions appended to the prompt"`
	Model       *app.ModelOverride `json:"model,omitempty"`
}

type ParseRequest struct {
	Raw string `json:"raw"`
}

type CreateItemRequest = engine.ItemInput

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type LevelResponse struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	Plural string `json:"plural"`
	Parent string `json:"parent,omitempty"`
	Child  string `json:"child,omitempty"`
}

type GenerateResponse struct {
	Saved        []domain.Item        `json:"saved"`
	Rejected     []generate.Rejection `json:"rejected"`
	SaveFailures []engine.SaveFailure `json:"save_failures"`
	Warnings     []string             `json:"warnings"`
	TargetLevel  string               `json:"target_level"`
	Requested    int                  `json:"requested"`
	Iterations   int                  `json:"iterations"`
	TokensUsed   int                  `json:"tokens_used"`
	ElapsedMS    int64                `json:"elapsed_ms"`
	UsedFallback bool                 `json:"used_fallback"`
	Truncated    bool                 `json:"truncated"`
}

type ParseResponse struct {
	Outcome      string           `json:"outcome" enum:"clean,wrapped,recovered,fallback"`
	Items        []parse.Record   `json:"items"`
	Fragments    []parse.Fragment `json:"fragments"`
	UsedFallback bool             `json:"used_fallback"`
}

type DeleteBriefResponse struct {
	ID       string `json:"id"`
	Orphaned int    `json:"orphaned"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

type paginatedBriefs struct {
	Items []domain.Brief `json:"items"`
}

type paginatedItems struct {
	Items []domain.Item `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type assessmentHistory struct {
	Items []repo.AssessmentSummary `json:"items"`
}

type traceResponse struct {
	Chain []engine.TraceNode `json:"chain"`
}

type batchAssessment struct {
	Items []domain.Assessment `json:"items"`
}

func generateResponse(res engine.SaveResult) GenerateResponse {
	return GenerateResponse{
		Saved:        nonNilSlice(res.Saved),
		Rejected:     nonNilSlice(res.Run.Rejected),
		SaveFailures: nonNilSlice(res.Failed),
		Warnings:     nonNilSlice(res.Warnings),
		TargetLevel:  string(res.Run.TargetLevel),
		Requested:    res.Run.Requested,
		Iterations:   res.Run.Iterations,
		TokensUsed:   res.Run.TokensUsed,
		ElapsedMS:    res.Run.Elapsed.Milliseconds(),
		UsedFallback: res.Run.UsedFallback,
		Truncated:    res.Run.Truncated,
	}
}

func parseResponse(res parse.Result) ParseResponse {
	return ParseResponse{
		Outcome:      string(res.Outcome),
		Items:        nonNilSlice(res.Items),
		Fragments:    nonNilSlice(res.Fragments),
		UsedFallback: res.UsedFallback,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func levelResponses() []LevelResponse {
	out := make([]LevelResponse, 0, len(domain.Levels))
	for _, l := range domain.Levels {
		r := LevelResponse{Name: string(l.Name), Title: l.Title, Plural: l.Plural, Parent: string(l.Parent)}
		if child, ok := l.Name.Child(); ok {
			r.Child = string(child)
		}
		out = append(out, r)
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
