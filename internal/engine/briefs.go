package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"briefline/internal/domain"
	"briefline/internal/events"
	"briefline/internal/llm"
	"briefline/internal/repo"
)

// BriefInput carries the editable fields of a brief.
type BriefInput struct {
	Title              string   `json:"title"`
	Objective          string   `json:"objective,omitempty"`
	Outcomes           string   `json:"outcomes,omitempty"`
	Scope              string   `json:"scope,omitempty"`
	RiskOfInaction     string   `json:"risk_of_inaction,omitempty"`
	HappyPath          string   `json:"happy_path,omitempty"`
	Exceptions         string   `json:"exceptions,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	StakeholderImpact  string   `json:"stakeholder_impact,omitempty"`
	DepartmentImpact   string   `json:"department_impact,omitempty"`
	TechnologyImpact   string   `json:"technology_impact,omitempty"`
	Draft              bool     `json:"draft,omitempty"`
}

func (in BriefInput) apply(b *domain.Brief) {
	b.Title = strings.TrimSpace(in.Title)
	b.Objective = strings.TrimSpace(in.Objective)
	b.Outcomes = strings.TrimSpace(in.Outcomes)
	b.Scope = strings.TrimSpace(in.Scope)
	b.RiskOfInaction = strings.TrimSpace(in.RiskOfInaction)
	b.HappyPath = strings.TrimSpace(in.HappyPath)
	b.Exceptions = strings.TrimSpace(in.Exceptions)
	b.AcceptanceCriteria = cleanList(in.AcceptanceCriteria)
	b.StakeholderImpact = strings.TrimSpace(in.StakeholderImpact)
	b.DepartmentImpact = strings.TrimSpace(in.DepartmentImpact)
	b.TechnologyImpact = strings.TrimSpace(in.TechnologyImpact)
}

func cleanList(in []string) []string {
	out := []string{}
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SubmitBrief stores a new brief as submitted, or as draft when requested.
func (e Engine) SubmitBrief(ctx context.Context, projectID string, in BriefInput, actorID string) (domain.Brief, error) {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Brief{}, errors.New("brief title is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brief{}, err
	}
	defer tx.Rollback()

	now := e.timestamp()
	b := domain.Brief{
		ID:        newID(),
		ProjectID: projectID,
		Status:    domain.BriefSubmitted,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Draft {
		b.Status = domain.BriefDraft
	}
	in.apply(&b)
	b, err = e.Repo.InsertBriefTx(ctx, tx, b)
	if err != nil {
		return domain.Brief{}, err
	}
	if err := e.Events.Append(ctx, tx, events.BriefSubmitted, projectID, "brief", b.ID, actorID, events.EventPayload{
		"display_id": b.DisplayID,
		"status":     b.Status,
	}); err != nil {
		return domain.Brief{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brief{}, err
	}
	return b, nil
}

// UpdateBrief rewrites the brief's fields. Approved briefs are frozen unless
// force is set.
func (e Engine) UpdateBrief(ctx context.Context, id string, in BriefInput, force bool, actorID string) (domain.Brief, error) {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Brief{}, errors.New("brief title is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brief{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBriefTx(ctx, tx, id)
	if err != nil {
		return domain.Brief{}, err
	}
	if b.Status == domain.BriefApproved && !force {
		return domain.Brief{}, ErrBriefLocked
	}
	in.apply(&b)
	b.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateBriefTx(ctx, tx, b); err != nil {
		return domain.Brief{}, err
	}
	if err := e.Events.Append(ctx, tx, events.BriefUpdated, b.ProjectID, "brief", b.ID, actorID, events.EventPayload{"force": force}); err != nil {
		return domain.Brief{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brief{}, err
	}
	return b, nil
}

// SetBriefStatus moves a brief through its lifecycle.
func (e Engine) SetBriefStatus(ctx context.Context, id, status string, force bool, actorID string) (domain.Brief, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brief{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBriefTx(ctx, tx, id)
	if err != nil {
		return domain.Brief{}, err
	}
	if err := ensureBriefTransition(b.Status, status, force); err != nil {
		return domain.Brief{}, err
	}
	from := b.Status
	b.Status = status
	b.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateBriefStatusTx(ctx, tx, b.ID, status, b.UpdatedAt); err != nil {
		return domain.Brief{}, err
	}
	if err := e.Events.Append(ctx, tx, events.BriefStatusChanged, b.ProjectID, "brief", b.ID, actorID, events.EventPayload{
		"from":  from,
		"to":    status,
		"force": force,
	}); err != nil {
		return domain.Brief{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brief{}, err
	}
	return b, nil
}

func ensureBriefTransition(oldStatus, newStatus string, force bool) error {
	switch newStatus {
	case domain.BriefDraft, domain.BriefSubmitted, domain.BriefInReview, domain.BriefApproved, domain.BriefRejected:
	default:
		return errors.New("invalid brief status " + newStatus)
	}
	if force {
		return nil
	}
	if oldStatus == newStatus {
		return nil
	}
	switch oldStatus {
	case domain.BriefDraft:
		if newStatus == domain.BriefSubmitted {
			return nil
		}
	case domain.BriefSubmitted:
		if newStatus == domain.BriefInReview || newStatus == domain.BriefApproved || newStatus == domain.BriefRejected {
			return nil
		}
	case domain.BriefInReview:
		if newStatus == domain.BriefApproved || newStatus == domain.BriefRejected {
			return nil
		}
	case domain.BriefRejected:
		if newStatus == domain.BriefDraft {
			return nil
		}
	case domain.BriefApproved:
		if newStatus == domain.BriefInReview {
			return nil
		}
	}
	return TransitionError{From: oldStatus, To: newStatus}
}

// DeleteBrief removes a brief and marks its Initiatives orphaned. The count
// of orphaned children is returned.
func (e Engine) DeleteBrief(ctx context.Context, id, actorID string) (int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBriefTx(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	orphaned, err := e.Repo.OrphanChildrenTx(ctx, tx, b.ID)
	if err != nil {
		return 0, err
	}
	if err := e.Repo.DeleteBriefTx(ctx, tx, b.ID); err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, events.BriefDeleted, b.ProjectID, "brief", b.ID, actorID, events.EventPayload{
		"display_id": b.DisplayID,
		"orphaned":   orphaned,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.logger().Info("brief deleted", zap.String("brief_id", b.ID), zap.Int("orphaned", orphaned))
	return orphaned, nil
}

// AssessBriefQuality grades a brief without touching storage.
func (e Engine) AssessBriefQuality(ctx context.Context, brief domain.Brief, s *llm.Settings) (domain.Assessment, error) {
	return e.Assessor.Assess(ctx, brief, s)
}

// AssessBrief grades a stored brief, records the assessment, and routes a
// submitted brief to approval or review.
func (e Engine) AssessBrief(ctx context.Context, id string, s *llm.Settings, actorID string) (domain.Assessment, error) {
	b, err := e.Repo.GetBrief(ctx, id)
	if err != nil {
		return domain.Assessment{}, err
	}
	a, err := e.Assessor.Assess(ctx, b, s)
	if err != nil {
		return domain.Assessment{}, err
	}
	if err := e.recordAssessment(ctx, b, a, actorID); err != nil {
		return domain.Assessment{}, err
	}
	return a, nil
}

// AssessBriefs grades every brief of a project with bounded parallelism and
// records each result.
func (e Engine) AssessBriefs(ctx context.Context, projectID, status string, s *llm.Settings, actorID string) ([]domain.Assessment, error) {
	briefs, err := e.Repo.ListBriefs(ctx, repo.BriefFilters{ProjectID: projectID, Status: status})
	if err != nil {
		return nil, err
	}
	limit := 0
	if e.Config != nil {
		limit = e.Config.Quality.MaxParallel
	}
	results, err := e.Assessor.AssessAll(ctx, briefs, s, limit)
	if err != nil {
		return nil, err
	}
	for i, a := range results {
		if err := e.recordAssessment(ctx, briefs[i], a, actorID); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (e Engine) recordAssessment(ctx context.Context, b domain.Brief, a domain.Assessment, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAssessmentTx(ctx, tx, b.ProjectID, a); err != nil {
		return err
	}
	payload := events.EventPayload{
		"overall_grade":     a.OverallGrade,
		"overall_score":     a.OverallScore,
		"approval_required": a.ApprovalRequired,
		"mode":              a.Mode,
	}
	if b.Status == domain.BriefSubmitted {
		next := domain.BriefApproved
		if a.ApprovalRequired {
			next = domain.BriefInReview
		}
		if err := e.Repo.UpdateBriefStatusTx(ctx, tx, b.ID, next, e.timestamp()); err != nil {
			return err
		}
		payload["status"] = next
	}
	if err := e.Events.Append(ctx, tx, events.BriefAssessed, b.ProjectID, "brief", b.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
