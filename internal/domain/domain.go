package domain

import "strings"

type Project struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Brief is the business intent document that seeds decomposition.
type Brief struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	DisplayID          string   `json:"display_id"`
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
	Status             string   `json:"status" enum:"draft,submitted,in_review,approved,rejected"`
	CreatedBy          string   `json:"created_by,omitempty"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

// ChangeImpact joins the department and technology impact statements.
func (b Brief) ChangeImpact() string {
	var parts []string
	for _, s := range []string{b.DepartmentImpact, b.TechnologyImpact} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

const (
	BriefDraft     = "draft"
	BriefSubmitted = "submitted"
	BriefInReview  = "in_review"
	BriefApproved  = "approved"
	BriefRejected  = "rejected"
)

const (
	ItemDraft    = "draft"
	ItemAccepted = "accepted"
	ItemOrphaned = "orphaned"
)

const (
	SourceGenerated = "generated"
	SourceManual    = "manual"
)

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Item is the shape shared by Initiatives, Features, Epics and Stories.
type Item struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"project_id"`
	Level              Level          `json:"level" enum:"initiative,feature,epic,story"`
	ParentID           string         `json:"parent_id"`
	ParentLevel        Level          `json:"parent_level" enum:"brief,initiative,feature,epic"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Rationale          string         `json:"rationale,omitempty"`
	BusinessValue      string         `json:"business_value,omitempty"`
	AcceptanceCriteria []string       `json:"acceptance_criteria"`
	Priority           string         `json:"priority" enum:"low,medium,high,critical"`
	Category           string         `json:"category,omitempty"`
	Status             string         `json:"status" enum:"draft,accepted,orphaned"`
	Source             string         `json:"source" enum:"generated,manual"`
	Extras             map[string]any `json:"extras,omitempty"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
}

// NormalizeItem makes rationale the canonical field, fills the business value
// alias, and defaults priority and status.
func NormalizeItem(it Item) Item {
	it.Title = strings.TrimSpace(it.Title)
	it.Description = strings.TrimSpace(it.Description)
	rationale := strings.TrimSpace(it.Rationale)
	if rationale == "" {
		rationale = strings.TrimSpace(it.BusinessValue)
	}
	it.Rationale = rationale
	it.BusinessValue = rationale
	it.Priority = NormalizePriority(it.Priority)
	if it.Status == "" {
		it.Status = ItemDraft
	}
	if it.AcceptanceCriteria == nil {
		it.AcceptanceCriteria = []string{}
	}
	return it
}

// NormalizePriority maps free-form priority labels onto the four known values.
func NormalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "low", "p3", "minor":
		return PriorityLow
	case "high", "p1", "major":
		return PriorityHigh
	case "critical", "p0", "urgent", "blocker":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

const (
	GradeGreen = "green"
	GradeAmber = "amber"
	GradeRed   = "red"
)

const (
	ModeModel        = "model"
	ModeMock         = "mock"
	ModeMockFallback = "mock-fallback"
)

type FieldAssessment struct {
	Field       string   `json:"field"`
	Critical    bool     `json:"critical"`
	Score       int      `json:"score" minimum:"0" maximum:"10"`
	Grade       string   `json:"grade" enum:"green,amber,red"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions"`
}

type Improvements struct {
	Critical  []string `json:"critical"`
	Important []string `json:"important"`
	Suggested []string `json:"suggested"`
}

// Assessment is an immutable quality verdict on one brief.
type Assessment struct {
	BriefID          string            `json:"brief_id,omitempty"`
	OverallScore     float64           `json:"overall_score"`
	OverallGrade     string            `json:"overall_grade" enum:"green,amber,red"`
	Fields           []FieldAssessment `json:"fields"`
	Improvements     Improvements      `json:"improvements"`
	ApprovalRequired bool              `json:"approval_required"`
	Summary          string            `json:"summary"`
	Mode             string            `json:"assessment_mode" enum:"model,mock,mock-fallback"`
	AssessedAt       string            `json:"assessed_at,omitempty" format:"date-time"`
}

// Field returns the named field assessment.
func (a Assessment) Field(name string) (FieldAssessment, bool) {
	for _, f := range a.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return FieldAssessment{}, false
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
