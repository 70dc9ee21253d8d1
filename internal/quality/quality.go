// Package quality grades business briefs field by field.
//
// Scores come either from a model or from a local heuristic, but grades,
// the overall verdict and the improvement buckets are always computed here
// so the same rules hold in every mode.
package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"briefline/internal/domain"
	"briefline/internal/llm"
	"briefline/internal/prompt"
)

const (
	DefaultGreenMin = 8
	DefaultAmberMin = 5
)

// Field keys.
const (
	FieldTitle              = "title"
	FieldObjective          = "objective"
	FieldOutcomes           = "outcomes"
	FieldScope              = "scope"
	FieldRiskOfInaction     = "risk_of_inaction"
	FieldHappyPath          = "happy_path"
	FieldExceptions         = "exceptions"
	FieldAcceptanceCriteria = "acceptance_criteria"
	FieldStakeholderImpact  = "stakeholder_impact"
	FieldChangeImpact       = "change_impact"
)

type fieldDef struct {
	key      string
	label    string
	critical bool
	value    func(domain.Brief) string
}

// fields is the assessment order. Critical fields come first.
var fields = []fieldDef{
	{FieldObjective, "Objective", true, func(b domain.Brief) string { return b.Objective }},
	{FieldOutcomes, "Outcomes", true, func(b domain.Brief) string { return b.Outcomes }},
	{FieldStakeholderImpact, "Stakeholder impact", true, func(b domain.Brief) string { return b.StakeholderImpact }},
	{FieldChangeImpact, "Change impact", true, func(b domain.Brief) string { return b.ChangeImpact() }},
	{FieldTitle, "Title", false, func(b domain.Brief) string { return b.Title }},
	{FieldScope, "Scope", false, func(b domain.Brief) string { return b.Scope }},
	{FieldRiskOfInaction, "Risk of inaction", false, func(b domain.Brief) string { return b.RiskOfInaction }},
	{FieldHappyPath, "Happy path", false, func(b domain.Brief) string { return b.HappyPath }},
	{FieldExceptions, "Exceptions", false, func(b domain.Brief) string { return b.Exceptions }},
	{FieldAcceptanceCriteria, "Acceptance criteria", false, func(b domain.Brief) string {
		var lines []string
		for _, c := range b.AcceptanceCriteria {
			if c = strings.TrimSpace(c); c != "" {
				lines = append(lines, "- "+c)
			}
		}
		return strings.Join(lines, "\n")
	}},
}

// CriticalFields lists the keys whose grade caps the overall grade.
func CriticalFields() []string {
	var out []string
	for _, f := range fields {
		if f.critical {
			out = append(out, f.key)
		}
	}
	return out
}

type Assessor struct {
	Gateway  llm.Gateway
	GreenMin int
	AmberMin int
	Now      func() time.Time
	Logger   *zap.Logger
}

func New(gw llm.Gateway, logger *zap.Logger) *Assessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assessor{Gateway: gw, GreenMin: DefaultGreenMin, AmberMin: DefaultAmberMin, Logger: logger}
}

// Grade maps a score onto green, amber or red.
func (a *Assessor) Grade(score float64) string {
	green, amber := a.thresholds()
	switch {
	case score >= float64(green):
		return domain.GradeGreen
	case score >= float64(amber):
		return domain.GradeAmber
	default:
		return domain.GradeRed
	}
}

// Assess grades brief. With nil settings the heuristic is used; with settings
// the model scores the fields and any model failure falls back to the
// heuristic. Invalid settings are returned as *llm.ConfigError.
func (a *Assessor) Assess(ctx context.Context, brief domain.Brief, s *llm.Settings) (domain.Assessment, error) {
	scored := heuristicFields(brief)
	mode := domain.ModeMock
	var fallbackReason, modelSummary string

	if s != nil {
		if err := s.Validate(); err != nil {
			return domain.Assessment{}, err
		}
		modelScores, summary, err := a.modelScores(ctx, brief, *s)
		switch {
		case err == nil:
			mode = domain.ModeModel
			modelSummary = summary
			for i := range scored {
				if ms, ok := modelScores[scored[i].Field]; ok && !scored[i].empty {
					scored[i].Score = ms.Score.points()
					if strings.TrimSpace(ms.Feedback) != "" {
						scored[i].Feedback = strings.TrimSpace(ms.Feedback)
					}
					if ms.Suggestions != nil {
						scored[i].Suggestions = ms.Suggestions
					}
				}
			}
		case ctx.Err() != nil:
			return domain.Assessment{}, ctx.Err()
		default:
			mode = domain.ModeMockFallback
			fallbackReason = llm.Redact(err.Error(), s.APIKey)
			a.logger().Warn("model assessment failed, using heuristic", zap.String("brief_id", brief.ID), zap.Error(err))
		}
	}

	out := a.finish(brief, scored)
	out.Mode = mode
	switch mode {
	case domain.ModeModel:
		if modelSummary != "" {
			out.Summary = modelSummary + " " + out.Summary
		}
	case domain.ModeMockFallback:
		out.Summary = fmt.Sprintf("Model assessment unavailable (%s); heuristic scores shown. %s", fallbackReason, out.Summary)
	}
	return out, nil
}

// AssessAll grades briefs concurrently with at most limit in flight. Results
// keep the input order.
func (a *Assessor) AssessAll(ctx context.Context, briefs []domain.Brief, s *llm.Settings, limit int) ([]domain.Assessment, error) {
	out := make([]domain.Assessment, len(briefs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range briefs {
		g.Go(func() error {
			res, err := a.Assess(gctx, briefs[i], s)
			if err != nil {
				return fmt.Errorf("assess %s: %w", briefs[i].ID, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type scoredField struct {
	domain.FieldAssessment
	label string
	empty bool
}

func heuristicFields(brief domain.Brief) []scoredField {
	out := make([]scoredField, 0, len(fields))
	for _, f := range fields {
		text := f.value(brief)
		score, sig := heuristicScore(text)
		out = append(out, scoredField{
			FieldAssessment: domain.FieldAssessment{
				Field:       f.key,
				Critical:    f.critical,
				Score:       score,
				Suggestions: heuristicSuggestions(f.label, sig),
			},
			label: f.label,
			empty: strings.TrimSpace(text) == "",
		})
	}
	return out
}

func feedbackFor(label, grade string, empty bool) string {
	switch {
	case empty:
		return label + " is missing."
	case grade == domain.GradeGreen:
		return label + " is specific and measurable."
	case grade == domain.GradeAmber:
		return label + " needs more measurable detail."
	default:
		return label + " is too thin to act on."
	}
}

// finish grades scored fields and derives the overall verdict.
func (a *Assessor) finish(brief domain.Brief, scored []scoredField) domain.Assessment {
	out := domain.Assessment{
		BriefID:    brief.ID,
		Fields:     make([]domain.FieldAssessment, 0, len(scored)),
		AssessedAt: a.now().UTC().Format(time.RFC3339),
		Improvements: domain.Improvements{
			Critical:  []string{},
			Important: []string{},
			Suggested: []string{},
		},
	}
	var weighted, weights float64
	worstCritical := domain.GradeGreen
	for _, sf := range scored {
		fa := sf.FieldAssessment
		if fa.Suggestions == nil {
			fa.Suggestions = []string{}
		}
		fa.Grade = a.Grade(float64(fa.Score))
		if fa.Feedback == "" {
			fa.Feedback = feedbackFor(sf.label, fa.Grade, sf.empty)
		}
		w := 1.0
		if fa.Critical {
			w = 2
			worstCritical = worse(worstCritical, fa.Grade)
		}
		weighted += w * float64(fa.Score)
		weights += w

		switch {
		case fa.Critical && fa.Grade == domain.GradeRed:
			out.Improvements.Critical = append(out.Improvements.Critical, sf.label+": "+fa.Feedback)
		case fa.Grade == domain.GradeAmber:
			out.Improvements.Important = append(out.Improvements.Important, sf.label+": "+fa.Feedback)
		case fa.Grade == domain.GradeRed:
			out.Improvements.Suggested = append(out.Improvements.Suggested, sf.label+": "+fa.Feedback)
		default:
			for _, s := range fa.Suggestions {
				out.Improvements.Suggested = append(out.Improvements.Suggested, sf.label+": "+s)
			}
		}
		out.Fields = append(out.Fields, fa)
	}
	if weights > 0 {
		out.OverallScore = math.Round(weighted/weights*10) / 10
	}
	out.OverallGrade = worse(a.Grade(out.OverallScore), worstCritical)
	out.ApprovalRequired = out.OverallGrade != domain.GradeGreen
	out.Summary = fmt.Sprintf("Overall %s (%.1f/10): %d critical, %d important, %d suggested improvements.",
		out.OverallGrade, out.OverallScore,
		len(out.Improvements.Critical), len(out.Improvements.Important), len(out.Improvements.Suggested))
	return out
}

var gradeRank = map[string]int{domain.GradeGreen: 0, domain.GradeAmber: 1, domain.GradeRed: 2}

func worse(a, b string) string {
	if gradeRank[b] > gradeRank[a] {
		return b
	}
	return a
}

type modelField struct {
	Score       modelScore `json:"score"`
	Feedback    string     `json:"feedback"`
	Suggestions []string   `json:"suggestions"`
}

// modelScore accepts integer, fractional and quoted scores.
type modelScore float64

func (m *modelScore) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*m = modelScore(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("score must be a number, got %s", data)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "/10")), 64)
	if err != nil {
		return fmt.Errorf("score must be a number, got %q", s)
	}
	*m = modelScore(f)
	return nil
}

func (m modelScore) points() int {
	return clamp(int(math.Round(float64(m))))
}

type modelReply struct {
	Fields  map[string]modelField `json:"fields"`
	Summary string                `json:"summary"`
}

func (a *Assessor) modelScores(ctx context.Context, brief domain.Brief, s llm.Settings) (map[string]modelField, string, error) {
	if a.Gateway == nil {
		return nil, "", errors.New("no model gateway configured")
	}
	input := make([]prompt.BriefField, 0, len(fields))
	for _, f := range fields {
		input = append(input, prompt.BriefField{Key: f.key, Label: f.label, Value: f.value(brief), Critical: f.critical})
	}
	p := prompt.Assessment(brief.Title, input)
	completion, err := a.Gateway.Complete(ctx, p.System, p.User, s)
	if err != nil {
		return nil, "", err
	}
	reply, err := decodeReply(completion.Text)
	if err != nil {
		return nil, "", err
	}
	if len(reply.Fields) == 0 {
		return nil, "", errors.New("model reply contained no field scores")
	}
	return reply.Fields, strings.TrimSpace(reply.Summary), nil
}

// decodeReply accepts a bare object or one surrounded by prose or fences.
func decodeReply(text string) (modelReply, error) {
	var reply modelReply
	text = strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(text), &reply); err == nil {
		return reply, nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return modelReply{}, errors.New("model reply is not JSON")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return modelReply{}, fmt.Errorf("decode model reply: %w", err)
	}
	return reply, nil
}

func (a *Assessor) thresholds() (int, int) {
	green, amber := a.GreenMin, a.AmberMin
	if green <= 0 {
		green = DefaultGreenMin
	}
	if amber <= 0 || amber > green {
		amber = DefaultAmberMin
	}
	return green, amber
}

func (a *Assessor) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Assessor) logger() *zap.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return zap.NewNop()
}
