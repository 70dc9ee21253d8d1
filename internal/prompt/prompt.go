// Package prompt renders generation and assessment requests into model
// instructions. Every function here is pure: identical input yields a
// byte-identical prompt.
package prompt

import (
	"fmt"
	"strings"

	"briefline/internal/domain"
)

// Prompt is a system/user instruction pair.
type Prompt struct {
	System string
	User   string
}

// Field is one labelled piece of source context.
type Field struct {
	Label string
	Value string
}

// Source is the entity being decomposed.
type Source struct {
	Level  domain.Level
	Title  string
	Fields []Field
}

// FromBrief lists brief fields in a fixed order.
func FromBrief(b domain.Brief) Source {
	return Source{
		Level: domain.LevelBrief,
		Title: b.Title,
		Fields: []Field{
			{"Objective", b.Objective},
			{"Outcomes", b.Outcomes},
			{"Scope", b.Scope},
			{"Risk of inaction", b.RiskOfInaction},
			{"Happy path", b.HappyPath},
			{"Exceptions", b.Exceptions},
			{"Acceptance criteria", bulletList(b.AcceptanceCriteria)},
			{"Stakeholder impact", b.StakeholderImpact},
			{"Department impact", b.DepartmentImpact},
			{"Technology impact", b.TechnologyImpact},
		},
	}
}

// FromItem lists parent item fields in a fixed order.
func FromItem(it domain.Item) Source {
	return Source{
		Level: it.Level,
		Title: it.Title,
		Fields: []Field{
			{"Description", it.Description},
			{"Rationale", it.Rationale},
			{"Acceptance criteria", bulletList(it.AcceptanceCriteria)},
			{"Priority", it.Priority},
			{"Category", it.Category},
		},
	}
}

// Request describes one level-to-level generation.
type Request struct {
	Source   Source
	Target   domain.Level
	MinCount int
	Extra    string
}

var baseFields = []string{
	"title",
	"description",
	"rationale",
	"businessValue",
	"acceptanceCriteria (array of strings)",
	"priority (one of low, medium, high, critical)",
	"category",
}

// levelExtras are the level-specific fields requested from the model.
var levelExtras = map[domain.Level][]string{
	domain.LevelInitiative: {"timeline"},
	domain.LevelFeature:    {"effortEstimate"},
	domain.LevelEpic:       {"sprintEstimate"},
	domain.LevelStory:      {"storyPoints"},
}

// RequiredFields returns the output fields for a target level.
func RequiredFields(target domain.Level) []string {
	out := append([]string{}, baseFields...)
	return append(out, levelExtras[target]...)
}

// Build renders a generation request.
func Build(req Request) (Prompt, error) {
	target, ok := req.Target.Spec()
	if !ok {
		return Prompt{}, fmt.Errorf("unknown target level %q", req.Target)
	}
	if target.Parent != req.Source.Level {
		return Prompt{}, fmt.Errorf("cannot generate %s from %s", target.Plural, req.Source.Level.Title())
	}
	plural := strings.ToLower(target.Plural)
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %s for the following %s.\n\n", target.Plural, req.Source.Level.Title())
	fmt.Fprintf(&b, "## %s: %s\n", req.Source.Level.Title(), strings.TrimSpace(req.Source.Title))
	for _, f := range req.Source.Fields {
		v := strings.TrimSpace(f.Value)
		if v == "" {
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n", f.Label, v)
	}
	b.WriteString("\n## Requirements\n")
	if req.MinCount > 0 {
		fmt.Fprintf(&b, "- Produce at least %d distinct %s.\n", req.MinCount, plural)
	}
	fmt.Fprintf(&b, "- Every %s must trace directly to the %s above.\n", strings.ToLower(target.Title), strings.ToLower(req.Source.Level.Title()))
	b.WriteString("- Titles must be unique and specific.\n")
	b.WriteString("- Acceptance criteria must be testable statements.\n")
	if extra := strings.TrimSpace(req.Extra); extra != "" {
		b.WriteString("\n## Additional requirements\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(outputContract(req.Target))

	system := fmt.Sprintf("You are a product planning assistant. You decompose a %s into %s. You respond only with JSON.",
		strings.ToLower(req.Source.Level.Title()), plural)
	return Prompt{System: system, User: b.String()}, nil
}

// FollowUp asks for more items after an iteration fell short.
func FollowUp(base Prompt, need int, titles []string) Prompt {
	var b strings.Builder
	b.WriteString(base.User)
	b.WriteString("\n\n## Follow-up\n")
	fmt.Fprintf(&b, "Produce %d more distinct items", need)
	if len(titles) > 0 {
		b.WriteString(", avoiding duplicates of: ")
		b.WriteString(strings.Join(titles, "; "))
	}
	b.WriteString(".\n")
	return Prompt{System: base.System, User: b.String()}
}

func outputContract(target domain.Level) string {
	return "Respond with a JSON array of objects having fields: " +
		strings.Join(RequiredFields(target), ", ") +
		".\nDo not wrap the array in prose or code fences.\n"
}

func bulletList(items []string) string {
	var lines []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			lines = append(lines, "- "+it)
		}
	}
	return strings.Join(lines, "\n")
}
