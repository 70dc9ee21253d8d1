package prompt

import (
	"fmt"
	"strings"
)

// BriefField is one brief field offered for scoring.
type BriefField struct {
	Key      string
	Label    string
	Value    string
	Critical bool
}

// Assessment renders a brief quality review request. The model is asked for
// per-field scores only; grading happens locally.
func Assessment(title string, fields []BriefField) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the business brief %q for completeness and specificity.\n\n", strings.TrimSpace(title))
	for _, f := range fields {
		marker := ""
		if f.Critical {
			marker = " (critical)"
		}
		v := strings.TrimSpace(f.Value)
		if v == "" {
			v = "(empty)"
		}
		fmt.Fprintf(&b, "### %s [%s]%s\n%s\n\n", f.Label, f.Key, marker, v)
	}
	b.WriteString("Score every field with a whole number from 0 to 10. Empty fields score 0. ")
	b.WriteString("Reward measurable, specific statements; penalise vague language.\n\n")
	b.WriteString("Respond with a JSON object: {\"fields\": {\"<key>\": {\"score\": <integer 0-10>, \"feedback\": \"...\", \"suggestions\": [\"...\"]}}, \"summary\": \"...\"}.\n")
	b.WriteString("Use exactly these keys: ")
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	b.WriteString(strings.Join(keys, ", "))
	b.WriteString(".\n")
	return Prompt{
		System: "You are a meticulous business analyst grading business briefs. You respond only with JSON.",
		User:   b.String(),
	}
}
