package quality

import (
	"regexp"
	"sort"
	"strings"
)

var (
	quantifiable = regexp.MustCompile(`(?i)\d|%|\$|€|£|\b(hours?|days?|weeks?|months?|quarters?|years?|minutes?|q[1-4])\b`)
	measurable   = regexp.MustCompile(`(?i)\b(reduce[sd]?|increase[sd]?|deliver(s|ed)?|enable[sd]?|achieve[sd]?|launch(es|ed)?|decrease[sd]?|complete[sd]?|measure[sd]?|automate[sd]?|eliminate[sd]?|cut|grow|migrate[sd]?|replace[sd]?|shorten(s|ed)?|lower(s|ed)?|raise[sd]?)\b`)
	vagueWords   = []string{"tbd", "etc", "various", "better", "stuff", "things", "asap", "somehow", "n/a", "maybe"}
)

// signals records what the scorer found in one field.
type signals struct {
	words        int
	quantifiable bool
	measurable   bool
	structured   bool
	vague        []string
}

func inspect(text string) signals {
	var s signals
	s.words = len(strings.Fields(text))
	s.quantifiable = quantifiable.MatchString(text)
	s.measurable = measurable.MatchString(text)
	s.structured = sentenceCount(text) >= 2
	lower := strings.ToLower(text)
	tokens := map[string]bool{}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == ',' || r == '.' || r == ';' || r == '(' || r == ')'
	}) {
		tokens[w] = true
	}
	for _, v := range vagueWords {
		if tokens[v] {
			s.vague = append(s.vague, v)
		}
	}
	sort.Strings(s.vague)
	return s
}

func sentenceCount(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
			n++
			continue
		}
		parts := strings.FieldsFunc(line, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
		for _, p := range parts {
			if len(strings.Fields(p)) >= 3 {
				n++
			}
		}
	}
	return n
}

// heuristicScore is a deterministic 0..10 score for one field.
func heuristicScore(text string) (int, signals) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, signals{}
	}
	s := inspect(text)
	score := 2
	switch {
	case s.words >= 18:
		score = 5
	case s.words >= 10:
		score = 4
	case s.words >= 4:
		score = 3
	}
	if s.quantifiable {
		score += 2
	}
	if s.measurable {
		score++
	}
	if s.structured {
		score++
	}
	if s.words >= 10 && s.quantifiable && s.measurable {
		score++
	}
	penalty := 2 * len(s.vague)
	if penalty > 4 {
		penalty = 4
	}
	score -= penalty
	return clamp(score), s
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

func heuristicSuggestions(label string, s signals) []string {
	if s.words == 0 {
		return []string{"Describe the " + strings.ToLower(label) + "."}
	}
	var out []string
	if s.words < 10 {
		out = append(out, "Expand with who is affected, what changes and by when.")
	}
	if !s.quantifiable {
		out = append(out, "Add a measurable target such as a number, percentage or date.")
	}
	if !s.measurable {
		out = append(out, "State the concrete change to deliver.")
	}
	if len(s.vague) > 0 {
		out = append(out, "Replace vague wording: "+strings.Join(s.vague, ", ")+".")
	}
	return out
}
