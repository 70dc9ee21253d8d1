// Package parse turns free-form model output into item records.
//
// Parse never fails: when nothing structured can be found the whole text
// becomes a single fallback record so callers always have something to
// inspect. JSON that holds no usable record yields no items, only fragments.
package parse

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"
)

// Outcome tags how the items were obtained.
type Outcome string

const (
	Clean     Outcome = "clean"
	Wrapped   Outcome = "wrapped"
	Recovered Outcome = "recovered"
	Fallback  Outcome = "fallback"
)

// Fragment is a piece of the output that could not become a record.
type Fragment struct {
	Index  int    `json:"index"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Result is the parser's verdict on one model reply.
type Result struct {
	Outcome      Outcome    `json:"outcome"`
	Items        []Record   `json:"items"`
	Fragments    []Fragment `json:"fragments,omitempty"`
	UsedFallback bool       `json:"used_fallback"`
}

const (
	maxDepth        = 3
	maxFallbackName = 80
	untitled        = "Untitled item"
)

// Parse extracts records from raw model output.
func Parse(raw string) Result {
	text := strings.TrimSpace(raw)
	res, ok, decoded := structured(text, 0)
	if ok {
		return res
	}
	if decoded {
		return emptyStructured(text, res.Fragments)
	}
	return fallback(text)
}

// structured reports the first decoding that yields records. When none does,
// decoded tells whether the reply was JSON anyway (the whole text, a fenced
// block or an array candidate) and the returned Result carries the fragments
// collected from it.
func structured(text string, depth int) (Result, bool, bool) {
	if depth > maxDepth || text == "" {
		return Result{}, false, false
	}
	var diag Result
	decoded := false
	if v, isJSON := decode(text); isJSON {
		decoded = true
		r, ok := fromValue(v, Clean, depth)
		if ok {
			return r, true, true
		}
		diag = r
	}
	blocks := fencedBlocks(text)
	var candidates []string
	for _, block := range blocks {
		candidates = append(candidates, block)
		candidates = append(candidates, findCandidates(block)...)
	}
	candidates = append(candidates, findCandidates(text)...)
	for _, c := range candidates {
		v, isJSON := decode(c)
		if !isJSON {
			continue
		}
		r, ok := fromValue(v, Wrapped, depth)
		if ok {
			return r, true, true
		}
		if arr, isArray := v.([]any); (isArray && hasObject(arr)) || isBlock(c, blocks) {
			decoded = true
			if len(diag.Fragments) == 0 {
				diag = r
			}
		}
	}
	return diag, false, decoded
}

func hasObject(arr []any) bool {
	for _, el := range arr {
		if _, ok := el.(map[string]any); ok {
			return true
		}
	}
	return false
}

func isBlock(c string, blocks []string) bool {
	for _, b := range blocks {
		if c == b {
			return true
		}
	}
	return false
}

func decode(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '[' && s[0] != '{') {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

func fromValue(v any, outcome Outcome, depth int) (Result, bool) {
	switch t := v.(type) {
	case []any:
		return fromArray(t, outcome, depth)
	case map[string]any:
		if rec := decodeRecord(t); rec.Title != "" && rec.Description != "" {
			if res, ok := recoverFrom(t, depth); ok {
				return res, true
			}
			return Result{Outcome: Wrapped, Items: []Record{rec}}, true
		}
		if arr := hoist(t); arr != nil {
			return fromArray(arr, Wrapped, depth)
		}
		if res, ok := recoverFrom(t, depth); ok {
			return res, true
		}
		return Result{Outcome: outcome, Fragments: []Fragment{{Raw: rawOf(t), Reason: "missing title or description"}}}, false
	}
	return Result{}, false
}

func fromArray(arr []any, outcome Outcome, depth int) (Result, bool) {
	res := Result{Outcome: outcome}
	for i, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			res.Fragments = append(res.Fragments, Fragment{Index: i, Raw: rawOf(el), Reason: "not an object"})
			continue
		}
		if sub, ok := recoverFrom(obj, depth); ok {
			res.Items = append(res.Items, sub.Items...)
			res.Fragments = append(res.Fragments, sub.Fragments...)
			res.Outcome = Recovered
			continue
		}
		rec := decodeRecord(obj)
		if rec.Title == "" || rec.Description == "" {
			res.Fragments = append(res.Fragments, Fragment{Index: i, Raw: rawOf(el), Reason: "missing title or description"})
			continue
		}
		res.Items = append(res.Items, rec)
	}
	return res, len(res.Items) > 0
}

// recoverFrom looks for several items serialised inside one string field.
func recoverFrom(obj map[string]any, depth int) (Result, bool) {
	keys := sortedKeys(obj)
	for _, k := range keys {
		s, ok := obj[k].(string)
		if !ok || !strings.ContainsAny(s, "[{") {
			continue
		}
		sub, ok, _ := structured(s, depth+1)
		if !ok || len(sub.Items) < 2 {
			continue
		}
		sub.Outcome = Recovered
		return sub, true
	}
	return Result{}, false
}

// hoist finds the first array of objects nested under obj, breadth first.
func hoist(obj map[string]any) []any {
	queue := []map[string]any{obj}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, k := range sortedKeys(cur) {
			switch t := cur[k].(type) {
			case []any:
				for _, el := range t {
					if _, ok := el.(map[string]any); ok {
						return t
					}
				}
			case map[string]any:
				queue = append(queue, t)
			}
		}
	}
	return nil
}

// emptyStructured is the fallback for JSON replies without a usable record:
// the JSON text itself never becomes an item.
func emptyStructured(text string, fragments []Fragment) Result {
	if len(fragments) == 0 {
		fragments = []Fragment{{Raw: text, Reason: "no items in structured output"}}
	}
	return Result{Outcome: Fallback, UsedFallback: true, Fragments: fragments}
}

func fallback(text string) Result {
	body := strings.TrimSpace(stripFences(text))
	if body == "" {
		return Result{Outcome: Fallback, UsedFallback: true, Fragments: []Fragment{{Raw: text, Reason: "empty response"}}}
	}
	return Result{
		Outcome:      Fallback,
		UsedFallback: true,
		Items:        []Record{{Title: fallbackTitle(body), Description: body}},
	}
}

func fallbackTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#*-"))
		line = strings.TrimSpace(strings.TrimRight(line, ":*"))
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxFallbackName {
			line = string([]rune(line)[:maxFallbackName])
		}
		return line
	}
	return untitled
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func rawOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
