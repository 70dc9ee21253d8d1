package parse

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"briefline/internal/domain"
)

// Record is one item extracted from model output, before identity and parent
// are assigned.
type Record struct {
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Rationale          string         `json:"rationale,omitempty"`
	BusinessValue      string         `json:"businessValue,omitempty"`
	AcceptanceCriteria []string       `json:"acceptanceCriteria,omitempty"`
	Priority           string         `json:"priority,omitempty"`
	Category           string         `json:"category,omitempty"`
	ParentID           string         `json:"parentId,omitempty"`
	Extras             map[string]any `json:"extras,omitempty"`
}

// MarshalJSON flattens Extras next to the known fields, which is the shape
// models are asked to produce.
func (r Record) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range r.Extras {
		out[k] = v
	}
	out["title"] = r.Title
	out["description"] = r.Description
	setIf(out, "rationale", r.Rationale)
	setIf(out, "businessValue", r.BusinessValue)
	setIf(out, "priority", r.Priority)
	setIf(out, "category", r.Category)
	setIf(out, "parentId", r.ParentID)
	if len(r.AcceptanceCriteria) > 0 {
		out["acceptanceCriteria"] = r.AcceptanceCriteria
	}
	return json.Marshal(out)
}

func setIf(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

// Item converts the record into a normalized domain item.
func (r Record) Item() domain.Item {
	return domain.NormalizeItem(domain.Item{
		Title:              r.Title,
		Description:        r.Description,
		Rationale:          r.Rationale,
		BusinessValue:      r.BusinessValue,
		AcceptanceCriteria: append([]string(nil), r.AcceptanceCriteria...),
		Priority:           r.Priority,
		Category:           r.Category,
		Extras:             r.Extras,
	})
}

type fieldKind int

const (
	fieldTitle fieldKind = iota + 1
	fieldDescription
	fieldRationale
	fieldBusinessValue
	fieldCriteria
	fieldPriority
	fieldCategory
	fieldParent
)

// aliases maps folded keys (lower case, no separators) onto known fields.
var aliases = map[string]fieldKind{
	"title":              fieldTitle,
	"name":               fieldTitle,
	"heading":            fieldTitle,
	"description":        fieldDescription,
	"desc":               fieldDescription,
	"summary":            fieldDescription,
	"details":            fieldDescription,
	"rationale":          fieldRationale,
	"justification":      fieldRationale,
	"businessvalue":      fieldBusinessValue,
	"value":              fieldBusinessValue,
	"acceptancecriteria": fieldCriteria,
	"criteria":           fieldCriteria,
	"priority":           fieldPriority,
	"category":           fieldCategory,
	"type":               fieldCategory,
	"parentid":           fieldParent,
	"parent":             fieldParent,
}

func foldKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

// decodeRecord reads known fields leniently; everything else lands in Extras.
// When two keys alias the same field the first in sorted key order wins.
func decodeRecord(obj map[string]any) Record {
	var r Record
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := obj[k]
		switch aliases[foldKey(k)] {
		case fieldTitle:
			setOnce(&r.Title, scalar(v))
		case fieldDescription:
			setOnce(&r.Description, scalar(v))
		case fieldRationale:
			setOnce(&r.Rationale, scalar(v))
		case fieldBusinessValue:
			setOnce(&r.BusinessValue, scalar(v))
		case fieldPriority:
			setOnce(&r.Priority, scalar(v))
		case fieldCategory:
			setOnce(&r.Category, scalar(v))
		case fieldParent:
			setOnce(&r.ParentID, scalar(v))
		case fieldCriteria:
			if r.AcceptanceCriteria == nil {
				r.AcceptanceCriteria = stringList(v)
			}
		default:
			if r.Extras == nil {
				r.Extras = map[string]any{}
			}
			r.Extras[k] = v
		}
	}
	return r
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64, bool, json.Number:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func stringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, el := range t {
			if s := scalar(el); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, line := range strings.Split(t, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
			if line != "" {
				out = append(out, line)
			}
		}
	default:
		if s := scalar(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}
