// Package guard rejects generated items that would break the hierarchy.
package guard

import (
	"strings"
	"unicode"
)

type Reason string

const (
	MissingField   Reason = "missing-field"
	ParentMismatch Reason = "parent-mismatch"
	Duplicate      Reason = "duplicate"
)

// Candidate is an item about to be accepted under ParentID.
type Candidate struct {
	Title       string
	Description string
	// DeclaredParent is the parent the model claimed, if any.
	DeclaredParent string
}

// Guard holds the state of one run. It is not safe for concurrent use.
type Guard struct {
	ParentID     string
	ParentExists bool
	seen         map[string]struct{}
}

// New returns a guard seeded with the titles of persisted siblings.
func New(parentID string, parentExists bool, existing []string) *Guard {
	g := &Guard{ParentID: parentID, ParentExists: parentExists, seen: map[string]struct{}{}}
	for _, t := range existing {
		if key := NormalizeTitle(t); key != "" {
			g.seen[key] = struct{}{}
		}
	}
	return g
}

// Check reports why c must be rejected. Accepted titles are remembered so
// later candidates in the same run are checked against them.
func (g *Guard) Check(c Candidate) (Reason, bool) {
	if strings.TrimSpace(c.Title) == "" || strings.TrimSpace(c.Description) == "" {
		return MissingField, false
	}
	declared := strings.TrimSpace(c.DeclaredParent)
	if !g.ParentExists || (declared != "" && declared != g.ParentID) {
		return ParentMismatch, false
	}
	key := NormalizeTitle(c.Title)
	if _, dup := g.seen[key]; dup {
		return Duplicate, false
	}
	g.seen[key] = struct{}{}
	return "", true
}

// Seen reports how many distinct titles the guard knows.
func (g *Guard) Seen() int {
	return len(g.seen)
}

// NormalizeTitle lower-cases, collapses whitespace and drops trailing
// punctuation.
func NormalizeTitle(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
