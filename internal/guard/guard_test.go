package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "customer portal", NormalizeTitle("  Customer   Portal!! "))
	assert.Equal(t, "a.b test", NormalizeTitle("A.B Test."))
	assert.Equal(t, "", NormalizeTitle("  ...  "))
}

func TestCheckOrder(t *testing.T) {
	g := New("p1", true, []string{"Existing Feature"})

	reason, ok := g.Check(Candidate{Title: "", Description: "x", DeclaredParent: "other"})
	assert.False(t, ok)
	assert.Equal(t, MissingField, reason)

	reason, ok = g.Check(Candidate{Title: "existing feature", Description: "x", DeclaredParent: "other"})
	assert.False(t, ok)
	assert.Equal(t, ParentMismatch, reason)

	reason, ok = g.Check(Candidate{Title: "Existing feature.", Description: "x"})
	assert.False(t, ok)
	assert.Equal(t, Duplicate, reason)

	_, ok = g.Check(Candidate{Title: "New feature", Description: "x", DeclaredParent: "p1"})
	assert.True(t, ok)
	reason, ok = g.Check(Candidate{Title: "new  FEATURE", Description: "y"})
	assert.False(t, ok)
	assert.Equal(t, Duplicate, reason)
	assert.Equal(t, 2, g.Seen())
}

func TestCheckRejectsWhenParentGone(t *testing.T) {
	g := New("p1", false, nil)
	reason, ok := g.Check(Candidate{Title: "A", Description: "B"})
	assert.False(t, ok)
	assert.Equal(t, ParentMismatch, reason)
}
