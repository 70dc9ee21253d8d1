package domain

import (
	"fmt"
	"strings"
)

// Level names one stage of the planning hierarchy.
type Level string

const (
	LevelBrief      Level = "brief"
	LevelInitiative Level = "initiative"
	LevelFeature    Level = "feature"
	LevelEpic       Level = "epic"
	LevelStory      Level = "story"
)

type LevelSpec struct {
	Name   Level
	Title  string
	Plural string
	Parent Level
}

// Levels is the ordered workflow chain. Index order is hierarchy order.
var Levels = []LevelSpec{
	{Name: LevelBrief, Title: "Business Brief", Plural: "Business Briefs"},
	{Name: LevelInitiative, Title: "Initiative", Plural: "Initiatives", Parent: LevelBrief},
	{Name: LevelFeature, Title: "Feature", Plural: "Features", Parent: LevelInitiative},
	{Name: LevelEpic, Title: "Epic", Plural: "Epics", Parent: LevelFeature},
	{Name: LevelStory, Title: "Story", Plural: "Stories", Parent: LevelEpic},
}

// ValidateLevels checks that every parent is strictly earlier and that the
// levels form a single chain.
func ValidateLevels(levels []LevelSpec) error {
	if len(levels) == 0 {
		return fmt.Errorf("no workflow levels defined")
	}
	pos := map[Level]int{}
	children := map[Level]int{}
	for i, l := range levels {
		if l.Name == "" {
			return fmt.Errorf("level %d has empty name", i)
		}
		if _, dup := pos[l.Name]; dup {
			return fmt.Errorf("level %s defined twice", l.Name)
		}
		pos[l.Name] = i
		if i == 0 {
			if l.Parent != "" {
				return fmt.Errorf("root level %s cannot have a parent", l.Name)
			}
			continue
		}
		p, ok := pos[l.Parent]
		if !ok {
			return fmt.Errorf("level %s parent %q must be defined earlier", l.Name, l.Parent)
		}
		if p != i-1 {
			return fmt.Errorf("level %s parent %s breaks the chain", l.Name, l.Parent)
		}
		children[l.Parent]++
		if children[l.Parent] > 1 {
			return fmt.Errorf("level %s has more than one child level", l.Parent)
		}
	}
	return nil
}

// ParseLevel accepts level names case-insensitively, singular or plural.
func ParseLevel(s string) (Level, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, " ", "")
	key = strings.ReplaceAll(key, "_", "")
	for _, l := range Levels {
		if key == string(l.Name) ||
			key == strings.ToLower(strings.ReplaceAll(l.Title, " ", "")) ||
			key == strings.ToLower(strings.ReplaceAll(l.Plural, " ", "")) {
			return l.Name, nil
		}
	}
	if key == "businessbrief" || key == "bb" {
		return LevelBrief, nil
	}
	return "", fmt.Errorf("invalid level %q", s)
}

// Spec returns the level definition.
func (l Level) Spec() (LevelSpec, bool) {
	for _, s := range Levels {
		if s.Name == l {
			return s, true
		}
	}
	return LevelSpec{}, false
}

// Child returns the level directly below l.
func (l Level) Child() (Level, bool) {
	for _, s := range Levels {
		if s.Parent == l && s.Parent != "" {
			return s.Name, true
		}
	}
	return "", false
}

func (l Level) Title() string {
	if s, ok := l.Spec(); ok {
		return s.Title
	}
	return string(l)
}

func (l Level) Plural() string {
	if s, ok := l.Spec(); ok {
		return s.Plural
	}
	return string(l) + "s"
}
