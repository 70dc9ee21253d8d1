package llm

import (
	"context"
	"errors"
	"sync"
)

// Step is one canned gateway reply.
type Step struct {
	Text   string
	Tokens int
	Err    error
}

// Call records what a Scripted gateway was asked.
type Call struct {
	System string
	User   string
}

// Scripted replays Steps in order and repeats the last one when exhausted.
// It validates settings like a real backend.
type Scripted struct {
	Steps []Step
	// Before runs at the start of every call.
	Before func(ctx context.Context)

	mu    sync.Mutex
	calls []Call
}

// Replies builds a Scripted gateway from plain texts.
func Replies(texts ...string) *Scripted {
	s := &Scripted{}
	for _, t := range texts {
		s.Steps = append(s.Steps, Step{Text: t, Tokens: len(t) / 4})
	}
	return s
}

func (g *Scripted) Complete(ctx context.Context, system, user string, s Settings) (Completion, error) {
	if err := s.Validate(); err != nil {
		return Completion{}, err
	}
	if g.Before != nil {
		g.Before(ctx)
	}
	g.mu.Lock()
	idx := len(g.calls)
	g.calls = append(g.calls, Call{System: system, User: user})
	g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	if len(g.Steps) == 0 {
		return Completion{}, &ProviderError{Provider: s.Provider, Kind: ProviderUnavailable, Err: errors.New("no scripted reply")}
	}
	if idx >= len(g.Steps) {
		idx = len(g.Steps) - 1
	}
	step := g.Steps[idx]
	if step.Err != nil {
		return Completion{}, step.Err
	}
	return Completion{Text: step.Text, TokensUsed: step.Tokens}, nil
}

// Calls returns a copy of every recorded call.
func (g *Scripted) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}
