// Package generate drives the prompt, model, parse and guard loop that turns
// one parent into its children.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"briefline/internal/domain"
	"briefline/internal/guard"
	"briefline/internal/llm"
	"briefline/internal/parse"
	"briefline/internal/prompt"
)

const (
	DefaultMaxIterations = 3
	DefaultMaxAttempts   = 3
	DefaultBackoff       = 500 * time.Millisecond
)

// Hierarchy answers whether a parent still exists.
type Hierarchy interface {
	ParentExists(ctx context.Context, level domain.Level, id string) (bool, error)
}

type Request struct {
	Parent         prompt.Source
	ParentID       string
	ParentLevel    domain.Level
	MinCount       int
	Settings       llm.Settings
	Extra          string
	ExistingTitles []string
}

// Rejection is a candidate the run discarded.
type Rejection struct {
	Title  string `json:"title,omitempty"`
	Raw    string `json:"raw,omitempty"`
	Reason string `json:"reason"`
}

// Run is the transient record of one generation.
type Run struct {
	ParentID     string          `json:"parent_id"`
	ParentLevel  domain.Level    `json:"parent_level"`
	TargetLevel  domain.Level    `json:"target_level"`
	Requested    int             `json:"requested"`
	Iterations   int             `json:"iterations"`
	TokensUsed   int             `json:"tokens_used"`
	Elapsed      time.Duration   `json:"elapsed_ns"`
	Accepted     []domain.Item   `json:"accepted"`
	Rejected     []Rejection     `json:"rejected"`
	UsedFallback bool            `json:"used_fallback"`
	Outcomes     []parse.Outcome `json:"outcomes"`
	Truncated    bool            `json:"truncated"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// GenerationError means the model could not be reached before anything was
// accepted.
type GenerationError struct {
	Attempts int
	Last     *llm.ProviderError
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *GenerationError) Unwrap() error { return e.Last }

type Orchestrator struct {
	Gateway       llm.Gateway
	Hierarchy     Hierarchy
	MaxIterations int
	MaxAttempts   int
	Backoff       time.Duration
	Sleep         func(ctx context.Context, d time.Duration) error
	Now           func() time.Time
	NewID         func() string
	Logger        *zap.Logger

	pending Pending
}

func New(gw llm.Gateway, h Hierarchy, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Gateway:       gw,
		Hierarchy:     h,
		MaxIterations: DefaultMaxIterations,
		MaxAttempts:   DefaultMaxAttempts,
		Backoff:       DefaultBackoff,
		Logger:        logger,
	}
}

// Generate produces children of req.ParentID one level down. Invalid settings
// fail before any model call; a concurrent run on the same parent fails with
// ErrGenerationPending.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Run, error) {
	if err := req.Settings.Validate(); err != nil {
		return Run{}, err
	}
	target, ok := req.ParentLevel.Child()
	if !ok {
		return Run{}, fmt.Errorf("%s has no child level", req.ParentLevel)
	}
	release, err := o.Reserve(req.ParentID, target)
	if err != nil {
		return Run{}, err
	}
	defer release()
	return o.GenerateReserved(ctx, req)
}

// Reserve marks the children of parentID at target as being generated. Callers
// that read existing siblings before a run and store its items afterwards hold
// the reservation across all three steps and call GenerateReserved.
func (o *Orchestrator) Reserve(parentID string, target domain.Level) (func(), error) {
	release, ok := o.pending.TryAcquire(parentID, target)
	if !ok {
		return nil, ErrGenerationPending
	}
	return release, nil
}

// GenerateReserved is Generate for a caller already holding Reserve.
func (o *Orchestrator) GenerateReserved(ctx context.Context, req Request) (Run, error) {
	if err := req.Settings.Validate(); err != nil {
		return Run{}, err
	}
	target, ok := req.ParentLevel.Child()
	if !ok {
		return Run{}, fmt.Errorf("%s has no child level", req.ParentLevel)
	}
	if req.MinCount <= 0 {
		req.MinCount = 1
	}
	base, err := prompt.Build(prompt.Request{Source: req.Parent, Target: target, MinCount: req.MinCount, Extra: req.Extra})
	if err != nil {
		return Run{}, err
	}

	log := o.logger().With(zap.String("parent_id", req.ParentID), zap.String("target", string(target)))
	start := o.now()
	run := Run{
		ParentID:    req.ParentID,
		ParentLevel: req.ParentLevel,
		TargetLevel: target,
		Requested:   req.MinCount,
		Accepted:    []domain.Item{},
		Rejected:    []Rejection{},
	}
	g := guard.New(req.ParentID, true, req.ExistingTitles)

	for iter := 1; iter <= o.maxIterations() && len(run.Accepted) < req.MinCount; iter++ {
		p := base
		if iter > 1 {
			p = prompt.FollowUp(base, req.MinCount-len(run.Accepted), acceptedTitles(run.Accepted))
		}
		completion, attempts, err := o.complete(ctx, p, req.Settings)
		if err != nil {
			var pe *llm.ProviderError
			if !errors.As(err, &pe) {
				return Run{}, err
			}
			if len(run.Accepted) == 0 {
				log.Warn("generation failed", zap.Int("attempts", attempts), zap.Error(err))
				return Run{}, &GenerationError{Attempts: attempts, Last: pe}
			}
			run.Truncated = true
			run.Warnings = append(run.Warnings, fmt.Sprintf("stopped after iteration %d: %v", iter-1, err))
			break
		}
		run.Iterations++
		run.TokensUsed += completion.TokensUsed

		res := parse.Parse(completion.Text)
		run.Outcomes = append(run.Outcomes, res.Outcome)
		if res.UsedFallback && !run.UsedFallback {
			run.UsedFallback = true
			if len(res.Items) == 0 {
				run.Warnings = append(run.Warnings, "model output held no usable items")
			} else {
				run.Warnings = append(run.Warnings, "model output was not structured; kept as a single fallback item")
			}
		}
		for _, f := range res.Fragments {
			run.Rejected = append(run.Rejected, Rejection{Raw: f.Raw, Reason: f.Reason})
		}

		exists, err := o.parentExists(ctx, req.ParentLevel, req.ParentID)
		if err != nil {
			return Run{}, err
		}
		g.ParentExists = exists
		for _, rec := range res.Items {
			if reason, ok := g.Check(guard.Candidate{Title: rec.Title, Description: rec.Description, DeclaredParent: rec.ParentID}); !ok {
				run.Rejected = append(run.Rejected, Rejection{Title: rec.Title, Raw: rawRecord(rec), Reason: string(reason)})
				continue
			}
			item := rec.Item()
			item.ID = o.newID()
			item.Level = target
			item.ParentID = req.ParentID
			item.ParentLevel = req.ParentLevel
			item.Source = domain.SourceGenerated
			item.CreatedAt = o.now().UTC().Format(time.RFC3339)
			run.Accepted = append(run.Accepted, item)
		}
		log.Debug("iteration done",
			zap.Int("iteration", iter),
			zap.String("outcome", string(res.Outcome)),
			zap.Int("accepted", len(run.Accepted)),
			zap.Int("rejected", len(run.Rejected)))
		if !exists {
			run.Warnings = append(run.Warnings, fmt.Sprintf("parent %s no longer exists", req.ParentID))
			break
		}
	}
	if len(run.Accepted) < req.MinCount && !run.Truncated {
		run.Warnings = append(run.Warnings, fmt.Sprintf("accepted %d of %d requested %s", len(run.Accepted), req.MinCount, target.Plural()))
	}
	run.Elapsed = o.now().Sub(start)
	log.Info("generation completed",
		zap.Int("accepted", len(run.Accepted)),
		zap.Int("iterations", run.Iterations),
		zap.Int("tokens", run.TokensUsed),
		zap.Duration("elapsed", run.Elapsed))
	return run, nil
}

// complete calls the gateway with exponential backoff. Configuration errors
// and non-retryable provider errors stop immediately.
func (o *Orchestrator) complete(ctx context.Context, p prompt.Prompt, s llm.Settings) (llm.Completion, int, error) {
	var lastErr error
	attempts := 0
	for attempts < o.maxAttempts() {
		attempts++
		out, err := o.Gateway.Complete(ctx, p.System, p.User, s)
		if err == nil {
			return out, attempts, nil
		}
		lastErr = err
		var pe *llm.ProviderError
		if !errors.As(err, &pe) || !pe.Retryable() {
			return llm.Completion{}, attempts, err
		}
		if attempts == o.maxAttempts() {
			break
		}
		delay := o.Backoff * time.Duration(1<<(attempts-1))
		o.logger().Debug("retrying model call", zap.Int("attempt", attempts), zap.Duration("delay", delay), zap.String("kind", string(pe.Kind)))
		if err := o.sleep(ctx, delay); err != nil {
			return llm.Completion{}, attempts, err
		}
	}
	return llm.Completion{}, attempts, lastErr
}

// Busy reports whether a run for parentID's children at level is in flight.
func (o *Orchestrator) Busy(parentID string, level domain.Level) bool {
	return o.pending.Active(parentID, level)
}

func (o *Orchestrator) parentExists(ctx context.Context, level domain.Level, id string) (bool, error) {
	if o.Hierarchy == nil {
		return true, nil
	}
	return o.Hierarchy.ParentExists(ctx, level, id)
}

func (o *Orchestrator) maxIterations() int {
	if o.MaxIterations > 0 {
		return o.MaxIterations
	}
	return DefaultMaxIterations
}

func (o *Orchestrator) maxAttempts() int {
	if o.MaxAttempts > 0 {
		return o.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func acceptedTitles(items []domain.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Title)
	}
	return out
}

func rawRecord(rec parse.Record) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return rec.Title
	}
	return string(b)
}
