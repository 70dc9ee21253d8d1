package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"briefline/internal/config"
	"briefline/internal/domain"
	"briefline/internal/events"
	"briefline/internal/generate"
	"briefline/internal/guard"
	"briefline/internal/llm"
	"briefline/internal/prompt"
	"briefline/internal/repo"
)

type GenerateOptions struct {
	ParentID string
	// ParentLevel is resolved from storage when empty.
	ParentLevel domain.Level
	Settings    llm.Settings
	MinCount    int
	Extra       string
	ActorID     string
}

// SaveFailure is an accepted item that could not be stored.
type SaveFailure struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title"`
	Error  string `json:"error"`
}

// SaveResult is a generation run plus what happened when storing it.
type SaveResult struct {
	Run      generate.Run  `json:"run"`
	Saved    []domain.Item `json:"saved"`
	Failed   []SaveFailure `json:"save_failures"`
	Warnings []string      `json:"warnings,omitempty"`
}

type parentRef struct {
	id        string
	level     domain.Level
	projectID string
	source    prompt.Source
	brief     *domain.Brief
}

func (e Engine) loadParent(ctx context.Context, id string, level domain.Level) (parentRef, error) {
	if level == "" || level == domain.LevelBrief {
		b, err := e.Repo.GetBrief(ctx, id)
		if err == nil {
			return parentRef{id: b.ID, level: domain.LevelBrief, projectID: b.ProjectID, source: prompt.FromBrief(b), brief: &b}, nil
		}
		if !errors.Is(err, repo.ErrNotFound) || level == domain.LevelBrief {
			return parentRef{}, err
		}
	}
	it, err := e.Repo.GetItem(ctx, id)
	if err != nil {
		return parentRef{}, err
	}
	if level != "" && it.Level != level {
		return parentRef{}, fmt.Errorf("invalid parent: %s is a %s, not a %s", id, it.Level, level)
	}
	if it.Status == domain.ItemOrphaned {
		return parentRef{}, fmt.Errorf("invalid parent: %s is orphaned", id)
	}
	return parentRef{id: it.ID, level: it.Level, projectID: it.ProjectID, source: prompt.FromItem(it)}, nil
}

// qualityGate enforces the brief gate before Initiatives are generated and
// returns warnings for briefs that pass with reservations.
func (e Engine) qualityGate(ctx context.Context, b domain.Brief) ([]string, error) {
	latest, err := e.Repo.LatestAssessment(ctx, b.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return []string{fmt.Sprintf("brief %s has not been assessed", b.DisplayID)}, nil
	}
	if err != nil {
		return nil, err
	}
	gate := config.GateBlockRed
	if e.Config != nil && e.Config.Quality.Gate != "" {
		gate = e.Config.Quality.Gate
	}
	switch latest.OverallGrade {
	case domain.GradeRed:
		if b.Status == domain.BriefApproved {
			return []string{fmt.Sprintf("brief %s is red but approved; generating anyway", b.DisplayID)}, nil
		}
		if gate == config.GateBlockRed {
			return nil, ErrQualityGate
		}
		return []string{fmt.Sprintf("brief %s quality is red", b.DisplayID)}, nil
	case domain.GradeAmber:
		return []string{fmt.Sprintf("brief %s quality is amber; review the generated items", b.DisplayID)}, nil
	}
	return nil, nil
}

// GenerateChildren runs the orchestrator against a stored parent and saves
// every accepted item in its own transaction. Items that fail to save are
// reported in Failed; the rest stay stored.
func (e Engine) GenerateChildren(ctx context.Context, opts GenerateOptions) (SaveResult, error) {
	parent, err := e.loadParent(ctx, opts.ParentID, opts.ParentLevel)
	if err != nil {
		return SaveResult{}, err
	}
	var warnings []string
	if parent.brief != nil {
		w, err := e.qualityGate(ctx, *parent.brief)
		if err != nil {
			return SaveResult{}, err
		}
		warnings = append(warnings, w...)
	}
	target, ok := parent.level.Child()
	if !ok {
		return SaveResult{}, fmt.Errorf("invalid parent: %s items cannot have children", parent.level)
	}
	// Siblings are read and the run is saved under one reservation.
	release, err := e.Orchestrator.Reserve(parent.id, target)
	if err != nil {
		return SaveResult{}, err
	}
	defer release()
	existing, err := e.Repo.ChildTitles(ctx, parent.id, target)
	if err != nil {
		return SaveResult{}, err
	}
	minCount := opts.MinCount
	if minCount <= 0 && e.Config != nil {
		minCount = e.Config.MinimumCount(target)
	}

	run, err := e.Orchestrator.GenerateReserved(ctx, generate.Request{
		Parent:         parent.source,
		ParentID:       parent.id,
		ParentLevel:    parent.level,
		MinCount:       minCount,
		Settings:       opts.Settings,
		Extra:          opts.Extra,
		ExistingTitles: existing,
	})
	if err != nil {
		return SaveResult{}, err
	}

	res := SaveResult{Run: run, Saved: []domain.Item{}, Failed: []SaveFailure{}}
	res.Warnings = append(warnings, run.Warnings...)
	for _, it := range run.Accepted {
		it.ProjectID = parent.projectID
		if err := e.saveItem(ctx, it, opts.ActorID); err != nil {
			e.logger().Warn("item save failed", zap.String("item_id", it.ID), zap.Error(err))
			res.Failed = append(res.Failed, SaveFailure{ItemID: it.ID, Title: it.Title, Error: err.Error()})
			continue
		}
		res.Saved = append(res.Saved, it)
	}
	if len(res.Failed) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d of %d items could not be saved", len(res.Failed), len(run.Accepted)))
	}

	if err := e.recordGeneration(ctx, parent, target, run, res, opts.ActorID); err != nil {
		e.logger().Warn("generation event not recorded", zap.String("parent_id", parent.id), zap.Error(err))
		res.Warnings = append(res.Warnings, fmt.Sprintf("generation completed but its event was not recorded: %v", err))
	}
	return res, nil
}

func (e Engine) recordGeneration(ctx context.Context, parent parentRef, target domain.Level, run generate.Run, res SaveResult, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.GenerationCompleted, parent.projectID, string(parent.level), parent.id, actorID, events.EventPayload{
		"target":        string(target),
		"requested":     run.Requested,
		"saved":         len(res.Saved),
		"rejected":      len(run.Rejected),
		"save_failures": len(res.Failed),
		"iterations":    run.Iterations,
		"tokens_used":   run.TokensUsed,
		"elapsed_ms":    run.Elapsed.Milliseconds(),
		"fallback":      run.UsedFallback,
		"truncated":     run.Truncated,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// GenerationStatus tells whether children of a parent are being generated.
type GenerationStatus struct {
	ParentID    string       `json:"parent_id"`
	ParentLevel domain.Level `json:"parent_level"`
	TargetLevel domain.Level `json:"target_level"`
	Pending     bool         `json:"pending"`
}

// GenerationPending reports whether a run for the children of parentID is in
// flight.
func (e Engine) GenerationPending(ctx context.Context, parentID string, level domain.Level) (GenerationStatus, error) {
	parent, err := e.loadParent(ctx, parentID, level)
	if err != nil {
		return GenerationStatus{}, err
	}
	target, ok := parent.level.Child()
	if !ok {
		return GenerationStatus{}, fmt.Errorf("invalid parent: %s items cannot have children", parent.level)
	}
	return GenerationStatus{
		ParentID:    parent.id,
		ParentLevel: parent.level,
		TargetLevel: target,
		Pending:     e.Orchestrator.Busy(parent.id, target),
	}, nil
}

func (e Engine) saveItem(ctx context.Context, it domain.Item, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ItemCreated, it.ProjectID, "item", it.ID, actorID, events.EventPayload{
		"level":     string(it.Level),
		"parent_id": it.ParentID,
		"source":    it.Source,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ItemInput is a manually authored item.
type ItemInput struct {
	ParentID           string         `json:"parent_id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Rationale          string         `json:"rationale,omitempty"`
	BusinessValue      string         `json:"business_value,omitempty"`
	AcceptanceCriteria []string       `json:"acceptance_criteria,omitempty"`
	Priority           string         `json:"priority,omitempty"`
	Category           string         `json:"category,omitempty"`
	Extras             map[string]any `json:"extras,omitempty"`
}

// CreateItem stores a manual item under an existing parent. It passes the
// same normalization and consistency checks as generated items.
func (e Engine) CreateItem(ctx context.Context, in ItemInput, actorID string) (domain.Item, error) {
	if strings.TrimSpace(in.ParentID) == "" {
		return domain.Item{}, errors.New("parent_id is required")
	}
	parent, err := e.loadParent(ctx, in.ParentID, "")
	if err != nil {
		return domain.Item{}, err
	}
	target, ok := parent.level.Child()
	if !ok {
		return domain.Item{}, fmt.Errorf("invalid parent: %s items cannot have children", parent.level)
	}
	existing, err := e.Repo.ChildTitles(ctx, parent.id, target)
	if err != nil {
		return domain.Item{}, err
	}
	g := guard.New(parent.id, true, existing)
	if reason, ok := g.Check(guard.Candidate{Title: in.Title, Description: in.Description}); !ok {
		return domain.Item{}, ConsistencyError{Reason: string(reason)}
	}
	it := domain.NormalizeItem(domain.Item{
		ID:                 newID(),
		ProjectID:          parent.projectID,
		Level:              target,
		ParentID:           parent.id,
		ParentLevel:        parent.level,
		Title:              in.Title,
		Description:        in.Description,
		Rationale:          in.Rationale,
		BusinessValue:      in.BusinessValue,
		AcceptanceCriteria: cleanList(in.AcceptanceCriteria),
		Priority:           in.Priority,
		Category:           strings.TrimSpace(in.Category),
		Source:             domain.SourceManual,
		Extras:             in.Extras,
		CreatedAt:          e.timestamp(),
	})
	if err := e.saveItem(ctx, it, actorID); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// TraceNode is one step of an ancestor chain.
type TraceNode struct {
	ID        string       `json:"id"`
	DisplayID string       `json:"display_id,omitempty"`
	Level     domain.Level `json:"level"`
	Title     string       `json:"title"`
	Status    string       `json:"status"`
}

// Trace returns the chain from the root brief down to itemID. Orphaned
// chains end at the first missing ancestor.
func (e Engine) Trace(ctx context.Context, itemID string) ([]TraceNode, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	chain := []TraceNode{{ID: it.ID, Level: it.Level, Title: it.Title, Status: it.Status}}
	parentID, parentLevel := it.ParentID, it.ParentLevel
	for depth := 0; parentID != "" && depth < len(domain.Levels); depth++ {
		if parentLevel == domain.LevelBrief {
			b, err := e.Repo.GetBrief(ctx, parentID)
			if errors.Is(err, repo.ErrNotFound) {
				break
			}
			if err != nil {
				return nil, err
			}
			chain = append(chain, TraceNode{ID: b.ID, DisplayID: b.DisplayID, Level: domain.LevelBrief, Title: b.Title, Status: b.Status})
			break
		}
		p, err := e.Repo.GetItem(ctx, parentID)
		if errors.Is(err, repo.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, TraceNode{ID: p.ID, Level: p.Level, Title: p.Title, Status: p.Status})
		parentID, parentLevel = p.ParentID, p.ParentLevel
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// TreeNode is an item with its descendants.
type TreeNode struct {
	Item     domain.Item `json:"item"`
	Children []TreeNode  `json:"children"`
}

// BriefTree is a brief with its full hierarchy.
type BriefTree struct {
	Brief    domain.Brief `json:"brief"`
	Children []TreeNode   `json:"children"`
}

// Tree loads the hierarchy under a brief.
func (e Engine) Tree(ctx context.Context, briefID string) (BriefTree, error) {
	b, err := e.Repo.GetBrief(ctx, briefID)
	if err != nil {
		return BriefTree{}, err
	}
	items, err := e.Repo.ListItems(ctx, repo.ItemFilters{ProjectID: b.ProjectID})
	if err != nil {
		return BriefTree{}, err
	}
	byParent := map[string][]domain.Item{}
	for _, it := range items {
		byParent[it.ParentID] = append(byParent[it.ParentID], it)
	}
	var build func(parentID string) []TreeNode
	build = func(parentID string) []TreeNode {
		nodes := []TreeNode{}
		for _, it := range byParent[parentID] {
			nodes = append(nodes, TreeNode{Item: it, Children: build(it.ID)})
		}
		return nodes
	}
	return BriefTree{Brief: b, Children: build(b.ID)}, nil
}
