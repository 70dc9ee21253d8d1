package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"briefline/internal/config"
	"briefline/internal/domain"
	"briefline/internal/events"
	"briefline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project and
// config exist in the database. The project override wins, then the only
// project in the database. A missing project is created on the fly, seeded
// from the workspace briefline.yml when one exists.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		if p, err := r.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
	}
	seedCfg, err := seedConfig(workspace, projectID)
	if err != nil {
		return "", nil, err
	}

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := r.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

func seedConfig(workspace, projectID string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if cfg == nil {
		return config.Default(projectID), nil
	}
	cfg.Project.ID = projectID
	return cfg, nil
}

// createProject inserts the project, its config and a creation event.
func createProject(ctx context.Context, r repo.Repo, projectID string, seedCfg *config.Config, actorID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := domain.Project{ID: projectID, Status: "active", CreatedAt: now}
	if err := r.InsertProjectTx(ctx, tx, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := r.UpsertProjectConfigTx(ctx, tx, projectID, seedCfg); err != nil {
		return fmt.Errorf("insert project config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	w := events.Writer{DB: r.DB}
	if err := w.Append(ctx, tx, events.ProjectCreated, projectID, "project", projectID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return err
	}
	return tx.Commit()
}
