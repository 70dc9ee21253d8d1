package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"briefline/internal/config"
	"briefline/internal/domain"
	"briefline/internal/events"
	"briefline/internal/generate"
	"briefline/internal/llm"
	"briefline/internal/parse"
	"briefline/internal/quality"
	"briefline/internal/repo"
)

// ErrQualityGate blocks Initiative generation from a brief whose latest
// assessment is red.
var ErrQualityGate = errors.New("quality gate blocked: latest assessment is red")

// ErrBriefLocked rejects edits to an approved brief.
var ErrBriefLocked = errors.New("approved brief is locked; reopen it or pass force")

// TransitionError is an invalid brief status change.
type TransitionError struct {
	From, To string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// ConsistencyError rejects a manual item that would break the hierarchy.
type ConsistencyError struct {
	Reason string
}

func (e ConsistencyError) Error() string {
	return "item rejected: " + e.Reason
}

type Engine struct {
	DB           *sql.DB
	Repo         repo.Repo
	Events       events.Writer
	Config       *config.Config
	Now          func() time.Time
	Logger       *zap.Logger
	Orchestrator *generate.Orchestrator
	Assessor     *quality.Assessor
}

// New wires the engine. gw may be nil when only heuristic assessment and
// parsing are needed.
func New(db *sql.DB, cfg *config.Config, gw llm.Gateway, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := repo.Repo{DB: db}
	orch := generate.New(gw, r, logger.Named("generate"))
	assessor := quality.New(gw, logger.Named("quality"))
	if cfg != nil {
		orch.MaxIterations = cfg.Generation.MaxIterations
		orch.MaxAttempts = cfg.Generation.MaxAttempts
		orch.Backoff = cfg.Backoff()
		assessor.GreenMin = cfg.Quality.GreenMin
		assessor.AmberMin = cfg.Quality.AmberMin
	}
	return Engine{
		DB:           db,
		Repo:         r,
		Events:       events.Writer{DB: db},
		Config:       cfg,
		Now:          time.Now,
		Logger:       logger,
		Orchestrator: orch,
		Assessor:     assessor,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// InitProject creates a project with the default config.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string) (domain.Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          projectID,
		Status:      "active",
		Description: description,
		CreatedAt:   e.timestamp(),
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	cfg := e.Config
	if cfg == nil || cfg.Project.ID != projectID {
		cfg = config.Default(projectID)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ImportConfig replaces a project's stored config.
func (e Engine) ImportConfig(ctx context.Context, projectID string, cfg *config.Config, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ConfigImported, projectID, "project", projectID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey issues a new key for actorID. Only its hash is stored; the
// plaintext is returned once.
func (e Engine) CreateAPIKey(ctx context.Context, projectID, actorID, name string) (domain.APIKey, string, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.APIKey{}, "", errors.New("actor id is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	plain := "bl_" + hex.EncodeToString(buf)
	now := e.timestamp()
	key := domain.APIKey{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(actorID+"|"+name+"|"+now+"|"+plain)).String(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, projectID, "api_key", key.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// ParseStructuredOutput exposes the parser.
func (e Engine) ParseStructuredOutput(raw string) parse.Result {
	return parse.Parse(raw)
}

func newID() string {
	return uuid.NewString()
}
