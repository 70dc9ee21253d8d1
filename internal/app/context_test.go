package app

import (
	"context"
	"os"
	"strings"
	"testing"

	"briefline/internal/config"
	"briefline/internal/db"
	"briefline/internal/migrate"
	"briefline/internal/repo"
)

func newRepo(t *testing.T, dir string) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestResolveCreatesProjectFromWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := strings.Replace(config.GenerateDefault("ignored"), "gate: block_red", "gate: flag_only", 1)
	if err := os.WriteFile(config.Path(dir), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	r := newRepo(t, dir)
	ctx := context.Background()
	id, cfg, err := ResolveProjectAndConfig(ctx, dir, "acme", "tester", r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "acme" || cfg.Project.ID != "acme" || cfg.Quality.Gate != config.GateFlagOnly {
		t.Fatalf("unexpected resolve %s %+v", id, cfg.Quality)
	}
	// A second call with no override picks the single project.
	id, _, err = ResolveProjectAndConfig(ctx, dir, "", "tester", r)
	if err != nil || id != "acme" {
		t.Fatalf("single project = %s, %v", id, err)
	}
	evts, err := r.LatestEvents(ctx, repo.EventFilters{ProjectID: "acme"})
	if err != nil || len(evts) != 1 || evts[0].Type != "project.created" {
		t.Fatalf("events = %+v, %v", evts, err)
	}
}

func TestResolveNeedsProjectWhenAmbiguous(t *testing.T) {
	dir := t.TempDir()
	r := newRepo(t, dir)
	if _, _, err := ResolveProjectAndConfig(context.Background(), dir, "", "tester", r); err == nil {
		t.Fatalf("expected error without any project")
	}
}
