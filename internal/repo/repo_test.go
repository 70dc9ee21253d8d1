package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"briefline/internal/config"
	"briefline/internal/db"
	"briefline/internal/domain"
	"briefline/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := Repo{DB: conn}
	if err := r.InsertProjectTx(context.Background(), nil, domain.Project{ID: "proj", Status: "active", CreatedAt: "2025-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return r
}

func withTx(t *testing.T, r Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestBriefDisplayIDsAreSequential(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	var ids []string
	for _, id := range []string{"b1", "b2"} {
		withTx(t, r, func(tx *sql.Tx) error {
			b, err := r.InsertBriefTx(ctx, tx, domain.Brief{
				ID: id, ProjectID: "proj", Title: "Brief", Status: domain.BriefSubmitted,
				AcceptanceCriteria: []string{"a", "b"}, CreatedAt: "2025-01-01T00:00:00Z", UpdatedAt: "2025-01-01T00:00:00Z",
			})
			ids = append(ids, b.DisplayID)
			return err
		})
	}
	if ids[0] != "BB-0001" || ids[1] != "BB-0002" {
		t.Fatalf("display ids = %v", ids)
	}
	got, err := r.GetBrief(ctx, "bb-0002")
	if err != nil {
		t.Fatalf("get by display id: %v", err)
	}
	if got.ID != "b2" || len(got.AcceptanceCriteria) != 2 {
		t.Fatalf("unexpected brief %+v", got)
	}
	if _, err := r.GetBrief(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	list, err := r.ListBriefs(ctx, BriefFilters{ProjectID: "proj", Status: domain.BriefSubmitted})
	if err != nil || len(list) != 2 {
		t.Fatalf("list = %d, %v", len(list), err)
	}
}

func TestItemsRoundTripAndOrphaning(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	withTx(t, r, func(tx *sql.Tx) error {
		_, err := r.InsertBriefTx(ctx, tx, domain.Brief{ID: "b1", ProjectID: "proj", Title: "Brief", Status: domain.BriefDraft, CreatedAt: "t", UpdatedAt: "t"})
		return err
	})
	item := domain.NormalizeItem(domain.Item{
		ID: "i1", ProjectID: "proj", Level: domain.LevelInitiative, ParentID: "b1", ParentLevel: domain.LevelBrief,
		Title: "Portal", Description: "Self-service", BusinessValue: "Reach", Priority: "P1",
		Source: domain.SourceGenerated, Extras: map[string]any{"timeline": "Q3"}, CreatedAt: "2025-01-02T00:00:00Z",
	})
	if err := r.InsertItemTx(ctx, nil, item); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	got, err := r.GetItem(ctx, "i1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Rationale != "Reach" || got.BusinessValue != "Reach" || got.Priority != domain.PriorityHigh || got.Extras["timeline"] != "Q3" {
		t.Fatalf("unexpected item %+v", got)
	}
	titles, err := r.ChildTitles(ctx, "b1", domain.LevelInitiative)
	if err != nil || len(titles) != 1 || titles[0] != "Portal" {
		t.Fatalf("titles = %v, %v", titles, err)
	}
	ok, err := r.ParentExists(ctx, domain.LevelInitiative, "i1")
	if err != nil || !ok {
		t.Fatalf("expected parent to exist: %v", err)
	}

	var n int
	withTx(t, r, func(tx *sql.Tx) error {
		var err error
		n, err = r.OrphanChildrenTx(ctx, tx, "b1")
		return err
	})
	if n != 1 {
		t.Fatalf("orphaned %d", n)
	}
	if ok, _ := r.ParentExists(ctx, domain.LevelInitiative, "i1"); ok {
		t.Fatalf("orphaned item must not count as a live parent")
	}
	if titles, _ := r.ChildTitles(ctx, "b1", domain.LevelInitiative); len(titles) != 0 {
		t.Fatalf("orphaned titles still listed: %v", titles)
	}
}

func TestLatestAssessmentWins(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	withTx(t, r, func(tx *sql.Tx) error {
		_, err := r.InsertBriefTx(ctx, tx, domain.Brief{ID: "b1", ProjectID: "proj", Title: "Brief", Status: domain.BriefDraft, CreatedAt: "t", UpdatedAt: "t"})
		return err
	})
	if _, err := r.LatestAssessment(ctx, "b1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	for _, grade := range []string{domain.GradeRed, domain.GradeGreen} {
		a := domain.Assessment{BriefID: "b1", OverallGrade: grade, Mode: domain.ModeMock, AssessedAt: "t", ApprovalRequired: grade != domain.GradeGreen}
		if err := r.InsertAssessmentTx(ctx, nil, "proj", a); err != nil {
			t.Fatalf("insert assessment: %v", err)
		}
	}
	latest, err := r.LatestAssessment(ctx, "b1")
	if err != nil || latest.OverallGrade != domain.GradeGreen {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
	history, err := r.ListAssessments(ctx, "b1")
	if err != nil || len(history) != 2 || !history[1].ApprovalRequired {
		t.Fatalf("history = %+v, %v", history, err)
	}
}

func TestProjectConfigRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.GetProjectConfig(ctx, "proj"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	cfg := config.Default("ignored")
	cfg.Quality.Gate = config.GateFlagOnly
	if err := r.UpsertProjectConfig(ctx, "proj", cfg); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := r.GetProjectConfig(ctx, "proj")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Project.ID != "proj" || got.Quality.Gate != config.GateFlagOnly {
		t.Fatalf("unexpected config %+v", got)
	}
	p, err := r.SingleProject(ctx)
	if err != nil || p.ID != "proj" {
		t.Fatalf("single project = %+v, %v", p, err)
	}
}

func TestAPIKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	hash := HashAPIKey(" secret ")
	if hash != HashAPIKey("secret") {
		t.Fatalf("hash must ignore surrounding whitespace")
	}
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", ActorID: "ci", KeyHash: hash}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	key, err := r.GetAPIKeyByHash(ctx, hash)
	if err != nil || key.ActorID != "ci" {
		t.Fatalf("lookup = %+v, %v", key, err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
