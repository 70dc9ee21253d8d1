package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"briefline/internal/domain"
)

const itemColumns = `id,project_id,level,parent_id,parent_level,title,description,COALESCE(rationale,''),acceptance_criteria_json,
priority,COALESCE(category,''),status,source,COALESCE(extras_json,''),created_at`

func scanItem(row rowScanner) (domain.Item, error) {
	var it domain.Item
	var criteria, extras string
	var level, parentLevel string
	err := row.Scan(&it.ID, &it.ProjectID, &level, &it.ParentID, &parentLevel, &it.Title, &it.Description, &it.Rationale,
		&criteria, &it.Priority, &it.Category, &it.Status, &it.Source, &extras, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Level = domain.Level(level)
	it.ParentLevel = domain.Level(parentLevel)
	it.BusinessValue = it.Rationale
	it.AcceptanceCriteria = unmarshalList(criteria)
	if extras != "" {
		_ = json.Unmarshal([]byte(extras), &it.Extras)
	}
	return it, nil
}

// InsertItemTx stores an item. Only rationale is persisted; business value
// is derived from it on read.
func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	var extras any
	if len(it.Extras) > 0 {
		b, err := json.Marshal(it.Extras)
		if err != nil {
			return err
		}
		extras = string(b)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO items(id,project_id,level,parent_id,parent_level,title,description,rationale,
acceptance_criteria_json,priority,category,status,source,extras_json,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ProjectID, string(it.Level), it.ParentID, string(it.ParentLevel), it.Title, it.Description, nullable(it.Rationale),
		marshalList(it.AcceptanceCriteria), it.Priority, nullable(it.Category), it.Status, it.Source, extras, it.CreatedAt)
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return scanItem(r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id))
}

type ItemFilters struct {
	ProjectID string
	Level     domain.Level
	ParentID  string
	Status    string
	Limit     int
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.Item, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Level != "" {
		clauses = append(clauses, "level=?")
		args = append(args, string(f.Level))
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, rowid ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ChildTitles returns the titles of non-orphaned children of parentID at level.
func (r Repo) ChildTitles(ctx context.Context, parentID string, level domain.Level) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT title FROM items WHERE parent_id=? AND level=? AND status<>? ORDER BY created_at ASC`,
		parentID, string(level), domain.ItemOrphaned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// OrphanChildrenTx marks the children of parentID orphaned and returns how
// many were touched.
func (r Repo) OrphanChildrenTx(ctx context.Context, tx *sql.Tx, parentID string) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE items SET status=? WHERE parent_id=? AND status<>?`,
		domain.ItemOrphaned, parentID, domain.ItemOrphaned)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r Repo) UpdateItemStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE items SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ParentExists reports whether a live parent of the given level exists.
func (r Repo) ParentExists(ctx context.Context, level domain.Level, id string) (bool, error) {
	var query string
	if level == domain.LevelBrief {
		query = `SELECT 1 FROM briefs WHERE id=?`
	} else {
		query = `SELECT 1 FROM items WHERE id=? AND level=? AND status<>'` + domain.ItemOrphaned + `'`
	}
	args := []any{id}
	if level != domain.LevelBrief {
		args = append(args, string(level))
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
