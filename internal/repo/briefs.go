package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"briefline/internal/domain"
)

const briefColumns = `id,project_id,display_id,title,COALESCE(objective,''),COALESCE(outcomes,''),COALESCE(scope,''),
COALESCE(risk_of_inaction,''),COALESCE(happy_path,''),COALESCE(exceptions,''),acceptance_criteria_json,
COALESCE(stakeholder_impact,''),COALESCE(department_impact,''),COALESCE(technology_impact,''),status,COALESCE(created_by,''),created_at,updated_at`

func scanBrief(row rowScanner) (domain.Brief, error) {
	var b domain.Brief
	var criteria string
	err := row.Scan(&b.ID, &b.ProjectID, &b.DisplayID, &b.Title, &b.Objective, &b.Outcomes, &b.Scope,
		&b.RiskOfInaction, &b.HappyPath, &b.Exceptions, &criteria,
		&b.StakeholderImpact, &b.DepartmentImpact, &b.TechnologyImpact, &b.Status, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	b.AcceptanceCriteria = unmarshalList(criteria)
	return b, nil
}

// InsertBriefTx stores b and assigns the next display id for its project.
func (r Repo) InsertBriefTx(ctx context.Context, tx *sql.Tx, b domain.Brief) (domain.Brief, error) {
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM briefs WHERE project_id=?`, b.ProjectID).Scan(&seq); err != nil {
		return domain.Brief{}, fmt.Errorf("next brief sequence: %w", err)
	}
	b.DisplayID = fmt.Sprintf("BB-%04d", seq)
	_, err := tx.ExecContext(ctx, `INSERT INTO briefs(id,project_id,seq,display_id,title,objective,outcomes,scope,risk_of_inaction,happy_path,exceptions,
acceptance_criteria_json,stakeholder_impact,department_impact,technology_impact,status,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.ProjectID, seq, b.DisplayID, b.Title, nullable(b.Objective), nullable(b.Outcomes), nullable(b.Scope),
		nullable(b.RiskOfInaction), nullable(b.HappyPath), nullable(b.Exceptions), marshalList(b.AcceptanceCriteria),
		nullable(b.StakeholderImpact), nullable(b.DepartmentImpact), nullable(b.TechnologyImpact), b.Status,
		nullable(b.CreatedBy), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return domain.Brief{}, err
	}
	if b.AcceptanceCriteria == nil {
		b.AcceptanceCriteria = []string{}
	}
	return b, nil
}

// UpdateBriefTx rewrites the editable fields of b.
func (r Repo) UpdateBriefTx(ctx context.Context, tx *sql.Tx, b domain.Brief) error {
	res, err := tx.ExecContext(ctx, `UPDATE briefs SET title=?,objective=?,outcomes=?,scope=?,risk_of_inaction=?,happy_path=?,exceptions=?,
acceptance_criteria_json=?,stakeholder_impact=?,department_impact=?,technology_impact=?,status=?,updated_at=? WHERE id=?`,
		b.Title, nullable(b.Objective), nullable(b.Outcomes), nullable(b.Scope), nullable(b.RiskOfInaction),
		nullable(b.HappyPath), nullable(b.Exceptions), marshalList(b.AcceptanceCriteria), nullable(b.StakeholderImpact),
		nullable(b.DepartmentImpact), nullable(b.TechnologyImpact), b.Status, b.UpdatedAt, b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateBriefStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE briefs SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteBriefTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM briefs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetBrief(ctx context.Context, id string) (domain.Brief, error) {
	return r.GetBriefTx(ctx, nil, id)
}

// GetBriefTx looks a brief up by id or display id.
func (r Repo) GetBriefTx(ctx context.Context, tx *sql.Tx, id string) (domain.Brief, error) {
	return scanBrief(r.q(tx).QueryRowContext(ctx, `SELECT `+briefColumns+` FROM briefs WHERE id=? OR display_id=? ORDER BY id LIMIT 1`, id, strings.ToUpper(id)))
}

type BriefFilters struct {
	ProjectID string
	Status    string
	Limit     int
}

func (r Repo) ListBriefs(ctx context.Context, f BriefFilters) ([]domain.Brief, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + briefColumns + ` FROM briefs WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY seq ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Brief
	for rows.Next() {
		b, err := scanBrief(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
