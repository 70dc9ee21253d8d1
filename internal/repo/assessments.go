package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"briefline/internal/domain"
)

// InsertAssessmentTx appends an assessment. Older rows are kept as history;
// the newest one is authoritative.
func (r Repo) InsertAssessmentTx(ctx context.Context, tx *sql.Tx, projectID string, a domain.Assessment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	approval := 0
	if a.ApprovalRequired {
		approval = 1
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO assessments(brief_id, project_id, overall_score, overall_grade, approval_required, mode, result_json, assessed_at)
VALUES (?,?,?,?,?,?,?,?)`,
		a.BriefID, projectID, a.OverallScore, a.OverallGrade, approval, a.Mode, string(payload), a.AssessedAt)
	return err
}

// LatestAssessment returns the most recent assessment of a brief.
func (r Repo) LatestAssessment(ctx context.Context, briefID string) (domain.Assessment, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT result_json FROM assessments WHERE brief_id=? ORDER BY id DESC LIMIT 1`, briefID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Assessment{}, ErrNotFound
	}
	if err != nil {
		return domain.Assessment{}, err
	}
	var a domain.Assessment
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return domain.Assessment{}, err
	}
	return a, nil
}

// AssessmentSummary is one row of a brief's assessment history.
type AssessmentSummary struct {
	ID               int64   `json:"id"`
	OverallScore     float64 `json:"overall_score"`
	OverallGrade     string  `json:"overall_grade"`
	ApprovalRequired bool    `json:"approval_required"`
	Mode             string  `json:"assessment_mode"`
	AssessedAt       string  `json:"assessed_at"`
}

func (r Repo) ListAssessments(ctx context.Context, briefID string) ([]AssessmentSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, overall_score, overall_grade, approval_required, mode, assessed_at
FROM assessments WHERE brief_id=? ORDER BY id DESC`, briefID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AssessmentSummary
	for rows.Next() {
		var s AssessmentSummary
		var approval int
		if err := rows.Scan(&s.ID, &s.OverallScore, &s.OverallGrade, &approval, &s.Mode, &s.AssessedAt); err != nil {
			return nil, err
		}
		s.ApprovalRequired = approval == 1
		res = append(res, s)
	}
	return res, rows.Err()
}
