package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/finovahq/javob/internal/model"
)

const kpiColumns = `id, user_id, role, period_start, period_end,
	response_time_score, total_questions, on_time_responses, late_responses,
	report_submission_score, attendance_score, quality_score,
	final_score, bonus_amount, penalty_amount, notes, created_at, updated_at`

// UpsertKpiScore writes a derived KPI rollup. The row is keyed by
// (user_id, period_start, period_end); recomputation overwrites in place,
// so repeated computation with unchanged inputs is a no-op.
func (db *DB) UpsertKpiScore(ctx context.Context, s model.KpiScore) (model.KpiScore, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()

	err := db.pool.QueryRow(ctx,
		`INSERT INTO kpi_scores (id, user_id, role, period_start, period_end,
		 response_time_score, total_questions, on_time_responses, late_responses,
		 report_submission_score, attendance_score, quality_score,
		 final_score, bonus_amount, penalty_amount, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		 ON CONFLICT (user_id, period_start, period_end) DO UPDATE
		 SET role = EXCLUDED.role,
		     response_time_score = EXCLUDED.response_time_score,
		     total_questions = EXCLUDED.total_questions,
		     on_time_responses = EXCLUDED.on_time_responses,
		     late_responses = EXCLUDED.late_responses,
		     report_submission_score = EXCLUDED.report_submission_score,
		     attendance_score = EXCLUDED.attendance_score,
		     quality_score = EXCLUDED.quality_score,
		     final_score = EXCLUDED.final_score,
		     bonus_amount = EXCLUDED.bonus_amount,
		     penalty_amount = EXCLUDED.penalty_amount,
		     notes = EXCLUDED.notes,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		s.ID, s.UserID, string(s.Role), s.PeriodStart, s.PeriodEnd,
		s.ResponseTimeScore, s.TotalQuestions, s.OnTimeResponses, s.LateResponses,
		s.ReportSubmissionScore, s.AttendanceScore, s.QualityScore,
		s.FinalScore, s.BonusAmount, s.PenaltyAmount, s.Notes, now,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.KpiScore{}, fmt.Errorf("storage: upsert kpi score: %w", err)
	}
	return s, nil
}

// GetKpiScore retrieves the rollup for one user and period, or ErrNotFound.
func (db *DB) GetKpiScore(ctx context.Context, userID uuid.UUID, periodStart, periodEnd time.Time) (model.KpiScore, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+kpiColumns+`
		 FROM kpi_scores
		 WHERE user_id = $1 AND period_start = $2 AND period_end = $3`,
		userID, periodStart, periodEnd,
	)
	s, err := scanKpiScore(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.KpiScore{}, ErrNotFound
		}
		return model.KpiScore{}, fmt.Errorf("storage: get kpi score: %w", err)
	}
	return s, nil
}

// ListKpiScoresForPeriod returns all rollups for a period, best score first.
// role filters to one staff role when non-nil.
func (db *DB) ListKpiScoresForPeriod(ctx context.Context, periodStart, periodEnd time.Time, role *model.Role) ([]model.KpiScore, error) {
	query := `SELECT ` + kpiColumns + `
		 FROM kpi_scores
		 WHERE period_start = $1 AND period_end = $2`
	args := []any{periodStart, periodEnd}
	if role != nil {
		query += ` AND role = $3`
		args = append(args, string(*role))
	}
	query += ` ORDER BY final_score DESC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list kpi scores: %w", err)
	}
	defer rows.Close()

	var out []model.KpiScore
	for rows.Next() {
		s, err := scanKpiScore(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan kpi score: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanKpiScore(row scanTarget) (model.KpiScore, error) {
	var (
		s    model.KpiScore
		role string
	)
	err := row.Scan(
		&s.ID, &s.UserID, &role, &s.PeriodStart, &s.PeriodEnd,
		&s.ResponseTimeScore, &s.TotalQuestions, &s.OnTimeResponses, &s.LateResponses,
		&s.ReportSubmissionScore, &s.AttendanceScore, &s.QualityScore,
		&s.FinalScore, &s.BonusAmount, &s.PenaltyAmount, &s.Notes,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return model.KpiScore{}, err
	}
	s.Role = model.Role(role)
	return s, nil
}
