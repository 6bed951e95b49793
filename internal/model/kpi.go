package model

import (
	"time"

	"github.com/google/uuid"
)

// User is the staff registry row the KPI aggregator iterates over.
// ExternalID is the transport-side identity (e.g. the chat platform user id)
// and is what message events carry in sender_id.
type User struct {
	ID          uuid.UUID `json:"id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	BaseSalary  float64   `json:"base_salary"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// KpiWeights are the relative weights of the four KPI components.
// They must sum to 1.0.
type KpiWeights struct {
	ResponseTime     float64 `json:"response_time"`
	ReportSubmission float64 `json:"report_submission"`
	Attendance       float64 `json:"attendance"`
	Quality          float64 `json:"quality"`
}

// Sum returns the total of all weights.
func (w KpiWeights) Sum() float64 {
	return w.ResponseTime + w.ReportSubmission + w.Attendance + w.Quality
}

// DefaultKpiWeights mirror the legacy configuration.
var DefaultKpiWeights = KpiWeights{
	ResponseTime:     0.35,
	ReportSubmission: 0.25,
	Attendance:       0.25,
	Quality:          0.15,
}

// KpiScore is the derived performance rollup for one user and period.
// Recomputation is idempotent: the row is upserted on
// (user_id, period_start, period_end) and always reflects inputs at
// computation time.
type KpiScore struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Role        Role      `json:"role"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	// Response-time component.
	ResponseTimeScore float64 `json:"response_time_score"`
	TotalQuestions    int     `json:"total_questions"`
	OnTimeResponses   int     `json:"on_time_responses"`
	LateResponses     int     `json:"late_responses"`

	// Collaborator-supplied components (0-100; 0 when the collaborator
	// has no data for the period).
	ReportSubmissionScore float64 `json:"report_submission_score"`
	AttendanceScore       float64 `json:"attendance_score"`
	QualityScore          float64 `json:"quality_score"`

	FinalScore    float64 `json:"final_score"`
	BonusAmount   float64 `json:"bonus_amount"`
	PenaltyAmount float64 `json:"penalty_amount"`
	Notes         string  `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuestionOutcome is the per-question slice of data the aggregator needs to
// score a responder: how the question ended and how fast it was answered.
type QuestionOutcome struct {
	Status              QuestionStatus
	ResponseTimeSeconds *int64
	AnsweredByRole      *Role
}
