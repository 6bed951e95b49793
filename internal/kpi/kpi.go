// Package kpi derives per-user performance rollups from question outcomes
// and collaborator-supplied component scores.
package kpi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/finovahq/javob/internal/config"
	"github.com/finovahq/javob/internal/model"
	"github.com/finovahq/javob/internal/sla"
	"github.com/finovahq/javob/internal/storage"
)

// Store is the persistence surface the aggregator needs.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	ListActiveUsers(ctx context.Context) ([]model.User, error)
	QuestionOutcomesForResponder(ctx context.Context, userExternalID string, role model.Role, start, end time.Time) ([]model.QuestionOutcome, error)
	UpsertKpiScore(ctx context.Context, s model.KpiScore) (model.KpiScore, error)
}

// ComponentSource supplies one externally tracked KPI component (report
// submission, attendance, quality review) as a 0-100 score for the period.
// ErrNoData means the collaborator has nothing recorded for the user.
type ComponentSource interface {
	Score(ctx context.Context, user model.User, start, end time.Time) (float64, error)
}

// ErrNoData is returned by a ComponentSource that has no records for the
// requested user and period. The component scores zero in that case.
var ErrNoData = errors.New("kpi: no component data")

// Sources bundles the optional component collaborators. A nil entry scores
// zero for every user.
type Sources struct {
	Reports    ComponentSource
	Attendance ComponentSource
	Quality    ComponentSource
}

// Aggregator computes and persists KPI rollups.
type Aggregator struct {
	store   Store
	policy  *sla.Policy
	weights model.KpiWeights
	bands   config.BandTable
	sources Sources
	logger  *slog.Logger
}

// NewAggregator builds the aggregator.
func NewAggregator(store Store, policy *sla.Policy, weights model.KpiWeights, bands config.BandTable, sources Sources, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:   store,
		policy:  policy,
		weights: weights,
		bands:   bands,
		sources: sources,
		logger:  logger.With("component", "kpi"),
	}
}

// ComputeUser recomputes and upserts one user's rollup for the period.
// Only finalized questions count: answered ones attributed to the user plus
// timeouts routed to the user's role. Open questions do not move the score
// until they resolve.
func (a *Aggregator) ComputeUser(ctx context.Context, user model.User, start, end time.Time) (model.KpiScore, error) {
	outcomes, err := a.store.QuestionOutcomesForResponder(ctx, user.ExternalID, user.Role, start, end)
	if err != nil {
		return model.KpiScore{}, fmt.Errorf("kpi: outcomes for %s: %w", user.ExternalID, err)
	}

	score := model.KpiScore{
		UserID:      user.ID,
		Role:        user.Role,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	for _, o := range outcomes {
		switch o.Status {
		case model.QuestionAnswered:
			score.TotalQuestions++
			if o.ResponseTimeSeconds != nil && o.AnsweredByRole != nil &&
				a.policy.OnTime(*o.AnsweredByRole, time.Duration(*o.ResponseTimeSeconds)*time.Second) {
				score.OnTimeResponses++
			} else {
				score.LateResponses++
			}
		case model.QuestionTimedOut:
			score.TotalQuestions++
			score.LateResponses++
		}
	}

	if score.TotalQuestions > 0 {
		score.ResponseTimeScore = 100 * float64(score.OnTimeResponses) / float64(score.TotalQuestions)
	}

	score.ReportSubmissionScore = a.componentScore(ctx, "reports", a.sources.Reports, user, start, end)
	score.AttendanceScore = a.componentScore(ctx, "attendance", a.sources.Attendance, user, start, end)
	score.QualityScore = a.componentScore(ctx, "quality", a.sources.Quality, user, start, end)

	score.FinalScore = a.weights.ResponseTime*score.ResponseTimeScore +
		a.weights.ReportSubmission*score.ReportSubmissionScore +
		a.weights.Attendance*score.AttendanceScore +
		a.weights.Quality*score.QualityScore

	band := a.bands.Match(score.FinalScore)
	score.BonusAmount = band.BonusRate * user.BaseSalary
	score.PenaltyAmount = band.PenaltyRate * user.BaseSalary

	stored, err := a.store.UpsertKpiScore(ctx, score)
	if err != nil {
		return model.KpiScore{}, fmt.Errorf("kpi: upsert score for %s: %w", user.ExternalID, err)
	}

	a.logger.Info("kpi computed",
		"user", user.ExternalID,
		"period_start", start,
		"final_score", stored.FinalScore,
		"bonus", stored.BonusAmount,
		"penalty", stored.PenaltyAmount)
	return stored, nil
}

// ComputeUserByID resolves the user and delegates to ComputeUser.
// Returns storage.ErrNotFound unwrapped when the user does not exist.
func (a *Aggregator) ComputeUserByID(ctx context.Context, userID uuid.UUID, start, end time.Time) (model.KpiScore, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.KpiScore{}, storage.ErrNotFound
		}
		return model.KpiScore{}, fmt.Errorf("kpi: get user: %w", err)
	}
	return a.ComputeUser(ctx, user, start, end)
}

// ComputePeriod recomputes every active user's rollup for the period.
// Users are processed concurrently; the first failure cancels the rest.
func (a *Aggregator) ComputePeriod(ctx context.Context, start, end time.Time) ([]model.KpiScore, error) {
	users, err := a.store.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("kpi: list users: %w", err)
	}

	scores := make([]model.KpiScore, len(users))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, user := range users {
		g.Go(func() error {
			s, err := a.ComputeUser(ctx, user, start, end)
			if err != nil {
				return err
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// componentScore queries one collaborator, treating a nil source or missing
// data as zero. Other failures also score zero so one collaborator outage
// cannot block the whole recomputation, but they are logged at warn.
func (a *Aggregator) componentScore(ctx context.Context, name string, src ComponentSource, user model.User, start, end time.Time) float64 {
	if src == nil {
		return 0
	}
	v, err := src.Score(ctx, user, start, end)
	if err != nil {
		if !errors.Is(err, ErrNoData) {
			a.logger.Warn("component source failed",
				"source", name,
				"user", user.ExternalID,
				"error", err)
		}
		return 0
	}
	return v
}
