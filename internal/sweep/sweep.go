// Package sweep periodically finalizes pending questions that outlived
// their response deadline.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finovahq/javob/internal/model"
	"github.com/finovahq/javob/internal/sla"
)

// Store is the persistence surface the sweeper needs.
type Store interface {
	ListPendingQuestionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Message, error)
	MarkTimedOut(ctx context.Context, id uuid.UUID) (bool, error)
}

// Notifier delivers escalation payloads to the notification collaborator.
type Notifier interface {
	Escalate(ctx context.Context, e model.Escalation) error
}

// Sweeper times out overdue pending questions. Each run is idempotent: the
// timeout transition is guarded on PENDING, so a question finalized between
// fetch and update is simply skipped.
type Sweeper struct {
	store         Store
	notifier      Notifier
	policy        *sla.Policy
	globalTimeout time.Duration
	batchSize     int
	logger        *slog.Logger
	now           func() time.Time
}

// New builds a Sweeper.
func New(store Store, notifier Notifier, policy *sla.Policy, globalTimeout time.Duration, batchSize int, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:         store,
		notifier:      notifier,
		policy:        policy,
		globalTimeout: globalTimeout,
		batchSize:     batchSize,
		logger:        logger.With("component", "sweep"),
		now:           time.Now,
	}
}

// Run executes one sweep pass and returns how many questions were timed out.
// Questions whose assigned role carries a threshold stricter than the global
// timeout are cut off at that threshold instead.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	now := s.now().UTC()

	// Fetch only questions old enough to be overdue under the tightest
	// threshold; the per-question role check below narrows further. Keeps
	// the pending-question index scan from walking fresh rows.
	fetchCutoff := now.Add(-s.policy.MinCutoff(s.globalTimeout))
	pending, err := s.store.ListPendingQuestionsBefore(ctx, fetchCutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("sweep: list pending: %w", err)
	}

	timedOut := 0
	for _, q := range pending {
		cutoff := s.policy.TimeoutCutoff(q.AssignedRole, s.globalTimeout)
		age := now.Sub(q.Timestamp)
		if age < cutoff {
			continue
		}

		changed, err := s.store.MarkTimedOut(ctx, q.ID)
		if err != nil {
			return timedOut, fmt.Errorf("sweep: mark timed out: %w", err)
		}
		if !changed {
			// Answered between fetch and update. Leave it alone.
			continue
		}
		timedOut++

		s.logger.Warn("question timed out",
			"question_id", q.ID,
			"chat_id", q.ChatID,
			"age_minutes", int64(age.Minutes()))

		if err := s.notifier.Escalate(ctx, model.Escalation{
			ChatID:         q.ChatID,
			RecipientRoles: recipients(q.AssignedRole),
			QuestionText:   q.Text,
			DelayMinutes:   int64(age.Minutes()),
			QuestionID:     q.ID,
		}); err != nil {
			// The question is already finalized; a lost escalation must
			// not abort the rest of the batch.
			s.logger.Error("escalation delivery failed",
				"question_id", q.ID,
				"error", err)
		}
	}

	return timedOut, nil
}

func recipients(assigned *model.Role) []model.Role {
	if assigned != nil {
		return []model.Role{*assigned}
	}
	return []model.Role{model.RoleAgent, model.RoleSupervisor}
}
