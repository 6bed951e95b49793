package sweep

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finovahq/javob/internal/model"
	"github.com/finovahq/javob/internal/sla"
)

type fakeStore struct {
	pending    []model.Message
	timedOut   map[uuid.UUID]bool
	lastCutoff time.Time
}

func (f *fakeStore) ListPendingQuestionsBefore(_ context.Context, cutoff time.Time, limit int) ([]model.Message, error) {
	f.lastCutoff = cutoff
	var out []model.Message
	for _, q := range f.pending {
		if f.timedOut[q.ID] || !q.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) MarkTimedOut(_ context.Context, id uuid.UUID) (bool, error) {
	if f.timedOut[id] {
		return false, nil
	}
	f.timedOut[id] = true
	return true, nil
}

type fakeNotifier struct {
	escalations []model.Escalation
}

func (f *fakeNotifier) Escalate(_ context.Context, e model.Escalation) error {
	f.escalations = append(f.escalations, e)
	return nil
}

func pendingQuestion(age time.Duration, now time.Time, assigned *model.Role) model.Message {
	status := model.QuestionPending
	return model.Message{
		ID:             uuid.New(),
		ChatID:         -900,
		Text:           "hisobot qachon tayyor?",
		Timestamp:      now.Add(-age),
		IsQuestion:     true,
		QuestionStatus: &status,
		AssignedRole:   assigned,
	}
}

func newSweeper(store *fakeStore, notifier *fakeNotifier, now time.Time) *Sweeper {
	policy := sla.NewPolicy(map[model.Role]time.Duration{
		model.RoleAgent:      10 * time.Minute,
		model.RoleSupervisor: 15 * time.Minute,
	}, 30*time.Minute)
	s := New(store, notifier, policy, 30*time.Minute, 100, slog.Default())
	s.now = func() time.Time { return now }
	return s
}

func TestSweepTimesOutOverdueQuestion(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{timedOut: make(map[uuid.UUID]bool)}
	notifier := &fakeNotifier{}

	// No assigned role: only the global 30 minute cutoff applies.
	q := pendingQuestion(31*time.Minute, now, nil)
	store.pending = append(store.pending, q)

	n, err := newSweeper(store, notifier, now).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.timedOut[q.ID])

	require.Len(t, notifier.escalations, 1)
	e := notifier.escalations[0]
	assert.Equal(t, q.ID, e.QuestionID)
	assert.Equal(t, int64(-900), e.ChatID)
	assert.Equal(t, int64(31), e.DelayMinutes)
	assert.Equal(t, []model.Role{model.RoleAgent, model.RoleSupervisor}, e.RecipientRoles)
}

func TestSweepLeavesFreshQuestionAlone(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{timedOut: make(map[uuid.UUID]bool)}
	notifier := &fakeNotifier{}

	q := pendingQuestion(5*time.Minute, now, nil)
	store.pending = append(store.pending, q)

	n, err := newSweeper(store, notifier, now).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, store.timedOut[q.ID])
	assert.Empty(t, notifier.escalations)
}

func TestSweepAppliesStricterRoleThreshold(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{timedOut: make(map[uuid.UUID]bool)}
	notifier := &fakeNotifier{}

	agent := model.RoleAgent
	// 12 minutes old: past the agent's 10 minute threshold but well under
	// the 30 minute global timeout.
	q := pendingQuestion(12*time.Minute, now, &agent)
	store.pending = append(store.pending, q)

	n, err := newSweeper(store, notifier, now).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, notifier.escalations, 1)
	assert.Equal(t, []model.Role{model.RoleAgent}, notifier.escalations[0].RecipientRoles)
}

func TestSweepFetchesOnlyPossiblyOverdue(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{timedOut: make(map[uuid.UUID]bool)}
	notifier := &fakeNotifier{}

	_, err := newSweeper(store, notifier, now).Run(context.Background())
	require.NoError(t, err)

	// The agent threshold (10m) is the tightest bound, so the fetch asks
	// only for questions at least that old.
	assert.Equal(t, now.Add(-10*time.Minute), store.lastCutoff)
}

func TestSweepIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{timedOut: make(map[uuid.UUID]bool)}
	notifier := &fakeNotifier{}

	q := pendingQuestion(45*time.Minute, now, nil)
	store.pending = append(store.pending, q)

	sweeper := newSweeper(store, notifier, now)
	n1, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	n2, err := sweeper.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n1)
	assert.Zero(t, n2)
	assert.Len(t, notifier.escalations, 1)
}
