package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finovahq/javob/internal/model"
	"github.com/finovahq/javob/internal/storage"
	"github.com/finovahq/javob/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	testDB = db

	code := m.Run()
	db.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

var chatSeq int64 = -1000

// freshChat returns a chat id unused by other tests so they don't see each
// other's pending questions.
func freshChat() int64 {
	chatSeq--
	return chatSeq
}

func insertQuestion(t *testing.T, chatID, chatMessageID int64, at time.Time) model.Message {
	t.Helper()
	status := model.QuestionPending
	agent := model.RoleAgent
	m, err := testDB.CreateMessage(context.Background(), model.Message{
		ChatMessageID:      chatMessageID,
		ChatID:             chatID,
		SenderID:           "client-1",
		SenderRoleAtMoment: model.RoleClient,
		Direction:          model.DirectionIncoming,
		Text:               "Qachon javob bo'ladi?",
		Timestamp:          at,
		IsQuestion:         true,
		QuestionStatus:     &status,
		AssignedRole:       &agent,
	})
	require.NoError(t, err)
	return m
}

func TestCreateAndGetMessage(t *testing.T) {
	ctx := context.Background()
	chatID := freshChat()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	created := insertQuestion(t, chatID, 1, at)

	got, err := testDB.GetMessage(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, chatID, got.ChatID)
	assert.True(t, got.Pending())
	require.NotNil(t, got.AssignedRole)
	assert.Equal(t, model.RoleAgent, *got.AssignedRole)
	assert.True(t, got.Timestamp.Equal(at))

	byChat, err := testDB.GetMessageByChat(ctx, chatID, 1)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byChat.ID)

	_, err = testDB.GetMessage(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkAnsweredGuardsPending(t *testing.T) {
	ctx := context.Background()
	chatID := freshChat()
	q := insertQuestion(t, chatID, 1, time.Now().UTC().Add(-time.Minute))

	binding := storage.AnswerBinding{
		AnswerMessageID:     2,
		AnswerUserID:        "agent-7",
		AnswerRole:          model.RoleAgent,
		ResponseTimeSeconds: 42,
		Method:              model.DetectionReply,
	}

	bound, err := testDB.MarkAnswered(ctx, q.ID, binding)
	require.NoError(t, err)
	assert.True(t, bound)

	// Second writer loses: the row is no longer PENDING.
	bound, err = testDB.MarkAnswered(ctx, q.ID, binding)
	require.NoError(t, err)
	assert.False(t, bound)

	// And so does the sweeper.
	timedOut, err := testDB.MarkTimedOut(ctx, q.ID)
	require.NoError(t, err)
	assert.False(t, timedOut)

	got, err := testDB.GetMessage(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, got.QuestionStatus)
	assert.Equal(t, model.QuestionAnswered, *got.QuestionStatus)
	require.NotNil(t, got.ResponseTimeSeconds)
	assert.Equal(t, int64(42), *got.ResponseTimeSeconds)
	require.NotNil(t, got.AnsweredByRole)
	assert.Equal(t, model.RoleAgent, *got.AnsweredByRole)
}

func TestMarkTimedOutLeavesResponseTimeUnset(t *testing.T) {
	ctx := context.Background()
	chatID := freshChat()
	q := insertQuestion(t, chatID, 1, time.Now().UTC().Add(-time.Hour))

	timedOut, err := testDB.MarkTimedOut(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, timedOut)

	got, err := testDB.GetMessage(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, got.QuestionStatus)
	assert.Equal(t, model.QuestionTimedOut, *got.QuestionStatus)
	assert.Nil(t, got.ResponseTimeSeconds)
	require.NotNil(t, got.DetectionMethod)
	assert.Equal(t, model.DetectionTimeout, *got.DetectionMethod)

	// Answering after timeout is a no-op.
	bound, err := testDB.MarkAnswered(ctx, q.ID, storage.AnswerBinding{
		AnswerMessageID: 9, AnswerUserID: "agent-7",
		AnswerRole: model.RoleAgent, Method: model.DetectionReply,
	})
	require.NoError(t, err)
	assert.False(t, bound)
}

func TestMarkClosed(t *testing.T) {
	ctx := context.Background()
	q := insertQuestion(t, freshChat(), 1, time.Now().UTC())

	closed, err := testDB.MarkClosed(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, closed)

	got, err := testDB.GetMessage(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuestionClosed, *got.QuestionStatus)
}

func TestLatestPendingQuestionPicksNearest(t *testing.T) {
	ctx := context.Background()
	chatID := freshChat()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	older := insertQuestion(t, chatID, 1, base)
	newer := insertQuestion(t, chatID, 2, base.Add(3*time.Minute))

	got, err := testDB.LatestPendingQuestion(ctx, chatID,
		[]model.Role{model.RoleClient}, base.Add(-time.Minute), base.Add(8*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	// Once the newer one is finalized, the older one becomes the match.
	_, err = testDB.MarkAnswered(ctx, newer.ID, storage.AnswerBinding{
		AnswerMessageID: 3, AnswerUserID: "agent-7",
		AnswerRole: model.RoleAgent, ResponseTimeSeconds: 300,
		Method: model.DetectionTimeWindow,
	})
	require.NoError(t, err)

	got, err = testDB.LatestPendingQuestion(ctx, chatID,
		[]model.Role{model.RoleClient}, base.Add(-time.Minute), base.Add(8*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	// Out of window: nothing matches.
	_, err = testDB.LatestPendingQuestion(ctx, chatID,
		[]model.Role{model.RoleClient}, base.Add(10*time.Minute), base.Add(20*time.Minute))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListPendingQuestionsBefore(t *testing.T) {
	ctx := context.Background()
	chatID := freshChat()
	base := time.Now().UTC().Add(-2 * time.Hour)

	first := insertQuestion(t, chatID, 1, base)
	second := insertQuestion(t, chatID, 2, base.Add(10*time.Minute))
	insertQuestion(t, chatID, 3, time.Now().UTC().Add(time.Hour))

	pending, err := testDB.ListPendingQuestionsBefore(ctx, time.Now().UTC(), 100)
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, m := range pending {
		if m.ChatID == chatID {
			ids = append(ids, m.ID)
		}
	}
	// Oldest first.
	require.Len(t, ids, 2)
	assert.Equal(t, first.ID, ids[0])
	assert.Equal(t, second.ID, ids[1])
}

func TestUpsertUserIdempotent(t *testing.T) {
	ctx := context.Background()

	created, err := testDB.UpsertUser(ctx, model.User{
		ExternalID:  "tg-777",
		DisplayName: "Aziza",
		Role:        model.RoleAgent,
		BaseSalary:  5_000_000,
		Active:      true,
	})
	require.NoError(t, err)

	// Same external id updates in place.
	updated, err := testDB.UpsertUser(ctx, model.User{
		ExternalID:  "tg-777",
		DisplayName: "Aziza K.",
		Role:        model.RoleSupervisor,
		BaseSalary:  7_000_000,
		Active:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	got, err := testDB.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Aziza K.", got.DisplayName)
	assert.Equal(t, model.RoleSupervisor, got.Role)
	assert.Equal(t, 7_000_000.0, got.BaseSalary)
}

func TestQuestionOutcomesForResponder(t *testing.T) {
	ctx := context.Background()
	chatID := freshChat()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	answeredQ := insertQuestion(t, chatID, 1, base)
	_ = insertQuestion(t, chatID, 2, base.Add(time.Minute)) // stays pending
	timedOutQ := insertQuestion(t, chatID, 3, base.Add(2*time.Minute))

	bound, err := testDB.MarkAnswered(ctx, answeredQ.ID, storage.AnswerBinding{
		AnswerMessageID: 10, AnswerUserID: "tg-agent-1",
		AnswerRole: model.RoleAgent, ResponseTimeSeconds: 120,
		Method: model.DetectionReply,
	})
	require.NoError(t, err)
	require.True(t, bound)

	timedOut, err := testDB.MarkTimedOut(ctx, timedOutQ.ID)
	require.NoError(t, err)
	require.True(t, timedOut)

	outcomes, err := testDB.QuestionOutcomesForResponder(ctx, "tg-agent-1", model.RoleAgent,
		base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)

	var answered, timed int
	for _, o := range outcomes {
		switch o.Status {
		case model.QuestionAnswered:
			answered++
			require.NotNil(t, o.ResponseTimeSeconds)
			assert.Equal(t, int64(120), *o.ResponseTimeSeconds)
		case model.QuestionTimedOut:
			timed++
		}
	}
	// Pending questions are excluded; the timed-out one counts because it
	// was assigned to the responder's role.
	assert.Equal(t, 1, answered)
	assert.GreaterOrEqual(t, timed, 1)
}

func TestUpsertKpiScoreIdempotent(t *testing.T) {
	ctx := context.Background()

	user, err := testDB.UpsertUser(ctx, model.User{
		ExternalID:  "tg-kpi-1",
		DisplayName: "Bekzod",
		Role:        model.RoleAgent,
		BaseSalary:  5_000_000,
		Active:      true,
	})
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	first, err := testDB.UpsertKpiScore(ctx, model.KpiScore{
		UserID: user.ID, Role: user.Role,
		PeriodStart: start, PeriodEnd: end,
		ResponseTimeScore: 50, TotalQuestions: 4,
		OnTimeResponses: 2, LateResponses: 2,
		FinalScore: 50,
	})
	require.NoError(t, err)

	second, err := testDB.UpsertKpiScore(ctx, model.KpiScore{
		UserID: user.ID, Role: user.Role,
		PeriodStart: start, PeriodEnd: end,
		ResponseTimeScore: 100, TotalQuestions: 4,
		OnTimeResponses: 4,
		FinalScore:      90, BonusAmount: 500_000,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := testDB.GetKpiScore(ctx, user.ID, start, end)
	require.NoError(t, err)
	assert.Equal(t, 90.0, got.FinalScore)
	assert.Equal(t, 500_000.0, got.BonusAmount)
	assert.Equal(t, 4, got.OnTimeResponses)

	scores, err := testDB.ListKpiScoresForPeriod(ctx, start, end, nil)
	require.NoError(t, err)
	require.NotEmpty(t, scores)
	// Best score first.
	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1].FinalScore, scores[i].FinalScore)
	}
}

func TestEscalationNotify(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, testDB.Listen(ctx, storage.ChannelEscalations))

	want := model.Escalation{
		ChatID:         -42,
		RecipientRoles: []model.Role{model.RoleAgent},
		QuestionText:   "Kurs qancha?",
		DelayMinutes:   31,
		QuestionID:     uuid.New(),
	}
	require.NoError(t, testDB.Escalate(ctx, want))

	channel, payload, err := testDB.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.ChannelEscalations, channel)

	var got model.Escalation
	require.NoError(t, json.Unmarshal([]byte(payload), &got))
	assert.Equal(t, want, got)
}
