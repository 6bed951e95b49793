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

const messageColumns = `id, chat_message_id, chat_id, sender_id, sender_role, direction,
	text, timestamp, reply_to_message_id, is_question, question_status, assigned_role,
	answered_by_message_id, answered_by_user_id, answered_by_role,
	response_time_seconds, answer_detection_method, created_at`

// CreateMessage inserts a message and returns it.
func (db *DB) CreateMessage(ctx context.Context, m model.Message) (model.Message, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_message_id, chat_id, sender_id, sender_role, direction,
		 text, timestamp, reply_to_message_id, is_question, question_status, assigned_role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.ChatMessageID, m.ChatID, m.SenderID, string(m.SenderRoleAtMoment), string(m.Direction),
		m.Text, m.Timestamp, m.ReplyToMessageID, m.IsQuestion,
		statusPtr(m.QuestionStatus), rolePtr(m.AssignedRole), m.CreatedAt,
	)
	if err != nil {
		return model.Message{}, fmt.Errorf("storage: create message: %w", err)
	}
	return m, nil
}

// GetMessage retrieves a message by primary key.
func (db *DB) GetMessage(ctx context.Context, id uuid.UUID) (model.Message, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Message{}, ErrNotFound
		}
		return model.Message{}, fmt.Errorf("storage: get message: %w", err)
	}
	return m, nil
}

// GetMessageByChat retrieves a message by its transport-assigned id within a chat.
// Used by the REPLY strategy to resolve reply links.
func (db *DB) GetMessageByChat(ctx context.Context, chatID, chatMessageID int64) (model.Message, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 AND chat_message_id = $2`,
		chatID, chatMessageID)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Message{}, ErrNotFound
		}
		return model.Message{}, fmt.Errorf("storage: get message by chat: %w", err)
	}
	return m, nil
}

// AnswerBinding carries everything MarkAnswered writes onto the question row.
type AnswerBinding struct {
	AnswerMessageID     int64
	AnswerUserID        string
	AnswerRole          model.Role
	ResponseTimeSeconds int64
	Method              model.DetectionMethod
}

// MarkAnswered transitions a PENDING question to ANSWERED.
// The WHERE clause re-checks status so only one writer can finalize the row;
// returns false when the question was already finalized by someone else.
func (db *DB) MarkAnswered(ctx context.Context, id uuid.UUID, b AnswerBinding) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE messages
		 SET question_status = $2,
		     answered_by_message_id = $3,
		     answered_by_user_id = $4,
		     answered_by_role = $5,
		     response_time_seconds = $6,
		     answer_detection_method = $7
		 WHERE id = $1 AND is_question AND question_status = $8`,
		id, string(model.QuestionAnswered),
		b.AnswerMessageID, b.AnswerUserID, string(b.AnswerRole),
		b.ResponseTimeSeconds, string(b.Method),
		string(model.QuestionPending),
	)
	if err != nil {
		return false, fmt.Errorf("storage: mark answered: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkTimedOut transitions a PENDING question to TIMED_OUT.
// response_time_seconds stays NULL: there was no response.
func (db *DB) MarkTimedOut(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE messages
		 SET question_status = $2, answer_detection_method = $3
		 WHERE id = $1 AND is_question AND question_status = $4`,
		id, string(model.QuestionTimedOut), string(model.DetectionTimeout),
		string(model.QuestionPending),
	)
	if err != nil {
		return false, fmt.Errorf("storage: mark timed out: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkClosed transitions a PENDING question to CLOSED (external closure,
// e.g. the client withdrew the question).
func (db *DB) MarkClosed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE messages
		 SET question_status = $2
		 WHERE id = $1 AND is_question AND question_status = $3`,
		id, string(model.QuestionClosed), string(model.QuestionPending),
	)
	if err != nil {
		return false, fmt.Errorf("storage: mark closed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LatestPendingQuestion returns the most recent still-pending question in the
// chat from a client-role sender with from <= timestamp < before, or ErrNotFound.
// Nearest-in-time wins when several questions are open concurrently.
func (db *DB) LatestPendingQuestion(ctx context.Context, chatID int64, clientRoles []model.Role, from, before time.Time) (model.Message, error) {
	roles := make([]string, len(clientRoles))
	for i, r := range clientRoles {
		roles[i] = string(r)
	}

	row := db.pool.QueryRow(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE chat_id = $1
		   AND is_question
		   AND question_status = $2
		   AND sender_role = ANY($3)
		   AND timestamp >= $4
		   AND timestamp < $5
		 ORDER BY timestamp DESC
		 LIMIT 1`,
		chatID, string(model.QuestionPending), roles, from, before,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Message{}, ErrNotFound
		}
		return model.Message{}, fmt.Errorf("storage: latest pending question: %w", err)
	}
	return m, nil
}

// ListPendingQuestionsBefore returns pending questions older than the cutoff,
// oldest first, capped at limit. The sweeper applies per-role thresholds on top.
func (db *DB) ListPendingQuestionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Message, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE is_question AND question_status = $1 AND timestamp < $2
		 ORDER BY timestamp ASC
		 LIMIT $3`,
		string(model.QuestionPending), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending questions: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan pending question: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// QuestionOutcomesForResponder returns the finalized question outcomes that
// count toward a responder's KPI for the period: questions the user answered,
// plus timed-out questions routed to the user's role. PENDING and CLOSED
// questions are excluded.
func (db *DB) QuestionOutcomesForResponder(ctx context.Context, userExternalID string, role model.Role, start, end time.Time) ([]model.QuestionOutcome, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT question_status, response_time_seconds, answered_by_role
		 FROM messages
		 WHERE is_question
		   AND timestamp >= $3 AND timestamp < $4
		   AND ((question_status = $5 AND answered_by_user_id = $1)
		     OR (question_status = $6 AND assigned_role = $2))`,
		userExternalID, string(role), start, end,
		string(model.QuestionAnswered), string(model.QuestionTimedOut),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: question outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.QuestionOutcome
	for rows.Next() {
		var (
			status  string
			seconds *int64
			ansRole *string
		)
		if err := rows.Scan(&status, &seconds, &ansRole); err != nil {
			return nil, fmt.Errorf("storage: scan question outcome: %w", err)
		}
		o := model.QuestionOutcome{
			Status:              model.QuestionStatus(status),
			ResponseTimeSeconds: seconds,
		}
		if ansRole != nil {
			r := model.Role(*ansRole)
			o.AnsweredByRole = &r
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// scanTarget is satisfied by both pgx.Row and pgx.Rows.
type scanTarget interface {
	Scan(dest ...any) error
}

func scanMessage(row scanTarget) (model.Message, error) {
	var (
		m          model.Message
		senderRole string
		direction  string
		status     *string
		assigned   *string
		ansRole    *string
		method     *string
	)
	err := row.Scan(
		&m.ID, &m.ChatMessageID, &m.ChatID, &m.SenderID, &senderRole, &direction,
		&m.Text, &m.Timestamp, &m.ReplyToMessageID, &m.IsQuestion, &status, &assigned,
		&m.AnsweredByMessageID, &m.AnsweredByUserID, &ansRole,
		&m.ResponseTimeSeconds, &method, &m.CreatedAt,
	)
	if err != nil {
		return model.Message{}, err
	}
	m.SenderRoleAtMoment = model.Role(senderRole)
	m.Direction = model.Direction(direction)
	if status != nil {
		s := model.QuestionStatus(*status)
		m.QuestionStatus = &s
	}
	if assigned != nil {
		r := model.Role(*assigned)
		m.AssignedRole = &r
	}
	if ansRole != nil {
		r := model.Role(*ansRole)
		m.AnsweredByRole = &r
	}
	if method != nil {
		d := model.DetectionMethod(*method)
		m.DetectionMethod = &d
	}
	return m, nil
}

func statusPtr(s *model.QuestionStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func rolePtr(r *model.Role) *string {
	if r == nil {
		return nil
	}
	v := string(*r)
	return &v
}
