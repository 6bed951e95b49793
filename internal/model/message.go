package model

import (
	"time"

	"github.com/google/uuid"
)

// Direction indicates whether a message entered or left the monitored chat.
type Direction string

const (
	DirectionIncoming Direction = "INCOMING"
	DirectionOutgoing Direction = "OUTGOING"
)

// Role is a chat participant's role at the moment a message was sent.
type Role string

const (
	RoleClient     Role = "CLIENT"
	RoleAgent      Role = "AGENT"
	RoleSupervisor Role = "SUPERVISOR"
	RoleAdmin      Role = "ADMIN"
	RoleBot        Role = "BOT"
)

// ValidRoles is the closed set of roles the ingest pipeline accepts.
var ValidRoles = map[Role]bool{
	RoleClient:     true,
	RoleAgent:      true,
	RoleSupervisor: true,
	RoleAdmin:      true,
	RoleBot:        true,
}

// QuestionStatus tracks the lifecycle of a flagged question.
// PENDING moves to exactly one of the terminal states and never back.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "PENDING"
	QuestionAnswered QuestionStatus = "ANSWERED"
	QuestionTimedOut QuestionStatus = "TIMED_OUT"
	QuestionClosed   QuestionStatus = "CLOSED"
)

// Terminal reports whether a status can no longer change.
func (s QuestionStatus) Terminal() bool {
	switch s {
	case QuestionAnswered, QuestionTimedOut, QuestionClosed:
		return true
	}
	return false
}

// DetectionMethod records how a question reached its terminal state.
type DetectionMethod string

const (
	DetectionReply      DetectionMethod = "REPLY"
	DetectionTimeWindow DetectionMethod = "TIME_WINDOW"
	DetectionTimeout    DetectionMethod = "SYSTEM_TIMEOUT"
)

// Message is one logged chat message. Rows are append-mostly: after insert,
// only the question-status fields are mutated, and each mutation is a guarded
// PENDING-only transition performed by the correlation engine or the sweeper.
type Message struct {
	ID                  uuid.UUID        `json:"id"`
	ChatMessageID       int64            `json:"chat_message_id"` // transport-assigned message id, unique per chat
	ChatID              int64            `json:"chat_id"`
	SenderID            string           `json:"sender_id"`
	SenderRoleAtMoment  Role             `json:"sender_role_at_moment"`
	Direction           Direction        `json:"direction"`
	Text                string           `json:"text"`
	Timestamp           time.Time        `json:"timestamp"`
	ReplyToMessageID    *int64           `json:"reply_to_message_id,omitempty"`
	IsQuestion          bool             `json:"is_question"`
	QuestionStatus      *QuestionStatus  `json:"question_status,omitempty"`
	AssignedRole        *Role            `json:"assigned_role,omitempty"` // responder role routed at classification time
	AnsweredByMessageID *int64           `json:"answered_by_message_id,omitempty"`
	AnsweredByUserID    *string          `json:"answered_by_user_id,omitempty"`
	AnsweredByRole      *Role            `json:"answered_by_role,omitempty"`
	ResponseTimeSeconds *int64           `json:"response_time_seconds,omitempty"`
	DetectionMethod     *DetectionMethod `json:"answer_detection_method,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// Pending reports whether the message is a question still awaiting an answer.
func (m Message) Pending() bool {
	return m.IsQuestion && m.QuestionStatus != nil && *m.QuestionStatus == QuestionPending
}

// Escalation is the payload sent to the notification collaborator when the
// sweeper times out a question.
type Escalation struct {
	ChatID         int64     `json:"chat_id"`
	RecipientRoles []Role    `json:"recipient_roles"`
	QuestionText   string    `json:"question_text"`
	DelayMinutes   int64     `json:"delay_minutes"`
	QuestionID     uuid.UUID `json:"question_id"`
}
