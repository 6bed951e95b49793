// Package ingest validates incoming message events, classifies client
// questions, and persists the resulting message rows.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finovahq/javob/internal/model"
)

// Store is the persistence surface the ingest service needs.
type Store interface {
	CreateMessage(ctx context.Context, m model.Message) (model.Message, error)
}

// Classifier decides whether an incoming client message is a question.
// Matching is case-insensitive: a trailing question mark or any configured
// keyword as a substring flags the message.
type Classifier struct {
	keywords    []string
	clientRoles map[model.Role]bool
}

// NewClassifier builds a Classifier. Keywords are lowercased once here so the
// per-message check does no allocation beyond lowering the text.
func NewClassifier(keywords []string, clientRoles []model.Role) *Classifier {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	roleSet := make(map[model.Role]bool, len(clientRoles))
	for _, r := range clientRoles {
		roleSet[r] = true
	}
	return &Classifier{keywords: lowered, clientRoles: roleSet}
}

// IsQuestion reports whether the event should open a pending question.
// Only incoming messages from client roles qualify.
func (c *Classifier) IsQuestion(direction model.Direction, senderRole model.Role, text string) bool {
	if direction != model.DirectionIncoming || !c.clientRoles[senderRole] {
		return false
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	lowered := strings.ToLower(trimmed)
	for _, k := range c.keywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

// Service turns validated message events into stored messages.
type Service struct {
	store         Store
	classifier    *Classifier
	responderRole model.Role
	logger        *slog.Logger
}

// NewService builds the ingest service. responderRole is attached to every
// newly opened question so the sweeper knows whose threshold applies.
func NewService(store Store, classifier *Classifier, responderRole model.Role, logger *slog.Logger) *Service {
	return &Service{
		store:         store,
		classifier:    classifier,
		responderRole: responderRole,
		logger:        logger.With("component", "ingest"),
	}
}

// Ingest validates and persists one message event. Invalid events are
// rejected before anything is written.
func (s *Service) Ingest(ctx context.Context, ev model.MessageEventRequest) (model.Message, error) {
	if err := validate(ev); err != nil {
		return model.Message{}, err
	}

	m := model.Message{
		ChatMessageID:      ev.MessageID,
		ChatID:             ev.ChatID,
		SenderID:           ev.SenderID,
		SenderRoleAtMoment: ev.SenderRole,
		Direction:          ev.Direction,
		Text:               ev.Text,
		Timestamp:          ev.Timestamp.UTC(),
		ReplyToMessageID:   ev.ReplyToMessageID,
	}

	if s.classifier.IsQuestion(ev.Direction, ev.SenderRole, ev.Text) {
		m.IsQuestion = true
		pending := model.QuestionPending
		m.QuestionStatus = &pending
		role := s.responderRole
		m.AssignedRole = &role
	}

	stored, err := s.store.CreateMessage(ctx, m)
	if err != nil {
		return model.Message{}, fmt.Errorf("ingest: persist message: %w", err)
	}

	if stored.IsQuestion {
		s.logger.Info("question opened",
			"chat_id", stored.ChatID,
			"chat_message_id", stored.ChatMessageID,
			"assigned_role", s.responderRole)
	}
	return stored, nil
}

func validate(ev model.MessageEventRequest) error {
	if ev.MessageID <= 0 {
		return fmt.Errorf("ingest: message_id is required")
	}
	if ev.ChatID == 0 {
		return fmt.Errorf("ingest: chat_id is required")
	}
	if ev.SenderID == "" {
		return fmt.Errorf("ingest: sender_id is required")
	}
	if !model.ValidRoles[ev.SenderRole] {
		return fmt.Errorf("ingest: unknown sender role %q", ev.SenderRole)
	}
	if ev.Direction != model.DirectionIncoming && ev.Direction != model.DirectionOutgoing {
		return fmt.Errorf("ingest: unknown direction %q", ev.Direction)
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("ingest: timestamp is required")
	}
	return nil
}
