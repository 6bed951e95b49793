// Package correlate binds outgoing staff messages to pending client
// questions. Two strategies run in precedence order: an explicit reply link
// is authoritative whenever one is present; only link-free messages fall to
// the trailing time window, which catches the most recent pending question.
package correlate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finovahq/javob/internal/model"
	"github.com/finovahq/javob/internal/storage"
)

// Store is the persistence surface the correlation engine needs.
type Store interface {
	GetMessageByChat(ctx context.Context, chatID, chatMessageID int64) (model.Message, error)
	LatestPendingQuestion(ctx context.Context, chatID int64, clientRoles []model.Role, from, before time.Time) (model.Message, error)
	MarkAnswered(ctx context.Context, id uuid.UUID, b storage.AnswerBinding) (bool, error)
}

// Matcher attempts to find the pending question an outgoing message answers.
// claimed reports that the strategy is authoritative for this message; when a
// claiming strategy finds no question, the chain stops and the message binds
// nothing. A nil question without a claim lets the next strategy run.
type Matcher interface {
	Match(ctx context.Context, outgoing model.Message) (question *model.Message, method model.DetectionMethod, claimed bool, err error)
}

// replyMatcher resolves an explicit reply link to its target question. A
// message that replies to something claims the reply strategy outright: it is
// addressed to one specific message, so a dangling or non-question target
// must not be reinterpreted as a window match against an unrelated question.
type replyMatcher struct {
	store Store
}

func (m *replyMatcher) Match(ctx context.Context, outgoing model.Message) (*model.Message, model.DetectionMethod, bool, error) {
	if outgoing.ReplyToMessageID == nil {
		return nil, "", false, nil
	}
	target, err := m.store.GetMessageByChat(ctx, outgoing.ChatID, *outgoing.ReplyToMessageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", true, nil
		}
		return nil, "", true, err
	}
	if !target.Pending() {
		return nil, "", true, nil
	}
	return &target, model.DetectionReply, true, nil
}

// windowMatcher binds to the most recent pending question the outgoing
// message could plausibly answer: one asked within the trailing window
// before the response. Nearest-in-time wins when several are open.
type windowMatcher struct {
	store       Store
	window      time.Duration
	clientRoles []model.Role
}

func (m *windowMatcher) Match(ctx context.Context, outgoing model.Message) (*model.Message, model.DetectionMethod, bool, error) {
	from := outgoing.Timestamp.Add(-m.window)
	question, err := m.store.LatestPendingQuestion(ctx, outgoing.ChatID, m.clientRoles, from, outgoing.Timestamp)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", false, nil
		}
		return nil, "", true, err
	}
	return &question, model.DetectionTimeWindow, true, nil
}

// Engine runs the matcher chain for every outgoing staff message.
type Engine struct {
	store    Store
	matchers []Matcher
	logger   *slog.Logger
}

// NewEngine builds the correlation engine with the reply strategy ahead of
// the time-window strategy.
func NewEngine(store Store, window time.Duration, clientRoles []model.Role, logger *slog.Logger) *Engine {
	return &Engine{
		store: store,
		matchers: []Matcher{
			&replyMatcher{store: store},
			&windowMatcher{store: store, window: window, clientRoles: clientRoles},
		},
		logger: logger.With("component", "correlate"),
	}
}

// Observe inspects one stored outgoing message and, when a strategy matches,
// finalizes the question it answers. Correlation failures are logged and
// swallowed so message ingestion never fails on account of them.
func (e *Engine) Observe(ctx context.Context, outgoing model.Message) {
	if outgoing.Direction != model.DirectionOutgoing {
		return
	}
	if outgoing.SenderRoleAtMoment == model.RoleClient || outgoing.SenderRoleAtMoment == model.RoleBot {
		return
	}

	for _, matcher := range e.matchers {
		question, method, claimed, err := matcher.Match(ctx, outgoing)
		if err != nil {
			e.logger.Error("correlation strategy failed",
				"chat_id", outgoing.ChatID,
				"chat_message_id", outgoing.ChatMessageID,
				"error", err)
			return
		}
		if question == nil {
			if claimed {
				e.logger.Debug("no correlation",
					"chat_id", outgoing.ChatID,
					"chat_message_id", outgoing.ChatMessageID)
				return
			}
			continue
		}

		responseTime := outgoing.Timestamp.Sub(question.Timestamp)
		if responseTime < 0 {
			// Clock skew between transports: the answer predates the
			// question it supposedly addresses. Bind nothing rather than
			// reinterpret the message through a weaker strategy.
			e.logger.Warn("negative response time, skipping bind",
				"question_id", question.ID,
				"chat_id", outgoing.ChatID,
				"chat_message_id", outgoing.ChatMessageID)
			return
		}

		bound, err := e.store.MarkAnswered(ctx, question.ID, storage.AnswerBinding{
			AnswerMessageID:     outgoing.ChatMessageID,
			AnswerUserID:        outgoing.SenderID,
			AnswerRole:          outgoing.SenderRoleAtMoment,
			ResponseTimeSeconds: int64(responseTime.Seconds()),
			Method:              method,
		})
		if err != nil {
			e.logger.Error("answer binding failed",
				"question_id", question.ID,
				"error", err)
			return
		}
		if !bound {
			// Lost the race to the sweeper or another responder. The
			// question is already terminal, so there is nothing to bind.
			e.logger.Debug("question already finalized",
				"question_id", question.ID,
				"method", method)
			return
		}

		e.logger.Info("question answered",
			"question_id", question.ID,
			"chat_id", outgoing.ChatID,
			"answered_by", outgoing.SenderID,
			"method", method,
			"response_time_seconds", int64(responseTime.Seconds()))
		return
	}
}
