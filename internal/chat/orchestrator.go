// Package chat runs a single chat turn: store the user's message, ask the
// model for a reply and store that too.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nkmrt3/frnchat/internal/completion"
	"github.com/nkmrt3/frnchat/internal/db"
	"github.com/nkmrt3/frnchat/internal/models"
)

// FallbackReply is stored as the assistant's message when the model cannot be reached.
const FallbackReply = "I apologize, but I'm having trouble connecting to the AI service at the moment. Please try again later."

// ErrEmptyMessage rejects a send whose text is empty after trimming.
var ErrEmptyMessage = errors.New("message is required")

// Completer produces the assistant's next message for a history.
type Completer interface {
	Complete(ctx context.Context, history []completion.Message) (string, error)
}

// Outcome tells a completed reply apart from the fallback substituted on failure.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

type SendInput struct {
	Message        string
	ConversationID string
}

type Result struct {
	Conversation *models.Conversation
	Reply        string
	Outcome      Outcome
	// Cause is the completion error behind a fallback reply.
	Cause error
	// Created is set when the turn started a new conversation.
	Created bool
}

type Orchestrator struct {
	store     db.ConversationStore
	completer Completer
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Orchestrator)

// WithClock overrides the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func NewOrchestrator(store db.ConversationStore, completer Completer, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		store:     store,
		completer: completer,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Send runs one chat turn. A completion failure is not an error: the turn
// finishes with FallbackReply and OutcomeFallback. Errors are either
// ErrEmptyMessage or a store failure.
//
// The turn is detached from ctx cancellation so a send that reached the
// model always gets persisted.
func (o *Orchestrator) Send(ctx context.Context, input SendInput) (*Result, error) {
	text := strings.TrimSpace(input.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	ctx = context.WithoutCancel(ctx)

	conv, created, err := o.resolveConversation(ctx, strings.TrimSpace(input.ConversationID), text)
	if err != nil {
		return nil, err
	}

	userMessage := models.Message{
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: models.Timestamp(o.now()),
	}

	history := make([]completion.Message, 0, len(conv.Messages)+1)
	for _, msg := range conv.Messages {
		history = append(history, completion.Message{Role: string(msg.Role), Content: msg.Content})
	}
	history = append(history, completion.Message{Role: string(userMessage.Role), Content: userMessage.Content})

	result := &Result{Outcome: OutcomeCompleted, Created: created}

	reply, err := o.completer.Complete(ctx, history)
	if err != nil {
		o.logger.Warn("completion failed, storing fallback reply",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
		reply = FallbackReply
		result.Outcome = OutcomeFallback
		result.Cause = err
	}

	assistantMessage := models.Message{
		Role:      models.RoleAssistant,
		Content:   reply,
		Timestamp: models.Timestamp(o.now()),
	}

	updated, err := o.store.AppendMessages(ctx, conv.ID, []models.Message{userMessage, assistantMessage})
	if err != nil {
		if created {
			o.discardConversation(ctx, conv.ID)
		}
		return nil, fmt.Errorf("persist chat turn: %w", err)
	}

	result.Conversation = updated
	result.Reply = reply
	return result, nil
}

// resolveConversation loads the requested conversation. An unknown id starts
// a new conversation instead of failing, matching how the UI recovers after a
// conversation was deleted elsewhere.
func (o *Orchestrator) resolveConversation(ctx context.Context, id, text string) (*models.Conversation, bool, error) {
	if id != "" {
		conv, err := o.store.GetConversation(ctx, id)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, false, fmt.Errorf("load conversation: %w", err)
		}
		o.logger.Warn("conversation not found, starting a new one", zap.String("conversation_id", id))
	}

	conv, err := o.store.CreateConversation(ctx, models.TitleFromMessage(text))
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	return conv, true, nil
}

// discardConversation removes a conversation this turn created but could not
// fill, so a failed first message leaves nothing behind.
func (o *Orchestrator) discardConversation(ctx context.Context, id string) {
	if err := o.store.DeleteConversation(ctx, id); err != nil && !errors.Is(err, db.ErrNotFound) {
		o.logger.Warn("failed to discard empty conversation",
			zap.String("conversation_id", id),
			zap.Error(err))
	}
}
