package db

import (
	"context"
	"errors"
	"time"

	"github.com/nkmrt3/frnchat/internal/models"
)

// ErrNotFound is returned when no conversation exists for the requested id.
var ErrNotFound = errors.New("conversation not found")

// ConversationStore persists conversations keyed by id.
//
// Implementations return copies; mutating a returned conversation never
// changes stored state. Messages are only ever appended, and UpdatedAt never
// moves backwards.
type ConversationStore interface {
	// ListConversations returns every conversation, most recently updated first.
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	// CreateConversation stores an empty conversation. A blank title becomes
	// models.DefaultConversationTitle.
	CreateConversation(ctx context.Context, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// AppendMessages atomically extends the thread and refreshes UpdatedAt.
	AppendMessages(ctx context.Context, id string, messages []models.Message) (*models.Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Clock returns the current time; stores take one so tests can pin it.
type Clock func() time.Time

var (
	_ ConversationStore = (*Memory)(nil)
	_ ConversationStore = (*Mongo)(nil)
	_ ConversationStore = (*Postgres)(nil)
	_ ConversationStore = (*CachedStore)(nil)
)
