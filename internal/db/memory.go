package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkmrt3/frnchat/internal/models"
)

// Memory is a process-local ConversationStore used for development and tests.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	now           Clock
}

func NewMemory(now Clock) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		conversations: make(map[string]*models.Conversation),
		now:           now,
	}
}

func (m *Memory) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		result = append(result, conv.Clone())
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (m *Memory) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	conv := models.NewConversation(uuid.NewString(), title, models.Timestamp(m.now()))

	m.mu.Lock()
	stored := conv.Clone()
	m.conversations[conv.ID] = &stored
	m.mu.Unlock()

	return &conv, nil
}

func (m *Memory) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	clone := conv.Clone()
	return &clone, nil
}

func (m *Memory) AppendMessages(ctx context.Context, id string, messages []models.Message) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	conv.Messages = append(conv.Messages, messages...)
	m.touchLocked(conv)

	clone := conv.Clone()
	return &clone, nil
}

func (m *Memory) UpdateTitle(ctx context.Context, id, title string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	conv.Title = title
	m.touchLocked(conv)

	clone := conv.Clone()
	return &clone, nil
}

func (m *Memory) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

// touchLocked refreshes UpdatedAt without letting it go backwards.
func (m *Memory) touchLocked(conv *models.Conversation) {
	now := models.Timestamp(m.now())
	if now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}
}
