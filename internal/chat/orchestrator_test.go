package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nkmrt3/frnchat/internal/completion"
	"github.com/nkmrt3/frnchat/internal/db"
	"github.com/nkmrt3/frnchat/internal/models"
)

type fakeCompleter struct {
	reply   string
	err     error
	calls   int
	history []completion.Message
}

func (f *fakeCompleter) Complete(ctx context.Context, history []completion.Message) (string, error) {
	f.calls++
	f.history = append([]completion.Message(nil), history...)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestSendRejectsBlankMessageBeforeTouchingStore(t *testing.T) {
	store := db.NewMemory(nil)
	completer := &fakeCompleter{reply: "unused"}
	orchestrator := NewOrchestrator(store, completer, nil)

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := orchestrator.Send(context.Background(), SendInput{Message: text}); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("expected ErrEmptyMessage for %q, got %v", text, err)
		}
	}

	list, err := store.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no conversations created, got %d", len(list))
	}
	if completer.calls != 0 {
		t.Fatalf("expected completer not to be called")
	}
}

func TestSendCreatesConversationFromFirstMessage(t *testing.T) {
	store := db.NewMemory(nil)
	completer := &fakeCompleter{reply: "Hello! How can I help?"}
	orchestrator := NewOrchestrator(store, completer, nil)

	message := "  Can you explain how goroutines are scheduled?  "
	result, err := orchestrator.Send(context.Background(), SendInput{Message: message})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !result.Created {
		t.Fatalf("expected a new conversation")
	}
	if result.Outcome != OutcomeCompleted || result.Cause != nil {
		t.Fatalf("expected completed outcome, got %s (%v)", result.Outcome, result.Cause)
	}
	if result.Reply != "Hello! How can I help?" {
		t.Fatalf("unexpected reply %q", result.Reply)
	}

	conv := result.Conversation
	if conv.Title != "Can you explain how goroutines..." {
		t.Fatalf("unexpected derived title %q", conv.Title)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != models.RoleUser || conv.Messages[0].Content != strings.TrimSpace(message) {
		t.Fatalf("unexpected user message %+v", conv.Messages[0])
	}
	if conv.Messages[1].Role != models.RoleAssistant || conv.Messages[1].Content != result.Reply {
		t.Fatalf("unexpected assistant message %+v", conv.Messages[1])
	}

	stored, err := store.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Messages) != 2 {
		t.Fatalf("expected turn to be persisted, got %d messages", len(stored.Messages))
	}
}

func TestSendPassesFullHistoryToCompleter(t *testing.T) {
	store := db.NewMemory(nil)
	completer := &fakeCompleter{reply: "first reply"}
	orchestrator := NewOrchestrator(store, completer, nil)
	ctx := context.Background()

	first, err := orchestrator.Send(ctx, SendInput{Message: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	completer.reply = "second reply"
	second, err := orchestrator.Send(ctx, SendInput{Message: "tell me more", ConversationID: first.Conversation.ID})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if second.Created {
		t.Fatalf("expected existing conversation to be reused")
	}
	if second.Conversation.ID != first.Conversation.ID {
		t.Fatalf("expected same conversation id")
	}

	want := []completion.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "first reply"},
		{Role: "user", Content: "tell me more"},
	}
	if len(completer.history) != len(want) {
		t.Fatalf("expected %d history entries, got %d", len(want), len(completer.history))
	}
	for i := range want {
		if completer.history[i] != want[i] {
			t.Fatalf("history %d: expected %+v, got %+v", i, want[i], completer.history[i])
		}
	}

	if len(second.Conversation.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(second.Conversation.Messages))
	}
}

func TestSendStoresFallbackWhenCompletionFails(t *testing.T) {
	store := db.NewMemory(nil)
	cause := fmt.Errorf("%w: connection refused", completion.ErrUnavailable)
	orchestrator := NewOrchestrator(store, &fakeCompleter{err: cause}, nil)

	result, err := orchestrator.Send(context.Background(), SendInput{Message: "hi"})
	if err != nil {
		t.Fatalf("expected no error on completion failure, got %v", err)
	}

	if result.Outcome != OutcomeFallback {
		t.Fatalf("expected fallback outcome, got %s", result.Outcome)
	}
	if !errors.Is(result.Cause, completion.ErrUnavailable) {
		t.Fatalf("expected cause to wrap ErrUnavailable, got %v", result.Cause)
	}
	if result.Reply != FallbackReply {
		t.Fatalf("expected fallback reply, got %q", result.Reply)
	}

	messages := result.Conversation.Messages
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleAssistant || last.Content != FallbackReply {
		t.Fatalf("expected fallback as last message, got %+v", last)
	}
}

func TestSendUnknownConversationStartsNewOne(t *testing.T) {
	store := db.NewMemory(nil)
	orchestrator := NewOrchestrator(store, &fakeCompleter{reply: "ok"}, nil)

	result, err := orchestrator.Send(context.Background(), SendInput{Message: "hello again", ConversationID: "gone"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !result.Created {
		t.Fatalf("expected a new conversation for unknown id")
	}
	if result.Conversation.ID == "gone" {
		t.Fatalf("expected a freshly assigned id")
	}
	if result.Conversation.Title != "hello again..." {
		t.Fatalf("unexpected title %q", result.Conversation.Title)
	}
}

func TestSendStampsMessagesWithClock(t *testing.T) {
	fixed := time.Date(2024, time.June, 2, 10, 30, 0, 0, time.UTC)
	store := db.NewMemory(func() time.Time { return fixed })
	orchestrator := NewOrchestrator(store, &fakeCompleter{reply: "ok"}, nil, WithClock(func() time.Time { return fixed }))

	result, err := orchestrator.Send(context.Background(), SendInput{Message: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, msg := range result.Conversation.Messages {
		if !msg.Timestamp.Equal(fixed) {
			t.Fatalf("expected timestamp %s, got %s", fixed, msg.Timestamp)
		}
	}
	if result.Conversation.UpdatedAt.Before(result.Conversation.CreatedAt) {
		t.Fatalf("updatedAt before createdAt")
	}
}

type failingStore struct {
	db.ConversationStore
}

func (failingStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return nil, errors.New("connection reset")
}

func TestSendSurfacesStoreFailure(t *testing.T) {
	orchestrator := NewOrchestrator(failingStore{db.NewMemory(nil)}, &fakeCompleter{reply: "ok"}, nil)

	if _, err := orchestrator.Send(context.Background(), SendInput{Message: "hi", ConversationID: "abc"}); err == nil {
		t.Fatalf("expected store failure to be returned")
	}
}

type appendFailingStore struct {
	*db.Memory
}

func (appendFailingStore) AppendMessages(ctx context.Context, id string, messages []models.Message) (*models.Conversation, error) {
	return nil, errors.New("write conflict")
}

func TestSendDiscardsCreatedConversationWhenPersistFails(t *testing.T) {
	store := appendFailingStore{db.NewMemory(nil)}
	orchestrator := NewOrchestrator(store, &fakeCompleter{reply: "ok"}, nil)

	if _, err := orchestrator.Send(context.Background(), SendInput{Message: "xyz"}); err == nil {
		t.Fatalf("expected persist failure to be returned")
	}

	list, err := store.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no conversation left behind, got %+v", list)
	}
}

func TestSendKeepsExistingConversationWhenPersistFails(t *testing.T) {
	store := appendFailingStore{db.NewMemory(nil)}
	conv, err := store.CreateConversation(context.Background(), "kept")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	orchestrator := NewOrchestrator(store, &fakeCompleter{reply: "ok"}, nil)

	if _, err := orchestrator.Send(context.Background(), SendInput{Message: "xyz", ConversationID: conv.ID}); err == nil {
		t.Fatalf("expected persist failure to be returned")
	}
	if _, err := store.GetConversation(context.Background(), conv.ID); err != nil {
		t.Fatalf("expected existing conversation to survive, got %v", err)
	}
}

func TestSendIgnoresCallerCancellation(t *testing.T) {
	store := db.NewMemory(nil)
	orchestrator := NewOrchestrator(store, contextCheckingCompleter{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := orchestrator.Send(ctx, SendInput{Message: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completion to run despite cancelled caller, got %s", result.Outcome)
	}
}

type contextCheckingCompleter struct{}

func (contextCheckingCompleter) Complete(ctx context.Context, history []completion.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "still here", nil
}
