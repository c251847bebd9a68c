package models_test

import (
	"strings"
	"testing"
	"time"

	"github.com/nkmrt3/frnchat/internal/models"
)

func TestNewConversationDefaults(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	conv := models.NewConversation("c1", "   ", now)
	if conv.Title != models.DefaultConversationTitle {
		t.Fatalf("expected default title, got %q", conv.Title)
	}
	if conv.Messages == nil || len(conv.Messages) != 0 {
		t.Fatalf("expected empty non-nil messages, got %#v", conv.Messages)
	}
	if !conv.CreatedAt.Equal(now) || !conv.UpdatedAt.Equal(now) {
		t.Fatalf("expected timestamps to equal now")
	}

	named := models.NewConversation("c2", "  Plans  ", now)
	if named.Title != "Plans" {
		t.Fatalf("expected trimmed title, got %q", named.Title)
	}
}

func TestTitleFromMessage(t *testing.T) {
	if got := models.TitleFromMessage("hi"); got != "hi..." {
		t.Fatalf("expected short title with suffix, got %q", got)
	}

	long := strings.Repeat("a", 29) + "bcdef"
	if got := models.TitleFromMessage(long); got != strings.Repeat("a", 29)+"b..." {
		t.Fatalf("expected 30 character prefix, got %q", got)
	}

	multibyte := strings.Repeat("é", 40)
	if got := models.TitleFromMessage(multibyte); got != strings.Repeat("é", 30)+"..." {
		t.Fatalf("expected rune-based truncation, got %q", got)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	conv := models.NewConversation("c1", "", time.Now())
	conv.Messages = append(conv.Messages, models.Message{Role: models.RoleUser, Content: "one"})

	clone := conv.Clone()
	clone.Messages[0].Content = "changed"

	if conv.Messages[0].Content != "one" {
		t.Fatalf("clone mutated original message")
	}
}
