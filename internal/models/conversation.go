package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	DefaultConversationTitle = "New Conversation"

	derivedTitleRunes  = 30
	derivedTitleSuffix = "..."
)

// Message is a single entry of a conversation thread.
type Message struct {
	Role      Role      `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Conversation is a titled, append-only thread of messages.
type Conversation struct {
	ID        string    `json:"id" bson:"_id"`
	Title     string    `json:"title" bson:"title"`
	Messages  []Message `json:"messages" bson:"messages"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

// NewConversation builds an empty conversation stamped with now.
// A blank title falls back to DefaultConversationTitle.
func NewConversation(id, title string, now time.Time) Conversation {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultConversationTitle
	}

	return Conversation{
		ID:        id,
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers cannot alias a stored message slice.
func (c Conversation) Clone() Conversation {
	messages := make([]Message, len(c.Messages))
	copy(messages, c.Messages)
	c.Messages = messages
	return c
}

// Normalize replaces a nil message slice with an empty one so the JSON shape
// always carries an array.
func (c *Conversation) Normalize() {
	if c.Messages == nil {
		c.Messages = []Message{}
	}
}

// TitleFromMessage derives a conversation title from the first message of a thread.
func TitleFromMessage(message string) string {
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) > derivedTitleRunes {
		runes := []rune(message)
		message = string(runes[:derivedTitleRunes])
	}
	return message + derivedTitleSuffix
}

// Timestamp truncates t to the millisecond precision every store keeps.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
