package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message captures one persisted turn half, either the user's text or the bot reply.
type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversationId"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	Intent         IntentType    `json:"intent,omitempty"`
	IntentData     *IntentParams `json:"intentData,omitempty"`
	CreatedAt      time.Time     `json:"timestamp"`
}

// ChatTurn is the role/content pair handed to the language model.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turns converts stored messages into model context, preserving order.
func Turns(messages []*Message) []ChatTurn {
	turns := make([]ChatTurn, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		turns = append(turns, ChatTurn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

// LastTurns returns at most n trailing turns.
func LastTurns(turns []ChatTurn, n int) []ChatTurn {
	if n <= 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// LogEntry is a message joined with its conversation owner, used by the logs view.
type LogEntry struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversationId"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	Intent         IntentType `json:"intent,omitempty"`
	CreatedAt      time.Time  `json:"timestamp"`
	ChannelUserID  string     `json:"instagramUserId"`
	DisplayName    string     `json:"instagramUsername,omitempty"`
}
