package models

import "time"

type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusArchived ConversationStatus = "archived"
	StatusBlocked  ConversationStatus = "blocked"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusBlocked:
		return true
	}
	return false
}

// Conversation is keyed by the end user's channel id; one per Instagram user.
type Conversation struct {
	ID            int64              `json:"id"`
	ChannelUserID string             `json:"instagramUserId"`
	DisplayName   string             `json:"instagramUsername,omitempty"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt time.Time          `json:"lastMessageAt"`
	CreatedAt     time.Time          `json:"createdAt"`
	MessageCount  int64              `json:"messageCount"`
}
