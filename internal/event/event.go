// Package event defines the typed envelopes pushed to connected clients and
// the Publisher interface the services fan out through. Delivery is
// at-most-once: publishers drop events for users without a live channel.
package event

import (
	"time"

	"github.com/dialogs/internal/model"
)

type Type string

const (
	TypeNewMessage          Type = "new_message"
	TypeMessageUpdated      Type = "message_updated"
	TypeMessagesDeleted     Type = "messages_deleted"
	TypeConversationUpdated Type = "conversation_updated"
	TypeConversationDeleted Type = "conversation_deleted"
	TypeHistoryCleared      Type = "history_cleared"
	TypeMessagesRead        Type = "messages_read"
	TypeTyping              Type = "typing"
	TypeError               Type = "error"
)

// Envelope is what the server sends to a client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type Envelope struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

// Publisher delivers an envelope to one user's live channel, if any.
// Implemented by the ws hub locally and by the redis relay across instances.
type Publisher interface {
	Publish(userID string, ev Envelope)
}

// --- Typed payloads ---

// MessageUpdatedPayload carries the shared-field state of a logical message
// after an edit or a reaction change. Keyed by uuid so every participant can
// apply it to their own copy.
type MessageUpdatedPayload struct {
	MessageUUID    string           `json:"message_uuid"`
	ConversationID string           `json:"conversation_id"`
	Text           string           `json:"text,omitempty"`
	EditedAt       *time.Time       `json:"edited_at,omitempty"`
	Reactions      []model.Reaction `json:"reactions"`
}

// MessagesDeletedPayload is pushed after a delete; Mode is "self" or
// "everyone".
type MessagesDeletedPayload struct {
	ConversationID string   `json:"conversation_id"`
	MessageUUIDs   []string `json:"message_uuids"`
	Mode           string   `json:"mode"`
}

// ConversationUpdatedPayload is a per-user state diff of a conversation.
// Pointer fields are nil when unchanged.
type ConversationUpdatedPayload struct {
	ConversationID string           `json:"conversation_id"`
	Muted          *bool            `json:"muted,omitempty"`
	Archived       *bool            `json:"archived,omitempty"`
	Pinned         *bool            `json:"pinned,omitempty"`
	MarkedUnread   *bool            `json:"marked_unread,omitempty"`
	Wallpaper      *model.Wallpaper `json:"wallpaper,omitempty"`
	PinnedMessages []string         `json:"pinned_messages,omitempty"`
}

// ConversationDeletedPayload is pushed when a conversation is removed for
// the receiving user.
type ConversationDeletedPayload struct {
	ConversationID string `json:"conversation_id"`
}

// HistoryClearedPayload is pushed to the user whose mailbox was wiped.
type HistoryClearedPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessagesReadPayload tells the peer their messages were read.
type MessagesReadPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// TypingPayload is relayed to the other participant; never persisted.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// ErrorPayload is sent back on a malformed or rejected ws frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Bool is a convenience for ConversationUpdatedPayload pointer fields.
func Bool(b bool) *bool { return &b }
