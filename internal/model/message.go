package model

import "time"

type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// Message is one mailbox copy: the row a single participant owns for one
// logical message. Every copy of a logical message shares the same UUID;
// ID identifies the physical copy. Symmetric fields (Text after an edit,
// the reaction list, delete-for-everyone) are kept identical across all
// copies of a UUID; asymmetric fields (ReadBy, the copy's existence under
// per-user deletion) belong to this copy alone.
type Message struct {
	ID             string      `json:"id"`
	UUID           string      `json:"uuid"`
	ConversationID string      `json:"conversation_id"`
	OwnerID        string      `json:"owner_id"`
	SenderID       *string     `json:"sender_id,omitempty"` // nil for system messages
	Type           MessageType `json:"type"`
	Text           string      `json:"text,omitempty"`
	ImageURL       string      `json:"image_url,omitempty"`
	TrackID        string      `json:"track_id,omitempty"`
	ReplyToUUID    *string     `json:"reply_to_uuid,omitempty"`
	ForwardedFrom  *string     `json:"forwarded_from,omitempty"`
	ReadBy         []string    `json:"read_by"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`

	// Enrichment, filled by the view layer from the owner's mailbox.
	Reactions []Reaction `json:"reactions,omitempty"`
	ReplyTo   *Message   `json:"reply_to,omitempty"`
}

// HasContent reports whether a user-typed message carries anything to show.
// System messages are exempt from the content requirement.
func (m *Message) HasContent() bool {
	if m.Type == MessageTypeSystem {
		return true
	}
	return m.Text != "" || m.ImageURL != "" || m.TrackID != ""
}

// ReadByUser reports whether userID has read this copy.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// SentBy reports whether userID authored the logical message.
func (m *Message) SentBy(userID string) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

// Snippet returns a short preview of the message for announcements.
func (m *Message) Snippet(max int) string {
	s := m.Text
	if s == "" {
		switch {
		case m.ImageURL != "":
			s = "photo"
		case m.TrackID != "":
			s = "track"
		}
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}

// Reaction is one user's emoji on a logical message. Reactions are keyed by
// the message UUID so every copy of the message resolves an identical list.
// At most one entry exists per (UUID, UserID).
type Reaction struct {
	MessageUUID string    `json:"message_uuid"`
	UserID      string    `json:"user_id"`
	Emoji       string    `json:"emoji"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConversationStats are viewer-scoped aggregate counters.
type ConversationStats struct {
	Sent      int `json:"sent"`
	Received  int `json:"received"`
	Reactions int `json:"reactions"`
	Photos    int `json:"photos"`
	Tracks    int `json:"tracks"`
}
