package model

import (
	"sort"
	"strings"
	"time"
)

type WallpaperType string

const (
	WallpaperTemplate WallpaperType = "template"
	WallpaperColor    WallpaperType = "color"
	WallpaperCustom   WallpaperType = "custom"
)

// Wallpaper is one participant's conversation background.
type Wallpaper struct {
	Type  WallpaperType `json:"type"`
	Value string        `json:"value"`
}

// Member is one participant's row in a conversation: all per-user modifier
// flags live here, so "mutedBy contains U" is simply member(U).Muted.
type Member struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Muted          bool       `json:"muted"`
	Archived       bool       `json:"archived"`
	Pinned         bool       `json:"pinned"`
	MarkedUnread   bool       `json:"marked_unread"`
	Deleted        bool       `json:"deleted"`
	Wallpaper      *Wallpaper `json:"wallpaper,omitempty"`
	JoinedAt       time.Time  `json:"joined_at"`
}

// Conversation is a 1:1 chat (2 members) or a self-chat (1 member).
// The participant set is immutable after creation.
type Conversation struct {
	ID        string    `json:"id"`
	PairKey   string    `json:"-"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	Members   []Member  `json:"members"`
}

// PairKey derives the unique lookup key for a participant set: sorted ids
// joined by ':'. A self-chat key is the single id. Used for idempotent
// find-or-create on first contact.
func PairKey(userA, userB string) string {
	if userA == userB {
		return userA
	}
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// IsSelfChat reports whether the conversation is a single-participant
// notes space.
func (c *Conversation) IsSelfChat() bool {
	return len(c.Members) == 1
}

// MemberIDs returns the participant ids.
func (c *Conversation) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// Member returns the participant row for userID, or nil if userID is not a
// participant.
func (c *Conversation) Member(userID string) *Member {
	for i := range c.Members {
		if c.Members[i].UserID == userID {
			return &c.Members[i]
		}
	}
	return nil
}

// PeerID returns the other participant's id, or userID itself for a
// self-chat.
func (c *Conversation) PeerID(userID string) string {
	for _, m := range c.Members {
		if m.UserID != userID {
			return m.UserID
		}
	}
	return userID
}

// PinnedMessage is a conversation-level pin. It points at one physical
// message copy; viewers resolve their own copy through the shared uuid.
type PinnedMessage struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	PinnedBy       string    `json:"pinned_by"`
	PinnedAt       time.Time `json:"pinned_at"`
}
