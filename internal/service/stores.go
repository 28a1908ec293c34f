package service

import (
	"context"
	"time"

	"github.com/dialogs/internal/model"
)

// Store interfaces sit between the services and persistence. The pgx
// repositories implement them for Postgres; repository/memory implements
// them for tests and -memdb runs.

// ConversationStore owns conversation rows, per-user flag sets and the
// conversation-level pinned set.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, participants []string, createdBy string) (*model.Conversation, error)
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)

	SetMuted(ctx context.Context, convID, userID string, muted bool) error
	SetArchived(ctx context.Context, convID, userID string, archived bool) error
	SetMarkedUnread(ctx context.Context, convID, userID string, marked bool) error
	PinToList(ctx context.Context, convID, userID string, quota int) (bool, error)
	UnpinFromList(ctx context.Context, convID, userID string) error
	SetWallpaper(ctx context.Context, convID string, userIDs []string, w *model.Wallpaper) error

	SetDeleted(ctx context.Context, convID, userID string) (allDeleted bool, err error)
	ClearDeleted(ctx context.Context, convID string) error
	Delete(ctx context.Context, convID string) error

	PinMessage(ctx context.Context, convID, messageID, pinnedBy string) (bool, error)
	UnpinMessage(ctx context.Context, convID, messageID string) (bool, error)
	PinnedMessages(ctx context.Context, convID string) ([]model.PinnedMessage, error)
}

// MessageStore owns the mailbox copies.
type MessageStore interface {
	CreateCopies(ctx context.Context, copies []*model.Message) error
	GetCopy(ctx context.Context, id string) (*model.Message, error)
	GetCopies(ctx context.Context, ids []string) ([]model.Message, error)
	OwnCopyByUUID(ctx context.Context, msgUUID, ownerID string) (*model.Message, error)
	OwnUUIDs(ctx context.Context, convID, ownerID string) ([]string, error)

	UpdateTextByUUID(ctx context.Context, msgUUID, text string, editedAt time.Time) error
	DeleteOwnByUUIDs(ctx context.Context, ownerID string, msgUUIDs []string) error
	DeleteByUUIDs(ctx context.Context, msgUUIDs []string) error
	DeleteAllByOwner(ctx context.Context, convID, ownerID string) error
	MarkRead(ctx context.Context, convID, ownerID string) error

	LastOwnCopy(ctx context.Context, convID, ownerID string) (*model.Message, error)
	PageForOwner(ctx context.Context, convID, ownerID string, limit, offset int) ([]model.Message, error)
	CountNewer(ctx context.Context, convID, ownerID string, t time.Time) (int, error)
	FirstOnOrAfter(ctx context.Context, convID, ownerID string, date time.Time) (*model.Message, error)
	Search(ctx context.Context, convID, ownerID, query string, limit int) ([]model.Message, error)
	UnreadCount(ctx context.Context, convID, ownerID string) (int, error)
	AttachmentsPage(ctx context.Context, convID, ownerID, kind string, limit, offset int) ([]model.Message, error)
	Stats(ctx context.Context, convID, ownerID string) (model.ConversationStats, error)
}

// ReactionStore owns the per-uuid reaction entries.
type ReactionStore interface {
	Get(ctx context.Context, msgUUID, userID string) (string, error)
	Set(ctx context.Context, msgUUID, userID, emoji string) error
	Remove(ctx context.Context, msgUUID, userID string) error
	ListByUUID(ctx context.Context, msgUUID string) ([]model.Reaction, error)
	ListByUUIDs(ctx context.Context, msgUUIDs []string) (map[string][]model.Reaction, error)
	DeleteByUUIDs(ctx context.Context, msgUUIDs []string) error
}

// PushNotifier fires best-effort push notifications for offline recipients.
// Nil-able; implemented by push.Client.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}
