package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dialogs/internal/logger"
	"github.com/dialogs/internal/model"
	"github.com/dialogs/internal/platform"
)

// PageSize is the message page length. Pages are 1-based and counted from
// the newest message down.
const PageSize = 30

// Views projects stored state into what one viewer sees: conversation list
// entries built from the viewer's own mailbox, message pages in
// chronological order, search, attachments and per-viewer stats. Views never
// mutate anything.
type Views struct {
	convs  ConversationStore
	msgs   MessageStore
	reacts ReactionStore
	dir    platform.Directory
}

func NewViews(convs ConversationStore, msgs MessageStore, reacts ReactionStore, dir platform.Directory) *Views {
	return &Views{convs: convs, msgs: msgs, reacts: reacts, dir: dir}
}

// ConversationView is one list entry as a specific viewer sees it. Peer is
// nil for a self-chat. LastMessage comes from the viewer's own mailbox, so
// two participants can legitimately see different previews.
type ConversationView struct {
	ID             string            `json:"id"`
	IsSelf         bool              `json:"is_self"`
	Peer           *platform.Profile `json:"peer,omitempty"`
	LastMessage    *model.Message    `json:"last_message,omitempty"`
	PinnedMessages []model.Message   `json:"pinned_messages,omitempty"`
	Muted          bool              `json:"muted"`
	Archived       bool              `json:"archived"`
	Pinned         bool              `json:"pinned"`
	MarkedUnread   bool              `json:"marked_unread"`
	Wallpaper      *model.Wallpaper  `json:"wallpaper,omitempty"`
	UnreadCount    int               `json:"unread_count"`
	LastActivity   time.Time         `json:"last_activity"`
}

// ConversationList builds the viewer's list. Ordering: list-pinned first,
// then the self-chat, then by last activity descending. Conversations the
// viewer has deleted are absent; archived ones are included with the flag
// set so the client can split the list.
func (s *Views) ConversationList(ctx context.Context, viewerID string) ([]ConversationView, error) {
	defer logger.DeferLogDuration("view.ConversationList", time.Now())()
	convs, err := s.convs.ListForUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	views := make([]ConversationView, 0, len(convs))
	for i := range convs {
		v, err := s.buildView(ctx, &convs[i], viewerID)
		if err != nil {
			logger.Errorf("view list %s for %s: %v", convs[i].ID, viewerID, err)
			continue
		}
		views = append(views, *v)
	}

	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.IsSelf != b.IsSelf {
			return a.IsSelf
		}
		return a.LastActivity.After(b.LastActivity)
	})
	return views, nil
}

// Conversation returns a single list entry, or ErrNotFound when the viewer
// is not a participant or has deleted the conversation.
func (s *Views) Conversation(ctx context.Context, convID, viewerID string) (*ConversationView, error) {
	defer logger.DeferLogDuration("view.Conversation", time.Now())()
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, notFound(err)
	}
	m := conv.Member(viewerID)
	if m == nil || m.Deleted {
		return nil, ErrNotFound
	}
	return s.buildView(ctx, conv, viewerID)
}

func (s *Views) buildView(ctx context.Context, conv *model.Conversation, viewerID string) (*ConversationView, error) {
	m := conv.Member(viewerID)
	if m == nil {
		return nil, ErrForbidden
	}
	v := &ConversationView{
		ID:           conv.ID,
		IsSelf:       conv.IsSelfChat(),
		Muted:        m.Muted,
		Archived:     m.Archived,
		Pinned:       m.Pinned,
		MarkedUnread: m.MarkedUnread,
		Wallpaper:    m.Wallpaper,
		LastActivity: conv.CreatedAt,
	}

	if !v.IsSelf {
		peerID := conv.PeerID(viewerID)
		if p, err := s.dir.Profile(ctx, viewerID, peerID); err == nil {
			v.Peer = &p
		} else {
			v.Peer = &platform.Profile{ID: peerID}
		}
	}

	last, err := s.msgs.LastOwnCopy(ctx, conv.ID, viewerID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		v.LastMessage = last
		v.LastActivity = last.CreatedAt
	}

	unread, err := s.msgs.UnreadCount(ctx, conv.ID, viewerID)
	if err != nil {
		return nil, err
	}
	v.UnreadCount = unread

	v.PinnedMessages = s.resolvePins(ctx, conv.ID, viewerID)
	return v, nil
}

// resolvePins maps the shared pinned set onto the viewer's own copies.
// Pins whose uuid the viewer no longer holds (deleted for self, cleared
// history) are silently skipped.
func (s *Views) resolvePins(ctx context.Context, convID, viewerID string) []model.Message {
	pins, err := s.convs.PinnedMessages(ctx, convID)
	if err != nil {
		logger.Errorf("view pins %s: %v", convID, err)
		return nil
	}
	if len(pins) == 0 {
		return nil
	}
	ids := make([]string, 0, len(pins))
	for _, p := range pins {
		ids = append(ids, p.MessageID)
	}
	anchors, err := s.msgs.GetCopies(ctx, ids)
	if err != nil {
		logger.Errorf("view pin anchors %s: %v", convID, err)
		return nil
	}
	out := make([]model.Message, 0, len(anchors))
	for _, a := range anchors {
		own, err := s.msgs.OwnCopyByUUID(ctx, a.UUID, viewerID)
		if err != nil {
			continue
		}
		out = append(out, *own)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MessagePage returns page n (1-based) of the viewer's mailbox in
// chronological order; page 1 holds the newest messages. Messages are
// enriched with reactions and the replied-to copy.
func (s *Views) MessagePage(ctx context.Context, convID, viewerID string, page int) ([]model.Message, error) {
	defer logger.DeferLogDuration("view.MessagePage", time.Now())()
	if page < 1 {
		page = 1
	}
	if _, err := s.viewerMember(ctx, convID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := s.msgs.PageForOwner(ctx, convID, viewerID, PageSize, (page-1)*PageSize)
	if err != nil {
		return nil, err
	}
	// PageForOwner is newest-first; flip to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return s.enrich(ctx, viewerID, msgs)
}

// PageForUUID locates the page containing the viewer's copy of a message.
// Used for jump-to-message from search and pinned previews.
func (s *Views) PageForUUID(ctx context.Context, convID, msgUUID, viewerID string) (int, error) {
	defer logger.DeferLogDuration("view.PageForUUID", time.Now())()
	if _, err := s.viewerMember(ctx, convID, viewerID); err != nil {
		return 0, err
	}
	own, err := s.msgs.OwnCopyByUUID(ctx, msgUUID, viewerID)
	if err != nil {
		return 0, notFound(err)
	}
	newer, err := s.msgs.CountNewer(ctx, convID, viewerID, own.CreatedAt)
	if err != nil {
		return 0, err
	}
	return newer/PageSize + 1, nil
}

// PageForDate locates the page containing the viewer's first message on or
// after the given date.
func (s *Views) PageForDate(ctx context.Context, convID, viewerID string, date time.Time) (int, error) {
	defer logger.DeferLogDuration("view.PageForDate", time.Now())()
	if _, err := s.viewerMember(ctx, convID, viewerID); err != nil {
		return 0, err
	}
	first, err := s.msgs.FirstOnOrAfter(ctx, convID, viewerID, date)
	if err != nil {
		return 0, notFound(err)
	}
	newer, err := s.msgs.CountNewer(ctx, convID, viewerID, first.CreatedAt)
	if err != nil {
		return 0, err
	}
	return newer/PageSize + 1, nil
}

// Search matches the query against the text of the viewer's own copies,
// newest first. System messages are not searched.
func (s *Views) Search(ctx context.Context, convID, viewerID, query string) ([]model.Message, error) {
	defer logger.DeferLogDuration("view.Search", time.Now())()
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.Message{}, nil
	}
	if _, err := s.viewerMember(ctx, convID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := s.msgs.Search(ctx, convID, viewerID, query, 100)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, viewerID, msgs)
}

// Attachments pages the viewer's photo or track messages, newest first.
func (s *Views) Attachments(ctx context.Context, convID, viewerID, kind string, page int) ([]model.Message, error) {
	defer logger.DeferLogDuration("view.Attachments", time.Now())()
	if kind != "photo" && kind != "track" {
		return nil, validationf("unknown attachment kind %q", kind)
	}
	if page < 1 {
		page = 1
	}
	if _, err := s.viewerMember(ctx, convID, viewerID); err != nil {
		return nil, err
	}
	return s.msgs.AttachmentsPage(ctx, convID, viewerID, kind, PageSize, (page-1)*PageSize)
}

// Stats aggregates the viewer's side of the conversation.
func (s *Views) Stats(ctx context.Context, convID, viewerID string) (model.ConversationStats, error) {
	defer logger.DeferLogDuration("view.Stats", time.Now())()
	if _, err := s.viewerMember(ctx, convID, viewerID); err != nil {
		return model.ConversationStats{}, err
	}
	return s.msgs.Stats(ctx, convID, viewerID)
}

func (s *Views) viewerMember(ctx context.Context, convID, viewerID string) (*model.Member, error) {
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, notFound(err)
	}
	m := conv.Member(viewerID)
	if m == nil {
		return nil, forbiddenf("not a participant")
	}
	return m, nil
}

// enrich attaches reactions (shared per uuid) and the viewer's copy of the
// replied-to message.
func (s *Views) enrich(ctx context.Context, viewerID string, msgs []model.Message) ([]model.Message, error) {
	if len(msgs) == 0 {
		return msgs, nil
	}
	uuids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		uuids = append(uuids, m.UUID)
	}
	byUUID, err := s.reacts.ListByUUIDs(ctx, uuids)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Reactions = byUUID[msgs[i].UUID]
		if msgs[i].ReplyToUUID != nil {
			if ref, err := s.msgs.OwnCopyByUUID(ctx, *msgs[i].ReplyToUUID, viewerID); err == nil {
				msgs[i].ReplyTo = ref
			}
		}
	}
	return msgs, nil
}
