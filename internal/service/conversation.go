package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dialogs/internal/event"
	"github.com/dialogs/internal/logger"
	"github.com/dialogs/internal/model"
	"github.com/dialogs/internal/platform"
)

// Conversations owns the conversation aggregate: per-user flags (mute,
// archive, list pin, marked-unread), message pins, wallpapers, history
// clearing and deletion. Flag writes touch only the caller's member row;
// pins and wallpaper-for-both fan out to every participant.
type Conversations struct {
	convs  ConversationStore
	msgs   MessageStore
	reacts ReactionStore
	gate   platform.Gate
	dir    platform.Directory
	events event.Publisher

	pinQuota        int
	pinQuotaPremium int
}

func NewConversations(
	convs ConversationStore,
	msgs MessageStore,
	reacts ReactionStore,
	gate platform.Gate,
	dir platform.Directory,
	events event.Publisher,
	pinQuota, pinQuotaPremium int,
) *Conversations {
	return &Conversations{
		convs: convs, msgs: msgs, reacts: reacts,
		gate: gate, dir: dir, events: events,
		pinQuota: pinQuota, pinQuotaPremium: pinQuotaPremium,
	}
}

// member loads the conversation and verifies the actor participates.
func (s *Conversations) member(ctx context.Context, convID, actorID string) (*model.Conversation, *model.Member, error) {
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, nil, notFound(err)
	}
	m := conv.Member(actorID)
	if m == nil {
		return nil, nil, forbiddenf("not a participant")
	}
	return conv, m, nil
}

// Open finds or creates the conversation between the actor and recipient.
// Idempotent: the pair key keeps one conversation per pair, and actor ==
// recipient yields the single-member self-chat.
func (s *Conversations) Open(ctx context.Context, actorID, recipientID string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.Open", time.Now())()
	if recipientID == "" {
		return nil, validationf("recipient required")
	}
	if recipientID != actorID {
		blocked, err := s.gate.IsBlocked(ctx, actorID, recipientID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, forbiddenf("blocked")
		}
	}
	participants := []string{actorID}
	if recipientID != actorID {
		participants = []string{actorID, recipientID}
	}
	return s.convs.GetOrCreate(ctx, participants, actorID)
}

// ToggleMute flips the caller's mute flag and returns the new value.
func (s *Conversations) ToggleMute(ctx context.Context, convID, actorID string) (bool, error) {
	defer logger.DeferLogDuration("conv.ToggleMute", time.Now())()
	conv, m, err := s.member(ctx, convID, actorID)
	if err != nil {
		return false, err
	}
	muted := !m.Muted
	if err := s.convs.SetMuted(ctx, conv.ID, actorID, muted); err != nil {
		return false, err
	}
	s.events.Publish(actorID, event.Envelope{Type: event.TypeConversationUpdated, Payload: event.ConversationUpdatedPayload{
		ConversationID: conv.ID, Muted: event.Bool(muted),
	}})
	return muted, nil
}

// ToggleArchive flips the caller's archive flag. Archiving also drops the
// caller's list pin; the two states are mutually exclusive.
func (s *Conversations) ToggleArchive(ctx context.Context, convID, actorID string) (bool, error) {
	defer logger.DeferLogDuration("conv.ToggleArchive", time.Now())()
	conv, m, err := s.member(ctx, convID, actorID)
	if err != nil {
		return false, err
	}
	archived := !m.Archived
	if err := s.convs.SetArchived(ctx, conv.ID, actorID, archived); err != nil {
		return false, err
	}
	payload := event.ConversationUpdatedPayload{ConversationID: conv.ID, Archived: event.Bool(archived)}
	if archived && m.Pinned {
		payload.Pinned = event.Bool(false)
	}
	s.events.Publish(actorID, event.Envelope{Type: event.TypeConversationUpdated, Payload: payload})
	return archived, nil
}

// ToggleListPin flips the caller's list pin. Pinning is capped per user;
// premium accounts get the higher quota. Exceeding the cap returns
// ErrValidation. Pinning an archived conversation unarchives it first.
func (s *Conversations) ToggleListPin(ctx context.Context, convID, actorID string) (bool, error) {
	defer logger.DeferLogDuration("conv.ToggleListPin", time.Now())()
	conv, m, err := s.member(ctx, convID, actorID)
	if err != nil {
		return false, err
	}
	if m.Pinned {
		if err := s.convs.UnpinFromList(ctx, conv.ID, actorID); err != nil {
			return false, err
		}
		s.events.Publish(actorID, event.Envelope{Type: event.TypeConversationUpdated, Payload: event.ConversationUpdatedPayload{
			ConversationID: conv.ID, Pinned: event.Bool(false),
		}})
		return false, nil
	}

	quota := s.pinQuota
	if premium, err := s.dir.IsPremium(ctx, actorID); err == nil && premium {
		quota = s.pinQuotaPremium
	}
	payload := event.ConversationUpdatedPayload{ConversationID: conv.ID, Pinned: event.Bool(true)}
	if m.Archived {
		if err := s.convs.SetArchived(ctx, conv.ID, actorID, false); err != nil {
			return false, err
		}
		payload.Archived = event.Bool(false)
	}
	ok, err := s.convs.PinToList(ctx, conv.ID, actorID, quota)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, validationf("pin limit of %d reached", quota)
	}
	s.events.Publish(actorID, event.Envelope{Type: event.TypeConversationUpdated, Payload: payload})
	return true, nil
}

// MarkUnread sets the caller's manual unread badge. It clears on the next
// read, not here.
func (s *Conversations) MarkUnread(ctx context.Context, convID, actorID string) error {
	defer logger.DeferLogDuration("conv.MarkUnread", time.Now())()
	conv, _, err := s.member(ctx, convID, actorID)
	if err != nil {
		return err
	}
	if err := s.convs.SetMarkedUnread(ctx, conv.ID, actorID, true); err != nil {
		return err
	}
	s.events.Publish(actorID, event.Envelope{Type: event.TypeConversationUpdated, Payload: event.ConversationUpdatedPayload{
		ConversationID: conv.ID, MarkedUnread: event.Bool(true),
	}})
	return nil
}

// PinMessage adds a message to the conversation's shared pinned set and
// announces it with a system message. Idempotent: re-pinning is a no-op.
func (s *Conversations) PinMessage(ctx context.Context, convID, messageID, actorID string) error {
	defer logger.DeferLogDuration("conv.PinMessage", time.Now())()
	conv, _, err := s.member(ctx, convID, actorID)
	if err != nil {
		return err
	}
	msg, err := s.msgs.GetCopy(ctx, messageID)
	if err != nil {
		return notFound(err)
	}
	if msg.ConversationID != conv.ID {
		return validationf("message belongs to another conversation")
	}
	inserted, err := s.convs.PinMessage(ctx, conv.ID, messageID, actorID)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	s.publishPinnedSet(ctx, conv)
	s.emitSystem(ctx, conv, fmt.Sprintf("%s pinned a message: %s", s.username(ctx, actorID), msg.Snippet(60)))
	return nil
}

// UnpinMessage removes a pin. Either participant may unpin, and like
// pinning the removal is announced with a system message.
func (s *Conversations) UnpinMessage(ctx context.Context, convID, messageID, actorID string) error {
	defer logger.DeferLogDuration("conv.UnpinMessage", time.Now())()
	conv, _, err := s.member(ctx, convID, actorID)
	if err != nil {
		return err
	}
	// Resolve the snippet before the pin (and possibly the copy) is gone.
	snippet := ""
	if msg, err := s.msgs.GetCopy(ctx, messageID); err == nil {
		snippet = msg.Snippet(60)
	}
	removed, err := s.convs.UnpinMessage(ctx, conv.ID, messageID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	s.publishPinnedSet(ctx, conv)
	text := fmt.Sprintf("%s unpinned a message", s.username(ctx, actorID))
	if snippet != "" {
		text += ": " + snippet
	}
	s.emitSystem(ctx, conv, text)
	return nil
}

func (s *Conversations) publishPinnedSet(ctx context.Context, conv *model.Conversation) {
	pins, err := s.convs.PinnedMessages(ctx, conv.ID)
	if err != nil {
		logger.Errorf("conv pinned set %s: %v", conv.ID, err)
		return
	}
	ids := make([]string, 0, len(pins))
	for _, p := range pins {
		ids = append(ids, p.MessageID)
	}
	payload := event.ConversationUpdatedPayload{ConversationID: conv.ID, PinnedMessages: ids}
	for _, uid := range conv.MemberIDs() {
		s.events.Publish(uid, event.Envelope{Type: event.TypeConversationUpdated, Payload: payload})
	}
}

// SetWallpaper changes the caller's background, or both participants' when
// applyForBoth is set. Applying for both announces itself with a system
// message; in a self-chat "both" collapses to self and stays silent.
// A nil wallpaper resets to the default.
func (s *Conversations) SetWallpaper(ctx context.Context, convID, actorID string, w *model.Wallpaper, applyForBoth bool) error {
	defer logger.DeferLogDuration("conv.SetWallpaper", time.Now())()
	conv, _, err := s.member(ctx, convID, actorID)
	if err != nil {
		return err
	}
	if w != nil {
		switch w.Type {
		case model.WallpaperTemplate, model.WallpaperColor, model.WallpaperCustom:
		default:
			return validationf("unknown wallpaper type %q", w.Type)
		}
	}

	targets := []string{actorID}
	both := applyForBoth && !conv.IsSelfChat()
	if both {
		targets = conv.MemberIDs()
	}
	if err := s.convs.SetWallpaper(ctx, conv.ID, targets, w); err != nil {
		return err
	}
	for _, uid := range targets {
		s.events.Publish(uid, event.Envelope{Type: event.TypeConversationUpdated, Payload: event.ConversationUpdatedPayload{
			ConversationID: conv.ID, Wallpaper: w,
		}})
	}
	if both {
		s.emitSystem(ctx, conv, fmt.Sprintf("%s changed the wallpaper for everyone", s.username(ctx, actorID)))
	}
	return nil
}

// ClearHistory wipes the caller's own mailbox for the conversation. The
// conversation itself survives, as do the peer's copies. Reactions are only
// removed in a self-chat, where no other copies can reference them.
func (s *Conversations) ClearHistory(ctx context.Context, convID, actorID string) error {
	defer logger.DeferLogDuration("conv.ClearHistory", time.Now())()
	conv, _, err := s.member(ctx, convID, actorID)
	if err != nil {
		return err
	}
	if conv.IsSelfChat() {
		uuids, err := s.msgs.OwnUUIDs(ctx, conv.ID, actorID)
		if err != nil {
			return err
		}
		if len(uuids) > 0 {
			if err := s.reacts.DeleteByUUIDs(ctx, uuids); err != nil {
				logger.Errorf("conv clear reactions %s: %v", conv.ID, err)
			}
		}
	}
	if err := s.msgs.DeleteAllByOwner(ctx, conv.ID, actorID); err != nil {
		return err
	}
	s.events.Publish(actorID, event.Envelope{Type: event.TypeHistoryCleared, Payload: event.HistoryClearedPayload{
		ConversationID: conv.ID,
	}})
	return nil
}

// Delete removes the conversation for the caller, or for everyone. A
// one-sided delete wipes the caller's mailbox and hides the conversation
// from their list; once both sides have deleted, the row is reclaimed.
// forEveryone destroys it outright for both. block additionally blacklists
// the peer through the platform.
func (s *Conversations) Delete(ctx context.Context, convID, actorID string, forEveryone, block bool) error {
	defer logger.DeferLogDuration("conv.Delete", time.Now())()
	conv, _, err := s.member(ctx, convID, actorID)
	if err != nil {
		return err
	}
	peer := conv.PeerID(actorID)

	if forEveryone || conv.IsSelfChat() {
		if err := s.convs.Delete(ctx, conv.ID); err != nil {
			return err
		}
		payload := event.ConversationDeletedPayload{ConversationID: conv.ID}
		for _, uid := range conv.MemberIDs() {
			s.events.Publish(uid, event.Envelope{Type: event.TypeConversationDeleted, Payload: payload})
		}
	} else {
		if err := s.msgs.DeleteAllByOwner(ctx, conv.ID, actorID); err != nil {
			return err
		}
		allDeleted, err := s.convs.SetDeleted(ctx, conv.ID, actorID)
		if err != nil {
			return err
		}
		if allDeleted {
			if err := s.convs.Delete(ctx, conv.ID); err != nil {
				return err
			}
		}
		s.events.Publish(actorID, event.Envelope{Type: event.TypeConversationDeleted, Payload: event.ConversationDeletedPayload{
			ConversationID: conv.ID,
		}})
	}

	if block && peer != actorID {
		if err := s.gate.Block(ctx, actorID, peer); err != nil {
			logger.Errorf("conv delete block %s->%s: %v", actorID, peer, err)
		}
	}
	return nil
}

// Typing relays a transient typing signal to the other participant.
// Nothing is persisted.
func (s *Conversations) Typing(ctx context.Context, convID, actorID string) error {
	conv, _, err := s.member(ctx, convID, actorID)
	if err != nil {
		return err
	}
	payload := event.TypingPayload{ConversationID: conv.ID, UserID: actorID}
	for _, uid := range conv.MemberIDs() {
		if uid != actorID {
			s.events.Publish(uid, event.Envelope{Type: event.TypeTyping, Payload: payload})
		}
	}
	return nil
}

// emitSystem creates a system message in every mailbox and pushes it out.
// System messages have no sender and are exempt from the content rule.
func (s *Conversations) emitSystem(ctx context.Context, conv *model.Conversation, text string) {
	msg := &model.Message{
		UUID:           uuid.New().String(),
		ConversationID: conv.ID,
		Type:           model.MessageTypeSystem,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	copies := make([]*model.Message, 0, len(conv.Members))
	for _, m := range conv.Members {
		c := *msg
		c.ID = uuid.New().String()
		c.OwnerID = m.UserID
		c.ReadBy = []string{}
		copies = append(copies, &c)
	}
	if err := s.msgs.CreateCopies(ctx, copies); err != nil {
		logger.Errorf("conv system message %s: %v", conv.ID, err)
		return
	}
	for _, c := range copies {
		s.events.Publish(c.OwnerID, event.Envelope{Type: event.TypeNewMessage, Payload: c})
	}
}

func (s *Conversations) username(ctx context.Context, userID string) string {
	p, err := s.dir.Profile(ctx, userID, userID)
	if err != nil || p.Username == "" {
		return userID
	}
	return p.Username
}
