package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dialogs/internal/event"
	"github.com/dialogs/internal/logger"
	"github.com/dialogs/internal/metrics"
	"github.com/dialogs/internal/model"
	"github.com/dialogs/internal/platform"
	"github.com/dialogs/internal/repository"
)

// Mailbox owns message-copy lifecycle: send, edit, react, delete, forward,
// mark-read. Symmetric fields reach every copy of a uuid, asymmetric fields
// touch exactly one copy, and events go out only after the write persisted.
type Mailbox struct {
	convs  ConversationStore
	msgs   MessageStore
	reacts ReactionStore
	gate   platform.Gate
	dir    platform.Directory
	events event.Publisher
	push   PushNotifier
}

func NewMailbox(
	convs ConversationStore,
	msgs MessageStore,
	reacts ReactionStore,
	gate platform.Gate,
	dir platform.Directory,
	events event.Publisher,
	push PushNotifier,
) *Mailbox {
	return &Mailbox{convs: convs, msgs: msgs, reacts: reacts, gate: gate, dir: dir, events: events, push: push}
}

// SendInput describes a send request. Either RecipientID (find-or-create by
// pair) or ConversationID must be set.
type SendInput struct {
	SenderID       string
	RecipientID    string
	ConversationID string
	Text           string
	ImageURL       string
	TrackID        string
	ReplyToUUID    string
}

// Send creates one mailbox copy per participant under a fresh correlation
// uuid and revives the conversation for anyone who had cleared it. Returns
// the sender's own copy.
func (s *Mailbox) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	defer logger.DeferLogDuration("mailbox.Send", time.Now())()
	in.Text = strings.TrimSpace(in.Text)

	var conv *model.Conversation
	var err error
	switch {
	case in.ConversationID != "":
		conv, err = s.convs.GetByID(ctx, in.ConversationID)
		if err != nil {
			return nil, notFound(err)
		}
		if conv.Member(in.SenderID) == nil {
			return nil, forbiddenf("not a participant")
		}
	case in.RecipientID != "":
		participants := []string{in.SenderID, in.RecipientID}
		if in.RecipientID == in.SenderID {
			participants = []string{in.SenderID}
		}
		conv, err = s.convs.GetOrCreate(ctx, participants, in.SenderID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, validationf("recipient or conversation required")
	}

	peer := conv.PeerID(in.SenderID)
	if peer != in.SenderID {
		allowed, err := s.gate.IsAllowed(ctx, platform.ActionMessage, in.SenderID, peer)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, forbiddenf("messaging not allowed")
		}
	}

	msg := &model.Message{
		UUID:           uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       &in.SenderID,
		Type:           model.MessageTypeUser,
		Text:           in.Text,
		ImageURL:       in.ImageURL,
		TrackID:        in.TrackID,
		CreatedAt:      time.Now().UTC(),
	}
	if in.ReplyToUUID != "" {
		msg.ReplyToUUID = &in.ReplyToUUID
	}
	if !msg.HasContent() {
		return nil, validationf("message needs text, image or track")
	}

	copies := s.mintCopies(conv, msg)
	if err := s.msgs.CreateCopies(ctx, copies); err != nil {
		return nil, err
	}
	// A new message brings a cleared conversation back for both sides.
	if err := s.convs.ClearDeleted(ctx, conv.ID); err != nil {
		logger.Errorf("mailbox revive conversation %s: %v", conv.ID, err)
	}
	metrics.MessagesSent.Inc()

	own := s.publishNewMessage(conv, copies)
	s.notifyRecipients(conv, own)
	return own, nil
}

// mintCopies duplicates a logical message into one copy per participant.
// The sender's copy starts already read by the sender.
func (s *Mailbox) mintCopies(conv *model.Conversation, msg *model.Message) []*model.Message {
	copies := make([]*model.Message, 0, len(conv.Members))
	for _, m := range conv.Members {
		c := *msg
		c.ID = uuid.New().String()
		c.OwnerID = m.UserID
		c.ReadBy = []string{}
		if msg.SenderID != nil && m.UserID == *msg.SenderID {
			c.ReadBy = []string{*msg.SenderID}
		}
		copies = append(copies, &c)
	}
	return copies
}

// publishNewMessage pushes each participant their own copy and returns the
// sender's (or first) copy.
func (s *Mailbox) publishNewMessage(conv *model.Conversation, copies []*model.Message) *model.Message {
	var own *model.Message
	for _, c := range copies {
		s.events.Publish(c.OwnerID, event.Envelope{Type: event.TypeNewMessage, Payload: c})
		if c.SenderID != nil && c.OwnerID == *c.SenderID {
			own = c
		}
	}
	if own == nil {
		own = copies[0]
	}
	return own
}

func (s *Mailbox) notifyRecipients(conv *model.Conversation, msg *model.Message) {
	if s.push == nil || msg.SenderID == nil {
		return
	}
	sender := *msg.SenderID
	title := sender
	if p, err := s.dir.Profile(context.Background(), sender, sender); err == nil && p.Username != "" {
		title = p.Username
	}
	body := msg.Snippet(120)
	data := map[string]string{"conversation_id": msg.ConversationID, "message_uuid": msg.UUID}
	for _, uid := range conv.MemberIDs() {
		if uid != sender {
			go s.push.Notify(context.Background(), uid, title, body, data)
		}
	}
}

// Edit rewrites the text of every copy sharing the message's uuid.
// Only the author may edit; the new text must be non-empty.
func (s *Mailbox) Edit(ctx context.Context, messageID, newText, actorID string) error {
	defer logger.DeferLogDuration("mailbox.Edit", time.Now())()
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return validationf("text required")
	}
	copy, err := s.msgs.GetCopy(ctx, messageID)
	if err != nil {
		return notFound(err)
	}
	if !copy.SentBy(actorID) {
		return forbiddenf("only the author can edit")
	}

	now := time.Now().UTC()
	if err := s.msgs.UpdateTextByUUID(ctx, copy.UUID, newText, now); err != nil {
		return err
	}

	conv, err := s.convs.GetByID(ctx, copy.ConversationID)
	if err != nil {
		return notFound(err)
	}
	reactions, err := s.reacts.ListByUUID(ctx, copy.UUID)
	if err != nil {
		logger.Errorf("mailbox edit reactions %s: %v", copy.UUID, err)
	}
	payload := event.MessageUpdatedPayload{
		MessageUUID:    copy.UUID,
		ConversationID: conv.ID,
		Text:           newText,
		EditedAt:       &now,
		Reactions:      reactions,
	}
	for _, uid := range conv.MemberIDs() {
		s.events.Publish(uid, event.Envelope{Type: event.TypeMessageUpdated, Payload: payload})
	}
	return nil
}

// React toggles the actor's reaction: same emoji removes it, a different
// emoji replaces it, none appends. The resulting list is shared by every
// copy of the uuid. Blocked pairs cannot react.
func (s *Mailbox) React(ctx context.Context, messageID, emoji, actorID string) error {
	defer logger.DeferLogDuration("mailbox.React", time.Now())()
	if emoji == "" {
		return validationf("emoji required")
	}
	copy, err := s.msgs.GetCopy(ctx, messageID)
	if err != nil {
		return notFound(err)
	}
	conv, err := s.convs.GetByID(ctx, copy.ConversationID)
	if err != nil {
		return notFound(err)
	}
	if conv.Member(actorID) == nil {
		return forbiddenf("not a participant")
	}
	peer := conv.PeerID(actorID)
	if peer != actorID {
		allowed, err := s.gate.IsAllowed(ctx, platform.ActionReact, actorID, peer)
		if err != nil {
			return err
		}
		if !allowed {
			return forbiddenf("reacting not allowed")
		}
	}

	existing, err := s.reacts.Get(ctx, copy.UUID, actorID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		err = s.reacts.Set(ctx, copy.UUID, actorID, emoji)
	case err != nil:
		return err
	case existing == emoji:
		err = s.reacts.Remove(ctx, copy.UUID, actorID)
	default:
		err = s.reacts.Set(ctx, copy.UUID, actorID, emoji)
	}
	if err != nil {
		return err
	}

	reactions, err := s.reacts.ListByUUID(ctx, copy.UUID)
	if err != nil {
		return err
	}
	payload := event.MessageUpdatedPayload{
		MessageUUID:    copy.UUID,
		ConversationID: conv.ID,
		Text:           copy.Text,
		EditedAt:       copy.EditedAt,
		Reactions:      reactions,
	}
	for _, uid := range conv.MemberIDs() {
		s.events.Publish(uid, event.Envelope{Type: event.TypeMessageUpdated, Payload: payload})
	}
	return nil
}

// Delete removes message copies. With forEveryone=false only the actor's
// own copies go; with forEveryone=true the whole uuid groups are destroyed,
// which only the original sender may do and never across a blocked pair.
func (s *Mailbox) Delete(ctx context.Context, messageIDs []string, forEveryone bool, actorID string) error {
	defer logger.DeferLogDuration("mailbox.Delete", time.Now())()
	if len(messageIDs) == 0 {
		return validationf("message ids required")
	}
	copies, err := s.msgs.GetCopies(ctx, messageIDs)
	if err != nil {
		return err
	}
	if len(copies) == 0 {
		// Nothing left to delete: already in the requested state.
		return nil
	}
	convID := copies[0].ConversationID
	for _, c := range copies {
		if c.ConversationID != convID {
			return validationf("messages span conversations")
		}
	}
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return notFound(err)
	}
	if conv.Member(actorID) == nil {
		return forbiddenf("not a participant")
	}

	uuids := make([]string, 0, len(copies))
	seen := make(map[string]struct{}, len(copies))
	for _, c := range copies {
		if _, ok := seen[c.UUID]; ok {
			continue
		}
		seen[c.UUID] = struct{}{}
		uuids = append(uuids, c.UUID)
	}

	if !forEveryone {
		if err := s.msgs.DeleteOwnByUUIDs(ctx, actorID, uuids); err != nil {
			return err
		}
		s.events.Publish(actorID, event.Envelope{Type: event.TypeMessagesDeleted, Payload: event.MessagesDeletedPayload{
			ConversationID: convID, MessageUUIDs: uuids, Mode: "self",
		}})
		return nil
	}

	for _, c := range copies {
		if !c.SentBy(actorID) {
			return forbiddenf("only the sender can delete for everyone")
		}
	}
	peer := conv.PeerID(actorID)
	if peer != actorID {
		allowed, err := s.gate.IsAllowed(ctx, platform.ActionDelete, actorID, peer)
		if err != nil {
			return err
		}
		if !allowed {
			return forbiddenf("deleting for everyone not allowed")
		}
	}
	if err := s.msgs.DeleteByUUIDs(ctx, uuids); err != nil {
		return err
	}
	if err := s.reacts.DeleteByUUIDs(ctx, uuids); err != nil {
		logger.Errorf("mailbox delete reactions: %v", err)
	}
	payload := event.MessagesDeletedPayload{ConversationID: convID, MessageUUIDs: uuids, Mode: "everyone"}
	for _, uid := range conv.MemberIDs() {
		s.events.Publish(uid, event.Envelope{Type: event.TypeMessagesDeleted, Payload: payload})
	}
	return nil
}

// Forward re-sends messages into other conversations: fresh uuid per
// target, content duplicated without reactions, forwardedFrom set to the
// original sender (nil when forwarding one's own message).
func (s *Mailbox) Forward(ctx context.Context, messageIDs, targetConversationIDs []string, actorID string) ([]*model.Message, error) {
	defer logger.DeferLogDuration("mailbox.Forward", time.Now())()
	if len(messageIDs) == 0 || len(targetConversationIDs) == 0 {
		return nil, validationf("message ids and target conversations required")
	}
	sources, err := s.msgs.GetCopies(ctx, messageIDs)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, ErrNotFound
	}
	for _, src := range sources {
		if src.OwnerID != actorID {
			return nil, forbiddenf("can only forward from own mailbox")
		}
	}

	created := make([]*model.Message, 0, len(sources)*len(targetConversationIDs))
	for _, targetID := range targetConversationIDs {
		conv, err := s.convs.GetByID(ctx, targetID)
		if err != nil {
			return nil, notFound(err)
		}
		if conv.Member(actorID) == nil {
			return nil, forbiddenf("not a participant of target")
		}
		peer := conv.PeerID(actorID)
		if peer != actorID {
			allowed, err := s.gate.IsAllowed(ctx, platform.ActionMessage, actorID, peer)
			if err != nil {
				return nil, err
			}
			if !allowed {
				return nil, forbiddenf("messaging not allowed")
			}
		}

		for i := range sources {
			src := &sources[i]
			msg := &model.Message{
				UUID:           uuid.New().String(),
				ConversationID: conv.ID,
				SenderID:       &actorID,
				Type:           model.MessageTypeUser,
				Text:           src.Text,
				ImageURL:       src.ImageURL,
				TrackID:        src.TrackID,
				CreatedAt:      time.Now().UTC(),
			}
			if src.SenderID != nil && *src.SenderID != actorID {
				msg.ForwardedFrom = src.SenderID
			} else if src.ForwardedFrom != nil {
				// Forwarding an already-forwarded message keeps the origin.
				msg.ForwardedFrom = src.ForwardedFrom
			}
			copies := s.mintCopies(conv, msg)
			if err := s.msgs.CreateCopies(ctx, copies); err != nil {
				return nil, err
			}
			if err := s.convs.ClearDeleted(ctx, conv.ID); err != nil {
				logger.Errorf("mailbox revive conversation %s: %v", conv.ID, err)
			}
			metrics.MessagesSent.Inc()
			own := s.publishNewMessage(conv, copies)
			created = append(created, own)
		}
	}
	return created, nil
}

// MarkRead stamps the actor onto their own unread copies, clears the
// marked-unread flag and tells the peer.
func (s *Mailbox) MarkRead(ctx context.Context, conversationID, actorID string) error {
	defer logger.DeferLogDuration("mailbox.MarkRead", time.Now())()
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return notFound(err)
	}
	if conv.Member(actorID) == nil {
		return forbiddenf("not a participant")
	}
	if err := s.msgs.MarkRead(ctx, conv.ID, actorID); err != nil {
		return err
	}
	if err := s.convs.SetMarkedUnread(ctx, conv.ID, actorID, false); err != nil {
		return err
	}
	payload := event.MessagesReadPayload{ConversationID: conv.ID, UserID: actorID}
	for _, uid := range conv.MemberIDs() {
		if uid != actorID {
			s.events.Publish(uid, event.Envelope{Type: event.TypeMessagesRead, Payload: payload})
		}
	}
	return nil
}
