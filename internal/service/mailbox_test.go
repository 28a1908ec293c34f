package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dialogs/internal/event"
	"github.com/dialogs/internal/platform"
)

func TestSendCreatesCopyPerParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	own := env.send(t, "alice", "bob", "hello")
	if own.OwnerID != "alice" {
		t.Fatalf("expected sender's copy, got owner %s", own.OwnerID)
	}
	if !own.ReadByUser("alice") {
		t.Fatalf("sender's copy must start read by the sender")
	}

	bobCopy := env.ownCopy(t, own.UUID, "bob")
	if bobCopy.ID == own.ID {
		t.Fatalf("copies must be distinct rows")
	}
	if bobCopy.UUID != own.UUID {
		t.Fatalf("copies must share the uuid")
	}
	if bobCopy.ReadByUser("bob") {
		t.Fatalf("recipient's copy must start unread")
	}
	if bobCopy.Text != "hello" {
		t.Fatalf("unexpected text %q", bobCopy.Text)
	}

	for _, user := range []string{"alice", "bob"} {
		if got := env.pub.byType(user, event.TypeNewMessage); len(got) != 1 {
			t.Fatalf("expected 1 new_message for %s, got %d", user, len(got))
		}
	}

	unread, err := env.store.UnreadCount(ctx, own.ConversationID, "bob")
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread for bob, got %d", unread)
	}
}

func TestSendSelfChatSingleCopy(t *testing.T) {
	env := newTestEnv(t)

	own := env.send(t, "alice", "alice", "note to self")
	copies, err := env.store.OwnUUIDs(context.Background(), own.ConversationID, "alice")
	if err != nil {
		t.Fatalf("own uuids: %v", err)
	}
	if len(copies) != 1 {
		t.Fatalf("self-chat message must have exactly one copy, got %d", len(copies))
	}

	conv, err := env.store.GetByID(context.Background(), own.ConversationID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !conv.IsSelfChat() {
		t.Fatalf("expected a single-member self-chat")
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mailbox.Send(context.Background(), SendInput{SenderID: "alice", RecipientID: "bob", Text: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSendBlockedPair(t *testing.T) {
	env := newTestEnv(t)
	env.gate.denyAll = true
	_, err := env.mailbox.Send(context.Background(), SendInput{SenderID: "alice", RecipientID: "bob", Text: "hi"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSendIsIdempotentOnConversation(t *testing.T) {
	env := newTestEnv(t)
	first := env.send(t, "alice", "bob", "one")
	second := env.send(t, "bob", "alice", "two")
	if first.ConversationID != second.ConversationID {
		t.Fatalf("both directions must land in the same pair conversation")
	}
}

func TestEditFansOutToAllCopies(t *testing.T) {
	env := newTestEnv(t)
	own := env.send(t, "alice", "bob", "typo")

	if err := env.mailbox.Edit(context.Background(), own.ID, "fixed", "alice"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	for _, user := range []string{"alice", "bob"} {
		c := env.ownCopy(t, own.UUID, user)
		if c.Text != "fixed" {
			t.Fatalf("copy of %s not updated: %q", user, c.Text)
		}
		if c.EditedAt == nil {
			t.Fatalf("copy of %s missing edited timestamp", user)
		}
	}

	if got := env.pub.byType("bob", event.TypeMessageUpdated); len(got) != 1 {
		t.Fatalf("expected message_updated for bob, got %d", len(got))
	}
}

func TestEditOnlyByAuthor(t *testing.T) {
	env := newTestEnv(t)
	own := env.send(t, "alice", "bob", "mine")
	bobCopy := env.ownCopy(t, own.UUID, "bob")

	err := env.mailbox.Edit(context.Background(), bobCopy.ID, "hijacked", "bob")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestReactToggle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "react to me")
	bobCopy := env.ownCopy(t, own.UUID, "bob")

	if err := env.mailbox.React(ctx, bobCopy.ID, "👍", "bob"); err != nil {
		t.Fatalf("react: %v", err)
	}
	reactions, err := env.reacts.ListByUUID(ctx, own.UUID)
	if err != nil {
		t.Fatalf("list reactions: %v", err)
	}
	if len(reactions) != 1 || reactions[0].Emoji != "👍" {
		t.Fatalf("expected one 👍, got %+v", reactions)
	}

	// Different emoji replaces.
	if err := env.mailbox.React(ctx, bobCopy.ID, "❤️", "bob"); err != nil {
		t.Fatalf("react replace: %v", err)
	}
	reactions, _ = env.reacts.ListByUUID(ctx, own.UUID)
	if len(reactions) != 1 || reactions[0].Emoji != "❤️" {
		t.Fatalf("expected replacement to ❤️, got %+v", reactions)
	}

	// Same emoji removes.
	if err := env.mailbox.React(ctx, bobCopy.ID, "❤️", "bob"); err != nil {
		t.Fatalf("react remove: %v", err)
	}
	reactions, _ = env.reacts.ListByUUID(ctx, own.UUID)
	if len(reactions) != 0 {
		t.Fatalf("expected reaction removed, got %+v", reactions)
	}
}

func TestReactVisibleFromBothCopies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "shared list")

	if err := env.mailbox.React(ctx, own.ID, "🔥", "alice"); err != nil {
		t.Fatalf("react: %v", err)
	}
	// The reaction is keyed by uuid, so resolving through either copy
	// yields the identical list.
	bobCopy := env.ownCopy(t, own.UUID, "bob")
	fromBob, _ := env.reacts.ListByUUID(ctx, bobCopy.UUID)
	fromAlice, _ := env.reacts.ListByUUID(ctx, own.UUID)
	if len(fromBob) != 1 || len(fromAlice) != 1 || fromBob[0] != fromAlice[0] {
		t.Fatalf("reaction lists diverge: %+v vs %+v", fromAlice, fromBob)
	}
}

func TestDeleteForSelfKeepsPeerCopies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "delete me")

	if err := env.mailbox.Delete(ctx, []string{own.ID}, false, "alice"); err != nil {
		t.Fatalf("delete for self: %v", err)
	}
	if _, err := env.store.OwnCopyByUUID(ctx, own.UUID, "alice"); err == nil {
		t.Fatalf("alice's copy should be gone")
	}
	if _, err := env.store.OwnCopyByUUID(ctx, own.UUID, "bob"); err != nil {
		t.Fatalf("bob's copy must survive: %v", err)
	}

	if got := env.pub.byType("bob", event.TypeMessagesDeleted); len(got) != 0 {
		t.Fatalf("self delete must not notify the peer")
	}
}

func TestDeleteForEveryone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "gone for both")
	if err := env.mailbox.React(ctx, own.ID, "👀", "bob"); err != nil {
		t.Fatalf("react: %v", err)
	}

	if err := env.mailbox.Delete(ctx, []string{own.ID}, true, "alice"); err != nil {
		t.Fatalf("delete for everyone: %v", err)
	}
	for _, user := range []string{"alice", "bob"} {
		if _, err := env.store.OwnCopyByUUID(ctx, own.UUID, user); err == nil {
			t.Fatalf("copy of %s should be gone", user)
		}
	}
	reactions, _ := env.reacts.ListByUUID(ctx, own.UUID)
	if len(reactions) != 0 {
		t.Fatalf("reactions must go with the message, got %+v", reactions)
	}
	if got := env.pub.byType("bob", event.TypeMessagesDeleted); len(got) != 1 {
		t.Fatalf("everyone delete must notify the peer")
	}
}

func TestDeleteForEveryoneOnlyBySender(t *testing.T) {
	env := newTestEnv(t)
	own := env.send(t, "alice", "bob", "not yours")
	bobCopy := env.ownCopy(t, own.UUID, "bob")

	err := env.mailbox.Delete(context.Background(), []string{bobCopy.ID}, true, "bob")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDeleteForEveryoneConsultsGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "about to go")

	env.gate.blocked = true
	err := env.mailbox.Delete(ctx, []string{own.ID}, true, "alice")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("blocked pair must refuse delete for everyone, got %v", err)
	}
	if _, err := env.store.OwnCopyByUUID(ctx, own.UUID, "bob"); err != nil {
		t.Fatalf("refused delete must leave copies intact: %v", err)
	}

	env.gate.blocked = false
	if err := env.mailbox.Delete(ctx, []string{own.ID}, true, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if asked := env.gate.asked[len(env.gate.asked)-1]; asked != platform.ActionDelete {
		t.Fatalf("expected the %s action checked, got %s", platform.ActionDelete, asked)
	}
}

func TestForward(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	own := env.send(t, "alice", "bob", "original")
	bobCopy := env.ownCopy(t, own.UUID, "bob")
	target := env.openConv(t, "bob", "carol")

	created, err := env.mailbox.Forward(ctx, []string{bobCopy.ID}, []string{target.ID}, "bob")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 forwarded message, got %d", len(created))
	}
	fwd := created[0]
	if fwd.UUID == own.UUID {
		t.Fatalf("forward must mint a fresh uuid")
	}
	if fwd.ForwardedFrom == nil || *fwd.ForwardedFrom != "alice" {
		t.Fatalf("forwardedFrom must name the original sender, got %v", fwd.ForwardedFrom)
	}
	if fwd.SenderID == nil || *fwd.SenderID != "bob" {
		t.Fatalf("forwarder becomes the sender, got %v", fwd.SenderID)
	}
	if fwd.Text != "original" {
		t.Fatalf("content must be duplicated, got %q", fwd.Text)
	}

	// Carol gets her own copy.
	if _, err := env.store.OwnCopyByUUID(ctx, fwd.UUID, "carol"); err != nil {
		t.Fatalf("carol's copy missing: %v", err)
	}
}

func TestForwardOwnMessageHasNoOrigin(t *testing.T) {
	env := newTestEnv(t)
	own := env.send(t, "alice", "bob", "self authored")
	target := env.openConv(t, "alice", "carol")

	created, err := env.mailbox.Forward(context.Background(), []string{own.ID}, []string{target.ID}, "alice")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if created[0].ForwardedFrom != nil {
		t.Fatalf("forwarding one's own message keeps forwardedFrom empty, got %v", *created[0].ForwardedFrom)
	}
}

func TestMarkRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "read me")

	if err := env.convs.MarkUnread(ctx, own.ConversationID, "bob"); err != nil {
		t.Fatalf("mark unread: %v", err)
	}
	if err := env.mailbox.MarkRead(ctx, own.ConversationID, "bob"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	unread, _ := env.store.UnreadCount(ctx, own.ConversationID, "bob")
	if unread != 0 {
		t.Fatalf("expected 0 unread, got %d", unread)
	}
	conv, _ := env.store.GetByID(ctx, own.ConversationID)
	if conv.Member("bob").MarkedUnread {
		t.Fatalf("manual unread badge must clear on read")
	}
	if got := env.pub.byType("alice", event.TypeMessagesRead); len(got) != 1 {
		t.Fatalf("peer must learn about the read, got %d events", len(got))
	}
}

func TestSendRevivesClearedConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "before delete")

	if err := env.convs.Delete(ctx, own.ConversationID, "bob", false, false); err != nil {
		t.Fatalf("one-sided delete: %v", err)
	}
	list, _ := env.store.ListForUser(ctx, "bob")
	if len(list) != 0 {
		t.Fatalf("bob's list should be empty after delete, got %d", len(list))
	}

	env.send(t, "alice", "bob", "knock knock")
	list, _ = env.store.ListForUser(ctx, "bob")
	if len(list) != 1 {
		t.Fatalf("a new message must revive the conversation for bob")
	}
}
