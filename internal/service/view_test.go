package service

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestConversationListOrdering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	oldChat := env.openConv(t, "alice", "bob")
	env.seedMessage(t, oldChat, "bob", "old", base)

	newChat := env.openConv(t, "alice", "carol")
	env.seedMessage(t, newChat, "carol", "new", base.Add(30*time.Minute))

	self := env.openConv(t, "alice", "alice")
	env.seedMessage(t, self, "alice", "note", base.Add(10*time.Minute))

	pinned := env.openConv(t, "alice", "dave")
	env.seedMessage(t, pinned, "dave", "pinned chat", base.Add(5*time.Minute))
	if _, err := env.convs.ToggleListPin(ctx, pinned.ID, "alice"); err != nil {
		t.Fatalf("pin: %v", err)
	}

	views, err := env.views.ConversationList(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 4 {
		t.Fatalf("expected 4 conversations, got %d", len(views))
	}
	order := []string{pinned.ID, self.ID, newChat.ID, oldChat.ID}
	for i, want := range order {
		if views[i].ID != want {
			t.Fatalf("position %d: want %s, got %s", i, want, views[i].ID)
		}
	}
}

func TestConversationListHidesDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "hi")

	if err := env.convs.Delete(ctx, own.ConversationID, "bob", false, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	views, err := env.views.ConversationList(ctx, "bob")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("deleted conversation must be absent from bob's list")
	}
	// Alice still sees it.
	views, _ = env.views.ConversationList(ctx, "alice")
	if len(views) != 1 {
		t.Fatalf("alice's list must keep the conversation")
	}
}

func TestLastMessagePerViewer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "only for bob soon")

	if err := env.convs.ClearHistory(ctx, own.ConversationID, "alice"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	aliceView, err := env.views.Conversation(ctx, own.ConversationID, "alice")
	if err != nil {
		t.Fatalf("alice view: %v", err)
	}
	if aliceView.LastMessage != nil {
		t.Fatalf("alice cleared her mailbox, preview must be empty")
	}

	bobView, err := env.views.Conversation(ctx, own.ConversationID, "bob")
	if err != nil {
		t.Fatalf("bob view: %v", err)
	}
	if bobView.LastMessage == nil || bobView.LastMessage.Text != "only for bob soon" {
		t.Fatalf("bob's preview must come from his own mailbox: %+v", bobView.LastMessage)
	}
}

func TestViewUnreadCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "one")
	env.send(t, "alice", "bob", "two")

	view, err := env.views.Conversation(ctx, own.ConversationID, "bob")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.UnreadCount != 2 {
		t.Fatalf("expected 2 unread, got %d", view.UnreadCount)
	}
	// Own messages never count as unread for the sender.
	view, _ = env.views.Conversation(ctx, own.ConversationID, "alice")
	if view.UnreadCount != 0 {
		t.Fatalf("sender's unread must be 0, got %d", view.UnreadCount)
	}
}

func TestMessagePagePagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.openConv(t, "alice", "bob")
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 35; i++ {
		env.seedMessage(t, conv, "alice", fmt.Sprintf("msg %02d", i), base.Add(time.Duration(i)*time.Second))
	}

	page1, err := env.views.MessagePage(ctx, conv.ID, "bob", 1)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != PageSize {
		t.Fatalf("page 1 should hold %d messages, got %d", PageSize, len(page1))
	}
	// Chronological within the page, newest page first.
	if page1[0].Text != "msg 05" || page1[len(page1)-1].Text != "msg 34" {
		t.Fatalf("page 1 bounds wrong: %q .. %q", page1[0].Text, page1[len(page1)-1].Text)
	}

	page2, err := env.views.MessagePage(ctx, conv.ID, "bob", 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 5 {
		t.Fatalf("page 2 should hold the 5 oldest, got %d", len(page2))
	}
	if page2[0].Text != "msg 00" {
		t.Fatalf("page 2 must start at the oldest, got %q", page2[0].Text)
	}

	empty, err := env.views.MessagePage(ctx, conv.ID, "bob", 3)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("page past the end must be empty, got %d", len(empty))
	}
}

func TestPageForUUID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.openConv(t, "alice", "bob")
	base := time.Now().UTC().Add(-time.Hour)

	var oldest string
	for i := 0; i < 35; i++ {
		u := env.seedMessage(t, conv, "alice", fmt.Sprintf("msg %02d", i), base.Add(time.Duration(i)*time.Second))
		if i == 0 {
			oldest = u
		}
	}

	page, err := env.views.PageForUUID(ctx, conv.ID, oldest, "bob")
	if err != nil {
		t.Fatalf("page for uuid: %v", err)
	}
	if page != 2 {
		t.Fatalf("oldest of 35 lives on page 2, got %d", page)
	}
}

func TestPageForDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.openConv(t, "alice", "bob")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 40; i++ {
		env.seedMessage(t, conv, "alice", fmt.Sprintf("day %d", i), base.AddDate(0, 0, i))
	}

	page, err := env.views.PageForDate(ctx, conv.ID, "bob", base.AddDate(0, 0, 2).Truncate(24*time.Hour))
	if err != nil {
		t.Fatalf("page for date: %v", err)
	}
	// 37 messages are newer than day 2 of 40; 37/30 + 1 = 2.
	if page != 2 {
		t.Fatalf("expected page 2, got %d", page)
	}
}

func TestSearchScopedToOwnMailbox(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "the needle is here")
	env.send(t, "alice", "bob", "plain hay")

	found, err := env.views.Search(ctx, own.ConversationID, "bob", "NEEDLE")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(found))
	}

	// Bob deletes his copy; his search loses the hit, alice keeps hers.
	bobCopy := env.ownCopy(t, own.UUID, "bob")
	if err := env.mailbox.Delete(ctx, []string{bobCopy.ID}, false, "bob"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	found, _ = env.views.Search(ctx, own.ConversationID, "bob", "needle")
	if len(found) != 0 {
		t.Fatalf("bob's search must miss his deleted copy")
	}
	found, _ = env.views.Search(ctx, own.ConversationID, "alice", "needle")
	if len(found) != 1 {
		t.Fatalf("alice's search must still hit")
	}
}

func TestPinnedPreviewSkipsMissingCopies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "pin then vanish")

	if err := env.convs.PinMessage(ctx, own.ConversationID, own.ID, "alice"); err != nil {
		t.Fatalf("pin: %v", err)
	}
	bobCopy := env.ownCopy(t, own.UUID, "bob")
	if err := env.mailbox.Delete(ctx, []string{bobCopy.ID}, false, "bob"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	bobView, err := env.views.Conversation(ctx, own.ConversationID, "bob")
	if err != nil {
		t.Fatalf("bob view: %v", err)
	}
	if len(bobView.PinnedMessages) != 0 {
		t.Fatalf("bob lost his copy, the pin preview must be skipped for him")
	}
	aliceView, _ := env.views.Conversation(ctx, own.ConversationID, "alice")
	if len(aliceView.PinnedMessages) != 1 {
		t.Fatalf("alice keeps her pin preview")
	}
}

func TestAttachments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	own, err := env.mailbox.Send(ctx, SendInput{SenderID: "alice", RecipientID: "bob", ImageURL: "/files/a.png"})
	if err != nil {
		t.Fatalf("send photo: %v", err)
	}
	if _, err := env.mailbox.Send(ctx, SendInput{SenderID: "alice", RecipientID: "bob", TrackID: "track-1"}); err != nil {
		t.Fatalf("send track: %v", err)
	}

	photos, err := env.views.Attachments(ctx, own.ConversationID, "bob", "photo", 1)
	if err != nil {
		t.Fatalf("attachments: %v", err)
	}
	if len(photos) != 1 || photos[0].ImageURL != "/files/a.png" {
		t.Fatalf("expected the photo, got %+v", photos)
	}
	tracks, _ := env.views.Attachments(ctx, own.ConversationID, "bob", "track", 1)
	if len(tracks) != 1 || tracks[0].TrackID != "track-1" {
		t.Fatalf("expected the track, got %+v", tracks)
	}
	if _, err := env.views.Attachments(ctx, own.ConversationID, "bob", "video", 1); err == nil {
		t.Fatalf("unknown kind must be rejected")
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	own := env.send(t, "alice", "bob", "one")
	env.send(t, "bob", "alice", "two")
	if _, err := env.mailbox.Send(ctx, SendInput{SenderID: "alice", RecipientID: "bob", ImageURL: "/files/pic.jpg"}); err != nil {
		t.Fatalf("send photo: %v", err)
	}
	if err := env.mailbox.React(ctx, env.ownCopy(t, own.UUID, "bob").ID, "👍", "bob"); err != nil {
		t.Fatalf("react: %v", err)
	}

	stats, err := env.views.Stats(ctx, own.ConversationID, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Sent != 2 || stats.Received != 1 || stats.Photos != 1 || stats.Reactions != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReplyEnrichment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.send(t, "alice", "bob", "question")
	reply, err := env.mailbox.Send(ctx, SendInput{
		SenderID:       "bob",
		ConversationID: first.ConversationID,
		Text:           "answer",
		ReplyToUUID:    first.UUID,
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	page, err := env.views.MessagePage(ctx, first.ConversationID, "alice", 1)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	var found bool
	for _, m := range page {
		if m.UUID == reply.UUID {
			found = true
			if m.ReplyTo == nil || m.ReplyTo.UUID != first.UUID {
				t.Fatalf("reply must be enriched with the quoted copy: %+v", m.ReplyTo)
			}
			if m.ReplyTo.OwnerID != "alice" {
				t.Fatalf("quoted copy must be the viewer's own, got owner %s", m.ReplyTo.OwnerID)
			}
		}
	}
	if !found {
		t.Fatalf("reply missing from page")
	}
}
