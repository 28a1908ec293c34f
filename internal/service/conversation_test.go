package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dialogs/internal/event"
	"github.com/dialogs/internal/model"
)

func TestToggleMute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.openConv(t, "alice", "bob")

	muted, err := env.convs.ToggleMute(ctx, conv.ID, "alice")
	if err != nil || !muted {
		t.Fatalf("first toggle should mute: %v %v", muted, err)
	}
	muted, err = env.convs.ToggleMute(ctx, conv.ID, "alice")
	if err != nil || muted {
		t.Fatalf("second toggle should unmute: %v %v", muted, err)
	}

	// The flag is per-user: bob stays unaffected.
	env.convs.ToggleMute(ctx, conv.ID, "alice")
	got, _ := env.store.GetByID(ctx, conv.ID)
	if got.Member("bob").Muted {
		t.Fatalf("mute must not leak to the peer")
	}
}

func TestArchiveClearsListPin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.openConv(t, "alice", "bob")

	if _, err := env.convs.ToggleListPin(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if _, err := env.convs.ToggleArchive(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	got, _ := env.store.GetByID(ctx, conv.ID)
	m := got.Member("alice")
	if !m.Archived || m.Pinned {
		t.Fatalf("archive must clear the list pin, got archived=%v pinned=%v", m.Archived, m.Pinned)
	}
}

func TestPinUnarchives(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.openConv(t, "alice", "bob")

	env.convs.ToggleArchive(ctx, conv.ID, "alice")
	if _, err := env.convs.ToggleListPin(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("pin: %v", err)
	}
	got, _ := env.store.GetByID(ctx, conv.ID)
	m := got.Member("alice")
	if m.Archived || !m.Pinned {
		t.Fatalf("pinning must unarchive, got archived=%v pinned=%v", m.Archived, m.Pinned)
	}
}

func TestListPinQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		conv := env.openConv(t, "alice", fmt.Sprintf("peer%d", i))
		if _, err := env.convs.ToggleListPin(ctx, conv.ID, "alice"); err != nil {
			t.Fatalf("pin %d: %v", i, err)
		}
	}
	over := env.openConv(t, "alice", "peer4")
	_, err := env.convs.ToggleListPin(ctx, over.ID, "alice")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("fifth pin must fail validation, got %v", err)
	}

	// Unpinning frees a slot.
	first := env.openConv(t, "alice", "peer0")
	if _, err := env.convs.ToggleListPin(ctx, first.ID, "alice"); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if _, err := env.convs.ToggleListPin(ctx, over.ID, "alice"); err != nil {
		t.Fatalf("pin after freeing a slot: %v", err)
	}
}

func TestListPinQuotaPremium(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.dir.premium["alice"] = true

	for i := 0; i < 8; i++ {
		conv := env.openConv(t, "alice", fmt.Sprintf("peer%d", i))
		if _, err := env.convs.ToggleListPin(ctx, conv.ID, "alice"); err != nil {
			t.Fatalf("premium pin %d: %v", i, err)
		}
	}
	over := env.openConv(t, "alice", "peer8")
	if _, err := env.convs.ToggleListPin(ctx, over.ID, "alice"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ninth premium pin must fail validation, got %v", err)
	}
}

func TestPinMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.dir.usernames["alice"] = "Alice"
	own := env.send(t, "alice", "bob", "worth pinning")
	env.pub.reset()

	if err := env.convs.PinMessage(ctx, own.ConversationID, own.ID, "alice"); err != nil {
		t.Fatalf("pin message: %v", err)
	}

	pins, _ := env.store.PinnedMessages(ctx, own.ConversationID)
	if len(pins) != 1 || pins[0].MessageID != own.ID {
		t.Fatalf("expected pin recorded, got %+v", pins)
	}

	// The pin announces itself with a system message in both mailboxes.
	for _, user := range []string{"alice", "bob"} {
		evs := env.pub.byType(user, event.TypeNewMessage)
		if len(evs) != 1 {
			t.Fatalf("expected system message for %s, got %d events", user, len(evs))
		}
		sys, ok := evs[0].Payload.(*model.Message)
		if !ok {
			t.Fatalf("unexpected payload type %T", evs[0].Payload)
		}
		if sys.Type != model.MessageTypeSystem || sys.SenderID != nil {
			t.Fatalf("announcement must be a senderless system message: %+v", sys)
		}
	}

	// Re-pinning is a no-op: no second system message.
	env.pub.reset()
	if err := env.convs.PinMessage(ctx, own.ConversationID, own.ID, "alice"); err != nil {
		t.Fatalf("re-pin: %v", err)
	}
	if evs := env.pub.byType("bob", event.TypeNewMessage); len(evs) != 0 {
		t.Fatalf("re-pin must stay silent, got %d events", len(evs))
	}
}

func TestUnpinMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.dir.usernames["bob"] = "Bob"
	own := env.send(t, "alice", "bob", "pinned then not")

	env.convs.PinMessage(ctx, own.ConversationID, own.ID, "alice")
	env.pub.reset()
	// Either participant may unpin.
	if err := env.convs.UnpinMessage(ctx, own.ConversationID, own.ID, "bob"); err != nil {
		t.Fatalf("unpin by peer: %v", err)
	}
	pins, _ := env.store.PinnedMessages(ctx, own.ConversationID)
	if len(pins) != 0 {
		t.Fatalf("expected empty pin set, got %+v", pins)
	}

	// Unpinning announces itself in both mailboxes, snippet included.
	for _, user := range []string{"alice", "bob"} {
		evs := env.pub.byType(user, event.TypeNewMessage)
		if len(evs) != 1 {
			t.Fatalf("expected unpin system message for %s, got %d events", user, len(evs))
		}
		sys, ok := evs[0].Payload.(*model.Message)
		if !ok {
			t.Fatalf("unexpected payload type %T", evs[0].Payload)
		}
		if sys.Type != model.MessageTypeSystem {
			t.Fatalf("announcement must be a system message: %+v", sys)
		}
		if sys.Text != "Bob unpinned a message: pinned then not" {
			t.Fatalf("unexpected announcement text %q", sys.Text)
		}
	}

	// Unpinning an already-unpinned message stays silent.
	env.pub.reset()
	if err := env.convs.UnpinMessage(ctx, own.ConversationID, own.ID, "alice"); err != nil {
		t.Fatalf("second unpin: %v", err)
	}
	if evs := env.pub.byType("alice", event.TypeNewMessage); len(evs) != 0 {
		t.Fatalf("repeat unpin must stay silent, got %d events", len(evs))
	}
}

func TestWallpaperForBoth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.openConv(t, "alice", "bob")
	w := &model.Wallpaper{Type: model.WallpaperColor, Value: "#222222"}

	if err := env.convs.SetWallpaper(ctx, conv.ID, "alice", w, true); err != nil {
		t.Fatalf("set wallpaper: %v", err)
	}
	got, _ := env.store.GetByID(ctx, conv.ID)
	for _, user := range []string{"alice", "bob"} {
		m := got.Member(user)
		if m.Wallpaper == nil || m.Wallpaper.Value != "#222222" {
			t.Fatalf("wallpaper missing for %s: %+v", user, m.Wallpaper)
		}
	}
	// Applying for both is announced.
	if evs := env.pub.byType("bob", event.TypeNewMessage); len(evs) != 1 {
		t.Fatalf("expected wallpaper system message, got %d", len(evs))
	}
}

func TestWallpaperForBothInSelfChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.openConv(t, "alice", "alice")
	w := &model.Wallpaper{Type: model.WallpaperTemplate, Value: "stars"}

	if err := env.convs.SetWallpaper(ctx, conv.ID, "alice", w, true); err != nil {
		t.Fatalf("set wallpaper: %v", err)
	}
	// In a self-chat "both" collapses to self and stays silent.
	if evs := env.pub.byType("alice", event.TypeNewMessage); len(evs) != 0 {
		t.Fatalf("self-chat wallpaper must not produce a system message, got %d", len(evs))
	}
}

func TestWallpaperReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.openConv(t, "alice", "bob")
	w := &model.Wallpaper{Type: model.WallpaperCustom, Value: "/files/bg.png"}

	env.convs.SetWallpaper(ctx, conv.ID, "alice", w, false)
	if err := env.convs.SetWallpaper(ctx, conv.ID, "alice", nil, false); err != nil {
		t.Fatalf("reset wallpaper: %v", err)
	}
	got, _ := env.store.GetByID(ctx, conv.ID)
	if got.Member("alice").Wallpaper != nil {
		t.Fatalf("expected wallpaper reset to default")
	}
}

func TestWallpaperRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	conv := env.openConv(t, "alice", "bob")
	err := env.convs.SetWallpaper(context.Background(), conv.ID, "alice", &model.Wallpaper{Type: "glitter"}, false)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClearHistoryKeepsPeerMailbox(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "one")
	env.send(t, "bob", "alice", "two")

	if err := env.convs.ClearHistory(ctx, own.ConversationID, "alice"); err != nil {
		t.Fatalf("clear history: %v", err)
	}

	aliceUUIDs, _ := env.store.OwnUUIDs(ctx, own.ConversationID, "alice")
	if len(aliceUUIDs) != 0 {
		t.Fatalf("alice's mailbox should be empty, got %d", len(aliceUUIDs))
	}
	bobUUIDs, _ := env.store.OwnUUIDs(ctx, own.ConversationID, "bob")
	if len(bobUUIDs) != 2 {
		t.Fatalf("bob's mailbox must survive, got %d", len(bobUUIDs))
	}
	if evs := env.pub.byType("alice", event.TypeHistoryCleared); len(evs) != 1 {
		t.Fatalf("expected history_cleared for alice")
	}
}

func TestDeleteOneSidedThenReclaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "soon gone")

	if err := env.convs.Delete(ctx, own.ConversationID, "alice", false, false); err != nil {
		t.Fatalf("alice delete: %v", err)
	}
	// The conversation survives while bob still has it.
	if _, err := env.store.GetByID(ctx, own.ConversationID); err != nil {
		t.Fatalf("conversation must survive one-sided delete: %v", err)
	}

	if err := env.convs.Delete(ctx, own.ConversationID, "bob", false, false); err != nil {
		t.Fatalf("bob delete: %v", err)
	}
	if _, err := env.store.GetByID(ctx, own.ConversationID); err == nil {
		t.Fatalf("conversation must be reclaimed once both sides deleted")
	}
}

func TestDeleteForEveryoneDestroys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	own := env.send(t, "alice", "bob", "scorched earth")

	if err := env.convs.Delete(ctx, own.ConversationID, "alice", true, false); err != nil {
		t.Fatalf("delete for everyone: %v", err)
	}
	if _, err := env.store.GetByID(ctx, own.ConversationID); err == nil {
		t.Fatalf("conversation must be gone")
	}
	if evs := env.pub.byType("bob", event.TypeConversationDeleted); len(evs) != 1 {
		t.Fatalf("peer must be told the conversation is gone")
	}
}

func TestDeleteWithBlock(t *testing.T) {
	env := newTestEnv(t)
	own := env.send(t, "alice", "bob", "and stay out")

	if err := env.convs.Delete(context.Background(), own.ConversationID, "alice", true, true); err != nil {
		t.Fatalf("delete with block: %v", err)
	}
	if env.gate.blockedBy["alice"] != "bob" {
		t.Fatalf("expected alice to blacklist bob, got %+v", env.gate.blockedBy)
	}
}

func TestTypingReachesPeerOnly(t *testing.T) {
	env := newTestEnv(t)
	conv := env.openConv(t, "alice", "bob")

	if err := env.convs.Typing(context.Background(), conv.ID, "alice"); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if evs := env.pub.byType("bob", event.TypeTyping); len(evs) != 1 {
		t.Fatalf("peer must get the typing signal")
	}
	if evs := env.pub.byType("alice", event.TypeTyping); len(evs) != 0 {
		t.Fatalf("typing must not echo back to the typist")
	}
}

func TestOpenBlockedPair(t *testing.T) {
	env := newTestEnv(t)
	env.gate.blocked = true
	_, err := env.convs.Open(context.Background(), "alice", "bob")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
