package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dialogs/internal/event"
	"github.com/dialogs/internal/model"
	"github.com/dialogs/internal/platform"
	"github.com/dialogs/internal/repository/memory"
)

// stubGate implements platform.Gate with scripted answers.
type stubGate struct {
	mu        sync.Mutex
	denyAll   bool
	blocked   bool
	asked     []string          // actions passed to IsAllowed, in order
	blockedBy map[string]string // actor -> target recorded by Block
}

func newStubGate() *stubGate {
	return &stubGate{blockedBy: make(map[string]string)}
}

func (g *stubGate) IsAllowed(ctx context.Context, action, actorID, targetID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.asked = append(g.asked, action)
	return !g.denyAll && !g.blocked, nil
}

func (g *stubGate) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocked, nil
}

func (g *stubGate) Block(ctx context.Context, actorID, targetID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blockedBy[actorID] = targetID
	return nil
}

// stubDirectory implements platform.Directory.
type stubDirectory struct {
	premium   map[string]bool
	usernames map[string]string
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{premium: make(map[string]bool), usernames: make(map[string]string)}
}

func (d *stubDirectory) Profile(ctx context.Context, viewerID, userID string) (platform.Profile, error) {
	return platform.Profile{ID: userID, Username: d.usernames[userID], Premium: d.premium[userID]}, nil
}

func (d *stubDirectory) IsPremium(ctx context.Context, userID string) (bool, error) {
	return d.premium[userID], nil
}

// recordingPublisher captures published events per user.
type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]event.Envelope
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]event.Envelope)}
}

func (p *recordingPublisher) Publish(userID string, ev event.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[userID] = append(p.events[userID], ev)
}

func (p *recordingPublisher) byType(userID string, t event.Type) []event.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.Envelope
	for _, ev := range p.events[userID] {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = make(map[string][]event.Envelope)
}

// testEnv bundles the services over a fresh in-memory store.
type testEnv struct {
	store   *memory.Store
	reacts  *memory.Reactions
	gate    *stubGate
	dir     *stubDirectory
	pub     *recordingPublisher
	mailbox *Mailbox
	convs   *Conversations
	views   *Views
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	reacts := store.ReactionStore()
	gate := newStubGate()
	dir := newStubDirectory()
	pub := newRecordingPublisher()
	return &testEnv{
		store:   store,
		reacts:  reacts,
		gate:    gate,
		dir:     dir,
		pub:     pub,
		mailbox: NewMailbox(store, store, reacts, gate, dir, pub, nil),
		convs:   NewConversations(store, store, reacts, gate, dir, pub, 4, 8),
		views:   NewViews(store, store, reacts, dir),
	}
}

// openConv creates (or finds) the conversation between two users.
func (e *testEnv) openConv(t *testing.T, a, b string) *model.Conversation {
	t.Helper()
	conv, err := e.convs.Open(context.Background(), a, b)
	if err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	return conv
}

// send delivers a text message and returns the sender's copy.
func (e *testEnv) send(t *testing.T, sender, recipient, text string) *model.Message {
	t.Helper()
	msg, err := e.mailbox.Send(context.Background(), SendInput{SenderID: sender, RecipientID: recipient, Text: text})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return msg
}

// seedMessage inserts copies directly with a controlled timestamp, for
// paging tests that need deterministic order.
func (e *testEnv) seedMessage(t *testing.T, conv *model.Conversation, sender, text string, at time.Time) string {
	t.Helper()
	shared := uuid.New().String()
	copies := make([]*model.Message, 0, len(conv.Members))
	for _, m := range conv.Members {
		readBy := []string{}
		if m.UserID == sender {
			readBy = []string{sender}
		}
		copies = append(copies, &model.Message{
			ID:             uuid.New().String(),
			UUID:           shared,
			ConversationID: conv.ID,
			OwnerID:        m.UserID,
			SenderID:       &sender,
			Type:           model.MessageTypeUser,
			Text:           text,
			ReadBy:         readBy,
			CreatedAt:      at,
		})
	}
	if err := e.store.CreateCopies(context.Background(), copies); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return shared
}

func (e *testEnv) ownCopy(t *testing.T, msgUUID, ownerID string) *model.Message {
	t.Helper()
	m, err := e.store.OwnCopyByUUID(context.Background(), msgUUID, ownerID)
	if err != nil {
		t.Fatalf("own copy uuid=%s owner=%s: %v", msgUUID, ownerID, err)
	}
	return m
}
