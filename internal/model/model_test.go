package model

import "testing"

func TestPairKey(t *testing.T) {
	if PairKey("bob", "alice") != PairKey("alice", "bob") {
		t.Fatalf("pair key must be order independent")
	}
	if PairKey("alice", "bob") != "alice:bob" {
		t.Fatalf("unexpected key %q", PairKey("alice", "bob"))
	}
	if PairKey("alice", "alice") != "alice" {
		t.Fatalf("self-chat key must be the bare id, got %q", PairKey("alice", "alice"))
	}
}

func TestPeerID(t *testing.T) {
	conv := &Conversation{Members: []Member{{UserID: "alice"}, {UserID: "bob"}}}
	if conv.PeerID("alice") != "bob" {
		t.Fatalf("peer of alice must be bob")
	}
	self := &Conversation{Members: []Member{{UserID: "alice"}}}
	if self.PeerID("alice") != "alice" {
		t.Fatalf("self-chat peer is oneself")
	}
	if !self.IsSelfChat() || conv.IsSelfChat() {
		t.Fatalf("self-chat detection wrong")
	}
}

func TestHasContent(t *testing.T) {
	m := &Message{Type: MessageTypeUser}
	if m.HasContent() {
		t.Fatalf("empty user message has no content")
	}
	m.TrackID = "track-9"
	if !m.HasContent() {
		t.Fatalf("track counts as content")
	}
	sys := &Message{Type: MessageTypeSystem}
	if !sys.HasContent() {
		t.Fatalf("system messages are exempt from the content rule")
	}
}

func TestSnippet(t *testing.T) {
	m := &Message{Text: "0123456789"}
	if got := m.Snippet(5); len([]rune(got)) != 5 {
		t.Fatalf("snippet must respect the limit, got %q", got)
	}
	photo := &Message{ImageURL: "/files/x.png"}
	if photo.Snippet(20) != "photo" {
		t.Fatalf("photo placeholder expected, got %q", photo.Snippet(20))
	}
}
