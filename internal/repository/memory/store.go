// Package memory is a mutex-guarded in-memory implementation of the store
// interfaces. It backs -memdb runs and the service tests; semantics mirror
// the Postgres repositories.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dialogs/internal/model"
	"github.com/dialogs/internal/repository"
)

// Store implements ConversationStore and MessageStore on maps. Reaction
// storage lives here too but is exposed through the Reactions facade, since
// message and reaction deletion share a method name.
type Store struct {
	mu        sync.RWMutex
	convs     map[string]*model.Conversation
	byPairKey map[string]string
	msgs      map[string]*model.Message
	reactions map[string]map[string]model.Reaction // uuid -> user -> reaction
	pins      map[string][]model.PinnedMessage     // convID -> pins
}

func NewStore() *Store {
	return &Store{
		convs:     make(map[string]*model.Conversation),
		byPairKey: make(map[string]string),
		msgs:      make(map[string]*model.Message),
		reactions: make(map[string]map[string]model.Reaction),
		pins:      make(map[string][]model.PinnedMessage),
	}
}

// --- conversations ---

func (s *Store) GetOrCreate(ctx context.Context, participants []string, createdBy string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participants[0]
	if len(participants) == 2 {
		key = model.PairKey(participants[0], participants[1])
	}
	if id, ok := s.byPairKey[key]; ok {
		return copyConv(s.convs[id]), nil
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        uuid.New().String(),
		PairKey:   key,
		CreatedBy: createdBy,
		CreatedAt: now,
	}
	for _, uid := range participants {
		conv.Members = append(conv.Members, model.Member{
			ConversationID: conv.ID, UserID: uid, JoinedAt: now,
		})
	}
	s.convs[conv.ID] = conv
	s.byPairKey[key] = conv.ID
	return copyConv(conv), nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyConv(conv), nil
}

func (s *Store) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, 0, 8)
	for _, conv := range s.convs {
		if m := conv.Member(userID); m != nil && !m.Deleted {
			out = append(out, *copyConv(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) setFlag(convID, userID string, set func(*model.Member)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[convID]
	if !ok {
		return repository.ErrNotFound
	}
	m := conv.Member(userID)
	if m == nil {
		return repository.ErrNotFound
	}
	set(m)
	return nil
}

func (s *Store) SetMuted(ctx context.Context, convID, userID string, muted bool) error {
	return s.setFlag(convID, userID, func(m *model.Member) { m.Muted = muted })
}

func (s *Store) SetArchived(ctx context.Context, convID, userID string, archived bool) error {
	return s.setFlag(convID, userID, func(m *model.Member) {
		m.Archived = archived
		if archived {
			m.Pinned = false
		}
	})
}

func (s *Store) SetMarkedUnread(ctx context.Context, convID, userID string, marked bool) error {
	return s.setFlag(convID, userID, func(m *model.Member) { m.MarkedUnread = marked })
}

func (s *Store) PinToList(ctx context.Context, convID, userID string, quota int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[convID]
	if !ok {
		return false, repository.ErrNotFound
	}
	m := conv.Member(userID)
	if m == nil {
		return false, repository.ErrNotFound
	}
	if m.Pinned {
		return true, nil
	}
	count := 0
	for _, c := range s.convs {
		if cm := c.Member(userID); cm != nil && cm.Pinned {
			count++
		}
	}
	if count >= quota {
		return false, nil
	}
	m.Pinned = true
	return true, nil
}

func (s *Store) UnpinFromList(ctx context.Context, convID, userID string) error {
	return s.setFlag(convID, userID, func(m *model.Member) { m.Pinned = false })
}

func (s *Store) SetWallpaper(ctx context.Context, convID string, userIDs []string, w *model.Wallpaper) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[convID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, uid := range userIDs {
		if m := conv.Member(uid); m != nil {
			if w == nil {
				m.Wallpaper = nil
			} else {
				cp := *w
				m.Wallpaper = &cp
			}
		}
	}
	return nil
}

func (s *Store) SetDeleted(ctx context.Context, convID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[convID]
	if !ok {
		return false, repository.ErrNotFound
	}
	m := conv.Member(userID)
	if m == nil {
		return false, repository.ErrNotFound
	}
	m.Deleted = true
	all := true
	for _, mm := range conv.Members {
		if !mm.Deleted {
			all = false
		}
	}
	return all, nil
}

func (s *Store) ClearDeleted(ctx context.Context, convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[convID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range conv.Members {
		conv.Members[i].Deleted = false
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[convID]
	if !ok {
		return nil
	}
	for id, m := range s.msgs {
		if m.ConversationID == convID {
			delete(s.reactions, m.UUID)
			delete(s.msgs, id)
		}
	}
	delete(s.pins, convID)
	delete(s.byPairKey, conv.PairKey)
	delete(s.convs, convID)
	return nil
}

func (s *Store) PinMessage(ctx context.Context, convID, messageID, pinnedBy string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pins[convID] {
		if p.MessageID == messageID {
			return false, nil
		}
	}
	s.pins[convID] = append(s.pins[convID], model.PinnedMessage{
		ConversationID: convID, MessageID: messageID, PinnedBy: pinnedBy, PinnedAt: time.Now().UTC(),
	})
	return true, nil
}

func (s *Store) UnpinMessage(ctx context.Context, convID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pins := s.pins[convID]
	for i, p := range pins {
		if p.MessageID == messageID {
			s.pins[convID] = append(pins[:i], pins[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) PinnedMessages(ctx context.Context, convID string) ([]model.PinnedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.PinnedMessage(nil), s.pins[convID]...), nil
}

// --- messages ---

func (s *Store) CreateCopies(ctx context.Context, copies []*model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range copies {
		cp := *c
		cp.ReadBy = append([]string(nil), c.ReadBy...)
		s.msgs[cp.ID] = &cp
	}
	return nil
}

func (s *Store) GetCopy(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyMsg(m), nil
}

func (s *Store) GetCopies(ctx context.Context, ids []string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.msgs[id]; ok {
			out = append(out, *copyMsg(m))
		}
	}
	return out, nil
}

func (s *Store) OwnCopyByUUID(ctx context.Context, msgUUID, ownerID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.msgs {
		if m.UUID == msgUUID && m.OwnerID == ownerID {
			return copyMsg(m), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) OwnUUIDs(ctx context.Context, convID, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 32)
	for _, m := range s.msgs {
		if m.ConversationID == convID && m.OwnerID == ownerID {
			out = append(out, m.UUID)
		}
	}
	return out, nil
}

func (s *Store) UpdateTextByUUID(ctx context.Context, msgUUID, text string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := editedAt
	for _, m := range s.msgs {
		if m.UUID == msgUUID {
			m.Text = text
			m.EditedAt = &t
		}
	}
	return nil
}

func (s *Store) DeleteOwnByUUIDs(ctx context.Context, ownerID string, msgUUIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := toSet(msgUUIDs)
	for id, m := range s.msgs {
		if m.OwnerID == ownerID && set[m.UUID] {
			delete(s.msgs, id)
		}
	}
	return nil
}

func (s *Store) DeleteByUUIDs(ctx context.Context, msgUUIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := toSet(msgUUIDs)
	for id, m := range s.msgs {
		if set[m.UUID] {
			delete(s.msgs, id)
		}
	}
	return nil
}

func (s *Store) DeleteAllByOwner(ctx context.Context, convID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.msgs {
		if m.ConversationID == convID && m.OwnerID == ownerID {
			delete(s.msgs, id)
		}
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, convID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ConversationID == convID && m.OwnerID == ownerID && !m.ReadByUser(ownerID) {
			m.ReadBy = append(m.ReadBy, ownerID)
		}
	}
	return nil
}

func (s *Store) LastOwnCopy(ctx context.Context, convID, ownerID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.ownSortedLocked(convID, ownerID)
	if len(msgs) == 0 {
		return nil, nil
	}
	return copyMsg(msgs[0]), nil
}

func (s *Store) PageForOwner(ctx context.Context, convID, ownerID string, limit, offset int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.ownSortedLocked(convID, ownerID)
	if offset >= len(msgs) {
		return []model.Message{}, nil
	}
	end := offset + limit
	if end > len(msgs) {
		end = len(msgs)
	}
	out := make([]model.Message, 0, end-offset)
	for _, m := range msgs[offset:end] {
		out = append(out, *copyMsg(m))
	}
	return out, nil
}

func (s *Store) CountNewer(ctx context.Context, convID, ownerID string, t time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.msgs {
		if m.ConversationID == convID && m.OwnerID == ownerID && m.CreatedAt.After(t) {
			count++
		}
	}
	return count, nil
}

func (s *Store) FirstOnOrAfter(ctx context.Context, convID, ownerID string, date time.Time) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.ownSortedLocked(convID, ownerID)
	// newest-first; walk backwards for the oldest match.
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].CreatedAt.Before(date) {
			return copyMsg(msgs[i]), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) Search(ctx context.Context, convID, ownerID, query string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	out := make([]model.Message, 0, 16)
	for _, m := range s.ownSortedLocked(convID, ownerID) {
		if m.Type != model.MessageTypeUser {
			continue
		}
		if strings.Contains(strings.ToLower(m.Text), q) {
			out = append(out, *copyMsg(m))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) UnreadCount(ctx context.Context, convID, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.msgs {
		if m.ConversationID == convID && m.OwnerID == ownerID &&
			m.SenderID != nil && *m.SenderID != ownerID && !m.ReadByUser(ownerID) {
			count++
		}
	}
	return count, nil
}

func (s *Store) AttachmentsPage(ctx context.Context, convID, ownerID, kind string, limit, offset int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*model.Message, 0, 16)
	for _, m := range s.ownSortedLocked(convID, ownerID) {
		switch kind {
		case "photo":
			if m.ImageURL != "" {
				matched = append(matched, m)
			}
		case "track":
			if m.TrackID != "" {
				matched = append(matched, m)
			}
		}
	}
	if offset >= len(matched) {
		return []model.Message{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]model.Message, 0, end-offset)
	for _, m := range matched[offset:end] {
		out = append(out, *copyMsg(m))
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, convID, ownerID string) (model.ConversationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st model.ConversationStats
	for _, m := range s.msgs {
		if m.ConversationID != convID || m.OwnerID != ownerID || m.Type != model.MessageTypeUser {
			continue
		}
		if m.SentBy(ownerID) {
			st.Sent++
		} else {
			st.Received++
		}
		if m.ImageURL != "" {
			st.Photos++
		}
		if m.TrackID != "" {
			st.Tracks++
		}
		st.Reactions += len(s.reactions[m.UUID])
	}
	return st, nil
}

// ownSortedLocked returns the owner's copies newest-first. Caller holds mu.
func (s *Store) ownSortedLocked(convID, ownerID string) []*model.Message {
	msgs := make([]*model.Message, 0, 32)
	for _, m := range s.msgs {
		if m.ConversationID == convID && m.OwnerID == ownerID {
			msgs = append(msgs, m)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
	return msgs
}

// --- reactions ---

// Reactions is the ReactionStore view over the same data.
type Reactions struct {
	s *Store
}

// ReactionStore returns the reaction-facing facade of the store.
func (s *Store) ReactionStore() *Reactions {
	return &Reactions{s: s}
}

func (r *Reactions) Get(ctx context.Context, msgUUID, userID string) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if rc, ok := r.s.reactions[msgUUID][userID]; ok {
		return rc.Emoji, nil
	}
	return "", repository.ErrNotFound
}

func (r *Reactions) Set(ctx context.Context, msgUUID, userID, emoji string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.reactions[msgUUID] == nil {
		r.s.reactions[msgUUID] = make(map[string]model.Reaction)
	}
	r.s.reactions[msgUUID][userID] = model.Reaction{
		MessageUUID: msgUUID, UserID: userID, Emoji: emoji, CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (r *Reactions) Remove(ctx context.Context, msgUUID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.reactions[msgUUID], userID)
	return nil
}

func (r *Reactions) ListByUUID(ctx context.Context, msgUUID string) ([]model.Reaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sortedReactions(r.s.reactions[msgUUID]), nil
}

func (r *Reactions) ListByUUIDs(ctx context.Context, msgUUIDs []string) (map[string][]model.Reaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string][]model.Reaction, len(msgUUIDs))
	for _, u := range msgUUIDs {
		if rs := r.s.reactions[u]; len(rs) > 0 {
			out[u] = sortedReactions(rs)
		}
	}
	return out, nil
}

func (r *Reactions) DeleteByUUIDs(ctx context.Context, msgUUIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range msgUUIDs {
		delete(r.s.reactions, u)
	}
	return nil
}

// --- helpers ---

func copyConv(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Members = make([]model.Member, len(c.Members))
	for i, m := range c.Members {
		cp.Members[i] = m
		if m.Wallpaper != nil {
			w := *m.Wallpaper
			cp.Members[i].Wallpaper = &w
		}
	}
	return &cp
}

func copyMsg(m *model.Message) *model.Message {
	cp := *m
	cp.ReadBy = append([]string(nil), m.ReadBy...)
	return &cp
}

func sortedReactions(rs map[string]model.Reaction) []model.Reaction {
	out := make([]model.Reaction, 0, len(rs))
	for _, r := range rs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
