package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dialogs/internal/logger"
	"github.com/dialogs/internal/model"
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// GetOrCreate returns the conversation for the participant set, creating it
// on first contact. The upsert is keyed by the sorted pair key, so two
// concurrent first messages cannot mint duplicate conversations.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, participants []string, createdBy string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetOrCreate", time.Now())()
	if len(participants) == 0 || len(participants) > 2 {
		return nil, fmt.Errorf("convRepo.GetOrCreate: participant count %d", len(participants))
	}
	pairKey := participants[0]
	if len(participants) == 2 {
		pairKey = model.PairKey(participants[0], participants[1])
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetOrCreate begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, pair_key, created_by, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (pair_key) DO NOTHING`,
		uuid.New().String(), pairKey, createdBy, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetOrCreate insert: %w", err)
	}

	var convID string
	if err := tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE pair_key = $1`, pairKey,
	).Scan(&convID); err != nil {
		return nil, fmt.Errorf("convRepo.GetOrCreate select: %w", err)
	}

	for _, uid := range participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id, joined_at)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			convID, uid, time.Now().UTC(),
		); err != nil {
			return nil, fmt.Errorf("convRepo.GetOrCreate member: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("convRepo.GetOrCreate commit: %w", err)
	}
	return r.GetByID(ctx, convID)
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, pair_key, created_by, created_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.PairKey, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	members, err := r.loadMembers(ctx, []string{c.ID})
	if err != nil {
		return nil, err
	}
	c.Members = members[c.ID]
	return c, nil
}

// ListForUser returns all conversations the user participates in and has
// not cleared away (member.deleted), members included.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.pair_key, c.created_by, c.created_at
		 FROM conversations c
		 JOIN conversation_members cm ON cm.conversation_id = c.id
		 WHERE cm.user_id = $1 AND cm.deleted = false
		 ORDER BY c.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	ids := make([]string, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.PairKey, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("convRepo.ListForUser scan: %w", err)
		}
		convs = append(convs, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser rows: %w", err)
	}
	members, err := r.loadMembers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].Members = members[convs[i].ID]
	}
	return convs, nil
}

func (r *ConversationRepository) loadMembers(ctx context.Context, convIDs []string) (map[string][]model.Member, error) {
	if len(convIDs) == 0 {
		return map[string][]model.Member{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT conversation_id, user_id, muted, archived, pinned, marked_unread, deleted,
		        wallpaper_type, wallpaper_value, joined_at
		 FROM conversation_members
		 WHERE conversation_id = ANY($1)
		 ORDER BY joined_at`, convIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.loadMembers query: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.Member, len(convIDs))
	for rows.Next() {
		var m model.Member
		var wType *string
		var wValue string
		if err := rows.Scan(&m.ConversationID, &m.UserID, &m.Muted, &m.Archived, &m.Pinned, &m.MarkedUnread, &m.Deleted,
			&wType, &wValue, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("convRepo.loadMembers scan: %w", err)
		}
		if wType != nil {
			m.Wallpaper = &model.Wallpaper{Type: model.WallpaperType(*wType), Value: wValue}
		}
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.loadMembers rows: %w", err)
	}
	return out, nil
}

func (r *ConversationRepository) SetMuted(ctx context.Context, convID, userID string, muted bool) error {
	defer logger.DeferLogDuration("conv.SetMuted", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_members SET muted = $3 WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID, muted,
	)
	if err != nil {
		return fmt.Errorf("convRepo.SetMuted: %w", err)
	}
	return nil
}

// SetArchived toggles the archive flag. Entering the archive also drops the
// conversation from the user's pinned list in the same statement.
func (r *ConversationRepository) SetArchived(ctx context.Context, convID, userID string, archived bool) error {
	defer logger.DeferLogDuration("conv.SetArchived", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_members SET archived = $3, pinned = (pinned AND NOT $3)
		 WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID, archived,
	)
	if err != nil {
		return fmt.Errorf("convRepo.SetArchived: %w", err)
	}
	return nil
}

func (r *ConversationRepository) SetMarkedUnread(ctx context.Context, convID, userID string, marked bool) error {
	defer logger.DeferLogDuration("conv.SetMarkedUnread", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_members SET marked_unread = $3 WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID, marked,
	)
	if err != nil {
		return fmt.Errorf("convRepo.SetMarkedUnread: %w", err)
	}
	return nil
}

// PinToList pins the conversation to the user's list. The quota check and
// the flag flip happen in one conditional UPDATE, so two concurrent pins
// cannot both slip under the quota. Returns false when the quota is full.
func (r *ConversationRepository) PinToList(ctx context.Context, convID, userID string, quota int) (bool, error) {
	defer logger.DeferLogDuration("conv.PinToList", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversation_members SET pinned = true
		 WHERE conversation_id = $1 AND user_id = $2 AND pinned = false
		   AND (SELECT COUNT(*) FROM conversation_members x WHERE x.user_id = $2 AND x.pinned) < $3`,
		convID, userID, quota,
	)
	if err != nil {
		return false, fmt.Errorf("convRepo.PinToList: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ConversationRepository) UnpinFromList(ctx context.Context, convID, userID string) error {
	defer logger.DeferLogDuration("conv.UnpinFromList", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_members SET pinned = false WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.UnpinFromList: %w", err)
	}
	return nil
}

// SetWallpaper writes (or resets, when w is nil) the wallpaper for the given
// participants.
func (r *ConversationRepository) SetWallpaper(ctx context.Context, convID string, userIDs []string, w *model.Wallpaper) error {
	defer logger.DeferLogDuration("conv.SetWallpaper", time.Now())()
	var wType *string
	var wValue string
	if w != nil {
		t := string(w.Type)
		wType = &t
		wValue = w.Value
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_members SET wallpaper_type = $3, wallpaper_value = $4
		 WHERE conversation_id = $1 AND user_id = ANY($2)`,
		convID, userIDs, wType, wValue,
	)
	if err != nil {
		return fmt.Errorf("convRepo.SetWallpaper: %w", err)
	}
	return nil
}

// SetDeleted marks the conversation as cleared by the user and reports
// whether every participant has now cleared it (making it eligible for hard
// deletion).
func (r *ConversationRepository) SetDeleted(ctx context.Context, convID, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.SetDeleted", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_members SET deleted = true WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("convRepo.SetDeleted: %w", err)
	}
	var all bool
	err = r.pool.QueryRow(ctx,
		`SELECT bool_and(deleted) FROM conversation_members WHERE conversation_id = $1`, convID,
	).Scan(&all)
	if err != nil {
		return false, fmt.Errorf("convRepo.SetDeleted check: %w", err)
	}
	return all, nil
}

// ClearDeleted revives a cleared conversation for every participant (a new
// message brings it back on both sides).
func (r *ConversationRepository) ClearDeleted(ctx context.Context, convID string) error {
	defer logger.DeferLogDuration("conv.ClearDeleted", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_members SET deleted = false WHERE conversation_id = $1 AND deleted = true`,
		convID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.ClearDeleted: %w", err)
	}
	return nil
}

// Delete hard-deletes the conversation with its messages, pins and
// reactions.
func (r *ConversationRepository) Delete(ctx context.Context, convID string) error {
	defer logger.DeferLogDuration("conv.Delete", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convRepo.Delete begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM message_reactions
		 WHERE msg_uuid IN (SELECT DISTINCT msg_uuid FROM messages WHERE conversation_id = $1)`,
		convID,
	); err != nil {
		return fmt.Errorf("convRepo.Delete reactions: %w", err)
	}
	// Members, messages and pins cascade from the conversation row.
	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, convID); err != nil {
		return fmt.Errorf("convRepo.Delete conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convRepo.Delete commit: %w", err)
	}
	return nil
}

// PinMessage adds a message copy to the conversation-level pinned set.
// Returns false when the pin already exists.
func (r *ConversationRepository) PinMessage(ctx context.Context, convID, messageID, pinnedBy string) (bool, error) {
	defer logger.DeferLogDuration("conv.PinMessage", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO pinned_messages (conversation_id, message_id, pinned_by, pinned_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		convID, messageID, pinnedBy, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("convRepo.PinMessage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UnpinMessage removes a pin; returns false when nothing was pinned.
func (r *ConversationRepository) UnpinMessage(ctx context.Context, convID, messageID string) (bool, error) {
	defer logger.DeferLogDuration("conv.UnpinMessage", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM pinned_messages WHERE conversation_id = $1 AND message_id = $2`,
		convID, messageID,
	)
	if err != nil {
		return false, fmt.Errorf("convRepo.UnpinMessage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ConversationRepository) PinnedMessages(ctx context.Context, convID string) ([]model.PinnedMessage, error) {
	defer logger.DeferLogDuration("conv.PinnedMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT conversation_id, message_id, pinned_by, pinned_at
		 FROM pinned_messages WHERE conversation_id = $1
		 ORDER BY pinned_at DESC`, convID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.PinnedMessages query: %w", err)
	}
	defer rows.Close()

	pins := make([]model.PinnedMessage, 0, 4)
	for rows.Next() {
		var p model.PinnedMessage
		if err := rows.Scan(&p.ConversationID, &p.MessageID, &p.PinnedBy, &p.PinnedAt); err != nil {
			return nil, fmt.Errorf("convRepo.PinnedMessages scan: %w", err)
		}
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.PinnedMessages rows: %w", err)
	}
	return pins, nil
}
