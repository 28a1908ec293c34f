package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dialogs/internal/logger"
	"github.com/dialogs/internal/model"
)

// ReactionRepository stores reactions per message uuid, not per copy, so all
// copies of a logical message always resolve the identical list.
type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Get returns the user's current reaction emoji on a message, if any.
func (r *ReactionRepository) Get(ctx context.Context, msgUUID, userID string) (string, error) {
	defer logger.DeferLogDuration("reaction.Get", time.Now())()
	var emoji string
	err := r.pool.QueryRow(ctx,
		`SELECT emoji FROM message_reactions WHERE msg_uuid = $1 AND user_id = $2`,
		msgUUID, userID,
	).Scan(&emoji)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reactionRepo.Get: %w", err)
	}
	return emoji, nil
}

// Set writes the user's reaction, replacing any previous emoji (one entry
// per reacting user).
func (r *ReactionRepository) Set(ctx context.Context, msgUUID, userID, emoji string) error {
	defer logger.DeferLogDuration("reaction.Set", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (msg_uuid, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (msg_uuid, user_id) DO UPDATE SET emoji = $3, created_at = $4`,
		msgUUID, userID, emoji, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Set: %w", err)
	}
	return nil
}

func (r *ReactionRepository) Remove(ctx context.Context, msgUUID, userID string) error {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE msg_uuid = $1 AND user_id = $2`,
		msgUUID, userID,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Remove: %w", err)
	}
	return nil
}

func (r *ReactionRepository) ListByUUID(ctx context.Context, msgUUID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByUUID", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT msg_uuid, user_id, emoji, created_at
		 FROM message_reactions WHERE msg_uuid = $1
		 ORDER BY created_at`, msgUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByUUID query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 8)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageUUID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.ListByUUID scan: %w", err)
		}
		reactions = append(reactions, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByUUID rows: %w", err)
	}
	return reactions, nil
}

// ListByUUIDs batch-loads reactions for a message page.
func (r *ReactionRepository) ListByUUIDs(ctx context.Context, msgUUIDs []string) (map[string][]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByUUIDs", time.Now())()
	if len(msgUUIDs) == 0 {
		return map[string][]model.Reaction{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT msg_uuid, user_id, emoji, created_at
		 FROM message_reactions WHERE msg_uuid = ANY($1)
		 ORDER BY created_at`, msgUUIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByUUIDs query: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.Reaction, len(msgUUIDs))
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageUUID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.ListByUUIDs scan: %w", err)
		}
		out[rc.MessageUUID] = append(out[rc.MessageUUID], rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByUUIDs rows: %w", err)
	}
	return out, nil
}

// DeleteByUUIDs drops reactions for uuid groups being deleted for everyone.
func (r *ReactionRepository) DeleteByUUIDs(ctx context.Context, msgUUIDs []string) error {
	defer logger.DeferLogDuration("reaction.DeleteByUUIDs", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE msg_uuid = ANY($1)`, msgUUIDs,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.DeleteByUUIDs: %w", err)
	}
	return nil
}
