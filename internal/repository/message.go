package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dialogs/internal/logger"
	"github.com/dialogs/internal/model"
)

const messageColumns = `id, msg_uuid, conversation_id, owner_id, sender_id, msg_type,
	 body, image_url, track_id, reply_to_uuid, forwarded_from, read_by, edited_at, created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	err := row.Scan(&m.ID, &m.UUID, &m.ConversationID, &m.OwnerID, &m.SenderID, &m.Type,
		&m.Text, &m.ImageURL, &m.TrackID, &m.ReplyToUUID, &m.ForwardedFrom, &m.ReadBy, &m.EditedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) collect(rows pgx.Rows, capHint int) ([]model.Message, error) {
	defer rows.Close()
	msgs := make([]model.Message, 0, capHint)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo scan: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo rows: %w", err)
	}
	return msgs, nil
}

// CreateCopies inserts every mailbox copy of one logical message in a single
// transaction, so a crash cannot leave a uuid group half-written.
func (r *MessageRepository) CreateCopies(ctx context.Context, copies []*model.Message) error {
	defer logger.DeferLogDuration("msg.CreateCopies", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.CreateCopies begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range copies {
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, msg_uuid, conversation_id, owner_id, sender_id, msg_type,
			   body, image_url, track_id, reply_to_uuid, forwarded_from, read_by, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			m.ID, m.UUID, m.ConversationID, m.OwnerID, m.SenderID, m.Type,
			m.Text, m.ImageURL, m.TrackID, m.ReplyToUUID, m.ForwardedFrom, m.ReadBy, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("msgRepo.CreateCopies insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.CreateCopies commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetCopy(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetCopy", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetCopy: %w", err)
	}
	return m, nil
}

// GetCopies resolves several copy ids at once (bulk delete, forward).
func (r *MessageRepository) GetCopies(ctx context.Context, ids []string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetCopies", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetCopies query: %w", err)
	}
	return r.collect(rows, len(ids))
}

// OwnCopyByUUID finds the caller's own copy of a logical message.
func (r *MessageRepository) OwnCopyByUUID(ctx context.Context, msgUUID, ownerID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.OwnCopyByUUID", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE msg_uuid = $1 AND owner_id = $2`, msgUUID, ownerID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.OwnCopyByUUID: %w", err)
	}
	return m, nil
}

// OwnUUIDs lists the uuid of every copy in the caller's mailbox. Used when
// clearing history to also drop orphaned reactions.
func (r *MessageRepository) OwnUUIDs(ctx context.Context, convID, ownerID string) ([]string, error) {
	defer logger.DeferLogDuration("msg.OwnUUIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT msg_uuid FROM messages WHERE conversation_id = $1 AND owner_id = $2`,
		convID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.OwnUUIDs query: %w", err)
	}
	defer rows.Close()

	uuids := make([]string, 0, 64)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("msgRepo.OwnUUIDs scan: %w", err)
		}
		uuids = append(uuids, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.OwnUUIDs rows: %w", err)
	}
	return uuids, nil
}

// UpdateTextByUUID rewrites the text of every copy in one statement so the
// edit fan-out cannot leave a copy stale.
func (r *MessageRepository) UpdateTextByUUID(ctx context.Context, msgUUID, text string, editedAt time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateTextByUUID", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET body = $2, edited_at = $3 WHERE msg_uuid = $1`,
		msgUUID, text, editedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateTextByUUID: %w", err)
	}
	return nil
}

// DeleteOwnByUUIDs removes only the owner's copies (delete for me).
func (r *MessageRepository) DeleteOwnByUUIDs(ctx context.Context, ownerID string, msgUUIDs []string) error {
	defer logger.DeferLogDuration("msg.DeleteOwnByUUIDs", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM messages WHERE owner_id = $1 AND msg_uuid = ANY($2)`,
		ownerID, msgUUIDs,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteOwnByUUIDs: %w", err)
	}
	return nil
}

// DeleteByUUIDs removes every copy of the uuid groups (delete for everyone).
func (r *MessageRepository) DeleteByUUIDs(ctx context.Context, msgUUIDs []string) error {
	defer logger.DeferLogDuration("msg.DeleteByUUIDs", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM messages WHERE msg_uuid = ANY($1)`, msgUUIDs,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteByUUIDs: %w", err)
	}
	return nil
}

// DeleteAllByOwner wipes one participant's mailbox for a conversation.
func (r *MessageRepository) DeleteAllByOwner(ctx context.Context, convID, ownerID string) error {
	defer logger.DeferLogDuration("msg.DeleteAllByOwner", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM messages WHERE conversation_id = $1 AND owner_id = $2`,
		convID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteAllByOwner: %w", err)
	}
	return nil
}

// LastOwnCopy returns the newest message in the owner's mailbox, or nil when
// the mailbox is empty.
func (r *MessageRepository) LastOwnCopy(ctx context.Context, convID, ownerID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.LastOwnCopy", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND owner_id = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`, convID, ownerID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.LastOwnCopy: %w", err)
	}
	return m, nil
}

// PageForOwner returns one page of the owner's mailbox, newest first.
func (r *MessageRepository) PageForOwner(ctx context.Context, convID, ownerID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.PageForOwner", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND owner_id = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`, convID, ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.PageForOwner query: %w", err)
	}
	return r.collect(rows, limit)
}

// CountNewer counts the owner's copies created strictly after t (page math
// for jump-to-message and jump-to-date).
func (r *MessageRepository) CountNewer(ctx context.Context, convID, ownerID string, t time.Time) (int, error) {
	defer logger.DeferLogDuration("msg.CountNewer", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE conversation_id = $1 AND owner_id = $2 AND created_at > $3`,
		convID, ownerID, t,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.CountNewer: %w", err)
	}
	return n, nil
}

// FirstOnOrAfter returns the oldest own copy created on or after the date.
func (r *MessageRepository) FirstOnOrAfter(ctx context.Context, convID, ownerID string, date time.Time) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.FirstOnOrAfter", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND owner_id = $2 AND created_at >= $3
		 ORDER BY created_at ASC, id ASC LIMIT 1`, convID, ownerID, date,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.FirstOnOrAfter: %w", err)
	}
	return m, nil
}

// escapeLike escapes LIKE metacharacters so user input is matched literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// Search does a case-insensitive substring match over the owner's own
// user-typed copies, newest first.
func (r *MessageRepository) Search(ctx context.Context, convID, ownerID, query string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Search", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND owner_id = $2 AND msg_type = 'user'
		   AND body ILIKE '%' || $3 || '%'
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`, convID, ownerID, escapeLike(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Search query: %w", err)
	}
	return r.collect(rows, limit)
}

// UnreadCount counts the owner's unread copies from the other participant.
func (r *MessageRepository) UnreadCount(ctx context.Context, convID, ownerID string) (int, error) {
	defer logger.DeferLogDuration("msg.UnreadCount", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE conversation_id = $1 AND owner_id = $2
		   AND sender_id IS NOT NULL AND sender_id <> $2
		   AND NOT ($2 = ANY(read_by))`,
		convID, ownerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.UnreadCount: %w", err)
	}
	return n, nil
}

// MarkRead stamps the owner onto read_by of every own copy not yet read.
func (r *MessageRepository) MarkRead(ctx context.Context, convID, ownerID string) error {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET read_by = array_append(read_by, $2)
		 WHERE conversation_id = $1 AND owner_id = $2 AND NOT ($2 = ANY(read_by))`,
		convID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return nil
}

// AttachmentsPage lists the owner's image- or track-bearing copies.
// kind is "photo" or "track".
func (r *MessageRepository) AttachmentsPage(ctx context.Context, convID, ownerID, kind string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.AttachmentsPage", time.Now())()
	cond := `image_url <> ''`
	if kind == "track" {
		cond = `track_id <> ''`
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND owner_id = $2 AND `+cond+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`, convID, ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.AttachmentsPage query: %w", err)
	}
	return r.collect(rows, limit)
}

// Stats aggregates the viewer-scoped conversation counters.
func (r *MessageRepository) Stats(ctx context.Context, convID, ownerID string) (model.ConversationStats, error) {
	defer logger.DeferLogDuration("msg.Stats", time.Now())()
	var s model.ConversationStats
	err := r.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE sender_id = $2),
		   COUNT(*) FILTER (WHERE sender_id IS NOT NULL AND sender_id <> $2),
		   COUNT(*) FILTER (WHERE image_url <> ''),
		   COUNT(*) FILTER (WHERE track_id <> '')
		 FROM messages
		 WHERE conversation_id = $1 AND owner_id = $2 AND msg_type = 'user'`,
		convID, ownerID,
	).Scan(&s.Sent, &s.Received, &s.Photos, &s.Tracks)
	if err != nil {
		return s, fmt.Errorf("msgRepo.Stats counts: %w", err)
	}
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM message_reactions mr
		 JOIN messages m ON m.msg_uuid = mr.msg_uuid
		 WHERE m.conversation_id = $1 AND m.owner_id = $2`,
		convID, ownerID,
	).Scan(&s.Reactions)
	if err != nil {
		return s, fmt.Errorf("msgRepo.Stats reactions: %w", err)
	}
	return s, nil
}
