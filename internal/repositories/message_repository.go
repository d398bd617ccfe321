package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

var (
	ErrMessageNotFound  = apperr.E(apperr.KindNotFound, "message not found")
	ErrReactionNotFound = apperr.E(apperr.KindNotFound, "reaction not found")
)

const messageColumns = `id, thread_id, sender_id, recipient_id, content, message_type, attachment, reply_to, is_read, read_at, is_deleted, deleted_at, created_at, updated_at`

// CreateMessageParams carries everything needed to append to the ledger.
// RecipientID is nil for group messages.
type CreateMessageParams struct {
	Thread      models.Thread
	SenderID    int64
	RecipientID *int64
	Content     string
	MessageType models.MessageType
	Attachment  models.NullAttachment
	ReplyTo     *int64
}

// ListWindow is a bounded cursor over a thread's history.
type ListWindow struct {
	Before *time.Time
	After  *time.Time
	Limit  int
}

// MessageRepository owns the message lifecycle: creation, listing with read
// receipts, edit, soft/hard delete, reactions, and scoped search.
type MessageRepository interface {
	Create(ctx context.Context, params CreateMessageParams) (models.Message, error)
	Get(ctx context.Context, messageID int64) (models.Message, error)
	GetByIDs(ctx context.Context, messageIDs []int64) ([]models.Message, error)
	ListForUser(ctx context.Context, thread models.Thread, userID int64, window ListWindow) ([]models.Message, int, error)
	Edit(ctx context.Context, messageID, editorID int64, content string) (models.Message, error)
	SoftDelete(ctx context.Context, messageID, requesterID int64) (string, error)
	HardDelete(ctx context.Context, messageID, requesterID int64) (string, error)
	UpsertReaction(ctx context.Context, messageID, userID int64, emoji string) ([]models.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, userID int64) ([]models.Reaction, error)
	Reactions(ctx context.Context, messageID int64) ([]models.Reaction, error)
	MarkRead(ctx context.Context, thread models.Thread, userID int64, messageIDs []int64) (int, error)
	Search(ctx context.Context, userID int64, query string, threadID *int64, page, pageSize int) ([]models.Message, error)
	LiveAttachmentPaths(ctx context.Context, ownerID int64) ([]string, error)
}

// MessageRepo is a sqlx-backed MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create appends a message and, in the same transaction, advances the thread's
// last-message pointer and increments the recipients' unread counters. A
// counter failure aborts the whole send; the ledger row and the counters
// commit or roll back together.
func (r *MessageRepo) Create(ctx context.Context, params CreateMessageParams) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	if params.ReplyTo != nil {
		var inThread bool
		err := tx.GetContext(ctx, &inThread,
			`SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1 AND thread_id=$2)`,
			*params.ReplyTo, params.Thread.ID)
		if err != nil {
			return models.Message{}, err
		}
		if !inThread {
			return models.Message{}, apperr.E(apperr.KindInvalidInput, "reply target is not in this thread")
		}
	}

	var msg models.Message
	err = tx.GetContext(ctx, &msg,
		`INSERT INTO messages (thread_id, sender_id, recipient_id, content, message_type, attachment, reply_to)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         RETURNING `+messageColumns,
		params.Thread.ID, params.SenderID, params.RecipientID, params.Content,
		params.MessageType, params.Attachment, params.ReplyTo)
	if err != nil {
		return models.Message{}, err
	}

	// last_message_at never moves backwards.
	_, err = tx.ExecContext(ctx,
		`UPDATE threads SET last_message_id=$2, last_message_at=GREATEST(last_message_at, $3) WHERE id=$1`,
		params.Thread.ID, msg.ID, msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}

	for _, recipient := range params.Thread.OtherParticipants(params.SenderID) {
		if err := applyUnreadDelta(ctx, tx, params.Thread.ID, recipient, 1); err != nil {
			return models.Message{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetByIDs fetches the messages that still exist among the given ids. Used to
// expand reply references; purged targets are simply absent.
func (r *MessageRepo) GetByIDs(ctx context.Context, messageIDs []int64) ([]models.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, pq.Int64Array(messageIDs))
	return msgs, err
}

// ListForUser returns one chronological page of thread history and, as a side
// effect of the read, flips returned messages addressed to userID to read and
// decrements the unread counter by exactly the number of rows flipped.
func (r *MessageRepo) ListForUser(ctx context.Context, thread models.Thread, userID int64, window ListWindow) ([]models.Message, int, error) {
	limit := clampPageSize(window.Limit)

	query := `SELECT ` + messageColumns + ` FROM messages WHERE thread_id=$1`
	args := []interface{}{thread.ID}
	if window.Before != nil {
		args = append(args, *window.Before)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if window.After != nil {
		args = append(args, *window.After)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var msgs []models.Message
	if err := tx.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, 0, err
	}

	// Reverse into chronological order for direct display.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	unreadIDs := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		if m.RecipientID != nil && *m.RecipientID == userID && !m.IsRead && !m.IsDeleted {
			unreadIDs = append(unreadIDs, m.ID)
		}
	}

	marked := 0
	if len(unreadIDs) > 0 {
		markedIDs, err := markMessagesRead(ctx, tx, thread.ID, userID, unreadIDs)
		if err != nil {
			return nil, 0, err
		}
		marked = len(markedIDs)
		if marked > 0 {
			if err := applyUnreadDelta(ctx, tx, thread.ID, userID, -marked); err != nil {
				return nil, 0, err
			}
		}
		now := time.Now()
		flipped := make(map[int64]struct{}, marked)
		for _, id := range markedIDs {
			flipped[id] = struct{}{}
		}
		for i := range msgs {
			if _, ok := flipped[msgs[i].ID]; ok {
				msgs[i].IsRead = true
				msgs[i].ReadAt = &now
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return msgs, marked, nil
}

// Edit replaces content within the sender's 24-hour window. The checks run
// against the current row under lock, so an edit racing a delete loses.
func (r *MessageRepo) Edit(ctx context.Context, messageID, editorID int64, content string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	msg, err := getForUpdate(ctx, tx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if err := msg.EditableBy(editorID, time.Now()); err != nil {
		return models.Message{}, err
	}

	err = tx.GetContext(ctx, &msg,
		`UPDATE messages SET content=$2, updated_at=NOW() WHERE id=$1 AND is_deleted=FALSE
         RETURNING `+messageColumns,
		messageID, content)
	if err != nil {
		return models.Message{}, err
	}
	return msg, tx.Commit()
}

// SoftDelete tombstones a message: content is replaced with the deletion
// placeholder, the attachment reference is cleared, and the row is retained.
// Returns the storage path of any cleared attachment so the caller can
// discard the physical object after commit.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, requesterID int64) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	msg, err := getForUpdate(ctx, tx, messageID)
	if err != nil {
		return "", err
	}
	if err := msg.DeletableBy(requesterID); err != nil {
		return "", err
	}
	if msg.IsDeleted {
		return "", apperr.E(apperr.KindInvalidState, "message is already deleted")
	}

	attachmentPath := ""
	if msg.Attachment.Valid {
		attachmentPath = msg.Attachment.Path
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE messages SET is_deleted=TRUE, deleted_at=NOW(), content=$2, attachment=NULL, updated_at=NOW() WHERE id=$1`,
		messageID, models.DeletedPlaceholder)
	if err != nil {
		return "", err
	}

	if err := settleAfterRemoval(ctx, tx, msg); err != nil {
		return "", err
	}
	return attachmentPath, tx.Commit()
}

// HardDelete removes the row entirely. Allowed from both the active and the
// tombstone state; the message ceases to exist for every future read.
func (r *MessageRepo) HardDelete(ctx context.Context, messageID, requesterID int64) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	msg, err := getForUpdate(ctx, tx, messageID)
	if err != nil {
		return "", err
	}
	if err := msg.DeletableBy(requesterID); err != nil {
		return "", err
	}

	attachmentPath := ""
	if msg.Attachment.Valid {
		attachmentPath = msg.Attachment.Path
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID); err != nil {
		return "", err
	}

	if err := settleAfterRemoval(ctx, tx, msg); err != nil {
		return "", err
	}
	return attachmentPath, tx.Commit()
}

// UpsertReaction records the user's reaction, replacing any prior one in
// place. Reacting twice is not an error.
func (r *MessageRepo) UpsertReaction(ctx context.Context, messageID, userID int64, emoji string) ([]models.Reaction, error) {
	msg, err := r.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, apperr.E(apperr.KindInvalidState, "cannot react to a deleted message")
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
         ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji, reacted_at = NOW()`,
		messageID, userID, emoji)
	if err != nil {
		return nil, err
	}
	return r.Reactions(ctx, messageID)
}

// RemoveReaction deletes the user's reaction if present.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID, userID int64) ([]models.Reaction, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2`, messageID, userID)
	if err != nil {
		return nil, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrReactionNotFound
	}
	return r.Reactions(ctx, messageID)
}

// Reactions lists a message's reactions in reaction order.
func (r *MessageRepo) Reactions(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.SelectContext(ctx, &reactions,
		`SELECT message_id, user_id, emoji, reacted_at FROM message_reactions WHERE message_id=$1 ORDER BY reacted_at ASC, user_id ASC`,
		messageID)
	return reactions, err
}

// MarkRead transitions messages addressed to userID to read. With explicit
// ids the counter drops by exactly the number of rows flipped; without ids
// every addressed row flips and the counter is reset, which reconciles group
// threads where per-row receipts do not exist.
func (r *MessageRepo) MarkRead(ctx context.Context, thread models.Thread, userID int64, messageIDs []int64) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var marked []int64
	if len(messageIDs) > 0 {
		marked, err = markMessagesRead(ctx, tx, thread.ID, userID, messageIDs)
		if err != nil {
			return 0, err
		}
		if len(marked) > 0 {
			if err := applyUnreadDelta(ctx, tx, thread.ID, userID, -len(marked)); err != nil {
				return 0, err
			}
		}
	} else {
		err = tx.SelectContext(ctx, &marked,
			`UPDATE messages SET is_read=TRUE, read_at=NOW()
             WHERE thread_id=$1 AND recipient_id=$2 AND is_read=FALSE AND is_deleted=FALSE
             RETURNING id`,
			thread.ID, userID)
		if err != nil {
			return 0, err
		}
		if err := resetUnread(ctx, tx, thread.ID, userID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(marked), nil
}

// Search runs a relevance-ranked full-text match over message content,
// restricted to threads the requester participates in. The participant filter
// is a subquery over the thread directory, so no query text can surface
// content from a thread the requester cannot see.
func (r *MessageRepo) Search(ctx context.Context, userID int64, query string, threadID *int64, page, pageSize int) ([]models.Message, error) {
	pageSize = clampPageSize(pageSize)
	offset := pageOffset(page, pageSize)

	sqlQuery := `SELECT ` + messageColumns + ` FROM messages
        WHERE content_tsv @@ plainto_tsquery('english', $1)
        AND is_deleted = FALSE
        AND thread_id IN (SELECT id FROM threads WHERE $2 = ANY(participants))`
	args := []interface{}{query, userID}
	if threadID != nil {
		args = append(args, *threadID)
		sqlQuery += fmt.Sprintf(" AND thread_id = $%d", len(args))
	}
	sqlQuery += fmt.Sprintf(
		" ORDER BY ts_rank(content_tsv, plainto_tsquery('english', $1)) DESC, created_at DESC LIMIT $%d OFFSET $%d",
		len(args)+1, len(args)+2)
	args = append(args, pageSize, offset)

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, sqlQuery, args...)
	return msgs, err
}

// LiveAttachmentPaths returns the storage paths still referenced by the
// owner's live messages. The orphan-cleanup maintenance pass diffs the
// attachment store against this set.
func (r *MessageRepo) LiveAttachmentPaths(ctx context.Context, ownerID int64) ([]string, error) {
	var paths []string
	err := r.db.SelectContext(ctx, &paths,
		`SELECT attachment->>'path' FROM messages
         WHERE sender_id=$1 AND attachment IS NOT NULL AND is_deleted=FALSE`,
		ownerID)
	return paths, err
}

func getForUpdate(ctx context.Context, tx *sqlx.Tx, messageID int64) (models.Message, error) {
	var msg models.Message
	err := tx.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 FOR UPDATE`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

func markMessagesRead(ctx context.Context, tx *sqlx.Tx, threadID, userID int64, messageIDs []int64) ([]int64, error) {
	var marked []int64
	err := tx.SelectContext(ctx, &marked,
		`UPDATE messages SET is_read=TRUE, read_at=NOW()
         WHERE thread_id=$1 AND recipient_id=$2 AND id = ANY($3) AND is_read=FALSE AND is_deleted=FALSE
         RETURNING id`,
		threadID, userID, pq.Int64Array(messageIDs))
	return marked, err
}

// settleAfterRemoval restores the unread invariant and the last-message
// pointer once a message leaves the visible set. Removing an unread 1:1
// message decrements its recipient's counter; removing the thread's newest
// message repoints the weak reference at the newest live row.
func settleAfterRemoval(ctx context.Context, tx *sqlx.Tx, msg models.Message) error {
	if msg.RecipientID != nil && !msg.IsRead && !msg.IsDeleted {
		if err := applyUnreadDelta(ctx, tx, msg.ThreadID, *msg.RecipientID, -1); err != nil {
			return err
		}
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE threads SET last_message_id = (
            SELECT id FROM messages WHERE thread_id=$1 AND is_deleted=FALSE ORDER BY created_at DESC, id DESC LIMIT 1
         ) WHERE id=$1 AND last_message_id=$2`,
		msg.ThreadID, msg.ID)
	return err
}
