package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

var ErrThreadNotFound = apperr.E(apperr.KindNotFound, "thread not found")

const threadColumns = `id, participant_key, participants, is_group, group_name, group_avatar, last_message_id, last_message_at, created_at`

// ThreadRepository abstracts the thread directory: canonical resolution,
// unread counters, and per-user conversation listings.
type ThreadRepository interface {
	ResolveOrCreate(ctx context.Context, userID, otherID int64) (models.Thread, error)
	CreateGroup(ctx context.Context, ownerID int64, name string, memberIDs []int64) (models.Thread, error)
	GetThread(ctx context.Context, threadID int64) (models.Thread, error)
	IsParticipant(ctx context.Context, threadID, userID int64) (bool, error)
	ListForUser(ctx context.Context, userID int64, page, pageSize int) ([]models.ConversationSummary, error)
	IncrementUnread(ctx context.Context, threadID, userID int64, delta int) error
	DecrementUnread(ctx context.Context, threadID, userID int64, delta int) error
	UnreadCount(ctx context.Context, threadID, userID int64) (int, error)
	UnreadCounts(ctx context.Context, threadID int64) (models.UnreadMap, error)
}

// ThreadRepo is a sqlx implementation of ThreadRepository.
type ThreadRepo struct {
	db *sqlx.DB
}

// NewThreadRepo constructs a ThreadRepo.
func NewThreadRepo(db *sqlx.DB) *ThreadRepo {
	return &ThreadRepo{db: db}
}

// ResolveOrCreate returns the unique 1:1 thread for the pair, creating it on
// first contact. Two concurrent calls for the same pair cannot produce two
// threads: creation goes through an insert that defers to the unique
// participant_key index, and a conflict falls back to fetching the winner.
func (r *ThreadRepo) ResolveOrCreate(ctx context.Context, userID, otherID int64) (models.Thread, error) {
	if userID == otherID {
		return models.Thread{}, apperr.E(apperr.KindInvalidInput, "cannot open a thread with yourself")
	}

	key := models.ParticipantKey(userID, otherID)

	var thread models.Thread
	err := r.db.GetContext(ctx, &thread, `SELECT `+threadColumns+` FROM threads WHERE participant_key=$1`, key)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Thread{}, err
	}

	participants := []int64{userID, otherID}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })

	err = r.db.GetContext(ctx, &thread,
		`INSERT INTO threads (participant_key, participants) VALUES ($1, $2)
         ON CONFLICT (participant_key) DO NOTHING
         RETURNING `+threadColumns,
		key, pq.Int64Array(participants))
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Thread{}, err
	}

	// Lost the creation race; the winner's row exists now.
	err = r.db.GetContext(ctx, &thread, `SELECT `+threadColumns+` FROM threads WHERE participant_key=$1`, key)
	return thread, err
}

// CreateGroup creates a group thread owned by ownerID. Group keys carry a
// random component: identical member sets may form distinct groups, unlike
// the 1:1 path where the participant set is the natural key.
func (r *ThreadRepo) CreateGroup(ctx context.Context, ownerID int64, name string, memberIDs []int64) (models.Thread, error) {
	seen := map[int64]struct{}{ownerID: {}}
	participants := []int64{ownerID}
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	if len(participants) < 3 {
		return models.Thread{}, apperr.E(apperr.KindInvalidInput, "a group needs at least two other members")
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })

	key := "g:" + uuid.NewString()

	var thread models.Thread
	err := r.db.GetContext(ctx, &thread,
		`INSERT INTO threads (participant_key, participants, is_group, group_name) VALUES ($1, $2, TRUE, $3)
         RETURNING `+threadColumns,
		key, pq.Int64Array(participants), name)
	return thread, err
}

// GetThread fetches a thread by id.
func (r *ThreadRepo) GetThread(ctx context.Context, threadID int64) (models.Thread, error) {
	var thread models.Thread
	err := r.db.GetContext(ctx, &thread, `SELECT `+threadColumns+` FROM threads WHERE id=$1`, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Thread{}, ErrThreadNotFound
	}
	return thread, err
}

// IsParticipant checks whether a user belongs to the thread.
func (r *ThreadRepo) IsParticipant(ctx context.Context, threadID, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM threads WHERE id=$1 AND $2 = ANY(participants))`, threadID, userID)
	return exists, err
}

// ListForUser returns conversation summaries for the user, most recent
// activity first, with the caller's unread counter and a last-message preview.
func (r *ThreadRepo) ListForUser(ctx context.Context, userID int64, page, pageSize int) ([]models.ConversationSummary, error) {
	pageSize = clampPageSize(pageSize)
	offset := pageOffset(page, pageSize)

	query := `SELECT t.id, t.participants, t.is_group, t.group_name, t.last_message_at,
            COALESCE(u.count, 0) AS unread_count,
            COALESCE(m.content, '') AS preview,
            COALESCE(m.is_deleted, FALSE) AS preview_deleted
        FROM threads t
        LEFT JOIN thread_unread u ON u.thread_id = t.id AND u.user_id = $1
        LEFT JOIN messages m ON m.id = t.last_message_id
        WHERE $1 = ANY(t.participants)
        ORDER BY t.last_message_at DESC
        LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryxContext(ctx, query, userID, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var row struct {
			ID             int64         `db:"id"`
			Participants   pq.Int64Array `db:"participants"`
			IsGroup        bool          `db:"is_group"`
			GroupName      *string       `db:"group_name"`
			LastMessageAt  sql.NullTime  `db:"last_message_at"`
			UnreadCount    int           `db:"unread_count"`
			Preview        string        `db:"preview"`
			PreviewDeleted bool          `db:"preview_deleted"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}

		summary := models.ConversationSummary{
			ThreadID:      row.ID,
			IsGroup:       row.IsGroup,
			GroupName:     row.GroupName,
			LastMessageAt: row.LastMessageAt.Time,
			UnreadCount:   row.UnreadCount,
			LastMessage:   row.Preview,
		}
		if row.PreviewDeleted {
			summary.LastMessage = models.DeletedPlaceholder
		}
		if !row.IsGroup {
			thread := models.Thread{Participants: row.Participants}
			if other, ok := thread.OtherParticipant(userID); ok {
				summary.OtherUserID = other
			}
		}
		result = append(result, summary)
	}
	return result, rows.Err()
}

// IncrementUnread adds delta to the recipient's counter, clamped at zero.
func (r *ThreadRepo) IncrementUnread(ctx context.Context, threadID, userID int64, delta int) error {
	return applyUnreadDelta(ctx, r.db, threadID, userID, delta)
}

// DecrementUnread subtracts delta from the recipient's counter, clamped at zero.
func (r *ThreadRepo) DecrementUnread(ctx context.Context, threadID, userID int64, delta int) error {
	return applyUnreadDelta(ctx, r.db, threadID, userID, -delta)
}

// UnreadCount returns the user's counter for a thread, defaulting to 0.
func (r *ThreadRepo) UnreadCount(ctx context.Context, threadID, userID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COALESCE((SELECT count FROM thread_unread WHERE thread_id=$1 AND user_id=$2), 0)`,
		threadID, userID)
	return count, err
}

// UnreadCounts returns the full per-participant counter map for a thread.
func (r *ThreadRepo) UnreadCounts(ctx context.Context, threadID int64) (models.UnreadMap, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT user_id, count FROM thread_unread WHERE thread_id=$1`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := models.UnreadMap{}
	for rows.Next() {
		var userID int64
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, err
		}
		counts[userID] = count
	}
	return counts, rows.Err()
}

// applyUnreadDelta mutates one (thread, user) counter in a single atomic
// statement. There is deliberately no read-modify-write in Go: concurrent
// sends and reads serialize on the row inside the database.
func applyUnreadDelta(ctx context.Context, ext sqlx.ExtContext, threadID, userID int64, delta int) error {
	_, err := ext.ExecContext(ctx,
		`INSERT INTO thread_unread (thread_id, user_id, count) VALUES ($1, $2, GREATEST($3, 0))
         ON CONFLICT (thread_id, user_id) DO UPDATE SET count = GREATEST(thread_unread.count + $3, 0)`,
		threadID, userID, delta)
	return err
}

// resetUnread zeroes one counter. Used by the bulk mark-read path.
func resetUnread(ctx context.Context, ext sqlx.ExtContext, threadID, userID int64) error {
	_, err := ext.ExecContext(ctx,
		`INSERT INTO thread_unread (thread_id, user_id, count) VALUES ($1, $2, 0)
         ON CONFLICT (thread_id, user_id) DO UPDATE SET count = 0`,
		threadID, userID)
	return err
}

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

func clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return defaultPageSize
	}
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return pageSize
}

func pageOffset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}
