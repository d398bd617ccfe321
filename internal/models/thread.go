package models

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Thread is a conversation container identified by its canonical participant set.
// Threads are created lazily on first send and are never deleted by users.
type Thread struct {
	ID             int64         `db:"id" json:"id"`
	ParticipantKey string        `db:"participant_key" json:"-"`
	Participants   pq.Int64Array `db:"participants" json:"participants"`
	IsGroup        bool          `db:"is_group" json:"is_group"`
	GroupName      *string       `db:"group_name" json:"group_name,omitempty"`
	GroupAvatar    *string       `db:"group_avatar" json:"group_avatar,omitempty"`
	LastMessageID  *int64        `db:"last_message_id" json:"last_message_id,omitempty"`
	LastMessageAt  time.Time     `db:"last_message_at" json:"last_message_at"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// ParticipantKey derives the canonical, order-independent signature for a
// participant set. The same set always yields the same key regardless of the
// order the ids arrive in.
func ParticipantKey(ids ...int64) string {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, 0, len(sorted))
	for _, id := range sorted {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ":")
}

// HasParticipant reports whether userID belongs to the thread.
func (t Thread) HasParticipant(userID int64) bool {
	for _, p := range t.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the peer of userID in a 1:1 thread.
func (t Thread) OtherParticipant(userID int64) (int64, bool) {
	if t.IsGroup || len(t.Participants) != 2 {
		return 0, false
	}
	for _, p := range t.Participants {
		if p != userID {
			return p, true
		}
	}
	return 0, false
}

// OtherParticipants returns every participant except userID.
func (t Thread) OtherParticipants(userID int64) []int64 {
	others := make([]int64, 0, len(t.Participants))
	for _, p := range t.Participants {
		if p != userID {
			others = append(others, p)
		}
	}
	return others
}

// UnreadMap maps a participant id to their unread counter for one thread.
// Counters never go below zero.
type UnreadMap map[int64]int

// Get returns the counter for userID, defaulting missing entries to 0.
func (m UnreadMap) Get(userID int64) int {
	return m[userID]
}

// Apply adds delta to the counter for userID, clamping at zero. The persisted
// counters are mutated atomically in SQL; this mirrors that rule in memory.
func (m UnreadMap) Apply(userID int64, delta int) {
	next := m[userID] + delta
	if next < 0 {
		next = 0
	}
	m[userID] = next
}

// ConversationSummary is the API-friendly view of a thread for one user.
type ConversationSummary struct {
	ThreadID      int64     `json:"thread_id"`
	IsGroup       bool      `json:"is_group"`
	GroupName     *string   `json:"group_name,omitempty"`
	OtherUserID   int64     `json:"other_user_id,omitempty"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
}
