package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"messaging-service/internal/apperr"
)

// MessageType discriminates the message variants. Every non-text variant
// requires a populated attachment reference.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeFile     MessageType = "file"
	TypeLocation MessageType = "location"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeFile, TypeLocation:
		return true
	}
	return false
}

// RequiresAttachment reports whether the variant must carry an attachment.
func (t MessageType) RequiresAttachment() bool {
	return t.Valid() && t != TypeText
}

const (
	// MaxContentLength bounds message content in characters.
	MaxContentLength = 2000

	// EditWindow is how long after creation the sender may edit content.
	// The boundary is inclusive-pass: exactly EditWindow still succeeds.
	EditWindow = 24 * time.Hour

	// DeletedPlaceholder replaces content on soft delete.
	DeletedPlaceholder = "This message was deleted"

	// UnavailablePlaceholder renders a dangling reply target.
	UnavailablePlaceholder = "Message unavailable"
)

// LifecycleState is the explicit message state machine: active threads through
// deleted_soft (tombstone) or straight to purged (row removed).
type LifecycleState int

const (
	StateActive LifecycleState = iota
	StateDeletedSoft
	StatePurged
)

func (s LifecycleState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDeletedSoft:
		return "deleted_soft"
	case StatePurged:
		return "purged"
	default:
		return "unknown"
	}
}

// AttachmentMeta is a structured reference to a stored binary object.
type AttachmentMeta struct {
	URL        string    `json:"url"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Mime       string    `json:"mime"`
	Folder     string    `json:"folder"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// NullAttachment wraps AttachmentMeta for nullable JSONB columns.
type NullAttachment struct {
	AttachmentMeta
	Valid bool
}

func (n *NullAttachment) Scan(src interface{}) error {
	if src == nil {
		*n = NullAttachment{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("attachment: unsupported scan type %T", src)
	}
	if err := json.Unmarshal(raw, &n.AttachmentMeta); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

func (n NullAttachment) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return json.Marshal(n.AttachmentMeta)
}

func (n NullAttachment) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.AttachmentMeta)
}

func (n *NullAttachment) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = NullAttachment{}
		return nil
	}
	if err := json.Unmarshal(data, &n.AttachmentMeta); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// SomeAttachment builds a valid NullAttachment.
func SomeAttachment(meta AttachmentMeta) NullAttachment {
	return NullAttachment{AttachmentMeta: meta, Valid: true}
}

// Message is a single ledger entry within a thread. RecipientID is nil for
// group messages, which are addressed to every other participant.
type Message struct {
	ID          int64          `db:"id" json:"id"`
	ThreadID    int64          `db:"thread_id" json:"thread_id"`
	SenderID    int64          `db:"sender_id" json:"sender_id"`
	RecipientID *int64         `db:"recipient_id" json:"recipient_id,omitempty"`
	Content     string         `db:"content" json:"content"`
	MessageType MessageType    `db:"message_type" json:"message_type"`
	Attachment  NullAttachment `db:"attachment" json:"attachment"`
	ReplyTo     *int64         `db:"reply_to" json:"reply_to,omitempty"`
	IsRead      bool           `db:"is_read" json:"is_read"`
	ReadAt      *time.Time     `db:"read_at" json:"read_at,omitempty"`
	IsDeleted   bool           `db:"is_deleted" json:"is_deleted"`
	DeletedAt   *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// State reports the lifecycle state of a persisted row. Purged rows do not
// exist, so a loaded message is either active or a tombstone.
func (m Message) State() LifecycleState {
	if m.IsDeleted {
		return StateDeletedSoft
	}
	return StateActive
}

// AddressedTo reports whether the message counts against userID's unread
// counter: 1:1 messages via the recipient column, group messages for every
// participant other than the sender.
func (m Message) AddressedTo(userID int64) bool {
	if m.RecipientID != nil {
		return *m.RecipientID == userID
	}
	return m.SenderID != userID
}

// EditableBy checks the ownership, lifecycle, and time-window rules for an
// edit at the given instant.
func (m Message) EditableBy(editorID int64, now time.Time) error {
	if m.SenderID != editorID {
		return apperr.E(apperr.KindForbidden, "only the sender may edit a message")
	}
	if m.IsDeleted {
		return apperr.E(apperr.KindInvalidState, "message is deleted")
	}
	if now.Sub(m.CreatedAt) > EditWindow {
		return apperr.E(apperr.KindEditWindowExpired, "edit window has expired")
	}
	return nil
}

// DeletableBy checks that requesterID may remove the message.
func (m Message) DeletableBy(requesterID int64) error {
	if m.SenderID != requesterID {
		return apperr.E(apperr.KindForbidden, "only the sender may delete a message")
	}
	return nil
}

// ValidateNew checks the creation-time invariants of a message.
func ValidateNew(senderID, recipientID int64, content string, msgType MessageType, attachment NullAttachment) error {
	if senderID == recipientID {
		return apperr.E(apperr.KindInvalidInput, "cannot message yourself")
	}
	return validateContent(content, msgType, attachment)
}

func validateContent(content string, msgType MessageType, attachment NullAttachment) error {
	if !msgType.Valid() {
		return apperr.E(apperr.KindInvalidInput, "unknown message type")
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return apperr.E(apperr.KindInvalidInput, "content must not be empty")
	}
	if len([]rune(trimmed)) > MaxContentLength {
		return apperr.E(apperr.KindInvalidInput, "content exceeds maximum length")
	}
	if msgType.RequiresAttachment() && !attachment.Valid {
		return apperr.E(apperr.KindInvalidInput, "non-text messages require an attachment")
	}
	return nil
}

// ValidateEdit checks replacement content for an edit.
func ValidateEdit(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return apperr.E(apperr.KindInvalidInput, "content must not be empty")
	}
	if len([]rune(trimmed)) > MaxContentLength {
		return apperr.E(apperr.KindInvalidInput, "content exceeds maximum length")
	}
	return nil
}

// Reaction is one user's reaction on a message. At most one row exists per
// (message, user); reacting again replaces emoji and timestamp.
type Reaction struct {
	MessageID int64     `db:"message_id" json:"message_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	ReactedAt time.Time `db:"reacted_at" json:"reacted_at"`
}

// ThreadEvent is broadcast through websockets to thread subscribers.
type ThreadEvent struct {
	Type      string     `json:"type"`
	Message   *Message   `json:"message,omitempty"`
	MessageID int64      `json:"message_id,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}
