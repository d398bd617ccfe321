package telemetry

import "time"

// Routing keys for the topic exchange.
const (
	RoutingMessageCreated = "messages.created"
	RoutingMessageDeleted = "messages.deleted"
)

// MessageNotification is the fire-and-forget "new message" event handed to
// the notification collaborator after the ledger write commits.
type MessageNotification struct {
	EventType   string    `json:"event_type"`
	ThreadID    int64     `json:"thread_id"`
	MessageID   int64     `json:"message_id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID *int64    `json:"recipient_id,omitempty"`
	MessageType string    `json:"message_type"`
	Preview     string    `json:"preview"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Preview truncation keeps notification payloads small.
const previewLimit = 120

// TruncatePreview shortens content for notification payloads.
func TruncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit]) + "…"
}
