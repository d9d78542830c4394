// Package events names the real-time events pushed to clients and the rooms
// they are delivered to.
package events

import (
	"fmt"
	"time"
)

const (
	MessageReceived     = "message_received"
	MessageUpdated      = "message_updated"
	MessageDeleted      = "message_deleted"
	ConversationUpdated = "conversation_updated"
	ConversationDeleted = "conversation_deleted"
	MessagesRead        = "messages_read"
	UnreadReaction      = "unread_reaction"
	UserTyping          = "user_typing"
	Notification        = "notification"

	// Error is sent back on a websocket connection whose frame was rejected.
	Error = "error"
)

// Notification kinds carried inside a Notification event.
const (
	KindNewMessage = "new_message"
	KindReaction   = "reaction"
)

// UserRoom is the room every connection of a user joins.
func UserRoom(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

// NotificationPayload is the data of a Notification event.
type NotificationPayload struct {
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
