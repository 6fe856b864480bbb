package eventsub

import "encoding/json"

const (
	messageTypeWelcome      = "session_welcome"
	messageTypeNotification = "notification"
	messageTypeKeepalive    = "session_keepalive"
)

// frame is the outer envelope of every EventSub websocket message.
type frame struct {
	Metadata struct {
		MessageID   string `json:"message_id"`
		MessageType string `json:"message_type"`
	} `json:"metadata"`
	Payload json.RawMessage `json:"payload"`
}

type welcomePayload struct {
	Session struct {
		ID                      string `json:"id"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
	} `json:"session"`
}

type notificationPayload struct {
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}
