package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Mellanfrost/twitch-bot/internal/eventsub"
)

// ChatSender sends a message to the broadcaster's chat.
type ChatSender interface {
	SendChat(ctx context.Context, message string) error
}

type chatMessagePayload struct {
	Event struct {
		ChatterUserName string `json:"chatter_user_name"`
		Message         struct {
			Text string `json:"text"`
		} `json:"message"`
	} `json:"event"`
}

type followPayload struct {
	Event struct {
		UserName string `json:"user_name"`
	} `json:"event"`
}

// LogChatMessages returns a handler that logs every chat message in the
// channel.
func LogChatMessages() eventsub.Handler {
	return func(ctx context.Context, n eventsub.Notification) error {
		var p chatMessagePayload
		if err := json.Unmarshal(n.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode chat message event: %w", err)
		}

		slog.InfoContext(ctx, "Chat message received",
			"chatter", p.Event.ChatterUserName, "text", p.Event.Message.Text)
		return nil
	}
}

// ThankForFollow returns a handler that greets new followers in chat.
func ThankForFollow(sender ChatSender) eventsub.Handler {
	return func(ctx context.Context, n eventsub.Notification) error {
		var p followPayload
		if err := json.Unmarshal(n.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode follow event: %w", err)
		}

		slog.InfoContext(ctx, "New follower", "user", p.Event.UserName)
		return sender.SendChat(ctx, fmt.Sprintf("Thanks for the follow, %s!", p.Event.UserName))
	}
}
