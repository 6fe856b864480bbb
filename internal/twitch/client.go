package twitch

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/nicklaw5/helix/v2"

	boterr "github.com/Mellanfrost/twitch-bot/internal/errors"
	"github.com/Mellanfrost/twitch-bot/internal/eventsub"
	"github.com/Mellanfrost/twitch-bot/internal/metrics"
)

// TokenSource provides the current user access token. The auth manager
// implements it.
type TokenSource interface {
	AccessToken() string
}

// Options configures a Client. APIBaseURL is only set in tests.
type Options struct {
	ClientID      string
	ClientSecret  string
	APIBaseURL    string
	BotUserID     string
	BroadcasterID string
	ChatPrefix    string
}

// Client wraps the Helix API for the calls the bot needs: EventSub
// subscription management, chat messages, and user lookups. The access
// token is pulled from the token source before every call, so a refresh
// mid-run is picked up without restarting.
type Client struct {
	helix  *helix.Client
	tokens TokenSource
	opts   Options

	mu sync.Mutex
}

// NewClient creates a Helix-backed client.
func NewClient(tokens TokenSource, opts Options) (*Client, error) {
	apiClient, err := helix.NewClient(&helix.Options{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		APIBaseURL:   opts.APIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}

	return &Client{
		helix:  apiClient,
		tokens: tokens,
		opts:   opts,
	}, nil
}

// Subscribe creates a websocket-transport EventSub subscription bound to
// the given session. The API acknowledges with 202 Accepted; a 401 is
// KindUnauthorized so the supervisor can recover the credential, any
// other rejection is KindSubscription.
func (c *Client) Subscribe(_ context.Context, def eventsub.Definition, sessionID string) error {
	c.mu.Lock()
	c.helix.SetUserAccessToken(c.tokens.AccessToken())
	resp, err := c.helix.CreateEventSubSubscription(&helix.EventSubSubscription{
		Type:      def.Kind,
		Version:   def.Version,
		Condition: conditionFromMap(def.Condition),
		Transport: helix.EventSubTransport{
			Method:    "websocket",
			SessionID: sessionID,
		},
	})
	c.mu.Unlock()
	if err != nil {
		metrics.SubscribeRequests.WithLabelValues(def.Kind, "error").Inc()
		return fmt.Errorf("failed to request subscription for %s: %w", def.Kind, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.SubscribeRequests.WithLabelValues(def.Kind, "unauthorized").Inc()
		return boterr.Unauthorized(fmt.Sprintf("subscription for %s rejected: %s", def.Kind, resp.ErrorMessage))
	case resp.StatusCode != http.StatusAccepted:
		metrics.SubscribeRequests.WithLabelValues(def.Kind, "rejected").Inc()
		return boterr.Subscription(fmt.Sprintf(
			"subscription for %s returned status %d: %s", def.Kind, resp.StatusCode, resp.ErrorMessage))
	}

	metrics.SubscribeRequests.WithLabelValues(def.Kind, "accepted").Inc()
	return nil
}

// SendChat sends a chat message to the configured broadcaster's channel,
// prefixed so bot output is recognizable in chat.
func (c *Client) SendChat(_ context.Context, message string) error {
	text := message
	if c.opts.ChatPrefix != "" {
		text = c.opts.ChatPrefix + " " + message
	}

	c.mu.Lock()
	c.helix.SetUserAccessToken(c.tokens.AccessToken())
	resp, err := c.helix.SendChatMessage(&helix.SendChatMessageParams{
		BroadcasterID: c.opts.BroadcasterID,
		SenderID:      c.opts.BotUserID,
		Message:       text,
	})
	c.mu.Unlock()
	if err != nil {
		metrics.ChatMessagesSent.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to send chat message: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.ChatMessagesSent.WithLabelValues("unauthorized").Inc()
		return boterr.Unauthorized(fmt.Sprintf("chat message rejected: %s", resp.ErrorMessage))
	case resp.StatusCode != http.StatusOK:
		metrics.ChatMessagesSent.WithLabelValues("rejected").Inc()
		return boterr.Validation(fmt.Sprintf(
			"chat message returned status %d: %s", resp.StatusCode, resp.ErrorMessage), nil)
	}

	metrics.ChatMessagesSent.WithLabelValues("success").Inc()
	return nil
}

// UserIDByLogin resolves a login name to a user ID.
func (c *Client) UserIDByLogin(_ context.Context, login string) (string, error) {
	c.mu.Lock()
	c.helix.SetUserAccessToken(c.tokens.AccessToken())
	resp, err := c.helix.GetUsers(&helix.UsersParams{Logins: []string{login}})
	c.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to look up user %q: %w", login, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return "", boterr.Unauthorized(fmt.Sprintf("user lookup rejected: %s", resp.ErrorMessage))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("user lookup returned status %d: %s", resp.StatusCode, resp.ErrorMessage)
	}
	if len(resp.Data.Users) == 0 {
		return "", fmt.Errorf("user %q not found", login)
	}
	return resp.Data.Users[0].ID, nil
}

// LoginByUserID resolves a user ID to its login name.
func (c *Client) LoginByUserID(_ context.Context, id string) (string, error) {
	c.mu.Lock()
	c.helix.SetUserAccessToken(c.tokens.AccessToken())
	resp, err := c.helix.GetUsers(&helix.UsersParams{IDs: []string{id}})
	c.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to look up user id %q: %w", id, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return "", boterr.Unauthorized(fmt.Sprintf("user lookup rejected: %s", resp.ErrorMessage))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("user lookup returned status %d: %s", resp.StatusCode, resp.ErrorMessage)
	}
	if len(resp.Data.Users) == 0 {
		return "", fmt.Errorf("user id %q not found", id)
	}
	return resp.Data.Users[0].Login, nil
}

// conditionFromMap translates a definition condition to the Helix
// condition struct. Unknown keys are dropped.
func conditionFromMap(m map[string]string) helix.EventSubCondition {
	return helix.EventSubCondition{
		BroadcasterUserID: m["broadcaster_user_id"],
		ModeratorUserID:   m["moderator_user_id"],
		UserID:            m["user_id"],
	}
}
