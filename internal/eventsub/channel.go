package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mellanfrost/twitch-bot/internal/metrics"
)

// State is the lifecycle state of the streaming connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingWelcome
	StateSubscribing
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingWelcome:
		return "awaiting_welcome"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Subscriber issues one subscribe request for a definition against the
// current session. An unauthorized response must surface as a
// KindUnauthorized error; any other non-accepted response as
// KindSubscription.
type Subscriber interface {
	Subscribe(ctx context.Context, def Definition, sessionID string) error
}

// defaultReadWait bounds the wait for the next frame until the welcome
// frame announces the server's keepalive interval.
const defaultReadWait = 70 * time.Second

// Channel owns the single persistent EventSub websocket connection. One
// Run call is one connection: dial, await the welcome frame, establish
// every active subscription against the session it announces, then stream
// frames to the dispatcher until the connection dies or ctx is cancelled.
//
// Run is the sole reader of the connection and the sole writer of state
// transitions. Reconnect policy belongs to the supervisor, not here.
type Channel struct {
	url        string
	registry   *Registry
	subscriber Subscriber
	dispatcher *Dispatcher
	dialer     *websocket.Dialer

	state atomic.Int32

	// owned by the Run goroutine
	sessionID string
	readWait  time.Duration
}

func NewChannel(url string, registry *Registry, subscriber Subscriber, dispatcher *Dispatcher) *Channel {
	return &Channel{
		url:        url,
		registry:   registry,
		subscriber: subscriber,
		dispatcher: dispatcher,
		dialer:     websocket.DefaultDialer,
		readWait:   defaultReadWait,
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
}

// Run connects and streams until error or cancellation. On cancellation
// it closes the connection cleanly and returns ctx.Err(). Transport
// errors come back unwrapped in kind so the supervisor treats them as
// reconnectable; credential and configuration problems carry their kind.
func (c *Channel) Run(ctx context.Context) error {
	c.setState(StateConnecting)
	defer c.setState(StateDisconnected)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		metrics.ChannelConnects.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	defer conn.Close()
	metrics.ChannelConnects.WithLabelValues("connected").Inc()
	slog.InfoContext(ctx, "EventSub connection established", "url", c.url)

	// Unblock the read loop on cancellation by closing the connection.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
		case <-stop:
		}
	}()

	c.setState(StateAwaitingWelcome)
	c.armReadDeadline(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				slog.InfoContext(ctx, "EventSub connection closed on cancellation")
				return ctx.Err()
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		if err := c.handleFrame(ctx, data); err != nil {
			return err
		}
		c.armReadDeadline(conn)
	}
}

func (c *Channel) handleFrame(ctx context.Context, data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		slog.WarnContext(ctx, "Dropping malformed frame", "error", err)
		return nil
	}

	metrics.FramesReceived.WithLabelValues(f.Metadata.MessageType).Inc()

	switch f.Metadata.MessageType {
	case messageTypeWelcome:
		return c.handleWelcome(ctx, f.Payload)
	case messageTypeNotification:
		c.handleNotification(ctx, f.Payload)
	case messageTypeKeepalive:
		// liveness only, the re-armed read deadline is the timer
	default:
		slog.WarnContext(ctx, "Unhandled frame", "type", f.Metadata.MessageType)
	}
	return nil
}

// handleWelcome runs on every welcome frame, including a second one
// arriving mid-stream on session migration: subscriptions are scoped to
// the session that announced them, so each welcome re-establishes all
// active registrations against the new session id.
func (c *Channel) handleWelcome(ctx context.Context, payload json.RawMessage) error {
	var p welcomePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to decode welcome payload: %w", err)
	}
	if p.Session.ID == "" {
		return fmt.Errorf("welcome frame carried no session id")
	}

	c.sessionID = p.Session.ID
	if p.Session.KeepaliveTimeoutSeconds > 0 {
		c.readWait = 2 * time.Duration(p.Session.KeepaliveTimeoutSeconds) * time.Second
	}

	c.setState(StateSubscribing)
	for _, reg := range c.registry.Active() {
		if err := c.subscriber.Subscribe(ctx, reg.Definition, c.sessionID); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", reg.Kind, err)
		}
		slog.InfoContext(ctx, "Subscription established", "kind", reg.Kind, "session_id", c.sessionID)
	}

	c.setState(StateStreaming)
	slog.InfoContext(ctx, "EventSub session active", "session_id", c.sessionID)
	return nil
}

func (c *Channel) handleNotification(ctx context.Context, payload json.RawMessage) {
	var p notificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		slog.WarnContext(ctx, "Dropping malformed notification payload", "error", err)
		return
	}

	c.dispatcher.Dispatch(ctx, Notification{
		Kind:    p.Subscription.Type,
		Payload: payload,
	})
}

func (c *Channel) armReadDeadline(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.readWait))
}
