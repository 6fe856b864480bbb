// Package eventsub maintains the persistent EventSub websocket connection.
//
// Registry maps event kinds to required scopes and registered handlers.
// Channel owns the single connection: welcome handshake, per-session
// subscription setup, frame classification. Dispatcher fans notifications
// out to handlers without blocking the read loop.
package eventsub
