package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Handler processes one notification. Handlers for the same notification
// run concurrently; a failing handler never affects its siblings or the
// channel's read loop.
type Handler func(ctx context.Context, n Notification) error

// Notification is the ephemeral envelope handed to handlers: the dotted
// event kind plus the raw notification payload (subscription + event).
type Notification struct {
	Kind    string
	Payload json.RawMessage
}

// Definition describes one supported event kind: its wire version, the
// condition sent with the subscribe request, and the scopes the credential
// must carry before subscribing.
type Definition struct {
	Kind      string
	Version   string
	Condition map[string]string
	Scopes    []string
}

// Registration pairs a definition with the handlers registered for it,
// in registration order.
type Registration struct {
	Definition
	handlers []Handler
}

// Handlers returns the registered handlers in registration order.
func (r *Registration) Handlers() []Handler {
	return r.handlers
}

// Registry holds the fixed set of subscription definitions and the
// handlers registered against them. Definitions are given at construction;
// registration happens during setup and must not continue once the
// supervisor run loop has started.
type Registry struct {
	ordered []*Registration
	byKind  map[string]*Registration
}

// NewRegistry creates a registry over the given definitions. Iteration
// order everywhere follows definition order.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{
		byKind: make(map[string]*Registration, len(defs)),
	}
	for _, def := range defs {
		reg := &Registration{Definition: def}
		r.ordered = append(r.ordered, reg)
		r.byKind[def.Kind] = reg
	}
	return r
}

// Register appends a handler for the given event kind. Unknown kinds are
// rejected so a typo fails at setup instead of silently never firing.
func (r *Registry) Register(kind string, h Handler) error {
	reg, ok := r.byKind[kind]
	if !ok {
		return fmt.Errorf("unknown event kind %q", kind)
	}
	reg.handlers = append(reg.handlers, h)
	return nil
}

// Active returns the registrations with at least one handler, in
// definition order. This set decides both the scopes to request and the
// subscriptions to (re-)establish on every new session.
func (r *Registry) Active() []*Registration {
	var active []*Registration
	for _, reg := range r.ordered {
		if len(reg.handlers) > 0 {
			active = append(active, reg)
		}
	}
	return active
}

// Handlers returns the handlers for a kind, nil if none are registered.
func (r *Registry) Handlers(kind string) []Handler {
	reg, ok := r.byKind[kind]
	if !ok {
		return nil
	}
	return reg.handlers
}

// ActiveScopes returns the sorted union of scopes required by the active
// registrations.
func (r *Registry) ActiveScopes() []string {
	set := make(map[string]struct{})
	for _, reg := range r.Active() {
		for _, s := range reg.Scopes {
			set[s] = struct{}{}
		}
	}
	scopes := make([]string, 0, len(set))
	for s := range set {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// DefaultDefinitions returns the event kinds this bot supports, with
// conditions bound to the given broadcaster and bot user.
func DefaultDefinitions(broadcasterID, botUserID string) []Definition {
	return []Definition{
		{
			Kind:    "channel.chat.message",
			Version: "1",
			Condition: map[string]string{
				"broadcaster_user_id": broadcasterID,
				"user_id":             botUserID,
			},
			Scopes: []string{"user:read:chat", "user:bot", "channel:bot"},
		},
		{
			Kind:    "channel.follow",
			Version: "2",
			Condition: map[string]string{
				"broadcaster_user_id": broadcasterID,
				"moderator_user_id":   botUserID,
			},
			Scopes: []string{"moderator:read:followers"},
		},
	}
}
