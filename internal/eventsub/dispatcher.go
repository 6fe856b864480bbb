package eventsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Mellanfrost/twitch-bot/internal/metrics"
	"github.com/Mellanfrost/twitch-bot/internal/platform/correlation"
)

// Dispatcher fans a notification out to every handler registered for its
// kind. Dispatch is fire-and-forget relative to the caller: a slow or
// failing handler never stalls delivery of the next frame.
type Dispatcher struct {
	registry *Registry
	wg       sync.WaitGroup
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch invokes all handlers for n.Kind concurrently. No ordering
// guarantee between handlers of the same notification.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	handlers := d.registry.Handlers(n.Kind)
	if len(handlers) == 0 {
		slog.DebugContext(ctx, "No handlers for notification", "kind", n.Kind)
		return
	}

	metrics.NotificationsDispatched.WithLabelValues(n.Kind).Inc()

	for _, h := range handlers {
		d.wg.Add(1)
		go d.invoke(ctx, h, n)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, n Notification) {
	defer d.wg.Done()

	ctx = correlation.WithID(ctx, correlation.NewID())

	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerFailures.WithLabelValues(n.Kind).Inc()
			slog.ErrorContext(ctx, "Handler panicked", "kind", n.Kind, "panic", r)
		}
	}()

	if err := h(ctx, n); err != nil {
		metrics.HandlerFailures.WithLabelValues(n.Kind).Inc()
		slog.ErrorContext(ctx, "Handler failed", "kind", n.Kind, "error", err)
	}
}

// Wait blocks until all in-flight handler invocations return. Used on
// shutdown and in tests; handlers in flight at cancellation are given the
// chance to finish but receive a cancelled context.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
