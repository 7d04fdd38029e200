package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var _ EventHandler = (*Router)(nil)

type route struct {
	pattern Topic
	handler EventHandler
}

// Router dispatches an event to every handler whose pattern matches the
// event topic, in registration order.
type Router struct {
	mu     sync.RWMutex
	routes []route
	logger *slog.Logger
}

// NewRouter creates an empty router. A nil logger falls back to slog.Default.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// Register adds a handler for a topic pattern
func (r *Router) Register(pattern Topic, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{pattern: pattern, handler: handler})
}

// Patterns returns the registered patterns without duplicates
func (r *Router) Patterns() []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Topic]bool, len(r.routes))
	patterns := make([]Topic, 0, len(r.routes))
	for _, rt := range r.routes {
		if seen[rt.pattern] {
			continue
		}
		seen[rt.pattern] = true
		patterns = append(patterns, rt.pattern)
	}
	return patterns
}

// Handle runs every matching handler. All handlers run even if one fails;
// the failures are returned joined so the caller can retry the delivery.
func (r *Router) Handle(ctx context.Context, event *Event) error {
	r.mu.RLock()
	routes := make([]route, len(r.routes))
	copy(routes, r.routes)
	r.mu.RUnlock()

	var errs []error
	matched := 0
	for _, rt := range routes {
		if !event.Topic.Matches(rt.pattern) {
			continue
		}
		matched++
		if err := rt.handler.Handle(ctx, event); err != nil {
			r.logger.ErrorContext(ctx, "event_handler_failed",
				slog.String("topic", event.Topic.String()),
				slog.String("pattern", rt.pattern.String()),
				slog.String("event_id", event.ID.String()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", rt.pattern, err))
		}
	}

	if matched == 0 {
		r.logger.DebugContext(ctx, "event_unrouted",
			slog.String("topic", event.Topic.String()),
			slog.String("event_id", event.ID.String()),
		)
	}

	return errors.Join(errs...)
}
