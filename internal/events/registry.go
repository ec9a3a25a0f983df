package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc processes one envelope.
type HandlerFunc func(ctx context.Context, env Envelope) error

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// Registry maps tags to ordered handler lists. Handlers are registered at
// startup and run in registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Tag][]namedHandler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Tag][]namedHandler),
	}
}

// Handle appends an untyped handler for tag.
func (r *Registry) Handle(tag Tag, name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tag] = append(r.handlers[tag], namedHandler{name: name, fn: fn})
}

// On registers a handler that receives the payload as T. Envelopes whose
// payload is not a T fail that handler only.
func On[T any](r *Registry, tag Tag, name string, fn func(ctx context.Context, payload T) error) {
	r.Handle(tag, name, func(ctx context.Context, env Envelope) error {
		payload, ok := env.Payload.(T)
		if !ok {
			return fmt.Errorf("handler %s: unexpected payload %T for %s", name, env.Payload, env.Tag)
		}
		return fn(ctx, payload)
	})
}

// HandlerCount returns how many handlers are registered for tag.
func (r *Registry) HandlerCount(tag Tag) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[tag])
}

// HandlerError records one failed handler.
type HandlerError struct {
	Handler string
	Err     error
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Handler, e.Err)
}

func (e HandlerError) Unwrap() error {
	return e.Err
}

// Dispatch runs every handler for the envelope's tag. A failing or
// panicking handler is recorded and the remaining handlers still run.
func (r *Registry) Dispatch(ctx context.Context, env Envelope) []HandlerError {
	r.mu.RLock()
	handlers := append([]namedHandler(nil), r.handlers[env.Tag]...)
	r.mu.RUnlock()

	var failures []HandlerError
	for _, h := range handlers {
		if err := runHandler(ctx, h, env); err != nil {
			log.Warn().
				Err(err).
				Str("handler", h.name).
				Str("event", string(env.Tag)).
				Str("eventId", env.ID).
				Msg("Event handler failed")
			failures = append(failures, HandlerError{Handler: h.name, Err: err})
		}
	}
	return failures
}

func runHandler(ctx context.Context, h namedHandler, env Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h.fn(ctx, env)
}
