// Package strategy defines the interface for channel delivery strategies.
package strategy

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// ErrEndpointUnavailable is returned by a handler when the user has no usable
// endpoint for its channel (no push tokens, no email on file, ...).
var ErrEndpointUnavailable = errors.New("endpoint unavailable")

// Handler is the interface that all channel handlers must implement.
type Handler interface {
	// Type returns the channel this handler delivers to.
	Type() alert.Channel

	// Available reports whether prefs carry an endpoint for this channel.
	Available(prefs *alert.DeliveryPreference) bool

	// Send delivers the consolidated alert once. Handlers do not retry.
	Send(ctx context.Context, ca *alert.ConsolidatedAlert, prefs *alert.DeliveryPreference) error
}

// Registry manages channel handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[alert.Channel]Handler
}

// NewRegistry creates a new handler registry.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{
		handlers: make(map[alert.Channel]Handler),
	}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register registers a handler, replacing any previous one for its channel.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get retrieves the handler for a channel.
func (r *Registry) Get(c alert.Channel) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[c]
	return h, ok
}

// List returns all registered channels in sorted order.
func (r *Registry) List() []alert.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]alert.Channel, 0, len(r.handlers))
	for c := range r.handlers {
		channels = append(channels, c)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}
