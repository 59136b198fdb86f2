// Package provider defines the email provider interface and registry.
// Providers are tried primary first, then fallbacks in order.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrNoProvider is returned when no registered provider is configured.
var ErrNoProvider = errors.New("no configured email provider available")

// EmailRequest represents an email to be sent.
type EmailRequest struct {
	From    string
	To      []string
	Subject string
	Body    string // Plain text body
	HTML    string // HTML body (optional)
}

// Provider is the interface that all email providers must implement.
type Provider interface {
	// Name returns the provider name (e.g., "ses", "resend")
	Name() string

	// Send sends an email using this provider.
	Send(ctx context.Context, req *EmailRequest) error

	// IsConfigured returns true if the provider is properly configured.
	IsConfigured() bool
}

// Registry manages email providers with fallback support.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	primary   string
	fallback  []string
}

// NewRegistry creates a new email provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	slog.Info("Registered email provider", "name", p.Name(), "configured", p.IsConfigured())
}

// SetPrimary sets the primary provider by name.
func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.primary = name
	return nil
}

// SetFallback sets the fallback providers in order.
func (r *Registry) SetFallback(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("provider %q not registered", name)
		}
	}
	r.fallback = append([]string(nil), names...)
	return nil
}

// Configured reports whether at least one provider can send.
func (r *Registry) Configured() bool {
	return len(r.candidates()) > 0
}

// candidates returns configured providers: primary, fallbacks in order, then
// any other configured provider by name.
func (r *Registry) candidates() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Provider
	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		if p, ok := r.providers[name]; ok && p.IsConfigured() {
			out = append(out, p)
		}
	}

	if r.primary != "" {
		add(r.primary)
	}
	for _, name := range r.fallback {
		add(name)
	}
	rest := make([]string, 0, len(r.providers))
	for name := range r.providers {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		add(name)
	}
	return out
}

// Send sends an email using the best available provider, moving on to the
// next configured provider when one fails. The first error is returned when
// every provider fails.
func (r *Registry) Send(ctx context.Context, req *EmailRequest) error {
	providers := r.candidates()
	if len(providers) == 0 {
		return ErrNoProvider
	}

	var firstErr error
	for i, p := range providers {
		err := p.Send(ctx, req)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if i+1 < len(providers) {
			slog.Warn("Email provider failed, trying fallback",
				"provider", p.Name(),
				"fallback", providers[i+1].Name(),
				"error", err,
			)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return firstErr
}

// List returns all registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
