package operations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrOperationNotFound is returned for names outside the registry.
var ErrOperationNotFound = errors.New("operation not found")

// Operation names.
const (
	OpMain       = "main"
	OpPlayers    = "players"
	OpConfig     = "config"
	OpFlushCache = "flushCache"
)

// Handler renders one operation into the scope's buffers.
type Handler func(ctx context.Context, s *Scope) error

// Registry maps operation names to handlers. It is fixed once built.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a registry from handlers.
func NewRegistry(handlers map[string]Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for name, h := range handlers {
		if h == nil {
			panic(fmt.Sprintf("operation %q has no handler", name))
		}
		r.handlers[name] = h
	}
	return r
}

// Default returns the built-in world operations.
func Default() *Registry {
	return NewRegistry(map[string]Handler{
		OpMain:       Overview,
		OpPlayers:    Players,
		OpConfig:     Settings,
		OpFlushCache: FlushCache,
	})
}

// Normalize maps an empty name to the overview.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return OpMain
	}
	return name
}

// Lookup resolves a name. Names are matched exactly.
func (r *Registry) Lookup(name string) (Handler, error) {
	h, ok := r.handlers[Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrOperationNotFound, name)
	}
	return h, nil
}

// Names lists registered operations in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
