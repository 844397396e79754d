package source

import (
	"fmt"
	"sync"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// Factory builds the adapter for a session.
type Factory func(sess Session) (Adapter, error)

// Router hands out exactly one adapter per session, so every consumer of a
// session sees the same data source for its whole lifetime.
type Router struct {
	supported map[int64]bool
	demo      Factory
	live      Factory

	mu       sync.Mutex
	adapters map[Session]Adapter
}

// NewRouter returns a router for chainIDs. A nil live factory leaves live
// sessions unavailable.
func NewRouter(chainIDs []int64, demo, live Factory) *Router {
	sup := make(map[int64]bool, len(chainIDs))
	for _, id := range chainIDs {
		sup[id] = true
	}
	return &Router{supported: sup, demo: demo, live: live, adapters: make(map[Session]Adapter)}
}

// For returns the adapter bound to sess.
func (r *Router) For(sess Session) (Adapter, error) {
	if !r.supported[sess.ChainID] {
		return nil, fmt.Errorf("source: chain %d: %w", sess.ChainID, domain.ErrUnsupportedChain)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[sess]; ok {
		return a, nil
	}

	factory := r.live
	if sess.Demo {
		factory = r.demo
	}
	if factory == nil {
		return nil, fmt.Errorf("source: no data source for session %s: %w", sess, domain.ErrTransientUpstream)
	}
	a, err := factory(sess)
	if err != nil {
		return nil, fmt.Errorf("source: build adapter for %s: %w", sess, err)
	}
	r.adapters[sess] = a
	return a, nil
}

// LiveAvailable reports whether live sessions can be served.
func (r *Router) LiveAvailable() bool {
	return r.live != nil
}
