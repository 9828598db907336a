// Package backend maintains the daemon's backend registry: one
// started/not-started bit per backend kind, with concurrent
// ensure_started calls for the same kind coalesced into a single
// provider invocation.
package backend

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Kind is one of the backend families the daemon can start on demand.
type Kind string

const (
	Semantic   Kind = "semantic"
	Syntactic  Kind = "syntactic"
	Relational Kind = "relational"
)

// Provider starts one backend kind. It is invoked at most once per
// kind unless a previous attempt failed.
type Provider func(kind Kind) error

// Registry tracks which backend kinds have been started.
type Registry struct {
	mu        sync.Mutex
	started   map[Kind]bool
	providers map[Kind]Provider
	group     singleflight.Group
}

// NewRegistry builds a registry with one provider per backend kind.
func NewRegistry(providers map[Kind]Provider) *Registry {
	return &Registry{
		started:   make(map[Kind]bool),
		providers: providers,
	}
}

// ErrUnknownBackend reports a request for a kind with no registered
// provider.
type ErrUnknownBackend struct{ Kind Kind }

func (e *ErrUnknownBackend) Error() string {
	return fmt.Sprintf("backend registry: no provider registered for %q", e.Kind)
}

// EnsureStarted invokes kind's provider on first call; subsequent
// calls short-circuit once it has succeeded. A failed attempt leaves
// the started bit unset so a later call may retry. Concurrent calls
// for the same kind share one in-flight provider invocation.
func (r *Registry) EnsureStarted(kind Kind) error {
	r.mu.Lock()
	if r.started[kind] {
		r.mu.Unlock()
		return nil
	}
	provider, ok := r.providers[kind]
	r.mu.Unlock()
	if !ok {
		return &ErrUnknownBackend{Kind: kind}
	}

	_, err, _ := r.group.Do(string(kind), func() (interface{}, error) {
		r.mu.Lock()
		done := r.started[kind]
		r.mu.Unlock()
		if done {
			return nil, nil
		}
		if startErr := provider(kind); startErr != nil {
			return nil, startErr
		}
		r.mu.Lock()
		r.started[kind] = true
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

// Started reports whether kind has successfully started.
func (r *Registry) Started(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started[kind]
}
