package server

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Sink is the hub's view of a connected session: somewhere to push frames.
// The hub calls these methods from its own goroutine only.
type Sink interface {
	ID() string
	// Deliver queues a snapshot without blocking and reports whether it fit.
	Deliver(frame []byte) bool
	// Eliminate queues the terminal frame; the session closes after sending it.
	Eliminate(frame []byte)
	// Close ends the session's outbound stream.
	Close()
}

// pumped is implemented by sinks that own connection goroutines. The hub
// starts them once the player is admitted, or aborts the connection when
// registration is refused.
type pumped interface {
	start()
	abort()
}

// abort refuses a sink that never joined the arena.
func abort(s Sink) {
	if p, ok := s.(pumped); ok {
		p.abort()
		return
	}
	s.Close()
}

// Registry maps player ids to their sessions. It is a fan-out directory, not
// game state, and is owned by the hub goroutine; it is not safe for
// concurrent use.
type Registry struct {
	sinks map[string]Sink
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

// Add records s under its id. It returns false if the id is taken.
func (r *Registry) Add(s Sink) bool {
	if _, exists := r.sinks[s.ID()]; exists {
		return false
	}
	r.sinks[s.ID()] = s
	return true
}

// Remove deletes and returns the sink for id.
func (r *Registry) Remove(id string) (Sink, bool) {
	s, ok := r.sinks[id]
	if ok {
		delete(r.sinks, id)
	}
	return s, ok
}

func (r *Registry) Get(id string) (Sink, bool) {
	s, ok := r.sinks[id]
	return s, ok
}

func (r *Registry) Len() int {
	return len(r.sinks)
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []string {
	ids := maps.Keys(r.sinks)
	slices.Sort(ids)
	return ids
}

// Sinks returns the registered sinks in no particular order.
func (r *Registry) Sinks() []Sink {
	return maps.Values(r.sinks)
}
