package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Router maps execution locations to engines. One engine per location.
type Router struct {
	mu      sync.RWMutex
	engines map[string]RemoteExecutionEngine
}

func NewRouter() *Router {
	return &Router{engines: make(map[string]RemoteExecutionEngine)}
}

// Register adds e under its configured location.
func (r *Router) Register(e RemoteExecutionEngine) error {
	loc := e.Config().Location
	if loc == "" {
		return fmt.Errorf("%s engine has no location", e.Type())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.engines[loc]; exists {
		return fmt.Errorf("location %q already has an engine", loc)
	}
	r.engines[loc] = e
	return nil
}

// For returns the engine serving location.
func (r *Router) For(location string) (RemoteExecutionEngine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[location]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoEngine, location)
	}
	return e, nil
}

// Engines returns every registered engine ordered by location.
func (r *Router) Engines() []RemoteExecutionEngine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RemoteExecutionEngine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config().Location < out[j].Config().Location })
	return out
}
