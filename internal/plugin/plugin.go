// Package plugin is the named function registry for ws_api handler/reducer
// code blocks (spec §4.3, §9 Design Notes: "Custom handler/reducer code
// blocks are rarer and may be modeled as required plugins: declare a named
// function registry with a small published interface; reject configuration
// that references unknown plugins.").
//
// Where spec.md describes `handler`/`reducer` as "source text" evaluated
// by the original dynamic-language system, this Go re-implementation
// treats them as references to Go functions registered by the operator at
// startup (grounded on the teacher's IngesterFactory registry pattern,
// internal/orchestrator/ingester.go) rather than embedding a second
// interpreter for arbitrary stream-reduction logic.
package plugin

import (
	"fmt"
	"sync"
)

// Handler mutates the per-field epoch buffer in response to one incoming
// WS message (spec §4.3 ws_api: "the per-ingester handler(msg, epochs)
// which mutates the current epoch buffer").
type Handler func(msg []byte, appendTo func(field string, value any)) error

// Reducer computes one field's value from the captured epoch (and, if
// needed, the previous epoch) at the tick boundary (spec §4.3/§4.4:
// "reducer, if set, is invoked on the captured epoch lists").
type Reducer func(epoch map[string][]any, previous map[string][]any) (any, error)

// Registry holds the handlers and reducers known to this process.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	reducers map[string]Reducer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		reducers: make(map[string]Reducer),
	}
}

// RegisterHandler adds a named WS message handler.
func (r *Registry) RegisterHandler(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// RegisterReducer adds a named tick-boundary reducer.
func (r *Registry) RegisterReducer(name string, red Reducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reducers[name] = red
}

// Handler looks up a handler by name, erroring if unknown — configuration
// referencing an unregistered plugin is rejected, not silently ignored.
func (r *Registry) Handler(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown handler plugin %q", name)
	}
	return h, nil
}

// Reducer looks up a reducer by name, erroring if unknown.
func (r *Registry) Reducer(name string) (Reducer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	red, ok := r.reducers[name]
	if !ok {
		return nil, fmt.Errorf("unknown reducer plugin %q", name)
	}
	return red, nil
}
