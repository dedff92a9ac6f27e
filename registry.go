package docent

import (
	"slices"
	"sync"
)

// Registry holds the name → Function dispatch table shared by all
// orchestration rounds. It is safe for concurrent use. No validation of a
// function happens at registration time; validation is deferred to call time.
type Registry struct {
	mu          sync.Mutex
	functions   map[string]Function // wrapped with middlewares, used by CallManager
	rawFuncs    map[string]Function // unwrapped, used by Use() to re-apply middlewares
	middlewares []Middleware
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[string]Function),
		rawFuncs:  make(map[string]Function),
	}
}

// Register adds a function. Stored middlewares (see Use) are applied before
// registration. A function with the same name replaces the prior entry
// atomically. Safe for concurrent use with Get and other Register calls.
func (r *Registry) Register(fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := fn.Name()
	r.rawFuncs[name] = fn
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		fn = r.middlewares[i](fn)
	}
	r.functions[name] = fn
}

// Unregister removes the named function and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.functions[name]
	delete(r.functions, name)
	delete(r.rawFuncs, name)
	return ok
}

// Get returns the function with the given name (after middlewares), or
// (nil, false) if not registered. Absence is not an error.
func (r *Registry) Get(name string) (Function, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.functions[name]
	return fn, ok
}

// Definition returns the model-facing definition of the named function, or
// (zero, false) on a miss.
func (r *Registry) Definition(name string) (FunctionDefinition, bool) {
	fn, ok := r.Get(name)
	if !ok {
		return FunctionDefinition{}, false
	}
	return Definition(fn), true
}

// Definitions returns all registered definitions, sorted by name for
// deterministic export to providers.
func (r *Registry) Definitions() []FunctionDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]FunctionDefinition, 0, len(names))
	for _, name := range names {
		out = append(out, Definition(r.functions[name]))
	}
	return out
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.functions)
}

// Clear empties the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.functions)
	clear(r.rawFuncs)
}

// Use stores the given middlewares and reapplies them from scratch to all
// registered functions (onion order: first middleware is outermost). Functions
// registered after Use also get them. Calling Use again replaces the chain and
// rewraps from raw functions, avoiding double-wrapping.
func (r *Registry) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = middlewares
	for name, raw := range r.rawFuncs {
		fn := raw
		for i := len(middlewares) - 1; i >= 0; i-- {
			fn = middlewares[i](fn)
		}
		r.functions[name] = fn
	}
}
