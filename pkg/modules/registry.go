// Package modules implements the representative module set: each module
// is a types.Module that validates its own parameters and executes
// against a types.ModuleContext's connection.
package modules

import (
	"fmt"
	"sync"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// Registry is a name-keyed module lookup table, populated at startup with
// the built-in set and extensible by callers that add custom modules.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]types.Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]types.Module)}
}

// Register adds a module, keyed by its own Name().
func (r *Registry) Register(m types.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

// Get looks up a module by name.
func (r *Registry) Get(name string) (types.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("module %q not found", name)
	}
	return m, nil
}

// Names returns every registered module name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}

// NewDefaultRegistry returns a registry with the representative built-in
// module set wired in; a full module library is out of scope here, but
// every Classification has at least one concrete exerciser, and so do the
// FullyParallel and HostExclusive hints; no built-in module is
// RateLimited.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewPingModule())
	r.Register(NewCommandModule())
	r.Register(NewCopyModule())
	r.Register(NewFileModule())
	return r
}

// DefaultRegistry is the package-level registry used when no caller
// supplies its own module set.
var DefaultRegistry = NewDefaultRegistry()
