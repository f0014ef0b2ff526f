// Package template renders Jinja-flavored task and file templates: variable
// interpolation, pipe-style filters, and a small set of control structures
// (if/for), translated to Go's text/template and executed against a
// variable map supplied by the executor.
package template

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/liliang-cn/gosinble/pkg/filter"
	"github.com/liliang-cn/gosinble/pkg/types"
)

// Engine renders templates and tracks a registry of callable functions
// on top of the filters supplied by pkg/filter.
type Engine struct {
	mu        sync.RWMutex
	functions map[string]interface{}
	filters   *filter.FilterManager
}

// NewEngine creates an engine with the built-in filter set wired in as
// Go template functions, plus Ansible-style helper functions.
func NewEngine() *Engine {
	e := &Engine{
		functions: make(map[string]interface{}),
		filters:   filter.NewFilterManager(),
	}
	e.registerFilterFunctions()
	e.registerHelperFunctions()
	return e
}

// registerFilterFunctions exposes every registered filter plugin as a Go
// template function of the same name, so "{{ x | upper }}" compiles to
// "{{ upper x }}" after preprocessing.
func (e *Engine) registerFilterFunctions() {
	for _, name := range e.filters.Names() {
		name := name
		e.functions[name] = func(input interface{}, args ...interface{}) (interface{}, error) {
			return e.filters.Apply(name, input, args...)
		}
	}
}

func (e *Engine) registerHelperFunctions() {
	e.functions["default"] = func(defaultVal, value interface{}) interface{} {
		if value == nil || value == "" {
			return defaultVal
		}
		return value
	}
	e.functions["env"] = os.Getenv
	e.functions["basename"] = filepath.Base
	e.functions["dirname"] = filepath.Dir
	e.functions["list"] = func(items ...interface{}) []interface{} { return items }
	e.functions["dict"] = func(items ...interface{}) map[string]interface{} {
		result := make(map[string]interface{})
		for i := 0; i+1 < len(items); i += 2 {
			if key, ok := items[i].(string); ok {
				result[key] = items[i+1]
			}
		}
		return result
	}
}

// AddFunction registers a custom function, e.g. a lookup-plugin adapter.
func (e *Engine) AddFunction(name string, fn interface{}) error {
	if name == "" {
		return &types.ValidationError{Field: "name", Message: "function name cannot be empty"}
	}
	if fn == nil {
		return &types.ValidationError{Field: "fn", Message: "function cannot be nil"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.functions[name] = fn
	return nil
}

func (e *Engine) snapshotFunctions() template.FuncMap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fm := make(template.FuncMap, len(e.functions))
	for k, v := range e.functions {
		fm[k] = v
	}
	return fm
}

// Render expands a Jinja-flavored template string against vars.
func (e *Engine) Render(templateStr string, vars map[string]interface{}) (string, error) {
	goTemplate, err := translateJinja(templateStr)
	if err != nil {
		return "", &types.TemplateError{Expression: templateStr, Cause: err}
	}

	tmpl, err := template.New("inline").Funcs(e.snapshotFunctions()).Parse(goTemplate)
	if err != nil {
		return "", &types.TemplateError{Expression: templateStr, Cause: err}
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, vars); err != nil {
		return "", &types.TemplateError{Expression: templateStr, Cause: err}
	}
	return out.String(), nil
}

// RenderFile reads a template file from disk and renders it.
func (e *Engine) RenderFile(path string, vars map[string]interface{}) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", &types.TemplateError{Expression: path, Cause: err}
	}
	result, err := e.Render(string(content), vars)
	if err != nil {
		return "", &types.TemplateError{Expression: path, Cause: err}
	}
	return result, nil
}

// RenderWithDefaults renders with vars layered over defaults (vars win).
func (e *Engine) RenderWithDefaults(templateStr string, vars, defaults map[string]interface{}) (string, error) {
	merged := make(map[string]interface{}, len(defaults)+len(vars))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	return e.Render(templateStr, merged)
}

// ValidateTemplate reports whether a template string parses without
// executing it.
func (e *Engine) ValidateTemplate(templateStr string) error {
	goTemplate, err := translateJinja(templateStr)
	if err != nil {
		return &types.TemplateError{Expression: templateStr, Cause: err}
	}
	if _, err := template.New("validate").Funcs(e.snapshotFunctions()).Parse(goTemplate); err != nil {
		return &types.TemplateError{Expression: templateStr, Cause: err}
	}
	return nil
}

// ContainsExpression reports whether s has any Jinja delimiter at all,
// letting callers skip the template engine entirely for plain strings.
func ContainsExpression(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

// ListFunctions returns the names of every function/filter available to
// templates rendered by this engine.
func (e *Engine) ListFunctions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.functions))
	for name := range e.functions {
		names = append(names, name)
	}
	return names
}

// Clone copies the engine's function table into a fresh instance, e.g.
// per-role template engines with role-local custom filters.
func (e *Engine) Clone() *Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	clone := &Engine{functions: make(map[string]interface{}, len(e.functions)), filters: e.filters}
	for k, v := range e.functions {
		clone.functions[k] = v
	}
	return clone
}

// DefaultEngine is the package-level engine used where no per-role
// customization is needed.
var DefaultEngine = NewEngine()
