// Package roles loads Ansible-style role directories (tasks/, handlers/,
// vars/, defaults/, meta/, files/, templates/) and resolves them, with
// their dependencies, into task lists the scheduler can run.
package roles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// Role is one loaded role directory.
type Role struct {
	Name         string
	Path         string
	Tasks        []types.Task
	Handlers     []types.Handler
	Defaults     map[string]interface{}
	Vars         map[string]interface{}
	Meta         *Meta
	Files        []string
	Templates    []string
	Dependencies []Dependency
}

// Meta is a role's meta/main.yml.
type Meta struct {
	Author            string       `yaml:"author,omitempty"`
	Description       string       `yaml:"description,omitempty"`
	License           string       `yaml:"license,omitempty"`
	MinAnsibleVersion string       `yaml:"min_ansible_version,omitempty"`
	Platforms         []Platform   `yaml:"platforms,omitempty"`
	Dependencies      []Dependency `yaml:"dependencies,omitempty"`
	Tags              []string     `yaml:"galaxy_tags,omitempty"`
}

// Platform is one supported-platform entry in role metadata.
type Platform struct {
	Name     string   `yaml:"name"`
	Versions []string `yaml:"versions,omitempty"`
}

// Dependency is one role dependency entry.
type Dependency struct {
	Role    string                 `yaml:"role"`
	Src     string                 `yaml:"src,omitempty"`
	Version string                 `yaml:"version,omitempty"`
	Vars    map[string]interface{} `yaml:"vars,omitempty"`
	Tags    []string               `yaml:"tags,omitempty"`
}

// Manager loads and caches roles from a search path list.
type Manager struct {
	searchPaths []string
	loaded      map[string]*Role
}

// NewManager builds a manager searching the given paths, defaulting to
// "./roles" if none are given.
func NewManager(searchPaths []string) *Manager {
	if len(searchPaths) == 0 {
		searchPaths = []string{"roles"}
	}
	return &Manager{searchPaths: searchPaths, loaded: make(map[string]*Role)}
}

// Load loads (or returns the cached copy of) a role by name.
func (m *Manager) Load(name string) (*Role, error) {
	if role, ok := m.loaded[name]; ok {
		return role, nil
	}

	var rolePath string
	for _, base := range m.searchPaths {
		candidate := filepath.Join(base, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			rolePath = candidate
			break
		}
	}
	if rolePath == "" {
		return nil, &types.ConfigError{Key: name, Message: fmt.Sprintf("role not found in paths %v", m.searchPaths)}
	}

	role := &Role{Name: name, Path: rolePath}
	if err := loadYAMLTasks(filepath.Join(rolePath, "tasks", "main.yml"), &role.Tasks); err != nil {
		return nil, &types.ConfigError{Key: name, Message: "load tasks: " + err.Error()}
	}
	if err := loadYAMLHandlers(filepath.Join(rolePath, "handlers", "main.yml"), &role.Handlers); err != nil {
		return nil, &types.ConfigError{Key: name, Message: "load handlers: " + err.Error()}
	}
	role.Vars = make(map[string]interface{})
	if err := loadYAMLMap(filepath.Join(rolePath, "vars", "main.yml"), &role.Vars); err != nil {
		return nil, &types.ConfigError{Key: name, Message: "load vars: " + err.Error()}
	}
	role.Defaults = make(map[string]interface{})
	if err := loadYAMLMap(filepath.Join(rolePath, "defaults", "main.yml"), &role.Defaults); err != nil {
		return nil, &types.ConfigError{Key: name, Message: "load defaults: " + err.Error()}
	}
	meta, err := loadMeta(filepath.Join(rolePath, "meta", "main.yml"))
	if err != nil {
		return nil, &types.ConfigError{Key: name, Message: "load meta: " + err.Error()}
	}
	role.Meta = meta
	if meta != nil {
		role.Dependencies = meta.Dependencies
	}

	role.Files = listFiles(filepath.Join(rolePath, "files"))
	role.Templates = listFiles(filepath.Join(rolePath, "templates"))

	m.loaded[name] = role
	return role, nil
}

func loadYAMLTasks(path string, out *[]types.Task) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func loadYAMLHandlers(path string, out *[]types.Handler) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func loadYAMLMap(path string, out *map[string]interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func loadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func listFiles(dir string) []string {
	var files []string
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(dir, path); err == nil {
			files = append(files, rel)
		}
		return nil
	})
	return files
}

// Application is a fully resolved role: its own tasks/handlers prefixed
// by every dependency's tasks/handlers in order, and the precedence-
// correct merge of defaults/vars/extraVars ready to layer into a
// play's variable scope.
type Application struct {
	RoleName string
	Tasks    []types.Task
	Handlers []types.Handler
	Defaults map[string]interface{}
	Vars     map[string]interface{}
}

// Resolve loads roleName and every transitive dependency, returning the
// flattened Application the scheduler executes against a play's hosts.
// Dependencies are resolved depth-first so a dependency's tasks run
// before the role that declared it.
func (m *Manager) Resolve(ctx context.Context, roleName string, extraVars map[string]interface{}) (*Application, error) {
	visited := make(map[string]struct{})
	app := &Application{RoleName: roleName, Defaults: make(map[string]interface{}), Vars: make(map[string]interface{})}

	var visit func(name string, vars map[string]interface{}) error
	visit = func(name string, vars map[string]interface{}) error {
		if _, done := visited[name]; done {
			return nil
		}
		visited[name] = struct{}{}

		role, err := m.Load(name)
		if err != nil {
			return err
		}
		for _, dep := range role.Dependencies {
			if err := visit(dep.Role, dep.Vars); err != nil {
				return fmt.Errorf("dependency %q: %w", dep.Role, err)
			}
		}

		for k, v := range role.Defaults {
			app.Defaults[k] = v
		}
		for k, v := range role.Vars {
			app.Vars[k] = v
		}
		for k, v := range vars {
			app.Vars[k] = v
		}
		app.Tasks = append(app.Tasks, role.Tasks...)
		app.Handlers = append(app.Handlers, role.Handlers...)
		return nil
	}

	if err := visit(roleName, extraVars); err != nil {
		return nil, err
	}
	return app, nil
}

// Path returns the filesystem path of a loaded role.
func (m *Manager) Path(roleName string) (string, error) {
	role, err := m.Load(roleName)
	if err != nil {
		return "", err
	}
	return role.Path, nil
}

// File returns the absolute path to a file within a role's fileType
// subdirectory (files/ or templates/), erroring if it doesn't exist.
func (m *Manager) File(roleName, fileType, fileName string) (string, error) {
	role, err := m.Load(roleName)
	if err != nil {
		return "", err
	}
	path := filepath.Join(role.Path, fileType, fileName)
	if _, err := os.Stat(path); err != nil {
		return "", &types.ConfigError{Key: fileName, Message: fmt.Sprintf("not found in role %q %s dir", roleName, fileType)}
	}
	return path, nil
}

// List returns the names of every role directory found in the search paths.
func (m *Manager) List() []string {
	seen := make(map[string]struct{})
	for _, base := range m.searchPaths {
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out
}
