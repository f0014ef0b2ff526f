package roles

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRole(t *testing.T, root, name string, files map[string]string) {
	t.Helper()
	roleDir := filepath.Join(root, name)
	for rel, content := range files {
		full := filepath.Join(roleDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestManagerLoadParsesTasksDefaultsAndVars(t *testing.T) {
	root := t.TempDir()
	writeRole(t, root, "webserver", map[string]string{
		"tasks/main.yml": `
- name: install nginx
  module: package
  args:
    name: nginx
`,
		"defaults/main.yml": "port: 80\n",
		"vars/main.yml":     "pkg_name: nginx\n",
	})

	m := NewManager([]string{root})
	role, err := m.Load("webserver")
	require.NoError(t, err)
	require.Len(t, role.Tasks, 1)
	assert.Equal(t, "install nginx", role.Tasks[0].Name)
	assert.Equal(t, 80, role.Defaults["port"])
	assert.Equal(t, "nginx", role.Vars["pkg_name"])
}

func TestManagerLoadMissingRoleErrors(t *testing.T) {
	m := NewManager([]string{t.TempDir()})
	_, err := m.Load("does-not-exist")
	assert.Error(t, err)
}

func TestManagerResolveFlattensDependencyTasksBeforeOwnTasks(t *testing.T) {
	root := t.TempDir()
	writeRole(t, root, "base", map[string]string{
		"tasks/main.yml": `
- name: base task
  module: command
  args:
    cmd: echo base
`,
	})
	writeRole(t, root, "app", map[string]string{
		"tasks/main.yml": `
- name: app task
  module: command
  args:
    cmd: echo app
`,
		"meta/main.yml": `
dependencies:
  - role: base
`,
	})

	m := NewManager([]string{root})
	app, err := m.Resolve(context.Background(), "app", nil)
	require.NoError(t, err)
	require.Len(t, app.Tasks, 2)
	assert.Equal(t, "base task", app.Tasks[0].Name)
	assert.Equal(t, "app task", app.Tasks[1].Name)
}

func TestManagerResolveVisitsSharedDependencyOnlyOnce(t *testing.T) {
	root := t.TempDir()
	writeRole(t, root, "common", map[string]string{
		"tasks/main.yml": `
- name: common task
  module: command
  args:
    cmd: echo common
`,
	})
	writeRole(t, root, "db", map[string]string{
		"tasks/main.yml":  `[]`,
		"meta/main.yml": "dependencies:\n  - role: common\n",
	})
	writeRole(t, root, "web", map[string]string{
		"tasks/main.yml":  `[]`,
		"meta/main.yml": "dependencies:\n  - role: common\n  - role: db\n",
	})

	m := NewManager([]string{root})
	app, err := m.Resolve(context.Background(), "web", nil)
	require.NoError(t, err)

	count := 0
	for _, task := range app.Tasks {
		if task.Name == "common task" {
			count++
		}
	}
	assert.Equal(t, 1, count, "a role reachable via two paths must only contribute its tasks once")
}

func TestManagerListReturnsRoleDirectoryNames(t *testing.T) {
	root := t.TempDir()
	writeRole(t, root, "a", map[string]string{"tasks/main.yml": "[]"})
	writeRole(t, root, "b", map[string]string{"tasks/main.yml": "[]"})

	m := NewManager([]string{root})
	names := m.List()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestDependencyResolverOrdersDependenciesBeforeDependents(t *testing.T) {
	dr := NewDependencyResolver()
	dr.AddRole(&Role{Name: "base"})
	dr.AddRole(&Role{Name: "app", Dependencies: []Dependency{{Role: "base"}}})

	order, err := dr.Resolve()
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "base", order[0].Name)
	assert.Equal(t, "app", order[1].Name)
}

func TestDependencyResolverDetectsCircularDependency(t *testing.T) {
	dr := NewDependencyResolver()
	dr.AddRole(&Role{Name: "a", Dependencies: []Dependency{{Role: "b"}}})
	dr.AddRole(&Role{Name: "b", Dependencies: []Dependency{{Role: "a"}}})

	_, err := dr.Resolve()
	assert.Error(t, err)
}

func TestDependencyResolverGetDependents(t *testing.T) {
	dr := NewDependencyResolver()
	dr.AddRole(&Role{Name: "base"})
	dr.AddRole(&Role{Name: "app", Dependencies: []Dependency{{Role: "base"}}})
	dr.AddRole(&Role{Name: "other"})

	deps := dr.GetDependents("base")
	assert.Equal(t, []string{"app"}, deps)
}
