package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liliang-cn/gosinble/internal/executor"
	"github.com/liliang-cn/gosinble/pkg/types"
	"github.com/liliang-cn/gosinble/pkg/vars"
)

type fakeInventory struct {
	hostVars  map[string]map[string]interface{}
	groupVars map[string]map[string]interface{}
	groups    map[string][]string
}

func (f *fakeInventory) ResolvePattern(pattern string) ([]types.Host, error) { return nil, nil }
func (f *fakeInventory) HostVars(host string) map[string]interface{}        { return f.hostVars[host] }
func (f *fakeInventory) GroupVars(group string) map[string]interface{}      { return f.groupVars[group] }
func (f *fakeInventory) GroupsOf(host string) []string                      { return f.groups[host] }

func TestSetFactsAndFactsForRoundTrip(t *testing.T) {
	s := &Scheduler{}
	assert.Nil(t, s.factsFor("web1"))

	s.setFacts("web1", map[string]interface{}{"ansible_hostname": "web1"})
	facts := s.factsFor("web1")
	assert.Equal(t, "web1", facts["ansible_hostname"])
	assert.Nil(t, s.factsFor("web2"))
}

func TestBuildVarsLayersGatheredFactsAtHostFactsPrecedence(t *testing.T) {
	inv := &fakeInventory{
		hostVars:  map[string]map[string]interface{}{"web1": {"env": "inventory"}},
		groupVars: map[string]map[string]interface{}{"all": {}},
		groups:    map[string][]string{"web1": {}},
	}
	s := &Scheduler{
		Inventory:  inv,
		GlobalVars: vars.NewStore(),
		Executor:   &executor.Executor{},
	}
	s.setFacts("web1", map[string]interface{}{"ansible_hostname": "web1", "env": "facts"})

	play := types.Play{Vars: map[string]interface{}{"env": "play"}}
	merged := s.buildVars(types.Host{Name: "web1"}, play, types.Task{})

	assert.Equal(t, "web1", merged["ansible_hostname"])
	assert.Equal(t, "play", merged["env"], "PlayVars outranks HostFacts, which outranks InventoryHostVars")
}

func TestBuildVarsFactsWinOverInventoryHostVarsWhenNoPlayOverride(t *testing.T) {
	inv := &fakeInventory{
		hostVars:  map[string]map[string]interface{}{"web1": {"role": "inventory"}},
		groupVars: map[string]map[string]interface{}{"all": {}},
		groups:    map[string][]string{"web1": {}},
	}
	s := &Scheduler{
		Inventory:  inv,
		GlobalVars: vars.NewStore(),
		Executor:   &executor.Executor{},
	}
	s.setFacts("web1", map[string]interface{}{"role": "facts"})

	merged := s.buildVars(types.Host{Name: "web1"}, types.Play{}, types.Task{})
	assert.Equal(t, "facts", merged["role"])
}
