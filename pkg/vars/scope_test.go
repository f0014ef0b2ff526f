package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeShadowsParentWithoutMutatingIt(t *testing.T) {
	store := NewStore()
	store.Set("item", "parent-value", RoleDefaults)

	sc := store.Scope()
	sc.Set("item", "loop-value")

	v, ok := sc.Get("item")
	require.True(t, ok)
	assert.Equal(t, "loop-value", v)

	parentVal, _ := store.Get("item")
	assert.Equal(t, "parent-value", parentVal)
}

func TestScopeFallsThroughToParentWhenUnset(t *testing.T) {
	store := NewStore()
	store.Set("shared", 42, RoleDefaults)

	sc := store.Scope()
	v, ok := sc.Get("shared")
	require.True(t, ok)
	assert.EqualValues(t, 42, v)
}

func TestScopeChildNestsOverParentScope(t *testing.T) {
	store := NewStore()
	store.Set("base", "root", RoleDefaults)

	outer := store.Scope()
	outer.Set("base", "outer")

	inner := outer.Child()
	v, ok := inner.Get("base")
	require.True(t, ok)
	assert.Equal(t, "outer", v)

	inner.Set("base", "inner")
	v, ok = inner.Get("base")
	require.True(t, ok)
	assert.Equal(t, "inner", v)

	outerVal, _ := outer.Get("base")
	assert.Equal(t, "outer", outerVal)
}

func TestScopeAllFlattensLocalOverParentStore(t *testing.T) {
	store := NewStore()
	store.Set("a", 1, RoleDefaults)
	store.Set("b", 2, RoleDefaults)

	sc := store.Scope()
	sc.Set("b", 20)
	sc.Set("c", 3)

	merged := sc.All(store)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 20, "c": 3}, merged)
}
