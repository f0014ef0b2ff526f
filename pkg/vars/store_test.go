package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/gosinble/pkg/vault"
)

func TestStoreHigherPrecedenceWins(t *testing.T) {
	s := NewStore()
	s.Set("env", "staging", RoleDefaults)
	s.Set("env", "production", ExtraVars)

	v, ok := s.Get("env")
	require.True(t, ok)
	assert.Equal(t, "production", v)
}

func TestStoreReplaceHashBehaviourOverwritesWholeMap(t *testing.T) {
	s := NewStore()
	s.Set("db", map[string]interface{}{"host": "a", "port": 5432}, RoleDefaults)
	s.Set("db", map[string]interface{}{"host": "b"}, ExtraVars)

	v, ok := s.Get("db")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"host": "b"}, v)
}

func TestStoreMergeHashBehaviourDeepMerges(t *testing.T) {
	s := NewStore()
	s.SetHashBehaviour(Merge)
	s.Set("db", map[string]interface{}{"host": "a", "port": 5432}, RoleDefaults)
	s.Set("db", map[string]interface{}{"host": "b"}, ExtraVars)

	v, ok := s.Get("db")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"host": "b", "port": 5432}, v)
}

func TestStoreContainsAndRemove(t *testing.T) {
	s := NewStore()
	s.Set("flag", true, TaskVars)
	assert.True(t, s.Contains("flag"))

	s.Remove("flag", TaskVars)
	assert.False(t, s.Contains("flag"))
}

func TestStoreClearPrecedenceOnlyDropsThatLayer(t *testing.T) {
	s := NewStore()
	s.Set("x", 1, RoleDefaults)
	s.Set("x", 2, TaskVars)

	s.ClearPrecedence(TaskVars)
	v, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestStoreGetVariableReturnsProvenance(t *testing.T) {
	s := NewStore()
	s.SetVariable("region", New("us-east-1", ExtraVars).WithSource("cli"))

	v, ok := s.GetVariable("region")
	require.True(t, ok)
	assert.Equal(t, "cli", v.Source)
	assert.Equal(t, ExtraVars, v.Precedence)
}

func TestStoreKeysSorted(t *testing.T) {
	s := NewStore()
	s.Set("zeta", 1, RoleDefaults)
	s.Set("alpha", 2, RoleDefaults)
	assert.Equal(t, []string{"alpha", "zeta"}, s.Keys())
}

func TestStoreSetManyFromFilePlainYAML(t *testing.T) {
	s := NewStore()
	err := s.SetManyFromFile([]byte("a: 1\nb: two\n"), RoleVars, "vars/main.yml")
	require.NoError(t, err)

	a, _ := s.Get("a")
	assert.EqualValues(t, 1, a)
	b, _ := s.Get("b")
	assert.Equal(t, "two", b)
}

func TestStoreSetManyFromFileVaultEncryptedRequiresPassword(t *testing.T) {
	s := NewStore()
	enc, err := vault.New("secret").EncryptFile([]byte("token: abc123\n"))
	require.NoError(t, err)

	err = s.SetManyFromFile(enc, RoleVars, "vars/secrets.yml")
	assert.Error(t, err)

	s.SetVaultPassword("secret")
	err = s.SetManyFromFile(enc, RoleVars, "vars/secrets.yml")
	require.NoError(t, err)
	v, ok := s.Get("token")
	require.True(t, ok)
	assert.Equal(t, "abc123", v)
}

func TestStoreAllReturnsIndependentSnapshot(t *testing.T) {
	s := NewStore()
	s.Set("k", "v", RoleDefaults)
	snap := s.All()
	snap["k"] = "mutated"

	v, _ := s.Get("k")
	assert.Equal(t, "v", v)
}
