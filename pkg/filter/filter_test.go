package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBuiltinFiltersCoversCoreNames(t *testing.T) {
	fm := NewFilterManager()
	for _, name := range []string{"upper", "lower", "replace", "sha256", "unique", "combine", "to_json", "ternary"} {
		_, err := fm.Get(name)
		assert.NoErrorf(t, err, "expected builtin filter %q to be registered", name)
	}
}

func TestApplyUpperLower(t *testing.T) {
	fm := NewFilterManager()

	out, err := fm.Apply("upper", "deploy")
	require.NoError(t, err)
	assert.Equal(t, "DEPLOY", out)

	out, err = fm.Apply("lower", "DEPLOY")
	require.NoError(t, err)
	assert.Equal(t, "deploy", out)
}

func TestApplyUnknownFilterErrors(t *testing.T) {
	fm := NewFilterManager()
	_, err := fm.Apply("no_such_filter", "x")
	assert.Error(t, err)
}

func TestReplaceFilter(t *testing.T) {
	out, err := (&ReplaceFilter{}).Filter("hello world", "world", "gosinble")
	require.NoError(t, err)
	assert.Equal(t, "hello gosinble", out)
}

func TestSHA256FilterKnownDigest(t *testing.T) {
	out, err := (&SHA256Filter{}).Filter("")
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", out)
}

func TestUniqueFilterPreservesFirstOccurrenceOrder(t *testing.T) {
	out, err := (&UniqueFilter{}).Filter([]string{"a", "b", "a", "c", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestSortFilterStrings(t *testing.T) {
	out, err := (&SortFilter{}).Filter([]string{"c", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestFlattenFilterFullDepth(t *testing.T) {
	input := []interface{}{
		[]interface{}{1, 2},
		[]interface{}{[]interface{}{3, 4}},
	}
	out, err := (&FlattenFilter{}).Filter(input)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3, 4}, out)
}

func TestCombineFilterMergesDictsLastWins(t *testing.T) {
	out, err := (&CombineFilter{}).Filter(
		map[string]interface{}{"a": 1, "b": 1},
		map[string]interface{}{"b": 2},
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, out)
}

func TestTernaryFilterBranchesOnTruthiness(t *testing.T) {
	out, err := (&TernaryFilter{}).Filter(true, "yes", "no")
	require.NoError(t, err)
	assert.Equal(t, "yes", out)

	out, err = (&TernaryFilter{}).Filter(false, "yes", "no")
	require.NoError(t, err)
	assert.Equal(t, "no", out)
}

func TestToJSONFromJSONRoundTrip(t *testing.T) {
	data := map[string]interface{}{"name": "web1", "port": float64(80)}

	encoded, err := (&ToJSONFilter{}).Filter(data)
	require.NoError(t, err)

	decoded, err := (&FromJSONFilter{}).Filter(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestIPv4FilterDetectsIPv4(t *testing.T) {
	out, err := (&IPv4Filter{}).Filter("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = (&IPv4Filter{}).Filter("::1")
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestChainFiltersAppliesInSequence(t *testing.T) {
	fm := NewFilterManager()
	out, err := ChainFilters(fm, "  Deploy  ", "trim", "upper")
	require.NoError(t, err)
	assert.Equal(t, "DEPLOY", out)
}
