package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlainInterpolation(t *testing.T) {
	e := NewEngine()
	out, err := e.Render("hello {{ name }}", map[string]interface{}{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRenderAppliesBuiltinFilter(t *testing.T) {
	e := NewEngine()
	out, err := e.Render("{{ name | upper }}", map[string]interface{}{"name": "deploy"})
	require.NoError(t, err)
	assert.Equal(t, "DEPLOY", out)
}

func TestRenderChainsMultipleFilters(t *testing.T) {
	e := NewEngine()
	out, err := e.Render("{{ name | trim | upper }}", map[string]interface{}{"name": "  deploy  "})
	require.NoError(t, err)
	assert.Equal(t, "DEPLOY", out)
}

func TestRenderIfElseBranches(t *testing.T) {
	e := NewEngine()

	out, err := e.Render("{% if enabled %}yes{% else %}no{% endif %}", map[string]interface{}{"enabled": true})
	require.NoError(t, err)
	assert.Equal(t, "yes", out)

	out, err = e.Render("{% if enabled %}yes{% else %}no{% endif %}", map[string]interface{}{"enabled": false})
	require.NoError(t, err)
	assert.Equal(t, "no", out)
}

func TestRenderStripsComments(t *testing.T) {
	e := NewEngine()
	out, err := e.Render("before{# a comment #}after", nil)
	require.NoError(t, err)
	assert.Equal(t, "beforeafter", out)
}

func TestRenderWithDefaultsVarsWinOverDefaults(t *testing.T) {
	e := NewEngine()
	out, err := e.RenderWithDefaults(
		"{{ port }}",
		map[string]interface{}{"port": 8443},
		map[string]interface{}{"port": 80},
	)
	require.NoError(t, err)
	assert.Equal(t, "8443", out)
}

func TestValidateTemplateRejectsUnparseable(t *testing.T) {
	e := NewEngine()
	err := e.ValidateTemplate("{{ range }")
	assert.Error(t, err)
}

func TestValidateTemplateAcceptsWellFormed(t *testing.T) {
	e := NewEngine()
	err := e.ValidateTemplate("{{ name | upper }}")
	assert.NoError(t, err)
}

func TestContainsExpressionDetectsDelimiters(t *testing.T) {
	assert.True(t, ContainsExpression("{{ x }}"))
	assert.True(t, ContainsExpression("{% if x %}{% endif %}"))
	assert.False(t, ContainsExpression("plain string"))
}

func TestAddFunctionIsUsableInTemplates(t *testing.T) {
	e := NewEngine()
	err := e.AddFunction("shout", func(s string) string { return s + "!!!" })
	require.NoError(t, err)

	out, err := e.Render("{{ name | shout }}", map[string]interface{}{"name": "deploy"})
	require.NoError(t, err)
	assert.Equal(t, "deploy!!!", out)
}

func TestAddFunctionRejectsEmptyName(t *testing.T) {
	e := NewEngine()
	err := e.AddFunction("", func() {})
	assert.Error(t, err)
}

func TestCloneCopiesFunctionsIndependently(t *testing.T) {
	e := NewEngine()
	clone := e.Clone()

	require.NoError(t, clone.AddFunction("onlyOnClone", func(s string) string { return "x" }))

	_, err := e.Render("{{ name | onlyOnClone }}", map[string]interface{}{"name": "ignored"})
	assert.Error(t, err)

	out, err := clone.Render("{{ name | onlyOnClone }}", map[string]interface{}{"name": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}
