package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepMergeReplaceReturnsOverlay(t *testing.T) {
	base := map[string]interface{}{"a": 1}
	overlay := map[string]interface{}{"b": 2}
	got := DeepMerge(base, overlay, Replace)
	assert.Equal(t, overlay, got)
}

func TestDeepMergeMergesNestedMaps(t *testing.T) {
	base := map[string]interface{}{
		"db": map[string]interface{}{
			"host": "a",
			"opts": map[string]interface{}{"ssl": true, "timeout": 5},
		},
		"keep": "me",
	}
	overlay := map[string]interface{}{
		"db": map[string]interface{}{
			"host": "b",
			"opts": map[string]interface{}{"timeout": 10},
		},
	}

	got := DeepMerge(base, overlay, Merge)
	want := map[string]interface{}{
		"db": map[string]interface{}{
			"host": "b",
			"opts": map[string]interface{}{"ssl": true, "timeout": 10},
		},
		"keep": "me",
	}
	assert.Equal(t, want, got)
}

func TestDeepMergeNonMapOverlayWins(t *testing.T) {
	base := map[string]interface{}{"a": 1}
	got := DeepMerge(base, "scalar", Merge)
	assert.Equal(t, "scalar", got)
}
