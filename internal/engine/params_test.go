package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveParams(t *testing.T) {
	input := map[string]interface{}{
		"keyword":     "espresso machines",
		"max_results": float64(10),
	}
	stepOutputs := map[string]interface{}{
		"serp": map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{"url": "https://a.example"},
				map[string]interface{}{"url": "https://b.example"},
			},
		},
	}

	params := map[string]interface{}{
		"query":    "{{input.keyword}}",
		"prompt":   "Analyze results for {{input.keyword}} (top {{input.max_results}})",
		"first":    "{{steps.serp.items[0].url}}",
		"limit":    "{{input.max_results}}",
		"missing":  "{{input.nope}}",
		"embedded": "value is {{input.nope}}",
		"plain":    "untouched",
		"number":   42,
		"nested": map[string]interface{}{
			"url": "{{steps.serp.items[1].url}}",
		},
		"list": []interface{}{"{{input.keyword}}", "literal"},
	}

	out := resolveParams(params, input, stepOutputs)

	assert.Equal(t, "espresso machines", out["query"])
	assert.Equal(t, "Analyze results for espresso machines (top 10)", out["prompt"])
	assert.Equal(t, "https://a.example", out["first"])
	// a whole-string placeholder keeps the referenced value's type
	assert.Equal(t, float64(10), out["limit"])
	// unresolvable placeholders stay as-is
	assert.Equal(t, "{{input.nope}}", out["missing"])
	assert.Equal(t, "value is {{input.nope}}", out["embedded"])
	assert.Equal(t, "untouched", out["plain"])
	assert.Equal(t, 42, out["number"])
	assert.Equal(t, "https://b.example", out["nested"].(map[string]interface{})["url"])
	assert.Equal(t, "espresso machines", out["list"].([]interface{})[0])

	// the original params map is never mutated
	assert.Equal(t, "{{input.keyword}}", params["query"])
}

func TestLookupPath(t *testing.T) {
	data := map[string]interface{}{
		"steps": map[string]interface{}{
			"serp": map[string]interface{}{
				"items": []interface{}{"x", "y"},
			},
		},
	}

	v, ok := lookupPath(data, "steps.serp.items[1]")
	assert.True(t, ok)
	assert.Equal(t, "y", v)

	_, ok = lookupPath(data, "steps.serp.items[5]")
	assert.False(t, ok)
	_, ok = lookupPath(data, "steps.serp.items[x]")
	assert.False(t, ok)
	_, ok = lookupPath(data, "steps.other")
	assert.False(t, ok)
}
