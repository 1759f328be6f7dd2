package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRun(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	input := map[string]interface{}{
		"keyword":     "espresso machines",
		"max_results": 10,
	}
	steps := map[string]interface{}{
		"serp": map[string]interface{}{
			"items": []interface{}{"a", "b", "c"},
		},
	}

	tests := []struct {
		name      string
		condition string
		want      bool
		wantErr   bool
	}{
		{"empty condition always runs", "", true, false},
		{"input field comparison", `input.keyword == "espresso machines"`, true, false},
		{"input field mismatch", `input.keyword == "grinders"`, false, false},
		{"has on present field", `has(input.keyword)`, true, false},
		{"has on absent field", `has(input.webhook_url)`, false, false},
		{"numeric comparison", `input.max_results > 5`, true, false},
		{"earlier step payload", `size(steps.serp.items) >= 2`, true, false},
		{"compile error", `input.keyword ==`, false, true},
		{"non-boolean result", `input.keyword`, false, true},
		{"missing step reference", `steps.nope.value == 1`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.ShouldRun(tt.condition, input, steps)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldRun_NilMaps(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	got, err := eval.ShouldRun(`has(input.anything)`, nil, nil)
	require.NoError(t, err)
	assert.False(t, got)
}
