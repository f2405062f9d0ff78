package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_GetSet(t *testing.T) {
	doc := NewDocument(map[string]any{
		"mission_id": "m1",
		"execution_plan": map[string]any{
			"tools": []any{
				map[string]any{"tool": "semgrep"},
				map[string]any{"tool": "gitleaks"},
			},
		},
	})

	v, ok := doc.Get("$.execution_plan.tools[1].tool")
	require.True(t, ok)
	assert.Equal(t, "gitleaks", v)

	_, ok = doc.Get("$.missing")
	assert.False(t, ok)

	require.NoError(t, doc.Set("$.a.b.c", 42))
	v, ok = doc.Get("$.a.b.c")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestDocument_SetRejectsInvalidTargets(t *testing.T) {
	doc := Document{"mission_id": "m1"}

	tests := []struct {
		name string
		path string
	}{
		{name: "root", path: "$"},
		{name: "wildcard", path: "$.tools[*]"},
		{name: "no root", path: "tools"},
		{name: "malformed", path: "$.["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, doc.Set(tt.path, "x"))
		})
	}
}

func TestValidateResultPath(t *testing.T) {
	assert.NoError(t, validateResultPath("$.archaeologist_result"))
	assert.Error(t, validateResultPath("$.mission_id"))
	assert.Error(t, validateResultPath("$"))
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := NewDocument(map[string]any{
		"mission_id": "m1",
		"nested":     map[string]any{"list": []any{"a", "b"}},
	})

	clone := doc.Clone()
	clone["nested"].(map[string]any)["list"].([]any)[0] = "changed"
	clone["mission_id"] = "other"

	assert.Equal(t, "a", doc["nested"].(map[string]any)["list"].([]any)[0])
	assert.Equal(t, "m1", doc.MissionID())
}

func TestNormalize(t *testing.T) {
	type finding struct {
		Rule     string `json:"rule"`
		Severity int    `json:"severity"`
	}

	got := normalize(map[string]any{
		"findings": []finding{{Rule: "r1", Severity: 3}},
		"tags":     []string{"a"},
		"doc":      Document{"k": "v"},
	})

	assert.Equal(t, map[string]any{
		"findings": []any{map[string]any{"rule": "r1", "severity": float64(3)}},
		"tags":     []any{"a"},
		"doc":      map[string]any{"k": "v"},
	}, got)
}
