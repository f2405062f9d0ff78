package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChoiceRule_Evaluate(t *testing.T) {
	doc := NewDocument(map[string]any{
		"scan_type": "aws",
		"strict":    true,
		"count":     float64(5),
		"nested":    map[string]any{"value": "x"},
	})

	tests := []struct {
		name string
		rule ChoiceRule
		want bool
	}{
		{name: "string match", rule: StringEquals("$.scan_type", "aws", "A"), want: true},
		{name: "string mismatch", rule: StringEquals("$.scan_type", "code", "A"), want: false},
		{name: "string on missing", rule: StringEquals("$.missing", "aws", "A"), want: false},
		{name: "string on bool", rule: StringEquals("$.strict", "true", "A"), want: false},
		{name: "bool match", rule: BooleanEquals("$.strict", true, "A"), want: true},
		{name: "numeric match", rule: NumericEquals("$.count", 5, "A"), want: true},
		{name: "numeric mismatch", rule: NumericEquals("$.count", 6, "A"), want: false},
		{name: "nested", rule: StringEquals("$.nested.value", "x", "A"), want: true},
		{name: "present", rule: IsPresent("$.nested", true, "A"), want: true},
		{name: "absent", rule: IsPresent("$.missing", false, "A"), want: true},
		{name: "present negated", rule: IsPresent("$.scan_type", false, "A"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Evaluate(doc))
		})
	}
}

func TestToFloat(t *testing.T) {
	f, ok := toFloat(3)
	assert.True(t, ok)
	assert.Equal(t, float64(3), f)

	_, ok = toFloat("3")
	assert.False(t, ok)
}
