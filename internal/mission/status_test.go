package mission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusIntaken, StatusRouting, true},
		{StatusRouting, StatusContextGathering, true},
		{StatusRouting, StatusPlanning, true},
		{StatusPlanning, StatusToolExecution, true},
		{StatusSynthesis, StatusConsensusWait, true},
		{StatusArchiving, StatusCompleted, true},
		{StatusToolExecution, StatusFailed, true},
		{StatusIntaken, StatusFailed, true},
		{StatusPlanning, StatusRouting, false},
		{StatusPlanning, StatusPlanning, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusIntaken, false},
		{StatusIntaken, Status("PAUSED"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range Statuses() {
		assert.True(t, s.IsValid(), s)
		assert.Equal(t, s == StatusCompleted || s == StatusFailed, s.IsTerminal(), s)
	}
	assert.False(t, Status("").IsValid())
}
