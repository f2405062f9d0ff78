package jobrunner

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobResult_Decode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    any
		wantErr bool
	}{
		{name: "object", payload: `{"findings":[1,2]}`, want: map[string]any{"findings": []any{float64(1), float64(2)}}},
		{name: "array", payload: `[1]`, want: []any{float64(1)}},
		{name: "empty", payload: "", want: nil},
		{name: "whitespace", payload: "  \n", want: nil},
		{name: "invalid", payload: "not json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&JobResult{Payload: []byte(tt.payload)}).Decode()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsClass(err, ClassInvalidPayload))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJobSpec_Validate(t *testing.T) {
	assert.NoError(t, JobSpec{Name: "j", Image: "img"}.Validate())
	assert.Error(t, JobSpec{Image: "img"}.Validate())
	assert.Error(t, JobSpec{Name: "j"}.Validate())
	assert.Error(t, JobSpec{Name: "j", Image: "img", Limits: Limits{CPU: -1}}.Validate())
}

func TestError(t *testing.T) {
	spec := JobSpec{Name: "m1-critic", Image: "hive/critic"}

	err := exitError(spec, &JobResult{ExitCode: 3})
	require.Error(t, err)
	assert.Equal(t, "job m1-critic: exited with code 3", err.Error())
	assert.True(t, IsClass(fmt.Errorf("wrapped: %w", err), ClassNonZeroExit))

	var jerr *Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, ClassNonZeroExit, jerr.ErrorClass())
	assert.Equal(t, 3, jerr.ExitCode)

	assert.NoError(t, exitError(spec, &JobResult{ExitCode: 0}))

	cause := errors.New("image not found")
	launch := &Error{Class: ClassLaunchFailed, Job: "j", Message: "failed to run container", Cause: cause}
	assert.ErrorIs(t, launch, cause)
	assert.Equal(t, "job j: failed to run container: image not found", launch.Error())
}

func TestLastJSONLine(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{name: "single", output: `{"a":1}`, want: `{"a":1}`},
		{name: "after logs", output: "starting\n{\"a\":1}\ndone\n", want: `{"a":1}`},
		{name: "last wins", output: "{\"a\":1}\n[2]\n", want: `[2]`},
		{name: "skips invalid", output: "{\"a\":1}\n{broken\n", want: `{"a":1}`},
		{name: "none", output: "plain text\n", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(lastJSONLine([]byte(tt.output))))
		})
	}
}
