package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladiki/Lean/internal/results/configuration"
)

func TestApplySimulationFlags(t *testing.T) {
	defaults := configuration.SimulationConfig{
		UserId:       1,
		ProjectId:    1,
		PeriodStart:  time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC),
		PeriodFinish: time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	tests := map[string]struct {
		args     []string
		expected configuration.SimulationConfig
		err      bool
	}{
		"no flags": {
			expected: defaults,
		},
		"period": {
			args: []string{"--start", "2020-03-01", "--end", "2020-04-01"},
			expected: configuration.SimulationConfig{
				UserId:       1,
				ProjectId:    1,
				PeriodStart:  time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
				PeriodFinish: time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		"identity": {
			args: []string{"--user", "7", "--project", "9"},
			expected: configuration.SimulationConfig{
				UserId:       7,
				ProjectId:    9,
				PeriodStart:  defaults.PeriodStart,
				PeriodFinish: defaults.PeriodFinish,
			},
		},
		"end before start": {
			args: []string{"--end", "2020-01-01"},
			err:  true,
		},
		"bad date": {
			args: []string{"--start", "yesterday"},
			err:  true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cmd := simulateCmd()
			require.NoError(t, cmd.ParseFlags(tc.args))
			config := defaults
			err := applySimulationFlags(cmd.Flags(), &config)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, config)
		})
	}
}

func TestVersion(t *testing.T) {
	cmd := versionCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Contains(t, out.String(), "Version:")
	assert.Contains(t, out.String(), "Go version:")
}
