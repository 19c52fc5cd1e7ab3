package sysinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeAlwaysReturnsUsableSpecs(t *testing.T) {
	specs := Probe()

	assert.GreaterOrEqual(t, specs.CPUCores, 1)
	assert.NotEmpty(t, specs.CPUModel)
	assert.Greater(t, specs.RAMGb, 0.0)
}

func TestProcCPUModel(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name: "linux cpuinfo",
			content: "processor\t: 0\nvendor_id\t: GenuineIntel\n" +
				"model name\t: Intel(R) Core(TM) i7-9750H CPU @ 2.60GHz\n",
			expected: "Intel(R) Core(TM) i7-9750H CPU @ 2.60GHz",
		},
		{
			name:     "no model line",
			content:  "processor\t: 0\n",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cpuinfo")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			assert.Equal(t, tt.expected, procCPUModel(path))
		})
	}
}

func TestProcMemTotalGb(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(path,
		[]byte("MemTotal:       16384000 kB\nMemFree:         1024000 kB\n"), 0644))

	gb := procMemTotalGb(path)
	assert.InDelta(t, 15.63, gb, 0.011)
}

func TestProcMemTotalGbMissingFile(t *testing.T) {
	assert.Zero(t, procMemTotalGb(filepath.Join(t.TempDir(), "nope")))
}

func TestRoundGb(t *testing.T) {
	assert.Equal(t, 15.62, roundGb(15.6237))
	assert.Equal(t, 4.0, roundGb(4.0))
}
