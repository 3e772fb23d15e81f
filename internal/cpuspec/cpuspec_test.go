package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceCores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		brand string
		want  int
	}{
		{"12th Gen Intel(R) Core(TM) i7-12700K", 8},
		{"13th Gen Intel(R) Core(TM) i5-13400F", 6},
		{"Intel(R) Core(TM) Ultra 7 265K", 8},
		{"Intel(R) Core(TM) Ultra 5 processor 225", 4},
		{"Apple M2 Max", 12},
		{"Apple M1", 4},
		{"AMD Ryzen 9 7950X 16-Core Processor", 0},
		{"Intel(R) Core(TM) i7-9700K CPU @ 3.60GHz", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.brand, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, performanceCores(tt.brand))
		})
	}
}

func TestInferenceThreads(t *testing.T) {
	t.Parallel()

	available := runtime.NumCPU()
	assert.Equal(t, min(4, available), CPUSpec{PerformanceCores: 4, PhysicalCores: 16}.InferenceThreads())
	assert.Equal(t, min(2, available), CPUSpec{PhysicalCores: 2}.InferenceThreads())
	assert.Equal(t, available, CPUSpec{}.InferenceThreads())
	assert.Equal(t, available, CPUSpec{PhysicalCores: available * 4}.InferenceThreads())
	assert.GreaterOrEqual(t, Get().InferenceThreads(), 1)
}
