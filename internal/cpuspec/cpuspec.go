// Package cpuspec picks interpreter thread counts for the host CPU. On
// hybrid parts only performance cores are counted.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec describes the host processor.
type CPUSpec struct {
	BrandName        string
	PhysicalCores    int
	LogicalCores     int
	PerformanceCores int // 0 when unknown or not a hybrid part
}

var (
	intelCorePattern  = regexp.MustCompile(`core.*i[3579]-(1[234]\d{2})`)
	intelUltraPattern = regexp.MustCompile(`core.*ultra\s+[579]\s+(?:processor\s+)?(\d{3})`)
	applePattern      = regexp.MustCompile(`apple\s+(m[1-4](?:\s+(?:pro|max|ultra))?)`)

	// performance cores keyed on the first four model digits
	intelPCores = map[string]int{
		"1290": 8, "1270": 8, "1260": 6, "1240": 6, "1210": 4,
		"1390": 8, "1370": 8, "1360": 6, "1350": 6, "1340": 6, "1310": 4,
		"1490": 8, "1470": 8, "1460": 6, "1440": 6, "1410": 4,
	}
	intelUltraPCores = map[string]int{"285": 8, "265": 8, "255": 8, "245": 6, "235": 6, "225": 4}
	applePCores      = map[string]int{
		"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
		"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
		"m3": 4, "m3 pro": 6, "m3 max": 12, "m3 ultra": 24,
		"m4": 4, "m4 pro": 10, "m4 max": 12,
	}
)

// Get returns the spec of the host CPU.
func Get() CPUSpec {
	return CPUSpec{
		BrandName:        cpuid.CPU.BrandName,
		PhysicalCores:    cpuid.CPU.PhysicalCores,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PerformanceCores: performanceCores(cpuid.CPU.BrandName),
	}
}

// InferenceThreads returns the thread count for a tflite interpreter,
// never more than the CPUs available to the process.
func (c CPUSpec) InferenceThreads() int {
	available := runtime.NumCPU()
	n := c.PerformanceCores
	if n <= 0 {
		n = c.PhysicalCores
	}
	if n <= 0 {
		n = available
	}
	return max(min(n, available), 1)
}

func performanceCores(brand string) int {
	brand = strings.ToLower(brand)
	if m := intelCorePattern.FindStringSubmatch(brand); m != nil {
		return intelPCores[m[1]]
	}
	if m := intelUltraPattern.FindStringSubmatch(brand); m != nil {
		return intelUltraPCores[m[1]]
	}
	if m := applePattern.FindStringSubmatch(brand); m != nil {
		return applePCores[m[1]]
	}
	return 0
}
