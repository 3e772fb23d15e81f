package aggregate

import (
	"fmt"
	"math"
	"slices"
)

// FilterRuns keeps the indices that belong to a run of at least minRun
// consecutive integers. Duplicates are ignored; the result is sorted.
func FilterRuns(indices []int, minRun int) []int {
	if len(indices) == 0 {
		return nil
	}
	sorted := slices.Clone(indices)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var kept []int
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && sorted[i] == sorted[i-1]+1 {
			continue
		}
		if i-start >= minRun {
			kept = append(kept, sorted[start:i]...)
		}
		start = i
	}
	return kept
}

// MergeTimeRanges merges sorted timestamps whose gap is at most intervalSec
// into contiguous ranges.
func MergeTimeRanges(timestamps []float64, intervalSec int) []TimeRange {
	if len(timestamps) == 0 {
		return []TimeRange{}
	}
	ts := slices.Clone(timestamps)
	slices.Sort(ts)

	limit := float64(intervalSec) + rangeEpsilon
	var ranges []TimeRange
	start, end := ts[0], ts[0]
	for _, t := range ts[1:] {
		if t-end <= limit {
			end = t
			continue
		}
		ranges = append(ranges, newRange(start, end))
		start, end = t, t
	}
	return append(ranges, newRange(start, end))
}

func newRange(start, end float64) TimeRange {
	return TimeRange{
		StartSec:   start,
		EndSec:     end,
		StartLabel: FormatTimestamp(start),
		EndLabel:   FormatTimestamp(end),
	}
}

// FormatTimestamp renders seconds as MM:SS, rounding half to even.
func FormatTimestamp(seconds float64) string {
	total := int(math.RoundToEven(seconds))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
