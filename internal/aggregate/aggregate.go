// Package aggregate fuses per-frame detections from several sources into one
// record per canonical entity.
package aggregate

import (
	"math"
	"slices"

	"github.com/tphakala/entityindex/internal/detection"
)

// rangeEpsilon absorbs float drift when comparing timestamp gaps.
const rangeEpsilon = 1e-6

// Fusion weights.
const (
	presenceWeight = 0.7
	sourceWeight   = 0.2
	ocrBonus       = 0.1
	defaultWeight  = 0.3
)

// SourceWeights is the per-source reliability table. OCR markers are the
// least noisy signal, caption discovery the most speculative.
var SourceWeights = map[detection.Source]float64{
	detection.SourceObject:    0.6,
	detection.SourceVerify:    0.7,
	detection.SourceOpenVocab: 0.55,
	detection.SourceDiscovery: 0.4,
	detection.SourceOCR:       0.8,
}

// Options configures run-length filtering and the output cut-off.
type Options struct {
	MinRun          int     // object, ocr, verify and unknown sources
	OpenVocabMinRun int
	DiscoveryMinRun int
	MinScore        float64 // entities with a lower confidence are dropped
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{MinRun: 2, OpenVocabMinRun: 2, DiscoveryMinRun: 2, MinScore: 0.2}
}

func (o Options) minRunFor(src detection.Source) int {
	var n int
	switch src {
	case detection.SourceOpenVocab:
		n = o.OpenVocabMinRun
	case detection.SourceDiscovery:
		n = o.DiscoveryMinRun
	default:
		n = o.MinRun
	}
	return max(n, 1)
}

// TimeRange is a contiguous span in which an entity was seen.
type TimeRange struct {
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	StartLabel string  `json:"start_label"`
	EndLabel   string  `json:"end_label"`
}

// EntityRecord summarizes one canonical entity across the video.
type EntityRecord struct {
	Label           string             `json:"label"`
	Count           int                `json:"count"`
	Presence        float64            `json:"presence"`
	Appearances     int                `json:"appearances"`
	TimeRanges      []TimeRange        `json:"time_ranges"`
	RawCount        int                `json:"raw_count"`
	ConfidenceScore float64            `json:"confidence_score"`
	Sources         []detection.Source `json:"sources"`
}

// Report is the entity report for one job.
type Report struct {
	DurationSec    float64                 `json:"duration_sec"`
	IntervalSec    int                     `json:"interval_sec"`
	FramesAnalyzed int                     `json:"frames_analyzed"`
	UniqueEntities int                     `json:"unique_entities"`
	Entities       map[string]EntityRecord `json:"entities"`
}

// Labels returns the entity labels in sorted order.
func (r *Report) Labels() []string {
	labels := make([]string, 0, len(r.Entities))
	for label := range r.Entities {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	return labels
}

// Aggregator turns per-frame detections into a Report. It holds no per-job
// state and is safe for concurrent use.
type Aggregator struct {
	opts    Options
	weights map[detection.Source]float64
}

// New returns an Aggregator using opts and the stock source weights.
func New(opts Options) *Aggregator {
	return &Aggregator{opts: opts, weights: SourceWeights}
}

// Aggregate builds the report. frames must be ordered by index with dense
// zero-based indices; durationSec is reported as-is.
func (a *Aggregator) Aggregate(frames []detection.FrameDetections, durationSec float64, intervalSec int) Report {
	total := len(frames)
	timestamps := make(map[int]float64, total)

	// label -> source -> frame indices, one entry per frame
	hits := make(map[string]map[detection.Source][]int)
	for _, fd := range frames {
		timestamps[fd.Frame.Index] = fd.Frame.TimestampSec

		present := make(map[string]map[detection.Source]struct{})
		for _, det := range fd.Detections {
			if det.Label == "" {
				continue
			}
			src := det.Source
			if src == "" {
				src = detection.SourceObject
			}
			if present[det.Label] == nil {
				present[det.Label] = make(map[detection.Source]struct{})
			}
			present[det.Label][src] = struct{}{}
		}
		for label, sources := range present {
			if hits[label] == nil {
				hits[label] = make(map[detection.Source][]int)
			}
			for src := range sources {
				hits[label][src] = append(hits[label][src], fd.Frame.Index)
			}
		}
	}

	entities := make(map[string]EntityRecord)
	for label, bySource := range hits {
		raw := make(map[int]struct{})
		kept := make(map[int]struct{})
		sources := make([]detection.Source, 0, len(bySource))
		for src, indices := range bySource {
			sources = append(sources, src)
			for _, i := range indices {
				raw[i] = struct{}{}
			}
			for _, i := range FilterRuns(indices, a.opts.minRunFor(src)) {
				kept[i] = struct{}{}
			}
		}
		if len(kept) == 0 {
			continue
		}
		slices.Sort(sources)

		keptIdx := make([]int, 0, len(kept))
		for i := range kept {
			keptIdx = append(keptIdx, i)
		}
		slices.Sort(keptIdx)

		times := make([]float64, len(keptIdx))
		for n, i := range keptIdx {
			times[n] = timestamps[i]
		}

		count := len(keptIdx)
		presence := 0.0
		if total > 0 {
			presence = float64(count) / float64(total)
		}

		// Filtered-out sources still count towards the score; they hit the
		// label even if only sporadically.
		sourceScore, bonus := a.sourceScore(sources)
		confidence := math.Min(1, presence*presenceWeight+sourceScore*sourceWeight+bonus)
		if confidence < a.opts.MinScore {
			continue
		}

		entities[label] = EntityRecord{
			Label:           label,
			Count:           count,
			Presence:        round(presence, 4),
			Appearances:     count,
			TimeRanges:      MergeTimeRanges(times, intervalSec),
			RawCount:        len(raw),
			ConfidenceScore: round(confidence, 4),
			Sources:         sources,
		}
	}

	return Report{
		DurationSec:    round(durationSec, 2),
		IntervalSec:    intervalSec,
		FramesAnalyzed: total,
		UniqueEntities: len(entities),
		Entities:       entities,
	}
}

func (a *Aggregator) sourceScore(sources []detection.Source) (score, bonus float64) {
	for _, src := range sources {
		w, ok := a.weights[src]
		if !ok {
			w = defaultWeight
		}
		score = math.Max(score, w)
		if src == detection.SourceOCR {
			bonus = ocrBonus
		}
	}
	return score, bonus
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
