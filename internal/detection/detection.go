// Package detection defines the detector contract and the ensemble that
// runs heterogeneous detectors over sampled frames.
package detection

import (
	"context"
	"math"
	"strings"

	"github.com/tphakala/entityindex/internal/frames"
)

// Source identifies the detector variant that produced a detection.
type Source string

const (
	SourceObject    Source = "object"
	SourceOpenVocab Source = "open_vocab"
	SourceDiscovery Source = "discovery"
	SourceOCR       Source = "ocr"
	SourceVerify    Source = "verify"
)

// ParseSource maps a stored source name onto a Source. Legacy names from
// older frame indexes are accepted; an empty name means the object detector.
func ParseSource(name string) Source {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "object", "yolo":
		return SourceObject
	case "open_vocab", "clip":
		return SourceOpenVocab
	case "discovery":
		return SourceDiscovery
	case "ocr":
		return SourceOCR
	case "verify":
		return SourceVerify
	default:
		return Source(name)
	}
}

// BBox is a pixel bounding box.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is one observation of a label on one frame by one detector.
// Label holds the canonical form once the ensemble has processed it;
// RawLabel keeps what the detector emitted.
type Detection struct {
	Label      string  `json:"label"`
	RawLabel   string  `json:"raw_label"`
	Confidence float64 `json:"confidence"`
	BBox       *BBox   `json:"bbox,omitempty"`
	Source     Source  `json:"source"`
}

// FrameDetections pairs a frame with everything detected on it.
type FrameDetections struct {
	Frame      frames.Frame
	Detections []Detection
}

// Detector is the capability every detector variant implements.
// Detect must return a nil error with an empty slice when nothing is found.
type Detector interface {
	Name() string
	Source() Source
	Detect(ctx context.Context, frame frames.Frame) ([]Detection, error)
}

// Initializer is implemented by detectors that load a model before use.
// Init must be safe to call more than once.
type Initializer interface {
	Init(ctx context.Context) error
}

// Corroborator re-scores labels already proposed by other detectors rather
// than originating new ones.
type Corroborator interface {
	Name() string
	Source() Source
	Corroborate(ctx context.Context, frame frames.Frame, candidates []string) ([]Detection, error)
}

// Closer is implemented by detectors holding native resources.
type Closer interface {
	Close() error
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
