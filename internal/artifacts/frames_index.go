package artifacts

import (
	"github.com/tphakala/entityindex/internal/detection"
)

// FrameEntry is one frame in frames.json.
type FrameEntry struct {
	FrameIndex        int                   `json:"frame_index"`
	TimestampSec      float64               `json:"timestamp_sec"`
	Filename          string                `json:"filename"`
	AnnotatedFilename string                `json:"annotated_filename,omitempty"`
	Detections        []detection.Detection `json:"detections"`
}

// FramesIndex is the per-frame detection listing of one job.
type FramesIndex struct {
	Frames []FrameEntry `json:"frames"`
}

// BuildFramesIndex lists frames in index order with their canonicalized
// detections. annotated maps frame index to the annotated file name.
func BuildFramesIndex(frames []detection.FrameDetections, annotated map[int]string) FramesIndex {
	idx := FramesIndex{Frames: make([]FrameEntry, len(frames))}
	for i, fd := range frames {
		dets := fd.Detections
		if dets == nil {
			dets = []detection.Detection{}
		}
		idx.Frames[i] = FrameEntry{
			FrameIndex:        fd.Frame.Index,
			TimestampSec:      fd.Frame.TimestampSec,
			Filename:          fd.Frame.Filename(),
			AnnotatedFilename: annotated[fd.Frame.Index],
			Detections:        dets,
		}
	}
	return idx
}

// Page returns one page of entries; page numbers start at 1.
func (f FramesIndex) Page(page, pageSize int) []FrameEntry {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	start := (page - 1) * pageSize
	if start >= len(f.Frames) {
		return []FrameEntry{}
	}
	end := min(start+pageSize, len(f.Frames))
	return f.Frames[start:end]
}
