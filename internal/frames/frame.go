// Package frames samples still frames from a video for detection.
package frames

import (
	"path/filepath"
)

// Frame is one sampled still. Index is dense and zero-based per job and is
// the only key downstream stages use; TimestampSec is derived from it.
type Frame struct {
	Index        int
	TimestampSec float64
	Path         string
}

// Filename returns the base name of the frame image.
func (f Frame) Filename() string {
	return filepath.Base(f.Path)
}

// keepFrames returns the frames whose path is in kept, renumbered densely.
// Timestamps stay those of the original extraction.
func keepFrames(frames []Frame, kept []string) []Frame {
	keep := make(map[string]struct{}, len(kept))
	for _, p := range kept {
		keep[p] = struct{}{}
	}
	out := make([]Frame, 0, len(kept))
	for _, f := range frames {
		if _, ok := keep[f.Path]; !ok {
			continue
		}
		f.Index = len(out)
		out = append(out, f)
	}
	return out
}

// fromPaths numbers paths densely and assigns timestamps of index*interval.
func fromPaths(paths []string, intervalSec int) []Frame {
	out := make([]Frame, len(paths))
	for i, p := range paths {
		out[i] = Frame{
			Index:        i,
			TimestampSec: float64(i * intervalSec),
			Path:         p,
		}
	}
	return out
}
