package frames

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
	"github.com/tphakala/entityindex/internal/toolexec"
)

const (
	framePattern = "frame_%06d.jpg"
	frameGlob    = "frame_*.jpg"

	// seekBatch caps the number of frames selected by one ffmpeg invocation
	// in the fallback path so the filter expression stays well below the
	// argument length limit.
	seekBatch = 200
)

// ErrNoFrames is returned when neither extraction path produced a frame.
var ErrNoFrames = errors.NewStd("no frames extracted")

// Sampler extracts frames from a video at a fixed interval.
type Sampler struct {
	ffmpeg   string
	ffprobe  string
	quality  int
	smart    conf.SmartSampling
	annotate bool
	runner   toolexec.Runner
	log      logger.Logger
}

// NewSampler creates a sampler from the sampling settings. A nil runner
// executes the real tools.
func NewSampler(settings *conf.SamplingSettings, runner toolexec.Runner, log logger.Logger) *Sampler {
	if runner == nil {
		runner = toolexec.Exec{Timeout: settings.Timeout}
	}
	if log == nil {
		log = logger.Global().Module("frames")
	}

	s := &Sampler{
		ffmpeg:   settings.FfmpegPath,
		ffprobe:  settings.FfprobePath,
		quality:  settings.Quality,
		smart:    settings.Smart,
		annotate: settings.Annotate,
		runner:   runner,
		log:      log,
	}
	if s.ffmpeg == "" {
		s.ffmpeg = "ffmpeg"
	}
	if s.ffprobe == "" {
		s.ffprobe = "ffprobe"
	}
	if s.quality <= 0 {
		s.quality = 2
	}
	return s
}

// AnnotationEnabled reports whether annotated copies should be written.
func (s *Sampler) AnnotationEnabled() bool {
	return s.annotate
}

// Sample writes frames of videoPath into outDir, one every intervalSec
// seconds, and returns them densely indexed. outDir is emptied first so a
// rerun never mixes frames of two runs.
func (s *Sampler) Sample(ctx context.Context, videoPath, outDir string, intervalSec int) ([]Frame, error) {
	if intervalSec <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("interval must be positive, got %d", intervalSec))
	}
	if err := resetDir(outDir); err != nil {
		return nil, err
	}

	paths, err := s.extractFPS(ctx, videoPath, outDir, intervalSec)
	if err != nil || len(paths) == 0 {
		s.log.Warn("ffmpeg fps extraction failed, falling back to frame seeking",
			logger.String("video", videoPath),
			logger.Int("frames", len(paths)),
			logger.Error(err))

		if err := resetDir(outDir); err != nil {
			return nil, err
		}
		paths, err = s.extractSeek(ctx, videoPath, outDir, intervalSec)
		if err != nil {
			return nil, errors.New(fmt.Errorf("%w: %w", ErrNoFrames, err)).
				Category(errors.CategoryFrameExtraction).
				Context("video", videoPath).
				Build()
		}
	}

	if len(paths) == 0 {
		return nil, errors.New(ErrNoFrames).
			Category(errors.CategoryFrameExtraction).
			Context("video", videoPath).
			Build()
	}

	frames := fromPaths(paths, intervalSec)
	if s.smart.Enabled {
		kept := Thin(paths, s.smart.Threshold, s.smart.MinKeep)
		if len(kept) < len(paths) {
			removeDropped(paths, kept)
			s.log.Info("smart sampling thinned frames",
				logger.Int("extracted", len(paths)),
				logger.Int("kept", len(kept)))
			frames = keepFrames(frames, kept)
		}
	}

	return frames, nil
}

// extractFPS uses ffmpeg's fps filter to emit one frame per interval.
func (s *Sampler) extractFPS(ctx context.Context, videoPath, outDir string, intervalSec int) ([]string, error) {
	_, err := s.runner.Run(ctx, s.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSec),
		"-q:v", strconv.Itoa(s.quality),
		filepath.Join(outDir, framePattern))
	if err != nil {
		return nil, err
	}
	return listFrames(outDir)
}

// extractSeek selects exact frame numbers, round(second*fps), for every
// interval boundary below the probed duration.
func (s *Sampler) extractSeek(ctx context.Context, videoPath, outDir string, intervalSec int) ([]string, error) {
	duration, err := s.Duration(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	fps := s.FrameRate(ctx, videoPath)

	numbers := seekFrameNumbers(duration, fps, intervalSec)
	for start := 0; start < len(numbers); start += seekBatch {
		end := min(start+seekBatch, len(numbers))
		_, err := s.runner.Run(ctx, s.ffmpeg,
			"-hide_banner", "-loglevel", "error", "-y",
			"-i", videoPath,
			"-vf", selectExpr(numbers[start:end]),
			"-vsync", "vfr",
			"-q:v", strconv.Itoa(s.quality),
			"-start_number", strconv.Itoa(start),
			filepath.Join(outDir, framePattern))
		if err != nil {
			return nil, err
		}
	}

	return listFrames(outDir)
}

// seekFrameNumbers returns the distinct frame numbers for seconds
// 0, interval, 2*interval ... below duration.
func seekFrameNumbers(duration, fps float64, intervalSec int) []int {
	if fps <= 0 {
		fps = defaultFPS
	}

	var numbers []int
	for second := 0.0; second < duration; second += float64(intervalSec) {
		n := int(math.Round(second * fps))
		if len(numbers) > 0 && numbers[len(numbers)-1] == n {
			continue
		}
		numbers = append(numbers, n)
	}
	return numbers
}

func selectExpr(numbers []int) string {
	terms := make([]string, len(numbers))
	for i, n := range numbers {
		terms[i] = fmt.Sprintf(`eq(n\,%d)`, n)
	}
	return "select=" + strings.Join(terms, "+")
}

func listFrames(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, frameGlob))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.New(fmt.Errorf("failed to clear frame directory: %w", err)).
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(fmt.Errorf("failed to create frame directory: %w", err)).
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	return nil
}

// removeDropped deletes frame files that smart sampling discarded.
func removeDropped(all, kept []string) {
	keep := make(map[string]struct{}, len(kept))
	for _, p := range kept {
		keep[p] = struct{}{}
	}
	for _, p := range all {
		if _, ok := keep[p]; !ok {
			_ = os.Remove(p)
		}
	}
}
