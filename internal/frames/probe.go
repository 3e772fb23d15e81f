package frames

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
)

// defaultFPS is assumed when the container reports no usable frame rate.
const defaultFPS = 25.0

// Duration returns the length of the video in seconds using ffprobe.
func (s *Sampler) Duration(ctx context.Context, videoPath string) (float64, error) {
	if videoPath == "" {
		return 0, errors.ValidationError("video path cannot be empty")
	}

	// -show_entries format=duration: only the container duration
	// -of default=noprint_wrappers=1:nokey=1: bare value
	out, err := s.runner.Run(ctx, s.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)
	if err != nil {
		return 0, err
	}

	value := strings.TrimSpace(string(out))
	if value == "" || value == "N/A" {
		return 0, errors.Newf("ffprobe could not determine duration for file: %s", videoPath).
			Category(errors.CategoryFrameExtraction).
			Build()
	}

	duration, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.New(fmt.Errorf("failed to parse duration %q: %w", value, err)).
			Category(errors.CategoryFileParsing).
			Build()
	}
	if duration <= 0 {
		return 0, errors.Newf("invalid duration %v for file: %s", duration, videoPath).
			Category(errors.CategoryFrameExtraction).
			Build()
	}

	return duration, nil
}

// FrameRate returns the average frame rate of the first video stream.
// Missing, zero or unparsable rates fall back to 25 fps.
func (s *Sampler) FrameRate(ctx context.Context, videoPath string) float64 {
	out, err := s.runner.Run(ctx, s.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)
	if err != nil {
		s.log.Debug("frame rate probe failed, using default",
			logger.String("path", videoPath),
			logger.Error(err))
		return defaultFPS
	}

	fps := parseRate(strings.TrimSpace(string(out)))
	if fps <= 0 {
		return defaultFPS
	}
	return fps
}

// parseRate parses ffprobe rationals such as "30000/1001" or plain numbers.
func parseRate(value string) float64 {
	if value == "" || value == "N/A" {
		return 0
	}

	num, den, found := strings.Cut(value, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}

	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
