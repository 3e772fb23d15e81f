// Package transcript extracts the audio track of a video and transcribes
// it with an OpenAI compatible speech-to-text endpoint.
package transcript

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
	"github.com/tphakala/entityindex/internal/toolexec"
)

// audioFile is the extracted track inside the work directory.
const audioFile = "audio.wav"

// Segment is one timed piece of speech.
type Segment struct {
	SegmentID int     `json:"segment_id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`
}

// Transcript is the transcript.json artifact. Error is set when
// transcription failed; the job itself still succeeds.
type Transcript struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
	Text     string    `json:"text"`
	Error    string    `json:"error,omitempty"`
}

// Failed returns the artifact recorded when transcription fails.
func Failed(err error) *Transcript {
	return &Transcript{Language: "unknown", Segments: []Segment{}, Error: err.Error()}
}

// Match is a segment containing a search term.
type Match struct {
	Start float64 `json:"start"`
	Hits  int     `json:"hits"`
	Text  string  `json:"text"`
}

// Search counts case-insensitive occurrences of query per segment.
func (t *Transcript) Search(query string) (int, []Match) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0, nil
	}
	total := 0
	var matches []Match
	for _, s := range t.Segments {
		n := strings.Count(strings.ToLower(s.Text), q)
		if n == 0 {
			continue
		}
		total += n
		matches = append(matches, Match{Start: s.Start, Hits: n, Text: s.Text})
	}
	return total, matches
}

// Transcriber turns a media file into a Transcript.
type Transcriber struct {
	client   *openai.Client
	model    string
	language string
	ffmpeg   string
	runner   toolexec.Runner
	log      logger.Logger
}

// Options configures a Transcriber.
type Options struct {
	Model      string
	Language   string // empty lets the model detect it
	FfmpegPath string
	Runner     toolexec.Runner
	Log        logger.Logger
}

// New returns a transcriber using client.
func New(client *openai.Client, opts Options) *Transcriber {
	t := &Transcriber{
		client:   client,
		model:    opts.Model,
		language: opts.Language,
		ffmpeg:   opts.FfmpegPath,
		runner:   opts.Runner,
		log:      opts.Log,
	}
	if t.model == "" {
		t.model = openai.Whisper1
	}
	if t.ffmpeg == "" {
		t.ffmpeg = "ffmpeg"
	}
	if t.runner == nil {
		t.runner = toolexec.Exec{}
	}
	if t.log == nil {
		t.log = logger.Global().Module("transcript")
	}
	return t
}

// ExtractAudio writes a 16 kHz mono PCM track of media to dst.
func (t *Transcriber) ExtractAudio(ctx context.Context, media, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", dst).Build()
	}
	_, err := t.runner.Run(ctx, t.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", media,
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le",
		dst)
	if err != nil {
		return errors.New(fmt.Errorf("audio extraction failed: %w", err)).
			Category(errors.CategoryTranscription).
			Context("media", filepath.Base(media)).
			Build()
	}
	return nil
}

// Transcribe extracts the audio of media into workDir and transcribes it.
// The intermediate wav file is removed afterwards.
func (t *Transcriber) Transcribe(ctx context.Context, media, workDir string) (*Transcript, error) {
	wav := filepath.Join(workDir, audioFile)
	if err := t.ExtractAudio(ctx, media, wav); err != nil {
		return nil, err
	}
	defer os.Remove(wav)

	start := time.Now()
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: wav,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: t.language,
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("transcription request failed: %w", err)).
			Category(errors.CategoryTranscription).
			Context("model", t.model).
			Timing("transcribe", time.Since(start)).
			Build()
	}

	out := &Transcript{Language: resp.Language, Segments: make([]Segment, 0, len(resp.Segments))}
	if out.Language == "" {
		out.Language = "unknown"
	}
	var parts []string
	for i, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		out.Segments = append(out.Segments, Segment{
			SegmentID: i,
			Start:     round3(s.Start),
			End:       round3(s.End),
			Text:      text,
		})
		if text != "" {
			parts = append(parts, text)
		}
	}
	out.Text = strings.Join(parts, " ")
	if len(resp.Segments) == 0 {
		out.Text = strings.TrimSpace(resp.Text)
	}

	t.log.Debug("transcribed audio",
		logger.String("language", out.Language),
		logger.Int("segments", len(out.Segments)),
		logger.Duration("elapsed", time.Since(start)))
	return out, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
