package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/tphakala/entityindex/internal/aggregate"
	"github.com/tphakala/entityindex/internal/artifacts"
	"github.com/tphakala/entityindex/internal/datastore"
	"github.com/tphakala/entityindex/internal/detection"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/frames"
	"github.com/tphakala/entityindex/internal/logger"
	"github.com/tphakala/entityindex/internal/transcript"
)

// ErrTranscriptionDisabled is recorded in transcript.json when no
// transcriber is configured.
var ErrTranscriptionDisabled = errors.NewStd("transcription disabled")

// FrameSampler extracts frames and probes duration.
type FrameSampler interface {
	Sample(ctx context.Context, videoPath, outDir string, intervalSec int) ([]frames.Frame, error)
	Duration(ctx context.Context, videoPath string) (float64, error)
	AnnotationEnabled() bool
}

// Detectors is the shared detector ensemble.
type Detectors interface {
	Init(ctx context.Context) error
	NewSession(log logger.Logger) *detection.Session
}

// Transcriber produces the transcript of a media file.
type Transcriber interface {
	Transcribe(ctx context.Context, media, workDir string) (*transcript.Transcript, error)
}

// LabelIndexer receives the entity labels of finished jobs.
type LabelIndexer interface {
	Update(ctx context.Context, labels []string) error
}

// Recorder receives job metrics.
type Recorder interface {
	JobStarted()
	JobFinished(status string, seconds float64)
	RecordStage(stage string, seconds float64)
	RecordResult(frames, entities int)
}

type nopRecorder struct{}

func (nopRecorder) JobStarted()                 {}
func (nopRecorder) JobFinished(string, float64) {}
func (nopRecorder) RecordStage(string, float64) {}
func (nopRecorder) RecordResult(int, int)       {}

// Deps are the collaborators of an Orchestrator. Transcriber, Index and
// Recorder are optional.
type Deps struct {
	Store       Updater
	Layout      *artifacts.Layout
	Sampler     FrameSampler
	Detectors   Detectors
	Aggregator  *aggregate.Aggregator
	Transcriber Transcriber
	Index       LabelIndexer
	Recorder    Recorder
	Log         logger.Logger
}

// Orchestrator drives one video through sampling, transcription,
// detection, aggregation and indexing, persisting state as it goes.
// It is safe for concurrent use by several workers.
type Orchestrator struct {
	Deps
}

// NewOrchestrator returns an orchestrator over deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Log == nil {
		deps.Log = logger.Global().Module("jobs")
	}
	if deps.Aggregator == nil {
		deps.Aggregator = aggregate.New(aggregate.DefaultOptions())
	}
	return &Orchestrator{Deps: deps}
}

// ProcessVideo runs the whole pipeline for task. Failures and panics are
// recorded on the job row and nil is returned. Only a cancelled ctx is
// reported back, leaving the row in processing for startup recovery.
func (o *Orchestrator) ProcessVideo(ctx context.Context, task Task) (err error) {
	ctx = logger.WithTraceID(ctx, task.JobID)
	start := time.Now()
	log := o.Log.With(logger.String("job_id", task.JobID))
	p := newProgressReporter(o.Store, task.JobID)
	outcome := "completed"

	o.Recorder.JobStarted()
	defer func() {
		if r := recover(); r != nil {
			outcome = "failed"
			o.fail(ctx, p, log, fmt.Errorf("panic: %v", r), debug.Stack())
			err = nil
		}
		o.Recorder.JobFinished(outcome, time.Since(start).Seconds())
	}()

	runErr := o.run(ctx, task, p, log)
	switch {
	case runErr == nil:
		log.Info("job completed", logger.Duration("elapsed", time.Since(start)))
	case ctx.Err() != nil:
		outcome = "interrupted"
		log.Warn("job interrupted", logger.Error(runErr))
		return ctx.Err()
	default:
		outcome = "failed"
		o.fail(ctx, p, log, runErr, failureTrace(runErr))
	}
	return nil
}

// failureTrace points at where runErr was raised. Errors built without
// the errors package carry no stack, so the current one stands in.
func failureTrace(runErr error) []byte {
	if trace := errors.Trace(runErr); trace != "" {
		return []byte(trace)
	}
	return debug.Stack()
}

// fail marks the job failed with the error message and a stack trace.
func (o *Orchestrator) fail(ctx context.Context, p *progressReporter, log logger.Logger, cause error, stack []byte) {
	log.Error("job failed", logger.Error(cause))
	msg := cause.Error() + "\n" + string(stack)
	err := p.set(context.WithoutCancel(ctx), datastore.StatusFailed, datastore.StageFailed, progressDone,
		datastore.Fields{datastore.ColError: msg})
	if err != nil {
		log.Error("failed to record job failure", logger.Error(err))
	}
}

func (o *Orchestrator) run(ctx context.Context, task Task, p *progressReporter, log logger.Logger) error {
	id := task.JobID

	// frames
	if err := p.set(ctx, datastore.StatusProcessing, datastore.StageExtractingFrames, progressExtracting,
		datastore.Fields{datastore.ColError: ""}); err != nil {
		return err
	}
	stageStart := time.Now()
	framesDir := o.Layout.FramesDir(id)
	sampled, err := o.Sampler.Sample(ctx, task.VideoPath, framesDir, task.IntervalSec)
	if err != nil {
		return err
	}
	duration, err := o.Sampler.Duration(ctx, task.VideoPath)
	if err != nil || duration <= 0 {
		duration = float64(len(sampled) * task.IntervalSec)
		log.Warn("duration probe failed, estimating from frames",
			logger.Float64("duration_sec", duration),
			logger.Error(err))
	}
	o.Recorder.RecordStage(string(datastore.StageExtractingFrames), time.Since(stageStart).Seconds())
	log.Info("frames extracted",
		logger.Int("frames", len(sampled)),
		logger.Float64("duration_sec", duration))

	// transcript
	if err := p.set(ctx, datastore.StatusProcessing, datastore.StageTranscribingAudio, progressTranscribing,
		datastore.Fields{
			datastore.ColFramesAnalyzed: len(sampled),
			datastore.ColDurationSec:    duration,
			datastore.ColFramesPath:     framesDir,
		}); err != nil {
		return err
	}
	stageStart = time.Now()
	transcriptPath, err := o.transcribe(ctx, task, log)
	if err != nil {
		return err
	}
	o.Recorder.RecordStage(string(datastore.StageTranscribingAudio), time.Since(stageStart).Seconds())

	// detection
	if err := o.Detectors.Init(ctx); err != nil {
		return err
	}
	if err := p.set(ctx, datastore.StatusProcessing, datastore.StageDetectingEntities, progressDetecting,
		datastore.Fields{datastore.ColTranscriptPath: transcriptPath}); err != nil {
		return err
	}
	stageStart = time.Now()
	results, annotated, err := o.detect(ctx, id, sampled, p, log)
	if err != nil {
		return err
	}
	o.Recorder.RecordStage(string(datastore.StageDetectingEntities), time.Since(stageStart).Seconds())

	// aggregation
	if err := p.set(ctx, datastore.StatusProcessing, datastore.StageAggregatingReport, progressAggregating, nil); err != nil {
		return err
	}
	stageStart = time.Now()
	report := o.Aggregator.Aggregate(results, duration, task.IntervalSec)
	entitiesJSON, err := json.Marshal(report.Entities)
	if err != nil {
		return errors.New(err).Component("jobs").Category(errors.CategoryAggregation).Build()
	}
	if err := artifacts.WriteJSON(o.Layout.ReportPath(id), report); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(o.Layout.FramesIndexPath(id), artifacts.BuildFramesIndex(results, annotated)); err != nil {
		return err
	}
	o.Recorder.RecordStage(string(datastore.StageAggregatingReport), time.Since(stageStart).Seconds())

	// indexing
	if err := p.set(ctx, datastore.StatusProcessing, datastore.StageIndexingSearch, progressIndexing,
		datastore.Fields{
			datastore.ColUniqueEntities: report.UniqueEntities,
			datastore.ColEntitiesJSON:   string(entitiesJSON),
			datastore.ColReportPath:     o.Layout.ReportPath(id),
		}); err != nil {
		return err
	}
	stageStart = time.Now()
	if o.Index != nil {
		if err := o.Index.Update(ctx, report.Labels()); err != nil {
			log.Warn("label index update failed", logger.Error(err))
		}
	}
	o.Recorder.RecordStage(string(datastore.StageIndexingSearch), time.Since(stageStart).Seconds())

	if err := p.set(ctx, datastore.StatusCompleted, datastore.StageCompleted, progressDone, nil); err != nil {
		return err
	}
	o.Recorder.RecordResult(report.FramesAnalyzed, report.UniqueEntities)
	log.Info("entity report written",
		logger.Int("frames_analyzed", report.FramesAnalyzed),
		logger.Int("unique_entities", report.UniqueEntities))
	return nil
}

// transcribe writes transcript.json. A transcription failure is stored in
// the document instead of failing the job.
func (o *Orchestrator) transcribe(ctx context.Context, task Task, log logger.Logger) (string, error) {
	media := task.VideoPath
	if task.VoicePath != "" {
		media = task.VoicePath
	}

	var doc *transcript.Transcript
	if o.Transcriber == nil {
		doc = transcript.Failed(ErrTranscriptionDisabled)
	} else {
		t, err := o.Transcriber.Transcribe(ctx, media, o.Layout.ReportsDir(task.JobID))
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warn("transcription failed, continuing without transcript",
				logger.String("media", filepath.Base(media)),
				logger.Error(err))
			t = transcript.Failed(err)
		}
		doc = t
	}

	path := o.Layout.TranscriptPath(task.JobID)
	if err := artifacts.WriteJSON(path, doc); err != nil {
		return "", err
	}
	return path, nil
}

// detect runs the ensemble over every frame in order, annotating frames
// when enabled. Progress is written every few frames and on the last one.
func (o *Orchestrator) detect(ctx context.Context, id string, sampled []frames.Frame, p *progressReporter, log logger.Logger) ([]detection.FrameDetections, map[int]string, error) {
	session := o.Detectors.NewSession(log)
	annotate := o.Sampler.AnnotationEnabled()
	annotatedDir := o.Layout.AnnotatedDir(id)

	results := make([]detection.FrameDetections, 0, len(sampled))
	annotated := make(map[int]string)
	n := len(sampled)

	for i, frame := range sampled {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		dets := session.DetectFrame(ctx, frame)
		results = append(results, detection.FrameDetections{Frame: frame, Detections: dets})

		if annotate && len(dets) > 0 {
			name := frame.Filename()
			if err := frames.Annotate(frame.Path, filepath.Join(annotatedDir, name), toBoxes(dets)); err != nil {
				log.Warn("frame annotation failed",
					logger.Int("frame_index", frame.Index),
					logger.Error(err))
			} else {
				annotated[frame.Index] = name
			}
		}

		if (i+1)%progressEvery == 0 || i == n-1 {
			if err := p.set(ctx, datastore.StatusProcessing, datastore.StageDetectingEntities,
				detectionProgress(i, n), nil); err != nil {
				return nil, nil, err
			}
		}
	}
	return results, annotated, nil
}

func toBoxes(dets []detection.Detection) []frames.Box {
	boxes := make([]frames.Box, 0, len(dets))
	for _, d := range dets {
		b := frames.Box{Label: d.Label, Confidence: d.Confidence}
		if d.BBox != nil {
			r := image.Rect(int(d.BBox.X1), int(d.BBox.Y1), int(d.BBox.X2), int(d.BBox.Y2))
			b.Rect = &r
		}
		boxes = append(boxes, b)
	}
	return boxes
}
