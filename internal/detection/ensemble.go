package detection

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/entityindex/internal/canon"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/frames"
	"github.com/tphakala/entityindex/internal/logger"
)

// ErrNoDetectors is returned by Init when no originating detector is usable.
var ErrNoDetectors = errors.NewStd("detector ensemble cannot initialize")

// Recorder receives detector measurements.
type Recorder interface {
	RecordInvoke(source string, seconds float64, detections int, err error)
	RecordInit(detector string, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordInvoke(string, float64, int, error) {}
func (nopRecorder) RecordInit(string, error)                 {}

// MemberOptions controls how the ensemble schedules one detector.
type MemberOptions struct {
	Every    int  // run on frames whose index is a multiple of Every; <= 1 means every frame
	Required bool // initialization failure is fatal
}

type member struct {
	name     string
	source   Source
	impl     any
	detector Detector
	verifier Corroborator
	every    int
	required bool

	ready   bool        // initialized; guarded by Ensemble.initMu
	enabled atomic.Bool // read by running jobs while Init retries
}

func (m *member) due(index int) bool {
	return m.enabled.Load() && (m.every <= 1 || index%m.every == 0)
}

// Ensemble runs a set of detectors over frames and canonicalizes their
// output. It is shared by all jobs of a process; per job state lives in a
// Session.
type Ensemble struct {
	canon   *canon.Canonicalizer
	members []*member
	rec     Recorder
	log     logger.Logger

	initMu sync.Mutex
	ready  bool
}

// NewEnsemble creates an empty ensemble. A nil recorder discards metrics.
func NewEnsemble(c *canon.Canonicalizer, rec Recorder, log logger.Logger) *Ensemble {
	if c == nil {
		c = canon.New(nil)
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = logger.Global().Module("detection")
	}
	return &Ensemble{canon: c, rec: rec, log: log}
}

// Add registers an originating detector.
func (e *Ensemble) Add(d Detector, opts MemberOptions) {
	e.add(&member{
		name:     d.Name(),
		source:   d.Source(),
		impl:     d,
		detector: d,
		every:    opts.Every,
		required: opts.Required,
	})
}

func (e *Ensemble) add(m *member) {
	m.enabled.Store(true)
	e.members = append(e.members, m)
}

// AddCorroborator registers a detector that re-scores labels proposed by
// the other members.
func (e *Ensemble) AddCorroborator(c Corroborator, opts MemberOptions) {
	e.add(&member{
		name:     c.Name(),
		source:   c.Source(),
		impl:     c,
		verifier: c,
		every:    opts.Every,
		required: opts.Required,
	})
}

// Init initializes the members that are not ready yet. An optional member
// that fails is disabled with a warning until a later Init succeeds for it;
// a required member failing, or no originating detector surviving, is
// fatal for this call only. Once every member is ready Init returns nil
// without touching them again.
func (e *Ensemble) Init(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.ready {
		return nil
	}

	ready := true
	for _, m := range e.members {
		if m.ready {
			continue
		}
		initializer, ok := m.impl.(Initializer)
		if !ok {
			e.rec.RecordInit(m.name, nil)
			m.ready = true
			continue
		}

		start := time.Now()
		err := initializer.Init(ctx)
		e.rec.RecordInit(m.name, err)
		if err == nil {
			m.ready = true
			m.enabled.Store(true)
			e.log.Info("detector initialized",
				logger.String("detector", m.name),
				logger.String("source", string(m.source)),
				logger.Duration("duration", time.Since(start)))
			continue
		}

		ready = false
		if m.required {
			return errors.New(fmt.Errorf("required detector %s failed to initialize: %w", m.name, err)).
				Category(errors.CategoryModelInit).
				Priority(errors.PriorityHigh).
				Context("detector", m.name).
				Build()
		}
		m.enabled.Store(false)
		e.log.Warn("optional detector disabled",
			logger.String("detector", m.name),
			logger.Error(err))
	}

	if !slices.ContainsFunc(e.members, func(m *member) bool {
		return m.enabled.Load() && m.detector != nil
	}) {
		return errors.New(ErrNoDetectors).
			Category(errors.CategoryModelInit).
			Context("members", len(e.members)).
			Build()
	}
	e.ready = ready
	return nil
}

// Active returns the names of the enabled members in registration order.
func (e *Ensemble) Active() []string {
	var names []string
	for _, m := range e.members {
		if m.enabled.Load() {
			names = append(names, m.name)
		}
	}
	return names
}

// Close releases native resources held by members.
func (e *Ensemble) Close() error {
	var errs []error
	for _, m := range e.members {
		if c, ok := m.impl.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Session carries the state of one job through the ensemble: the set of
// canonical labels proposed so far, which corroborators re-score.
type Session struct {
	e          *Ensemble
	log        logger.Logger
	candidates map[string]struct{}
}

// NewSession starts per job detection state.
func (e *Ensemble) NewSession(log logger.Logger) *Session {
	if log == nil {
		log = e.log
	}
	return &Session{e: e, log: log, candidates: make(map[string]struct{})}
}

// Candidates returns the sorted set of labels proposed so far.
func (s *Session) Candidates() []string {
	return slices.Sorted(maps.Keys(s.candidates))
}

// DetectFrame runs every due member on frame. A member error is logged,
// counted and treated as no detections; it never aborts the frame.
// Returned labels are canonical with the detector's label kept in RawLabel.
func (s *Session) DetectFrame(ctx context.Context, frame frames.Frame) []Detection {
	var out []Detection

	for _, m := range s.e.members {
		if m.detector == nil || !m.due(frame.Index) {
			continue
		}
		dets := s.invoke(m, frame, func() ([]Detection, error) {
			return m.detector.Detect(ctx, frame)
		})
		for _, d := range dets {
			s.candidates[d.Label] = struct{}{}
		}
		out = append(out, dets...)
	}

	for _, m := range s.e.members {
		if m.verifier == nil || !m.due(frame.Index) || len(s.candidates) == 0 {
			continue
		}
		candidates := s.Candidates()
		out = append(out, s.invoke(m, frame, func() ([]Detection, error) {
			return m.verifier.Corroborate(ctx, frame, candidates)
		})...)
	}

	return out
}

func (s *Session) invoke(m *member, frame frames.Frame, call func() ([]Detection, error)) []Detection {
	start := time.Now()
	dets, err := call()
	if err != nil {
		s.e.rec.RecordInvoke(string(m.source), time.Since(start).Seconds(), 0, err)
		s.log.Warn("detector failed on frame",
			logger.String("detector", m.name),
			logger.Int("frame_index", frame.Index),
			logger.Error(err))
		return nil
	}

	out := s.e.canonicalize(dets, m.source)
	s.e.rec.RecordInvoke(string(m.source), time.Since(start).Seconds(), len(out), nil)
	return out
}

// canonicalize maps detector labels onto canonical labels, keeping the
// original in RawLabel and filling a missing source from the member.
func (e *Ensemble) canonicalize(dets []Detection, source Source) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		label := e.canon.Canonicalize(d.Label)
		if label == "" {
			continue
		}
		if d.RawLabel == "" {
			d.RawLabel = d.Label
		}
		d.Label = label
		if d.Source == "" {
			d.Source = source
		}
		out = append(out, d)
	}
	return out
}
