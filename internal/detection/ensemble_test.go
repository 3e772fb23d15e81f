package detection

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/frames"
	"github.com/tphakala/entityindex/internal/logger"
)

// MockDetector is a testify mock of Detector and Initializer.
type MockDetector struct {
	mock.Mock
	name   string
	source Source
}

func (m *MockDetector) Name() string   { return m.name }
func (m *MockDetector) Source() Source { return m.source }

func (m *MockDetector) Init(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDetector) Detect(ctx context.Context, frame frames.Frame) ([]Detection, error) {
	args := m.Called(ctx, frame)
	dets, _ := args.Get(0).([]Detection)
	return dets, args.Error(1)
}

// staticDetector returns the same labels on every frame it sees.
type staticDetector struct {
	name   string
	source Source
	labels []string
	seen   []int
}

func (s *staticDetector) Name() string   { return s.name }
func (s *staticDetector) Source() Source { return s.source }

func (s *staticDetector) Detect(_ context.Context, frame frames.Frame) ([]Detection, error) {
	s.seen = append(s.seen, frame.Index)
	out := make([]Detection, len(s.labels))
	for i, l := range s.labels {
		out[i] = Detection{Label: l, Confidence: 0.9}
	}
	return out, nil
}

type recordingVerifier struct {
	calls [][]string
}

func (r *recordingVerifier) Name() string   { return "verify" }
func (r *recordingVerifier) Source() Source { return SourceVerify }

func (r *recordingVerifier) Corroborate(_ context.Context, _ frames.Frame, candidates []string) ([]Detection, error) {
	r.calls = append(r.calls, candidates)
	return []Detection{{Label: candidates[0], Confidence: 0.3}}, nil
}

type countingRecorder struct {
	mu      sync.Mutex
	invokes map[string]int
	errs    map[string]int
	inits   map[string]error
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{invokes: map[string]int{}, errs: map[string]int{}, inits: map[string]error{}}
}

func (c *countingRecorder) RecordInvoke(source string, _ float64, _ int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invokes[source]++
	if err != nil {
		c.errs[source]++
	}
}

func (c *countingRecorder) RecordInit(detector string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits[detector] = err
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, nil)
}

func TestDetectFrameIsolatesDetectorErrors(t *testing.T) {
	t.Parallel()

	failing := &MockDetector{name: "ocr", source: SourceOCR}
	failing.On("Detect", mock.Anything, mock.Anything).Return(nil, errors.NewStd("tesseract crashed"))

	working := &staticDetector{name: "object", source: SourceObject, labels: []string{"Armored Vehicle"}}

	rec := newCountingRecorder()
	e := NewEnsemble(nil, rec, quietLogger())
	e.Add(failing, MemberOptions{})
	e.Add(working, MemberOptions{})

	dets := e.NewSession(nil).DetectFrame(t.Context(), frames.Frame{Index: 0})

	require.Len(t, dets, 1)
	assert.Equal(t, "military vehicle", dets[0].Label)
	assert.Equal(t, "Armored Vehicle", dets[0].RawLabel)
	assert.Equal(t, SourceObject, dets[0].Source, "missing source is filled from the member")
	assert.Equal(t, 1, rec.errs[string(SourceOCR)])
	assert.Equal(t, 1, rec.invokes[string(SourceObject)])
	failing.AssertExpectations(t)
}

func TestDetectFrameStride(t *testing.T) {
	t.Parallel()

	every := &staticDetector{name: "object", source: SourceObject, labels: []string{"tank"}}
	sparse := &staticDetector{name: "discovery", source: SourceDiscovery, labels: []string{"convoy"}}

	e := NewEnsemble(nil, nil, quietLogger())
	e.Add(every, MemberOptions{Every: 1})
	e.Add(sparse, MemberOptions{Every: 3})

	s := e.NewSession(nil)
	for i := range 7 {
		s.DetectFrame(t.Context(), frames.Frame{Index: i})
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, every.seen)
	assert.Equal(t, []int{0, 3, 6}, sparse.seen)
}

func TestCorroboratorSeesJobCandidates(t *testing.T) {
	t.Parallel()

	object := &staticDetector{name: "object", source: SourceObject, labels: []string{"tank"}}
	ocr := &staticDetector{name: "ocr", source: SourceOCR, labels: []string{"cvn-72"}}
	verifier := &recordingVerifier{}

	e := NewEnsemble(nil, nil, quietLogger())
	e.Add(object, MemberOptions{})
	e.Add(ocr, MemberOptions{Every: 2})
	e.AddCorroborator(verifier, MemberOptions{})

	s := e.NewSession(nil)
	s.DetectFrame(t.Context(), frames.Frame{Index: 1})
	dets := s.DetectFrame(t.Context(), frames.Frame{Index: 2})

	require.Len(t, verifier.calls, 2)
	assert.Equal(t, []string{"tank"}, verifier.calls[0])
	assert.Equal(t, []string{"CVN-72", "tank"}, verifier.calls[1])
	assert.Equal(t, SourceVerify, dets[len(dets)-1].Source)

	// a new session starts without candidates
	assert.Empty(t, e.NewSession(nil).Candidates())
}

func TestEnsembleInit(t *testing.T) {
	t.Parallel()

	t.Run("optional failure disables member until a retry succeeds", func(t *testing.T) {
		t.Parallel()
		broken := &MockDetector{name: "open_vocab", source: SourceOpenVocab}
		broken.On("Init", mock.Anything).Return(errors.NewStd("embedding service down")).Once()
		broken.On("Init", mock.Anything).Return(nil).Once()
		ok := &MockDetector{name: "object", source: SourceObject}
		ok.On("Init", mock.Anything).Return(nil).Once()

		rec := newCountingRecorder()
		e := NewEnsemble(nil, rec, quietLogger())
		e.Add(broken, MemberOptions{})
		e.Add(ok, MemberOptions{})

		require.NoError(t, e.Init(t.Context()))
		assert.Equal(t, []string{"object"}, e.Active())
		assert.Error(t, rec.inits["open_vocab"])

		ok.On("Detect", mock.Anything, mock.Anything).Return([]Detection{}, nil)
		e.NewSession(nil).DetectFrame(t.Context(), frames.Frame{})
		broken.AssertNotCalled(t, "Detect", mock.Anything, mock.Anything)

		require.NoError(t, e.Init(t.Context()))
		assert.Equal(t, []string{"open_vocab", "object"}, e.Active())
		assert.NoError(t, rec.inits["open_vocab"])

		require.NoError(t, e.Init(t.Context()), "a ready ensemble does not initialize members again")
		broken.AssertNumberOfCalls(t, "Init", 2)
		ok.AssertNumberOfCalls(t, "Init", 1)
	})

	t.Run("required failure is retried by the next job", func(t *testing.T) {
		t.Parallel()
		flaky := &MockDetector{name: "object", source: SourceObject}
		flaky.On("Init", mock.Anything).Return(errors.NewStd("context canceled")).Once()
		flaky.On("Init", mock.Anything).Return(nil).Once()

		e := NewEnsemble(nil, nil, quietLogger())
		e.Add(flaky, MemberOptions{Required: true})

		require.Error(t, e.Init(t.Context()))
		require.NoError(t, e.Init(t.Context()))
		require.NoError(t, e.Init(t.Context()))
		assert.Equal(t, []string{"object"}, e.Active())
		flaky.AssertNumberOfCalls(t, "Init", 2)
	})

	t.Run("required failure is fatal", func(t *testing.T) {
		t.Parallel()
		broken := &MockDetector{name: "object", source: SourceObject}
		broken.On("Init", mock.Anything).Return(errors.NewStd("model missing"))

		e := NewEnsemble(nil, nil, quietLogger())
		e.Add(broken, MemberOptions{Required: true})
		e.Add(&staticDetector{name: "ocr", source: SourceOCR}, MemberOptions{})

		err := e.Init(t.Context())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryModelInit))
		assert.Contains(t, err.Error(), "model missing")
	})

	t.Run("no originating detector", func(t *testing.T) {
		t.Parallel()
		broken := &MockDetector{name: "object", source: SourceObject}
		broken.On("Init", mock.Anything).Return(errors.NewStd("model missing"))

		e := NewEnsemble(nil, nil, quietLogger())
		e.Add(broken, MemberOptions{})
		e.AddCorroborator(&recordingVerifier{}, MemberOptions{})

		assert.ErrorIs(t, e.Init(t.Context()), ErrNoDetectors)
	})

	t.Run("empty ensemble", func(t *testing.T) {
		t.Parallel()
		e := NewEnsemble(nil, nil, quietLogger())
		assert.ErrorIs(t, e.Init(t.Context()), ErrNoDetectors)
	})
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SourceObject, ParseSource(""))
	assert.Equal(t, SourceObject, ParseSource("yolo"))
	assert.Equal(t, SourceOpenVocab, ParseSource("clip"))
	assert.Equal(t, SourceOCR, ParseSource(" OCR "))
	assert.Equal(t, Source("custom"), ParseSource("custom"))
}
