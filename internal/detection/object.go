package detection

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/tphakala/go-tflite"

	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/cpuspec"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/frames"
	"github.com/tphakala/entityindex/internal/logger"
)

// ErrDetectorClosed is returned by Detect after Close.
var ErrDetectorClosed = errors.NewStd("detector is closed")

// LabelMap translates the object model's COCO vocabulary into domain
// labels. Classes missing from the map are not reported.
var LabelMap = map[string]string{
	"person":       "military personnel",
	"car":          "military vehicle",
	"bus":          "military vehicle",
	"motorcycle":   "military vehicle",
	"bicycle":      "military vehicle",
	"train":        "military vehicle",
	"boat":         "military vehicle",
	"truck":        "armored vehicle",
	"airplane":     "aircraft",
	"helicopter":   "helicopter",
	"knife":        "weapon",
	"scissors":     "weapon",
	"baseball bat": "weapon",
	"backpack":     "equipment",
	"handbag":      "equipment",
	"suitcase":     "equipment",
	"laptop":       "equipment",
	"cell phone":   "equipment",
	"remote":       "equipment",
}

// ObjectDetector runs an SSD style TensorFlow Lite detection model. The
// model must have one image input and the usual four outputs: boxes,
// classes, scores and count.
type ObjectDetector struct {
	settings conf.ObjectDetectorSettings
	log      logger.Logger

	initMu sync.Mutex
	loaded bool

	mu          sync.Mutex // serializes interpreter access across workers
	model       *tflite.Model
	interpreter *tflite.Interpreter
	labels      []string
	inputW      int
	inputH      int
}

// NewObjectDetector creates an uninitialized object detector.
func NewObjectDetector(settings conf.ObjectDetectorSettings, log logger.Logger) *ObjectDetector {
	if log == nil {
		log = logger.Global().Module("detection").Module("object")
	}
	return &ObjectDetector{settings: settings, log: log}
}

func (d *ObjectDetector) Name() string   { return "object" }
func (d *ObjectDetector) Source() Source { return SourceObject }

// Init loads the label file and the model. Once loading succeeds later
// calls return nil; a failed load is attempted again on the next call.
func (d *ObjectDetector) Init(_ context.Context) error {
	d.initMu.Lock()
	defer d.initMu.Unlock()
	if d.loaded {
		return nil
	}
	if err := d.load(); err != nil {
		return err
	}
	d.loaded = true
	return nil
}

func (d *ObjectDetector) load() error {
	start := time.Now()

	labels, err := readLabels(d.settings.LabelPath)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryLabelLoad).
			Context("label_path", d.settings.LabelPath).
			Build()
	}

	model := tflite.NewModelFromFile(d.settings.ModelPath)
	if model == nil {
		return errors.Newf("cannot load TensorFlow Lite model %s", d.settings.ModelPath).
			Category(errors.CategoryModelLoad).
			Context("model_path", d.settings.ModelPath).
			Build()
	}

	threads := d.settings.Threads
	if threads <= 0 {
		threads = cpuspec.Get().InferenceThreads()
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		d.log.Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return errors.Newf("cannot create interpreter").
			Category(errors.CategoryModelInit).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return errors.Newf("tensor allocation failed: %v", status).
			Category(errors.CategoryModelInit).
			Build()
	}

	input := interpreter.GetInputTensor(0)
	if input == nil || input.NumDims() != 4 {
		interpreter.Delete()
		model.Delete()
		return errors.Newf("unexpected model input shape").
			Category(errors.CategoryModelInit).
			Build()
	}
	if interpreter.GetOutputTensorCount() < 4 {
		interpreter.Delete()
		model.Delete()
		return errors.Newf("model has %d outputs, want boxes, classes, scores and count", interpreter.GetOutputTensorCount()).
			Category(errors.CategoryModelInit).
			Build()
	}

	d.model = model
	d.interpreter = interpreter
	d.labels = labels
	d.inputH = input.Dim(1)
	d.inputW = input.Dim(2)

	d.log.Info("object model loaded",
		logger.String("model", d.settings.ModelPath),
		logger.Int("labels", len(labels)),
		logger.Int("threads", threads),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// Detect runs the model on one frame.
func (d *ObjectDetector) Detect(ctx context.Context, frame frames.Frame) ([]Detection, error) {
	if err := d.Init(ctx); err != nil {
		return nil, err
	}

	img, err := imaging.Open(frame.Path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open frame: %w", err)).
			Category(errors.CategoryFileIO).
			Context("path", frame.Path).
			Build()
	}
	bounds := img.Bounds()
	resized := imaging.Resize(img, d.inputW, d.inputH, imaging.Linear)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interpreter == nil {
		return nil, errors.New(ErrDetectorClosed).
			Category(errors.CategoryDetection).
			Context("detector", d.Name()).
			Build()
	}

	input := d.interpreter.GetInputTensor(0)
	if err := fillInput(input, resized); err != nil {
		return nil, err
	}
	if status := d.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tensor invoke failed: %v", status).
			Category(errors.CategoryDetection).
			Build()
	}

	out, err := readSSD(d.interpreter)
	if err != nil {
		return nil, err
	}
	return decodeSSD(out, d.labels, bounds.Dx(), bounds.Dy(), d.settings.MinConfidence), nil
}

// readSSD copies the four SSD outputs. The count tensor must hold at
// least one value.
func readSSD(interpreter *tflite.Interpreter) (ssdOutput, error) {
	var outputs [4][]float32
	for i := range outputs {
		t := interpreter.GetOutputTensor(i)
		if t == nil {
			return ssdOutput{}, errors.Newf("model output %d is missing", i).
				Category(errors.CategoryDetection).
				Build()
		}
		outputs[i] = t.Float32s()
	}
	return newSSDOutput(outputs[0], outputs[1], outputs[2], outputs[3])
}

func newSSDOutput(boxes, classes, scores, count []float32) (ssdOutput, error) {
	if len(count) == 0 {
		return ssdOutput{}, errors.Newf("model count output is empty").
			Category(errors.CategoryDetection).
			Build()
	}
	return ssdOutput{boxes: boxes, classes: classes, scores: scores, count: int(count[0])}, nil
}

// Close releases the interpreter and model.
func (d *ObjectDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interpreter != nil {
		d.interpreter.Delete()
		d.interpreter = nil
	}
	if d.model != nil {
		d.model.Delete()
		d.model = nil
	}
	return nil
}

// fillInput copies an RGB image into a uint8 or float32 input tensor.
// Float inputs are scaled to [-1, 1].
func fillInput(t *tflite.Tensor, img *image.NRGBA) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	switch t.Type() {
	case tflite.UInt8:
		dst := t.UInt8s()
		for y := range h {
			for x := range w {
				src := img.Pix[y*img.Stride+x*4:]
				i := (y*w + x) * 3
				dst[i], dst[i+1], dst[i+2] = src[0], src[1], src[2]
			}
		}
	case tflite.Float32:
		dst := t.Float32s()
		for y := range h {
			for x := range w {
				src := img.Pix[y*img.Stride+x*4:]
				i := (y*w + x) * 3
				dst[i] = (float32(src[0]) - 127.5) / 127.5
				dst[i+1] = (float32(src[1]) - 127.5) / 127.5
				dst[i+2] = (float32(src[2]) - 127.5) / 127.5
			}
		}
	default:
		return errors.Newf("unsupported input tensor type %v", t.Type()).
			Category(errors.CategoryModelInit).
			Build()
	}
	return nil
}

type ssdOutput struct {
	boxes   []float32 // [N,4] ymin, xmin, ymax, xmax normalized
	classes []float32
	scores  []float32
	count   int
}

// decodeSSD turns raw SSD outputs into detections for a width x height
// frame. Unmapped classes and scores below minConfidence are dropped.
func decodeSSD(out ssdOutput, labels []string, width, height int, minConfidence float64) []Detection {
	n := min(out.count, len(out.scores), len(out.classes), len(out.boxes)/4)

	var dets []Detection
	for i := range n {
		score := float64(out.scores[i])
		if score < minConfidence {
			continue
		}
		class := int(out.classes[i])
		if class < 0 || class >= len(labels) {
			continue
		}
		raw := labels[class]
		label, ok := LabelMap[raw]
		if !ok {
			continue
		}

		b := out.boxes[i*4 : i*4+4]
		dets = append(dets, Detection{
			Label:      label,
			RawLabel:   raw,
			Confidence: score,
			BBox: &BBox{
				X1: round(clamp01(float64(b[1]))*float64(width), 2),
				Y1: round(clamp01(float64(b[0]))*float64(height), 2),
				X2: round(clamp01(float64(b[3]))*float64(width), 2),
				Y2: round(clamp01(float64(b[2]))*float64(height), 2),
			},
			Source: SourceObject,
		})
	}
	return dets
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

// readLabels reads one label per line. Blank lines are kept as empty
// labels so line numbers stay aligned with model class ids.
func readLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read label file: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label file %s is empty", path)
	}
	return labels, nil
}
