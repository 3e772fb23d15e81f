package detection

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/frames"
	"github.com/tphakala/entityindex/internal/toolexec"
)

// Columns of tesseract's TSV output.
const (
	tsvLeft = 6
	tsvConf = 10
	tsvText = 11
)

var (
	ocrStrip     = regexp.MustCompile(`[^A-Za-z0-9-]`)
	markerDashed = regexp.MustCompile(`[A-Z0-9]{2,}-\d{2,}`)
	markerAlnum  = regexp.MustCompile(`[A-Z0-9]{3,}`)
)

// LooksLikeMarker reports whether an upper-cased OCR token looks like an
// identifier such as a hull number or a tail code rather than prose.
func LooksLikeMarker(text string) bool {
	if len(text) < 3 || isDigits(text) {
		return false
	}
	hasDigit := strings.ContainsFunc(text, unicode.IsDigit)
	switch {
	case markerDashed.MatchString(text):
		return true
	case markerAlnum.MatchString(text) && hasDigit:
		return true
	case len(text) >= 4 && text == strings.ToUpper(text) && strings.ContainsFunc(text, unicode.IsLetter):
		return true
	}
	return false
}

// OCRDetector reads text in frames with tesseract and reports tokens that
// look like markers.
type OCRDetector struct {
	settings conf.OCRSettings
	runner   toolexec.Runner
}

// NewOCRDetector creates an OCR detector. A nil runner executes tesseract.
func NewOCRDetector(settings conf.OCRSettings, runner toolexec.Runner) *OCRDetector {
	if runner == nil {
		runner = toolexec.Exec{}
	}
	if settings.TesseractPath == "" {
		settings.TesseractPath = "tesseract"
	}
	return &OCRDetector{settings: settings, runner: runner}
}

func (d *OCRDetector) Name() string   { return "ocr" }
func (d *OCRDetector) Source() Source { return SourceOCR }

// Init checks that tesseract runs.
func (d *OCRDetector) Init(ctx context.Context) error {
	_, err := d.runner.Run(ctx, d.settings.TesseractPath, "--version")
	return err
}

// Detect runs tesseract on the frame.
func (d *OCRDetector) Detect(ctx context.Context, frame frames.Frame) ([]Detection, error) {
	args := []string{frame.Path, "stdout"}
	if d.settings.Language != "" {
		args = append(args, "-l", d.settings.Language)
	}
	args = append(args, "tsv")

	out, err := d.runner.Run(ctx, d.settings.TesseractPath, args...)
	if err != nil {
		return nil, err
	}
	return parseTSV(out, d.settings.MinConfidence), nil
}

// parseTSV converts tesseract TSV output into marker detections. Tokens
// under minConfidence (0..100) are dropped.
func parseTSV(data []byte, minConfidence float64) []Detection {
	var dets []Detection

	scanner := bufio.NewScanner(bytes.NewReader(data))
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		cols := strings.Split(scanner.Text(), "\t")
		if len(cols) <= tsvText {
			continue
		}
		text := strings.TrimSpace(cols[tsvText])
		if text == "" {
			continue
		}

		score, err := strconv.ParseFloat(strings.TrimSpace(cols[tsvConf]), 64)
		if err != nil {
			score = -1
		}
		if score < minConfidence {
			continue
		}

		token := strings.ToUpper(ocrStrip.ReplaceAllString(text, ""))
		if token == "" || !LooksLikeMarker(token) {
			continue
		}

		dets = append(dets, Detection{
			Label:      token,
			Confidence: round(score/100, 4),
			BBox:       tsvBox(cols),
			Source:     SourceOCR,
		})
	}
	return dets
}

// tsvBox reads left, top, width and height from a TSV row.
func tsvBox(cols []string) *BBox {
	var v [4]float64
	for i := range v {
		f, err := strconv.ParseFloat(cols[tsvLeft+i], 64)
		if err != nil {
			return nil
		}
		v[i] = f
	}
	return &BBox{X1: v[0], Y1: v[1], X2: v[0] + v[2], Y2: v[1] + v[3]}
}
