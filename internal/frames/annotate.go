package frames

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/tphakala/entityindex/internal/errors"
)

// maxListed caps the box-less labels written in the corner of a frame.
const maxListed = 6

var (
	boxColor   = color.NRGBA{R: 0, G: 220, B: 80, A: 255}
	textColor  = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	labelColor = color.NRGBA{R: 0, G: 0, B: 0, A: 160}
)

// Box is a label drawn onto an annotated frame. Labels without a
// rectangle are listed in the top-left corner.
type Box struct {
	Label      string
	Confidence float64
	Rect       *image.Rectangle
}

// Annotate writes a copy of the frame at src to dst with boxes and
// captions drawn on it. Without boxes the file is copied unchanged.
func Annotate(src, dst string, boxes []Box) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", dst).Build()
	}
	if len(boxes) == 0 {
		return copyFile(src, dst)
	}

	img, err := imaging.Open(src)
	if err != nil {
		return errors.New(fmt.Errorf("failed to open frame: %w", err)).
			Category(errors.CategoryFileIO).
			Context("path", src).
			Build()
	}
	canvas := imaging.Clone(img)

	listed := 0
	for _, b := range boxes {
		caption := fmt.Sprintf("%s %.2f", b.Label, b.Confidence)
		if b.Rect == nil {
			if listed >= maxListed {
				continue
			}
			drawCaption(canvas, image.Pt(4, 4+listed*16), caption)
			listed++
			continue
		}

		r := b.Rect.Intersect(canvas.Bounds())
		if r.Empty() {
			continue
		}
		drawRect(canvas, r, 2)
		drawCaption(canvas, image.Pt(r.Min.X, max(0, r.Min.Y-16)), caption)
	}

	if err := imaging.Save(canvas, dst, imaging.JPEGQuality(90)); err != nil {
		return errors.New(fmt.Errorf("failed to save annotated frame: %w", err)).
			Category(errors.CategoryFileIO).
			Context("path", dst).
			Build()
	}
	return nil
}

func drawRect(img draw.Image, r image.Rectangle, thickness int) {
	fill := image.NewUniform(boxColor)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), fill, image.Point{}, draw.Src)
	}
}

// drawCaption renders text on a translucent strip whose top-left corner is at.
func drawCaption(img draw.Image, at image.Point, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 4
	strip := image.Rect(at.X, at.Y, at.X+width, at.Y+15).Intersect(img.Bounds())
	draw.Draw(img, strip, image.NewUniform(labelColor), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(at.X+2, at.Y+12),
	}
	d.DrawString(text)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", src).Build()
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", dst).Build()
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", dst).Build()
	}
	return out.Close()
}
