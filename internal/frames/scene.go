package frames

import (
	"image"

	"github.com/disintegration/imaging"
)

// Thin drops frames that barely differ from the last kept frame. The
// difference is the mean absolute grayscale pixel difference normalized to
// [0,1]; a frame is kept when it reaches threshold. The first readable
// frame is always kept and unreadable frames are skipped. When fewer than
// max(1, minKeep) frames survive, the original list is returned unchanged.
func Thin(paths []string, threshold float64, minKeep int) []string {
	if len(paths) <= 1 {
		return paths
	}

	kept := make([]string, 0, len(paths))
	var last *image.NRGBA
	for _, p := range paths {
		img, err := imaging.Open(p)
		if err != nil {
			continue
		}
		gray := imaging.Grayscale(img)

		if last == nil {
			last = gray
			kept = append(kept, p)
			continue
		}

		if SceneDiff(last, gray) >= threshold {
			last = gray
			kept = append(kept, p)
		}
	}

	if len(kept) < max(1, minKeep) {
		return paths
	}
	return kept
}

// SceneDiff returns the normalized mean absolute difference between two
// grayscale images. b is resized to a's bounds when they differ.
func SceneDiff(a, b *image.NRGBA) float64 {
	ab := a.Bounds()
	if b.Bounds().Dx() != ab.Dx() || b.Bounds().Dy() != ab.Dy() {
		b = imaging.Resize(b, ab.Dx(), ab.Dy(), imaging.Box)
	}

	w, h := ab.Dx(), ab.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	// imaging returns images anchored at the origin
	var sum uint64
	for y := range h {
		ra := a.Pix[y*a.Stride : y*a.Stride+w*4]
		rb := b.Pix[y*b.Stride : y*b.Stride+w*4]
		// grayscale images carry the luminance in every channel; R is enough
		for x := 0; x < w*4; x += 4 {
			d := int(ra[x]) - int(rb[x])
			if d < 0 {
				d = -d
			}
			sum += uint64(d)
		}
	}

	return float64(sum) / float64(w*h) / 255.0
}
