package dmap

import (
	"image"

	"github.com/lucasb-eyer/go-colorful"
)

// ToPrettyPicture renders the map as a false-color image for inspection.
// Values are clamped to [hardMin, hardMax] when those are nonzero, otherwise
// the observed range is used. Invalid pixels stay transparent black.
func (fm *FloatMap) ToPrettyPicture(hardMin, hardMax float64) image.Image {
	minV, maxV := fm.MinMax()
	min, max := float64(minV), float64(maxV)

	if hardMin != 0 && min < hardMin {
		min = hardMin
	}
	if hardMax != 0 && max > hardMax {
		max = hardMax
	}

	img := image.NewRGBA(image.Rect(0, 0, fm.Width(), fm.Height()))

	span := max - min
	if span <= 0 {
		span = 1
	}

	for x := 0; x < fm.Width(); x++ {
		for y := 0; y < fm.Height(); y++ {
			if !fm.Valid(x, y) {
				continue
			}
			z := float64(fm.GetXY(x, y))
			if z < min {
				z = min
			}
			if z > max {
				z = max
			}

			ratio := (z - min) / span

			hue := 30 + (200.0 * ratio)
			img.Set(x, y, colorful.Hsv(hue, 1.0, 1.0))
		}
	}

	return img
}
