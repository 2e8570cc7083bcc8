package transform

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"

	"github.com/probelab/scopedepth/dmap"
)

// RemapGray warps a grayscale image through the table with bilinear
// interpolation. Pixels whose source falls outside the image become 0.
func (rt *RemapTable) RemapGray(src *image.Gray) *image.Gray {
	width, height := rt.X.Width(), rt.X.Height()
	dst := image.NewGray(image.Rect(0, 0, width, height))
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			x := float64(rt.X.GetXY(u, v))
			y := float64(rt.Y.GetXY(u, v))
			val, ok := bilinearGray(src, x, y)
			if ok {
				dst.SetGray(u, v, color.Gray{Y: val})
			}
		}
	}
	return dst
}

// RemapFloatMap warps a float buffer through the table. Invalid source
// pixels contribute nothing; unreachable pixels stay 0.
func (rt *RemapTable) RemapFloatMap(src *dmap.FloatMap) *dmap.FloatMap {
	width, height := rt.X.Width(), rt.X.Height()
	dst := dmap.NewFloatMap(width, height)
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			x := float64(rt.X.GetXY(u, v))
			y := float64(rt.Y.GetXY(u, v))
			x0, y0 := int(math.Floor(x)), int(math.Floor(y))
			fx, fy := x-float64(x0), y-float64(y0)
			var sum, wsum float64
			for dy := 0; dy <= 1; dy++ {
				for dx := 0; dx <= 1; dx++ {
					xi, yi := x0+dx, y0+dy
					if !src.Contains(xi, yi) || !src.Valid(xi, yi) {
						continue
					}
					w := (1 - math.Abs(float64(dx)-fx)) * (1 - math.Abs(float64(dy)-fy))
					if w <= 0 {
						continue
					}
					sum += w * float64(src.GetXY(xi, yi))
					wsum += w
				}
			}
			if wsum > 0 {
				dst.Set(u, v, float32(sum/wsum))
			}
		}
	}
	return dst
}

// RectifyPair warps a raw stereo pair into the rectified frame. Both images
// must match the context's size.
func (rc *RectificationContext) RectifyPair(left, right *image.Gray) (*image.Gray, *image.Gray, error) {
	if err := rc.checkSize(left); err != nil {
		return nil, nil, errors.Wrap(err, "left image")
	}
	if err := rc.checkSize(right); err != nil {
		return nil, nil, errors.Wrap(err, "right image")
	}
	return rc.LeftMap.RemapGray(left), rc.RightMap.RemapGray(right), nil
}

func (rc *RectificationContext) checkSize(img *image.Gray) error {
	if img == nil {
		return errors.New("image is nil")
	}
	if img.Bounds().Dx() != rc.Width || img.Bounds().Dy() != rc.Height {
		return errors.Errorf("image size mismatch: got %dx%d, expect %dx%d",
			img.Bounds().Dx(), img.Bounds().Dy(), rc.Width, rc.Height)
	}
	return nil
}

func bilinearGray(src *image.Gray, x, y float64) (uint8, bool) {
	b := src.Bounds()
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	if x0 < b.Min.X || y0 < b.Min.Y || x0+1 >= b.Max.X || y0+1 >= b.Max.Y {
		return 0, false
	}
	fx, fy := x-float64(x0), y-float64(y0)
	v00 := float64(src.GrayAt(x0, y0).Y)
	v10 := float64(src.GrayAt(x0+1, y0).Y)
	v01 := float64(src.GrayAt(x0, y0+1).Y)
	v11 := float64(src.GrayAt(x0+1, y0+1).Y)
	top := v00*(1-fx) + v10*fx
	bot := v01*(1-fx) + v11*fx
	return uint8(math.Round(top*(1-fy) + bot*fy)), true
}
