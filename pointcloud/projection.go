package pointcloud

import (
	"image"
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/probelab/scopedepth/calib"
	"github.com/probelab/scopedepth/dmap"
)

// DepthWindow limits which depth values are projected. Depths at or below
// Min or at or above Max are skipped. A Max of zero or less means no upper
// limit.
type DepthWindow struct {
	Min float64
	Max float64
}

// DefaultDepthWindow matches the working range of the probe.
func DefaultDepthWindow() DepthWindow {
	return DepthWindow{Min: 50, Max: 5000}
}

func (w DepthWindow) contains(z float64) bool {
	if z <= w.Min {
		return false
	}
	if w.Max > 0 && z >= w.Max {
		return false
	}
	return true
}

// FromDepthMap projects a depth map into a point cloud. When valid
// intrinsics for the rectified left camera are given, pixels are lifted
// through the pinhole model: X = (x-ppx)*Z/fx, Y = (y-ppy)*Z/fy. Without
// them, pixel coordinates are carried through as X and Y so the cloud is
// still inspectable, just not metric in X/Y.
//
// colors may be nil; otherwise it must match the depth map size and each
// point takes the color of its source pixel.
func FromDepthMap(depth *dmap.FloatMap, intrinsics *calib.CameraIntrinsics, colors image.Image, window DepthWindow) (PointCloud, error) {
	if depth == nil || !depth.HasData() {
		return nil, errors.New("depth map has no data")
	}
	width, height := depth.Width(), depth.Height()
	if colors != nil {
		b := colors.Bounds()
		if b.Dx() != width || b.Dy() != height {
			return nil, errors.Errorf("color image size %dx%d does not match depth map %dx%d",
				b.Dx(), b.Dy(), width, height)
		}
	}

	useModel := intrinsics.CheckValid() == nil
	var fx, fy, ppx, ppy float64
	if useModel {
		fx, fy = intrinsics.Fx(), intrinsics.Fy()
		ppx, ppy = intrinsics.Ppx(), intrinsics.Ppy()
	}

	cloud := NewWithPrealloc(depth.CountValid())
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !depth.Valid(x, y) {
				continue
			}
			z := float64(depth.GetXY(x, y))
			if !window.contains(z) {
				continue
			}
			var p r3.Vector
			if useModel {
				p = r3.Vector{
					X: (float64(x) - ppx) * z / fx,
					Y: (float64(y) - ppy) * z / fy,
					Z: z,
				}
			} else {
				p = r3.Vector{X: float64(x), Y: float64(y), Z: z}
			}
			var c color.NRGBA
			if colors != nil {
				b := colors.Bounds()
				c = color.NRGBAModel.Convert(colors.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				if c.A == 0 {
					c.A = 255
				}
			}
			if err := cloud.Set(p, c); err != nil {
				return nil, err
			}
		}
	}
	return cloud, nil
}
