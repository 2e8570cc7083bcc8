package stereo

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/probelab/scopedepth/dmap"
)

// ReconstructFromDisparity reprojects a disparity map to metric depth (mm)
// through the 4x4 reprojection matrix Q: each pixel [x y d 1] maps to a
// homogeneous 3D point, depth is Z/W. Non-positive disparities and
// degenerate projections become 0.
func ReconstructFromDisparity(disp *dmap.FloatMap, q *mat.Dense) (*dmap.FloatMap, error) {
	if disp == nil || !disp.HasData() {
		return dmap.NewFloatMap(0, 0), nil
	}
	if err := checkQ(q); err != nil {
		return nil, err
	}

	out := dmap.NewFloatMap(disp.Width(), disp.Height())
	for y := 0; y < disp.Height(); y++ {
		for x := 0; x < disp.Width(); x++ {
			d := float64(disp.GetXY(x, y))
			if d <= 0 {
				continue
			}
			xf, yf := float64(x), float64(y)
			z := q.At(2, 0)*xf + q.At(2, 1)*yf + q.At(2, 2)*d + q.At(2, 3)
			w := q.At(3, 0)*xf + q.At(3, 1)*yf + q.At(3, 2)*d + q.At(3, 3)
			if w == 0 {
				continue
			}
			depth := z / w
			if depth <= 0 || math.IsInf(depth, 0) || math.IsNaN(depth) {
				continue
			}
			out.Set(x, y, float32(depth))
		}
	}
	return out, nil
}

// DisparityFromDepth inverts the reprojection for round-trip checks:
// d = (f/Z - q33)/q32 for the zero-disparity Q produced by rectification.
func DisparityFromDepth(depth *dmap.FloatMap, q *mat.Dense) (*dmap.FloatMap, error) {
	if depth == nil || !depth.HasData() {
		return dmap.NewFloatMap(0, 0), nil
	}
	if err := checkQ(q); err != nil {
		return nil, err
	}
	f := q.At(2, 3)
	a := q.At(3, 2)
	b := q.At(3, 3)
	if a == 0 {
		return nil, errors.New("reprojection matrix has no disparity term")
	}

	out := dmap.NewFloatMap(depth.Width(), depth.Height())
	for y := 0; y < depth.Height(); y++ {
		for x := 0; x < depth.Width(); x++ {
			if !depth.Valid(x, y) {
				continue
			}
			z := float64(depth.GetXY(x, y))
			d := (f/z - b) / a
			if d <= 0 || math.IsInf(d, 0) || math.IsNaN(d) {
				continue
			}
			out.Set(x, y, float32(d))
		}
	}
	return out, nil
}

func checkQ(q *mat.Dense) error {
	if q == nil {
		return errors.New("reprojection matrix is nil")
	}
	r, c := q.Dims()
	if r != 4 || c != 4 {
		return errors.Errorf("reprojection matrix must be 4x4, got %dx%d", r, c)
	}
	return nil
}
