// Package transform derives the rectification geometry of a calibrated
// stereo rig: rectifying rotations, projection matrices, the disparity
// reprojection matrix Q, and the per-camera remap tables that warp raw
// images into the rectified epipolar-aligned frame.
package transform

import (
	"image"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/probelab/scopedepth/calib"
	"github.com/probelab/scopedepth/dmap"
)

// RectificationContext holds everything derived from a stereo calibration
// for one image size. Derive it once per size; it is read-only afterwards
// and safe for concurrent use.
type RectificationContext struct {
	Width  int
	Height int

	// rectifying rotations and 3x4 projection matrices
	R1, R2 *mat.Dense
	P1, P2 *mat.Dense
	// 4x4 disparity-to-depth reprojection matrix
	Q *mat.Dense

	LeftMap  *RemapTable
	RightMap *RemapTable

	// largest rectangles of fully valid rectified pixels
	LeftROI  image.Rectangle
	RightROI image.Rectangle
}

// RemapTable stores, for every rectified pixel, the source coordinates to
// sample in the raw image.
type RemapTable struct {
	X *dmap.FloatMap
	Y *dmap.FloatMap
}

// NewRectificationContext computes the rectification geometry for the given
// calibration and image size using Bouguet's algorithm. Principal points are
// aligned so that points at infinity have zero disparity.
func NewRectificationContext(cal *calib.StereoCalibration, width, height int) (*RectificationContext, error) {
	if cal == nil {
		return nil, calib.NewNoCalibrationError("cannot rectify without calibration")
	}
	if err := cal.CheckValid(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}

	k1 := cal.Left.CameraMatrix()
	k2 := cal.Right.CameraMatrix()
	d1 := cal.Left.Distortion
	d2 := cal.Right.Distortion
	rot := cal.Extrinsics.RotationMatrix()
	trans := cal.Extrinsics.Translation

	// rotate each camera half-way so both share the same orientation
	om := rotationVectorFromMatrix(rot)
	om = om.Mul(-0.5)
	rr := rotationMatrixFromVector(om)

	t := matVecMul(rr, trans)

	// pick the dominant baseline axis: horizontal or vertical rig
	idx := 0
	if math.Abs(t.X) <= math.Abs(t.Y) {
		idx = 1
	}
	tArr := [3]float64{t.X, t.Y, t.Z}
	c := tArr[idx]
	nt := t.Norm()

	var uu r3.Vector
	switch {
	case idx == 0 && c > 0:
		uu.X = 1
	case idx == 0:
		uu.X = -1
	case c > 0:
		uu.Y = 1
	default:
		uu.Y = -1
	}

	// rotate the baseline onto the chosen axis
	ww := uu.Cross(t)
	if nw := ww.Norm(); nw > 0 {
		ww = ww.Mul(math.Acos(math.Abs(c)/nt) / nw)
	}
	wR := rotationMatrixFromVector(ww)

	r1 := mat.NewDense(3, 3, nil)
	r1.Mul(wR, rr.T())
	r2 := mat.NewDense(3, 3, nil)
	r2.Mul(wR, rr)

	tNew := matVecMul(r2, trans)
	tArr = [3]float64{tNew.X, tNew.Y, tNew.Z}

	ks := []*mat.Dense{k1, k2}
	ds := [][5]float64{d1, d2}
	rs := []*mat.Dense{r1, r2}

	// shared focal length: the smaller of the two cameras' focal lengths
	// along the non-baseline axis, shrunk further for barrel distortion
	fcNew := math.MaxFloat64
	for k, cam := range []*calib.CameraIntrinsics{&cal.Left, &cal.Right} {
		fc := cam.Matrix[idx^1][idx^1]
		if dk1 := ds[k][0]; dk1 < 0 {
			fc *= 1 + dk1*float64(width*width+height*height)/(4*fc*fc)
		}
		fcNew = math.Min(fcNew, fc)
	}

	// new principal points: center the undistorted image corners
	var cc [2][2]float64
	corners := [4][2]float64{
		{0, 0},
		{float64(width - 1), 0},
		{float64(width - 1), float64(height - 1)},
		{0, float64(height - 1)},
	}
	for k := 0; k < 2; k++ {
		var avgX, avgY float64
		for _, corner := range corners {
			x, y := undistortPointNormalized(ks[k], ds[k], rs[k], corner[0], corner[1])
			avgX += x
			avgY += y
		}
		avgX /= 4
		avgY /= 4
		cc[k][0] = float64(width-1)/2 - avgX*fcNew
		cc[k][1] = float64(height-1)/2 - avgY*fcNew
	}
	// zero-disparity alignment: both cameras share the same principal point
	cc[0][0] = (cc[0][0] + cc[1][0]) * 0.5
	cc[1][0] = cc[0][0]
	cc[0][1] = (cc[0][1] + cc[1][1]) * 0.5
	cc[1][1] = cc[0][1]

	p1 := mat.NewDense(3, 4, []float64{
		fcNew, 0, cc[0][0], 0,
		0, fcNew, cc[0][1], 0,
		0, 0, 1, 0,
	})
	p2 := mat.NewDense(3, 4, []float64{
		fcNew, 0, cc[1][0], 0,
		0, fcNew, cc[1][1], 0,
		0, 0, 1, 0,
	})
	p2.Set(idx, 3, tArr[idx]*fcNew)

	q := mat.NewDense(4, 4, []float64{
		1, 0, 0, -cc[0][0],
		0, 1, 0, -cc[0][1],
		0, 0, 0, fcNew,
		0, 0, -1 / tArr[idx], (cc[0][0] - cc[1][0]) / tArr[idx],
	})

	rc := &RectificationContext{
		Width:  width,
		Height: height,
		R1:     r1,
		R2:     r2,
		P1:     p1,
		P2:     p2,
		Q:      q,
	}
	rc.LeftMap = buildRemapTable(ks[0], ds[0], r1, p1, width, height)
	rc.RightMap = buildRemapTable(ks[1], ds[1], r2, p2, width, height)
	rc.LeftROI = innerRectangle(ks[0], ds[0], r1, p1, width, height)
	rc.RightROI = innerRectangle(ks[1], ds[1], r2, p2, width, height)
	return rc, nil
}

// Baseline returns the rectified baseline length in mm.
func (rc *RectificationContext) Baseline() float64 {
	// Q[3][2] = -1/b
	return math.Abs(1 / rc.Q.At(3, 2))
}

// FocalLength returns the shared rectified focal length in pixels.
func (rc *RectificationContext) FocalLength() float64 {
	return rc.Q.At(2, 3)
}

// rotationVectorFromMatrix converts a rotation matrix to its axis-angle
// vector (Rodrigues).
func rotationVectorFromMatrix(r *mat.Dense) r3.Vector {
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	cosTheta := math.Max(-1, math.Min(1, (trace-1)/2))
	theta := math.Acos(cosTheta)
	axis := r3.Vector{
		X: r.At(2, 1) - r.At(1, 2),
		Y: r.At(0, 2) - r.At(2, 0),
		Z: r.At(1, 0) - r.At(0, 1),
	}
	sinTheta := math.Sin(theta)
	if math.Abs(sinTheta) < 1e-12 {
		// identity (or a half-turn; stereo rigs never get close to that)
		return r3.Vector{}
	}
	return axis.Mul(theta / (2 * sinTheta))
}

// rotationMatrixFromVector converts an axis-angle vector to a rotation
// matrix (Rodrigues).
func rotationMatrixFromVector(v r3.Vector) *mat.Dense {
	theta := v.Norm()
	out := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if theta < 1e-12 {
		return out
	}
	k := v.Mul(1 / theta)
	kMat := mat.NewDense(3, 3, []float64{
		0, -k.Z, k.Y,
		k.Z, 0, -k.X,
		-k.Y, k.X, 0,
	})
	var kSq mat.Dense
	kSq.Mul(kMat, kMat)
	var term1, term2 mat.Dense
	term1.Scale(math.Sin(theta), kMat)
	term2.Scale(1-math.Cos(theta), &kSq)
	out.Add(out, &term1)
	out.Add(out, &term2)
	return out
}

func matVecMul(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// undistortPointNormalized maps a raw pixel to normalized rectified
// coordinates: normalize with K, iteratively undo Brown-Conrady distortion,
// then rotate by R.
func undistortPointNormalized(k *mat.Dense, d [5]float64, r *mat.Dense, px, py float64) (float64, float64) {
	fx, fy := k.At(0, 0), k.At(1, 1)
	cx, cy := k.At(0, 2), k.At(1, 2)

	x := (px - cx) / fx
	y := (py - cy) / fy
	x0, y0 := x, y
	for iter := 0; iter < 5; iter++ {
		r2 := x*x + y*y
		icdist := 1 / (1 + ((d[4]*r2+d[1])*r2+d[0])*r2)
		deltaX := 2*d[2]*x*y + d[3]*(r2+2*x*x)
		deltaY := d[2]*(r2+2*y*y) + 2*d[3]*x*y
		x = (x0 - deltaX) * icdist
		y = (y0 - deltaY) * icdist
	}

	rx := r.At(0, 0)*x + r.At(0, 1)*y + r.At(0, 2)
	ry := r.At(1, 0)*x + r.At(1, 1)*y + r.At(1, 2)
	rw := r.At(2, 0)*x + r.At(2, 1)*y + r.At(2, 2)
	return rx / rw, ry / rw
}

// buildRemapTable inverse-maps every rectified pixel back into the raw
// image: unproject with the new projection, rotate back, redistort, project
// with the raw camera matrix.
func buildRemapTable(k *mat.Dense, d [5]float64, r, p *mat.Dense, width, height int) *RemapTable {
	// iR = (P[0:3,0:3] * R)^-1
	var a mat.Dense
	a.Mul(p.Slice(0, 3, 0, 3), r)
	var iR mat.Dense
	if err := iR.Inverse(&a); err != nil {
		// singular projection cannot happen for a valid calibration
		panic(err)
	}

	fx, fy := k.At(0, 0), k.At(1, 1)
	cx, cy := k.At(0, 2), k.At(1, 2)

	table := &RemapTable{
		X: dmap.NewFloatMap(width, height),
		Y: dmap.NewFloatMap(width, height),
	}
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			uf, vf := float64(u), float64(v)
			xw := iR.At(0, 0)*uf + iR.At(0, 1)*vf + iR.At(0, 2)
			yw := iR.At(1, 0)*uf + iR.At(1, 1)*vf + iR.At(1, 2)
			w := iR.At(2, 0)*uf + iR.At(2, 1)*vf + iR.At(2, 2)
			x := xw / w
			y := yw / w

			r2 := x*x + y*y
			cdist := 1 + ((d[4]*r2+d[1])*r2+d[0])*r2
			xd := x*cdist + 2*d[2]*x*y + d[3]*(r2+2*x*x)
			yd := y*cdist + d[2]*(r2+2*y*y) + 2*d[3]*x*y

			table.X.Set(u, v, float32(xd*fx+cx))
			table.Y.Set(u, v, float32(yd*fy+cy))
		}
	}
	return table
}

// innerRectangle estimates the largest rectangle of rectified pixels whose
// sources lie inside the raw image, by pushing a grid of border samples
// through the rectification.
func innerRectangle(k *mat.Dense, d [5]float64, r, p *mat.Dense, width, height int) image.Rectangle {
	const n = 9
	fcX, fcY := p.At(0, 0), p.At(1, 1)
	ccX, ccY := p.At(0, 2), p.At(1, 2)

	x0, y0 := math.Inf(-1), math.Inf(-1)
	x1, y1 := math.Inf(1), math.Inf(1)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			px := float64(i) * float64(width-1) / (n - 1)
			py := float64(j) * float64(height-1) / (n - 1)
			x, y := undistortPointNormalized(k, d, r, px, py)
			x = x*fcX + ccX
			y = y*fcY + ccY
			if i == 0 {
				x0 = math.Max(x0, x)
			}
			if i == n-1 {
				x1 = math.Min(x1, x)
			}
			if j == 0 {
				y0 = math.Max(y0, y)
			}
			if j == n-1 {
				y1 = math.Min(y1, y)
			}
		}
	}
	const eps = 1e-6
	inner := image.Rect(
		int(math.Ceil(x0-eps)), int(math.Ceil(y0-eps)),
		int(math.Floor(x1+eps))+1, int(math.Floor(y1+eps))+1,
	)
	return inner.Intersect(image.Rect(0, 0, width, height))
}
