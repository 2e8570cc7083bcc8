package calibrate

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/probelab/scopedepth/dmap"
)

// nominalFocalPx is the assumed focal length when lifting depth pixels into
// a metric cloud for plane analysis. Plane membership only needs relative
// geometry, so a nominal focal is good enough.
const nominalFocalPx = 1000.0

const (
	planeRANSACIterations = 100
	planeThreshold        = 5.0
	planeMinPoints        = 100
	strongRegionMinArea   = 200
	nearFieldLimit        = 120.0
)

// Plane is a scene plane in the lifted camera frame, as unit normal plus
// offset: Normal.Dot(p) + Offset = 0 for points p on the plane.
type Plane struct {
	Normal r3.Vector
	Offset float64
}

// Distance returns the perpendicular distance from the point to the plane.
func (p Plane) Distance(pt r3.Vector) float64 {
	return math.Abs(p.Normal.Dot(pt) + p.Offset)
}

// liftDepth converts a depth pixel into the camera frame with the nominal
// focal length.
func liftDepth(x, y int, z float64, width, height int) r3.Vector {
	return r3.Vector{
		X: (float64(x) - float64(width)/2.0) * z / nominalFocalPx,
		Y: (float64(y) - float64(height)/2.0) * z / nominalFocalPx,
		Z: z,
	}
}

// cloudFromDepth lifts every stride-th valid depth pixel into a 3D cloud.
func cloudFromDepth(depth *dmap.FloatMap, mask *dmap.Mask, stride int) []r3.Vector {
	width, height := depth.Width(), depth.Height()
	points := make([]r3.Vector, 0, width*height/(stride*stride))
	for y := 0; y < height; y += stride {
		for x := 0; x < width; x += stride {
			if mask != nil && !mask.On(x, y) {
				continue
			}
			if !depth.Valid(x, y) {
				continue
			}
			points = append(points, liftDepth(x, y, float64(depth.GetXY(x, y)), width, height))
		}
	}
	return points
}

// SegmentDominantPlane finds the plane explaining the most cloud points via
// 3-point RANSAC. threshold is the maximum perpendicular distance for a
// point to count as an inlier; the plane is rejected entirely when its
// support stays below minPoints.
func SegmentDominantPlane(points []r3.Vector, rnd *rand.Rand, nIterations int, threshold float64, minPoints int) (Plane, bool) {
	if len(points) < minPoints || len(points) < 3 {
		return Plane{}, false
	}

	var best Plane
	bestInliers := 0
	for i := 0; i < nIterations; i++ {
		p1 := points[rnd.Intn(len(points))]
		p2 := points[rnd.Intn(len(points))]
		p3 := points[rnd.Intn(len(points))]

		// two vectors spanning the candidate plane
		v1 := p2.Sub(p1)
		v2 := p3.Sub(p1)
		cross := v1.Cross(v2)
		if cross.Norm() < 1e-6 {
			continue
		}
		normal := cross.Normalize()
		current := Plane{Normal: normal, Offset: -normal.Dot(p2)}

		inliers := 0
		for _, pt := range points {
			if current.Distance(pt) < threshold {
				inliers++
			}
		}
		if inliers > bestInliers {
			best = current
			bestInliers = inliers
		}
	}

	return best, bestInliers >= minPoints
}

// planeNormalPCA estimates the plane normal of a point set as the direction
// of least variance, oriented toward the camera.
func planeNormalPCA(points []r3.Vector) r3.Vector {
	normal := r3.Vector{X: 0, Y: 0, Z: 1}
	if len(points) < 3 {
		return normal
	}

	var cx, cy, cz float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
		cz += p.Z
	}
	n := float64(len(points))
	cx, cy, cz = cx/n, cy/n, cz/n

	centered := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		centered.Set(i, 0, p.X-cx)
		centered.Set(i, 1, p.Y-cy)
		centered.Set(i, 2, p.Z-cz)
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThinV) {
		return normal
	}
	var v mat.Dense
	svd.VTo(&v)
	// right singular vector of the smallest singular value
	normal = r3.Vector{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)}
	if normal.Z < 0 {
		normal = normal.Mul(-1)
	}
	return normal
}

// EstimateCameraTilt derives the rig tilt, in degrees, from the mean stereo
// depth gradient: a level camera over a flat scene has no systematic depth
// slope.
func EstimateCameraTilt(depth *dmap.FloatMap, mask *dmap.Mask) float64 {
	if depth == nil || !depth.HasData() {
		return 0
	}
	field := dmap.SobelField(depth)
	gx, gy := field.MeanComponents(mask)
	return math.Atan2(math.Sqrt(gx*gx+gy*gy), 1.0) * 180.0 / math.Pi
}

// planeLayerMask marks the pixels whose lifted points lie within threshold
// of the plane.
func planeLayerMask(depth *dmap.FloatMap, mask *dmap.Mask, plane Plane, threshold float64) *dmap.Mask {
	width, height := depth.Width(), depth.Height()
	layer := dmap.NewMask(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask != nil && !mask.On(x, y) {
				continue
			}
			if !depth.Valid(x, y) {
				continue
			}
			pt := liftDepth(x, y, float64(depth.GetXY(x, y)), width, height)
			if plane.Distance(pt) < threshold {
				layer.Set(x, y, true)
			}
		}
	}
	return layer
}

// coarseLayerEdges is the fallback banding when no plane structure is
// found.
var coarseLayerEdges = []float64{0, 100, 300, 800, 2000, 10000}

// calibratePlanarLayered calibrates against the near-field structure the
// probe is actually inspecting: pixels within the close working range,
// non-anomalous and part of a strongly connected region. Detected planes
// form the layers, each annotated with its normal, tilt and center; without
// a plane it degrades to coarse depth bands over the same mask.
func (e *Engine) calibratePlanarLayered(in calibrationInput, rnd *rand.Rand) Result {
	anomalies := DetectAnomalies(in.stereo, in.disparity, 2.0, 5)
	holes := DetectHoleRegions(in.stereo, in.disparity, 500.0, 50)
	weights := AdaptiveWeights(in.stereo, in.disparity, anomalies)

	width, height := in.stereo.Width(), in.stereo.Height()
	baseValid := dmap.NewMask(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !in.stereo.Valid(x, y) || float64(in.stereo.GetXY(x, y)) > nearFieldLimit {
				continue
			}
			if anomalies.On(x, y) {
				continue
			}
			if in.mask != nil && !in.mask.On(x, y) {
				continue
			}
			baseValid.Set(x, y, true)
		}
	}

	strong := dmap.NewMask(width, height)
	for _, seg := range baseValid.SegmentRegions8(strongRegionMinArea) {
		for _, p := range seg.Points {
			strong.Set(p.X, p.Y, true)
		}
	}
	if strong.CountOn() == 0 {
		strong = baseValid
	}

	cloud := cloudFromDepth(in.stereo, in.mask, 2)
	plane, found := SegmentDominantPlane(cloud, rnd, planeRANSACIterations, planeThreshold, planeMinPoints)
	cameraTilt := EstimateCameraTilt(in.stereo, in.mask)

	var layerResults []Result
	if found {
		layer := planeLayerMask(in.stereo, in.mask, plane, planeThreshold)
		if layer.CountOn() > planeMinPoints {
			layer = layer.Intersect(strong)
			samples := collectWeightedSamples(in, weights, layer.On)
			if len(samples) > minLayerSamples {
				fit := e.fitLayer(samples, rnd)
				if fit.Success {
					normal := planeNormalPCA(layerCloud(in.stereo, layer, 4))
					fit.Planar = true
					fit.PlaneNormal = normal
					fit.PlaneAngle = math.Acos(math.Abs(normal.Z)) * 180.0 / math.Pi
					fit.CameraTilt = cameraTilt
					fit.PlaneCenter = layerCenter(in.stereo, layer)
					layerResults = append(layerResults, fit)
				}
			}
		}
	}

	if len(layerResults) == 0 {
		for i := 0; i < len(coarseLayerEdges)-1; i++ {
			lo, hi := coarseLayerEdges[i], coarseLayerEdges[i+1]
			samples := collectWeightedSamples(in, weights, func(x, y int) bool {
				if !strong.On(x, y) {
					return false
				}
				sv := float64(in.stereo.GetXY(x, y))
				return sv >= lo && sv < hi
			})
			if len(samples) <= minLayerSamples {
				continue
			}
			fit := e.fitLayer(samples, rnd)
			if fit.Success {
				fit.LayerIndex = i
				fit.DepthMin = lo
				fit.DepthMax = hi
				fit.CameraTilt = cameraTilt
				layerResults = append(layerResults, fit)
			}
		}
	}

	if holes.CountOn() > 20 {
		holeFit := e.calibrateHoleRegions(in, holes, weights, rnd)
		if holeFit.Success {
			layerResults = append(layerResults, holeFit)
		}
	}

	if len(layerResults) == 0 {
		e.logger.Debugw("no planar layer fitted, falling back to linear calibration")
		return e.calibrateLinear(in, rnd)
	}
	fused := fuseLayerResults(layerResults)
	fused.CameraTilt = cameraTilt
	for _, lr := range layerResults {
		if lr.Planar {
			fused.Planar = true
			fused.PlaneNormal = lr.PlaneNormal
			fused.PlaneAngle = lr.PlaneAngle
			fused.PlaneCenter = lr.PlaneCenter
			break
		}
	}
	return fused
}

// layerCloud lifts every stride-th masked pixel for normal estimation.
func layerCloud(depth *dmap.FloatMap, layer *dmap.Mask, stride int) []r3.Vector {
	width, height := depth.Width(), depth.Height()
	points := make([]r3.Vector, 0, 256)
	for y := 0; y < height; y += stride {
		for x := 0; x < width; x += stride {
			if !layer.On(x, y) || !depth.Valid(x, y) {
				continue
			}
			points = append(points, liftDepth(x, y, float64(depth.GetXY(x, y)), width, height))
		}
	}
	return points
}

// layerCenter is the layer centroid in pixel coordinates with the depth
// sampled there.
func layerCenter(depth *dmap.FloatMap, layer *dmap.Mask) r3.Vector {
	var sx, sy, n int
	width, height := layer.Width(), layer.Height()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if layer.On(x, y) {
				sx += x
				sy += y
				n++
			}
		}
	}
	if n == 0 {
		return r3.Vector{}
	}
	cx, cy := sx/n, sy/n
	return r3.Vector{X: float64(cx), Y: float64(cy), Z: float64(depth.GetXY(cx, cy))}
}
