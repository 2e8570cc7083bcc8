package calibrate

import (
	"math"
	"math/rand"
	"sort"

	"github.com/probelab/scopedepth/dmap"
)

// Apply maps a raw mono depth buffer through the calibration. Unsuccessful
// results return nil; invalid input pixels stay invalid.
func Apply(res Result, mono *dmap.FloatMap) *dmap.FloatMap {
	if !res.Success || mono == nil {
		return nil
	}
	width, height := mono.Width(), mono.Height()
	out := dmap.NewFloatMap(width, height)

	switch res.Kind {
	case KindPolynomial:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if mono.Valid(x, y) {
					out.Set(x, y, float32(evalPolynomial(res.PolyCoeffs, float64(mono.GetXY(x, y)))))
				}
			}
		}
	case KindRadial:
		maxRadius := math.Sqrt(res.Center.X*res.Center.X + res.Center.Y*res.Center.Y)
		if maxRadius <= 0 {
			return nil
		}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if !mono.Valid(x, y) {
					continue
				}
				dx := float64(x) - res.Center.X
				dy := float64(y) - res.Center.Y
				r := math.Sqrt(dx*dx+dy*dy) / maxRadius
				out.Set(x, y, float32(float64(mono.GetXY(x, y))*evalRadial(res.RadialCoeffs, r)))
			}
		}
	case KindGrid:
		if res.Grid == nil {
			return nil
		}
		surface := res.Grid.Resize(width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if mono.Valid(x, y) {
					out.Set(x, y, mono.GetXY(x, y)*surface.GetXY(x, y))
				}
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if mono.Valid(x, y) {
					out.Set(x, y, float32(float64(mono.GetXY(x, y))*res.Scale+res.Bias))
				}
			}
		}
	}
	return out.Normalize()
}

// CurvatureProbe measures how non-planar the scene is, as the standard
// deviation of the depth Laplacian. The processor uses it to decide whether
// a linear correction is enough or a nonlinear one is warranted.
func CurvatureProbe(depth *dmap.FloatMap) float64 {
	if depth == nil {
		return 0
	}
	return dmap.LaplacianStdDev(depth)
}

const quantileAnchors = 8

// CalibrateAndMap runs the linear strategy and then, when the frame offers
// enough paired samples, upgrades the applied correction to a monotone
// piecewise-linear map between the mono and stereo depth quantiles. The PWL
// map restores dynamic range an affine fit flattens, but is abandoned for
// the affine result when it collapses the depth variance below half of the
// stereo reference.
func (e *Engine) CalibrateAndMap(
	mono, stereo, disparity *dmap.FloatMap,
	mask *dmap.Mask,
	leftBound int,
	rnd *rand.Rand,
) (Result, *dmap.FloatMap) {
	res := e.Calibrate(Linear(), mono, stereo, disparity, mask, leftBound, rnd)
	if !res.Success {
		return res, nil
	}
	linear := Apply(res, mono)

	var monoSamples, stereoSamples []float64
	width, height := mono.Width(), mono.Height()
	for y := 0; y < height; y++ {
		for x := maxOf(0, leftBound); x < width; x++ {
			if mask != nil && !mask.On(x, y) {
				continue
			}
			mv := float64(mono.GetXY(x, y))
			sv := float64(stereo.GetXY(x, y))
			dv := float64(disparity.GetXY(x, y))
			if !validDepth(mv) || !validDepth(sv) || !validDepth(dv) {
				continue
			}
			monoSamples = append(monoSamples, mv)
			stereoSamples = append(stereoSamples, sv)
		}
	}

	if len(monoSamples) < maxOf(1000, e.opts.MinSamples) {
		return res, linear
	}

	qm := quantiles(monoSamples, quantileAnchors)
	qs := quantiles(stereoSamples, quantileAnchors)
	// extreme values can make neighboring anchors non-increasing
	for i := 1; i < len(qm); i++ {
		if qm[i] < qm[i-1] {
			qm[i] = qm[i-1]
		}
		if qs[i] < qs[i-1] {
			qs[i] = qs[i-1]
		}
	}

	mapped := dmap.NewFloatMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mono.Valid(x, y) {
				mapped.Set(x, y, float32(mapPWL(qm, qs, float64(mono.GetXY(x, y)))))
			}
		}
	}
	mapped = mapped.Normalize()

	_, stereoStd := stereo.MeanStdDev(nil)
	_, mappedStd := mapped.MeanStdDev(nil)
	if mappedStd < 0.5*stereoStd {
		e.logger.Debugw("quantile map collapsed depth variance, keeping affine result",
			"mappedStd", mappedStd, "stereoStd", stereoStd)
		return res, linear
	}
	return res, mapped
}

// quantiles returns anchors+1 evenly spaced quantiles of the data.
func quantiles(data []float64, anchors int) []float64 {
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	qv := make([]float64, 0, anchors+1)
	for k := 0; k <= anchors; k++ {
		q := float64(k) / float64(anchors)
		idx := int(math.Min(math.Max(0, q*float64(len(sorted)-1)), float64(len(sorted)-1)))
		qv = append(qv, sorted[idx])
	}
	return qv
}

// mapPWL linearly interpolates v through the anchor pairs, extrapolating
// proportionally below the first anchor and along the last segment above
// the final one.
func mapPWL(qm, qs []float64, v float64) float64 {
	if v <= qm[0] {
		if qm[0] > 1e-6 {
			return qs[0] * (v / qm[0])
		}
		return qs[0]
	}
	n := len(qm)
	if v >= qm[n-1] {
		m1, m2 := qm[n-2], qm[n-1]
		s1, s2 := qs[n-2], qs[n-1]
		t := (v - m1) / math.Max(1e-6, m2-m1)
		return s1 + t*(s2-s1)
	}
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if qm[mid] <= v {
			lo = mid
		} else {
			hi = mid
		}
	}
	t := (v - qm[lo]) / math.Max(1e-6, qm[lo+1]-qm[lo])
	return qs[lo] + t*(qs[lo+1]-qs[lo])
}

// RefineOptions tunes RefineWithLocalFit.
type RefineOptions struct {
	// BlockSize and Overlap shape the sliding window in pixels.
	BlockSize int
	Overlap   int
	// ResidualThreshold marks a stereo pixel as an outlier when it strays
	// this far, in mm, from the block's local mono fit.
	ResidualThreshold float64
	// MinSamples is the valid-pair count a block needs before it is fitted.
	MinSamples int
	// ReplaceOutliers substitutes the fitted prediction for outliers; when
	// false they are invalidated instead.
	ReplaceOutliers bool
	// GradientScale softens the weight of high-gradient (edge) pixels.
	GradientScale float64
}

// DefaultRefineOptions returns the block refinement tuning.
func DefaultRefineOptions() RefineOptions {
	return RefineOptions{
		BlockSize:         64,
		Overlap:           16,
		ResidualThreshold: 10.0,
		MinSamples:        500,
		ReplaceOutliers:   true,
		GradientScale:     5.0,
	}
}

// RefineWithLocalFit cleans stereo depth against the smooth mono prior: in
// each overlapping block it robustly fits stereo as an affine function of
// mono and replaces (or invalidates) stereo pixels whose residual exceeds
// the threshold. Mono is smooth but unscaled; stereo is metric but spiky;
// the local fit lets one correct the other.
func (e *Engine) RefineWithLocalFit(stereo, mono *dmap.FloatMap, refineOpts RefineOptions, rnd *rand.Rand) *dmap.FloatMap {
	if stereo == nil || mono == nil || !stereo.SameSize(mono) {
		return stereo
	}
	width, height := stereo.Width(), stereo.Height()
	refined := stereo.Clone()

	grad := dmap.SobelField(stereo)
	gradScale := math.Max(1.0, refineOpts.GradientScale)

	step := maxOf(1, refineOpts.BlockSize-refineOpts.Overlap)
	for by := 0; by < height; by += step {
		for bx := 0; bx < width; bx += step {
			x1 := minOfInt(width, bx+refineOpts.BlockSize)
			y1 := minOfInt(height, by+refineOpts.BlockSize)
			if x1-bx <= 2 || y1-by <= 2 {
				continue
			}

			samples := make([]Sample, 0, (x1-bx)*(y1-by)/2)
			for y := by; y < y1; y++ {
				for x := bx; x < x1; x++ {
					sv := float64(stereo.GetXY(x, y))
					mv := float64(mono.GetXY(x, y))
					if !validDepth(sv) || !validDepth(mv) || sv >= 1e7 || mv >= 1e7 {
						continue
					}
					w := math.Exp(-grad.GetVec2D(x, y).Magnitude() / gradScale)
					w = math.Max(0.05, math.Min(w, 1.0))
					samples = append(samples, Sample{Mono: mv, Stereo: sv, Weight: w, X: x, Y: y})
				}
			}
			if len(samples) < refineOpts.MinSamples {
				continue
			}

			scale, bias, ok := ransacLinearFit(samples, rnd, e.opts)
			if !ok {
				continue
			}
			inliers := affineInliers(samples, scale, bias, e.opts.RANSACThreshold)
			if len(inliers) < refineOpts.MinSamples {
				continue
			}
			if s, b, wok := weightedLeastSquares(inliers, e.opts.LambdaScale, e.opts.LambdaBias); wok {
				scale, bias = s, b
			}

			for _, s := range samples {
				pred := scale*s.Mono + bias
				if math.Abs(s.Stereo-pred) > refineOpts.ResidualThreshold {
					if refineOpts.ReplaceOutliers {
						refined.Set(s.X, s.Y, float32(pred))
					} else {
						refined.Set(s.X, s.Y, 0)
					}
				}
			}
		}
	}

	return refined
}
