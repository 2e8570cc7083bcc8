// Package calibrate fits models that map scale-ambiguous mono depth onto
// metric stereo depth, from a simple affine correction up to layered,
// plane-aware and nonlinear variants.
package calibrate

import (
	"math"

	"github.com/pkg/errors"

	"github.com/probelab/scopedepth/dmap"
)

// Options bounds the sample collection and the robust fitting loops.
// Distances are in millimeters.
type Options struct {
	// RANSACThreshold is the inlier residual bound for the affine fits.
	RANSACThreshold float64
	// MinSamples is the number of valid mono/stereo pairs required before a
	// whole-image fit is attempted.
	MinSamples int
	// MinInlierRatio is the fraction of samples a RANSAC hypothesis must
	// explain before it is accepted.
	MinInlierRatio float64
	// MaxIterations bounds the RANSAC loop.
	MaxIterations int
	// OutlierSigma rejects samples whose stereo/mono ratio strays more than
	// this many standard deviations from the mean ratio.
	OutlierSigma float64
	// MinDepth and MaxDepth window the depths considered trustworthy on
	// both sources.
	MinDepth float64
	MaxDepth float64
	// LambdaScale and LambdaBias regularize the weighted least squares
	// toward scale 1 and bias 0.
	LambdaScale float64
	LambdaBias  float64
}

// DefaultOptions returns the tuning used on the close-range probe rig.
func DefaultOptions() Options {
	return Options{
		RANSACThreshold: 5.0,
		MinSamples:      500,
		MinInlierRatio:  0.3,
		MaxIterations:   100,
		OutlierSigma:    2.0,
		MinDepth:        50.0,
		MaxDepth:        5000.0,
		LambdaScale:     1e-3,
		LambdaBias:      1e-3,
	}
}

// Sample is one paired observation of the two depth sources at a pixel.
type Sample struct {
	Mono   float64
	Stereo float64
	Weight float64
	X, Y   int
}

// CollectSamples walks the paired buffers and returns every usable
// mono/stereo observation. Pixels left of leftBound, off-mask pixels and
// non-positive or non-finite values on any buffer are skipped. Each sample
// carries a confidence weight; samples below a minimal confidence are
// dropped outright.
func CollectSamples(mono, stereo, disparity *dmap.FloatMap, mask *dmap.Mask, leftBound int) ([]Sample, error) {
	if mono == nil || stereo == nil || disparity == nil {
		return nil, errors.New("cannot collect samples from nil depth buffers")
	}
	if !mono.SameSize(stereo) || !mono.SameSize(disparity) {
		return nil, errors.Errorf(
			"depth buffers disagree on size: mono %dx%d, stereo %dx%d, disparity %dx%d",
			mono.Width(), mono.Height(), stereo.Width(), stereo.Height(), disparity.Width(), disparity.Height(),
		)
	}
	width, height := mono.Width(), mono.Height()
	samples := make([]Sample, 0, width*height/8)
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
			conf := pointConfidence(mv, sv, dv, x, y, width, height)
			if conf <= 0.1 {
				continue
			}
			samples = append(samples, Sample{Mono: mv, Stereo: sv, Weight: conf, X: x, Y: y})
		}
	}
	return samples, nil
}

// pointConfidence scores a paired observation. Larger disparities are better
// measured, sources that roughly agree are more trustworthy, and the image
// border (where rectification residuals concentrate) is discounted by up to
// 30%.
func pointConfidence(mono, stereo, disparity float64, x, y, width, height int) float64 {
	dispWeight := math.Min(disparity/50.0, 1.0)

	ratio := math.Min(mono/stereo, stereo/mono)
	depthWeight := ratio * ratio

	cx := float64(width) / 2.0
	cy := float64(height) / 2.0
	dx := float64(x) - cx
	dy := float64(y) - cy
	dist := math.Sqrt(dx*dx + dy*dy)
	maxDist := math.Sqrt(cx*cx + cy*cy)
	posWeight := 1.0
	if maxDist > 0 {
		posWeight = 1.0 - (dist/maxDist)*0.3
	}

	return dispWeight * depthWeight * posWeight
}

// FilterDepthRange keeps only samples whose mono and stereo depths both fall
// inside [minDepth, maxDepth].
func FilterDepthRange(samples []Sample, minDepth, maxDepth float64) []Sample {
	filtered := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Mono >= minDepth && s.Mono <= maxDepth && s.Stereo >= minDepth && s.Stereo <= maxDepth {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// RemoveRatioOutliers drops samples whose stereo/mono ratio deviates more
// than sigma standard deviations from the mean ratio. Sets of fewer than 10
// samples pass through untouched.
func RemoveRatioOutliers(samples []Sample, sigma float64) []Sample {
	if len(samples) < 10 {
		return samples
	}
	ratios := make([]float64, len(samples))
	var sum float64
	for i, s := range samples {
		ratios[i] = s.Stereo / s.Mono
		sum += ratios[i]
	}
	mean := sum / float64(len(ratios))
	var sumSq float64
	for _, r := range ratios {
		diff := r - mean
		sumSq += diff * diff
	}
	stddev := math.Sqrt(sumSq / float64(len(ratios)))
	threshold := sigma * stddev

	filtered := make([]Sample, 0, len(samples))
	for i, s := range samples {
		if math.Abs(ratios[i]-mean) <= threshold {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func validDepth(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}
