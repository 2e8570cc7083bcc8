package calibrate

import (
	"math"

	"github.com/probelab/scopedepth/dmap"
)

// DetectAnomalies flags stereo depth pixels that disagree with their local
// neighborhood by more than sigma local standard deviations, opened to drop
// isolated hits, unioned with regions where the disparity gradient spikes
// above 30% of its maximum. Those are the points a depth-band calibration
// must not trust.
func DetectAnomalies(depth, disparity *dmap.FloatMap, sigma float64, window int) *dmap.Mask {
	if depth == nil || disparity == nil || !depth.SameSize(disparity) {
		return dmap.NewMask(0, 0)
	}
	width, height := depth.Width(), depth.Height()

	mean, stddev := dmap.BoxStats(depth, window)
	local := dmap.NewMask(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !depth.Valid(x, y) {
				continue
			}
			diff := math.Abs(float64(depth.GetXY(x, y) - mean.GetXY(x, y)))
			if diff > sigma*float64(stddev.GetXY(x, y)) {
				local.Set(x, y, true)
			}
		}
	}
	isolated := local.OpenSquare()

	grad := dmap.SobelField(disparity)
	maxGrad := grad.MaxMagnitude()
	high := dmap.NewMask(width, height)
	if maxGrad > 0 {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if grad.GetVec2D(x, y).Magnitude() > 0.3*maxGrad {
					high.Set(x, y, true)
				}
			}
		}
	}

	return isolated.Union(high)
}

// DetectHoleRegions finds the deep cavities of the scene: connected regions
// where measured stereo depth exceeds depthThreshold while disparity is
// still valid. Small regions are dropped; the rest come back as one mask.
func DetectHoleRegions(depth, disparity *dmap.FloatMap, depthThreshold float64, minArea int) *dmap.Mask {
	if depth == nil || disparity == nil || !depth.SameSize(disparity) {
		return dmap.NewMask(0, 0)
	}
	width, height := depth.Width(), depth.Height()

	deep := dmap.NewMask(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if float64(depth.GetXY(x, y)) > depthThreshold && disparity.Valid(x, y) {
				deep.Set(x, y, true)
			}
		}
	}
	// Close with an effective 5x5 element to bridge pinholes inside cavities.
	connected := deep.DilateSquare().DilateSquare().ErodeSquare().ErodeSquare()

	holes := dmap.NewMask(width, height)
	for _, seg := range connected.SegmentRegions(minArea) {
		for _, p := range seg.Points {
			holes.Set(p.X, p.Y, true)
		}
	}
	return holes
}

// AdaptiveWeights builds the per-pixel confidence surface layered
// calibration samples from: anomalies are nearly zeroed, weak disparities
// are discounted proportionally, and strong depth gradients (likely noise
// or true edges) count half.
func AdaptiveWeights(depth, disparity *dmap.FloatMap, anomalies *dmap.Mask) *dmap.FloatMap {
	if depth == nil {
		return dmap.NewFloatMap(0, 0)
	}
	width, height := depth.Width(), depth.Height()
	weights := dmap.NewFloatMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			weight := 1.0

			if anomalies != nil && anomalies.Contains(x, y) && anomalies.On(x, y) {
				weight *= 0.1
			}

			if disparity != nil && disparity.Contains(x, y) {
				if d := float64(disparity.GetXY(x, y)); d > 0 {
					weight *= math.Min(d/50.0, 1.0)
				}
			}

			if x > 0 && x < width-1 && y > 0 && y < height-1 {
				gx := math.Abs(float64(depth.GetXY(x+1, y)-depth.GetXY(x-1, y))) / 2.0
				gy := math.Abs(float64(depth.GetXY(x, y+1)-depth.GetXY(x, y-1))) / 2.0
				if math.Sqrt(gx*gx+gy*gy) > 100.0 {
					weight *= 0.5
				}
			}

			weights.Set(x, y, float32(weight))
		}
	}
	return weights
}
