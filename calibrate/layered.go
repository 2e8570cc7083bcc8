package calibrate

import (
	"image"
	"math/rand"
	"sort"

	"github.com/probelab/scopedepth/dmap"
)

// layerEdges are the depth band boundaries in millimeters. The probe works
// within a hand's breadth of the scene, so the first 120mm are split into
// 10mm bands; the far bands only catch strays so boundary spill never biases
// the near fits.
var layerEdges = []float64{
	0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120,
	140, 170, 210, 260, 320, 400, 550, 750, 1000, 1500, 2500, 5000, 10000,
}

const (
	minLayerSamples = 50
	minHoleSamples  = 10
	holeMargin      = 40
)

// collectWeightedSamples gathers samples at pixels passing keep, taking
// weights from the adaptive surface and skipping nearly weightless pixels.
func collectWeightedSamples(in calibrationInput, weights *dmap.FloatMap, keep func(x, y int) bool) []Sample {
	width, height := in.mono.Width(), in.mono.Height()
	samples := make([]Sample, 0, 256)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !keep(x, y) {
				continue
			}
			mv := float64(in.mono.GetXY(x, y))
			sv := float64(in.stereo.GetXY(x, y))
			dv := float64(in.disparity.GetXY(x, y))
			if !validDepth(mv) || !validDepth(sv) || !validDepth(dv) {
				continue
			}
			w := 1.0
			if weights != nil {
				w = float64(weights.GetXY(x, y))
			}
			if w < 0.1 {
				continue
			}
			samples = append(samples, Sample{Mono: mv, Stereo: sv, Weight: w, X: x, Y: y})
		}
	}
	return samples
}

// fitLayer is fitAffine with the relaxed sample floor used inside a single
// depth band.
func (e *Engine) fitLayer(samples []Sample, rnd *rand.Rand) Result {
	res := Result{Kind: KindLinear, Scale: 1, TotalPoints: len(samples)}
	if len(samples) < 20 {
		return res
	}
	return e.fitAffine(samples, rnd)
}

// calibrateHoleRegions fits each deep cavity on its own expanded window and
// blends the per-hole fits by their medians, so a single pathological hole
// cannot drag the correction.
func (e *Engine) calibrateHoleRegions(in calibrationInput, holes *dmap.Mask, weights *dmap.FloatMap, rnd *rand.Rand) Result {
	res := Result{Kind: KindLinear, Scale: 1, LayerIndex: -1}

	var scales, biases []float64
	for _, seg := range holes.SegmentRegions(1) {
		window := seg.Bounds.Inset(-holeMargin).Intersect(in.mono.Bounds())
		samples := collectWeightedSamples(in, weights, func(x, y int) bool {
			return image.Pt(x, y).In(window)
		})
		if len(samples) <= minHoleSamples {
			continue
		}
		fit := e.fitLayer(samples, rnd)
		if fit.Success {
			scales = append(scales, fit.Scale)
			biases = append(biases, fit.Bias)
		}
	}
	if len(scales) == 0 {
		return res
	}

	sort.Float64s(scales)
	sort.Float64s(biases)
	res.Scale = scales[len(scales)/2]
	res.Bias = biases[len(biases)/2]
	res.TotalPoints = len(scales)
	res.InlierPoints = len(scales)
	res.Success = true
	return res
}

// fuseLayerResults averages successful per-layer fits, weighting each by its
// inlier support and discounting noisy fits by their RMS. Hole fits count
// double; cavities are where the mono prior matters most.
func fuseLayerResults(layerResults []Result) Result {
	res := Result{Kind: KindLinear, Scale: 1}

	var totalWeight, weightedScale, weightedBias float64
	for _, lr := range layerResults {
		if !lr.Success {
			continue
		}
		weight := float64(lr.InlierPoints)
		if lr.RMS > 0 {
			weight /= 1.0 + lr.RMS/100.0
		}
		if lr.LayerIndex == -1 {
			weight *= 2.0
		}
		weightedScale += lr.Scale * weight
		weightedBias += lr.Bias * weight
		totalWeight += weight
	}
	if totalWeight <= 0 {
		return res
	}

	res.Scale = weightedScale / totalWeight
	res.Bias = weightedBias / totalWeight
	res.TotalPoints = len(layerResults)
	res.InlierPoints = int(totalWeight)
	res.Success = true
	return res
}

// calibrateLayered fits one affine correction per depth band and fuses
// them. Anomalous pixels are excluded from every band, deep cavities get
// their own fit, and when no band gathers enough support the whole thing
// degrades to the plain linear strategy.
func (e *Engine) calibrateLayered(in calibrationInput, rnd *rand.Rand) Result {
	anomalies := DetectAnomalies(in.stereo, in.disparity, 2.0, 5)
	holes := DetectHoleRegions(in.stereo, in.disparity, 500.0, 50)
	weights := AdaptiveWeights(in.stereo, in.disparity, anomalies)

	var layerResults []Result
	for i := 0; i < len(layerEdges)-1; i++ {
		lo, hi := layerEdges[i], layerEdges[i+1]
		samples := collectWeightedSamples(in, weights, func(x, y int) bool {
			sv := float64(in.stereo.GetXY(x, y))
			if sv < lo || sv >= hi {
				return false
			}
			if anomalies.On(x, y) {
				return false
			}
			return in.mask == nil || in.mask.On(x, y)
		})
		if len(samples) <= minLayerSamples {
			continue
		}
		fit := e.fitLayer(samples, rnd)
		if fit.Success {
			fit.LayerIndex = i
			fit.DepthMin = lo
			fit.DepthMax = hi
			layerResults = append(layerResults, fit)
		}
	}

	if holes.CountOn() > 20 {
		holeFit := e.calibrateHoleRegions(in, holes, weights, rnd)
		if holeFit.Success {
			layerResults = append(layerResults, holeFit)
		}
	}

	if len(layerResults) == 0 {
		e.logger.Debugw("no depth band fitted, falling back to linear calibration")
		return e.calibrateLinear(in, rnd)
	}
	return fuseLayerResults(layerResults)
}
