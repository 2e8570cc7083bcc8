package calibrate

import (
	"math"
	"math/rand"
)

// ransacLinearFit searches for the affine map explaining the most samples
// within the residual threshold, sampling 2-point hypotheses from rnd. It
// fails when no hypothesis reaches the minimum inlier count.
func ransacLinearFit(samples []Sample, rnd *rand.Rand, opts Options) (float64, float64, bool) {
	if len(samples) < 2 {
		return 1, 0, false
	}
	bestScale, bestBias := 1.0, 0.0
	bestInliers := 0
	minInliers := maxOf(10, int(float64(len(samples))*opts.MinInlierRatio))

	for iter := 0; iter < opts.MaxIterations; iter++ {
		i := rnd.Intn(len(samples))
		j := rnd.Intn(len(samples))
		for j == i {
			j = rnd.Intn(len(samples))
		}
		p1, p2 := samples[i], samples[j]
		if math.Abs(p2.Mono-p1.Mono) < 1e-6 {
			continue
		}
		scale := (p2.Stereo - p1.Stereo) / (p2.Mono - p1.Mono)
		bias := p1.Stereo - scale*p1.Mono
		if math.IsNaN(scale) || math.IsInf(scale, 0) || math.IsNaN(bias) || math.IsInf(bias, 0) {
			continue
		}

		inliers := 0
		for _, s := range samples {
			if math.Abs(s.Stereo-(scale*s.Mono+bias)) < opts.RANSACThreshold {
				inliers++
			}
		}
		if inliers > bestInliers && inliers >= minInliers {
			bestInliers = inliers
			bestScale = scale
			bestBias = bias
		}
	}

	return bestScale, bestBias, bestInliers >= minInliers
}

// weightedLeastSquares solves the confidence-weighted normal equations for
// the affine map, ridge-regularized toward scale 1 and bias 0 so sparse or
// degenerate sample sets stay close to the identity correction.
func weightedLeastSquares(samples []Sample, lambdaScale, lambdaBias float64) (float64, float64, bool) {
	if len(samples) < 2 {
		return 1, 0, false
	}
	var sumW, sumWX, sumWY, sumWXX, sumWXY float64
	for _, s := range samples {
		w := s.Weight
		sumW += w
		sumWX += w * s.Mono
		sumWY += w * s.Stereo
		sumWXX += w * s.Mono * s.Mono
		sumWXY += w * s.Mono * s.Stereo
	}

	a11 := sumWXX + lambdaScale
	a12 := sumWX
	a22 := sumW + lambdaBias
	b1 := sumWXY + lambdaScale // prior scale of 1
	b2 := sumWY                // prior bias of 0

	det := a11*a22 - a12*a12
	if math.Abs(det) < 1e-8 {
		return 1, 0, false
	}
	scale := (b1*a22 - a12*b2) / det
	bias := (-b1*a12 + a11*b2) / det
	if math.IsNaN(scale) || math.IsInf(scale, 0) || math.IsNaN(bias) || math.IsInf(bias, 0) {
		return 1, 0, false
	}
	return scale, bias, true
}

// plainLeastSquares is the unweighted closed-form affine fit, the last
// resort of the fallback chain.
func plainLeastSquares(samples []Sample) (float64, float64, bool) {
	if len(samples) < 2 {
		return 1, 0, false
	}
	var sumX, sumY, sumXX, sumXY float64
	for _, s := range samples {
		sumX += s.Mono
		sumY += s.Stereo
		sumXX += s.Mono * s.Mono
		sumXY += s.Mono * s.Stereo
	}
	n := float64(len(samples))
	denom := n*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-8 {
		return 1, 0, false
	}
	scale := (n*sumXY - sumX*sumY) / denom
	bias := (sumY - scale*sumX) / n
	if math.IsNaN(scale) || math.IsInf(scale, 0) || math.IsNaN(bias) || math.IsInf(bias, 0) {
		return 1, 0, false
	}
	return scale, bias, true
}

func affineInliers(samples []Sample, scale, bias, threshold float64) []Sample {
	inliers := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if math.Abs(s.Stereo-(scale*s.Mono+bias)) < threshold {
			inliers = append(inliers, s)
		}
	}
	return inliers
}

func affineRMS(samples []Sample, scale, bias float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		err := s.Stereo - (scale*s.Mono + bias)
		sumSq += err * err
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// fitAffine runs the full robust chain over the samples: RANSAC for a
// coarse hypothesis, weighted least squares over its inliers for precision,
// then weighted and plain least squares over everything when RANSAC finds
// no consensus.
func (e *Engine) fitAffine(samples []Sample, rnd *rand.Rand) Result {
	res := Result{Kind: KindLinear, Scale: 1, TotalPoints: len(samples)}
	if len(samples) < 2 {
		return res
	}

	scale, bias, ok := ransacLinearFit(samples, rnd, e.opts)
	if !ok {
		if s, b, wok := weightedLeastSquares(samples, e.opts.LambdaScale, e.opts.LambdaBias); wok {
			res.Scale, res.Bias = s, b
		} else if s, b, pok := plainLeastSquares(samples); pok {
			res.Scale, res.Bias = s, b
		} else {
			return res
		}
		res.InlierPoints = len(samples)
		res.RMS = affineRMS(samples, res.Scale, res.Bias)
		res.Success = true
		return res
	}

	inliers := affineInliers(samples, scale, bias, e.opts.RANSACThreshold)
	res.InlierPoints = len(inliers)
	res.Scale, res.Bias = scale, bias
	if len(inliers) >= 10 {
		if s, b, wok := weightedLeastSquares(inliers, e.opts.LambdaScale, e.opts.LambdaBias); wok {
			res.Scale, res.Bias = s, b
		}
	}
	if len(inliers) > 0 {
		res.RMS = affineRMS(inliers, res.Scale, res.Bias)
	} else {
		res.RMS = affineRMS(samples, res.Scale, res.Bias)
	}
	res.Success = true
	return res
}

// calibrateLinear is the whole-frame affine strategy: collect, window,
// de-outlier, fit.
func (e *Engine) calibrateLinear(in calibrationInput, rnd *rand.Rand) Result {
	samples, err := CollectSamples(in.mono, in.stereo, in.disparity, in.mask, in.leftBound)
	if err != nil {
		e.logger.Debugw("sample collection failed", "error", err)
		return Result{Kind: KindLinear, Scale: 1}
	}
	samples = FilterDepthRange(samples, e.opts.MinDepth, e.opts.MaxDepth)
	samples = RemoveRatioOutliers(samples, e.opts.OutlierSigma)
	if len(samples) < e.opts.MinSamples {
		e.logger.Debugw("not enough calibration samples", "have", len(samples), "want", e.opts.MinSamples)
		return Result{Kind: KindLinear, Scale: 1, TotalPoints: len(samples)}
	}
	return e.fitAffine(samples, rnd)
}
