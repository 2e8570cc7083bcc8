package calibrate

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/probelab/scopedepth/dmap"
)

const (
	minRadialSamples   = 100
	minGridCellSamples = 10
)

// solveWeightedLS solves the (already weight-scaled) design matrix by SVD,
// returning the coefficient column. Rank deficiency fails the fit.
func solveWeightedLS(a *mat.Dense, b *mat.VecDense) ([]float64, bool) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, false
	}
	rank := svd.Rank(1e-10)
	if rank == 0 {
		return nil, false
	}
	var x mat.Dense
	svd.SolveTo(&x, b, rank)
	_, cols := a.Dims()
	coeffs := make([]float64, cols)
	for i := range coeffs {
		v := x.At(i, 0)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		coeffs[i] = v
	}
	return coeffs, true
}

// calibratePolynomial fits stereo depth as a weighted polynomial in mono
// depth. Each Vandermonde row is scaled by its sample weight so confident
// pairs dominate the solution.
func calibratePolynomial(samples []Sample, degree int) Result {
	res := Result{Kind: KindPolynomial, Scale: 1}
	if len(samples) < (degree+1)*10 {
		return res
	}

	a := mat.NewDense(len(samples), degree+1, nil)
	b := mat.NewVecDense(len(samples), nil)
	for i, s := range samples {
		basis := 1.0
		for j := 0; j <= degree; j++ {
			a.Set(i, j, basis*s.Weight)
			basis *= s.Mono
		}
		b.SetVec(i, s.Stereo*s.Weight)
	}

	coeffs, ok := solveWeightedLS(a, b)
	if !ok {
		return res
	}
	res.PolyCoeffs = coeffs

	var sumSq float64
	for _, s := range samples {
		sumSq += sq(evalPolynomial(coeffs, s.Mono) - s.Stereo)
	}
	res.RMS = math.Sqrt(sumSq / float64(len(samples)))
	res.TotalPoints = len(samples)
	res.InlierPoints = len(samples)
	res.Success = true
	return res
}

func evalPolynomial(coeffs []float64, v float64) float64 {
	out := 0.0
	basis := 1.0
	for _, c := range coeffs {
		out += c * basis
		basis *= v
	}
	return out
}

// calibrateRadial fits the stereo/mono ratio as an even-power series in the
// normalized radius from center, modeling the radially symmetric residual a
// wide-angle probe lens leaves after linear correction.
func calibrateRadial(samples []Sample, center r2.Point, terms int) Result {
	res := Result{Kind: KindRadial, Scale: 1, Center: center}

	maxRadius := math.Sqrt(center.X*center.X + center.Y*center.Y)
	if maxRadius <= 0 || len(samples) < minRadialSamples {
		return res
	}

	radii := make([]float64, len(samples))
	ratios := make([]float64, len(samples))
	for i, s := range samples {
		dx := float64(s.X) - center.X
		dy := float64(s.Y) - center.Y
		radii[i] = math.Sqrt(dx*dx+dy*dy) / maxRadius
		ratios[i] = s.Stereo / s.Mono
	}

	a := mat.NewDense(len(samples), terms+1, nil)
	b := mat.NewVecDense(len(samples), nil)
	for i := range samples {
		a.Set(i, 0, 1.0)
		r2v := radii[i] * radii[i]
		basis := r2v
		for j := 1; j <= terms; j++ {
			a.Set(i, j, basis)
			basis *= r2v
		}
		b.SetVec(i, ratios[i])
	}

	coeffs, ok := solveWeightedLS(a, b)
	if !ok {
		return res
	}
	res.RadialCoeffs = coeffs

	var sumSq float64
	for i := range samples {
		sumSq += sq(evalRadial(coeffs, radii[i]) - ratios[i])
	}
	res.RMS = math.Sqrt(sumSq / float64(len(samples)))
	res.TotalPoints = len(samples)
	res.InlierPoints = len(samples)
	res.Success = true
	return res
}

func evalRadial(coeffs []float64, normRadius float64) float64 {
	out := coeffs[0]
	r2v := normRadius * normRadius
	basis := r2v
	for _, c := range coeffs[1:] {
		out += c * basis
		basis *= r2v
	}
	return out
}

// calibrateGridBased computes a mean stereo/mono ratio per cell of an
// n by n grid, yielding a coarse correction surface that Apply resizes back
// to frame resolution.
func calibrateGridBased(samples []Sample, width, height, gridSize int) Result {
	res := Result{Kind: KindGrid, Scale: 1}
	if width <= 0 || height <= 0 || len(samples) == 0 {
		return res
	}

	cellW := maxOf(1, width/gridSize)
	cellH := maxOf(1, height/gridSize)

	sumMono := make([]float64, gridSize*gridSize)
	sumStereo := make([]float64, gridSize*gridSize)
	counts := make([]int, gridSize*gridSize)
	for _, s := range samples {
		gx := minOfInt(s.X/cellW, gridSize-1)
		gy := minOfInt(s.Y/cellH, gridSize-1)
		idx := gy*gridSize + gx
		sumMono[idx] += s.Mono
		sumStereo[idx] += s.Stereo
		counts[idx]++
	}

	grid := dmap.NewFloatMap(gridSize, gridSize)
	var totalErr float64
	totalCells := 0
	for gy := 0; gy < gridSize; gy++ {
		for gx := 0; gx < gridSize; gx++ {
			idx := gy*gridSize + gx
			grid.Set(gx, gy, 1.0)
			if counts[idx] < minGridCellSamples {
				continue
			}
			meanMono := sumMono[idx] / float64(counts[idx])
			meanStereo := sumStereo[idx] / float64(counts[idx])
			if meanMono <= 0 {
				continue
			}
			factor := meanStereo / meanMono
			grid.Set(gx, gy, float32(factor))
			totalCells++

			for _, s := range samples {
				if minOfInt(s.X/cellW, gridSize-1) == gx && minOfInt(s.Y/cellH, gridSize-1) == gy {
					totalErr += sq(s.Mono*factor - s.Stereo)
				}
			}
		}
	}
	if totalCells == 0 {
		return res
	}

	res.Grid = grid
	res.RMS = math.Sqrt(totalErr / float64(totalCells*cellW*cellH))
	res.TotalPoints = totalCells
	res.InlierPoints = totalCells
	res.Success = true
	return res
}

// calibrateNonlinear dispatches the nonlinear strategies against a linear
// baseline. A nonlinear fit that fails, or whose RMS exceeds the baseline's
// by more than 10%, loses to the baseline.
func (e *Engine) calibrateNonlinear(in calibrationInput, strategy Strategy, rnd *rand.Rand) Result {
	linear := e.calibrateLinear(in, rnd)

	samples, err := CollectSamples(in.mono, in.stereo, in.disparity, in.mask, in.leftBound)
	if err != nil {
		return linear
	}
	samples = FilterDepthRange(samples, e.opts.MinDepth, e.opts.MaxDepth)
	samples = RemoveRatioOutliers(samples, e.opts.OutlierSigma)

	center := r2.Point{X: float64(in.mono.Width()) / 2.0, Y: float64(in.mono.Height()) / 2.0}

	var res Result
	switch strategy.kind {
	case strategyPolynomial:
		res = calibratePolynomial(samples, strategy.degree)
	case strategyRadial:
		res = calibrateRadial(samples, center, strategy.terms)
	case strategyGridBased:
		res = calibrateGridBased(samples, in.mono.Width(), in.mono.Height(), strategy.gridSize)
	case strategyAdaptiveNonlinear:
		poly := calibratePolynomial(samples, 2)
		radial := calibrateRadial(samples, center, 2)
		switch {
		case poly.Success && (!radial.Success || poly.RMS <= radial.RMS):
			res = poly
		case radial.Success:
			res = radial
		}
	}

	if !res.Success || (linear.Success && res.RMS > linear.RMS*1.1) {
		e.logger.Debugw("nonlinear calibration lost to linear baseline",
			"strategy", strategy.String(),
			"nonlinearRMS", res.RMS,
			"linearRMS", linear.RMS,
			"nonlinearOK", res.Success,
		)
		return linear
	}
	return res
}

func sq(v float64) float64 {
	return v * v
}

func minOfInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
