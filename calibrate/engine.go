package calibrate

import (
	"math/rand"

	"github.com/edaniels/golog"

	"github.com/probelab/scopedepth/dmap"
)

// Engine runs depth calibration strategies with one set of Options. It holds
// no per-frame state; every call is independent.
type Engine struct {
	opts   Options
	logger golog.Logger
}

// NewEngine returns an Engine with the given options.
func NewEngine(opts Options, logger golog.Logger) *Engine {
	if logger == nil {
		logger = golog.Global()
	}
	return &Engine{opts: opts, logger: logger}
}

// Options returns the engine's tuning.
func (e *Engine) Options() Options {
	return e.opts
}

type calibrationInput struct {
	mono      *dmap.FloatMap
	stereo    *dmap.FloatMap
	disparity *dmap.FloatMap
	mask      *dmap.Mask
	leftBound int
}

func (in calibrationInput) ok() bool {
	if in.mono == nil || in.stereo == nil || in.disparity == nil {
		return false
	}
	return in.mono.SameSize(in.stereo) && in.mono.SameSize(in.disparity)
}

// Calibrate fits the given strategy against the paired buffers. mask may be
// nil to use every pixel; pixels left of leftBound are excluded (use 0 to
// keep them all). rnd drives every random draw so runs are reproducible.
// The returned Result is validated; callers must check Success before
// applying it.
func (e *Engine) Calibrate(
	strategy Strategy,
	mono, stereo, disparity *dmap.FloatMap,
	mask *dmap.Mask,
	leftBound int,
	rnd *rand.Rand,
) Result {
	in := calibrationInput{mono: mono, stereo: stereo, disparity: disparity, mask: mask, leftBound: leftBound}
	if !in.ok() {
		e.logger.Debugw("calibration skipped", "reason", "nil or mismatched buffers")
		return Result{Kind: KindLinear, Scale: 1}
	}

	var res Result
	switch strategy.kind {
	case strategyLinear:
		res = e.calibrateLinear(in, rnd)
	case strategyLayered:
		res = e.calibrateLayered(in, rnd)
	case strategyPlanarLayered:
		res = e.calibratePlanarLayered(in, rnd)
	case strategyPolynomial, strategyRadial, strategyGridBased, strategyAdaptiveNonlinear:
		res = e.calibrateNonlinear(in, strategy, rnd)
	default:
		res = e.calibrateLinear(in, rnd)
	}
	res.Validate()
	if res.Success {
		e.logger.Debugw("depth calibration fitted",
			"strategy", strategy.String(),
			"kind", res.Kind.String(),
			"scale", res.Scale,
			"bias", res.Bias,
			"rms", res.RMS,
			"inliers", res.InlierPoints,
			"total", res.TotalPoints,
		)
	} else {
		e.logger.Debugw("depth calibration rejected",
			"strategy", strategy.String(),
			"scale", res.Scale,
			"bias", res.Bias,
			"rms", res.RMS,
		)
	}
	return res
}
