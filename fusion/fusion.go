// Package fusion merges metric stereo depth with calibrated mono depth into
// a single map, guided by a per-pixel confidence in the stereo measurement.
package fusion

import (
	"math"

	"github.com/edaniels/golog"

	"github.com/probelab/scopedepth/dmap"
)

// ConfidenceOptions scales the three confidence terms. All lengths are in
// millimeters.
type ConfidenceOptions struct {
	// DisparityScale is the disparity at which the measurement is considered
	// fully resolved.
	DisparityScale float64
	// DepthScale is the e-folding depth of confidence decay; far pixels
	// carry less signal per disparity step.
	DepthScale float64
	// GradientScale is the e-folding depth gradient; edges are where stereo
	// matching fails silently.
	GradientScale float64
}

// DefaultConfidenceOptions returns the probe rig tuning.
func DefaultConfidenceOptions() ConfidenceOptions {
	return ConfidenceOptions{
		DisparityScale: 30.0,
		DepthScale:     1500.0,
		GradientScale:  5.0,
	}
}

// ConfidenceMap scores each stereo depth pixel in [0,1]. Pixels without a
// valid disparity get zero confidence.
func ConfidenceMap(disparity, depth *dmap.FloatMap, opts ConfidenceOptions) *dmap.FloatMap {
	if disparity == nil || depth == nil || !disparity.SameSize(depth) {
		return dmap.NewFloatMap(0, 0)
	}
	width, height := disparity.Width(), disparity.Height()
	grad := dmap.SobelField(depth)

	conf := dmap.NewFloatMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !disparity.Valid(x, y) {
				continue
			}
			d := float64(disparity.GetXY(x, y))
			z := float64(depth.GetXY(x, y))
			g := grad.GetVec2D(x, y).Magnitude()

			dispWeight := math.Min(math.Max(d/opts.DisparityScale, 0.1), 1.0)
			depthWeight := math.Exp(-z / opts.DepthScale)
			gradWeight := math.Exp(-g / opts.GradientScale)
			conf.Set(x, y, float32(dispWeight*depthWeight*gradWeight))
		}
	}
	return conf
}

// Options tunes the fusion engine.
type Options struct {
	// ConfidenceGamma shapes the blend factor, alpha = conf^gamma.
	ConfidenceGamma float64
	// ConfidenceThreshold gates the stereo high-frequency injection.
	ConfidenceThreshold float64
	// Bilateral low-pass parameters shared by both sources.
	BilateralDiameter   int
	BilateralSigmaSpace float64
	BilateralSigmaRange float64
}

// DefaultOptions returns the fusion tuning.
func DefaultOptions() Options {
	return Options{
		ConfidenceGamma:     1.0,
		ConfidenceThreshold: 0.3,
		BilateralDiameter:   5,
		BilateralSigmaSpace: 7.0,
		BilateralSigmaRange: 50.0,
	}
}

// Engine fuses depth maps. It is stateless between calls.
type Engine struct {
	opts   Options
	logger golog.Logger
}

// NewEngine returns a fusion engine.
func NewEngine(opts Options, logger golog.Logger) *Engine {
	if logger == nil {
		logger = golog.Global()
	}
	return &Engine{opts: opts, logger: logger}
}

// WeightedBlend mixes the two sources per pixel by stereo confidence.
// Where only one source is valid it passes through; nil confidence trusts
// stereo fully.
func (e *Engine) WeightedBlend(stereo, mono, confidence *dmap.FloatMap) *dmap.FloatMap {
	if stereo == nil || mono == nil || !stereo.SameSize(mono) {
		e.logger.Debugw("weighted blend skipped", "reason", "nil or mismatched buffers")
		return stereo
	}
	width, height := stereo.Width(), stereo.Height()
	fused := dmap.NewFloatMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sv := stereo.GetXY(x, y)
			mv := mono.GetXY(x, y)
			sOK := stereo.Valid(x, y)
			mOK := mono.Valid(x, y)
			switch {
			case sOK && mOK:
				w := 1.0
				if confidence != nil && confidence.Contains(x, y) {
					w = math.Min(float64(confidence.GetXY(x, y)), 1.0)
				}
				fused.Set(x, y, float32(w*float64(sv)+(1.0-w)*float64(mv)))
			case sOK:
				fused.Set(x, y, sv)
			case mOK:
				fused.Set(x, y, mv)
			}
		}
	}
	return fused
}

// MonoSmoothStereo keeps stereo as the metric base but replaces its low
/// frequencies with the mono prior where confidence is poor: both sources
// are bilateral low-passed, blended by alpha = conf^gamma, and the stereo
// high-frequency residual is re-injected only where confidence clears the
// threshold. Pixels with a single valid source pass that source through.
func (e *Engine) MonoSmoothStereo(stereo, mono, confidence *dmap.FloatMap) *dmap.FloatMap {
	if stereo == nil || mono == nil || !stereo.SameSize(mono) {
		e.logger.Debugw("mono-smooth-stereo fusion skipped", "reason", "nil or mismatched buffers")
		return stereo
	}
	width, height := stereo.Width(), stereo.Height()

	monoLow := dmap.BilateralFilter(mono, e.opts.BilateralDiameter, e.opts.BilateralSigmaSpace, e.opts.BilateralSigmaRange)
	stereoLow := dmap.BilateralFilter(stereo, e.opts.BilateralDiameter, e.opts.BilateralSigmaSpace, e.opts.BilateralSigmaRange)

	fused := dmap.NewFloatMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sOK := stereo.Valid(x, y) && stereoLow.Valid(x, y)
			mOK := mono.Valid(x, y) && monoLow.Valid(x, y)
			switch {
			case sOK && mOK:
				conf := 0.0
				if confidence != nil && confidence.Contains(x, y) {
					conf = float64(confidence.GetXY(x, y))
				}
				alpha := math.Pow(math.Min(math.Max(conf, 0), 1), e.opts.ConfidenceGamma)
				base := alpha*float64(stereoLow.GetXY(x, y)) + (1.0-alpha)*float64(monoLow.GetXY(x, y))
				if conf > e.opts.ConfidenceThreshold {
					base += float64(stereo.GetXY(x, y) - stereoLow.GetXY(x, y))
				}
				fused.Set(x, y, float32(base))
			case stereo.Valid(x, y):
				fused.Set(x, y, stereo.GetXY(x, y))
			case mono.Valid(x, y):
				fused.Set(x, y, mono.GetXY(x, y))
			}
		}
	}
	return fused.Normalize()
}
