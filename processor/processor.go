// Package processor runs the full probe depth pipeline for one frame pair:
// rectification, semi-global disparity, stereo depth, mono estimation,
// mono-to-stereo calibration, and fusion. Each Process call returns a
// self-contained Result; the processor itself holds only configuration and
// the per-size rectification geometry.
package processor

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/probelab/scopedepth/calib"
	"github.com/probelab/scopedepth/calibrate"
	"github.com/probelab/scopedepth/dmap"
	"github.com/probelab/scopedepth/fusion"
	"github.com/probelab/scopedepth/mono"
	"github.com/probelab/scopedepth/stereo"
	"github.com/probelab/scopedepth/transform"
)

// FusionPolicy selects how stereo and calibrated mono depth are combined.
type FusionPolicy int

const (
	// FuseWeightedBlend mixes the two sources per pixel by stereo confidence.
	FuseWeightedBlend FusionPolicy = iota
	// FuseMonoSmoothStereo takes mono's low frequencies for scale and keeps
	// stereo's high-frequency detail where confidence is high.
	FuseMonoSmoothStereo
)

func (p FusionPolicy) String() string {
	switch p {
	case FuseMonoSmoothStereo:
		return "mono-smooth-stereo"
	default:
		return "weighted-blend"
	}
}

// Options configure every stage of the pipeline.
type Options struct {
	Disparity   stereo.DisparityOptions
	Calibration calibrate.Options
	Confidence  fusion.ConfidenceOptions
	Fusion      fusion.Options

	// Strategy is the calibration strategy to run. When AdaptiveStrategy is
	// set it is ignored and the curvature probe picks between linear and
	// adaptive nonlinear per frame.
	Strategy           calibrate.Strategy
	AdaptiveStrategy   bool
	CurvatureThreshold float64

	Policy FusionPolicy

	// FillHoles patches small invalid regions left in the fused map,
	// guided by the calibrated mono estimate.
	FillHoles bool

	// Seed drives the calibration RANSAC draws. Frames processed in the
	// same order with the same seed reproduce exactly.
	Seed int64
}

// DefaultOptions returns the close-range probe defaults.
func DefaultOptions() Options {
	return Options{
		Disparity:          stereo.DefaultDisparityOptions(),
		Calibration:        calibrate.DefaultOptions(),
		Confidence:         fusion.DefaultConfidenceOptions(),
		Fusion:             fusion.DefaultOptions(),
		Strategy:           calibrate.Linear(),
		CurvatureThreshold: 5.0,
		Policy:             FuseWeightedBlend,
		FillHoles:          true,
		Seed:               1,
	}
}

// Processor owns the engines and the lazily derived rectification geometry.
// Safe for concurrent Process calls.
type Processor struct {
	cal     *calib.StereoCalibration
	adapter *mono.Adapter
	opts    Options
	logger  golog.Logger

	matcher    *stereo.DisparityEngine
	calibrator *calibrate.Engine
	fuser      *fusion.Engine

	mu   sync.Mutex
	rect *transform.RectificationContext
	rnd  *rand.Rand
}

// New builds a processor from an already loaded stereo calibration and a
// mono depth estimator. The calibration is validated here: a bad rig is a
// configuration error, not a per-frame one.
func New(cal *calib.StereoCalibration, est mono.Estimator, opts Options, logger golog.Logger) (*Processor, error) {
	if logger == nil {
		logger = golog.Global()
	}
	if cal == nil {
		return nil, calib.NewNoCalibrationError("processor needs stereo calibration")
	}
	if err := cal.CheckValid(); err != nil {
		return nil, err
	}
	adapter, err := mono.NewAdapter(est, logger)
	if err != nil {
		return nil, err
	}
	matcher, err := stereo.NewDisparityEngine(opts.Disparity, logger)
	if err != nil {
		return nil, err
	}
	seed := opts.Seed
	if seed == 0 {
		seed = 1
	}
	return &Processor{
		cal:        cal,
		adapter:    adapter,
		opts:       opts,
		logger:     logger,
		matcher:    matcher,
		calibrator: calibrate.NewEngine(opts.Calibration, logger),
		fuser:      fusion.NewEngine(opts.Fusion, logger),
		rnd:        rand.New(rand.NewSource(seed)),
	}, nil
}

// NewFromDirectory loads the rig parameter files from dir and builds a
// processor from them.
func NewFromDirectory(dir string, est mono.Estimator, opts Options, logger golog.Logger) (*Processor, error) {
	if logger == nil {
		logger = golog.Global()
	}
	cal, err := calib.LoadFromDirectory(dir, logger)
	if err != nil {
		return nil, err
	}
	return New(cal, est, opts, logger)
}

// rectification returns the geometry for the given frame size, deriving it
// on first use and whenever the resolution changes.
func (p *Processor) rectification(width, height int) (*transform.RectificationContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rect != nil && p.rect.Width == width && p.rect.Height == height {
		return p.rect, nil
	}
	rc, err := transform.NewRectificationContext(p.cal, width, height)
	if err != nil {
		return nil, err
	}
	p.logger.Debugw("derived rectification geometry",
		"width", width,
		"height", height,
		"baseline_mm", rc.Baseline(),
		"focal_px", rc.FocalLength(),
	)
	p.rect = rc
	return rc, nil
}

// frameRand hands out an independent, reproducible random source per frame.
func (p *Processor) frameRand() *rand.Rand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return rand.New(rand.NewSource(p.rnd.Int63()))
}

// Process runs the pipeline on one frame pair. The returned error covers
// configuration and geometry problems only; a frame where calibration could
// not fit still succeeds with Calibration.Success false and stereo-only
// depth.
func (p *Processor) Process(ctx context.Context, left, right image.Image) (Result, error) {
	if left == nil || right == nil {
		return Result{}, errors.New("both frames are required")
	}
	lb, rb := left.Bounds(), right.Bounds()
	if lb.Dx() != rb.Dx() || lb.Dy() != rb.Dy() {
		return Result{}, errors.Errorf("frame sizes differ: %dx%d vs %dx%d",
			lb.Dx(), lb.Dy(), rb.Dx(), rb.Dy())
	}
	width, height := lb.Dx(), lb.Dy()

	rc, err := p.rectification(width, height)
	if err != nil {
		return Result{}, err
	}
	rectLeft, rectRight, err := rc.RectifyPair(toGray(left), toGray(right))
	if err != nil {
		return Result{}, err
	}

	disp := p.matcher.Compute(rectLeft, rectRight)
	stereoDepth, err := stereo.ReconstructFromDisparity(disp, rc.Q)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Width:          width,
		Height:         height,
		RectifiedLeft:  rectLeft,
		RectifiedRight: rectRight,
		Disparity:      disp,
		StereoDepth:    stereoDepth,
		ValidMask:      stereoDepth.ValidMask(),
	}
	grad := dmap.SobelField(stereoDepth)
	res.GradientMagnitude = grad.MagnitudeMap()

	monoRaw, err := p.adapter.AlignedEstimate(ctx, left, width, height)
	if err != nil {
		// stereo depth alone is still a usable frame
		p.logger.Warnw("mono estimation failed, keeping stereo-only depth", "error", err)
		return res, nil
	}
	res.MonoRaw = monoRaw

	strategy := p.opts.Strategy
	if p.opts.AdaptiveStrategy {
		curvature := calibrate.CurvatureProbe(stereoDepth)
		if curvature > p.opts.CurvatureThreshold {
			strategy = calibrate.AdaptiveNonlinear()
		} else {
			strategy = calibrate.Linear()
		}
		p.logger.Debugw("adaptive strategy pick",
			"curvature", curvature,
			"threshold", p.opts.CurvatureThreshold,
			"strategy", strategy.String(),
		)
	}
	res.Strategy = strategy

	// pixels left of the disparity search range never match
	leftBound := rc.LeftROI.Min.X
	if searchEdge := p.opts.Disparity.MinDisparity + p.opts.Disparity.NumDisparities; searchEdge > leftBound {
		leftBound = searchEdge
	}
	if leftBound >= width {
		leftBound = 0
	}
	res.Calibration = p.calibrator.Calibrate(strategy, monoRaw, stereoDepth, disp, nil, leftBound, p.frameRand())
	if !res.Calibration.Success {
		p.logger.Debugw("frame kept stereo-only depth", "strategy", strategy.String())
		return res, nil
	}

	res.CalibratedMono = calibrate.Apply(res.Calibration, monoRaw)
	res.Confidence = fusion.ConfidenceMap(disp, stereoDepth, p.opts.Confidence)
	switch p.opts.Policy {
	case FuseMonoSmoothStereo:
		res.Fused = p.fuser.MonoSmoothStereo(stereoDepth, res.CalibratedMono, res.Confidence)
	default:
		res.Fused = p.fuser.WeightedBlend(stereoDepth, res.CalibratedMono, res.Confidence)
	}
	if p.opts.FillHoles {
		filled, err := dmap.FillInvalidRegions(res.Fused, res.CalibratedMono)
		if err != nil {
			p.logger.Debugw("hole filling failed, keeping fused map as is", "error", err)
		} else {
			res.Fused = filled
		}
	}
	return res, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	flat := imaging.Grayscale(img)
	b := flat.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.SetGray(x, y, color.Gray{Y: flat.NRGBAAt(b.Min.X+x, b.Min.Y+y).R})
		}
	}
	return out
}
