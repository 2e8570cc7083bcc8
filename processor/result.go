package processor

import (
	"image"

	"github.com/probelab/scopedepth/calibrate"
	"github.com/probelab/scopedepth/dmap"
)

// Result holds everything one frame produced. All buffers share the frame's
// dimensions and belong to the caller; the processor keeps no reference to
// them, so results from concurrent frames never alias.
//
// CalibratedMono, Confidence and Fused are nil when calibration failed for
// the frame; StereoDepth is still usable then.
type Result struct {
	Width  int
	Height int

	RectifiedLeft  *image.Gray
	RectifiedRight *image.Gray

	Disparity   *dmap.FloatMap
	StereoDepth *dmap.FloatMap

	MonoRaw        *dmap.FloatMap
	CalibratedMono *dmap.FloatMap

	Confidence *dmap.FloatMap
	Fused      *dmap.FloatMap

	// ValidMask is on where stereo depth is usable; GradientMagnitude is
	// the Sobel magnitude of the stereo depth.
	ValidMask         *dmap.Mask
	GradientMagnitude *dmap.FloatMap

	// Strategy is the calibration strategy that actually ran, after any
	// adaptive selection.
	Strategy    calibrate.Strategy
	Calibration calibrate.Result
}

// Depth returns the best depth map the frame produced: fused when
// calibration succeeded, stereo-only otherwise.
func (r Result) Depth() *dmap.FloatMap {
	if r.Fused != nil {
		return r.Fused
	}
	return r.StereoDepth
}
