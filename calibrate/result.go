package calibrate

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/probelab/scopedepth/dmap"
)

// Kind tells how a Result maps mono depth to stereo depth, which Apply
// dispatches on.
type Kind int

const (
	// KindLinear is the affine map stereo = Scale*mono + Bias.
	KindLinear Kind = iota
	// KindPolynomial evaluates PolyCoeffs as a polynomial in mono depth.
	KindPolynomial
	// KindRadial multiplies mono depth by an even-power correction in the
	// normalized radius from Center.
	KindRadial
	// KindGrid multiplies mono depth by the Grid surface resized to the
	// frame.
	KindGrid
)

func (k Kind) String() string {
	switch k {
	case KindLinear:
		return "linear"
	case KindPolynomial:
		return "polynomial"
	case KindRadial:
		return "radial"
	case KindGrid:
		return "grid"
	}
	return "unknown"
}

// Result is one calibration outcome. Success reflects both fit convergence
// and the sanity bounds in Validate; a Result with Success false must not be
// applied.
type Result struct {
	Success bool
	Kind    Kind

	// Affine parameters, the baseline every strategy reports.
	Scale float64
	Bias  float64

	// PolyCoeffs holds [a0, a1, ...] for KindPolynomial.
	PolyCoeffs []float64
	// RadialCoeffs holds [c0, k1, k2, ...] for KindRadial, applied as
	// c0 + k1*r^2 + k2*r^4 + ...
	RadialCoeffs []float64
	// Center is the radial correction center in pixels.
	Center r2.Point
	// Grid is the coarse correction-factor surface for KindGrid.
	Grid *dmap.FloatMap

	RMS          float64
	TotalPoints  int
	InlierPoints int

	// Layer bookkeeping for the layered strategies.
	LayerIndex int
	DepthMin   float64
	DepthMax   float64

	// Plane structure for the planar strategy.
	Planar      bool
	PlaneNormal r3.Vector
	PlaneAngle  float64
	PlaneCenter r3.Vector
	CameraTilt  float64
}

// Sanity bounds on any accepted calibration. A correction outside these is
// worse than no correction.
const (
	minValidScale = 0.5
	maxValidScale = 2.0
	maxValidBias  = 1000.0
	maxValidRMS   = 20.0
)

// Validate clears Success when the fitted parameters fall outside the
// trusted envelope of the probe rig.
func (r *Result) Validate() {
	if !r.Success {
		return
	}
	if r.Scale < minValidScale || r.Scale > maxValidScale {
		r.Success = false
		return
	}
	if math.Abs(r.Bias) > maxValidBias {
		r.Success = false
		return
	}
	if r.RMS > maxValidRMS {
		r.Success = false
	}
}
