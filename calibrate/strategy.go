package calibrate

import "fmt"

type strategyKind int

const (
	strategyLinear strategyKind = iota
	strategyLayered
	strategyPlanarLayered
	strategyPolynomial
	strategyRadial
	strategyGridBased
	strategyAdaptiveNonlinear
)

// Strategy names one of the calibration algorithms together with its
// shaping parameters. Construct values with the functions below; the zero
// value is the plain linear strategy.
type Strategy struct {
	kind     strategyKind
	degree   int
	terms    int
	gridSize int
}

// Linear fits a single affine mono-to-stereo correction over the whole
// frame.
func Linear() Strategy {
	return Strategy{kind: strategyLinear}
}

// Layered fits an affine correction per depth band, densely near the probe,
// and fuses the per-band fits.
func Layered() Strategy {
	return Strategy{kind: strategyLayered}
}

// PlanarLayered restricts calibration to strongly-connected near-field
// structure and layers it by detected planes.
func PlanarLayered() Strategy {
	return Strategy{kind: strategyPlanarLayered}
}

// Polynomial fits stereo depth as a weighted polynomial in mono depth.
// Degrees outside [2,3] are clamped.
func Polynomial(degree int) Strategy {
	if degree < 2 {
		degree = 2
	}
	if degree > 3 {
		degree = 3
	}
	return Strategy{kind: strategyPolynomial, degree: degree}
}

// Radial fits the stereo/mono ratio against the normalized radius from the
// image center using the given number of even-power terms.
func Radial(terms int) Strategy {
	if terms < 1 {
		terms = 2
	}
	return Strategy{kind: strategyRadial, terms: terms}
}

// GridBased fits a per-cell mean correction ratio over an n by n grid.
func GridBased(n int) Strategy {
	if n < 2 {
		n = 8
	}
	return Strategy{kind: strategyGridBased, gridSize: n}
}

// AdaptiveNonlinear tries the polynomial and radial fits and keeps the one
// with the lower RMS.
func AdaptiveNonlinear() Strategy {
	return Strategy{kind: strategyAdaptiveNonlinear}
}

func (s Strategy) String() string {
	switch s.kind {
	case strategyLinear:
		return "linear"
	case strategyLayered:
		return "layered"
	case strategyPlanarLayered:
		return "planar-layered"
	case strategyPolynomial:
		return fmt.Sprintf("polynomial(%d)", s.degree)
	case strategyRadial:
		return fmt.Sprintf("radial(%d)", s.terms)
	case strategyGridBased:
		return fmt.Sprintf("grid(%dx%d)", s.gridSize, s.gridSize)
	case strategyAdaptiveNonlinear:
		return "adaptive-nonlinear"
	}
	return "unknown"
}
