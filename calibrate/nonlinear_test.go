package calibrate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestCalibratePolynomial(t *testing.T) {
	samples := make([]Sample, 0, 400)
	for i := 0; i < 400; i++ {
		m := 60 + float64(i)
		samples = append(samples, Sample{
			Mono:   m,
			Stereo: 5 + 1.0*m + 2e-4*m*m,
			Weight: 1,
			X:      i % 80,
			Y:      i / 80,
		})
	}

	res := calibratePolynomial(samples, 2)
	test.That(t, res.Success, test.ShouldBeTrue)
	test.That(t, res.Kind, test.ShouldEqual, KindPolynomial)
	test.That(t, len(res.PolyCoeffs), test.ShouldEqual, 3)
	test.That(t, res.PolyCoeffs[0], test.ShouldAlmostEqual, 5, 0.1)
	test.That(t, res.PolyCoeffs[1], test.ShouldAlmostEqual, 1.0, 0.01)
	test.That(t, res.PolyCoeffs[2], test.ShouldAlmostEqual, 2e-4, 1e-5)
	test.That(t, res.RMS, test.ShouldBeLessThan, 0.01)
}

func TestCalibrateRadial(t *testing.T) {
	center := r2.Point{X: 20, Y: 20}
	maxRadius := math.Sqrt(center.X*center.X + center.Y*center.Y)
	samples := make([]Sample, 0, 41*41)
	for y := 0; y <= 40; y++ {
		for x := 0; x <= 40; x++ {
			dx := float64(x) - center.X
			dy := float64(y) - center.Y
			r := math.Sqrt(dx*dx+dy*dy) / maxRadius
			samples = append(samples, Sample{
				Mono:   100,
				Stereo: 100 * (1 + 0.1*r*r),
				Weight: 1,
				X:      x,
				Y:      y,
			})
		}
	}

	res := calibrateRadial(samples, center, 2)
	test.That(t, res.Success, test.ShouldBeTrue)
	test.That(t, res.Kind, test.ShouldEqual, KindRadial)
	test.That(t, res.RadialCoeffs[0], test.ShouldAlmostEqual, 1, 0.01)
	test.That(t, res.RadialCoeffs[1], test.ShouldAlmostEqual, 0.1, 0.01)
	test.That(t, res.RMS, test.ShouldBeLessThan, 0.01)
}

func TestCalibrateGridBased(t *testing.T) {
	samples := make([]Sample, 0, 1600)
	for y := 0; y < 80; y += 2 {
		for x := 0; x < 80; x += 2 {
			stereo := 100.0
			if x >= 40 {
				stereo = 130.0
			}
			samples = append(samples, Sample{Mono: 100, Stereo: stereo, Weight: 1, X: x, Y: y})
		}
	}

	res := calibrateGridBased(samples, 80, 80, 4)
	test.That(t, res.Success, test.ShouldBeTrue)
	test.That(t, res.Kind, test.ShouldEqual, KindGrid)
	test.That(t, res.Grid, test.ShouldNotBeNil)
	test.That(t, res.Grid.GetXY(0, 0), test.ShouldAlmostEqual, 1.0, 1e-5)
	test.That(t, res.Grid.GetXY(3, 0), test.ShouldAlmostEqual, 1.3, 1e-5)
}

func TestNonlinearInsufficientSamples(t *testing.T) {
	few := []Sample{{Mono: 100, Stereo: 110, Weight: 1}}
	test.That(t, calibratePolynomial(few, 2).Success, test.ShouldBeFalse)
	test.That(t, calibrateRadial(few, r2.Point{X: 10, Y: 10}, 2).Success, test.ShouldBeFalse)
	test.That(t, calibrateGridBased(nil, 80, 80, 8).Success, test.ShouldBeFalse)
}

func TestAdaptivePrefersBetterModel(t *testing.T) {
	// curvature in depth, not in radius: the polynomial must win
	samples := make([]Sample, 0, 400)
	for i := 0; i < 400; i++ {
		m := 60 + float64(i)
		samples = append(samples, Sample{
			Mono:   m,
			Stereo: 5 + 1.0*m + 2e-4*m*m,
			Weight: 1,
			X:      i % 80,
			Y:      i / 80,
		})
	}
	poly := calibratePolynomial(samples, 2)
	radial := calibrateRadial(samples, r2.Point{X: 40, Y: 2.5}, 2)
	test.That(t, poly.Success, test.ShouldBeTrue)
	test.That(t, radial.Success, test.ShouldBeTrue)
	test.That(t, poly.RMS, test.ShouldBeLessThan, radial.RMS)
}

func TestEnginePolynomialCalibration(t *testing.T) {
	e := NewEngine(DefaultOptions(), golog.NewTestLogger(t))
	rnd := rand.New(rand.NewSource(9))
	mono, stereo, disp := rampInput(80, 80, func(m float64) float64 {
		return 2e-4*m*m + 1.05*m
	})

	res := e.Calibrate(Polynomial(2), mono, stereo, disp, nil, 0, rnd)
	test.That(t, res.Success, test.ShouldBeTrue)
	test.That(t, res.Kind, test.ShouldEqual, KindPolynomial)

	calibrated := Apply(res, mono)
	test.That(t, calibrated, test.ShouldNotBeNil)
	test.That(t, calibrated.GetXY(40, 40), test.ShouldAlmostEqual, stereo.GetXY(40, 40), 1)
}
