package dmap

import (
	"image"
	"testing"

	"go.viam.com/test"
)

func TestMakeRangeArray(t *testing.T) {
	test.That(t, makeRangeArray(3), test.ShouldResemble, []int{-1, 0, 1})
	test.That(t, makeRangeArray(5), test.ShouldResemble, []int{-2, -1, 0, 1, 2})
	test.That(t, makeRangeArray(4), test.ShouldResemble, []int{-2, -1, 0, 1})
	test.That(t, len(makeRangeArray(0)), test.ShouldEqual, 0)
}

func TestBoxStatsConstant(t *testing.T) {
	fm := makeConstantMap(10, 10, 55)
	mean, stddev := BoxStats(fm, 5)
	test.That(t, mean.GetXY(5, 5), test.ShouldAlmostEqual, 55, 1e-4)
	test.That(t, stddev.GetXY(5, 5), test.ShouldAlmostEqual, 0, 1e-4)
	// edges use a truncated window but stay unbiased on constant input
	test.That(t, mean.GetXY(0, 0), test.ShouldAlmostEqual, 55, 1e-4)
}

func TestBilateralFilterPreservesEdges(t *testing.T) {
	// step edge: left half 100, right half 1000
	fm := NewFloatMap(20, 10)
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			if x < 10 {
				fm.Set(x, y, 100)
			} else {
				fm.Set(x, y, 1000)
			}
		}
	}
	out := BilateralFilter(fm, 5, 7, 50)
	// far from the edge both sides are untouched
	test.That(t, out.GetXY(2, 5), test.ShouldAlmostEqual, 100, 1)
	test.That(t, out.GetXY(17, 5), test.ShouldAlmostEqual, 1000, 1)
	// the edge itself stays sharp: range kernel rejects the far side
	test.That(t, out.GetXY(9, 5), test.ShouldAlmostEqual, 100, 5)
	test.That(t, out.GetXY(10, 5), test.ShouldAlmostEqual, 1000, 5)
}

func TestGaussianFilterSkipsInvalid(t *testing.T) {
	fm := makeConstantMap(10, 10, 200)
	fm.Set(5, 5, 0) // hole
	filter := GaussianFilter(1.0)
	v := filter(image.Point{4, 5}, fm)
	test.That(t, v, test.ShouldAlmostEqual, 200, 1e-3)
}

func TestLaplacianStdDev(t *testing.T) {
	// a planar ramp has zero Laplacian response everywhere
	ramp := NewFloatMap(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			ramp.Set(x, y, float32(100+3*x+2*y))
		}
	}
	test.That(t, LaplacianStdDev(ramp), test.ShouldAlmostEqual, 0, 1e-3)

	// curvature shows up as nonzero response spread
	curved := NewFloatMap(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			curved.Set(x, y, float32(100+x*x+y*y))
		}
	}
	test.That(t, LaplacianStdDev(curved), test.ShouldBeGreaterThan, 0)
}

func TestSobelField(t *testing.T) {
	// horizontal ramp: gradient should point along +x with magnitude 8*slope
	fm := NewFloatMap(12, 12)
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			fm.Set(x, y, float32(10+5*x))
		}
	}
	vf := SobelField(fm)
	g := vf.GetVec2D(6, 6)
	test.That(t, g.Magnitude(), test.ShouldAlmostEqual, 40, 1e-6)
	test.That(t, g.Direction(), test.ShouldAlmostEqual, 0, 1e-6)

	gx, gy := vf.MeanComponents(nil)
	test.That(t, gx, test.ShouldBeGreaterThan, 0)
	test.That(t, gy, test.ShouldAlmostEqual, 0, 1e-6)
}

func TestFillInvalidRegions(t *testing.T) {
	fm := makeConstantMap(60, 60, 400)
	// poke a small hole
	for y := 29; y < 32; y++ {
		for x := 29; x < 32; x++ {
			fm.Set(x, y, 0)
		}
	}
	filled, err := FillInvalidRegions(fm, nil)
	test.That(t, err, test.ShouldBeNil)
	for y := 29; y < 32; y++ {
		for x := 29; x < 32; x++ {
			test.That(t, filled.GetXY(x, y), test.ShouldAlmostEqual, 400, 1)
		}
	}
	// original map untouched
	test.That(t, fm.GetXY(30, 30), test.ShouldEqual, 0)
}
