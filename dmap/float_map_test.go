package dmap

import (
	"bytes"
	"math"
	"testing"

	"go.viam.com/test"
)

func makeConstantMap(w, h int, v float32) *FloatMap {
	fm := NewFloatMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fm.Set(x, y, v)
		}
	}
	return fm
}

func TestFloatMapBasics(t *testing.T) {
	fm := NewFloatMap(4, 3)
	test.That(t, fm.Width(), test.ShouldEqual, 4)
	test.That(t, fm.Height(), test.ShouldEqual, 3)
	test.That(t, fm.Contains(3, 2), test.ShouldBeTrue)
	test.That(t, fm.Contains(4, 2), test.ShouldBeFalse)
	test.That(t, fm.Contains(-1, 0), test.ShouldBeFalse)

	fm.Set(2, 1, 250.5)
	test.That(t, fm.GetXY(2, 1), test.ShouldEqual, 250.5)
	test.That(t, fm.Valid(2, 1), test.ShouldBeTrue)
	test.That(t, fm.Valid(0, 0), test.ShouldBeFalse)
	test.That(t, fm.CountValid(), test.ShouldEqual, 1)

	clone := fm.Clone()
	clone.Set(2, 1, 99)
	test.That(t, fm.GetXY(2, 1), test.ShouldEqual, 250.5)
}

func TestFloatMapMinMax(t *testing.T) {
	fm := NewFloatMap(3, 3)
	fm.Set(0, 0, 10)
	fm.Set(1, 1, 150)
	fm.Set(2, 2, 75)
	minV, maxV := fm.MinMax()
	test.That(t, minV, test.ShouldEqual, 10)
	test.That(t, maxV, test.ShouldEqual, 150)

	empty := NewFloatMap(3, 3)
	minV, maxV = empty.MinMax()
	test.That(t, minV, test.ShouldEqual, 0)
	test.That(t, maxV, test.ShouldEqual, 0)
}

func TestFloatMapValidMask(t *testing.T) {
	fm := NewFloatMap(3, 2)
	fm.Set(0, 0, 10)
	fm.Set(2, 1, float32(math.NaN()))
	m := fm.ValidMask()
	test.That(t, m.CountOn(), test.ShouldEqual, 1)
	test.That(t, m.On(0, 0), test.ShouldBeTrue)
	test.That(t, m.On(2, 1), test.ShouldBeFalse)
}

func TestFloatMapNormalize(t *testing.T) {
	fm := NewFloatMap(2, 2)
	fm.Set(0, 0, float32(math.NaN()))
	fm.Set(1, 0, float32(math.Inf(1)))
	fm.Set(0, 1, -5)
	fm.Set(1, 1, 42)
	fm.Normalize()
	test.That(t, fm.GetXY(0, 0), test.ShouldEqual, 0)
	test.That(t, fm.GetXY(1, 0), test.ShouldEqual, 0)
	test.That(t, fm.GetXY(0, 1), test.ShouldEqual, 0)
	test.That(t, fm.GetXY(1, 1), test.ShouldEqual, 42)
}

func TestFloatMapResize(t *testing.T) {
	fm := makeConstantMap(8, 8, 100)
	smaller := fm.Resize(4, 4)
	test.That(t, smaller.Width(), test.ShouldEqual, 4)
	test.That(t, smaller.Height(), test.ShouldEqual, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			test.That(t, smaller.GetXY(x, y), test.ShouldAlmostEqual, 100, 1e-3)
		}
	}

	bigger := fm.Resize(16, 16)
	test.That(t, bigger.GetXY(8, 8), test.ShouldAlmostEqual, 100, 1e-3)
}

func TestFloatMapMeanStdDev(t *testing.T) {
	fm := makeConstantMap(5, 5, 30)
	mean, std := fm.MeanStdDev(nil)
	test.That(t, mean, test.ShouldAlmostEqual, 30, 1e-6)
	test.That(t, std, test.ShouldAlmostEqual, 0, 1e-6)

	mask := NewMask(5, 5)
	mask.Set(0, 0, true)
	fm.Set(0, 0, 90)
	mean, _ = fm.MeanStdDev(mask)
	test.That(t, mean, test.ShouldAlmostEqual, 90, 1e-6)
}

func TestFloatMapRoundTripIO(t *testing.T) {
	fm := NewFloatMap(6, 4)
	fm.Set(1, 2, 123.25)
	fm.Set(5, 3, 88)

	var buf bytes.Buffer
	err := fm.WriteTo(&buf)
	test.That(t, err, test.ShouldBeNil)

	got, err := ReadFloatMap(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Width(), test.ShouldEqual, 6)
	test.That(t, got.Height(), test.ShouldEqual, 4)
	test.That(t, got.GetXY(1, 2), test.ShouldEqual, 123.25)
	test.That(t, got.GetXY(5, 3), test.ShouldEqual, 88)
	test.That(t, got.GetXY(0, 0), test.ShouldEqual, 0)
}
