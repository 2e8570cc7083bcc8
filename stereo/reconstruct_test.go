package stereo

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/probelab/scopedepth/dmap"
)

// reprojection matrix of an ideal rig: focal 200px, baseline 25mm,
// principal point (32, 24)
func testQ() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, -32,
		0, 1, 0, -24,
		0, 0, 0, 200,
		0, 0, 1.0 / 25.0, 0,
	})
}

func TestReconstructFromDisparity(t *testing.T) {
	q := testQ()
	disp := dmap.NewFloatMap(64, 48)
	disp.Set(10, 10, 10) // depth = f*b/d = 200*25/10 = 500mm
	disp.Set(20, 20, 50) // 100mm
	disp.Set(30, 30, -3) // invalid

	depth, err := ReconstructFromDisparity(disp, q)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, float64(depth.GetXY(10, 10)), test.ShouldAlmostEqual, 500, 1e-3)
	test.That(t, float64(depth.GetXY(20, 20)), test.ShouldAlmostEqual, 100, 1e-3)
	test.That(t, depth.Valid(30, 30), test.ShouldBeFalse)
	test.That(t, depth.Valid(0, 0), test.ShouldBeFalse)
}

func TestDepthMonotonicInDisparity(t *testing.T) {
	q := testQ()
	disp := dmap.NewFloatMap(8, 1)
	for x := 0; x < 8; x++ {
		disp.Set(x, 0, float32(4*(x+1)))
	}
	depth, err := ReconstructFromDisparity(disp, q)
	test.That(t, err, test.ShouldBeNil)
	// larger disparity means closer surface
	for x := 1; x < 8; x++ {
		test.That(t, depth.GetXY(x, 0), test.ShouldBeLessThan, depth.GetXY(x-1, 0))
	}
}

func TestDisparityDepthRoundTrip(t *testing.T) {
	q := testQ()
	disp := dmap.NewFloatMap(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			disp.Set(x, y, float32(5+x)+0.25)
		}
	}
	depth, err := ReconstructFromDisparity(disp, q)
	test.That(t, err, test.ShouldBeNil)
	back, err := DisparityFromDepth(depth, q)
	test.That(t, err, test.ShouldBeNil)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			test.That(t, float64(back.GetXY(x, y)), test.ShouldAlmostEqual, float64(disp.GetXY(x, y)), 1e-3)
		}
	}
}

func TestReconstructChecksQ(t *testing.T) {
	disp := dmap.NewFloatMap(4, 4)
	disp.Set(0, 0, 1)
	_, err := ReconstructFromDisparity(disp, nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReconstructFromDisparity(disp, mat.NewDense(3, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)

	// empty disparity is not an error
	out, err := ReconstructFromDisparity(dmap.NewFloatMap(0, 0), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.HasData(), test.ShouldBeFalse)
}
