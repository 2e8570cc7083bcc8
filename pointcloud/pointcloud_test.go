package pointcloud

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/probelab/scopedepth/calib"
	"github.com/probelab/scopedepth/dmap"
)

func TestBasicCloud(t *testing.T) {
	cloud := New()
	test.That(t, cloud.Size(), test.ShouldEqual, 0)

	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	test.That(t, cloud.Set(r3.Vector{X: 1, Y: 2, Z: 3}, red), test.ShouldBeNil)
	test.That(t, cloud.Set(r3.Vector{X: -4, Y: 0, Z: 10}, blue), test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 2)

	c, ok := cloud.At(1, 2, 3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, red)
	_, ok = cloud.At(9, 9, 9)
	test.That(t, ok, test.ShouldBeFalse)

	// setting the same position replaces, not duplicates
	test.That(t, cloud.Set(r3.Vector{X: 1, Y: 2, Z: 3}, blue), test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 2)
	c, _ = cloud.At(1, 2, 3)
	test.That(t, c, test.ShouldResemble, blue)

	meta := cloud.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeTrue)
	test.That(t, meta.MinX, test.ShouldEqual, -4)
	test.That(t, meta.MaxX, test.ShouldEqual, 1)
	test.That(t, meta.MinZ, test.ShouldEqual, 3)
	test.That(t, meta.MaxZ, test.ShouldEqual, 10)

	err := cloud.Set(r3.Vector{X: math.NaN(), Y: 0, Z: 0}, red)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIterateStops(t *testing.T) {
	cloud := New()
	for i := 0; i < 5; i++ {
		test.That(t, cloud.Set(r3.Vector{X: float64(i)}, color.NRGBA{}), test.ShouldBeNil)
	}
	count := 0
	cloud.Iterate(func(p r3.Vector, c color.NRGBA) bool {
		count++
		return count < 3
	})
	test.That(t, count, test.ShouldEqual, 3)
}

func TestToPLY(t *testing.T) {
	cloud := New()
	test.That(t, cloud.Set(r3.Vector{X: 1, Y: 2, Z: 3}, color.NRGBA{R: 10, G: 20, B: 30, A: 255}), test.ShouldBeNil)
	test.That(t, cloud.Set(r3.Vector{X: 4, Y: 5, Z: 6}, color.NRGBA{R: 40, G: 50, B: 60, A: 255}), test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, ToPLY(cloud, &buf, "probe frame"), test.ShouldBeNil)
	out := buf.String()
	test.That(t, strings.HasPrefix(out, "ply\nformat ascii 1.0\n"), test.ShouldBeTrue)
	test.That(t, out, test.ShouldContainSubstring, "comment probe frame\n")
	test.That(t, out, test.ShouldContainSubstring, "element vertex 2\n")
	test.That(t, out, test.ShouldContainSubstring, "property uchar red\n")
	test.That(t, out, test.ShouldContainSubstring, "1.000000 2.000000 3.000000 10 20 30\n")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	test.That(t, lines[len(lines)-1], test.ShouldEqual, "4.000000 5.000000 6.000000 40 50 60")
}

func TestToPLYWithoutColor(t *testing.T) {
	cloud := New()
	test.That(t, cloud.Set(r3.Vector{X: 1, Y: 1, Z: 1}, color.NRGBA{}), test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, ToPLY(cloud, &buf, ""), test.ShouldBeNil)
	out := buf.String()
	test.That(t, out, test.ShouldNotContainSubstring, "property uchar")
	test.That(t, out, test.ShouldNotContainSubstring, "comment")
	test.That(t, out, test.ShouldContainSubstring, "1.000000 1.000000 1.000000\n")
}

func TestToPLYEmpty(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, ToPLY(New(), &buf, ""), test.ShouldNotBeNil)
	test.That(t, ToPLY(nil, &buf, ""), test.ShouldNotBeNil)
}

func testIntrinsics() *calib.CameraIntrinsics {
	return &calib.CameraIntrinsics{
		Matrix: [3][3]float64{
			{100, 0, 20},
			{0, 100, 15},
			{0, 0, 1},
		},
	}
}

func TestFromDepthMap(t *testing.T) {
	depth := dmap.NewFloatMap(40, 30)
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			depth.Set(x, y, 200)
		}
	}
	depth.Set(5, 5, 0) // hole

	cloud, err := FromDepthMap(depth, testIntrinsics(), nil, DefaultDepthWindow())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 40*30-1)

	// the principal point projects to the optical axis
	_, ok := cloud.At(0, 0, 200)
	test.That(t, ok, test.ShouldBeTrue)
	// pixel (30, 15): X = (30-20)*200/100 = 20
	_, ok = cloud.At(20, 0, 200)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cloud.MetaData().HasColor, test.ShouldBeFalse)
}

func TestFromDepthMapPixelFallback(t *testing.T) {
	depth := dmap.NewFloatMap(10, 10)
	depth.Set(3, 4, 100)

	cloud, err := FromDepthMap(depth, nil, nil, DepthWindow{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 1)
	_, ok := cloud.At(3, 4, 100)
	test.That(t, ok, test.ShouldBeTrue)
}

func TestFromDepthMapWindow(t *testing.T) {
	depth := dmap.NewFloatMap(4, 1)
	depth.Set(0, 0, 30)   // below window
	depth.Set(1, 0, 100)  // inside
	depth.Set(2, 0, 6000) // above window
	depth.Set(3, 0, 100)

	cloud, err := FromDepthMap(depth, nil, nil, DefaultDepthWindow())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 2)
}

func TestFromDepthMapColors(t *testing.T) {
	depth := dmap.NewFloatMap(2, 2)
	depth.Set(0, 0, 100)
	depth.Set(1, 1, 100)

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	cloud, err := FromDepthMap(depth, nil, img, DepthWindow{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.MetaData().HasColor, test.ShouldBeTrue)
	c, ok := cloud.At(0, 0, 100)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	// mismatched color image size is rejected
	small := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	_, err = FromDepthMap(depth, nil, small, DepthWindow{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFromDepthMapNil(t *testing.T) {
	_, err := FromDepthMap(nil, nil, nil, DepthWindow{})
	test.That(t, err, test.ShouldNotBeNil)
}
