package stereo

import (
	"image"
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

// shiftedPair builds a textured left image and a right image whose content
// sits shift pixels to the left, i.e. a uniform disparity of shift.
func shiftedPair(w, h, shift int, seed int64) (*image.Gray, *image.Gray) {
	rnd := rand.New(rand.NewSource(seed))
	wide := image.NewGray(image.Rect(0, 0, w+shift, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w+shift; x++ {
			wide.Pix[y*wide.Stride+x] = uint8(rnd.Intn(256))
		}
	}
	left := image.NewGray(image.Rect(0, 0, w, h))
	right := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			left.Pix[y*left.Stride+x] = wide.Pix[y*wide.Stride+x+shift]
			right.Pix[y*right.Stride+x] = wide.Pix[y*wide.Stride+x]
		}
	}
	return left, right
}

func TestDisparityOptionsValidation(t *testing.T) {
	logger := golog.NewTestLogger(t)

	_, err := NewDisparityEngine(DisparityOptions{NumDisparities: 15, BlockSize: 5}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewDisparityEngine(DisparityOptions{NumDisparities: 16, BlockSize: 4}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewDisparityEngine(DisparityOptions{NumDisparities: 16, BlockSize: 5, MinDisparity: -2}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	eng, err := NewDisparityEngine(DisparityOptions{NumDisparities: 16, BlockSize: 5}, logger)
	test.That(t, err, test.ShouldBeNil)
	// penalty defaults follow the block size
	test.That(t, eng.Options().P1, test.ShouldEqual, 8*5*5)
	test.That(t, eng.Options().P2, test.ShouldEqual, 32*5*5)
	test.That(t, eng.Options().PreFilterCap, test.ShouldEqual, 63)
}

func TestComputeUniformShift(t *testing.T) {
	logger := golog.NewTestLogger(t)
	opts := DefaultDisparityOptions()
	opts.NumDisparities = 16
	opts.SpeckleWindowSize = 0
	eng, err := NewDisparityEngine(opts, logger)
	test.That(t, err, test.ShouldBeNil)

	const shift = 4
	left, right := shiftedPair(80, 40, shift, 42)
	disp := eng.Compute(left, right)
	test.That(t, disp.Width(), test.ShouldEqual, 80)
	test.That(t, disp.Height(), test.ShouldEqual, 40)

	// interior pixels recover the shift to sub-pixel precision
	good, total := 0, 0
	for y := 4; y < 36; y++ {
		for x := 12; x < 76; x++ {
			if !disp.Valid(x, y) {
				continue
			}
			total++
			d := float64(disp.GetXY(x, y))
			if d > shift-1 && d < shift+1 {
				good++
			}
		}
	}
	test.That(t, total, test.ShouldBeGreaterThan, 1000)
	test.That(t, float64(good)/float64(total), test.ShouldBeGreaterThan, 0.9)
}

func TestComputeHandlesBadInputs(t *testing.T) {
	logger := golog.NewTestLogger(t)
	eng, err := NewDisparityEngine(DefaultDisparityOptions(), logger)
	test.That(t, err, test.ShouldBeNil)

	disp := eng.Compute(nil, nil)
	test.That(t, disp.HasData(), test.ShouldBeFalse)

	small := image.NewGray(image.Rect(0, 0, 8, 8))
	big := image.NewGray(image.Rect(0, 0, 16, 16))
	disp = eng.Compute(small, big)
	test.That(t, disp.HasData(), test.ShouldBeFalse)
}

func TestPrefilterClampsDerivative(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 5, 1))
	for x, v := range []uint8{0, 0, 255, 255, 255} {
		img.Pix[x] = v
	}
	pre := prefilterXDerivative(img, 31)
	// borders have no derivative
	test.That(t, pre[0], test.ShouldEqual, 31)
	test.That(t, pre[4], test.ShouldEqual, 31)
	// the step saturates the clamp
	test.That(t, pre[1], test.ShouldEqual, 62)
	test.That(t, pre[2], test.ShouldEqual, 62)
	test.That(t, pre[3], test.ShouldEqual, 31)
}

func TestFilterSpeckles(t *testing.T) {
	const w, h = 10, 6
	d16 := make([]int32, w*h)
	for i := range d16 {
		d16[i] = invalidDisp16
	}
	// a large consistent region
	for y := 0; y < h; y++ {
		for x := 0; x < 6; x++ {
			d16[y*w+x] = 64
		}
	}
	// a 2-pixel speckle far from it
	d16[2*w+8] = 160
	d16[3*w+8] = 161

	filterSpeckles(d16, w, h, invalidDisp16, 5, 32)
	test.That(t, d16[0], test.ShouldEqual, 64)
	test.That(t, d16[2*w+8], test.ShouldEqual, invalidDisp16)
	test.That(t, d16[3*w+8], test.ShouldEqual, invalidDisp16)
}
