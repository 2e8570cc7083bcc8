package mono

import (
	"context"
	"image"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/probelab/scopedepth/dmap"
)

func rampEstimator(w, h int) EstimatorFunc {
	return func(ctx context.Context, img image.Image) (*dmap.FloatMap, error) {
		fm := dmap.NewFloatMap(w, h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				fm.Set(x, y, float32(100+y))
			}
		}
		return fm, nil
	}
}

func TestAdapterRequiresEstimator(t *testing.T) {
	logger := golog.NewTestLogger(t)
	_, err := NewAdapter(nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAlignedEstimateResizes(t *testing.T) {
	logger := golog.NewTestLogger(t)
	adapter, err := NewAdapter(rampEstimator(32, 16), logger)
	test.That(t, err, test.ShouldBeNil)

	img := image.NewGray(image.Rect(0, 0, 64, 32))
	out, err := adapter.AlignedEstimate(context.Background(), img, 64, 32)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Width(), test.ShouldEqual, 64)
	test.That(t, out.Height(), test.ShouldEqual, 32)
	// the ramp survives the upsample
	test.That(t, out.GetXY(10, 2), test.ShouldBeLessThan, out.GetXY(10, 28))
}

func TestAlignedEstimateNormalizes(t *testing.T) {
	logger := golog.NewTestLogger(t)
	est := EstimatorFunc(func(ctx context.Context, img image.Image) (*dmap.FloatMap, error) {
		fm := dmap.NewFloatMap(8, 8)
		fm.Set(0, 0, float32(math.NaN()))
		fm.Set(1, 1, -10)
		fm.Set(2, 2, 300)
		return fm, nil
	})
	adapter, err := NewAdapter(est, logger)
	test.That(t, err, test.ShouldBeNil)

	out, err := adapter.AlignedEstimate(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)), 8, 8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Valid(0, 0), test.ShouldBeFalse)
	test.That(t, out.Valid(1, 1), test.ShouldBeFalse)
	test.That(t, out.GetXY(2, 2), test.ShouldEqual, 300)
}

func TestAlignedEstimatePropagatesFailure(t *testing.T) {
	logger := golog.NewTestLogger(t)
	est := EstimatorFunc(func(ctx context.Context, img image.Image) (*dmap.FloatMap, error) {
		return nil, errors.New("model not loaded")
	})
	adapter, err := NewAdapter(est, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = adapter.AlignedEstimate(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)), 8, 8)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "model not loaded")
}
