package calibrate

import (
	"testing"

	"go.viam.com/test"

	"github.com/probelab/scopedepth/dmap"
)

func constMaps(width, height int, monoVal, stereoVal, dispVal float32) (*dmap.FloatMap, *dmap.FloatMap, *dmap.FloatMap) {
	mono := dmap.NewFloatMap(width, height)
	stereo := dmap.NewFloatMap(width, height)
	disp := dmap.NewFloatMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			mono.Set(x, y, monoVal)
			stereo.Set(x, y, stereoVal)
			disp.Set(x, y, dispVal)
		}
	}
	return mono, stereo, disp
}

func TestCollectSamples(t *testing.T) {
	mono, stereo, disp := constMaps(40, 40, 100, 120, 50)
	mono.Set(3, 3, 0)

	samples, err := CollectSamples(mono, stereo, disp, nil, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(samples), test.ShouldEqual, 40*40-1)
	for _, s := range samples {
		test.That(t, s.Weight, test.ShouldBeGreaterThan, 0)
		test.That(t, s.Weight, test.ShouldBeLessThanOrEqualTo, 1)
		test.That(t, s.Mono, test.ShouldEqual, 100)
		test.That(t, s.Stereo, test.ShouldEqual, 120)
	}

	bounded, err := CollectSamples(mono, stereo, disp, nil, 20)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(bounded), test.ShouldEqual, 20*40)
	for _, s := range bounded {
		test.That(t, s.X, test.ShouldBeGreaterThanOrEqualTo, 20)
	}
}

func TestCollectSamplesRejectsMismatch(t *testing.T) {
	mono, stereo, _ := constMaps(40, 40, 100, 120, 50)
	small := dmap.NewFloatMap(20, 20)
	_, err := CollectSamples(mono, stereo, small, nil, 0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = CollectSamples(nil, stereo, small, nil, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCollectSamplesMask(t *testing.T) {
	mono, stereo, disp := constMaps(10, 10, 100, 110, 50)
	mask := dmap.NewMask(10, 10)
	mask.Set(4, 4, true)
	mask.Set(5, 5, true)

	samples, err := CollectSamples(mono, stereo, disp, mask, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(samples), test.ShouldEqual, 2)
}

func TestFilterDepthRange(t *testing.T) {
	samples := []Sample{
		{Mono: 40, Stereo: 100},
		{Mono: 100, Stereo: 120},
		{Mono: 200, Stereo: 6000},
	}
	filtered := FilterDepthRange(samples, 50, 5000)
	test.That(t, len(filtered), test.ShouldEqual, 1)
	test.That(t, filtered[0].Mono, test.ShouldEqual, 100)
}

func TestRemoveRatioOutliers(t *testing.T) {
	samples := make([]Sample, 0, 30)
	for i := 0; i < 29; i++ {
		samples = append(samples, Sample{Mono: 100, Stereo: 120})
	}
	samples = append(samples, Sample{Mono: 100, Stereo: 300})

	filtered := RemoveRatioOutliers(samples, 2.0)
	test.That(t, len(filtered), test.ShouldEqual, 29)
	for _, s := range filtered {
		test.That(t, s.Stereo, test.ShouldEqual, 120)
	}

	// small sets pass through untouched
	short := samples[:5]
	test.That(t, len(RemoveRatioOutliers(short, 2.0)), test.ShouldEqual, 5)
}
