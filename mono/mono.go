// Package mono adapts a black-box single-image depth estimator to the
// stereo pipeline's buffer conventions. Mono estimates are relative: their
// scale and bias are unknown until calibrated against stereo depth.
package mono

import (
	"context"
	"image"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/probelab/scopedepth/dmap"
)

// Estimator produces a relative depth map from a single image, at whatever
// resolution the underlying model works at.
type Estimator interface {
	EstimateDepth(ctx context.Context, img image.Image) (*dmap.FloatMap, error)
}

// EstimatorFunc lets a plain function serve as an Estimator.
type EstimatorFunc func(ctx context.Context, img image.Image) (*dmap.FloatMap, error)

// EstimateDepth calls the function.
func (f EstimatorFunc) EstimateDepth(ctx context.Context, img image.Image) (*dmap.FloatMap, error) {
	return f(ctx, img)
}

// Adapter wraps an Estimator and aligns its output with the stereo buffers.
type Adapter struct {
	est    Estimator
	logger golog.Logger
}

// NewAdapter returns an adapter around the given estimator.
func NewAdapter(est Estimator, logger golog.Logger) (*Adapter, error) {
	if est == nil {
		return nil, errors.New("mono estimator is nil")
	}
	return &Adapter{est: est, logger: logger}, nil
}

// AlignedEstimate runs the estimator and resizes the result bilinearly to
// width x height, zeroing non-finite values. The relative scale of the
// estimate is preserved; calibration happens downstream.
func (a *Adapter) AlignedEstimate(ctx context.Context, img image.Image, width, height int) (*dmap.FloatMap, error) {
	raw, err := a.est.EstimateDepth(ctx, img)
	if err != nil {
		return nil, errors.Wrap(err, "mono estimation failed")
	}
	if raw == nil || !raw.HasData() {
		return nil, errors.New("mono estimator returned no data")
	}
	raw = raw.Clone().Normalize()
	if raw.Width() == width && raw.Height() == height {
		return raw, nil
	}
	if a.logger != nil {
		a.logger.Debugw("resizing mono estimate",
			"from_w", raw.Width(), "from_h", raw.Height(), "to_w", width, "to_h", height)
	}
	return raw.Resize(width, height), nil
}
