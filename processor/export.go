package processor

import (
	"image"

	"github.com/pkg/errors"

	"github.com/probelab/scopedepth/calib"
	"github.com/probelab/scopedepth/pointcloud"
)

// RectifiedIntrinsics returns the pinhole model of the rectified left
// camera for the given frame size. This is the model depth buffers from
// Process live in.
func (p *Processor) RectifiedIntrinsics(width, height int) (*calib.CameraIntrinsics, error) {
	rc, err := p.rectification(width, height)
	if err != nil {
		return nil, err
	}
	return &calib.CameraIntrinsics{
		Matrix: [3][3]float64{
			{rc.P1.At(0, 0), 0, rc.P1.At(0, 2)},
			{0, rc.P1.At(1, 1), rc.P1.At(1, 2)},
			{0, 0, 1},
		},
	}, nil
}

// ExportPointCloud projects a frame's best depth into a point cloud using
// the rectified geometry. colors may be nil, or the rectified left image to
// color the points from.
func (p *Processor) ExportPointCloud(res Result, colors image.Image, window pointcloud.DepthWindow) (pointcloud.PointCloud, error) {
	depth := res.Depth()
	if depth == nil {
		return nil, errors.New("result has no depth to project")
	}
	intr, err := p.RectifiedIntrinsics(res.Width, res.Height)
	if err != nil {
		return nil, err
	}
	return pointcloud.FromDepthMap(depth, intr, colors, window)
}
