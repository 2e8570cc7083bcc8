// Package pointcloud holds the 3D projection of a depth frame as a sparse
// set of points, with optional per-point color lifted from the rectified
// left image. The implementation is dictionary based and tuned for the
// frame sizes this probe produces, not for large mapping workloads.
package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// PointCloud is a container of projected depth points. Positions are in
// millimeters in the rectified left camera frame.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data.
	MetaData() MetaData

	// Set places the given point in the cloud, replacing any point already
	// at that position. A color with zero alpha means the point carries no
	// color.
	Set(p r3.Vector, c color.NRGBA) error

	// At returns the color of the point at the given position. The second
	// return is whether the point exists.
	At(x, y, z float64) (color.NRGBA, bool)

	// Iterate calls the given function for every point in insertion order.
	// If the function returns false, iteration stops.
	Iterate(fn func(p r3.Vector, c color.NRGBA) bool)
}

// NewMetaData returns a MetaData with bounds ready for merging.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge folds one point into the bounds and color flags.
func (meta *MetaData) Merge(p r3.Vector, c color.NRGBA) {
	if c.A != 0 {
		meta.HasColor = true
	}
	if p.X > meta.MaxX {
		meta.MaxX = p.X
	}
	if p.Y > meta.MaxY {
		meta.MaxY = p.Y
	}
	if p.Z > meta.MaxZ {
		meta.MaxZ = p.Z
	}
	if p.X < meta.MinX {
		meta.MinX = p.X
	}
	if p.Y < meta.MinY {
		meta.MinY = p.Y
	}
	if p.Z < meta.MinZ {
		meta.MinZ = p.Z
	}
}
