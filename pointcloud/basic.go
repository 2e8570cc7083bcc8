package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

type coloredPoint struct {
	pos r3.Vector
	c   color.NRGBA
}

// basicPointCloud keeps points in insertion order and deduplicates by
// position so repeated Set calls replace rather than accumulate.
type basicPointCloud struct {
	points []coloredPoint
	index  map[r3.Vector]int
	meta   MetaData
}

// New returns an empty PointCloud backed by the basic implementation.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty PointCloud with room for the given
// number of points.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points: make([]coloredPoint, 0, size),
		index:  make(map[r3.Vector]int, size),
		meta:   NewMetaData(),
	}
}

func (pc *basicPointCloud) Size() int {
	return len(pc.points)
}

func (pc *basicPointCloud) MetaData() MetaData {
	return pc.meta
}

func (pc *basicPointCloud) Set(p r3.Vector, c color.NRGBA) error {
	if p != p { // NaN position
		return errors.Errorf("point position is not a number: %v", p)
	}
	if i, ok := pc.index[p]; ok {
		pc.points[i].c = c
	} else {
		pc.index[p] = len(pc.points)
		pc.points = append(pc.points, coloredPoint{pos: p, c: c})
	}
	pc.meta.Merge(p, c)
	return nil
}

func (pc *basicPointCloud) At(x, y, z float64) (color.NRGBA, bool) {
	i, ok := pc.index[r3.Vector{X: x, Y: y, Z: z}]
	if !ok {
		return color.NRGBA{}, false
	}
	return pc.points[i].c, true
}

func (pc *basicPointCloud) Iterate(fn func(p r3.Vector, c color.NRGBA) bool) {
	for _, pt := range pc.points {
		if !fn(pt.pos, pt.c) {
			return
		}
	}
}
