// Package dmap provides the single-channel float buffer types shared by the
// depth engines: disparity maps, metric depth maps and confidence maps, plus
// the gradient, filtering and morphology helpers that operate on them.
package dmap

import (
	"image"
	"math"
)

// FloatMap is a dense single-channel float32 grid. Depth values are in
// millimeters; zero or non-finite entries mean "no data" everywhere in this
// module.
type FloatMap struct {
	width  int
	height int

	data []float32
}

// NewFloatMap returns a zeroed map of the given dimensions.
func NewFloatMap(width, height int) *FloatMap {
	return &FloatMap{
		width:  width,
		height: height,
		data:   make([]float32, width*height),
	}
}

// NewFloatMapFromData wraps an existing row-major slice. The slice is not
// copied; len(data) must be width*height.
func NewFloatMapFromData(width, height int, data []float32) *FloatMap {
	if len(data) != width*height {
		panic("dmap: data length does not match dimensions")
	}
	return &FloatMap{width: width, height: height, data: data}
}

func (fm *FloatMap) kxy(x, y int) int {
	return y*fm.width + x
}

// HasData reports whether the map has been allocated with a nonzero size.
func (fm *FloatMap) HasData() bool {
	return fm != nil && fm.width > 0 && fm.data != nil
}

// Width returns the number of columns.
func (fm *FloatMap) Width() int {
	return fm.width
}

// Height returns the number of rows.
func (fm *FloatMap) Height() int {
	return fm.height
}

// Bounds returns the image-space rectangle covered by the map.
func (fm *FloatMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, fm.width, fm.height)
}

// Contains reports whether (x,y) lies inside the map.
func (fm *FloatMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < fm.width && y < fm.height
}

// GetXY returns the value at (x,y).
func (fm *FloatMap) GetXY(x, y int) float32 {
	return fm.data[fm.kxy(x, y)]
}

// Get returns the value at the given point.
func (fm *FloatMap) Get(p image.Point) float32 {
	return fm.data[fm.kxy(p.X, p.Y)]
}

// Set writes the value at (x,y).
func (fm *FloatMap) Set(x, y int, v float32) {
	fm.data[fm.kxy(x, y)] = v
}

// Data exposes the underlying row-major slice.
func (fm *FloatMap) Data() []float32 {
	return fm.data
}

// Valid reports whether the value at (x,y) is usable: finite and positive.
func (fm *FloatMap) Valid(x, y int) bool {
	v := float64(fm.data[fm.kxy(x, y)])
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Clone returns a deep copy.
func (fm *FloatMap) Clone() *FloatMap {
	out := NewFloatMap(fm.width, fm.height)
	copy(out.data, fm.data)
	return out
}

// SameSize reports whether the other map shares this map's dimensions.
func (fm *FloatMap) SameSize(other *FloatMap) bool {
	return other != nil && fm.width == other.width && fm.height == other.height
}

// MinMax returns the smallest and largest valid values, ignoring invalid
// pixels. Returns (0,0) when nothing is valid.
func (fm *FloatMap) MinMax() (float32, float32) {
	minV := float32(math.MaxFloat32)
	maxV := float32(0)
	found := false
	for i, v := range fm.data {
		if !fm.Valid(i%fm.width, i/fm.width) {
			continue
		}
		found = true
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	if !found {
		return 0, 0
	}
	return minV, maxV
}

// ValidMask returns a mask that is on wherever the map is valid.
func (fm *FloatMap) ValidMask() *Mask {
	m := NewMask(fm.width, fm.height)
	for y := 0; y < fm.height; y++ {
		for x := 0; x < fm.width; x++ {
			if fm.Valid(x, y) {
				m.Set(x, y, true)
			}
		}
	}
	return m
}

// CountValid returns the number of usable pixels.
func (fm *FloatMap) CountValid() int {
	n := 0
	for y := 0; y < fm.height; y++ {
		for x := 0; x < fm.width; x++ {
			if fm.Valid(x, y) {
				n++
			}
		}
	}
	return n
}

// Normalize zeroes every non-finite or negative entry in place and returns
// the receiver.
func (fm *FloatMap) Normalize() *FloatMap {
	for i, v := range fm.data {
		f := float64(v)
		if f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			fm.data[i] = 0
		}
	}
	return fm
}

// Resize produces a bilinearly interpolated copy at the new dimensions.
// Invalid source pixels contribute nothing; a destination pixel whose four
// neighbors are all invalid stays 0.
func (fm *FloatMap) Resize(width, height int) *FloatMap {
	out := NewFloatMap(width, height)
	if fm.width == 0 || fm.height == 0 {
		return out
	}
	if fm.width == width && fm.height == height {
		copy(out.data, fm.data)
		return out
	}
	sx := float64(fm.width) / float64(width)
	sy := float64(fm.height) / float64(height)
	for y := 0; y < height; y++ {
		srcY := (float64(y)+0.5)*sy - 0.5
		y0 := int(math.Floor(srcY))
		fy := srcY - float64(y0)
		for x := 0; x < width; x++ {
			srcX := (float64(x)+0.5)*sx - 0.5
			x0 := int(math.Floor(srcX))
			fx := srcX - float64(x0)

			var sum, wsum float64
			for dy := 0; dy <= 1; dy++ {
				for dx := 0; dx <= 1; dx++ {
					xi, yi := x0+dx, y0+dy
					if !fm.Contains(xi, yi) || !fm.Valid(xi, yi) {
						continue
					}
					w := (1 - math.Abs(float64(dx)-fx)) * (1 - math.Abs(float64(dy)-fy))
					if w <= 0 {
						continue
					}
					sum += w * float64(fm.GetXY(xi, yi))
					wsum += w
				}
			}
			if wsum > 0 {
				out.Set(x, y, float32(sum/wsum))
			}
		}
	}
	return out
}

// MeanStdDev computes the mean and standard deviation over valid pixels,
// optionally restricted to a mask.
func (fm *FloatMap) MeanStdDev(mask *Mask) (float64, float64) {
	var sum, sumSq float64
	n := 0
	for y := 0; y < fm.height; y++ {
		for x := 0; x < fm.width; x++ {
			if mask != nil && !mask.On(x, y) {
				continue
			}
			if !fm.Valid(x, y) {
				continue
			}
			v := float64(fm.GetXY(x, y))
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}
