package dmap

import (
	"image"
	"math"
)

// Vec2D represents the gradient of a map at a point.
// The gradient has both a magnitude and direction.
// Magnitude has values (0, infinity) and direction is [0, 2pi)
type Vec2D struct {
	magnitude float64
	direction float64
}

// VectorField2D stores all the gradient vectors of a map
// allowing one to retrieve the gradient for any given (x,y) point.
type VectorField2D struct {
	width  int
	height int

	data         []Vec2D
	maxMagnitude float64
}

// Magnitude returns the magnitude of the vector.
func (g Vec2D) Magnitude() float64 {
	return g.magnitude
}

// Direction returns the direction of the vector in radians.
func (g Vec2D) Direction() float64 {
	return g.direction
}

// Cartesian returns the x and y components of the vector.
func (g Vec2D) Cartesian() (float64, float64) {
	return g.magnitude * math.Cos(g.direction), g.magnitude * math.Sin(g.direction)
}

// NewVec2D creates a vector from a magnitude and direction.
func NewVec2D(mag, dir float64) Vec2D {
	return Vec2D{mag, dir}
}

func (vf *VectorField2D) kxy(x, y int) int {
	return (y * vf.width) + x
}

// Width returns the number of columns.
func (vf *VectorField2D) Width() int {
	return vf.width
}

// Height returns the number of rows.
func (vf *VectorField2D) Height() int {
	return vf.height
}

// Contains reports whether the point is inside the field.
func (vf *VectorField2D) Contains(p image.Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < vf.width && p.Y < vf.height
}

// Get returns the vector at the given point.
func (vf *VectorField2D) Get(p image.Point) Vec2D {
	return vf.data[vf.kxy(p.X, p.Y)]
}

// GetVec2D returns the vector at (x,y).
func (vf *VectorField2D) GetVec2D(x, y int) Vec2D {
	return vf.data[vf.kxy(x, y)]
}

// Set writes the vector at (x,y).
func (vf *VectorField2D) Set(x, y int, val Vec2D) {
	vf.data[vf.kxy(x, y)] = val
	vf.maxMagnitude = math.Max(math.Abs(val.Magnitude()), vf.maxMagnitude)
}

// MaxMagnitude returns the largest magnitude seen in the field.
func (vf *VectorField2D) MaxMagnitude() float64 {
	return vf.maxMagnitude
}

// MakeEmptyVectorField2D creates a zeroed field of the given dimensions.
func MakeEmptyVectorField2D(width, height int) VectorField2D {
	return VectorField2D{
		width:        width,
		height:       height,
		data:         make([]Vec2D, width*height),
		maxMagnitude: 0.0,
	}
}

// MagnitudeMap returns the magnitudes of the field as a FloatMap.
func (vf *VectorField2D) MagnitudeMap() *FloatMap {
	out := NewFloatMap(vf.width, vf.height)
	for y := 0; y < vf.height; y++ {
		for x := 0; x < vf.width; x++ {
			out.Set(x, y, float32(vf.GetVec2D(x, y).Magnitude()))
		}
	}
	return out
}

// MeanMagnitude returns the average gradient magnitude over a mask, or over
// the whole field when mask is nil.
func (vf *VectorField2D) MeanMagnitude(mask *Mask) float64 {
	sum := 0.0
	n := 0
	for y := 0; y < vf.height; y++ {
		for x := 0; x < vf.width; x++ {
			if mask != nil && !mask.On(x, y) {
				continue
			}
			sum += vf.GetVec2D(x, y).Magnitude()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// MeanComponents returns the average x and y gradient components over a mask.
func (vf *VectorField2D) MeanComponents(mask *Mask) (float64, float64) {
	var sumX, sumY float64
	n := 0
	for y := 0; y < vf.height; y++ {
		for x := 0; x < vf.width; x++ {
			if mask != nil && !mask.On(x, y) {
				continue
			}
			gx, gy := vf.GetVec2D(x, y).Cartesian()
			sumX += gx
			sumY += gy
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sumX / float64(n), sumY / float64(n)
}

// Sobel filters are used to approximate the gradient of the map. One filter
// for each direction.
var (
	sobelX = [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// SobelFilter approximates the gradient in the X and Y direction at a pixel of
// a FloatMap. Pixels without data get a zero vector.
func SobelFilter() func(p image.Point, fm *FloatMap) (float64, float64) {
	xRange, yRange := makeRangeArray(3), makeRangeArray(3)
	// apply the Sobel filter over a 3x3 square around each pixel
	filter := func(p image.Point, fm *FloatMap) (float64, float64) {
		sX, sY := 0.0, 0.0
		if !fm.Valid(p.X, p.Y) {
			return sX, sY
		}
		for i, dx := range xRange {
			for j, dy := range yRange {
				if !fm.Contains(p.X+dx, p.Y+dy) {
					continue
				}
				d := float64(fm.GetXY(p.X+dx, p.Y+dy))
				// rows are height j, columns are width i
				sX += sobelX[j][i] * d
				sY += sobelY[j][i] * d
			}
		}
		return sX, sY
	}
	return filter
}

// SobelField applies the Sobel filter at every pixel and collects the result
// into a vector field in polar form.
func SobelField(fm *FloatMap) VectorField2D {
	filter := SobelFilter()
	vf := MakeEmptyVectorField2D(fm.width, fm.height)
	for y := 0; y < fm.height; y++ {
		for x := 0; x < fm.width; x++ {
			sX, sY := filter(image.Point{x, y}, fm)
			mag, dir := getMagnitudeAndDirection(sX, sY)
			vf.Set(x, y, Vec2D{mag, dir})
		}
	}
	return vf
}

func getMagnitudeAndDirection(x, y float64) (float64, float64) {
	mag := math.Sqrt(x*x + y*y)
	dir := math.Atan2(y, x)
	return mag, dir
}
