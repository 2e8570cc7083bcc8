package dmap

import (
	"image"
)

// Mask is a dense binary grid used to flag pixels of interest: anomalies,
// holes, calibration layers. Nonzero means "on".
type Mask struct {
	width  int
	height int
	data   []uint8
}

// NewMask returns an all-off mask of the given dimensions.
func NewMask(width, height int) *Mask {
	return &Mask{
		width:  width,
		height: height,
		data:   make([]uint8, width*height),
	}
}

// Width returns the number of columns.
func (m *Mask) Width() int {
	return m.width
}

// Height returns the number of rows.
func (m *Mask) Height() int {
	return m.height
}

// Contains reports whether (x,y) lies inside the mask.
func (m *Mask) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.width && y < m.height
}

// On reports whether the pixel at (x,y) is set.
func (m *Mask) On(x, y int) bool {
	return m.data[y*m.width+x] != 0
}

// Set turns the pixel at (x,y) on or off.
func (m *Mask) Set(x, y int, on bool) {
	if on {
		m.data[y*m.width+x] = 1
	} else {
		m.data[y*m.width+x] = 0
	}
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	out := NewMask(m.width, m.height)
	copy(out.data, m.data)
	return out
}

// CountOn returns the number of set pixels.
func (m *Mask) CountOn() int {
	n := 0
	for _, v := range m.data {
		if v != 0 {
			n++
		}
	}
	return n
}

// Union sets every pixel that is on in either mask.
func (m *Mask) Union(other *Mask) *Mask {
	out := m.Clone()
	for i, v := range other.data {
		if v != 0 {
			out.data[i] = 1
		}
	}
	return out
}

// Intersect keeps only pixels that are on in both masks.
func (m *Mask) Intersect(other *Mask) *Mask {
	out := NewMask(m.width, m.height)
	for i, v := range m.data {
		if v != 0 && other.data[i] != 0 {
			out.data[i] = 1
		}
	}
	return out
}

// Invert flips every pixel.
func (m *Mask) Invert() *Mask {
	out := NewMask(m.width, m.height)
	for i, v := range m.data {
		if v == 0 {
			out.data[i] = 1
		}
	}
	return out
}

var (
	squareOffsets3 = []image.Point{
		{-1, -1}, {0, -1}, {1, -1},
		{-1, 0}, {0, 0}, {1, 0},
		{-1, 1}, {0, 1}, {1, 1},
	}
	crossOffsets3 = []image.Point{
		{0, -1},
		{-1, 0}, {0, 0}, {1, 0},
		{0, 1},
	}
)

func (m *Mask) morph(offsets []image.Point, erode bool) *Mask {
	out := NewMask(m.width, m.height)
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			hit := erode
			for _, off := range offsets {
				xi, yi := x+off.X, y+off.Y
				if !m.Contains(xi, yi) {
					continue
				}
				if erode {
					if !m.On(xi, yi) {
						hit = false
						break
					}
				} else if m.On(xi, yi) {
					hit = true
					break
				}
			}
			out.Set(x, y, hit)
		}
	}
	return out
}

// ErodeSquare erodes the mask with a 3x3 square structuring element.
func (m *Mask) ErodeSquare() *Mask {
	return m.morph(squareOffsets3, true)
}

// DilateSquare dilates the mask with a 3x3 square structuring element.
func (m *Mask) DilateSquare() *Mask {
	return m.morph(squareOffsets3, false)
}

// ErodeCross erodes the mask with a 3x3 cross structuring element.
func (m *Mask) ErodeCross() *Mask {
	return m.morph(crossOffsets3, true)
}

// DilateCross dilates the mask with a 3x3 cross structuring element.
func (m *Mask) DilateCross() *Mask {
	return m.morph(crossOffsets3, false)
}

// OpenSquare performs a morphological opening, removing isolated speckles
// while keeping the extent of larger regions.
func (m *Mask) OpenSquare() *Mask {
	return m.ErodeSquare().DilateSquare()
}

// CloseSquare performs a morphological closing, filling pinholes inside
// regions.
func (m *Mask) CloseSquare() *Mask {
	return m.DilateSquare().ErodeSquare()
}

// Segment is one 4-connected region of set pixels.
type Segment struct {
	Points []image.Point
	Bounds image.Rectangle
}

// Area returns the number of pixels in the segment.
func (s Segment) Area() int {
	return len(s.Points)
}

// Centroid returns the mean pixel position of the segment.
func (s Segment) Centroid() image.Point {
	var sx, sy int
	for _, p := range s.Points {
		sx += p.X
		sy += p.Y
	}
	n := len(s.Points)
	if n == 0 {
		return image.Point{}
	}
	return image.Point{sx / n, sy / n}
}

var (
	fourConnected = []image.Point{
		{0, 1},
		{0, -1},
		{-1, 0},
		{1, 0},
	}
	eightConnected = []image.Point{
		{-1, -1}, {0, -1}, {1, -1},
		{-1, 0}, {1, 0},
		{-1, 1}, {0, 1}, {1, 1},
	}
)

// SegmentRegions segments the mask into its 4-connected regions, discarding
// regions smaller than minArea.
func (m *Mask) SegmentRegions(minArea int) []Segment {
	return m.segmentRegions(fourConnected, minArea)
}

// SegmentRegions8 is SegmentRegions with 8-connectivity, so regions touching
// only at corners merge.
func (m *Mask) SegmentRegions8(minArea int) []Segment {
	return m.segmentRegions(eightConnected, minArea)
}

func (m *Mask) segmentRegions(directions []image.Point, minArea int) []Segment {
	visited := make([]bool, len(m.data))
	var segments []Segment
	queue := make([]image.Point, 0, 64)
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			idx := y*m.width + x
			if visited[idx] || m.data[idx] == 0 {
				continue
			}
			seg := Segment{Bounds: image.Rect(x, y, x+1, y+1)}
			queue = append(queue[:0], image.Point{x, y})
			visited[idx] = true
			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				seg.Points = append(seg.Points, p)
				seg.Bounds = seg.Bounds.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))
				for _, dir := range directions {
					q := image.Point{p.X + dir.X, p.Y + dir.Y}
					if !m.Contains(q.X, q.Y) {
						continue
					}
					qi := q.Y*m.width + q.X
					if visited[qi] || m.data[qi] == 0 {
						continue
					}
					visited[qi] = true
					queue = append(queue, q)
				}
			}
			if len(seg.Points) >= minArea {
				segments = append(segments, seg)
			}
		}
	}
	return segments
}
