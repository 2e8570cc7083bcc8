package dmap

import (
	"image"
	"math"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// FillInvalidRegions finds regions of connected missing data, and for those
// below a size threshold, fills them in with an average of the surrounding
// pixels using 16-point ray-marching. A guide map (for example a relative
// depth estimate covering the holes) steers filling on regions that straddle
// an object boundary; it may be nil. Returns a filled copy.
func FillInvalidRegions(fm, guide *FloatMap) (*FloatMap, error) {
	out := fm.Clone()
	missing := MissingDataMask(out)
	for _, seg := range missing.SegmentRegions(1) {
		borderPoints := pointsOnHoleBorder(seg, out)
		avgDepth := averageDepthAt(borderPoints, out)
		threshold := thresholdFromDepth(avgDepth, out.Width()*out.Height())
		if seg.Area() >= threshold {
			continue
		}
		if isMultiModal(borderPoints, out, 3) && guide != nil && guide.SameSize(out) {
			// hole most likely on an edge between two surfaces
			for _, point := range seg.Points {
				rayPoints := pointsFromRayMarching(point.X, point.Y, 8, sixteenPoints, out)
				clusterDepths, err := clusterBorderDepths(rayPoints, out)
				if err != nil {
					return nil, err
				}
				val := matchDepthToGuide(float64(guide.Get(point)), clusterDepths[0], clusterDepths[1])
				out.Set(point.X, point.Y, float32(val))
			}
		} else {
			for _, point := range seg.Points {
				val := depthRayMarching(point.X, point.Y, 8, sixteenPoints, out, guide)
				out.Set(point.X, point.Y, float32(val))
			}
		}
	}
	return out, nil
}

// MissingDataMask marks every invalid pixel of the map.
func MissingDataMask(fm *FloatMap) *Mask {
	m := NewMask(fm.Width(), fm.Height())
	for y := 0; y < fm.Height(); y++ {
		for x := 0; x < fm.Width(); x++ {
			if !fm.Valid(x, y) {
				m.Set(x, y, true)
			}
		}
	}
	return m
}

// directions for ray-marching.
var sixteenPoints = []image.Point{
	{0, 2},
	{0, -2},
	{-2, 0},
	{2, 0},
	{-2, 2},
	{2, 2},
	{-2, -2},
	{2, -2},
	{-2, 1},
	{-1, 2},
	{1, 2},
	{2, 1},
	{-2, -1},
	{-1, -2},
	{1, -2},
	{2, -1},
}

// returns the valid pixels bordering a contiguous segment of holes.
func pointsOnHoleBorder(segment Segment, fm *FloatMap) map[image.Point]bool {
	directions := []image.Point{
		{0, 1},  // up
		{0, -1}, // down
		{-1, 0}, // left
		{1, 0},  // right
	}
	borderPoints := make(map[image.Point]bool)
	for _, hole := range segment.Points {
		for _, dir := range directions {
			point := image.Point{hole.X + dir.X, hole.Y + dir.Y}
			if !fm.Contains(point.X, point.Y) {
				continue
			}
			if fm.Valid(point.X, point.Y) {
				borderPoints[point] = true
			}
		}
	}
	return borderPoints
}

func averageDepthAt(points map[image.Point]bool, fm *FloatMap) float64 {
	sum := 0.0
	n := 0
	for pt := range points {
		if !fm.Valid(pt.X, pt.Y) {
			continue
		}
		sum += float64(fm.Get(pt))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// farther surfaces get sparser disparity, so allow bigger holes there.
func thresholdFromDepth(depth float64, imgArea int) int {
	base := imgArea / 300
	switch {
	case depth < 500:
		return base
	case depth < 1500:
		return 2 * base
	default:
		return 4 * base
	}
}

// Quick way of calculating the number of modes/peaks in a collection of points, to distinguish if the collection
// of points is from one surface, or a mixture of foreground and background. Bin widths are 100 mm.
// threshold sets how many zero bins between filled bins there need to be to count as separate peaks.
func isMultiModal(points map[image.Point]bool, fm *FloatMap, threshold int) bool {
	depths := pointsMap2Slice(points, fm)
	if len(depths) == 0 {
		return false
	}
	min, max := minmax(depths)
	nbins := maxInt(1, int((max-min)/100.)) // bin widths 100mm
	hist := histogram.Hist(nbins, depths)
	peaks := 0
	zeros := threshold
	for _, bkt := range hist.Buckets {
		if bkt.Count != 0 {
			if zeros >= threshold {
				peaks++
			}
			zeros = 0
		} else {
			zeros++
		}
	}
	return peaks > 1
}

func minmax(slice []float64) (float64, float64) {
	max := slice[0]
	min := slice[0]
	for _, value := range slice {
		if max < value {
			max = value
		}
		if min > value {
			min = value
		}
	}
	return min, max
}

// depthObservation is clustered on depth alone. To be used with the kmeans
// module, we need to define Coordinates and Distance methods.
type depthObservation struct {
	p image.Point
	d float64
}

func (o depthObservation) Coordinates() clusters.Coordinates {
	return clusters.Coordinates([]float64{o.d})
}

func (o depthObservation) Distance(p clusters.Coordinates) float64 {
	return math.Abs(o.d - p[0])
}

// if the segment is multimodal in depth, cluster the border depths into 2
// groups, to distinguish the foreground and background surfaces.
func clusterBorderDepths(borderPoints map[image.Point]bool, fm *FloatMap) ([]float64, error) {
	var d clusters.Observations
	for pt := range borderPoints {
		d = append(d, depthObservation{pt, float64(fm.Get(pt))})
	}

	km := kmeans.New()
	cc, err := km.Partition(d, 2) // cluster into 2 partitions
	if err != nil {
		return nil, err
	}
	clusterDepths := make([]float64, 0, 2)
	for _, c := range cc {
		clusterDepths = append(clusterDepths, c.Center[0])
	}
	return clusterDepths, nil
}

// match the pixel's guide value to the closest cluster center.
func matchDepthToGuide(guideVal, depth1, depth2 float64) float64 {
	if math.Abs(guideVal-depth1) <= math.Abs(guideVal-depth2) {
		return depth1
	}
	return depth2
}

func pointsMap2Slice(points map[image.Point]bool, fm *FloatMap) []float64 {
	slice := make([]float64, 0, len(points))
	for point := range points {
		if !fm.Contains(point.X, point.Y) {
			continue
		}
		if fm.Valid(point.X, point.Y) {
			slice = append(slice, float64(fm.Get(point)))
		}
	}
	return slice
}

// depthRayMarching uses multi-point ray-marching to fill in missing data. It marches out in N directions from the
// missing pixel until it encounters a pixel with data, and then averages the values of the pixels it finds.
// The guide map helps: if the guide changes too much between pixels (exponential weighing), the depth
// contributes less to the average.
func depthRayMarching(x, y, iterations int, directions []image.Point, fm, guide *FloatMap) float64 {
	rayPoints := pointsFromRayMarching(x, y, iterations, directions, fm)
	return imputeMissingDepth(x, y, rayPoints, fm, guide)
}

func imputeMissingDepth(x, y int, points map[image.Point]bool, fm, guide *FloatMap) float64 {
	guideGaus := GaussianFunction1D(50.0)
	spatialGaus := GaussianFunction2D(2.0)
	depthAvg := 0.0
	weightTot := 0.0
	var centerGuide float64
	useGuide := guide != nil && guide.SameSize(fm) && guide.Valid(x, y)
	if useGuide {
		centerGuide = float64(guide.GetXY(x, y))
	}
	for pt := range points {
		depth := float64(fm.Get(pt))
		weight := spatialGaus(float64(pt.X-x), float64(pt.Y-y))
		if useGuide && guide.Valid(pt.X, pt.Y) {
			weight *= guideGaus(centerGuide - float64(guide.Get(pt)))
		}
		if weightTot+weight == 0 {
			continue
		}
		depthAvg = (depthAvg*weightTot + depth*weight) / (weightTot + weight)
		weightTot += weight
	}
	return math.Max(depthAvg, 0.0)
}

// collects points used for imputation of a missing pixel by marching out
// 'iterations' times in the N directions given.
func pointsFromRayMarching(x, y, iterations int, directions []image.Point, fm *FloatMap) map[image.Point]bool {
	rayMarchingPoints := make(map[image.Point]bool)
	for _, dir := range directions {
		i, j := x, y
		for iter := 0; iter < iterations; iter++ { // continue in the same direction iter times
			found := false
			for !found { // increment in the given direction until you reach a filled pixel
				i += dir.X
				j += dir.Y
				if !fm.Contains(i, j) { // out of bounds
					break
				}
				found = fm.Valid(i, j)
			}
			if found {
				rayMarchingPoints[image.Point{i, j}] = true
			}
		}
	}
	return rayMarchingPoints
}
