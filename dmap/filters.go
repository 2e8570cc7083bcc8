package dmap

import (
	"image"
	"math"
)

// Helper function for convolving kernels. When used with i, dx := range makeRangeArray(n)
// i is the position within the kernel and dx gives the offset within the map.
// if length is even, then the origin is to the right of middle i.e. 4 -> {-2, -1, 0, 1}
func makeRangeArray(length int) []int {
	if length <= 0 {
		return make([]int, 0)
	}
	rangeArray := make([]int, length)
	var span int
	if length%2 == 0 {
		oddArr := makeRangeArray(length - 1)
		span = length / 2
		rangeArray = append([]int{-span}, oddArr...)
	} else {
		span = (length - 1) / 2
		for i := 0; i < span; i++ {
			rangeArray[length-1-i] = span - i
			rangeArray[i] = -span + i
		}
	}
	return rangeArray
}

// GaussianFunction1D takes in a sigma and returns a gaussian function useful for weighing averages or blurring.
func GaussianFunction1D(sigma float64) func(p float64) float64 {
	if sigma <= 0. {
		return func(p float64) float64 {
			return 1.
		}
	}
	return func(p float64) float64 {
		return math.Exp(-0.5*math.Pow(p, 2)/math.Pow(sigma, 2)) / (sigma * math.Sqrt(2.*math.Pi))
	}
}

// GaussianFunction2D takes in a sigma and returns an isotropic 2D gaussian.
func GaussianFunction2D(sigma float64) func(p1, p2 float64) float64 {
	if sigma <= 0. {
		return func(p1, p2 float64) float64 {
			return 1.
		}
	}
	return func(p1, p2 float64) float64 {
		return math.Exp(-0.5*(p1*p1+p2*p2)/math.Pow(sigma, 2)) / (sigma * sigma * 2. * math.Pi)
	}
}

// GaussianFilter returns a filter that blurs a FloatMap at a point, skipping
// invalid pixels and renormalizing the kernel weight accordingly.
func GaussianFilter(sigma float64) func(p image.Point, fm *FloatMap) float64 {
	gaus2D := GaussianFunction2D(sigma)
	k := maxInt(3, 1+2*int(math.Ceil(3.*sigma)))
	xRange, yRange := makeRangeArray(k), makeRangeArray(k)
	filter := func(p image.Point, fm *FloatMap) float64 {
		val := 0.0
		weight := 0.0
		for _, dx := range xRange {
			for _, dy := range yRange {
				if !fm.Contains(p.X+dx, p.Y+dy) || !fm.Valid(p.X+dx, p.Y+dy) {
					continue
				}
				w := gaus2D(float64(dx), float64(dy))
				val += w * float64(fm.GetXY(p.X+dx, p.Y+dy))
				weight += w
			}
		}
		if weight == 0 {
			return 0
		}
		return math.Max(0, val/weight)
	}
	return filter
}

// BilateralFilter smooths the map while preserving value edges. Diameter is
// the full window size, spatialSigma weighs pixel distance and rangeSigma
// weighs value difference. Invalid pixels neither contribute nor get filled.
func BilateralFilter(fm *FloatMap, diameter int, spatialSigma, rangeSigma float64) *FloatMap {
	spatialFilter := GaussianFunction1D(spatialSigma)
	rangeFilter := GaussianFunction1D(rangeSigma)
	xRange, yRange := makeRangeArray(diameter), makeRangeArray(diameter)
	out := NewFloatMap(fm.width, fm.height)
	for y := 0; y < fm.height; y++ {
		for x := 0; x < fm.width; x++ {
			if !fm.Valid(x, y) {
				continue
			}
			center := float64(fm.GetXY(x, y))
			newVal := 0.0
			totalWeight := 0.0
			for _, dx := range xRange {
				for _, dy := range yRange {
					if !fm.Contains(x+dx, y+dy) || !fm.Valid(x+dx, y+dy) {
						continue
					}
					v := float64(fm.GetXY(x+dx, y+dy))
					weight := spatialFilter(float64(dx)) * spatialFilter(float64(dy))
					weight *= rangeFilter(center - v)
					newVal += v * weight
					totalWeight += weight
				}
			}
			if totalWeight > 0 {
				out.Set(x, y, float32(newVal/totalWeight))
			}
		}
	}
	return out
}

// BoxStats computes per-pixel mean and standard deviation over a k x k window,
// counting only valid pixels. Both returned maps share the input's dimensions.
func BoxStats(fm *FloatMap, k int) (*FloatMap, *FloatMap) {
	xRange, yRange := makeRangeArray(k), makeRangeArray(k)
	mean := NewFloatMap(fm.width, fm.height)
	stddev := NewFloatMap(fm.width, fm.height)
	for y := 0; y < fm.height; y++ {
		for x := 0; x < fm.width; x++ {
			sum, sumSq := 0.0, 0.0
			n := 0
			for _, dx := range xRange {
				for _, dy := range yRange {
					if !fm.Contains(x+dx, y+dy) || !fm.Valid(x+dx, y+dy) {
						continue
					}
					v := float64(fm.GetXY(x+dx, y+dy))
					sum += v
					sumSq += v * v
					n++
				}
			}
			if n == 0 {
				continue
			}
			m := sum / float64(n)
			variance := sumSq/float64(n) - m*m
			if variance < 0 {
				variance = 0
			}
			mean.Set(x, y, float32(m))
			stddev.Set(x, y, float32(math.Sqrt(variance)))
		}
	}
	return mean, stddev
}

var laplacianKernel = [3][3]float64{{0, 1, 0}, {1, -4, 1}, {0, 1, 0}}

// LaplacianStdDev applies a 3x3 Laplacian over the valid interior of the map
// and returns the standard deviation of the response. Large values indicate
// strong surface curvature or noise.
func LaplacianStdDev(fm *FloatMap) float64 {
	xRange, yRange := makeRangeArray(3), makeRangeArray(3)
	var sum, sumSq float64
	n := 0
	for y := 1; y < fm.height-1; y++ {
		for x := 1; x < fm.width-1; x++ {
			if !fm.Valid(x, y) {
				continue
			}
			resp := 0.0
			ok := true
			for i, dx := range xRange {
				for j, dy := range yRange {
					if !fm.Valid(x+dx, y+dy) {
						ok = false
						break
					}
					// rows are height j, columns are width i
					resp += laplacianKernel[j][i] * float64(fm.GetXY(x+dx, y+dy))
				}
				if !ok {
					break
				}
			}
			if !ok {
				continue
			}
			sum += resp
			sumSq += resp * resp
			n++
		}
	}
	if n == 0 {
		return 0
	}
	m := sum / float64(n)
	variance := sumSq/float64(n) - m*m
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
