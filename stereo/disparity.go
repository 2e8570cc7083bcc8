// Package stereo computes dense disparity from a rectified image pair using
// semi-global block matching, and converts disparity to metric depth through
// the rig's reprojection matrix.
package stereo

import (
	"image"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/probelab/scopedepth/dmap"
)

const dispScale = 16

// DisparityOptions configure the semi-global matcher.
type DisparityOptions struct {
	// MinDisparity is the smallest disparity searched, in whole pixels.
	MinDisparity int
	// NumDisparities is the search range; must be a positive multiple of 16.
	NumDisparities int
	// BlockSize is the matching window; must be odd and >= 1.
	BlockSize int
	// P1 and P2 are the smoothness penalties for disparity changes of 1 and
	// more than 1 between neighbors. Zero means the block-size defaults.
	P1, P2 int
	// Disp12MaxDiff is the left-right consistency tolerance in pixels;
	// negative disables the check.
	Disp12MaxDiff int
	// PreFilterCap clamps the x-derivative prefilter.
	PreFilterCap int
	// UniquenessRatio is the margin (percent) by which the best cost must
	// beat the runner-up.
	UniquenessRatio int
	// SpeckleWindowSize and SpeckleRange control the blob filter that
	// removes small isolated patches; window 0 disables it.
	SpeckleWindowSize int
	SpeckleRange      int
}

// DefaultDisparityOptions returns the close-range probe defaults.
func DefaultDisparityOptions() DisparityOptions {
	return DisparityOptions{
		MinDisparity:      0,
		NumDisparities:    16 * 8,
		BlockSize:         5,
		UniquenessRatio:   10,
		SpeckleWindowSize: 100,
		SpeckleRange:      32,
		PreFilterCap:      63,
		Disp12MaxDiff:     1,
	}
}

// DisparityEngine runs semi-global block matching over rectified pairs.
// It is stateless apart from its options and safe for concurrent use.
type DisparityEngine struct {
	opts   DisparityOptions
	logger golog.Logger
}

// NewDisparityEngine validates the options and returns an engine.
func NewDisparityEngine(opts DisparityOptions, logger golog.Logger) (*DisparityEngine, error) {
	if opts.NumDisparities <= 0 || opts.NumDisparities%16 != 0 {
		return nil, errors.Errorf("num disparities must be a positive multiple of 16, got %d", opts.NumDisparities)
	}
	if opts.BlockSize < 1 || opts.BlockSize%2 == 0 {
		return nil, errors.Errorf("block size must be odd and positive, got %d", opts.BlockSize)
	}
	if opts.MinDisparity < 0 {
		return nil, errors.Errorf("min disparity must be non-negative, got %d", opts.MinDisparity)
	}
	if opts.PreFilterCap <= 0 {
		opts.PreFilterCap = 63
	}
	bs := opts.BlockSize
	if opts.P1 <= 0 {
		opts.P1 = 8 * bs * bs
	}
	if opts.P2 <= opts.P1 {
		opts.P2 = 32 * bs * bs
	}
	return &DisparityEngine{opts: opts, logger: logger}, nil
}

// Options returns the validated options in use.
func (e *DisparityEngine) Options() DisparityOptions {
	return e.opts
}

// Compute returns the sub-pixel disparity map of the rectified pair.
// Invalid pixels are 0. Empty or mismatched inputs yield an empty map
// rather than an error: a frame with no stereo signal is not fatal.
func (e *DisparityEngine) Compute(left, right *image.Gray) *dmap.FloatMap {
	if left == nil || right == nil {
		return dmap.NewFloatMap(0, 0)
	}
	w, h := left.Bounds().Dx(), left.Bounds().Dy()
	if w == 0 || h == 0 || right.Bounds().Dx() != w || right.Bounds().Dy() != h {
		if e.logger != nil {
			e.logger.Debugw("disparity inputs unusable", "left", left.Bounds(), "right", right.Bounds())
		}
		return dmap.NewFloatMap(0, 0)
	}

	minD := e.opts.MinDisparity

	preL := prefilterXDerivative(left, e.opts.PreFilterCap)
	preR := prefilterXDerivative(right, e.opts.PreFilterCap)

	cost := e.blockMatchingCost(preL, preR, w, h)
	agg := e.aggregateCost(cost, w, h)

	d16 := e.selectDisparities(agg, w, h)
	if e.opts.Disp12MaxDiff >= 0 {
		e.leftRightCheck(agg, d16, w, h)
	}
	if e.opts.SpeckleWindowSize > 0 {
		filterSpeckles(d16, w, h, invalidDisp16, e.opts.SpeckleWindowSize, dispScale*e.opts.SpeckleRange)
	}

	out := dmap.NewFloatMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := d16[y*w+x]
			if v == invalidDisp16 {
				continue
			}
			disp := float32(v)/dispScale + float32(minD)
			if disp > 0 {
				out.Set(x, y, disp)
			}
		}
	}
	return out
}

const invalidDisp16 = int32(-(1 << 20))

// prefilterXDerivative clamps the horizontal intensity derivative to
// +-cap and shifts it into [0, 2*cap], suppressing illumination differences
// between the two cameras.
func prefilterXDerivative(img *image.Gray, ftzero int) []int32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := 0
			if x > 0 && x < w-1 {
				d = int(img.GrayAt(b.Min.X+x+1, b.Min.Y+y).Y) - int(img.GrayAt(b.Min.X+x-1, b.Min.Y+y).Y)
			}
			if d < -ftzero {
				d = -ftzero
			}
			if d > ftzero {
				d = ftzero
			}
			out[y*w+x] = int32(d + ftzero)
		}
	}
	return out
}

// blockMatchingCost computes the SAD matching cost per pixel and disparity
// over a BlockSize window of the prefiltered pair. Layout: (y*w+x)*nd + d.
func (e *DisparityEngine) blockMatchingCost(preL, preR []int32, w, h int) []int32 {
	nd := e.opts.NumDisparities
	minD := e.opts.MinDisparity
	r := e.opts.BlockSize / 2

	cost := make([]int32, w*h*nd)
	// per-disparity absolute difference image, box-filtered with a sliding
	// column-sum window
	ad := make([]int32, w*h)
	colSum := make([]int32, w)
	for d := 0; d < nd; d++ {
		disp := minD + d
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				xr := x - disp
				if xr < 0 {
					xr = 0
				}
				diff := preL[y*w+x] - preR[y*w+xr]
				if diff < 0 {
					diff = -diff
				}
				ad[y*w+x] = diff
			}
		}
		// vertical sums per column over the window rows
		for y := 0; y < h; y++ {
			y0, y1 := y-r, y+r
			if y0 < 0 {
				y0 = 0
			}
			if y1 > h-1 {
				y1 = h - 1
			}
			for x := 0; x < w; x++ {
				var s int32
				for yy := y0; yy <= y1; yy++ {
					s += ad[yy*w+x]
				}
				colSum[x] = s
			}
			// horizontal sliding window over the column sums
			for x := 0; x < w; x++ {
				x0, x1 := x-r, x+r
				if x0 < 0 {
					x0 = 0
				}
				if x1 > w-1 {
					x1 = w - 1
				}
				var s int32
				for xx := x0; xx <= x1; xx++ {
					s += colSum[xx]
				}
				cost[(y*w+x)*nd+d] = s
			}
		}
	}
	return cost
}

// path directions for the semi-global aggregation: horizontal both ways,
// vertical, and the two upper diagonals.
var aggregationPaths = [5][2]int{
	{-1, 0},
	{1, 0},
	{0, -1},
	{-1, -1},
	{1, -1},
}

// aggregateCost runs the semi-global recurrence along each path and sums the
// per-path costs.
func (e *DisparityEngine) aggregateCost(cost []int32, w, h int) []int32 {
	agg := make([]int32, len(cost))
	for _, path := range aggregationPaths {
		e.aggregatePath(cost, agg, w, h, path[0], path[1])
	}
	return agg
}

func (e *DisparityEngine) aggregatePath(cost, agg []int32, w, h, dx, dy int) {
	nd := e.opts.NumDisparities
	p1 := int32(e.opts.P1)
	p2 := int32(e.opts.P2)

	// L values of the previous row (for dy != 0) or previous pixel
	prevRow := make([]int32, w*nd)
	prevRowMin := make([]int32, w)
	curRow := make([]int32, w*nd)
	curRowMin := make([]int32, w)
	prevPixel := make([]int32, nd)

	xStart, xEnd, xStep := 0, w, 1
	if dx > 0 {
		// predecessor is to the right, scan right-to-left
		xStart, xEnd, xStep = w-1, -1, -1
	}

	for y := 0; y < h; y++ {
		for x := xStart; x != xEnd; x += xStep {
			var pred []int32
			var predMin int32
			havePred := false
			if dy == 0 {
				if x != xStart {
					pred = prevPixel
					predMin = minOf(prevPixel)
					havePred = true
				}
			} else {
				px := x + dx
				if y > 0 && px >= 0 && px < w {
					pred = prevRow[px*nd : (px+1)*nd]
					predMin = prevRowMin[px]
					havePred = true
				}
			}

			cur := curRow[x*nd : (x+1)*nd]
			var curMin int32
			for d := 0; d < nd; d++ {
				c := cost[(y*w+x)*nd+d]
				l := c
				if havePred {
					best := pred[d]
					if d > 0 && pred[d-1]+p1 < best {
						best = pred[d-1] + p1
					}
					if d < nd-1 && pred[d+1]+p1 < best {
						best = pred[d+1] + p1
					}
					if predMin+p2 < best {
						best = predMin + p2
					}
					l = c + best - predMin
				}
				cur[d] = l
				if d == 0 || l < curMin {
					curMin = l
				}
				agg[(y*w+x)*nd+d] += l
			}
			curRowMin[x] = curMin
			if dy == 0 {
				copy(prevPixel, cur)
			}
		}
		if dy != 0 {
			copy(prevRow, curRow)
			copy(prevRowMin, curRowMin)
		}
	}
}

func minOf(vals []int32) int32 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// selectDisparities picks the winning disparity per pixel with a uniqueness
// check and sub-pixel parabola refinement. Output is disparity*16 relative
// to MinDisparity, or invalidDisp16.
func (e *DisparityEngine) selectDisparities(agg []int32, w, h int) []int32 {
	nd := e.opts.NumDisparities
	uniq := int32(e.opts.UniquenessRatio)

	d16 := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sp := agg[(y*w+x)*nd : (y*w+x+1)*nd]
			bestD := 0
			minS := sp[0]
			for d := 1; d < nd; d++ {
				if sp[d] < minS {
					minS = sp[d]
					bestD = d
				}
			}
			unique := true
			if uniq > 0 {
				for d := 0; d < nd; d++ {
					if d == bestD || d == bestD-1 || d == bestD+1 {
						continue
					}
					if sp[d]*(100-uniq) < minS*100 {
						unique = false
						break
					}
				}
			}
			if !unique {
				d16[y*w+x] = invalidDisp16
				continue
			}
			v := int32(bestD) * dispScale
			if bestD > 0 && bestD < nd-1 {
				denom := sp[bestD-1] + sp[bestD+1] - 2*sp[bestD]
				if denom < 1 {
					denom = 1
				}
				v += ((sp[bestD-1]-sp[bestD+1])*dispScale + denom) / (denom * 2)
			}
			d16[y*w+x] = v
		}
	}
	return d16
}

// leftRightCheck invalidates pixels whose disparity disagrees with the
// winner seen from the right image by more than Disp12MaxDiff pixels.
func (e *DisparityEngine) leftRightCheck(agg, d16 []int32, w, h int) {
	nd := e.opts.NumDisparities
	minD := e.opts.MinDisparity
	maxDiff := int32(e.opts.Disp12MaxDiff) * dispScale

	disp2 := make([]int32, w)
	disp2cost := make([]int32, w)
	for y := 0; y < h; y++ {
		for i := 0; i < w; i++ {
			disp2[i] = invalidDisp16
			disp2cost[i] = 1 << 30
		}
		// winner from the right image's point of view
		for x := 0; x < w; x++ {
			v := d16[y*w+x]
			if v == invalidDisp16 {
				continue
			}
			bestD := int(v) / dispScale
			xr := x - bestD - minD
			if xr < 0 {
				continue
			}
			c := agg[(y*w+x)*nd+bestD]
			if c < disp2cost[xr] {
				disp2cost[xr] = c
				disp2[xr] = v
			}
		}
		for x := 0; x < w; x++ {
			v := d16[y*w+x]
			if v == invalidDisp16 {
				continue
			}
			xr := x - int(v)/dispScale - minD
			if xr < 0 {
				continue
			}
			other := disp2[xr]
			if other == invalidDisp16 {
				continue
			}
			diff := v - other
			if diff < 0 {
				diff = -diff
			}
			if diff > maxDiff {
				d16[y*w+x] = invalidDisp16
			}
		}
	}
}

// filterSpeckles invalidates connected blobs of similar disparity smaller
// than maxSize. Two neighbors connect when their values differ by at most
// maxDiff (on the *16 scale).
func filterSpeckles(d16 []int32, w, h int, newVal int32, maxSize int, maxDiff int) {
	labels := make([]int32, w*h)
	stack := make([]int, 0, 256)
	region := make([]int, 0, 256)
	var curLabel int32

	for start := 0; start < w*h; start++ {
		if d16[start] == newVal || labels[start] != 0 {
			continue
		}
		curLabel++
		stack = append(stack[:0], start)
		region = region[:0]
		labels[start] = curLabel
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			region = append(region, p)
			px, py := p%w, p/w
			for _, n := range [4][2]int{{px - 1, py}, {px + 1, py}, {px, py - 1}, {px, py + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				q := ny*w + nx
				if labels[q] != 0 || d16[q] == newVal {
					continue
				}
				diff := d16[p] - d16[q]
				if diff < 0 {
					diff = -diff
				}
				if int(diff) > maxDiff {
					continue
				}
				labels[q] = curLabel
				stack = append(stack, q)
			}
		}
		if len(region) < maxSize {
			for _, p := range region {
				d16[p] = newVal
			}
		}
	}
}
