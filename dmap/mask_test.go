package dmap

import (
	"testing"

	"go.viam.com/test"
)

func TestMaskMorphology(t *testing.T) {
	m := NewMask(9, 9)
	m.Set(4, 4, true)

	test.That(t, m.ErodeSquare().CountOn(), test.ShouldEqual, 0)
	test.That(t, m.DilateSquare().CountOn(), test.ShouldEqual, 9)
	test.That(t, m.DilateCross().CountOn(), test.ShouldEqual, 5)

	// opening removes single-pixel speckle
	test.That(t, m.OpenSquare().CountOn(), test.ShouldEqual, 0)

	// a solid 4x4 block survives opening intact
	block := NewMask(9, 9)
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			block.Set(x, y, true)
		}
	}
	test.That(t, block.OpenSquare().CountOn(), test.ShouldEqual, 16)
}

func TestMaskSetOps(t *testing.T) {
	a := NewMask(4, 4)
	b := NewMask(4, 4)
	a.Set(0, 0, true)
	a.Set(1, 1, true)
	b.Set(1, 1, true)
	b.Set(2, 2, true)

	test.That(t, a.Union(b).CountOn(), test.ShouldEqual, 3)
	test.That(t, a.Intersect(b).CountOn(), test.ShouldEqual, 1)
	test.That(t, a.Invert().CountOn(), test.ShouldEqual, 14)
}

func TestSegmentRegions(t *testing.T) {
	m := NewMask(20, 10)
	// blob 1: 3x3
	for y := 1; y < 4; y++ {
		for x := 1; x < 4; x++ {
			m.Set(x, y, true)
		}
	}
	// blob 2: 2x2, separated
	for y := 6; y < 8; y++ {
		for x := 10; x < 12; x++ {
			m.Set(x, y, true)
		}
	}
	// lone pixel
	m.Set(18, 1, true)

	segs := m.SegmentRegions(1)
	test.That(t, len(segs), test.ShouldEqual, 3)

	segs = m.SegmentRegions(4)
	test.That(t, len(segs), test.ShouldEqual, 2)

	segs = m.SegmentRegions(9)
	test.That(t, len(segs), test.ShouldEqual, 1)
	test.That(t, segs[0].Area(), test.ShouldEqual, 9)
	test.That(t, segs[0].Centroid().X, test.ShouldEqual, 2)
	test.That(t, segs[0].Centroid().Y, test.ShouldEqual, 2)
	test.That(t, segs[0].Bounds.Dx(), test.ShouldEqual, 3)
	test.That(t, segs[0].Bounds.Dy(), test.ShouldEqual, 3)
}

func TestSegmentRegions8(t *testing.T) {
	m := NewMask(10, 10)
	// two 2x2 blobs touching only at a corner
	for y := 1; y < 3; y++ {
		for x := 1; x < 3; x++ {
			m.Set(x, y, true)
		}
	}
	for y := 3; y < 5; y++ {
		for x := 3; x < 5; x++ {
			m.Set(x, y, true)
		}
	}

	// 4-connectivity sees two regions, 8-connectivity one
	test.That(t, len(m.SegmentRegions(1)), test.ShouldEqual, 2)
	segs := m.SegmentRegions8(1)
	test.That(t, len(segs), test.ShouldEqual, 1)
	test.That(t, segs[0].Area(), test.ShouldEqual, 8)
}
