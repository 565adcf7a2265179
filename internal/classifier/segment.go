package classifier

import (
	"math"

	"github.com/paulmach/orb"
)

// edge is one ring segment of an area polygon with its extent cached.
type edge struct {
	a, b                   orb.Point
	minX, maxX, minY, maxY float64
	hole                   bool
}

func newEdge(a, b orb.Point, hole bool) edge {
	return edge{
		a:    a,
		b:    b,
		minX: math.Min(a[0], b[0]),
		maxX: math.Max(a[0], b[0]),
		minY: math.Min(a[1], b[1]),
		maxY: math.Max(a[1], b[1]),
		hole: hole,
	}
}

// rect is a cell rectangle.
type rect struct {
	minX, minY, maxX, maxY float64
}

// crossesInterior reports whether the segment has at least one point strictly
// inside the rectangle. Segments running along the border or touching a
// corner do not count.
func (e edge) crossesInterior(r rect) bool {
	return clip(e.a, e.b, r, true)
}

// touches reports whether the segment shares at least one point with the
// closed rectangle.
func (e edge) touches(r rect) bool {
	return clip(e.a, e.b, r, false)
}

// clip runs Liang-Barsky on the segment a->b against r. With strict set the
// rectangle is treated as open. It reports whether any parameter t in [0,1]
// satisfies all four half-plane constraints.
func clip(a, b orb.Point, r rect, strict bool) bool {
	dx := b[0] - a[0]
	dy := b[1] - a[1]

	lo := math.Inf(-1)
	hi := math.Inf(1)

	ps := [4]float64{-dx, dx, -dy, dy}
	qs := [4]float64{a[0] - r.minX, r.maxX - a[0], a[1] - r.minY, r.maxY - a[1]}

	for i := 0; i < 4; i++ {
		p, q := ps[i], qs[i]
		if p == 0 {
			if q < 0 || (strict && q == 0) {
				return false
			}
			continue
		}
		t := q / p
		if p < 0 {
			lo = math.Max(lo, t)
		} else {
			hi = math.Min(hi, t)
		}
	}

	start := math.Max(lo, 0)
	end := math.Min(hi, 1)
	if strict {
		return start < end
	}
	return start <= end
}

// orientation returns the sign of the cross product (b-a) x (c-a).
func orientation(a, b, c orb.Point) int {
	v := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func onSegment(a, b, p orb.Point) bool {
	return p[0] >= math.Min(a[0], b[0]) && p[0] <= math.Max(a[0], b[0]) &&
		p[1] >= math.Min(a[1], b[1]) && p[1] <= math.Max(a[1], b[1])
}

// segmentsIntersect reports whether segments p1-p2 and p3-p4 share a point.
func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	o1 := orientation(p1, p2, p3)
	o2 := orientation(p1, p2, p4)
	o3 := orientation(p3, p4, p1)
	o4 := orientation(p3, p4, p2)

	if o1 != o2 && o3 != o4 {
		return true
	}

	switch {
	case o1 == 0 && onSegment(p1, p2, p3):
		return true
	case o2 == 0 && onSegment(p1, p2, p4):
		return true
	case o3 == 0 && onSegment(p3, p4, p1):
		return true
	case o4 == 0 && onSegment(p3, p4, p2):
		return true
	}
	return false
}
