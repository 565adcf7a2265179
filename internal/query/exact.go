package query

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stwalsh4118/areaindex/internal/models"
)

// ExactTester is the precise point-in-area predicate. It is only consulted
// for points that fall in Overlaps cells. Implementations return one result
// per input point, in order.
type ExactTester interface {
	Contains(ctx context.Context, points []models.Point) ([]bool, error)
}

// ExactTestFunc adapts a function to ExactTester.
type ExactTestFunc func(ctx context.Context, points []models.Point) ([]bool, error)

// Contains calls f.
func (f ExactTestFunc) Contains(ctx context.Context, points []models.Point) ([]bool, error) {
	return f(ctx, points)
}

// PlanarTester tests points against in-memory polygon parts. Points on an
// outer ring count as inside, points on a hole ring count as outside.
type PlanarTester struct {
	mp   orb.MultiPolygon
	srid models.SRID
}

// NewPlanarTester creates a tester for the union of parts.
func NewPlanarTester(parts []models.Polygon, srid models.SRID) *PlanarTester {
	return &PlanarTester{mp: models.MultiPolygon(parts), srid: srid}
}

// Contains implements ExactTester.
func (t *PlanarTester) Contains(ctx context.Context, points []models.Point) ([]bool, error) {
	if err := CheckSRID(points, t.srid); err != nil {
		return nil, err
	}

	out := make([]bool, len(points))
	for i, p := range points {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[i] = planar.MultiPolygonContains(t.mp, p.Orb())
	}
	return out, nil
}
