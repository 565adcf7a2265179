package repository

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/areaindex/internal/database"
	"github.com/stwalsh4118/areaindex/internal/models"
	"github.com/stwalsh4118/areaindex/internal/query"
)

// PostGISTester answers exact containment with ST_Intersects against the
// stored polygon parts of one area. Each call is a single round trip.
//
// Unlike the planar tester, points on a hole border intersect the polygon and
// therefore count as inside.
type PostGISTester struct {
	db     *database.Database
	areaID int64
	srid   models.SRID
}

// NewPostGISTester creates an exact tester for one area.
func NewPostGISTester(db *database.Database, areaID int64, srid models.SRID) *PostGISTester {
	return &PostGISTester{db: db, areaID: areaID, srid: srid}
}

// Contains implements query.ExactTester.
func (t *PostGISTester) Contains(ctx context.Context, points []models.Point) ([]bool, error) {
	if err := query.CheckSRID(points, t.srid); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return []bool{}, nil
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}

	rows, err := t.db.Pool.Query(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM area_geometry g
			WHERE g.area_id = $1
			  AND ST_Intersects(g.geom, ST_SetSRID(ST_MakePoint(p.x, p.y), $4))
		)
		FROM unnest($2::float8[], $3::float8[]) WITH ORDINALITY AS p(x, y, ord)
		ORDER BY p.ord`,
		t.areaID, xs, ys, int(t.srid),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to test %d points against area %d: %w", len(points), t.areaID, err)
	}
	defer rows.Close()

	out := make([]bool, 0, len(points))
	for rows.Next() {
		var inside bool
		if err := rows.Scan(&inside); err != nil {
			return nil, fmt.Errorf("failed to scan containment row: %w", err)
		}
		out = append(out, inside)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating containment rows: %w", err)
	}
	return out, nil
}
