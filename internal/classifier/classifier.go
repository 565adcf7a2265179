// Package classifier partitions an area's bounding box into a regular grid of
// square cells and classifies every cell against the area polygons.
//
// A cell is Within when it lies entirely inside the area, Overlaps when it
// crosses the area border, and is dropped otherwise. Within is always checked
// first, so a cell is only Overlaps when it is not fully within.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stwalsh4118/areaindex/internal/models"
	"golang.org/x/sync/errgroup"
)

// Build errors. All of them abort the build before anything is returned.
var (
	ErrInvalidCellSize  = errors.New("cell size must be a positive finite number")
	ErrMalformedPolygon = errors.New("malformed polygon")
	ErrTooManyCells     = errors.New("cell grid too large")
)

// DefaultMaxCells caps the grid size when Options.MaxCells is not set.
const DefaultMaxCells int64 = 5_000_000

// Options tunes a build.
type Options struct {
	// Workers is the number of rows classified concurrently. Zero means
	// GOMAXPROCS.
	Workers int
	// MaxCells rejects grids larger than this. Zero means DefaultMaxCells,
	// a negative value disables the check.
	MaxCells int64
	// CheckSimple rejects rings that intersect themselves. The check is
	// quadratic in the ring size.
	CheckSimple bool
}

// Grid describes the cell layout over a bounding box.
type Grid struct {
	Left     float64
	Bottom   float64
	CellSize float64
	Columns  int64
	Rows     int64
}

// X returns the left edge of column col, which is also the right edge of
// column col-1.
func (g Grid) X(col int64) float64 {
	return g.Left + float64(col)*g.CellSize
}

// Y returns the bottom edge of row row, which is also the top edge of row
// row-1.
func (g Grid) Y(row int64) float64 {
	return g.Bottom + float64(row)*g.CellSize
}

// Count returns the total number of grid cells before classification.
func (g Grid) Count() int64 {
	return g.Columns * g.Rows
}

// NewGrid lays out cells of side cellSize starting at the minimum corner of
// bbox. Columns start at left + i*cellSize for as long as that value does not
// exceed the right edge, so the last column may extend past the box. Rows
// follow the same rule.
func NewGrid(bbox models.BoundingBox, cellSize float64) (Grid, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return Grid{}, fmt.Errorf("%w: got %v", ErrInvalidCellSize, cellSize)
	}
	if bbox.IsEmpty() {
		return Grid{Left: bbox.Left, Bottom: bbox.Bottom, CellSize: cellSize}, nil
	}
	if math.IsInf(bbox.Width(), 0) || math.IsInf(bbox.Height(), 0) ||
		math.IsNaN(bbox.Width()) || math.IsNaN(bbox.Height()) {
		return Grid{}, fmt.Errorf("%w: bounding box is not finite", ErrMalformedPolygon)
	}

	return Grid{
		Left:     bbox.Left,
		Bottom:   bbox.Bottom,
		CellSize: cellSize,
		Columns:  steps(bbox.Width(), cellSize),
		Rows:     steps(bbox.Height(), cellSize),
	}, nil
}

// steps counts i >= 0 with i*size <= extent.
func steps(extent, size float64) int64 {
	n := int64(math.Floor(extent/size)) + 1
	// floor can land one short or long when extent/size is not exact
	for n > 1 && float64(n-1)*size > extent {
		n--
	}
	for float64(n)*size <= extent {
		n++
	}
	return n
}

// EstimateCellCount reports how many cells a build over bbox would examine.
// Callers use it to guard against grids too large to materialise.
func EstimateCellCount(bbox models.BoundingBox, cellSize float64) (int64, error) {
	grid, err := NewGrid(bbox, cellSize)
	if err != nil {
		return 0, err
	}
	return grid.Count(), nil
}

// Build classifies every cell of the grid over bbox against the union of the
// polygon parts and returns the Within and Overlaps cells in row-major order.
// An area with no parts yields an empty result. When bbox is empty it is
// derived from the parts.
func Build(ctx context.Context, parts []models.Polygon, bbox models.BoundingBox, cellSize float64, opts Options) ([]models.Cell, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidCellSize, cellSize)
	}
	if len(parts) == 0 {
		return []models.Cell{}, nil
	}

	if err := validate(parts, bbox.SRID, opts.CheckSimple); err != nil {
		return nil, err
	}

	if bbox.IsEmpty() {
		bbox = models.PartsBoundingBox(parts, bbox.SRID)
	}

	grid, err := NewGrid(bbox, cellSize)
	if err != nil {
		return nil, err
	}

	maxCells := opts.MaxCells
	if maxCells == 0 {
		maxCells = DefaultMaxCells
	}
	if maxCells > 0 && grid.Count() > maxCells {
		return nil, fmt.Errorf("%w: %d cells of size %v exceed the limit of %d",
			ErrTooManyCells, grid.Count(), cellSize, maxCells)
	}

	a := newArea(parts)

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	rows := make([][]models.Cell, grid.Rows)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for r := int64(0); r < grid.Rows; r++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[r] = a.classifyRow(grid, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("cell classification aborted: %w", err)
	}

	total := 0
	for _, row := range rows {
		total += len(row)
	}
	cells := make([]models.Cell, 0, total)
	for _, row := range rows {
		cells = append(cells, row...)
	}
	return cells, nil
}

// area is the read-only view of the polygons shared by all workers.
type area struct {
	mp    orb.MultiPolygon
	edges []edge
}

func newArea(parts []models.Polygon) *area {
	a := &area{mp: models.MultiPolygon(parts)}
	for _, part := range parts {
		for ri, ring := range part.Rings {
			for i := 0; i+1 < len(ring); i++ {
				a.edges = append(a.edges, newEdge(ring[i], ring[i+1], ri > 0))
			}
		}
	}
	return a
}

func (a *area) classifyRow(grid Grid, row int64) []models.Cell {
	minY, maxY := grid.Y(row), grid.Y(row+1)

	// edges that can reach this row at all
	var candidates []edge
	for _, e := range a.edges {
		if e.maxY >= minY && e.minY <= maxY {
			candidates = append(candidates, e)
		}
	}

	var cells []models.Cell
	for col := int64(0); col < grid.Columns; col++ {
		r := rect{minX: grid.X(col), minY: minY, maxX: grid.X(col + 1), maxY: maxY}

		rel, keep := a.classify(r, candidates)
		if !keep {
			continue
		}
		cells = append(cells, models.Cell{
			MinX:         r.minX,
			MinY:         r.minY,
			MaxX:         r.maxX,
			MaxY:         r.maxY,
			Relationship: rel,
		})
	}
	return cells
}

// classify decides the relationship of one cell. If no edge enters the open
// cell, the open cell lies entirely on one side of the border and its centre
// decides which. Hole edges touching the closed cell demote it to Overlaps
// because points on a hole border are outside the area.
func (a *area) classify(r rect, candidates []edge) (models.Relationship, bool) {
	holeTouch := false
	for _, e := range candidates {
		if e.maxX < r.minX || e.minX > r.maxX {
			continue
		}
		if e.crossesInterior(r) {
			return models.Overlaps, true
		}
		if e.hole && !holeTouch && e.touches(r) {
			holeTouch = true
		}
	}

	center := orb.Point{(r.minX + r.maxX) / 2, (r.minY + r.maxY) / 2}
	if !planar.MultiPolygonContains(a.mp, center) {
		return 0, false
	}
	if holeTouch {
		return models.Overlaps, true
	}
	return models.Within, true
}

// validate rejects geometry the exact test cannot work with.
func validate(parts []models.Polygon, srid models.SRID, checkSimple bool) error {
	for pi, part := range parts {
		if part.SRID != srid {
			return fmt.Errorf("%w: part %d has srid %d, area srid is %d",
				ErrMalformedPolygon, pi, part.SRID, srid)
		}
		if len(part.Rings) == 0 {
			return fmt.Errorf("%w: part %d has no rings", ErrMalformedPolygon, pi)
		}
		for ri, ring := range part.Rings {
			if len(ring) < 4 {
				return fmt.Errorf("%w: part %d ring %d has %d points, need at least 4",
					ErrMalformedPolygon, pi, ri, len(ring))
			}
			if !ring.Closed() {
				return fmt.Errorf("%w: part %d ring %d is not closed", ErrMalformedPolygon, pi, ri)
			}
			for _, p := range ring {
				if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
					return fmt.Errorf("%w: part %d ring %d has a non-finite coordinate",
						ErrMalformedPolygon, pi, ri)
				}
			}
			if checkSimple && selfIntersects(ring) {
				return fmt.Errorf("%w: part %d ring %d intersects itself", ErrMalformedPolygon, pi, ri)
			}
		}
	}
	return nil
}

// selfIntersects reports whether two non-adjacent edges of a closed ring
// share a point.
func selfIntersects(ring orb.Ring) bool {
	n := len(ring) - 1
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsIntersect(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}
