// Package index holds the containment index: the classified cells of one area
// in one SRID, backed by an R-tree for point and region lookups.
//
// An Index is immutable once built and safe for any number of concurrent
// readers.
package index

import (
	"errors"
	"fmt"

	"github.com/dhconnelly/rtreego"
	"github.com/stwalsh4118/areaindex/internal/models"
)

// R-tree fan-out, the values 523Squad's spatialdb runs with.
const (
	minChildren = 25
	maxChildren = 50
)

// ErrInvalidCell is returned when a cell cannot be placed in the index.
var ErrInvalidCell = errors.New("invalid cell")

// Classification is the cheap verdict the index gives for a point.
type Classification uint8

const (
	// Outside means no stored cell covers the point.
	Outside Classification = iota
	// Inside means a Within cell covers the point.
	Inside
	// Ambiguous means only Overlaps cells cover the point and the exact test
	// has to decide.
	Ambiguous
)

func (c Classification) String() string {
	switch c {
	case Outside:
		return "outside"
	case Inside:
		return "inside"
	case Ambiguous:
		return "ambiguous"
	}
	return fmt.Sprintf("Classification(%d)", uint8(c))
}

// entry adapts a cell to rtreego.Spatial.
type entry struct {
	cell models.Cell
	rect rtreego.Rect
}

// Bounds implements the rtreego.Spatial interface.
func (e *entry) Bounds() rtreego.Rect {
	return e.rect
}

// Index is the read-only containment index for one (area, srid) pair.
type Index struct {
	tree     *rtreego.Rtree
	cells    []models.Cell
	bounds   models.BoundingBox
	areaID   int64
	cellSize float64
	within   int
	overlaps int
	srid     models.SRID
}

// New builds an index over cells. Every cell must have a positive width and
// height and a Within or Overlaps relationship.
func New(areaID int64, srid models.SRID, cellSize float64, cells []models.Cell) (*Index, error) {
	idx := &Index{
		tree:     rtreego.NewTree(2, minChildren, maxChildren),
		cells:    make([]models.Cell, len(cells)),
		bounds:   models.EmptyBoundingBox(srid),
		areaID:   areaID,
		cellSize: cellSize,
		srid:     srid,
	}
	copy(idx.cells, cells)

	for i, c := range idx.cells {
		switch c.Relationship {
		case models.Within:
			idx.within++
		case models.Overlaps:
			idx.overlaps++
		default:
			return nil, fmt.Errorf("%w: cell %d has relationship %v", ErrInvalidCell, i, c.Relationship)
		}

		if !(c.Width() > 0 && c.Height() > 0) {
			return nil, fmt.Errorf("%w: cell %d has extent %v x %v", ErrInvalidCell, i, c.Width(), c.Height())
		}
		rect, err := rtreego.NewRect(rtreego.Point{c.MinX, c.MinY}, []float64{c.Width(), c.Height()})
		if err != nil {
			return nil, fmt.Errorf("%w: cell %d: %v", ErrInvalidCell, i, err)
		}
		idx.tree.Insert(&entry{cell: c, rect: rect})
		idx.bounds = idx.bounds.Union(c.BoundingBox(srid))
	}

	return idx, nil
}

// FromRecord builds an index from its persisted form.
func FromRecord(rec *models.IndexRecord) (*Index, error) {
	return New(rec.AreaID, rec.SRID, rec.CellSize, rec.Cells)
}

// Record returns the persisted form of the index.
func (idx *Index) Record() *models.IndexRecord {
	return &models.IndexRecord{
		AreaID:   idx.areaID,
		SRID:     idx.srid,
		CellSize: idx.cellSize,
		Cells:    idx.Cells(),
	}
}

// AreaID returns the area the index belongs to.
func (idx *Index) AreaID() int64 { return idx.areaID }

// SRID returns the spatial reference of the indexed cells.
func (idx *Index) SRID() models.SRID { return idx.srid }

// CellSize returns the side length the cells were built with.
func (idx *Index) CellSize() float64 { return idx.cellSize }

// Len returns the number of stored cells.
func (idx *Index) Len() int { return len(idx.cells) }

// Counts returns the number of Within and Overlaps cells.
func (idx *Index) Counts() (within, overlaps int) {
	return idx.within, idx.overlaps
}

// Bounds returns the extent of all stored cells. It is empty for an empty
// index.
func (idx *Index) Bounds() models.BoundingBox { return idx.bounds }

// Cells returns a copy of the stored cells.
func (idx *Index) Cells() []models.Cell {
	out := make([]models.Cell, len(idx.cells))
	copy(out, idx.cells)
	return out
}

// Covering returns the cells whose closed rectangle contains the coordinate.
func (idx *Index) Covering(x, y float64) []models.Cell {
	if len(idx.cells) == 0 || !idx.bounds.Contains(models.Point{X: x, Y: y}) {
		return nil
	}

	var out []models.Cell
	for _, s := range idx.tree.SearchIntersect(idx.probe(x, y)) {
		c := s.(*entry).cell
		if c.Contains(x, y) {
			out = append(out, c)
		}
	}
	return out
}

// Intersecting returns the cells sharing at least one point with region.
func (idx *Index) Intersecting(region models.BoundingBox) []models.Cell {
	if len(idx.cells) == 0 || !idx.bounds.Intersects(region) {
		return nil
	}

	tol := idx.tolerance()
	rect, err := rtreego.NewRect(
		rtreego.Point{region.Left - tol, region.Bottom - tol},
		[]float64{region.Width() + 2*tol, region.Height() + 2*tol},
	)
	if err != nil {
		return nil
	}

	var out []models.Cell
	for _, s := range idx.tree.SearchIntersect(rect) {
		c := s.(*entry).cell
		if c.BoundingBox(idx.srid).Intersects(region) {
			out = append(out, c)
		}
	}
	return out
}

// Classify returns the cheap verdict for the coordinate. Within cells win
// over Overlaps cells.
func (idx *Index) Classify(x, y float64) Classification {
	result := Outside
	for _, c := range idx.Covering(x, y) {
		switch c.Relationship {
		case models.Within:
			return Inside
		case models.Overlaps:
			result = Ambiguous
		}
	}
	return result
}

// probe is a tiny square around the coordinate. rtreego treats touching
// rectangles as disjoint, so a zero-size probe would miss cells sharing only
// an edge with the point.
func (idx *Index) probe(x, y float64) rtreego.Rect {
	tol := idx.tolerance()
	rect, _ := rtreego.NewRect(rtreego.Point{x - tol, y - tol}, []float64{2 * tol, 2 * tol})
	return rect
}

func (idx *Index) tolerance() float64 {
	if idx.cellSize > 0 {
		return idx.cellSize * 1e-6
	}
	return 1e-9
}
