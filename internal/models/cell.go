package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Relationship is the classification of a cell against its area.
type Relationship uint8

const (
	// Within marks a cell lying entirely inside the area.
	Within Relationship = iota + 1
	// Overlaps marks a cell crossing the area border.
	Overlaps
)

// String returns the stored name of the relationship.
func (r Relationship) String() string {
	switch r {
	case Within:
		return "Within"
	case Overlaps:
		return "Overlaps"
	}
	return fmt.Sprintf("Relationship(%d)", uint8(r))
}

// Valid reports whether r is one of the defined relationships.
func (r Relationship) Valid() bool {
	return r == Within || r == Overlaps
}

// ParseRelationship converts a stored name back into a Relationship.
func ParseRelationship(s string) (Relationship, error) {
	switch s {
	case "Within":
		return Within, nil
	case "Overlaps":
		return Overlaps, nil
	}
	return 0, fmt.Errorf("unknown cell relationship %q", s)
}

// Scan implements sql.Scanner for the cell_relationship enum column.
func (r *Relationship) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("failed to scan Relationship: expected string, got %T", value)
	}

	parsed, err := ParseRelationship(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value implements driver.Valuer.
func (r Relationship) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid cell relationship %d", uint8(r))
	}
	return r.String(), nil
}

// MarshalJSON writes the relationship name.
func (r Relationship) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid cell relationship %d", uint8(r))
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON reads a relationship name.
func (r *Relationship) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to unmarshal relationship: %w", err)
	}
	parsed, err := ParseRelationship(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Cell is a square region of an area's grid together with its relationship
// to the area. Cells outside the area are never stored.
//
// All four edges are stored. Neighbouring cells share the exact same edge
// value, which MinX + size would not guarantee in floating point.
type Cell struct {
	MinX         float64      `json:"minX"`
	MinY         float64      `json:"minY"`
	MaxX         float64      `json:"maxX"`
	MaxY         float64      `json:"maxY"`
	Relationship Relationship `json:"relationship"`
}

// Width returns the horizontal extent of the cell.
func (c Cell) Width() float64 {
	return c.MaxX - c.MinX
}

// Height returns the vertical extent of the cell.
func (c Cell) Height() float64 {
	return c.MaxY - c.MinY
}

// Contains reports whether the closed cell contains the coordinate.
func (c Cell) Contains(x, y float64) bool {
	return x >= c.MinX && x <= c.MaxX && y >= c.MinY && y <= c.MaxY
}

// BoundingBox returns the cell rectangle in the given SRID.
func (c Cell) BoundingBox(srid SRID) BoundingBox {
	return BoundingBox{Left: c.MinX, Right: c.MaxX, Bottom: c.MinY, Top: c.MaxY, SRID: srid}
}

// IndexRecord is the persisted form of a containment index: the classified
// cells of one area in one SRID.
type IndexRecord struct {
	BuiltAt  time.Time `json:"builtAt"`
	Cells    []Cell    `json:"cells"`
	AreaID   int64     `json:"areaId"`
	CellSize float64   `json:"cellSize"`
	SRID     SRID      `json:"srid"`
}
