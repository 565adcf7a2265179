package models

import (
	"time"
)

// Area is a named region made of one or more polygon parts in a single SRID.
// Areas are immutable after creation; the polygon parts live in the
// area_geometry table and are loaded separately.
type Area struct {
	CreatedAt   time.Time   `json:"createdAt"`
	Name        string      `json:"name"`
	BoundingBox BoundingBox `json:"boundingBox"`
	ID          int64       `json:"id"`
	ShapefileID int64       `json:"shapefileId"`
	SRID        SRID        `json:"srid"`
}

// TableName returns the table holding area rows.
func (Area) TableName() string {
	return "area"
}
