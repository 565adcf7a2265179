package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
)

// SRID is a spatial reference identifier. Coordinates tagged with different
// SRIDs are not comparable.
type SRID int

// DefaultSRID is WGS84 lat/lng, the SRID assumed for GeoJSON input that does
// not say otherwise.
const DefaultSRID SRID = 4326

// Point is a coordinate pair in a spatial reference system.
type Point struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	SRID SRID    `json:"srid"`
}

// NewPoint creates a Point.
func NewPoint(x, y float64, srid SRID) Point {
	return Point{X: x, Y: y, SRID: srid}
}

// Orb returns the point as an orb.Point (x, y).
func (p Point) Orb() orb.Point {
	return orb.Point{p.X, p.Y}
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return isFinite(p.X) && isFinite(p.Y)
}

func (p Point) String() string {
	return fmt.Sprintf("POINT(%g %g) srid=%d", p.X, p.Y, p.SRID)
}

// BoundingBox is an axis-aligned rectangle. It is always derived from the
// geometry it bounds.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Top    float64 `json:"top"`
	SRID   SRID    `json:"srid"`
}

// EmptyBoundingBox returns a box that contains nothing and grows with Extend.
func EmptyBoundingBox(srid SRID) BoundingBox {
	return BoundingBox{
		Left:   math.Inf(1),
		Right:  math.Inf(-1),
		Bottom: math.Inf(1),
		Top:    math.Inf(-1),
		SRID:   srid,
	}
}

// IsEmpty reports whether the box bounds no geometry at all.
func (b BoundingBox) IsEmpty() bool {
	return b.Left > b.Right || b.Bottom > b.Top
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 {
	if b.IsEmpty() {
		return 0
	}
	return b.Right - b.Left
}

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 {
	if b.IsEmpty() {
		return 0
	}
	return b.Top - b.Bottom
}

// Contains reports whether the closed box contains the point.
func (b BoundingBox) Contains(p Point) bool {
	return p.X >= b.Left && p.X <= b.Right && p.Y >= b.Bottom && p.Y <= b.Top
}

// Intersects reports whether two closed boxes share at least one point.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	if b.IsEmpty() || o.IsEmpty() {
		return false
	}
	return b.Left <= o.Right && o.Left <= b.Right && b.Bottom <= o.Top && o.Bottom <= b.Top
}

// Union returns the smallest box containing both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		Left:   math.Min(b.Left, o.Left),
		Right:  math.Max(b.Right, o.Right),
		Bottom: math.Min(b.Bottom, o.Bottom),
		Top:    math.Max(b.Top, o.Top),
		SRID:   b.SRID,
	}
}

// MarshalJSON writes an empty box as null since JSON has no infinities.
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	if b.IsEmpty() {
		return []byte("null"), nil
	}
	type plain BoundingBox
	return json.Marshal(plain(b))
}

// Bound converts the box to an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.Left, b.Bottom}, Max: orb.Point{b.Right, b.Top}}
}

// Polygon is one part of an area geometry. Ring 0 is the outer ring, the
// remaining rings are holes. Every ring is closed.
type Polygon struct {
	Rings orb.Polygon
	SRID  SRID
}

// BoundingBox returns the extent of the outer ring.
func (p Polygon) BoundingBox() BoundingBox {
	if len(p.Rings) == 0 || len(p.Rings[0]) == 0 {
		return EmptyBoundingBox(p.SRID)
	}
	bound := p.Rings[0].Bound()
	return BoundingBox{
		Left:   bound.Min.X(),
		Right:  bound.Max.X(),
		Bottom: bound.Min.Y(),
		Top:    bound.Max.Y(),
		SRID:   p.SRID,
	}
}

// Scan implements sql.Scanner. It accepts WKB (ST_AsBinary) as well as
// GeoJSON text (ST_AsGeoJSON). The SRID is left untouched since neither
// encoding carries it; callers set it from the owning area.
func (p *Polygon) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to scan Polygon: expected []byte, got %T", value)
	}

	var geom orb.Geometry
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		g, err := geojson.UnmarshalGeometry(trimmed)
		if err != nil {
			return fmt.Errorf("failed to unmarshal polygon geometry: %w", err)
		}
		geom = g.Geometry()
	} else {
		g, err := wkb.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("failed to decode polygon WKB: %w", err)
		}
		geom = g
	}

	poly, ok := geom.(orb.Polygon)
	if !ok {
		return fmt.Errorf("expected Polygon type, got %s", geom.GeoJSONType())
	}

	p.Rings = poly
	return nil
}

// Value implements driver.Valuer. The polygon is written as WKB for use with
// ST_GeomFromWKB.
func (p Polygon) Value() (driver.Value, error) {
	if len(p.Rings) == 0 {
		return nil, nil
	}

	data, err := wkb.Marshal(p.Rings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon to WKB: %w", err)
	}
	return data, nil
}

// MarshalJSON writes the polygon as a GeoJSON geometry.
func (p Polygon) MarshalJSON() ([]byte, error) {
	return json.Marshal(geojson.NewGeometry(p.Rings))
}

// UnmarshalJSON reads a GeoJSON Polygon geometry. The SRID defaults to 4326.
func (p *Polygon) UnmarshalJSON(data []byte) error {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal polygon: %w", err)
	}

	poly, ok := g.Geometry().(orb.Polygon)
	if !ok {
		return fmt.Errorf("expected Polygon type, got %s", g.Type)
	}

	p.Rings = poly
	if p.SRID == 0 {
		p.SRID = DefaultSRID
	}
	return nil
}

// PartsBoundingBox returns the union bounding box over every polygon part.
// It is empty when there are no parts.
func PartsBoundingBox(parts []Polygon, srid SRID) BoundingBox {
	box := EmptyBoundingBox(srid)
	for _, part := range parts {
		pb := part.BoundingBox()
		if pb.IsEmpty() {
			continue
		}
		box = box.Union(pb)
	}
	box.SRID = srid
	return box
}

// MultiPolygon flattens area parts into a single orb.MultiPolygon.
func MultiPolygon(parts []Polygon) orb.MultiPolygon {
	mp := make(orb.MultiPolygon, 0, len(parts))
	for _, part := range parts {
		mp = append(mp, part.Rings)
	}
	return mp
}

// ParseGeoJSONParts decodes a GeoJSON Polygon, MultiPolygon, Feature or
// FeatureCollection into area parts tagged with srid. Non-polygonal geometry
// is rejected.
func ParseGeoJSONParts(data []byte, srid SRID) ([]Polygon, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to read GeoJSON type: %w", err)
	}

	var geoms []orb.Geometry
	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal feature collection: %w", err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal feature: %w", err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal geometry: %w", err)
		}
		geoms = append(geoms, g.Geometry())
	}

	var parts []Polygon
	for i, g := range geoms {
		switch geom := g.(type) {
		case orb.Polygon:
			parts = append(parts, Polygon{Rings: geom, SRID: srid})
		case orb.MultiPolygon:
			for _, poly := range geom {
				parts = append(parts, Polygon{Rings: poly, SRID: srid})
			}
		case nil:
			return nil, fmt.Errorf("geometry %d is empty", i)
		default:
			return nil, fmt.Errorf("geometry %d: expected Polygon or MultiPolygon, got %s", i, geom.GeoJSONType())
		}
	}
	return parts, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
