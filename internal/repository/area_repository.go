package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/areaindex/internal/database"
	"github.com/stwalsh4118/areaindex/internal/models"
)

// ErrInvalidSRID is returned for negative SRIDs.
var ErrInvalidSRID = errors.New("srid must be non-negative")

// AreaRepository defines data access for areas and their polygon parts.
type AreaRepository interface {
	// Create stores the area row and every polygon part in one transaction
	// and returns the new area id. area.ID and area.CreatedAt are filled in.
	Create(ctx context.Context, area *models.Area, parts []models.Polygon) (int64, error)

	// GetByID returns the area with its union bounding box.
	// Returns nil, nil if the area does not exist.
	GetByID(ctx context.Context, id int64) (*models.Area, error)

	// ListAll returns every area ordered by id.
	ListAll(ctx context.Context) ([]models.Area, error)

	// ListBySRID returns the areas stored in srid. A negative srid is an error.
	ListBySRID(ctx context.Context, srid models.SRID) ([]models.Area, error)

	// ListByShapefile returns the areas imported from one shapefile.
	ListByShapefile(ctx context.Context, shapefileID int64) ([]models.Area, error)

	// Polygons returns the polygon parts of an area in insertion order.
	// An area without parts, or an unknown area, yields an empty slice.
	Polygons(ctx context.Context, areaID int64) ([]models.Polygon, error)

	// BoundingBox returns the union extent of the area's parts.
	// Returns nil, nil if the area does not exist.
	BoundingBox(ctx context.Context, areaID int64) (*models.BoundingBox, error)

	// Delete removes an area, its parts and its cells. It reports whether a
	// row was deleted.
	Delete(ctx context.Context, areaID int64) (bool, error)

	// DeleteByShapefile removes every area of a shapefile and returns the
	// deleted ids.
	DeleteByShapefile(ctx context.Context, shapefileID int64) ([]int64, error)
}

// areaRepository is the PostGIS implementation of AreaRepository.
type areaRepository struct {
	db *database.Database
}

// NewAreaRepository creates a new instance of AreaRepository.
func NewAreaRepository(db *database.Database) AreaRepository {
	return &areaRepository{db: db}
}

// areaColumns selects an area row plus the extent of its parts. The extent
// columns are NULL for an area without parts.
const areaColumns = `
	a.id,
	a.name,
	a.shapefile_id,
	a.srid,
	a.created_at,
	ST_XMin(ext.box),
	ST_XMax(ext.box),
	ST_YMin(ext.box),
	ST_YMax(ext.box)
`

const areaFrom = `
	FROM area a
	LEFT JOIN LATERAL (
		SELECT ST_Extent(g.geom)::box3d AS box
		FROM area_geometry g
		WHERE g.area_id = a.id
	) ext ON TRUE
`

func (r *areaRepository) Create(ctx context.Context, area *models.Area, parts []models.Polygon) (int64, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin area transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO area (name, shapefile_id, srid) VALUES ($1, $2, $3) RETURNING id, created_at`,
		area.Name, area.ShapefileID, int(area.SRID),
	).Scan(&area.ID, &area.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert area %q: %w", area.Name, err)
	}

	if len(parts) > 0 {
		batch := &pgx.Batch{}
		for i, part := range parts {
			wkbValue, err := part.Value()
			if err != nil {
				return 0, fmt.Errorf("failed to encode part %d of area %d: %w", i, area.ID, err)
			}
			batch.Queue(
				`INSERT INTO area_geometry (area_id, part, geom) VALUES ($1, $2, ST_GeomFromWKB($3, $4))`,
				area.ID, i, wkbValue, int(area.SRID),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("failed to insert polygon parts of area %d: %w", area.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit area %d: %w", area.ID, err)
	}

	area.BoundingBox = models.PartsBoundingBox(parts, area.SRID)
	return area.ID, nil
}

func (r *areaRepository) GetByID(ctx context.Context, id int64) (*models.Area, error) {
	query := `SELECT` + areaColumns + areaFrom + `WHERE a.id = $1`

	area, err := scanArea(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query area %d: %w", id, err)
	}
	return area, nil
}

func (r *areaRepository) ListAll(ctx context.Context) ([]models.Area, error) {
	return r.list(ctx, `SELECT`+areaColumns+areaFrom+`ORDER BY a.id`)
}

func (r *areaRepository) ListBySRID(ctx context.Context, srid models.SRID) ([]models.Area, error) {
	if srid < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSRID, srid)
	}
	return r.list(ctx, `SELECT`+areaColumns+areaFrom+`WHERE a.srid = $1 ORDER BY a.id`, int(srid))
}

func (r *areaRepository) ListByShapefile(ctx context.Context, shapefileID int64) ([]models.Area, error) {
	return r.list(ctx, `SELECT`+areaColumns+areaFrom+`WHERE a.shapefile_id = $1 ORDER BY a.id`, shapefileID)
}

func (r *areaRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Area, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query areas: %w", err)
	}
	defer rows.Close()

	areas := []models.Area{}
	for rows.Next() {
		area, err := scanArea(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan area row: %w", err)
		}
		areas = append(areas, *area)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating area rows: %w", err)
	}
	return areas, nil
}

func (r *areaRepository) Polygons(ctx context.Context, areaID int64) ([]models.Polygon, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT ST_AsBinary(g.geom), ST_SRID(g.geom)
		FROM area_geometry g
		WHERE g.area_id = $1
		ORDER BY g.part`, areaID)
	if err != nil {
		return nil, fmt.Errorf("failed to query polygons of area %d: %w", areaID, err)
	}
	defer rows.Close()

	parts := []models.Polygon{}
	for rows.Next() {
		var (
			data []byte
			srid int
		)
		if err := rows.Scan(&data, &srid); err != nil {
			return nil, fmt.Errorf("failed to scan polygon row: %w", err)
		}

		var part models.Polygon
		if err := part.Scan(data); err != nil {
			return nil, fmt.Errorf("failed to decode polygon %d of area %d: %w", len(parts), areaID, err)
		}
		part.SRID = models.SRID(srid)
		parts = append(parts, part)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating polygon rows: %w", err)
	}
	return parts, nil
}

func (r *areaRepository) BoundingBox(ctx context.Context, areaID int64) (*models.BoundingBox, error) {
	area, err := r.GetByID(ctx, areaID)
	if err != nil || area == nil {
		return nil, err
	}
	bbox := area.BoundingBox
	return &bbox, nil
}

func (r *areaRepository) Delete(ctx context.Context, areaID int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM area WHERE id = $1`, areaID)
	if err != nil {
		return false, fmt.Errorf("failed to delete area %d: %w", areaID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *areaRepository) DeleteByShapefile(ctx context.Context, shapefileID int64) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `DELETE FROM area WHERE shapefile_id = $1 RETURNING id`, shapefileID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete areas of shapefile %d: %w", shapefileID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to read deleted area ids of shapefile %d: %w", shapefileID, err)
	}
	return ids, nil
}

// scanArea reads one row selected with areaColumns.
func scanArea(row pgx.Row) (*models.Area, error) {
	var (
		area                     models.Area
		srid                     int
		left, right, bottom, top *float64
	)
	if err := row.Scan(
		&area.ID,
		&area.Name,
		&area.ShapefileID,
		&srid,
		&area.CreatedAt,
		&left,
		&right,
		&bottom,
		&top,
	); err != nil {
		return nil, err
	}

	area.SRID = models.SRID(srid)
	area.BoundingBox = models.EmptyBoundingBox(area.SRID)
	if left != nil && right != nil && bottom != nil && top != nil {
		area.BoundingBox = models.BoundingBox{
			Left:   *left,
			Right:  *right,
			Bottom: *bottom,
			Top:    *top,
			SRID:   area.SRID,
		}
	}
	return &area, nil
}
