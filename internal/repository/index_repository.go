package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/areaindex/internal/database"
	"github.com/stwalsh4118/areaindex/internal/models"
)

// IndexRepository persists containment index records.
type IndexRepository interface {
	// Save replaces the stored index for (record.AreaID, record.SRID). The
	// previous index stays in place if anything fails.
	Save(ctx context.Context, record *models.IndexRecord) error

	// Load returns the stored index, or nil, nil if none exists.
	Load(ctx context.Context, areaID int64, srid models.SRID) (*models.IndexRecord, error)

	// Delete removes the stored index. Deleting a missing index is not an
	// error.
	Delete(ctx context.Context, areaID int64, srid models.SRID) error
}

type indexRepository struct {
	db *database.Database
}

// NewIndexRepository creates a new instance of IndexRepository.
func NewIndexRepository(db *database.Database) IndexRepository {
	return &indexRepository{db: db}
}

var cellCopyColumns = []string{"min_x", "min_y", "max_x", "max_y", "relationship"}

// Save stages the cells with COPY into a temporary table and moves them into
// area_cells with a cast, since binary COPY cannot encode the enum column
// directly.
func (r *indexRepository) Save(ctx context.Context, record *models.IndexRecord) error {
	if record == nil {
		return errors.New("index record is required")
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM area_index WHERE area_id = $1 AND srid = $2`,
		record.AreaID, int(record.SRID),
	); err != nil {
		return fmt.Errorf("failed to clear index of area %d: %w", record.AreaID, err)
	}

	within, overlaps := 0, 0
	for _, c := range record.Cells {
		switch c.Relationship {
		case models.Within:
			within++
		case models.Overlaps:
			overlaps++
		default:
			return fmt.Errorf("cell relationship %v cannot be stored", c.Relationship)
		}
	}

	builtAt := record.BuiltAt
	if builtAt.IsZero() {
		builtAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO area_index (area_id, srid, cell_size, within_count, overlaps_count, built_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.AreaID, int(record.SRID), record.CellSize, within, overlaps, builtAt,
	); err != nil {
		return fmt.Errorf("failed to insert index header of area %d: %w", record.AreaID, err)
	}

	if len(record.Cells) > 0 {
		if _, err := tx.Exec(ctx, `
			CREATE TEMP TABLE area_cells_stage (
				min_x        DOUBLE PRECISION,
				min_y        DOUBLE PRECISION,
				max_x        DOUBLE PRECISION,
				max_y        DOUBLE PRECISION,
				relationship TEXT
			) ON COMMIT DROP`); err != nil {
			return fmt.Errorf("failed to create cell staging table: %w", err)
		}

		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"area_cells_stage"},
			cellCopyColumns,
			pgx.CopyFromSlice(len(record.Cells), func(i int) ([]any, error) {
				c := record.Cells[i]
				return []any{c.MinX, c.MinY, c.MaxX, c.MaxY, c.Relationship.String()}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy cells of area %d: %w", record.AreaID, err)
		}
		if copied != int64(len(record.Cells)) {
			return fmt.Errorf("copied %d of %d cells of area %d", copied, len(record.Cells), record.AreaID)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO area_cells (area_id, srid, min_x, min_y, max_x, max_y, relationship)
			SELECT $1, $2, min_x, min_y, max_x, max_y, relationship::cell_relationship
			FROM area_cells_stage`,
			record.AreaID, int(record.SRID),
		); err != nil {
			return fmt.Errorf("failed to insert cells of area %d: %w", record.AreaID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit index of area %d: %w", record.AreaID, err)
	}
	return nil
}

func (r *indexRepository) Load(ctx context.Context, areaID int64, srid models.SRID) (*models.IndexRecord, error) {
	record := &models.IndexRecord{AreaID: areaID, SRID: srid}

	err := r.db.Pool.QueryRow(ctx,
		`SELECT cell_size, built_at FROM area_index WHERE area_id = $1 AND srid = $2`,
		areaID, int(srid),
	).Scan(&record.CellSize, &record.BuiltAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query index of area %d: %w", areaID, err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT min_x, min_y, max_x, max_y, relationship::text
		FROM area_cells
		WHERE area_id = $1 AND srid = $2
		ORDER BY min_y, min_x`,
		areaID, int(srid),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells of area %d: %w", areaID, err)
	}
	defer rows.Close()

	record.Cells = []models.Cell{}
	for rows.Next() {
		var (
			c   models.Cell
			rel string
		)
		if err := rows.Scan(&c.MinX, &c.MinY, &c.MaxX, &c.MaxY, &rel); err != nil {
			return nil, fmt.Errorf("failed to scan cell row: %w", err)
		}
		if c.Relationship, err = models.ParseRelationship(rel); err != nil {
			return nil, fmt.Errorf("cell of area %d: %w", areaID, err)
		}
		record.Cells = append(record.Cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cell rows: %w", err)
	}

	return record, nil
}

func (r *indexRepository) Delete(ctx context.Context, areaID int64, srid models.SRID) error {
	if _, err := r.db.Pool.Exec(ctx,
		`DELETE FROM area_index WHERE area_id = $1 AND srid = $2`,
		areaID, int(srid),
	); err != nil {
		return fmt.Errorf("failed to delete index of area %d: %w", areaID, err)
	}
	return nil
}
