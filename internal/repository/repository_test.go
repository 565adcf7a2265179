package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/areaindex/internal/config"
	"github.com/stwalsh4118/areaindex/internal/database"
	"github.com/stwalsh4118/areaindex/internal/logger"
	"github.com/stwalsh4118/areaindex/internal/models"
	"github.com/stwalsh4118/areaindex/internal/query"
)

// getTestConfig returns database configuration for integration tests.
func getTestConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:     getEnvOrDefault("DB_HOST", "host.docker.internal"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		Name:     getEnvOrDefault("DB_NAME", "areaindex"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		PoolMin:  2,
		PoolMax:  5,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupTestDB connects to PostGIS and applies migrations.
func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, getTestConfig())
	require.NoError(t, err, "Failed to create database connection")
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx, logger.New("test")))
	return db
}

func squarePart(minX, minY, maxX, maxY float64, srid models.SRID) models.Polygon {
	return models.Polygon{
		Rings: orb.Polygon{{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}},
		SRID:  srid,
	}
}

// createTestArea stores an area and removes it when the test ends.
func createTestArea(t *testing.T, repo AreaRepository, shapefileID int64, parts ...models.Polygon) *models.Area {
	t.Helper()
	area := &models.Area{
		Name:        fmt.Sprintf("test-area-%d", time.Now().UnixNano()),
		ShapefileID: shapefileID,
		SRID:        2263,
	}
	_, err := repo.Create(context.Background(), area, parts)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = repo.Delete(context.Background(), area.ID) })
	return area
}

func TestPostGISTester_SRIDMismatchWithoutQuery(t *testing.T) {
	tester := NewPostGISTester(nil, 1, 2263)

	_, err := tester.Contains(context.Background(), []models.Point{models.NewPoint(1, 1, 4326)})
	assert.ErrorIs(t, err, query.ErrSRIDMismatch)
}

func TestPostGISTester_EmptyBatchWithoutQuery(t *testing.T) {
	tester := NewPostGISTester(nil, 1, 2263)

	got, err := tester.Contains(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListBySRID_RejectsNegative(t *testing.T) {
	repo := NewAreaRepository(nil)

	_, err := repo.ListBySRID(context.Background(), -1)
	assert.ErrorIs(t, err, ErrInvalidSRID)
}

func TestAreaRepository_CreateAndRead(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAreaRepository(db)
	ctx := context.Background()

	area := createTestArea(t, repo, 9001,
		squarePart(0, 0, 10, 10, 2263),
		squarePart(20, 5, 30, 15, 2263),
	)
	assert.NotZero(t, area.ID)
	assert.False(t, area.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, area.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, area.Name, got.Name)
	assert.Equal(t, models.SRID(2263), got.SRID)
	assert.Equal(t, models.BoundingBox{Left: 0, Right: 30, Bottom: 0, Top: 15, SRID: 2263}, got.BoundingBox)

	parts, err := repo.Polygons(ctx, area.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, models.SRID(2263), parts[0].SRID)
	assert.Equal(t, orb.Point{20, 5}, parts[1].Rings[0][0])

	bbox, err := repo.BoundingBox(ctx, area.ID)
	require.NoError(t, err)
	require.NotNil(t, bbox)
	assert.Equal(t, got.BoundingBox, *bbox)

	byShapefile, err := repo.ListByShapefile(ctx, 9001)
	require.NoError(t, err)
	assert.NotEmpty(t, byShapefile)

	bySRID, err := repo.ListBySRID(ctx, 2263)
	require.NoError(t, err)
	assert.NotEmpty(t, bySRID)
}

func TestAreaRepository_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAreaRepository(db)
	ctx := context.Background()

	area, err := repo.GetByID(ctx, -42)
	assert.NoError(t, err)
	assert.Nil(t, area)

	bbox, err := repo.BoundingBox(ctx, -42)
	assert.NoError(t, err)
	assert.Nil(t, bbox)

	deleted, err := repo.Delete(ctx, -42)
	assert.NoError(t, err)
	assert.False(t, deleted)
}

func TestAreaRepository_AreaWithoutParts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAreaRepository(db)

	area := createTestArea(t, repo, 0)

	got, err := repo.GetByID(context.Background(), area.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.BoundingBox.IsEmpty())

	parts, err := repo.Polygons(context.Background(), area.ID)
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestAreaRepository_DeleteByShapefile(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAreaRepository(db)
	ctx := context.Background()

	shapefileID := time.Now().UnixNano()
	a := createTestArea(t, repo, shapefileID, squarePart(0, 0, 1, 1, 2263))
	b := createTestArea(t, repo, shapefileID, squarePart(2, 2, 3, 3, 2263))

	ids, err := repo.DeleteByShapefile(ctx, shapefileID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, ids)

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIndexRepository_SaveLoadReplace(t *testing.T) {
	db := setupTestDB(t)
	areas := NewAreaRepository(db)
	indexes := NewIndexRepository(db)
	ctx := context.Background()

	area := createTestArea(t, areas, 0, squarePart(0, 0, 10, 10, 2263))

	missing, err := indexes.Load(ctx, area.ID, area.SRID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	first := &models.IndexRecord{
		AreaID:   area.ID,
		SRID:     area.SRID,
		CellSize: 5,
		Cells: []models.Cell{
			{MinX: 0, MinY: 0, MaxX: 5, MaxY: 5, Relationship: models.Within},
			{MinX: 5, MinY: 0, MaxX: 10, MaxY: 5, Relationship: models.Overlaps},
		},
	}
	require.NoError(t, indexes.Save(ctx, first))

	loaded, err := indexes.Load(ctx, area.ID, area.SRID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 5.0, loaded.CellSize)
	assert.Equal(t, first.Cells, loaded.Cells)

	second := &models.IndexRecord{
		AreaID:   area.ID,
		SRID:     area.SRID,
		CellSize: 10,
		Cells:    []models.Cell{{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10, Relationship: models.Within}},
	}
	require.NoError(t, indexes.Save(ctx, second))

	loaded, err = indexes.Load(ctx, area.ID, area.SRID)
	require.NoError(t, err)
	assert.Equal(t, second.Cells, loaded.Cells)

	require.NoError(t, indexes.Delete(ctx, area.ID, area.SRID))
	loaded, err = indexes.Load(ctx, area.ID, area.SRID)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestIndexRepository_KeepsCellEdges(t *testing.T) {
	db := setupTestDB(t)
	areas := NewAreaRepository(db)
	indexes := NewIndexRepository(db)
	ctx := context.Background()

	area := createTestArea(t, areas, 0, squarePart(-65, 4, -63, 6, 2263))

	// edges come back as stored, not recomputed from the cell size
	record := &models.IndexRecord{
		AreaID:   area.ID,
		SRID:     area.SRID,
		CellSize: 0.3,
		Cells: []models.Cell{
			{MinX: -64.2194, MinY: 4.8, MaxX: -63.919399999999996, MaxY: 5.1, Relationship: models.Within},
			{MinX: -63.919399999999996, MinY: 4.8, MaxX: -63.6194, MaxY: 5.1, Relationship: models.Overlaps},
		},
	}
	require.NoError(t, indexes.Save(ctx, record))

	loaded, err := indexes.Load(ctx, area.ID, area.SRID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record.Cells, loaded.Cells)
	assert.Equal(t, loaded.Cells[0].MaxX, loaded.Cells[1].MinX)
}

func TestIndexRepository_EmptyIndex(t *testing.T) {
	db := setupTestDB(t)
	areas := NewAreaRepository(db)
	indexes := NewIndexRepository(db)
	ctx := context.Background()

	area := createTestArea(t, areas, 0)
	require.NoError(t, indexes.Save(ctx, &models.IndexRecord{AreaID: area.ID, SRID: area.SRID, CellSize: 1}))

	loaded, err := indexes.Load(ctx, area.ID, area.SRID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Empty(t, loaded.Cells)
}

func TestIndexRepository_CascadeOnAreaDelete(t *testing.T) {
	db := setupTestDB(t)
	areas := NewAreaRepository(db)
	indexes := NewIndexRepository(db)
	ctx := context.Background()

	area := createTestArea(t, areas, 0, squarePart(0, 0, 10, 10, 2263))
	require.NoError(t, indexes.Save(ctx, &models.IndexRecord{
		AreaID: area.ID, SRID: area.SRID, CellSize: 10,
		Cells: []models.Cell{{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10, Relationship: models.Within}},
	}))

	deleted, err := areas.Delete(ctx, area.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	loaded, err := indexes.Load(ctx, area.ID, area.SRID)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPostGISTester_Contains(t *testing.T) {
	db := setupTestDB(t)
	areas := NewAreaRepository(db)

	hole := models.Polygon{
		Rings: orb.Polygon{
			{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
			{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
		},
		SRID: 2263,
	}
	area := createTestArea(t, areas, 0, hole, squarePart(20, 20, 30, 30, 2263))
	tester := NewPostGISTester(db, area.ID, area.SRID)

	points := []models.Point{
		models.NewPoint(1, 1, 2263),
		models.NewPoint(5, 5, 2263),
		models.NewPoint(15, 15, 2263),
		models.NewPoint(25, 25, 2263),
		models.NewPoint(1, 1, 2263),
	}
	got, err := tester.Contains(context.Background(), points)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, true, true}, got)
}
