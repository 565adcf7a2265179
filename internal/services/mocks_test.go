package services

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/stwalsh4118/areaindex/internal/models"
)

// MockAreaRepository is a mock implementation of repository.AreaRepository.
type MockAreaRepository struct {
	mock.Mock
}

func (m *MockAreaRepository) Create(ctx context.Context, area *models.Area, parts []models.Polygon) (int64, error) {
	args := m.Called(ctx, area, parts)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAreaRepository) GetByID(ctx context.Context, id int64) (*models.Area, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Area), args.Error(1)
}

func (m *MockAreaRepository) ListAll(ctx context.Context) ([]models.Area, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Area), args.Error(1)
}

func (m *MockAreaRepository) ListBySRID(ctx context.Context, srid models.SRID) ([]models.Area, error) {
	args := m.Called(ctx, srid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Area), args.Error(1)
}

func (m *MockAreaRepository) ListByShapefile(ctx context.Context, shapefileID int64) ([]models.Area, error) {
	args := m.Called(ctx, shapefileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Area), args.Error(1)
}

func (m *MockAreaRepository) Polygons(ctx context.Context, areaID int64) ([]models.Polygon, error) {
	args := m.Called(ctx, areaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Polygon), args.Error(1)
}

func (m *MockAreaRepository) BoundingBox(ctx context.Context, areaID int64) (*models.BoundingBox, error) {
	args := m.Called(ctx, areaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BoundingBox), args.Error(1)
}

func (m *MockAreaRepository) Delete(ctx context.Context, areaID int64) (bool, error) {
	args := m.Called(ctx, areaID)
	return args.Bool(0), args.Error(1)
}

func (m *MockAreaRepository) DeleteByShapefile(ctx context.Context, shapefileID int64) ([]int64, error) {
	args := m.Called(ctx, shapefileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

// MockIndexRepository is a mock implementation of repository.IndexRepository.
type MockIndexRepository struct {
	mock.Mock
}

func (m *MockIndexRepository) Save(ctx context.Context, record *models.IndexRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockIndexRepository) Load(ctx context.Context, areaID int64, srid models.SRID) (*models.IndexRecord, error) {
	args := m.Called(ctx, areaID, srid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IndexRecord), args.Error(1)
}

func (m *MockIndexRepository) Delete(ctx context.Context, areaID int64, srid models.SRID) error {
	return m.Called(ctx, areaID, srid).Error(0)
}

// MockIndexCache is a mock implementation of cache.IndexCache.
type MockIndexCache struct {
	mock.Mock
}

func (m *MockIndexCache) Get(ctx context.Context, areaID int64, srid models.SRID) (*models.IndexRecord, error) {
	args := m.Called(ctx, areaID, srid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IndexRecord), args.Error(1)
}

func (m *MockIndexCache) Set(ctx context.Context, record *models.IndexRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockIndexCache) Delete(ctx context.Context, areaID int64, srid models.SRID) error {
	return m.Called(ctx, areaID, srid).Error(0)
}

func (m *MockIndexCache) DeleteArea(ctx context.Context, areaID int64) error {
	return m.Called(ctx, areaID).Error(0)
}
