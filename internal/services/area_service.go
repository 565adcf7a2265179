package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stwalsh4118/areaindex/internal/cache"
	"github.com/stwalsh4118/areaindex/internal/classifier"
	"github.com/stwalsh4118/areaindex/internal/index"
	"github.com/stwalsh4118/areaindex/internal/logger"
	"github.com/stwalsh4118/areaindex/internal/metrics"
	"github.com/stwalsh4118/areaindex/internal/models"
	"github.com/stwalsh4118/areaindex/internal/query"
	"github.com/stwalsh4118/areaindex/internal/repository"
	"golang.org/x/sync/singleflight"
)

// Service-level errors
var (
	ErrAreaNotFound   = errors.New("area not found")
	ErrInvalidArea    = errors.New("invalid area")
	ErrIndexNotBuilt  = errors.New("containment index has not been built")
	ErrInvalidPoints  = errors.New("invalid points")
	ErrTooManyPoints  = errors.New("too many points in one request")
	ErrInvalidRequest = errors.New("invalid request")
)

// Index load sources, used as metric labels.
const (
	sourceRegistry = "registry"
	sourceCache    = "cache"
	sourceDatabase = "database"
	sourceBuild    = "build"
)

// Options configures an AreaService.
type Options struct {
	// CellSize is used when a build request does not name one.
	CellSize     float64
	MaxCells     int64
	BuildWorkers int
	CheckSimple  bool
	// AutoBuild builds a missing index on first use.
	AutoBuild bool
	// MaxPoints bounds one Contains call. Zero means unlimited.
	MaxPoints int
}

// CreateAreaRequest describes a new area.
type CreateAreaRequest struct {
	Name        string
	ShapefileID int64
	SRID        models.SRID
	Parts       []models.Polygon
	// CellSize overrides the default index cell size when positive.
	CellSize float64
}

// AreaFilter narrows ListAreas. Nil fields match everything.
type AreaFilter struct {
	SRID        *models.SRID
	ShapefileID *int64
}

// IndexSummary describes a containment index.
type IndexSummary struct {
	BuiltAt  time.Time          `json:"builtAt,omitempty"`
	Bounds   models.BoundingBox `json:"bounds"`
	AreaID   int64              `json:"areaId"`
	CellSize float64            `json:"cellSize"`
	Cells    int                `json:"cells"`
	Within   int                `json:"within"`
	Overlaps int                `json:"overlaps"`
	SRID     models.SRID        `json:"srid"`
}

// Estimate reports the grid a build would classify.
type Estimate struct {
	AreaID   int64       `json:"areaId"`
	SRID     models.SRID `json:"srid"`
	CellSize float64     `json:"cellSize"`
	Columns  int64       `json:"columns"`
	Rows     int64       `json:"rows"`
	Cells    int64       `json:"cells"`
	MaxCells int64       `json:"maxCells"`
	Allowed  bool        `json:"allowed"`
}

// ContainsResult is the answer to a batch containment query.
type ContainsResult struct {
	Results []bool      `json:"results"`
	Stats   query.Stats `json:"stats"`
}

// ExactTesters supplies the exact tester for an area.
type ExactTesters interface {
	ForArea(ctx context.Context, area *models.Area) (query.ExactTester, error)
	// Forget drops anything held for a deleted area.
	Forget(areaID int64)
}

// AreaService defines area and containment business logic.
type AreaService interface {
	// CreateArea stores the area and builds its index. If the index cannot
	// be built the area is deleted again and the build error returned.
	CreateArea(ctx context.Context, req CreateAreaRequest) (*models.Area, *IndexSummary, error)

	// GetArea returns ErrAreaNotFound for unknown ids.
	GetArea(ctx context.Context, areaID int64) (*models.Area, error)

	ListAreas(ctx context.Context, filter AreaFilter) ([]models.Area, error)

	// BuildIndex classifies the area, persists the cells and publishes the
	// new index. A zero cellSize means the configured default.
	BuildIndex(ctx context.Context, areaID int64, cellSize float64) (*IndexSummary, error)

	// EstimateIndex reports the grid size without building anything.
	EstimateIndex(ctx context.Context, areaID int64, cellSize float64) (*Estimate, error)

	// Index returns the published index, loading it from the cache or the
	// database, or building it when AutoBuild is on.
	Index(ctx context.Context, areaID int64) (*index.Index, error)

	// Contains answers containment for every point, in order.
	Contains(ctx context.Context, areaID int64, points []models.Point) (*ContainsResult, error)

	// DeleteArea removes the area, its index and every cached copy.
	DeleteArea(ctx context.Context, areaID int64) error

	// DeleteShapefile removes every area of a shapefile and returns their ids.
	DeleteShapefile(ctx context.Context, shapefileID int64) ([]int64, error)
}

type areaService struct {
	areas    repository.AreaRepository
	indexes  repository.IndexRepository
	cache    cache.IndexCache
	registry *index.Registry
	engine   *query.Engine
	testers  ExactTesters
	loads    singleflight.Group
	builds   areaLocks
	log      *logger.Logger
	opts     Options
}

// Deps groups the collaborators of an AreaService. Cache may be nil.
type Deps struct {
	Areas    repository.AreaRepository
	Indexes  repository.IndexRepository
	Cache    cache.IndexCache
	Registry *index.Registry
	Engine   *query.Engine
	Testers  ExactTesters
}

// NewAreaService creates a new instance of AreaService.
func NewAreaService(deps Deps, opts Options, log *logger.Logger) AreaService {
	registry := deps.Registry
	if registry == nil {
		registry = index.NewRegistry()
	}
	engine := deps.Engine
	if engine == nil {
		engine = query.NewEngine(query.Options{}, log)
	}
	return &areaService{
		areas:    deps.Areas,
		indexes:  deps.Indexes,
		cache:    deps.Cache,
		registry: registry,
		engine:   engine,
		testers:  deps.Testers,
		log:      log.WithComponent("area_service"),
		opts:     opts,
	}
}

func (s *areaService) CreateArea(ctx context.Context, req CreateAreaRequest) (*models.Area, *IndexSummary, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, nil, fmt.Errorf("%w: name is required", ErrInvalidArea)
	}
	if req.SRID < 0 {
		return nil, nil, fmt.Errorf("%w: srid must be non-negative, got %d", ErrInvalidArea, req.SRID)
	}
	for i, part := range req.Parts {
		if part.SRID != req.SRID {
			return nil, nil, fmt.Errorf("%w: part %d has srid %d, area srid is %d",
				ErrInvalidArea, i, part.SRID, req.SRID)
		}
	}

	area := &models.Area{Name: req.Name, ShapefileID: req.ShapefileID, SRID: req.SRID}
	if _, err := s.areas.Create(ctx, area, req.Parts); err != nil {
		s.log.Error("Failed to store area", err, map[string]interface{}{"name": req.Name})
		return nil, nil, fmt.Errorf("failed to store area: %w", err)
	}

	s.log.Info("Area stored", map[string]interface{}{
		"area_id": area.ID,
		"name":    area.Name,
		"srid":    area.SRID,
		"parts":   len(req.Parts),
	})

	summary, err := s.BuildIndex(ctx, area.ID, req.CellSize)
	if err != nil {
		// an area without an index is never left behind
		if _, delErr := s.areas.Delete(context.WithoutCancel(ctx), area.ID); delErr != nil {
			s.log.Error("Failed to remove area after index failure", delErr, map[string]interface{}{
				"area_id": area.ID,
			})
		}
		s.forget(ctx, area.ID)
		return nil, nil, err
	}

	return area, summary, nil
}

func (s *areaService) GetArea(ctx context.Context, areaID int64) (*models.Area, error) {
	area, err := s.areas.GetByID(ctx, areaID)
	if err != nil {
		s.log.Error("Failed to query area", err, map[string]interface{}{"area_id": areaID})
		return nil, fmt.Errorf("failed to query area: %w", err)
	}
	if area == nil {
		return nil, ErrAreaNotFound
	}
	return area, nil
}

func (s *areaService) ListAreas(ctx context.Context, filter AreaFilter) ([]models.Area, error) {
	var (
		areas []models.Area
		err   error
	)
	switch {
	case filter.ShapefileID != nil:
		areas, err = s.areas.ListByShapefile(ctx, *filter.ShapefileID)
	case filter.SRID != nil:
		if *filter.SRID < 0 {
			return nil, fmt.Errorf("%w: srid must be non-negative, got %d", ErrInvalidRequest, *filter.SRID)
		}
		areas, err = s.areas.ListBySRID(ctx, *filter.SRID)
	default:
		areas, err = s.areas.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}

	if filter.ShapefileID != nil && filter.SRID != nil {
		kept := areas[:0]
		for _, a := range areas {
			if a.SRID == *filter.SRID {
				kept = append(kept, a)
			}
		}
		areas = kept
	}
	return areas, nil
}

// BuildIndex holds the area's lock from classification to publish, so the
// stored and the published index are always the same build.
func (s *areaService) BuildIndex(ctx context.Context, areaID int64, cellSize float64) (*IndexSummary, error) {
	if cellSize == 0 {
		cellSize = s.opts.CellSize
	}

	area, err := s.GetArea(ctx, areaID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.builds.lock(ctx, area.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.build(ctx, area, cellSize)
}

func (s *areaService) build(ctx context.Context, area *models.Area, cellSize float64) (*IndexSummary, error) {
	log := s.log.WithArea(area.ID, int(area.SRID))

	parts, err := s.areas.Polygons(ctx, area.ID)
	if err != nil {
		log.Error("Failed to load area polygons", err, nil)
		return nil, fmt.Errorf("failed to load polygons of area %d: %w", area.ID, err)
	}

	bbox := area.BoundingBox
	if bbox.IsEmpty() {
		bbox = models.PartsBoundingBox(parts, area.SRID)
	}

	start := time.Now()
	cells, err := classifier.Build(ctx, parts, bbox, cellSize, classifier.Options{
		Workers:     s.opts.BuildWorkers,
		MaxCells:    s.opts.MaxCells,
		CheckSimple: s.opts.CheckSimple,
	})
	if err != nil {
		metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
		log.Warn("Index build rejected", map[string]interface{}{
			"cell_size": cellSize,
			"error":     err.Error(),
		})
		return nil, fmt.Errorf("failed to build index of area %d: %w", area.ID, err)
	}
	metrics.IndexBuildDurationMs.Observe(float64(time.Since(start).Milliseconds()))

	idx, err := index.New(area.ID, area.SRID, cellSize, cells)
	if err != nil {
		metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to index cells of area %d: %w", area.ID, err)
	}

	record := idx.Record()
	record.BuiltAt = time.Now().UTC()
	if err := s.indexes.Save(ctx, record); err != nil {
		metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
		log.Error("Failed to persist index", err, map[string]interface{}{"cells": len(cells)})
		return nil, fmt.Errorf("failed to persist index of area %d: %w", area.ID, err)
	}

	s.registry.Publish(idx)
	s.cacheRecord(ctx, record)

	within, overlaps := idx.Counts()
	metrics.IndexBuildsTotal.WithLabelValues("success").Inc()
	metrics.IndexCellsTotal.WithLabelValues(models.Within.String()).Add(float64(within))
	metrics.IndexCellsTotal.WithLabelValues(models.Overlaps.String()).Add(float64(overlaps))

	log.Info("Index built", map[string]interface{}{
		"cell_size":   cellSize,
		"within":      within,
		"overlaps":    overlaps,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	summary := Summarize(idx)
	summary.BuiltAt = record.BuiltAt
	return summary, nil
}

func (s *areaService) EstimateIndex(ctx context.Context, areaID int64, cellSize float64) (*Estimate, error) {
	if cellSize == 0 {
		cellSize = s.opts.CellSize
	}

	area, err := s.GetArea(ctx, areaID)
	if err != nil {
		return nil, err
	}

	grid, err := classifier.NewGrid(area.BoundingBox, cellSize)
	if err != nil {
		return nil, err
	}

	maxCells := s.opts.MaxCells
	if maxCells == 0 {
		maxCells = classifier.DefaultMaxCells
	}
	return &Estimate{
		AreaID:   area.ID,
		SRID:     area.SRID,
		CellSize: cellSize,
		Columns:  grid.Columns,
		Rows:     grid.Rows,
		Cells:    grid.Count(),
		MaxCells: maxCells,
		Allowed:  maxCells < 0 || grid.Count() <= maxCells,
	}, nil
}

func (s *areaService) Index(ctx context.Context, areaID int64) (*index.Index, error) {
	area, err := s.GetArea(ctx, areaID)
	if err != nil {
		return nil, err
	}
	return s.indexFor(ctx, area)
}

// indexFor resolves the index through registry, cache, database and finally
// a build. Concurrent callers for the same area share one load, which runs
// detached from any single caller so one disconnect does not fail the rest.
func (s *areaService) indexFor(ctx context.Context, area *models.Area) (*index.Index, error) {
	if idx, ok := s.registry.Get(area.ID, area.SRID); ok {
		metrics.IndexLoadsTotal.WithLabelValues(sourceRegistry).Inc()
		return idx, nil
	}

	key := strconv.FormatInt(area.ID, 10) + ":" + strconv.Itoa(int(area.SRID))
	ch := s.loads.DoChan(key, func() (interface{}, error) {
		return s.load(context.WithoutCancel(ctx), area)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*index.Index), nil
	}
}

func (s *areaService) load(ctx context.Context, area *models.Area) (*index.Index, error) {
	unlock, err := s.builds.lock(ctx, area.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// a build may have published while we waited
	if idx, ok := s.registry.Get(area.ID, area.SRID); ok {
		return idx, nil
	}

	log := s.log.WithArea(area.ID, int(area.SRID))

	if s.cache != nil {
		record, err := s.cache.Get(ctx, area.ID, area.SRID)
		if err != nil {
			log.Warn("Index cache unavailable", map[string]interface{}{"error": err.Error()})
		}
		if record != nil {
			idx, err := index.FromRecord(record)
			if err == nil {
				metrics.IndexLoadsTotal.WithLabelValues(sourceCache).Inc()
				s.registry.Publish(idx)
				return idx, nil
			}
			log.Warn("Cached index rejected", map[string]interface{}{"error": err.Error()})
		}
	}

	record, err := s.indexes.Load(ctx, area.ID, area.SRID)
	if err != nil {
		log.Error("Failed to load index", err, nil)
		return nil, fmt.Errorf("failed to load index of area %d: %w", area.ID, err)
	}
	if record != nil {
		idx, err := index.FromRecord(record)
		if err != nil {
			return nil, fmt.Errorf("stored index of area %d is invalid: %w", area.ID, err)
		}
		metrics.IndexLoadsTotal.WithLabelValues(sourceDatabase).Inc()
		s.registry.Publish(idx)
		s.cacheRecord(ctx, record)
		log.Debug("Index loaded from database", map[string]interface{}{"cells": idx.Len()})
		return idx, nil
	}

	if !s.opts.AutoBuild {
		return nil, fmt.Errorf("%w: area %d", ErrIndexNotBuilt, area.ID)
	}

	log.Info("Building missing index", nil)
	if _, err := s.build(ctx, area, s.opts.CellSize); err != nil {
		return nil, err
	}
	metrics.IndexLoadsTotal.WithLabelValues(sourceBuild).Inc()

	idx, ok := s.registry.Get(area.ID, area.SRID)
	if !ok {
		return nil, fmt.Errorf("%w: area %d", ErrIndexNotBuilt, area.ID)
	}
	return idx, nil
}

func (s *areaService) Contains(ctx context.Context, areaID int64, points []models.Point) (*ContainsResult, error) {
	if s.opts.MaxPoints > 0 && len(points) > s.opts.MaxPoints {
		return nil, fmt.Errorf("%w: got %d, limit is %d", ErrTooManyPoints, len(points), s.opts.MaxPoints)
	}
	for i, p := range points {
		if !p.IsFinite() {
			return nil, fmt.Errorf("%w: point %d has a non-finite coordinate", ErrInvalidPoints, i)
		}
	}

	area, err := s.GetArea(ctx, areaID)
	if err != nil {
		return nil, err
	}

	if len(points) == 0 {
		return &ContainsResult{Results: []bool{}}, nil
	}

	// the whole batch fails before the index or any tester is touched
	if err := query.CheckSRID(points, area.SRID); err != nil {
		return nil, err
	}

	idx, err := s.indexFor(ctx, area)
	if err != nil {
		return nil, err
	}

	exact := s.lazyTester(area)
	results, stats, err := s.engine.TestContainment(ctx, points, idx, exact)
	if err != nil {
		s.log.Error("Containment query failed", err, map[string]interface{}{
			"area_id": area.ID,
			"points":  len(points),
		})
		return nil, fmt.Errorf("containment query on area %d failed: %w", area.ID, err)
	}

	return &ContainsResult{Results: results, Stats: stats}, nil
}

// lazyTester defers choosing the exact tester until a chunk has ambiguous
// points, so batches answered from the index alone never reach it.
func (s *areaService) lazyTester(area *models.Area) query.ExactTester {
	return query.ExactTestFunc(func(ctx context.Context, points []models.Point) ([]bool, error) {
		if s.testers == nil {
			return nil, query.ErrNoExactTester
		}
		tester, err := s.testers.ForArea(ctx, area)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare exact tester: %w", err)
		}
		return tester.Contains(ctx, points)
	})
}

func (s *areaService) DeleteArea(ctx context.Context, areaID int64) error {
	deleted, err := s.areas.Delete(ctx, areaID)
	if err != nil {
		s.log.Error("Failed to delete area", err, map[string]interface{}{"area_id": areaID})
		return fmt.Errorf("failed to delete area: %w", err)
	}
	s.forget(ctx, areaID)
	if !deleted {
		return ErrAreaNotFound
	}

	s.log.Info("Area deleted", map[string]interface{}{"area_id": areaID})
	return nil
}

func (s *areaService) DeleteShapefile(ctx context.Context, shapefileID int64) ([]int64, error) {
	ids, err := s.areas.DeleteByShapefile(ctx, shapefileID)
	if err != nil {
		s.log.Error("Failed to delete shapefile areas", err, map[string]interface{}{"shapefile_id": shapefileID})
		return nil, fmt.Errorf("failed to delete shapefile %d: %w", shapefileID, err)
	}
	for _, id := range ids {
		s.forget(ctx, id)
	}

	s.log.Info("Shapefile deleted", map[string]interface{}{
		"shapefile_id": shapefileID,
		"areas":        len(ids),
	})
	return ids, nil
}

// forget drops every in-memory and cached copy of an area's index.
func (s *areaService) forget(ctx context.Context, areaID int64) {
	s.registry.DiscardArea(areaID)
	if s.testers != nil {
		s.testers.Forget(areaID)
	}
	if s.cache != nil {
		if err := s.cache.DeleteArea(context.WithoutCancel(ctx), areaID); err != nil {
			s.log.Warn("Failed to evict cached index", map[string]interface{}{
				"area_id": areaID,
				"error":   err.Error(),
			})
		}
	}
}

func (s *areaService) cacheRecord(ctx context.Context, record *models.IndexRecord) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, record); err != nil {
		s.log.Warn("Failed to cache index", map[string]interface{}{
			"area_id": record.AreaID,
			"error":   err.Error(),
		})
	}
}

// Summarize describes idx without its build time.
func Summarize(idx *index.Index) *IndexSummary {
	within, overlaps := idx.Counts()
	return &IndexSummary{
		AreaID:   idx.AreaID(),
		SRID:     idx.SRID(),
		CellSize: idx.CellSize(),
		Cells:    idx.Len(),
		Within:   within,
		Overlaps: overlaps,
		Bounds:   idx.Bounds(),
	}
}
