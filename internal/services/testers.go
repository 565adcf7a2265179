package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/stwalsh4118/areaindex/internal/models"
	"github.com/stwalsh4118/areaindex/internal/query"
	"github.com/stwalsh4118/areaindex/internal/repository"
)

// PlanarTesters builds in-memory exact testers from the stored polygons and
// keeps one per area.
type PlanarTesters struct {
	areas   repository.AreaRepository
	mu      sync.Mutex
	testers map[int64]*query.PlanarTester
}

// NewPlanarTesters creates a PlanarTesters reading polygons from areas.
func NewPlanarTesters(areas repository.AreaRepository) *PlanarTesters {
	return &PlanarTesters{areas: areas, testers: make(map[int64]*query.PlanarTester)}
}

// ForArea implements ExactTesters.
func (p *PlanarTesters) ForArea(ctx context.Context, area *models.Area) (query.ExactTester, error) {
	p.mu.Lock()
	tester, ok := p.testers[area.ID]
	p.mu.Unlock()
	if ok {
		return tester, nil
	}

	parts, err := p.areas.Polygons(ctx, area.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load polygons of area %d: %w", area.ID, err)
	}
	tester = query.NewPlanarTester(parts, area.SRID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.testers[area.ID]; ok {
		return existing, nil
	}
	p.testers[area.ID] = tester
	return tester, nil
}

// Forget implements ExactTesters.
func (p *PlanarTesters) Forget(areaID int64) {
	p.mu.Lock()
	delete(p.testers, areaID)
	p.mu.Unlock()
}

// TesterFunc adapts a constructor to ExactTesters for backends that hold no
// per-area state.
type TesterFunc func(area *models.Area) query.ExactTester

// ForArea implements ExactTesters.
func (f TesterFunc) ForArea(_ context.Context, area *models.Area) (query.ExactTester, error) {
	return f(area), nil
}

// Forget implements ExactTesters.
func (f TesterFunc) Forget(int64) {}
