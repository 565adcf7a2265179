package index

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/areaindex/internal/classifier"
	"github.com/stwalsh4118/areaindex/internal/models"
)

const testSRID models.SRID = 4326

func squareIndex(t *testing.T) *Index {
	t.Helper()
	cells := []models.Cell{
		{MinX: 0, MinY: 0, MaxX: 5, MaxY: 5, Relationship: models.Within},
		{MinX: 5, MinY: 0, MaxX: 10, MaxY: 5, Relationship: models.Within},
		{MinX: 0, MinY: 5, MaxX: 5, MaxY: 10, Relationship: models.Overlaps},
		{MinX: 5, MinY: 5, MaxX: 10, MaxY: 10, Relationship: models.Overlaps},
	}
	idx, err := New(1, testSRID, 5, cells)
	require.NoError(t, err)
	return idx
}

func TestNew_Counts(t *testing.T) {
	idx := squareIndex(t)

	within, overlaps := idx.Counts()
	assert.Equal(t, 2, within)
	assert.Equal(t, 2, overlaps)
	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, int64(1), idx.AreaID())
	assert.Equal(t, testSRID, idx.SRID())
	assert.Equal(t, 5.0, idx.CellSize())
	assert.Equal(t, models.BoundingBox{Left: 0, Right: 10, Bottom: 0, Top: 10, SRID: testSRID}, idx.Bounds())
}

func TestNew_RejectsInvalidCells(t *testing.T) {
	_, err := New(1, testSRID, 5, []models.Cell{{MinX: 0, MinY: 0, MaxX: 5, MaxY: 5}})
	assert.ErrorIs(t, err, ErrInvalidCell)

	_, err = New(1, testSRID, 5, []models.Cell{{MinX: 0, MinY: 0, MaxX: 0, MaxY: 0, Relationship: models.Within}})
	assert.ErrorIs(t, err, ErrInvalidCell)
}

func TestNew_CopiesCells(t *testing.T) {
	cells := []models.Cell{{MinX: 0, MinY: 0, MaxX: 5, MaxY: 5, Relationship: models.Within}}
	idx, err := New(1, testSRID, 5, cells)
	require.NoError(t, err)

	cells[0].Relationship = models.Overlaps
	assert.Equal(t, Inside, idx.Classify(1, 1))

	out := idx.Cells()
	out[0].MinX = 100
	assert.Equal(t, 0.0, idx.Cells()[0].MinX)
}

func TestClassify(t *testing.T) {
	idx := squareIndex(t)

	tests := []struct {
		name string
		x, y float64
		want Classification
	}{
		{"within cell", 2, 2, Inside},
		{"overlaps cell", 7, 7, Ambiguous},
		{"outside everything", -1, -1, Outside},
		{"far away", 100, 100, Outside},
		{"shared edge prefers within", 5, 5, Inside},
		{"edge between overlaps cells", 5, 8, Ambiguous},
		{"outer corner", 10, 10, Ambiguous},
		{"outer corner of within cell", 10, 0, Inside},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, idx.Classify(tt.x, tt.y))
		})
	}
}

func TestCovering(t *testing.T) {
	idx := squareIndex(t)

	assert.Len(t, idx.Covering(2, 2), 1)
	assert.Len(t, idx.Covering(5, 2), 2)
	assert.Len(t, idx.Covering(5, 5), 4)
	assert.Empty(t, idx.Covering(11, 11))
}

func TestIntersecting(t *testing.T) {
	idx := squareIndex(t)

	region := models.BoundingBox{Left: 1, Right: 4, Bottom: 6, Top: 9, SRID: testSRID}
	cells := idx.Intersecting(region)
	require.Len(t, cells, 1)
	assert.Equal(t, models.Overlaps, cells[0].Relationship)

	assert.Len(t, idx.Intersecting(models.BoundingBox{Left: -5, Right: 20, Bottom: -5, Top: 20}), 4)
	assert.Empty(t, idx.Intersecting(models.BoundingBox{Left: 20, Right: 30, Bottom: 20, Top: 30}))
	assert.Empty(t, idx.Intersecting(models.EmptyBoundingBox(testSRID)))
}

func TestEmptyIndex(t *testing.T) {
	idx, err := New(7, testSRID, 5, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, idx.Len())
	assert.True(t, idx.Bounds().IsEmpty())
	assert.Equal(t, Outside, idx.Classify(0, 0))
	assert.Empty(t, idx.Intersecting(models.BoundingBox{Left: -1, Right: 1, Bottom: -1, Top: 1}))
}

func TestRecordRoundTrip(t *testing.T) {
	idx := squareIndex(t)

	rebuilt, err := FromRecord(idx.Record())
	require.NoError(t, err)

	assert.Equal(t, idx.Cells(), rebuilt.Cells())
	assert.Equal(t, idx.CellSize(), rebuilt.CellSize())
	assert.Equal(t, idx.AreaID(), rebuilt.AreaID())
}

func TestClassify_MatchesLinearScan(t *testing.T) {
	parts := []models.Polygon{{
		Rings: orb.Polygon{{{0.5, 0.5}, {30.2, 1.1}, {25.7, 22.9}, {12.3, 14.4}, {2.2, 28.8}, {0.5, 0.5}}},
		SRID:  testSRID,
	}}
	bbox := models.PartsBoundingBox(parts, testSRID)
	cells, err := classifier.Build(context.Background(), parts, bbox, 0.9, classifier.Options{})
	require.NoError(t, err)
	require.Greater(t, len(cells), 100)

	idx, err := New(1, testSRID, 0.9, cells)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		x, y := rng.Float64()*34-2, rng.Float64()*34-2

		want := Outside
		for _, c := range cells {
			if !c.Contains(x, y) {
				continue
			}
			if c.Relationship == models.Within {
				want = Inside
				break
			}
			want = Ambiguous
		}
		assert.Equal(t, want, idx.Classify(x, y), "point (%v, %v)", x, y)
	}
}

func TestClassify_GridSeamsAreCovered(t *testing.T) {
	parts := []models.Polygon{{
		Rings: orb.Polygon{{{-122.4194, 0}, {-60, 0}, {-60, 10}, {-122.4194, 10}, {-122.4194, 0}}},
		SRID:  testSRID,
	}}
	bbox := models.PartsBoundingBox(parts, testSRID)
	cells, err := classifier.Build(context.Background(), parts, bbox, 0.3, classifier.Options{})
	require.NoError(t, err)
	grid, err := classifier.NewGrid(bbox, 0.3)
	require.NoError(t, err)

	idx, err := New(1, testSRID, 0.3, cells)
	require.NoError(t, err)

	for col := int64(1); col < grid.Columns; col++ {
		x := grid.X(col)
		if x >= bbox.Right {
			break
		}
		for _, px := range []float64{x, math.Nextafter(x, math.Inf(-1)), math.Nextafter(x, math.Inf(1))} {
			assert.NotEqual(t, Outside, idx.Classify(px, 5), "x = %v", px)
		}
	}
	assert.Equal(t, Inside, idx.Classify(-63.9194, 5))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Get(1, testSRID)
	assert.False(t, ok)

	first := squareIndex(t)
	assert.Nil(t, reg.Publish(first))

	got, ok := reg.Get(1, testSRID)
	require.True(t, ok)
	assert.Same(t, first, got)

	second := squareIndex(t)
	prev := reg.Publish(second)
	assert.Same(t, first, prev)

	got, _ = reg.Get(1, testSRID)
	assert.Same(t, second, got)

	// a snapshot fetched earlier is still usable
	assert.Equal(t, Inside, first.Classify(1, 1))

	other, err := New(1, 3857, 5, nil)
	require.NoError(t, err)
	reg.Publish(other)
	assert.Equal(t, 2, reg.Len())

	reg.Discard(1, 3857)
	assert.Equal(t, 1, reg.Len())

	reg.Publish(other)
	reg.DiscardArea(1)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	reg := NewRegistry()
	reg.Publish(squareIndex(t))
	replacement := squareIndex(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				idx, ok := reg.Get(1, testSRID)
				if ok {
					_ = idx.Classify(2, 2)
				}
				if j%50 == 0 {
					reg.Publish(replacement)
				}
			}
		}()
	}
	wg.Wait()

	_, ok := reg.Get(1, testSRID)
	assert.True(t, ok)
}
