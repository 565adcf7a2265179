// Package query answers batch point-in-area questions with a containment
// index. Points in Within cells are inside, points with no covering cell are
// outside, and only points in Overlaps cells go to the exact tester.
package query

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/stwalsh4118/areaindex/internal/index"
	"github.com/stwalsh4118/areaindex/internal/logger"
	"github.com/stwalsh4118/areaindex/internal/metrics"
	"github.com/stwalsh4118/areaindex/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize matches the batch size points were staged with in the
// original import pipeline.
const DefaultChunkSize = 5000

// Options tunes chunking.
type Options struct {
	// ChunkSize bounds how many points are classified and sent to the exact
	// tester at once.
	ChunkSize int
	// Workers is the number of chunks processed concurrently.
	Workers int
}

// Stats summarises how a batch was decided.
type Stats struct {
	Points      int `json:"points"`
	Inside      int `json:"inside"`
	Outside     int `json:"outside"`
	ExactTested int `json:"exactTested"`
	ExactInside int `json:"exactInside"`
	ExactCalls  int `json:"exactCalls"`
}

func (s *Stats) add(o Stats) {
	s.Points += o.Points
	s.Inside += o.Inside
	s.Outside += o.Outside
	s.ExactTested += o.ExactTested
	s.ExactInside += o.ExactInside
	s.ExactCalls += o.ExactCalls
}

// Engine runs batch containment queries.
type Engine struct {
	log  *logger.Logger
	opts Options
}

// NewEngine creates an Engine. Zero options fall back to DefaultChunkSize and
// GOMAXPROCS workers.
func NewEngine(opts Options, log *logger.Logger) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{log: log, opts: opts}
}

// TestContainment returns one result per point, in input order.
//
// Every point must carry the index SRID; a mismatch fails the whole batch
// with a *SRIDMismatchError before any exact test runs. An index without
// cells answers false for every point without calling the exact tester.
// Errors from the exact tester are returned unchanged apart from wrapping.
func (e *Engine) TestContainment(ctx context.Context, points []models.Point, idx *index.Index, exact ExactTester) ([]bool, Stats, error) {
	results := make([]bool, len(points))
	if len(points) == 0 {
		return results, Stats{}, nil
	}
	if idx == nil {
		return nil, Stats{}, ErrNoIndex
	}
	if err := CheckSRID(points, idx.SRID()); err != nil {
		return nil, Stats{}, err
	}

	start := time.Now()

	if idx.Len() == 0 {
		stats := Stats{Points: len(points), Outside: len(points)}
		e.record(stats, start)
		return results, stats, nil
	}

	chunks := (len(points) + e.opts.ChunkSize - 1) / e.opts.ChunkSize
	chunkStats := make([]Stats, chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for c := 0; c < chunks; c++ {
		lo := c * e.opts.ChunkSize
		hi := min(lo+e.opts.ChunkSize, len(points))
		g.Go(func() error {
			stats, err := e.runChunk(gctx, points[lo:hi], results[lo:hi], idx, exact)
			if err != nil {
				return fmt.Errorf("chunk %d (points %d-%d): %w", c, lo, hi-1, err)
			}
			chunkStats[c] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}

	var stats Stats
	for _, s := range chunkStats {
		stats.add(s)
	}
	e.record(stats, start)

	e.log.Debug("Containment batch evaluated", map[string]interface{}{
		"area_id":      idx.AreaID(),
		"srid":         idx.SRID(),
		"points":       stats.Points,
		"chunks":       chunks,
		"inside":       stats.Inside,
		"outside":      stats.Outside,
		"exact_tested": stats.ExactTested,
		"duration_ms":  time.Since(start).Milliseconds(),
	})

	return results, stats, nil
}

// runChunk decides one chunk, writing into out which aliases the caller's
// result slice.
func (e *Engine) runChunk(ctx context.Context, points []models.Point, out []bool, idx *index.Index, exact ExactTester) (Stats, error) {
	stats := Stats{Points: len(points)}

	var ambiguous []int
	for i, p := range points {
		switch idx.Classify(p.X, p.Y) {
		case index.Inside:
			out[i] = true
			stats.Inside++
		case index.Outside:
			stats.Outside++
		case index.Ambiguous:
			ambiguous = append(ambiguous, i)
		}
	}

	if len(ambiguous) == 0 {
		return stats, nil
	}
	if exact == nil {
		return Stats{}, ErrNoExactTester
	}

	candidates := make([]models.Point, len(ambiguous))
	for j, i := range ambiguous {
		candidates[j] = points[i]
	}

	verdicts, err := exact.Contains(ctx, candidates)
	stats.ExactCalls++
	if err != nil {
		return Stats{}, fmt.Errorf("exact polygon test failed: %w", err)
	}
	if len(verdicts) != len(candidates) {
		return Stats{}, fmt.Errorf("%w: sent %d points, got %d results",
			ErrExactResultLength, len(candidates), len(verdicts))
	}

	stats.ExactTested = len(candidates)
	for j, i := range ambiguous {
		out[i] = verdicts[j]
		if verdicts[j] {
			stats.ExactInside++
		}
	}
	return stats, nil
}

// Partition splits point positions into those the index decides on its own
// and those needing the exact test. It never calls an exact tester.
func Partition(points []models.Point, idx *index.Index) (inside, outside, ambiguous []int, err error) {
	if len(points) == 0 {
		return nil, nil, nil, nil
	}
	if idx == nil {
		return nil, nil, nil, ErrNoIndex
	}
	if err := CheckSRID(points, idx.SRID()); err != nil {
		return nil, nil, nil, err
	}

	for i, p := range points {
		switch idx.Classify(p.X, p.Y) {
		case index.Inside:
			inside = append(inside, i)
		case index.Outside:
			outside = append(outside, i)
		case index.Ambiguous:
			ambiguous = append(ambiguous, i)
		}
	}
	return inside, outside, ambiguous, nil
}

func (e *Engine) record(stats Stats, start time.Time) {
	metrics.QueryPointsTotal.WithLabelValues(metrics.OutcomeInside).Add(float64(stats.Inside))
	metrics.QueryPointsTotal.WithLabelValues(metrics.OutcomeOutside).Add(float64(stats.Outside))
	metrics.QueryPointsTotal.WithLabelValues(metrics.OutcomeExactInside).Add(float64(stats.ExactInside))
	metrics.QueryPointsTotal.WithLabelValues(metrics.OutcomeExactOutside).Add(float64(stats.ExactTested - stats.ExactInside))
	metrics.ExactTestCallsTotal.Add(float64(stats.ExactCalls))
	metrics.QueryDurationMs.Observe(float64(time.Since(start).Milliseconds()))
}
