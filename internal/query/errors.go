package query

import (
	"errors"
	"fmt"

	"github.com/stwalsh4118/areaindex/internal/models"
)

// Query errors
var (
	ErrSRIDMismatch      = errors.New("srid mismatch")
	ErrNoIndex           = errors.New("containment index is required")
	ErrNoExactTester     = errors.New("exact tester is required for points in overlapping cells")
	ErrExactResultLength = errors.New("exact tester returned the wrong number of results")
)

// SRIDMismatchError reports a point whose SRID differs from the index SRID.
// It matches ErrSRIDMismatch with errors.Is.
type SRIDMismatchError struct {
	Position int
	Expected models.SRID
	Actual   models.SRID
}

func (e *SRIDMismatchError) Error() string {
	return fmt.Sprintf("srid mismatch: point %d has srid %d, expected srid %d", e.Position, e.Actual, e.Expected)
}

// Unwrap lets errors.Is match ErrSRIDMismatch.
func (e *SRIDMismatchError) Unwrap() error {
	return ErrSRIDMismatch
}

// CheckSRID fails on the first point whose SRID differs from srid.
func CheckSRID(points []models.Point, srid models.SRID) error {
	for i, p := range points {
		if p.SRID != srid {
			return &SRIDMismatchError{Position: i, Expected: srid, Actual: p.SRID}
		}
	}
	return nil
}
