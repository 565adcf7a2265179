package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/stwalsh4118/areaindex/internal/models"
)

// ErrCorrupt is returned by Decode for data it did not produce.
var ErrCorrupt = errors.New("corrupt cached index")

var magic = [4]byte{'A', 'I', 'X', '2'}

// header is the fixed-width prefix of an encoded record.
type header struct {
	Magic    [4]byte
	AreaID   int64
	SRID     int32
	CellSize float64
	BuiltAt  int64
	Count    uint32
}

// cellRecord is one encoded cell.
type cellRecord struct {
	MinX         float64
	MinY         float64
	MaxX         float64
	MaxY         float64
	Relationship uint8
}

// Encode writes a record as fixed-width little-endian fields.
func Encode(record *models.IndexRecord) ([]byte, error) {
	if record == nil {
		return nil, errors.New("index record is required")
	}
	if len(record.Cells) > math.MaxUint32 {
		return nil, fmt.Errorf("index of area %d has too many cells to cache", record.AreaID)
	}

	h := header{
		Magic:    magic,
		AreaID:   record.AreaID,
		SRID:     int32(record.SRID),
		CellSize: record.CellSize,
		Count:    uint32(len(record.Cells)),
	}
	if !record.BuiltAt.IsZero() {
		h.BuiltAt = record.BuiltAt.UnixNano()
	}

	var buf bytes.Buffer
	buf.Grow(binary.Size(h) + len(record.Cells)*binary.Size(cellRecord{}))
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("failed to encode index header: %w", err)
	}
	for i, c := range record.Cells {
		if !c.Relationship.Valid() {
			return nil, fmt.Errorf("cell %d has invalid relationship %d", i, uint8(c.Relationship))
		}
		cr := cellRecord{MinX: c.MinX, MinY: c.MinY, MaxX: c.MaxX, MaxY: c.MaxY, Relationship: uint8(c.Relationship)}
		if err := binary.Write(&buf, binary.LittleEndian, cr); err != nil {
			return nil, fmt.Errorf("failed to encode cell %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Decode reads a record written by Encode.
func Decode(data []byte) (*models.IndexRecord, error) {
	r := bytes.NewReader(data)

	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: unknown format %q", ErrCorrupt, h.Magic[:])
	}

	cellSize := binary.Size(cellRecord{})
	if int64(r.Len()) != int64(h.Count)*int64(cellSize) {
		return nil, fmt.Errorf("%w: expected %d cells, have %d bytes", ErrCorrupt, h.Count, r.Len())
	}

	record := &models.IndexRecord{
		AreaID:   h.AreaID,
		SRID:     models.SRID(h.SRID),
		CellSize: h.CellSize,
		Cells:    make([]models.Cell, h.Count),
	}
	if h.BuiltAt != 0 {
		record.BuiltAt = time.Unix(0, h.BuiltAt).UTC()
	}

	for i := range record.Cells {
		var cr cellRecord
		if err := binary.Read(r, binary.LittleEndian, &cr); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: truncated at cell %d", ErrCorrupt, i)
			}
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		rel := models.Relationship(cr.Relationship)
		if !rel.Valid() {
			return nil, fmt.Errorf("%w: cell %d has relationship %d", ErrCorrupt, i, cr.Relationship)
		}
		record.Cells[i] = models.Cell{MinX: cr.MinX, MinY: cr.MinY, MaxX: cr.MaxX, MaxY: cr.MaxY, Relationship: rel}
	}
	return record, nil
}
