package processor

import (
	"fmt"

	"github.com/paulmach/orb"
)

// AttrValue is a single attribute cell as read from a vector source.
// nil marks a missing value; otherwise it holds an int64, float64,
// string or bool.
type AttrValue interface{}

type AttrKind int

const (
	AttrUnknown AttrKind = iota
	AttrInt
	AttrFloat
	AttrString
)

func (k AttrKind) String() string {
	switch k {
	case AttrInt:
		return "int"
	case AttrFloat:
		return "float"
	case AttrString:
		return "string"
	default:
		return "unknown"
	}
}

type AttrColumn struct {
	Name   string
	Kind   AttrKind
	Values []AttrValue
	Filled bool
}

// PolygonTable holds the polygons of a vector layer together with their
// attributes. Index records each row's position in the source layer so
// that rows can be reported by their source ordinal after clipping.
type PolygonTable struct {
	Columns    []*AttrColumn
	Geometries []orb.Geometry
	Index      []int
	CRS        string
}

func (t *PolygonTable) Len() int {
	return len(t.Geometries)
}

func (t *PolygonTable) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

func (t *PolygonTable) Column(name string) (*AttrColumn, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return nil, false
}

// Validate checks that every column has one value per geometry.
func (t *PolygonTable) Validate() error {
	if len(t.Index) != len(t.Geometries) {
		return fmt.Errorf("polygon table has %d geometries but %d index entries", len(t.Geometries), len(t.Index))
	}
	for _, col := range t.Columns {
		if len(col.Values) != len(t.Geometries) {
			return fmt.Errorf("column '%s' has %d values for %d geometries", col.Name, len(col.Values), len(t.Geometries))
		}
	}
	return nil
}

// filter returns a new table holding the rows for which keep is true.
// Geometries are taken from geoms, which must be aligned with t.
func (t *PolygonTable) filter(geoms []orb.Geometry, keep []bool) *PolygonTable {
	out := &PolygonTable{CRS: t.CRS}
	out.Columns = make([]*AttrColumn, len(t.Columns))
	for ic, col := range t.Columns {
		out.Columns[ic] = &AttrColumn{Name: col.Name, Kind: col.Kind, Filled: col.Filled}
	}

	for i, k := range keep {
		if !k {
			continue
		}
		out.Geometries = append(out.Geometries, geoms[i])
		out.Index = append(out.Index, t.Index[i])
		for ic, col := range t.Columns {
			out.Columns[ic].Values = append(out.Columns[ic].Values, col.Values[i])
		}
	}
	return out
}

// RasterDescriptor is the metadata of a raster file captured at open time.
type RasterDescriptor struct {
	Path         string
	Width        int
	Height       int
	BandCount    int
	GeoTransform [6]float64
	Bounds       orb.Bound
	CRS          string
	NoData       []*float64
	DataType     string
}

func (r *RasterDescriptor) BandNames() []string {
	names := make([]string, r.BandCount)
	for i := range names {
		names[i] = BandName(i + 1)
	}
	return names
}

func BandName(band int) string {
	return fmt.Sprintf("B_%d", band)
}

// PolygonExtraction is the engine output for one polygon: one value
// sequence and one coverage fraction sequence per band, bands in
// ascending order.
type PolygonExtraction struct {
	Index    int
	Meta     []AttrValue
	Values   [][]float64
	Coverage [][]float64
}

func (e *PolygonExtraction) ValueCounts() []int {
	counts := make([]int, len(e.Values))
	for i, v := range e.Values {
		counts[i] = len(v)
	}
	return counts
}

func (e *PolygonExtraction) CoverageCounts() []int {
	counts := make([]int, len(e.Coverage))
	for i, c := range e.Coverage {
		counts[i] = len(c)
	}
	return counts
}

type PixelRow struct {
	Meta      []AttrValue
	CoverFrac float64
	PxID      int
	Bands     []float64
	Derived   []float64
}

const (
	CoverFracColumn = "cover_frac"
	PixelIDColumn   = "polyPxID"
)
