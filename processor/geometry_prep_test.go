package processor

import (
	"bytes"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shiftOps treats CRS strings as equal when they are identical and
// reprojects by translating every geometry by (dx, dy).
type shiftOps struct {
	dx, dy     float64
	reprojects int
	err        error
}

func (o *shiftOps) SameCRS(a, b string) (bool, error) {
	return a == b, nil
}

func (o *shiftOps) Reproject(geoms []orb.Geometry, srcCRS, dstCRS string) ([]orb.Geometry, error) {
	o.reprojects++
	if o.err != nil {
		return nil, o.err
	}
	out := make([]orb.Geometry, len(geoms))
	for i, g := range geoms {
		if g == nil {
			continue
		}
		p := g.(orb.Polygon).Clone()
		for _, ring := range p {
			for ip := range ring {
				ring[ip][0] += o.dx
				ring[ip][1] += o.dy
			}
		}
		out[i] = p
	}
	return out, nil
}

func testRaster(width, height, bands int) *RasterDescriptor {
	gt := [6]float64{0, 1, 0, float64(height), 0, -1}
	r := &RasterDescriptor{
		Path:         "test.tif",
		Width:        width,
		Height:       height,
		BandCount:    bands,
		GeoTransform: gt,
		CRS:          "EPSG:3577",
		NoData:       make([]*float64, bands),
	}
	r.Bounds = BoundFromGeoTransform(gt, width, height)
	return r
}

func TestBoundFromGeoTransform(t *testing.T) {
	b := BoundFromGeoTransform([6]float64{100, 10, 0, 50, 0, -5}, 4, 2)
	assert.Equal(t, orb.Point{100, 40}, b.Min)
	assert.Equal(t, orb.Point{140, 50}, b.Max)
}

func TestBoundFromGeoTransformRotated(t *testing.T) {
	// corners (0,10) (4,10.8) (1,8) (5,8.8)
	b := BoundFromGeoTransform([6]float64{0, 1, 0.5, 10, 0.2, -1}, 4, 2)
	assert.InDelta(t, 0.0, b.Min[0], 1e-12)
	assert.InDelta(t, 8.0, b.Min[1], 1e-12)
	assert.InDelta(t, 5.0, b.Max[0], 1e-12)
	assert.InDelta(t, 10.8, b.Max[1], 1e-12)
}

func TestPrepareGeometriesLeavesInputUntouched(t *testing.T) {
	raster := testRaster(4, 4, 1)
	poly := orb.Polygon{{{-1, -1}, {2, -1}, {2, 2}, {-1, 2}, {-1, -1}}}
	in := &PolygonTable{
		CRS: raster.CRS,
		Columns: []*AttrColumn{
			{Name: "id", Kind: AttrInt, Values: []AttrValue{int64(1)}},
		},
		Geometries: []orb.Geometry{poly},
		Index:      []int{0},
	}
	before := orb.Clone(poly)

	out, err := PrepareGeometries(in, raster, &shiftOps{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())

	assert.Equal(t, before, in.Geometries[0])
	assert.Equal(t, before, poly)
	b := out.Geometries[0].Bound()
	assert.Equal(t, orb.Point{0, 0}, b.Min)
	assert.Equal(t, orb.Point{2, 2}, b.Max)
}

func TestPrepareGeometriesClipsToRaster(t *testing.T) {
	raster := testRaster(4, 4, 1)
	in := &PolygonTable{
		CRS: raster.CRS,
		Columns: []*AttrColumn{
			{Name: "id", Kind: AttrInt, Values: []AttrValue{int64(10), int64(20), int64(30)}},
		},
		Geometries: []orb.Geometry{
			orb.Polygon{{{-1, -1}, {2, -1}, {2, 2}, {-1, 2}, {-1, -1}}},
			unitSquare(10, 10),
			unitSquare(1, 1),
		},
		Index: []int{0, 1, 2},
	}
	ops := &shiftOps{}

	out, err := PrepareGeometries(in, raster, ops, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, ops.reprojects)

	require.Equal(t, 2, out.Len())
	assert.Equal(t, []int{0, 2}, out.Index)
	assert.Equal(t, []AttrValue{int64(10), int64(30)}, out.Columns[0].Values)
	assert.InDelta(t, 4.0, planar.Area(out.Geometries[0]), 1e-9)
	assert.InDelta(t, 1.0, planar.Area(out.Geometries[1]), 1e-9)
	assert.NoError(t, out.Validate())
}

func TestPrepareGeometriesReprojectsBeforeClip(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	raster := testRaster(4, 4, 1)
	// outside the raster until shifted into it
	in := &PolygonTable{
		CRS:        "EPSG:4326",
		Geometries: []orb.Geometry{unitSquare(-10, -10)},
		Index:      []int{0},
	}
	ops := &shiftOps{dx: 11, dy: 11}

	out, err := PrepareGeometries(in, raster, ops, &log)
	require.NoError(t, err)
	assert.Equal(t, 1, ops.reprojects)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, raster.CRS, out.CRS)
	assert.Equal(t, orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{2, 2}}, out.Geometries[0].Bound())
	assert.Contains(t, buf.String(), "CRS did not match. Vector CRS has been reprojected.")
}

func TestPrepareGeometriesErrors(t *testing.T) {
	raster := testRaster(4, 4, 1)

	in := &PolygonTable{CRS: "EPSG:4326", Geometries: []orb.Geometry{unitSquare(0, 0)}, Index: []int{0}}
	_, err := PrepareGeometries(in, raster, &shiftOps{err: errors.New("no transform")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transform")

	in = &PolygonTable{CRS: raster.CRS, Geometries: []orb.Geometry{orb.Point{1, 1}}, Index: []int{7}}
	_, err = PrepareGeometries(in, raster, &shiftOps{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polygon 7")
}

func TestPrepareGeometriesDropsTouchingEdge(t *testing.T) {
	raster := testRaster(4, 4, 1)
	in := &PolygonTable{
		CRS:        raster.CRS,
		Geometries: []orb.Geometry{unitSquare(4, 0), nil},
		Index:      []int{0, 1},
	}
	out, err := PrepareGeometries(in, raster, &shiftOps{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}
