package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "ogr_api.h"
// #cgo pkg-config: gdal
import "C"

import (
	"context"
	"fmt"
	"math"
	"unsafe"

	"github.com/nci/polydrill/processor"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// DrillFileDescriptor is the pixel window of a polygon envelope.
type DrillFileDescriptor struct {
	OffX, OffY     int
	CountX, CountY int
}

// Driller extracts, for each polygon, the value of every pixel it covers
// and the exact fraction of the pixel area inside the polygon. Pixels are
// visited row by row over the polygon window. A pixel equal to a band's
// nodata value, or NaN, is left out of that band only.
type Driller struct {
	Log *zerolog.Logger
}

func (d *Driller) Extract(ctx context.Context, req *processor.ExtractRequest) ([]*processor.PolygonExtraction, error) {
	ds, err := openRaster(req.Raster.Path)
	if err != nil {
		return nil, err
	}
	defer C.GDALClose(ds)

	nBands := int(C.GDALGetRasterCount(ds))
	if nBands != req.Raster.BandCount {
		return nil, fmt.Errorf("%s has %d bands, expected %d", req.Raster.Path, nBands, req.Raster.BandCount)
	}

	dr := &drillRaster{
		ds:       ds,
		width:    int(C.GDALGetRasterXSize(ds)),
		height:   int(C.GDALGetRasterYSize(ds)),
		geot:     req.Raster.GeoTransform,
		nodata:   req.Raster.NoData,
		bandList: make([]C.int, nBands),
	}
	for ib := range dr.bandList {
		dr.bandList[ib] = C.int(ib + 1)
	}
	if C.GDALInvGeoTransform((*C.double)(&dr.geot[0]), (*C.double)(&dr.invGeot[0])) == 0 {
		return nil, fmt.Errorf("%s has a non invertible geotransform", req.Raster.Path)
	}
	dr.cellArea = math.Abs(dr.geot[1]*dr.geot[5] - dr.geot[2]*dr.geot[4])

	dr.cell = newCellPolygon()
	defer C.OGR_G_DestroyGeometry(dr.cell)

	out := make([]*processor.PolygonExtraction, len(req.Polygons))
	for ig, g := range req.Polygons {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out[ig], err = dr.drill(g)
		if err != nil {
			return nil, fmt.Errorf("polygon %d: %w", ig, err)
		}
		if d.Log != nil {
			d.Log.Trace().Int("polygon", ig).Ints("pixels", out[ig].ValueCounts()).Msg("polygon drilled")
		}
		if req.Progress != nil {
			req.Progress(ig+1, len(req.Polygons))
		}
	}
	return out, nil
}

type drillRaster struct {
	ds       C.GDALDatasetH
	width    int
	height   int
	geot     [6]float64
	invGeot  [6]float64
	cellArea float64
	nodata   []*float64
	bandList []C.int
	cell     C.OGRGeometryH
}

func newCellPolygon() C.OGRGeometryH {
	ring := C.OGR_G_CreateGeometry(C.wkbLinearRing)
	for i := 0; i < 5; i++ {
		C.OGR_G_AddPoint_2D(ring, 0, 0)
	}
	poly := C.OGR_G_CreateGeometry(C.wkbPolygon)
	C.OGR_G_AddGeometryDirectly(poly, ring)
	return poly
}

// setCell moves the cell polygon onto pixel (px, py).
func (dr *drillRaster) setCell(px, py int) {
	ring := C.OGR_G_GetGeometryRef(dr.cell, 0)
	corners := [5][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	for i, c := range corners {
		x, y := dr.pixelToGeo(float64(px)+c[0], float64(py)+c[1])
		C.OGR_G_SetPoint_2D(ring, C.int(i), C.double(x), C.double(y))
	}
}

func (dr *drillRaster) pixelToGeo(px, py float64) (float64, float64) {
	gt := dr.geot
	return gt[0] + px*gt[1] + py*gt[2], gt[3] + px*gt[4] + py*gt[5]
}

func (dr *drillRaster) geoToPixel(x, y float64) (float64, float64) {
	gt := dr.invGeot
	return gt[0] + x*gt[1] + y*gt[2], gt[3] + x*gt[4] + y*gt[5]
}

// window returns the pixel window covering env, clamped to the raster.
func (dr *drillRaster) window(env C.OGREnvelope) DrillFileDescriptor {
	minPx, minPy := math.Inf(1), math.Inf(1)
	maxPx, maxPy := math.Inf(-1), math.Inf(-1)
	for _, p := range [][2]C.double{{env.MinX, env.MinY}, {env.MaxX, env.MaxY}, {env.MinX, env.MaxY}, {env.MaxX, env.MinY}} {
		px, py := dr.geoToPixel(float64(p[0]), float64(p[1]))
		minPx, maxPx = math.Min(minPx, px), math.Max(maxPx, px)
		minPy, maxPy = math.Min(minPy, py), math.Max(maxPy, py)
	}

	offX := clampInt(int(math.Floor(minPx)), 0, dr.width)
	offY := clampInt(int(math.Floor(minPy)), 0, dr.height)
	endX := clampInt(int(math.Ceil(maxPx)), 0, dr.width)
	endY := clampInt(int(math.Ceil(maxPy)), 0, dr.height)
	return DrillFileDescriptor{OffX: offX, OffY: offY, CountX: endX - offX, CountY: endY - offY}
}

func (dr *drillRaster) drill(g orb.Geometry) (*processor.PolygonExtraction, error) {
	nBands := len(dr.bandList)
	ex := &processor.PolygonExtraction{
		Values:   make([][]float64, nBands),
		Coverage: make([][]float64, nBands),
	}
	for ib := 0; ib < nBands; ib++ {
		ex.Values[ib] = []float64{}
		ex.Coverage[ib] = []float64{}
	}

	hGeom, err := orbToOGR(g)
	if err != nil {
		return nil, err
	}
	defer C.OGR_G_DestroyGeometry(hGeom)

	var env C.OGREnvelope
	C.OGR_G_GetEnvelope(hGeom, &env)
	dsDscr := dr.window(env)
	if dsDscr.CountX <= 0 || dsDscr.CountY <= 0 {
		return ex, nil
	}

	bandSize := dsDscr.CountX * dsDscr.CountY
	dataBuf := make([]float64, bandSize*nBands)
	C.CPLErrorReset()
	gdalErr := C.GDALDatasetRasterIO(dr.ds, C.GF_Read, C.int(dsDscr.OffX), C.int(dsDscr.OffY), C.int(dsDscr.CountX), C.int(dsDscr.CountY),
		unsafe.Pointer(&dataBuf[0]), C.int(dsDscr.CountX), C.int(dsDscr.CountY), C.GDT_Float64, C.int(nBands), &dr.bandList[0], 0, 0, 0)
	if gdalErr != C.CE_None {
		return nil, fmt.Errorf("reading pixels: %s", lastGDALError())
	}

	for iy := 0; iy < dsDscr.CountY; iy++ {
		for ix := 0; ix < dsDscr.CountX; ix++ {
			frac := dr.coverage(hGeom, dsDscr.OffX+ix, dsDscr.OffY+iy)
			if frac <= 0 {
				continue
			}

			ip := iy*dsDscr.CountX + ix
			for ib := 0; ib < nBands; ib++ {
				val := dataBuf[ib*bandSize+ip]
				if dr.isNoData(ib, val) {
					continue
				}
				ex.Values[ib] = append(ex.Values[ib], val)
				ex.Coverage[ib] = append(ex.Coverage[ib], frac)
			}
		}
	}
	return ex, nil
}

// coverage returns the fraction of pixel (px, py) inside hGeom.
func (dr *drillRaster) coverage(hGeom C.OGRGeometryH, px, py int) float64 {
	dr.setCell(px, py)

	if C.OGR_G_Intersects(hGeom, dr.cell) == 0 {
		return 0
	}
	if C.OGR_G_Contains(hGeom, dr.cell) != 0 {
		return 1
	}

	inters := C.OGR_G_Intersection(hGeom, dr.cell)
	if inters == nil {
		return 0
	}
	area := float64(C.OGR_G_Area(inters))
	C.OGR_G_DestroyGeometry(inters)

	frac := area / dr.cellArea
	if frac > 1 {
		frac = 1
	}
	return frac
}

func (dr *drillRaster) isNoData(ib int, val float64) bool {
	if math.IsNaN(val) {
		return true
	}
	if ib >= len(dr.nodata) || dr.nodata[ib] == nil {
		return false
	}
	return val == *dr.nodata[ib]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
