package processor

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"
)

// GeometryOps provides the coordinate reference system operations the
// geometry preparation step relies on.
type GeometryOps interface {
	SameCRS(a, b string) (bool, error)
	Reproject(geoms []orb.Geometry, srcCRS, dstCRS string) ([]orb.Geometry, error)
}

// PrepareGeometries brings the polygons into the raster's reference frame
// and clips them to the raster bounds. Reprojection always happens before
// clipping. Rows left without any area after clipping are dropped.
func PrepareGeometries(in *PolygonTable, raster *RasterDescriptor, ops GeometryOps, log *zerolog.Logger) (*PolygonTable, error) {
	log = loggerOrNop(log)

	for i, g := range in.Geometries {
		if g == nil {
			continue
		}
		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, fmt.Errorf("polygon %d has geometry type %s, only polygons are supported", in.Index[i], g.GeoJSONType())
		}
	}

	geoms := in.Geometries
	same, err := ops.SameCRS(in.CRS, raster.CRS)
	if err != nil {
		return nil, fmt.Errorf("comparing vector and raster CRS: %w", err)
	}
	crs := in.CRS
	if !same {
		geoms, err = ops.Reproject(in.Geometries, in.CRS, raster.CRS)
		if err != nil {
			return nil, fmt.Errorf("reprojecting polygons to raster CRS: %w", err)
		}
		if len(geoms) != len(in.Geometries) {
			return nil, fmt.Errorf("reprojection returned %d geometries for %d polygons", len(geoms), len(in.Geometries))
		}
		crs = raster.CRS
		log.Info().Int("polygons", len(geoms)).Msg("CRS did not match. Vector CRS has been reprojected.")
	}

	clipped := make([]orb.Geometry, len(geoms))
	keep := make([]bool, len(geoms))
	dropped := 0
	for i, g := range geoms {
		if g == nil {
			dropped++
			continue
		}
		// clip works in place
		cg := clip.Geometry(raster.Bounds, orb.Clone(g))
		if isEmptyPolygonal(cg) {
			dropped++
			continue
		}
		clipped[i] = cg
		keep[i] = true
	}
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("polygons outside the raster extent")
	}

	out := in.filter(clipped, keep)
	out.CRS = crs
	return out, nil
}

func isEmptyPolygonal(g orb.Geometry) bool {
	if g == nil {
		return true
	}
	switch p := g.(type) {
	case orb.Polygon:
		if len(p) == 0 {
			return true
		}
	case orb.MultiPolygon:
		if len(p) == 0 {
			return true
		}
	default:
		return true
	}
	return planar.Area(g) == 0
}

// BoundFromGeoTransform returns the rectangle covered by a raster of the
// given size, including rotated geotransforms.
func BoundFromGeoTransform(gt [6]float64, width, height int) orb.Bound {
	w, h := float64(width), float64(height)
	corner := func(px, py float64) orb.Point {
		return orb.Point{gt[0] + px*gt[1] + py*gt[2], gt[3] + px*gt[4] + py*gt[5]}
	}
	b := corner(0, 0).Bound()
	b = b.Extend(corner(w, 0))
	b = b.Extend(corner(0, h))
	b = b.Extend(corner(w, h))
	return b
}
