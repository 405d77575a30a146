package gdalprocess

// #include <stdlib.h>
// #include "ogr_api.h"
// #include "ogr_srs_api.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/paulmach/orb"
)

// GeometryOps compares reference systems and reprojects geometries with
// OSR. Coordinates are always x/y (longitude/latitude) ordered.
type GeometryOps struct{}

func newSRS(crs string) (C.OGRSpatialReferenceH, error) {
	hSRS := C.OSRNewSpatialReference(nil)
	cCRS := C.CString(crs)
	defer C.free(unsafe.Pointer(cCRS))

	if C.OSRSetFromUserInput(hSRS, cCRS) != C.OGRERR_NONE {
		C.OSRDestroySpatialReference(hSRS)
		return nil, fmt.Errorf("unrecognised coordinate reference system '%s'", crs)
	}
	C.OSRSetAxisMappingStrategy(hSRS, C.OAMS_TRADITIONAL_GIS_ORDER)
	return hSRS, nil
}

// SameCRS reports whether a and b describe the same reference system. Two
// undefined systems are the same; an undefined and a defined one cannot be
// compared.
func (o *GeometryOps) SameCRS(a, b string) (bool, error) {
	if a == b {
		return true, nil
	}
	if len(a) == 0 || len(b) == 0 {
		return false, fmt.Errorf("cannot compare an undefined coordinate reference system with a defined one")
	}

	srsA, err := newSRS(a)
	if err != nil {
		return false, err
	}
	defer C.OSRDestroySpatialReference(srsA)
	srsB, err := newSRS(b)
	if err != nil {
		return false, err
	}
	defer C.OSRDestroySpatialReference(srsB)

	return C.OSRIsSame(srsA, srsB) != 0, nil
}

func (o *GeometryOps) Reproject(geoms []orb.Geometry, srcCRS, dstCRS string) ([]orb.Geometry, error) {
	srcSRS, err := newSRS(srcCRS)
	if err != nil {
		return nil, err
	}
	defer C.OSRDestroySpatialReference(srcSRS)
	dstSRS, err := newSRS(dstCRS)
	if err != nil {
		return nil, err
	}
	defer C.OSRDestroySpatialReference(dstSRS)

	trans := C.OCTNewCoordinateTransformation(srcSRS, dstSRS)
	if trans == nil {
		return nil, fmt.Errorf("no coordinate transformation available: %s", lastGDALError())
	}
	defer C.OCTDestroyCoordinateTransformation(trans)

	out := make([]orb.Geometry, len(geoms))
	for i, g := range geoms {
		if g == nil {
			continue
		}
		hGeom, err := orbToOGR(g)
		if err != nil {
			return nil, fmt.Errorf("geometry %d: %v", i, err)
		}
		if e := C.OGR_G_Transform(hGeom, trans); e != C.OGRERR_NONE {
			C.OGR_G_DestroyGeometry(hGeom)
			return nil, fmt.Errorf("geometry %d could not be transformed, error %d", i, int(e))
		}
		out[i], err = ogrToOrb(hGeom)
		C.OGR_G_DestroyGeometry(hGeom)
		if err != nil {
			return nil, fmt.Errorf("geometry %d: %v", i, err)
		}
	}
	return out, nil
}
