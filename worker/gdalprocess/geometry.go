package gdalprocess

// #include <stdlib.h>
// #include "ogr_api.h"
// #cgo pkg-config: gdal
import "C"

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// orbToOGR builds an OGR geometry from g. The caller owns the result.
func orbToOGR(g orb.Geometry) (C.OGRGeometryH, error) {
	data, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty WKB for %s", g.GeoJSONType())
	}

	var hGeom C.OGRGeometryH
	if e := C.OGR_G_CreateFromWkb(unsafe.Pointer(&data[0]), nil, &hGeom, C.int(len(data))); e != C.OGRERR_NONE {
		return nil, fmt.Errorf("OGR could not parse %s geometry, error %d", g.GeoJSONType(), int(e))
	}
	return hGeom, nil
}

// ogrToOrb converts an OGR geometry into a 2D linear orb geometry. hGeom
// is left untouched.
func ogrToOrb(hGeom C.OGRGeometryH) (orb.Geometry, error) {
	if hGeom == nil {
		return nil, nil
	}

	g := C.OGR_G_Clone(hGeom)
	if C.OGR_GT_IsNonLinear(C.OGR_G_GetGeometryType(g)) != 0 {
		linear := C.OGR_G_GetLinearGeometry(g, 0, nil)
		C.OGR_G_DestroyGeometry(g)
		g = linear
	}
	defer C.OGR_G_DestroyGeometry(g)
	C.OGR_G_FlattenTo2D(g)

	size := int(C.OGR_G_WkbSize(g))
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if e := C.OGR_G_ExportToWkb(g, C.wkbNDR, (*C.uchar)(unsafe.Pointer(&buf[0]))); e != C.OGRERR_NONE {
		return nil, fmt.Errorf("OGR could not export geometry to WKB, error %d", int(e))
	}

	return wkb.Unmarshal(buf)
}
