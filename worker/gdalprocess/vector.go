package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "ogr_api.h"
// #include "ogr_srs_api.h"
// #include "cpl_vsi.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/nci/polydrill/processor"
	"github.com/paulmach/orb"
)

// OGRVectorReader reads a polygon layer with OGR. Layer selects the layer
// by name; the first layer is used when empty.
type OGRVectorReader struct {
	Layer string
}

func (r *OGRVectorReader) ReadPolygons(path string) (*processor.PolygonTable, error) {
	ds, err := openVector(path)
	if err != nil {
		return nil, err
	}
	defer C.GDALClose(ds)

	var hLayer C.OGRLayerH
	if len(r.Layer) > 0 {
		cName := C.CString(r.Layer)
		hLayer = C.GDALDatasetGetLayerByName(ds, cName)
		C.free(unsafe.Pointer(cName))
	} else if C.GDALDatasetGetLayerCount(ds) > 0 {
		hLayer = C.GDALDatasetGetLayer(ds, 0)
	}
	if hLayer == nil {
		return nil, fmt.Errorf("%s: layer '%s' not found", path, r.Layer)
	}

	table := &processor.PolygonTable{CRS: layerCRS(hLayer)}

	hDefn := C.OGR_L_GetLayerDefn(hLayer)
	nFields := int(C.OGR_FD_GetFieldCount(hDefn))
	fieldTypes := make([]C.OGRFieldType, nFields)
	for i := 0; i < nFields; i++ {
		hField := C.OGR_FD_GetFieldDefn(hDefn, C.int(i))
		fieldTypes[i] = C.OGR_Fld_GetType(hField)
		table.Columns = append(table.Columns, &processor.AttrColumn{Name: C.GoString(C.OGR_Fld_GetNameRef(hField))})
	}

	C.OGR_L_ResetReading(hLayer)
	for ordinal := 0; ; ordinal++ {
		hFeature := C.OGR_L_GetNextFeature(hLayer)
		if hFeature == nil {
			break
		}

		g, err := ogrToOrb(C.OGR_F_GetGeometryRef(hFeature))
		if err != nil {
			C.OGR_F_Destroy(hFeature)
			return nil, fmt.Errorf("%s: feature %d: %v", path, ordinal, err)
		}
		for i := 0; i < nFields; i++ {
			table.Columns[i].Values = append(table.Columns[i].Values, fieldValue(hFeature, i, fieldTypes[i]))
		}
		table.Geometries = append(table.Geometries, polygonal(g))
		table.Index = append(table.Index, ordinal)

		C.OGR_F_Destroy(hFeature)
	}

	return table, nil
}

// polygonal unwraps geometry collections that only hold polygons, as
// some drivers return them for multi-part shapes.
func polygonal(g orb.Geometry) orb.Geometry {
	coll, ok := g.(orb.Collection)
	if !ok {
		return g
	}
	var mp orb.MultiPolygon
	for _, part := range coll {
		switch p := part.(type) {
		case orb.Polygon:
			mp = append(mp, p)
		case orb.MultiPolygon:
			mp = append(mp, p...)
		default:
			return g
		}
	}
	return mp
}

func fieldValue(hFeature C.OGRFeatureH, i int, fieldType C.OGRFieldType) processor.AttrValue {
	idx := C.int(i)
	if C.OGR_F_IsFieldSetAndNotNull(hFeature, idx) == 0 {
		return nil
	}

	switch fieldType {
	case C.OFTInteger, C.OFTInteger64:
		return int64(C.OGR_F_GetFieldAsInteger64(hFeature, idx))
	case C.OFTReal:
		return float64(C.OGR_F_GetFieldAsDouble(hFeature, idx))
	default:
		return C.GoString(C.OGR_F_GetFieldAsString(hFeature, idx))
	}
}

func layerCRS(hLayer C.OGRLayerH) string {
	hSRS := C.OGR_L_GetSpatialRef(hLayer)
	if hSRS == nil {
		return ""
	}
	var wkt *C.char
	if C.OSRExportToWkt(hSRS, &wkt) != C.OGRERR_NONE {
		return ""
	}
	defer C.VSIFree(unsafe.Pointer(wkt))
	return C.GoString(wkt)
}
