package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "cpl_error.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

var registerOnce sync.Once

// ensureRegistered makes the GDAL drivers available to callers that did
// not go through utils.InitGdal.
func ensureRegistered() {
	registerOnce.Do(func() {
		if C.GDALGetDriverCount() == 0 {
			C.GDALAllRegister()
		}
	})
}

func lastGDALError() string {
	msg := C.GoString(C.CPLGetLastErrorMsg())
	if len(msg) == 0 {
		return "unknown GDAL error"
	}
	return msg
}

func openRaster(path string) (C.GDALDatasetH, error) {
	ensureRegistered()

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	C.CPLErrorReset()
	ds := C.GDALOpenEx(cPath, C.GDAL_OF_RASTER|C.GDAL_OF_READONLY, nil, nil, nil)
	if ds == nil {
		return nil, fmt.Errorf("GDAL could not open dataset %s: %s", path, lastGDALError())
	}
	return ds, nil
}

func openVector(path string) (C.GDALDatasetH, error) {
	ensureRegistered()

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	C.CPLErrorReset()
	ds := C.GDALOpenEx(cPath, C.GDAL_OF_VECTOR|C.GDAL_OF_READONLY, nil, nil, nil)
	if ds == nil {
		return nil, fmt.Errorf("OGR could not open dataset %s: %s", path, lastGDALError())
	}
	return ds, nil
}
