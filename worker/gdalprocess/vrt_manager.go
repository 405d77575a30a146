package gdalprocess

/*
#include <stdlib.h>
#include <string.h>
#include "gdal.h"
#include "cpl_vsi.h"
#cgo pkg-config: gdal

VSILFILE *wrap_VSIFileFromMemBuffer(char *filename, char *data, unsigned long dataLength) {
  return VSIFileFromMemBuffer(filename, data, dataLength, 0);
}
*/
import "C"

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"
)

type VRTDataset struct {
	XMLName        xml.Name         `xml:"VRTDataset"`
	RasterXSize    int              `xml:"rasterXSize,attr"`
	RasterYSize    int              `xml:"rasterYSize,attr"`
	SRS            string           `xml:"SRS,omitempty"`
	GeoTransform   string           `xml:"GeoTransform"`
	VRTRasterBands []*VRTRasterBand `xml:"VRTRasterBand"`
}

type VRTRasterBand struct {
	XMLName       xml.Name        `xml:"VRTRasterBand"`
	DataType      string          `xml:"dataType,attr"`
	Band          int             `xml:"band,attr"`
	NoDataValue   string          `xml:"NoDataValue,omitempty"`
	SimpleSources []*SimpleSource `xml:"SimpleSource"`
}

type SimpleSource struct {
	SourceFileName SourceFileName `xml:"SourceFilename"`
	SourceBand     int            `xml:"SourceBand"`
}

type SourceFileName struct {
	RelativeToVRT int    `xml:"relativeToVRT,attr"`
	Path          string `xml:",chardata"`
}

// VRTManager stacks the bands of several rasters sharing one grid into a
// single in-memory VRT dataset. Bands are numbered in input order, all
// bands of the first file first.
type VRTManager struct {
	DSFileName string
	BandCount  int
	vrtC       *C.char
}

var vsiFileCounter int64

type StackOptions struct {
	// AssignCRS overrides the reference system of the stack, for sources
	// that carry none.
	AssignCRS string
}

func NewVRTManager(paths []string, opts StackOptions) (*VRTManager, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no rasters to stack")
	}
	ensureRegistered()

	var vrtDS VRTDataset
	var refGeot [6]float64
	for ip, path := range paths {
		ds, err := openRaster(path)
		if err != nil {
			return nil, err
		}

		width := int(C.GDALGetRasterXSize(ds))
		height := int(C.GDALGetRasterYSize(ds))
		var geot [6]float64
		C.GDALGetGeoTransform(ds, (*C.double)(&geot[0]))

		if ip == 0 {
			vrtDS.RasterXSize = width
			vrtDS.RasterYSize = height
			vrtDS.SRS = C.GoString(C.GDALGetProjectionRef(ds))
			vrtDS.GeoTransform = formatGeoTransform(geot)
			refGeot = geot
		} else if width != vrtDS.RasterXSize || height != vrtDS.RasterYSize || !sameGeoTransform(geot, refGeot) {
			C.GDALClose(ds)
			return nil, fmt.Errorf("raster %s is not on the grid of %s", path, paths[0])
		}

		for ib := 1; ib <= int(C.GDALGetRasterCount(ds)); ib++ {
			hBand := C.GDALGetRasterBand(ds, C.int(ib))
			band := &VRTRasterBand{
				DataType: C.GoString(C.GDALGetDataTypeName(C.GDALGetRasterDataType(hBand))),
				Band:     len(vrtDS.VRTRasterBands) + 1,
				SimpleSources: []*SimpleSource{{
					SourceFileName: SourceFileName{Path: path},
					SourceBand:     ib,
				}},
			}
			var hasNoData C.int
			nodata := float64(C.GDALGetRasterNoDataValue(hBand, &hasNoData))
			if hasNoData != 0 {
				band.NoDataValue = strconv.FormatFloat(nodata, 'g', -1, 64)
			}
			vrtDS.VRTRasterBands = append(vrtDS.VRTRasterBands, band)
		}
		C.GDALClose(ds)
	}
	if len(opts.AssignCRS) > 0 {
		vrtDS.SRS = opts.AssignCRS
	}

	newVRT, err := xml.MarshalIndent(vrtDS, " ", "  ")
	if err != nil {
		return nil, err
	}

	newVRTC := C.CString(string(newVRT))
	vsiFile := fmt.Sprintf("/vsimem/polydrill_stack%04d.vrt", atomic.AddInt64(&vsiFileCounter, 1))
	vsiFileC := C.CString(vsiFile)
	vrtLen := C.strlen(newVRTC)
	vsiFileH := C.wrap_VSIFileFromMemBuffer(vsiFileC, newVRTC, vrtLen)
	C.free(unsafe.Pointer(vsiFileC))
	if vsiFileH == nil {
		C.free(unsafe.Pointer(newVRTC))
		return nil, fmt.Errorf("could not create %s", vsiFile)
	}
	C.VSIFCloseL(vsiFileH)

	return &VRTManager{DSFileName: vsiFile, BandCount: len(vrtDS.VRTRasterBands), vrtC: newVRTC}, nil
}

func (mgr *VRTManager) Close() {
	if len(mgr.DSFileName) > 0 {
		fileC := C.CString(mgr.DSFileName)
		C.VSIUnlink(fileC)
		C.free(unsafe.Pointer(fileC))
		mgr.DSFileName = ""
	}

	if mgr.vrtC != nil {
		C.free(unsafe.Pointer(mgr.vrtC))
		mgr.vrtC = nil
	}
}

func formatGeoTransform(geot [6]float64) string {
	parts := make([]string, len(geot))
	for i, v := range geot {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ", ")
}

func sameGeoTransform(a, b [6]float64) bool {
	for i := range a {
		tol := 1e-9 * math.Max(1, math.Abs(a[i]))
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
