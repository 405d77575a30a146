package gdalprocess

// #include "gdal.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"

	"github.com/nci/polydrill/processor"
)

// RasterInfo reads raster descriptors through GDAL.
type RasterInfo struct{}

func (r *RasterInfo) ReadRasterInfo(path string) (*processor.RasterDescriptor, error) {
	ds, err := openRaster(path)
	if err != nil {
		return nil, err
	}
	defer C.GDALClose(ds)

	desc := &processor.RasterDescriptor{
		Path:      path,
		Width:     int(C.GDALGetRasterXSize(ds)),
		Height:    int(C.GDALGetRasterYSize(ds)),
		BandCount: int(C.GDALGetRasterCount(ds)),
		CRS:       C.GoString(C.GDALGetProjectionRef(ds)),
	}
	if desc.BandCount == 0 {
		return nil, fmt.Errorf("%s has no raster bands", path)
	}

	if C.GDALGetGeoTransform(ds, (*C.double)(&desc.GeoTransform[0])) != C.CE_None {
		return nil, fmt.Errorf("%s has no geotransform", path)
	}
	desc.Bounds = processor.BoundFromGeoTransform(desc.GeoTransform, desc.Width, desc.Height)

	desc.NoData = make([]*float64, desc.BandCount)
	for ib := 0; ib < desc.BandCount; ib++ {
		hBand := C.GDALGetRasterBand(ds, C.int(ib+1))
		var hasNoData C.int
		nodata := float64(C.GDALGetRasterNoDataValue(hBand, &hasNoData))
		if hasNoData != 0 {
			desc.NoData[ib] = &nodata
		}
		if ib == 0 {
			desc.DataType = C.GoString(C.GDALGetDataTypeName(C.GDALGetRasterDataType(hBand)))
		}
	}

	return desc, nil
}
