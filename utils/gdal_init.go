package utils

// #include "gdal.h"
// #include "gdal_frmts.h"
// #cgo pkg-config: gdal
import "C"

import (
	"os"
	"sync"
)

var gdalOnce sync.Once

// InitGdal sets GDAL environment defaults and registers the drivers. It
// is safe to call more than once; only the first call has an effect.
func InitGdal(cfg GDALConfig) {
	gdalOnce.Do(func() {
		setDefaultEnv("GDAL_PAM_ENABLED", "NO")
		setDefaultEnv("GDAL_DISABLE_READDIR_ON_OPEN", "EMPTY_DIR")
		setDefaultEnv("GDAL_MAX_DATASET_POOL_SIZE", "10")
		if len(cfg.CacheMax) > 0 {
			setDefaultEnv("GDAL_CACHEMAX", cfg.CacheMax)
		}
		if len(cfg.NumThreads) > 0 {
			setDefaultEnv("GDAL_NUM_THREADS", cfg.NumThreads)
		}

		registerGDALDrivers()
	})
}

func setDefaultEnv(envVar string, defaultVal string) {
	if _, ok := os.LookupEnv(envVar); !ok {
		os.Setenv(envVar, defaultVal)
	}
}

// registerGDALDrivers puts GTiff and VRT at the front of the driver list,
// drivers are interrogated in a linear scan when opening files.
func registerGDALDrivers() {
	var haveGTiff, haveVRT bool

	C.GDALAllRegister()
	for i := 0; i < int(C.GDALGetDriverCount()); i++ {
		driver := C.GDALGetDriver(C.int(i))
		switch C.GoString(C.GDALGetDriverShortName(driver)) {
		case "GTiff":
			haveGTiff = true
		case "VRT":
			haveVRT = true
		}
	}

	for C.GDALGetDriverCount() > 0 {
		C.GDALDeregisterDriver(C.GDALGetDriver(0))
	}

	if haveGTiff {
		C.GDALRegister_GTiff()
	}
	if haveVRT {
		C.GDALRegister_VRT()
	}
	C.GDALAllRegister()
}
