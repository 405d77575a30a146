package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nci/polydrill/metrics"
	proc "github.com/nci/polydrill/processor"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestLoadConfigFlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polydrill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
drill:
  raster: /data/a.tif
  vector: /data/plots.shp
  workers: 3
  include_cols: [site]
`), 0644))
	configPath = path
	defer func() { configPath = "" }()

	require.NoError(t, extractCmd.ParseFlags([]string{
		"--raster", "/data/b1.tif", "--raster", "/data/b2.tif",
		"--delimiter", "tab",
		"--band-expr", "ndvi=(B_2-B_1)/(B_2+B_1)",
		"--log-level", "debug",
	}))

	cfg, err := loadConfig(extractCmd)
	require.NoError(t, err)
	assert.Equal(t, "/data/b1.tif", cfg.Drill.RasterPath)
	assert.Equal(t, []string{"/data/b2.tif"}, cfg.Drill.StackRasters)
	assert.Equal(t, "/data/plots.shp", cfg.Drill.VectorPath)
	assert.Equal(t, 3, cfg.Drill.Workers)
	assert.Equal(t, []string{"site"}, cfg.Drill.IncludeCols)
	assert.Equal(t, []string{"ndvi=(B_2-B_1)/(B_2+B_1)"}, cfg.Drill.BandExprs)
	assert.Equal(t, "debug", cfg.Log.Level)

	delim, err := cfg.Drill.DelimiterRune()
	require.NoError(t, err)
	assert.Equal(t, '\t', delim)
	assert.NoError(t, cfg.Validate())
}

func TestRasterInfoYAML(t *testing.T) {
	nodata := -9999.0
	desc := &proc.RasterDescriptor{
		Path:         "stack.vrt",
		Width:        4,
		Height:       2,
		BandCount:    2,
		GeoTransform: [6]float64{100, 10, 0, 50, 0, -10},
		Bounds:       orb.Bound{Min: orb.Point{100, 30}, Max: orb.Point{140, 50}},
		NoData:       []*float64{&nodata, nil},
		DataType:     "Int16",
	}

	out, err := yaml.Marshal(newRasterInfo(desc))
	require.NoError(t, err)

	var back map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "Int16", back["data_type"])
	assert.Equal(t, []interface{}{100, 30, 140, 50}, back["bounds"])

	bands := back["bands"].([]interface{})
	require.Len(t, bands, 2)
	assert.Equal(t, "B_1", bands[0].(map[interface{}]interface{})["name"])
	assert.Equal(t, -9999, bands[0].(map[interface{}]interface{})["nodata"])
	_, hasNoData := bands[1].(map[interface{}]interface{})["nodata"]
	assert.False(t, hasNoData)
}

func TestIsYAML(t *testing.T) {
	assert.True(t, isYAML("YAML"))
	assert.True(t, isYAML("yml"))
	assert.False(t, isYAML("json"))
}

type memRaster struct{ desc *proc.RasterDescriptor }

func (m *memRaster) ReadRasterInfo(path string) (*proc.RasterDescriptor, error) {
	return m.desc, nil
}

type memVectors struct{ table *proc.PolygonTable }

func (m *memVectors) ReadPolygons(path string) (*proc.PolygonTable, error) {
	return m.table, nil
}

type sameCRS struct{}

func (sameCRS) SameCRS(a, b string) (bool, error) { return true, nil }

func (sameCRS) Reproject(geoms []orb.Geometry, srcCRS, dstCRS string) ([]orb.Geometry, error) {
	return geoms, nil
}

// onePixel reports a single fully covered pixel per polygon.
type onePixel struct{}

func (onePixel) Extract(ctx context.Context, req *proc.ExtractRequest) ([]*proc.PolygonExtraction, error) {
	out := make([]*proc.PolygonExtraction, len(req.Polygons))
	for i := range out {
		out[i] = &proc.PolygonExtraction{Values: [][]float64{{42}}, Coverage: [][]float64{{1}}}
	}
	return out, nil
}

func memPipeline() *proc.DrillPipeline {
	gt := [6]float64{0, 1, 0, 2, 0, -1}
	raster := &proc.RasterDescriptor{
		Path: "mem.tif", Width: 2, Height: 2, BandCount: 1, GeoTransform: gt,
		Bounds: proc.BoundFromGeoTransform(gt, 2, 2),
		NoData: []*float64{nil},
	}
	table := &proc.PolygonTable{
		Columns:    []*proc.AttrColumn{{Name: "id", Kind: proc.AttrInt, Values: []proc.AttrValue{int64(1)}}},
		Geometries: []orb.Geometry{orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}},
		Index:      []int{0},
	}
	return proc.InitDrillPipeline(&memRaster{raster}, &memVectors{table}, sameCRS{}, onePixel{}, nil)
}

func runsTotal(outcome string) string {
	return `
# HELP polydrill_runs_total Extraction runs by outcome.
# TYPE polydrill_runs_total counter
polydrill_runs_total{outcome="` + outcome + `"} 1
`
}

func TestExtractAndLoadRecordsLoadFailure(t *testing.T) {
	collector := metrics.NewMetricsCollector(nil)
	req := proc.NewDrillRequest("mem.tif", "mem.geojson")
	loadErr := errors.New("connection refused")

	var loaded int
	err := extractAndLoad(context.Background(), memPipeline(), req, func(ctx context.Context, table *proc.PixelTable) error {
		loaded = table.Len()
		return loadErr
	}, collector)

	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, "connection refused", collector.Info.Error)
	assert.Equal(t, 1, collector.Info.Run.PixelRows)
	assert.NoError(t, testutil.GatherAndCompare(collector.Registry(), strings.NewReader(runsTotal("error")), "polydrill_runs_total"))
}

func TestExtractAndLoadRecordsSuccessOnce(t *testing.T) {
	collector := metrics.NewMetricsCollector(nil)
	req := proc.NewDrillRequest("mem.tif", "mem.geojson")

	calls := 0
	err := extractAndLoad(context.Background(), memPipeline(), req, func(ctx context.Context, table *proc.PixelTable) error {
		calls++
		return nil
	}, collector)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, collector.Info.Error)
	assert.NoError(t, testutil.GatherAndCompare(collector.Registry(), strings.NewReader(runsTotal("success")), "polydrill_runs_total"))

	// without a loader the pipeline outcome is recorded as is
	collector = metrics.NewMetricsCollector(nil)
	require.NoError(t, extractAndLoad(context.Background(), memPipeline(), req, nil, collector))
	assert.NoError(t, testutil.GatherAndCompare(collector.Registry(), strings.NewReader(runsTotal("success")), "polydrill_runs_total"))
}
