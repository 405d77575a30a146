package metrics

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nci/polydrill/processor"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDrill(t *testing.T) {
	m := NewMetricsCollector(nil)
	m.RecordDrill(&processor.DrillSummary{
		PolygonsRead:     5,
		PolygonsInExtent: 4,
		Polygons:         3,
		Rows:             120,
		Bands:            6,
		FilledColumns:    []string{"id"},
		Duration:         2 * time.Second,
	}, nil)

	assert.Equal(t, 120.0, testutil.ToFloat64(m.pixelRows))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.polygons.WithLabelValues("read")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.polygons.WithLabelValues("extracted")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.bands))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Greater(t, testutil.ToFloat64(m.lastSuccess), 0.0)
	assert.Equal(t, 120, m.Info.Run.PixelRows)
	assert.Empty(t, m.Info.Error)
	assert.Len(t, m.Info.RunID, 36)
	assert.NotEqual(t, m.Info.RunID, NewMetricsCollector(nil).Info.RunID)

	m.RecordDrill(&processor.DrillSummary{PolygonsRead: 2}, processor.ErrNoPolygonsInExtent)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.polygons.WithLabelValues("read")))
	assert.Equal(t, processor.ErrNoPolygonsInExtent.Error(), m.Info.Error)
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetricsCollector(nil)
	m.RecordDrill(&processor.DrillSummary{Polygons: 1, Rows: 4, Bands: 2}, nil)

	path := filepath.Join(t.TempDir(), "polydrill.prom")
	require.NoError(t, m.WriteTextfile(path))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "polydrill_pixel_rows_total 4")
	assert.Contains(t, string(body), `polydrill_runs_total{outcome="success"} 1`)
	assert.Contains(t, string(body), "polydrill_run_duration_seconds_bucket")
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	m := NewMetricsCollector(NewZerologLogger(&log))
	m.Info.Input = InputInfo{RasterPath: "r.tif", VectorPath: "v.shp"}
	m.RecordDrill(&processor.DrillSummary{Polygons: 2, Rows: 9}, errors.New("boom"))
	m.Log()

	out := buf.String()
	assert.Contains(t, out, `"raster":"r.tif"`)
	assert.Contains(t, out, `"pixel_rows":9`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestFileLoggerRotates(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLogger(dir, 10, 2, nil)
	info := &MetricsInfo{ReqTime: "now", Run: &RunInfo{PixelRows: 1}}

	for i := 0; i < 4; i++ {
		l.Log(info)
	}

	body, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(body), "\n"))
	assert.Contains(t, string(body), `"pixel_rows":1`)

	_, err = os.Stat(filepath.Join(dir, logFileName+".0"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, logFileName+".1"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, logFileName+".2"))
	assert.True(t, os.IsNotExist(err))
}
