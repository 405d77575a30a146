package metrics

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nci/polydrill/processor"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "polydrill"

type InputInfo struct {
	RasterPath string `json:"raster_path"`
	VectorPath string `json:"vector_path"`
	OutPath    string `json:"out_path,omitempty"`
}

type RunInfo struct {
	PolygonsRead     int      `json:"polygons_read"`
	PolygonsInExtent int      `json:"polygons_in_extent"`
	Polygons         int      `json:"polygons"`
	PixelRows        int      `json:"pixel_rows"`
	Bands            int      `json:"bands"`
	FilledColumns    []string `json:"filled_columns,omitempty"`
}

// MetricsInfo is the record of one extraction run.
type MetricsInfo struct {
	RunID       string        `json:"run_id"`
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	Input       InputInfo     `json:"input"`
	Run         *RunInfo      `json:"run"`
	Error       string        `json:"error,omitempty"`
}

func (i *MetricsInfo) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// MetricsCollector records pipeline runs both as a MetricsInfo handed to a
// Logger and as prometheus series on a private registry.
type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger

	reg           *prometheus.Registry
	runs          *prometheus.CounterVec
	polygons      *prometheus.CounterVec
	pixelRows     prometheus.Counter
	bands         prometheus.Gauge
	duration      prometheus.Histogram
	lastSuccess   prometheus.Gauge
	filledColumns prometheus.Counter
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	m := &MetricsCollector{
		Info: &MetricsInfo{
			RunID:   uuid.NewString(),
			ReqTime: time.Now().Format(time.RFC3339),
			Run:     &RunInfo{},
		},
		logger: logger,
		reg:    prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Extraction runs by outcome.",
		}, []string{"outcome"}),
		polygons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polygons_total",
			Help:      "Polygons seen at each pipeline stage.",
		}, []string{"stage"}),
		pixelRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pixel_rows_total",
			Help:      "Pixel rows produced.",
		}),
		bands: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raster_bands",
			Help:      "Band count of the last raster processed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of extraction runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		filledColumns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filled_columns_total",
			Help:      "Attribute columns whose missing values were filled.",
		}),
	}
	m.reg.MustRegister(m.runs, m.polygons, m.pixelRows, m.bands, m.duration, m.lastSuccess, m.filledColumns)
	return m
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.reg
}

// RecordDrill implements processor.DrillRecorder.
func (m *MetricsCollector) RecordDrill(s *processor.DrillSummary, err error) {
	m.Info.ReqDuration = s.Duration
	m.Info.Run = &RunInfo{
		PolygonsRead:     s.PolygonsRead,
		PolygonsInExtent: s.PolygonsInExtent,
		Polygons:         s.Polygons,
		PixelRows:        s.Rows,
		Bands:            s.Bands,
		FilledColumns:    s.FilledColumns,
	}

	m.polygons.WithLabelValues("read").Add(float64(s.PolygonsRead))
	m.polygons.WithLabelValues("in_extent").Add(float64(s.PolygonsInExtent))
	m.polygons.WithLabelValues("extracted").Add(float64(s.Polygons))
	m.pixelRows.Add(float64(s.Rows))
	m.filledColumns.Add(float64(len(s.FilledColumns)))
	m.bands.Set(float64(s.Bands))
	m.duration.Observe(s.Duration.Seconds())

	if err != nil {
		m.Info.Error = err.Error()
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.Info.Error = ""
	m.runs.WithLabelValues("success").Inc()
	m.lastSuccess.SetToCurrentTime()
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

// WriteTextfile writes the registry in the text exposition format, for
// the node exporter textfile collector.
func (m *MetricsCollector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
