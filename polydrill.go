package main

/* polydrill extracts the raster pixels covered by each polygon of a
   vector layer into a delimited table: one row per polygon pixel with
   the polygon attributes, the fraction of the pixel inside the polygon
   and the value of every band. */

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nci/polydrill/metrics"
	"github.com/nci/polydrill/pgstore"
	proc "github.com/nci/polydrill/processor"
	"github.com/nci/polydrill/utils"
	"github.com/nci/polydrill/worker/gdalprocess"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	metricsLogFileSize = 10 * 1024 * 1024
	metricsLogFiles    = 5
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "polydrill",
	Short:         "Extract raster pixels under polygons into a table",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Write one row per raster pixel covered by each polygon",
	Long: `Reads a raster and a polygon layer, reprojects the polygons to the
raster's reference system, clips them to the raster extent and writes,
for every polygon pixel, the selected polygon attributes, the covered
fraction of the pixel, the pixel's ordinal within its polygon and the
value of each band.

Settings are read from polydrill.yaml (--config), then POLYDRILL_*
environment variables, then flags.`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file, defaults to "+utils.ConfigFileName+" in the working directory.")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error.")
	rootCmd.PersistentFlags().Bool("log-console", false, "Human readable logs instead of JSON.")

	f := extractCmd.Flags()
	f.StringSlice("raster", nil, "Raster file. Repeat to stack bands of rasters sharing one grid.")
	f.String("raster-crs", "", "Reference system assigned to the raster, e.g. EPSG:3577.")
	f.String("vector", "", "Polygon file (any OGR format, GeoJSON read natively).")
	f.String("layer", "", "Vector layer name, the first layer when empty.")
	f.StringSlice("include-cols", nil, "Attribute columns to carry into the table, all when empty.")
	f.String("out", "", "Output file, stdout when empty.")
	f.Float64("fill", proc.DefaultFillValue, "Value for missing attribute values.")
	f.String("delimiter", string(proc.DefaultDelimiter), `Field separator, "\t" or "tab" for tabs.`)
	f.Bool("progress", false, "Log extraction progress.")
	f.Int("workers", 1, "Goroutines building pixel rows.")
	f.StringArray("band-expr", nil, "Derived column as name=expression over B_1..B_n.")
	f.String("metrics-textfile", "", "Write prometheus metrics to this file.")
	f.String("metrics-log-dir", "", "Append a JSON record of the run to runs.jsonl in this directory.")
	f.String("pg-dsn", "", "Also load the table into PostgreSQL, e.g. postgres://user@host/db.")
	f.String("pg-table", "", "PostgreSQL table, optionally schema qualified.")
	f.Bool("pg-create", false, "Create the PostgreSQL table if it does not exist.")

	rootCmd.AddCommand(extractCmd, infoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "polydrill: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies the
// flags that were set on the command line.
func loadConfig(cmd *cobra.Command) (*utils.Config, error) {
	path := configPath
	if len(path) == 0 {
		path = utils.DefaultConfigPath()
	}
	cfg, err := utils.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-console") {
		cfg.Log.Console, _ = flags.GetBool("log-console")
	}
	if flags.Lookup("raster") == nil {
		return cfg, nil
	}

	d := &cfg.Drill
	if flags.Changed("raster") {
		rasters, _ := flags.GetStringSlice("raster")
		if len(rasters) > 0 {
			d.RasterPath, d.StackRasters = rasters[0], rasters[1:]
		}
	}
	stringFlag := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	stringFlag("raster-crs", &d.RasterCRS)
	stringFlag("vector", &d.VectorPath)
	stringFlag("layer", &d.Layer)
	stringFlag("out", &d.OutPath)
	stringFlag("delimiter", &d.Delimiter)
	stringFlag("metrics-textfile", &cfg.Metrics.TextfilePath)
	stringFlag("metrics-log-dir", &cfg.Metrics.LogDir)
	stringFlag("pg-dsn", &cfg.Postgres.DSN)
	stringFlag("pg-table", &cfg.Postgres.Table)
	if flags.Changed("pg-create") {
		cfg.Postgres.Create, _ = flags.GetBool("pg-create")
	}
	if flags.Changed("include-cols") {
		d.IncludeCols, _ = flags.GetStringSlice("include-cols")
	}
	if flags.Changed("fill") {
		d.FillValue, _ = flags.GetFloat64("fill")
	}
	if flags.Changed("progress") {
		d.Progress, _ = flags.GetBool("progress")
	}
	if flags.Changed("workers") {
		d.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("band-expr") {
		d.BandExprs, _ = flags.GetStringArray("band-expr")
	}
	return cfg, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	delim, _ := cfg.Drill.DelimiterRune()

	log := utils.BuildLogger(cfg.Log, nil, "extract")
	utils.InitGdal(cfg.GDAL)

	rasterPath := cfg.Drill.RasterPath
	if len(cfg.Drill.StackRasters) > 0 || len(cfg.Drill.RasterCRS) > 0 {
		paths := append([]string{rasterPath}, cfg.Drill.StackRasters...)
		stack, err := gdalprocess.NewVRTManager(paths, gdalprocess.StackOptions{AssignCRS: cfg.Drill.RasterCRS})
		if err != nil {
			return err
		}
		defer stack.Close()
		log.Debug().Strs("rasters", paths).Int("bands", stack.BandCount).Msg("raster stack built")
		rasterPath = stack.DSFileName
	}

	var vectors proc.VectorReader = &gdalprocess.OGRVectorReader{Layer: cfg.Drill.Layer}
	if proc.IsGeoJSONPath(cfg.Drill.VectorPath) && len(cfg.Drill.Layer) == 0 {
		vectors = &proc.GeoJSONReader{}
	}

	collector := metrics.NewMetricsCollector(metricsLogger(cfg.Metrics, &log))
	collector.Info.Input = metrics.InputInfo{
		RasterPath: cfg.Drill.RasterPath,
		VectorPath: cfg.Drill.VectorPath,
		OutPath:    cfg.Drill.OutPath,
	}

	pipeline := proc.InitDrillPipeline(&gdalprocess.RasterInfo{}, vectors, &gdalprocess.GeometryOps{}, &gdalprocess.Driller{Log: &log}, &log)

	req := proc.NewDrillRequest(rasterPath, cfg.Drill.VectorPath)
	req.IncludeCols = cfg.Drill.IncludeCols
	req.FillValue = cfg.Drill.FillValue
	req.Delimiter = delim
	req.Progress = cfg.Drill.Progress
	req.Workers = cfg.Drill.Workers
	req.BandExprs = cfg.Drill.BandExprs
	toPostgres := len(cfg.Postgres.DSN) > 0
	req.ReturnTable = toPostgres
	if len(cfg.Drill.OutPath) > 0 {
		req.OutPath = cfg.Drill.OutPath
	} else if !toPostgres {
		req.Output = cmd.OutOrStdout()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var load tableLoader
	if toPostgres {
		load = func(ctx context.Context, table *proc.PixelTable) error {
			return loadPostgres(ctx, cfg.Postgres, table, &log)
		}
	}
	runErr := extractAndLoad(ctx, pipeline, req, load, collector)
	collector.Log()
	if len(cfg.Metrics.TextfilePath) > 0 {
		if err := collector.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			log.Warn().Err(err).Str("path", cfg.Metrics.TextfilePath).Msg("failed to write metrics")
		}
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("extraction failed")
		return runErr
	}
	return nil
}

type tableLoader func(ctx context.Context, table *proc.PixelTable) error

// pendingRecord holds the pipeline outcome until the whole run is done.
type pendingRecord struct {
	summary proc.DrillSummary
}

func (p *pendingRecord) RecordDrill(s *proc.DrillSummary, err error) {
	p.summary = *s
}

// extractAndLoad runs the pipeline, hands the table to load when it is
// set and records the outcome of the run once, load included.
func extractAndLoad(ctx context.Context, pipeline *proc.DrillPipeline, req *proc.DrillRequest, load tableLoader, rec proc.DrillRecorder) error {
	pending := &pendingRecord{}
	pipeline.Metrics = pending

	res, err := pipeline.Process(ctx, req)
	if err == nil && load != nil {
		start := time.Now()
		err = load(ctx, res.Table)
		pending.summary.Duration += time.Since(start)
	}
	rec.RecordDrill(&pending.summary, err)
	return err
}

func loadPostgres(ctx context.Context, cfg utils.PostgresConfig, table *proc.PixelTable, log *zerolog.Logger) error {
	store, err := pgstore.Open(pgstore.Config{DSN: cfg.DSN, Table: cfg.Table, Create: cfg.Create, Pool: cfg.Pool})
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Write(ctx, table)
	if err != nil {
		return err
	}
	log.Info().Str("table", cfg.Table).Int64("rows", n).Msg("pixel table loaded into postgres")
	return nil
}

func metricsLogger(cfg utils.MetricsConfig, log *zerolog.Logger) metrics.Logger {
	if len(cfg.LogDir) > 0 {
		return metrics.NewFileLogger(cfg.LogDir, metricsLogFileSize, metricsLogFiles, log)
	}
	return metrics.NewZerologLogger(log)
}

func isYAML(format string) bool {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return true
	}
	return false
}
