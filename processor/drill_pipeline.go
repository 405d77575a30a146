package processor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type RasterReader interface {
	ReadRasterInfo(path string) (*RasterDescriptor, error)
}

type VectorReader interface {
	ReadPolygons(path string) (*PolygonTable, error)
}

// DrillRecorder receives the outcome of every pipeline run.
type DrillRecorder interface {
	RecordDrill(summary *DrillSummary, err error)
}

type DrillRequest struct {
	RasterPath  string
	VectorPath  string
	IncludeCols []string

	// Output takes precedence over OutPath. With neither set the table is
	// only returned.
	Output  io.Writer
	OutPath string

	FillValue   float64
	Delimiter   rune
	ReturnTable bool
	Progress    bool
	Workers     int
	BandExprs   []string
}

func NewDrillRequest(rasterPath, vectorPath string) *DrillRequest {
	return &DrillRequest{
		RasterPath:  rasterPath,
		VectorPath:  vectorPath,
		FillValue:   DefaultFillValue,
		Delimiter:   DefaultDelimiter,
		ReturnTable: true,
		Workers:     1,
	}
}

type DrillSummary struct {
	PolygonsRead     int
	PolygonsInExtent int
	Polygons         int
	Rows             int
	Bands            int
	FilledColumns    []string
	Duration         time.Duration
}

type DrillResult struct {
	Table   *PixelTable
	Summary DrillSummary
}

type DrillPipeline struct {
	Rasters  RasterReader
	Vectors  VectorReader
	Geometry GeometryOps
	Engine   Extractor
	Log      *zerolog.Logger
	Metrics  DrillRecorder
}

func InitDrillPipeline(rasters RasterReader, vectors VectorReader, geometry GeometryOps, engine Extractor, log *zerolog.Logger) *DrillPipeline {
	return &DrillPipeline{
		Rasters:  rasters,
		Vectors:  vectors,
		Geometry: geometry,
		Engine:   engine,
		Log:      loggerOrNop(log),
	}
}

// Process runs one extraction from raster and vector paths to a pixel
// table. Any failure aborts the run and nothing is written.
func (dp *DrillPipeline) Process(ctx context.Context, req *DrillRequest) (*DrillResult, error) {
	start := time.Now()
	res := &DrillResult{}

	err := dp.process(ctx, req, res)
	res.Summary.Duration = time.Since(start)
	if dp.Metrics != nil {
		dp.Metrics.RecordDrill(&res.Summary, err)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (dp *DrillPipeline) process(ctx context.Context, req *DrillRequest, res *DrillResult) error {
	log := loggerOrNop(dp.Log)

	raster, err := dp.Rasters.ReadRasterInfo(req.RasterPath)
	if err != nil {
		return fmt.Errorf("reading raster %s: %w", req.RasterPath, err)
	}
	if raster.BandCount < 1 {
		return fmt.Errorf("raster %s has no bands", req.RasterPath)
	}
	res.Summary.Bands = raster.BandCount

	exprs, err := ParseBandExpressions(req.BandExprs, raster.BandCount)
	if err != nil {
		return err
	}

	polygons, err := dp.Vectors.ReadPolygons(req.VectorPath)
	if err != nil {
		return fmt.Errorf("reading vector %s: %w", req.VectorPath, err)
	}
	if err = polygons.Validate(); err != nil {
		return fmt.Errorf("reading vector %s: %w", req.VectorPath, err)
	}
	if polygons.Len() == 0 {
		return fmt.Errorf("%s: %w", req.VectorPath, ErrEmptyVector)
	}
	res.Summary.PolygonsRead = polygons.Len()
	log.Debug().Int("polygons", polygons.Len()).Strs("columns", polygons.ColumnNames()).Msg("vector read")

	normalised, filled := NormaliseAttributes(polygons, req.FillValue, log)
	res.Summary.FilledColumns = filled

	// fail on unknown columns before any geometry work
	if _, err = ResolveColumns(normalised, req.IncludeCols); err != nil {
		return err
	}

	prepared, err := PrepareGeometries(normalised, raster, dp.Geometry, log)
	if err != nil {
		return err
	}
	res.Summary.PolygonsInExtent = prepared.Len()
	if prepared.Len() == 0 {
		return ErrNoPolygonsInExtent
	}

	metaCols, err := ResolveColumns(prepared, req.IncludeCols)
	if err != nil {
		return err
	}

	extractions, err := Extract(ctx, dp.Engine, raster, prepared, metaCols, req.Progress, log)
	if err != nil {
		return err
	}
	res.Summary.Polygons = len(extractions)

	rows, err := explodeAll(ctx, extractions, exprs, req.Workers)
	if err != nil {
		return err
	}

	table := &PixelTable{
		MetaColumns:  make([]string, len(metaCols)),
		BandNames:    raster.BandNames(),
		DerivedNames: exprs.Names(),
		Rows:         rows,
	}
	for ic, col := range metaCols {
		table.MetaColumns[ic] = col.Name
	}
	res.Summary.Rows = table.Len()

	switch {
	case req.Output != nil:
		if err = table.WriteDelimited(req.Output, req.Delimiter); err != nil {
			return fmt.Errorf("writing pixel table: %w", err)
		}
	case len(req.OutPath) > 0:
		if err = table.WriteFile(req.OutPath, req.Delimiter); err != nil {
			return err
		}
		log.Debug().Str("path", req.OutPath).Msg("pixel table written")
	}

	log.Info().Int("polygons", res.Summary.Polygons).Int("rows", res.Summary.Rows).
		Msgf("Done! Processed %d polygons into %d pixel rows.", res.Summary.Polygons, res.Summary.Rows)

	if req.ReturnTable {
		res.Table = table
	}
	return nil
}

// explodeAll reconciles and explodes every polygon, using up to workers
// goroutines. Rows are concatenated in polygon order. When several
// polygons fail, the error of the first one in that order is returned.
func explodeAll(ctx context.Context, extractions []*PolygonExtraction, exprs *BandExpressions, workers int) ([]PixelRow, error) {
	if workers < 1 {
		workers = 1
	}

	parts := make([][]PixelRow, len(extractions))
	errs := make([]error, len(extractions))

	// lowest failed polygon index; later polygons are skipped
	var mu sync.Mutex
	failed := len(extractions)
	after := func(i int) bool {
		mu.Lock()
		defer mu.Unlock()
		return i > failed
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range extractions {
		if ctx.Err() != nil || after(i) {
			break
		}
		i := i
		g.Go(func() error {
			if ctx.Err() != nil || after(i) {
				return nil
			}
			coverage, err := ReconcileCoverage(extractions[i])
			if err == nil {
				parts[i], err = ExplodePolygon(nil, extractions[i], coverage, exprs)
			}
			if err != nil {
				errs[i] = err
				mu.Lock()
				if i < failed {
					failed = i
				}
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	rows := make([]PixelRow, 0, total)
	for _, p := range parts {
		rows = append(rows, p...)
	}
	return rows, nil
}
