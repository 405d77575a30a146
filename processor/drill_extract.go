package processor

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// Extractor computes, for every polygon, the raster values and the
// fraction of each pixel covered by the polygon, per band. The result is
// aligned with polygons. Pixels whose value equals the band's nodata are
// left out of that band's sequences.
type Extractor interface {
	Extract(ctx context.Context, req *ExtractRequest) ([]*PolygonExtraction, error)
}

type ExtractRequest struct {
	Raster   *RasterDescriptor
	Polygons []orb.Geometry
	Progress func(done, total int)
}

// ResolveColumns returns the metadata columns to carry through. An empty
// include list selects every attribute column in table order.
func ResolveColumns(table *PolygonTable, include []string) ([]*AttrColumn, error) {
	if len(include) == 0 {
		cols := make([]*AttrColumn, len(table.Columns))
		copy(cols, table.Columns)
		return cols, nil
	}

	cols := make([]*AttrColumn, 0, len(include))
	for _, name := range include {
		col, ok := table.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: '%s', available columns are %v", ErrUnknownColumn, name, table.ColumnNames())
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// Extract runs the extraction engine over the prepared polygons and
// attaches the selected metadata to each result. Polygons that do not hit
// any valid pixel of the first band are dropped. It fails with
// ErrNoPolygonsInExtent when nothing is left.
func Extract(ctx context.Context, engine Extractor, raster *RasterDescriptor, table *PolygonTable, metaCols []*AttrColumn, progress bool, log *zerolog.Logger) ([]*PolygonExtraction, error) {
	log = loggerOrNop(log)

	if table.Len() == 0 {
		return nil, ErrNoPolygonsInExtent
	}

	req := &ExtractRequest{Raster: raster, Polygons: table.Geometries}
	if progress {
		req.Progress = progressLogger(log, table.Len())
	}

	res, err := engine.Extract(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extracting pixels from %s: %w", raster.Path, err)
	}
	if len(res) != table.Len() {
		return nil, fmt.Errorf("%w: engine returned %d results for %d polygons", ErrInternalInvariant, len(res), table.Len())
	}

	out := make([]*PolygonExtraction, 0, len(res))
	for i, ex := range res {
		if ex == nil {
			continue
		}
		if len(ex.Values) != raster.BandCount || len(ex.Coverage) != raster.BandCount {
			return nil, fmt.Errorf("%w: engine returned %d value and %d coverage sequences for %d bands",
				ErrInternalInvariant, len(ex.Values), len(ex.Coverage), raster.BandCount)
		}
		if len(ex.Values[0]) == 0 {
			continue
		}

		ex.Index = table.Index[i]
		ex.Meta = make([]AttrValue, len(metaCols))
		for ic, col := range metaCols {
			ex.Meta[ic] = col.Values[i]
		}
		out = append(out, ex)
	}

	log.Debug().Int("polygons", table.Len()).Int("non_empty", len(out)).Msg("extraction finished")
	if len(out) == 0 {
		return nil, ErrNoPolygonsInExtent
	}
	return out, nil
}

func progressLogger(log *zerolog.Logger, total int) func(done, total int) {
	step := total / 10
	if step < 1 {
		step = 1
	}
	return func(done, total int) {
		if done%step == 0 || done == total {
			log.Info().Int("done", done).Int("total", total).
				Msgf("extracting polygons %d/%d (%.0f%%)", done, total, 100*float64(done)/float64(total))
		}
	}
}
