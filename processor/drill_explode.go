package processor

import (
	"fmt"
)

// ExplodePolygon turns one polygon's per band sequences into one row per
// pixel and appends them to dst. Pixel order follows the engine output.
// polyPxID starts at 1 for every polygon.
func ExplodePolygon(dst []PixelRow, ex *PolygonExtraction, coverage []float64, exprs *BandExpressions) ([]PixelRow, error) {
	counts := ex.ValueCounts()
	if len(counts) == 0 {
		return dst, fmt.Errorf("%w: polygon %d has no bands", ErrInternalInvariant, ex.Index)
	}
	n := counts[0]
	for _, c := range counts[1:] {
		if c != n {
			return dst, fmt.Errorf("%w: polygon %d has inconsistent pixel counts across bands: %s, this should have been caught earlier",
				ErrInternalInvariant, ex.Index, formatCounts(counts))
		}
	}
	if len(coverage) != n {
		return dst, fmt.Errorf("%w: polygon %d has %d pixel values but %d coverage fractions",
			ErrInternalInvariant, ex.Index, n, len(coverage))
	}

	if cap(dst)-len(dst) < n {
		grown := make([]PixelRow, len(dst), len(dst)+n)
		copy(grown, dst)
		dst = grown
	}

	nBands := len(ex.Values)
	for ip := 0; ip < n; ip++ {
		bands := make([]float64, nBands)
		for ib := 0; ib < nBands; ib++ {
			bands[ib] = ex.Values[ib][ip]
		}

		derived, err := exprs.Evaluate(bands)
		if err != nil {
			return dst, fmt.Errorf("polygon %d pixel %d: %w", ex.Index, ip+1, err)
		}

		dst = append(dst, PixelRow{
			Meta:      ex.Meta,
			CoverFrac: coverage[ip],
			PxID:      ip + 1,
			Bands:     bands,
			Derived:   derived,
		})
	}
	return dst, nil
}
