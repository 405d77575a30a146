package processor

import (
	"math"
)

// ReconcileCoverage checks that every band reports coverage for the same
// number of pixels and returns the per pixel mean coverage across bands.
// NaN entries are ignored by the mean; a pixel with no finite coverage in
// any band gets NaN.
func ReconcileCoverage(ex *PolygonExtraction) ([]float64, error) {
	if len(ex.Coverage) == 0 {
		return nil, nil
	}

	n := len(ex.Coverage[0])
	for _, cov := range ex.Coverage[1:] {
		if len(cov) != n {
			return nil, &InconsistentPixelCountError{Polygon: ex.Index, ValueCounts: ex.ValueCounts()}
		}
	}

	mean := make([]float64, n)
	for ip := 0; ip < n; ip++ {
		sum := 0.0
		count := 0
		for _, cov := range ex.Coverage {
			if math.IsNaN(cov[ip]) {
				continue
			}
			sum += cov[ip]
			count++
		}
		if count == 0 {
			mean[ip] = math.NaN()
			continue
		}
		mean[ip] = sum / float64(count)
	}
	return mean, nil
}
