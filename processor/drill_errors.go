package processor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNoPolygonsInExtent = errors.New("No polygons were found in the raster extent.")
	ErrInternalInvariant  = errors.New("internal invariant violated")
	ErrUnknownColumn      = errors.New("unknown attribute column")
	ErrEmptyVector        = errors.New("vector source contains no polygons")
)

// InconsistentPixelCountError is returned when the bands of a raster
// report a different number of valid pixels for the same polygon.
type InconsistentPixelCountError struct {
	Polygon     int
	ValueCounts []int
}

func (e *InconsistentPixelCountError) Error() string {
	counts := formatCounts(e.ValueCounts)
	return fmt.Sprintf("Inconsistent pixel counts across bands for polygon %d.\n"+
		"This usually occurs when bands have an inconsistent nodata pattern across bands.\n"+
		"Values per band for polygon %d: %s\n"+
		"Consider preprocessing your raster to ensure all bands have identical nodata patterns.",
		e.Polygon, e.Polygon, counts)
}

func formatCounts(counts []int) string {
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = strconv.Itoa(c)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
