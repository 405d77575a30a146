package processor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const DefaultFillValue = 9999

// coercion is one typed conversion attempt for an attribute column.
// apply returns false when the column cannot be represented by kind.
type coercion struct {
	kind  AttrKind
	apply func(values []AttrValue) ([]AttrValue, bool)
}

// attrCoercions is tried in order; the first successful attempt wins.
// The string attempt never fails.
var attrCoercions = []coercion{
	{AttrInt, coerceInt},
	{AttrFloat, coerceFloat},
	{AttrString, coerceString},
}

var missingTokens = map[string]struct{}{
	"":     {},
	"nan":  {},
	"na":   {},
	"n/a":  {},
	"null": {},
	"none": {},
}

// CoerceColumn converts values into the first kind of attrCoercions that
// accepts all of them. Missing values stay nil.
func CoerceColumn(values []AttrValue) (AttrKind, []AttrValue) {
	for _, c := range attrCoercions {
		if out, ok := c.apply(values); ok {
			return c.kind, out
		}
	}
	// unreachable, coerceString accepts anything
	out, _ := coerceString(values)
	return AttrString, out
}

// NormaliseAttributes returns a copy of the table with every attribute
// column coerced to a single kind and missing values replaced with fill.
// The names of the columns that needed filling are returned in column
// order.
func NormaliseAttributes(in *PolygonTable, fill float64, log *zerolog.Logger) (*PolygonTable, []string) {
	log = loggerOrNop(log)

	out := &PolygonTable{
		Geometries: in.Geometries,
		Index:      in.Index,
		CRS:        in.CRS,
		Columns:    make([]*AttrColumn, len(in.Columns)),
	}

	var filled []string
	for ic, col := range in.Columns {
		kind, values := CoerceColumn(col.Values)
		nc := &AttrColumn{Name: col.Name, Kind: kind, Values: values}

		if hasMissing(values) {
			fillColumn(nc, fill)
			filled = append(filled, col.Name)
			log.Warn().Str("column", col.Name).Float64("fill_value", fill).
				Msgf("Column '%s' contained missing values; filling with %s.", col.Name, formatFill(fill))
		}
		out.Columns[ic] = nc
	}

	return out, filled
}

func fillColumn(col *AttrColumn, fill float64) {
	if col.Kind == AttrInt && fill != math.Trunc(fill) {
		// a fractional sentinel cannot live in an integer column
		for i, v := range col.Values {
			if v != nil {
				col.Values[i] = float64(v.(int64))
			}
		}
		col.Kind = AttrFloat
	}

	var sentinel AttrValue
	switch col.Kind {
	case AttrInt:
		sentinel = int64(fill)
	case AttrFloat:
		sentinel = fill
	default:
		sentinel = formatFill(fill)
	}

	for i, v := range col.Values {
		if v == nil {
			col.Values[i] = sentinel
		}
	}
	col.Filled = true
}

func formatFill(fill float64) string {
	return strconv.FormatFloat(fill, 'f', -1, 64)
}

func hasMissing(values []AttrValue) bool {
	for _, v := range values {
		if v == nil {
			return true
		}
	}
	return false
}

func isMissing(v AttrValue) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

func isMissingToken(v AttrValue) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, found := missingTokens[strings.ToLower(strings.TrimSpace(s))]
	return found
}

// numericValue reports the float value of v if v is a number or a
// string holding a finite number.
func numericValue(v AttrValue) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func intValue(v AttrValue) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i, true
		}
	}

	f, ok := numericValue(v)
	if !ok || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func coerceInt(values []AttrValue) ([]AttrValue, bool) {
	out := make([]AttrValue, len(values))
	for i, v := range values {
		if isMissing(v) {
			continue
		}
		iv, ok := intValue(v)
		if !ok {
			return nil, false
		}
		out[i] = iv
	}
	return out, true
}

func coerceFloat(values []AttrValue) ([]AttrValue, bool) {
	out := make([]AttrValue, len(values))
	for i, v := range values {
		if isMissing(v) || isMissingToken(v) {
			continue
		}
		f, ok := numericValue(v)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func coerceString(values []AttrValue) ([]AttrValue, bool) {
	out := make([]AttrValue, len(values))
	for i, v := range values {
		if isMissing(v) {
			continue
		}
		out[i] = FormatAttr(v)
	}
	return out, true
}

// FormatAttr renders an attribute value the way it is written to the
// output table.
func FormatAttr(v AttrValue) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func loggerOrNop(log *zerolog.Logger) *zerolog.Logger {
	if log == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return log
}
