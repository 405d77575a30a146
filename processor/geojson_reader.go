package processor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeoJSONCRS is the reference system of every RFC 7946 document,
// longitude/latitude on WGS84.
const GeoJSONCRS = "EPSG:4326"

// GeoJSONReader reads polygon layers from GeoJSON files without going
// through OGR. Attribute columns are the union of all feature property
// names in lexical order.
type GeoJSONReader struct{}

// IsGeoJSONPath reports whether path should be read by GeoJSONReader.
func IsGeoJSONPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return true
	}
	return false
}

func (r *GeoJSONReader) ReadPolygons(path string) (*PolygonTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	table, err := DecodeGeoJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// DecodeGeoJSON builds a polygon table from a FeatureCollection or a
// single Feature.
func DecodeGeoJSON(data []byte) (*PolygonTable, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil || (len(fc.Features) == 0 && isFeature(data)) {
		f, ferr := geojson.UnmarshalFeature(data)
		if ferr != nil {
			if err != nil {
				return nil, err
			}
			return nil, ferr
		}
		fc = geojson.NewFeatureCollection()
		fc.Append(f)
	}
	if len(fc.Features) == 0 {
		return nil, ErrEmptyVector
	}

	keys := make(map[string]struct{})
	for _, f := range fc.Features {
		for k := range f.Properties {
			keys[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	table := &PolygonTable{
		CRS:        GeoJSONCRS,
		Columns:    make([]*AttrColumn, len(names)),
		Geometries: make([]orb.Geometry, len(fc.Features)),
		Index:      make([]int, len(fc.Features)),
	}
	for ic, name := range names {
		table.Columns[ic] = &AttrColumn{Name: name, Values: make([]AttrValue, len(fc.Features))}
	}

	for i, f := range fc.Features {
		table.Geometries[i] = f.Geometry
		table.Index[i] = i
		for ic, name := range names {
			v, ok := f.Properties[name]
			if !ok {
				continue
			}
			table.Columns[ic].Values[i] = propertyValue(v)
		}
	}
	return table, nil
}

func isFeature(data []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Type == "Feature"
}

// propertyValue maps a decoded JSON property onto an attribute cell.
// Objects and arrays are kept as their JSON text.
func propertyValue(v interface{}) AttrValue {
	switch x := v.(type) {
	case nil, string, float64, bool:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
