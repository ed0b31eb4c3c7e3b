// Package dataset holds the story FeatureCollection and the year index derived from it.
package dataset

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// AllYears is the selector value that disables year filtering.
const AllYears = "all"

// Property keys read from each story.
const (
	PropTitle     = "title"
	PropAuthor    = "author"
	PropOutlet    = "outlet"
	PropDate      = "date"
	PropYear      = "year"
	PropURL       = "url"
	PropThumbnail = "thumbnail"
)

// Feature is one story: a point plus its property bag.
type Feature = geojson.Feature

// Collection is an ordered set of stories. A loaded Collection is never
// mutated; filtered views are new collections sharing the feature pointers.
type Collection = geojson.FeatureCollection

// Prop returns the stringified property key of f and whether it was present
// and non-null. Absent, null and missing bags all read as ("", false).
func Prop(f *Feature, key string) (string, bool) {
	if f == nil || f.Properties == nil {
		return "", false
	}
	v, ok := f.Properties[key]
	if !ok || v == nil {
		return "", false
	}
	return Stringify(v), true
}

// Stringify renders a decoded JSON value the way it reads in the document:
// strings verbatim, numbers without exponent or trailing zeros.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// NormalizeYear converts a raw year property to its comparison form:
// stringified and trimmed. 2021 and "2021 " both normalize to "2021";
// null and absent normalize to "".
func NormalizeYear(v any) string {
	return strings.TrimSpace(Stringify(v))
}

// YearOf returns the normalized year of f.
func YearOf(f *Feature) string {
	if f == nil || f.Properties == nil {
		return ""
	}
	return NormalizeYear(f.Properties[PropYear])
}

// Years returns the distinct non-blank years of c, most recent first.
// When every value is numeric they are ordered numerically, otherwise by
// root-locale collation, both descending.
func Years(c *Collection) []string {
	if c == nil {
		return []string{}
	}

	seen := make(map[string]struct{})
	years := make([]string, 0)
	for _, f := range c.Features {
		y := YearOf(f)
		if y == "" {
			continue
		}
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		years = append(years, y)
	}

	nums := make(map[string]float64, len(years))
	numeric := true
	for _, y := range years {
		n, err := strconv.ParseFloat(y, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			numeric = false
			break
		}
		nums[y] = n
	}

	if numeric {
		sort.SliceStable(years, func(i, j int) bool {
			a, b := nums[years[i]], nums[years[j]]
			if a != b {
				return a > b
			}
			return years[i] > years[j]
		})
		return years
	}

	col := collate.New(language.Und)
	sort.SliceStable(years, func(i, j int) bool {
		return col.CompareString(years[i], years[j]) > 0
	})
	return years
}

// FilterByYear returns c itself for AllYears (or an empty selection) and
// otherwise a new collection holding the features whose normalized year
// equals year exactly. Features without a year never match.
func FilterByYear(c *Collection, year string) *Collection {
	year = strings.TrimSpace(year)
	if year == "" || year == AllYears {
		return c
	}

	out := geojson.NewFeatureCollection()
	if c == nil {
		return out
	}
	for _, f := range c.Features {
		if y := YearOf(f); y != "" && y == year {
			out.Append(f)
		}
	}
	return out
}

// Clean drops features without a usable point coordinate and returns the
// kept collection together with the number of features dropped.
func Clean(c *Collection) (*Collection, int) {
	out := geojson.NewFeatureCollection()
	if c == nil {
		return out, 0
	}
	out.BBox = c.BBox
	out.ExtraMembers = c.ExtraMembers

	dropped := 0
	for _, f := range c.Features {
		if _, ok := Coordinate(f); !ok {
			dropped++
			continue
		}
		out.Append(f)
	}
	return out, dropped
}

// Coordinate returns the point geometry of f, if it has a valid one.
func Coordinate(f *Feature) (orb.Point, bool) {
	if f == nil || f.Geometry == nil {
		return orb.Point{}, false
	}
	p, ok := f.Geometry.(orb.Point)
	if !ok {
		return orb.Point{}, false
	}
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsInf(lon, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return orb.Point{}, false
	}
	if lat < -90 || lat > 90 {
		return orb.Point{}, false
	}
	return p, true
}
